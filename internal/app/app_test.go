package app

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/config"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/models"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/remote/httpremote"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/remote/memremote"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/remote/redisremote"
)

func testEff(t *testing.T, mutate func(*config.Config)) config.EffectiveConfigResult {
	t.Helper()
	cfg := &config.Config{}
	cfg.Store.Path = t.TempDir()
	off := false
	cfg.Server.Enabled = &off
	cfg.User.ID = "patient-1"
	if mutate != nil {
		mutate(cfg)
	}
	cfg.ApplyDefaults()
	return config.EffectiveConfigResult{Config: cfg, Addr: cfg.Addr(), DBPath: cfg.Store.Path, Source: "defaults"}
}

func TestNewRemoteSelectsDriver(t *testing.T) {
	rs, closeRS, err := newRemote(config.RemoteConfig{Driver: config.DriverMemory})
	require.NoError(t, err)
	assert.IsType(t, &memremote.Store{}, rs)
	assert.NoError(t, closeRS())

	rs, _, err = newRemote(config.RemoteConfig{Driver: config.DriverHTTP, BaseURL: "http://127.0.0.1:1", PushTimeout: config.Duration(time.Second)})
	require.NoError(t, err)
	assert.IsType(t, &httpremote.Client{}, rs)

	mr := miniredis.RunT(t)
	rs, closeRS, err = newRemote(config.RemoteConfig{Driver: config.DriverRedis, RedisAddr: mr.Addr(), RedisPrefix: "t"})
	require.NoError(t, err)
	assert.IsType(t, &redisremote.Store{}, rs)
	require.NoError(t, rs.Ping(context.Background()))
	assert.NoError(t, closeRS())

	_, _, err = newRemote(config.RemoteConfig{Driver: "carrier-pigeon"})
	assert.Error(t, err)
}

func TestRunSyncsAndShutsDown(t *testing.T) {
	a, err := New(testEff(t, func(c *config.Config) {
		c.Sync.ProbeInterval = config.Duration(10 * time.Millisecond)
	}), "test", "none", "unknown")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	// the memory remote always answers the probe, so the app comes online
	// and the outbox pushes without a manual sync
	require.Eventually(t, a.Engine().Online, time.Second, 5*time.Millisecond)
	m, err := a.Engine().AppendOutgoing(context.Background(), "conv-1", "patient-1", "hello")
	require.NoError(t, err)
	rs := a.remote.(*memremote.Store)
	require.Eventually(t, func() bool { return len(rs.Inserts()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, m.Text, rs.Inserts()[0].Text)

	cancel()
	require.NoError(t, <-done)
	sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer scancel()
	require.NoError(t, a.Shutdown(sctx))
	assert.False(t, a.store.Ready())
}

func TestHandlerServesAPIAndNotFound(t *testing.T) {
	a, err := New(testEff(t, nil), "1.0.0", "none", "unknown")
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	h := a.handler(context.Background())

	do := func(method, uri, body string) *fasthttp.RequestCtx {
		ctx := &fasthttp.RequestCtx{}
		ctx.Request.Header.SetMethod(method)
		ctx.Request.SetRequestURI(uri)
		if body != "" {
			ctx.Request.SetBodyString(body)
		}
		h(ctx)
		return ctx
	}

	ctx := do("GET", "/readyz", "")
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Contains(t, string(ctx.Response.Body()), `"version":"1.0.0"`)

	ctx = do("POST", "/v1/conversations/conv-1/messages", `{"text":"hi"}`)
	require.Equal(t, fasthttp.StatusCreated, ctx.Response.StatusCode())
	var m models.Message
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &m))
	assert.Equal(t, "patient-1", m.SenderID)

	ctx = do("GET", "/missing", "")
	assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())

	ctx = do("POST", "/healthz", "")
	assert.Equal(t, fasthttp.StatusMethodNotAllowed, ctx.Response.StatusCode())
}

func TestNewRejectsBadCron(t *testing.T) {
	_, err := New(testEff(t, func(c *config.Config) { c.Sync.SweepCron = "not a cron" }), "test", "", "")
	assert.Error(t, err)
}
