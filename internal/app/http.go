package app

import (
	"context"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/api"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/metrics"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/router"
)

// handler builds the router: the API routes, /metrics and the pprof
// endpoints.
func (a *App) handler(ctx context.Context) fasthttp.RequestHandler {
	r := router.New()
	r.Use(api.RequestLog)
	api.New(ctx, a.engine, api.Options{
		Version:     a.version,
		DefaultUser: a.eff.Config.User.ID,
	}).Register(r)

	r.GET("/metrics", metrics.Handler())
	pprof := metrics.PprofHandlers()
	index := pprof[""]
	r.GET("/debug/pprof/", index)
	r.GET("/debug/pprof/{name}", func(ctx *fasthttp.RequestCtx) {
		name, _ := ctx.UserValue("name").(string)
		if h, ok := pprof[name]; ok {
			h(ctx)
			return
		}
		// named profiles (heap, goroutine, ...) are served by the index
		index(ctx)
	})
	return r.Handler
}

// startHTTP starts the fasthttp server and returns a channel that
// delivers its terminal error.
func (a *App) startHTTP(ctx context.Context) <-chan error {
	const (
		readBufferSize       = 16 * 1024
		maxRequestBodySize   = 1 * 1024 * 1024
		readTimeout          = 10 * time.Second
		writeTimeout         = 30 * time.Second // pprof profile runs for 30s
		idleTimeout          = 30 * time.Second
		maxKeepaliveDuration = 2 * time.Minute
	)
	a.srvFast = &fasthttp.Server{
		Name:                 "chatsync",
		Handler:              a.handler(ctx),
		ReadBufferSize:       readBufferSize,
		MaxRequestBodySize:   maxRequestBodySize,
		ReduceMemoryUsage:    true,
		ReadTimeout:          readTimeout,
		WriteTimeout:         writeTimeout,
		IdleTimeout:          idleTimeout,
		MaxKeepaliveDuration: maxKeepaliveDuration,
	}

	errCh := make(chan error, 1)
	addr := a.eff.Addr
	if addr == "" {
		addr = a.eff.Config.Addr()
	}
	go func() {
		errCh <- a.srvFast.ListenAndServe(addr)
	}()
	return errCh
}
