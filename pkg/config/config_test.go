package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envOf(kv map[string]string) func(string) string {
	return func(k string) string { return kv[k] }
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestDefaultsOnly(t *testing.T) {
	eff, err := LoadEffectiveConfig(Flags{Set: map[string]bool{}}, envOf(nil))
	require.NoError(t, err)
	require.NoError(t, ValidateConfig(eff))

	assert.Equal(t, "defaults", eff.Source)
	assert.Equal(t, defaultStorePath, eff.DBPath)
	assert.Equal(t, "127.0.0.1:7420", eff.Addr)
	assert.Equal(t, DriverMemory, eff.Config.Remote.Driver)
	assert.Equal(t, time.Second, eff.Config.Sync.RetryBase.Duration())
	assert.Equal(t, 8, eff.Config.Sync.RetryAttempts)
	assert.True(t, eff.Config.Store.SyncWritesEnabled())
	assert.True(t, eff.Config.Server.IsEnabled())
}

func TestFileThenEnvThenFlags(t *testing.T) {
	path := writeConfig(t, `
store:
  path: /data/chat
  sync_writes: false
  cache_size: 32MB
remote:
  driver: http
  base_url: https://api.example.org
  push_timeout: 5s
sync:
  retry_base: 2
  retry_max: 90s
  sweep_cron: "*/10 * * * *"
server:
  port: 9000
logging:
  level: debug
`)
	env := envOf(map[string]string{
		"CHATSYNC_REMOTE_TOKEN":     "secret",
		"CHATSYNC_SYNC_PUSH_RPS":    "2.5",
		"CHATSYNC_SERVER_ADDR":      "0.0.0.0:9100",
		"CHATSYNC_USER_ID":          "patient-7",
		"CHATSYNC_STORE_CACHE_SIZE": "64MiB",
	})
	flags := Flags{Config: path, DB: "/override/db", Set: map[string]bool{"config": true, "db": true}}

	eff, err := LoadEffectiveConfig(flags, env)
	require.NoError(t, err)
	require.NoError(t, ValidateConfig(eff))

	c := eff.Config
	assert.Equal(t, "defaults+config+env+flags", eff.Source)
	assert.Equal(t, path, eff.ConfigPath)
	assert.Equal(t, "/override/db", eff.DBPath)
	assert.False(t, c.Store.SyncWritesEnabled())
	assert.Equal(t, int64(64<<20), c.Store.CacheSize.Int64())
	assert.Equal(t, DriverHTTP, c.Remote.Driver)
	assert.Equal(t, "secret", c.Remote.Token)
	assert.Equal(t, 5*time.Second, c.Remote.PushTimeout.Duration())
	assert.Equal(t, 2*time.Second, c.Sync.RetryBase.Duration())
	assert.Equal(t, 90*time.Second, c.Sync.RetryMax.Duration())
	assert.Equal(t, 2.5, c.Sync.PushRPS)
	assert.Equal(t, "0.0.0.0:9100", eff.Addr)
	assert.Equal(t, "debug", c.Logging.Level)
	assert.Equal(t, "patient-7", c.User.ID)
	assert.ElementsMatch(t, []string{
		"CHATSYNC_REMOTE_TOKEN", "CHATSYNC_SYNC_PUSH_RPS", "CHATSYNC_SERVER_ADDR", "CHATSYNC_USER_ID", "CHATSYNC_STORE_CACHE_SIZE",
	}, eff.EnvUsed)
}

func TestExplicitConfigMustExist(t *testing.T) {
	flags := Flags{Config: filepath.Join(t.TempDir(), "missing.yaml"), Set: map[string]bool{"config": true}}
	_, err := LoadEffectiveConfig(flags, envOf(nil))
	assert.Error(t, err)

	// an implicit default path that does not exist is fine
	flags.Set = map[string]bool{}
	eff, err := LoadEffectiveConfig(flags, envOf(nil))
	require.NoError(t, err)
	assert.Empty(t, eff.ConfigPath)
}

func TestBadEnvValueIsReported(t *testing.T) {
	_, err := LoadEffectiveConfig(Flags{Set: map[string]bool{}}, envOf(map[string]string{"CHATSYNC_SYNC_RETRY_BASE": "soon"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CHATSYNC_SYNC_RETRY_BASE")
}

func TestBadYAMLValue(t *testing.T) {
	path := writeConfig(t, "store:\n  cache_size: lots\n")
	_, err := LoadConfigFile(path)
	assert.Error(t, err)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(c *Config){
		"unknown driver":   func(c *Config) { c.Remote.Driver = "carrier-pigeon" },
		"http without url": func(c *Config) { c.Remote.Driver = DriverHTTP },
		"http bad feed url": func(c *Config) {
			c.Remote.Driver = DriverHTTP
			c.Remote.BaseURL = "https://x"
			c.Remote.FeedURL = "ftp://x"
		},
		"redis without addr": func(c *Config) { c.Remote.Driver = DriverRedis },
		"bad cron":           func(c *Config) { c.Sync.SweepCron = "every tuesday" },
		"retry max < base":   func(c *Config) { c.Sync.RetryBase = Duration(time.Minute); c.Sync.RetryMax = Duration(time.Second) },
		"bad log level":      func(c *Config) { c.Logging.Level = "loud" },
		"port out of range":  func(c *Config) { c.Server.Port = 70000 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := &Config{}
			mutate(c)
			err := ValidateConfig(EffectiveConfigResult{Config: c})
			assert.Error(t, err)
		})
	}
}

func TestSizeAndDurationRoundTripForDisplay(t *testing.T) {
	assert.Equal(t, "8.0 MiB", SizeBytes(8<<20).String())
	d, err := ParseDuration("1.5")
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, d.Duration())
	v, err := d.MarshalYAML()
	require.NoError(t, err)
	assert.Equal(t, "1.5s", v)
}
