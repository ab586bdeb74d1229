package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/adhocore/gronx"
)

// set defaults, fail fast on critical errors
func ValidateConfig(eff EffectiveConfigResult) error {
	cfg := eff.Config
	if cfg == nil {
		return fmt.Errorf("effective config is nil")
	}
	cfg.ApplyDefaults()

	if strings.TrimSpace(cfg.Store.Path) == "" {
		return fmt.Errorf("store path is empty: set --db flag, CHATSYNC_STORE_PATH env, or store.path in config")
	}
	if cfg.Store.CacheSize < 0 {
		return fmt.Errorf("store.cache_size must not be negative")
	}

	switch cfg.Remote.Driver {
	case DriverMemory:
	case DriverHTTP:
		if cfg.Remote.BaseURL == "" {
			return fmt.Errorf("remote.base_url is required for the http driver")
		}
		u, err := url.Parse(cfg.Remote.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid remote.base_url %q", cfg.Remote.BaseURL)
		}
		if cfg.Remote.FeedURL != "" {
			f, err := url.Parse(cfg.Remote.FeedURL)
			if err != nil || (f.Scheme != "ws" && f.Scheme != "wss") {
				return fmt.Errorf("invalid remote.feed_url %q: want ws:// or wss://", cfg.Remote.FeedURL)
			}
		}
	case DriverRedis:
		if cfg.Remote.RedisAddr == "" {
			return fmt.Errorf("remote.redis_addr is required for the redis driver")
		}
		if cfg.Remote.RedisDB < 0 {
			return fmt.Errorf("remote.redis_db must not be negative")
		}
	default:
		return fmt.Errorf("unknown remote.driver %q (want %s, %s or %s)", cfg.Remote.Driver, DriverMemory, DriverHTTP, DriverRedis)
	}
	if cfg.Remote.PushTimeout.Duration() < 0 {
		return fmt.Errorf("remote.push_timeout must not be negative")
	}

	s := cfg.Sync
	if s.PushRPS < 0 {
		return fmt.Errorf("sync.push_rps must not be negative")
	}
	if s.RetryBase.Duration() <= 0 || s.RetryMax.Duration() < s.RetryBase.Duration() {
		return fmt.Errorf("sync.retry_max (%s) must be at least sync.retry_base (%s)", s.RetryMax.Duration(), s.RetryBase.Duration())
	}
	if s.RetryAttempts < 0 {
		return fmt.Errorf("sync.retry_attempts must not be negative")
	}
	if s.ResubscribeMax.Duration() < s.ResubscribeBase.Duration() {
		return fmt.Errorf("sync.resubscribe_max must be at least sync.resubscribe_base")
	}
	if !gronx.IsValid(s.SweepCron) {
		return fmt.Errorf("invalid sync.sweep_cron: not a valid cron expression: %s", s.SweepCron)
	}

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", cfg.Server.Port)
	}

	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(cfg.Logging.Level)); err != nil {
		return fmt.Errorf("invalid logging.level %q", cfg.Logging.Level)
	}
	return nil
}
