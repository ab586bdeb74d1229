package app

import (
	"github.com/cockroachdb/errors"

	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/config"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/logger"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/remote"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/remote/httpremote"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/remote/memremote"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/remote/redisremote"
)

// newRemote builds the adapter named by cfg.Driver. The returned close
// func is never nil.
func newRemote(cfg config.RemoteConfig) (remote.Store, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Driver {
	case "", config.DriverMemory:
		logger.Warn("remote_driver_memory", "msg", "messages are not shared outside this process")
		return memremote.New(), noop, nil
	case config.DriverHTTP:
		c, err := httpremote.New(httpremote.Options{
			BaseURL: cfg.BaseURL,
			FeedURL: cfg.FeedURL,
			Token:   cfg.Token,
			Timeout: cfg.PushTimeout.Duration(),
		})
		if err != nil {
			return nil, nil, errors.Wrap(err, "http remote")
		}
		logger.Info("remote_driver_http", "base_url", cfg.BaseURL)
		return c, noop, nil
	case config.DriverRedis:
		s := redisremote.New(redisremote.Options{
			Addr:   cfg.RedisAddr,
			DB:     cfg.RedisDB,
			Prefix: cfg.RedisPrefix,
		})
		logger.Info("remote_driver_redis", "addr", cfg.RedisAddr, "prefix", cfg.RedisPrefix)
		return s, s.Close, nil
	default:
		return nil, nil, errors.Newf("unknown remote driver %q", cfg.Driver)
	}
}
