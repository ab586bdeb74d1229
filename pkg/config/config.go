package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults
const (
	defaultStorePath   = "./.chatsync"
	defaultCacheSize   = 8 << 20 // 8 MiB
	defaultDriver      = DriverMemory
	defaultPushTimeout = 10 * time.Second
	defaultRedisPrefix = "chatsync"

	defaultPushBurst     = 1
	defaultBatchSize     = 500
	defaultRetryBase     = time.Second
	defaultRetryMax      = time.Minute
	defaultRetryAttempts = 8
	defaultSweepCron     = "*/5 * * * *" // every five minutes
	defaultProbeInterval = 15 * time.Second
	defaultResubBase     = 500 * time.Millisecond
	defaultResubMax      = 30 * time.Second

	defaultAddress  = "127.0.0.1"
	defaultPort     = 7420
	defaultLogLevel = "info"
)

// Remote drivers.
const (
	DriverMemory = "memory"
	DriverHTTP   = "http"
	DriverRedis  = "redis"
)

// Addr returns the local API address as host:port.
func (c *Config) Addr() string {
	addr := c.Server.Address
	if addr == "" {
		addr = defaultAddress
	}
	port := c.Server.Port
	if port == 0 {
		port = defaultPort
	}
	return fmt.Sprintf("%s:%d", addr, port)
}

// LoadConfigFile reads and parses a config file.
func LoadConfigFile(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, nil
}

// ApplyDefaults fills every unset field.
func (c *Config) ApplyDefaults() {
	if c.Store.Path == "" {
		c.Store.Path = defaultStorePath
	}
	if c.Store.CacheSize == 0 {
		c.Store.CacheSize = SizeBytes(defaultCacheSize)
	}

	if c.Remote.Driver == "" {
		c.Remote.Driver = defaultDriver
	}
	if c.Remote.PushTimeout == 0 {
		c.Remote.PushTimeout = Duration(defaultPushTimeout)
	}
	if c.Remote.RedisPrefix == "" {
		c.Remote.RedisPrefix = defaultRedisPrefix
	}

	s := &c.Sync
	if s.PushBurst <= 0 {
		s.PushBurst = defaultPushBurst
	}
	if s.BatchSize <= 0 {
		s.BatchSize = defaultBatchSize
	}
	if s.RetryBase == 0 {
		s.RetryBase = Duration(defaultRetryBase)
	}
	if s.RetryMax == 0 {
		s.RetryMax = Duration(defaultRetryMax)
	}
	if s.RetryAttempts == 0 {
		s.RetryAttempts = defaultRetryAttempts
	}
	if s.SweepCron == "" {
		s.SweepCron = defaultSweepCron
	}
	if s.ProbeInterval == 0 {
		s.ProbeInterval = Duration(defaultProbeInterval)
	}
	if s.ResubscribeBase == 0 {
		s.ResubscribeBase = Duration(defaultResubBase)
	}
	if s.ResubscribeMax == 0 {
		s.ResubscribeMax = Duration(defaultResubMax)
	}

	if c.Server.Address == "" {
		c.Server.Address = defaultAddress
	}
	if c.Server.Port == 0 {
		c.Server.Port = defaultPort
	}
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

// ResolveConfigPath returns the config file path, preferring flag, then env.
func ResolveConfigPath(flagPath string, flagSet bool) string {
	if flagSet {
		return flagPath
	}
	if p := os.Getenv("CHATSYNC_CONFIG"); p != "" {
		return p
	}
	return flagPath
}
