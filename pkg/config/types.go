package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config is the main configuration struct.
type Config struct {
	Store   StoreConfig   `yaml:"store"`
	Remote  RemoteConfig  `yaml:"remote"`
	Sync    SyncConfig    `yaml:"sync"`
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
	User    UserConfig    `yaml:"user"`
}

// StoreConfig holds the local message store settings.
type StoreConfig struct {
	Path string `yaml:"path"`
	// SyncWrites fsyncs every batch. Nil means true.
	SyncWrites *bool     `yaml:"sync_writes"`
	CacheSize  SizeBytes `yaml:"cache_size"`
}

// RemoteConfig selects and configures the remote store adapter.
type RemoteConfig struct {
	Driver      string   `yaml:"driver"` // memory | http | redis
	BaseURL     string   `yaml:"base_url"`
	FeedURL     string   `yaml:"feed_url"`
	Token       string   `yaml:"token"`
	RedisAddr   string   `yaml:"redis_addr"`
	RedisDB     int      `yaml:"redis_db"`
	RedisPrefix string   `yaml:"redis_prefix"`
	PushTimeout Duration `yaml:"push_timeout"`
}

// SyncConfig tunes the outbox, the listener and the connectivity probe.
type SyncConfig struct {
	PushRPS         float64  `yaml:"push_rps"`
	PushBurst       int      `yaml:"push_burst"`
	BatchSize       int      `yaml:"batch_size"`
	RetryBase       Duration `yaml:"retry_base"`
	RetryMax        Duration `yaml:"retry_max"`
	RetryAttempts   int      `yaml:"retry_attempts"`
	SweepCron       string   `yaml:"sweep_cron"`
	ProbeInterval   Duration `yaml:"probe_interval"`
	ResubscribeBase Duration `yaml:"resubscribe_base"`
	ResubscribeMax  Duration `yaml:"resubscribe_max"`
	HistoryLimit    int      `yaml:"history_limit"`
}

// ServerConfig holds the local API listener.
type ServerConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// UserConfig identifies the device owner.
type UserConfig struct {
	ID string `yaml:"id"`
}

// SyncWritesEnabled reports the effective store.sync_writes value.
func (s StoreConfig) SyncWritesEnabled() bool {
	return s.SyncWrites == nil || *s.SyncWrites
}

// IsEnabled reports the effective server.enabled value.
func (s ServerConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// SizeBytes represents a number of bytes, unmarshaled from human-friendly strings like "64MB" or plain integers.
type SizeBytes int64

func (s *SizeBytes) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*s = 0
		return nil
	}
	v, err := ParseSize(node.Value)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func (s SizeBytes) MarshalYAML() (interface{}, error) {
	return s.String(), nil
}

func (s SizeBytes) Int64() int64 { return int64(s) }

func (s SizeBytes) String() string {
	if s <= 0 {
		return "0"
	}
	return humanize.IBytes(uint64(s))
}

// ParseSize accepts "64MB", "1GiB" or a plain byte count.
func ParseSize(raw string) (SizeBytes, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if v, err := humanize.ParseBytes(raw); err == nil {
		return SizeBytes(v), nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return SizeBytes(i), nil
	}
	return 0, fmt.Errorf("invalid size value: %q", raw)
}

// Duration is a wrapper around time.Duration that supports YAML parsing from strings like "100ms" or plain numbers (interpreted as seconds).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*d = Duration(0)
		return nil
	}
	v, err := ParseDuration(node.Value)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration().String(), nil
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }

// ParseDuration accepts Go duration strings or numeric seconds.
func ParseDuration(raw string) (Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if td, err := time.ParseDuration(raw); err == nil {
		return Duration(td), nil
	}
	// allow numeric seconds
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return Duration(time.Duration(f * float64(time.Second))), nil
	}
	return 0, fmt.Errorf("invalid duration value: %q", raw)
}
