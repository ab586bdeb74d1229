package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sort"
	"strconv"
	"strings"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CHATSYNC_"

// holds parsed command-line flag values and which were set
type Flags struct {
	Addr   string
	DB     string
	Config string
	Set    map[string]bool
}

// holds the result of LoadEffectiveConfig
type EffectiveConfigResult struct {
	Config *Config
	Addr   string
	DBPath string
	// Source lists the layers that contributed, lowest first, e.g.
	// "defaults+config+env".
	Source string
	// EnvUsed names the environment variables that were applied.
	EnvUsed []string
	// ConfigPath is the file that was read, if any.
	ConfigPath string
}

// loads config from file, returns config, found bool, and error
func ParseConfigFile(flags Flags) (*Config, string, bool, error) {
	cfgPath := ResolveConfigPath(flags.Config, flags.Set["config"])
	if cfgPath == "" {
		return &Config{}, "", false, nil
	}
	cfg, err := LoadConfigFile(cfgPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, cfgPath, false, nil
		}
		return nil, cfgPath, false, err
	}
	return cfg, cfgPath, true, nil
}

type envSetter func(c *Config, v string) error

func parseBool(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", v)
}

func setString(field func(*Config) *string) envSetter {
	return func(c *Config, v string) error {
		*field(c) = strings.TrimSpace(v)
		return nil
	}
}

func setInt(field func(*Config) *int) envSetter {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

func setDuration(field func(*Config) *Duration) envSetter {
	return func(c *Config, v string) error {
		d, err := ParseDuration(v)
		if err != nil {
			return err
		}
		*field(c) = d
		return nil
	}
}

func setBoolPtr(field func(*Config) **bool) envSetter {
	return func(c *Config, v string) error {
		b, err := parseBool(v)
		if err != nil {
			return err
		}
		*field(c) = &b
		return nil
	}
}

// envOverrides maps each variable (without prefix) to the field it sets.
var envOverrides = map[string]envSetter{
	"STORE_PATH":        setString(func(c *Config) *string { return &c.Store.Path }),
	"DB_PATH":           setString(func(c *Config) *string { return &c.Store.Path }),
	"STORE_SYNC_WRITES": setBoolPtr(func(c *Config) **bool { return &c.Store.SyncWrites }),
	"STORE_CACHE_SIZE": func(c *Config, v string) error {
		s, err := ParseSize(v)
		if err != nil {
			return err
		}
		c.Store.CacheSize = s
		return nil
	},

	"REMOTE_DRIVER": func(c *Config, v string) error {
		c.Remote.Driver = strings.ToLower(strings.TrimSpace(v))
		return nil
	},
	"REMOTE_BASE_URL":     setString(func(c *Config) *string { return &c.Remote.BaseURL }),
	"REMOTE_FEED_URL":     setString(func(c *Config) *string { return &c.Remote.FeedURL }),
	"REMOTE_TOKEN":        setString(func(c *Config) *string { return &c.Remote.Token }),
	"REMOTE_REDIS_ADDR":   setString(func(c *Config) *string { return &c.Remote.RedisAddr }),
	"REMOTE_REDIS_DB":     setInt(func(c *Config) *int { return &c.Remote.RedisDB }),
	"REMOTE_REDIS_PREFIX": setString(func(c *Config) *string { return &c.Remote.RedisPrefix }),
	"REMOTE_PUSH_TIMEOUT": setDuration(func(c *Config) *Duration { return &c.Remote.PushTimeout }),

	"SYNC_PUSH_RPS": func(c *Config, v string) error {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return err
		}
		c.Sync.PushRPS = f
		return nil
	},
	"SYNC_PUSH_BURST":       setInt(func(c *Config) *int { return &c.Sync.PushBurst }),
	"SYNC_BATCH_SIZE":       setInt(func(c *Config) *int { return &c.Sync.BatchSize }),
	"SYNC_RETRY_BASE":       setDuration(func(c *Config) *Duration { return &c.Sync.RetryBase }),
	"SYNC_RETRY_MAX":        setDuration(func(c *Config) *Duration { return &c.Sync.RetryMax }),
	"SYNC_RETRY_ATTEMPTS":   setInt(func(c *Config) *int { return &c.Sync.RetryAttempts }),
	"SYNC_SWEEP_CRON":       setString(func(c *Config) *string { return &c.Sync.SweepCron }),
	"SYNC_PROBE_INTERVAL":   setDuration(func(c *Config) *Duration { return &c.Sync.ProbeInterval }),
	"SYNC_RESUBSCRIBE_BASE": setDuration(func(c *Config) *Duration { return &c.Sync.ResubscribeBase }),
	"SYNC_RESUBSCRIBE_MAX":  setDuration(func(c *Config) *Duration { return &c.Sync.ResubscribeMax }),
	"SYNC_HISTORY_LIMIT":    setInt(func(c *Config) *int { return &c.Sync.HistoryLimit }),

	"SERVER_ENABLED": setBoolPtr(func(c *Config) **bool { return &c.Server.Enabled }),
	"SERVER_ADDR": func(c *Config, v string) error {
		return applyAddr(c, v)
	},
	"SERVER_ADDRESS": setString(func(c *Config) *string { return &c.Server.Address }),
	"SERVER_PORT":    setInt(func(c *Config) *int { return &c.Server.Port }),

	"LOG_LEVEL": setString(func(c *Config) *string { return &c.Logging.Level }),
	"USER_ID":   setString(func(c *Config) *string { return &c.User.ID }),
}

// ParseConfigEnvs applies CHATSYNC_* variables on top of cfg and returns the
// names that were used. getenv is os.Getenv outside tests.
func ParseConfigEnvs(cfg *Config, getenv func(string) string) ([]string, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	names := make([]string, 0, len(envOverrides))
	for name := range envOverrides {
		names = append(names, name)
	}
	// fixed order so aliases resolve the same way every run
	sort.Strings(names)

	var used []string
	for _, name := range names {
		v := getenv(EnvPrefix + name)
		if v == "" {
			continue
		}
		if err := envOverrides[name](cfg, v); err != nil {
			return used, fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		used = append(used, EnvPrefix+name)
	}
	return used, nil
}

// applyAddr splits host:port into server.address and server.port.
func applyAddr(c *Config, v string) error {
	h, p, err := net.SplitHostPort(strings.TrimSpace(v))
	if err != nil {
		c.Server.Address = strings.TrimSpace(v)
		return nil
	}
	c.Server.Address = h
	if p == "" {
		return nil
	}
	pi, err := strconv.Atoi(p)
	if err != nil {
		return fmt.Errorf("invalid port in %q", v)
	}
	c.Server.Port = pi
	return nil
}

// LoadEffectiveConfig layers defaults, the config file, the environment and
// explicitly set flags, in that order of precedence.
func LoadEffectiveConfig(flags Flags, getenv func(string) string) (EffectiveConfigResult, error) {
	var res EffectiveConfigResult

	fileCfg, path, found, err := ParseConfigFile(flags)
	if err != nil {
		return res, err
	}
	if flags.Set["config"] && !found {
		return res, fmt.Errorf("config file %s not found", flags.Config)
	}
	layers := []string{"defaults"}
	if found {
		layers = append(layers, "config")
		res.ConfigPath = path
	}

	cfg := fileCfg
	used, err := ParseConfigEnvs(cfg, getenv)
	if err != nil {
		return res, err
	}
	if len(used) > 0 {
		layers = append(layers, "env")
	}
	res.EnvUsed = used

	flagged := false
	if flags.Set["db"] {
		cfg.Store.Path = flags.DB
		flagged = true
	}
	if flags.Set["addr"] {
		if err := applyAddr(cfg, flags.Addr); err != nil {
			return res, err
		}
		flagged = true
	}
	if flagged {
		layers = append(layers, "flags")
	}

	cfg.ApplyDefaults()
	res.Config = cfg
	res.Addr = cfg.Addr()
	res.DBPath = cfg.Store.Path
	res.Source = strings.Join(layers, "+")
	return res, nil
}
