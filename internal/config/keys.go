package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kDuration
	kStrings
)

type keySpec struct {
	key    string
	typ    keyType
	env    string
	secret bool
	// masked values load from the file and env like any other key but are
	// never printed by config show.
	masked  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "PARITY_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "storage.data_dir", typ: kString, env: "PARITY_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "PARITY_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "catalog.path", typ: kString, env: "PARITY_CATALOG_PATH",
		apply:   func(cfg *Config, v any) { cfg.Catalog.Path = v.(string) },
		extract: func(cfg Config) any { return cfg.Catalog.Path },
	},
	{
		key: "exec.mode", typ: kString, env: "PARITY_EXEC_MODE",
		apply:   func(cfg *Config, v any) { cfg.Exec.Mode = v.(string) },
		extract: func(cfg Config) any { return cfg.Exec.Mode },
	},
	{
		key: "exec.timeout", typ: kDuration, env: "PARITY_EXEC_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Exec.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Exec.Timeout },
	},
	{
		key: "exec.su_path", typ: kString, env: "PARITY_EXEC_SU_PATH",
		apply:   func(cfg *Config, v any) { cfg.Exec.SuPath = v.(string) },
		extract: func(cfg Config) any { return cfg.Exec.SuPath },
	},
	{
		key: "exec.bridge_paths", typ: kStrings, env: "PARITY_EXEC_BRIDGE_PATHS",
		apply:   func(cfg *Config, v any) { cfg.Exec.BridgePaths = v.([]string) },
		extract: func(cfg Config) any { return cfg.Exec.BridgePaths },
	},
	{
		key: "exec.settings_tool", typ: kString, env: "PARITY_EXEC_SETTINGS_TOOL",
		apply:   func(cfg *Config, v any) { cfg.Exec.SettingsTool = v.(string) },
		extract: func(cfg Config) any { return cfg.Exec.SettingsTool },
	},
	{
		key: "probe.cache_ttl", typ: kDuration, env: "PARITY_PROBE_CACHE_TTL",
		apply:   func(cfg *Config, v any) { cfg.Probe.CacheTTL = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Probe.CacheTTL },
	},
	{
		key: "refresh.interval", typ: kDuration, env: "PARITY_REFRESH_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Refresh.Interval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Refresh.Interval },
	},
	{
		key: "broker.url", typ: kString, env: "PARITY_BROKER_URL",
		apply:   func(cfg *Config, v any) { cfg.Broker.URL = v.(string) },
		extract: func(cfg Config) any { return cfg.Broker.URL },
	},
	{
		key: "broker.listen", typ: kString, env: "PARITY_BROKER_LISTEN",
		apply:   func(cfg *Config, v any) { cfg.Broker.Listen = v.(string) },
		extract: func(cfg Config) any { return cfg.Broker.Listen },
	},
	{
		key: "broker.token", typ: kString, env: "PARITY_BROKER_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Broker.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Broker.Token },
	},
	{
		key: "broker.tokens", typ: kStrings, env: "PARITY_BROKER_TOKENS",
		masked:  true,
		apply:   func(cfg *Config, v any) { cfg.Broker.Tokens = v.([]string) },
		extract: func(cfg Config) any { return cfg.Broker.Tokens },
	},
	{
		key: "vendor_sync.mode", typ: kString, env: "PARITY_VENDOR_SYNC_MODE",
		apply:   func(cfg *Config, v any) { cfg.VendorSync.Mode = v.(string) },
		extract: func(cfg Config) any { return cfg.VendorSync.Mode },
	},
	{
		key: "vendor_sync.vendors", typ: kStrings, env: "PARITY_VENDOR_SYNC_VENDORS",
		apply:   func(cfg *Config, v any) { cfg.VendorSync.Vendors = v.([]string) },
		extract: func(cfg Config) any { return cfg.VendorSync.Vendors },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kDuration:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				d, err := time.ParseDuration(v)
				if err != nil {
					return fmt.Errorf("invalid duration for %s: %w", s.key, err)
				}
				s.apply(cfg, d)
			}
		case kStrings:
			v, ok, err := b.GetStrings(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kDuration:
			if d, err := time.ParseDuration(raw); err == nil {
				s.apply(cfg, d)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse duration from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kStrings:
			s.apply(cfg, splitList(raw))
		}
	}
}
