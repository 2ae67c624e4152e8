package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/parity/internal/privileged"
	"github.com/kalambet/parity/internal/vendorsync"
)

type Config struct {
	Server     ServerConfig
	Storage    StorageConfig
	Log        LogConfig
	Catalog    CatalogConfig
	Exec       ExecConfig
	Probe      ProbeConfig
	Refresh    RefreshConfig
	Broker     BrokerConfig
	VendorSync VendorSyncConfig
}

type ServerConfig struct {
	Port int
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type CatalogConfig struct {
	// Path replaces the built-in item table when set.
	Path string
}

type ExecConfig struct {
	Mode         string
	Timeout      time.Duration
	SuPath       string
	BridgePaths  []string
	SettingsTool string
}

type ProbeConfig struct {
	CacheTTL time.Duration
}

// RefreshConfig controls the background drift check. Zero disables it.
type RefreshConfig struct {
	Interval time.Duration
}

type BrokerConfig struct {
	URL    string
	Listen string
	// Token is presented by this client; Tokens are granted by the daemon.
	Token  string
	Tokens []string
}

type VendorSyncConfig struct {
	Mode    string
	Vendors []string
}

func defaults() Config {
	return Config{
		Server:  ServerConfig{Port: 4100},
		Storage: StorageConfig{DataDir: defaultDataDir()},
		Log:     LogConfig{Level: "info"},
		Exec: ExecConfig{
			Mode:        string(privileged.ModeAuto),
			Timeout:     15 * time.Second,
			BridgePaths: append([]string(nil), privileged.DefaultBridgePaths...),
		},
		Probe:   ProbeConfig{CacheTTL: 30 * time.Second},
		Refresh: RefreshConfig{Interval: 5 * time.Minute},
		Broker: BrokerConfig{
			URL:    "http://127.0.0.1:4101",
			Listen: "127.0.0.1:4101",
		},
		VendorSync: VendorSyncConfig{
			Mode:    string(vendorsync.ModeAuto),
			Vendors: append([]string(nil), vendorsync.DefaultVendors...),
		},
	}
}

// Load reads configuration from the TOML file, environment variables, and
// the secret store. Environment variables (PARITY_*) override file values.
func Load() (Config, error) {
	return loadWith(newFileBackend(FilePath()), NewKeychain())
}

// LoadFrom reads configuration using the TOML file at path.
func LoadFrom(path string) (Config, error) {
	return loadWith(newFileBackend(path), NewKeychain())
}

func loadWith(b ConfigBackend, kc Keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Broker.Token == "" {
		if tok, err := kc.Get(secretService, brokerTokenAccount); err == nil {
			cfg.Broker.Token = tok
		}
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if _, err := privileged.ParseMode(c.Exec.Mode); err != nil {
		return fmt.Errorf("exec.mode: %w", err)
	}
	if _, err := vendorsync.ParseMode(c.VendorSync.Mode); err != nil {
		return fmt.Errorf("vendor_sync.mode: %w", err)
	}
	if c.Exec.Timeout <= 0 {
		return fmt.Errorf("exec.timeout must be positive, got %s", c.Exec.Timeout)
	}
	if c.Probe.CacheTTL < 0 {
		return fmt.Errorf("probe.cache_ttl must not be negative, got %s", c.Probe.CacheTTL)
	}
	if c.Refresh.Interval < 0 {
		return fmt.Errorf("refresh.interval must not be negative, got %s", c.Refresh.Interval)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level: unknown level %q", c.Log.Level)
	}
	return nil
}

// ExecMode returns the parsed backend mode. Load has already validated it.
func (c Config) ExecMode() privileged.Mode {
	m, _ := privileged.ParseMode(c.Exec.Mode)
	return m
}

// VendorSyncMode returns the parsed vendor sync mode.
func (c Config) VendorSyncMode() vendorsync.Mode {
	m, _ := vendorsync.ParseMode(c.VendorSync.Mode)
	return m
}
