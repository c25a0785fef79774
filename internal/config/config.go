// Package config loads and validates the YAML configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the orderwatch daemon.
type Config struct {
	Scan     ScanConfig
	Budgets  BudgetConfig
	Store    StoreConfig
	Notifier NotifierConfig
	Spool    SpoolConfig
	Vault    VaultConfig
}

// ScanConfig holds the pacing knobs for the scan loop.
type ScanConfig struct {
	IntervalBase      time.Duration
	IntervalMin       time.Duration
	IntervalMax       time.Duration
	CaptchaPause      time.Duration
	NightStart        time.Duration // offset from local midnight
	NightEnd          time.Duration // equal to NightStart disables the window
	BackoffThreshold  int
	BackoffMultiplier float64
	BackoffCap        time.Duration
}

// BudgetConfig holds the auto-respond action budgets.
type BudgetConfig struct {
	GlobalPerWindow        int
	PerSubscriberPerWindow int
	Window                 time.Duration
}

// StoreConfig selects and configures the durable backend.
type StoreConfig struct {
	Type           string // "sqlite" or "redis"
	Path           string // sqlite file path
	RedisURL       string
	DedupRetention time.Duration
}

// NotifierConfig selects the delivery channel.
type NotifierConfig struct {
	Type  string `yaml:"type"`  // "log" or "telegram"
	Token string `yaml:"token"` // required if type is "telegram", env-expanded
}

// SpoolConfig points at the fetcher exchange directories.
type SpoolConfig struct {
	Dir       string `yaml:"dir"`
	OutboxDir string `yaml:"outbox_dir"`
}

// VaultConfig carries the encryption key and account credentials,
// env-expanded so secrets live in the environment, not the file.
type VaultConfig struct {
	Key      string `yaml:"key"` // 64 hex chars (32 bytes)
	Login    string `yaml:"login"`
	Password string `yaml:"password"`
}

// rawConfig is used for YAML unmarshaling (snake_case fields, durations and
// clock times as strings).
type rawConfig struct {
	Scan     rawScanConfig   `yaml:"scan"`
	Budgets  rawBudgetConfig `yaml:"budgets"`
	Store    rawStoreConfig  `yaml:"store"`
	Notifier NotifierConfig  `yaml:"notifier"`
	Spool    SpoolConfig     `yaml:"spool"`
	Vault    VaultConfig     `yaml:"vault"`
}

type rawScanConfig struct {
	IntervalBase      string  `yaml:"interval_base"`
	IntervalMin       string  `yaml:"interval_min"`
	IntervalMax       string  `yaml:"interval_max"`
	CaptchaPause      string  `yaml:"captcha_pause"`
	NightStart        string  `yaml:"night_start"` // "HH:MM"
	NightEnd          string  `yaml:"night_end"`
	BackoffThreshold  int     `yaml:"backoff_threshold"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`
	BackoffCap        string  `yaml:"backoff_cap"`
}

type rawBudgetConfig struct {
	GlobalPerWindow        int    `yaml:"global_per_window"`
	PerSubscriberPerWindow int    `yaml:"per_subscriber_per_window"`
	Window                 string `yaml:"window"`
}

type rawStoreConfig struct {
	Type           string `yaml:"type"`
	Path           string `yaml:"path"`
	RedisURL       string `yaml:"redis_url"`
	DedupRetention string `yaml:"dedup_retention"`
}

// Load reads .env if present, then parses and validates the YAML config at
// path. Environment variables in the file are expanded before parsing.
func Load(path string) (*Config, error) {
	// Missing .env is fine; the environment may already be populated.
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg := &Config{
		Notifier: raw.Notifier,
		Spool:    raw.Spool,
		Vault:    raw.Vault,
	}

	if cfg.Scan, err = buildScan(raw.Scan); err != nil {
		return nil, err
	}
	if cfg.Budgets, err = buildBudgets(raw.Budgets); err != nil {
		return nil, err
	}
	if cfg.Store, err = buildStore(raw.Store); err != nil {
		return nil, err
	}
	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func buildScan(raw rawScanConfig) (ScanConfig, error) {
	var (
		sc  ScanConfig
		err error
	)

	if sc.IntervalBase, err = durationOr(raw.IntervalBase, 45*time.Second, "scan.interval_base"); err != nil {
		return sc, err
	}
	if sc.IntervalMin, err = durationOr(raw.IntervalMin, 30*time.Second, "scan.interval_min"); err != nil {
		return sc, err
	}
	if sc.IntervalMax, err = durationOr(raw.IntervalMax, 10*time.Minute, "scan.interval_max"); err != nil {
		return sc, err
	}
	if sc.CaptchaPause, err = durationOr(raw.CaptchaPause, 15*time.Minute, "scan.captcha_pause"); err != nil {
		return sc, err
	}
	if sc.BackoffCap, err = durationOr(raw.BackoffCap, 10*time.Minute, "scan.backoff_cap"); err != nil {
		return sc, err
	}
	if sc.NightStart, err = clockOr(raw.NightStart, 0, "scan.night_start"); err != nil {
		return sc, err
	}
	if sc.NightEnd, err = clockOr(raw.NightEnd, 0, "scan.night_end"); err != nil {
		return sc, err
	}

	sc.BackoffThreshold = raw.BackoffThreshold
	if sc.BackoffThreshold <= 0 {
		sc.BackoffThreshold = 2
	}
	sc.BackoffMultiplier = raw.BackoffMultiplier
	if sc.BackoffMultiplier <= 1 {
		sc.BackoffMultiplier = 2
	}
	return sc, nil
}

func buildBudgets(raw rawBudgetConfig) (BudgetConfig, error) {
	window, err := durationOr(raw.Window, time.Hour, "budgets.window")
	if err != nil {
		return BudgetConfig{}, err
	}

	bc := BudgetConfig{
		GlobalPerWindow:        raw.GlobalPerWindow,
		PerSubscriberPerWindow: raw.PerSubscriberPerWindow,
		Window:                 window,
	}
	if bc.GlobalPerWindow <= 0 {
		bc.GlobalPerWindow = 10
	}
	if bc.PerSubscriberPerWindow <= 0 {
		bc.PerSubscriberPerWindow = 3
	}
	return bc, nil
}

func buildStore(raw rawStoreConfig) (StoreConfig, error) {
	retention, err := durationOr(raw.DedupRetention, 30*24*time.Hour, "store.dedup_retention")
	if err != nil {
		return StoreConfig{}, err
	}
	return StoreConfig{
		Type:           raw.Type,
		Path:           raw.Path,
		RedisURL:       raw.RedisURL,
		DedupRetention: retention,
	}, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Store.Type == "" {
		cfg.Store.Type = "sqlite"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "orderwatch.db"
	}
	if cfg.Notifier.Type == "" {
		cfg.Notifier.Type = "log"
	}
	if cfg.Spool.Dir == "" {
		cfg.Spool.Dir = "spool"
	}
	if cfg.Spool.OutboxDir == "" {
		cfg.Spool.OutboxDir = "outbox"
	}
}

func validate(cfg *Config) error {
	if cfg.Scan.IntervalMin > cfg.Scan.IntervalMax {
		return fmt.Errorf("scan.interval_min %v exceeds scan.interval_max %v",
			cfg.Scan.IntervalMin, cfg.Scan.IntervalMax)
	}
	if cfg.Scan.IntervalBase < cfg.Scan.IntervalMin || cfg.Scan.IntervalBase > cfg.Scan.IntervalMax {
		return fmt.Errorf("scan.interval_base %v outside [%v, %v]",
			cfg.Scan.IntervalBase, cfg.Scan.IntervalMin, cfg.Scan.IntervalMax)
	}

	switch cfg.Store.Type {
	case "sqlite":
		if cfg.Store.Path == "" {
			return fmt.Errorf("store.path is required when store.type is \"sqlite\"")
		}
	case "redis":
		if cfg.Store.RedisURL == "" {
			return fmt.Errorf("store.redis_url is required when store.type is \"redis\"")
		}
	default:
		return fmt.Errorf("store.type must be \"sqlite\" or \"redis\", got %q", cfg.Store.Type)
	}

	switch cfg.Notifier.Type {
	case "log":
	case "telegram":
		if cfg.Notifier.Token == "" {
			return fmt.Errorf("notifier.token is required when type is \"telegram\"")
		}
	default:
		return fmt.Errorf("notifier.type must be \"log\" or \"telegram\", got %q", cfg.Notifier.Type)
	}

	if cfg.Vault.Key != "" && len(cfg.Vault.Key) != 64 {
		return fmt.Errorf("vault.key must be 64 hex characters, got %d", len(cfg.Vault.Key))
	}

	return nil
}

// durationOr parses a duration string, using def when empty.
func durationOr(s string, def time.Duration, field string) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parse %s %q: %w", field, s, err)
	}
	return d, nil
}

// clockOr parses an "HH:MM" wall-clock time as an offset from midnight.
func clockOr(s string, def time.Duration, field string) (time.Duration, error) {
	if s == "" {
		return def, nil
	}

	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("parse %s %q: want HH:MM", field, s)
	}
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("parse %s %q: %w", field, s, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("parse %s %q: out of range", field, s)
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute, nil
}
