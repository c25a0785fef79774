package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
scan:
  interval_base: 45s
  interval_min: 30s
  interval_max: 10m
  captcha_pause: 20m
  night_start: "23:00"
  night_end: "07:30"
  backoff_threshold: 3
budgets:
  global_per_window: 20
  per_subscriber_per_window: 5
  window: 2h
store:
  type: sqlite
  path: /var/lib/orderwatch/orderwatch.db
  dedup_retention: 720h
notifier:
  type: log
spool:
  dir: /var/spool/orderwatch
  outbox_dir: /var/spool/orderwatch-out
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Scan.IntervalBase != 45*time.Second {
		t.Errorf("IntervalBase = %v, want 45s", cfg.Scan.IntervalBase)
	}
	if cfg.Scan.CaptchaPause != 20*time.Minute {
		t.Errorf("CaptchaPause = %v, want 20m", cfg.Scan.CaptchaPause)
	}
	if cfg.Scan.NightStart != 23*time.Hour {
		t.Errorf("NightStart = %v, want 23h", cfg.Scan.NightStart)
	}
	if cfg.Scan.NightEnd != 7*time.Hour+30*time.Minute {
		t.Errorf("NightEnd = %v, want 7h30m", cfg.Scan.NightEnd)
	}
	if cfg.Scan.BackoffThreshold != 3 {
		t.Errorf("BackoffThreshold = %d, want 3", cfg.Scan.BackoffThreshold)
	}
	if cfg.Budgets.GlobalPerWindow != 20 || cfg.Budgets.Window != 2*time.Hour {
		t.Errorf("Budgets = %+v", cfg.Budgets)
	}
	if cfg.Store.Path != "/var/lib/orderwatch/orderwatch.db" {
		t.Errorf("Store.Path = %q", cfg.Store.Path)
	}
	if cfg.Store.DedupRetention != 720*time.Hour {
		t.Errorf("DedupRetention = %v, want 720h", cfg.Store.DedupRetention)
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	cfg, err := Load(writeConfig(t, `{}`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Scan.IntervalBase != 45*time.Second {
		t.Errorf("IntervalBase default = %v, want 45s", cfg.Scan.IntervalBase)
	}
	if cfg.Store.Type != "sqlite" || cfg.Store.Path != "orderwatch.db" {
		t.Errorf("Store defaults = %+v", cfg.Store)
	}
	if cfg.Notifier.Type != "log" {
		t.Errorf("Notifier default = %+v", cfg.Notifier)
	}
	if cfg.Budgets.GlobalPerWindow != 10 || cfg.Budgets.PerSubscriberPerWindow != 3 {
		t.Errorf("Budget defaults = %+v", cfg.Budgets)
	}
	// Night window disabled when both bounds are absent.
	if cfg.Scan.NightStart != cfg.Scan.NightEnd {
		t.Errorf("night window should be disabled, got %v–%v", cfg.Scan.NightStart, cfg.Scan.NightEnd)
	}
}

func TestLoad_ExpandsEnvironment(t *testing.T) {
	t.Setenv("ORDERWATCH_TEST_TOKEN", "123:abc")
	path := writeConfig(t, `
notifier:
  type: telegram
  token: ${ORDERWATCH_TEST_TOKEN}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Notifier.Token != "123:abc" {
		t.Errorf("Token = %q, want expanded env value", cfg.Notifier.Token)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml")); err == nil {
		t.Fatal("Load: expected error for missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	if _, err := Load(writeConfig(t, "scan: [broken")); err == nil {
		t.Fatal("Load: expected error for invalid yaml")
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			"telegram without token",
			"notifier:\n  type: telegram\n",
			"notifier.token",
		},
		{
			"redis without url",
			"store:\n  type: redis\n",
			"store.redis_url",
		},
		{
			"unknown store type",
			"store:\n  type: postgres\n",
			"store.type",
		},
		{
			"base outside bounds",
			"scan:\n  interval_base: 5s\n  interval_min: 30s\n",
			"interval_base",
		},
		{
			"short vault key",
			"vault:\n  key: abcd\n",
			"vault.key",
		},
		{
			"bad night clock",
			"scan:\n  night_start: \"25:00\"\n",
			"night_start",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}
