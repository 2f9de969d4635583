package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Harvest.Workers != 2 || cfg.Harvest.StartPage != 1 {
		t.Fatalf("unexpected harvest defaults: %+v", cfg.Harvest)
	}
	if cfg.Browser.PageLoadTimeout != 60*time.Second {
		t.Fatalf("expected 60s page load timeout, got %v", cfg.Browser.PageLoadTimeout)
	}
	if cfg.Timing.ContentTimeout != 5*time.Second || cfg.Timing.WriteTimeout != 15*time.Second {
		t.Fatalf("unexpected timeouts: %+v", cfg.Timing)
	}
	if cfg.Timing.RetryDelayMin != 2*time.Second || cfg.Timing.RetryDelayMax != 5*time.Second {
		t.Fatalf("unexpected retry pacing: %+v", cfg.Timing)
	}
	if cfg.Ledger.JournalPath != "FailedChapters.log" {
		t.Fatalf("unexpected journal path %q", cfg.Ledger.JournalPath)
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
harvest:
  book_link: https://novels.example/book/demo
  local_directory: /tmp/demo
  workers: 4
  partition: round-robin
  include_title: true
browser:
  driver: colly
  page_load_timeout: 30s
  user_agents: ["agent-a", "agent-b"]
timing:
  item_delay_min: 500ms
  item_delay_max: 750ms
rate_limit:
  rps: 0.5
detector:
  title_markers: ["Just a moment"]
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Harvest.BookLink != "https://novels.example/book/demo" || cfg.Harvest.LocalDirectory != "/tmp/demo" {
		t.Fatalf("expected saved settings to load: %+v", cfg.Harvest)
	}
	if cfg.Harvest.Workers != 4 || cfg.Harvest.Partition != "round-robin" || !cfg.Harvest.IncludeTitle {
		t.Fatalf("expected harvest overrides to apply: %+v", cfg.Harvest)
	}
	if cfg.Browser.Driver != "colly" || cfg.Browser.PageLoadTimeout != 30*time.Second {
		t.Fatalf("expected browser overrides to apply: %+v", cfg.Browser)
	}
	if len(cfg.Browser.UserAgents) != 2 {
		t.Fatalf("expected two user agents, got %v", cfg.Browser.UserAgents)
	}
	if cfg.Timing.ItemDelayMin != 500*time.Millisecond || cfg.Timing.ItemDelayMax != 750*time.Millisecond {
		t.Fatalf("expected delay overrides: %+v", cfg.Timing)
	}
	if cfg.RateLimit.RPS != 0.5 {
		t.Fatalf("expected rps 0.5, got %v", cfg.RateLimit.RPS)
	}
	if len(cfg.Detector.TitleMarkers) != 1 || cfg.Detector.BodyMarkers != nil {
		t.Fatalf("unexpected detector markers: %+v", cfg.Detector)
	}
	if cfg.Server.Port != 9090 || !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected server and auth overrides")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("HARVEST_HARVEST_WORKERS", "3")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Harvest.Workers != 3 {
		t.Fatalf("expected env override to 3 workers, got %d", cfg.Harvest.Workers)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "workers", mutate: func(c *Config) { c.Harvest.Workers = 0 }, want: "harvest.workers"},
		{name: "workers above max", mutate: func(c *Config) { c.Harvest.Workers = c.Harvest.MaxWorkers + 1 }, want: "harvest.workers"},
		{name: "max workers", mutate: func(c *Config) { c.Harvest.MaxWorkers = 0 }, want: "harvest.max_workers"},
		{name: "start page", mutate: func(c *Config) { c.Harvest.StartPage = 0 }, want: "harvest.start_page"},
		{name: "partition", mutate: func(c *Config) { c.Harvest.Partition = "zigzag" }, want: "harvest.partition"},
		{name: "driver", mutate: func(c *Config) { c.Browser.Driver = "selenium" }, want: "browser.driver"},
		{
			name:   "delay order",
			mutate: func(c *Config) { c.Timing.ItemDelayMin, c.Timing.ItemDelayMax = 3*time.Second, time.Second },
			want:   "timing.item_delay_max",
		},
		{name: "page path", mutate: func(c *Config) { c.Listing.PagePath = "/chapters" }, want: "listing.page_path"},
		{name: "port", mutate: func(c *Config) { c.Server.Port = 0 }, want: "server.port"},
		{
			name:   "auth missing api key",
			mutate: func(c *Config) { c.Auth.Enabled, c.Auth.APIKey = true, "" },
			want:   "auth.api_key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestSaveSettingsKeepsOtherKeys(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "settings.yaml")
	if err := os.WriteFile(path, []byte("harvest:\n  workers: 3\nserver:\n  port: 9000\n"), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	if err := SaveSettings(path, "https://novels.example/book/demo", "/data/demo"); err != nil {
		t.Fatalf("SaveSettings() error = %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Harvest.BookLink != "https://novels.example/book/demo" || cfg.Harvest.LocalDirectory != "/data/demo" {
		t.Fatalf("settings not persisted: %+v", cfg.Harvest)
	}
	if cfg.Harvest.Workers != 3 || cfg.Server.Port != 9000 {
		t.Fatalf("existing keys lost: %+v %+v", cfg.Harvest, cfg.Server)
	}
}

func TestSaveSettingsCreatesFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "new.yaml")
	if err := SaveSettings(path, "https://novels.example/book/x", "out"); err != nil {
		t.Fatalf("SaveSettings() error = %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Harvest.LocalDirectory != "out" {
		t.Fatalf("expected local directory to persist, got %q", cfg.Harvest.LocalDirectory)
	}
}
