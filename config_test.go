package livewatch

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hazyhaar/livewatch/internal/extract"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "livewatch.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	// WHAT: a minimal config gets working defaults and browser mode.
	path := writeConfig(t, `
endpoints:
  - category: football
    url: https://feeds.test/football
    marker: /football
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.DataDir != "data" {
		t.Errorf("DataDir = %q, want data", cfg.DataDir)
	}
	if cfg.HistoryRetention != 24*time.Hour {
		t.Errorf("HistoryRetention = %v, want 24h", cfg.HistoryRetention)
	}
	if cfg.Scheduler.Tick != 2*time.Second {
		t.Errorf("Tick = %v, want 2s", cfg.Scheduler.Tick)
	}
	if cfg.Endpoints[0].Mode != extract.ModeBrowser {
		t.Errorf("Mode = %q, want browser default", cfg.Endpoints[0].Mode)
	}
	if !cfg.needsBrowser() {
		t.Error("needsBrowser() = false for a browser endpoint")
	}
}

func TestLoadConfigHTTPOnly(t *testing.T) {
	// WHAT: a config with only http endpoints does not require a browser.
	path := writeConfig(t, `
endpoints:
  - category: football
    url: https://feeds.test/football
    mode: http
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.needsBrowser() {
		t.Error("needsBrowser() = true for an http-only config")
	}
}

func TestLoadConfigValidation(t *testing.T) {
	cases := []struct {
		name string
		body string
		want error
	}{
		{"no endpoints", "data_dir: d\n", ErrNoEndpoints},
		{"missing category", `
endpoints:
  - url: https://feeds.test/x
`, ErrInvalidConfig},
		{"missing url", `
endpoints:
  - category: football
`, ErrInvalidConfig},
		{"duplicate category", `
endpoints:
  - category: football
    url: https://feeds.test/a
  - category: football
    url: https://feeds.test/b
`, ErrInvalidConfig},
		{"bad mode", `
endpoints:
  - category: football
    url: https://feeds.test/a
    mode: carrier-pigeon
`, ErrInvalidConfig},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tc.body))
			if !errors.Is(err, tc.want) {
				t.Errorf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Fatal("no error for missing config file")
	}
}
