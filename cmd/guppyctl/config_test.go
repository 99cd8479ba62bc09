package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "guppyctl.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadClientConfigDefaultsAndOverrides(t *testing.T) {
	path := writeConfig(t, `
timeout = "10s"
ack_retry = "200ms"
reorder_slots = 16
max_redirects = 2
`)

	cfg, err := loadClientConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Session.SessionTimeout != 10*time.Second {
		t.Fatalf("unexpected timeout: %v", cfg.Session.SessionTimeout)
	}
	if cfg.Session.AckRetry != 200*time.Millisecond {
		t.Fatalf("unexpected ack retry: %v", cfg.Session.AckRetry)
	}
	if cfg.Session.ReorderSlots != 16 {
		t.Fatalf("unexpected reorder slots: %d", cfg.Session.ReorderSlots)
	}
	if cfg.MaxRedirects != 2 {
		t.Fatalf("unexpected max redirects: %d", cfg.MaxRedirects)
	}

	// Keys absent from the file keep their defaults.
	if cfg.Session.RequestRetry != time.Second {
		t.Fatalf("unexpected request retry: %v", cfg.Session.RequestRetry)
	}
	if cfg.Session.TickInterval != 100*time.Millisecond {
		t.Fatalf("unexpected tick interval: %v", cfg.Session.TickInterval)
	}
}

func TestLoadClientConfigBadDuration(t *testing.T) {
	path := writeConfig(t, `timeout = "soon"`)

	_, err := loadClientConfig(path)
	if err == nil || !strings.Contains(err.Error(), "timeout") {
		t.Fatalf("expected timeout parse error, got %v", err)
	}
}

func TestLoadClientConfigMissingFile(t *testing.T) {
	_, err := loadClientConfig(filepath.Join(t.TempDir(), "nope.toml"))
	if err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestLoadClientConfigIgnoresNonPositiveCounts(t *testing.T) {
	path := writeConfig(t, "reorder_slots = 0\nmax_redirects = -1\n")

	cfg, err := loadClientConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Session.ReorderSlots != 8 {
		t.Fatalf("unexpected reorder slots: %d", cfg.Session.ReorderSlots)
	}
	if cfg.MaxRedirects != 5 {
		t.Fatalf("unexpected max redirects: %d", cfg.MaxRedirects)
	}
}
