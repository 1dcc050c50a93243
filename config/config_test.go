package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.StorePath == "" {
		t.Error("StorePath should have a default")
	}
	if cfg.OpTimeout != 5*time.Second {
		t.Errorf("OpTimeout = %v, want 5s", cfg.OpTimeout)
	}
	if cfg.ReplayTimeout != 30*time.Second {
		t.Errorf("ReplayTimeout = %v, want 30s", cfg.ReplayTimeout)
	}
}

func TestLoadFromEnv(t *testing.T) {
	os.Setenv("PORTAL_STORE_PATH", "/tmp/test-portal.db")
	os.Setenv("PORTAL_API_BASE_URL", "https://portal.example.edu/api")
	os.Setenv("PORTAL_API_TOKEN", "tok-123")
	os.Setenv("PORTAL_OP_TIMEOUT", "2s")
	defer func() {
		os.Unsetenv("PORTAL_STORE_PATH")
		os.Unsetenv("PORTAL_API_BASE_URL")
		os.Unsetenv("PORTAL_API_TOKEN")
		os.Unsetenv("PORTAL_OP_TIMEOUT")
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.StorePath != "/tmp/test-portal.db" {
		t.Errorf("StorePath = %q", cfg.StorePath)
	}
	if cfg.APIBaseURL != "https://portal.example.edu/api" {
		t.Errorf("APIBaseURL = %q", cfg.APIBaseURL)
	}
	if cfg.APIToken != "tok-123" {
		t.Errorf("APIToken = %q", cfg.APIToken)
	}
	if cfg.OpTimeout != 2*time.Second {
		t.Errorf("OpTimeout = %v, want 2s", cfg.OpTimeout)
	}
}
