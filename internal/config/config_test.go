package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFindConfig_Explicit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	os.WriteFile(path, []byte("listen:\n  port: 9999\n"), 0600)

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig(%q) error: %v", path, err)
	}
	if got != path {
		t.Errorf("FindConfig(%q) = %q, want %q", path, got, path)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	_, err := FindConfig("/nonexistent/aztriage.yaml")
	if err == nil {
		t.Fatal("FindConfig with missing explicit path should error")
	}
}

func TestFindConfig_CWD(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "aztriage.yaml")
	os.WriteFile(path, []byte("listen:\n  port: 8080\n"), 0600)

	orig, _ := os.Getwd()
	os.Chdir(dir)
	defer os.Chdir(orig)

	got, err := FindConfig("")
	if err != nil {
		t.Fatalf("FindConfig(\"\") error: %v", err)
	}
	if got != "aztriage.yaml" {
		t.Errorf("FindConfig(\"\") = %q, want %q", got, "aztriage.yaml")
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "aztriage.yaml")
	os.WriteFile(path, []byte("auth:\n  jwt_secret: ${AZTRIAGE_TEST_SECRET}\n"), 0600)
	os.Setenv("AZTRIAGE_TEST_SECRET", "secret123")
	defer os.Unsetenv("AZTRIAGE_TEST_SECRET")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Auth.JWTSecret != "secret123" {
		t.Errorf("jwt_secret = %q, want %q", cfg.Auth.JWTSecret, "secret123")
	}
}

func TestLoad_OverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "aztriage.yaml")
	os.WriteFile(path, []byte(`
listen:
  port: 9443
llm:
  provider: anthropic
  anthropic:
    api_key: key
safety:
  max_function_calls: 4
  max_total_time: 20s
`), 0600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Listen.Port != 9443 {
		t.Errorf("port = %d, want 9443", cfg.Listen.Port)
	}
	if cfg.LLM.Provider != "anthropic" {
		t.Errorf("provider = %q, want anthropic", cfg.LLM.Provider)
	}
	if cfg.Safety.MaxFunctionCalls != 4 {
		t.Errorf("max_function_calls = %d, want 4", cfg.Safety.MaxFunctionCalls)
	}
	if cfg.Safety.MaxTotalTime != 20*time.Second {
		t.Errorf("max_total_time = %v, want 20s", cfg.Safety.MaxTotalTime)
	}
	// Untouched sections keep their defaults.
	if cfg.Sessions.MaxSessions != 100 {
		t.Errorf("max_sessions = %d, want default 100", cfg.Sessions.MaxSessions)
	}
	if cfg.Auth.ExpirationHours != 24 {
		t.Errorf("expiration_hours = %d, want default 24", cfg.Auth.ExpirationHours)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Listen.Port != 8443 {
		t.Errorf("default port = %d, want 8443", cfg.Listen.Port)
	}
	if cfg.LLM.Provider != "rules" {
		t.Errorf("default provider = %q, want rules", cfg.LLM.Provider)
	}
	if cfg.Sessions.IdleTimeout != time.Hour {
		t.Errorf("default idle_timeout = %v, want 1h", cfg.Sessions.IdleTimeout)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
		ok   bool
	}{
		{"trace", LevelTrace, true},
		{"debug", slog.LevelDebug, true},
		{"info", slog.LevelInfo, true},
		{"warn", slog.LevelWarn, true},
		{"error", slog.LevelError, true},
		{"verbose", 0, false},
	}
	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		if tt.ok && err != nil {
			t.Errorf("ParseLogLevel(%q) error: %v", tt.in, err)
			continue
		}
		if !tt.ok {
			if err == nil {
				t.Errorf("ParseLogLevel(%q) should error", tt.in)
			}
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
