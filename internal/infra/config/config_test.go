package config

import (
	"errors"
	"testing"
	"time"
)

func envFrom(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestFromEnvDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := fromEnv(envFrom(map[string]string{"PANEL_API_URL": "http://localhost:8000/"}))
	if err != nil {
		t.Fatalf("fromEnv() error = %v", err)
	}

	env := cfg.Env
	if env.APIURL != "http://localhost:8000" {
		t.Fatalf("APIURL = %q, want trailing slash trimmed", env.APIURL)
	}
	if env.Username != defaultUsername {
		t.Fatalf("Username = %q, want %q", env.Username, defaultUsername)
	}
	if env.PollInterval != 30*time.Second {
		t.Fatalf("PollInterval = %v, want 30s", env.PollInterval)
	}
	if env.WebServerEnable {
		t.Fatal("WebServerEnable must default to false")
	}
	if env.AppLocation == nil {
		t.Fatal("AppLocation must be set")
	}
	if len(cfg.Warnings()) == 0 {
		t.Fatal("expected warnings about defaulted values")
	}
}

func TestFromEnvInvalidValuesFallBack(t *testing.T) {
	t.Parallel()

	cfg, err := fromEnv(envFrom(map[string]string{
		"PANEL_API_URL":           "https://bot.example.com",
		"PANEL_POLL_INTERVAL_SEC": "-5",
		"PANEL_REQUEST_RPS":       "fast",
		"LOG_LEVEL":               "chatty",
		"APP_TIMEZONE":            "Europe/Nowhere",
		"WEB_SERVER_ENABLE":       "true",
	}))
	if err != nil {
		t.Fatalf("fromEnv() error = %v", err)
	}
	env := cfg.Env
	if env.PollInterval != defaultPollIntervalSec*time.Second {
		t.Fatalf("PollInterval = %v", env.PollInterval)
	}
	if env.RequestRPS != defaultRequestRPS {
		t.Fatalf("RequestRPS = %d", env.RequestRPS)
	}
	if env.LogLevel != defaultLogLevel {
		t.Fatalf("LogLevel = %q", env.LogLevel)
	}
	if env.AppTimezone != defaultAppTimezone {
		t.Fatalf("AppTimezone = %q", env.AppTimezone)
	}
	if !env.WebServerEnable {
		t.Fatal("WebServerEnable should be true")
	}
}

func TestFromEnvAPIURLRequired(t *testing.T) {
	t.Parallel()

	if _, err := fromEnv(envFrom(nil)); !errors.Is(err, ErrMissingAPIURL) {
		t.Fatalf("fromEnv() error = %v, want ErrMissingAPIURL", err)
	}
	if _, err := fromEnv(envFrom(map[string]string{"PANEL_API_URL": "localhost:8000"})); err == nil {
		t.Fatal("expected error for URL without scheme")
	}
}
