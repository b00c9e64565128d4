package config

import (
	"testing"
	"time"
)

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_SECRET",
		"DATABASE_URL",
		"MONTHLY_WARN_TOKENS",
		"MONTHLY_CAP_TOKENS",
		"HISTORY_TURNS",
		"RECALL_LOOKBACK_DAYS",
		"RECALL_MAX_SNIPPETS",
		"RATE_INPUT",
		"RATE_OUTPUT",
		"GUEST_SESSION_DAYS",
		"SESSION_DAYS",
		"COOKIE_DAYS",
		"PROMPTS_DIR",
		"CHARACTERS_DIR",
		"FEEDBACK_URL",
		"COMPLETION_MODE",
		"COMPLETION_BASE_URL",
		"OPENAI_API_KEY",
		"COMPLETION_MODEL",
		"EMAIL_BACKEND",
		"EMAIL_FROM",
		"EMAIL_WEBHOOK_URL",
		"EMAIL_AUTH_TOKEN",
		"ADMIN_TOKEN",
		"ADMIN_MAX_ROWS",
	}
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q", cfg.BindAddr)
	}
	if cfg.MonthlyWarnTokens != 200_000 || cfg.MonthlyCapTokens != 300_000 {
		t.Fatalf("token policy = %d/%d", cfg.MonthlyWarnTokens, cfg.MonthlyCapTokens)
	}
	if cfg.HistoryTurns != 12 || cfg.RecallLookbackDays != 180 || cfg.RecallMaxSnippets != 3 {
		t.Fatalf("prompt settings = %d/%d/%d", cfg.HistoryTurns, cfg.RecallLookbackDays, cfg.RecallMaxSnippets)
	}
	if cfg.RateInput != 2.5 || cfg.RateOutput != 10 {
		t.Fatalf("rates = %v/%v", cfg.RateInput, cfg.RateOutput)
	}
	if cfg.GuestSessionDays != 7 || cfg.SessionDays != 7 || cfg.CookieDays != 180 {
		t.Fatalf("session days = %d/%d/%d", cfg.GuestSessionDays, cfg.SessionDays, cfg.CookieDays)
	}
	if cfg.CompletionMode != "auto" || cfg.CompletionModel != "gpt-4o" {
		t.Fatalf("completion = %q/%q", cfg.CompletionMode, cfg.CompletionModel)
	}
	if cfg.EmailBackend != "console" {
		t.Fatalf("EmailBackend = %q", cfg.EmailBackend)
	}
	if cfg.ShutdownTimeout != 15*time.Second {
		t.Fatalf("ShutdownTimeout = %v", cfg.ShutdownTimeout)
	}
}

func TestLoadOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("MONTHLY_CAP_TOKENS", "500")
	t.Setenv("MONTHLY_WARN_TOKENS", "400")
	t.Setenv("RATE_INPUT", "1.25")
	t.Setenv("APP_SHUTDOWN_TIMEOUT", "30s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.MonthlyCapTokens != 500 || cfg.MonthlyWarnTokens != 400 {
		t.Fatalf("token policy = %d/%d", cfg.MonthlyWarnTokens, cfg.MonthlyCapTokens)
	}
	if cfg.RateInput != 1.25 {
		t.Fatalf("RateInput = %v", cfg.RateInput)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Fatalf("ShutdownTimeout = %v", cfg.ShutdownTimeout)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("MONTHLY_CAP_TOKENS", "not-a-number")
	if _, err := Load(); err == nil {
		t.Fatalf("Load() accepted a non-numeric cap")
	}

	setCoreEnvEmpty(t)
	t.Setenv("MONTHLY_CAP_TOKENS", "0")
	if _, err := Load(); err == nil {
		t.Fatalf("Load() accepted a zero cap")
	}

	setCoreEnvEmpty(t)
	t.Setenv("HISTORY_TURNS", "-1")
	if _, err := Load(); err == nil {
		t.Fatalf("Load() accepted negative history turns")
	}
}
