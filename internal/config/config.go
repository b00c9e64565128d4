package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the character chat service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	SecretKey   string
	DatabaseURL string

	// Monthly token policy.
	MonthlyWarnTokens int
	MonthlyCapTokens  int

	// Prompt assembly and recall.
	HistoryTurns       int
	RecallLookbackDays int
	RecallMaxSnippets  int

	// Pricing, per 1M tokens.
	RateInput  float64
	RateOutput float64

	// Session lifetimes in days.
	GuestSessionDays int
	SessionDays      int
	CookieDays       int

	PromptsDir    string
	CharactersDir string
	FeedbackURL   string

	CompletionMode    string
	CompletionBaseURL string
	CompletionAPIKey  string
	CompletionModel   string

	EmailBackend    string
	EmailFrom       string
	EmailWebhookURL string
	EmailAuthToken  string

	AdminToken   string
	AdminMaxRows int
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:          envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:  envOrDefault("APP_METRICS_NAMESPACE", "dti"),
		SecretKey:         envOrDefault("APP_SECRET", "change-me"),
		DatabaseURL:       stringFromEnv("DATABASE_URL"),
		PromptsDir:        envOrDefault("PROMPTS_DIR", "prompts"),
		CharactersDir:     envOrDefault("CHARACTERS_DIR", "characters"),
		FeedbackURL:       envOrDefault("FEEDBACK_URL", "https://qr1.be/ZU3E"),
		CompletionMode:    envOrDefault("COMPLETION_MODE", "auto"),
		CompletionBaseURL: envOrDefault("COMPLETION_BASE_URL", "https://api.openai.com"),
		CompletionAPIKey:  stringFromEnv("OPENAI_API_KEY"),
		CompletionModel:   envOrDefault("COMPLETION_MODEL", "gpt-4o"),
		EmailBackend:      envOrDefault("EMAIL_BACKEND", "console"),
		EmailFrom:         envOrDefault("EMAIL_FROM", "no-reply@example.com"),
		EmailWebhookURL:   stringFromEnv("EMAIL_WEBHOOK_URL"),
		EmailAuthToken:    stringFromEnv("EMAIL_AUTH_TOKEN"),
		AdminToken:        stringFromEnv("ADMIN_TOKEN"),

		ShutdownTimeout:    15 * time.Second,
		MonthlyWarnTokens:  200_000,
		MonthlyCapTokens:   300_000,
		HistoryTurns:       12,
		RecallLookbackDays: 180,
		RecallMaxSnippets:  3,
		RateInput:          2.5,
		RateOutput:         10,
		GuestSessionDays:   7,
		SessionDays:        7,
		CookieDays:         180,
		AdminMaxRows:       200_000,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	for _, field := range []struct {
		key string
		dst *int
	}{
		{"MONTHLY_WARN_TOKENS", &cfg.MonthlyWarnTokens},
		{"MONTHLY_CAP_TOKENS", &cfg.MonthlyCapTokens},
		{"HISTORY_TURNS", &cfg.HistoryTurns},
		{"RECALL_LOOKBACK_DAYS", &cfg.RecallLookbackDays},
		{"RECALL_MAX_SNIPPETS", &cfg.RecallMaxSnippets},
		{"GUEST_SESSION_DAYS", &cfg.GuestSessionDays},
		{"SESSION_DAYS", &cfg.SessionDays},
		{"COOKIE_DAYS", &cfg.CookieDays},
		{"ADMIN_MAX_ROWS", &cfg.AdminMaxRows},
	} {
		*field.dst, err = intFromEnv(field.key, *field.dst)
		if err != nil {
			return Config{}, err
		}
	}
	cfg.RateInput, err = floatFromEnv("RATE_INPUT", cfg.RateInput)
	if err != nil {
		return Config{}, err
	}
	cfg.RateOutput, err = floatFromEnv("RATE_OUTPUT", cfg.RateOutput)
	if err != nil {
		return Config{}, err
	}

	if cfg.MonthlyCapTokens <= 0 {
		return Config{}, fmt.Errorf("MONTHLY_CAP_TOKENS must be positive")
	}
	if cfg.MonthlyWarnTokens <= 0 {
		return Config{}, fmt.Errorf("MONTHLY_WARN_TOKENS must be positive")
	}
	if cfg.HistoryTurns <= 0 {
		return Config{}, fmt.Errorf("HISTORY_TURNS must be positive")
	}
	if cfg.RecallLookbackDays <= 0 {
		return Config{}, fmt.Errorf("RECALL_LOOKBACK_DAYS must be positive")
	}
	if cfg.RecallMaxSnippets <= 0 {
		return Config{}, fmt.Errorf("RECALL_MAX_SNIPPETS must be positive")
	}
	if cfg.GuestSessionDays <= 0 || cfg.SessionDays <= 0 {
		return Config{}, fmt.Errorf("session day settings must be positive")
	}
	if cfg.RateInput < 0 || cfg.RateOutput < 0 {
		return Config{}, fmt.Errorf("token rates must not be negative")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func stringFromEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringFromEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringFromEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringFromEnv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}
