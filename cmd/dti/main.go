package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DavidPainting/dti-characters/internal/chat"
	"github.com/DavidPainting/dti-characters/internal/completion"
	"github.com/DavidPainting/dti-characters/internal/config"
	"github.com/DavidPainting/dti-characters/internal/httpapi"
	"github.com/DavidPainting/dti-characters/internal/identity"
	"github.com/DavidPainting/dti-characters/internal/notify"
	"github.com/DavidPainting/dti-characters/internal/observability"
	"github.com/DavidPainting/dti-characters/internal/persona"
	"github.com/DavidPainting/dti-characters/internal/recall"
	"github.com/DavidPainting/dti-characters/internal/store"
	"github.com/DavidPainting/dti-characters/internal/usage"
)

func main() {
	log := observability.NewLogger("dti")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config error")
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	st, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("store init failed")
	}
	defer st.Close()
	if cfg.DatabaseURL == "" {
		log.Warn().Msg("DATABASE_URL not set; using in-memory store")
	}

	client, err := completion.NewClient(completion.Config{
		Mode:    cfg.CompletionMode,
		BaseURL: cfg.CompletionBaseURL,
		APIKey:  cfg.CompletionAPIKey,
		Model:   cfg.CompletionModel,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("completion client init failed")
	}

	mailer, err := notify.NewSender(notify.Config{
		Backend:    cfg.EmailBackend,
		From:       cfg.EmailFrom,
		WebhookURL: cfg.EmailWebhookURL,
		AuthToken:  cfg.EmailAuthToken,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("mail sender init failed")
	}

	signer := identity.NewSigner(cfg.SecretKey)
	resolver := identity.NewResolver(
		st, signer,
		time.Duration(cfg.GuestSessionDays)*24*time.Hour,
		time.Duration(cfg.SessionDays)*24*time.Hour,
		log,
	)

	prompts := persona.NewLoader(".", cfg.PromptsDir, cfg.CharactersDir)
	recaller := recall.NewEngine(st)

	svc := chat.NewService(chat.Config{
		MonthlyWarnTokens:  cfg.MonthlyWarnTokens,
		MonthlyCapTokens:   cfg.MonthlyCapTokens,
		HistoryTurns:       cfg.HistoryTurns,
		RecallLookbackDays: cfg.RecallLookbackDays,
		RecallMaxSnippets:  cfg.RecallMaxSnippets,
		Rates:              usage.RatesPerMillion(cfg.RateInput, cfg.RateOutput),
		FeedbackURL:        cfg.FeedbackURL,
	}, st, client, prompts, recaller, metrics, log)

	api := httpapi.New(cfg, st, resolver, signer, svc, mailer, metrics, log)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		log.Info().Str("addr", cfg.BindAddr).Msg("server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen error")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
		_ = httpServer.Close()
	}

	log.Info().Msg("shutdown complete")
}
