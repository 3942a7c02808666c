// Command server runs the document intake service: public submission
// endpoints, the operator admin API, and the scratch-storage sweeper.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sportello/internal/archive"
	"sportello/internal/botcheck"
	"sportello/internal/chunkstore"
	"sportello/internal/emailcheck"
	"sportello/internal/notify"
	"sportello/internal/platform/config"
	"sportello/internal/platform/database"
	"sportello/internal/platform/httpserver"
	"sportello/internal/platform/logger"
	"sportello/internal/platform/metrics"
	"sportello/internal/submission"
	"sportello/internal/submission/handler"
	"sportello/pkg/captoken"
	"sportello/pkg/httputil"
)

func main() {
	// Optional .env for local development; real deployments set the
	// environment directly.
	_ = godotenv.Load()

	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	if err := run(cfg, log); err != nil {
		log.Error("server exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	store, cleanup, err := buildStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	mailer := buildMailer(cfg, log)
	notifier := notify.NewNotifier(cfg, mailer, log)

	controller, err := archive.NewController(cfg, notifier, log)
	if err != nil {
		return err
	}

	chunks, err := chunkstore.New(cfg.ScratchDir, log)
	if err != nil {
		return err
	}
	sweeper := chunkstore.NewSweeper(chunks, cfg.SessionMaxAge, cfg.SweepInterval, m, log)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	tokens, err := captoken.New([]byte(cfg.DownloadTokenKey), cfg.DownloadTokenTTL)
	if err != nil {
		return err
	}

	opts := []submission.ServiceOption{}
	if cfg.BotCheckEnabled() {
		opts = append(opts, submission.WithBotVerifier(
			botcheck.New(cfg.RecaptchaVerifyURL, cfg.RecaptchaSecretKey, log)))
	} else {
		log.Warn("anti-bot verification disabled, no keys configured")
	}

	service := submission.NewService(store, chunks, controller,
		emailcheck.New(nil), tokens, notifier, m, log, opts...)

	router := chi.NewRouter()
	handler.New(service, store, chunks, controller, tokens, m, log, cfg).Register(router)
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	router.Handle("/metrics", promhttp.Handler())

	srv := httpserver.New(cfg.Addr, router)

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", slog.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// buildStore selects postgres when a DSN is configured, falling back to
// the in-memory store for development.
func buildStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (submission.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		log.Warn("no database configured, submissions are held in memory")
		return submission.NewInMemoryStore(), func() {}, nil
	}

	db, err := database.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	store := submission.NewPostgresStore(db)
	if err := store.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	return store, func() { db.Close() }, nil
}

func buildMailer(cfg *config.Config, log *slog.Logger) notify.Mailer {
	if cfg.SMTPAddr == "" || cfg.SMTPFrom == "" {
		return notify.NewLogMailer(log)
	}
	return notify.NewSMTPMailer(cfg)
}
