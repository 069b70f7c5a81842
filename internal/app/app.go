// Package app wires storage, auth, billing and the assistant into one
// HTTP server and runs it until its context is canceled.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/launchkit-dev/launchkit/internal/api"
	"github.com/launchkit-dev/launchkit/internal/assistant"
	"github.com/launchkit-dev/launchkit/internal/auth"
	"github.com/launchkit-dev/launchkit/internal/billing"
	"github.com/launchkit-dev/launchkit/internal/breaker"
	"github.com/launchkit-dev/launchkit/internal/config"
	"github.com/launchkit-dev/launchkit/internal/processor"
	"github.com/launchkit-dev/launchkit/internal/store"
)

const shutdownTimeout = 30 * time.Second

// App is the launchkit server process.
type App struct {
	cfg    *config.Config
	store  store.Store
	api    *api.Server
	stop   context.CancelFunc
	logger *slog.Logger
}

// Options override collaborators, mainly for tests.
type Options struct {
	// Gateway replaces the Stripe gateway built from cfg.Billing.
	Gateway processor.Gateway
}

// New creates the application from configuration.
func New(cfg *config.Config, opts Options, logger *slog.Logger) (*App, error) {
	db, err := store.New(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	// Background work (JWKS refresh) lives until Run returns.
	bgCtx, stop := context.WithCancel(context.Background())
	fail := func(err error) (*App, error) {
		stop()
		_ = db.Close()
		return nil, err
	}

	authProvider, err := auth.NewProvider(bgCtx, cfg.Auth, db)
	if err != nil {
		return fail(fmt.Errorf("init auth provider: %w", err))
	}

	catalog, err := billing.NewCatalog(cfg.Billing.Prices())
	if err != nil {
		return fail(fmt.Errorf("init plan catalog: %w", err))
	}

	gw := opts.Gateway
	if gw == nil {
		gw = processor.NewStripeGateway(processor.StripeConfig{
			SecretKey:        cfg.Billing.StripeSecretKey,
			WebhookSecret:    cfg.Billing.StripeWebhookSecret,
			WebhookTolerance: cfg.Billing.WebhookTolerance.Duration,
			APIURL:           cfg.Billing.StripeAPIURL,
			Breaker:          breakerSettings("stripe", cfg.Billing.Breaker),
		}, logger)
	}

	deps := api.Deps{
		Store:   db,
		Auth:    authProvider,
		Billing: billing.NewService(db, gw, catalog, cfg.Server.AppURL, logger),
		Webhook: billing.NewWebhookHandler(db, gw, cfg.Billing.RejectStaleUpdates, logger),
	}
	if cfg.Assistant.APIKey != "" {
		llm := assistant.NewClient(assistant.ClientConfig{
			APIKey:    cfg.Assistant.APIKey,
			BaseURL:   cfg.Assistant.BaseURL,
			Model:     cfg.Assistant.Model,
			MaxTokens: cfg.Assistant.MaxTokens,
			Timeout:   cfg.Assistant.Timeout.Duration,
			Breaker:   breakerSettings("assistant", cfg.Assistant.Breaker),
		}, logger)
		deps.Assistant = assistant.NewService(llm, db, logger)
	} else {
		logger.Info("assistant disabled (no API key configured)")
	}

	a := &App{
		cfg:    cfg,
		store:  db,
		api:    api.NewServer(deps, cfg, logger),
		stop:   stop,
		logger: logger.With("component", "app"),
	}

	for _, origin := range cfg.Server.AllowedOrigins {
		if origin == "*" {
			logger.Warn("CORS allowed_origins contains wildcard '*', restrict to specific origins in production")
			break
		}
	}
	if strings.HasPrefix(cfg.Billing.StripeSecretKey, "sk_test_") {
		logger.Info("stripe running in test mode")
	}

	return a, nil
}

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler {
	return a.api.Handler()
}

// Run starts the HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	defer a.stop()

	srv := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           a.api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("launchkit listening", "addr", a.cfg.Server.Addr, "app_url", a.cfg.Server.AppURL)
		if a.cfg.Server.TLSCert != "" && a.cfg.Server.TLSKey != "" {
			errCh <- srv.ListenAndServeTLS(a.cfg.Server.TLSCert, a.cfg.Server.TLSKey)
		} else {
			errCh <- srv.ListenAndServe()
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutting down gracefully")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("graceful shutdown failed, forcing close", "error", err)
			_ = srv.Close()
		} else {
			a.logger.Info("http server stopped gracefully")
		}

		_ = a.store.Close()
		a.logger.Info("shutdown complete")
		return ctx.Err()

	case err := <-errCh:
		_ = a.store.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func breakerSettings(name string, c config.BreakerConfig) breaker.Settings {
	return breaker.Settings{
		Name:             name,
		FailureThreshold: c.FailureThreshold,
		MaxRequests:      c.MaxRequests,
		Interval:         c.Interval.Duration,
		Timeout:          c.Timeout.Duration,
	}
}
