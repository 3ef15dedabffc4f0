package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"vitafit/internal/auth"
	"vitafit/internal/bot"
	"vitafit/internal/llm"
	"vitafit/internal/metrics"
	"vitafit/internal/payment"
	"vitafit/internal/pipeline"
	"vitafit/internal/server"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and, when enabled, the Telegram bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	cfg, l, err := setup()
	if err != nil {
		return err
	}
	defer l.Sync()
	l.Infow("Starting VitaFit...", "provider", cfg.LLM.Provider, "model", cfg.LLM.Model, "db", cfg.DB.Driver)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := connect(ctx, cfg.DB, l)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	invoker, err := llm.New(ctx, cfg.LLM)
	if err != nil {
		return fmt.Errorf("failed to create model client: %w", err)
	}

	m := metrics.New()
	gen := pipeline.New(invoker, store, store, store, l,
		pipeline.WithConfig(cfg.Pipeline),
		pipeline.WithTimeout(cfg.LLM.Timeout),
		pipeline.WithRecorder(m),
	)

	stripeClient := payment.NewStripeClient(cfg.Stripe)
	if !stripeClient.CheckoutEnabled() {
		l.Warnw("Stripe configuration is incomplete, premium checkout is disabled")
	}
	if cfg.Auth.JWTSecret == "" {
		l.Warnw("JWT secret is not configured, authenticated endpoints will reject every request")
	}

	handler := server.NewHandler(server.Deps{
		Generator:      gen,
		Store:          store,
		Billing:        stripeClient,
		Auth:           auth.New([]byte(cfg.Auth.JWTSecret)),
		Metrics:        m,
		Logger:         l,
		HistoryLimit:   cfg.Pipeline.HistoryLimit,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})
	httpServer := server.NewServer(cfg.Server, handler, l)

	var telegramBot *bot.TelegramBot
	if cfg.Telegram.Enabled {
		if cfg.Telegram.Token == "" {
			return errors.New("telegram is enabled but no token is configured")
		}
		telegramBot, err = bot.NewTelegramBot(cfg.Telegram, l)
		if err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return httpServer.Stop(shutdownCtx)
	})
	if telegramBot != nil {
		h := bot.NewHandler(telegramBot.API(), gen, store, cfg.Pipeline.HistoryLimit, l,
			bot.WithSessionTTL(cfg.Telegram.SessionTTL))
		g.Go(func() error {
			return telegramBot.Run(gctx, h)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	l.Infow("VitaFit stopped")
	return nil
}
