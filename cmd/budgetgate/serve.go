package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Veraticus/budgetgate/internal/api"
	"github.com/Veraticus/budgetgate/internal/events"
	"github.com/Veraticus/budgetgate/internal/service"
)

const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the suggestion consumer",
		Long: `Serve the budgetgate HTTP API. When amqp.url is configured, classifier
suggestion batches are consumed from the broker and resolution and metrics
invalidation events are published to it.`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	var (
		broker    *events.Client
		publisher service.EventPublisher
	)
	if cfg.AMQP.Enabled() {
		client, err := events.NewClient(cfg.AMQP.URL, cfg.AMQP.Exchange, cfg.AMQP.SuggestionsQueue)
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()
		broker, publisher = client, client
	} else {
		slog.Info("AMQP disabled - no amqp.url configured")
	}

	app, err := newApplication(ctx, publisher)
	if err != nil {
		return err
	}
	defer app.Close()

	if broker != nil {
		app.computer.OnInvalidate(events.InvalidationPublisher(broker))
	}

	server := api.NewServer(app.services, api.Config{
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Starting HTTP server",
			"addr", cfg.Server.Addr,
			"preview_policy", cfg.Validation.PreviewPolicy)
		return server.Listen(cfg.Server.Addr)
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		slog.Info("Shutting down HTTP server")
		return server.Shutdown(shutdownCtx)
	})

	if broker != nil {
		g.Go(func() error {
			slog.Info("Consuming suggestion batches", "queue", cfg.AMQP.SuggestionsQueue)
			return broker.ConsumeWithReconnect(gctx, events.NewSuggestionHandler(app.services.Conflicts))
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	slog.Info("budgetgate stopped")
	return nil
}
