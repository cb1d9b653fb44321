package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/WessleyAI/issuescope/engine/chat"
	"github.com/WessleyAI/issuescope/engine/ingest"
	"github.com/WessleyAI/issuescope/engine/projection"
	"github.com/WessleyAI/issuescope/engine/server"
	"github.com/WessleyAI/issuescope/pkg/metrics"
)

const shutdownTimeout = 10 * time.Second

func (a *app) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server (and the ingest consumer when NATS_URL is set)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	reg := metrics.Default
	provider := a.provider()

	// --- Qdrant ---
	vs, err := a.vectorStore()
	if err != nil {
		return err
	}
	defer vs.Close()
	if err := vs.EnsureCollection(ctx, a.cfg.EmbedDims); err != nil {
		return err
	}

	// --- Session store ---
	sessions, err := a.sessionStore(ctx)
	if err != nil {
		return err
	}
	defer sessions.Close()

	// --- Optional Neo4j and NATS ---
	gs, err := a.graphStore(ctx)
	if err != nil {
		return err
	}
	if gs != nil {
		defer gs.Close(context.Background())
	}
	nc, err := a.natsConn()
	if err != nil {
		return err
	}
	if nc != nil {
		defer nc.Drain()
	}

	coordinator := chat.NewCoordinator(vs, provider, sessions, chat.Config{
		Model:       a.cfg.ChatModel,
		Temperature: a.cfg.ChatTemperature,
		MaxHistory:  a.cfg.ChatMaxHistory,
	}, a.logger, reg)
	deps := server.Deps{
		Issues:  vs,
		Entries: vs,
		Search:  vs,
		Projector: projection.NewPipeline(projection.Options{
			Perplexity: a.cfg.ProjectionPerplexity,
			Seed:       a.cfg.ProjectionSeed,
		}, a.logger, reg),
		Chat:       coordinator,
		Sessions:   sessions,
		Checks:     healthChecks(vs, sessions, gs, nc),
		Metrics:    reg,
		Logger:     a.logger,
		CORSOrigin: a.cfg.CORSOrigin,
	}
	if gs != nil {
		deps.Related = gs
	}

	// Streaming chat replies and WebSockets rule out a write timeout.
	srv := &http.Server{
		Addr:              a.cfg.Addr(),
		Handler:           server.New(deps).Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("http server starting", "addr", srv.Addr, "llm_provider", a.cfg.LLMProvider,
			"session_store", a.cfg.SessionStore, "graph", gs != nil, "nats", nc != nil)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if nc != nil {
		g.Go(func() error {
			sub, err := ingest.StartConsumer(nc, a.ingestDeps(provider, vs, gs, reg))
			if err != nil {
				return err
			}
			a.logger.Info("ingest consumer started", "subject", ingest.ImportSubject, "queue", ingest.QueueGroup)
			<-gctx.Done()
			return sub.Unsubscribe()
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down")
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
	return g.Wait()
}
