package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/WessleyAI/issuescope/engine/ingest"
	"github.com/WessleyAI/issuescope/pkg/metrics"
)

func (a *app) workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume " + ingest.ImportSubject + " and import records until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.work(ctx)
		},
	}
}

func (a *app) work(ctx context.Context) error {
	nc, err := a.natsConn()
	if err != nil {
		return err
	}
	if nc == nil {
		return errors.New("worker: NATS_URL is required")
	}
	defer nc.Drain()

	vs, err := a.vectorStore()
	if err != nil {
		return err
	}
	defer vs.Close()
	if err := vs.EnsureCollection(ctx, a.cfg.EmbedDims); err != nil {
		return err
	}
	gs, err := a.graphStore(ctx)
	if err != nil {
		return err
	}
	if gs != nil {
		defer gs.Close(context.Background())
	}

	sub, err := ingest.StartConsumer(nc, a.ingestDeps(a.provider(), vs, gs, metrics.Default))
	if err != nil {
		return err
	}
	a.logger.Info("ingest worker started", "subject", ingest.ImportSubject, "queue", ingest.QueueGroup,
		"dlq", ingest.DLQSubject, "max_attempts", ingest.MaxAttempts)

	<-ctx.Done()
	a.logger.Info("ingest worker stopping")
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("worker: drain: %w", err)
	}
	return nil
}
