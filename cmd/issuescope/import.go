package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/WessleyAI/issuescope/engine/domain"
	"github.com/WessleyAI/issuescope/engine/ingest"
	"github.com/WessleyAI/issuescope/pkg/metrics"
)

var (
	okText   = color.New(color.FgGreen).SprintFunc()
	warnText = color.New(color.FgYellow).SprintFunc()
	failText = color.New(color.FgRed).SprintFunc()
)

type importOptions struct {
	reset   bool
	publish bool
	workers int
}

func (a *app) importCmd() *cobra.Command {
	var opts importOptions
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Import a JSON or JSON Lines issue dataset",
		Long: "Validate each row against the import schema, then embed, score and store it inline,\n" +
			"or publish it to " + ingest.ImportSubject + " for the worker with --publish.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.runImport(ctx, args[0], opts)
		},
	}
	cmd.Flags().BoolVar(&opts.reset, "reset", false, "drop and recreate the collection (and issue graph) first")
	cmd.Flags().BoolVar(&opts.publish, "publish", false, "publish records to NATS instead of importing inline")
	cmd.Flags().IntVar(&opts.workers, "workers", ingest.DefaultWorkers, "concurrent records when importing inline")
	return cmd
}

func (a *app) runImport(ctx context.Context, path string, opts importOptions) error {
	records, rejected, err := ingest.ReadFile(path)
	if err != nil {
		return err
	}
	for _, r := range rejected {
		fmt.Fprintf(a.out, "%s row %d: %v\n", warnText("skipped"), r.Position, r.Err)
	}
	if len(records) == 0 {
		return errors.New("import: no valid records")
	}

	if opts.publish {
		// Check the broker before touching stored data.
		nc, err := a.natsConn()
		if err != nil {
			return err
		}
		if nc == nil {
			return errors.New("import: --publish requires NATS_URL")
		}
		defer nc.Close()
		if opts.reset {
			if err := a.reset(ctx); err != nil {
				return err
			}
		}
		if err := ingest.Publish(ctx, nc, records); err != nil {
			return err
		}
		if err := nc.FlushWithContext(ctx); err != nil {
			return fmt.Errorf("import: flush: %w", err)
		}
		fmt.Fprintf(a.out, "%s %d records to %s\n", okText("Published"), len(records), ingest.ImportSubject)
		return nil
	}

	if opts.reset {
		if err := a.reset(ctx); err != nil {
			return err
		}
	}

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

	deps := a.ingestDeps(a.provider(), vs, gs, metrics.Default)
	rep := ingest.Run(ctx, deps, records, opts.workers, func(i, total int, rec domain.ImportRecord) {
		kind := "issue"
		if rec.ToIssue().Kind == domain.KindPullRequest {
			kind = "pull request"
		}
		fmt.Fprintf(a.out, "Importing %s %d/%d: %s\n", kind, i, total, rec.Title)
	})

	for _, f := range rep.Failures {
		fmt.Fprintf(a.out, "%s issue %s: %v\n", failText("failed"), f.IssueID, f.Err)
	}
	fmt.Fprintf(a.out, "%s %d/%d records (%d rejected by schema, %d failed)\n",
		okText("Imported"), len(rep.Stored), len(records)+len(rejected), len(rejected), len(rep.Failures))
	if len(rep.Failures) > 0 {
		return fmt.Errorf("import: %d records failed", len(rep.Failures))
	}
	return nil
}

// reset drops the Qdrant collection and, when configured, the issue graph.
func (a *app) reset(ctx context.Context) error {
	vs, err := a.vectorStore()
	if err != nil {
		return err
	}
	defer vs.Close()
	if err := vs.DeleteCollection(ctx); err != nil {
		return err
	}
	if err := vs.EnsureCollection(ctx, a.cfg.EmbedDims); err != nil {
		return err
	}
	gs, err := a.graphStore(ctx)
	if err != nil {
		return err
	}
	if gs != nil {
		defer gs.Close(context.Background())
		if err := gs.Reset(ctx); err != nil {
			return err
		}
	}
	a.logger.Info("stores reset", "collection", vs.Collection())
	return nil
}
