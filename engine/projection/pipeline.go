package projection

import (
	"context"
	"log/slog"
	"time"

	"github.com/WessleyAI/issuescope/engine/domain"
	"github.com/WessleyAI/issuescope/pkg/fn"
	"github.com/WessleyAI/issuescope/pkg/metrics"
)

// Result is the assembled graph plus the normalization diagnostics.
type Result struct {
	Graph            GraphData
	Excluded         []Exclusion
	DefaultedUrgency int
}

// Pipeline runs Normalize → Project → Assemble for a batch of entries.
type Pipeline struct {
	opts    Options
	logger  *slog.Logger
	metrics *metrics.Registry
}

// NewPipeline creates a Pipeline. A nil logger uses slog.Default; a nil
// registry uses metrics.Default.
func NewPipeline(opts Options, logger *slog.Logger, reg *metrics.Registry) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if reg == nil {
		reg = metrics.Default
	}
	return &Pipeline{opts: opts, logger: logger, metrics: reg}
}

// Run projects entries. Exclusions and defaulted urgencies are logged and
// counted but never fail the run.
func (p *Pipeline) Run(ctx context.Context, entries []Entry) (Result, error) {
	start := time.Now()

	norm := p.normalize(ctx, entries)
	stage := fn.Then(
		fn.Named("projection.tsne", p.logger, fn.PairStage(func(ctx context.Context, recs []Record) (Projection, error) {
			data := make([][]float64, len(recs))
			for i, r := range recs {
				data[i] = r.Embedding
			}
			return Project(ctx, data, p.opts)
		})),
		fn.Named("projection.assemble", p.logger, fn.PairStage(func(_ context.Context, proj Projection) (GraphData, error) {
			return Assemble(norm.Records, proj)
		})),
	)
	graph, err := stage(ctx, norm.Records).Unwrap()
	if err != nil {
		return Result{}, err
	}

	p.metrics.Histogram("issuescope_projection_seconds", "Time spent building graph data.", nil).Since(start)
	if graph.Insufficient {
		p.logger.Warn("projection skipped: not enough valid vectors", "valid", len(norm.Records), "excluded", len(norm.Excluded))
	} else {
		p.logger.Info("projection built", "points", len(graph.Points), "excluded", len(norm.Excluded),
			"defaulted_urgency", norm.DefaultedUrgency, "duration", time.Since(start))
	}
	return Result{Graph: graph, Excluded: norm.Excluded, DefaultedUrgency: norm.DefaultedUrgency}, nil
}

func (p *Pipeline) normalize(ctx context.Context, entries []Entry) Normalized {
	norm := Normalize(entries)
	for _, ex := range norm.Excluded {
		p.logger.WarnContext(ctx, "record excluded", "index", ex.Index, "issue_id", ex.ID, "reason", ex.Reason)
	}
	p.metrics.Counter("issuescope_records_excluded_total", "Records dropped before projection.").Add(int64(len(norm.Excluded)))
	if norm.DefaultedUrgency > 0 {
		p.logger.InfoContext(ctx, "urgency defaulted", "count", norm.DefaultedUrgency, "default", int(domain.DefaultUrgency))
		p.metrics.Counter("issuescope_urgency_defaulted_total", "Records whose urgency fell back to the default.").Add(int64(norm.DefaultedUrgency))
	}
	return norm
}
