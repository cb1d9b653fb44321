// Package ingest provides the import pipeline that takes dataset rows through
// validation, embedding, urgency scoring and storage.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/nats-io/nats.go"

	"github.com/WessleyAI/issuescope/engine/domain"
	"github.com/WessleyAI/issuescope/engine/semantic"
	"github.com/WessleyAI/issuescope/pkg/fn"
	"github.com/WessleyAI/issuescope/pkg/llm"
	"github.com/WessleyAI/issuescope/pkg/metrics"
	"github.com/WessleyAI/issuescope/pkg/natsutil"
	"github.com/WessleyAI/issuescope/pkg/resilience"
)

const (
	// ImportSubject is the NATS subject for incoming import records.
	ImportSubject = "issues.import"
	// DLQSubject is the dead letter queue subject for failed records.
	DLQSubject = "issues.import.dlq"
	// QueueGroup load-balances records across workers.
	QueueGroup = "issuescope-ingest"
	// MaxAttempts before a record goes to the DLQ.
	MaxAttempts = 3
	// DefaultWorkers bounds inline concurrency.
	DefaultWorkers = 4
)

// Scorer rates an issue's urgency.
type Scorer interface {
	Score(ctx context.Context, issue domain.Issue) (string, error)
}

// VectorWriter stores embedded issues.
type VectorWriter interface {
	UpsertIssues(ctx context.Context, items []semantic.IssuePoint) error
}

// GraphWriter stores issues in the issue graph.
type GraphWriter interface {
	SaveIssue(ctx context.Context, issue domain.Issue) error
}

// Deps holds the external dependencies for the import pipeline.
type Deps struct {
	Embedder llm.Embedder
	Scorer   Scorer
	Vectors  VectorWriter
	Graph    GraphWriter // optional
	// Breaker, if set, guards the provider-backed embed and score stages.
	Breaker *resilience.Breaker
	Logger  *slog.Logger
	Metrics *metrics.Registry
}

func (d Deps) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

func (d Deps) registry() *metrics.Registry {
	if d.Metrics == nil {
		return metrics.Default
	}
	return d.Metrics
}

// --- Pipeline Stages ---

// Validate converts an import record into an Issue and checks it.
var Validate fn.Stage[domain.ImportRecord, domain.Issue] = func(_ context.Context, rec domain.ImportRecord) fn.Result[domain.Issue] {
	issue := rec.ToIssue()
	if err := domain.ValidateIssue(issue); err != nil {
		return fn.Err[domain.Issue](err)
	}
	return fn.Ok(issue)
}

// EmbedText is the text an issue is embedded from.
func EmbedText(issue domain.Issue) string {
	kind := "issue"
	if issue.Kind == domain.KindPullRequest {
		kind = "pull request"
	}
	return strings.TrimSpace(issue.Title) + "\n" + kind
}

// NewEmbed creates an Embed stage backed by e.
func NewEmbed(e llm.Embedder) fn.Stage[domain.Issue, semantic.IssuePoint] {
	return func(ctx context.Context, issue domain.Issue) fn.Result[semantic.IssuePoint] {
		vecs, err := e.Embed(ctx, []string{EmbedText(issue)})
		if err != nil {
			return fn.Err[semantic.IssuePoint](fmt.Errorf("embed %s: %w", issue.IssueID, err))
		}
		if len(vecs) != 1 || len(vecs[0]) == 0 {
			return fn.Err[semantic.IssuePoint](fmt.Errorf("embed %s: %w", issue.IssueID, llm.ErrEmptyResponse))
		}
		return fn.Ok(semantic.IssuePoint{Issue: issue, Embedding: vecs[0]})
	}
}

// NewScore creates a Score stage that fills in the urgency reply.
func NewScore(s Scorer) fn.Stage[semantic.IssuePoint, semantic.IssuePoint] {
	return func(ctx context.Context, p semantic.IssuePoint) fn.Result[semantic.IssuePoint] {
		reply, err := s.Score(ctx, p.Issue)
		if err != nil {
			return fn.Err[semantic.IssuePoint](err)
		}
		p.Issue.Urgency = reply
		return fn.Ok(p)
	}
}

// NewStore creates a Store stage that writes to Qdrant and, when configured,
// to the issue graph. It yields the stored issue id.
func NewStore(vs VectorWriter, gs GraphWriter, log *slog.Logger) fn.Stage[semantic.IssuePoint, string] {
	return func(ctx context.Context, p semantic.IssuePoint) fn.Result[string] {
		if err := vs.UpsertIssues(ctx, []semantic.IssuePoint{p}); err != nil {
			return fn.Err[string](fmt.Errorf("vector upsert: %w", err))
		}
		if gs != nil {
			// The vector store is authoritative; a graph failure only loses
			// related-issue links.
			if err := gs.SaveIssue(ctx, p.Issue); err != nil {
				log.Warn("ingest: graph save", "error", err, "issue_id", p.Issue.IssueID)
			}
		}
		return fn.Ok(p.Issue.IssueID)
	}
}

// NewPipeline constructs the full import pipeline with all stages wired.
func NewPipeline(deps Deps) fn.Stage[domain.ImportRecord, string] {
	log := deps.logger()

	embed := NewEmbed(deps.Embedder)
	score := NewScore(deps.Scorer)
	if deps.Breaker != nil {
		embed = resilience.Stage(deps.Breaker, embed)
		score = resilience.Stage(deps.Breaker, score)
	}

	// Compose: Validate → Embed → Score → Store
	validated := fn.Named("ingest.validate", log, Validate)
	embedded := fn.Then(validated, fn.Named("ingest.embed", log, embed))
	scored := fn.Then(embedded, fn.Named("ingest.score", log, score))
	return fn.Then(scored, fn.Named("ingest.store", log, NewStore(deps.Vectors, deps.Graph, log)))
}

// Failure describes a record the pipeline rejected.
type Failure struct {
	Index   int
	IssueID string
	Err     error
}

// Report summarizes an inline run.
type Report struct {
	Stored   []string
	Failures []Failure
}

// Progress is called as each record enters the pipeline. i is 1-based.
type Progress func(i, total int, rec domain.ImportRecord)

// Run pushes records through the pipeline inline with bounded concurrency.
// Results keep input order.
func Run(ctx context.Context, deps Deps, records []domain.ImportRecord, workers int, progress Progress) Report {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	pipeline := NewPipeline(deps)
	reg := deps.registry()

	var started atomic.Int64
	stage := func(ctx context.Context, rec domain.ImportRecord) fn.Result[string] {
		n := started.Add(1)
		if progress != nil {
			progress(int(n), len(records), rec)
		}
		return pipeline(ctx, rec)
	}

	results := fn.ParMap(ctx, records, workers, stage)
	var rep Report
	for i, r := range results {
		id, err := r.Unwrap()
		if err != nil {
			reg.Counter("issuescope_ingest_records_total", "Imported records by outcome.", "outcome", "failed").Inc()
			rep.Failures = append(rep.Failures, Failure{Index: i, IssueID: records[i].IssueID.String(), Err: err})
			continue
		}
		reg.Counter("issuescope_ingest_records_total", "Imported records by outcome.", "outcome", "stored").Inc()
		rep.Stored = append(rep.Stored, id)
	}
	return rep
}

// Publish sends records to ImportSubject for asynchronous processing.
func Publish(ctx context.Context, pub natsutil.Publisher, records []domain.ImportRecord) error {
	for _, rec := range records {
		if err := natsutil.Publish(ctx, pub, ImportSubject, rec); err != nil {
			return fmt.Errorf("ingest: publish %s: %w", rec.IssueID, err)
		}
	}
	return nil
}

// NewConsumer builds the NATS consumer that runs records through the pipeline
// with retry and DLQ support.
func NewConsumer(pub natsutil.Publisher, deps Deps) *natsutil.Consumer[domain.ImportRecord] {
	pipeline := NewPipeline(deps)
	log := deps.logger()
	reg := deps.registry()
	return natsutil.NewConsumer(pub, natsutil.RetryPolicy{MaxAttempts: MaxAttempts, DeadLetter: DLQSubject}, log,
		func(ctx context.Context, rec domain.ImportRecord) error {
			id, err := pipeline(ctx, rec).Unwrap()
			if err != nil {
				reg.Counter("issuescope_ingest_records_total", "Imported records by outcome.", "outcome", "failed").Inc()
				return err
			}
			reg.Counter("issuescope_ingest_records_total", "Imported records by outcome.", "outcome", "stored").Inc()
			log.Info("ingest: stored", "issue_id", id)
			return nil
		})
}

// StartConsumer subscribes the pipeline to ImportSubject within QueueGroup.
func StartConsumer(nc *nats.Conn, deps Deps) (*nats.Subscription, error) {
	sub, err := natsutil.QueueSubscribe(nc, ImportSubject, QueueGroup, NewConsumer(nc, deps))
	if err != nil {
		return nil, fmt.Errorf("ingest: subscribe %s: %w", ImportSubject, err)
	}
	return sub, nil
}
