package main

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/WessleyAI/issuescope/engine/chat"
	"github.com/WessleyAI/issuescope/engine/graph"
	"github.com/WessleyAI/issuescope/engine/ingest"
	"github.com/WessleyAI/issuescope/engine/semantic"
	"github.com/WessleyAI/issuescope/engine/server"
	"github.com/WessleyAI/issuescope/engine/urgency"
	"github.com/WessleyAI/issuescope/pkg/llm"
	"github.com/WessleyAI/issuescope/pkg/metrics"
	"github.com/WessleyAI/issuescope/pkg/ollama"
	"github.com/WessleyAI/issuescope/pkg/openai"
	"github.com/WessleyAI/issuescope/pkg/resilience"
)

func (a *app) provider() llm.Provider {
	if a.cfg.LLMProvider == "ollama" {
		return ollama.New(a.cfg.OllamaURL, a.cfg.EmbedModel)
	}
	return openai.New(a.cfg.OpenAIBaseURL, a.cfg.OpenAIAPIKey, a.cfg.EmbedModel)
}

func (a *app) vectorStore() (*semantic.VectorStore, error) {
	return semantic.New(a.cfg.QdrantURL, a.cfg.QdrantCollection, semantic.Options{
		APIKey: a.cfg.QdrantAPIKey,
		TLS:    a.cfg.QdrantTLS,
	})
}

func (a *app) sessionStore(ctx context.Context) (chat.Store, error) {
	switch a.cfg.SessionStore {
	case "redis":
		return chat.NewRedisStore(ctx, a.cfg.RedisAddr, a.cfg.SessionTTL)
	case "sqlite":
		return chat.NewSQLiteStore(a.cfg.SQLitePath, a.cfg.SessionTTL)
	default:
		return chat.NewMemoryStore(a.cfg.SessionTTL), nil
	}
}

// graphStore connects to Neo4j, or returns nil when NEO4J_URL is unset.
func (a *app) graphStore(ctx context.Context) (*graph.Store, error) {
	if a.cfg.Neo4jURL == "" {
		return nil, nil
	}
	gs, err := graph.Connect(ctx, a.cfg.Neo4jURL, a.cfg.Neo4jUser, a.cfg.Neo4jPass, a.logger)
	if err != nil {
		return nil, err
	}
	if err := gs.EnsureSchema(ctx); err != nil {
		gs.Close(ctx)
		return nil, err
	}
	return gs, nil
}

// natsConn connects to NATS, or returns nil when NATS_URL is unset.
func (a *app) natsConn() (*nats.Conn, error) {
	if a.cfg.NATSURL == "" {
		return nil, nil
	}
	nc, err := nats.Connect(a.cfg.NATSURL,
		nats.Name("issuescope"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				a.logger.Warn("nats disconnected", "err", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			a.logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", a.cfg.NATSURL, err)
	}
	return nc, nil
}

// ingestDeps builds the import pipeline collaborators. gs may be nil.
func (a *app) ingestDeps(p llm.Provider, vs *semantic.VectorStore, gs *graph.Store, reg *metrics.Registry) ingest.Deps {
	deps := ingest.Deps{
		Embedder: p,
		Scorer:   urgency.New(p, a.cfg.ChatModel, a.cfg.UrgencyRate, a.logger),
		Vectors:  vs,
		Breaker:  a.providerBreaker(reg),
		Logger:   a.logger,
		Metrics:  reg,
	}
	if gs != nil {
		deps.Graph = gs
	}
	return deps
}

type pinger interface {
	Ping(ctx context.Context) error
}

// healthChecks lists the reachable dependencies /api/health reports on.
func healthChecks(vs *semantic.VectorStore, sessions chat.Store, gs *graph.Store, nc *nats.Conn) map[string]server.Check {
	checks := map[string]server.Check{"qdrant": vs.Ping}
	if p, ok := sessions.(pinger); ok {
		checks["sessions"] = p.Ping
	}
	if gs != nil {
		checks["neo4j"] = gs.Ping
	}
	if nc != nil {
		checks["nats"] = func(context.Context) error {
			if !nc.IsConnected() {
				return fmt.Errorf("nats: %s", nc.Status())
			}
			return nil
		}
	}
	return checks
}

// providerBreaker stops an import from calling a provider that keeps failing.
func (a *app) providerBreaker(reg *metrics.Registry) *resilience.Breaker {
	open := reg.Gauge("issuescope_provider_breaker_open", "1 while the LLM provider breaker rejects calls.")
	return resilience.New(resilience.Options{
		OnChange: func(from, to resilience.State) {
			if to == resilience.Open {
				open.Set(1)
			} else {
				open.Set(0)
			}
			a.logger.Warn("llm provider breaker", "provider", a.cfg.LLMProvider, "from", from.String(), "to", to.String())
		},
	})
}
