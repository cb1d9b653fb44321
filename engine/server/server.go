// Package server exposes the visualization, issue pages, chat channel and
// search over HTTP.
package server

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/WessleyAI/issuescope/engine/chat"
	"github.com/WessleyAI/issuescope/engine/domain"
	"github.com/WessleyAI/issuescope/engine/graph"
	"github.com/WessleyAI/issuescope/engine/projection"
	"github.com/WessleyAI/issuescope/engine/semantic"
	"github.com/WessleyAI/issuescope/pkg/llm"
	"github.com/WessleyAI/issuescope/pkg/metrics"
	"github.com/WessleyAI/issuescope/pkg/mid"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 100
	relatedLimit       = 5
	healthTimeout      = 2 * time.Second
)

// IssueFinder looks up a single stored issue.
type IssueFinder interface {
	FindIssue(ctx context.Context, issueID string) (domain.Issue, error)
}

// EntrySource returns every stored record for projection.
type EntrySource interface {
	FetchAll(ctx context.Context) ([]projection.Entry, error)
}

// Searcher runs keyword search.
type Searcher interface {
	KeywordSearch(ctx context.Context, query string, fields []string, limit int) ([]semantic.SearchHit, error)
}

// RelatedFinder lists issues linked to another.
type RelatedFinder interface {
	Related(ctx context.Context, issueID string, limit int) ([]graph.RelatedIssue, error)
}

// Projector turns stored records into graph data.
type Projector interface {
	Run(ctx context.Context, entries []projection.Entry) (projection.Result, error)
}

// ChatServer runs one chat connection.
type ChatServer interface {
	Serve(ctx context.Context, issueID string, conn chat.Conn) error
}

// Check reports whether a dependency is healthy.
type Check func(ctx context.Context) error

// Deps holds the collaborators behind each route. Related and Checks are
// optional.
type Deps struct {
	Issues     IssueFinder
	Entries    EntrySource
	Search     Searcher
	Related    RelatedFinder
	Projector  Projector
	Chat       ChatServer
	Sessions   chat.Store
	Checks     map[string]Check
	Metrics    *metrics.Registry
	Logger     *slog.Logger
	CORSOrigin string
}

// Server routes HTTP requests to the engine.
type Server struct {
	deps   Deps
	logger *slog.Logger
	reg    *metrics.Registry
	ws     wsUpgrader
}

// New creates a Server.
func New(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reg := deps.Metrics
	if reg == nil {
		reg = metrics.Default
	}
	if deps.CORSOrigin == "" {
		deps.CORSOrigin = "*"
	}
	return &Server{deps: deps, logger: logger, reg: reg, ws: newUpgrader(deps.CORSOrigin)}
}

// Handler returns the routed handler wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /graph-data", s.handleGraphData)
	mux.HandleFunc("GET /issue/{id}", s.handleIssue)
	mux.HandleFunc("GET /chat-history/{id}", s.handleChatHistory)
	mux.HandleFunc("GET /ws/{id}", s.handleWS)
	mux.HandleFunc("GET /search", s.handleSearch)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.Handle("GET /metrics", s.reg.Handler())

	// OTel sits outside Metrics: it replaces the request, and Metrics reads
	// the route pattern the mux stores on it.
	return mid.Chain(mux,
		mid.OTel("issuescope"),
		mid.Recover(s.logger),
		mid.Logger(s.logger),
		mid.Metrics(s.reg),
		mid.CORS(s.deps.CORSOrigin),
	)
}

// --- Handlers ---

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.render(w, "index.html", nil)
}

func (s *Server) handleGraphData(w http.ResponseWriter, r *http.Request) {
	entries, err := s.deps.Entries.FetchAll(r.Context())
	if err != nil {
		s.logger.Error("fetch records failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorBody("vector store unavailable"))
		return
	}
	res, err := s.deps.Projector.Run(r.Context(), entries)
	if err != nil {
		s.logger.Error("projection failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorBody(err.Error()))
		return
	}
	w.Header().Set("X-Excluded-Records", strconv.Itoa(len(res.Excluded)))
	writeJSON(w, http.StatusOK, res.Graph)
}

type issueView struct {
	Issue   domain.Issue
	Urgency domain.Urgency
	Color   domain.Color
	Related []graph.RelatedIssue
}

func (s *Server) handleIssue(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	issue, err := s.deps.Issues.FindIssue(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		http.Error(w, "Issue not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("issue lookup failed", "issue_id", id, "err", err)
		http.Error(w, "Failed to load issue", http.StatusInternalServerError)
		return
	}

	view := issueView{Issue: issue, Urgency: issue.UrgencyLevel(), Color: issue.UrgencyLevel().Color()}
	if s.deps.Related != nil {
		related, err := s.deps.Related.Related(r.Context(), id, relatedLimit)
		if err != nil {
			s.logger.Warn("related issues unavailable", "issue_id", id, "err", err)
		}
		view.Related = related
	}
	s.render(w, "issue.html", view)
}

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	msgs, err := s.deps.Sessions.Load(r.Context(), id)
	if err != nil {
		s.logger.Error("load transcript failed", "issue_id", id, "err", err)
		writeJSON(w, http.StatusInternalServerError, errorBody("session store unavailable"))
		return
	}
	if msgs == nil {
		msgs = []llm.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

var searchable = map[string]bool{"title": true, "body": true}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("q is required"))
		return
	}
	fields := semantic.SearchFields
	if raw := r.URL.Query().Get("fields"); raw != "" {
		fields = nil
		for _, f := range strings.Split(raw, ",") {
			f = strings.TrimSpace(f)
			if !searchable[f] {
				writeJSON(w, http.StatusBadRequest, errorBody("unknown field "+strconv.Quote(f)))
				return
			}
			fields = append(fields, f)
		}
	}
	limit := defaultSearchLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, errorBody("limit must be a positive integer"))
			return
		}
		limit = min(n, maxSearchLimit)
	}

	hits, err := s.deps.Search.KeywordSearch(r.Context(), q, fields, limit)
	if err != nil {
		s.logger.Error("search failed", "q", q, "err", err)
		writeJSON(w, http.StatusInternalServerError, errorBody("search unavailable"))
		return
	}
	writeJSON(w, http.StatusOK, hits)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	checks := make(map[string]string, len(s.deps.Checks))
	for name, check := range s.deps.Checks {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		err := check(ctx)
		cancel()
		if err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	body := map[string]any{"status": "ok", "checks": checks}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	writeJSON(w, status, body)
}

// --- helpers ---

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		s.logger.Error("render template", "template", name, "err", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	buf.WriteTo(w)
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
