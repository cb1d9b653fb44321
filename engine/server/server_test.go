package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/WessleyAI/issuescope/engine/chat"
	"github.com/WessleyAI/issuescope/engine/domain"
	"github.com/WessleyAI/issuescope/engine/graph"
	"github.com/WessleyAI/issuescope/engine/projection"
	"github.com/WessleyAI/issuescope/engine/semantic"
	"github.com/WessleyAI/issuescope/pkg/llm"
	"github.com/WessleyAI/issuescope/pkg/metrics"
)

// --- mocks ---

type fakeIssues struct {
	issue domain.Issue
	err   error
}

func (f fakeIssues) FindIssue(_ context.Context, id string) (domain.Issue, error) {
	if f.err != nil {
		return domain.Issue{}, f.err
	}
	if id != f.issue.IssueID {
		return domain.Issue{}, &domain.NotFoundError{Entity: "issue", ID: id}
	}
	return f.issue, nil
}

type fakeEntries struct {
	entries []projection.Entry
	err     error
}

func (f fakeEntries) FetchAll(context.Context) ([]projection.Entry, error) { return f.entries, f.err }

type fakeSearch struct {
	q      string
	fields []string
	limit  int
	err    error
}

func (f *fakeSearch) KeywordSearch(_ context.Context, q string, fields []string, limit int) ([]semantic.SearchHit, error) {
	f.q, f.fields, f.limit = q, fields, limit
	if f.err != nil {
		return nil, f.err
	}
	return []semantic.SearchHit{{Issue: domain.Issue{IssueID: "1", Title: "crash"}, Score: 1.5}}, nil
}

type fakeRelated struct {
	items []graph.RelatedIssue
	err   error
}

func (f fakeRelated) Related(context.Context, string, int) ([]graph.RelatedIssue, error) {
	return f.items, f.err
}

type fakeChat struct{}

// Serve echoes each message back in upper case.
func (fakeChat) Serve(ctx context.Context, issueID string, conn chat.Conn) error {
	if err := conn.WriteMessage(ctx, "hello "+issueID); err != nil {
		return err
	}
	for {
		msg, err := conn.ReadMessage(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := conn.WriteMessage(ctx, strings.ToUpper(msg)); err != nil {
			return err
		}
	}
}

// stallingChatter streams one fragment, then blocks until its context ends.
type stallingChatter struct {
	stopped chan struct{}
}

func (c stallingChatter) ChatStream(ctx context.Context, _ llm.ChatRequest) (llm.Stream, error) {
	return &stallingStream{ctx: ctx, stopped: c.stopped}, nil
}

type stallingStream struct {
	ctx     context.Context
	sent    bool
	stopped chan struct{}
}

func (s *stallingStream) Recv() (string, bool, error) {
	if !s.sent {
		s.sent = true
		return "first", false, nil
	}
	<-s.ctx.Done()
	close(s.stopped)
	return "", false, s.ctx.Err()
}

func (s *stallingStream) Close() error { return nil }

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func entry(id string, urgency any, vec []any) projection.Entry {
	return projection.Entry{
		Properties: map[string]any{"issue_id": id, "title": "t" + id, "type": "issue", "urgency": urgency},
		Vectors:    map[string]any{"default": vec},
	}
}

func testDeps() Deps {
	return Deps{
		Issues: fakeIssues{issue: domain.Issue{
			IssueID: "42", Title: "Crash <on> start", Body: "trace", Urgency: "4",
			Kind: domain.KindIssue, Labels: []string{"bug"},
		}},
		Entries: fakeEntries{entries: []projection.Entry{
			entry("1", "1", []any{0.0, 1.0, 2.0}),
			entry("2", "4", []any{1.0, 0.0, 2.0}),
			entry("3", nil, []any{2.0, 1.0, 0.0}),
			entry("4", "2", nil),
		}},
		Search:    &fakeSearch{},
		Related:   fakeRelated{items: []graph.RelatedIssue{{ID: "7", Title: "same crash", Via: []string{"bug"}}}},
		Projector: projection.NewPipeline(projection.Options{Iterations: 50}, quiet(), metrics.New()),
		Chat:      fakeChat{},
		Sessions:  chat.NewMemoryStore(time.Hour),
		Metrics:   metrics.New(),
		Logger:    quiet(),
	}
}

func do(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

// --- tests ---

func TestIndex(t *testing.T) {
	rec := do(t, New(testDeps()).Handler(), "/")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "/graph-data") {
		t.Fatal("index should load graph data")
	}
	if rec := do(t, New(testDeps()).Handler(), "/nope"); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown path status = %d", rec.Code)
	}
}

func TestGraphData(t *testing.T) {
	rec := do(t, New(testDeps()).Handler(), "/graph-data")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	if got := rec.Header().Get("X-Excluded-Records"); got != "1" {
		t.Fatalf("X-Excluded-Records = %q", got)
	}
	var points []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &points); err != nil {
		t.Fatalf("decode: %v: %s", err, rec.Body)
	}
	if len(points) != 3 {
		t.Fatalf("expected 3 points, got %d", len(points))
	}
	if points[0]["id"] != "1" || points[0]["color"] != "green" || points[1]["color"] != "red" || points[2]["color"] != "yellow" {
		t.Fatalf("unexpected points %+v", points)
	}
}

func TestGraphData_Insufficient(t *testing.T) {
	deps := testDeps()
	deps.Entries = fakeEntries{entries: []projection.Entry{entry("1", "1", []any{1.0, 2.0})}}
	rec := do(t, New(deps).Handler(), "/graph-data")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["error"] != projection.InsufficientDataMessage {
		t.Fatalf("body = %v", body)
	}
}

func TestGraphData_Errors(t *testing.T) {
	deps := testDeps()
	deps.Entries = fakeEntries{err: errors.New("qdrant down")}
	if rec := do(t, New(deps).Handler(), "/graph-data"); rec.Code != http.StatusInternalServerError {
		t.Fatalf("upstream failure status = %d", rec.Code)
	}

	deps = testDeps()
	deps.Entries = fakeEntries{entries: []projection.Entry{
		entry("1", "1", []any{1.0, 2.0}),
		entry("2", "1", []any{1.0, 2.0, 3.0}),
	}}
	rec := do(t, New(deps).Handler(), "/graph-data")
	if rec.Code != http.StatusInternalServerError || !strings.Contains(rec.Body.String(), "dimension") {
		t.Fatalf("mismatch: %d %s", rec.Code, rec.Body)
	}
}

func TestIssuePage(t *testing.T) {
	rec := do(t, New(testDeps()).Handler(), "/issue/42")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"Crash &lt;on&gt; start", `data-issue-id="42"`, "badge red", `href="/issue/7"`} {
		if !strings.Contains(body, want) {
			t.Errorf("page missing %q", want)
		}
	}
}

func TestIssuePage_NotFoundAndUpstream(t *testing.T) {
	if rec := do(t, New(testDeps()).Handler(), "/issue/999"); rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	deps := testDeps()
	deps.Issues = fakeIssues{err: errors.New("qdrant down")}
	if rec := do(t, New(deps).Handler(), "/issue/42"); rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestIssuePage_RelatedFailureStillRenders(t *testing.T) {
	deps := testDeps()
	deps.Related = fakeRelated{err: errors.New("neo4j down")}
	rec := do(t, New(deps).Handler(), "/issue/42")
	if rec.Code != http.StatusOK || strings.Contains(rec.Body.String(), "Related issues") {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestChatHistory(t *testing.T) {
	deps := testDeps()
	store := chat.NewMemoryStore(time.Hour)
	store.Save(context.Background(), "42", []llm.Message{{Role: llm.RoleUser, Content: "hi"}})
	deps.Sessions = store
	h := New(deps).Handler()

	rec := do(t, h, "/chat-history/42")
	var msgs []llm.Message
	if err := json.Unmarshal(rec.Body.Bytes(), &msgs); err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Content != "hi" {
		t.Fatalf("msgs = %+v", msgs)
	}

	rec = do(t, h, "/chat-history/nobody")
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("expected empty list, got %s", rec.Body)
	}
}

func TestSearch(t *testing.T) {
	deps := testDeps()
	search := &fakeSearch{}
	deps.Search = search
	h := New(deps).Handler()

	rec := do(t, h, "/search?q=crash+start&fields=title&limit=500")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if search.q != "crash start" || len(search.fields) != 1 || search.limit != maxSearchLimit {
		t.Fatalf("search called with %+v", search)
	}
	var hits []semantic.SearchHit
	if err := json.Unmarshal(rec.Body.Bytes(), &hits); err != nil || len(hits) != 1 {
		t.Fatalf("hits = %v %v", hits, err)
	}

	for _, target := range []string{"/search", "/search?q=x&fields=url", "/search?q=x&limit=0"} {
		if rec := do(t, h, target); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d", target, rec.Code)
		}
	}

	search.err = errors.New("down")
	if rec := do(t, h, "/search?q=x"); rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	deps := testDeps()
	deps.Checks = map[string]Check{"qdrant": func(context.Context) error { return nil }}
	if rec := do(t, New(deps).Handler(), "/api/health"); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	deps.Checks["neo4j"] = func(context.Context) error { return errors.New("down") }
	rec := do(t, New(deps).Handler(), "/api/health")
	if rec.Code != http.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), "degraded") {
		t.Fatalf("status = %d %s", rec.Code, rec.Body)
	}
}

func TestMetricsRoute(t *testing.T) {
	deps := testDeps()
	h := New(deps).Handler()
	do(t, h, "/issue/42")
	rec := do(t, h, "/metrics")
	if !strings.Contains(rec.Body.String(), `route="GET /issue/{id}"`) {
		t.Fatalf("metrics missing route label:\n%s", rec.Body)
	}
}

func TestWebSocket(t *testing.T) {
	srv := httptest.NewServer(New(testDeps()).Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/42"
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	read := func() string {
		t.Helper()
		c.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, data, err := c.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		return string(data)
	}
	if got := read(); got != "hello 42" {
		t.Fatalf("greeting = %q", got)
	}
	if err := c.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
		t.Fatal(err)
	}
	if got := read(); got != "PING" {
		t.Fatalf("echo = %q", got)
	}
	c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func TestWebSocket_DisconnectStopsUpstream(t *testing.T) {
	deps := testDeps()
	chatter := stallingChatter{stopped: make(chan struct{})}
	deps.Chat = chat.NewCoordinator(deps.Issues, chatter, nil, chat.Config{Model: "m"}, quiet(), metrics.New())
	srv := httptest.NewServer(New(deps).Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/42"
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	read := func() string {
		t.Helper()
		c.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, data, err := c.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		return string(data)
	}
	if got := read(); !strings.Contains(got, "Crash <on> start") {
		t.Fatalf("context message = %q", got)
	}
	if err := c.WriteMessage(websocket.TextMessage, []byte("what broke?")); err != nil {
		t.Fatal(err)
	}
	if got := read(); got != "first" {
		t.Fatalf("fragment = %q", got)
	}

	// Leave while the model is still answering.
	c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.Close()

	select {
	case <-chatter.stopped:
	case <-time.After(3 * time.Second):
		t.Fatal("upstream stream still running after the client left")
	}
}

func TestWebSocket_RejectsForeignOrigin(t *testing.T) {
	deps := testDeps()
	deps.CORSOrigin = "https://issues.example.com"
	srv := httptest.NewServer(New(deps).Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/42"
	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example.com"}})
	if err == nil {
		t.Fatal("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %+v", resp)
	}
}
