package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/WessleyAI/issuescope/engine/chat"
	"github.com/WessleyAI/issuescope/engine/semantic"
	"github.com/WessleyAI/issuescope/pkg/config"
	"github.com/WessleyAI/issuescope/pkg/ollama"
	"github.com/WessleyAI/issuescope/pkg/openai"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestSchemaCommand(t *testing.T) {
	out, err := run(t, "schema")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, `"issue_id"`) || !strings.Contains(out, `"required"`) {
		t.Fatalf("unexpected schema output:\n%s", out)
	}
}

func TestSubcommandsRegistered(t *testing.T) {
	cmd := newRootCmd(io.Discard)
	for _, name := range []string{"serve", "import", "worker", "schema"} {
		if c, _, err := cmd.Find([]string{name}); err != nil || c.Name() != name {
			t.Errorf("missing subcommand %s", name)
		}
	}
	if cmd.PersistentFlags().Lookup("env-file") == nil {
		t.Fatal("missing --env-file flag")
	}
}

func TestMissingEnvFileFails(t *testing.T) {
	_, err := run(t, "--env-file", filepath.Join(t.TempDir(), "missing.env"), "worker")
	if err == nil || !strings.Contains(err.Error(), "missing.env") {
		t.Fatalf("expected config error, got %v", err)
	}
}

func TestEnvFileIsApplied(t *testing.T) {
	env := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(env, []byte("SESSION_STORE=bogus\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := run(t, "--env-file", env, "worker")
	if err == nil || !strings.Contains(err.Error(), "session_store") {
		t.Fatalf("expected validation error from env file, got %v", err)
	}
}

func TestWorkerRequiresNATS(t *testing.T) {
	t.Setenv("NATS_URL", "")
	_, err := run(t, "worker")
	if err == nil || !strings.Contains(err.Error(), "NATS_URL") {
		t.Fatalf("expected NATS_URL error, got %v", err)
	}
}

func TestImportRejectsEmptyDataset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.jsonl")
	os.WriteFile(path, []byte(`{"issue_id": 1}`+"\n"), 0o644)
	out, err := run(t, "import", path)
	if err == nil || !strings.Contains(err.Error(), "no valid records") {
		t.Fatalf("expected no valid records, got %v", err)
	}
	if !strings.Contains(out, "row 1") {
		t.Fatalf("rejection should be reported, got:\n%s", out)
	}
}

func TestImportPublishRequiresNATS(t *testing.T) {
	t.Setenv("NATS_URL", "")
	path := filepath.Join(t.TempDir(), "ok.json")
	os.WriteFile(path, []byte(`[{"issue_id": 1, "title": "t"}]`), 0o644)
	_, err := run(t, "import", "--publish", path)
	if err == nil || !strings.Contains(err.Error(), "NATS_URL") {
		t.Fatalf("expected NATS_URL error, got %v", err)
	}
}

func TestProviderSelection(t *testing.T) {
	a := &app{cfg: config.Config{LLMProvider: "ollama", OllamaURL: "http://localhost:11434"}}
	if _, ok := a.provider().(*ollama.Client); !ok {
		t.Fatalf("expected ollama client, got %T", a.provider())
	}
	a.cfg.LLMProvider = "openai"
	if _, ok := a.provider().(*openai.Client); !ok {
		t.Fatalf("expected openai client, got %T", a.provider())
	}
}

func TestSessionStoreSelection(t *testing.T) {
	ctx := context.Background()
	a := &app{cfg: config.Config{SessionStore: "memory"}}
	s, err := a.sessionStore(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.(*chat.MemoryStore); !ok {
		t.Fatalf("expected memory store, got %T", s)
	}

	a.cfg = config.Config{SessionStore: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "chat.db")}
	s, err = a.sessionStore(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if _, ok := s.(*chat.SQLiteStore); !ok {
		t.Fatalf("expected sqlite store, got %T", s)
	}

	checks := healthChecks(semantic.NewWithClients(nil, nil, "c"), s, nil, nil)
	if _, ok := checks["sessions"]; !ok {
		t.Fatal("sqlite store should be health-checked")
	}
	if _, ok := checks["neo4j"]; ok {
		t.Fatal("neo4j check without a graph store")
	}
	if err := checks["sessions"](ctx); err != nil {
		t.Fatal(err)
	}
}

func TestOptionalBackendsDisabled(t *testing.T) {
	a := &app{}
	if gs, err := a.graphStore(context.Background()); gs != nil || err != nil {
		t.Fatalf("graph store should be disabled, got %v %v", gs, err)
	}
	if nc, err := a.natsConn(); nc != nil || err != nil {
		t.Fatalf("nats should be disabled, got %v %v", nc, err)
	}
}
