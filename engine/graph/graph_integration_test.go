//go:build integration

package graph

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/WessleyAI/issuescope/engine/domain"
)

// liveStore connects to the Neo4j at NEO4J_URL and empties it.
func liveStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("NEO4J_URL")
	if url == "" {
		t.Skip("NEO4J_URL not set")
	}
	ctx := context.Background()
	store, err := Connect(ctx, url, os.Getenv("NEO4J_USER"), os.Getenv("NEO4J_PASS"), slog.Default())
	if err != nil {
		t.Fatalf("neo4j: %v", err)
	}
	if err := store.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	t.Cleanup(func() {
		store.Reset(context.Background())
		store.Close(context.Background())
	})
	return store
}

func TestLiveRelatedRanking(t *testing.T) {
	store := liveStore(t)
	ctx := context.Background()
	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatal(err)
	}

	issues := []domain.Issue{
		{IssueID: "1", Title: "panic in parser", UserLogin: "ann", Labels: []string{"bug", "parser"}, Urgency: "4"},
		{IssueID: "2", Title: "parser is slow", UserLogin: "bob", Labels: []string{"parser"}},
		{IssueID: "3", Title: "another panic", UserLogin: "ann", Labels: []string{"bug"}},
		{IssueID: "4", Title: "docs typo", UserLogin: "cid", Assignees: []string{"ann"}},
	}
	if err := store.SaveBatch(ctx, issues); err != nil {
		t.Fatal(err)
	}

	related, err := store.Related(ctx, "1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(related) != 2 {
		t.Fatalf("expected 2 related, got %+v", related)
	}
	if related[0].ID != "3" || related[0].Shared != 2 {
		t.Fatalf("expected issue 3 first with 2 shared links, got %+v", related[0])
	}
	if related[1].ID != "2" || related[1].Shared != 1 {
		t.Fatalf("unexpected second: %+v", related[1])
	}

	// Re-saving with fewer labels drops the stale link.
	issues[2].Labels = nil
	if err := store.SaveIssue(ctx, issues[2]); err != nil {
		t.Fatal(err)
	}
	related, err = store.Related(ctx, "1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(related) != 2 || related[0].ID != "2" || related[1].ID != "3" || related[1].Shared != 1 {
		t.Fatalf("unexpected ranking after relabel: %+v", related)
	}
}
