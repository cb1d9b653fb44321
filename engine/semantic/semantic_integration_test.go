//go:build integration

package semantic

import (
	"context"
	"errors"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/WessleyAI/issuescope/engine/domain"
)

// liveStore opens a throwaway collection on the Qdrant at QDRANT_URL.
func liveStore(t *testing.T, dims int) *VectorStore {
	t.Helper()
	addr := os.Getenv("QDRANT_URL")
	if addr == "" {
		t.Skip("QDRANT_URL not set")
	}
	vs, err := New(addr, "issuescope_it_"+strconv.FormatInt(time.Now().UnixNano(), 36),
		Options{APIKey: os.Getenv("QDRANT_API_KEY")})
	if err != nil {
		t.Fatalf("qdrant: %v", err)
	}
	ctx := context.Background()
	if err := vs.EnsureCollection(ctx, dims); err != nil {
		t.Fatalf("create collection: %v", err)
	}
	t.Cleanup(func() {
		vs.DeleteCollection(context.Background())
		vs.Close()
	})
	return vs
}

func TestLiveCollectionLifecycle(t *testing.T) {
	vs := liveStore(t, 4)
	ctx := context.Background()

	// Recreating an existing collection is a no-op.
	if err := vs.EnsureCollection(ctx, 4); err != nil {
		t.Fatal(err)
	}
	if err := vs.Ping(ctx); err != nil {
		t.Fatal(err)
	}

	crash := sampleIssue("101", "Login crash", "stack trace on login")
	typo := sampleIssue("102", "Docs typo", "spelling in readme")
	typo.Kind = domain.KindIssue
	err := vs.UpsertIssues(ctx, []IssuePoint{
		{Issue: crash, Embedding: []float32{1, 0, 0, 0}},
		{Issue: typo, Embedding: []float32{0, 1, 0, 0}},
	})
	if err != nil {
		t.Fatal(err)
	}

	entries, err := vs.FetchAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("FetchAll returned %d entries", len(entries))
	}

	got, err := vs.FindIssue(ctx, "102")
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != typo.Title || got.Kind != domain.KindIssue {
		t.Fatalf("FindIssue = %+v", got)
	}
	if _, err := vs.FindIssue(ctx, "999"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestLiveKeywordSearch(t *testing.T) {
	vs := liveStore(t, 2)
	ctx := context.Background()
	err := vs.UpsertIssues(ctx, []IssuePoint{
		{Issue: sampleIssue("1", "Login crash", "stack trace on login"), Embedding: []float32{1, 0}},
		{Issue: sampleIssue("2", "Slow login page", "takes ten seconds"), Embedding: []float32{0, 1}},
		{Issue: sampleIssue("3", "Docs typo", "spelling"), Embedding: []float32{1, 1}},
	})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		query  string
		fields []string
		want   []string
	}{
		{"login", []string{"title"}, []string{"1", "2"}},
		{"stack trace", []string{"body"}, []string{"1"}},
		{"typo", nil, []string{"3"}},
		{"nothing-matches", nil, nil},
	}
	for _, tt := range tests {
		hits, err := vs.KeywordSearch(ctx, tt.query, tt.fields, 10)
		if err != nil {
			t.Fatalf("%q: %v", tt.query, err)
		}
		ids := map[string]bool{}
		for _, h := range hits {
			ids[h.Issue.IssueID] = true
		}
		if len(hits) != len(tt.want) {
			t.Fatalf("%q: got %d hits, want %v", tt.query, len(hits), tt.want)
		}
		for _, id := range tt.want {
			if !ids[id] {
				t.Fatalf("%q: missing issue %s in %+v", tt.query, id, hits)
			}
		}
	}
}
