package semantic

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"unicode"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/protobuf/proto"

	"github.com/WessleyAI/issuescope/engine/domain"
)

// BM25Model is the Qdrant inference model that turns text into BM25 term
// weights. The IDF half of the score is applied by the collection's sparse
// vector modifier, over the whole collection.
const BM25Model = "qdrant/bm25"

// searchDepth is the minimum number of top matches fetched per field.
const searchDepth = 100

// SparseName is the sparse vector holding field's BM25 terms.
func SparseName(field string) string { return field + "_bm25" }

// searchText is the text indexed for each searchable field.
func searchText(is domain.Issue) map[string]string {
	return map[string]string{"title": is.Title, "body": is.Body}
}

func hasWords(s string) bool {
	return strings.IndexFunc(s, func(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }) >= 0
}

// KeywordSearch ranks issues against query with Okapi BM25, computed by
// Qdrant per field. The score of an issue is the sum of its field scores.
// Each field contributes its best max(limit, searchDepth) matches.
func (v *VectorStore) KeywordSearch(ctx context.Context, query string, fields []string, limit int) ([]SearchHit, error) {
	if !hasWords(query) {
		return []SearchHit{}, nil
	}
	if len(fields) == 0 {
		fields = SearchFields
	}
	for _, f := range fields {
		if !slices.Contains(SearchFields, f) {
			return nil, fmt.Errorf("semantic: field %q is not searchable", f)
		}
	}
	if limit <= 0 {
		limit = 10
	}
	depth := max(limit, searchDepth)

	byID := map[string]*SearchHit{}
	for _, f := range fields {
		resp, err := v.points.Query(ctx, &pb.QueryPoints{
			CollectionName: v.collection,
			Query:          pb.NewQueryDocument(&pb.Document{Text: query, Model: BM25Model}),
			Using:          proto.String(SparseName(f)),
			Limit:          proto.Uint64(uint64(depth)),
			WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
		})
		if err != nil {
			return nil, fmt.Errorf("semantic: bm25 query %s.%s: %w", v.collection, f, err)
		}
		for _, p := range resp.GetResult() {
			if p.GetScore() <= 0 {
				continue
			}
			is := issueFromPayload(p.GetPayload())
			hit, ok := byID[is.IssueID]
			if !ok {
				hit = &SearchHit{Issue: is, FieldScores: map[string]float64{}}
				byID[is.IssueID] = hit
			}
			score := float64(p.GetScore())
			hit.FieldScores[f] = score
			hit.Score += score
		}
	}

	hits := make([]SearchHit, 0, len(byID))
	for _, h := range byID {
		hits = append(hits, *h)
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Issue.IssueID < hits[j].Issue.IssueID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}
