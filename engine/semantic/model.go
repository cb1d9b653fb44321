package semantic

import "github.com/WessleyAI/issuescope/engine/domain"

// VectorName is the named vector every issue point carries.
const VectorName = "default"

// IssuePoint is an issue with its embedding, ready to upsert.
type IssuePoint struct {
	Issue     domain.Issue
	Embedding []float32
}

// SearchHit is one keyword-search result.
type SearchHit struct {
	Issue       domain.Issue       `json:"issue"`
	Score       float64            `json:"score"`
	FieldScores map[string]float64 `json:"field_scores"`
}

// SearchFields are the payload fields keyword search covers by default.
var SearchFields = []string{"title", "body"}
