// Package projection turns stored issue vectors into 2D graph points:
// normalize raw entries, reduce them with t-SNE, and assemble the plot payload.
package projection

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/WessleyAI/issuescope/engine/domain"
)

// DefaultVectorName is the embedding space read from each entry.
const DefaultVectorName = "default"

// Entry is one raw object fetched from the vector store.
type Entry struct {
	Properties map[string]any
	Vectors    map[string]any
}

// Record is a validated entry ready for projection.
type Record struct {
	ID        string
	Title     string
	Kind      domain.Kind
	Urgency   domain.Urgency
	Embedding []float64
}

// Exclusion explains why an entry was left out of the projection.
type Exclusion struct {
	Index  int    `json:"index"`
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// Normalized is the result of Normalize.
type Normalized struct {
	Records          []Record
	Excluded         []Exclusion
	DefaultedUrgency int
}

// Normalize validates entries in order. Entries with a missing, empty or
// non-finite default vector are excluded; unparsable urgencies fall back to
// domain.DefaultUrgency and are counted.
func Normalize(entries []Entry) Normalized {
	out := Normalized{Records: make([]Record, 0, len(entries))}
	for i, e := range entries {
		id := entryID(e.Properties)
		vec, err := coerceVector(e.Vectors[DefaultVectorName])
		if err != nil {
			out.Excluded = append(out.Excluded, Exclusion{Index: i, ID: id, Reason: err.Error()})
			continue
		}
		urgency, ok := domain.ParseUrgency(e.Properties["urgency"])
		if !ok {
			out.DefaultedUrgency++
		}
		out.Records = append(out.Records, Record{
			ID:        id,
			Title:     stringProp(e.Properties, "title"),
			Kind:      domain.ParseKind(stringProp(e.Properties, "type")),
			Urgency:   urgency,
			Embedding: vec,
		})
	}
	return out
}

func entryID(props map[string]any) string {
	if id := scalarString(props["issue_id"]); id != "" {
		return id
	}
	return scalarString(props["id"])
}

func stringProp(props map[string]any, key string) string {
	return scalarString(props[key])
}

func scalarString(v any) string {
	switch tv := v.(type) {
	case nil:
		return ""
	case string:
		return tv
	case float64:
		return strconv.FormatFloat(tv, 'f', -1, 64)
	case json.Number:
		return tv.String()
	default:
		return fmt.Sprint(tv)
	}
}

func coerceVector(v any) ([]float64, error) {
	var out []float64
	switch tv := v.(type) {
	case nil:
		return nil, fmt.Errorf("missing %q vector", DefaultVectorName)
	case []float64:
		out = append([]float64(nil), tv...)
	case []float32:
		out = make([]float64, len(tv))
		for i, f := range tv {
			out[i] = float64(f)
		}
	case []any:
		out = make([]float64, len(tv))
		for i, raw := range tv {
			f, ok := toFloat(raw)
			if !ok {
				return nil, fmt.Errorf("non-numeric coordinate at position %d", i)
			}
			out[i] = f
		}
	default:
		return nil, fmt.Errorf("unsupported vector type %T", v)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("empty %q vector", DefaultVectorName)
	}
	for i, f := range out {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("non-finite coordinate at position %d", i)
		}
	}
	return out, nil
}

func toFloat(v any) (float64, bool) {
	switch tv := v.(type) {
	case float64:
		return tv, true
	case float32:
		return float64(tv), true
	case int:
		return float64(tv), true
	case int64:
		return float64(tv), true
	case json.Number:
		f, err := tv.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
