package projection

import (
	"encoding/json"
	"fmt"

	"github.com/WessleyAI/issuescope/engine/domain"
)

// InsufficientDataMessage is the error payload for projections with N < 2.
const InsufficientDataMessage = "Not enough valid vectors to perform t-SNE."

// Point is one plotted issue.
type Point struct {
	ID     string        `json:"id"`
	Title  string        `json:"title"`
	X      float64       `json:"x"`
	Y      float64       `json:"y"`
	Marker domain.Marker `json:"marker"`
	Color  domain.Color  `json:"color"`
}

// GraphData is the /graph-data payload: either points in input order or the
// insufficient-data error.
type GraphData struct {
	Points       []Point
	Insufficient bool
}

// Assemble zips records with their projected coordinates.
func Assemble(records []Record, proj Projection) (GraphData, error) {
	if proj.Insufficient {
		return GraphData{Insufficient: true}, nil
	}
	if len(proj.Coords) != len(records) {
		return GraphData{}, fmt.Errorf("projection: %d coordinates for %d records", len(proj.Coords), len(records))
	}
	points := make([]Point, len(records))
	for i, r := range records {
		points[i] = Point{
			ID:     r.ID,
			Title:  r.Title,
			X:      proj.Coords[i][0],
			Y:      proj.Coords[i][1],
			Marker: r.Kind.Marker(),
			Color:  r.Urgency.Color(),
		}
	}
	return GraphData{Points: points}, nil
}

// MarshalJSON encodes a flat point list, or {"error": ...} when insufficient.
func (g GraphData) MarshalJSON() ([]byte, error) {
	if g.Insufficient {
		return json.Marshal(map[string]string{"error": InsufficientDataMessage})
	}
	if g.Points == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(g.Points)
}
