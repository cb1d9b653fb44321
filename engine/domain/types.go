// Package domain defines the issue types shared by the import pipeline, the
// visualization pipeline and the chat assistant, plus the validation gate for
// imported records.
package domain

import (
	"strconv"
	"strings"
)

// Kind distinguishes issues from pull requests.
type Kind string

const (
	KindIssue       Kind = "issue"
	KindPullRequest Kind = "pull_request"
)

// ParseKind accepts every spelling the dataset and older imports used for pull
// requests; anything else is an issue.
func ParseKind(s string) Kind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pull_request", "pull request", "pull-request", "pr":
		return KindPullRequest
	default:
		return KindIssue
	}
}

// Urgency is an LLM-assigned triage score from 1 (low) to 4 (critical).
type Urgency int

const (
	UrgencyMin     Urgency = 1
	UrgencyMax     Urgency = 4
	DefaultUrgency Urgency = 2
)

// Valid reports whether u is inside [UrgencyMin, UrgencyMax].
func (u Urgency) Valid() bool { return u >= UrgencyMin && u <= UrgencyMax }

// Color is the marker fill used by the visualization.
type Color string

const (
	ColorGreen  Color = "green"
	ColorYellow Color = "yellow"
	ColorOrange Color = "orange"
	ColorRed    Color = "red"
)

// Marker is the marker shape used by the visualization.
type Marker string

const (
	MarkerCircle   Marker = "circle"
	MarkerTriangle Marker = "triangle"
)

// Color maps urgency to its display color. Out-of-range values are treated as
// DefaultUrgency.
func (u Urgency) Color() Color {
	if !u.Valid() {
		u = DefaultUrgency
	}
	switch u {
	case 1:
		return ColorGreen
	case 3:
		return ColorOrange
	case 4:
		return ColorRed
	default:
		return ColorYellow
	}
}

// Marker maps a kind to its display marker.
func (k Kind) Marker() Marker {
	if k == KindPullRequest {
		return MarkerTriangle
	}
	return MarkerCircle
}

// ParseUrgency converts a stored urgency value into an Urgency. The bool is
// false when the value is missing, non-numeric or out of range, in which case
// DefaultUrgency is returned.
func ParseUrgency(v any) (Urgency, bool) {
	var n int
	switch tv := v.(type) {
	case nil:
		return DefaultUrgency, false
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(tv))
		if err != nil {
			return DefaultUrgency, false
		}
		n = i
	case int:
		n = tv
	case int64:
		n = int(tv)
	case float64:
		if tv != float64(int(tv)) {
			return DefaultUrgency, false
		}
		n = int(tv)
	case Urgency:
		n = int(tv)
	default:
		return DefaultUrgency, false
	}
	u := Urgency(n)
	if !u.Valid() {
		return DefaultUrgency, false
	}
	return u, true
}

// Issue is the full document stored for a GitHub issue or pull request.
type Issue struct {
	IssueID   string   `json:"issue_id"`
	Title     string   `json:"title"`
	Body      string   `json:"body"`
	Urgency   string   `json:"urgency"` // raw model reply, parsed on read
	Kind      Kind     `json:"type"`
	RepoName  string   `json:"repo_name"`
	State     string   `json:"state"`
	Created   string   `json:"created"`
	Updated   string   `json:"updated"`
	UserLogin string   `json:"user_login"`
	URL       string   `json:"url"`
	Comments  int      `json:"comments"`
	UserType  string   `json:"user_type"`
	Labels    []string `json:"labels"`
	Assignees []string `json:"assignees"`
}

// UrgencyLevel returns the parsed urgency, falling back to DefaultUrgency.
func (i Issue) UrgencyLevel() Urgency {
	u, _ := ParseUrgency(i.Urgency)
	return u
}
