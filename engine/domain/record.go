package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// ImportRecord is one row of the issue dataset as exported from GitHub.
type ImportRecord struct {
	IssueID   json.Number `json:"issue_id"`
	Title     string      `json:"title"`
	Body      string      `json:"body"`
	PR        string      `json:"pr"`
	RepoName  string      `json:"repo_name"`
	State     string      `json:"state"`
	Created   string      `json:"created"`
	Updated   string      `json:"updated"`
	UserLogin string      `json:"user_login"`
	URL       string      `json:"url"`
	Comments  *int        `json:"comments"`
	UserType  string      `json:"user_type"`
	Labels    []string    `json:"labels"`
	Assignees []string    `json:"assignees"`
}

// UnmarshalJSON accepts issue_id as either a JSON string or a number.
func (r *ImportRecord) UnmarshalJSON(data []byte) error {
	type plain ImportRecord
	var aux struct {
		plain
		IssueID any `json:"issue_id"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = ImportRecord(aux.plain)
	switch v := aux.IssueID.(type) {
	case string:
		r.IssueID = json.Number(v)
	case float64:
		r.IssueID = json.Number(strconv.FormatFloat(v, 'f', -1, 64))
	case nil:
		r.IssueID = ""
	default:
		return fmt.Errorf("issue_id: unsupported type %T", v)
	}
	return nil
}

// MarshalJSON always writes issue_id as a string, since ids need not be
// numeric.
func (r ImportRecord) MarshalJSON() ([]byte, error) {
	type plain ImportRecord
	return json.Marshal(struct {
		plain
		IssueID string `json:"issue_id"`
	}{plain: plain(r), IssueID: r.IssueID.String()})
}

// ToIssue converts the record into a stored Issue. Urgency is filled in later
// by the scorer.
func (r ImportRecord) ToIssue() Issue {
	comments := 0
	if r.Comments != nil {
		comments = *r.Comments
	}
	kind := KindIssue
	if r.PR == "pull-request" || ParseKind(r.PR) == KindPullRequest {
		kind = KindPullRequest
	}
	return Issue{
		IssueID:   r.IssueID.String(),
		Title:     r.Title,
		Body:      r.Body,
		Kind:      kind,
		RepoName:  r.RepoName,
		State:     r.State,
		Created:   r.Created,
		Updated:   r.Updated,
		UserLogin: r.UserLogin,
		URL:       r.URL,
		Comments:  comments,
		UserType:  r.UserType,
		Labels:    nonNil(r.Labels),
		Assignees: nonNil(r.Assignees),
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
