package domain

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestValidateImportJSON_Valid(t *testing.T) {
	raw := []byte(`{"issue_id": 12, "title": "Crash on start", "body": "stack trace", "pr": "issue",
		"comments": 3, "labels": ["bug"], "assignees": []}`)
	if err := ValidateImportJSON(raw); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateImportJSON_MissingTitle(t *testing.T) {
	err := ValidateImportJSON([]byte(`{"issue_id": "12"}`))
	if !errors.Is(err, ErrSchemaViolation) {
		t.Fatalf("expected ErrSchemaViolation, got %v", err)
	}
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
}

func TestValidateImportJSON_BadTypes(t *testing.T) {
	err := ValidateImportJSON([]byte(`{"issue_id": "1", "title": "x", "labels": "bug", "comments": -1}`))
	if !errors.Is(err, ErrSchemaViolation) {
		t.Fatalf("expected ErrSchemaViolation, got %v", err)
	}
}

func TestValidateImportJSON_Malformed(t *testing.T) {
	if err := ValidateImportJSON([]byte(`{not json`)); err == nil {
		t.Fatal("expected error")
	}
}

func TestValidateIssue(t *testing.T) {
	ok := Issue{IssueID: "1", Title: "t", Kind: KindIssue}
	if err := ValidateIssue(ok); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ValidateIssue(Issue{Title: "t", Kind: KindIssue}); !errors.Is(err, ErrMissingField) {
		t.Fatalf("expected ErrMissingField, got %v", err)
	}
	if err := ValidateIssue(Issue{IssueID: "1", Kind: KindIssue}); !errors.Is(err, ErrMissingField) {
		t.Fatalf("expected ErrMissingField, got %v", err)
	}
	if err := ValidateIssue(Issue{IssueID: "1", Title: "t", Kind: "epic"}); !errors.Is(err, ErrInvalidIssue) {
		t.Fatalf("expected ErrInvalidIssue, got %v", err)
	}
}

func TestImportRecordToIssue(t *testing.T) {
	var r ImportRecord
	raw := `{"issue_id": 42, "title": "Add flag", "pr": "pull-request", "comments": 5, "labels": ["enhancement"]}`
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	iss := r.ToIssue()
	if iss.IssueID != "42" {
		t.Fatalf("issue id = %q", iss.IssueID)
	}
	if iss.Kind != KindPullRequest {
		t.Fatalf("kind = %s", iss.Kind)
	}
	if iss.Comments != 5 || len(iss.Labels) != 1 || iss.Assignees == nil {
		t.Fatalf("unexpected issue: %+v", iss)
	}

	var s ImportRecord
	if err := json.Unmarshal([]byte(`{"issue_id": "abc", "title": "t"}`), &s); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got := s.ToIssue(); got.IssueID != "abc" || got.Kind != KindIssue {
		t.Fatalf("unexpected issue: %+v", got)
	}
}

func TestImportRecordMarshalKeepsStringID(t *testing.T) {
	var r ImportRecord
	if err := json.Unmarshal([]byte(`{"issue_id": "gh-7", "title": "t", "labels": ["x"]}`), &r); err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := ValidateImportJSON(data); err != nil {
		t.Fatalf("marshalled record should still validate: %v", err)
	}
	var back ImportRecord
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if back.IssueID.String() != "gh-7" || back.Labels[0] != "x" {
		t.Fatalf("unexpected record %+v", back)
	}
}

func TestNotFoundError(t *testing.T) {
	err := error(&NotFoundError{Entity: "issue", ID: "7"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatal("NotFoundError should unwrap to ErrNotFound")
	}
	if err.Error() != `issue "7" not found` {
		t.Fatalf("unexpected message %q", err.Error())
	}
}
