package domain

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// importSchema describes one row of the issue dataset.
const importSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["issue_id", "title"],
  "properties": {
    "issue_id":   {"type": ["string", "integer"]},
    "title":      {"type": "string", "minLength": 1},
    "body":       {"type": ["string", "null"]},
    "pr":         {"type": ["string", "null"]},
    "repo_name":  {"type": ["string", "null"]},
    "state":      {"type": ["string", "null"]},
    "created":    {"type": ["string", "null"]},
    "updated":    {"type": ["string", "null"]},
    "user_login": {"type": ["string", "null"]},
    "url":        {"type": ["string", "null"]},
    "comments":   {"type": ["integer", "null"], "minimum": 0},
    "user_type":  {"type": ["string", "null"]},
    "labels":     {"type": ["array", "null"], "items": {"type": "string"}},
    "assignees":  {"type": ["array", "null"], "items": {"type": "string"}}
  }
}`

var recordSchema = mustSchema(importSchema)

// ImportSchema returns the JSON Schema every import row must satisfy.
func ImportSchema() string { return importSchema }

func mustSchema(src string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("domain: compile import schema: %v", err))
	}
	return s
}

// ValidateImportJSON checks one raw dataset row against the import schema.
func ValidateImportJSON(raw []byte) error {
	res, err := recordSchema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return NewValidationError("record", truncate(string(raw), 80), fmt.Errorf("%w: %v", ErrSchemaViolation, err))
	}
	if res.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		msgs = append(msgs, e.String())
	}
	return NewValidationError("record", truncate(string(raw), 80),
		fmt.Errorf("%w: %s", ErrSchemaViolation, strings.Join(msgs, "; ")))
}

// ValidateIssue checks an Issue before it is embedded and stored.
func ValidateIssue(i Issue) error {
	if strings.TrimSpace(i.IssueID) == "" {
		return NewValidationError("issue_id", i.IssueID, ErrMissingField)
	}
	if strings.TrimSpace(i.Title) == "" {
		return NewValidationError("title", i.Title, ErrMissingField)
	}
	if i.Kind != KindIssue && i.Kind != KindPullRequest {
		return NewValidationError("type", string(i.Kind), ErrInvalidIssue)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
