// Package graph keeps a Neo4j graph of issues and the repositories, users and
// labels they link to. The issue page uses it to surface related issues.
package graph

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/WessleyAI/issuescope/engine/domain"
)

const defaultRelatedLimit = 5

// RelatedIssue is an issue linked to another through shared labels or author.
type RelatedIssue struct {
	ID      string         `json:"id"`
	Title   string         `json:"title"`
	Kind    domain.Kind    `json:"type"`
	Urgency domain.Urgency `json:"urgency"`
	Shared  int            `json:"shared"`
	Via     []string       `json:"via"`
}

// Store provides issue graph operations.
type Store struct {
	driver neo4j.DriverWithContext
	opener SessionOpener
	logger *slog.Logger
}

// New creates a Store backed by driver.
func New(driver neo4j.DriverWithContext, logger *slog.Logger) *Store {
	return &Store{driver: driver, opener: driverOpener{driver: driver}, logger: logger}
}

// NewWithOpener creates a Store over an arbitrary session source.
func NewWithOpener(opener SessionOpener, logger *slog.Logger) *Store {
	return &Store{opener: opener, logger: logger}
}

// Connect opens a driver for url and verifies connectivity.
func Connect(ctx context.Context, url, user, pass string, logger *slog.Logger) (*Store, error) {
	auth := neo4j.NoAuth()
	if user != "" {
		auth = neo4j.BasicAuth(user, pass, "")
	}
	driver, err := neo4j.NewDriverWithContext(url, auth)
	if err != nil {
		return nil, fmt.Errorf("graph: driver %s: %w", url, err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("graph: verify %s: %w", url, err)
	}
	return New(driver, logger), nil
}

// Close releases the driver, if any.
func (s *Store) Close(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}
	return s.driver.Close(ctx)
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	sess := s.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	res, err := sess.Run(ctx, "RETURN 1", nil)
	if err != nil {
		return fmt.Errorf("graph: ping: %w", err)
	}
	for res.Next(ctx) {
	}
	return res.Err()
}

var constraints = []string{
	`CREATE CONSTRAINT issue_id IF NOT EXISTS FOR (i:Issue) REQUIRE i.id IS UNIQUE`,
	`CREATE CONSTRAINT repo_name IF NOT EXISTS FOR (r:Repo) REQUIRE r.name IS UNIQUE`,
	`CREATE CONSTRAINT user_login IF NOT EXISTS FOR (u:User) REQUIRE u.login IS UNIQUE`,
	`CREATE CONSTRAINT label_name IF NOT EXISTS FOR (l:Label) REQUIRE l.name IS UNIQUE`,
}

// EnsureSchema creates the uniqueness constraints MERGE relies on.
func (s *Store) EnsureSchema(ctx context.Context) error {
	sess := s.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	for _, c := range constraints {
		if _, err := sess.Run(ctx, c, nil); err != nil {
			return fmt.Errorf("graph: ensure schema: %w", err)
		}
	}
	return nil
}

// Reset removes every node the issue graph owns.
func (s *Store) Reset(ctx context.Context) error {
	sess := s.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (n) WHERE n:Issue OR n:Repo OR n:User OR n:Label DETACH DELETE n`
	if _, err := sess.Run(ctx, cypher, nil); err != nil {
		return fmt.Errorf("graph: reset: %w", err)
	}
	s.logger.Info("issue graph reset")
	return nil
}

// saveIssueCypher replaces the label and assignee links of an issue so that a
// re-import reflects the latest document.
const saveIssueCypher = `
MERGE (i:Issue {id: $id})
SET i += $props
WITH i
OPTIONAL MATCH (i)-[old:LABELED|ASSIGNED_TO]->()
DELETE old
WITH DISTINCT i
FOREACH (_ IN CASE WHEN $repo = '' THEN [] ELSE [1] END |
  MERGE (r:Repo {name: $repo}) MERGE (i)-[:IN_REPO]->(r))
FOREACH (_ IN CASE WHEN $user = '' THEN [] ELSE [1] END |
  MERGE (u:User {login: $user}) MERGE (i)-[:OPENED_BY]->(u))
FOREACH (name IN $labels |
  MERGE (l:Label {name: name}) MERGE (i)-[:LABELED]->(l))
FOREACH (login IN $assignees |
  MERGE (a:User {login: login}) MERGE (i)-[:ASSIGNED_TO]->(a))`

// SaveIssue creates or updates an issue and its links.
func (s *Store) SaveIssue(ctx context.Context, issue domain.Issue) error {
	return s.SaveBatch(ctx, []domain.Issue{issue})
}

// SaveBatch saves multiple issues in a single transaction.
func (s *Store) SaveBatch(ctx context.Context, issues []domain.Issue) error {
	if len(issues) == 0 {
		return nil
	}
	sess := s.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	err := sess.ExecuteWrite(ctx, func(tx Tx) error {
		for _, is := range issues {
			if is.IssueID == "" {
				return domain.NewValidationError("issue_id", "", domain.ErrMissingField)
			}
			if err := tx.Run(ctx, saveIssueCypher, issueParams(is)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("graph: save %d issues: %w", len(issues), err)
	}
	s.logger.Debug("issues saved to graph", "count", len(issues))
	return nil
}

func issueParams(is domain.Issue) map[string]any {
	return map[string]any{
		"id":        is.IssueID,
		"repo":      is.RepoName,
		"user":      is.UserLogin,
		"labels":    stringsOrEmpty(is.Labels),
		"assignees": stringsOrEmpty(is.Assignees),
		"props": map[string]any{
			"title":    is.Title,
			"type":     string(is.Kind),
			"state":    is.State,
			"urgency":  is.Urgency,
			"url":      is.URL,
			"created":  is.Created,
			"updated":  is.Updated,
			"comments": int64(is.Comments),
		},
	}
}

func stringsOrEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// relatedCypher counts the label and author nodes two issues have in common.
// Both sides must use the same relationship type, so an author never matches
// an assignee.
const relatedCypher = `
MATCH (i:Issue {id: $id})-[r1:LABELED|OPENED_BY]->(shared)<-[r2:LABELED|OPENED_BY]-(other:Issue)
WHERE other.id <> $id AND type(r1) = type(r2)
WITH other, count(DISTINCT shared) AS shared,
     collect(DISTINCT coalesce(shared.name, shared.login)) AS via
RETURN other.id AS id, other.title AS title, other.type AS type,
       other.urgency AS urgency, shared, via
ORDER BY shared DESC, id ASC
LIMIT $limit`

// Related returns issues sharing labels or author with issueID, most links
// first. An unknown issue yields an empty list.
func (s *Store) Related(ctx context.Context, issueID string, limit int) ([]RelatedIssue, error) {
	if limit <= 0 {
		limit = defaultRelatedLimit
	}
	sess := s.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	res, err := sess.Run(ctx, relatedCypher, map[string]any{"id": issueID, "limit": int64(limit)})
	if err != nil {
		return nil, fmt.Errorf("graph: related %s: %w", issueID, err)
	}
	out := []RelatedIssue{}
	for res.Next(ctx) {
		r, err := relatedFromRecord(res.Record())
		if err != nil {
			return nil, fmt.Errorf("graph: related %s: %w", issueID, err)
		}
		out = append(out, r)
	}
	if err := res.Err(); err != nil {
		return nil, fmt.Errorf("graph: related %s: %w", issueID, err)
	}
	return out, nil
}

func relatedFromRecord(rec *neo4j.Record) (RelatedIssue, error) {
	id, _, err := neo4j.GetRecordValue[string](rec, "id")
	if err != nil {
		return RelatedIssue{}, err
	}
	shared, _, err := neo4j.GetRecordValue[int64](rec, "shared")
	if err != nil {
		return RelatedIssue{}, err
	}
	r := RelatedIssue{
		ID:      id,
		Title:   strValue(rec, "title"),
		Kind:    domain.ParseKind(strValue(rec, "type")),
		Urgency: domain.DefaultUrgency,
		Shared:  int(shared),
		Via:     []string{},
	}
	if raw, ok := rec.Get("urgency"); ok {
		r.Urgency, _ = domain.ParseUrgency(raw)
	}
	if via, ok := rec.Get("via"); ok {
		if items, ok := via.([]any); ok {
			for _, v := range items {
				if s, ok := v.(string); ok {
					r.Via = append(r.Via, s)
				}
			}
		}
	}
	return r, nil
}

func strValue(rec *neo4j.Record, key string) string {
	v, ok := rec.Get(key)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
