package chat

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/WessleyAI/issuescope/pkg/llm"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS chat_transcripts (
	issue_id   TEXT PRIMARY KEY,
	messages   TEXT NOT NULL,
	expires_at INTEGER NOT NULL
)`

// SQLiteStore keeps transcripts in a local SQLite file. Expired rows are
// ignored on read and purged on write.
type SQLiteStore struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(path string, ttl time.Duration) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("chat: sqlite path required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("chat: sqlite dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("chat: sqlite open: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("chat: sqlite migrate: %w", err)
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SQLiteStore{db: db, ttl: ttl, now: time.Now}, nil
}

func (s *SQLiteStore) Save(ctx context.Context, issueID string, msgs []llm.Message) error {
	raw, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("chat: encode transcript: %w", err)
	}
	now := s.now()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chat_transcripts WHERE expires_at <= ?`, now.UnixNano()); err != nil {
		return fmt.Errorf("chat: sqlite purge: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO chat_transcripts(issue_id, messages, expires_at) VALUES(?,?,?)
		 ON CONFLICT(issue_id) DO UPDATE SET messages=excluded.messages, expires_at=excluded.expires_at`,
		issueID, string(raw), now.Add(s.ttl).UnixNano())
	if err != nil {
		return fmt.Errorf("chat: sqlite upsert: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, issueID string) ([]llm.Message, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT messages FROM chat_transcripts WHERE issue_id = ? AND expires_at > ?`,
		issueID, s.now().UnixNano()).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return []llm.Message{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("chat: sqlite load: %w", err)
	}
	msgs := []llm.Message{}
	if err := json.Unmarshal([]byte(raw), &msgs); err != nil {
		return nil, fmt.Errorf("chat: decode transcript: %w", err)
	}
	return msgs, nil
}

// Ping checks the database handle.
func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLiteStore) Close() error { return s.db.Close() }
