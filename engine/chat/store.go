package chat

import (
	"context"
	"sync"
	"time"

	"github.com/WessleyAI/issuescope/pkg/llm"
)

// DefaultSessionTTL bounds how long a transcript snapshot is retained.
const DefaultSessionTTL = 24 * time.Hour

// Store keeps the latest transcript snapshot per issue. Load returns an empty,
// non-nil slice when nothing is stored. Implementations are safe for
// concurrent use.
type Store interface {
	Save(ctx context.Context, issueID string, msgs []llm.Message) error
	Load(ctx context.Context, issueID string) ([]llm.Message, error)
	Close() error
}

type memEntry struct {
	msgs    []llm.Message
	expires time.Time
}

// MemoryStore is an in-process Store with expiry.
type MemoryStore struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	data map[string]memEntry
}

// NewMemoryStore creates a MemoryStore. ttl <= 0 selects DefaultSessionTTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &MemoryStore{ttl: ttl, now: time.Now, data: make(map[string]memEntry)}
}

func (s *MemoryStore) Save(_ context.Context, issueID string, msgs []llm.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep()
	s.data[issueID] = memEntry{msgs: append([]llm.Message(nil), msgs...), expires: s.now().Add(s.ttl)}
	return nil
}

func (s *MemoryStore) Load(_ context.Context, issueID string) ([]llm.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data[issueID]
	if !ok || !s.now().Before(e.expires) {
		delete(s.data, issueID)
		return []llm.Message{}, nil
	}
	return append([]llm.Message{}, e.msgs...), nil
}

func (s *MemoryStore) Close() error { return nil }

// sweep drops expired entries. Caller holds mu.
func (s *MemoryStore) sweep() {
	now := s.now()
	for k, e := range s.data {
		if !now.Before(e.expires) {
			delete(s.data, k)
		}
	}
}
