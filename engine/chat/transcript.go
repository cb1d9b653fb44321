package chat

import "github.com/WessleyAI/issuescope/pkg/llm"

// DefaultMaxHistory is the transcript cap when none is configured.
const DefaultMaxHistory = 20

// Transcript is a bounded, ordered conversation. Once full, the oldest entry
// is evicted first, including the seeded system entry.
type Transcript struct {
	max     int
	entries []llm.Message
}

// NewTranscript returns an empty transcript holding at most max entries.
func NewTranscript(max int) *Transcript {
	if max < 1 {
		max = DefaultMaxHistory
	}
	return &Transcript{max: max, entries: make([]llm.Message, 0, max+1)}
}

// Append adds an entry and evicts from the front past the cap.
func (t *Transcript) Append(role, content string) {
	t.entries = append(t.entries, llm.Message{Role: role, Content: content})
	if over := len(t.entries) - t.max; over > 0 {
		t.entries = append(t.entries[:0], t.entries[over:]...)
	}
}

// Messages returns a copy of the entries, oldest first.
func (t *Transcript) Messages() []llm.Message {
	return append([]llm.Message(nil), t.entries...)
}

func (t *Transcript) Len() int { return len(t.entries) }
