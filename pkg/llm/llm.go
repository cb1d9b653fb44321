// Package llm defines the provider-neutral language-model interfaces used by
// the chat coordinator, the urgency scorer and the ingest pipeline.
package llm

import (
	"context"
	"errors"
	"strings"
)

// Roles used in a chat transcript.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one role-tagged conversational turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest describes a chat-completion call.
type ChatRequest struct {
	Model       string
	Messages    []Message
	Temperature float32
	MaxTokens   int
}

// Stream yields incremental text fragments of a streamed completion.
// Recv returns done=true once the upstream stream has ended.
type Stream interface {
	Recv() (fragment string, done bool, err error)
	Close() error
}

// Chatter starts streamed chat completions.
type Chatter interface {
	ChatStream(ctx context.Context, req ChatRequest) (Stream, error)
}

// Embedder turns texts into embedding vectors, one per input, in order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Provider is implemented by clients that serve both chat and embeddings.
type Provider interface {
	Chatter
	Embedder
}

// ErrEmptyResponse is returned when the upstream answers with no content.
var ErrEmptyResponse = errors.New("llm: empty response")

// Complete drains a stream started from req and returns the concatenated text.
func Complete(ctx context.Context, c Chatter, req ChatRequest) (string, error) {
	s, err := c.ChatStream(ctx, req)
	if err != nil {
		return "", err
	}
	defer s.Close()

	var b strings.Builder
	for {
		frag, done, err := s.Recv()
		if err != nil {
			return "", err
		}
		b.WriteString(frag)
		if done {
			break
		}
	}
	return b.String(), nil
}
