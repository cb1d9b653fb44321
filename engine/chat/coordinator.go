// Package chat runs the per-issue assistant conversation: it seeds a bounded
// transcript from the issue, relays streamed model output to the client and
// snapshots the transcript after every turn.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/WessleyAI/issuescope/engine/domain"
	"github.com/WessleyAI/issuescope/pkg/llm"
	"github.com/WessleyAI/issuescope/pkg/metrics"
)

// Wire protocol literals.
const (
	FinishedSentinel      = "__message_finished__"
	SuggestedReplyTrigger = "suggested_reply"
	SuggestedReplyPrefix  = "suggested_reply:"
)

// SuggestedReplyDirective replaces the trigger literal in the transcript.
const SuggestedReplyDirective = "Draft a reply that the maintainers could post on this issue. " +
	"Address the reporter directly, reference the details above and keep it under 150 words. " +
	"Return only the reply text."

const DefaultTemperature = 0.8

// Diagnostics sent to the client before the channel closes.
const (
	msgUpstreamIssue = "Sorry, the issue details could not be loaded right now. Please try again later."
	msgUpstreamChat  = "Sorry, the assistant is unavailable right now. Please try again later."
)

// State is the lifecycle of one chat connection.
type State int

const (
	StateAwaitingContext State = iota
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAwaitingContext:
		return "AWAITING_CONTEXT"
	case StateActive:
		return "ACTIVE"
	default:
		return "CLOSED"
	}
}

// Conn is a bidirectional text channel. ReadMessage returns io.EOF once the
// peer has closed the channel normally.
type Conn interface {
	ReadMessage(ctx context.Context) (string, error)
	WriteMessage(ctx context.Context, text string) error
}

// IssueLookup resolves an issue id. A missing issue yields an error matching
// domain.ErrNotFound.
type IssueLookup interface {
	FindIssue(ctx context.Context, issueID string) (domain.Issue, error)
}

// Config holds the model settings for a conversation.
type Config struct {
	Model       string
	Temperature float32
	MaxHistory  int
}

// Coordinator serves chat connections. It holds no per-connection state and
// is safe for concurrent use.
type Coordinator struct {
	lookup  IssueLookup
	chat    llm.Chatter
	store   Store
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Registry
}

// NewCoordinator wires a Coordinator. A nil store disables snapshots.
func NewCoordinator(lookup IssueLookup, chat llm.Chatter, store Store, cfg Config, logger *slog.Logger, reg *metrics.Registry) *Coordinator {
	if cfg.MaxHistory < 1 {
		cfg.MaxHistory = DefaultMaxHistory
	}
	if logger == nil {
		logger = slog.Default()
	}
	if reg == nil {
		reg = metrics.Default
	}
	return &Coordinator{lookup: lookup, chat: chat, store: store, cfg: cfg, logger: logger, metrics: reg}
}

// Session is the state of a single connection.
type Session struct {
	IssueID    string
	State      State
	Transcript *Transcript
}

// Serve runs one connection to completion. It returns nil when the peer closes
// the channel or the issue does not exist, and the cause for upstream or
// transport failures. The session is CLOSED on return.
func (c *Coordinator) Serve(ctx context.Context, issueID string, conn Conn) error {
	s := &Session{IssueID: issueID, State: StateAwaitingContext, Transcript: NewTranscript(c.cfg.MaxHistory)}
	log := c.logger.With("issue_id", issueID)
	active := c.metrics.Gauge("issuescope_chat_sessions_active", "Open chat connections.")
	active.Inc()
	defer func() {
		active.Dec()
		s.State = StateClosed
		log.Debug("chat session closed")
	}()

	issue, err := c.lookup.FindIssue(ctx, issueID)
	if errors.Is(err, domain.ErrNotFound) {
		log.Info("chat requested for unknown issue")
		_ = conn.WriteMessage(ctx, fmt.Sprintf("Issue %s not found.", issueID))
		return nil
	}
	if err != nil {
		log.Error("issue lookup failed", "err", err)
		_ = conn.WriteMessage(ctx, msgUpstreamIssue)
		return fmt.Errorf("chat: lookup %s: %w", issueID, err)
	}

	seed := SystemContext(issue)
	s.Transcript.Append(llm.RoleSystem, seed)
	if err := conn.WriteMessage(ctx, seed); err != nil {
		return fmt.Errorf("chat: send context: %w", err)
	}
	s.State = StateActive
	log.Debug("chat session active")

	for {
		text, err := conn.ReadMessage(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("chat: read: %w", err)
		}
		if err := c.turn(ctx, s, conn, text); err != nil {
			log.Warn("chat turn failed", "err", err)
			return err
		}
	}
}

// fragment is one relayed piece of model output, or the error that ended it.
type fragment struct {
	text string
	err  error
}

func (c *Coordinator) turn(ctx context.Context, s *Session, conn Conn, text string) error {
	suggested := strings.TrimSpace(text) == SuggestedReplyTrigger
	prefix, mode := "", "normal"
	if suggested {
		prefix, mode = SuggestedReplyPrefix, "suggested_reply"
		text = SuggestedReplyDirective
	}
	s.Transcript.Append(llm.RoleUser, text)

	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := c.chat.ChatStream(turnCtx, llm.ChatRequest{
		Model:       c.cfg.Model,
		Messages:    s.Transcript.Messages(),
		Temperature: c.cfg.Temperature,
	})
	if err != nil {
		c.metrics.Counter("issuescope_chat_turns_total", "Chat turns by mode and outcome.", "mode", mode, "outcome", "upstream_error").Inc()
		_ = conn.WriteMessage(ctx, msgUpstreamChat)
		return fmt.Errorf("chat: start stream: %w", err)
	}

	frags := relay(turnCtx, stream)
	var full strings.Builder
	for f := range frags {
		if f.err != nil {
			c.metrics.Counter("issuescope_chat_turns_total", "Chat turns by mode and outcome.", "mode", mode, "outcome", "upstream_error").Inc()
			_ = conn.WriteMessage(ctx, msgUpstreamChat)
			return fmt.Errorf("chat: stream: %w", f.err)
		}
		if err := conn.WriteMessage(ctx, prefix+f.text); err != nil {
			c.metrics.Counter("issuescope_chat_turns_total", "Chat turns by mode and outcome.", "mode", mode, "outcome", "transport_error").Inc()
			return fmt.Errorf("chat: send fragment: %w", err)
		}
		full.WriteString(f.text)
	}
	if err := turnCtx.Err(); err != nil {
		return fmt.Errorf("chat: turn: %w", err)
	}

	s.Transcript.Append(llm.RoleAssistant, full.String())
	if err := conn.WriteMessage(ctx, prefix+FinishedSentinel); err != nil {
		return fmt.Errorf("chat: send sentinel: %w", err)
	}
	c.metrics.Counter("issuescope_chat_turns_total", "Chat turns by mode and outcome.", "mode", mode, "outcome", "ok").Inc()

	if c.store != nil {
		if err := c.store.Save(ctx, s.IssueID, s.Transcript.Messages()); err != nil {
			c.logger.Warn("transcript snapshot failed", "issue_id", s.IssueID, "err", err)
		}
	}
	return nil
}

// relay drains stream on its own goroutine. Non-empty fragments are sent in
// order; the channel closes when the stream ends, fails or ctx is done.
func relay(ctx context.Context, stream llm.Stream) <-chan fragment {
	out := make(chan fragment)
	go func() {
		defer close(out)
		defer stream.Close()
		for {
			text, done, err := stream.Recv()
			if err != nil {
				select {
				case out <- fragment{err: err}:
				case <-ctx.Done():
				}
				return
			}
			if text != "" {
				select {
				case out <- fragment{text: text}:
				case <-ctx.Done():
					return
				}
			}
			if done {
				return
			}
		}
	}()
	return out
}

// SystemContext renders the system entry that seeds the conversation. The
// same text is the first message the client receives.
func SystemContext(issue domain.Issue) string {
	kind := "issue"
	if issue.Kind == domain.KindPullRequest {
		kind = "pull request"
	}
	var b strings.Builder
	b.WriteString("You are a helpful assistant for triaging GitHub issues. ")
	fmt.Fprintf(&b, "The user is asking about the following %s.\n\n", kind)
	fmt.Fprintf(&b, "Title: %s\n", issue.Title)
	fmt.Fprintf(&b, "Type: %s\n", kind)
	fmt.Fprintf(&b, "Urgency: %d (1 = not very urgent, 4 = extremely urgent)\n", issue.UrgencyLevel())
	if issue.State != "" {
		fmt.Fprintf(&b, "State: %s\n", issue.State)
	}
	if issue.RepoName != "" {
		fmt.Fprintf(&b, "Repository: %s\n", issue.RepoName)
	}
	if issue.UserLogin != "" {
		fmt.Fprintf(&b, "Opened by: %s\n", issue.UserLogin)
	}
	if len(issue.Labels) > 0 {
		fmt.Fprintf(&b, "Labels: %s\n", strings.Join(issue.Labels, ", "))
	}
	b.WriteString("\n" + strings.TrimSpace(issue.Body))
	return b.String()
}
