// Package urgency asks the chat model to rate how urgent an issue is.
package urgency

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/time/rate"

	"github.com/WessleyAI/issuescope/engine/domain"
	"github.com/WessleyAI/issuescope/pkg/llm"
)

const systemPrompt = "Rate the Urgency from the given Issue or Pull Request. Respond with one number only. 1 = not very urgent, 4 = extremely urgent."

// Scorer rates issues through a rate-limited chat model.
type Scorer struct {
	chat    llm.Chatter
	model   string
	limiter *rate.Limiter
	logger  *slog.Logger
}

// New creates a Scorer allowing perSecond model calls per second (burst 1).
// perSecond <= 0 disables limiting.
func New(chat llm.Chatter, model string, perSecond float64, logger *slog.Logger) *Scorer {
	lim := rate.NewLimiter(rate.Inf, 1)
	if perSecond > 0 {
		lim = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scorer{chat: chat, model: model, limiter: lim, logger: logger}
}

// Prompt builds the user turn for an issue.
func Prompt(title, body string) string {
	return fmt.Sprintf("This is the title of the issue or pull request: '%s' and the body: '%s'", title, body)
}

// Score returns the model's raw reply, trimmed. The reply is stored as-is;
// readers fall back to domain.DefaultUrgency when it does not parse.
func (s *Scorer) Score(ctx context.Context, issue domain.Issue) (string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("urgency: wait: %w", err)
	}
	reply, err := llm.Complete(ctx, s.chat, llm.ChatRequest{
		Model: s.model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: systemPrompt},
			{Role: llm.RoleUser, Content: Prompt(issue.Title, issue.Body)},
		},
		Temperature: 1,
		MaxTokens:   1,
	})
	if err != nil {
		return "", fmt.Errorf("urgency: %s: %w", issue.IssueID, err)
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", fmt.Errorf("urgency: %s: %w", issue.IssueID, llm.ErrEmptyResponse)
	}
	if _, ok := domain.ParseUrgency(reply); !ok {
		s.logger.Warn("unparsable urgency reply", "issue_id", issue.IssueID, "reply", reply)
	}
	return reply, nil
}
