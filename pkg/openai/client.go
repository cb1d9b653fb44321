// Package openai implements llm.Provider against an OpenAI-compatible HTTP API.
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/WessleyAI/issuescope/pkg/llm"
)

// DefaultBaseURL is the public OpenAI endpoint.
const DefaultBaseURL = "https://api.openai.com/v1"

// Client talks to /chat/completions and /embeddings.
type Client struct {
	baseURL    string
	apiKey     string
	embedModel string
	http       *http.Client
}

// New creates a client. An empty baseURL selects DefaultBaseURL.
func New(baseURL, apiKey, embedModel string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		embedModel: embedModel,
		// No overall timeout: chat streams stay open for as long as the
		// model generates. Callers bound requests through ctx.
		http: &http.Client{Transport: http.DefaultTransport},
	}
}

var _ llm.Provider = (*Client)(nil)

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []llm.Message `json:"messages"`
	Temperature float32       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream"`
}

// ChatStream starts a streamed chat completion.
func (c *Client) ChatStream(ctx context.Context, req llm.ChatRequest) (llm.Stream, error) {
	body, err := json.Marshal(chatRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("openai chat: encode: %w", err)
	}
	resp, err := c.post(ctx, "/chat/completions", body)
	if err != nil {
		return nil, fmt.Errorf("openai chat: %w", err)
	}
	return &sseStream{body: resp.Body, r: bufio.NewReader(resp.Body)}, nil
}

// Embed returns one embedding per input text.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	body, err := json.Marshal(map[string]any{"model": c.embedModel, "input": texts})
	if err != nil {
		return nil, fmt.Errorf("openai embed: encode: %w", err)
	}
	resp, err := c.post(ctx, "/embeddings", body)
	if err != nil {
		return nil, fmt.Errorf("openai embed: %w", err)
	}
	defer resp.Body.Close()

	var out struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("openai embed: decode: %w", err)
	}
	if len(out.Data) != len(texts) {
		return nil, fmt.Errorf("openai embed: got %d embeddings for %d inputs", len(out.Data), len(texts))
	}
	sort.Slice(out.Data, func(i, j int) bool { return out.Data[i].Index < out.Data[j].Index })
	res := make([][]float32, len(out.Data))
	for i, d := range out.Data {
		res[i] = d.Embedding
	}
	return res, nil
}

func (c *Client) post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		resp.Body.Close()
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return resp, nil
}

// errTruncated means the event stream ended before [DONE] or a finish reason.
var errTruncated = errors.New("openai stream: ended before completion")

// sseStream decodes `data:` lines of a chat-completion event stream.
type sseStream struct {
	body     io.ReadCloser
	r        *bufio.Reader
	done     bool
	finished bool // a choice carried a finish_reason
}

type streamEvent struct {
	Choices []struct {
		Delta struct {
			Content *string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (s *sseStream) Recv() (string, bool, error) {
	for !s.done {
		line, err := s.r.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			s.done = true
			if !errors.Is(err, io.EOF) {
				return "", true, fmt.Errorf("openai stream: %w", err)
			}
			if !s.finished {
				return "", true, errTruncated
			}
			return "", true, nil
		}
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			s.done = true
			return "", true, nil
		}
		var evt streamEvent
		if err := json.Unmarshal([]byte(payload), &evt); err != nil {
			s.done = true
			return "", true, fmt.Errorf("openai stream: decode event: %w", err)
		}
		if evt.Error != nil {
			s.done = true
			return "", true, fmt.Errorf("openai stream: %s: %s", evt.Error.Type, evt.Error.Message)
		}
		if len(evt.Choices) == 0 {
			continue
		}
		ch := evt.Choices[0]
		if ch.FinishReason != nil && *ch.FinishReason != "" {
			s.finished = true
		}
		if ch.Delta.Content != nil && *ch.Delta.Content != "" {
			return *ch.Delta.Content, false, nil
		}
	}
	return "", true, nil
}

func (s *sseStream) Close() error { return s.body.Close() }
