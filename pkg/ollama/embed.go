// Package ollama implements llm.Provider using Ollama's HTTP API.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/WessleyAI/issuescope/pkg/llm"
)

// Client calls /api/embeddings and /api/chat on an Ollama server.
type Client struct {
	baseURL    string
	embedModel string
	client     *http.Client
}

// New creates an Ollama client.
func New(baseURL, embedModel string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		embedModel: embedModel,
		client:     &http.Client{},
	}
}

var _ llm.Provider = (*Client)(nil)

type embedReq struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResp struct {
	Embedding []float64 `json:"embedding"`
}

func (c *Client) embed(ctx context.Context, text string) ([]float32, error) {
	body, _ := json.Marshal(embedReq{Model: c.embedModel, Prompt: text})
	resp, err := c.post(ctx, "/api/embeddings", body)
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	defer resp.Body.Close()

	var result embedResp
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("ollama embed decode: %w", err)
	}

	out := make([]float32, len(result.Embedding))
	for i, v := range result.Embedding {
		out[i] = float32(v)
	}
	return out, nil
}

// Embed embeds each text in turn; Ollama's embeddings endpoint takes one prompt.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vals, err := c.embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed batch [%d]: %w", i, err)
		}
		out[i] = vals
	}
	return out, nil
}

type chatReq struct {
	Model    string         `json:"model"`
	Messages []llm.Message  `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

// ChatStream starts a streamed /api/chat call.
func (c *Client) ChatStream(ctx context.Context, req llm.ChatRequest) (llm.Stream, error) {
	opts := map[string]any{"temperature": req.Temperature}
	if req.MaxTokens > 0 {
		opts["num_predict"] = req.MaxTokens
	}
	body, _ := json.Marshal(chatReq{Model: req.Model, Messages: req.Messages, Stream: true, Options: opts})
	resp, err := c.post(ctx, "/api/chat", body)
	if err != nil {
		return nil, fmt.Errorf("ollama chat: %w", err)
	}
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	return &ndjsonStream{body: resp.Body, sc: sc}, nil
}

func (c *Client) post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		resp.Body.Close()
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return resp, nil
}

// ndjsonStream decodes one JSON chunk per line until a chunk reports done.
type ndjsonStream struct {
	body io.ReadCloser
	sc   *bufio.Scanner
	done bool
}

func (s *ndjsonStream) Recv() (string, bool, error) {
	for !s.done && s.sc.Scan() {
		line := s.sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var chunk struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			Done  bool   `json:"done"`
			Error string `json:"error"`
		}
		if err := json.Unmarshal(line, &chunk); err != nil {
			continue
		}
		if chunk.Error != "" {
			s.done = true
			return "", true, fmt.Errorf("ollama stream: %s", chunk.Error)
		}
		if chunk.Done {
			s.done = true
			return chunk.Message.Content, chunk.Message.Content == "", nil
		}
		if chunk.Message.Content != "" {
			return chunk.Message.Content, false, nil
		}
	}
	s.done = true
	if err := s.sc.Err(); err != nil {
		return "", true, fmt.Errorf("ollama stream: %w", err)
	}
	return "", true, nil
}

func (s *ndjsonStream) Close() error { return s.body.Close() }
