// Package ai asks an OpenAI-compatible chat-completions endpoint to write
// milestone celebration lines. Callers treat any failure as absence and fall
// back to their static templates.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL   = "https://api.openai.com/v1"
	defaultModel     = "gpt-4o-mini"
	defaultMaxTokens = 60

	// maxReplyChars keeps generated lines inside a single IRC message.
	maxReplyChars = 200
)

// Client calls the chat-completions API. The zero value is not usable; set at
// least APIKey.
type Client struct {
	APIKey    string
	Model     string
	BaseURL   string
	MaxTokens int
	// HTTPClient overrides the default 10s-timeout client, for tests.
	HTTPClient *http.Client
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (c *Client) base() string {
	if c.BaseURL != "" {
		return strings.TrimRight(c.BaseURL, "/")
	}
	return defaultBaseURL
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

// Generate writes one celebration line for a milestone crossing. The result
// is collapsed to a single line and capped to chat length.
func (c *Client) Generate(ctx context.Context, username string, threshold int64) (string, error) {
	model := c.Model
	if model == "" {
		model = defaultModel
	}
	maxTokens := c.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	body, err := json.Marshal(chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: "You write one short hype Twitch chat line celebrating a viewer's emote milestone. Under 25 words, no quotes, no hashtags."},
			{Role: "user", Content: fmt.Sprintf("%s just used their %dth emote in this channel.", username, threshold)},
		},
		MaxTokens:   maxTokens,
		Temperature: 0.8,
	})
	if err != nil {
		return "", fmt.Errorf("marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base()+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.http().Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			slog.Warn("close response body", slog.Any("err", cerr))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("completion request: unexpected status %s: %s", resp.Status, snippet)
	}
	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode completion response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("completion response has no choices")
	}
	return clampLine(out.Choices[0].Message.Content), nil
}

// clampLine collapses whitespace to single spaces and truncates to chat
// length on a rune boundary.
func clampLine(s string) string {
	line := strings.Join(strings.Fields(s), " ")
	runes := []rune(line)
	if len(runes) > maxReplyChars {
		line = string(runes[:maxReplyChars])
	}
	return line
}
