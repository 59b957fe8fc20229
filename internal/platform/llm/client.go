// Package llm is an OpenAI-compatible chat-completions client used to
// extract order fields from free text.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/polyexec/internal/intent"
)

const systemPrompt = `You extract Polymarket trade orders from user text.
Reply with exactly one JSON object and no prose. Allowed keys:
token_id (string), market (string, market name or slug), outcome ("YES"/"NO" or the outcome label),
side ("BUY"/"SELL"), price (number or string as written, keep "$" if the user wrote one),
size (number, or "all"/"half"), order_type ("LIMIT"/"MARKET"), error (string).
Omit keys the text does not mention. If the text is not a trade request, set only error.`

// Prompt is a system/user message pair.
type Prompt struct {
	System string
	User   string
}

// Client calls POST {baseURL}/chat/completions in JSON mode.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

var _ intent.Extractor = (*Client)(nil)

// NewClient creates an extractor client. timeout bounds each HTTP call; the
// resolver applies its own deadline on top.
func NewClient(baseURL, apiKey, model string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Extract implements intent.Extractor.
func (c *Client) Extract(ctx context.Context, text string) (intent.ExtractorOutput, error) {
	raw, err := c.Generate(ctx, Prompt{System: systemPrompt, User: text})
	if err != nil {
		return intent.ExtractorOutput{}, err
	}
	return parseOutput(raw)
}

// Generate sends one prompt and returns the first choice's content.
func (c *Client) Generate(ctx context.Context, p Prompt) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: p.System},
			{Role: "user", Content: p.User},
		},
		ResponseFormat: map[string]string{"type": "json_object"},
	})
	if err != nil {
		return "", fmt.Errorf("llm: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("llm: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm: chat completion: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("llm: read response: %w", err)
	}

	var out chatResponse
	decodeErr := json.Unmarshal(respBody, &out)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if decodeErr == nil && out.Error != nil {
			return "", fmt.Errorf("llm: chat completion: HTTP %d: %s", resp.StatusCode, out.Error.Message)
		}
		return "", fmt.Errorf("llm: chat completion: HTTP %d", resp.StatusCode)
	}
	if decodeErr != nil {
		return "", fmt.Errorf("llm: decode response: %w", decodeErr)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("llm: chat completion: no choices")
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}

// parseOutput decodes model output, tolerating a fenced code block.
func parseOutput(raw string) (intent.ExtractorOutput, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSuffix(strings.TrimSpace(raw), "```")
	}
	var out intent.ExtractorOutput
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return intent.ExtractorOutput{}, fmt.Errorf("llm: parse extractor output: %w", err)
	}
	return out, nil
}
