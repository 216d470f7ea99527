package reasoning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/kazz187/taskforge/internal/config"
)

const (
	completionsPath = "/api/v1/chat/completions"
	refererHeader   = "https://github.com/kazz187/taskforge"

	// Guards against a misbehaving service streaming an unbounded body.
	maxResponseBytes = 4 * 1024 * 1024
)

// OpenRouter speaks the OpenRouter chat-completions API. One request per
// Complete call; the answer is the first choice's message content.
type OpenRouter struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

func NewOpenRouter(env *config.ReasoningEnv) *OpenRouter {
	return &OpenRouter{
		baseURL: strings.TrimRight(env.BaseURL, "/"),
		apiKey:  env.APIKey,
		model:   env.Model,
		client:  &http.Client{Timeout: env.RequestTimeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	TopP        float64       `json:"top_p"`
	Stop        []string      `json:"stop,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (o *OpenRouter) Complete(ctx context.Context, req *Request) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Model:       o.model,
		Messages:    []chatMessage{{Role: "user", Content: req.Prompt}},
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.Stop,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode reasoning request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+completionsPath, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build reasoning request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("HTTP-Referer", refererHeader)

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return "", &TransientError{Err: fmt.Errorf("reasoning request failed: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", &TransientError{Err: fmt.Errorf("failed to read reasoning response: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return "", &TransientError{Err: fmt.Errorf("reasoning service returned %d: %s", resp.StatusCode, trimBody(body))}
	default:
		return "", fmt.Errorf("reasoning service returned %d: %s", resp.StatusCode, trimBody(body))
	}

	var out chatResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", &MalformedError{Err: fmt.Errorf("failed to decode reasoning response: %w", err)}
	}
	if len(out.Choices) == 0 {
		return "", &MalformedError{Err: fmt.Errorf("reasoning response has no choices")}
	}
	return out.Choices[0].Message.Content, nil
}

func trimBody(body []byte) string {
	const limit = 256
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
