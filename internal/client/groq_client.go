package client

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

	"github.com/podforge/api/internal/apperr"
	"github.com/podforge/api/internal/config"
)

const (
	defaultTemperature = 0.7
	defaultMaxTokens   = 1024

	// finishLength is the finish reason of a completion cut at max tokens.
	finishLength = "length"
)

// GroqClient calls the OpenAI-compatible chat completion endpoint of Groq.
// It backs research analysis and script generation.
type GroqClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

// Completion is one single-turn request: a system instruction and a prompt.
// Zero Temperature and MaxTokens fall back to the defaults.
type Completion struct {
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// CompletionResult is the first choice of a completion.
type CompletionResult struct {
	Text             string
	FinishReason     string
	PromptTokens     int
	CompletionTokens int
}

// Truncated reports whether the model stopped at the token limit.
func (r *CompletionResult) Truncated() bool {
	return r.FinishReason == finishLength
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func NewGroqClient(cfg *config.GroqConfig) *GroqClient {
	return &GroqClient{
		httpClient: &http.Client{Timeout: 120 * time.Second},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
	}
}

// Complete runs one chat completion. Non-2xx answers come back as
// *apperr.ProviderError, transient for 429 and 5xx.
func (c *GroqClient) Complete(ctx context.Context, req Completion) (*CompletionResult, error) {
	body := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.Prompt},
		},
		Temperature: defaultTemperature,
		MaxTokens:   defaultMaxTokens,
	}
	if req.Temperature > 0 {
		body.Temperature = req.Temperature
	}
	if req.MaxTokens > 0 {
		body.MaxTokens = req.MaxTokens
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal completion request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create completion request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("groq request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		perr := apperr.NewStatusError("groq", resp.StatusCode, errorMessage(resp.Body))
		perr.Transient = perr.Transient || resp.StatusCode == http.StatusTooManyRequests
		return nil, perr
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode completion: %w", err)
	}
	if len(out.Choices) == 0 {
		return nil, errors.New("groq returned no choices")
	}
	return &CompletionResult{
		Text:             out.Choices[0].Message.Content,
		FinishReason:     out.Choices[0].FinishReason,
		PromptTokens:     out.Usage.PromptTokens,
		CompletionTokens: out.Usage.CompletionTokens,
	}, nil
}

// errorMessage extracts error.message from a failed response, falling back
// to the raw body.
func errorMessage(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, 4096))
	var e errorResponse
	if json.Unmarshal(raw, &e) == nil && e.Error.Message != "" {
		return e.Error.Message
	}
	return strings.TrimSpace(string(raw))
}

func (c *GroqClient) IsConfigured() bool {
	return c.apiKey != ""
}
