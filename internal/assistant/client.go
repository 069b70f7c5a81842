package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/launchkit-dev/launchkit/internal/breaker"
)

var (
	// ErrUnavailable means the LLM API could not be reached, failed
	// server-side, throttled us, or the breaker is open.
	ErrUnavailable = errors.New("assistant: provider unavailable")
	// ErrRejected means the LLM API refused the request (4xx).
	ErrRejected = errors.New("assistant: provider rejected request")
)

// ClientConfig configures a chat-completions Client.
type ClientConfig struct {
	APIKey    string
	BaseURL   string // e.g. "https://api.openai.com/v1"
	Model     string
	MaxTokens int
	Timeout   time.Duration
	Breaker   breaker.Settings
}

// Client calls an OpenAI-compatible chat completions endpoint.
type Client struct {
	apiKey    string
	endpoint  string
	model     string
	maxTokens int
	http      *http.Client
	cb        *gobreaker.CircuitBreaker[any]
}

// NewClient creates a chat-completions client.
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	bs := cfg.Breaker
	if bs.Name == "" {
		bs.Name = "assistant"
	}
	bs.IsSuccessful = func(err error) bool {
		return err == nil || errors.Is(err, ErrRejected)
	}
	return &Client{
		apiKey:    cfg.APIKey,
		endpoint:  strings.TrimRight(cfg.BaseURL, "/") + "/chat/completions",
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		http:      &http.Client{Timeout: timeout},
		cb:        breaker.New(bs, logger.With("component", "assistant")),
	}
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Completion is a single-shot model answer.
type Completion struct {
	Content string
	Model   string
	Tokens  int
}

// Complete sends prompt as a single user message.
func (c *Client) Complete(ctx context.Context, prompt string) (*Completion, error) {
	res, err := c.cb.Execute(func() (any, error) {
		return c.complete(ctx, prompt)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		return nil, err
	}
	return res.(*Completion), nil
}

func (c *Client) complete(ctx context.Context, prompt string) (*Completion, error) {
	body, err := json.Marshal(chatRequest{
		Model:     c.model,
		Messages:  []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens: c.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", ErrUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := string(respBody)
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			msg = apiErr.Error.Message
		}
		kind := ErrUnavailable
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			kind = ErrRejected
		}
		return nil, fmt.Errorf("%w: status %d: %s", kind, resp.StatusCode, msg)
	}

	var out chatResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("%w: parse response: %w", ErrUnavailable, err)
	}

	var content string
	if len(out.Choices) > 0 {
		content = out.Choices[0].Message.Content
	}
	model := out.Model
	if model == "" {
		model = c.model
	}
	return &Completion{
		Content: content,
		Model:   model,
		Tokens:  out.Usage.TotalTokens,
	}, nil
}
