// Package assistant answers single-shot prompts with a hosted LLM and keeps
// a per-user log of requests, tokens and approximate cost.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/launchkit-dev/launchkit/internal/metrics"
	"github.com/launchkit-dev/launchkit/internal/store"
)

// HistoryLimit is how many past requests History returns.
const HistoryLimit = 10

// costPer1KTokens is the approximate USD price used for the request log.
const costPer1KTokens = 0.002

// ErrInvalidPrompt is returned for empty or overlong prompts.
var ErrInvalidPrompt = errors.New("invalid prompt")

var validate = validator.New()

// Completer produces a completion for a prompt. *Client implements it.
type Completer interface {
	Complete(ctx context.Context, prompt string) (*Completion, error)
}

// RequestLog persists assistant requests.
type RequestLog interface {
	CreateAIRequest(ctx context.Context, req *store.AIRequest) error
	ListAIRequests(ctx context.Context, userID string, limit int) ([]store.AIRequest, error)
}

// PromptRequest is the body of POST /api/ai/completions.
type PromptRequest struct {
	Prompt string `json:"prompt" validate:"required,min=1,max=1000"`
}

// Result is returned to the caller after a completion.
type Result struct {
	Response string `json:"response"`
	Tokens   int    `json:"tokens"`
}

// Service runs completions and records them.
type Service struct {
	llm    Completer
	log    RequestLog
	logger *slog.Logger
}

// NewService creates an assistant service.
func NewService(llm Completer, log RequestLog, logger *slog.Logger) *Service {
	return &Service{llm: llm, log: log, logger: logger.With("component", "assistant")}
}

// Generate validates the prompt, asks the model and logs the request.
func (s *Service) Generate(ctx context.Context, userID string, req PromptRequest) (*Result, error) {
	req.Prompt = strings.TrimSpace(req.Prompt)
	if err := validate.Struct(req); err != nil {
		metrics.AssistantRequestsTotal.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrompt, err)
	}

	c, err := s.llm.Complete(ctx, req.Prompt)
	if err != nil {
		metrics.AssistantRequestsTotal.WithLabelValues("failed").Inc()
		s.logger.Error("completion failed", "user_id", userID, "error", err)
		return nil, err
	}
	metrics.AssistantRequestsTotal.WithLabelValues("ok").Inc()
	metrics.AssistantTokensTotal.Add(float64(c.Tokens))

	rec := &store.AIRequest{
		ID:        uuid.New().String(),
		UserID:    userID,
		Prompt:    req.Prompt,
		Response:  c.Content,
		Model:     c.Model,
		Tokens:    c.Tokens,
		Cost:      Cost(c.Tokens),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.log.CreateAIRequest(ctx, rec); err != nil {
		return nil, fmt.Errorf("log request: %w", err)
	}

	s.logger.Info("completion generated", "user_id", userID, "model", c.Model, "tokens", c.Tokens)
	return &Result{Response: c.Content, Tokens: c.Tokens}, nil
}

// History returns the user's most recent requests, newest first.
func (s *Service) History(ctx context.Context, userID string) ([]store.AIRequest, error) {
	reqs, err := s.log.ListAIRequests(ctx, userID, HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	if reqs == nil {
		reqs = []store.AIRequest{}
	}
	return reqs, nil
}

// Cost approximates the USD cost of tokens.
func Cost(tokens int) float64 {
	return float64(tokens) / 1000 * costPer1KTokens
}
