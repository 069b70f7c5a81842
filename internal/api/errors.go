package api

import (
	"errors"
	"net/http"

	"github.com/launchkit-dev/launchkit/internal/assistant"
	"github.com/launchkit-dev/launchkit/internal/auth"
	"github.com/launchkit-dev/launchkit/internal/billing"
	"github.com/launchkit-dev/launchkit/internal/processor"
	"github.com/launchkit-dev/launchkit/internal/store"
)

// statusFor maps service errors onto HTTP statuses and client-safe messages.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, auth.ErrUserExists):
		return http.StatusConflict, "email is registered to another account"
	case errors.Is(err, billing.ErrUnknownPlan):
		return http.StatusBadRequest, "unknown plan"
	case errors.Is(err, billing.ErrNoCustomer):
		return http.StatusConflict, "no billing account yet, start a checkout first"
	case errors.Is(err, assistant.ErrInvalidPrompt):
		return http.StatusBadRequest, "prompt must be between 1 and 1000 characters"
	case errors.Is(err, processor.ErrSignature):
		return http.StatusBadRequest, "invalid signature"
	case errors.Is(err, processor.ErrUnavailable), errors.Is(err, processor.ErrRejected):
		return http.StatusBadGateway, "payment processor error"
	case errors.Is(err, assistant.ErrUnavailable), errors.Is(err, assistant.ErrRejected):
		return http.StatusBadGateway, "failed to generate completion"
	case errors.Is(err, store.ErrConflict):
		return http.StatusInternalServerError, "billing account conflict"
	}
	return http.StatusInternalServerError, "internal error"
}

// writeServiceError answers JSON API calls.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusFor(err)
	s.logFailure(r, status, err)
	writeError(w, status, msg)
}

// writeActionError answers form actions: unauthenticated browsers go to
// the login page, everything else is a JSON error.
func (s *Server) writeActionError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, auth.ErrUnauthorized) {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}
	s.writeServiceError(w, r, err)
}

func (s *Server) logFailure(r *http.Request, status int, err error) {
	switch {
	case status >= 500:
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	case status != http.StatusUnauthorized:
		s.logger.Warn("request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
}
