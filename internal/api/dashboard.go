package api

import (
	"net/http"

	"github.com/launchkit-dev/launchkit/internal/assistant"
	"github.com/launchkit-dev/launchkit/internal/billing"
	"github.com/launchkit-dev/launchkit/internal/store"
)

type dashboardResponse struct {
	User             meResponse        `json:"user"`
	Billing          *billing.View     `json:"billing"`
	AssistantEnabled bool              `json:"assistant_enabled"`
	AIRequestCount   int               `json:"ai_request_count"`
	RecentRequests   []store.AIRequest `json:"recent_requests"`
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	identity := getIdentityFromContext(r.Context())

	view, err := s.billing.View(r.Context(), identity.UserID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	recent, err := s.store.ListAIRequests(r.Context(), identity.UserID, assistant.HistoryLimit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if recent == nil {
		recent = []store.AIRequest{}
	}
	count, err := s.store.CountAIRequests(r.Context(), identity.UserID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, dashboardResponse{
		User:             identityResponse(identity),
		Billing:          view,
		AssistantEnabled: s.assistant != nil,
		AIRequestCount:   count,
		RecentRequests:   recent,
	})
}

func (s *Server) handleCompletion(w http.ResponseWriter, r *http.Request) {
	identity := getIdentityFromContext(r.Context())
	var req assistant.PromptRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	res, err := s.assistant.Generate(r.Context(), identity.UserID, req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAIHistory(w http.ResponseWriter, r *http.Request) {
	identity := getIdentityFromContext(r.Context())
	reqs, err := s.assistant.History(r.Context(), identity.UserID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]store.AIRequest{"requests": reqs})
}
