package api

import (
	"net/http"

	"github.com/launchkit-dev/launchkit/internal/billing"
)

func (s *Server) handleListPlans(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]billing.Plan{"plans": s.billing.Catalog().Plans()})
}

func (s *Server) handleGetSubscription(w http.ResponseWriter, r *http.Request) {
	identity := getIdentityFromContext(r.Context())
	view, err := s.billing.View(r.Context(), identity.UserID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleCheckout starts a hosted checkout for the form field plan_id and
// redirects the browser to it.
func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	identity := getIdentityFromContext(r.Context())
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form")
		return
	}

	url, err := s.billing.StartCheckout(r.Context(), identity.UserID, identity.Email, r.PostFormValue("plan_id"))
	if err != nil {
		s.writeActionError(w, r, err)
		return
	}
	http.Redirect(w, r, url, http.StatusSeeOther)
}

func (s *Server) handlePortal(w http.ResponseWriter, r *http.Request) {
	identity := getIdentityFromContext(r.Context())
	url, err := s.billing.StartPortal(r.Context(), identity.UserID)
	if err != nil {
		s.writeActionError(w, r, err)
		return
	}
	http.Redirect(w, r, url, http.StatusSeeOther)
}
