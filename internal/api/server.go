// Package api provides the HTTP API and middleware for launchkit.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/launchkit-dev/launchkit/internal/assistant"
	"github.com/launchkit-dev/launchkit/internal/auth"
	"github.com/launchkit-dev/launchkit/internal/billing"
	"github.com/launchkit-dev/launchkit/internal/config"
	"github.com/launchkit-dev/launchkit/internal/store"
)

// Deps are the services the API exposes. Assistant may be nil, in which
// case the assistant routes are not mounted.
type Deps struct {
	Store     store.Store
	Auth      auth.Provider
	Billing   *billing.Service
	Webhook   http.Handler
	Assistant *assistant.Service
}

// Server is the HTTP API server.
type Server struct {
	store        store.Store
	authProvider auth.Provider
	login        auth.LoginProvider
	billing      *billing.Service
	assistant    *assistant.Service
	logger       *slog.Logger
	mux          *chi.Mux
	cookieName   string
	maxBodyBytes int64
	startTime    time.Time
}

// NewServer creates a new API server.
func NewServer(d Deps, cfg *config.Config, logger *slog.Logger) *Server {
	srv := &Server{
		store:        d.Store,
		authProvider: d.Auth,
		billing:      d.Billing,
		assistant:    d.Assistant,
		logger:       logger.With("component", "api"),
		cookieName:   cfg.Auth.CookieName,
		maxBodyBytes: cfg.Server.MaxBodyBytes,
		startTime:    time.Now(),
	}
	if lp, ok := d.Auth.(auth.LoginProvider); ok {
		srv.login = lp
	}

	mux := chi.NewRouter()
	mux.Use(chimw.RequestID)
	mux.Use(chimw.RealIP)
	mux.Use(srv.requestLogger)
	mux.Use(chimw.Recoverer)
	if cfg.Server.RequestTimeout.Duration > 0 {
		mux.Use(chimw.Timeout(cfg.Server.RequestTimeout.Duration))
	}
	mux.Use(securityHeadersMiddleware)
	mux.Use(makeCORSMiddleware(cfg.Server.AllowedOrigins))

	// Health and metrics (unauthenticated)
	mux.Get("/healthz", srv.handleHealthz)
	mux.Get("/readyz", srv.handleReadyz)
	mux.Handle("/metrics", promhttp.Handler())

	mux.Get("/api/auth/config", srv.handleAuthConfig)
	// Signup and login only exist with builtin auth.
	if srv.login != nil {
		mux.Post("/api/auth/signup", srv.handleSignup)
		mux.Post("/api/auth/login", srv.handleLogin)
	}

	mux.Get("/api/billing/plans", srv.handleListPlans)
	// Authenticated by signature, not by user token.
	mux.Method(http.MethodPost, "/api/webhooks/processor", d.Webhook)

	// JSON API
	mux.Group(func(r chi.Router) {
		r.Use(srv.authMiddleware)

		r.Get("/api/me", srv.handleGetMe)
		r.Get("/api/billing/subscription", srv.handleGetSubscription)
		r.Get("/api/dashboard", srv.handleDashboard)

		if srv.assistant != nil {
			r.Post("/api/ai/completions", srv.handleCompletion)
			r.Get("/api/ai/history", srv.handleAIHistory)
		}
	})

	// Form actions that hand the browser over to hosted pages.
	mux.Group(func(r chi.Router) {
		r.Use(srv.actionAuthMiddleware)

		r.Post("/api/billing/checkout", srv.handleCheckout)
		r.Post("/api/billing/portal", srv.handlePortal)
	})

	srv.mux = mux
	return srv
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// --- Health ---

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"uptime": time.Since(s.startTime).Truncate(time.Second).String(),
	})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// --- Auth ---

func (s *Server) handleAuthConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"provider": s.authProvider.Name()})
}

type authResponse struct {
	Token string      `json:"token"`
	User  *store.User `json:"user,omitempty"`
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req auth.SignupRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	user, token, err := s.login.Signup(r.Context(), req)
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, auth.ErrUserExists):
		writeError(w, http.StatusConflict, "user already exists")
		return
	case err != nil:
		s.logger.Error("signup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "signup failed")
		return
	}

	s.logger.Info("user signed up", "user_id", user.ID)
	writeJSON(w, http.StatusCreated, authResponse{Token: token, User: user})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	token, err := s.login.Login(r.Context(), req)
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	case err != nil:
		s.logger.Error("login failed", "error", err)
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}
	writeJSON(w, http.StatusOK, authResponse{Token: token})
}

func (s *Server) handleGetMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, identityResponse(getIdentityFromContext(r.Context())))
}

type meResponse struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

func identityResponse(id *auth.Identity) meResponse {
	return meResponse{ID: id.UserID, Email: id.Email, Name: id.Name}
}

// --- Helpers ---

// decodeJSON reads a size-limited JSON body into v. It writes a 400 and
// returns false when the body is unreadable.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
