package auth

import (
	"context"

	"github.com/launchkit-dev/launchkit/internal/store"
)

// Identity is the unified identity representation for all auth providers.
type Identity struct {
	UserID string
	Email  string
	Name   string
}

// Provider validates bearer tokens and returns identities.
type Provider interface {
	ValidateToken(ctx context.Context, token string) (*Identity, error)
	Name() string
}

// LoginProvider is implemented by providers that manage passwords locally.
type LoginProvider interface {
	Signup(ctx context.Context, req SignupRequest) (*store.User, string, error)
	Login(ctx context.Context, req LoginRequest) (string, error)
}

// SignupRequest is the body of POST /api/auth/signup.
type SignupRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	Name     string `json:"name" validate:"max=100"`
}

// LoginRequest is the body of POST /api/auth/login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}
