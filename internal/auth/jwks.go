package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"github.com/launchkit-dev/launchkit/internal/config"
	"github.com/launchkit-dev/launchkit/internal/store"
)

// JWKSProvider validates tokens issued by a hosted auth service
// (Supabase, Clerk, Auth0, ...) against its published key set.
// The first valid token for a subject creates the local user row.
type JWKSProvider struct {
	jwks     keyfunc.Keyfunc
	issuer   string
	audience string
	users    Users
}

// NewJWKSProvider fetches the key set at cfg.JWKSURL and keeps it refreshed
// until ctx is canceled.
func NewJWKSProvider(ctx context.Context, cfg config.AuthConfig, users Users) (*JWKSProvider, error) {
	if cfg.JWKSURL == "" {
		return nil, fmt.Errorf("jwks url is required")
	}
	jwks, err := keyfunc.NewDefaultCtx(ctx, []string{cfg.JWKSURL})
	if err != nil {
		return nil, fmt.Errorf("fetch JWKS from %s: %w", cfg.JWKSURL, err)
	}
	return newJWKSProvider(jwks, cfg, users), nil
}

func newJWKSProvider(jwks keyfunc.Keyfunc, cfg config.AuthConfig, users Users) *JWKSProvider {
	return &JWKSProvider{
		jwks:     jwks,
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		users:    users,
	}
}

// Name returns the provider name.
func (p *JWKSProvider) Name() string { return "jwks" }

// ValidateToken parses an externally issued JWT and returns an Identity.
func (p *JWKSProvider) ValidateToken(ctx context.Context, tokenStr string) (*Identity, error) {
	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if p.issuer != "" {
		opts = append(opts, jwt.WithIssuer(p.issuer))
	}
	if p.audience != "" {
		opts = append(opts, jwt.WithAudience(p.audience))
	}

	token, err := jwt.Parse(tokenStr, p.jwks.KeyfuncCtx(ctx), opts...)
	if err != nil {
		return nil, ErrUnauthorized
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrUnauthorized
	}

	sub := claimStr(claims, "sub")
	if sub == "" {
		return nil, ErrUnauthorized
	}

	id := &Identity{
		UserID: sub,
		Email:  normalizeEmail(claimStr(claims, "email")),
		Name:   displayName(claims),
	}

	err = p.users.EnsureUser(ctx, &store.User{
		ID:        id.UserID,
		Email:     id.Email,
		Name:      id.Name,
		CreatedAt: time.Now().UTC(),
	})
	if errors.Is(err, store.ErrUserExists) {
		return nil, fmt.Errorf("%w: %s is registered to another account", ErrUserExists, id.Email)
	}
	if err != nil {
		return nil, fmt.Errorf("ensure user %s: %w", id.UserID, err)
	}
	return id, nil
}

// displayName builds a human-readable name from the claims hosted
// providers commonly emit.
func displayName(claims jwt.MapClaims) string {
	switch {
	case claimStr(claims, "name") != "":
		return claimStr(claims, "name")
	case claimStr(claims, "first_name") != "" || claimStr(claims, "last_name") != "":
		return strings.TrimSpace(claimStr(claims, "first_name") + " " + claimStr(claims, "last_name"))
	}
	if meta, ok := claims["user_metadata"].(map[string]any); ok {
		if v, _ := meta["full_name"].(string); v != "" {
			return v
		}
	}
	return ""
}

// claimStr extracts a string claim or returns "".
func claimStr(claims jwt.MapClaims, key string) string {
	v, _ := claims[key].(string)
	return v
}
