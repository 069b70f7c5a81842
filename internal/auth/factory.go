package auth

import (
	"context"
	"fmt"

	"github.com/launchkit-dev/launchkit/internal/config"
)

// NewProvider creates an auth Provider based on configuration. The jwks
// provider refreshes its key set until ctx is canceled.
func NewProvider(ctx context.Context, cfg config.AuthConfig, users Users) (Provider, error) {
	switch cfg.Provider {
	case "jwks":
		p, err := NewJWKSProvider(ctx, cfg, users)
		if err != nil {
			return nil, err
		}
		return p, nil
	case "builtin", "":
		return NewService(users, cfg), nil
	default:
		return nil, fmt.Errorf("unknown auth provider: %q", cfg.Provider)
	}
}
