package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/launchkit-dev/launchkit/internal/config"
	"github.com/launchkit-dev/launchkit/internal/store"
)

const testJWTSecret = "test-secret-at-least-32-chars-long"

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestAuthService(t *testing.T, expiry time.Duration) (*Service, *store.SQLiteStore) {
	t.Helper()
	s := newTestStore(t)
	svc := NewService(s, config.AuthConfig{
		JWTSecret: testJWTSecret,
		JWTExpiry: config.Duration{Duration: expiry},
	})
	return svc, s
}

func TestSignupAndLogin(t *testing.T) {
	svc, s := newTestAuthService(t, time.Hour)
	ctx := context.Background()

	user, token, err := svc.Signup(ctx, SignupRequest{Email: " Alice@Example.com ", Password: "secret123", Name: "Alice"})
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", user.Email)
	assert.NotEmpty(t, user.PasswordHash)
	assert.Len(t, strings.Split(token, "."), 3)

	stored, err := s.GetUserByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, user.ID, stored.ID)
	assert.NotEqual(t, "secret123", stored.PasswordHash)

	token, err = svc.Login(ctx, LoginRequest{Email: "ALICE@example.com", Password: "secret123"})
	require.NoError(t, err)

	id, err := svc.ValidateToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, &Identity{UserID: user.ID, Email: "alice@example.com", Name: "Alice"}, id)
}

func TestSignupDuplicate(t *testing.T) {
	svc, _ := newTestAuthService(t, time.Hour)
	ctx := context.Background()

	_, _, err := svc.Signup(ctx, SignupRequest{Email: "alice@example.com", Password: "secret123"})
	require.NoError(t, err)

	_, _, err = svc.Signup(ctx, SignupRequest{Email: "Alice@example.com", Password: "other-password"})
	assert.ErrorIs(t, err, ErrUserExists)
}

func TestSignupInvalidInput(t *testing.T) {
	svc, s := newTestAuthService(t, time.Hour)
	ctx := context.Background()

	tests := []struct {
		name string
		req  SignupRequest
	}{
		{"missing email", SignupRequest{Password: "secret123"}},
		{"malformed email", SignupRequest{Email: "not-an-email", Password: "secret123"}},
		{"short password", SignupRequest{Email: "bob@example.com", Password: "short"}},
		{"long password", SignupRequest{Email: "bob@example.com", Password: strings.Repeat("x", 73)}},
		{"long name", SignupRequest{Email: "bob@example.com", Password: "secret123", Name: strings.Repeat("n", 101)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := svc.Signup(ctx, tt.req)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}

	u, err := s.GetUserByEmail(ctx, "bob@example.com")
	require.NoError(t, err)
	assert.Nil(t, u)
}

func TestLoginWrongPassword(t *testing.T) {
	svc, _ := newTestAuthService(t, time.Hour)
	ctx := context.Background()

	_, _, err := svc.Signup(ctx, SignupRequest{Email: "alice@example.com", Password: "secret123"})
	require.NoError(t, err)

	_, err = svc.Login(ctx, LoginRequest{Email: "alice@example.com", Password: "wrong-password"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginNonexistentUser(t *testing.T) {
	svc, _ := newTestAuthService(t, time.Hour)

	_, err := svc.Login(context.Background(), LoginRequest{Email: "nobody@example.com", Password: "password"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginExternalUserHasNoPassword(t *testing.T) {
	svc, s := newTestAuthService(t, time.Hour)
	ctx := context.Background()
	require.NoError(t, s.EnsureUser(ctx, &store.User{ID: "ext_1", Email: "ext@example.com", CreatedAt: time.Now()}))

	_, err := svc.Login(ctx, LoginRequest{Email: "ext@example.com", Password: ""})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Login(ctx, LoginRequest{Email: "ext@example.com", Password: "anything"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestExpiredToken(t *testing.T) {
	svc, _ := newTestAuthService(t, -time.Hour)
	ctx := context.Background()

	_, token, err := svc.Signup(ctx, SignupRequest{Email: "alice@example.com", Password: "secret123"})
	require.NoError(t, err)

	_, err = svc.ValidateToken(ctx, token)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestValidateTokenRejectsForeignTokens(t *testing.T) {
	svc, _ := newTestAuthService(t, time.Hour)
	ctx := context.Background()

	claims := &Claims{
		UserID: "u1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	other, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("another-secret-that-is-32-chars-long"))
	require.NoError(t, err)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{UserID: "u1"}).SignedString([]byte(testJWTSecret))
	require.NoError(t, err)

	noUser, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		RegisteredClaims: claims.RegisteredClaims,
	}).SignedString([]byte(testJWTSecret))
	require.NoError(t, err)

	for name, token := range map[string]string{
		"other secret": other,
		"no expiry":    noExpiry,
		"no user":      noUser,
		"garbage":      "not.a.token",
		"empty":        "",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := svc.ValidateToken(ctx, token)
			assert.ErrorIs(t, err, ErrUnauthorized)
		})
	}
}

func TestNewProvider(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p, err := NewProvider(ctx, config.AuthConfig{JWTSecret: testJWTSecret}, s)
	require.NoError(t, err)
	assert.Equal(t, "builtin", p.Name())
	_, ok := p.(LoginProvider)
	assert.True(t, ok)

	_, err = NewProvider(ctx, config.AuthConfig{Provider: "saml"}, s)
	assert.Error(t, err)

	_, err = NewProvider(ctx, config.AuthConfig{Provider: "jwks"}, s)
	assert.Error(t, err)
}
