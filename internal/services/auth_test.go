package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Cyvadra/tv-bridge/internal/config"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newAuth(t *testing.T, cfg config.AdminConfig) *AuthService {
	t.Helper()
	svc, err := NewAuthService(cfg, zap.NewNop())
	require.NoError(t, err)
	return svc
}

func TestAuthLoginWithPlainPassword(t *testing.T) {
	svc := newAuth(t, config.AdminConfig{Username: "admin", Password: "s3cret", JWTSecret: "jwt-secret"})

	resp, err := svc.Login(context.Background(), LoginRequest{Username: "admin", Password: "s3cret"}, "127.0.0.1")
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, "admin", resp.Username)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), resp.ExpiresAt, time.Minute)

	claims, err := svc.ValidateToken(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Username)
	assert.Equal(t, "tv-bridge", claims.Issuer)
}

func TestAuthLoginWithHash(t *testing.T) {
	hash, err := HashPassword("hashed-pw")
	require.NoError(t, err)
	svc := newAuth(t, config.AdminConfig{Username: "ops", PasswordHash: hash, TokenTTL: time.Hour})

	resp, err := svc.Login(context.Background(), LoginRequest{Username: "ops", Password: "hashed-pw"}, "")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), resp.ExpiresAt, time.Minute)
}

func TestAuthLoginFailures(t *testing.T) {
	svc := newAuth(t, config.AdminConfig{Username: "admin", Password: "s3cret"})

	tests := []struct {
		name string
		req  LoginRequest
	}{
		{"wrong password", LoginRequest{Username: "admin", Password: "nope"}},
		{"wrong user", LoginRequest{Username: "root", Password: "s3cret"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Login(context.Background(), tt.req, "10.0.0.1")
			assert.True(t, errors.Is(err, ErrInvalidCredentials))
		})
	}

	disabled := newAuth(t, config.AdminConfig{Username: "admin"})
	_, err := disabled.Login(context.Background(), LoginRequest{Username: "admin", Password: ""}, "")
	assert.True(t, errors.Is(err, ErrInvalidCredentials))
}

func TestValidateTokenRejects(t *testing.T) {
	svc := newAuth(t, config.AdminConfig{Username: "admin", Password: "pw", JWTSecret: "one"})
	other := newAuth(t, config.AdminConfig{Username: "admin", Password: "pw", JWTSecret: "two"})

	resp, err := other.Login(context.Background(), LoginRequest{Username: "admin", Password: "pw"}, "")
	require.NoError(t, err)

	_, err = svc.ValidateToken(resp.Token)
	assert.Error(t, err)

	_, err = svc.ValidateToken("not-a-token")
	assert.Error(t, err)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, JWTClaims{
		Username: "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	token, err := expired.SignedString([]byte("one"))
	require.NoError(t, err)
	_, err = svc.ValidateToken(token)
	assert.True(t, errors.Is(err, jwt.ErrTokenExpired))

	none := jwt.NewWithClaims(jwt.SigningMethodHS512, JWTClaims{Username: "admin"})
	token, err = none.SignedString([]byte("one"))
	require.NoError(t, err)
	_, err = svc.ValidateToken(token)
	assert.Error(t, err)
}
