package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/Cyvadra/tv-bridge/internal/config"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned for a wrong admin username or password
var ErrInvalidCredentials = errors.New("invalid username or password")

// AuthService issues and validates admin tokens
type AuthService struct {
	logger        *zap.Logger
	username      string
	passwordHash  []byte
	jwtSecret     string
	jwtExpiration time.Duration
}

// JWTClaims is the admin token payload
type JWTClaims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// LoginRequest is the admin login body
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse carries an issued token
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Username  string    `json:"username"`
}

// HashPassword returns the bcrypt hash of a password
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// NewAuthService creates an auth service from the admin section. A plain
// password is hashed once here; without any password, logins are refused.
func NewAuthService(cfg config.AdminConfig, logger *zap.Logger) (*AuthService, error) {
	s := &AuthService{
		logger:        logger.Named("auth"),
		username:      cfg.Username,
		jwtSecret:     cfg.JWTSecret,
		jwtExpiration: cfg.TokenTTL,
	}
	if s.jwtSecret == "" {
		s.jwtSecret = uuid.NewString()
		s.logger.Warn("no JWT secret configured, tokens will not survive a restart")
	}
	if s.jwtExpiration <= 0 {
		s.jwtExpiration = 24 * time.Hour
	}

	switch {
	case cfg.PasswordHash != "":
		s.passwordHash = []byte(cfg.PasswordHash)
	case cfg.Password != "":
		hash, err := HashPassword(cfg.Password)
		if err != nil {
			return nil, err
		}
		s.passwordHash = []byte(hash)
	default:
		s.logger.Warn("no admin password configured, admin login disabled")
	}

	return s, nil
}

// Login checks the admin credentials and issues a token
func (s *AuthService) Login(ctx context.Context, req LoginRequest, ip string) (*LoginResponse, error) {
	if len(s.passwordHash) == 0 ||
		subtle.ConstantTimeCompare([]byte(req.Username), []byte(s.username)) != 1 {
		s.logger.Warn("login failed: unknown user",
			zap.String("username", req.Username),
			zap.String("ip", ip))
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword(s.passwordHash, []byte(req.Password)); err != nil {
		s.logger.Warn("login failed: invalid password",
			zap.String("username", req.Username),
			zap.String("ip", ip))
		return nil, ErrInvalidCredentials
	}

	now := time.Now()
	expiresAt := now.Add(s.jwtExpiration)
	claims := JWTClaims{
		Username: s.username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.username,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "tv-bridge",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		return nil, err
	}

	s.logger.Info("admin logged in",
		zap.String("username", s.username),
		zap.String("ip", ip))

	return &LoginResponse{
		Token:     tokenString,
		ExpiresAt: expiresAt,
		Username:  s.username,
	}, nil
}

// ValidateToken parses a token and checks its signature and expiry
func (s *AuthService) ValidateToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.jwtSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*JWTClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token")
}
