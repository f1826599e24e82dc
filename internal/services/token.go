package services

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/vidstream/apiserver/types"
)

// AccessClaims are the identity claims carried by access tokens. The user ID
// travels in the registered subject claim.
type AccessClaims struct {
	jwt.RegisteredClaims
	Email    string `json:"email"`
	Username string `json:"username"`
}

// TokenService issues and verifies the access/refresh token pair. The two
// token kinds are signed with distinct secrets and expire independently.
type TokenService struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
}

func NewTokenService(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) *TokenService {
	return &TokenService{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
	}
}

// IssueAccessToken signs a short-lived token carrying the user's identity.
func (ts *TokenService) IssueAccessToken(user types.User) (string, error) {
	now := time.Now()
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ts.accessTTL)),
		},
		Email:    user.Email,
		Username: user.Username,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ts.accessSecret)
}

// IssueRefreshToken signs a long-lived token carrying only the user ID. The
// jti claim makes every issued token unique, so rotation always produces a
// token distinct from the one it replaces.
func (ts *TokenService) IssueRefreshToken(user types.User) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   user.ID,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ts.refreshTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ts.refreshSecret)
}

// VerifyAccessToken parses and validates an access token. Malformed,
// bad-signature, and expired tokens fail with distinguishable errors
// (errors.Is against the jwt/v5 sentinels); callers collapse them to a
// single kind before anything reaches a response body.
func (ts *TokenService) VerifyAccessToken(tokenString string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := ts.verify(tokenString, claims, ts.accessSecret); err != nil {
		return nil, err
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, errors.New("missing subject")
	}
	return claims, nil
}

// VerifyRefreshToken parses and validates a refresh token and returns the
// user ID it was issued to.
func (ts *TokenService) VerifyRefreshToken(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	if err := ts.verify(tokenString, claims, ts.refreshSecret); err != nil {
		return "", err
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", errors.New("missing subject")
	}
	return claims.Subject, nil
}

func (ts *TokenService) verify(tokenString string, claims jwt.Claims, secret []byte) error {
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return secret, nil
	})
	if err != nil {
		return err
	}
	if !token.Valid {
		return errors.New("invalid token")
	}
	return nil
}

// AccessTokenTTL returns the configured access-token lifetime.
func (ts *TokenService) AccessTokenTTL() time.Duration {
	return ts.accessTTL
}

// RefreshTokenTTL returns the configured refresh-token lifetime.
func (ts *TokenService) RefreshTokenTTL() time.Duration {
	return ts.refreshTTL
}
