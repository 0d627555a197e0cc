package services

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/bookmirror/bookmirror/domain"
	apperrors "github.com/bookmirror/bookmirror/errors"
)

const sessionKeyPrefix = "session:"

// TokenService issues and validates the backend's own session tokens: HS256
// JWTs whose jti is allow-listed in the KV store so sessions can be revoked
// before they expire.
type TokenService struct {
	secret   []byte
	ttl      time.Duration
	sessions KVStore
	users    domain.UserRepository
}

// NewTokenService creates a TokenService. ttl bounds both the JWT expiry and
// the allow-list entry.
func NewTokenService(secret []byte, ttl time.Duration, sessions KVStore, users domain.UserRepository) *TokenService {
	return &TokenService{secret: secret, ttl: ttl, sessions: sessions, users: users}
}

// Issue mints a session token for the user and allow-lists its jti.
func (t *TokenService) Issue(ctx context.Context, user *domain.User) (string, error) {
	now := time.Now()
	jti := uuid.NewString()

	claims := jwt.RegisteredClaims{
		Subject:   user.ID,
		ID:        jti,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}

	if err := t.sessions.Set(ctx, sessionKeyPrefix+jti, user.ID, t.ttl); err != nil {
		return "", err
	}
	return signed, nil
}

// Authenticate verifies a session token, requires its jti to still be
// allow-listed, and loads the user it belongs to.
func (t *TokenService) Authenticate(ctx context.Context, token string) (*domain.User, error) {
	claims, err := t.parse(token)
	if err != nil {
		return nil, err
	}

	ok, err := t.sessions.Exists(ctx, sessionKeyPrefix+claims.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.ErrSessionRevoked
	}

	return t.users.GetByID(ctx, claims.Subject)
}

// Revoke drops the token's jti from the allow-list. The JWT itself stays
// syntactically valid until expiry but will no longer authenticate.
func (t *TokenService) Revoke(ctx context.Context, token string) error {
	claims, err := t.parse(token)
	if err != nil {
		return err
	}
	return t.sessions.Delete(ctx, sessionKeyPrefix+claims.ID)
}

func (t *TokenService) parse(token string) (*jwt.RegisteredClaims, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", tok.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrSessionRevoked, err)
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, apperrors.ErrSessionRevoked
	}
	return &claims, nil
}
