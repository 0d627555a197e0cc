package services

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/bookmirror/bookmirror/domain"
	apperrors "github.com/bookmirror/bookmirror/errors"
)

// RefreshGrace is how close to expiry a credential may get before we refresh
// it. 5 seconds absorbs the network latency of the call that follows.
const RefreshGrace = 5 * time.Second

// Refresher keeps a user's delegated credential usable, exchanging the
// refresh token for a new access token when the old one is about to expire.
type Refresher struct {
	oauth TokenExchanger
	users domain.UserRepository
	now   func() time.Time
}

// NewRefresher creates a Refresher.
func NewRefresher(oauth TokenExchanger, users domain.UserRepository) *Refresher {
	return &Refresher{oauth: oauth, users: users, now: time.Now}
}

// EnsureFresh returns a user whose credential is valid for at least the
// grace window. When the credential is not near expiry the input is returned
// unchanged, so back-to-back calls perform at most one exchange.
//
// A failed exchange means the delegated access is gone (revoked refresh
// token, withdrawn consent). That is not retried: the error wraps
// errors.ErrPermissionLost and the caller must ask the user to re-consent.
func (r *Refresher) EnsureFresh(ctx context.Context, user *domain.User) (*domain.User, error) {
	if !user.Credentials.ExpiresWithin(r.now(), RefreshGrace) {
		return user, nil
	}

	tok, err := r.oauth.Refresh(ctx, user.Credentials.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrPermissionLost, err)
	}

	info, err := r.oauth.Tokeninfo(ctx, tok.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrPermissionLost, err)
	}

	creds := domain.Credentials{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Scope:        info.Scope,
		ExpiresAt:    info.Expiry,
	}
	// Google rotates refresh tokens rarely; when the exchange comes back
	// without one, the previous token stays valid and must be kept.
	if creds.RefreshToken == "" {
		creds.RefreshToken = user.Credentials.RefreshToken
	}

	updated, err := r.users.UpdateCredentials(ctx, user.ID, creds)
	if err != nil {
		return nil, fmt.Errorf("failed to persist refreshed credentials for user %s: %w", user.ID, err)
	}

	log.Debug().Str("user_id", user.ID).Int64("expires_at", creds.ExpiresAt).Msg("refreshed provider credentials")
	return updated, nil
}
