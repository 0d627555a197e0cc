package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"

	"github.com/bookmirror/bookmirror/domain"
	apperrors "github.com/bookmirror/bookmirror/errors"
)

const authStateTTL = 5 * time.Minute

// AuthService runs the login flow: consent redirect, authorization-code
// callback, local user upsert, session issuance. A successful login kicks
// off a background full sync so the mirror warms up without blocking the
// response.
type AuthService struct {
	oauth      TokenExchanger
	users      domain.UserRepository
	tokens     *TokenService
	sync       *Synchronizer
	dispatcher *Dispatcher

	// states holds pending OAuth state parameters, keyed by state value.
	states *ttlcache.Cache[string, string]
}

// NewAuthService creates an AuthService and starts its state cache.
func NewAuthService(oauth TokenExchanger, users domain.UserRepository, tokens *TokenService, sync *Synchronizer, dispatcher *Dispatcher) *AuthService {
	states := ttlcache.New(
		ttlcache.WithTTL[string, string](authStateTTL),
		ttlcache.WithDisableTouchOnHit[string, string](),
	)
	go states.Start()

	return &AuthService{
		oauth:      oauth,
		users:      users,
		tokens:     tokens,
		sync:       sync,
		dispatcher: dispatcher,
		states:     states,
	}
}

// Stop shuts down the state cache's cleanup goroutine.
func (a *AuthService) Stop() { a.states.Stop() }

// AuthURL registers a fresh state parameter and returns the consent URL the
// browser should be redirected to.
func (a *AuthService) AuthURL(redirectURI string) string {
	state := uuid.NewString()
	a.states.Set(state, redirectURI, ttlcache.DefaultTTL)
	return a.oauth.AuthCodeURL(state, redirectURI)
}

// HandleCallback finishes the login: validates the state, exchanges the
// code, introspects the token, upserts the user by Google subject id and
// issues a local session token. The full sync is dispatched in the
// background; the caller's response does not wait for it.
//
// A non-empty state must match a pending one from AuthURL. An empty state is
// accepted for manually driven token flows (the interactive API console).
func (a *AuthService) HandleCallback(ctx context.Context, code, state, redirectURI string) (string, *domain.User, error) {
	if state != "" {
		if item := a.states.Get(state); item == nil {
			return "", nil, apperrors.ErrInvalidState
		}
		a.states.Delete(state)
	}

	tok, err := a.oauth.Exchange(ctx, code, redirectURI)
	if err != nil {
		return "", nil, err
	}

	info, err := a.oauth.Tokeninfo(ctx, tok.AccessToken)
	if err != nil {
		return "", nil, err
	}

	profile, err := a.oauth.Userinfo(ctx, tok.AccessToken)
	if err != nil {
		return "", nil, err
	}

	user := &domain.User{
		GoogleID: info.Subject,
		Name:     profile.Name,
		Email:    profile.Email,
		Picture:  profile.Picture,
		Locale:   profile.Locale,
		Credentials: domain.Credentials{
			AccessToken: tok.AccessToken,
			// Empty on re-consent; the upsert keeps the stored token then.
			RefreshToken: tok.RefreshToken,
			Scope:        info.Scope,
			ExpiresAt:    info.Expiry,
		},
	}

	user, err = a.users.UpsertByGoogleID(ctx, user)
	if err != nil {
		return "", nil, err
	}

	session, err := a.tokens.Issue(ctx, user)
	if err != nil {
		return "", nil, err
	}

	synced := *user
	a.dispatcher.Go("full-sync:"+user.ID, func(ctx context.Context) error {
		return a.sync.SyncUser(ctx, &synced)
	})

	return session, user, nil
}
