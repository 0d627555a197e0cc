package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/bookmirror/bookmirror/domain"
	apperrors "github.com/bookmirror/bookmirror/errors"
	"github.com/bookmirror/bookmirror/googlebooks"
)

func testUser(expiresAt int64) *domain.User {
	return &domain.User{
		ID:       "user-1",
		GoogleID: "g-1",
		Credentials: domain.Credentials{
			AccessToken:  "old-access",
			RefreshToken: "R1",
			Scope:        "books email",
			ExpiresAt:    expiresAt,
		},
	}
}

func TestEnsureFresh_NoopWhenNotNearExpiry(t *testing.T) {
	oauth := new(MockTokenExchanger)
	users := new(MockUserRepository)
	r := NewRefresher(oauth, users)

	user := testUser(time.Now().Add(time.Hour).Unix())

	got, err := r.EnsureFresh(context.Background(), user)
	require.NoError(t, err)
	assert.Same(t, user, got)
	oauth.AssertNotCalled(t, "Refresh", mock.Anything, mock.Anything)
}

func TestEnsureFresh_RefreshesInsideGraceWindow(t *testing.T) {
	oauth := new(MockTokenExchanger)
	users := new(MockUserRepository)
	r := NewRefresher(oauth, users)
	ctx := context.Background()

	newExpiry := time.Now().Add(time.Hour).Unix()
	user := testUser(time.Now().Add(2 * time.Second).Unix()) // inside the 5s window

	oauth.On("Refresh", ctx, "R1").
		Return(&oauth2.Token{AccessToken: "new-access", RefreshToken: "R2"}, nil).Once()
	oauth.On("Tokeninfo", ctx, "new-access").
		Return(&googlebooks.Tokeninfo{Subject: "g-1", Scope: "books email", Expiry: newExpiry}, nil).Once()

	wantCreds := domain.Credentials{
		AccessToken:  "new-access",
		RefreshToken: "R2",
		Scope:        "books email",
		ExpiresAt:    newExpiry,
	}
	updated := testUser(newExpiry)
	updated.Credentials = wantCreds
	users.On("UpdateCredentials", ctx, "user-1", wantCreds).Return(updated, nil).Once()

	got, err := r.EnsureFresh(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, "new-access", got.Credentials.AccessToken)
	assert.Equal(t, "R2", got.Credentials.RefreshToken)
	oauth.AssertExpectations(t)
	users.AssertExpectations(t)
}

func TestEnsureFresh_PreservesRefreshTokenWhenExchangeOmitsIt(t *testing.T) {
	oauth := new(MockTokenExchanger)
	users := new(MockUserRepository)
	r := NewRefresher(oauth, users)
	ctx := context.Background()

	newExpiry := time.Now().Add(time.Hour).Unix()
	user := testUser(0) // long expired

	oauth.On("Refresh", ctx, "R1").
		Return(&oauth2.Token{AccessToken: "new-access"}, nil).Once()
	oauth.On("Tokeninfo", ctx, "new-access").
		Return(&googlebooks.Tokeninfo{Scope: "books", Expiry: newExpiry}, nil).Once()

	users.On("UpdateCredentials", ctx, "user-1",
		mock.MatchedBy(func(creds domain.Credentials) bool {
			return creds.RefreshToken == "R1" && creds.AccessToken == "new-access"
		})).
		Return(testUser(newExpiry), nil).Once()

	_, err := r.EnsureFresh(ctx, user)
	require.NoError(t, err)
	users.AssertExpectations(t)
}

func TestEnsureFresh_IdempotentAfterRefresh(t *testing.T) {
	oauth := new(MockTokenExchanger)
	users := new(MockUserRepository)
	r := NewRefresher(oauth, users)
	ctx := context.Background()

	newExpiry := time.Now().Add(time.Hour).Unix()
	user := testUser(0)

	refreshed := testUser(newExpiry)
	refreshed.Credentials.AccessToken = "new-access"

	oauth.On("Refresh", ctx, "R1").
		Return(&oauth2.Token{AccessToken: "new-access"}, nil).Once()
	oauth.On("Tokeninfo", ctx, "new-access").
		Return(&googlebooks.Tokeninfo{Expiry: newExpiry}, nil).Once()
	users.On("UpdateCredentials", ctx, "user-1", mock.Anything).Return(refreshed, nil).Once()

	first, err := r.EnsureFresh(ctx, user)
	require.NoError(t, err)

	// The second call observes the fresh expiry and must not exchange again.
	second, err := r.EnsureFresh(ctx, first)
	require.NoError(t, err)
	assert.Same(t, first, second)
	oauth.AssertNumberOfCalls(t, "Refresh", 1)
}

func TestEnsureFresh_MapsFailureToPermissionLost(t *testing.T) {
	oauth := new(MockTokenExchanger)
	users := new(MockUserRepository)
	r := NewRefresher(oauth, users)
	ctx := context.Background()

	user := testUser(0)
	provErr := apperrors.NewProviderError(apperrors.KindTokenExchange, "googlebooks.Refresh",
		[]byte(`{"error":"invalid_grant"}`), nil)
	oauth.On("Refresh", ctx, "R1").Return(nil, provErr).Once()

	_, err := r.EnsureFresh(ctx, user)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrPermissionLost)
	assert.Equal(t, apperrors.KindTokenExchange, apperrors.KindOf(err))
	users.AssertNotCalled(t, "UpdateCredentials", mock.Anything, mock.Anything, mock.Anything)
}
