package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/bookmirror/bookmirror/errors"
)

func TestTokenService_IssueAuthenticateRoundtrip(t *testing.T) {
	users := new(MockUserRepository)
	svc := NewTokenService([]byte("test-secret"), time.Hour, newMemoryKV(), users)
	ctx := context.Background()

	user := freshUser()
	users.On("GetByID", ctx, "user-1").Return(user, nil).Once()

	token, err := svc.Issue(ctx, user)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	got, err := svc.Authenticate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.ID)
}

func TestTokenService_RevokedTokenRejected(t *testing.T) {
	users := new(MockUserRepository)
	svc := NewTokenService([]byte("test-secret"), time.Hour, newMemoryKV(), users)
	ctx := context.Background()

	token, err := svc.Issue(ctx, freshUser())
	require.NoError(t, err)
	require.NoError(t, svc.Revoke(ctx, token))

	_, err = svc.Authenticate(ctx, token)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrSessionRevoked)
	users.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
}

func TestTokenService_RejectsForeignSignature(t *testing.T) {
	users := new(MockUserRepository)
	issuer := NewTokenService([]byte("secret-a"), time.Hour, newMemoryKV(), users)
	verifier := NewTokenService([]byte("secret-b"), time.Hour, newMemoryKV(), users)
	ctx := context.Background()

	token, err := issuer.Issue(ctx, freshUser())
	require.NoError(t, err)

	_, err = verifier.Authenticate(ctx, token)
	require.Error(t, err)
}

func TestTokenService_RejectsGarbage(t *testing.T) {
	svc := NewTokenService([]byte("test-secret"), time.Hour, newMemoryKV(), new(MockUserRepository))
	_, err := svc.Authenticate(context.Background(), "not-a-jwt")
	require.Error(t, err)
}
