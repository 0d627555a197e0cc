package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/bookmirror/bookmirror/domain"
	apperrors "github.com/bookmirror/bookmirror/errors"
	"github.com/bookmirror/bookmirror/googlebooks"
)

func newTestBookService(provider *MockBooksAPI, repo *MockBookRepository, sync *Synchronizer, d *Dispatcher) *BookService {
	return NewBookService(provider, repo, newMemoryKV(), sync, d, time.Minute)
}

func TestSearch_OverlaysMirroredCopies(t *testing.T) {
	provider := new(MockBooksAPI)
	repo := new(MockBookRepository)
	svc := newTestBookService(provider, repo, nil, nil)
	ctx := context.Background()

	params := googlebooks.SearchParams{MaxResults: 16}
	provider.On("Search", mock.Anything, "dune", params).Return(&domain.BooksPage{
		TotalItems: 2,
		Items: []domain.Book{
			{GoogleID: "A", Title: "Dune"},
			{GoogleID: "B", Title: "Dune Messiah"},
		},
	}, nil).Once()

	repo.On("ListByGoogleIDs", mock.Anything, "user-1", []string{"A", "B"}).Return([]domain.Book{
		{GoogleID: "A", Title: "Dune", UserID: "user-1", Bookshelves: []int64{2, 4}},
	}, nil).Once()

	page, err := svc.Search(ctx, freshUser(), "dune", params)
	require.NoError(t, err)

	require.Len(t, page.Items, 2)
	assert.Equal(t, []int64{2, 4}, page.Items[0].Bookshelves)
	assert.Empty(t, page.Items[1].Bookshelves)
}

func TestSearch_SecondCallServedFromCache(t *testing.T) {
	provider := new(MockBooksAPI)
	repo := new(MockBookRepository)
	svc := newTestBookService(provider, repo, nil, nil)
	ctx := context.Background()

	params := googlebooks.SearchParams{MaxResults: 16}
	provider.On("Search", mock.Anything, "dune", params).Return(&domain.BooksPage{
		TotalItems: 1,
		Items:      []domain.Book{{GoogleID: "A", Title: "Dune"}},
	}, nil).Once()
	repo.On("ListByGoogleIDs", mock.Anything, "user-1", []string{"A"}).Return(nil, nil).Twice()

	_, err := svc.Search(ctx, freshUser(), "dune", params)
	require.NoError(t, err)
	_, err = svc.Search(ctx, freshUser(), "dune", params)
	require.NoError(t, err)

	provider.AssertNumberOfCalls(t, "Search", 1)
}

func TestSetShelves_PersistsAttemptedStateAndReconciles(t *testing.T) {
	provider := new(MockBooksAPI)
	repo := new(MockBookRepository)
	dispatcher := NewDispatcher(time.Minute)
	sync := newTestSynchronizer(provider, new(MockTokenExchanger), new(MockUserRepository), repo)
	svc := newTestBookService(provider, repo, sync, dispatcher)
	ctx := context.Background()

	repo.On("GetByGoogleID", mock.Anything, "user-1", "vol-A").
		Return(&domain.Book{GoogleID: "vol-A", UserID: "user-1", Bookshelves: []int64{1, 2}}, nil).Once()
	provider.On("GetVolume", mock.Anything, "vol-A").
		Return(&domain.Book{GoogleID: "vol-A", Title: "A Tale", Authors: []string{"X"}}, nil).Once()

	stored := &domain.Book{ID: "b1", GoogleID: "vol-A", UserID: "user-1", Bookshelves: []int64{2, 3}}
	repo.On("Upsert", mock.Anything, mock.MatchedBy(func(b *domain.Book) bool {
		return assert.ObjectsAreEqual([]int64{2, 3}, b.Bookshelves) && b.UserID == "user-1"
	})).Return(stored, nil).Once()

	// Reconciliation runs in the background: remove 1, add 3, shelf 2 untouched.
	provider.On("RemoveVolume", mock.Anything, "old-access", int64(1), "vol-A").Return(nil).Once()
	provider.On("AddVolume", mock.Anything, "old-access", int64(3), "vol-A").Return(nil).Once()

	book, err := svc.SetShelves(ctx, freshUser(), "vol-A", []int64{3, 2})
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3}, book.Bookshelves)

	require.NoError(t, dispatcher.Wait(ctx))
	provider.AssertExpectations(t)
}

func TestSetShelves_ReconciliationFailureInvisibleToCaller(t *testing.T) {
	provider := new(MockBooksAPI)
	repo := new(MockBookRepository)
	dispatcher := NewDispatcher(time.Minute)
	sync := newTestSynchronizer(provider, new(MockTokenExchanger), new(MockUserRepository), repo)
	svc := newTestBookService(provider, repo, sync, dispatcher)
	ctx := context.Background()

	repo.On("GetByGoogleID", mock.Anything, "user-1", "vol-A").Return(nil, apperrors.ErrNotFound).Once()
	provider.On("GetVolume", mock.Anything, "vol-A").
		Return(&domain.Book{GoogleID: "vol-A", Title: "A Tale"}, nil).Once()

	stored := &domain.Book{ID: "b1", GoogleID: "vol-A", UserID: "user-1", Bookshelves: []int64{3}}
	repo.On("Upsert", mock.Anything, mock.Anything).Return(stored, nil).Once()

	addErr := apperrors.NewProviderError(apperrors.KindAddToShelf, "googlebooks.AddVolume",
		[]byte(`{"error":{"code":503}}`), nil)
	provider.On("AddVolume", mock.Anything, "old-access", int64(3), "vol-A").Return(addErr).Once()

	// The local edit succeeds; the provider failure stays in the background.
	book, err := svc.SetShelves(ctx, freshUser(), "vol-A", []int64{3})
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, book.Bookshelves)

	require.NoError(t, dispatcher.Wait(ctx))
}

func TestBrowseShelf_ReadsMirrorOnly(t *testing.T) {
	provider := new(MockBooksAPI)
	repo := new(MockBookRepository)
	svc := newTestBookService(provider, repo, nil, nil)

	repo.On("ListByShelf", mock.Anything, "user-1", int64(2), int64(0), int64(16)).
		Return([]domain.Book{{GoogleID: "A"}}, int64(7), nil).Once()

	page, err := svc.BrowseShelf(context.Background(), freshUser(), 2, 0, 16)
	require.NoError(t, err)
	assert.Equal(t, int64(7), page.TotalItems)
	provider.AssertNotCalled(t, "ListShelfVolumes", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
