package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/bookmirror/bookmirror/domain"
	apperrors "github.com/bookmirror/bookmirror/errors"
	"github.com/bookmirror/bookmirror/googlebooks"
)

const searchKeyPrefix = "search:"

// BookService serves the fast paths over the mirror: cached provider search
// overlaid with the user's mirrored shelf state, mirror browsing, and the
// local half of a shelf edit.
type BookService struct {
	provider   BooksAPI
	books      domain.BookRepository
	cache      KVStore
	sync       *Synchronizer
	dispatcher *Dispatcher
	searchTTL  time.Duration
}

// NewBookService creates a BookService. searchTTL bounds the provider
// search-result cache.
func NewBookService(provider BooksAPI, books domain.BookRepository, cache KVStore, sync *Synchronizer, dispatcher *Dispatcher, searchTTL time.Duration) *BookService {
	return &BookService{
		provider:   provider,
		books:      books,
		cache:      cache,
		sync:       sync,
		dispatcher: dispatcher,
		searchTTL:  searchTTL,
	}
}

// Search queries the provider (through the shared result cache, results are
// not user-specific) and replaces every hit the user has mirrored with the
// mirrored copy, so shelf membership shows up in search results.
func (b *BookService) Search(ctx context.Context, user *domain.User, query string, params googlebooks.SearchParams) (*domain.BooksPage, error) {
	page, err := b.cachedSearch(ctx, query, params)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(page.Items))
	for _, item := range page.Items {
		ids = append(ids, item.GoogleID)
	}

	mirrored, err := b.books.ListByGoogleIDs(ctx, user.ID, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]domain.Book, len(mirrored))
	for _, book := range mirrored {
		byID[book.GoogleID] = book
	}

	for i, item := range page.Items {
		if mine, ok := byID[item.GoogleID]; ok {
			page.Items[i] = mine
		}
	}
	return page, nil
}

func (b *BookService) cachedSearch(ctx context.Context, query string, params googlebooks.SearchParams) (*domain.BooksPage, error) {
	key := searchCacheKey(query, params)

	if cached, ok, err := b.cache.Get(ctx, key); err != nil {
		log.Warn().Err(err).Msg("search cache read failed")
	} else if ok {
		var page domain.BooksPage
		if err := json.Unmarshal([]byte(cached), &page); err == nil {
			return &page, nil
		}
	}

	page, err := b.provider.Search(ctx, query, params)
	if err != nil {
		return nil, err
	}

	if encoded, err := json.Marshal(page); err == nil {
		if err := b.cache.Set(ctx, key, string(encoded), b.searchTTL); err != nil {
			log.Warn().Err(err).Msg("search cache write failed")
		}
	}
	return page, nil
}

func searchCacheKey(query string, params googlebooks.SearchParams) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%d|%s|%s",
		query, params.StartIndex, params.MaxResults, params.PrintType, params.Projection)))
	return searchKeyPrefix + hex.EncodeToString(sum[:16])
}

// BrowseShelf reads one page of a shelf from the mirror. No provider call,
// no credential needed.
func (b *BookService) BrowseShelf(ctx context.Context, user *domain.User, shelfID int64, skip, limit int64) (*domain.BooksPage, error) {
	books, total, err := b.books.ListByShelf(ctx, user.ID, shelfID, skip, limit)
	if err != nil {
		return nil, err
	}
	return &domain.BooksPage{TotalItems: total, Items: books}, nil
}

// SetShelves is the mutating fast path: it persists the requested membership
// set to the mirror immediately and dispatches the provider reconciliation
// in the background. From the user's point of view the edit has succeeded
// once this returns; provider-side drift is healed by the next full sync.
func (b *BookService) SetShelves(ctx context.Context, user *domain.User, volumeID string, shelves []int64) (*domain.Book, error) {
	var oldShelves []int64
	if prev, err := b.books.GetByGoogleID(ctx, user.ID, volumeID); err == nil {
		oldShelves = prev.Bookshelves
	} else if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}

	book, err := b.provider.GetVolume(ctx, volumeID)
	if err != nil {
		return nil, err
	}
	book.UserID = user.ID
	book.Bookshelves = domain.NewShelfSet(shelves).Sorted()

	book, err = b.books.Upsert(ctx, book)
	if err != nil {
		return nil, err
	}

	owner := *user
	edited := *book
	b.dispatcher.Go(fmt.Sprintf("reconcile:%s:%s", user.ID, volumeID), func(ctx context.Context) error {
		return b.sync.ReconcileShelves(ctx, &owner, oldShelves, &edited)
	})

	return book, nil
}
