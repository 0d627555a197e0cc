package services

import (
	"context"

	"github.com/bookmirror/bookmirror/domain"
	"github.com/bookmirror/bookmirror/googlebooks"
)

// SessionOpener builds shelf sessions: per-request handles whose credential
// has been refreshed up front.
type SessionOpener struct {
	refresher *Refresher
	books     BooksAPI
}

// NewSessionOpener creates a SessionOpener.
func NewSessionOpener(refresher *Refresher, books BooksAPI) *SessionOpener {
	return &SessionOpener{refresher: refresher, books: books}
}

// Open refreshes the user's credential if needed and returns a session bound
// to the refreshed user. The session holds that one value and nothing else.
func (o *SessionOpener) Open(ctx context.Context, user *domain.User) (*ShelfSession, error) {
	fresh, err := o.refresher.EnsureFresh(ctx, user)
	if err != nil {
		return nil, err
	}
	return &ShelfSession{user: fresh, books: o.books}, nil
}

// ShelfSession is a short-lived handle over the user's library, valid for at
// least the refresh grace window after Open.
type ShelfSession struct {
	user  *domain.User
	books BooksAPI
}

// User returns the refreshed user the session was opened for.
func (s *ShelfSession) User() *domain.User { return s.user }

func (s *ShelfSession) token() string { return s.user.Credentials.AccessToken }

// Bookshelves lists the user's shelves with the provider's reserved system
// shelves filtered out, whatever the raw response contained.
func (s *ShelfSession) Bookshelves(ctx context.Context) ([]domain.Bookshelf, error) {
	raw, err := s.books.ListBookshelves(ctx, s.token())
	if err != nil {
		return nil, err
	}
	shelves := make([]domain.Bookshelf, 0, len(raw))
	for _, shelf := range raw {
		if domain.IsReservedBookshelf(shelf.ID) {
			continue
		}
		shelves = append(shelves, shelf)
	}
	return shelves, nil
}

// ShelfBooks returns one page of a shelf's volumes.
func (s *ShelfSession) ShelfBooks(ctx context.Context, shelfID int64, startIndex, maxResults int) (*domain.BooksPage, error) {
	return s.books.ListShelfVolumes(ctx, s.token(), shelfID, startIndex, maxResults)
}

// AddBook places a volume on a shelf.
func (s *ShelfSession) AddBook(ctx context.Context, shelfID int64, volumeID string) error {
	return s.books.AddVolume(ctx, s.token(), shelfID, volumeID)
}

// RemoveBook takes a volume off a shelf.
func (s *ShelfSession) RemoveBook(ctx context.Context, shelfID int64, volumeID string) error {
	return s.books.RemoveVolume(ctx, s.token(), shelfID, volumeID)
}

// AllBooks extracts the user's entire library: every page of every
// non-reserved shelf, folded into one book per volume id. A volume on two
// shelves comes back once, with both shelf ids in its membership set.
//
// The fold is all-or-nothing: if any page fetch fails the partial result is
// discarded and the page's error is returned as is, so the caller sees the
// kind of the operation that actually failed.
func (s *ShelfSession) AllBooks(ctx context.Context) ([]domain.Book, error) {
	shelves, err := s.Bookshelves(ctx)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*domain.Book)
	var order []string

	for _, shelf := range shelves {
		for start := 0; start < shelf.VolumeCount; start += googlebooks.MaxPageSize {
			page, err := s.ShelfBooks(ctx, shelf.ID, start, googlebooks.MaxPageSize)
			if err != nil {
				return nil, err
			}
			for i := range page.Items {
				book := page.Items[i]
				if known, ok := byID[book.GoogleID]; ok {
					known.Bookshelves = domain.NewShelfSet(append(known.Bookshelves, shelf.ID)).Sorted()
					continue
				}
				book.Bookshelves = []int64{shelf.ID}
				byID[book.GoogleID] = &book
				order = append(order, book.GoogleID)
			}
		}
	}

	books := make([]domain.Book, 0, len(order))
	for _, id := range order {
		books = append(books, *byID[id])
	}
	return books, nil
}
