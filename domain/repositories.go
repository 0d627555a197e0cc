package domain

import "context"

// UserRepository defines access to the user collection. All writes are
// atomic single-document upserts or updates; there are no multi-document
// transactions.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*User, error)
	// UpsertByGoogleID creates or replaces the user keyed by its stable
	// Google subject id and returns the post-update document.
	UpsertByGoogleID(ctx context.Context, user *User) (*User, error)
	// UpdateCredentials atomically replaces the embedded credentials of the
	// user identified by id and returns the updated document.
	UpdateCredentials(ctx context.Context, id string, creds Credentials) (*User, error)
	// UpdateProfile refreshes the profile fields and the denormalized shelf
	// cache without touching credentials.
	UpdateProfile(ctx context.Context, id string, name, email, picture, locale string, shelves []Bookshelf) error
}

// BookRepository defines access to the mirrored book collection. The upsert
// key is always the pair (user id, google volume id).
type BookRepository interface {
	Upsert(ctx context.Context, book *Book) (*Book, error)
	GetByGoogleID(ctx context.Context, userID, googleID string) (*Book, error)
	// ListByShelf returns one page of the user's books on the given shelf
	// plus the total count for that shelf.
	ListByShelf(ctx context.Context, userID string, shelfID int64, skip, limit int64) ([]Book, int64, error)
	// ListByGoogleIDs returns the user's mirrored copies of the given
	// volumes, used to overlay mirror state on provider search results.
	ListByGoogleIDs(ctx context.Context, userID string, googleIDs []string) ([]Book, error)
}
