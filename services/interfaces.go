package services

import (
	"context"
	"time"

	"golang.org/x/oauth2"

	"github.com/bookmirror/bookmirror/domain"
	"github.com/bookmirror/bookmirror/googlebooks"
)

// TokenExchanger is the slice of the identity provider the services consume:
// authorization-code and refresh-token exchanges plus token introspection.
// Implemented by googlebooks.OAuth.
type TokenExchanger interface {
	AuthCodeURL(state, redirectURI string) string
	Exchange(ctx context.Context, code, redirectURI string) (*oauth2.Token, error)
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
	Tokeninfo(ctx context.Context, accessToken string) (*googlebooks.Tokeninfo, error)
	Userinfo(ctx context.Context, accessToken string) (*googlebooks.Userinfo, error)
}

// BooksAPI is the external collection provider surface. Implemented by
// googlebooks.Client; stateless, the access token travels with every call.
type BooksAPI interface {
	Search(ctx context.Context, query string, params googlebooks.SearchParams) (*domain.BooksPage, error)
	GetVolume(ctx context.Context, volumeID string) (*domain.Book, error)
	ListBookshelves(ctx context.Context, accessToken string) ([]domain.Bookshelf, error)
	ListShelfVolumes(ctx context.Context, accessToken string, shelfID int64, startIndex, maxResults int) (*domain.BooksPage, error)
	AddVolume(ctx context.Context, accessToken string, shelfID int64, volumeID string) error
	RemoveVolume(ctx context.Context, accessToken string, shelfID int64, volumeID string) error
}

// KVStore is the short-lived key/value cache used for the session
// allow-list and search-result caching. Implemented by redis.SessionStore.
type KVStore interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, bool, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}
