package services

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"
	"golang.org/x/oauth2"

	"github.com/bookmirror/bookmirror/domain"
	"github.com/bookmirror/bookmirror/googlebooks"
)

// --- Mock implementations ---

type MockTokenExchanger struct {
	mock.Mock
}

func (m *MockTokenExchanger) AuthCodeURL(state, redirectURI string) string {
	args := m.Called(state, redirectURI)
	return args.String(0)
}

func (m *MockTokenExchanger) Exchange(ctx context.Context, code, redirectURI string) (*oauth2.Token, error) {
	args := m.Called(ctx, code, redirectURI)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*oauth2.Token), args.Error(1)
}

func (m *MockTokenExchanger) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	args := m.Called(ctx, refreshToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*oauth2.Token), args.Error(1)
}

func (m *MockTokenExchanger) Tokeninfo(ctx context.Context, accessToken string) (*googlebooks.Tokeninfo, error) {
	args := m.Called(ctx, accessToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*googlebooks.Tokeninfo), args.Error(1)
}

func (m *MockTokenExchanger) Userinfo(ctx context.Context, accessToken string) (*googlebooks.Userinfo, error) {
	args := m.Called(ctx, accessToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*googlebooks.Userinfo), args.Error(1)
}

type MockBooksAPI struct {
	mock.Mock
}

func (m *MockBooksAPI) Search(ctx context.Context, query string, params googlebooks.SearchParams) (*domain.BooksPage, error) {
	args := m.Called(ctx, query, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.BooksPage), args.Error(1)
}

func (m *MockBooksAPI) GetVolume(ctx context.Context, volumeID string) (*domain.Book, error) {
	args := m.Called(ctx, volumeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Book), args.Error(1)
}

func (m *MockBooksAPI) ListBookshelves(ctx context.Context, accessToken string) ([]domain.Bookshelf, error) {
	args := m.Called(ctx, accessToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Bookshelf), args.Error(1)
}

func (m *MockBooksAPI) ListShelfVolumes(ctx context.Context, accessToken string, shelfID int64, startIndex, maxResults int) (*domain.BooksPage, error) {
	args := m.Called(ctx, accessToken, shelfID, startIndex, maxResults)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.BooksPage), args.Error(1)
}

func (m *MockBooksAPI) AddVolume(ctx context.Context, accessToken string, shelfID int64, volumeID string) error {
	args := m.Called(ctx, accessToken, shelfID, volumeID)
	return args.Error(0)
}

func (m *MockBooksAPI) RemoveVolume(ctx context.Context, accessToken string, shelfID int64, volumeID string) error {
	args := m.Called(ctx, accessToken, shelfID, volumeID)
	return args.Error(0)
}

type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserRepository) UpsertByGoogleID(ctx context.Context, user *domain.User) (*domain.User, error) {
	args := m.Called(ctx, user)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserRepository) UpdateCredentials(ctx context.Context, id string, creds domain.Credentials) (*domain.User, error) {
	args := m.Called(ctx, id, creds)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserRepository) UpdateProfile(ctx context.Context, id string, name, email, picture, locale string, shelves []domain.Bookshelf) error {
	args := m.Called(ctx, id, name, email, picture, locale, shelves)
	return args.Error(0)
}

type MockBookRepository struct {
	mock.Mock
}

func (m *MockBookRepository) Upsert(ctx context.Context, book *domain.Book) (*domain.Book, error) {
	args := m.Called(ctx, book)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Book), args.Error(1)
}

func (m *MockBookRepository) GetByGoogleID(ctx context.Context, userID, googleID string) (*domain.Book, error) {
	args := m.Called(ctx, userID, googleID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Book), args.Error(1)
}

func (m *MockBookRepository) ListByShelf(ctx context.Context, userID string, shelfID int64, skip, limit int64) ([]domain.Book, int64, error) {
	args := m.Called(ctx, userID, shelfID, skip, limit)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]domain.Book), args.Get(1).(int64), args.Error(2)
}

func (m *MockBookRepository) ListByGoogleIDs(ctx context.Context, userID string, googleIDs []string) ([]domain.Book, error) {
	args := m.Called(ctx, userID, googleIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Book), args.Error(1)
}

// memoryKV is an in-process KVStore for tests. TTLs are honored lazily.
type memoryKV struct {
	mu      sync.Mutex
	entries map[string]memoryKVEntry
}

type memoryKVEntry struct {
	value     string
	expiresAt time.Time
}

func newMemoryKV() *memoryKV {
	return &memoryKV{entries: make(map[string]memoryKVEntry)}
}

func (s *memoryKV) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memoryKVEntry{value: value, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (s *memoryKV) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return "", false, nil
	}
	return entry.value, true, nil
}

func (s *memoryKV) Exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := s.Get(ctx, key)
	return ok, err
}

func (s *memoryKV) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}
