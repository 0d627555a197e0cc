// Package googlebooks wraps the Google Books API v1 "My Library" surface and
// the OAuth2 token flows needed to call it on a user's behalf. The clients
// are stateless: every call takes the access token explicitly, so a single
// client is safely shared across concurrent sessions.
package googlebooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/bookmirror/bookmirror/domain"
	apperrors "github.com/bookmirror/bookmirror/errors"
)

const defaultBaseURL = "https://www.googleapis.com/books/v1"

// MaxPageSize is the largest page the volumes endpoints accept.
const MaxPageSize = 40

// Client is a stateless wrapper around the Google Books REST API.
type Client struct {
	httpClient *http.Client
	apiKey     string

	// BaseURL is swapped out by tests.
	BaseURL string
}

// NewClient creates a Books API client. A nil httpClient falls back to
// http.DefaultClient.
func NewClient(apiKey string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{httpClient: httpClient, apiKey: apiKey, BaseURL: defaultBaseURL}
}

// SearchParams narrow a volume search.
type SearchParams struct {
	StartIndex int
	MaxResults int
	PrintType  string
	Projection string
}

func (p SearchParams) apply(q url.Values) {
	if p.StartIndex > 0 {
		q.Set("startIndex", strconv.Itoa(p.StartIndex))
	}
	if p.MaxResults > 0 {
		q.Set("maxResults", strconv.Itoa(p.MaxResults))
	}
	if p.PrintType != "" {
		q.Set("printType", p.PrintType)
	}
	if p.Projection != "" {
		q.Set("projection", p.Projection)
	}
}

// Search queries the public volumes index. No user credential is required.
func (c *Client) Search(ctx context.Context, query string, params SearchParams) (*domain.BooksPage, error) {
	const op = "googlebooks.Search"

	q := url.Values{"q": {query}}
	if c.apiKey != "" {
		q.Set("key", c.apiKey)
	}
	params.apply(q)

	body, err := c.get(ctx, "/volumes?"+q.Encode(), "", apperrors.KindSearch, op)
	if err != nil {
		return nil, err
	}
	return decodeVolumesPage(body, apperrors.KindSearch, op)
}

// GetVolume fetches one volume from the public index.
func (c *Client) GetVolume(ctx context.Context, volumeID string) (*domain.Book, error) {
	const op = "googlebooks.GetVolume"

	q := url.Values{}
	if c.apiKey != "" {
		q.Set("key", c.apiKey)
	}
	body, err := c.get(ctx, "/volumes/"+url.PathEscape(volumeID)+"?"+q.Encode(), "", apperrors.KindGetVolume, op)
	if err != nil {
		return nil, err
	}

	var raw volumeItem
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, apperrors.NewProviderError(apperrors.KindGetVolume, op, body, err)
	}
	book := raw.toBook()
	return &book, nil
}

// ListBookshelves returns every shelf in the user's library, including the
// provider's reserved system shelves. Filtering is the session's concern.
func (c *Client) ListBookshelves(ctx context.Context, accessToken string) ([]domain.Bookshelf, error) {
	const op = "googlebooks.ListBookshelves"

	q := url.Values{}
	if c.apiKey != "" {
		q.Set("key", c.apiKey)
	}
	body, err := c.get(ctx, "/mylibrary/bookshelves?"+q.Encode(), accessToken, apperrors.KindListShelves, op)
	if err != nil {
		return nil, err
	}

	var raw struct {
		Items []struct {
			ID          int64  `json:"id"`
			Title       string `json:"title"`
			VolumeCount int    `json:"volumeCount"`
		} `json:"items"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, apperrors.NewProviderError(apperrors.KindListShelves, op, body, err)
	}

	shelves := make([]domain.Bookshelf, 0, len(raw.Items))
	for _, item := range raw.Items {
		shelves = append(shelves, domain.Bookshelf{ID: item.ID, Title: item.Title, VolumeCount: item.VolumeCount})
	}
	return shelves, nil
}

// ListShelfVolumes returns one page of the volumes on a shelf. The provider
// caps maxResults at MaxPageSize.
func (c *Client) ListShelfVolumes(ctx context.Context, accessToken string, shelfID int64, startIndex, maxResults int) (*domain.BooksPage, error) {
	const op = "googlebooks.ListShelfVolumes"

	q := url.Values{}
	if c.apiKey != "" {
		q.Set("key", c.apiKey)
	}
	SearchParams{
		StartIndex: startIndex,
		MaxResults: maxResults,
		PrintType:  "books",
		Projection: "lite",
	}.apply(q)

	path := fmt.Sprintf("/mylibrary/bookshelves/%d/volumes?%s", shelfID, q.Encode())
	body, err := c.get(ctx, path, accessToken, apperrors.KindListShelfItems, op)
	if err != nil {
		return nil, err
	}
	return decodeVolumesPage(body, apperrors.KindListShelfItems, op)
}

// AddVolume places a volume on a shelf. Idempotent on the provider side.
func (c *Client) AddVolume(ctx context.Context, accessToken string, shelfID int64, volumeID string) error {
	const op = "googlebooks.AddVolume"
	path := fmt.Sprintf("/mylibrary/bookshelves/%d/addVolume", shelfID)
	return c.mutate(ctx, path, accessToken, volumeID, apperrors.KindAddToShelf, op)
}

// RemoveVolume takes a volume off a shelf. Idempotent on the provider side.
func (c *Client) RemoveVolume(ctx context.Context, accessToken string, shelfID int64, volumeID string) error {
	const op = "googlebooks.RemoveVolume"
	path := fmt.Sprintf("/mylibrary/bookshelves/%d/removeVolume", shelfID)
	return c.mutate(ctx, path, accessToken, volumeID, apperrors.KindRemoveFromShelf, op)
}

func (c *Client) get(ctx context.Context, path, accessToken string, kind apperrors.Kind, op string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return nil, apperrors.NewProviderError(kind, op, nil, err)
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	return doJSON(c.httpClient, req, kind, op)
}

func (c *Client) mutate(ctx context.Context, path, accessToken, volumeID string, kind apperrors.Kind, op string) error {
	payload, err := json.Marshal(map[string]string{"volumeId": volumeID})
	if err != nil {
		return apperrors.NewProviderError(kind, op, nil, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return apperrors.NewProviderError(kind, op, nil, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	_, err = doJSON(c.httpClient, req, kind, op)
	return err
}

// volumeItem is the provider's wire shape for one volume.
type volumeItem struct {
	ID         string `json:"id"`
	VolumeInfo struct {
		Title        string   `json:"title"`
		Authors      []string `json:"authors"`
		ReadingModes struct {
			Image bool `json:"image"`
		} `json:"readingModes"`
		ImageLinks struct {
			Thumbnail string `json:"thumbnail"`
		} `json:"imageLinks"`
	} `json:"volumeInfo"`
}

// toBook maps the wire shape onto a domain book. The thumbnail is kept only
// when the volume is readable as an image, which is when the provider serves
// a usable cover.
func (v volumeItem) toBook() domain.Book {
	book := domain.Book{
		GoogleID: v.ID,
		Title:    v.VolumeInfo.Title,
		Authors:  v.VolumeInfo.Authors,
	}
	if book.Authors == nil {
		book.Authors = []string{}
	}
	if v.VolumeInfo.ReadingModes.Image {
		book.Image = v.VolumeInfo.ImageLinks.Thumbnail
	}
	return book
}

func decodeVolumesPage(body []byte, kind apperrors.Kind, op string) (*domain.BooksPage, error) {
	var raw struct {
		TotalItems int64        `json:"totalItems"`
		Items      []volumeItem `json:"items"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, apperrors.NewProviderError(kind, op, body, err)
	}

	page := &domain.BooksPage{TotalItems: raw.TotalItems, Items: make([]domain.Book, 0, len(raw.Items))}
	for _, item := range raw.Items {
		page.Items = append(page.Items, item.toBook())
	}
	return page, nil
}
