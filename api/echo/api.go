// Package echo is the thin HTTP surface over the sync core: request decoding,
// response shaping and error-to-status mapping, nothing else.
package echo

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/bookmirror/bookmirror/domain"
	apperrors "github.com/bookmirror/bookmirror/errors"
	"github.com/bookmirror/bookmirror/googlebooks"
	"github.com/bookmirror/bookmirror/middleware"
	"github.com/bookmirror/bookmirror/services"
)

// API holds the handler dependencies.
type API struct {
	auth        *services.AuthService
	tokens      *services.TokenService
	books       *services.BookService
	opener      *services.SessionOpener
	sync        *services.Synchronizer
	dispatcher  *services.Dispatcher
	redirectURL string
}

// NewAPI initializes the HTTP API.
func NewAPI(
	auth *services.AuthService,
	tokens *services.TokenService,
	books *services.BookService,
	opener *services.SessionOpener,
	sync *services.Synchronizer,
	dispatcher *services.Dispatcher,
	redirectURL string,
) *API {
	return &API{
		auth:        auth,
		tokens:      tokens,
		books:       books,
		opener:      opener,
		sync:        sync,
		dispatcher:  dispatcher,
		redirectURL: redirectURL,
	}
}

// RegisterRoutes registers all routes.
func (a *API) RegisterRoutes(e *echo.Echo) {
	e.GET("/oauth/google", a.OAuthRedirectHandler)
	e.GET("/oauth/google/redirect", a.OAuthCallbackHandler)
	e.POST("/oauth/google/redirect", a.OAuthCallbackHandler)

	v1 := e.Group("/api/v1", middleware.RequireSession(a.tokens))
	v1.GET("/user/me", a.MeHandler)
	v1.POST("/user/sync", a.SyncHandler)
	v1.DELETE("/user/session", a.LogoutHandler)

	v1.GET("/books/search", a.SearchHandler)
	v1.POST("/books/:id", a.SetShelvesHandler)

	v1.GET("/bookshelves", a.BookshelvesHandler)
	v1.GET("/bookshelves/:id", a.ShelfBooksHandler)
	v1.POST("/bookshelves/:id", a.AddToShelfHandler)
	v1.DELETE("/bookshelves/:id", a.RemoveFromShelfHandler)
}

// OAuthRedirectHandler sends the browser to Google's consent screen.
func (a *API) OAuthRedirectHandler(c echo.Context) error {
	redirectURI := c.QueryParam("redirect_uri")
	if redirectURI == "" {
		redirectURI = a.redirectURL
	}
	return c.Redirect(http.StatusFound, a.auth.AuthURL(redirectURI))
}

// OAuthCallbackHandler finishes the code exchange and returns a local
// session token. The full mirror sync runs in the background.
func (a *API) OAuthCallbackHandler(c echo.Context) error {
	code := c.QueryParam("code")
	if code == "" {
		code = c.FormValue("code")
	}
	if code == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing code")
	}
	state := c.QueryParam("state")
	if state == "" {
		state = c.FormValue("state")
	}
	redirectURI := c.FormValue("redirect_uri")
	if redirectURI == "" {
		redirectURI = a.redirectURL
	}

	token, _, err := a.auth.HandleCallback(c.Request().Context(), code, state, redirectURI)
	if err != nil {
		if errors.Is(err, apperrors.ErrInvalidState) {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid state")
		}
		log.Error().Err(err).Msg("oauth callback failed")
		return echo.NewHTTPError(http.StatusBadRequest, "authentication failed")
	}

	return c.JSON(http.StatusOK, map[string]string{
		"access_token": token,
		"token_type":   "Bearer",
	})
}

type meResponse struct {
	*domain.User
	Bookshelves []domain.Bookshelf `json:"bookshelves"`
}

// MeHandler returns the current user with a live shelf listing. A provider
// failure here means the delegated access is gone.
func (a *API) MeHandler(c echo.Context) error {
	user := middleware.CurrentUser(c)

	sess, err := a.opener.Open(c.Request().Context(), user)
	if err != nil {
		return permissionLost(err)
	}
	shelves, err := sess.Bookshelves(c.Request().Context())
	if err != nil {
		return permissionLost(err)
	}

	return c.JSON(http.StatusOK, meResponse{User: sess.User(), Bookshelves: shelves})
}

// SyncHandler dispatches a full mirror rebuild and answers immediately.
func (a *API) SyncHandler(c echo.Context) error {
	user := *middleware.CurrentUser(c)
	a.dispatcher.Go("full-sync:"+user.ID, func(ctx context.Context) error {
		return a.sync.SyncUser(ctx, &user)
	})
	return c.NoContent(http.StatusAccepted)
}

// LogoutHandler revokes the presented session token.
func (a *API) LogoutHandler(c echo.Context) error {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	token := strings.TrimPrefix(header, "Bearer ")
	if err := a.tokens.Revoke(c.Request().Context(), token); err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "could not revoke session")
	}
	return c.NoContent(http.StatusNoContent)
}

// SearchHandler runs a provider search overlaid with the user's mirror.
func (a *API) SearchHandler(c echo.Context) error {
	query := c.QueryParam("q")
	if query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing q")
	}

	params := googlebooks.SearchParams{
		StartIndex: intQuery(c, "startIndex", 0),
		MaxResults: clamp(intQuery(c, "maxResults", 16), 1, googlebooks.MaxPageSize),
		PrintType:  defaultString(c.QueryParam("printType"), "books"),
		Projection: defaultString(c.QueryParam("projection"), "lite"),
	}

	page, err := a.books.Search(c.Request().Context(), middleware.CurrentUser(c), query, params)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "search failed")
	}
	return c.JSON(http.StatusOK, page)
}

type setShelvesRequest struct {
	Bookshelves []int64 `json:"bookshelves" form:"bookshelves"`
}

// SetShelvesHandler persists a volume's new shelf membership to the mirror
// and dispatches the provider reconciliation.
func (a *API) SetShelvesHandler(c echo.Context) error {
	var req setShelvesRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid bookshelves")
	}
	for _, id := range req.Bookshelves {
		if domain.IsReservedBookshelf(id) {
			return echo.NewHTTPError(http.StatusBadRequest, "reserved bookshelf")
		}
	}

	book, err := a.books.SetShelves(c.Request().Context(), middleware.CurrentUser(c), c.Param("id"), req.Bookshelves)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "could not update bookshelves")
	}
	return c.JSON(http.StatusOK, book)
}

// BookshelvesHandler returns the denormalized shelf cache from the user
// document. Fast path, no provider call.
func (a *API) BookshelvesHandler(c echo.Context) error {
	user := middleware.CurrentUser(c)
	shelves := user.Bookshelves
	if shelves == nil {
		shelves = []domain.Bookshelf{}
	}
	return c.JSON(http.StatusOK, shelves)
}

// ShelfBooksHandler pages through one shelf from the mirror.
func (a *API) ShelfBooksHandler(c echo.Context) error {
	shelfID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid bookshelf id")
	}

	skip := int64(intQuery(c, "startIndex", 0))
	limit := int64(clamp(intQuery(c, "maxResults", 16), 1, googlebooks.MaxPageSize))

	page, err := a.books.BrowseShelf(c.Request().Context(), middleware.CurrentUser(c), shelfID, skip, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "could not read bookshelf")
	}
	return c.JSON(http.StatusOK, page)
}

// AddToShelfHandler adds a volume to a shelf directly on the provider.
func (a *API) AddToShelfHandler(c echo.Context) error {
	return a.mutateShelf(c, (*services.ShelfSession).AddBook)
}

// RemoveFromShelfHandler removes a volume from a shelf directly on the
// provider.
func (a *API) RemoveFromShelfHandler(c echo.Context) error {
	return a.mutateShelf(c, (*services.ShelfSession).RemoveBook)
}

func (a *API) mutateShelf(c echo.Context, op func(*services.ShelfSession, context.Context, int64, string) error) error {
	shelfID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid bookshelf id")
	}
	volumeID := c.FormValue("bookId")
	if volumeID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing bookId")
	}

	sess, err := a.opener.Open(c.Request().Context(), middleware.CurrentUser(c))
	if err != nil {
		return permissionLost(err)
	}
	if err := op(sess, c.Request().Context(), shelfID, volumeID); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "bookshelf update rejected")
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

// permissionLost maps credential failures to the distinct "re-consent
// required" status so the frontend can tell it apart from generic errors.
func permissionLost(err error) error {
	if errors.Is(err, apperrors.ErrPermissionLost) {
		return echo.NewHTTPError(http.StatusLocked, "provider permission lost, please re-authenticate")
	}
	switch apperrors.KindOf(err) {
	case apperrors.KindListShelves, apperrors.KindListShelfItems, apperrors.KindTokenExchange:
		return echo.NewHTTPError(http.StatusLocked, "provider permission lost, please re-authenticate")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "provider request failed")
}

func intQuery(c echo.Context, name string, def int) int {
	raw := c.QueryParam(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

func defaultString(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
