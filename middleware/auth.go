// Package middleware holds the echo middleware shared by the API surface.
package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/bookmirror/bookmirror/domain"
	"github.com/bookmirror/bookmirror/services"
)

const currentUserKey = "current_user"

// RequireSession authenticates the Bearer session token and loads the user
// into the request context. Anything that fails validation gets a 401; the
// handlers behind this middleware can assume CurrentUser returns a user.
func RequireSession(tokens *services.TokenService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
			}

			user, err := tokens.Authenticate(c.Request().Context(), token)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "could not validate credentials")
			}

			c.Set(currentUserKey, user)
			return next(c)
		}
	}
}

// CurrentUser returns the user loaded by RequireSession.
func CurrentUser(c echo.Context) *domain.User {
	user, _ := c.Get(currentUserKey).(*domain.User)
	return user
}
