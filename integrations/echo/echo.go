// Package echo registers the auth decorator on Echo requests
package echo

import (
	"errors"
	"strings"

	"github.com/labstack/echo/v4"
	beaconauth "github.com/marshallshelly/beaconauth-plugin"
	"github.com/marshallshelly/beaconauth-plugin/auth"
)

// nameKey is the context key holding the decorator's namespace
const nameKey = "beaconauth.name"

// Middleware stores the decorator of each request under the plugin name.
// The request context carries it too.
func Middleware(b *beaconauth.BeaconAuth) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user := b.User(auth.RequestJar(c.Response(), c.Request()))
			c.Set(nameKey, b.Name())
			c.Set(b.Name(), user)
			c.SetRequest(c.Request().WithContext(auth.WithUser(c.Request().Context(), user)))
			return next(c)
		}
	}
}

// User returns the decorator stored by Middleware, nil without it
func User(c echo.Context) *auth.User {
	name, _ := c.Get(nameKey).(string)
	user, _ := c.Get(name).(*auth.User)
	return user
}

// RequireAuth answers 401 INVALID_SESSION unless the request has a valid
// session
func RequireAuth() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user := User(c)
			if user == nil {
				return errors.New("beaconauth: RequireAuth used without Middleware")
			}
			if err := user.Validate(c.Request().Context()); err != nil {
				status, body := auth.ErrorBody(err)
				return c.JSON(status, body)
			}
			return next(c)
		}
	}
}

// ErrorHandler answers auth errors with their status and code. Use it as
// echo.Echo.HTTPErrorHandler.
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		c.Echo().DefaultHTTPErrorHandler(err, c)
		return
	}

	status, body := auth.ErrorBody(err)
	_ = c.JSON(status, body)
}

// Mount serves the user routes under prefix and each OAuth provider at
// prefix/<provider>
func Mount(e *echo.Echo, prefix string, b *beaconauth.BeaconAuth) {
	prefix = strings.TrimRight(prefix, "/")

	for _, id := range b.Providers() {
		handler, _ := b.OAuth(id)
		e.GET(prefix+"/"+id, echo.WrapHandler(handler))
		e.POST(prefix+"/"+id, echo.WrapHandler(handler))
	}

	for _, endpoint := range b.Endpoints() {
		e.Add(endpoint.Method, prefix+endpoint.Path, echo.WrapHandler(endpoint.Handler))
	}
}
