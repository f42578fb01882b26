// Package fiber registers the auth decorator on Fiber requests and mounts
// the user and OAuth routes.
package fiber

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	beaconauth "github.com/marshallshelly/beaconauth-plugin"
	"github.com/marshallshelly/beaconauth-plugin/auth"
)

// nameKey is the Locals key holding the decorator's namespace
const nameKey = "beaconauth.name"

// Middleware registers the decorator of each request in Locals under the
// plugin name
func Middleware(b *beaconauth.BeaconAuth) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Locals(nameKey, b.Name())
		c.Locals(b.Name(), b.User(Jar(c)))
		return c.Next()
	}
}

// User returns the decorator registered by Middleware, nil without it
func User(c *fiber.Ctx) *auth.User {
	name, ok := c.Locals(nameKey).(string)
	if !ok {
		return nil
	}
	user, _ := c.Locals(name).(*auth.User)
	return user
}

// Jar is the cookie jar of a Fiber request
func Jar(c *fiber.Ctx) auth.CookieJar {
	return auth.NewJar(
		func(name string) string {
			return c.Cookies(name)
		},
		func(cookie *http.Cookie) {
			c.Cookie(toFiberCookie(cookie))
		},
	)
}

// RequireAuth rejects requests without a valid session with a 401
func RequireAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		user := User(c)
		if user == nil {
			return errors.New("beaconauth: RequireAuth used without Middleware")
		}
		if err := user.Validate(c.UserContext()); err != nil {
			status, body := auth.ErrorBody(err)
			return c.Status(status).JSON(body)
		}
		return c.Next()
	}
}

// ErrorHandler answers auth errors with their status and code. Use it as
// fiber.Config.ErrorHandler.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return c.Status(fiberErr.Code).JSON(&auth.ErrorResponse{
			Error:   strings.ToUpper(strings.ReplaceAll(http.StatusText(fiberErr.Code), " ", "_")),
			Message: fiberErr.Message,
		})
	}

	status, body := auth.ErrorBody(err)
	return c.Status(status).JSON(body)
}

// Mount serves the user routes under prefix and each OAuth provider at
// prefix/<provider>
func Mount(router fiber.Router, prefix string, b *beaconauth.BeaconAuth) {
	prefix = strings.TrimRight(prefix, "/")

	for _, id := range b.Providers() {
		handler, _ := b.OAuth(id)
		router.Get(prefix+"/"+id, HTTPHandler(handler))
		router.Post(prefix+"/"+id, HTTPHandler(handler))
	}

	for _, e := range b.Endpoints() {
		router.Add(e.Method, prefix+e.Path, HTTPHandler(e.Handler))
	}
}

func toFiberCookie(cookie *http.Cookie) *fiber.Cookie {
	fc := &fiber.Cookie{
		Name:     cookie.Name,
		Value:    cookie.Value,
		Path:     cookie.Path,
		Domain:   cookie.Domain,
		MaxAge:   cookie.MaxAge,
		Secure:   cookie.Secure,
		HTTPOnly: cookie.HttpOnly,
	}

	if cookie.MaxAge < 0 {
		fc.MaxAge = 0
		fc.Expires = time.Unix(0, 0)
	}

	switch cookie.SameSite {
	case http.SameSiteStrictMode:
		fc.SameSite = fiber.CookieSameSiteStrictMode
	case http.SameSiteNoneMode:
		fc.SameSite = fiber.CookieSameSiteNoneMode
	default:
		fc.SameSite = fiber.CookieSameSiteLaxMode
	}
	return fc
}
