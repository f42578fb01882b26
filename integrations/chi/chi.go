// Package chi registers the auth decorator on chi routers
package chi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	beaconauth "github.com/marshallshelly/beaconauth-plugin"
	"github.com/marshallshelly/beaconauth-plugin/auth"
	beaconauth_http "github.com/marshallshelly/beaconauth-plugin/integrations/http"
)

// Middleware stores the decorator of each request in its context
func Middleware(b *beaconauth.BeaconAuth) func(http.Handler) http.Handler {
	return beaconauth_http.Middleware(b)
}

// User returns the decorator stored by Middleware, nil without it
func User(r *http.Request) *auth.User {
	return beaconauth_http.User(r)
}

// RequireAuth answers 401 INVALID_SESSION unless the request has a valid
// session
func RequireAuth(next http.Handler) http.Handler {
	return beaconauth_http.RequireAuth(next)
}

// Mount serves the user routes under prefix and each OAuth provider at
// prefix/<provider>
func Mount(r chi.Router, prefix string, b *beaconauth.BeaconAuth) {
	prefix = strings.TrimRight(prefix, "/")

	for _, id := range b.Providers() {
		handler, _ := b.OAuth(id)
		r.Get(prefix+"/"+id, handler.ServeHTTP)
		r.Post(prefix+"/"+id, handler.ServeHTTP)
	}

	for _, e := range b.Endpoints() {
		r.Method(e.Method, prefix+e.Path, e.Handler)
	}
}
