// Package http registers the auth decorator on net/http requests
package http

import (
	"net/http"
	"strings"

	beaconauth "github.com/marshallshelly/beaconauth-plugin"
	"github.com/marshallshelly/beaconauth-plugin/auth"
)

// Middleware stores the decorator of each request in its context
func Middleware(b *beaconauth.BeaconAuth) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := b.User(auth.RequestJar(w, r))
			next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), user)))
		})
	}
}

// User returns the decorator stored by Middleware, nil without it
func User(r *http.Request) *auth.User {
	user, _ := auth.FromContext(r.Context())
	return user
}

// RequireAuth answers 401 INVALID_SESSION unless the request has a valid
// session
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := User(r)
		if user == nil {
			http.Error(w, "beaconauth: RequireAuth used without Middleware", http.StatusInternalServerError)
			return
		}
		if err := user.Validate(r.Context()); err != nil {
			auth.WriteError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Mount serves the user routes under prefix and each OAuth provider at
// prefix/<provider>
func Mount(mux *http.ServeMux, prefix string, b *beaconauth.BeaconAuth) {
	prefix = strings.TrimRight(prefix, "/")

	for _, id := range b.Providers() {
		handler, _ := b.OAuth(id)
		mux.Handle(prefix+"/"+id, handler)
	}
	for _, e := range b.Endpoints() {
		mux.Handle(e.Method+" "+prefix+e.Path, e.Handler)
	}
}
