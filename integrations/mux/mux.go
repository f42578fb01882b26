// Package mux registers the auth decorator on gorilla/mux routers
package mux

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	beaconauth "github.com/marshallshelly/beaconauth-plugin"
	"github.com/marshallshelly/beaconauth-plugin/auth"
	beaconauth_http "github.com/marshallshelly/beaconauth-plugin/integrations/http"
)

// Middleware stores the decorator of each request in its context
func Middleware(b *beaconauth.BeaconAuth) mux.MiddlewareFunc {
	return beaconauth_http.Middleware(b)
}

// User returns the decorator stored by Middleware, nil without it
func User(r *http.Request) *auth.User {
	return beaconauth_http.User(r)
}

// RequireAuth answers 401 INVALID_SESSION unless the request has a valid
// session
func RequireAuth() mux.MiddlewareFunc {
	return beaconauth_http.RequireAuth
}

// Mount serves the user routes under prefix and each OAuth provider at
// prefix/<provider>
func Mount(r *mux.Router, prefix string, b *beaconauth.BeaconAuth) {
	prefix = strings.TrimRight(prefix, "/")

	for _, id := range b.Providers() {
		handler, _ := b.OAuth(id)
		r.Handle(prefix+"/"+id, handler).Methods(http.MethodGet, http.MethodPost)
	}

	for _, e := range b.Endpoints() {
		r.Handle(prefix+e.Path, e.Handler).Methods(e.Method)
	}
}
