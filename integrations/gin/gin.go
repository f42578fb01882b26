// Package gin registers the auth decorator on Gin requests
package gin

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	beaconauth "github.com/marshallshelly/beaconauth-plugin"
	"github.com/marshallshelly/beaconauth-plugin/auth"
)

// nameKey is the context key holding the decorator's namespace
const nameKey = "beaconauth.name"

// Middleware stores the decorator of each request under the plugin name.
// The request context carries it too.
func Middleware(b *beaconauth.BeaconAuth) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := b.User(auth.RequestJar(c.Writer, c.Request))
		c.Set(nameKey, b.Name())
		c.Set(b.Name(), user)
		c.Request = c.Request.WithContext(auth.WithUser(c.Request.Context(), user))
		c.Next()
	}
}

// User returns the decorator stored by Middleware, nil without it
func User(c *gin.Context) *auth.User {
	name := c.GetString(nameKey)
	if v, exists := c.Get(name); exists {
		if user, ok := v.(*auth.User); ok {
			return user
		}
	}
	return nil
}

// RequireAuth aborts with 401 INVALID_SESSION unless the request has a
// valid session
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := User(c)
		if user == nil {
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		if err := user.Validate(c.Request.Context()); err != nil {
			status, body := auth.ErrorBody(err)
			c.AbortWithStatusJSON(status, body)
			return
		}
		c.Next()
	}
}

// Mount serves the user routes under prefix and each OAuth provider at
// prefix/<provider>
func Mount(r gin.IRouter, prefix string, b *beaconauth.BeaconAuth) {
	prefix = strings.TrimRight(prefix, "/")

	for _, id := range b.Providers() {
		handler, _ := b.OAuth(id)
		r.GET(prefix+"/"+id, gin.WrapH(handler))
		r.POST(prefix+"/"+id, gin.WrapH(handler))
	}

	for _, e := range b.Endpoints() {
		r.Handle(e.Method, prefix+e.Path, gin.WrapF(e.Handler))
	}
}
