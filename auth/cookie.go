package auth

import (
	"net/http"
	"sync"
)

// Session cookie attributes
const (
	CookieMaxAge = 3600
	CookiePath   = "/"
)

// CookieJar is the request's cookie view. Set writes to the response.
type CookieJar interface {
	Get(name string) string
	Set(cookie *http.Cookie)
}

// jar overlays cookies written during the request on the incoming ones,
// so a value set by SignIn is visible to a later ID call.
type jar struct {
	mu      sync.Mutex
	get     func(name string) string
	set     func(cookie *http.Cookie)
	written map[string]string
}

// NewJar builds a CookieJar from a framework's cookie getter and setter
func NewJar(get func(name string) string, set func(cookie *http.Cookie)) CookieJar {
	return &jar{
		get:     get,
		set:     set,
		written: make(map[string]string),
	}
}

// RequestJar is the net/http CookieJar of a request
func RequestJar(w http.ResponseWriter, r *http.Request) CookieJar {
	return NewJar(
		func(name string) string {
			cookie, err := r.Cookie(name)
			if err != nil {
				return ""
			}
			return cookie.Value
		},
		func(cookie *http.Cookie) {
			http.SetCookie(w, cookie)
		},
	)
}

func (j *jar) Get(name string) string {
	j.mu.Lock()
	value, ok := j.written[name]
	j.mu.Unlock()
	if ok {
		return value
	}
	return j.get(name)
}

func (j *jar) Set(cookie *http.Cookie) {
	j.mu.Lock()
	if cookie.MaxAge < 0 {
		j.written[cookie.Name] = ""
	} else {
		j.written[cookie.Name] = cookie.Value
	}
	j.mu.Unlock()
	j.set(cookie)
}

// SessionCookie is the cookie holding a session ID
func SessionCookie(name, sessionID string, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    sessionID,
		Path:     CookiePath,
		MaxAge:   CookieMaxAge,
		Secure:   secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

// ClearedCookie removes the session cookie
func ClearedCookie(name string, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     CookiePath,
		MaxAge:   -1,
		Secure:   secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}
