package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/marshallshelly/beaconauth-plugin/adapters/memory"
	"github.com/marshallshelly/beaconauth-plugin/core"
	"github.com/marshallshelly/beaconauth-plugin/plugins/oauth/providers"
	"golang.org/x/oauth2"
)

// mockProvider is an authorization server issuing one code
type mockProvider struct {
	*httptest.Server

	mu        sync.Mutex
	challenge string
	userID    interface{}
}

func newMockProvider(t *testing.T) *mockProvider {
	t.Helper()

	m := &mockProvider{userID: 583231}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if r.PostForm.Get("code") != "good-code" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}

		m.mu.Lock()
		challenge := m.challenge
		m.mu.Unlock()
		if challenge != "" && oauth2.S256ChallengeFromVerifier(r.PostForm.Get("code_verifier")) != challenge {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"invalid_grant","error_description":"code verifier mismatch"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"provider-token","token_type":"bearer"}`))
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer provider-token" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		m.mu.Lock()
		defer m.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"id": m.userID, "login": "octocat"})
	})

	m.Server = httptest.NewServer(mux)
	t.Cleanup(m.Close)
	return m
}

func (m *mockProvider) provider(pkce bool) *providers.Provider {
	return &providers.Provider{
		ID:   "github",
		Name: "GitHub",
		Config: oauth2.Config{
			ClientID:     "client-id",
			ClientSecret: "client-secret",
			RedirectURL:  "http://app.test/oauth/github",
			Endpoint: oauth2.Endpoint{
				AuthURL:   m.URL + "/authorize",
				TokenURL:  m.URL + "/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
			Scopes: []string{"read:user"},
		},
		PKCE:        pkce,
		UserInfoURL: m.URL + "/user",
	}
}

func newTestEngine(t *testing.T) *core.Auth {
	t.Helper()

	engine, err := core.New(
		core.WithAdapter(memory.New()),
		core.WithEnv(core.EnvDev),
		core.WithLogger(core.NewNoopLogger()),
	)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	t.Cleanup(func() { engine.Close() })
	return engine
}

func findCookie(w *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// begin starts the flow and returns the redirect URL and flow cookies
func begin(t *testing.T, h *Handler) (*url.URL, []*http.Cookie) {
	t.Helper()

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/oauth/github", nil))
	if w.Code != http.StatusFound {
		t.Fatalf("authorize status = %d, want %d", w.Code, http.StatusFound)
	}

	location, err := url.Parse(w.Header().Get("Location"))
	if err != nil {
		t.Fatalf("invalid Location: %v", err)
	}
	return location, w.Result().Cookies()
}

func callback(h *Handler, query string, cookies []*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/oauth/github?"+query, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHandler_Authorize(t *testing.T) {
	mock := newMockProvider(t)

	tests := []struct {
		name         string
		pkce         bool
		wantVerifier bool
	}{
		{"plain", false, false},
		{"pkce", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := New(newTestEngine(t), mock.provider(tt.pkce), "session", nil)
			if err != nil {
				t.Fatal(err)
			}

			location, cookies := begin(t, h)
			if !strings.HasPrefix(location.String(), mock.URL+"/authorize") {
				t.Errorf("Location = %s", location)
			}

			query := location.Query()
			var state, verifier *http.Cookie
			for _, c := range cookies {
				switch c.Name {
				case "github_oauth_state":
					state = c
				case "github_oauth_code_verifier":
					verifier = c
				}
			}

			if state == nil || state.Value != query.Get("state") {
				t.Fatalf("state cookie %v does not match state %q", state, query.Get("state"))
			}
			if !state.HttpOnly || state.MaxAge != 600 {
				t.Errorf("state cookie = %+v", state)
			}
			if (verifier != nil) != tt.wantVerifier {
				t.Fatalf("verifier cookie present = %v, want %v", verifier != nil, tt.wantVerifier)
			}
			if tt.wantVerifier {
				if query.Get("code_challenge_method") != "S256" {
					t.Errorf("code_challenge_method = %q", query.Get("code_challenge_method"))
				}
				if query.Get("code_challenge") != oauth2.S256ChallengeFromVerifier(verifier.Value) {
					t.Error("code challenge does not match the verifier cookie")
				}
			} else if query.Get("code_challenge") != "" {
				t.Error("plain exchange must not send a code challenge")
			}
			if query.Get("client_id") != "client-id" {
				t.Errorf("client_id = %q", query.Get("client_id"))
			}
		})
	}
}

func TestHandler_Callback(t *testing.T) {
	for _, exchange := range []Exchange{Plain, PKCE} {
		t.Run(exchange.String(), func(t *testing.T) {
			pkce := exchange == PKCE
			mock := newMockProvider(t)
			engine := newTestEngine(t)
			ctx := context.Background()

			h, err := New(engine, mock.provider(pkce), "session", nil, WithSuccessRedirect("/dashboard"))
			if err != nil {
				t.Fatal(err)
			}

			location, cookies := begin(t, h)
			mock.mu.Lock()
			mock.challenge = location.Query().Get("code_challenge")
			mock.mu.Unlock()

			w := callback(h, "code=good-code&state="+url.QueryEscape(location.Query().Get("state")), cookies)
			if w.Code != http.StatusFound {
				t.Fatalf("callback status = %d: %s", w.Code, w.Body.String())
			}
			if w.Header().Get("Location") != "/dashboard" {
				t.Errorf("Location = %q", w.Header().Get("Location"))
			}

			session := findCookie(w, "session")
			if session == nil || session.Value == "" {
				t.Fatal("expected a session cookie")
			}
			if !session.HttpOnly || session.MaxAge != 3600 || session.Path != "/" {
				t.Errorf("session cookie = %+v", session)
			}
			if state := findCookie(w, "github_oauth_state"); state == nil || state.MaxAge >= 0 {
				t.Error("expected the state cookie to be cleared")
			}

			validated, err := engine.ValidateSession(ctx, session.Value)
			if err != nil {
				t.Fatalf("ValidateSession() error = %v", err)
			}

			key, err := engine.GetKey(ctx, "github", "583231")
			if err != nil {
				t.Fatalf("GetKey() error = %v", err)
			}
			if key.UserID != validated.UserID {
				t.Errorf("session user %s, key user %s", validated.UserID, key.UserID)
			}
			user, err := engine.GetUser(ctx, key.UserID)
			if err != nil {
				t.Fatal(err)
			}
			if user.Attributes["username"] != "octocat" {
				t.Errorf("username = %v", user.Attributes["username"])
			}

			// a second sign-in links to the same user
			location, cookies = begin(t, h)
			mock.mu.Lock()
			mock.challenge = location.Query().Get("code_challenge")
			mock.mu.Unlock()

			w = callback(h, "code=good-code&state="+url.QueryEscape(location.Query().Get("state")), cookies)
			if w.Code != http.StatusFound {
				t.Fatalf("second callback status = %d: %s", w.Code, w.Body.String())
			}
			second, err := engine.ValidateSession(ctx, findCookie(w, "session").Value)
			if err != nil {
				t.Fatal(err)
			}
			if second.UserID != key.UserID {
				t.Errorf("second sign-in created user %s, want %s", second.UserID, key.UserID)
			}
		})
	}
}

func TestHandler_CallbackErrors(t *testing.T) {
	mock := newMockProvider(t)

	tests := []struct {
		name       string
		pkce       bool
		query      func(state string) string
		dropCookie string
		wantStatus int
		wantCode   string
	}{
		{
			name:       "state mismatch",
			query:      func(string) string { return "code=good-code&state=forged" },
			wantStatus: http.StatusBadRequest,
			wantCode:   core.ErrCodeBadRequest,
		},
		{
			name:       "missing state cookie",
			query:      func(state string) string { return "code=good-code&state=" + url.QueryEscape(state) },
			dropCookie: "github_oauth_state",
			wantStatus: http.StatusBadRequest,
			wantCode:   core.ErrCodeBadRequest,
		},
		{
			name:       "missing verifier cookie",
			pkce:       true,
			query:      func(state string) string { return "code=good-code&state=" + url.QueryEscape(state) },
			dropCookie: "github_oauth_code_verifier",
			wantStatus: http.StatusBadRequest,
			wantCode:   core.ErrCodeBadRequest,
		},
		{
			name:       "provider error",
			query:      func(string) string { return "error=access_denied" },
			wantStatus: http.StatusBadRequest,
			wantCode:   core.ErrCodeBadRequest,
		},
		{
			name:       "rejected code",
			query:      func(state string) string { return "code=bad-code&state=" + url.QueryEscape(state) },
			wantStatus: http.StatusBadRequest,
			wantCode:   core.ErrCodeBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := New(newTestEngine(t), mock.provider(tt.pkce), "session", nil)
			if err != nil {
				t.Fatal(err)
			}

			location, cookies := begin(t, h)
			var kept []*http.Cookie
			for _, c := range cookies {
				if c.Name != tt.dropCookie {
					kept = append(kept, c)
				}
			}

			w := callback(h, tt.query(location.Query().Get("state")), kept)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.wantStatus, w.Body.String())
			}

			var body struct {
				Error string `json:"error"`
			}
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatal(err)
			}
			if body.Error != tt.wantCode {
				t.Errorf("error = %q, want %q", body.Error, tt.wantCode)
			}
			if findCookie(w, "session") != nil {
				t.Error("no session cookie may be set on failure")
			}
		})
	}
}

func TestHandler_MissingProviderUserID(t *testing.T) {
	mock := newMockProvider(t)
	mock.userID = nil

	var got error
	h, err := New(newTestEngine(t), mock.provider(false), "session", nil,
		WithErrorHandler(func(w http.ResponseWriter, r *http.Request, err error) {
			got = err
			w.WriteHeader(http.StatusTeapot)
		}),
	)
	if err != nil {
		t.Fatal(err)
	}

	location, cookies := begin(t, h)
	w := callback(h, "code=good-code&state="+url.QueryEscape(location.Query().Get("state")), cookies)
	if w.Code != http.StatusTeapot {
		t.Fatalf("status = %d", w.Code)
	}
	if got != ErrMissingProviderUserID {
		t.Errorf("error = %v, want ErrMissingProviderUserID", got)
	}
}

type recordingObserver struct {
	provider string
	err      error
	calls    int
}

func (o *recordingObserver) ObserveOAuth(provider string, elapsed time.Duration, err error) {
	o.provider = provider
	o.err = err
	o.calls++
}

func TestHandler_Observer(t *testing.T) {
	mock := newMockProvider(t)
	observer := &recordingObserver{}

	h, err := New(newTestEngine(t), mock.provider(false), "session", nil, WithObserver(observer))
	if err != nil {
		t.Fatal(err)
	}

	location, cookies := begin(t, h)
	if observer.calls != 0 {
		t.Fatalf("authorize must not be observed, got %d calls", observer.calls)
	}

	state := url.QueryEscape(location.Query().Get("state"))
	if w := callback(h, "code=good-code&state="+state, cookies); w.Code != http.StatusFound {
		t.Fatalf("status = %d", w.Code)
	}
	if observer.calls != 1 || observer.provider != "github" || observer.err != nil {
		t.Errorf("observer = %+v", observer)
	}

	location, cookies = begin(t, h)
	callback(h, "code=bad-code&state="+url.QueryEscape(location.Query().Get("state")), cookies)
	if observer.calls != 2 || core.ErrorCode(observer.err) != core.ErrCodeBadRequest {
		t.Errorf("observer = %+v", observer)
	}
}

func TestNew_Errors(t *testing.T) {
	engine := newTestEngine(t)

	if _, err := New(engine, nil, "session", nil); err == nil {
		t.Error("expected a nil provider to fail")
	}
	if _, err := New(engine, &providers.Provider{ID: "myspace"}, "session", nil); err == nil {
		t.Error("expected a provider without profile function to fail")
	}

	custom := func([]byte) (Profile, error) { return Profile{ID: "1"}, nil }
	if _, err := New(engine, &providers.Provider{ID: "myspace"}, "session", custom); err != nil {
		t.Errorf("New() with a custom profile error = %v", err)
	}
}
