package chi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	beaconauth "github.com/marshallshelly/beaconauth-plugin"
	"github.com/marshallshelly/beaconauth-plugin/adapters/memory"
	"github.com/marshallshelly/beaconauth-plugin/core"
	"github.com/marshallshelly/beaconauth-plugin/plugins/oauth/providers"
)

type plainHasher struct{}

func (plainHasher) Hash(password string) (string, error)       { return "plain:" + password, nil }
func (plainHasher) Verify(password, hash string) (bool, error) { return hash == "plain:"+password, nil }

func setupRouter(t *testing.T) (http.Handler, *beaconauth.BeaconAuth) {
	t.Helper()

	b, err := beaconauth.New(
		beaconauth.WithAdapter(memory.New()),
		beaconauth.WithEnv(core.EnvDev),
		beaconauth.WithLogger(core.NewNoopLogger()),
		beaconauth.WithCoreOptions(core.WithPasswordHasher(plainHasher{})),
		beaconauth.WithProvider("discord", providers.Options{
			ClientID:     "id",
			ClientSecret: "secret",
			RedirectURL:  "http://localhost/auth/discord",
		}),
	)
	if err != nil {
		t.Fatalf("Failed to create plugin: %v", err)
	}
	t.Cleanup(func() { b.Close() })

	r := chi.NewRouter()
	r.Use(Middleware(b))
	Mount(r, "/auth", b)
	r.With(RequireAuth).Get("/protected", func(w http.ResponseWriter, r *http.Request) {
		id, err := User(r).ID(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Write([]byte(id))
	})
	return r, b
}

func TestMount(t *testing.T) {
	router, b := setupRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/discord", nil))
	if w.Code != http.StatusFound {
		t.Fatalf("oauth status = %d, want %d", w.Code, http.StatusFound)
	}
	if !strings.HasPrefix(w.Header().Get("Location"), "https://discord.com/") {
		t.Errorf("Location = %q", w.Header().Get("Location"))
	}

	req := httptest.NewRequest(http.MethodPost, "/auth/sign-up", strings.NewReader(`{"username":"chi","password":"hunter22","createSession":true}`))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("sign-up status = %d: %s", w.Code, w.Body)
	}

	var cookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == b.SessionName() {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("Expected session cookie to be set")
	}

	tests := []struct {
		name       string
		cookie     *http.Cookie
		wantStatus int
	}{
		{"no session", nil, http.StatusUnauthorized},
		{"unknown session", &http.Cookie{Name: b.SessionName(), Value: "nope"}, http.StatusUnauthorized},
		{"valid session", cookie, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/protected", nil)
			if tt.cookie != nil {
				req.AddCookie(tt.cookie)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusUnauthorized && !strings.Contains(w.Body.String(), core.ErrCodeInvalidSession) {
				t.Errorf("body = %q", w.Body)
			}
		})
	}
}
