package auth

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/marshallshelly/beaconauth-plugin/adapters/memory"
	"github.com/marshallshelly/beaconauth-plugin/core"
)

type plainHasher struct{}

func (plainHasher) Hash(password string) (string, error)       { return "plain:" + password, nil }
func (plainHasher) Verify(password, hash string) (bool, error) { return hash == "plain:"+password, nil }

func setupTestHandler(t *testing.T) http.Handler {
	t.Helper()

	engine, err := core.New(
		core.WithAdapter(memory.New()),
		core.WithEnv(core.EnvDev),
		core.WithLogger(core.NewNoopLogger()),
		core.WithPasswordHasher(plainHasher{}),
	)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	t.Cleanup(func() { engine.Close() })

	return NewHandler(engine, "session", nil).Routes()
}

func doRequest(t *testing.T, h http.Handler, method, path string, body interface{}, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func sessionCookie(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == "session" {
			return c
		}
	}
	t.Fatal("Expected session cookie")
	return nil
}

func TestHandler_SignUpAndMe(t *testing.T) {
	h := setupTestHandler(t)

	w := doRequest(t, h, http.MethodPost, "/sign-up", SignUpRequest{
		Username:      "alice",
		Password:      "secret",
		CreateSession: true,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}

	cookie := sessionCookie(t, w)

	w = doRequest(t, h, http.MethodGet, "/me", nil, cookie)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp UserResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.User.Username() != "alice" {
		t.Errorf("Expected username alice, got %v", resp.User.Attributes)
	}
}

func TestHandler_SignUpDuplicate(t *testing.T) {
	h := setupTestHandler(t)

	body := SignUpRequest{Username: "alice", Password: "secret"}
	doRequest(t, h, http.MethodPost, "/sign-up", body)

	w := doRequest(t, h, http.MethodPost, "/sign-up", body)
	if w.Code != http.StatusConflict {
		t.Fatalf("Expected status 409, got %d", w.Code)
	}

	var resp ErrorResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Error != core.ErrCodeDuplicateKeyID {
		t.Errorf("Expected error %s, got %s", core.ErrCodeDuplicateKeyID, resp.Error)
	}
}

func TestHandler_SignIn(t *testing.T) {
	h := setupTestHandler(t)
	doRequest(t, h, http.MethodPost, "/sign-up", SignUpRequest{Username: "alice", Password: "secret"})

	tests := []struct {
		name       string
		password   string
		wantStatus int
	}{
		{name: "valid password", password: "secret", wantStatus: http.StatusNoContent},
		{name: "wrong password", password: "wrong", wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, h, http.MethodPost, "/sign-in", SignInRequest{Username: "alice", Password: tt.password})
			if w.Code != tt.wantStatus {
				t.Errorf("Expected status %d, got %d: %s", tt.wantStatus, w.Code, w.Body.String())
			}
		})
	}
}

func TestHandler_MeWithoutSession(t *testing.T) {
	h := setupTestHandler(t)

	w := doRequest(t, h, http.MethodGet, "/me", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("Expected status 401, got %d", w.Code)
	}

	var resp ErrorResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Error != core.ErrCodeInvalidSession {
		t.Errorf("Expected error %s, got %s", core.ErrCodeInvalidSession, resp.Error)
	}
}

func TestHandler_SignOut(t *testing.T) {
	h := setupTestHandler(t)

	w := doRequest(t, h, http.MethodPost, "/sign-up", SignUpRequest{Username: "alice", Password: "secret", CreateSession: true})
	cookie := sessionCookie(t, w)

	w = doRequest(t, h, http.MethodPost, "/sign-out", nil, cookie)
	if w.Code != http.StatusNoContent {
		t.Fatalf("Expected status 204, got %d: %s", w.Code, w.Body.String())
	}
	if cleared := sessionCookie(t, w); cleared.MaxAge != -1 {
		t.Errorf("Expected cleared cookie, got %+v", cleared)
	}

	w = doRequest(t, h, http.MethodGet, "/me", nil, cookie)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401 after sign out, got %d", w.Code)
	}
}

func TestHandler_Delete(t *testing.T) {
	h := setupTestHandler(t)

	w := doRequest(t, h, http.MethodPost, "/sign-up", SignUpRequest{Username: "alice", Password: "secret", CreateSession: true})
	cookie := sessionCookie(t, w)

	w = doRequest(t, h, http.MethodDelete, "/me", DeleteRequest{Confirm: "please"}, cookie)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 without confirmation, got %d", w.Code)
	}

	w = doRequest(t, h, http.MethodDelete, "/me", DeleteRequest{Confirm: DeleteConfirmation}, cookie)
	if w.Code != http.StatusNoContent {
		t.Fatalf("Expected status 204, got %d: %s", w.Code, w.Body.String())
	}

	w = doRequest(t, h, http.MethodPost, "/sign-in", SignInRequest{Username: "alice", Password: "secret"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected deleted user to be unable to sign in, got %d", w.Code)
	}
}

func TestHandler_UpdatePassword(t *testing.T) {
	h := setupTestHandler(t)

	doRequest(t, h, http.MethodPost, "/sign-up", SignUpRequest{Username: "victim", Password: "victim-pw"})
	w := doRequest(t, h, http.MethodPost, "/sign-up", SignUpRequest{Username: "mallory", Password: "mallory-pw", CreateSession: true})
	cookie := sessionCookie(t, w)

	tests := []struct {
		name       string
		req        UpdatePasswordRequest
		wantStatus int
	}{
		{
			name:       "another user's key",
			req:        UpdatePasswordRequest{Username: "victim", CurrentPassword: "mallory-pw", Password: "owned"},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "another user's key with its password",
			req:        UpdatePasswordRequest{Username: "victim", CurrentPassword: "victim-pw", Password: "owned"},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "wrong current password",
			req:        UpdatePasswordRequest{Username: "mallory", CurrentPassword: "guess", Password: "changed"},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "own key",
			req:        UpdatePasswordRequest{Username: "mallory", CurrentPassword: "mallory-pw", Password: "changed"},
			wantStatus: http.StatusNoContent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, h, http.MethodPost, "/password", tt.req, cookie)
			if w.Code != tt.wantStatus {
				t.Errorf("Expected status %d, got %d: %s", tt.wantStatus, w.Code, w.Body.String())
			}
		})
	}

	signIns := []struct {
		username   string
		password   string
		wantStatus int
	}{
		{"victim", "victim-pw", http.StatusNoContent},
		{"victim", "owned", http.StatusUnauthorized},
		{"mallory", "changed", http.StatusNoContent},
		{"mallory", "mallory-pw", http.StatusUnauthorized},
	}
	for _, si := range signIns {
		w := doRequest(t, h, http.MethodPost, "/sign-in", SignInRequest{Username: si.username, Password: si.password})
		if w.Code != si.wantStatus {
			t.Errorf("sign-in %s/%s: expected status %d, got %d", si.username, si.password, si.wantStatus, w.Code)
		}
	}

	w = doRequest(t, h, http.MethodPost, "/password", UpdatePasswordRequest{Username: "mallory", CurrentPassword: "changed", Password: "x"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401 without a session, got %d", w.Code)
	}
}

func TestHandler_SignOutScope(t *testing.T) {
	h := setupTestHandler(t)

	w := doRequest(t, h, http.MethodPost, "/sign-up", SignUpRequest{Username: "alice", Password: "secret", CreateSession: true})
	first := sessionCookie(t, w)
	second := sessionCookie(t, doRequest(t, h, http.MethodPost, "/sign-in", SignInRequest{Username: "alice", Password: "secret"}))

	w = doRequest(t, h, http.MethodPost, "/sign-out", SignOutRequest{Scope: SignOutAll}, second)
	if w.Code != http.StatusNoContent {
		t.Fatalf("Expected status 204, got %d: %s", w.Code, w.Body.String())
	}

	for _, c := range []*http.Cookie{first, second} {
		if w := doRequest(t, h, http.MethodGet, "/me", nil, c); w.Code != http.StatusUnauthorized {
			t.Errorf("Expected every session to be signed out, got %d", w.Code)
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/sign-out", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for a malformed body, got %d", rec.Code)
	}
}

func TestHandler_SignUpAttributes(t *testing.T) {
	h := setupTestHandler(t)

	w := doRequest(t, h, http.MethodPost, "/sign-up", SignUpRequest{
		Username:   "bob",
		Password:   "pw",
		Attributes: map[string]interface{}{"username": "admin", "password": "leaked", "plan": "free"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp UserResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	attrs := resp.User.Attributes
	if attrs["username"] != "bob" || attrs["plan"] != "free" {
		t.Errorf("Unexpected attributes: %v", attrs)
	}
	if _, ok := attrs["password"]; ok {
		t.Errorf("Expected no password attribute, got %v", attrs)
	}
}
