package auth

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/marshallshelly/beaconauth-plugin/core"
)

// Handler serves JSON endpoints over the decorator
type Handler struct {
	auth        Backend
	sessionName string
	logger      core.Logger
}

// NewHandler creates the JSON endpoints for an engine
func NewHandler(backend Backend, sessionName string, logger core.Logger) *Handler {
	if logger == nil {
		logger = core.NewNoopLogger()
	}
	return &Handler{
		auth:        backend,
		sessionName: sessionName,
		logger:      logger,
	}
}

// SignUpRequest represents a sign up request
type SignUpRequest struct {
	Username      string                 `json:"username"`
	Password      string                 `json:"password"`
	Attributes    map[string]interface{} `json:"attributes,omitempty"`
	CreateSession bool                   `json:"createSession"`
}

// SignInRequest represents a sign in request
type SignInRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// SignOutRequest selects the sessions to invalidate: current (default),
// all or unused
type SignOutRequest struct {
	Scope SignOutScope `json:"scope"`
}

// UpdatePasswordRequest represents a password change of the signed in
// user's own username key
type UpdatePasswordRequest struct {
	Username        string `json:"username"`
	CurrentPassword string `json:"currentPassword"`
	Password        string `json:"password"`
}

// DeleteRequest carries the deletion confirmation phrase
type DeleteRequest struct {
	Confirm string `json:"confirm"`
}

// UserResponse wraps a user
type UserResponse struct {
	User *core.User `json:"user"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Endpoint is one route of the handler
type Endpoint struct {
	Method  string
	Path    string
	Handler http.HandlerFunc
}

// Endpoints lists the routes for registering on a framework router
func (h *Handler) Endpoints() []Endpoint {
	return []Endpoint{
		{http.MethodPost, "/sign-up", h.SignUp},
		{http.MethodPost, "/sign-in", h.SignIn},
		{http.MethodPost, "/sign-out", h.SignOut},
		{http.MethodPost, "/refresh", h.Refresh},
		{http.MethodPost, "/password", h.UpdatePassword},
		{http.MethodGet, "/me", h.Me},
		{http.MethodDelete, "/me", h.Delete},
	}
}

// Routes returns a mux with every endpoint
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	for _, e := range h.Endpoints() {
		mux.HandleFunc(e.Method+" "+e.Path, e.Handler)
	}
	return mux
}

func (h *Handler) user(w http.ResponseWriter, r *http.Request) *User {
	if user, ok := FromContext(r.Context()); ok {
		return user
	}
	return New(h.auth, RequestJar(w, r), h.sessionName)
}

// SignUp handles user registration
func (h *Handler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req SignUpRequest
	if !h.decode(w, r, &req) {
		return
	}

	user, err := h.user(w, r).SignUp(r.Context(), SignUpFields{
		Username:   req.Username,
		Password:   req.Password,
		Attributes: req.Attributes,
	}, SignUpOptions{CreateSession: req.CreateSession})
	if err != nil {
		h.fail(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, &UserResponse{User: user})
}

// SignIn handles password sign in
func (h *Handler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req SignInRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.user(w, r).SignIn(r.Context(), req.Username, req.Password); err != nil {
		h.fail(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// SignOut invalidates the sessions selected by the optional body
func (h *Handler) SignOut(w http.ResponseWriter, r *http.Request) {
	var req SignOutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		WriteError(w, core.NewAuthError(core.ErrCodeBadRequest, "invalid request body", err))
		return
	}

	if err := h.user(w, r).SignOut(r.Context(), req.Scope); err != nil {
		h.fail(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Refresh rotates the session
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	if err := h.user(w, r).Refresh(r.Context()); err != nil {
		h.fail(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// UpdatePassword changes the password of the signed in user
func (h *Handler) UpdatePassword(w http.ResponseWriter, r *http.Request) {
	var req UpdatePasswordRequest
	if !h.decode(w, r, &req) {
		return
	}

	user := h.user(w, r)
	if err := user.Validate(r.Context()); err != nil {
		h.fail(w, err)
		return
	}
	userID, err := user.ID(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}

	key, err := h.auth.UseKey(r.Context(), PasswordProvider, req.Username, core.String(req.CurrentPassword))
	if err != nil {
		h.fail(w, err)
		return
	}
	if key.UserID != userID {
		h.fail(w, core.ErrInvalidKeyID)
		return
	}

	if err := user.UpdatePassword(r.Context(), req.Username, req.Password); err != nil {
		h.fail(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Me returns the signed in user
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.user(w, r).Data(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, &UserResponse{User: user})
}

// Delete removes the signed in user
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	var req DeleteRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.user(w, r).Delete(r.Context(), req.Confirm); err != nil {
		h.fail(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		WriteError(w, core.NewAuthError(core.ErrCodeBadRequest, "invalid request body", err))
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	if core.StatusCode(err) >= http.StatusInternalServerError {
		h.logger.Error("request failed", "error", err)
	}
	WriteError(w, err)
}

// WriteJSON writes data as a JSON response
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteError writes err as {"error": code, "message": msg} with its status
func WriteError(w http.ResponseWriter, err error) {
	status, body := ErrorBody(err)
	WriteJSON(w, status, body)
}

// ErrorBody maps err to a status and response body. Internal errors
// are not exposed.
func ErrorBody(err error) (int, *ErrorResponse) {
	status := core.StatusCode(err)
	body := &ErrorResponse{Error: core.ErrorCode(err), Message: "internal server error"}

	var authErr *core.AuthError
	if status < http.StatusInternalServerError && errors.As(err, &authErr) {
		body.Message = authErr.Message
	}
	return status, body
}
