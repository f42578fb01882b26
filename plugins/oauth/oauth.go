// Package oauth signs users in with an OAuth 2.0 provider.
//
// A Handler serves both legs of the authorization code flow on one
// route: a request without a code redirects to the provider, and the
// provider's callback links or creates the user and starts a session.
package oauth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/marshallshelly/beaconauth-plugin/auth"
	"github.com/marshallshelly/beaconauth-plugin/core"
	"github.com/marshallshelly/beaconauth-plugin/crypto"
	"github.com/marshallshelly/beaconauth-plugin/plugins/oauth/providers"
	"golang.org/x/oauth2"
)

// stateMaxAge is the lifetime in seconds of the state and verifier cookies
const stateMaxAge = 600

var (
	// ErrInvalidState is returned when the callback state does not match the cookie
	ErrInvalidState = core.NewAuthError(core.ErrCodeBadRequest, "invalid oauth state", nil)

	// ErrAccessDenied is returned when the provider redirects back with an error
	ErrAccessDenied = core.NewAuthError(core.ErrCodeBadRequest, "authorization was not granted", nil)

	// ErrMissingProviderUserID is returned when a profile has no user ID
	ErrMissingProviderUserID = core.NewAuthError(core.ErrCodeInternalServer, "provider profile has no user id", nil)
)

// Engine is the engine API used by the handler. *core.Auth implements it.
type Engine interface {
	Env() core.Env
	GetKey(ctx context.Context, providerID, providerUserID string) (*core.Key, error)
	CreateUser(ctx context.Context, opts core.CreateUserOptions) (*core.User, error)
	CreateSession(ctx context.Context, opts core.CreateSessionOptions) (*core.Session, error)
}

var _ Engine = (*core.Auth)(nil)

// Exchange is how the authorization code is bound to the browser
type Exchange int

const (
	// Plain relies on the state cookie alone
	Plain Exchange = iota
	// PKCE also sends an S256 code challenge
	PKCE
)

func (e Exchange) String() string {
	if e == PKCE {
		return "pkce"
	}
	return "plain"
}

// ErrorHandler answers a failed sign-in
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

// Observer is notified of every completed callback, e.g. metrics.Observer
type Observer interface {
	ObserveOAuth(provider string, elapsed time.Duration, err error)
}

// Handler runs the authorization code flow of one provider
type Handler struct {
	engine       Engine
	provider     *providers.Provider
	sessionName  string
	profile      ProfileFunc
	exchange     Exchange
	successURL   string
	httpClient   *http.Client
	logger       core.Logger
	observer     Observer
	errorHandler ErrorHandler
}

// Option configures a Handler
type Option func(*Handler)

// WithSuccessRedirect sets where users land after signing in
func WithSuccessRedirect(url string) Option {
	return func(h *Handler) {
		h.successURL = url
	}
}

// WithExchange overrides the provider's exchange strategy
func WithExchange(exchange Exchange) Option {
	return func(h *Handler) {
		h.exchange = exchange
	}
}

// WithHTTPClient sets the client used for token and user info requests
func WithHTTPClient(client *http.Client) Option {
	return func(h *Handler) {
		h.httpClient = client
	}
}

// WithLogger sets the logger of sign-in failures and new users
func WithLogger(logger core.Logger) Option {
	if logger == nil {
		logger = core.NewNoopLogger()
	}
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithObserver reports the outcome and duration of each sign-in
func WithObserver(observer Observer) Option {
	return func(h *Handler) {
		h.observer = observer
	}
}

// WithErrorHandler replaces the JSON error response
func WithErrorHandler(handler ErrorHandler) Option {
	return func(h *Handler) {
		h.errorHandler = handler
	}
}

// New creates the handler of provider. A nil profile uses the provider's
// entry in Profiles.
func New(engine Engine, provider *providers.Provider, sessionName string, profile ProfileFunc, opts ...Option) (*Handler, error) {
	if engine == nil {
		return nil, errors.New("oauth: engine is required")
	}
	if provider == nil {
		return nil, errors.New("oauth: provider is required")
	}
	if profile == nil {
		var ok bool
		if profile, ok = Profiles[provider.ID]; !ok {
			return nil, fmt.Errorf("oauth: no profile function for provider %q", provider.ID)
		}
	}

	h := &Handler{
		engine:      engine,
		provider:    provider,
		sessionName: sessionName,
		profile:     profile,
		successURL:  "/",
		logger:      core.NewNoopLogger(),
	}
	if provider.PKCE {
		h.exchange = PKCE
	}

	for _, opt := range opts {
		opt(h)
	}

	if h.errorHandler == nil {
		h.errorHandler = h.writeError
	}
	return h, nil
}

// Provider returns the handled provider
func (h *Handler) Provider() *providers.Provider {
	return h.provider
}

// ServeHTTP starts the flow, or completes it when the provider calls back
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.FormValue("code") == "" && r.FormValue("error") == "" {
		h.authorize(w, r)
		return
	}
	h.callback(w, r)
}

func (h *Handler) authorize(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.provider.OAuth2Config()
	if err != nil {
		h.errorHandler(w, r, err)
		return
	}

	state, err := crypto.GenerateState()
	if err != nil {
		h.errorHandler(w, r, err)
		return
	}
	http.SetCookie(w, h.cookie(h.stateCookie(), state, stateMaxAge))

	opts := append([]oauth2.AuthCodeOption{}, h.provider.AuthParams...)
	if h.exchange == PKCE {
		verifier := oauth2.GenerateVerifier()
		http.SetCookie(w, h.cookie(h.verifierCookie(), verifier, stateMaxAge))
		opts = append(opts, oauth2.S256ChallengeOption(verifier))
	}

	http.Redirect(w, r, cfg.AuthCodeURL(state, opts...), http.StatusFound)
}

func (h *Handler) callback(w http.ResponseWriter, r *http.Request) {
	state := r.FormValue("state")
	storedState := cookieValue(r, h.stateCookie())
	verifier := cookieValue(r, h.verifierCookie())

	http.SetCookie(w, h.cookie(h.stateCookie(), "", -1))
	if h.exchange == PKCE {
		http.SetCookie(w, h.cookie(h.verifierCookie(), "", -1))
	}

	if reason := r.FormValue("error"); reason != "" {
		h.errorHandler(w, r, fmt.Errorf("%w: %s", ErrAccessDenied, reason))
		return
	}

	if state == "" || storedState == "" || subtle.ConstantTimeCompare([]byte(state), []byte(storedState)) != 1 {
		h.errorHandler(w, r, ErrInvalidState)
		return
	}

	var opts []oauth2.AuthCodeOption
	if h.exchange == PKCE {
		if verifier == "" {
			h.errorHandler(w, r, ErrInvalidState)
			return
		}
		opts = append(opts, oauth2.VerifierOption(verifier))
	}

	start := time.Now()
	sessionID, err := h.signIn(r.Context(), r.FormValue("code"), opts)
	if h.observer != nil {
		h.observer.ObserveOAuth(h.provider.ID, time.Since(start), err)
	}
	if err != nil {
		h.errorHandler(w, r, err)
		return
	}

	http.SetCookie(w, auth.SessionCookie(h.sessionName, sessionID, h.engine.Env().IsProd()))
	http.Redirect(w, r, h.successURL, http.StatusFound)
}

// signIn exchanges code and returns the ID of the new session
func (h *Handler) signIn(ctx context.Context, code string, opts []oauth2.AuthCodeOption) (string, error) {
	if h.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, h.httpClient)
	}

	cfg, err := h.provider.OAuth2Config()
	if err != nil {
		return "", err
	}

	token, err := cfg.Exchange(ctx, code, opts...)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return "", core.NewAuthError(core.ErrCodeBadRequest, "failed to exchange authorization code", err)
		}
		return "", fmt.Errorf("failed to exchange authorization code: %w", err)
	}

	raw, err := h.provider.FetchProfile(ctx, token)
	if err != nil {
		return "", err
	}

	profile, err := h.profile(raw)
	if err != nil {
		return "", fmt.Errorf("%s: failed to read profile: %w", h.provider.ID, err)
	}
	if profile.ID == "" {
		return "", ErrMissingProviderUserID
	}

	userID, err := h.linkOrCreate(ctx, profile)
	if err != nil {
		return "", err
	}

	session, err := h.engine.CreateSession(ctx, core.CreateSessionOptions{UserID: userID})
	if err != nil {
		return "", err
	}

	h.logger.Info("oauth sign-in", "provider", h.provider.ID, "user_id", userID)
	return session.ID, nil
}

// linkOrCreate returns the user owning the provider identity, creating
// one on first sign-in
func (h *Handler) linkOrCreate(ctx context.Context, profile Profile) (string, error) {
	key, err := h.engine.GetKey(ctx, h.provider.ID, profile.ID)
	if err == nil {
		return key.UserID, nil
	}
	if !errors.Is(err, core.ErrInvalidKeyID) {
		return "", err
	}

	user, err := h.engine.CreateUser(ctx, core.CreateUserOptions{
		Key: &core.KeyOptions{
			ProviderID:     h.provider.ID,
			ProviderUserID: profile.ID,
		},
		Attributes: map[string]interface{}{
			"username": profile.Username,
		},
	})
	if errors.Is(err, core.ErrDuplicateKeyID) {
		// a concurrent callback created the user first
		key, err := h.engine.GetKey(ctx, h.provider.ID, profile.ID)
		if err != nil {
			return "", err
		}
		return key.UserID, nil
	}
	if err != nil {
		return "", err
	}

	h.logger.Info("oauth user created", "provider", h.provider.ID, "user_id", user.ID)
	return user.ID, nil
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if core.StatusCode(err) >= http.StatusInternalServerError {
		h.logger.Error("oauth sign-in failed", "provider", h.provider.ID, "error", err)
	} else {
		h.logger.Warn("oauth sign-in rejected", "provider", h.provider.ID, "error", err)
	}
	auth.WriteError(w, err)
}

func (h *Handler) stateCookie() string {
	return h.provider.ID + "_oauth_state"
}

func (h *Handler) verifierCookie() string {
	return h.provider.ID + "_oauth_code_verifier"
}

// cookie builds a flow cookie. Providers that call back with a cross-site
// POST need SameSite=None, which browsers only accept on Secure cookies.
func (h *Handler) cookie(name, value string, maxAge int) *http.Cookie {
	cookie := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     auth.CookiePath,
		MaxAge:   maxAge,
		Secure:   h.engine.Env().IsProd(),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	if h.provider.FormPost {
		cookie.Secure = true
		cookie.SameSite = http.SameSiteNoneMode
	}
	return cookie
}

func cookieValue(r *http.Request, name string) string {
	cookie, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return cookie.Value
}
