// Package beaconauth composes the auth engine, the per-request user
// decorator and the OAuth handlers into one plugin for web frameworks.
package beaconauth

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/marshallshelly/beaconauth-plugin/auth"
	"github.com/marshallshelly/beaconauth-plugin/core"
	"github.com/marshallshelly/beaconauth-plugin/plugins/oauth"
	"github.com/marshallshelly/beaconauth-plugin/plugins/oauth/providers"
)

// Defaults of the decorator namespace and the session cookie
const (
	DefaultName        = "user"
	DefaultSessionName = "session"
)

// Engine is the authentication engine
type Engine = core.Auth

// User represents an authenticated user
type User = core.User

// Session represents a user session
type Session = core.Session

// Key represents a credential of a user
type Key = core.Key

// Common errors
var (
	ErrInvalidSession     = core.ErrInvalidSession
	ErrInvalidSessionID   = core.ErrInvalidSessionID
	ErrInvalidUserID      = core.ErrInvalidUserID
	ErrInvalidKeyID       = core.ErrInvalidKeyID
	ErrInvalidKeyPassword = core.ErrInvalidKeyPassword
	ErrDuplicateKeyID     = core.ErrDuplicateKeyID
)

// Config holds the plugin configuration
type Config struct {
	// Name is the key the decorator is registered under
	Name string

	// SessionName is the session cookie name
	SessionName string

	// CoreOptions configure the engine
	CoreOptions []core.Option

	// Providers holds the credentials of each enabled OAuth provider
	Providers map[string]providers.Options

	// Profiles overrides profile functions by provider ID
	Profiles map[string]oauth.ProfileFunc

	SuccessRedirect string

	OAuthOptions []oauth.Option
}

// Option is a functional option for configuring the plugin
type Option func(*Config) error

// WithName sets the decorator namespace
func WithName(name string) Option {
	return func(c *Config) error {
		if name == "" {
			return errors.New("name cannot be empty")
		}
		c.Name = name
		return nil
	}
}

// WithSessionName sets the session cookie name
func WithSessionName(name string) Option {
	return func(c *Config) error {
		if name == "" {
			return errors.New("session name cannot be empty")
		}
		c.SessionName = name
		return nil
	}
}

// WithAdapter sets the database adapter
func WithAdapter(adapter core.Adapter) Option {
	return WithCoreOptions(core.WithAdapter(adapter))
}

// WithSessionAdapter stores sessions apart from users and keys
func WithSessionAdapter(adapter core.SessionAdapter) Option {
	return WithCoreOptions(core.WithSessionAdapter(adapter))
}

// WithEnv forces the environment instead of reading it from ENV / GO_ENV
func WithEnv(env core.Env) Option {
	return WithCoreOptions(core.WithEnv(env))
}

// WithSessionExpiresIn sets the active and idle periods of new sessions
func WithSessionExpiresIn(active, idle time.Duration) Option {
	return WithCoreOptions(core.WithSessionExpiresIn(active, idle))
}

// WithLogger sets the logger of the engine and the OAuth handlers
func WithLogger(logger core.Logger) Option {
	return WithCoreOptions(core.WithLogger(logger))
}

// WithObserver reports engine operations, e.g. to metrics.Observer
func WithObserver(observer core.Observer) Option {
	return WithCoreOptions(core.WithObserver(observer))
}

// WithCoreOptions passes options through to the engine
func WithCoreOptions(opts ...core.Option) Option {
	return func(c *Config) error {
		c.CoreOptions = append(c.CoreOptions, opts...)
		return nil
	}
}

// WithProvider enables an OAuth provider by its ID
func WithProvider(id string, opts providers.Options) Option {
	return func(c *Config) error {
		if c.Providers == nil {
			c.Providers = make(map[string]providers.Options)
		}
		c.Providers[id] = opts
		return nil
	}
}

// WithProfile replaces the profile function of a provider
func WithProfile(id string, profile oauth.ProfileFunc) Option {
	return func(c *Config) error {
		if profile == nil {
			return fmt.Errorf("profile function for %q cannot be nil", id)
		}
		if c.Profiles == nil {
			c.Profiles = make(map[string]oauth.ProfileFunc)
		}
		c.Profiles[id] = profile
		return nil
	}
}

// WithSuccessRedirect sets where users land after an OAuth sign-in
func WithSuccessRedirect(url string) Option {
	return func(c *Config) error {
		c.SuccessRedirect = url
		return nil
	}
}

// WithOAuthOptions configures every OAuth handler
func WithOAuthOptions(opts ...oauth.Option) Option {
	return func(c *Config) error {
		c.OAuthOptions = append(c.OAuthOptions, opts...)
		return nil
	}
}

// BeaconAuth is the composed plugin
type BeaconAuth struct {
	engine      *core.Auth
	name        string
	sessionName string
	oauth       map[string]*oauth.Handler
}

// New creates the engine and the OAuth handlers of every configured
// provider. The adapters stay open when it fails.
func New(opts ...Option) (*BeaconAuth, error) {
	cfg := &Config{
		Name:            DefaultName,
		SessionName:     DefaultSessionName,
		SuccessRedirect: "/",
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	engine, err := core.New(cfg.CoreOptions...)
	if err != nil {
		return nil, err
	}

	b := &BeaconAuth{
		engine:      engine,
		name:        cfg.Name,
		sessionName: cfg.SessionName,
		oauth:       make(map[string]*oauth.Handler, len(cfg.Providers)),
	}

	for id, providerOpts := range cfg.Providers {
		provider, err := providers.New(id, providerOpts)
		if err != nil {
			return nil, err
		}

		handlerOpts := append([]oauth.Option{
			oauth.WithLogger(engine.Logger()),
			oauth.WithSuccessRedirect(cfg.SuccessRedirect),
		}, cfg.OAuthOptions...)

		handler, err := oauth.New(engine, provider, cfg.SessionName, cfg.Profiles[id], handlerOpts...)
		if err != nil {
			return nil, err
		}
		b.oauth[id] = handler
	}

	engine.Logger().Info("beaconauth initialized",
		"name", b.name,
		"env", string(engine.Env()),
		"providers", b.Providers(),
	)
	return b, nil
}

// Auth returns the engine
func (b *BeaconAuth) Auth() *core.Auth {
	return b.engine
}

// Name returns the decorator namespace
func (b *BeaconAuth) Name() string {
	return b.name
}

// SessionName returns the session cookie name
func (b *BeaconAuth) SessionName() string {
	return b.sessionName
}

// User returns the decorator of one request
func (b *BeaconAuth) User(jar auth.CookieJar) *auth.User {
	return auth.New(b.engine, jar, b.sessionName)
}

// OAuth returns the handler of a provider
func (b *BeaconAuth) OAuth(id string) (*oauth.Handler, bool) {
	handler, ok := b.oauth[id]
	return handler, ok
}

// Providers lists the enabled provider IDs in order
func (b *BeaconAuth) Providers() []string {
	ids := make([]string, 0, len(b.oauth))
	for id := range b.oauth {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Routes returns the JSON endpoints of the user operations
func (b *BeaconAuth) Routes() http.Handler {
	return b.handler().Routes()
}

// Endpoints lists the JSON endpoints for registering on a framework router
func (b *BeaconAuth) Endpoints() []auth.Endpoint {
	return b.handler().Endpoints()
}

func (b *BeaconAuth) handler() *auth.Handler {
	return auth.NewHandler(b.engine, b.sessionName, b.engine.Logger())
}

// Close closes the engine's adapters
func (b *BeaconAuth) Close() error {
	return b.engine.Close()
}
