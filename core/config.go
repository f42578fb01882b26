package core

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/marshallshelly/beaconauth-plugin/crypto"
)

// Config holds the engine configuration
type Config struct {
	// Env is resolved from ENV / GO_ENV unless set explicitly
	Env Env

	// Database
	Adapter Adapter

	// SessionAdapter overrides where sessions are stored (Redis, etc.)
	SessionAdapter SessionAdapter

	// Session configuration
	Session *SessionConfig

	PasswordHasher PasswordHasher

	// GenerateUserID returns the ID of a new user
	GenerateUserID func() string

	Logger   Logger
	Observer Observer

	// Now is the clock used for session expiry
	Now func() time.Time
}

// SessionConfig holds session lifetime settings.
// A session is active until ActivePeriod elapses, then idle for
// IdlePeriod, then dead.
type SessionConfig struct {
	ActivePeriod time.Duration
	IdlePeriod   time.Duration
}

// Option is a functional option for configuring the engine
type Option func(*Config) error

// defaultConfig returns the default configuration
func defaultConfig() *Config {
	return &Config{
		Env: ResolveEnv(),
		Session: &SessionConfig{
			ActivePeriod: 24 * time.Hour,
			IdlePeriod:   14 * 24 * time.Hour,
		},
		PasswordHasher: crypto.NewArgon2Hasher(),
		GenerateUserID: uuid.NewString,
		Now:            time.Now,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Adapter == nil {
		return errors.New("adapter is required")
	}
	if c.Session == nil || c.Session.ActivePeriod <= 0 {
		return errors.New("session active period must be positive")
	}
	if c.Session.IdlePeriod < 0 {
		return errors.New("session idle period must not be negative")
	}
	if c.Env != EnvProd && c.Env != EnvDev {
		return errors.New("env must be PROD or DEV")
	}
	return nil
}

// WithEnv forces the environment instead of reading it from ENV / GO_ENV
func WithEnv(env Env) Option {
	return func(c *Config) error {
		c.Env = env
		return nil
	}
}

// WithAdapter sets the database adapter
func WithAdapter(adapter Adapter) Option {
	return func(c *Config) error {
		c.Adapter = adapter
		return nil
	}
}

// WithSessionAdapter stores sessions in a dedicated adapter
func WithSessionAdapter(adapter SessionAdapter) Option {
	return func(c *Config) error {
		c.SessionAdapter = adapter
		return nil
	}
}

// WithSessionExpiresIn sets the active and idle periods of new sessions
func WithSessionExpiresIn(active, idle time.Duration) Option {
	return func(c *Config) error {
		c.Session = &SessionConfig{
			ActivePeriod: active,
			IdlePeriod:   idle,
		}
		return nil
	}
}

// WithPasswordHasher replaces the argon2id hasher
func WithPasswordHasher(hasher PasswordHasher) Option {
	return func(c *Config) error {
		if hasher == nil {
			return errors.New("password hasher cannot be nil")
		}
		c.PasswordHasher = hasher
		return nil
	}
}

// WithUserIDGenerator replaces the UUID user ID generator
func WithUserIDGenerator(generate func() string) Option {
	return func(c *Config) error {
		if generate == nil {
			return errors.New("user ID generator cannot be nil")
		}
		c.GenerateUserID = generate
		return nil
	}
}

// WithLogger sets a custom logger
func WithLogger(logger Logger) Option {
	return func(c *Config) error {
		c.Logger = logger
		return nil
	}
}

// WithObserver reports operation outcomes, e.g. to metrics
func WithObserver(observer Observer) Option {
	return func(c *Config) error {
		c.Observer = observer
		return nil
	}
}

// WithClock sets the clock used for session expiry
func WithClock(now func() time.Time) Option {
	return func(c *Config) error {
		if now == nil {
			return errors.New("clock cannot be nil")
		}
		c.Now = now
		return nil
	}
}
