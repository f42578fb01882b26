package core

import (
	"context"
	"time"
)

// UserAdapter stores users and keys.
// Lookups of missing records return (nil, nil).
type UserAdapter interface {
	// GetUser retrieves a user by ID
	GetUser(ctx context.Context, userID string) (*UserSchema, error)

	// SetUser stores a user and, when key is not nil, its first key.
	// Both are written or neither is.
	SetUser(ctx context.Context, user *UserSchema, key *KeySchema) error

	// UpdateUser merges attributes into an existing user
	UpdateUser(ctx context.Context, userID string, attributes map[string]interface{}) error

	// DeleteUser removes a user and its keys
	DeleteUser(ctx context.Context, userID string) error

	GetKey(ctx context.Context, keyID string) (*KeySchema, error)
	GetKeysByUserID(ctx context.Context, userID string) ([]*KeySchema, error)

	// SetKey stores a key, returning ErrDuplicateKeyID if its ID is taken
	SetKey(ctx context.Context, key *KeySchema) error

	UpdateKey(ctx context.Context, keyID string, hashedPassword *string) error
	DeleteKey(ctx context.Context, keyID string) error
	DeleteKeysByUserID(ctx context.Context, userID string) error
}

// SessionAdapter stores sessions
type SessionAdapter interface {
	GetSession(ctx context.Context, sessionID string) (*SessionSchema, error)
	GetSessionsByUserID(ctx context.Context, userID string) ([]*SessionSchema, error)
	SetSession(ctx context.Context, session *SessionSchema) error

	// UpdateSession moves the expiry of an existing session
	UpdateSession(ctx context.Context, sessionID string, activeExpires, idleExpires time.Time) error
	DeleteSession(ctx context.Context, sessionID string) error
	DeleteSessionsByUserID(ctx context.Context, userID string) error
}

// Adapter defines the interface for database adapters
type Adapter interface {
	UserAdapter
	SessionAdapter

	// Connection management
	Ping(ctx context.Context) error
	Close() error

	// Metadata
	ID() string
}

// PasswordHasher defines the interface for password hashing
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, hash string) (bool, error)
}

// Observer is notified of the outcome of every engine operation
type Observer interface {
	Observe(operation string, err error)
}

// Logger defines the logging interface
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}
