package core

import (
	"time"
)

// User represents an authenticated user
type User struct {
	ID         string                 `json:"id"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// Username returns the "username" attribute, if set
func (u *User) Username() string {
	if u == nil || u.Attributes == nil {
		return ""
	}
	name, _ := u.Attributes["username"].(string)
	return name
}

// Key is a credential linking a provider identity to a user.
// Password keys use the "username" provider, OAuth keys the provider name.
type Key struct {
	UserID          string `json:"userId"`
	ProviderID      string `json:"providerId"`
	ProviderUserID  string `json:"providerUserId"`
	PasswordDefined bool   `json:"passwordDefined"`
}

// SessionState is the lifecycle state of a live session
type SessionState string

const (
	SessionStateActive SessionState = "active"
	SessionStateIdle   SessionState = "idle"
)

// Session represents a user session
type Session struct {
	ID            string                 `json:"id"`
	UserID        string                 `json:"userId"`
	ActiveExpires time.Time              `json:"activeExpires"`
	IdleExpires   time.Time              `json:"idleExpires"`
	State         SessionState           `json:"state"`
	Fresh         bool                   `json:"fresh"`
	Attributes    map[string]interface{} `json:"attributes,omitempty"`
}

// UserSchema is the stored form of a user
type UserSchema struct {
	ID         string
	Attributes map[string]interface{}
}

// KeySchema is the stored form of a key. HashedPassword is nil for
// keys that cannot be used with a password (OAuth).
type KeySchema struct {
	ID             string
	UserID         string
	HashedPassword *string
}

// SessionSchema is the stored form of a session
type SessionSchema struct {
	ID            string
	UserID        string
	ActiveExpires time.Time
	IdleExpires   time.Time
	Attributes    map[string]interface{}
}

// KeyOptions describes the key created alongside a user
type KeyOptions struct {
	ProviderID     string
	ProviderUserID string
	Password       *string
}

// CreateUserOptions holds options for user creation
type CreateUserOptions struct {
	UserID     string
	Key        *KeyOptions
	Attributes map[string]interface{}
}

// CreateKeyOptions holds options for adding a key to an existing user
type CreateKeyOptions struct {
	UserID         string
	ProviderID     string
	ProviderUserID string
	Password       *string
}

// CreateSessionOptions holds options for session creation
type CreateSessionOptions struct {
	UserID     string
	SessionID  string
	Attributes map[string]interface{}
}

// KeyID builds the stored key identifier for a provider identity
func KeyID(providerID, providerUserID string) string {
	return providerID + ":" + providerUserID
}

// String returns a pointer to s, for optional passwords
func String(s string) *string {
	return &s
}
