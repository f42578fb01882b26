package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/marshallshelly/beaconauth-plugin/core"
)

// MemoryAdapter is an in-memory adapter for testing and development
type MemoryAdapter struct {
	mu       sync.RWMutex
	users    map[string]*core.UserSchema
	keys     map[string]*core.KeySchema
	sessions map[string]*core.SessionSchema
}

// New creates a new memory adapter
func New() *MemoryAdapter {
	m := &MemoryAdapter{}
	m.reset()
	return m
}

func (m *MemoryAdapter) reset() {
	m.users = make(map[string]*core.UserSchema)
	m.keys = make(map[string]*core.KeySchema)
	m.sessions = make(map[string]*core.SessionSchema)
}

// ID returns the adapter identifier
func (m *MemoryAdapter) ID() string {
	return "memory"
}

// Ping always succeeds
func (m *MemoryAdapter) Ping(ctx context.Context) error {
	return nil
}

// Close clears all data
func (m *MemoryAdapter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reset()
	return nil
}

// GetUser retrieves a user by ID
func (m *MemoryAdapter) GetUser(ctx context.Context, userID string) (*core.UserSchema, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	user, ok := m.users[userID]
	if !ok {
		return nil, nil
	}
	return copyUser(user), nil
}

// SetUser stores a user and its optional first key
func (m *MemoryAdapter) SetUser(ctx context.Context, user *core.UserSchema, key *core.KeySchema) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if key != nil {
		if _, exists := m.keys[key.ID]; exists {
			return core.ErrDuplicateKeyID
		}
		m.keys[key.ID] = copyKey(key)
	}
	m.users[user.ID] = copyUser(user)
	return nil
}

// UpdateUser merges attributes into a user
func (m *MemoryAdapter) UpdateUser(ctx context.Context, userID string, attributes map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[userID]
	if !ok {
		return nil
	}
	for k, v := range attributes {
		user.Attributes[k] = v
	}
	return nil
}

// DeleteUser removes a user and its keys
func (m *MemoryAdapter) DeleteUser(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.users, userID)
	m.deleteKeys(userID)
	return nil
}

// GetKey retrieves a key by ID
func (m *MemoryAdapter) GetKey(ctx context.Context, keyID string) (*core.KeySchema, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key, ok := m.keys[keyID]
	if !ok {
		return nil, nil
	}
	return copyKey(key), nil
}

// GetKeysByUserID lists the keys of a user ordered by ID
func (m *MemoryAdapter) GetKeysByUserID(ctx context.Context, userID string) ([]*core.KeySchema, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]*core.KeySchema, 0)
	for _, key := range m.keys {
		if key.UserID == userID {
			keys = append(keys, copyKey(key))
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].ID < keys[j].ID
	})
	return keys, nil
}

// SetKey stores a key
func (m *MemoryAdapter) SetKey(ctx context.Context, key *core.KeySchema) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.keys[key.ID]; exists {
		return core.ErrDuplicateKeyID
	}
	m.keys[key.ID] = copyKey(key)
	return nil
}

// UpdateKey replaces the hashed password of a key
func (m *MemoryAdapter) UpdateKey(ctx context.Context, keyID string, hashedPassword *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if key, ok := m.keys[keyID]; ok {
		key.HashedPassword = copyString(hashedPassword)
	}
	return nil
}

// DeleteKey removes a key
func (m *MemoryAdapter) DeleteKey(ctx context.Context, keyID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.keys, keyID)
	return nil
}

// DeleteKeysByUserID removes all keys of a user
func (m *MemoryAdapter) DeleteKeysByUserID(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.deleteKeys(userID)
	return nil
}

func (m *MemoryAdapter) deleteKeys(userID string) {
	for id, key := range m.keys {
		if key.UserID == userID {
			delete(m.keys, id)
		}
	}
}

// GetSession retrieves a session by ID
func (m *MemoryAdapter) GetSession(ctx context.Context, sessionID string) (*core.SessionSchema, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	return copySession(session), nil
}

// GetSessionsByUserID lists the sessions of a user, oldest expiry first
func (m *MemoryAdapter) GetSessionsByUserID(ctx context.Context, userID string) ([]*core.SessionSchema, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]*core.SessionSchema, 0)
	for _, session := range m.sessions {
		if session.UserID == userID {
			sessions = append(sessions, copySession(session))
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].ActiveExpires.Before(sessions[j].ActiveExpires)
	})
	return sessions, nil
}

// SetSession stores a session
func (m *MemoryAdapter) SetSession(ctx context.Context, session *core.SessionSchema) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions[session.ID] = copySession(session)
	return nil
}

// UpdateSession moves the expiry of a session
func (m *MemoryAdapter) UpdateSession(ctx context.Context, sessionID string, activeExpires, idleExpires time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if session, ok := m.sessions[sessionID]; ok {
		session.ActiveExpires = activeExpires
		session.IdleExpires = idleExpires
	}
	return nil
}

// DeleteSession removes a session
func (m *MemoryAdapter) DeleteSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, sessionID)
	return nil
}

// DeleteSessionsByUserID removes all sessions of a user
func (m *MemoryAdapter) DeleteSessionsByUserID(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, session := range m.sessions {
		if session.UserID == userID {
			delete(m.sessions, id)
		}
	}
	return nil
}

// Helper functions

func copyMap(m map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{}, len(m))
	for k, v := range m {
		result[k] = v
	}
	return result
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func copyUser(u *core.UserSchema) *core.UserSchema {
	return &core.UserSchema{
		ID:         u.ID,
		Attributes: copyMap(u.Attributes),
	}
}

func copyKey(k *core.KeySchema) *core.KeySchema {
	return &core.KeySchema{
		ID:             k.ID,
		UserID:         k.UserID,
		HashedPassword: copyString(k.HashedPassword),
	}
}

func copySession(s *core.SessionSchema) *core.SessionSchema {
	return &core.SessionSchema{
		ID:            s.ID,
		UserID:        s.UserID,
		ActiveExpires: s.ActiveExpires,
		IdleExpires:   s.IdleExpires,
		Attributes:    copyMap(s.Attributes),
	}
}
