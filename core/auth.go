package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/marshallshelly/beaconauth-plugin/crypto"
)

// Operation names reported to the Observer
const (
	OpCreateUser                = "create_user"
	OpGetUser                   = "get_user"
	OpUpdateUserAttributes      = "update_user_attributes"
	OpDeleteUser                = "delete_user"
	OpUseKey                    = "use_key"
	OpGetKey                    = "get_key"
	OpCreateKey                 = "create_key"
	OpUpdateKeyPassword         = "update_key_password"
	OpDeleteKey                 = "delete_key"
	OpGetAllUserKeys            = "get_all_user_keys"
	OpCreateSession             = "create_session"
	OpGetSession                = "get_session"
	OpValidateSession           = "validate_session"
	OpRenewSession              = "renew_session"
	OpGetAllUserSessions        = "get_all_user_sessions"
	OpInvalidateSession         = "invalidate_session"
	OpInvalidateAllUserSessions = "invalidate_all_user_sessions"
	OpDeleteDeadUserSessions    = "delete_dead_user_sessions"
)

// Auth is the authentication engine: users, keys and sessions over an Adapter
type Auth struct {
	config   *Config
	users    UserAdapter
	sessions SessionAdapter
	logger   Logger
}

// New creates a new engine
func New(opts ...Option) (*Auth, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Logger == nil {
		cfg.Logger = NewDefaultLogger(cfg.Env)
	}

	a := &Auth{
		config:   cfg,
		users:    cfg.Adapter,
		sessions: cfg.Adapter,
		logger:   cfg.Logger,
	}
	if cfg.SessionAdapter != nil {
		a.sessions = cfg.SessionAdapter
	}

	return a, nil
}

// Env returns the environment the engine runs in
func (a *Auth) Env() Env {
	return a.config.Env
}

// Logger returns the configured logger
func (a *Auth) Logger() Logger {
	return a.logger
}

// Config returns the engine configuration
func (a *Auth) Config() *Config {
	return a.config
}

// Ping checks the underlying storage
func (a *Auth) Ping(ctx context.Context) error {
	return a.config.Adapter.Ping(ctx)
}

// Close releases the adapter
func (a *Auth) Close() error {
	return a.config.Adapter.Close()
}

func (a *Auth) observe(operation string, err error) {
	if a.config.Observer != nil {
		a.config.Observer.Observe(operation, err)
	}
}

// CreateUser creates a user and, if opts.Key is set, its first key
func (a *Auth) CreateUser(ctx context.Context, opts CreateUserOptions) (user *User, err error) {
	defer func() { a.observe(OpCreateUser, err) }()

	userID := opts.UserID
	if userID == "" {
		userID = a.config.GenerateUserID()
	}

	schema := &UserSchema{
		ID:         userID,
		Attributes: copyAttributes(opts.Attributes),
	}

	var key *KeySchema
	if opts.Key != nil {
		key, err = a.buildKey(userID, opts.Key.ProviderID, opts.Key.ProviderUserID, opts.Key.Password)
		if err != nil {
			return nil, err
		}
	}

	if err := a.users.SetUser(ctx, schema, key); err != nil {
		if errors.Is(err, ErrDuplicateKeyID) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	a.logger.Debug("user created", "userId", userID)
	return toUser(schema), nil
}

// GetUser returns a user by ID
func (a *Auth) GetUser(ctx context.Context, userID string) (user *User, err error) {
	defer func() { a.observe(OpGetUser, err) }()
	return a.getUser(ctx, userID)
}

func (a *Auth) getUser(ctx context.Context, userID string) (*User, error) {
	schema, err := a.users.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if schema == nil {
		return nil, ErrInvalidUserID
	}
	return toUser(schema), nil
}

// UpdateUserAttributes merges attributes into a user and returns the result
func (a *Auth) UpdateUserAttributes(ctx context.Context, userID string, attributes map[string]interface{}) (user *User, err error) {
	defer func() { a.observe(OpUpdateUserAttributes, err) }()

	if _, err := a.getUser(ctx, userID); err != nil {
		return nil, err
	}
	if err := a.users.UpdateUser(ctx, userID, attributes); err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}
	return a.getUser(ctx, userID)
}

// DeleteUser removes a user with its keys and sessions
func (a *Auth) DeleteUser(ctx context.Context, userID string) (err error) {
	defer func() { a.observe(OpDeleteUser, err) }()

	if err := a.sessions.DeleteSessionsByUserID(ctx, userID); err != nil {
		return fmt.Errorf("failed to delete sessions: %w", err)
	}
	if err := a.users.DeleteKeysByUserID(ctx, userID); err != nil {
		return fmt.Errorf("failed to delete keys: %w", err)
	}
	if err := a.users.DeleteUser(ctx, userID); err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}

	a.logger.Debug("user deleted", "userId", userID)
	return nil
}

// UseKey validates a key and, for password keys, its password
func (a *Auth) UseKey(ctx context.Context, providerID, providerUserID string, password *string) (key *Key, err error) {
	defer func() { a.observe(OpUseKey, err) }()

	schema, err := a.getKeySchema(ctx, providerID, providerUserID)
	if err != nil {
		return nil, err
	}

	if schema.HashedPassword != nil {
		if password == nil {
			return nil, ErrInvalidKeyPassword
		}
		valid, err := a.config.PasswordHasher.Verify(*password, *schema.HashedPassword)
		if err != nil {
			return nil, fmt.Errorf("failed to verify password: %w", err)
		}
		if !valid {
			return nil, ErrInvalidKeyPassword
		}
	} else if password != nil {
		return nil, ErrInvalidKeyPassword
	}

	return toKey(schema), nil
}

// GetKey returns a key by provider identity
func (a *Auth) GetKey(ctx context.Context, providerID, providerUserID string) (key *Key, err error) {
	defer func() { a.observe(OpGetKey, err) }()

	schema, err := a.getKeySchema(ctx, providerID, providerUserID)
	if err != nil {
		return nil, err
	}
	return toKey(schema), nil
}

func (a *Auth) getKeySchema(ctx context.Context, providerID, providerUserID string) (*KeySchema, error) {
	schema, err := a.users.GetKey(ctx, KeyID(providerID, providerUserID))
	if err != nil {
		return nil, fmt.Errorf("failed to get key: %w", err)
	}
	if schema == nil {
		return nil, ErrInvalidKeyID
	}
	return schema, nil
}

// CreateKey adds a key to an existing user
func (a *Auth) CreateKey(ctx context.Context, opts CreateKeyOptions) (key *Key, err error) {
	defer func() { a.observe(OpCreateKey, err) }()

	if _, err := a.getUser(ctx, opts.UserID); err != nil {
		return nil, err
	}

	schema, err := a.buildKey(opts.UserID, opts.ProviderID, opts.ProviderUserID, opts.Password)
	if err != nil {
		return nil, err
	}

	if err := a.users.SetKey(ctx, schema); err != nil {
		if errors.Is(err, ErrDuplicateKeyID) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create key: %w", err)
	}
	return toKey(schema), nil
}

// UpdateKeyPassword replaces the password of a key. A nil password removes it.
func (a *Auth) UpdateKeyPassword(ctx context.Context, providerID, providerUserID string, password *string) (key *Key, err error) {
	defer func() { a.observe(OpUpdateKeyPassword, err) }()

	schema, err := a.getKeySchema(ctx, providerID, providerUserID)
	if err != nil {
		return nil, err
	}

	var hashed *string
	if password != nil {
		h, err := a.config.PasswordHasher.Hash(*password)
		if err != nil {
			return nil, fmt.Errorf("failed to hash password: %w", err)
		}
		hashed = &h
	}

	if err := a.users.UpdateKey(ctx, schema.ID, hashed); err != nil {
		return nil, fmt.Errorf("failed to update key: %w", err)
	}

	schema.HashedPassword = hashed
	return toKey(schema), nil
}

// DeleteKey removes a key
func (a *Auth) DeleteKey(ctx context.Context, providerID, providerUserID string) (err error) {
	defer func() { a.observe(OpDeleteKey, err) }()

	if err := a.users.DeleteKey(ctx, KeyID(providerID, providerUserID)); err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	return nil
}

// GetAllUserKeys lists the keys of a user
func (a *Auth) GetAllUserKeys(ctx context.Context, userID string) (keys []*Key, err error) {
	defer func() { a.observe(OpGetAllUserKeys, err) }()

	if _, err := a.getUser(ctx, userID); err != nil {
		return nil, err
	}

	schemas, err := a.users.GetKeysByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get keys: %w", err)
	}

	keys = make([]*Key, 0, len(schemas))
	for _, schema := range schemas {
		keys = append(keys, toKey(schema))
	}
	return keys, nil
}

// CreateSession starts a new session for a user
func (a *Auth) CreateSession(ctx context.Context, opts CreateSessionOptions) (session *Session, err error) {
	defer func() { a.observe(OpCreateSession, err) }()
	return a.createSession(ctx, opts)
}

func (a *Auth) createSession(ctx context.Context, opts CreateSessionOptions) (*Session, error) {
	if _, err := a.getUser(ctx, opts.UserID); err != nil {
		return nil, err
	}

	sessionID := opts.SessionID
	if sessionID == "" {
		id, err := crypto.GenerateSessionID()
		if err != nil {
			return nil, err
		}
		sessionID = id
	}

	activeExpires, idleExpires := a.expiry()
	schema := &SessionSchema{
		ID:            sessionID,
		UserID:        opts.UserID,
		ActiveExpires: activeExpires,
		IdleExpires:   idleExpires,
		Attributes:    copyAttributes(opts.Attributes),
	}

	if err := a.sessions.SetSession(ctx, schema); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	a.logger.Debug("session created", "userId", opts.UserID)

	session := toSession(schema, SessionStateActive)
	session.Fresh = true
	return session, nil
}

// GetSession returns a live session. Dead sessions are deleted and
// reported as ErrInvalidSessionID.
func (a *Auth) GetSession(ctx context.Context, sessionID string) (session *Session, err error) {
	defer func() { a.observe(OpGetSession, err) }()
	return a.getSession(ctx, sessionID)
}

func (a *Auth) getSession(ctx context.Context, sessionID string) (*Session, error) {
	if sessionID == "" {
		return nil, ErrInvalidSessionID
	}

	schema, err := a.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if schema == nil {
		return nil, ErrInvalidSessionID
	}

	state, alive := a.state(schema)
	if !alive {
		if err := a.sessions.DeleteSession(ctx, sessionID); err != nil {
			a.logger.Error("failed to delete dead session", "error", err)
		}
		return nil, ErrInvalidSessionID
	}

	return toSession(schema, state), nil
}

// ValidateSession returns a live session, extending it when idle.
// An extended session has Fresh set.
func (a *Auth) ValidateSession(ctx context.Context, sessionID string) (session *Session, err error) {
	defer func() { a.observe(OpValidateSession, err) }()

	session, err = a.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.State == SessionStateActive {
		return session, nil
	}

	activeExpires, idleExpires := a.expiry()
	if err := a.sessions.UpdateSession(ctx, sessionID, activeExpires, idleExpires); err != nil {
		return nil, fmt.Errorf("failed to extend session: %w", err)
	}

	session.ActiveExpires = activeExpires
	session.IdleExpires = idleExpires
	session.State = SessionStateActive
	session.Fresh = true
	return session, nil
}

// RenewSession replaces a live session with a new one for the same user
func (a *Auth) RenewSession(ctx context.Context, sessionID string) (session *Session, err error) {
	defer func() { a.observe(OpRenewSession, err) }()

	current, err := a.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	session, err = a.createSession(ctx, CreateSessionOptions{
		UserID:     current.UserID,
		Attributes: current.Attributes,
	})
	if err != nil {
		return nil, err
	}

	if err := a.sessions.DeleteSession(ctx, sessionID); err != nil {
		return nil, fmt.Errorf("failed to delete renewed session: %w", err)
	}
	return session, nil
}

// GetAllUserSessions lists the live sessions of a user
func (a *Auth) GetAllUserSessions(ctx context.Context, userID string) (sessions []*Session, err error) {
	defer func() { a.observe(OpGetAllUserSessions, err) }()

	if _, err := a.getUser(ctx, userID); err != nil {
		return nil, err
	}

	schemas, err := a.sessions.GetSessionsByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get sessions: %w", err)
	}

	sessions = make([]*Session, 0, len(schemas))
	for _, schema := range schemas {
		if state, alive := a.state(schema); alive {
			sessions = append(sessions, toSession(schema, state))
		}
	}
	return sessions, nil
}

// InvalidateSession deletes a session
func (a *Auth) InvalidateSession(ctx context.Context, sessionID string) (err error) {
	defer func() { a.observe(OpInvalidateSession, err) }()

	if err := a.sessions.DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to invalidate session: %w", err)
	}
	a.logger.Debug("session invalidated")
	return nil
}

// InvalidateAllUserSessions deletes every session of a user
func (a *Auth) InvalidateAllUserSessions(ctx context.Context, userID string) (err error) {
	defer func() { a.observe(OpInvalidateAllUserSessions, err) }()

	if err := a.sessions.DeleteSessionsByUserID(ctx, userID); err != nil {
		return fmt.Errorf("failed to invalidate sessions: %w", err)
	}
	a.logger.Debug("all sessions invalidated", "userId", userID)
	return nil
}

// DeleteDeadUserSessions removes the expired sessions of a user
func (a *Auth) DeleteDeadUserSessions(ctx context.Context, userID string) (err error) {
	defer func() { a.observe(OpDeleteDeadUserSessions, err) }()

	schemas, err := a.sessions.GetSessionsByUserID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to get sessions: %w", err)
	}

	deleted := 0
	for _, schema := range schemas {
		if _, alive := a.state(schema); alive {
			continue
		}
		if err := a.sessions.DeleteSession(ctx, schema.ID); err != nil {
			return fmt.Errorf("failed to delete session: %w", err)
		}
		deleted++
	}

	a.logger.Debug("dead sessions deleted", "userId", userID, "count", deleted)
	return nil
}

func (a *Auth) buildKey(userID, providerID, providerUserID string, password *string) (*KeySchema, error) {
	if providerID == "" || strings.Contains(providerID, ":") {
		return nil, NewAuthError(ErrCodeBadRequest, "invalid provider id", nil)
	}

	key := &KeySchema{
		ID:     KeyID(providerID, providerUserID),
		UserID: userID,
	}
	if password != nil {
		hashed, err := a.config.PasswordHasher.Hash(*password)
		if err != nil {
			return nil, fmt.Errorf("failed to hash password: %w", err)
		}
		key.HashedPassword = &hashed
	}
	return key, nil
}

func (a *Auth) expiry() (time.Time, time.Time) {
	activeExpires := a.config.Now().Add(a.config.Session.ActivePeriod)
	return activeExpires, activeExpires.Add(a.config.Session.IdlePeriod)
}

// state reports the state of a stored session and whether it is still alive
func (a *Auth) state(s *SessionSchema) (SessionState, bool) {
	now := a.config.Now()
	switch {
	case now.Before(s.ActiveExpires):
		return SessionStateActive, true
	case now.Before(s.IdleExpires):
		return SessionStateIdle, true
	default:
		return "", false
	}
}

func toUser(s *UserSchema) *User {
	return &User{
		ID:         s.ID,
		Attributes: copyAttributes(s.Attributes),
	}
}

func toKey(s *KeySchema) *Key {
	providerID, providerUserID, _ := strings.Cut(s.ID, ":")
	return &Key{
		UserID:          s.UserID,
		ProviderID:      providerID,
		ProviderUserID:  providerUserID,
		PasswordDefined: s.HashedPassword != nil,
	}
}

func toSession(s *SessionSchema, state SessionState) *Session {
	return &Session{
		ID:            s.ID,
		UserID:        s.UserID,
		ActiveExpires: s.ActiveExpires,
		IdleExpires:   s.IdleExpires,
		State:         state,
		Attributes:    copyAttributes(s.Attributes),
	}
}

func copyAttributes(attrs map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}
