// Package auth provides the per-request session and user decorator.
//
// A User is bound to one request's cookie jar. Every operation resolves
// the session from the jar and writes cookie changes back to it, so
// integrations only need to build the jar and hand out the decorator.
package auth

import (
	"context"
	"fmt"

	"github.com/marshallshelly/beaconauth-plugin/core"
	"golang.org/x/sync/errgroup"
)

// PasswordProvider is the key provider of username/password credentials
const PasswordProvider = "username"

// DeleteConfirmation must be passed to Delete
const DeleteConfirmation = "DELETE ALL USER DATA and is not reversible"

// SignOutScope selects which sessions SignOut invalidates
type SignOutScope string

const (
	SignOutCurrent SignOutScope = "current"
	SignOutAll     SignOutScope = "all"
	SignOutUnused  SignOutScope = "unused"
)

// Backend is the engine API used by the decorator. *core.Auth implements it.
type Backend interface {
	Env() core.Env
	CreateUser(ctx context.Context, opts core.CreateUserOptions) (*core.User, error)
	GetUser(ctx context.Context, userID string) (*core.User, error)
	UpdateUserAttributes(ctx context.Context, userID string, attributes map[string]interface{}) (*core.User, error)
	DeleteUser(ctx context.Context, userID string) error
	UseKey(ctx context.Context, providerID, providerUserID string, password *string) (*core.Key, error)
	UpdateKeyPassword(ctx context.Context, providerID, providerUserID string, password *string) (*core.Key, error)
	CreateSession(ctx context.Context, opts core.CreateSessionOptions) (*core.Session, error)
	GetSession(ctx context.Context, sessionID string) (*core.Session, error)
	ValidateSession(ctx context.Context, sessionID string) (*core.Session, error)
	RenewSession(ctx context.Context, sessionID string) (*core.Session, error)
	InvalidateSession(ctx context.Context, sessionID string) error
	InvalidateAllUserSessions(ctx context.Context, userID string) error
	DeleteDeadUserSessions(ctx context.Context, userID string) error
}

var _ Backend = (*core.Auth)(nil)

// SignUpFields holds the credentials and extra attributes of a new user
type SignUpFields struct {
	Username   string
	Password   string
	Attributes map[string]interface{}
}

// SignUpOptions controls what happens after the user is created
type SignUpOptions struct {
	// CreateSession signs the new user in
	CreateSession bool
}

// User is the session/user decorator of one request
type User struct {
	auth        Backend
	jar         CookieJar
	sessionName string
	secure      bool
}

// New binds a decorator to a request's cookie jar
func New(backend Backend, jar CookieJar, sessionName string) *User {
	return &User{
		auth:        backend,
		jar:         jar,
		sessionName: sessionName,
		secure:      backend.Env().IsProd(),
	}
}

// Auth returns the wrapped engine
func (u *User) Auth() Backend {
	return u.auth
}

// SessionID returns the session cookie value, empty when signed out
func (u *User) SessionID() string {
	return u.jar.Get(u.sessionName)
}

func (u *User) setSession(sessionID string) {
	u.jar.Set(SessionCookie(u.sessionName, sessionID, u.secure))
}

func (u *User) clearSession() {
	u.jar.Set(ClearedCookie(u.sessionName, u.secure))
}

// ID resolves the user ID of the current session
func (u *User) ID(ctx context.Context) (string, error) {
	sessionID := u.SessionID()
	if sessionID == "" {
		return "", core.ErrInvalidSession
	}

	session, err := u.auth.GetSession(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("%w: %w", core.ErrInvalidSession, err)
	}
	return session.UserID, nil
}

// Data returns the user of the current session
func (u *User) Data(ctx context.Context) (*core.User, error) {
	id, err := u.ID(ctx)
	if err != nil {
		return nil, err
	}
	return u.auth.GetUser(ctx, id)
}

// SignUp creates a user with a username/password key
func (u *User) SignUp(ctx context.Context, fields SignUpFields, opts SignUpOptions) (*core.User, error) {
	if fields.Username == "" || fields.Password == "" {
		return nil, ErrMissingCredentials
	}

	attributes := make(map[string]interface{}, len(fields.Attributes)+1)
	for k, v := range fields.Attributes {
		attributes[k] = v
	}
	delete(attributes, "password")
	attributes["username"] = fields.Username

	user, err := u.auth.CreateUser(ctx, core.CreateUserOptions{
		Key: &core.KeyOptions{
			ProviderID:     PasswordProvider,
			ProviderUserID: fields.Username,
			Password:       core.String(fields.Password),
		},
		Attributes: attributes,
	})
	if err != nil {
		return nil, err
	}

	if opts.CreateSession {
		if err := u.SignIn(ctx, fields.Username, fields.Password); err != nil {
			return user, err
		}
	}

	return user, nil
}

// SignIn checks the credentials and starts a session
func (u *User) SignIn(ctx context.Context, username, password string) error {
	key, err := u.auth.UseKey(ctx, PasswordProvider, username, core.String(password))
	if err != nil {
		return err
	}

	session, err := u.auth.CreateSession(ctx, core.CreateSessionOptions{UserID: key.UserID})
	if err != nil {
		return err
	}

	u.setSession(session.ID)
	return nil
}

// UpdateUser updates the attributes of the current user
func (u *User) UpdateUser(ctx context.Context, attributes map[string]interface{}) (*core.User, error) {
	id, err := u.ID(ctx)
	if err != nil {
		return nil, err
	}
	return u.auth.UpdateUserAttributes(ctx, id, attributes)
}

// UpdatePassword changes a password and moves the cookie to a new session
func (u *User) UpdatePassword(ctx context.Context, username, password string) error {
	key, err := u.auth.UpdateKeyPassword(ctx, PasswordProvider, username, core.String(password))
	if err != nil {
		return err
	}

	session, err := u.auth.CreateSession(ctx, core.CreateSessionOptions{UserID: key.UserID})
	if err != nil {
		return err
	}

	u.setSession(session.ID)
	return nil
}

// Refresh replaces the current session with a new one
func (u *User) Refresh(ctx context.Context) error {
	sessionID := u.SessionID()
	if sessionID == "" {
		return core.ErrInvalidSession
	}

	session, err := u.auth.RenewSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrInvalidSession, err)
	}

	u.setSession(session.ID)
	return nil
}

// SignOut invalidates sessions and clears the cookie. Without a scope only
// the current session is invalidated.
func (u *User) SignOut(ctx context.Context, scope ...SignOutScope) error {
	defer u.clearSession()

	s := SignOutCurrent
	if len(scope) > 0 && scope[0] != "" {
		s = scope[0]
	}

	switch s {
	case SignOutCurrent:
		return u.auth.InvalidateSession(ctx, u.SessionID())
	case SignOutAll, SignOutUnused:
		id, err := u.ID(ctx)
		if err != nil {
			return err
		}
		if s == SignOutAll {
			return u.auth.InvalidateAllUserSessions(ctx, id)
		}
		return u.auth.DeleteDeadUserSessions(ctx, id)
	default:
		return core.NewAuthError(core.ErrCodeBadRequest, fmt.Sprintf("unknown sign out scope %q", s), nil)
	}
}

// Delete removes the current user with all its data. confirm must equal
// DeleteConfirmation. The cookie is cleared only when both the user and
// its sessions were deleted.
func (u *User) Delete(ctx context.Context, confirm string) error {
	if confirm != DeleteConfirmation {
		return ErrDeleteNotConfirmed
	}

	id, err := u.ID(ctx)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return u.auth.DeleteUser(gctx, id)
	})
	g.Go(func() error {
		return u.auth.InvalidateAllUserSessions(gctx, id)
	})
	if err := g.Wait(); err != nil {
		return err
	}

	u.clearSession()
	return nil
}

// Validate checks the current session. A session extended by the
// engine gets its cookie rewritten.
func (u *User) Validate(ctx context.Context) error {
	sessionID := u.SessionID()
	if sessionID == "" {
		return core.ErrInvalidSession
	}

	session, err := u.auth.ValidateSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrInvalidSession, err)
	}

	if session.Fresh {
		u.setSession(session.ID)
	}
	return nil
}
