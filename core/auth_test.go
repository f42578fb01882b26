package core_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/marshallshelly/beaconauth-plugin/adapters/memory"
	"github.com/marshallshelly/beaconauth-plugin/core"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingObserver struct {
	mu  sync.Mutex
	ops []string
}

func (o *recordingObserver) Observe(operation string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ops = append(o.ops, operation)
}

// fastHasher keeps tests quick; argon2 is covered in the crypto package
type fastHasher struct{}

func (fastHasher) Hash(password string) (string, error) {
	return "hashed:" + password, nil
}

func (fastHasher) Verify(password, hash string) (bool, error) {
	return hash == "hashed:"+password, nil
}

func newTestAuth(t *testing.T, opts ...core.Option) (*core.Auth, *testClock) {
	t.Helper()

	clock := &testClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	base := []core.Option{
		core.WithAdapter(memory.New()),
		core.WithLogger(core.NewNoopLogger()),
		core.WithPasswordHasher(fastHasher{}),
		core.WithClock(clock.Now),
		core.WithSessionExpiresIn(time.Hour, 2*time.Hour),
	}

	auth, err := core.New(append(base, opts...)...)
	if err != nil {
		t.Fatalf("Failed to create auth: %v", err)
	}
	t.Cleanup(func() { auth.Close() })
	return auth, clock
}

func createPasswordUser(t *testing.T, auth *core.Auth, username, password string) *core.User {
	t.Helper()

	user, err := auth.CreateUser(context.Background(), core.CreateUserOptions{
		Key: &core.KeyOptions{
			ProviderID:     "username",
			ProviderUserID: username,
			Password:       core.String(password),
		},
		Attributes: map[string]interface{}{"username": username},
	})
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	return user
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		opts    []core.Option
		wantErr bool
	}{
		{
			name:    "valid configuration",
			opts:    []core.Option{core.WithAdapter(memory.New())},
			wantErr: false,
		},
		{
			name:    "missing adapter",
			opts:    []core.Option{},
			wantErr: true,
		},
		{
			name: "non-positive active period",
			opts: []core.Option{
				core.WithAdapter(memory.New()),
				core.WithSessionExpiresIn(0, time.Hour),
			},
			wantErr: true,
		},
		{
			name: "invalid env",
			opts: []core.Option{
				core.WithAdapter(memory.New()),
				core.WithEnv("STAGING"),
			},
			wantErr: true,
		},
		{
			name: "nil hasher",
			opts: []core.Option{
				core.WithAdapter(memory.New()),
				core.WithPasswordHasher(nil),
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auth, err := core.New(tt.opts...)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && auth == nil {
				t.Error("New() returned nil auth instance")
			}
			if auth != nil {
				auth.Close()
			}
		})
	}
}

func TestResolveEnv(t *testing.T) {
	tests := []struct {
		name  string
		env   string
		goEnv string
		want  core.Env
	}{
		{name: "ENV production", env: "production", want: core.EnvProd},
		{name: "GO_ENV fallback", goEnv: "production", want: core.EnvProd},
		{name: "ENV wins over GO_ENV", env: "development", goEnv: "production", want: core.EnvDev},
		{name: "unset", want: core.EnvDev},
		{name: "other value", env: "staging", want: core.EnvDev},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("ENV", tt.env)
			t.Setenv("GO_ENV", tt.goEnv)

			if got := core.ResolveEnv(); got != tt.want {
				t.Errorf("ResolveEnv() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestAuth_UseKey(t *testing.T) {
	auth, _ := newTestAuth(t)
	ctx := context.Background()

	user := createPasswordUser(t, auth, "alice", "secret")

	tests := []struct {
		name     string
		username string
		password *string
		wantErr  error
	}{
		{name: "valid credentials", username: "alice", password: core.String("secret")},
		{name: "wrong password", username: "alice", password: core.String("nope"), wantErr: core.ErrInvalidKeyPassword},
		{name: "missing password", username: "alice", wantErr: core.ErrInvalidKeyPassword},
		{name: "unknown user", username: "bob", password: core.String("secret"), wantErr: core.ErrInvalidKeyID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := auth.UseKey(ctx, "username", tt.username, tt.password)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("UseKey() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("UseKey() failed: %v", err)
			}
			if key.UserID != user.ID {
				t.Errorf("Expected userID=%s, got %s", user.ID, key.UserID)
			}
			if !key.PasswordDefined {
				t.Error("Expected PasswordDefined=true")
			}
		})
	}
}

func TestAuth_DuplicateKey(t *testing.T) {
	auth, _ := newTestAuth(t)

	createPasswordUser(t, auth, "alice", "secret")

	_, err := auth.CreateUser(context.Background(), core.CreateUserOptions{
		Key: &core.KeyOptions{ProviderID: "username", ProviderUserID: "alice", Password: core.String("other")},
	})
	if !errors.Is(err, core.ErrDuplicateKeyID) {
		t.Errorf("Expected ErrDuplicateKeyID, got %v", err)
	}
	if core.StatusCode(err) != 409 {
		t.Errorf("Expected status 409, got %d", core.StatusCode(err))
	}
}

func TestAuth_Keys(t *testing.T) {
	auth, _ := newTestAuth(t)
	ctx := context.Background()

	user := createPasswordUser(t, auth, "alice", "secret")

	key, err := auth.CreateKey(ctx, core.CreateKeyOptions{
		UserID:         user.ID,
		ProviderID:     "github",
		ProviderUserID: "1234",
	})
	if err != nil {
		t.Fatalf("CreateKey failed: %v", err)
	}
	if key.ProviderID != "github" || key.ProviderUserID != "1234" || key.PasswordDefined {
		t.Errorf("Unexpected key: %+v", key)
	}

	keys, err := auth.GetAllUserKeys(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetAllUserKeys failed: %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("Expected 2 keys, got %d", len(keys))
	}

	if _, err := auth.UpdateKeyPassword(ctx, "username", "alice", core.String("changed")); err != nil {
		t.Fatalf("UpdateKeyPassword failed: %v", err)
	}
	if _, err := auth.UseKey(ctx, "username", "alice", core.String("changed")); err != nil {
		t.Errorf("Expected new password to work: %v", err)
	}
	if _, err := auth.UseKey(ctx, "username", "alice", core.String("secret")); !errors.Is(err, core.ErrInvalidKeyPassword) {
		t.Errorf("Expected old password to fail, got %v", err)
	}

	if err := auth.DeleteKey(ctx, "github", "1234"); err != nil {
		t.Fatalf("DeleteKey failed: %v", err)
	}
	if _, err := auth.GetKey(ctx, "github", "1234"); !errors.Is(err, core.ErrInvalidKeyID) {
		t.Errorf("Expected ErrInvalidKeyID, got %v", err)
	}

	_, err = auth.CreateKey(ctx, core.CreateKeyOptions{UserID: "missing", ProviderID: "github", ProviderUserID: "1"})
	if !errors.Is(err, core.ErrInvalidUserID) {
		t.Errorf("Expected ErrInvalidUserID, got %v", err)
	}
}

func TestAuth_UpdateUserAttributes(t *testing.T) {
	auth, _ := newTestAuth(t)
	ctx := context.Background()

	user := createPasswordUser(t, auth, "alice", "secret")

	updated, err := auth.UpdateUserAttributes(ctx, user.ID, map[string]interface{}{"name": "Alice"})
	if err != nil {
		t.Fatalf("UpdateUserAttributes failed: %v", err)
	}
	if updated.Attributes["name"] != "Alice" {
		t.Errorf("Expected name=Alice, got %v", updated.Attributes["name"])
	}
	if updated.Username() != "alice" {
		t.Errorf("Expected username=alice, got %s", updated.Username())
	}

	if _, err := auth.UpdateUserAttributes(ctx, "missing", nil); !errors.Is(err, core.ErrInvalidUserID) {
		t.Errorf("Expected ErrInvalidUserID, got %v", err)
	}
}

func TestAuth_SessionLifecycle(t *testing.T) {
	auth, clock := newTestAuth(t)
	ctx := context.Background()

	user := createPasswordUser(t, auth, "alice", "secret")

	session, err := auth.CreateSession(ctx, core.CreateSessionOptions{UserID: user.ID})
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if len(session.ID) != 40 {
		t.Errorf("Expected 40 character session ID, got %d", len(session.ID))
	}
	if session.State != core.SessionStateActive || !session.Fresh {
		t.Errorf("Expected fresh active session, got %+v", session)
	}

	t.Run("active session is returned as is", func(t *testing.T) {
		got, err := auth.ValidateSession(ctx, session.ID)
		if err != nil {
			t.Fatalf("ValidateSession failed: %v", err)
		}
		if got.Fresh {
			t.Error("Expected active session not to be renewed")
		}
	})

	t.Run("idle session is extended", func(t *testing.T) {
		clock.Advance(90 * time.Minute)

		got, err := auth.GetSession(ctx, session.ID)
		if err != nil {
			t.Fatalf("GetSession failed: %v", err)
		}
		if got.State != core.SessionStateIdle {
			t.Errorf("Expected idle state, got %s", got.State)
		}

		got, err = auth.ValidateSession(ctx, session.ID)
		if err != nil {
			t.Fatalf("ValidateSession failed: %v", err)
		}
		if !got.Fresh || got.State != core.SessionStateActive {
			t.Errorf("Expected fresh active session, got %+v", got)
		}
		if got.ID != session.ID {
			t.Error("Expected extension to keep the session ID")
		}
	})

	t.Run("dead session is rejected", func(t *testing.T) {
		clock.Advance(4 * time.Hour)

		if _, err := auth.ValidateSession(ctx, session.ID); !errors.Is(err, core.ErrInvalidSessionID) {
			t.Errorf("Expected ErrInvalidSessionID, got %v", err)
		}
	})
}

func TestAuth_RenewSession(t *testing.T) {
	auth, _ := newTestAuth(t)
	ctx := context.Background()

	user := createPasswordUser(t, auth, "alice", "secret")
	session, _ := auth.CreateSession(ctx, core.CreateSessionOptions{UserID: user.ID})

	renewed, err := auth.RenewSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("RenewSession failed: %v", err)
	}
	if renewed.ID == session.ID {
		t.Error("Expected a new session ID")
	}
	if renewed.UserID != user.ID {
		t.Errorf("Expected userID=%s, got %s", user.ID, renewed.UserID)
	}
	if _, err := auth.GetSession(ctx, session.ID); !errors.Is(err, core.ErrInvalidSessionID) {
		t.Errorf("Expected old session to be invalidated, got %v", err)
	}
}

func TestAuth_InvalidateSessions(t *testing.T) {
	auth, clock := newTestAuth(t)
	ctx := context.Background()

	user := createPasswordUser(t, auth, "alice", "secret")

	old, _ := auth.CreateSession(ctx, core.CreateSessionOptions{UserID: user.ID})
	clock.Advance(3*time.Hour + time.Minute)
	current, _ := auth.CreateSession(ctx, core.CreateSessionOptions{UserID: user.ID})
	second, _ := auth.CreateSession(ctx, core.CreateSessionOptions{UserID: user.ID})

	sessions, err := auth.GetAllUserSessions(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetAllUserSessions failed: %v", err)
	}
	if len(sessions) != 2 {
		t.Errorf("Expected 2 live sessions, got %d", len(sessions))
	}

	if err := auth.DeleteDeadUserSessions(ctx, user.ID); err != nil {
		t.Fatalf("DeleteDeadUserSessions failed: %v", err)
	}
	stored, _ := auth.Config().Adapter.GetSession(ctx, old.ID)
	if stored != nil {
		t.Error("Expected dead session to be deleted")
	}

	if err := auth.InvalidateSession(ctx, current.ID); err != nil {
		t.Fatalf("InvalidateSession failed: %v", err)
	}
	if _, err := auth.GetSession(ctx, second.ID); err != nil {
		t.Errorf("Expected other session to survive, got %v", err)
	}

	if err := auth.InvalidateAllUserSessions(ctx, user.ID); err != nil {
		t.Fatalf("InvalidateAllUserSessions failed: %v", err)
	}
	if _, err := auth.GetSession(ctx, second.ID); !errors.Is(err, core.ErrInvalidSessionID) {
		t.Errorf("Expected ErrInvalidSessionID, got %v", err)
	}
}

func TestAuth_DeleteUser(t *testing.T) {
	auth, _ := newTestAuth(t)
	ctx := context.Background()

	user := createPasswordUser(t, auth, "alice", "secret")
	session, _ := auth.CreateSession(ctx, core.CreateSessionOptions{UserID: user.ID})

	if err := auth.DeleteUser(ctx, user.ID); err != nil {
		t.Fatalf("DeleteUser failed: %v", err)
	}

	if _, err := auth.GetUser(ctx, user.ID); !errors.Is(err, core.ErrInvalidUserID) {
		t.Errorf("Expected ErrInvalidUserID, got %v", err)
	}
	if _, err := auth.GetKey(ctx, "username", "alice"); !errors.Is(err, core.ErrInvalidKeyID) {
		t.Errorf("Expected ErrInvalidKeyID, got %v", err)
	}
	if _, err := auth.GetSession(ctx, session.ID); !errors.Is(err, core.ErrInvalidSessionID) {
		t.Errorf("Expected ErrInvalidSessionID, got %v", err)
	}
}

func TestAuth_SessionAdapterOverride(t *testing.T) {
	sessions := memory.New()
	auth, _ := newTestAuth(t, core.WithSessionAdapter(sessions))
	ctx := context.Background()

	user := createPasswordUser(t, auth, "alice", "secret")
	session, err := auth.CreateSession(ctx, core.CreateSessionOptions{UserID: user.ID})
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	stored, _ := sessions.GetSession(ctx, session.ID)
	if stored == nil {
		t.Error("Expected session to be stored in the session adapter")
	}
	fromUsers, _ := auth.Config().Adapter.GetSession(ctx, session.ID)
	if fromUsers != nil {
		t.Error("Expected session not to be stored in the user adapter")
	}
}

func TestAuth_Observer(t *testing.T) {
	observer := &recordingObserver{}
	auth, _ := newTestAuth(t, core.WithObserver(observer))

	auth.GetUser(context.Background(), "missing")

	if len(observer.ops) != 1 || observer.ops[0] != core.OpGetUser {
		t.Errorf("Expected [%s], got %v", core.OpGetUser, observer.ops)
	}
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{core.ErrInvalidSession, 401},
		{core.ErrInvalidSessionID, 401},
		{core.ErrInvalidKeyID, 401},
		{core.ErrInvalidKeyPassword, 401},
		{core.ErrInvalidUserID, 404},
		{core.ErrDuplicateKeyID, 409},
		{errors.New("boom"), 500},
	}

	for _, tt := range tests {
		t.Run(core.ErrorCode(tt.err), func(t *testing.T) {
			if got := core.StatusCode(tt.err); got != tt.want {
				t.Errorf("StatusCode() = %d, want %d", got, tt.want)
			}
		})
	}
}
