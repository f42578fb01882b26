package adapter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/marshallshelly/beaconauth-plugin/core"
)

// TestSuite is a conformance suite for adapter implementations.
// Use it to ensure your adapter behaves like the built-in ones.
type TestSuite struct {
	// Adapter to test
	Adapter core.Adapter

	// SetupFunc is called before each test to prepare the database
	// It should create any necessary tables/collections
	SetupFunc func(t *testing.T, adapter core.Adapter)

	// TeardownFunc is called after each test to clean up
	TeardownFunc func(t *testing.T, adapter core.Adapter)
}

// RunAll runs all tests in the suite
func (suite *TestSuite) RunAll(t *testing.T) {
	t.Run("Users", suite.TestUsers)
	t.Run("Keys", suite.TestKeys)
	t.Run("DuplicateKey", suite.TestDuplicateKey)
	t.Run("Sessions", suite.TestSessions)
	t.Run("DeleteUser", suite.TestDeleteUser)
	t.Run("Ping", suite.TestPing)
}

func (suite *TestSuite) setup(t *testing.T) func() {
	if suite.SetupFunc != nil {
		suite.SetupFunc(t, suite.Adapter)
	}
	return func() {
		if suite.TeardownFunc != nil {
			suite.TeardownFunc(t, suite.Adapter)
		}
	}
}

func (suite *TestSuite) mustSetUser(t *testing.T, id string, key *core.KeySchema) {
	t.Helper()
	err := suite.Adapter.SetUser(context.Background(), &core.UserSchema{
		ID:         id,
		Attributes: map[string]interface{}{"username": id},
	}, key)
	if err != nil {
		t.Fatalf("SetUser failed: %v", err)
	}
}

// TestUsers tests user storage and attribute updates
func (suite *TestSuite) TestUsers(t *testing.T) {
	defer suite.setup(t)()
	ctx := context.Background()

	suite.mustSetUser(t, "user-users", nil)

	user, err := suite.Adapter.GetUser(ctx, "user-users")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if user == nil {
		t.Fatal("Expected user, got nil")
	}
	if user.Attributes["username"] != "user-users" {
		t.Errorf("Expected username=user-users, got %v", user.Attributes["username"])
	}

	err = suite.Adapter.UpdateUser(ctx, "user-users", map[string]interface{}{"name": "Updated"})
	if err != nil {
		t.Fatalf("UpdateUser failed: %v", err)
	}

	user, err = suite.Adapter.GetUser(ctx, "user-users")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if user.Attributes["name"] != "Updated" {
		t.Errorf("Expected name=Updated, got %v", user.Attributes["name"])
	}
	if user.Attributes["username"] != "user-users" {
		t.Errorf("Expected username to survive the update, got %v", user.Attributes["username"])
	}

	missing, err := suite.Adapter.GetUser(ctx, "nonexistent")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if missing != nil {
		t.Errorf("Expected nil for missing user, got %+v", missing)
	}
}

// TestKeys tests key storage and password updates
func (suite *TestSuite) TestKeys(t *testing.T) {
	defer suite.setup(t)()
	ctx := context.Background()

	suite.mustSetUser(t, "user-keys", &core.KeySchema{
		ID:             core.KeyID("username", "user-keys"),
		UserID:         "user-keys",
		HashedPassword: core.String("hash-1"),
	})

	err := suite.Adapter.SetKey(ctx, &core.KeySchema{
		ID:     core.KeyID("github", "1234"),
		UserID: "user-keys",
	})
	if err != nil {
		t.Fatalf("SetKey failed: %v", err)
	}

	key, err := suite.Adapter.GetKey(ctx, core.KeyID("username", "user-keys"))
	if err != nil {
		t.Fatalf("GetKey failed: %v", err)
	}
	if key == nil || key.HashedPassword == nil || *key.HashedPassword != "hash-1" {
		t.Fatalf("Expected key with hash-1, got %+v", key)
	}

	keys, err := suite.Adapter.GetKeysByUserID(ctx, "user-keys")
	if err != nil {
		t.Fatalf("GetKeysByUserID failed: %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("Expected 2 keys, got %d", len(keys))
	}

	if err := suite.Adapter.UpdateKey(ctx, core.KeyID("username", "user-keys"), core.String("hash-2")); err != nil {
		t.Fatalf("UpdateKey failed: %v", err)
	}
	key, _ = suite.Adapter.GetKey(ctx, core.KeyID("username", "user-keys"))
	if key == nil || key.HashedPassword == nil || *key.HashedPassword != "hash-2" {
		t.Errorf("Expected key with hash-2, got %+v", key)
	}

	if err := suite.Adapter.DeleteKey(ctx, core.KeyID("github", "1234")); err != nil {
		t.Fatalf("DeleteKey failed: %v", err)
	}
	key, err = suite.Adapter.GetKey(ctx, core.KeyID("github", "1234"))
	if err != nil {
		t.Fatalf("GetKey failed: %v", err)
	}
	if key != nil {
		t.Error("Expected key to be deleted")
	}

	if err := suite.Adapter.DeleteKeysByUserID(ctx, "user-keys"); err != nil {
		t.Fatalf("DeleteKeysByUserID failed: %v", err)
	}
	keys, _ = suite.Adapter.GetKeysByUserID(ctx, "user-keys")
	if len(keys) != 0 {
		t.Errorf("Expected 0 keys, got %d", len(keys))
	}
}

// TestDuplicateKey tests that key IDs are unique
func (suite *TestSuite) TestDuplicateKey(t *testing.T) {
	defer suite.setup(t)()
	ctx := context.Background()

	keyID := core.KeyID("username", "user-dup")
	suite.mustSetUser(t, "user-dup", &core.KeySchema{ID: keyID, UserID: "user-dup"})

	err := suite.Adapter.SetKey(ctx, &core.KeySchema{ID: keyID, UserID: "user-dup"})
	if !errors.Is(err, core.ErrDuplicateKeyID) {
		t.Errorf("Expected ErrDuplicateKeyID from SetKey, got %v", err)
	}

	err = suite.Adapter.SetUser(ctx, &core.UserSchema{
		ID:         "user-dup-2",
		Attributes: map[string]interface{}{},
	}, &core.KeySchema{ID: keyID, UserID: "user-dup-2"})
	if !errors.Is(err, core.ErrDuplicateKeyID) {
		t.Errorf("Expected ErrDuplicateKeyID from SetUser, got %v", err)
	}

	user, err := suite.Adapter.GetUser(ctx, "user-dup-2")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if user != nil {
		t.Error("Expected user not to be stored when its key is rejected")
	}
}

// TestSessions tests session storage and expiry updates
func (suite *TestSuite) TestSessions(t *testing.T) {
	defer suite.setup(t)()
	ctx := context.Background()

	suite.mustSetUser(t, "user-sessions", nil)

	now := time.Now().UTC().Truncate(time.Second)
	for _, id := range []string{"session-1", "session-2"} {
		err := suite.Adapter.SetSession(ctx, &core.SessionSchema{
			ID:            id,
			UserID:        "user-sessions",
			ActiveExpires: now.Add(time.Hour),
			IdleExpires:   now.Add(2 * time.Hour),
			Attributes:    map[string]interface{}{"ip": "127.0.0.1"},
		})
		if err != nil {
			t.Fatalf("SetSession failed: %v", err)
		}
	}

	session, err := suite.Adapter.GetSession(ctx, "session-1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if session == nil {
		t.Fatal("Expected session, got nil")
	}
	if session.UserID != "user-sessions" {
		t.Errorf("Expected userID=user-sessions, got %s", session.UserID)
	}
	if !session.ActiveExpires.Equal(now.Add(time.Hour)) {
		t.Errorf("Expected activeExpires=%v, got %v", now.Add(time.Hour), session.ActiveExpires)
	}
	if session.Attributes["ip"] != "127.0.0.1" {
		t.Errorf("Expected ip attribute, got %v", session.Attributes["ip"])
	}

	later := now.Add(24 * time.Hour)
	if err := suite.Adapter.UpdateSession(ctx, "session-1", later, later.Add(time.Hour)); err != nil {
		t.Fatalf("UpdateSession failed: %v", err)
	}
	session, _ = suite.Adapter.GetSession(ctx, "session-1")
	if session == nil || !session.IdleExpires.Equal(later.Add(time.Hour)) {
		t.Errorf("Expected idleExpires=%v, got %+v", later.Add(time.Hour), session)
	}

	sessions, err := suite.Adapter.GetSessionsByUserID(ctx, "user-sessions")
	if err != nil {
		t.Fatalf("GetSessionsByUserID failed: %v", err)
	}
	if len(sessions) != 2 {
		t.Errorf("Expected 2 sessions, got %d", len(sessions))
	}

	if err := suite.Adapter.DeleteSession(ctx, "session-1"); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}
	session, _ = suite.Adapter.GetSession(ctx, "session-1")
	if session != nil {
		t.Error("Expected session to be deleted")
	}

	if err := suite.Adapter.DeleteSessionsByUserID(ctx, "user-sessions"); err != nil {
		t.Fatalf("DeleteSessionsByUserID failed: %v", err)
	}
	sessions, _ = suite.Adapter.GetSessionsByUserID(ctx, "user-sessions")
	if len(sessions) != 0 {
		t.Errorf("Expected 0 sessions, got %d", len(sessions))
	}
}

// TestDeleteUser tests that deleting a user removes its keys
func (suite *TestSuite) TestDeleteUser(t *testing.T) {
	defer suite.setup(t)()
	ctx := context.Background()

	keyID := core.KeyID("username", "user-delete")
	suite.mustSetUser(t, "user-delete", &core.KeySchema{ID: keyID, UserID: "user-delete"})

	if err := suite.Adapter.DeleteUser(ctx, "user-delete"); err != nil {
		t.Fatalf("DeleteUser failed: %v", err)
	}

	user, _ := suite.Adapter.GetUser(ctx, "user-delete")
	if user != nil {
		t.Error("Expected user to be deleted")
	}
	key, _ := suite.Adapter.GetKey(ctx, keyID)
	if key != nil {
		t.Error("Expected key to be deleted with its user")
	}
}

// TestPing tests the Ping operation
func (suite *TestSuite) TestPing(t *testing.T) {
	defer suite.setup(t)()

	if err := suite.Adapter.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}
