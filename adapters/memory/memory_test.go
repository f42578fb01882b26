package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/marshallshelly/beaconauth-plugin/core"
)

func TestMemoryAdapter_ReturnsCopies(t *testing.T) {
	adapter := New()
	ctx := context.Background()

	attrs := map[string]interface{}{"username": "alice"}
	if err := adapter.SetUser(ctx, &core.UserSchema{ID: "user1", Attributes: attrs}, nil); err != nil {
		t.Fatalf("SetUser failed: %v", err)
	}

	attrs["username"] = "mallory"

	user, _ := adapter.GetUser(ctx, "user1")
	if user.Attributes["username"] != "alice" {
		t.Errorf("Expected stored user to be isolated from caller, got %v", user.Attributes["username"])
	}

	user.Attributes["username"] = "eve"
	again, _ := adapter.GetUser(ctx, "user1")
	if again.Attributes["username"] != "alice" {
		t.Errorf("Expected returned user to be a copy, got %v", again.Attributes["username"])
	}
}

func TestMemoryAdapter_SetUserDuplicateKeyIsAtomic(t *testing.T) {
	adapter := New()
	ctx := context.Background()

	key := &core.KeySchema{ID: "username:alice", UserID: "user1"}
	adapter.SetUser(ctx, &core.UserSchema{ID: "user1"}, key)

	err := adapter.SetUser(ctx, &core.UserSchema{ID: "user2"}, &core.KeySchema{ID: "username:alice", UserID: "user2"})
	if !errors.Is(err, core.ErrDuplicateKeyID) {
		t.Fatalf("Expected ErrDuplicateKeyID, got %v", err)
	}

	if user, _ := adapter.GetUser(ctx, "user2"); user != nil {
		t.Error("Expected user2 not to be stored")
	}
}

func TestMemoryAdapter_SessionsOrderedByExpiry(t *testing.T) {
	adapter := New()
	ctx := context.Background()
	now := time.Now()

	adapter.SetSession(ctx, &core.SessionSchema{ID: "late", UserID: "user1", ActiveExpires: now.Add(2 * time.Hour)})
	adapter.SetSession(ctx, &core.SessionSchema{ID: "early", UserID: "user1", ActiveExpires: now.Add(time.Hour)})
	adapter.SetSession(ctx, &core.SessionSchema{ID: "other", UserID: "user2", ActiveExpires: now})

	sessions, err := adapter.GetSessionsByUserID(ctx, "user1")
	if err != nil {
		t.Fatalf("GetSessionsByUserID failed: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("Expected 2 sessions, got %d", len(sessions))
	}
	if sessions[0].ID != "early" || sessions[1].ID != "late" {
		t.Errorf("Expected [early late], got [%s %s]", sessions[0].ID, sessions[1].ID)
	}
}

func TestMemoryAdapter_Close(t *testing.T) {
	adapter := New()
	ctx := context.Background()

	adapter.SetUser(ctx, &core.UserSchema{ID: "user1"}, nil)
	adapter.Close()

	if user, _ := adapter.GetUser(ctx, "user1"); user != nil {
		t.Error("Expected Close to clear data")
	}
}

func TestMemoryAdapter_Concurrent(t *testing.T) {
	adapter := New()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('a' + i%26))
			adapter.SetSession(ctx, &core.SessionSchema{ID: id, UserID: "user1"})
			adapter.GetSessionsByUserID(ctx, "user1")
			adapter.DeleteSession(ctx, id)
		}(i)
	}
	wg.Wait()
}
