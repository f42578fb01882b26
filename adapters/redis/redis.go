// Package redis stores sessions in Redis. It implements core.SessionAdapter
// and is combined with a user adapter through core.WithSessionAdapter.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/marshallshelly/beaconauth-plugin/core"
	goredis "github.com/redis/go-redis/v9"
)

// SessionStore implements core.SessionAdapter on Redis
type SessionStore struct {
	client goredis.UniversalClient
	prefix string
}

// Config holds Redis configuration
type Config struct {
	Addr     string
	Password string
	DB       int

	// Prefix is prepended to every key, default "beaconauth:"
	Prefix string
}

type sessionData struct {
	ID            string                 `json:"id"`
	UserID        string                 `json:"userId"`
	ActiveExpires int64                  `json:"activeExpires"`
	IdleExpires   int64                  `json:"idleExpires"`
	Attributes    map[string]interface{} `json:"attributes"`
}

// New connects to Redis
func New(ctx context.Context, cfg *Config) (*SessionStore, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewFromClient(client, cfg.Prefix), nil
}

// NewFromClient wraps an existing client
func NewFromClient(client goredis.UniversalClient, prefix string) *SessionStore {
	if prefix == "" {
		prefix = "beaconauth:"
	}
	return &SessionStore{client: client, prefix: prefix}
}

// Ping checks the connection
func (r *SessionStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the client
func (r *SessionStore) Close() error {
	return r.client.Close()
}

func (r *SessionStore) sessionKey(sessionID string) string {
	return r.prefix + "session:" + sessionID
}

func (r *SessionStore) userKey(userID string) string {
	return r.prefix + "user_sessions:" + userID
}

// GetSession retrieves a session by ID
func (r *SessionStore) GetSession(ctx context.Context, sessionID string) (*core.SessionSchema, error) {
	data, err := r.client.Get(ctx, r.sessionKey(sessionID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get error: %w", err)
	}
	return decode(data)
}

// GetSessionsByUserID lists the sessions of a user, oldest expiry first.
// IDs whose session has expired out of Redis are pruned from the index.
func (r *SessionStore) GetSessionsByUserID(ctx context.Context, userID string) ([]*core.SessionSchema, error) {
	ids, err := r.client.SMembers(ctx, r.userKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers error: %w", err)
	}
	if len(ids) == 0 {
		return []*core.SessionSchema{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.sessionKey(id)
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget error: %w", err)
	}

	sessions := make([]*core.SessionSchema, 0, len(values))
	stale := make([]interface{}, 0)
	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		session, err := decode([]byte(raw))
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}

	// best effort; a failed cleanup retries on the next read
	if len(stale) > 0 {
		r.client.SRem(ctx, r.userKey(userID), stale...)
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].ActiveExpires.Before(sessions[j].ActiveExpires)
	})
	return sessions, nil
}

// SetSession stores a session until its idle expiry
func (r *SessionStore) SetSession(ctx context.Context, session *core.SessionSchema) error {
	data, err := json.Marshal(sessionData{
		ID:            session.ID,
		UserID:        session.UserID,
		ActiveExpires: session.ActiveExpires.UnixMilli(),
		IdleExpires:   session.IdleExpires.UnixMilli(),
		Attributes:    session.Attributes,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, r.sessionKey(session.ID), data, 0)
		pipe.ExpireAt(ctx, r.sessionKey(session.ID), session.IdleExpires)
		pipe.SAdd(ctx, r.userKey(session.UserID), session.ID)
		return nil
	})
	return err
}

// UpdateSession moves the expiry of a session
func (r *SessionStore) UpdateSession(ctx context.Context, sessionID string, activeExpires, idleExpires time.Time) error {
	session, err := r.GetSession(ctx, sessionID)
	if err != nil || session == nil {
		return err
	}
	session.ActiveExpires = activeExpires
	session.IdleExpires = idleExpires
	return r.SetSession(ctx, session)
}

// DeleteSession removes a session
func (r *SessionStore) DeleteSession(ctx context.Context, sessionID string) error {
	session, err := r.GetSession(ctx, sessionID)
	if err != nil || session == nil {
		return err
	}

	_, err = r.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, r.sessionKey(sessionID))
		pipe.SRem(ctx, r.userKey(session.UserID), sessionID)
		return nil
	})
	return err
}

// DeleteSessionsByUserID removes all sessions of a user
func (r *SessionStore) DeleteSessionsByUserID(ctx context.Context, userID string) error {
	ids, err := r.client.SMembers(ctx, r.userKey(userID)).Result()
	if err != nil {
		return fmt.Errorf("redis smembers error: %w", err)
	}

	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, r.sessionKey(id))
	}
	keys = append(keys, r.userKey(userID))

	return r.client.Del(ctx, keys...).Err()
}

func decode(data []byte) (*core.SessionSchema, error) {
	var s sessionData
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session data: %w", err)
	}

	attrs := s.Attributes
	if attrs == nil {
		attrs = make(map[string]interface{})
	}
	return &core.SessionSchema{
		ID:            s.ID,
		UserID:        s.UserID,
		ActiveExpires: time.UnixMilli(s.ActiveExpires),
		IdleExpires:   time.UnixMilli(s.IdleExpires),
		Attributes:    attrs,
	}, nil
}
