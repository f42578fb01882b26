// Package sqlstore implements the adapter contract over database/sql.
// The sqlite, mysql and mssql adapters embed a Store configured with
// their driver's Dialect.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/marshallshelly/beaconauth-plugin/core"
)

// Dialect describes the differences between SQL drivers
type Dialect struct {
	// Name selects the schema, see Schema
	Name string

	// Bind returns the placeholder for the n-th argument (1-based)
	Bind func(n int) string

	// IsDuplicate reports whether err is a unique constraint violation
	IsDuplicate func(err error) bool
}

// QuestionBind is the placeholder style of sqlite and mysql
func QuestionBind(int) string {
	return "?"
}

// Store is a database/sql backed user, key and session store
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// New creates a store over an open database
func New(db *sql.DB, dialect Dialect) *Store {
	if dialect.Bind == nil {
		dialect.Bind = QuestionBind
	}
	return &Store{db: db, dialect: dialect}
}

// DB returns the underlying database
func (s *Store) DB() *sql.DB {
	return s.db
}

// Migrate creates the tables if they do not exist
func (s *Store) Migrate(ctx context.Context) error {
	statements, err := Schema(s.dialect.Name)
	if err != nil {
		return err
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate: %w", err)
		}
	}
	return nil
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders for the dialect
func (s *Store) rebind(query string) string {
	if s.dialect.Bind(1) == "?" {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString(s.dialect.Bind(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type queryExecuter interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (s *Store) exec(ctx context.Context, db queryExecuter, query string, args ...interface{}) error {
	_, err := db.ExecContext(ctx, s.rebind(query), args...)
	return err
}

func (s *Store) transaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction error: %w, rollback error: %v", err, rbErr)
		}
		return err
	}

	return tx.Commit()
}

func (s *Store) duplicate(err error) error {
	if err != nil && s.dialect.IsDuplicate != nil && s.dialect.IsDuplicate(err) {
		return core.ErrDuplicateKeyID
	}
	return err
}

// GetUser retrieves a user by ID
func (s *Store) GetUser(ctx context.Context, userID string) (*core.UserSchema, error) {
	return s.getUser(ctx, s.db, userID)
}

func (s *Store) getUser(ctx context.Context, db queryExecuter, userID string) (*core.UserSchema, error) {
	var raw string
	err := db.QueryRowContext(ctx, s.rebind("SELECT attributes FROM auth_user WHERE id = ?"), userID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	attrs, err := DecodeAttributes(raw)
	if err != nil {
		return nil, err
	}
	return &core.UserSchema{ID: userID, Attributes: attrs}, nil
}

// SetUser stores a user and its optional first key in one transaction
func (s *Store) SetUser(ctx context.Context, user *core.UserSchema, key *core.KeySchema) error {
	attrs, err := EncodeAttributes(user.Attributes)
	if err != nil {
		return err
	}

	return s.transaction(ctx, func(tx *sql.Tx) error {
		if err := s.exec(ctx, tx, "INSERT INTO auth_user (id, attributes) VALUES (?, ?)", user.ID, attrs); err != nil {
			return err
		}
		if key == nil {
			return nil
		}
		return s.duplicate(s.insertKey(ctx, tx, key))
	})
}

// UpdateUser merges attributes into a user
func (s *Store) UpdateUser(ctx context.Context, userID string, attributes map[string]interface{}) error {
	return s.transaction(ctx, func(tx *sql.Tx) error {
		user, err := s.getUser(ctx, tx, userID)
		if err != nil || user == nil {
			return err
		}
		for k, v := range attributes {
			user.Attributes[k] = v
		}

		attrs, err := EncodeAttributes(user.Attributes)
		if err != nil {
			return err
		}
		return s.exec(ctx, tx, "UPDATE auth_user SET attributes = ? WHERE id = ?", attrs, userID)
	})
}

// DeleteUser removes a user and its keys
func (s *Store) DeleteUser(ctx context.Context, userID string) error {
	return s.transaction(ctx, func(tx *sql.Tx) error {
		if err := s.exec(ctx, tx, "DELETE FROM user_key WHERE user_id = ?", userID); err != nil {
			return err
		}
		return s.exec(ctx, tx, "DELETE FROM auth_user WHERE id = ?", userID)
	})
}

// GetKey retrieves a key by ID
func (s *Store) GetKey(ctx context.Context, keyID string) (*core.KeySchema, error) {
	key := &core.KeySchema{ID: keyID}
	var hashed sql.NullString

	err := s.db.QueryRowContext(ctx, s.rebind("SELECT user_id, hashed_password FROM user_key WHERE id = ?"), keyID).Scan(&key.UserID, &hashed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if hashed.Valid {
		key.HashedPassword = &hashed.String
	}
	return key, nil
}

// GetKeysByUserID lists the keys of a user ordered by ID
func (s *Store) GetKeysByUserID(ctx context.Context, userID string) ([]*core.KeySchema, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind("SELECT id, hashed_password FROM user_key WHERE user_id = ? ORDER BY id"), userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make([]*core.KeySchema, 0)
	for rows.Next() {
		key := &core.KeySchema{UserID: userID}
		var hashed sql.NullString
		if err := rows.Scan(&key.ID, &hashed); err != nil {
			return nil, err
		}
		if hashed.Valid {
			key.HashedPassword = &hashed.String
		}
		keys = append(keys, key)
	}

	return keys, rows.Err()
}

// SetKey stores a key
func (s *Store) SetKey(ctx context.Context, key *core.KeySchema) error {
	return s.duplicate(s.insertKey(ctx, s.db, key))
}

func (s *Store) insertKey(ctx context.Context, db queryExecuter, key *core.KeySchema) error {
	return s.exec(ctx, db, "INSERT INTO user_key (id, user_id, hashed_password) VALUES (?, ?, ?)",
		key.ID, key.UserID, nullString(key.HashedPassword))
}

// UpdateKey replaces the hashed password of a key
func (s *Store) UpdateKey(ctx context.Context, keyID string, hashedPassword *string) error {
	return s.exec(ctx, s.db, "UPDATE user_key SET hashed_password = ? WHERE id = ?", nullString(hashedPassword), keyID)
}

// DeleteKey removes a key
func (s *Store) DeleteKey(ctx context.Context, keyID string) error {
	return s.exec(ctx, s.db, "DELETE FROM user_key WHERE id = ?", keyID)
}

// DeleteKeysByUserID removes all keys of a user
func (s *Store) DeleteKeysByUserID(ctx context.Context, userID string) error {
	return s.exec(ctx, s.db, "DELETE FROM user_key WHERE user_id = ?", userID)
}

// GetSession retrieves a session by ID
func (s *Store) GetSession(ctx context.Context, sessionID string) (*core.SessionSchema, error) {
	row := s.db.QueryRowContext(ctx, s.rebind("SELECT id, user_id, active_expires, idle_expires, attributes FROM user_session WHERE id = ?"), sessionID)

	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return session, err
}

// GetSessionsByUserID lists the sessions of a user, oldest expiry first
func (s *Store) GetSessionsByUserID(ctx context.Context, userID string) ([]*core.SessionSchema, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind("SELECT id, user_id, active_expires, idle_expires, attributes FROM user_session WHERE user_id = ? ORDER BY active_expires"), userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := make([]*core.SessionSchema, 0)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}

	return sessions, rows.Err()
}

// SetSession stores a session
func (s *Store) SetSession(ctx context.Context, session *core.SessionSchema) error {
	attrs, err := EncodeAttributes(session.Attributes)
	if err != nil {
		return err
	}
	return s.exec(ctx, s.db, "INSERT INTO user_session (id, user_id, active_expires, idle_expires, attributes) VALUES (?, ?, ?, ?, ?)",
		session.ID, session.UserID, session.ActiveExpires.UnixMilli(), session.IdleExpires.UnixMilli(), attrs)
}

// UpdateSession moves the expiry of a session
func (s *Store) UpdateSession(ctx context.Context, sessionID string, activeExpires, idleExpires time.Time) error {
	return s.exec(ctx, s.db, "UPDATE user_session SET active_expires = ?, idle_expires = ? WHERE id = ?",
		activeExpires.UnixMilli(), idleExpires.UnixMilli(), sessionID)
}

// DeleteSession removes a session
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	return s.exec(ctx, s.db, "DELETE FROM user_session WHERE id = ?", sessionID)
}

// DeleteSessionsByUserID removes all sessions of a user
func (s *Store) DeleteSessionsByUserID(ctx context.Context, userID string) error {
	return s.exec(ctx, s.db, "DELETE FROM user_session WHERE user_id = ?", userID)
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row scanner) (*core.SessionSchema, error) {
	var (
		session       core.SessionSchema
		activeExpires int64
		idleExpires   int64
		raw           string
	)
	if err := row.Scan(&session.ID, &session.UserID, &activeExpires, &idleExpires, &raw); err != nil {
		return nil, err
	}

	attrs, err := DecodeAttributes(raw)
	if err != nil {
		return nil, err
	}

	session.ActiveExpires = time.UnixMilli(activeExpires)
	session.IdleExpires = time.UnixMilli(idleExpires)
	session.Attributes = attrs
	return &session, nil
}

// EncodeAttributes serializes attributes for a text column
func EncodeAttributes(attrs map[string]interface{}) (string, error) {
	if attrs == nil {
		return "{}", nil
	}
	b, err := json.Marshal(attrs)
	if err != nil {
		return "", fmt.Errorf("failed to encode attributes: %w", err)
	}
	return string(b), nil
}

// DecodeAttributes parses an attributes column
func DecodeAttributes(raw string) (map[string]interface{}, error) {
	attrs := make(map[string]interface{})
	if raw == "" {
		return attrs, nil
	}
	if err := json.Unmarshal([]byte(raw), &attrs); err != nil {
		return nil, fmt.Errorf("failed to decode attributes: %w", err)
	}
	return attrs, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
