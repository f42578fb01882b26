package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/marshallshelly/beaconauth-plugin/adapters/sqlstore"
	"github.com/marshallshelly/beaconauth-plugin/core"
)

// uniqueViolation is the SQLSTATE of a unique constraint violation
const uniqueViolation = "23505"

// PostgresAdapter stores users, keys and sessions in PostgreSQL
type PostgresAdapter struct {
	pool *pgxpool.Pool
}

// Config holds PostgreSQL configuration
type Config struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
	SSLMode  string
	MaxConns int32
	MinConns int32

	// Migrate creates the tables on connect
	Migrate bool
}

// New creates a new PostgreSQL adapter
func New(ctx context.Context, cfg *Config) (*PostgresAdapter, error) {
	if cfg.Port == 0 {
		cfg.Port = 5432
	}
	if cfg.SSLMode == "" {
		cfg.SSLMode = "prefer"
	}
	if cfg.MaxConns == 0 {
		cfg.MaxConns = 10
	}
	if cfg.MinConns == 0 {
		cfg.MinConns = 2
	}

	connString := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s pool_max_conns=%d pool_min_conns=%d",
		cfg.Host,
		cfg.Port,
		cfg.Username,
		cfg.Password,
		cfg.Database,
		cfg.SSLMode,
		cfg.MaxConns,
		cfg.MinConns,
	)

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	p := &PostgresAdapter{pool: pool}
	if cfg.Migrate {
		if err := p.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}

	return p, nil
}

// NewFromPool wraps an existing pool
func NewFromPool(pool *pgxpool.Pool) *PostgresAdapter {
	return &PostgresAdapter{pool: pool}
}

// ID returns the adapter identifier
func (p *PostgresAdapter) ID() string {
	return "postgres"
}

// Pool returns the underlying connection pool
func (p *PostgresAdapter) Pool() *pgxpool.Pool {
	return p.pool
}

// Migrate creates the tables if they do not exist
func (p *PostgresAdapter) Migrate(ctx context.Context) error {
	statements, err := sqlstore.Schema("postgres")
	if err != nil {
		return err
	}
	for _, stmt := range statements {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate: %w", err)
		}
	}
	return nil
}

// Ping checks the database connection
func (p *PostgresAdapter) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close closes the connection pool
func (p *PostgresAdapter) Close() error {
	p.pool.Close()
	return nil
}

// GetUser retrieves a user by ID
func (p *PostgresAdapter) GetUser(ctx context.Context, userID string) (*core.UserSchema, error) {
	user := &core.UserSchema{ID: userID}
	err := p.pool.QueryRow(ctx, "SELECT attributes FROM auth_user WHERE id = $1", userID).Scan(&user.Attributes)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if user.Attributes == nil {
		user.Attributes = make(map[string]interface{})
	}
	return user, nil
}

// SetUser stores a user and its optional first key in one transaction
func (p *PostgresAdapter) SetUser(ctx context.Context, user *core.UserSchema, key *core.KeySchema) error {
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "INSERT INTO auth_user (id, attributes) VALUES ($1, $2)", user.ID, attributes(user.Attributes)); err != nil {
			return err
		}
		if key == nil {
			return nil
		}
		return insertKey(ctx, tx, key)
	})
}

// UpdateUser merges attributes into a user
func (p *PostgresAdapter) UpdateUser(ctx context.Context, userID string, attrs map[string]interface{}) error {
	_, err := p.pool.Exec(ctx, "UPDATE auth_user SET attributes = attributes || $1 WHERE id = $2", attributes(attrs), userID)
	return err
}

// DeleteUser removes a user and its keys
func (p *PostgresAdapter) DeleteUser(ctx context.Context, userID string) error {
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "DELETE FROM user_key WHERE user_id = $1", userID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, "DELETE FROM auth_user WHERE id = $1", userID)
		return err
	})
}

// GetKey retrieves a key by ID
func (p *PostgresAdapter) GetKey(ctx context.Context, keyID string) (*core.KeySchema, error) {
	key := &core.KeySchema{ID: keyID}
	err := p.pool.QueryRow(ctx, "SELECT user_id, hashed_password FROM user_key WHERE id = $1", keyID).Scan(&key.UserID, &key.HashedPassword)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return key, nil
}

// GetKeysByUserID lists the keys of a user ordered by ID
func (p *PostgresAdapter) GetKeysByUserID(ctx context.Context, userID string) ([]*core.KeySchema, error) {
	rows, err := p.pool.Query(ctx, "SELECT id, user_id, hashed_password FROM user_key WHERE user_id = $1 ORDER BY id", userID)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*core.KeySchema, error) {
		key := &core.KeySchema{}
		err := row.Scan(&key.ID, &key.UserID, &key.HashedPassword)
		return key, err
	})
}

// SetKey stores a key
func (p *PostgresAdapter) SetKey(ctx context.Context, key *core.KeySchema) error {
	return insertKey(ctx, p.pool, key)
}

type executor interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

func insertKey(ctx context.Context, db executor, key *core.KeySchema) error {
	_, err := db.Exec(ctx, "INSERT INTO user_key (id, user_id, hashed_password) VALUES ($1, $2, $3)", key.ID, key.UserID, key.HashedPassword)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return core.ErrDuplicateKeyID
	}
	return err
}

// UpdateKey replaces the hashed password of a key
func (p *PostgresAdapter) UpdateKey(ctx context.Context, keyID string, hashedPassword *string) error {
	_, err := p.pool.Exec(ctx, "UPDATE user_key SET hashed_password = $1 WHERE id = $2", hashedPassword, keyID)
	return err
}

// DeleteKey removes a key
func (p *PostgresAdapter) DeleteKey(ctx context.Context, keyID string) error {
	_, err := p.pool.Exec(ctx, "DELETE FROM user_key WHERE id = $1", keyID)
	return err
}

// DeleteKeysByUserID removes all keys of a user
func (p *PostgresAdapter) DeleteKeysByUserID(ctx context.Context, userID string) error {
	_, err := p.pool.Exec(ctx, "DELETE FROM user_key WHERE user_id = $1", userID)
	return err
}

// GetSession retrieves a session by ID
func (p *PostgresAdapter) GetSession(ctx context.Context, sessionID string) (*core.SessionSchema, error) {
	rows, err := p.pool.Query(ctx, "SELECT id, user_id, active_expires, idle_expires, attributes FROM user_session WHERE id = $1", sessionID)
	if err != nil {
		return nil, err
	}

	session, err := pgx.CollectExactlyOneRow(rows, scanSession)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return session, err
}

// GetSessionsByUserID lists the sessions of a user, oldest expiry first
func (p *PostgresAdapter) GetSessionsByUserID(ctx context.Context, userID string) ([]*core.SessionSchema, error) {
	rows, err := p.pool.Query(ctx, "SELECT id, user_id, active_expires, idle_expires, attributes FROM user_session WHERE user_id = $1 ORDER BY active_expires", userID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanSession)
}

// SetSession stores a session
func (p *PostgresAdapter) SetSession(ctx context.Context, session *core.SessionSchema) error {
	_, err := p.pool.Exec(ctx,
		"INSERT INTO user_session (id, user_id, active_expires, idle_expires, attributes) VALUES ($1, $2, $3, $4, $5)",
		session.ID,
		session.UserID,
		session.ActiveExpires.UnixMilli(),
		session.IdleExpires.UnixMilli(),
		attributes(session.Attributes),
	)
	return err
}

// UpdateSession moves the expiry of a session
func (p *PostgresAdapter) UpdateSession(ctx context.Context, sessionID string, activeExpires, idleExpires time.Time) error {
	_, err := p.pool.Exec(ctx, "UPDATE user_session SET active_expires = $1, idle_expires = $2 WHERE id = $3",
		activeExpires.UnixMilli(), idleExpires.UnixMilli(), sessionID)
	return err
}

// DeleteSession removes a session
func (p *PostgresAdapter) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := p.pool.Exec(ctx, "DELETE FROM user_session WHERE id = $1", sessionID)
	return err
}

// DeleteSessionsByUserID removes all sessions of a user
func (p *PostgresAdapter) DeleteSessionsByUserID(ctx context.Context, userID string) error {
	_, err := p.pool.Exec(ctx, "DELETE FROM user_session WHERE user_id = $1", userID)
	return err
}

func scanSession(row pgx.CollectableRow) (*core.SessionSchema, error) {
	var (
		session       core.SessionSchema
		activeExpires int64
		idleExpires   int64
	)
	if err := row.Scan(&session.ID, &session.UserID, &activeExpires, &idleExpires, &session.Attributes); err != nil {
		return nil, err
	}

	session.ActiveExpires = time.UnixMilli(activeExpires)
	session.IdleExpires = time.UnixMilli(idleExpires)
	if session.Attributes == nil {
		session.Attributes = make(map[string]interface{})
	}
	return &session, nil
}

// attributes never encodes as JSON null
func attributes(attrs map[string]interface{}) map[string]interface{} {
	if attrs == nil {
		return map[string]interface{}{}
	}
	return attrs
}
