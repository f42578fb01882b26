package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/marshallshelly/beaconauth-plugin/adapters/sqlstore"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLiteAdapter stores users, keys and sessions in SQLite
type SQLiteAdapter struct {
	*sqlstore.Store
}

// Config holds SQLite configuration
type Config struct {
	DataSourceName string

	// Migrate creates the tables on open
	Migrate bool
}

// New opens a SQLite database
func New(ctx context.Context, cfg *Config) (*SQLiteAdapter, error) {
	if cfg.DataSourceName == "" {
		cfg.DataSourceName = "file:beaconauth.db?cache=shared&mode=rwc"
	}

	db, err := sql.Open("sqlite", cfg.DataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite guidelines for concurrency
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	a := &SQLiteAdapter{
		Store: sqlstore.New(db, sqlstore.Dialect{
			Name:        "sqlite",
			IsDuplicate: isDuplicate,
		}),
	}

	if cfg.Migrate {
		if err := a.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}

	return a, nil
}

// ID returns the adapter identifier
func (s *SQLiteAdapter) ID() string {
	return "sqlite"
}

func isDuplicate(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}
