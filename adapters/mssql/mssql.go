package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/marshallshelly/beaconauth-plugin/adapters/sqlstore"
	mssql "github.com/microsoft/go-mssqldb"
)

// Unique constraint and unique index violations
const (
	errUniqueConstraint = 2627
	errUniqueIndex      = 2601
)

// MSSQLAdapter stores users, keys and sessions in SQL Server
type MSSQLAdapter struct {
	*sqlstore.Store
}

// Config holds SQL Server configuration
type Config struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
	Params   map[string]string
	MaxConns int
	MinConns int

	// Migrate creates the tables on open
	Migrate bool
}

// URL builds the sqlserver connection URL for cfg
func (cfg *Config) URL() string {
	query := url.Values{}
	query.Add("database", cfg.Database)
	for k, v := range cfg.Params {
		query.Add(k, v)
	}

	u := &url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(cfg.Username, cfg.Password),
		Host:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		RawQuery: query.Encode(),
	}
	return u.String()
}

// New creates a new SQL Server adapter
func New(ctx context.Context, cfg *Config) (*MSSQLAdapter, error) {
	if cfg.Port == 0 {
		cfg.Port = 1433
	}
	if cfg.MaxConns == 0 {
		cfg.MaxConns = 10
	}

	db, err := sql.Open("sqlserver", cfg.URL())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConns)
	db.SetMaxIdleConns(cfg.MinConns)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	a := &MSSQLAdapter{
		Store: sqlstore.New(db, sqlstore.Dialect{
			Name:        "mssql",
			Bind:        func(n int) string { return fmt.Sprintf("@p%d", n) },
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
func (m *MSSQLAdapter) ID() string {
	return "mssql"
}

func isDuplicate(err error) bool {
	var mssqlErr mssql.Error
	if !errors.As(err, &mssqlErr) {
		return false
	}
	return mssqlErr.Number == errUniqueConstraint || mssqlErr.Number == errUniqueIndex
}
