package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/marshallshelly/beaconauth-plugin/adapters/sqlstore"
)

// errDuplicateEntry is ER_DUP_ENTRY
const errDuplicateEntry = 1062

// MySQLAdapter stores users, keys and sessions in MySQL
type MySQLAdapter struct {
	*sqlstore.Store
}

// Config holds MySQL configuration
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

// FormatDSN builds the driver DSN for cfg
func (cfg *Config) FormatDSN() string {
	c := mysql.NewConfig()
	c.User = cfg.Username
	c.Passwd = cfg.Password
	c.Net = "tcp"
	c.Addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	c.DBName = cfg.Database
	c.ParseTime = true
	c.Params = cfg.Params
	return c.FormatDSN()
}

// New creates a new MySQL adapter
func New(ctx context.Context, cfg *Config) (*MySQLAdapter, error) {
	if cfg.Port == 0 {
		cfg.Port = 3306
	}
	if cfg.MaxConns == 0 {
		cfg.MaxConns = 10
	}

	db, err := sql.Open("mysql", cfg.FormatDSN())
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

	a := &MySQLAdapter{
		Store: sqlstore.New(db, sqlstore.Dialect{
			Name:        "mysql",
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
func (m *MySQLAdapter) ID() string {
	return "mysql"
}

func isDuplicate(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == errDuplicateEntry
}
