package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/marshallshelly/beaconauth-plugin/adapters/memory"
	"github.com/marshallshelly/beaconauth-plugin/adapters/mongodb"
	"github.com/marshallshelly/beaconauth-plugin/adapters/mssql"
	"github.com/marshallshelly/beaconauth-plugin/adapters/mysql"
	"github.com/marshallshelly/beaconauth-plugin/adapters/postgres"
	"github.com/marshallshelly/beaconauth-plugin/adapters/redis"
	"github.com/marshallshelly/beaconauth-plugin/adapters/sqlite"
	"github.com/marshallshelly/beaconauth-plugin/core"
	"github.com/marshallshelly/beaconauth-plugin/plugins/oauth/providers"
)

// Config is the server configuration, read from the environment
type Config struct {
	Addr            string        `env:"BEACON_ADDR" envDefault:":3000"`
	BaseURL         string        `env:"BEACON_BASE_URL" envDefault:"http://localhost:3000"`
	Prefix          string        `env:"BEACON_PREFIX" envDefault:"/auth"`
	Adapter         string        `env:"BEACON_ADAPTER" envDefault:"memory"`
	Migrate         bool          `env:"BEACON_MIGRATE" envDefault:"true"`
	SessionName     string        `env:"BEACON_SESSION_NAME" envDefault:"session"`
	SuccessRedirect string        `env:"BEACON_SUCCESS_REDIRECT" envDefault:"/"`
	ActivePeriod    time.Duration `env:"BEACON_SESSION_ACTIVE" envDefault:"24h"`
	IdlePeriod      time.Duration `env:"BEACON_SESSION_IDLE" envDefault:"336h"`
	Metrics         bool          `env:"BEACON_METRICS" envDefault:"true"`

	SQLite   SQLiteConfig   `envPrefix:"SQLITE_"`
	Postgres DatabaseConfig `envPrefix:"POSTGRES_"`
	MySQL    DatabaseConfig `envPrefix:"MYSQL_"`
	MSSQL    DatabaseConfig `envPrefix:"MSSQL_"`
	Mongo    MongoConfig    `envPrefix:"MONGO_"`
	Redis    RedisConfig    `envPrefix:"REDIS_"`
}

// SQLiteConfig locates the SQLite database
type SQLiteConfig struct {
	DataSourceName string `env:"DSN"`
}

// DatabaseConfig holds the credentials of a SQL server
type DatabaseConfig struct {
	Host     string `env:"HOST" envDefault:"localhost"`
	Port     int    `env:"PORT"`
	Database string `env:"DATABASE" envDefault:"beaconauth"`
	Username string `env:"USERNAME"`
	Password string `env:"PASSWORD"`
	SSLMode  string `env:"SSLMODE"`
}

// MongoConfig locates the MongoDB database
type MongoConfig struct {
	URI      string `env:"URI" envDefault:"mongodb://localhost:27017"`
	Database string `env:"DATABASE" envDefault:"beaconauth"`
}

// RedisConfig enables the Redis session store when Addr is set
type RedisConfig struct {
	Addr     string `env:"ADDR"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB"`
	Prefix   string `env:"PREFIX"`
}

// providerEnv is the configuration of one provider, read under its
// upper-cased ID, e.g. GITHUB_CLIENT_ID
type providerEnv struct {
	ClientID     string   `env:"CLIENT_ID"`
	ClientSecret string   `env:"CLIENT_SECRET"`
	RedirectURL  string   `env:"REDIRECT_URL"`
	Scopes       []string `env:"SCOPES"`
	Domain       string   `env:"DOMAIN"`
	Tenant       string   `env:"TENANT"`
	UserAgent    string   `env:"USER_AGENT"`
	TeamID       string   `env:"TEAM_ID"`
	KeyID        string   `env:"KEY_ID"`
	PrivateKey   string   `env:"PRIVATE_KEY"`
}

// loadConfig reads the .env files, if present, and then environ. A nil
// environ reads the process environment.
func loadConfig(environ map[string]string, files ...string) (*Config, error) {
	for _, file := range files {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", file, err)
		}
	}

	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Environment: environ}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.Prefix = "/" + strings.Trim(cfg.Prefix, "/")
	return cfg, nil
}

// providerOptions returns the options of every provider with a client ID
func (cfg *Config) providerOptions(environ map[string]string) (map[string]providers.Options, error) {
	enabled := make(map[string]providers.Options)

	for _, id := range providers.IDs() {
		var p providerEnv
		err := env.ParseWithOptions(&p, env.Options{
			Prefix:      strings.ToUpper(id) + "_",
			Environment: environ,
		})
		if err != nil {
			return nil, fmt.Errorf("parse env: %w", err)
		}
		if p.ClientID == "" {
			continue
		}

		opts := providers.Options{
			ClientID:     p.ClientID,
			ClientSecret: p.ClientSecret,
			RedirectURL:  p.RedirectURL,
			Scopes:       p.Scopes,
			Domain:       p.Domain,
			Tenant:       p.Tenant,
			UserAgent:    p.UserAgent,
		}
		if opts.RedirectURL == "" {
			opts.RedirectURL = strings.TrimRight(cfg.BaseURL, "/") + cfg.Prefix + "/" + id
		}
		if id == "apple" {
			opts.Apple = &providers.AppleOptions{
				TeamID:     p.TeamID,
				KeyID:      p.KeyID,
				PrivateKey: p.PrivateKey,
			}
		}
		enabled[id] = opts
	}
	return enabled, nil
}

// openAdapter connects the configured user store
func (cfg *Config) openAdapter(ctx context.Context) (core.Adapter, error) {
	switch cfg.Adapter {
	case "memory":
		return memory.New(), nil
	case "sqlite":
		return sqlite.New(ctx, &sqlite.Config{
			DataSourceName: cfg.SQLite.DataSourceName,
			Migrate:        cfg.Migrate,
		})
	case "postgres":
		return postgres.New(ctx, &postgres.Config{
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			Username: cfg.Postgres.Username,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			Migrate:  cfg.Migrate,
		})
	case "mysql":
		return mysql.New(ctx, &mysql.Config{
			Host:     cfg.MySQL.Host,
			Port:     cfg.MySQL.Port,
			Database: cfg.MySQL.Database,
			Username: cfg.MySQL.Username,
			Password: cfg.MySQL.Password,
			Migrate:  cfg.Migrate,
		})
	case "mssql":
		return mssql.New(ctx, &mssql.Config{
			Host:     cfg.MSSQL.Host,
			Port:     cfg.MSSQL.Port,
			Database: cfg.MSSQL.Database,
			Username: cfg.MSSQL.Username,
			Password: cfg.MSSQL.Password,
			Migrate:  cfg.Migrate,
		})
	case "mongodb":
		return mongodb.New(ctx, &mongodb.Config{
			URI:      cfg.Mongo.URI,
			Database: cfg.Mongo.Database,
		})
	default:
		return nil, fmt.Errorf("unknown adapter %q: must be one of memory, sqlite, postgres, mysql, mssql, mongodb", cfg.Adapter)
	}
}

// openSessionStore connects Redis, or returns nil when it is not configured
func (cfg *Config) openSessionStore(ctx context.Context) (*redis.SessionStore, error) {
	if cfg.Redis.Addr == "" {
		return nil, nil
	}
	return redis.New(ctx, &redis.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Prefix:   cfg.Redis.Prefix,
	})
}
