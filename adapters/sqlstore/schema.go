package sqlstore

import (
	"fmt"
	"strings"
)

// Schema returns the CREATE statements for a dialect:
// postgres, mysql, sqlite or mssql
func Schema(dialect string) ([]string, error) {
	switch dialect {
	case "postgres":
		return postgresSchema, nil
	case "mysql":
		return mysqlSchema, nil
	case "sqlite":
		return sqliteSchema, nil
	case "mssql":
		return mssqlSchema, nil
	default:
		return nil, fmt.Errorf("unsupported dialect: %s", dialect)
	}
}

// SchemaSQL returns the schema of a dialect as a single script
func SchemaSQL(dialect string) (string, error) {
	statements, err := Schema(dialect)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, stmt := range statements {
		b.WriteString(stmt)
		b.WriteString(";\n\n")
	}
	return b.String(), nil
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS auth_user (
    id TEXT PRIMARY KEY,
    attributes JSONB NOT NULL DEFAULT '{}'
)`,
	`CREATE TABLE IF NOT EXISTS user_key (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL REFERENCES auth_user(id) ON DELETE CASCADE,
    hashed_password TEXT
)`,
	`CREATE INDEX IF NOT EXISTS idx_user_key_user_id ON user_key(user_id)`,
	`CREATE TABLE IF NOT EXISTS user_session (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL REFERENCES auth_user(id) ON DELETE CASCADE,
    active_expires BIGINT NOT NULL,
    idle_expires BIGINT NOT NULL,
    attributes JSONB NOT NULL DEFAULT '{}'
)`,
	`CREATE INDEX IF NOT EXISTS idx_user_session_user_id ON user_session(user_id)`,
}

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS auth_user (
    id VARCHAR(255) PRIMARY KEY,
    attributes TEXT NOT NULL
) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS user_key (
    id VARCHAR(255) PRIMARY KEY,
    user_id VARCHAR(255) NOT NULL,
    hashed_password VARCHAR(255),
    INDEX idx_user_key_user_id (user_id),
    FOREIGN KEY (user_id) REFERENCES auth_user(id) ON DELETE CASCADE
) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS user_session (
    id VARCHAR(127) PRIMARY KEY,
    user_id VARCHAR(255) NOT NULL,
    active_expires BIGINT UNSIGNED NOT NULL,
    idle_expires BIGINT UNSIGNED NOT NULL,
    attributes TEXT NOT NULL,
    INDEX idx_user_session_user_id (user_id),
    FOREIGN KEY (user_id) REFERENCES auth_user(id) ON DELETE CASCADE
) ENGINE=InnoDB`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS auth_user (
    id TEXT PRIMARY KEY,
    attributes TEXT NOT NULL DEFAULT '{}'
)`,
	`CREATE TABLE IF NOT EXISTS user_key (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL REFERENCES auth_user(id) ON DELETE CASCADE,
    hashed_password TEXT
)`,
	`CREATE INDEX IF NOT EXISTS idx_user_key_user_id ON user_key(user_id)`,
	`CREATE TABLE IF NOT EXISTS user_session (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL REFERENCES auth_user(id) ON DELETE CASCADE,
    active_expires INTEGER NOT NULL,
    idle_expires INTEGER NOT NULL,
    attributes TEXT NOT NULL DEFAULT '{}'
)`,
	`CREATE INDEX IF NOT EXISTS idx_user_session_user_id ON user_session(user_id)`,
}

var mssqlSchema = []string{
	`IF OBJECT_ID('auth_user', 'U') IS NULL
CREATE TABLE auth_user (
    id NVARCHAR(255) PRIMARY KEY,
    attributes NVARCHAR(MAX) NOT NULL
)`,
	`IF OBJECT_ID('user_key', 'U') IS NULL
CREATE TABLE user_key (
    id NVARCHAR(255) PRIMARY KEY,
    user_id NVARCHAR(255) NOT NULL REFERENCES auth_user(id) ON DELETE CASCADE,
    hashed_password NVARCHAR(255) NULL,
    INDEX idx_user_key_user_id (user_id)
)`,
	`IF OBJECT_ID('user_session', 'U') IS NULL
CREATE TABLE user_session (
    id NVARCHAR(127) PRIMARY KEY,
    user_id NVARCHAR(255) NOT NULL REFERENCES auth_user(id) ON DELETE CASCADE,
    active_expires BIGINT NOT NULL,
    idle_expires BIGINT NOT NULL,
    attributes NVARCHAR(MAX) NOT NULL,
    INDEX idx_user_session_user_id (user_id)
)`,
}
