package db

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	// Registers the "sqlite" driver.
	_ "modernc.org/sqlite"
)

// ConnectionConfig describes how the history database is opened.
type ConnectionConfig struct {
	Path            string
	BusyTimeout     time.Duration // lock wait before SQLITE_BUSY
	MaxOpenConns    int           // 1 keeps a single writer
	MaxIdleConns    int
	ConnMaxLifetime time.Duration // 0 reuses connections forever
}

// DefaultConnectionConfig returns a single-writer WAL configuration.
func DefaultConnectionConfig(path string) ConnectionConfig {
	return ConnectionConfig{
		Path:         path,
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}
}

// pragmas are applied by the driver to every connection it opens.
func (c ConnectionConfig) pragmas() []string {
	return []string{
		"journal_mode(WAL)",
		fmt.Sprintf("busy_timeout(%d)", c.BusyTimeout.Milliseconds()),
		"foreign_keys(1)",
	}
}

// dsn renders a file: URI. The path is escaped so '?' and '#' in a file
// name stay part of the path.
func (c ConnectionConfig) dsn() string {
	q := make([]string, 0, 3)
	for _, p := range c.pragmas() {
		q = append(q, "_pragma="+p)
	}
	u := url.URL{
		Scheme:   "file",
		Opaque:   escapeDSNPath(c.Path),
		RawQuery: strings.Join(q, "&"),
	}
	return u.String()
}

func escapeDSNPath(path string) string {
	path = filepath.ToSlash(path)
	parts := strings.Split(path, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}

// NewSQLiteConnection opens the database described by config and checks
// that the journal really switched to WAL.
func NewSQLiteConnection(config ConnectionConfig) (*sql.DB, error) {
	if config.Path == "" {
		return nil, errors.New("db: path is required")
	}

	conn, err := sql.Open("sqlite", config.dsn())
	if err != nil {
		return nil, fmt.Errorf("db: open %s: %w", config.Path, err)
	}
	conn.SetMaxOpenConns(config.MaxOpenConns)
	conn.SetMaxIdleConns(config.MaxIdleConns)
	conn.SetConnMaxLifetime(config.ConnMaxLifetime)

	var mode string
	if err := conn.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		conn.Close()
		return nil, fmt.Errorf("db: open %s: %w", config.Path, err)
	}
	if !strings.EqualFold(mode, "wal") {
		conn.Close()
		return nil, fmt.Errorf("db: %s: journal mode is %q, want wal", config.Path, mode)
	}
	return conn, nil
}

// NewSQLiteConnectionWithDefaults opens path with DefaultConnectionConfig.
func NewSQLiteConnectionWithDefaults(path string) (*sql.DB, error) {
	return NewSQLiteConnection(DefaultConnectionConfig(path))
}
