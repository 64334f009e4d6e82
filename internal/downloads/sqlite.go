package downloads

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/git-pkgs/feed/internal/core"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const busyTimeoutMS = 5000

// SQLite is a download counter persisted in a single SQLite database.
// All statements go through one connection, so increments are serialized
// by the database and never lose updates.
type SQLite struct {
	conn *sql.DB
}

var _ core.DownloadCounter = (*SQLite)(nil)

// OpenSQLite opens (creating if needed) the counter database at path and
// applies pending migrations. ":memory:" opens a private in-memory database.
func OpenSQLite(path string) (*SQLite, error) {
	if path == "" {
		return nil, &core.ValidationError{Field: "downloads path", Value: path, Reason: "empty"}
	}

	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("creating downloads directory: %w", err)
		}
		dsn = "file:" + path
	}
	dsn += fmt.Sprintf("?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", busyTimeoutMS)

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening downloads database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("connecting to downloads database: %w", err)
	}
	if err := runMigrations(conn); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return &SQLite{conn: conn}, nil
}

func runMigrations(conn *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(conn, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("preparing migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("preparing migrations: %w", err)
	}
	// m.Close would close conn as well, so only the source is released.
	defer func() { _ = src.Close() }()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

// Increment adds one download and returns the new count.
func (s *SQLite) Increment(ctx context.Context, id core.Identity) (int64, error) {
	pkg, ver := key(id)
	var count int64
	err := s.conn.QueryRowContext(ctx, `
		INSERT INTO downloads (package_id, version, count, updated_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT (package_id, version)
		DO UPDATE SET count = count + 1, updated_at = excluded.updated_at
		RETURNING count`,
		pkg, ver, time.Now().Unix(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("incrementing download count: %w", err)
	}
	return count, nil
}

// Get returns the current count, zero for identities never downloaded.
func (s *SQLite) Get(ctx context.Context, id core.Identity) (int64, error) {
	pkg, ver := key(id)
	var count int64
	err := s.conn.QueryRowContext(ctx,
		`SELECT count FROM downloads WHERE package_id = ? AND version = ?`,
		pkg, ver,
	).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading download count: %w", err)
	}
	return count, nil
}

// Snapshot returns every count keyed by core.Identity.Key.
func (s *SQLite) Snapshot(ctx context.Context) (map[string]int64, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT package_id, version, count FROM downloads`)
	if err != nil {
		return nil, fmt.Errorf("reading download counts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]int64)
	for rows.Next() {
		var pkg, ver string
		var count int64
		if err := rows.Scan(&pkg, &ver, &count); err != nil {
			return nil, fmt.Errorf("scanning download count: %w", err)
		}
		out[core.Identity{ID: pkg, Version: ver}.Key()] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading download counts: %w", err)
	}
	return out, nil
}

// Purge removes the counts of every version of a package.
func (s *SQLite) Purge(ctx context.Context, packageID string) error {
	_, err := s.conn.ExecContext(ctx, `DELETE FROM downloads WHERE package_id = ?`, strings.ToLower(packageID))
	if err != nil {
		return fmt.Errorf("purging download counts: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.conn.Close()
}
