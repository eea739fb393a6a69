// Package store keeps a library of named bytecode scripts in SQLite.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/chazu/cleo/bundle"
	"github.com/chazu/cleo/vm"
	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"
)

// ErrNotFound indicates the requested script doesn't exist.
var ErrNotFound = errors.New("script not found")

// ErrCorrupt indicates a stored script no longer matches its hash.
var ErrCorrupt = errors.New("stored script is corrupt")

// logger is looked up on use so that a backend configured after package
// initialization still applies.
func logger() commonlog.Logger {
	return commonlog.GetLogger("cleo.store")
}

// schemaVersion is the user_version the migrations bring a database to.
const schemaVersion = 1

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS scripts (
		name    TEXT PRIMARY KEY,
		code    BLOB NOT NULL,
		hash    TEXT NOT NULL,
		updated INTEGER NOT NULL
	)`,
}

// Record is a stored script.
type Record struct {
	Name    string
	Code    []byte
	Hash    string // hex SHA-256 of Code
	Updated time.Time
}

// Store is a script library backed by a SQLite database.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens or creates the database at path and migrates its schema.
// ":memory:" gives a private in-memory library.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// An in-memory database lives and dies with its connection.
	db.SetMaxOpenConns(1)

	// Set busy timeout for concurrent access
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	logger().Debugf("opened script store %s", path)
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	if version > schemaVersion {
		return fmt.Errorf("database schema version %d is newer than %d", version, schemaVersion)
	}
	for i := version; i < len(migrations); i++ {
		if _, err := s.db.ExecContext(ctx, migrations[i]); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return fmt.Errorf("setting schema version: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Put inserts or replaces a script.
func (s *Store) Put(ctx context.Context, name string, code []byte) error {
	if name == "" {
		return fmt.Errorf("saving script: empty name")
	}
	sum := sha256.Sum256(code)
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO scripts (name, code, hash, updated) VALUES (?, ?, ?, ?)",
		name, code, hex.EncodeToString(sum[:]), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("saving script %q: %w", name, err)
	}
	return nil
}

// Get retrieves a script and checks it against its stored hash.
func (s *Store) Get(ctx context.Context, name string) (*Record, error) {
	var (
		r       Record
		updated int64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT name, code, hash, updated FROM scripts WHERE name = ?", name,
	).Scan(&r.Name, &r.Code, &r.Hash, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
		}
		return nil, fmt.Errorf("querying script %q: %w", name, err)
	}
	r.Updated = time.Unix(updated, 0)

	sum := sha256.Sum256(r.Code)
	if hex.EncodeToString(sum[:]) != r.Hash {
		return nil, fmt.Errorf("%w: %q", ErrCorrupt, name)
	}
	return &r, nil
}

// List returns every script name in alphabetical order.
func (s *Store) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM scripts ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("listing scripts: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("listing scripts: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Delete removes a script.
func (s *Store) Delete(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM scripts WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("deleting script %q: %w", name, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return nil
}

// LoadInto appends the named scripts to v, or every stored script if no
// names are given.
func (s *Store) LoadInto(ctx context.Context, v *vm.VM, names ...string) error {
	if len(names) == 0 {
		all, err := s.List(ctx)
		if err != nil {
			return err
		}
		names = all
	}
	for _, name := range names {
		r, err := s.Get(ctx, name)
		if err != nil {
			return err
		}
		v.AppendScript(r.Name, r.Code)
	}
	logger().Infof("loaded %d scripts from %s", len(names), s.path)
	return nil
}

// Import stores every script of a bundle in one transaction.
func (s *Store) Import(ctx context.Context, b *bundle.Bundle) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning import: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	for _, e := range b.Scripts {
		_, err := tx.ExecContext(ctx,
			"INSERT OR REPLACE INTO scripts (name, code, hash, updated) VALUES (?, ?, ?, ?)",
			e.Name, e.Code, hex.EncodeToString(e.Hash[:]), now,
		)
		if err != nil {
			return fmt.Errorf("importing script %q: %w", e.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing import: %w", err)
	}
	logger().Infof("imported %d scripts from bundle %q", len(b.Scripts), b.Name)
	return nil
}

// Export builds a bundle from the named scripts, or every stored script if
// no names are given.
func (s *Store) Export(ctx context.Context, name string, names ...string) (*bundle.Bundle, error) {
	if len(names) == 0 {
		all, err := s.List(ctx)
		if err != nil {
			return nil, err
		}
		names = all
	}
	b := bundle.New(name)
	for _, n := range names {
		r, err := s.Get(ctx, n)
		if err != nil {
			return nil, err
		}
		if err := b.Add(r.Name, r.Code); err != nil {
			return nil, err
		}
	}
	return b, nil
}
