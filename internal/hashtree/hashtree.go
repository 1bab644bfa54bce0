// Package hashtree is the hash-tree database (spec.md's HashTreeStore
// collaborator): a SQLite-backed table of per-block TTH leaves, keyed by
// file root, that the verifier (package dlqueue) consults to check a
// just-finalized block and that the share index fills with the leaves of
// each file it hashes. Schema management is adapted from the teacher's
// migration manager, trimmed to a single SQLite backend and embedded
// migration set.
package hashtree

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/lburgey/ncdc-core/internal/tth"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is a SQLite-backed hash-tree database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path and brings
// its schema up to date.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("hashtree: open: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: one writer at a time

	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func migrateUp(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("hashtree: sqlite driver: %w", err)
	}
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("hashtree: migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("hashtree: migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("hashtree: migrate up: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Leaf implements dlqueue.HashTreeStore: it returns the expected TTH leaf
// for blockIndex of root, if known.
func (s *Store) Leaf(root tth.Leaf, blockIndex int64) (tth.Leaf, bool, error) {
	var leafStr string
	err := s.db.QueryRow(
		`SELECT leaf FROM tth_leaves WHERE root = ? AND block_index = ?`,
		root.String(), blockIndex,
	).Scan(&leafStr)
	if err == sql.ErrNoRows {
		return tth.Leaf{}, false, nil
	}
	if err != nil {
		return tth.Leaf{}, false, fmt.Errorf("hashtree: query leaf: %w", err)
	}
	leaf, err := tth.ParseLeaf(leafStr)
	if err != nil {
		return tth.Leaf{}, false, fmt.Errorf("hashtree: parse stored leaf: %w", err)
	}
	return leaf, true, nil
}

// Has reports whether a full hash tree is already stored for root.
func (s *Store) Has(root tth.Leaf) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(1) FROM tth_roots WHERE root = ?`, root.String()).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("hashtree: query root: %w", err)
	}
	return n > 0, nil
}

// PutTree atomically replaces the stored hash tree for root with leaves
// (indexed by block), recording size and blockSize for bookkeeping.
func (s *Store) PutTree(ctx context.Context, root tth.Leaf, size, blockSize int64, fetchedAtUnix int64, leaves []tth.Leaf) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("hashtree: begin tx: %w", err)
	}
	defer tx.Rollback()

	rootStr := root.String()
	if _, err := tx.ExecContext(ctx, `DELETE FROM tth_leaves WHERE root = ?`, rootStr); err != nil {
		return fmt.Errorf("hashtree: clear old leaves: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO tth_leaves (root, block_index, leaf) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("hashtree: prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, leaf := range leaves {
		if _, err := stmt.ExecContext(ctx, rootStr, int64(i), leaf.String()); err != nil {
			return fmt.Errorf("hashtree: insert leaf %d: %w", i, err)
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO tth_roots (root, size, block_size, fetched_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(root) DO UPDATE SET size = excluded.size, block_size = excluded.block_size, fetched_at = excluded.fetched_at`,
		rootStr, size, blockSize, fetchedAtUnix)
	if err != nil {
		return fmt.Errorf("hashtree: upsert root: %w", err)
	}

	return tx.Commit()
}
