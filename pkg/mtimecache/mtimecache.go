// Package mtimecache records, per canonical file path, the mtime/size under
// which a file was last chunked and the resulting block list, so a later
// create run can skip re-reading and re-chunking a file that has not
// changed. Entries must be keyed by the canonicalized absolute path, not an
// archive-relative one: the database persists across runs against
// different source roots, and a relative-path key would let two unrelated
// files at the same relative position collide.
package mtimecache

import (
	"database/sql"
	"fmt"

	"github.com/goccy/go-json"
	_ "modernc.org/sqlite"

	"preserve/pkg/keystore"
	"preserve/pkg/perrors"
)

// Cache wraps a SQLite-backed mtime_cache table. It is safe for concurrent
// use; database/sql pools connections internally.
type Cache struct {
	db *sql.DB
}

// Open opens (creating if necessary) the mtime cache database at path and
// ensures its schema exists.
func Open(path string) (*Cache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open mtime cache: %v", perrors.ErrSqlite, err)
	}

	c := &Cache{db: db}
	if err := c.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Cache) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS mtime_cache (
			path TEXT NOT NULL,
			mtime INTEGER NOT NULL,
			mtime_nsec INTEGER NOT NULL,
			size INTEGER NOT NULL,
			blocks TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_mtime_cache_path_mtime_size
			ON mtime_cache (path, mtime, mtime_nsec, size)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_mtime_cache_path
			ON mtime_cache (path)`,
	}
	for _, stmt := range stmts {
		if _, err := c.db.Exec(stmt); err != nil {
			return fmt.Errorf("%w: migrate: %v", perrors.ErrSqlite, err)
		}
	}
	return nil
}

// Close closes the underlying database handle.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Lookup returns the cached block list for path (the canonical path) if an
// entry exists whose mtime, mtime_nsec, and size all match exactly; found
// is false otherwise.
func (c *Cache) Lookup(path string, mtime, mtimeNsec int64, size uint64) (blocks []keystore.BlockID, found bool, err error) {
	row := c.db.QueryRow(
		`SELECT blocks FROM mtime_cache WHERE path = ? AND mtime = ? AND mtime_nsec = ? AND size = ?`,
		path, mtime, mtimeNsec, int64(size),
	)

	var encoded string
	if err := row.Scan(&encoded); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%w: lookup: %v", perrors.ErrSqlite, err)
	}

	blocks, err = decodeBlocks(encoded)
	if err != nil {
		return nil, false, err
	}
	return blocks, true, nil
}

// Store upserts the cache entry for path (the canonical path), replacing
// any prior entry for the same path regardless of its mtime/size.
func (c *Cache) Store(path string, mtime, mtimeNsec int64, size uint64, blocks []keystore.BlockID) error {
	encoded, err := encodeBlocks(blocks)
	if err != nil {
		return err
	}

	_, err = c.db.Exec(
		`INSERT OR REPLACE INTO mtime_cache (path, mtime, mtime_nsec, size, blocks) VALUES (?,?,?,?,?)`,
		path, mtime, mtimeNsec, int64(size), encoded,
	)
	if err != nil {
		return fmt.Errorf("%w: store: %v", perrors.ErrSqlite, err)
	}
	return nil
}

func encodeBlocks(blocks []keystore.BlockID) (string, error) {
	data, err := json.Marshal(blocks)
	if err != nil {
		return "", fmt.Errorf("%w: encode block list: %v", perrors.ErrSerde, err)
	}
	return string(data), nil
}

func decodeBlocks(encoded string) ([]keystore.BlockID, error) {
	var blocks []keystore.BlockID
	if err := json.Unmarshal([]byte(encoded), &blocks); err != nil {
		return nil, fmt.Errorf("%w: decode block list: %v", perrors.ErrSqlite, err)
	}
	return blocks, nil
}
