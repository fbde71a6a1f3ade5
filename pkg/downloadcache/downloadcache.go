// Package downloadcache implements the per-restore block cache: a block
// referenced by several files in the same archive is fetched and decrypted
// from the backend once, with later references served from a scratch
// directory on disk.
package downloadcache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"preserve/pkg/archive"
	"preserve/pkg/blockstore"
	"preserve/pkg/keystore"
	"preserve/pkg/perrors"
)

type entry struct {
	refcount   uint64
	downloaded bool
}

// Cache tracks, for the duration of one restore run, how many times each
// referenced block still needs to be read and whether it has already been
// fetched from the backend.
type Cache struct {
	mu         sync.Mutex
	blockStore *blockstore.BlockStore
	scratchDir string
	entries    map[keystore.BlockID]*entry
}

// New builds refcounts for every block referenced by files and creates a
// scratch directory under parentDir to hold blocks pending later reuse.
func New(blockStore *blockstore.BlockStore, files []archive.FileEntry, parentDir string) (*Cache, error) {
	scratchDir, err := os.MkdirTemp(parentDir, "preserve-restore-")
	if err != nil {
		return nil, fmt.Errorf("%w: create download cache scratch dir: %v", perrors.ErrIO, err)
	}

	entries := make(map[keystore.BlockID]*entry)
	for _, f := range files {
		for _, id := range f.Blocks {
			e, ok := entries[id]
			if !ok {
				e = &entry{}
				entries[id] = e
			}
			e.refcount++
		}
	}

	return &Cache{blockStore: blockStore, scratchDir: scratchDir, entries: entries}, nil
}

// Close removes the scratch directory and anything still in it (blocks
// whose last reference was never reached, which should not happen on a
// successful restore but is possible after a cancelled one).
func (c *Cache) Close() error {
	return os.RemoveAll(c.scratchDir)
}

func (c *Cache) scratchPath(id keystore.BlockID) string {
	return filepath.Join(c.scratchDir, id.String())
}

// Fetch returns the plaintext of the block id, downloading and decrypting
// it from the backend at most once across the whole restore run regardless
// of how many files reference it.
func (c *Cache) Fetch(ctx context.Context, id keystore.BlockID) ([]byte, error) {
	c.mu.Lock()
	e, ok := c.entries[id]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("cache_fetch: block %s was not registered in this restore run", id)
	}

	c.mu.Lock()
	downloaded := e.downloaded
	c.mu.Unlock()

	if downloaded {
		plaintext, err := os.ReadFile(c.scratchPath(id))
		if err != nil {
			return nil, fmt.Errorf("%w: read cached block %s: %v", perrors.ErrIO, id, err)
		}

		c.mu.Lock()
		e.refcount--
		remaining := e.refcount
		c.mu.Unlock()

		if remaining == 0 {
			_ = os.Remove(c.scratchPath(id))
		}
		return plaintext, nil
	}

	plaintext, err := c.blockStore.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	e.refcount--
	e.downloaded = true
	remaining := e.refcount
	c.mu.Unlock()

	if remaining > 0 {
		if err := os.WriteFile(c.scratchPath(id), plaintext, 0o600); err != nil {
			return nil, fmt.Errorf("%w: write cached block %s: %v", perrors.ErrIO, id, err)
		}
	}
	return plaintext, nil
}
