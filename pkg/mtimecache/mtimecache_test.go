package mtimecache

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"preserve/pkg/keystore"
)

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "cache.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestLookupMissReturnsNotFound(t *testing.T) {
	c := openTestCache(t)

	_, found, err := c.Lookup("/home/alice/file.txt", 100, 0, 4096)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStoreThenLookupHit(t *testing.T) {
	c := openTestCache(t)
	blocks := []keystore.BlockID{{0x01}, {0x02}}

	require.NoError(t, c.Store("/home/alice/file.txt", 100, 5, 4096, blocks))

	got, found, err := c.Lookup("/home/alice/file.txt", 100, 5, 4096)
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, got, 2)
	assert.True(t, got[0].Equal(blocks[0]))
	assert.True(t, got[1].Equal(blocks[1]))
}

func TestLookupMissesOnMtimeChange(t *testing.T) {
	c := openTestCache(t)
	blocks := []keystore.BlockID{{0x01}}

	require.NoError(t, c.Store("/home/alice/file.txt", 100, 0, 10, blocks))

	_, found, err := c.Lookup("/home/alice/file.txt", 101, 0, 10)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestLookupMissesOnSizeChange(t *testing.T) {
	c := openTestCache(t)
	blocks := []keystore.BlockID{{0x01}}

	require.NoError(t, c.Store("/home/alice/file.txt", 100, 0, 10, blocks))

	_, found, err := c.Lookup("/home/alice/file.txt", 100, 0, 11)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStoreReplacesExistingEntryForPath(t *testing.T) {
	c := openTestCache(t)
	first := []keystore.BlockID{{0xaa}}
	second := []keystore.BlockID{{0xbb}, {0xcc}}

	require.NoError(t, c.Store("/home/alice/file.txt", 100, 0, 10, first))
	require.NoError(t, c.Store("/home/alice/file.txt", 200, 0, 20, second))

	_, found, err := c.Lookup("/home/alice/file.txt", 100, 0, 10)
	require.NoError(t, err)
	assert.False(t, found, "the stale entry must no longer be findable")

	got, found, err := c.Lookup("/home/alice/file.txt", 200, 0, 20)
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, got, 2)
}
