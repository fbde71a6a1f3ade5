package restorer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"preserve/pkg/archive"
	"preserve/pkg/backend/local"
	"preserve/pkg/blockstore"
	"preserve/pkg/keystore"
)

func testEnv(t *testing.T) (*keystore.KeyStore, *blockstore.BlockStore, *local.Backend) {
	t.Helper()
	ks, _, err := keystore.Generate()
	require.NoError(t, err)
	be := local.New(t.TempDir())
	bs := blockstore.New(ks, be)
	return ks, bs, be
}

func storeArchive(t *testing.T, ks *keystore.KeyStore, be *local.Backend, a *archive.Archive) {
	t.Helper()
	ctx := context.Background()
	id, encName, encMeta, err := archive.Encrypt(ks, a)
	require.NoError(t, err)
	require.NoError(t, be.StoreArchive(ctx, id, encName, encMeta))
}

func TestRestoreRecreatesFilesAndDirectories(t *testing.T) {
	ks, bs, be := testEnv(t)
	ctx := context.Background()

	id1, err := bs.Put(ctx, []byte("hello "))
	require.NoError(t, err)
	id2, err := bs.Put(ctx, []byte("world"))
	require.NoError(t, err)

	a := &archive.Archive{
		Version:      archive.CurrentVersion,
		Name:         "test-backup",
		OriginalPath: "/src",
		Files: []archive.FileEntry{
			{Path: "docs", IsDir: true, Mode: 0o755},
			{Path: "docs/hello.txt", Mode: 0o644, Size: 11, Blocks: []keystore.BlockID{id1, id2}},
		},
	}
	storeArchive(t, ks, be, a)

	dest := t.TempDir()
	r := New(ks, bs, be, Options{})
	require.NoError(t, r.Restore(ctx, "test-backup", dest))

	data, err := os.ReadFile(filepath.Join(dest, "docs", "hello.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))

	info, err := os.Stat(filepath.Join(dest, "docs"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestRestoreRecreatesSymlink(t *testing.T) {
	ks, bs, be := testEnv(t)
	ctx := context.Background()

	target := "hello.txt"
	a := &archive.Archive{
		Version:      archive.CurrentVersion,
		Name:         "symlink-backup",
		OriginalPath: "/src",
		Files: []archive.FileEntry{
			{Path: "hello.txt", Mode: 0o644, Size: 0, Blocks: nil},
			{Path: "link.txt", Symlink: &target},
		},
	}
	storeArchive(t, ks, be, a)

	dest := t.TempDir()
	r := New(ks, bs, be, Options{})
	require.NoError(t, r.Restore(ctx, "symlink-backup", dest))

	got, err := os.Readlink(filepath.Join(dest, "link.txt"))
	require.NoError(t, err)
	assert.Equal(t, target, got)
}

func TestRestoreRelinksHardlinks(t *testing.T) {
	ks, bs, be := testEnv(t)
	ctx := context.Background()

	id, err := bs.Put(ctx, []byte("shared"))
	require.NoError(t, err)
	hid := uint64(1)

	a := &archive.Archive{
		Version:      archive.CurrentVersion,
		Name:         "hardlink-backup",
		OriginalPath: "/src",
		Files: []archive.FileEntry{
			{Path: "a.txt", Mode: 0o644, Size: 6, Blocks: []keystore.BlockID{id}, HardlinkID: &hid},
			{Path: "b.txt", Mode: 0o644, Size: 6, Blocks: []keystore.BlockID{id}, HardlinkID: &hid},
		},
	}
	storeArchive(t, ks, be, a)

	dest := t.TempDir()
	r := New(ks, bs, be, Options{})
	require.NoError(t, r.Restore(ctx, "hardlink-backup", dest))

	infoA, err := os.Stat(filepath.Join(dest, "a.txt"))
	require.NoError(t, err)
	infoB, err := os.Stat(filepath.Join(dest, "b.txt"))
	require.NoError(t, err)
	assert.True(t, os.SameFile(infoA, infoB))
}

func TestRestoreDereferenceHardlinksWritesIndependentFiles(t *testing.T) {
	ks, bs, be := testEnv(t)
	ctx := context.Background()

	id, err := bs.Put(ctx, []byte("shared"))
	require.NoError(t, err)
	hid := uint64(1)

	a := &archive.Archive{
		Version:      archive.CurrentVersion,
		Name:         "hardlink-deref-backup",
		OriginalPath: "/src",
		Files: []archive.FileEntry{
			{Path: "a.txt", Mode: 0o644, Size: 6, Blocks: []keystore.BlockID{id}, HardlinkID: &hid},
			{Path: "b.txt", Mode: 0o644, Size: 6, Blocks: []keystore.BlockID{id}, HardlinkID: &hid},
		},
	}
	storeArchive(t, ks, be, a)

	dest := t.TempDir()
	r := New(ks, bs, be, Options{DereferenceHardlinks: true})
	require.NoError(t, r.Restore(ctx, "hardlink-deref-backup", dest))

	infoA, err := os.Stat(filepath.Join(dest, "a.txt"))
	require.NoError(t, err)
	infoB, err := os.Stat(filepath.Join(dest, "b.txt"))
	require.NoError(t, err)
	assert.False(t, os.SameFile(infoA, infoB))
}

func TestRestoreRefusesToOverwriteExistingFile(t *testing.T) {
	ks, bs, be := testEnv(t)
	ctx := context.Background()

	id, err := bs.Put(ctx, []byte("data"))
	require.NoError(t, err)

	a := &archive.Archive{
		Version:      archive.CurrentVersion,
		Name:         "overwrite-backup",
		OriginalPath: "/src",
		Files: []archive.FileEntry{
			{Path: "a.txt", Mode: 0o644, Size: 4, Blocks: []keystore.BlockID{id}},
		},
	}
	storeArchive(t, ks, be, a)

	dest := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dest, "a.txt"), []byte("preexisting"), 0o644))

	r := New(ks, bs, be, Options{})
	err = r.Restore(ctx, "overwrite-backup", dest)
	require.Error(t, err)
}

func TestDebugDecryptReturnsRawMetadata(t *testing.T) {
	ks, bs, be := testEnv(t)
	_ = bs
	ctx := context.Background()

	a := &archive.Archive{
		Version:      archive.CurrentVersion,
		Name:         "debug-backup",
		OriginalPath: "/src",
		Files:        nil,
	}
	storeArchive(t, ks, be, a)

	r := New(ks, bs, be, Options{})
	data, err := r.DebugDecrypt(ctx, "debug-backup")
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}
