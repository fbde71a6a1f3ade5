package builder

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"preserve/pkg/backend/local"
	"preserve/pkg/blockstore"
	"preserve/pkg/keystore"
)

func testBuilder(t *testing.T, opts Options) (*Builder, *local.Backend) {
	t.Helper()
	ks, _, err := keystore.Generate()
	require.NoError(t, err)
	be := local.New(t.TempDir())
	bs := blockstore.New(ks, be)
	return New(ks, bs, be, nil, opts), be
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestCreateArchivesFlatDirectory(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "a.txt"), "hello")
	writeFile(t, filepath.Join(src, "b.txt"), "world")

	b, be := testBuilder(t, Options{})
	ctx := context.Background()

	id, err := b.Create(ctx, src, "flat-backup")
	require.NoError(t, err)

	listing, err := be.ListArchives(ctx)
	require.NoError(t, err)
	require.Len(t, listing, 1)
	assert.Equal(t, id, listing[0].ID)
}

func TestCreatePreservesDirectoryOrdering(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "sub", "nested"), 0o755))
	writeFile(t, filepath.Join(src, "sub", "nested", "leaf.txt"), "leaf")

	b, _ := testBuilder(t, Options{})
	a, err := b.build(context.Background(), src, "nested-backup")
	require.NoError(t, err)

	indexOf := func(path string) int {
		for i, f := range a.Files {
			if f.Path == path {
				return i
			}
		}
		return -1
	}

	sub := indexOf("sub")
	nested := indexOf("sub/nested")
	leaf := indexOf("sub/nested/leaf.txt")
	require.True(t, sub >= 0 && nested >= 0 && leaf >= 0)
	assert.Less(t, sub, nested)
	assert.Less(t, nested, leaf)
}

func TestCreateDeduplicatesIdenticalFileContent(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "one.txt"), "same bytes")
	writeFile(t, filepath.Join(src, "two.txt"), "same bytes")

	b, _ := testBuilder(t, Options{})
	a, err := b.build(context.Background(), src, "dup-backup")
	require.NoError(t, err)

	var blocksOne, blocksTwo []keystore.BlockID
	for _, f := range a.Files {
		switch f.Path {
		case "one.txt":
			blocksOne = f.Blocks
		case "two.txt":
			blocksTwo = f.Blocks
		}
	}
	require.Len(t, blocksOne, 1)
	require.Len(t, blocksTwo, 1)
	assert.Equal(t, blocksOne[0], blocksTwo[0])
}

func TestCreatePreservesSymlinkByDefault(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "target.txt"), "data")
	require.NoError(t, os.Symlink("target.txt", filepath.Join(src, "link.txt")))

	b, _ := testBuilder(t, Options{})
	a, err := b.build(context.Background(), src, "symlink-backup")
	require.NoError(t, err)

	var found bool
	for _, f := range a.Files {
		if f.Path == "link.txt" {
			found = true
			require.NotNil(t, f.Symlink)
			assert.Equal(t, "target.txt", *f.Symlink)
			assert.Zero(t, f.Size)
			assert.Empty(t, f.Blocks)
		}
	}
	assert.True(t, found)
}

func TestCreateDereferencesSymlinkWhenConfigured(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "target.txt"), "data")
	require.NoError(t, os.Symlink("target.txt", filepath.Join(src, "link.txt")))

	b, _ := testBuilder(t, Options{DereferenceSymlinks: true})
	a, err := b.build(context.Background(), src, "deref-backup")
	require.NoError(t, err)

	for _, f := range a.Files {
		if f.Path == "link.txt" {
			assert.Nil(t, f.Symlink)
			assert.EqualValues(t, len("data"), f.Size)
		}
	}
}

func TestCreateKeepsDanglingSymlink(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.Symlink("does-not-exist.txt", filepath.Join(src, "broken.txt")))

	b, _ := testBuilder(t, Options{})
	a, err := b.build(context.Background(), src, "dangling-backup")
	require.NoError(t, err)

	require.Len(t, a.Files, 1)
	assert.Equal(t, "broken.txt", a.Files[0].Path)
	assert.Equal(t, "does-not-exist.txt", *a.Files[0].Symlink)
}

func TestCreateSkipsExcludedPath(t *testing.T) {
	src := t.TempDir()
	excluded := filepath.Join(src, "excluded")
	require.NoError(t, os.MkdirAll(excluded, 0o755))
	writeFile(t, filepath.Join(excluded, "secret.txt"), "nope")
	writeFile(t, filepath.Join(src, "keep.txt"), "yes")

	b, _ := testBuilder(t, Options{ExcludePaths: []string{excluded}})
	a, err := b.build(context.Background(), src, "exclude-backup")
	require.NoError(t, err)

	for _, f := range a.Files {
		assert.NotContains(t, f.Path, "excluded")
	}
}

func TestCreateRejectsLongName(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "a.txt"), "x")

	b, _ := testBuilder(t, Options{})
	longName := make([]byte, 200)
	for i := range longName {
		longName[i] = 'a'
	}

	_, err := b.Create(context.Background(), src, string(longName))
	require.Error(t, err)
}
