package differ

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"preserve/pkg/archive"
	"preserve/pkg/backend/local"
	"preserve/pkg/keystore"
)

func testEnv(t *testing.T) (*keystore.KeyStore, *local.Backend) {
	t.Helper()
	ks, _, err := keystore.Generate()
	require.NoError(t, err)
	be := local.New(t.TempDir())
	return ks, be
}

func storeArchive(t *testing.T, ks *keystore.KeyStore, be *local.Backend, a *archive.Archive) {
	t.Helper()
	ctx := context.Background()
	id, encName, encMeta, err := archive.Encrypt(ks, a)
	require.NoError(t, err)
	require.NoError(t, be.StoreArchive(ctx, id, encName, encMeta))
}

func sortedPaths(changes []Change, kind ChangeKind) []string {
	var paths []string
	for _, c := range changes {
		if c.Kind == kind {
			paths = append(paths, c.Path)
		}
	}
	sort.Strings(paths)
	return paths
}

func TestDiffDetectsAddedDeletedAndChanged(t *testing.T) {
	ks, be := testEnv(t)

	archiveA := &archive.Archive{
		Version:      archive.CurrentVersion,
		Name:         "snapshot-a",
		OriginalPath: "/src",
		Files: []archive.FileEntry{
			{Path: "unchanged.txt", Mode: 0o644, Size: 3},
			{Path: "removed.txt", Mode: 0o644, Size: 3},
			{Path: "modified.txt", Mode: 0o644, Size: 3},
		},
	}
	archiveB := &archive.Archive{
		Version:      archive.CurrentVersion,
		Name:         "snapshot-b",
		OriginalPath: "/src",
		Files: []archive.FileEntry{
			{Path: "unchanged.txt", Mode: 0o644, Size: 3},
			{Path: "modified.txt", Mode: 0o600, Size: 3},
			{Path: "added.txt", Mode: 0o644, Size: 3},
		},
	}
	storeArchive(t, ks, be, archiveA)
	storeArchive(t, ks, be, archiveB)

	d := New(ks, be)
	changes, err := d.Diff(context.Background(), "snapshot-a", "snapshot-b")
	require.NoError(t, err)

	assert.Equal(t, []string{"added.txt"}, sortedPaths(changes, Added))
	assert.Equal(t, []string{"removed.txt"}, sortedPaths(changes, Deleted))
	assert.Equal(t, []string{"modified.txt"}, sortedPaths(changes, Changed))
}

func TestDiffIgnoresHardlinkIDChanges(t *testing.T) {
	ks, be := testEnv(t)

	idA := uint64(1)
	idB := uint64(2)
	archiveA := &archive.Archive{
		Version: archive.CurrentVersion, Name: "hl-a", OriginalPath: "/src",
		Files: []archive.FileEntry{{Path: "a.txt", Mode: 0o644, Size: 3, HardlinkID: &idA}},
	}
	archiveB := &archive.Archive{
		Version: archive.CurrentVersion, Name: "hl-b", OriginalPath: "/src",
		Files: []archive.FileEntry{{Path: "a.txt", Mode: 0o644, Size: 3, HardlinkID: &idB}},
	}
	storeArchive(t, ks, be, archiveA)
	storeArchive(t, ks, be, archiveB)

	d := New(ks, be)
	changes, err := d.Diff(context.Background(), "hl-a", "hl-b")
	require.NoError(t, err)
	assert.Empty(t, changes)
}

func TestDiffIdenticalArchivesProducesNoChanges(t *testing.T) {
	ks, be := testEnv(t)

	a := &archive.Archive{
		Version: archive.CurrentVersion, Name: "same-a", OriginalPath: "/src",
		Files: []archive.FileEntry{{Path: "x.txt", Mode: 0o644, Size: 1}},
	}
	b := &archive.Archive{
		Version: archive.CurrentVersion, Name: "same-b", OriginalPath: "/src",
		Files: []archive.FileEntry{{Path: "x.txt", Mode: 0o644, Size: 1}},
	}
	storeArchive(t, ks, be, a)
	storeArchive(t, ks, be, b)

	d := New(ks, be)
	changes, err := d.Diff(context.Background(), "same-a", "same-b")
	require.NoError(t, err)
	assert.Empty(t, changes)
}
