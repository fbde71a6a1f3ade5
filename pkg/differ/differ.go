// Package differ compares two archives by relative path, reporting added,
// deleted, and changed entries.
package differ

import (
	"context"
	"fmt"

	"preserve/internal/logger"
	"preserve/pkg/archive"
	"preserve/pkg/backend"
	"preserve/pkg/keystore"
)

// Differ fetches and decrypts two named archives and compares them.
type Differ struct {
	keys    *keystore.KeyStore
	backend backend.Backend
}

// New constructs a Differ over the given key material and source backend.
func New(keys *keystore.KeyStore, be backend.Backend) *Differ {
	return &Differ{keys: keys, backend: be}
}

// ChangeKind classifies one path's difference between two archives.
type ChangeKind int

const (
	Added ChangeKind = iota
	Deleted
	Changed
)

func (k ChangeKind) String() string {
	switch k {
	case Added:
		return "Added"
	case Deleted:
		return "Deleted"
	case Changed:
		return "Changed"
	default:
		return "Unknown"
	}
}

// Change is one path's difference between archive A (old) and archive B (new).
type Change struct {
	Path string
	Kind ChangeKind
}

// Diff fetches and decrypts archives nameA and nameB, zeroes hardlink_id on
// both (hardlink-only changes are not reported, since preserve records
// every file's own block list regardless of hardlink grouping), and
// returns every path-level difference between them.
func (d *Differ) Diff(ctx context.Context, nameA, nameB string) ([]Change, error) {
	a, err := d.fetchArchive(ctx, nameA)
	if err != nil {
		return nil, fmt.Errorf("fetch %q: %w", nameA, err)
	}
	b, err := d.fetchArchive(ctx, nameB)
	if err != nil {
		return nil, fmt.Errorf("fetch %q: %w", nameB, err)
	}

	if a.OriginalPath != b.OriginalPath {
		logger.Warn("the two archives' original paths differ",
			logger.Path(a.OriginalPath))
	}

	filesA := byPath(a)
	filesB := byPath(b)

	var changes []Change
	for path := range filesB {
		if _, ok := filesA[path]; !ok {
			changes = append(changes, Change{Path: path, Kind: Added})
		}
	}
	for path := range filesA {
		if _, ok := filesB[path]; !ok {
			changes = append(changes, Change{Path: path, Kind: Deleted})
		}
	}
	for path, entryA := range filesA {
		entryB, ok := filesB[path]
		if !ok {
			continue
		}
		if !entryA.Equal(entryB) {
			changes = append(changes, Change{Path: path, Kind: Changed})
		}
	}

	return changes, nil
}

func (d *Differ) fetchArchive(ctx context.Context, name string) (*archive.Archive, error) {
	id, _, err := d.keys.EncryptArchiveName(name)
	if err != nil {
		return nil, fmt.Errorf("resolve archive id: %w", err)
	}

	encryptedMetadata, err := d.backend.FetchArchive(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetch archive: %w", err)
	}

	a, err := archive.Decrypt(d.keys, id, encryptedMetadata)
	if err != nil {
		return nil, fmt.Errorf("decrypt archive: %w", err)
	}
	return a, nil
}

func byPath(a *archive.Archive) map[string]archive.FileEntry {
	m := make(map[string]archive.FileEntry, len(a.Files))
	for _, f := range a.Files {
		m[f.Path] = f.WithoutHardlinkID()
	}
	return m
}
