// Package local implements a filesystem-backed backend.Backend: blocks and
// archives are stored as plain files under a backup directory, with atomic
// same-device renames guaranteeing a reader never observes a partial write.
package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"preserve/pkg/backend"
	"preserve/pkg/keystore"
	"preserve/pkg/perrors"
)

// Backend stores blocks and archives as files under backupDir, using the
// layout:
//
//	<backupDir>/blocks/<id[0:2]>/<id[2:4]>/<id>
//	<backupDir>/archives/<id>.name
//	<backupDir>/archives/<id>.metadata
//	<backupDir>/temp/<random>
type Backend struct {
	backupDir string
}

// New constructs a local backend rooted at backupDir. The directory need
// not already exist; it and its subdirectories are created on first write.
func New(backupDir string) *Backend {
	return &Backend{backupDir: filepath.Clean(backupDir)}
}

func (b *Backend) blockPath(id keystore.BlockID) string {
	s := id.String()
	return filepath.Join(b.backupDir, "blocks", s[0:2], s[2:4], s)
}

func (b *Backend) archiveNamePath(id keystore.ArchiveID) string {
	return filepath.Join(b.backupDir, "archives", id.String()+".name")
}

func (b *Backend) archiveMetadataPath(id keystore.ArchiveID) string {
	return filepath.Join(b.backupDir, "archives", id.String()+".metadata")
}

// safelyWriteFile writes data to a temp file under <backupDir>/temp, marks
// it world-readonly, verifies the temp dir and destination's parent share a
// device, then renames it into place. The rename is what makes the write
// atomic: a reader sees either the old file (or nothing) or the complete
// new file, never a partial one.
func (b *Backend) safelyWriteFile(destination string, data []byte) error {
	tempDir := filepath.Join(b.backupDir, "temp")
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return fmt.Errorf("%w: create temp dir: %v", perrors.ErrIO, err)
	}

	tempPath := filepath.Join(tempDir, uuid.NewString())
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return fmt.Errorf("%w: write temp file: %v", perrors.ErrIO, err)
	}

	if err := os.Chmod(tempPath, 0o444); err != nil {
		return fmt.Errorf("%w: chmod temp file: %v", perrors.ErrIO, err)
	}

	if err := checkSameDevice(tempPath, filepath.Dir(destination)); err != nil {
		return err
	}

	if err := os.Rename(tempPath, destination); err != nil {
		return fmt.Errorf("%w: rename into place: %v", perrors.ErrIO, err)
	}
	return nil
}

func (b *Backend) BlockExists(_ context.Context, id keystore.BlockID) (bool, error) {
	_, err := os.Stat(b.blockPath(id))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("%w: %v", perrors.ErrIO, err)
}

func (b *Backend) StoreBlock(_ context.Context, id keystore.BlockID, data []byte) error {
	path := b.blockPath(id)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("%w: create block dir: %v", perrors.ErrIO, err)
	}
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return b.safelyWriteFile(path, data)
}

func (b *Backend) FetchBlock(_ context.Context, id keystore.BlockID) ([]byte, error) {
	data, err := os.ReadFile(b.blockPath(id))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", perrors.ErrBlockNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", perrors.ErrIO, err)
	}
	return data, nil
}

// StoreArchive writes the name file only after confirming it does not
// already exist. This check-then-write is intentionally racy under
// concurrent writers to the same backend; it's an accepted limitation
// pending a future refcount database, since multi-writer concurrency
// is out of scope for now.
func (b *Backend) StoreArchive(_ context.Context, id keystore.ArchiveID, encryptedName, encryptedMetadata []byte) error {
	archivesDir := filepath.Join(b.backupDir, "archives")
	if err := os.MkdirAll(archivesDir, 0o755); err != nil {
		return fmt.Errorf("%w: create archives dir: %v", perrors.ErrIO, err)
	}

	namePath := b.archiveNamePath(id)
	if _, err := os.Stat(namePath); err == nil {
		return fmt.Errorf("%w: %s", perrors.ErrArchiveNameConflict, id)
	}

	if err := b.safelyWriteFile(namePath, encryptedName); err != nil {
		return err
	}
	return b.safelyWriteFile(b.archiveMetadataPath(id), encryptedMetadata)
}

func (b *Backend) FetchArchive(_ context.Context, id keystore.ArchiveID) ([]byte, error) {
	data, err := os.ReadFile(b.archiveMetadataPath(id))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", perrors.ErrArchiveNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", perrors.ErrIO, err)
	}
	return data, nil
}

func (b *Backend) ListArchives(_ context.Context) ([]backend.ArchiveListing, error) {
	archivesDir := filepath.Join(b.backupDir, "archives")
	entries, err := os.ReadDir(archivesDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", perrors.ErrIO, err)
	}

	var out []backend.ArchiveListing
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".name") {
			continue
		}
		stem := strings.TrimSuffix(name, ".name")
		id, err := keystore.ParseArchiveID(stem)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", perrors.ErrInvalidArchiveID, stem, err)
		}

		data, err := os.ReadFile(filepath.Join(archivesDir, name))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", perrors.ErrIO, err)
		}
		out = append(out, backend.ArchiveListing{ID: id, EncryptedName: data})
	}
	return out, nil
}

// SweepTemp removes temp-directory entries older than maxAge, cleaning up
// scratch files left behind by a crash between write and rename.
func (b *Backend) SweepTemp(maxAge time.Duration) error {
	tempDir := filepath.Join(b.backupDir, "temp")
	entries, err := os.ReadDir(tempDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: read temp dir: %v", perrors.ErrIO, err)
	}

	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			_ = os.Remove(filepath.Join(tempDir, entry.Name()))
		}
	}
	return nil
}

var _ backend.Backend = (*Backend)(nil)
