// Package restorer reconstructs a directory tree from a stored Archive.
package restorer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"preserve/internal/logger"
	"preserve/pkg/archive"
	"preserve/pkg/backend"
	"preserve/pkg/blockstore"
	"preserve/pkg/downloadcache"
	"preserve/pkg/keystore"
	"preserve/pkg/perrors"
)

// Options configures extraction behavior.
type Options struct {
	// DereferenceHardlinks, if true, writes every hardlinked entry as an
	// independent file instead of re-linking to the first path written
	// for its hardlink_id.
	DereferenceHardlinks bool
}

// Restorer extracts one named archive to a target directory.
type Restorer struct {
	keys       *keystore.KeyStore
	blockStore *blockstore.BlockStore
	backend    backend.Backend
	opts       Options
}

// New constructs a Restorer over the given key material, block store, and
// source backend.
func New(keys *keystore.KeyStore, bs *blockstore.BlockStore, be backend.Backend, opts Options) *Restorer {
	return &Restorer{keys: keys, blockStore: bs, backend: be, opts: opts}
}

// dirRecord remembers a directory's target mtime for the reverse-order
// post-pass, so child writes performed after the directory is created
// don't leave it with a stale timestamp.
type dirRecord struct {
	path      string
	mtime     int64
	mtimeNsec int64
}

// Restore fetches and decrypts the archive named name, then recreates its
// files under targetDir.
func (r *Restorer) Restore(ctx context.Context, name, targetDir string) error {
	a, err := r.fetchArchive(ctx, name)
	if err != nil {
		return err
	}
	return r.extract(ctx, a, targetDir)
}

// DebugDecrypt fetches and decrypts an archive's metadata without
// decompressing or parsing it, for inspecting raw (but authenticated)
// archive bytes.
func (r *Restorer) DebugDecrypt(ctx context.Context, name string) ([]byte, error) {
	id, _, err := r.keys.EncryptArchiveName(name)
	if err != nil {
		return nil, fmt.Errorf("resolve archive id: %w", err)
	}
	encryptedMetadata, err := r.backend.FetchArchive(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetch archive: %w", err)
	}
	return r.keys.DecryptArchiveMetadata(id, encryptedMetadata)
}

func (r *Restorer) fetchArchive(ctx context.Context, name string) (*archive.Archive, error) {
	id, _, err := r.keys.EncryptArchiveName(name)
	if err != nil {
		return nil, fmt.Errorf("resolve archive id: %w", err)
	}

	encryptedMetadata, err := r.backend.FetchArchive(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetch archive: %w", err)
	}

	a, err := archive.Decrypt(r.keys, id, encryptedMetadata)
	if err != nil {
		return nil, fmt.Errorf("decrypt archive: %w", err)
	}
	return a, nil
}

func (r *Restorer) extract(ctx context.Context, a *archive.Archive, targetDir string) error {
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return fmt.Errorf("%w: create target dir: %v", perrors.ErrIO, err)
	}
	cache, err := downloadcache.New(r.blockStore, a.Files, targetDir)
	if err != nil {
		return err
	}
	defer cache.Close()

	hardlinkPaths := make(map[uint64]string)
	var dirs []dirRecord
	const progressIntervalBytes = 64 << 20
	var bytesRestored, bytesSinceProgress uint64

	for _, f := range a.Files {
		path := filepath.Join(targetDir, filepath.FromSlash(f.Path))

		switch {
		case f.Symlink != nil:
			if err := os.Symlink(*f.Symlink, path); err != nil {
				return fmt.Errorf("create symlink %s: %w", f.Path, err)
			}
			if err := setTimes(path, f.Mtime, f.MtimeNsec); err != nil {
				logger.Warn("unable to set symlink mtime", logger.Path(path), logger.Err(err))
			}

		case f.IsDir:
			if err := os.Mkdir(path, 0o700); err != nil && !os.IsExist(err) {
				return fmt.Errorf("create directory %s: %w", f.Path, err)
			}
			if err := os.Chmod(path, os.FileMode(f.Mode&0o7777)); err != nil {
				return fmt.Errorf("chmod directory %s: %w", f.Path, err)
			}
			dirs = append(dirs, dirRecord{path: path, mtime: f.Mtime, mtimeNsec: f.MtimeNsec})

		default:
			if err := r.extractRegularFile(ctx, cache, f, path, hardlinkPaths); err != nil {
				return err
			}
			bytesRestored += f.Size
			bytesSinceProgress += f.Size
			if bytesSinceProgress >= progressIntervalBytes {
				bytesSinceProgress = 0
				logger.Info("restore progress", logger.BytesDone(bytesRestored), logger.BytesDoneHuman(bytesRestored))
			}
			if err := setTimes(path, f.Mtime, f.MtimeNsec); err != nil {
				logger.Warn("unable to set file mtime", logger.Path(path), logger.Err(err))
			}
		}
	}

	for i := len(dirs) - 1; i >= 0; i-- {
		d := dirs[i]
		if err := setTimes(d.path, d.mtime, d.mtimeNsec); err != nil {
			logger.Warn("unable to set directory mtime", logger.Path(d.path), logger.Err(err))
		}
	}

	return nil
}

func (r *Restorer) extractRegularFile(ctx context.Context, cache *downloadcache.Cache, f archive.FileEntry, path string, hardlinkPaths map[uint64]string) error {
	if f.HardlinkID != nil && !r.opts.DereferenceHardlinks {
		if existing, seen := hardlinkPaths[*f.HardlinkID]; seen {
			if err := os.Link(existing, path); err != nil {
				return fmt.Errorf("%w: hardlink %s to %s: %v", perrors.ErrIO, path, existing, err)
			}
			return nil
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", perrors.ErrIO, path, err)
	}

	var totalWritten uint64
	for _, blockID := range f.Blocks {
		plaintext, err := cache.Fetch(ctx, blockID)
		if err != nil {
			file.Close()
			return fmt.Errorf("fetch block for %s: %w", f.Path, err)
		}
		if _, err := file.Write(plaintext); err != nil {
			file.Close()
			return fmt.Errorf("%w: write %s: %v", perrors.ErrIO, path, err)
		}
		totalWritten += uint64(len(plaintext))
	}

	if err := file.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %v", perrors.ErrIO, path, err)
	}

	if totalWritten != f.Size {
		logger.Warn("restored file size does not match recorded size",
			logger.Path(path), logger.Size(totalWritten))
	}

	if err := os.Chmod(path, os.FileMode(f.Mode&0o7777)); err != nil {
		return fmt.Errorf("chmod %s: %w", path, err)
	}

	if f.HardlinkID != nil && !r.opts.DereferenceHardlinks {
		hardlinkPaths[*f.HardlinkID] = path
	}
	return nil
}
