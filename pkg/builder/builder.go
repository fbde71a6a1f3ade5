// Package builder turns a directory tree into an encrypted Archive,
// uploading new blocks to a backend as it walks.
package builder

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"preserve/internal/bufpool"
	"preserve/internal/logger"
	"preserve/pkg/archive"
	"preserve/pkg/backend"
	"preserve/pkg/blockstore"
	"preserve/pkg/keystore"
	"preserve/pkg/mtimecache"
)

// maxReadRetries is how many times a file is re-read from the top after a
// concurrent modification is detected, before it is dropped with a warning.
const maxReadRetries = 2

// Options configures ArchiveBuilder traversal and read behavior.
type Options struct {
	// DereferenceSymlinks, if true, follows a symlink and stores the
	// target's own metadata; if false, stores a symlink entry carrying
	// the link's literal target string.
	DereferenceSymlinks bool

	// OneFileSystem, if true, skips entries on a device other than the
	// root directory's device.
	OneFileSystem bool

	// ExcludePaths are absolute directory paths skipped during the walk.
	ExcludePaths []string

	// Parallelism bounds the number of chunks uploaded concurrently
	// while streaming a single file's content. A value <= 0 defaults to 1.
	Parallelism int

	// ProgressIntervalBytes is how many bytes of file content read since
	// the last progress line trigger the next one. A value <= 0 disables
	// progress logging.
	ProgressIntervalBytes uint64

	// CachePath is the mtime-cache database file's path. If set, the
	// entry it resolves to (by device+inode, following the default
	// ignore set's lead) is skipped during the walk so a backup never
	// archives its own cache database.
	CachePath string
}

// Builder assembles one Archive from a source directory, uploads its
// blocks, and stores the finished, encrypted archive.
type Builder struct {
	keys       *keystore.KeyStore
	blockStore *blockstore.BlockStore
	backend    backend.Backend
	cache      *mtimecache.Cache
	opts       Options

	hardlinkMap    map[[2]uint64]uint64
	nextHardlinkID uint64

	bytesRead     uint64
	bytesSinceLog uint64

	cacheDev, cacheInode uint64
	cacheIgnoreSet       bool
}

// New constructs a Builder over the given key material, block store,
// destination backend, and mtime cache. cache may be nil, in which case
// every file is read fresh.
func New(keys *keystore.KeyStore, bs *blockstore.BlockStore, be backend.Backend, cache *mtimecache.Cache, opts Options) *Builder {
	if opts.Parallelism <= 0 {
		opts.Parallelism = 1
	}
	b := &Builder{
		keys:        keys,
		blockStore:  bs,
		backend:     be,
		cache:       cache,
		opts:        opts,
		hardlinkMap: make(map[[2]uint64]uint64),
	}
	if opts.CachePath != "" {
		if info, err := os.Stat(opts.CachePath); err == nil {
			if dev, inode, _, ok := inodeInfo(info); ok {
				b.cacheDev, b.cacheInode, b.cacheIgnoreSet = dev, inode, true
			}
		}
	}
	return b
}

// Create walks sourcePath, reads every regular file's content, uploading
// new blocks as it goes, then encrypts and stores the resulting Archive
// under name. It returns the archive's public id.
func (b *Builder) Create(ctx context.Context, sourcePath, name string) (keystore.ArchiveID, error) {
	a, err := b.build(ctx, sourcePath, name)
	if err != nil {
		return keystore.ArchiveID{}, err
	}

	id, encryptedName, encryptedMetadata, err := archive.Encrypt(b.keys, a)
	if err != nil {
		return keystore.ArchiveID{}, fmt.Errorf("encrypt archive: %w", err)
	}

	if err := b.backend.StoreArchive(ctx, id, encryptedName, encryptedMetadata); err != nil {
		return keystore.ArchiveID{}, fmt.Errorf("store archive: %w", err)
	}
	return id, nil
}

// build walks sourcePath and reads every regular file's content, returning
// the finished, not-yet-stored Archive.
func (b *Builder) build(ctx context.Context, sourcePath, name string) (*archive.Archive, error) {
	rootAbs, err := filepath.Abs(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("resolve source path: %w", err)
	}
	rootAbs, err = filepath.EvalSymlinks(rootAbs)
	if err != nil {
		return nil, fmt.Errorf("canonicalize source path: %w", err)
	}

	walked, _ := b.walk(rootAbs)

	files := make([]archive.FileEntry, 0, len(walked))
	included := make(map[string]bool, len(walked))
	hardlinkCounts := make(map[uint64]int) // hardlink_id -> entries included
	hardlinkExpected := make(map[uint64]uint64)
	var danglingCandidates []archive.FileEntry // symlink entries, checked after the loop

	for _, we := range walked {
		entry := archive.FileEntry{
			Path:      we.relPath,
			IsDir:     we.isDir,
			Symlink:   we.symlink,
			Mode:      we.mode,
			Mtime:     we.mtime,
			MtimeNsec: we.mtimeNsec,
			UID:       we.uid,
			GID:       we.gid,
			Size:      we.size,
		}

		if we.nlink > 1 && !we.isDir {
			key := [2]uint64{we.dev, we.inode}
			id, ok := b.hardlinkMap[key]
			if !ok {
				b.nextHardlinkID++
				id = b.nextHardlinkID
				b.hardlinkMap[key] = id
			}
			entry.HardlinkID = &id
			hardlinkCounts[id]++
			hardlinkExpected[id] = we.nlink
		}

		if !we.isDir && we.symlink == nil {
			absPath := filepath.Join(rootAbs, filepath.FromSlash(we.relPath))
			blocks, ok, err := b.readFileContent(ctx, absPath, we.relPath)
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", we.relPath, err)
			}
			if !ok {
				continue // dropped after exhausting retries; already warned
			}
			entry.Blocks = blocks
			b.recordProgress(we.size)
		}

		included[entry.Path] = true
		files = append(files, entry)
		if entry.Symlink != nil {
			danglingCandidates = append(danglingCandidates, entry)
		}
	}

	b.warnShortHardlinkGroups(hardlinkCounts, hardlinkExpected)
	b.warnDanglingSymlinks(rootAbs, danglingCandidates, included)

	return &archive.Archive{
		Version:      archive.CurrentVersion,
		Name:         name,
		OriginalPath: rootAbs,
		Files:        files,
	}, nil
}

// readFileContent implements the cache-hit fast path and the retry-on-
// change streaming read. ok is false when the file cannot be stat'ed or
// every retry has been exhausted; the caller should drop the file silently
// (a warning has already been logged).
func (b *Builder) readFileContent(ctx context.Context, absPath, relPath string) (blocks []keystore.BlockID, ok bool, err error) {
	// The cache is keyed by the file's canonical path, not its
	// archive-relative path: cache.sqlite persists across runs against
	// different source roots, and two unrelated files sharing a relative
	// path could otherwise collide on a coincidentally equal
	// (mtime, mtime_nsec, size) tuple.
	cachePath, evalErr := filepath.EvalSymlinks(absPath)
	if evalErr != nil {
		cachePath = absPath
	}

	for attempt := 0; attempt <= maxReadRetries; attempt++ {
		info, err := os.Stat(absPath)
		if err != nil {
			logger.Warn("unable to stat file before reading", logger.Path(absPath), logger.Err(err))
			return nil, false, nil
		}
		_, mtimeSec, mtimeNsec, _, _ := platformMetadata(info)
		size := uint64(info.Size())

		if b.cache != nil {
			if cached, found, cacheErr := b.cache.Lookup(cachePath, mtimeSec, mtimeNsec, size); cacheErr != nil {
				return nil, false, cacheErr
			} else if found {
				if b.allBlocksExist(ctx, cached) {
					return cached, true, nil
				}
			}
		}

		blocks, changed, readErr := b.streamFile(ctx, absPath, mtimeSec, mtimeNsec)
		if readErr != nil {
			return nil, false, fmt.Errorf("stream %s: %w", relPath, readErr)
		}
		if changed {
			logger.Warn("file changed while being read, retrying",
				logger.Path(absPath), logger.Attempt(attempt+1), logger.MaxRetries(maxReadRetries))
			continue
		}

		finalInfo, err := os.Stat(absPath)
		if err != nil {
			logger.Warn("unable to re-stat file after reading", logger.Path(absPath), logger.Err(err))
			return nil, false, nil
		}
		if uint64(finalInfo.Size()) != size {
			logger.Warn("file size changed during read, retrying",
				logger.Path(absPath), logger.Attempt(attempt+1), logger.MaxRetries(maxReadRetries))
			continue
		}

		if b.cache != nil {
			if err := b.cache.Store(cachePath, mtimeSec, mtimeNsec, size, blocks); err != nil {
				return nil, false, err
			}
		}
		return blocks, true, nil
	}

	logger.Warn("dropping file after exhausting retries", logger.Path(absPath), logger.MaxRetries(maxReadRetries))
	return nil, false, nil
}

// recordProgress accumulates n bytes of newly-read file content and emits a
// progress line every opts.ProgressIntervalBytes bytes, rendering the
// running total in both raw and human-readable form.
func (b *Builder) recordProgress(n uint64) {
	b.bytesRead += n
	if b.opts.ProgressIntervalBytes == 0 {
		return
	}
	b.bytesSinceLog += n
	if b.bytesSinceLog < b.opts.ProgressIntervalBytes {
		return
	}
	b.bytesSinceLog = 0
	logger.Info("create progress", logger.BytesDone(b.bytesRead), logger.BytesDoneHuman(b.bytesRead))
}

func (b *Builder) allBlocksExist(ctx context.Context, blocks []keystore.BlockID) bool {
	for _, id := range blocks {
		exists, err := b.blockStore.Exists(ctx, id)
		if err != nil || !exists {
			return false
		}
	}
	return true
}

// streamFile reads absPath in bufpool.BlockSize chunks, uploading each via
// a bounded worker pool while preserving final chunk order. changed is true
// if the file's mtime shifted mid-read, signaling the caller to retry.
func (b *Builder) streamFile(ctx context.Context, absPath string, mtimeSec, mtimeNsec int64) (blocks []keystore.BlockID, changed bool, err error) {
	f, err := os.Open(absPath)
	if err != nil {
		return nil, false, fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		sem     = make(chan struct{}, b.opts.Parallelism)
		results = make(map[int]keystore.BlockID)
		firstErr error
	)

	chunkIndex := 0
	for {
		buf := bufpool.Get()
		n, readErr := io.ReadFull(f, buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			bufpool.Put(buf)

			info, statErr := os.Stat(absPath)
			if statErr != nil {
				return nil, false, fmt.Errorf("stat during read: %w", statErr)
			}
			_, curSec, curNsec, _, _ := platformMetadata(info)
			if curSec != mtimeSec || curNsec != mtimeNsec {
				wg.Wait()
				return nil, true, nil
			}

			idx := chunkIndex
			chunkIndex++
			wg.Add(1)
			sem <- struct{}{}
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				id, putErr := b.blockStore.Put(ctx, chunk)
				mu.Lock()
				defer mu.Unlock()
				if putErr != nil {
					if firstErr == nil {
						firstErr = putErr
					}
					return
				}
				results[idx] = id
			}()
		} else {
			bufpool.Put(buf)
		}

		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			wg.Wait()
			return nil, false, fmt.Errorf("read chunk: %w", readErr)
		}
	}

	wg.Wait()
	if firstErr != nil {
		return nil, false, firstErr
	}

	ordered := make([]keystore.BlockID, chunkIndex)
	for i := 0; i < chunkIndex; i++ {
		ordered[i] = results[i]
	}
	return ordered, false, nil
}

func (b *Builder) warnShortHardlinkGroups(counts map[uint64]int, expected map[uint64]uint64) {
	for id, count := range counts {
		if uint64(count) < expected[id] {
			logger.Warn("hardlink group incomplete: fewer links archived than the source reported",
				logger.LinkCount(count))
		}
	}
}

func (b *Builder) warnDanglingSymlinks(rootAbs string, symlinkEntries []archive.FileEntry, included map[string]bool) {
	for _, entry := range symlinkEntries {
		if entry.Symlink == nil {
			continue
		}
		target := *entry.Symlink
		var absTarget string
		if filepath.IsAbs(target) {
			absTarget = filepath.Clean(target)
		} else {
			dir := filepath.Dir(filepath.Join(rootAbs, filepath.FromSlash(entry.Path)))
			absTarget = filepath.Clean(filepath.Join(dir, target))
		}

		rel, err := filepath.Rel(rootAbs, absTarget)
		if err != nil || rel == ".." || filepathHasDotDotPrefix(rel) {
			continue // target is outside the archive root; nothing to check
		}
		rel = filepath.ToSlash(rel)
		if !included[rel] {
			logger.Warn("symlink target not included in archive",
				logger.Path(entry.Path), logger.LinkTarget(target))
		}
	}
}

func filepathHasDotDotPrefix(p string) bool {
	return p == ".." || len(p) > 2 && p[:3] == "../"
}
