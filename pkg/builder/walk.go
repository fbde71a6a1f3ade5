package builder

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"preserve/internal/logger"
)

// defaultIgnorePaths are directories never descended into, regardless of
// ExcludePaths: they hold kernel/runtime state, not user data.
var defaultIgnorePaths = map[string]bool{
	"/proc": true,
	"/sys":  true,
	"/dev":  true,
	"/run":  true,
	"/tmp":  true,
}

// walkEntry is one filesystem entry discovered by walk, carrying enough
// metadata to produce a FileEntry without a second stat.
type walkEntry struct {
	relPath    string
	isDir      bool
	symlink    *string
	mode       uint32
	mtime      int64
	mtimeNsec  int64
	uid        uint32
	gid        uint32
	size       uint64
	dev, inode uint64
	nlink      uint64
}

// stackItem is one pending directory in the iterative walk.
type stackItem struct {
	absPath string
	relPath string
}

// walk performs an iterative, stack-based directory traversal, returning
// entries in traversal order (a directory's own entry is appended before
// its stack item is pushed, so parents always precede children in the
// returned slice).
func (b *Builder) walk(rootAbs string) ([]walkEntry, uint64) {
	rootInfo, err := os.Lstat(rootAbs)
	var rootDev uint64
	if err == nil {
		if dev, _, _, ok := inodeInfo(rootInfo); ok {
			rootDev = dev
		}
	}

	var entries []walkEntry
	var totalSize uint64
	stack := []stackItem{{absPath: rootAbs, relPath: ""}}

	for len(stack) > 0 {
		item := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		dirEntries, err := os.ReadDir(item.absPath)
		if err != nil {
			logger.Warn("unable to read directory", logger.Path(item.absPath), logger.Err(err))
			continue
		}

		for _, dirEntry := range dirEntries {
			absPath := filepath.Join(item.absPath, dirEntry.Name())
			relPath := dirEntry.Name()
			if item.relPath != "" {
				relPath = item.relPath + "/" + dirEntry.Name()
			}

			we, skip := b.statEntry(absPath, relPath, rootDev)
			if skip {
				continue
			}
			entries = append(entries, we)
			totalSize += we.size

			if we.isDir {
				stack = append(stack, stackItem{absPath: absPath, relPath: relPath})
			}
		}
	}

	return entries, totalSize
}

// statEntry stats one entry and decides whether it belongs in the archive.
// The actual recursion into directories happens via the work stack in walk.
func (b *Builder) statEntry(absPath, relPath string, rootDev uint64) (we walkEntry, skip bool) {
	if err := validateRelPath(relPath); err != nil {
		logger.Warn("skipping entry with invalid archive path", logger.Path(absPath), logger.Err(err))
		return we, true
	}

	lstatInfo, err := os.Lstat(absPath)
	if err != nil {
		logger.Warn("unable to stat entry", logger.Path(absPath), logger.Err(err))
		return we, true
	}

	if b.isIgnored(absPath) {
		return we, true
	}
	if dev, inode, _, ok := inodeInfo(lstatInfo); ok && b.isCacheEntry(dev, inode) {
		return we, true
	}

	isSymlink := lstatInfo.Mode()&os.ModeSymlink != 0

	var symlinkTarget *string
	finalInfo := lstatInfo
	if isSymlink {
		if b.opts.DereferenceSymlinks {
			followed, err := os.Stat(absPath)
			if err != nil {
				logger.Warn("unable to follow symlink", logger.Path(absPath), logger.Err(err))
				return we, true
			}
			finalInfo = followed
		} else {
			target, err := os.Readlink(absPath)
			if err != nil {
				logger.Warn("unable to read symlink target", logger.Path(absPath), logger.Err(err))
				return we, true
			}
			symlinkTarget = &target
		}
	}

	if b.opts.OneFileSystem && rootDev != 0 {
		if dev, _, _, ok := inodeInfo(finalInfo); ok && dev != rootDev {
			return we, true
		}
	}

	mode := finalInfo.Mode()
	isDir := finalInfo.IsDir()
	isRegular := finalInfo.Mode().IsRegular()
	if !isDir && !isRegular && symlinkTarget == nil {
		logger.Warn("skipping entry: not a symlink, directory, or regular file",
			logger.Path(absPath), logger.Mode(uint32(mode)))
		return we, true
	}

	dev, inode, nlink, _ := inodeInfo(finalInfo)

	sysMode, mtimeSec, mtimeNsec, uid, gid := platformMetadata(finalInfo)

	we = walkEntry{
		relPath:   relPath,
		isDir:     isDir,
		symlink:   symlinkTarget,
		mode:      sysMode,
		mtime:     mtimeSec,
		mtimeNsec: mtimeNsec,
		uid:       uid,
		gid:       gid,
		dev:       dev,
		inode:     inode,
		nlink:     nlink,
	}
	if isDir || symlinkTarget != nil {
		we.size = 0
	} else {
		we.size = uint64(finalInfo.Size())
	}

	return we, false
}

// isCacheEntry reports whether (dev, inode) identifies the mtime-cache
// database file itself, which must never be archived alongside the data
// it's caching.
func (b *Builder) isCacheEntry(dev, inode uint64) bool {
	return b.cacheIgnoreSet && dev == b.cacheDev && inode == b.cacheInode
}

func (b *Builder) isIgnored(absPath string) bool {
	clean := filepath.Clean(absPath)
	if defaultIgnorePaths[clean] {
		return true
	}
	for _, excluded := range b.opts.ExcludePaths {
		if clean == filepath.Clean(excluded) {
			return true
		}
	}
	return false
}

// validateRelPath rejects paths that would violate the archive's path
// invariants before they are ever written into a FileEntry.
func validateRelPath(relPath string) error {
	if relPath == "" {
		return fmt.Errorf("empty relative path")
	}
	for _, component := range strings.Split(relPath, "/") {
		if component == ".." {
			return fmt.Errorf("relative path %q contains a .. component", relPath)
		}
	}
	return nil
}
