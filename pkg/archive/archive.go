// Package archive defines the Archive and FileEntry types that describe
// one backup, and their serialize-compress-encrypt / decrypt-decompress-
// parse round trip.
package archive

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/goccy/go-json"
	"github.com/ulikunitz/xz/lzma"

	"preserve/pkg/keystore"
	"preserve/pkg/perrors"
)

// CurrentVersion is the only Archive format version this implementation
// writes or reads.
const CurrentVersion = 1

// MaxNameBytes is the exclusive upper bound on an archive name's UTF-8
// byte length.
const MaxNameBytes = 128

// FileEntry describes one filesystem entry captured in an archive.
type FileEntry struct {
	Path       string             `json:"path"`
	IsDir      bool               `json:"is_dir"`
	Symlink    *string            `json:"symlink,omitempty"`
	HardlinkID *uint64            `json:"hardlink_id,omitempty"`
	Mode       uint32             `json:"mode"`
	Mtime      int64              `json:"mtime"`
	MtimeNsec  int64              `json:"mtime_nsec"`
	UID        uint32             `json:"uid"`
	GID        uint32             `json:"gid"`
	Size       uint64             `json:"size"`
	Blocks     []keystore.BlockID `json:"blocks"`
}

// Equal reports structural equality of two entries, HardlinkID included.
// Callers that want a hardlink-insensitive comparison (such as the differ)
// zero it out first via WithoutHardlinkID.
func (f FileEntry) Equal(other FileEntry) bool {
	if f.Path != other.Path ||
		f.IsDir != other.IsDir ||
		f.Mode != other.Mode ||
		f.Mtime != other.Mtime ||
		f.MtimeNsec != other.MtimeNsec ||
		f.UID != other.UID ||
		f.GID != other.GID ||
		f.Size != other.Size {
		return false
	}
	if !stringPtrEqual(f.Symlink, other.Symlink) {
		return false
	}
	if !uint64PtrEqual(f.HardlinkID, other.HardlinkID) {
		return false
	}
	if len(f.Blocks) != len(other.Blocks) {
		return false
	}
	for i := range f.Blocks {
		if !f.Blocks[i].Equal(other.Blocks[i]) {
			return false
		}
	}
	return true
}

// WithoutHardlinkID returns a copy of f with HardlinkID cleared.
func (f FileEntry) WithoutHardlinkID() FileEntry {
	f.HardlinkID = nil
	return f
}

func stringPtrEqual(a, b *string) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	return a == nil || *a == *b
}

func uint64PtrEqual(a, b *uint64) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	return a == nil || *a == *b
}

// Archive is the immutable, versioned description of one backup.
type Archive struct {
	Version      uint32      `json:"version"`
	Name         string      `json:"name"`
	OriginalPath string      `json:"original_path"`
	Files        []FileEntry `json:"files"`
}

// Validate checks the invariants an Archive must hold: name length, path
// well-formedness and uniqueness, parent-before-child ordering, and the
// empty-blocks/zero-size rule for directories and symlinks.
func (a *Archive) Validate() error {
	if len(a.Name) >= MaxNameBytes {
		return fmt.Errorf("%w: %q is %d bytes", perrors.ErrArchiveNameTooLong, a.Name, len(a.Name))
	}

	seenDirs := make(map[string]bool)
	seenPaths := make(map[string]bool)

	for _, f := range a.Files {
		if f.Path == "" {
			return fmt.Errorf("file entry has empty path")
		}
		for _, component := range strings.Split(f.Path, "/") {
			if component == ".." {
				return fmt.Errorf("file entry path %q contains a .. component", f.Path)
			}
		}
		if seenPaths[f.Path] {
			return fmt.Errorf("duplicate file path %q", f.Path)
		}
		seenPaths[f.Path] = true

		if parent := parentDir(f.Path); parent != "" && !seenDirs[parent] {
			return fmt.Errorf("file entry %q appears before its parent directory %q", f.Path, parent)
		}
		if f.IsDir {
			seenDirs[f.Path] = true
		}

		if (f.IsDir || f.Symlink != nil) && (len(f.Blocks) != 0 || f.Size != 0) {
			return fmt.Errorf("directory/symlink entry %q must have empty blocks and zero size", f.Path)
		}
	}
	return nil
}

func parentDir(path string) string {
	idx := strings.LastIndexByte(path, '/')
	if idx < 0 {
		return ""
	}
	return path[:idx]
}

// Serialize renders the archive to its self-describing textual form (JSON).
func (a *Archive) Serialize() ([]byte, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", perrors.ErrSerde, err)
	}
	return data, nil
}

// Deserialize parses the textual form produced by Serialize.
func Deserialize(data []byte) (*Archive, error) {
	var a Archive
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("%w: %v", perrors.ErrCorruptArchiveBadJSON, err)
	}
	return &a, nil
}

// lzmaWriterConfig mirrors "max level (9) + extreme preset" from the
// xz-utils preset vocabulary: the Go lzma encoder is configured directly
// in terms of dictionary size rather than a 0-9 preset number, so a large
// (64 MiB) dictionary is used to approximate preset 9e's compression
// ratio.
var lzmaWriterConfig = lzma.WriterConfig{
	DictCap: 64 << 20,
}

func compress(plaintext []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := lzmaWriterConfig.NewWriter(&buf)
	if err != nil {
		return nil, fmt.Errorf("%w: create lzma writer: %v", perrors.ErrSerde, err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, fmt.Errorf("%w: lzma compress: %v", perrors.ErrSerde, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("%w: lzma compress: %v", perrors.ErrSerde, err)
	}
	return buf.Bytes(), nil
}

func decompress(compressed []byte) ([]byte, error) {
	r, err := lzma.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", perrors.ErrCorruptArchiveFailedDecompression, err)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", perrors.ErrCorruptArchiveFailedDecompression, err)
	}
	return data, nil
}

// Encrypt serializes, compresses, and authenticated-encrypts the archive,
// returning its id, the encrypted name, and the encrypted metadata blob
// ready for Backend.StoreArchive.
func Encrypt(ks *keystore.KeyStore, a *Archive) (keystore.ArchiveID, []byte, []byte, error) {
	if err := a.Validate(); err != nil {
		return keystore.ArchiveID{}, nil, nil, err
	}

	id, encryptedName, err := ks.EncryptArchiveName(a.Name)
	if err != nil {
		return keystore.ArchiveID{}, nil, nil, fmt.Errorf("encrypt archive name: %w", err)
	}

	serialized, err := a.Serialize()
	if err != nil {
		return keystore.ArchiveID{}, nil, nil, err
	}

	compressed, err := compress(serialized)
	if err != nil {
		return keystore.ArchiveID{}, nil, nil, err
	}

	encryptedMetadata, err := ks.EncryptArchiveMetadata(id, compressed)
	if err != nil {
		return keystore.ArchiveID{}, nil, nil, fmt.Errorf("encrypt archive metadata: %w", err)
	}

	return id, encryptedName, encryptedMetadata, nil
}

// Decrypt authenticates and decrypts an archive's metadata blob, then
// decompresses and parses it back into an Archive.
func Decrypt(ks *keystore.KeyStore, id keystore.ArchiveID, encryptedMetadata []byte) (*Archive, error) {
	compressed, err := ks.DecryptArchiveMetadata(id, encryptedMetadata)
	if err != nil {
		return nil, fmt.Errorf("decrypt archive metadata: %w", err)
	}

	serialized, err := decompress(compressed)
	if err != nil {
		return nil, err
	}

	a, err := Deserialize(serialized)
	if err != nil {
		return nil, err
	}
	if a.Version != CurrentVersion {
		return nil, fmt.Errorf("unsupported archive version %d", a.Version)
	}
	return a, nil
}
