package logger

import (
	"fmt"
	"log/slog"

	"preserve/internal/bytesize"
)

// Standard field keys for structured logging across the backup pipeline.
// Use these consistently so progress and error logs can be grepped/aggregated.
const (
	KeyArchiveID   = "archive_id"
	KeyArchiveName = "archive_name"
	KeyBlockID     = "block_id"
	KeyPath        = "path"
	KeyBackend     = "backend"
	KeyBackendURL  = "backend_url"

	KeySize        = "size"
	KeyBytesDone   = "bytes_done"
	KeyBlocksDone  = "blocks_done"
	KeyBlocksTotal = "blocks_total"
	KeyFilesDone   = "files_done"
	KeyFilesTotal  = "files_total"

	KeyMode       = "mode"
	KeyLinkTarget = "link_target"
	KeyLinkCount  = "link_count"

	KeyAttempt    = "attempt"
	KeyMaxRetries = "max_retries"

	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeyOperation  = "operation"

	KeyCachePath = "cache_path"
	KeyCacheHit  = "cache_hit"

	KeyBytesDoneHuman = "bytes_done_human"
)

// ArchiveID returns a slog.Attr for an archive identifier (hex).
func ArchiveID(id string) slog.Attr {
	return slog.String(KeyArchiveID, id)
}

// ArchiveName returns a slog.Attr for an archive's logical name.
func ArchiveName(name string) slog.Attr {
	return slog.String(KeyArchiveName, name)
}

// BlockID returns a slog.Attr for a block identifier (hex).
func BlockID(id string) slog.Attr {
	return slog.String(KeyBlockID, id)
}

// Path returns a slog.Attr for a filesystem path.
func Path(p string) slog.Attr {
	return slog.String(KeyPath, p)
}

// Backend returns a slog.Attr for a backend scheme (file, s3, ...).
func Backend(scheme string) slog.Attr {
	return slog.String(KeyBackend, scheme)
}

// BackendURL returns a slog.Attr for a backend connection URL.
func BackendURL(url string) slog.Attr {
	return slog.String(KeyBackendURL, url)
}

// Size returns a slog.Attr for a byte size.
func Size(n uint64) slog.Attr {
	return slog.Uint64(KeySize, n)
}

// BytesDone returns a slog.Attr for progress byte counters.
func BytesDone(n uint64) slog.Attr {
	return slog.Uint64(KeyBytesDone, n)
}

// BytesDoneHuman returns a slog.Attr rendering a byte count the way a
// human reads a progress line (e.g. "128.00MiB") rather than a raw integer.
func BytesDoneHuman(n uint64) slog.Attr {
	return slog.String(KeyBytesDoneHuman, bytesize.ByteSize(n).String())
}

// BlocksDone returns a slog.Attr for progress block counters.
func BlocksDone(n int) slog.Attr {
	return slog.Int(KeyBlocksDone, n)
}

// BlocksTotal returns a slog.Attr for the total known block count.
func BlocksTotal(n int) slog.Attr {
	return slog.Int(KeyBlocksTotal, n)
}

// FilesDone returns a slog.Attr for progress file counters.
func FilesDone(n int) slog.Attr {
	return slog.Int(KeyFilesDone, n)
}

// FilesTotal returns a slog.Attr for the total known file count.
func FilesTotal(n int) slog.Attr {
	return slog.Int(KeyFilesTotal, n)
}

// Mode returns a slog.Attr for a Unix file mode.
func Mode(m uint32) slog.Attr {
	return slog.Any(KeyMode, m)
}

// LinkTarget returns a slog.Attr for a symlink target path.
func LinkTarget(target string) slog.Attr {
	return slog.String(KeyLinkTarget, target)
}

// LinkCount returns a slog.Attr for a hardlink group size.
func LinkCount(count int) slog.Attr {
	return slog.Int(KeyLinkCount, count)
}

// Attempt returns a slog.Attr for a retry attempt number.
func Attempt(n int) slog.Attr {
	return slog.Int(KeyAttempt, n)
}

// MaxRetries returns a slog.Attr for the configured retry ceiling.
func MaxRetries(n int) slog.Attr {
	return slog.Int(KeyMaxRetries, n)
}

// DurationMs returns a slog.Attr for an operation duration in milliseconds.
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error, or a zero Attr if err is nil.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Operation returns a slog.Attr naming a sub-operation (create, restore, verify, diff).
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

// CachePath returns a slog.Attr for the mtime-cache database path.
func CachePath(p string) slog.Attr {
	return slog.String(KeyCachePath, p)
}

// CacheHit returns a slog.Attr for an mtime-cache lookup result.
func CacheHit(hit bool) slog.Attr {
	return slog.Bool(KeyCacheHit, hit)
}

// HandleHex formats an arbitrary byte slice as a lowercase hex string attr.
func HandleHex(key string, h []byte) slog.Attr {
	return slog.String(key, fmt.Sprintf("%x", h))
}
