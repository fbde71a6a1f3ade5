// Package perrors defines the sentinel error values propagated across the
// keystore, backend, and archive pipeline.
//
// Callers wrap these with fmt.Errorf("...: %w", err) as the error crosses
// each layer, so errors.Is continues to match the sentinel all the way up
// to the CLI's exit-status handling.
package perrors

import "errors"

var (
	// ErrBadBackendPath indicates an unrecognized or malformed backend URL.
	ErrBadBackendPath = errors.New("unrecognized or malformed backend path")

	// ErrBlockNotFound indicates a referenced block is absent from the backend.
	ErrBlockNotFound = errors.New("block not found")

	// ErrArchiveNotFound indicates a referenced archive is absent from the backend.
	ErrArchiveNotFound = errors.New("archive not found")

	// ErrArchiveNameConflict indicates an attempt to create an archive whose
	// ArchiveId already exists on the backend.
	ErrArchiveNameConflict = errors.New("archive name already exists")

	// ErrArchiveNameTooLong indicates an archive name of 128 or more UTF-8 bytes.
	ErrArchiveNameTooLong = errors.New("archive name is 128 bytes or longer")

	// ErrInvalidArchiveID indicates a stray or malformed archive id encountered
	// while listing archives.
	ErrInvalidArchiveID = errors.New("invalid archive id")

	// ErrInvalidArchiveName indicates a malformed archive name file encountered
	// while listing archives.
	ErrInvalidArchiveName = errors.New("invalid archive name")

	// ErrCorruptBlock indicates a block failed SIV authentication on decrypt.
	ErrCorruptBlock = errors.New("block failed authentication")

	// ErrCorruptArchiveName indicates an archive name failed SIV authentication.
	ErrCorruptArchiveName = errors.New("archive name failed authentication")

	// ErrCorruptArchiveMetadata indicates archive metadata failed SIV
	// authentication, or was shorter than the minimum SIV length.
	ErrCorruptArchiveMetadata = errors.New("archive metadata failed authentication")

	// ErrCorruptArchiveFailedDecompression indicates authenticated archive
	// metadata did not decompress as LZMA.
	ErrCorruptArchiveFailedDecompression = errors.New("archive metadata failed decompression")

	// ErrCorruptArchiveBadJSON indicates decompressed archive metadata did not
	// parse as the expected archive document.
	ErrCorruptArchiveBadJSON = errors.New("archive metadata failed to parse")

	// ErrCorruptKeystore indicates a keyfile is not a 256-character hex master key.
	ErrCorruptKeystore = errors.New("keystore file is not a valid master key")

	// ErrBackendOnDifferentDevices indicates an atomic rename would cross
	// filesystem devices.
	ErrBackendOnDifferentDevices = errors.New("backend temp and destination directories are on different devices")

	// ErrIO wraps an underlying filesystem or network failure.
	ErrIO = errors.New("i/o error")

	// ErrSerde wraps an underlying serialization/deserialization failure.
	ErrSerde = errors.New("serialization error")

	// ErrSqlite wraps an underlying mtime-cache database failure.
	ErrSqlite = errors.New("mtime cache database error")
)
