// Package backend defines the storage interface Preserve uses to persist
// and retrieve encrypted blocks and archives, independent of where they
// actually live.
package backend

import (
	"context"

	"preserve/pkg/keystore"
)

// Backend is the storage contract implemented by every destination
// Preserve can back up to. All operations take already-encrypted bytes;
// a Backend never sees plaintext or key material.
type Backend interface {
	// BlockExists reports whether a block with the given id is already
	// stored, so the builder can skip re-uploading it.
	BlockExists(ctx context.Context, id keystore.BlockID) (bool, error)

	// StoreBlock persists an encrypted block. Implementations must be
	// idempotent: storing a block that already exists is a no-op.
	StoreBlock(ctx context.Context, id keystore.BlockID, data []byte) error

	// FetchBlock retrieves a previously stored encrypted block.
	// perrors.ErrBlockNotFound is returned if it does not exist.
	FetchBlock(ctx context.Context, id keystore.BlockID) ([]byte, error)

	// StoreArchive persists an archive's encrypted name and metadata
	// under its id. perrors.ErrArchiveNameConflict is returned if an
	// archive with this id already exists.
	StoreArchive(ctx context.Context, id keystore.ArchiveID, encryptedName, encryptedMetadata []byte) error

	// FetchArchive retrieves a previously stored archive's encrypted
	// metadata. perrors.ErrArchiveNotFound is returned if it does not exist.
	FetchArchive(ctx context.Context, id keystore.ArchiveID) ([]byte, error)

	// ListArchives enumerates every archive id and encrypted name
	// currently stored.
	ListArchives(ctx context.Context) ([]ArchiveListing, error)
}

// ArchiveListing pairs an archive id with its still-encrypted name, as
// returned by ListArchives before the caller has decrypted anything.
type ArchiveListing struct {
	ID            keystore.ArchiveID
	EncryptedName []byte
}
