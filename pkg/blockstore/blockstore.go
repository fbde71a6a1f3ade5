// Package blockstore ties a keystore.KeyStore to a backend.Backend,
// presenting the single put/get/exists surface the builder and restorer
// actually call: encrypt-then-store and fetch-then-decrypt, with
// dedup-by-content-address folded in.
package blockstore

import (
	"context"
	"fmt"

	"preserve/pkg/backend"
	"preserve/pkg/keystore"
)

// BlockStore is safe for concurrent use: it holds no mutable state of its
// own, delegating everything to the KeyStore and Backend it wraps.
type BlockStore struct {
	keys    *keystore.KeyStore
	backend backend.Backend
}

// New constructs a BlockStore over the given key material and storage backend.
func New(keys *keystore.KeyStore, be backend.Backend) *BlockStore {
	return &BlockStore{keys: keys, backend: be}
}

// Exists reports whether the block a plaintext would encrypt to is
// already present in the backend, without performing any encryption.
func (bs *BlockStore) Exists(ctx context.Context, id keystore.BlockID) (bool, error) {
	exists, err := bs.backend.BlockExists(ctx, id)
	if err != nil {
		return false, fmt.Errorf("check block existence: %w", err)
	}
	return exists, nil
}

// Put encrypts plaintext and stores it if a block with the same content
// address is not already present, returning the block's id either way.
func (bs *BlockStore) Put(ctx context.Context, plaintext []byte) (keystore.BlockID, error) {
	id, ciphertext, err := bs.keys.EncryptBlock(plaintext)
	if err != nil {
		return keystore.BlockID{}, fmt.Errorf("encrypt block: %w", err)
	}

	exists, err := bs.backend.BlockExists(ctx, id)
	if err != nil {
		return keystore.BlockID{}, fmt.Errorf("check block existence: %w", err)
	}
	if exists {
		return id, nil
	}

	if err := bs.backend.StoreBlock(ctx, id, ciphertext); err != nil {
		return keystore.BlockID{}, fmt.Errorf("store block: %w", err)
	}
	return id, nil
}

// Get fetches and decrypts the block identified by id.
func (bs *BlockStore) Get(ctx context.Context, id keystore.BlockID) ([]byte, error) {
	ciphertext, err := bs.backend.FetchBlock(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetch block: %w", err)
	}

	plaintext, err := bs.keys.DecryptBlock(id, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decrypt block: %w", err)
	}
	return plaintext, nil
}
