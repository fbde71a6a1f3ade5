package keystore

import (
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// quoted hex encodes/decodes an id the way encoding/json (and the
// goccy/go-json drop-in) expect a Marshaler/Unmarshaler to behave: a JSON
// string containing the lowercase hex form.

// idSize is the length in bytes of a BlockID or ArchiveID (256 bits).
const idSize = 32

// BlockID is the content-addressed, deterministic identifier of an
// encrypted block: the SIV of its plaintext under the block bundle.
type BlockID [idSize]byte

// String returns the lowercase hex encoding of the id.
func (b BlockID) String() string {
	return hex.EncodeToString(b[:])
}

// Equal reports whether two block ids are identical, in constant time.
func (b BlockID) Equal(other BlockID) bool {
	return subtle.ConstantTimeCompare(b[:], other[:]) == 1
}

// ParseBlockID decodes a lowercase hex string into a BlockID.
func ParseBlockID(s string) (BlockID, error) {
	var id BlockID
	if err := decodeHexID(s, id[:]); err != nil {
		return BlockID{}, fmt.Errorf("parse block id: %w", err)
	}
	return id, nil
}

// MarshalJSON encodes the id as a lowercase hex JSON string.
func (b BlockID) MarshalJSON() ([]byte, error) {
	return marshalHexJSON(b[:])
}

// UnmarshalJSON decodes a lowercase hex JSON string into the id.
func (b *BlockID) UnmarshalJSON(data []byte) error {
	return unmarshalHexJSON(data, b[:])
}

// ArchiveID is the deterministic identifier of a named archive: the SIV
// of its UTF-8 name under the archive-name bundle.
type ArchiveID [idSize]byte

// String returns the lowercase hex encoding of the id.
func (a ArchiveID) String() string {
	return hex.EncodeToString(a[:])
}

// Equal reports whether two archive ids are identical, in constant time.
func (a ArchiveID) Equal(other ArchiveID) bool {
	return subtle.ConstantTimeCompare(a[:], other[:]) == 1
}

// ParseArchiveID decodes a lowercase hex string into an ArchiveID.
func ParseArchiveID(s string) (ArchiveID, error) {
	var id ArchiveID
	if err := decodeHexID(s, id[:]); err != nil {
		return ArchiveID{}, fmt.Errorf("parse archive id: %w", err)
	}
	return id, nil
}

// MarshalJSON encodes the id as a lowercase hex JSON string.
func (a ArchiveID) MarshalJSON() ([]byte, error) {
	return marshalHexJSON(a[:])
}

// UnmarshalJSON decodes a lowercase hex JSON string into the id.
func (a *ArchiveID) UnmarshalJSON(data []byte) error {
	return unmarshalHexJSON(data, a[:])
}

func decodeHexID(s string, dst []byte) error {
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	if len(decoded) != len(dst) {
		return fmt.Errorf("expected %d bytes, got %d", len(dst), len(decoded))
	}
	copy(dst, decoded)
	return nil
}

func marshalHexJSON(b []byte) ([]byte, error) {
	out := make([]byte, 0, len(b)*2+2)
	out = append(out, '"')
	out = append(out, []byte(hex.EncodeToString(b))...)
	out = append(out, '"')
	return out, nil
}

func unmarshalHexJSON(data []byte, dst []byte) error {
	s := string(data)
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return fmt.Errorf("expected JSON string, got %q", s)
	}
	return decodeHexID(s[1:len(s)-1], dst)
}
