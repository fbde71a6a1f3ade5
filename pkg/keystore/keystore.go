// Package keystore implements Preserve's master-key derivation and
// SIV-based authenticated encryption of blocks, archive names, and archive
// metadata.
//
// A single 1024-bit master key is the only persisted secret. Four
// domain-separated key bundles (block, archive name, blocklist, archive
// metadata) are stretched from it with PBKDF2-HMAC-SHA-512, one iteration,
// empty salt. Every encrypted object carries its own Synthetic
// Initialization Vector: a keyed MAC over the associated data and
// plaintext that doubles as the object's content-addressed public
// identity, so identical plaintext under the same bundle always yields
// the same id and ciphertext.
//
// This is the current key-derivation and encryption scheme; it must not
// be confused with the Curve25519 + HMAC-SHA-256 scheme used by older,
// superseded versions of this keystore's design.
package keystore

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/pbkdf2"

	"preserve/pkg/perrors"
)

const (
	// MasterKeySize is the size in bytes of the persisted master key (1024 bits).
	MasterKeySize = 128

	sivKeySize    = 128
	cipherKeySize = 128
	bundleSize    = sivKeySize + cipherKeySize // 256 bytes
	numBundles    = 4

	sivSize = 32
)

// bundleIndex fixes the order bundles are sliced out of the PBKDF2 stream.
type bundleIndex int

const (
	bundleBlock bundleIndex = iota
	bundleArchiveName
	bundleBlocklist
	bundleMetadata
)

// bundle holds one object class's SIV key and cipher key.
type bundle struct {
	sivKey    []byte // 128 bytes
	cipherKey []byte // 128 bytes
}

// KeyStore derives and holds the four key bundles for one master key. It is
// immutable after construction and safe for concurrent use by multiple
// goroutines.
type KeyStore struct {
	masterKey []byte

	block       bundle
	archiveName bundle
	blocklist   bundle
	metadata    bundle
}

// New derives a KeyStore from a raw master key. masterKey must be exactly
// MasterKeySize bytes.
func New(masterKey []byte) (*KeyStore, error) {
	if len(masterKey) != MasterKeySize {
		return nil, fmt.Errorf("%w: master key must be %d bytes, got %d", perrors.ErrCorruptKeystore, MasterKeySize, len(masterKey))
	}

	stream := pbkdf2.Key(masterKey, nil, 1, numBundles*bundleSize, sha512.New)

	ks := &KeyStore{masterKey: append([]byte(nil), masterKey...)}
	ks.block = sliceBundle(stream, bundleBlock)
	ks.archiveName = sliceBundle(stream, bundleArchiveName)
	ks.blocklist = sliceBundle(stream, bundleBlocklist)
	ks.metadata = sliceBundle(stream, bundleMetadata)
	return ks, nil
}

func sliceBundle(stream []byte, idx bundleIndex) bundle {
	start := int(idx) * bundleSize
	b := stream[start : start+bundleSize]
	return bundle{
		sivKey:    b[:sivKeySize],
		cipherKey: b[sivKeySize:],
	}
}

// Generate creates a new KeyStore backed by a freshly generated random
// master key, returning both the KeyStore and the raw master key so the
// caller can persist it with Save.
func Generate() (*KeyStore, []byte, error) {
	masterKey := make([]byte, MasterKeySize)
	if _, err := rand.Read(masterKey); err != nil {
		return nil, nil, fmt.Errorf("generate master key: %w", err)
	}
	ks, err := New(masterKey)
	if err != nil {
		return nil, nil, err
	}
	return ks, masterKey, nil
}

// Save writes the master key as a single line of lowercase hex to w.
func (ks *KeyStore) Save(w io.Writer) error {
	_, err := fmt.Fprintln(w, hex.EncodeToString(ks.masterKey))
	return err
}

// Load reads a keyfile (a single line of 256 lowercase hex characters)
// from r and derives a KeyStore from it.
func Load(r io.Reader) (*KeyStore, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read keyfile: %w", err)
	}
	line := strings.TrimSpace(string(data))
	if len(line) != MasterKeySize*2 {
		return nil, fmt.Errorf("%w: expected %d hex characters, got %d", perrors.ErrCorruptKeystore, MasterKeySize*2, len(line))
	}
	masterKey, err := hex.DecodeString(line)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", perrors.ErrCorruptKeystore, err)
	}
	return New(masterKey)
}

// computeSIV computes the keyed-MAC SIV over aad and plaintext under the
// given SIV key, truncated to 32 bytes.
func computeSIV(sivKey, aad, plaintext []byte) [sivSize]byte {
	mac := hmac.New(sha512.New, sivKey)
	mac.Write(aad)
	mac.Write(plaintext)
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(aad)))
	mac.Write(lenBuf[:])
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(plaintext)))
	mac.Write(lenBuf[:])

	sum := mac.Sum(nil)
	var siv [sivSize]byte
	copy(siv[:], sum[:sivSize])
	return siv
}

// streamCipher derives the per-message ChaCha20 key and nonce from a SIV
// and returns a cipher.Stream-like object ready to XOR plaintext/ciphertext
// of any length (ChaCha20 encryption is its own inverse).
//
// The derivation HMACs the cipher key with the SIV, taking the first 32
// bytes as the stream key. The construction described in the design calls
// for an 8-byte nonce taken from the same derived stream; golang.org/x/crypto/chacha20
// only accepts the IETF 12-byte nonce size, so the 8 derived bytes are used
// as the low-order bytes of a zero-extended 12-byte nonce.
func streamCipher(cipherKey []byte, siv [sivSize]byte) (*chacha20.Cipher, error) {
	mac := hmac.New(sha512.New, cipherKey)
	mac.Write(siv[:])
	big := mac.Sum(nil)

	key := big[:chacha20.KeySize]
	var nonce [chacha20.NonceSize]byte
	copy(nonce[chacha20.NonceSize-8:], big[chacha20.KeySize:chacha20.KeySize+8])

	return chacha20.NewUnauthenticatedCipher(key, nonce[:])
}

// encrypt performs the generic SIV-encrypt operation for one bundle.
func encrypt(b bundle, aad, plaintext []byte) ([sivSize]byte, []byte, error) {
	siv := computeSIV(b.sivKey, aad, plaintext)

	stream, err := streamCipher(b.cipherKey, siv)
	if err != nil {
		return siv, nil, fmt.Errorf("derive stream cipher: %w", err)
	}

	ciphertext := make([]byte, len(plaintext))
	stream.XORKeyStream(ciphertext, plaintext)
	return siv, ciphertext, nil
}

// decrypt performs the generic SIV-decrypt operation for one bundle,
// returning corruptErr (wrapped) if authentication fails.
func decrypt(b bundle, aad []byte, siv [sivSize]byte, ciphertext []byte, corruptErr error) ([]byte, error) {
	stream, err := streamCipher(b.cipherKey, siv)
	if err != nil {
		return nil, fmt.Errorf("derive stream cipher: %w", err)
	}

	plaintext := make([]byte, len(ciphertext))
	stream.XORKeyStream(plaintext, ciphertext)

	recomputed := computeSIV(b.sivKey, aad, plaintext)
	if subtle.ConstantTimeCompare(recomputed[:], siv[:]) != 1 {
		return nil, corruptErr
	}
	return plaintext, nil
}

// EncryptBlock authenticated-encrypts a plaintext block under the block
// bundle with empty associated data. The returned BlockID is both the
// object's content address and its SIV.
func (ks *KeyStore) EncryptBlock(plaintext []byte) (BlockID, []byte, error) {
	siv, ciphertext, err := encrypt(ks.block, nil, plaintext)
	if err != nil {
		return BlockID{}, nil, err
	}
	return BlockID(siv), ciphertext, nil
}

// DecryptBlock authenticates and decrypts an encrypted block against its id.
func (ks *KeyStore) DecryptBlock(id BlockID, ciphertext []byte) ([]byte, error) {
	return decrypt(ks.block, nil, [sivSize]byte(id), ciphertext, perrors.ErrCorruptBlock)
}

// EncryptArchiveName authenticated-encrypts an archive name under the
// archive-name bundle with empty associated data. The returned ArchiveID
// is both the archive's content address and its SIV.
func (ks *KeyStore) EncryptArchiveName(name string) (ArchiveID, []byte, error) {
	siv, ciphertext, err := encrypt(ks.archiveName, nil, []byte(name))
	if err != nil {
		return ArchiveID{}, nil, err
	}
	return ArchiveID(siv), ciphertext, nil
}

// DecryptArchiveName authenticates and decrypts an encrypted archive name
// against its id, failing if the recovered plaintext is not valid UTF-8.
func (ks *KeyStore) DecryptArchiveName(id ArchiveID, ciphertext []byte) (string, error) {
	plaintext, err := decrypt(ks.archiveName, nil, [sivSize]byte(id), ciphertext, perrors.ErrCorruptArchiveName)
	if err != nil {
		return "", err
	}
	if !isValidUTF8(plaintext) {
		return "", perrors.ErrCorruptArchiveName
	}
	return string(plaintext), nil
}

// EncryptArchiveMetadata authenticated-encrypts archive metadata under the
// metadata bundle with aad = the archive's id, returning siv||ciphertext.
func (ks *KeyStore) EncryptArchiveMetadata(id ArchiveID, plaintext []byte) ([]byte, error) {
	siv, ciphertext, err := encrypt(ks.metadata, id[:], plaintext)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, sivSize+len(ciphertext))
	out = append(out, siv[:]...)
	out = append(out, ciphertext...)
	return out, nil
}

// DecryptArchiveMetadata splits blob into its leading SIV and ciphertext,
// then authenticates and decrypts it against id.
func (ks *KeyStore) DecryptArchiveMetadata(id ArchiveID, blob []byte) ([]byte, error) {
	if len(blob) < sivSize {
		return nil, perrors.ErrCorruptArchiveMetadata
	}
	var siv [sivSize]byte
	copy(siv[:], blob[:sivSize])
	ciphertext := blob[sivSize:]
	return decrypt(ks.metadata, id[:], siv, ciphertext, perrors.ErrCorruptArchiveMetadata)
}

// The blocklist bundle is derived alongside the other three (to keep bundle
// order and byte offsets fixed, per the keystream's extendability
// contract) but has no operation of its own in the current design; it is
// reserved for a future structured encoding of per-file block lists.

func isValidUTF8(b []byte) bool {
	return utf8.Valid(b)
}
