package archive

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"preserve/pkg/keystore"
	"preserve/pkg/perrors"
)

func testKeyStore(t *testing.T) *keystore.KeyStore {
	t.Helper()
	ks, _, err := keystore.Generate()
	require.NoError(t, err)
	return ks
}

func sampleArchive() *Archive {
	return &Archive{
		Version:      CurrentVersion,
		Name:         "nightly",
		OriginalPath: "/home/alice",
		Files: []FileEntry{
			{Path: "etc", IsDir: true},
			{Path: "etc/passwd", Mode: 0o644, Size: 4, Blocks: []keystore.BlockID{{0x01}}},
			{Path: "etc/link", Symlink: strPtr("passwd")},
		},
	}
}

func strPtr(s string) *string { return &s }

func TestValidateAcceptsWellFormedArchive(t *testing.T) {
	a := sampleArchive()
	assert.NoError(t, a.Validate())
}

func TestValidateRejectsNameAtLimit(t *testing.T) {
	a := sampleArchive()
	long := ""
	for i := 0; i < MaxNameBytes; i++ {
		long += "a"
	}
	a.Name = long
	err := a.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, perrors.ErrArchiveNameTooLong)
}

func TestValidateRejectsDotDotPath(t *testing.T) {
	a := sampleArchive()
	a.Files = []FileEntry{{Path: "../escape"}}
	err := a.Validate()
	require.Error(t, err)
}

func TestValidateRejectsDuplicatePath(t *testing.T) {
	a := sampleArchive()
	a.Files = append(a.Files, a.Files[1])
	err := a.Validate()
	require.Error(t, err)
}

func TestValidateRejectsChildBeforeParent(t *testing.T) {
	a := sampleArchive()
	a.Files = []FileEntry{
		{Path: "a/b", Mode: 0o644},
		{Path: "a", IsDir: true},
	}
	err := a.Validate()
	require.Error(t, err)
}

func TestValidateRejectsNonZeroDirSize(t *testing.T) {
	a := sampleArchive()
	a.Files = []FileEntry{
		{Path: "etc", IsDir: true, Size: 10},
	}
	err := a.Validate()
	require.Error(t, err)
}

func TestFileEntryEqualIgnoresNothingButHardlinkViaHelper(t *testing.T) {
	id1 := uint64(1)
	id2 := uint64(2)
	a := FileEntry{Path: "f", Mode: 0o644, HardlinkID: &id1}
	b := FileEntry{Path: "f", Mode: 0o644, HardlinkID: &id2}

	assert.False(t, a.Equal(b))
	assert.True(t, a.WithoutHardlinkID().Equal(b.WithoutHardlinkID()))
}

func TestFileEntryEqualComparesBlocks(t *testing.T) {
	a := FileEntry{Path: "f", Blocks: []keystore.BlockID{{0x01}}}
	b := FileEntry{Path: "f", Blocks: []keystore.BlockID{{0x02}}}
	assert.False(t, a.Equal(b))
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	a := sampleArchive()
	data, err := a.Serialize()
	require.NoError(t, err)

	got, err := Deserialize(data)
	require.NoError(t, err)
	assert.Equal(t, a.Name, got.Name)
	assert.Equal(t, a.OriginalPath, got.OriginalPath)
	require.Len(t, got.Files, len(a.Files))
	for i := range a.Files {
		assert.True(t, a.Files[i].Equal(got.Files[i]), "entry %d mismatch", i)
	}
}

func TestDeserializeRejectsGarbage(t *testing.T) {
	_, err := Deserialize([]byte("not json"))
	require.Error(t, err)
	assert.ErrorIs(t, err, perrors.ErrCorruptArchiveBadJSON)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	ks := testKeyStore(t)
	a := sampleArchive()

	id, encName, encMeta, err := Encrypt(ks, a)
	require.NoError(t, err)

	name, err := ks.DecryptArchiveName(id, encName)
	require.NoError(t, err)
	assert.Equal(t, a.Name, name)

	got, err := Decrypt(ks, id, encMeta)
	require.NoError(t, err)
	assert.Equal(t, a.Name, got.Name)
	assert.Equal(t, a.OriginalPath, got.OriginalPath)
	require.Len(t, got.Files, len(a.Files))
	for i := range a.Files {
		assert.True(t, a.Files[i].Equal(got.Files[i]), "entry %d mismatch", i)
	}
}

func TestEncryptIsDeterministic(t *testing.T) {
	ks := testKeyStore(t)
	a := sampleArchive()

	id1, encName1, encMeta1, err := Encrypt(ks, a)
	require.NoError(t, err)
	id2, encName2, encMeta2, err := Encrypt(ks, a)
	require.NoError(t, err)

	assert.True(t, id1.Equal(id2))
	assert.Equal(t, encName1, encName2)
	assert.Equal(t, encMeta1, encMeta2)
}

func TestEncryptRejectsInvalidArchive(t *testing.T) {
	ks := testKeyStore(t)
	a := sampleArchive()
	a.Files = []FileEntry{{Path: "../escape"}}

	_, _, _, err := Encrypt(ks, a)
	require.Error(t, err)
}

func TestDecryptDetectsTamperedMetadata(t *testing.T) {
	ks := testKeyStore(t)
	a := sampleArchive()

	id, _, encMeta, err := Encrypt(ks, a)
	require.NoError(t, err)

	tampered := append([]byte(nil), encMeta...)
	tampered[len(tampered)-1] ^= 0xFF

	_, err = Decrypt(ks, id, tampered)
	require.Error(t, err)
	assert.ErrorIs(t, err, perrors.ErrCorruptArchiveMetadata)
}

func TestDecryptDetectsWrongID(t *testing.T) {
	ks := testKeyStore(t)
	a := sampleArchive()

	_, _, encMeta, err := Encrypt(ks, a)
	require.NoError(t, err)

	otherID, _, err := ks.EncryptArchiveName("other")
	require.NoError(t, err)

	_, err = Decrypt(ks, otherID, encMeta)
	require.Error(t, err)
}

func TestCompressDecompressRoundTrip(t *testing.T) {
	plaintext := []byte("the quick brown fox jumps over the lazy dog, repeated: " +
		"the quick brown fox jumps over the lazy dog")
	compressed, err := compress(plaintext)
	require.NoError(t, err)

	got, err := decompress(compressed)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestDecompressRejectsGarbage(t *testing.T) {
	_, err := decompress([]byte("not lzma"))
	require.Error(t, err)
	assert.ErrorIs(t, err, perrors.ErrCorruptArchiveFailedDecompression)
}
