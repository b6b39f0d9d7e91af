package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file.txt")
	require.NoError(t, os.WriteFile(path, []byte("test content"), 0o644))

	got, err := File(path)
	require.NoError(t, err)

	want := sha256.Sum256([]byte("test content"))
	assert.Equal(t, hex.EncodeToString(want[:]), got)
}

func TestFile_LargerThanChunk(t *testing.T) {
	content := make([]byte, chunkSize*3+17)
	for i := range content {
		content[i] = byte(i % 251)
	}

	path := filepath.Join(t.TempDir(), "big.bin")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	got, err := File(path)
	require.NoError(t, err)

	want := sha256.Sum256(content)
	assert.Equal(t, hex.EncodeToString(want[:]), got)
}

func TestFile_Missing(t *testing.T) {
	_, err := File(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
}

func TestTree(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("content1"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b.txt"), []byte("content2"), 0o644))

	digests, err := Tree(dir)
	require.NoError(t, err)
	require.Len(t, digests, 2)

	wantA := sha256.Sum256([]byte("content1"))
	wantB := sha256.Sum256([]byte("content2"))
	assert.Equal(t, hex.EncodeToString(wantA[:]), digests["a.txt"])
	assert.Equal(t, hex.EncodeToString(wantB[:]), digests["sub/b.txt"])
}
