package objectstore

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStore_UploadDownloadFile(t *testing.T) {
	root := t.TempDir()
	store, err := NewLocalStore(root)
	require.NoError(t, err)

	srcDir := t.TempDir()
	srcFile := filepath.Join(srcDir, "segment.bin")
	require.NoError(t, os.WriteFile(srcFile, []byte("hello barq"), 0o644))

	require.NoError(t, store.UploadFile(srcFile, "tenant/acme/segments/0001.seg"))

	exists, err := store.Exists("tenant/acme/segments/0001.seg")
	require.NoError(t, err)
	assert.True(t, exists)

	dstFile := filepath.Join(t.TempDir(), "out.bin")
	require.NoError(t, store.DownloadFile("tenant/acme/segments/0001.seg", dstFile))

	got, err := os.ReadFile(dstFile)
	require.NoError(t, err)
	assert.Equal(t, "hello barq", string(got))
}

func TestLocalStore_DownloadFile_MissingKey_ReturnsErrNotFound(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	err = store.DownloadFile("does/not/exist", filepath.Join(t.TempDir(), "out"))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.True(t, IsNotExist(err))
}

func TestLocalStore_UploadDownloadDir(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	srcDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(srcDir, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "a.txt"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "nested", "b.txt"), []byte("b"), 0o644))

	require.NoError(t, store.UploadDir(srcDir, "collections/products"))

	keys, err := store.List("collections/products")
	require.NoError(t, err)
	sort.Strings(keys)
	assert.Equal(t, []string{"a.txt", filepath.ToSlash(filepath.Join("nested", "b.txt"))}, keys)

	dstDir := t.TempDir()
	require.NoError(t, store.DownloadDir("collections/products", dstDir))

	got, err := os.ReadFile(filepath.Join(dstDir, "nested", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "b", string(got))
}

func TestLocalStore_UploadDir_ReplacesExisting(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	first := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(first, "old.txt"), []byte("old"), 0o644))
	require.NoError(t, store.UploadDir(first, "prefix"))

	second := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(second, "new.txt"), []byte("new"), 0o644))
	require.NoError(t, store.UploadDir(second, "prefix"))

	keys, err := store.List("prefix")
	require.NoError(t, err)
	assert.Equal(t, []string{"new.txt"}, keys)
}

func TestLocalStore_Delete(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	srcFile := filepath.Join(t.TempDir(), "f.txt")
	require.NoError(t, os.WriteFile(srcFile, []byte("x"), 0o644))
	require.NoError(t, store.UploadFile(srcFile, "k"))

	require.NoError(t, store.Delete("k"))

	exists, err := store.Exists("k")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestLocalStore_Delete_MissingKey_IsNotAnError(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	assert.NoError(t, store.Delete("never/existed"))
}

func TestLocalStore_GetMetadata(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	srcFile := filepath.Join(t.TempDir(), "f.txt")
	require.NoError(t, os.WriteFile(srcFile, []byte("12345"), 0o644))
	require.NoError(t, store.UploadFile(srcFile, "k"))

	meta, err := store.GetMetadata("k")
	require.NoError(t, err)
	assert.EqualValues(t, 5, meta.Size)
	assert.False(t, meta.LastModified.IsZero())
}

func TestLocalStore_GetMetadata_MissingKey(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.GetMetadata("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStore_Copy_File(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	srcFile := filepath.Join(t.TempDir(), "f.txt")
	require.NoError(t, os.WriteFile(srcFile, []byte("data"), 0o644))
	require.NoError(t, store.UploadFile(srcFile, "src/key"))

	require.NoError(t, store.Copy("src/key", "dst/key"))

	exists, err := store.Exists("dst/key")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = store.Exists("src/key")
	require.NoError(t, err)
	assert.True(t, exists, "copy should not remove the source")
}

func TestLocalStore_Type(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "local", store.Type())
}

func TestLocalStore_List_EmptyPrefix_ReturnsNilWithoutError(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	keys, err := store.List("nonexistent")
	require.NoError(t, err)
	assert.Empty(t, keys)
}
