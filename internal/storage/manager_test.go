// manager_test.go - Tests for the uploaded tester-file store
package storage

import (
	"bytes"
	"compress/gzip"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestStore(t *testing.T, allowed ...string) *LocalStore {
	t.Helper()
	store, err := NewLocalStore(filepath.Join(t.TempDir(), "uploads"), allowed...)
	require.NoError(t, err)
	return store
}

func TestNewLocalStore_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "uploads")
	_, err := NewLocalStore(dir)
	require.NoError(t, err)
	assert.DirExists(t, dir)
}

func TestLocalStore_SaveKeepsExtension(t *testing.T) {
	store := createTestStore(t)
	info, err := store.Save("../../etc/board.CSV", strings.NewReader("#DMC,B1\n"))
	require.NoError(t, err)

	assert.Equal(t, "board.CSV", info.Name)
	assert.Equal(t, int64(8), info.Size)
	assert.Equal(t, "uploaded", info.Status)

	path, err := store.GetFilePath(info.ID)
	require.NoError(t, err)
	assert.Equal(t, info.ID+".csv", filepath.Base(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "#DMC,B1\n", string(data))
}

func TestLocalStore_SaveInflatesGzip(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte("{@BATCH|PRODX}\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())

	store := createTestStore(t, ".log")
	info, err := store.Save("run.log.gz", &buf)
	require.NoError(t, err)
	assert.Equal(t, "run.log", info.Name)

	path, err := store.GetFilePath(info.ID)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{@BATCH|PRODX}\n", string(data))
}

func TestLocalStore_RejectsFileType(t *testing.T) {
	store := createTestStore(t, ".log", ".csv")
	_, err := store.Save("notes.docx", strings.NewReader("x"))
	assert.True(t, errors.Is(err, ErrFileType))

	list, err := store.List(10)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestLocalStore_ListAndDelete(t *testing.T) {
	store := createTestStore(t)
	a, err := store.Save("a.csv", strings.NewReader("a"))
	require.NoError(t, err)
	b, err := store.Save("b.csv", strings.NewReader("b"))
	require.NoError(t, err)

	list, err := store.List(0)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	list, err = store.List(1)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	path, err := store.GetFilePath(a.ID)
	require.NoError(t, err)
	require.NoError(t, store.Delete(a.ID))
	assert.NoFileExists(t, path)

	_, err = store.Get(a.ID)
	assert.ErrorIs(t, err, ErrFileNotFound)
	assert.ErrorIs(t, store.Delete(a.ID), ErrFileNotFound)

	got, err := store.Get(b.ID)
	require.NoError(t, err)
	assert.Equal(t, "b.csv", got.Name)
}

func TestLocalStore_SetStatus(t *testing.T) {
	store := createTestStore(t)
	info, err := store.Save("a.csv", strings.NewReader("a"))
	require.NoError(t, err)

	require.NoError(t, store.SetStatus(info.ID, "loaded", "load-1"))
	got, err := store.Get(info.ID)
	require.NoError(t, err)
	assert.Equal(t, "loaded", got.Status)
	assert.Equal(t, "load-1", got.LoadID)
	assert.Equal(t, "uploaded", info.Status, "Get returns copies")

	assert.ErrorIs(t, store.SetStatus("missing", "loaded", ""), ErrFileNotFound)
}

func TestLocalStore_ChunkedUpload(t *testing.T) {
	store := createTestStore(t)
	parts := []string{"#DMC,B1\n", "#PRODUCT,PRODX\n", "VCC,3.3,V,3.2,3.4,,\n"}
	for i, p := range parts {
		require.NoError(t, store.SaveChunk("up-1", i, strings.NewReader(p)))
	}

	info, err := store.CompleteChunkedUpload("up-1", "board.csv", len(parts))
	require.NoError(t, err)
	assert.Equal(t, int64(len(strings.Join(parts, ""))), info.Size)

	path, err := store.GetFilePath(info.ID)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strings.Join(parts, ""), string(data))
	assert.NoDirExists(t, filepath.Join(store.uploadDir, "chunks", "up-1"))
}

func TestLocalStore_ChunkedUploadErrors(t *testing.T) {
	store := createTestStore(t)
	assert.Error(t, store.SaveChunk("../escape", 0, strings.NewReader("x")))
	assert.Error(t, store.SaveChunk("up", -1, strings.NewReader("x")))

	require.NoError(t, store.SaveChunk("up-2", 0, strings.NewReader("x")))
	_, err := store.CompleteChunkedUpload("up-2", "a.csv", 2)
	assert.Error(t, err, "missing chunk 1")
}
