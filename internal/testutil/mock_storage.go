// mock_storage.go - In-memory storage.Store that writes file bodies to a temp dir
package testutil

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/ictyield/backend/internal/models"
	"github.com/ictyield/backend/internal/storage"
)

// MockStorage implements storage.Store for handler tests. Setting SaveErr makes every
// Save fail with it.
type MockStorage struct {
	mu      sync.RWMutex
	dir     string
	files   map[string]*models.FileInfo
	chunks  map[string]map[int][]byte // uploadID -> chunkIndex -> data
	counter int

	SaveErr error
}

// Ensure MockStorage implements storage.Store
var _ storage.Store = (*MockStorage)(nil)

// NewMockStorage creates a mock that keeps file bodies under dir.
func NewMockStorage(dir string) *MockStorage {
	return &MockStorage{
		dir:    dir,
		files:  make(map[string]*models.FileInfo),
		chunks: make(map[string]map[int][]byte),
	}
}

func (m *MockStorage) Save(name string, r io.Reader) (*models.FileInfo, error) {
	if m.SaveErr != nil {
		return nil, m.SaveErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return m.AddFile(name, data), nil
}

// AddFile stores data under a generated id and returns its metadata.
func (m *MockStorage) AddFile(name string, data []byte) *models.FileInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.counter++
	id := fmt.Sprintf("test-id-%d", m.counter)
	if err := os.WriteFile(filepath.Join(m.dir, id+"_"+name), data, 0644); err != nil {
		panic(fmt.Sprintf("failed to write test file: %v", err))
	}
	info := &models.FileInfo{
		ID:         id,
		Name:       name,
		Size:       int64(len(data)),
		UploadedAt: time.Now().Add(time.Duration(m.counter) * time.Millisecond),
		Status:     "uploaded",
	}
	m.files[id] = info
	return info
}

func (m *MockStorage) Get(id string) (*models.FileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	info, ok := m.files[id]
	if !ok {
		return nil, storage.ErrFileNotFound
	}
	c := *info
	return &c, nil
}

func (m *MockStorage) List(limit int) ([]*models.FileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	files := make([]*models.FileInfo, 0, len(m.files))
	for _, info := range m.files {
		c := *info
		files = append(files, &c)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].UploadedAt.After(files[j].UploadedAt) })
	if limit > 0 && len(files) > limit {
		files = files[:limit]
	}
	return files, nil
}

func (m *MockStorage) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, ok := m.files[id]
	if !ok {
		return storage.ErrFileNotFound
	}
	os.Remove(filepath.Join(m.dir, id+"_"+info.Name))
	delete(m.files, id)
	return nil
}

func (m *MockStorage) GetFilePath(id string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	info, ok := m.files[id]
	if !ok {
		return "", storage.ErrFileNotFound
	}
	return filepath.Join(m.dir, id+"_"+info.Name), nil
}

func (m *MockStorage) SetStatus(id, status, loadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, ok := m.files[id]
	if !ok {
		return storage.ErrFileNotFound
	}
	info.Status = status
	info.LoadID = loadID
	return nil
}

func (m *MockStorage) SaveChunk(uploadID string, chunkIndex int, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.chunks[uploadID] == nil {
		m.chunks[uploadID] = make(map[int][]byte)
	}
	m.chunks[uploadID][chunkIndex] = data
	return nil
}

func (m *MockStorage) CompleteChunkedUpload(uploadID string, name string, totalChunks int) (*models.FileInfo, error) {
	m.mu.Lock()
	uploadChunks, ok := m.chunks[uploadID]
	delete(m.chunks, uploadID)
	m.mu.Unlock()
	if !ok {
		return nil, errors.New("upload not found")
	}

	var data bytes.Buffer
	for i := 0; i < totalChunks; i++ {
		chunk, ok := uploadChunks[i]
		if !ok {
			return nil, fmt.Errorf("missing chunk %d", i)
		}
		data.Write(chunk)
	}
	return m.AddFile(name, data.Bytes()), nil
}

// FileCount returns the number of stored files
func (m *MockStorage) FileCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.files)
}
