// Package storage keeps uploaded tester files on the local filesystem.
package storage

import (
	"bufio"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ictyield/backend/internal/models"
)

var (
	// ErrFileNotFound is returned for an unknown file id.
	ErrFileNotFound = errors.New("file not found")
	// ErrFileType is returned when an upload's extension is not allowed.
	ErrFileType = errors.New("file type not allowed")
)

// Store defines the interface for file storage.
type Store interface {
	Save(name string, r io.Reader) (*models.FileInfo, error)
	Get(id string) (*models.FileInfo, error)
	List(limit int) ([]*models.FileInfo, error)
	Delete(id string) error
	GetFilePath(id string) (string, error)
	SetStatus(id, status, loadID string) error
	SaveChunk(uploadID string, chunkIndex int, r io.Reader) error
	CompleteChunkedUpload(uploadID string, name string, totalChunks int) (*models.FileInfo, error)
}

// LocalStore implements Store using the local filesystem. Files are stored as
// <id><ext> so the parser registry can still dispatch on the extension.
type LocalStore struct {
	mu        sync.RWMutex
	uploadDir string
	allowed   map[string]struct{}
	files     map[string]*models.FileInfo
}

// NewLocalStore creates a new LocalStore. An empty allowed list accepts every extension.
func NewLocalStore(uploadDir string, allowed ...string) (*LocalStore, error) {
	if err := os.MkdirAll(uploadDir, 0755); err != nil {
		return nil, fmt.Errorf("creating upload directory: %w", err)
	}

	s := &LocalStore{
		uploadDir: uploadDir,
		files:     make(map[string]*models.FileInfo),
	}
	if len(allowed) > 0 {
		s.allowed = make(map[string]struct{}, len(allowed))
		for _, ext := range allowed {
			s.allowed[strings.ToLower(ext)] = struct{}{}
		}
	}
	return s, nil
}

// storedName drops a trailing .gz and returns the name the content is stored under.
func storedName(name string) (string, bool) {
	if strings.EqualFold(filepath.Ext(name), ".gz") {
		return name[:len(name)-3], true
	}
	return name, false
}

func (s *LocalStore) checkType(name string) error {
	if s.allowed == nil {
		return nil
	}
	if _, ok := s.allowed[strings.ToLower(filepath.Ext(name))]; !ok {
		return fmt.Errorf("%w: %s", ErrFileType, name)
	}
	return nil
}

// Save stores an upload. Gzip-compressed content is inflated on the way in.
func (s *LocalStore) Save(name string, r io.Reader) (*models.FileInfo, error) {
	name = filepath.Base(name)
	plain, _ := storedName(name)
	if err := s.checkType(plain); err != nil {
		return nil, err
	}

	id := uuid.New().String()
	path := filepath.Join(s.uploadDir, id+strings.ToLower(filepath.Ext(plain)))

	size, err := writeContent(path, r)
	if err != nil {
		return nil, err
	}

	info := &models.FileInfo{
		ID:         id,
		Name:       plain,
		Size:       size,
		UploadedAt: time.Now(),
		Status:     "uploaded",
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[id] = info

	log.Debug().Str("id", id).Str("name", plain).Int64("size", size).Msg("file stored")
	return info, nil
}

// writeContent copies r to path, inflating it when it starts with the gzip magic.
func writeContent(path string, r io.Reader) (int64, error) {
	br := bufio.NewReader(r)
	var src io.Reader = br
	if magic, err := br.Peek(2); err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return 0, fmt.Errorf("opening gzip stream: %w", err)
		}
		defer gz.Close()
		src = gz
	}

	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("creating file: %w", err)
	}
	defer f.Close()

	size, err := io.Copy(f, src)
	if err != nil {
		os.Remove(path)
		return 0, fmt.Errorf("writing file: %w", err)
	}
	return size, nil
}

// Get retrieves file metadata by ID.
func (s *LocalStore) Get(id string) (*models.FileInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, ok := s.files[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, id)
	}
	c := *info
	return &c, nil
}

// List returns the most recent files.
func (s *LocalStore) List(limit int) ([]*models.FileInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]*models.FileInfo, 0, len(s.files))
	for _, info := range s.files {
		c := *info
		list = append(list, &c)
	}

	sort.Slice(list, func(i, j int) bool {
		if list[i].UploadedAt.Equal(list[j].UploadedAt) {
			return list[i].Name < list[j].Name
		}
		return list[i].UploadedAt.After(list[j].UploadedAt)
	})

	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}

	return list, nil
}

// Delete removes a file from storage.
func (s *LocalStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.files[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrFileNotFound, id)
	}

	if err := os.Remove(s.pathOf(info)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting file: %w", err)
	}

	delete(s.files, id)
	return nil
}

// SetStatus records what happened to a file after upload.
func (s *LocalStore) SetStatus(id, status, loadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.files[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrFileNotFound, id)
	}
	info.Status = status
	info.LoadID = loadID
	return nil
}

// GetFilePath returns the absolute path to a file.
func (s *LocalStore) GetFilePath(id string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, ok := s.files[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrFileNotFound, id)
	}

	return s.pathOf(info), nil
}

func (s *LocalStore) pathOf(info *models.FileInfo) string {
	return filepath.Join(s.uploadDir, info.ID+strings.ToLower(filepath.Ext(info.Name)))
}

func (s *LocalStore) chunkDir(uploadID string) (string, error) {
	if uploadID == "" || strings.ContainsAny(uploadID, `/\`) || strings.Contains(uploadID, "..") {
		return "", fmt.Errorf("invalid upload id: %q", uploadID)
	}
	return filepath.Join(s.uploadDir, "chunks", uploadID), nil
}

// SaveChunk saves a single chunk to a temporary location.
func (s *LocalStore) SaveChunk(uploadID string, chunkIndex int, r io.Reader) error {
	chunkDir, err := s.chunkDir(uploadID)
	if err != nil {
		return err
	}
	if chunkIndex < 0 {
		return fmt.Errorf("invalid chunk index: %d", chunkIndex)
	}
	if err := os.MkdirAll(chunkDir, 0755); err != nil {
		return fmt.Errorf("creating chunk directory: %w", err)
	}

	path := filepath.Join(chunkDir, fmt.Sprintf("chunk_%d", chunkIndex))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating chunk file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("writing chunk: %w", err)
	}

	return nil
}

// CompleteChunkedUpload assembles all chunks into a final file and stores it like Save.
func (s *LocalStore) CompleteChunkedUpload(uploadID string, name string, totalChunks int) (*models.FileInfo, error) {
	chunkDir, err := s.chunkDir(uploadID)
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(chunkDir)

	readers := make([]io.Reader, 0, totalChunks)
	for i := 0; i < totalChunks; i++ {
		in, err := os.Open(filepath.Join(chunkDir, fmt.Sprintf("chunk_%d", i)))
		if err != nil {
			return nil, fmt.Errorf("opening chunk %d: %w", i, err)
		}
		defer in.Close()
		readers = append(readers, in)
	}

	return s.Save(name, io.MultiReader(readers...))
}
