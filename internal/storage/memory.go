package storage

import (
	"context"
	"io"
	"sync"

	"callcore/pkg/errors"
)

// MemoryStore is an in-process ObjectStore for tests and local development.
type MemoryStore struct {
	// FailUploads makes every upload fail until cleared, for retry tests
	FailUploads bool

	mu      sync.Mutex
	objects map[string][]byte
}

// NewMemoryStore creates an empty in-process store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

// Upload implements ObjectStore
func (s *MemoryStore) Upload(_ context.Context, objectName, _ string, r io.Reader, size int64, progress ProgressFunc) (string, error) {
	reader := io.Reader(r)
	if progress != nil {
		reader = newCountingReader(r, size, progress)
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return "", errors.UploadFailedError(err)
	}

	s.mu.Lock()
	fail := s.FailUploads
	if !fail {
		s.objects[objectName] = data
	}
	s.mu.Unlock()

	if fail {
		return "", errors.UploadFailedError(io.ErrUnexpectedEOF)
	}
	return s.PublicURL(objectName), nil
}

// PublicURL implements ObjectStore
func (s *MemoryStore) PublicURL(objectName string) string {
	return "memory://attachments/" + objectName
}

// Object returns a stored blob, for assertions
func (s *MemoryStore) Object(objectName string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[objectName]
	return data, ok
}
