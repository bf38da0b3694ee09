// Package storage persists the credential triple the session survives restarts
// with: three string keys in one small file, nothing else.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/marsitschool/review-agent/pkg/logger"
	"go.uber.org/zap"
)

// Persisted credential keys.
const (
	KeyAccessToken  = "token"
	KeyRefreshToken = "refreshToken"
	KeyUser         = "user"
)

// Store is a durable string key/value store.
type Store interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	Delete(key string) error
}

// FileStore keeps values in a single JSON file with owner-only permissions.
type FileStore struct {
	mu     sync.Mutex
	path   string
	values map[string]string
}

// NewFileStore opens (or creates) the store at path. A corrupt file is
// discarded and the store starts empty; credentials are re-established on the
// next login.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	fs := &FileStore{
		path:   path,
		values: make(map[string]string),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fs, nil
		}
		return nil, fmt.Errorf("failed to read credential store: %w", err)
	}

	if err := json.Unmarshal(data, &fs.values); err != nil {
		logger.Warn("Credential store is corrupt, starting empty",
			zap.String("path", path),
			zap.Error(err))
		fs.values = make(map[string]string)
	}

	return fs, nil
}

// Get returns the stored value for key.
func (fs *FileStore) Get(key string) (string, bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	value, ok := fs.values[key]
	return value, ok
}

// Set stores value under key and flushes to disk.
func (fs *FileStore) Set(key, value string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.values[key] = value
	return fs.save()
}

// Delete removes key and flushes to disk. Deleting an absent key is a no-op.
func (fs *FileStore) Delete(key string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, ok := fs.values[key]; !ok {
		return nil
	}
	delete(fs.values, key)
	return fs.save()
}

// save writes the store atomically: temp file in the same directory, then
// rename over the target.
func (fs *FileStore) save() error {
	data, err := json.MarshalIndent(fs.values, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode credential store: %w", err)
	}

	tmp := fs.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write credential store: %w", err)
	}
	if err := os.Rename(tmp, fs.path); err != nil {
		return fmt.Errorf("failed to replace credential store: %w", err)
	}

	return nil
}
