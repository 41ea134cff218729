package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// FileStore implements KV using the filesystem
type FileStore struct {
	baseDir string
}

// NewFileStore creates a file-backed store in the OS cache directory
func NewFileStore(appName string) (*FileStore, error) {
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get user cache directory: %w", err)
	}

	baseDir := filepath.Join(cacheDir, appName)
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory %s: %w", baseDir, err)
	}

	return &FileStore{baseDir: baseDir}, nil
}

// NewFileStoreWithDir creates a file-backed store in a specific directory
func NewFileStoreWithDir(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory %s: %w", dir, err)
	}

	return &FileStore{baseDir: dir}, nil
}

// Get returns the stored value for key
func (s *FileStore) Get(key string) (string, error) {
	data, err := os.ReadFile(s.keyToFilename(key))
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to read store file: %w", err)
	}
	return string(data), nil
}

// Set stores value under key
func (s *FileStore) Set(key, value string) error {
	filename := s.keyToFilename(key)

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return fmt.Errorf("failed to create store subdirectory: %w", err)
	}

	if err := os.WriteFile(filename, []byte(value), 0644); err != nil {
		return fmt.Errorf("failed to write store file: %w", err)
	}
	return nil
}

// Delete removes the value stored under key
func (s *FileStore) Delete(key string) error {
	err := os.Remove(s.keyToFilename(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete store file: %w", err)
	}
	return nil
}

// keyToFilename converts a store key to a safe filename
func (s *FileStore) keyToFilename(key string) string {
	// Hash the key to ensure it's filesystem-safe and not too long
	hash := sha256.Sum256([]byte(key))
	hashStr := hex.EncodeToString(hash[:])

	// Use first two characters for subdirectory to avoid too many files in one dir
	subdir := hashStr[:2]
	filename := hashStr[2:] + ".kv"

	return filepath.Join(s.baseDir, subdir, filename)
}
