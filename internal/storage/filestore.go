package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// FileStore keeps objects on the local filesystem under users/{owner}/{uuid}.{ext}.
type FileStore struct {
	root string
}

// NewFileStore creates the root directory if needed.
func NewFileStore(root string) (*FileStore, error) {
	if root == "" {
		return nil, errors.New("storage directory is required")
	}
	if err := os.MkdirAll(root, 0750); err != nil {
		return nil, fmt.Errorf("could not create storage directory: %w", err)
	}
	return &FileStore{root: root}, nil
}

// Put writes data and returns its locator. An empty contentType is detected from the bytes.
func (s *FileStore) Put(ctx context.Context, ownerKey string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	owner := sanitizeOwner(ownerKey)
	if owner == "" {
		return "", fmt.Errorf("%w: empty owner", ErrInvalidLocator)
	}
	if contentType == "" {
		contentType = DetectMIMEType(data)
	}

	locator := path.Join("users", owner, strings.ReplaceAll(uuid.NewString(), "-", "")+"."+extensionFor(contentType))
	full, err := s.resolve(locator)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0750); err != nil {
		return "", fmt.Errorf("could not create owner directory: %w", err)
	}
	if err := os.WriteFile(full, data, 0600); err != nil {
		return "", fmt.Errorf("could not write object: %w", err)
	}
	return locator, nil
}

// Get returns the bytes behind locator, or ErrNotFound.
func (s *FileStore) Get(ctx context.Context, locator string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := s.resolve(locator)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full) //nolint:gosec // path is confined to the store root by resolve
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, locator)
	}
	if err != nil {
		return nil, fmt.Errorf("could not read object: %w", err)
	}
	return data, nil
}

// Delete removes the object. Missing objects are not an error.
func (s *FileStore) Delete(ctx context.Context, locator string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := s.resolve(locator)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("could not delete object: %w", err)
	}
	return nil
}

// resolve maps a locator to a path inside root, rejecting traversal.
func (s *FileStore) resolve(locator string) (string, error) {
	clean := path.Clean("/" + locator)
	if locator == "" || clean == "/" || clean != "/"+locator {
		return "", fmt.Errorf("%w: %q", ErrInvalidLocator, locator)
	}
	return filepath.Join(s.root, filepath.FromSlash(clean[1:])), nil
}

// sanitizeOwner keeps owner keys usable as a single path segment.
func sanitizeOwner(owner string) string {
	owner = strings.TrimSpace(owner)
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == 0 {
			return '_'
		}
		return r
	}, strings.Trim(owner, "."))
}
