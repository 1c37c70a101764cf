package blob

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cuemby/scuttle/pkg/errdefs"
)

const (
	// DefaultBlobsPath is the base directory for downloaded page content
	DefaultBlobsPath = "/var/lib/scuttle/blobs"
)

// Store defines the interface for page content storage
type Store interface {
	// Put writes a blob exactly once; a second write to the same ref fails
	Put(ref string, data []byte) error

	// Get returns the blob's content
	Get(ref string) ([]byte, error)

	// Exists reports whether the blob is present
	Exists(ref string) (bool, error)

	// Delete removes a blob (no error if already gone)
	Delete(ref string) error
}

// Ref builds the canonical blob reference for a download attempt.
func Ref(taskID string, attempt int) string {
	return fmt.Sprintf("%s/attempt-%d.html", taskID, attempt)
}

// LocalStore implements Store on the local filesystem
type LocalStore struct {
	basePath string
}

// NewLocalStore creates a filesystem-backed blob store
func NewLocalStore(basePath string) (*LocalStore, error) {
	if basePath == "" {
		basePath = DefaultBlobsPath
	}

	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create blobs directory: %w", err)
	}

	return &LocalStore{
		basePath: basePath,
	}, nil
}

// Put writes the blob with O_EXCL so a redelivered download result can never
// overwrite the content an earlier attempt already stored.
func (s *LocalStore) Put(ref string, data []byte) error {
	path, err := s.path(ref)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create blob directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("blob %s: %w", ref, errdefs.ErrDuplicate)
		}
		return fmt.Errorf("failed to create blob file: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write blob: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close blob: %w", err)
	}
	return nil
}

// Get returns the blob's content
func (s *LocalStore) Get(ref string) ([]byte, error) {
	path, err := s.path(ref)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errdefs.NotFound("blob", ref)
		}
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}
	return data, nil
}

// Exists reports whether the blob is present
func (s *LocalStore) Exists(ref string) (bool, error) {
	path, err := s.path(ref)
	if err != nil {
		return false, err
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat blob: %w", err)
	}
	return true, nil
}

// Delete removes a blob; deleting a missing blob is not an error
func (s *LocalStore) Delete(ref string) error {
	path, err := s.path(ref)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}

// path resolves a ref below the base directory, rejecting escapes
func (s *LocalStore) path(ref string) (string, error) {
	if ref == "" {
		return "", errdefs.InvalidArgument("empty blob ref")
	}
	clean := filepath.Clean(filepath.FromSlash(ref))
	if clean == "." || filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return "", errdefs.InvalidArgument("blob ref %q escapes the store", ref)
	}
	return filepath.Join(s.basePath, clean), nil
}
