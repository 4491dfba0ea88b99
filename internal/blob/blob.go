// Package blob implements the object-store collaborator: upload bytes
// under a path, get back a durable public URL. The backing here is a
// local directory served over HTTP; the interface is what the admin
// features depend on, so a hosted bucket can slot in later.
package blob

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Store uploads objects and resolves their public URLs.
type Store interface {
	Upload(name string, r io.Reader) (string, error)
	PublicURL(name string) string
}

// DirStore keeps objects as files under Dir and serves them below
// BaseURL. Writes are last-writer-wins, like the hosted buckets it
// stands in for.
type DirStore struct {
	Dir     string
	BaseURL string
}

// NewDirStore creates the directory if needed.
func NewDirStore(dir, baseURL string) (*DirStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob dir: %w", err)
	}
	return &DirStore{Dir: dir, BaseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Upload stores the object and returns its public URL.
func (s *DirStore) Upload(name string, r io.Reader) (string, error) {
	clean, err := s.objectPath(name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(clean), 0o755); err != nil {
		return "", fmt.Errorf("failed to create object dir: %w", err)
	}

	f, err := os.Create(clean)
	if err != nil {
		return "", fmt.Errorf("failed to create object: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to write object: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to write object: %w", err)
	}
	return s.PublicURL(name), nil
}

// PublicURL returns the durable URL the object is served under.
func (s *DirStore) PublicURL(name string) string {
	return s.BaseURL + "/" + path.Clean(strings.TrimLeft(name, "/"))
}

// objectPath maps an object name onto the directory, refusing path
// escapes like "../".
func (s *DirStore) objectPath(name string) (string, error) {
	clean := path.Clean(strings.TrimLeft(name, "/"))
	if clean == "." || strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("invalid object name %q", name)
	}
	return filepath.Join(s.Dir, filepath.FromSlash(clean)), nil
}
