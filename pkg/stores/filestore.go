package stores

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/spf13/afero"
)

// ErrIO marks filesystem failures other than a missing file.
var ErrIO = errors.New("io fault")

// FileStore is the filesystem capability the loader probes and reads
// module sources through.
type FileStore interface {
	Exists(path string) bool
	IsDir(path string) bool
	IsFile(path string) bool

	// Read returns the file content. A missing file is reported with an
	// error matching fs.ErrNotExist, anything else with ErrIO.
	Read(path string) ([]byte, error)

	// Join joins path elements with the store's separator.
	Join(elem ...string) string
}

// AferoFileStore implements FileStore on top of an afero filesystem.
type AferoFileStore struct {
	FS afero.Afero
}

// NewAferoFileStore wraps fsys.
func NewAferoFileStore(fsys afero.Fs) *AferoFileStore {
	return &AferoFileStore{FS: afero.Afero{Fs: fsys}}
}

// NewOSFileStore returns a store over the host filesystem.
func NewOSFileStore() *AferoFileStore {
	return NewAferoFileStore(afero.NewOsFs())
}

// NewReadOnlyFileStore returns a store over the host filesystem that
// rejects writes. The loader never writes, but the fs module handed to
// scripts goes through the same store.
func NewReadOnlyFileStore(root string) *AferoFileStore {
	base := afero.NewOsFs()
	if root != "" {
		base = afero.NewBasePathFs(base, root)
	}
	return NewAferoFileStore(afero.NewReadOnlyFs(base))
}

// Exists reports whether anything exists at path.
func (s *AferoFileStore) Exists(path string) bool {
	ok, err := s.FS.Exists(path)
	return err == nil && ok
}

// IsDir reports whether path is a directory.
func (s *AferoFileStore) IsDir(path string) bool {
	ok, err := s.FS.IsDir(path)
	return err == nil && ok
}

// IsFile reports whether path is a regular file.
func (s *AferoFileStore) IsFile(path string) bool {
	info, err := s.FS.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Read reads the whole file at path.
func (s *AferoFileStore) Read(path string) ([]byte, error) {
	data, err := s.FS.ReadFile(path)
	if err == nil {
		return data, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return nil, fmt.Errorf("read %s: %w: %v", path, ErrIO, err)
}

// Join joins path elements.
func (s *AferoFileStore) Join(elem ...string) string {
	return filepath.Join(elem...)
}
