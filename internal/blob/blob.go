// Package blob persists compressed raw sounding text on disk, keyed by the
// deterministic file names produced by FileNameFor.
package blob

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrCorrupt marks a blob whose gzip stream cannot be decoded. Callers use it
// to distinguish a damaged file from a filesystem-level failure.
var ErrCorrupt = errors.New("corrupt blob")

// Store reads and writes gzip blobs in a single directory. Operations are
// plain filesystem calls with no locking; concurrent writers to the same name
// race, last write wins.
type Store struct {
	dir string
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the blob directory path.
func (s *Store) Dir() string { return s.dir }

// Store compresses text and writes it at name, replacing any existing blob.
// The write goes to a temp file first and is moved into place with a rename.
func (s *Store) Store(name, text string) error {
	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp blob: %w", err)
	}
	tmpName := tmp.Name()

	gz := gzip.NewWriter(tmp)
	if _, err := io.WriteString(gz, text); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("compress blob %s: %w", name, err)
	}
	if err := gz.Close(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("close gzip for %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp blob: %w", err)
	}

	if err := os.Rename(tmpName, filepath.Join(s.dir, name)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename blob into place: %w", err)
	}
	return nil
}

// Load decompresses the blob at name. A missing file surfaces as the
// underlying *fs.PathError; a bad gzip stream surfaces wrapped in ErrCorrupt.
func (s *Store) Load(name string) (string, error) {
	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		return "", fmt.Errorf("open blob %s: %w", name, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return "", fmt.Errorf("blob %s: %w: %v", name, ErrCorrupt, err)
	}
	defer gz.Close()

	data, err := io.ReadAll(gz)
	if err != nil {
		return "", fmt.Errorf("blob %s: %w: %v", name, ErrCorrupt, err)
	}
	return string(data), nil
}

// Remove deletes the blob at name, failing if it is absent.
func (s *Store) Remove(name string) error {
	if err := os.Remove(filepath.Join(s.dir, name)); err != nil {
		return fmt.Errorf("remove blob %s: %w", name, err)
	}
	return nil
}

// Enumerate returns the names of all blobs physically present. Temp files
// from interrupted writes are ignored.
func (s *Store) Enumerate() (map[string]struct{}, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list blob dir: %w", err)
	}
	names := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".tmp-") {
			continue
		}
		names[e.Name()] = struct{}{}
	}
	return names, nil
}

// CopyTo copies the compressed bytes of name into dst unchanged, with no
// recompression.
func (s *Store) CopyTo(name string, dst *Store) error {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return fmt.Errorf("read blob %s: %w", name, err)
	}
	tmp, err := os.CreateTemp(dst.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp blob: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write blob %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp blob: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(dst.dir, name)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename blob into place: %w", err)
	}
	return nil
}
