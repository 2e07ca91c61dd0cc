package persistence

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FileExtension is the suffix of every container file managed by a Store.
const FileExtension = ".vdb"

// Store manages a directory of named container files.
//
// Each name maps to <dir>/<name>.vdb. Writes are atomic: content goes to
// a temp file in the same directory, then renamed over the target.
type Store struct {
	dir string
}

// NewStore creates a store rooted at dir, creating the directory if
// needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("persistence: failed to create directory %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the store's root directory.
func (s *Store) Dir() string { return s.dir }

// Path returns the file path a name maps to.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name+FileExtension)
}

// Save encodes the payload into a container and atomically writes it
// under the given name.
func (s *Store) Save(name string, payload []byte, compression CompressionType) error {
	encoded, err := Encode(payload, compression)
	if err != nil {
		return fmt.Errorf("persistence: encode %s: %w", name, err)
	}

	return SaveToFile(s.Path(name), func(w io.Writer) error {
		_, err := w.Write(encoded)
		return err
	})
}

// Load reads and verifies the container stored under the given name and
// returns its payload. A missing name yields an os.ErrNotExist error.
func (s *Store) Load(name string) ([]byte, error) {
	data, err := os.ReadFile(s.Path(name))
	if err != nil {
		return nil, err
	}

	payload, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("persistence: decode %s: %w", name, err)
	}
	return payload, nil
}

// Delete removes the container stored under the given name. Deleting a
// missing name is not an error.
func (s *Store) Delete(name string) error {
	err := os.Remove(s.Path(name))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("persistence: delete %s: %w", name, err)
	}
	return nil
}

// Exists reports whether a container is stored under the given name.
func (s *Store) Exists(name string) bool {
	_, err := os.Stat(s.Path(name))
	return err == nil
}

// List returns the names of all stored containers, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("persistence: list %s: %w", s.dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), FileExtension) {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), FileExtension))
	}
	sort.Strings(names)
	return names, nil
}

// SaveToFile writes content atomically: the write goes to a temp file in
// the same directory, which is then renamed over the target.
func SaveToFile(filename string, writeFunc func(io.Writer) error) error {
	dir := filepath.Dir(filename)
	base := filepath.Base(filename)

	tmp, err := os.CreateTemp(dir, base+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	// Match typical file permissions (best-effort).
	_ = tmp.Chmod(0644)

	buf := bufio.NewWriterSize(tmp, 256*1024)
	if err := writeFunc(buf); err != nil {
		return err
	}
	if err := buf.Flush(); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmpName, filename); err != nil {
		return err
	}

	// Best-effort: fsync the directory so the rename is durable on POSIX.
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}

	return nil
}
