package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/starford/notetaker/internal/models"
)

// ErrInvalidName is returned for names that are not a plain file name
// inside the notes directory.
var ErrInvalidName = errors.New("storage: invalid file name")

// FS implements NoteStore backed by a single local directory.
type FS struct {
	root string // absolute path to the notes directory
}

var _ NoteStore = (*FS)(nil)

// NewFS creates a store rooted at dir. The directory does not need to
// exist yet; EnsureDir creates it.
func NewFS(dir string) (*FS, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	return &FS{root: abs}, nil
}

// Root returns the absolute notes directory.
func (f *FS) Root() string {
	return f.root
}

// EnsureDir creates the notes directory if needed.
func (f *FS) EnsureDir() error {
	info, err := os.Stat(f.root)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("storage: root is not a directory: %s", f.root)
		}
		return nil
	}
	if err := os.MkdirAll(f.root, 0o755); err != nil {
		return fmt.Errorf("storage: mkdir: %w", err)
	}
	return nil
}

// safePath resolves name inside the root and rejects anything that is not
// a plain file name (separators, traversal, absolute paths).
func (f *FS) safePath(name string) (string, error) {
	if name == "" || name == "." || name == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if filepath.IsAbs(name) || strings.ContainsAny(name, `/\`) || filepath.Base(name) != name {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	abs := filepath.Join(f.root, name)
	if filepath.Dir(abs) != f.root {
		return "", fmt.Errorf("%w: %q escapes notes directory", ErrInvalidName, name)
	}
	return abs, nil
}

// List returns the entries of the notes directory, without recursing.
func (f *FS) List() ([]models.Entry, error) {
	des, err := os.ReadDir(f.root)
	if err != nil {
		return nil, fmt.Errorf("storage: list: %w", err)
	}
	out := make([]models.Entry, 0, len(des))
	for _, d := range des {
		out = append(out, models.Entry{Name: d.Name(), IsDir: d.IsDir()})
	}
	return out, nil
}

// ReadText returns the content of a note file.
func (f *FS) ReadText(name string) (string, error) {
	abs, err := f.safePath(name)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", fmt.Errorf("storage: read %s: %w", name, err)
	}
	return string(data), nil
}

// WriteText atomically writes content: tmp file → fsync → rename.
func (f *FS) WriteText(name, text string) error {
	abs, err := f.safePath(name)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(f.root, ".notetaker-tmp-*")
	if err != nil {
		return fmt.Errorf("storage: create temp: %w", err)
	}
	tmpName := tmp.Name()

	// Clean up on any failure path.
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.WriteString(text); err != nil {
		return fmt.Errorf("storage: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("storage: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: close temp: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return fmt.Errorf("storage: rename temp: %w", err)
	}
	success = true
	return nil
}

// Rename moves a note file within the notes directory.
func (f *FS) Rename(oldName, newName string) error {
	absOld, err := f.safePath(oldName)
	if err != nil {
		return err
	}
	absNew, err := f.safePath(newName)
	if err != nil {
		return err
	}
	if err := os.Rename(absOld, absNew); err != nil {
		return fmt.Errorf("storage: rename %s: %w", oldName, err)
	}
	return nil
}

// Delete removes a note file.
func (f *FS) Delete(name string) error {
	abs, err := f.safePath(name)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil {
		return fmt.Errorf("storage: delete %s: %w", name, err)
	}
	return nil
}
