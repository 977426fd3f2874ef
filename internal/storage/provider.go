// Package storage defines the note store abstraction and its local
// directory implementation.
package storage

import "github.com/starford/notetaker/internal/models"

// NoteStore is the capability the engine needs over a directory of note
// files. Names are plain file names inside the notes directory.
type NoteStore interface {
	// EnsureDir creates the notes directory; an existing one is not an error.
	EnsureDir() error
	// List returns every entry directly inside the notes directory.
	List() ([]models.Entry, error)
	// ReadText returns the content of the named file.
	ReadText(name string) (string, error)
	// WriteText creates or replaces the named file with text.
	WriteText(name, text string) error
	// Rename moves oldName to newName. A missing oldName yields an error
	// matching fs.ErrNotExist.
	Rename(oldName, newName string) error
	// Delete removes the named file.
	Delete(name string) error
}
