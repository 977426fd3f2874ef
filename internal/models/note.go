// Package models defines the domain types for notetaker.
package models

import "strings"

// NoteExt is the extension of every note file.
const NoteExt = ".txt"

// Note is a single titled text document backed by one file.
type Note struct {
	ID      string    `json:"id"`
	Title   string    `json:"title"`
	Content string    `json:"content"`
	Links   []LinkRef `json:"links,omitempty"`
}

// Clone returns a copy of n that shares no slices with it.
func (n Note) Clone() Note {
	if n.Links != nil {
		links := make([]LinkRef, len(n.Links))
		copy(links, n.Links)
		n.Links = links
	}
	return n
}

// LinkRef is one outgoing [[wiki link]] of a note.
// TargetID is empty while the target does not resolve (dangling).
type LinkRef struct {
	SourceID       string `json:"source_id"`
	TargetTitleRaw string `json:"target"`
	TargetID       string `json:"target_id,omitempty"`
	DisplayText    string `json:"text"`
}

// Resolved reports whether the link points at an existing note.
func (l LinkRef) Resolved() bool {
	return l.TargetID != ""
}

// Entry is a directory listing item returned by a note store.
type Entry struct {
	Name  string
	IsDir bool
}

// FileName returns the on-disk name for a note title.
func FileName(title string) string {
	return title + NoteExt
}

// TitleFromFile returns the title encoded in a note file name and whether
// the name is a note file at all.
func TitleFromFile(name string) (string, bool) {
	if !strings.HasSuffix(name, NoteExt) {
		return "", false
	}
	title := strings.TrimSuffix(name, NoteExt)
	if title == "" {
		return "", false
	}
	return title, true
}
