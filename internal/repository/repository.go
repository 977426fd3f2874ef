// Package repository holds the canonical in-memory note collection.
package repository

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/starford/notetaker/internal/apperr"
	"github.com/starford/notetaker/internal/models"
	"github.com/starford/notetaker/internal/parser"
)

// IDLayout is the time layout of generated note ids (YYYYMMDDhhmm).
const IDLayout = "200601021504"

// Option configures a Repository.
type Option func(*Repository)

// WithClock overrides the time source used to generate ids.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) {
		r.now = now
	}
}

// Repository is the in-memory note collection. All methods are safe for
// concurrent use; mutations never touch disk.
type Repository struct {
	mu    sync.RWMutex
	notes []models.Note
	pos   map[string]int // id -> index in notes
	now   func() time.Time
}

// New creates an empty repository.
func New(opts ...Option) *Repository {
	r := &Repository{
		pos: make(map[string]int),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load replaces the collection with notes. Links are re-parsed from content.
// Notes with a duplicate id or title are skipped; the skipped ones are
// returned.
func (r *Repository) Load(notes []models.Note) []models.Note {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.notes = r.notes[:0]
	r.pos = make(map[string]int, len(notes))
	titles := make(map[string]struct{}, len(notes))
	var skipped []models.Note
	for _, n := range notes {
		if _, dup := r.pos[n.ID]; dup {
			skipped = append(skipped, n)
			continue
		}
		if _, dup := titles[n.Title]; dup {
			skipped = append(skipped, n)
			continue
		}
		titles[n.Title] = struct{}{}
		n.Links = parser.Parse(n.Content, n.ID)
		r.pos[n.ID] = len(r.notes)
		r.notes = append(r.notes, n)
	}
	return skipped
}

// Create inserts a new empty note whose id and title are the current local
// time as YYYYMMDDhhmm. A taken id is bumped by one until a free one is
// found.
func (r *Repository) Create() (models.Note, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, err := r.freeID(r.now().Format(IDLayout))
	if err != nil {
		return models.Note{}, err
	}
	n := models.Note{ID: id, Title: id}
	r.pos[id] = len(r.notes)
	r.notes = append(r.notes, n)
	return n.Clone(), nil
}

// Insert adds an externally discovered note. Links are parsed from content.
func (r *Repository) Insert(n models.Note) (models.Note, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if strings.TrimSpace(n.Title) == "" {
		return models.Note{}, fmt.Errorf("repository: insert: %w", apperr.ErrInvalidTitle)
	}
	if r.titleTakenLocked(n.Title, "") {
		return models.Note{}, fmt.Errorf("repository: insert %q: %w", n.Title, apperr.ErrTitleTaken)
	}
	if _, taken := r.pos[n.ID]; taken || n.ID == "" {
		id, err := r.freeID(r.now().Format(IDLayout))
		if err != nil {
			return models.Note{}, err
		}
		n.ID = id
	}
	n.Links = parser.Parse(n.Content, n.ID)
	r.pos[n.ID] = len(r.notes)
	r.notes = append(r.notes, n)
	return n.Clone(), nil
}

// freeID returns candidate or the first integer successor of it that is
// neither an id nor a title in use.
func (r *Repository) freeID(candidate string) (string, error) {
	id := candidate
	// Every note occupies at most two values (its id and its title).
	attempts := 2*len(r.notes) + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if _, taken := r.pos[id]; !taken && !r.titleTakenLocked(id, "") {
			return id, nil
		}
		num, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			return "", fmt.Errorf("repository: bump id %q: %w", id, err)
		}
		id = strconv.FormatInt(num+1, 10)
	}
	return "", fmt.Errorf("repository: create after %d attempts: %w", attempts, apperr.ErrIDExhaustion)
}

// UpdateContent replaces a note's content and re-parses its links in the
// same step. It reports false when the id is unknown or nothing changed.
func (r *Repository) UpdateContent(id, content string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.pos[id]
	if !ok {
		return false
	}
	if r.notes[i].Content == content {
		return false
	}
	r.notes[i].Content = content
	r.notes[i].Links = parser.Parse(content, id)
	return true
}

// SwapContent replaces the content of id only if its title and content
// still equal the ones in seen. It reports whether the swap happened.
func (r *Repository) SwapContent(seen models.Note, content string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.pos[seen.ID]
	if !ok || r.notes[i].Title != seen.Title || r.notes[i].Content != seen.Content {
		return false
	}
	r.notes[i].Content = content
	r.notes[i].Links = parser.Parse(content, seen.ID)
	return true
}

// UpdateTitle renames a note in memory. Unknown ids and blank titles are
// silently ignored (false, nil). A title held by another note yields
// apperr.ErrTitleTaken. Callers validate titles against the filename
// policy before calling.
func (r *Repository) UpdateTitle(id, title string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.pos[id]
	if !ok || strings.TrimSpace(title) == "" {
		return false, nil
	}
	if r.notes[i].Title == title {
		return false, nil
	}
	if r.titleTakenLocked(title, id) {
		return false, fmt.Errorf("repository: rename to %q: %w", title, apperr.ErrTitleTaken)
	}
	r.notes[i].Title = title
	return true, nil
}

// Delete removes a note and returns it. Unknown ids are ignored.
func (r *Repository) Delete(id string) (models.Note, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.pos[id]
	if !ok {
		return models.Note{}, false
	}
	removed := r.notes[i]
	r.notes = append(r.notes[:i], r.notes[i+1:]...)
	delete(r.pos, id)
	for j := i; j < len(r.notes); j++ {
		r.pos[r.notes[j].ID] = j
	}
	return removed, true
}

// DeleteIfUnchanged removes seen.ID only if its title and content still
// equal the ones in seen.
func (r *Repository) DeleteIfUnchanged(seen models.Note) bool {
	r.mu.Lock()
	i, ok := r.pos[seen.ID]
	unchanged := ok && r.notes[i].Title == seen.Title && r.notes[i].Content == seen.Content
	r.mu.Unlock()
	if !unchanged {
		return false
	}
	_, ok = r.Delete(seen.ID)
	return ok
}

// Find returns the note with the given id.
func (r *Repository) Find(id string) (models.Note, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i, ok := r.pos[id]
	if !ok {
		return models.Note{}, false
	}
	return r.notes[i].Clone(), true
}

// FindByTitle returns the note with exactly the given title.
func (r *Repository) FindByTitle(title string) (models.Note, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, n := range r.notes {
		if n.Title == title {
			return n.Clone(), true
		}
	}
	return models.Note{}, false
}

// IndexOf returns the position of id in insertion order, for correlating
// notes with UI rows.
func (r *Repository) IndexOf(id string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i, ok := r.pos[id]
	return i, ok
}

// All returns a snapshot of every note in insertion order.
func (r *Repository) All() []models.Note {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Note, len(r.notes))
	for i, n := range r.notes {
		out[i] = n.Clone()
	}
	return out
}

// Len returns the number of notes.
func (r *Repository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.notes)
}

func (r *Repository) titleTakenLocked(title, exceptID string) bool {
	for _, n := range r.notes {
		if n.Title == title && n.ID != exceptID {
			return true
		}
	}
	return false
}
