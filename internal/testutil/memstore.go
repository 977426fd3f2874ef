package testutil

import (
	"fmt"
	"io/fs"
	"sort"
	"sync"
	"time"

	"github.com/starford/notetaker/internal/models"
	"github.com/starford/notetaker/internal/storage"
)

// Op is one recorded NoteStore call.
type Op struct {
	Kind    string // "ensure", "list", "read", "write", "rename", "delete"
	Name    string
	NewName string
	Text    string
}

// MemStore is an in-memory storage.NoteStore that records every call.
// Failures and latency can be injected per operation.
type MemStore struct {
	mu      sync.Mutex
	files   map[string]string
	dirs    map[string]struct{}
	ops     []Op
	missing bool

	writeErr   error
	renameErr  error
	readErr    map[string]error
	writeDelay time.Duration
}

var _ storage.NoteStore = (*MemStore)(nil)

// NewMemStore creates an empty store whose directory already exists.
func NewMemStore() *MemStore {
	return &MemStore{
		files:   make(map[string]string),
		dirs:    make(map[string]struct{}),
		readErr: make(map[string]error),
	}
}

// NewMissingMemStore creates a store whose directory does not exist: List
// fails until EnsureDir is called.
func NewMissingMemStore() *MemStore {
	s := NewMemStore()
	s.missing = true
	return s
}

// FailWrites makes every WriteText return err; nil restores success.
func (s *MemStore) FailWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeErr = err
}

// FailRenames makes every Rename return err; nil restores success.
func (s *MemStore) FailRenames(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.renameErr = err
}

// FailRead makes ReadText of name return err.
func (s *MemStore) FailRead(name string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readErr[name] = err
}

// SlowWrites sleeps d inside every WriteText to widen race windows.
func (s *MemStore) SlowWrites(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeDelay = d
}

// Seed places a file without recording an operation.
func (s *MemStore) Seed(name, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[name] = text
}

// SeedDir places a subdirectory entry.
func (s *MemStore) SeedDir(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirs[name] = struct{}{}
}

// File returns the content of name and whether it exists.
func (s *MemStore) File(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text, ok := s.files[name]
	return text, ok
}

// Names returns the sorted file names.
func (s *MemStore) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.files))
	for n := range s.files {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Ops returns a copy of the recorded operations.
func (s *MemStore) Ops() []Op {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Op, len(s.ops))
	copy(out, s.ops)
	return out
}

// OpsOf returns the recorded operations of one kind.
func (s *MemStore) OpsOf(kind string) []Op {
	var out []Op
	for _, op := range s.Ops() {
		if op.Kind == kind {
			out = append(out, op)
		}
	}
	return out
}

// ResetOps clears the operation log.
func (s *MemStore) ResetOps() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = nil
}

func (s *MemStore) record(op Op) {
	s.ops = append(s.ops, op)
}

func (s *MemStore) EnsureDir() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(Op{Kind: "ensure"})
	s.missing = false
	return nil
}

func (s *MemStore) List() ([]models.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(Op{Kind: "list"})
	if s.missing {
		return nil, fmt.Errorf("memstore: list: %w", fs.ErrNotExist)
	}
	out := make([]models.Entry, 0, len(s.files)+len(s.dirs))
	for n := range s.files {
		out = append(out, models.Entry{Name: n})
	}
	for d := range s.dirs {
		out = append(out, models.Entry{Name: d, IsDir: true})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemStore) ReadText(name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(Op{Kind: "read", Name: name})
	if err := s.readErr[name]; err != nil {
		return "", err
	}
	text, ok := s.files[name]
	if !ok {
		return "", fmt.Errorf("memstore: read %s: %w", name, fs.ErrNotExist)
	}
	return text, nil
}

func (s *MemStore) WriteText(name, text string) error {
	s.mu.Lock()
	delay := s.writeDelay
	s.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(Op{Kind: "write", Name: name, Text: text})
	if s.writeErr != nil {
		return s.writeErr
	}
	s.files[name] = text
	return nil
}

func (s *MemStore) Rename(oldName, newName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(Op{Kind: "rename", Name: oldName, NewName: newName})
	if s.renameErr != nil {
		return s.renameErr
	}
	text, ok := s.files[oldName]
	if !ok {
		return fmt.Errorf("memstore: rename %s: %w", oldName, fs.ErrNotExist)
	}
	delete(s.files, oldName)
	s.files[newName] = text
	return nil
}

func (s *MemStore) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(Op{Kind: "delete", Name: name})
	if _, ok := s.files[name]; !ok {
		return fmt.Errorf("memstore: delete %s: %w", name, fs.ErrNotExist)
	}
	delete(s.files, name)
	return nil
}
