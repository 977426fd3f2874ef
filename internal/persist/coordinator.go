// Package persist coordinates debounced autosave and rename-on-retitle of
// notes against a NoteStore.
package persist

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/starford/notetaker/internal/apperr"
	"github.com/starford/notetaker/internal/checksum"
	"github.com/starford/notetaker/internal/debounce"
	"github.com/starford/notetaker/internal/models"
	"github.com/starford/notetaker/internal/storage"
)

// DefaultDelay is the quiet period after the last change before a save.
const DefaultDelay = time.Second

// flushConcurrency bounds parallel saves during Flush.
const flushConcurrency = 4

// Source gives the coordinator read access to the current note state.
type Source interface {
	Find(id string) (models.Note, bool)
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithDelay overrides the debounce window.
func WithDelay(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.delay = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = l
	}
}

// WithOnStart registers a callback run when a save begins.
func WithOnStart(fn func(PendingWrite)) Option {
	return func(c *Coordinator) {
		c.onStart = fn
	}
}

// WithOnResult registers a callback run after every save, successful or not.
func WithOnResult(fn func(SaveResult)) Option {
	return func(c *Coordinator) {
		c.onResult = fn
	}
}

// Coordinator owns the pending-write and persisted-title bookkeeping.
//
// Each note has at most one pending write; scheduling again replaces it.
// Saves of one note never overlap. Saves of different notes may, but their
// store operations run one at a time so that a title handed from one note
// to another moves exactly one file.
type Coordinator struct {
	store    storage.NoteStore
	source   Source
	logger   *slog.Logger
	delay    time.Duration
	timers   *debounce.Map[string]
	onStart  func(PendingWrite)
	onResult func(SaveResult)

	mu        sync.Mutex
	pending   map[string]PendingWrite
	persisted map[string]string // id -> last persisted title
	sums      map[string]string // id -> checksum of last persisted content
	saving    map[string]bool
	locks     map[string]*sync.Mutex

	// fileMu serialises rename+write and delete across notes.
	fileMu sync.Mutex
}

// New creates a Coordinator writing to store and reading current note
// state from source.
func New(store storage.NoteStore, source Source, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:     store,
		source:    source,
		logger:    slog.Default(),
		delay:     DefaultDelay,
		pending:   make(map[string]PendingWrite),
		persisted: make(map[string]string),
		sums:      make(map[string]string),
		saving:    make(map[string]bool),
		locks:     make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.timers = debounce.New[string](c.delay)
	return c
}

// Delay returns the debounce window.
func (c *Coordinator) Delay() time.Duration {
	return c.delay
}

// Schedule (re)arms the save of n. Notes with a blank title never enter
// the save cycle; Schedule reports false for them.
func (c *Coordinator) Schedule(n models.Note) bool {
	if strings.TrimSpace(n.Title) == "" {
		return false
	}

	c.mu.Lock()
	pw := PendingWrite{
		NoteID:                 n.ID,
		SnapshotContent:        n.Content,
		SnapshotTitle:          n.Title,
		PreviousPersistedTitle: c.persisted[n.ID],
		ScheduledAt:            time.Now(),
	}
	c.pending[n.ID] = pw
	c.mu.Unlock()

	c.timers.Schedule(n.ID, func() {
		c.save(pw)
	})
	return true
}

// Cancel drops the pending write of id without saving it.
func (c *Coordinator) Cancel(id string) bool {
	cancelled := c.timers.Cancel(id)
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
	return cancelled
}

// save runs one rename+write cycle for pw under the note's single-flight
// lock and reports the result.
func (c *Coordinator) save(pw PendingWrite) SaveResult {
	lock := c.noteLock(pw.NoteID)
	lock.Lock()
	defer lock.Unlock()

	c.mu.Lock()
	if cur, ok := c.pending[pw.NoteID]; ok && !cur.ScheduledAt.After(pw.ScheduledAt) {
		delete(c.pending, pw.NoteID)
	}
	c.mu.Unlock()

	title, content := pw.SnapshotTitle, pw.SnapshotContent
	if cur, ok := c.source.Find(pw.NoteID); ok {
		title, content = cur.Title, cur.Content
	} else {
		res := SaveResult{NoteID: pw.NoteID, Title: title, Abandoned: true}
		c.logger.Debug("persist: note gone before save", slog.String("id", pw.NoteID))
		c.report(res)
		return res
	}
	if strings.TrimSpace(title) == "" {
		res := SaveResult{NoteID: pw.NoteID, Abandoned: true}
		c.report(res)
		return res
	}

	if c.onStart != nil {
		c.onStart(pw)
	}
	c.setSaving(pw.NoteID, true)
	res := func() SaveResult {
		defer c.setSaving(pw.NoteID, false)
		return c.write(pw.NoteID, title, content)
	}()
	c.report(res)
	return res
}

func (c *Coordinator) write(id, title, content string) SaveResult {
	c.fileMu.Lock()
	defer c.fileMu.Unlock()

	start := time.Now()
	prev, _ := c.PersistedTitle(id)
	res := SaveResult{NoteID: id, Title: title, PreviousTitle: prev}

	switch {
	case prev == "":
		res.Rename = RenameSkipped
	case c.ownedByOther(prev, id):
		// Another note has since saved under prev; that file is not ours.
		res.Rename = RenameSkipped
	case prev == title:
		res.Rename = RenameNone
	default:
		err := c.store.Rename(models.FileName(prev), models.FileName(title))
		switch {
		case err == nil:
			res.Rename = Renamed
		case errors.Is(err, fs.ErrNotExist):
			res.Rename = RenameRace
			res.RenameErr = err
		default:
			res.Rename = RenameFailed
			res.RenameErr = err
		}
	}
	if res.RenameErr != nil {
		c.logger.Debug("persist: rename did not apply",
			slog.String("id", id),
			slog.String("from", prev),
			slog.String("to", title),
			slog.String("outcome", res.Rename.String()),
			slog.String("error", res.RenameErr.Error()))
	}

	if err := c.store.WriteText(models.FileName(title), content); err != nil {
		res.Err = fmt.Errorf("persist: write %s: %w: %w", models.FileName(title), apperr.ErrSaveFailed, err)
		res.Duration = time.Since(start)
		c.logger.Warn("persist: save failed",
			slog.String("id", id),
			slog.String("title", title),
			slog.String("error", err.Error()))
		return res
	}

	res.Checksum = checksum.String(content)
	res.Duration = time.Since(start)
	c.mu.Lock()
	for other, t := range c.persisted {
		// The file of a note that gave up title is gone now; its next
		// save writes fresh under its own title.
		if other != id && t == title {
			delete(c.persisted, other)
			delete(c.sums, other)
			c.logger.Info("persist: title handed over",
				slog.String("title", title),
				slog.String("from_id", other),
				slog.String("to_id", id))
		}
	}
	c.persisted[id] = title
	c.sums[id] = res.Checksum
	c.mu.Unlock()

	c.logger.Debug("persist: saved",
		slog.String("id", id),
		slog.String("title", title),
		slog.String("rename", res.Rename.String()),
		slog.Duration("took", res.Duration))
	return res
}

func (c *Coordinator) report(res SaveResult) {
	if c.onResult != nil {
		c.onResult(res)
	}
}

// Flush saves every pending note now instead of waiting for its window.
// Saves run concurrently across notes; the first error is returned after
// all of them finished. Pending writes not yet started when ctx is done
// are re-armed and stay pending.
func (c *Coordinator) Flush(ctx context.Context) error {
	tasks := c.timers.Drain()
	if len(tasks) == 0 {
		return nil
	}

	c.mu.Lock()
	batch := make([]PendingWrite, 0, len(tasks))
	for id := range tasks {
		if pw, ok := c.pending[id]; ok {
			batch = append(batch, pw)
		}
	}
	c.mu.Unlock()

	var g errgroup.Group
	g.SetLimit(flushConcurrency)
	for _, pw := range batch {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				c.rearm(pw.NoteID)
				return err
			}
			return c.save(pw).Err
		})
	}
	return g.Wait()
}

// rearm puts the latest pending write of id back on its timer unless a
// newer one was scheduled meanwhile.
func (c *Coordinator) rearm(id string) {
	c.mu.Lock()
	pw, ok := c.pending[id]
	c.mu.Unlock()
	if !ok {
		return
	}
	c.timers.Restore(id, func() {
		c.save(pw)
	})
}

// Close flushes pending writes, stops the timers and waits for saves
// whose timer already fired. Writes skipped because ctx is done are lost.
func (c *Coordinator) Close(ctx context.Context) error {
	err := c.Flush(ctx)
	c.timers.Stop()
	return err
}

// Remove forgets id: its pending write is dropped, an in-flight save is
// waited for, and the file under its last persisted title is deleted.
// It returns the deleted file name, empty if the note was never saved.
func (c *Coordinator) Remove(id string) (string, error) {
	c.Cancel(id)

	lock := c.noteLock(id)
	lock.Lock()
	defer lock.Unlock()
	c.fileMu.Lock()
	defer c.fileMu.Unlock()

	c.mu.Lock()
	title := c.persisted[id]
	delete(c.persisted, id)
	delete(c.sums, id)
	delete(c.saving, id)
	delete(c.locks, id)
	c.mu.Unlock()

	if title == "" {
		return "", nil
	}
	name := models.FileName(title)
	if err := c.store.Delete(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return name, fmt.Errorf("persist: delete %s: %w", name, err)
	}
	return name, nil
}

// Forget drops all bookkeeping for id without touching the store.
func (c *Coordinator) Forget(id string) {
	c.Cancel(id)
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.persisted, id)
	delete(c.sums, id)
}

// MarkPersisted records that title holds content with the given checksum
// for id, e.g. after loading it from disk.
func (c *Coordinator) MarkPersisted(id, title, sum string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.persisted[id] = title
	c.sums[id] = sum
}

// PersistedTitle returns the title id was last saved under.
func (c *Coordinator) PersistedTitle(id string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.persisted[id]
	return t, ok
}

// Checksum returns the checksum of the content last saved for id.
func (c *Coordinator) Checksum(id string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sums[id]
	return s, ok
}

// Owner returns the note whose last save used title.
func (c *Coordinator) Owner(title string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, t := range c.persisted {
		if t == title {
			return id, true
		}
	}
	return "", false
}

func (c *Coordinator) ownedByOther(title, id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for other, t := range c.persisted {
		if other != id && t == title {
			return true
		}
	}
	return false
}

// Pending reports whether id has a save waiting for its window.
func (c *Coordinator) Pending(id string) bool {
	return c.timers.Pending(id)
}

// PendingWrite returns the waiting save of id.
func (c *Coordinator) PendingWrite(id string) (PendingWrite, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pw, ok := c.pending[id]
	return pw, ok
}

// Saving reports whether a save of id is in flight.
func (c *Coordinator) Saving(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saving[id]
}

// Busy reports whether id is pending or saving.
func (c *Coordinator) Busy(id string) bool {
	return c.Pending(id) || c.Saving(id)
}

func (c *Coordinator) setSaving(id string, v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v {
		c.saving[id] = true
		return
	}
	delete(c.saving, id)
}

func (c *Coordinator) noteLock(id string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[id]
	if !ok {
		l = &sync.Mutex{}
		c.locks[id] = l
	}
	return l
}
