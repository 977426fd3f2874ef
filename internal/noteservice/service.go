// Package noteservice is the engine facade: it keeps the note repository,
// link graph, persistence coordinator, index mirror and event broker in
// step for every operation the outer surfaces perform.
package noteservice

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/starford/notetaker/internal/apperr"
	"github.com/starford/notetaker/internal/checksum"
	"github.com/starford/notetaker/internal/events"
	"github.com/starford/notetaker/internal/index"
	"github.com/starford/notetaker/internal/linkgraph"
	"github.com/starford/notetaker/internal/models"
	"github.com/starford/notetaker/internal/parser"
	"github.com/starford/notetaker/internal/persist"
	"github.com/starford/notetaker/internal/repository"
	"github.com/starford/notetaker/internal/search"
	"github.com/starford/notetaker/internal/storage"
	"github.com/starford/notetaker/internal/title"
)

// NoteDetail is the full representation of a note.
type NoteDetail struct {
	ID        string           `json:"id"`
	Title     string           `json:"title"`
	Content   string           `json:"content"`
	Links     []models.LinkRef `json:"links"`
	Backlinks []models.LinkRef `json:"backlinks"`
	Saving    bool             `json:"saving"`
	Pending   bool             `json:"pending"`
}

// NoteListItem is a lightweight item in a list response.
type NoteListItem struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Option configures a Service.
type Option func(*Service)

// WithIndex mirrors saved notes into db.
func WithIndex(db index.NoteIndex) Option {
	return func(s *Service) {
		s.db = db
	}
}

// WithBroker publishes state changes to b.
func WithBroker(b *events.Broker) Option {
	return func(s *Service) {
		s.broker = b
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// WithDebounce overrides the autosave window.
func WithDebounce(d time.Duration) Option {
	return func(s *Service) {
		s.delay = d
	}
}

// WithClock overrides the time source for generated ids.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// Service coordinates repository, link graph, persistence and index.
type Service struct {
	store  storage.NoteStore
	repo   *repository.Repository
	graph  *linkgraph.Graph
	coord  *persist.Coordinator
	db     index.NoteIndex
	broker *events.Broker
	logger *slog.Logger
	delay  time.Duration
	now    func() time.Time

	mu       sync.Mutex
	selected string
}

// New creates a note service persisting to store.
func New(store storage.NoteStore, opts ...Option) *Service {
	s := &Service{
		store:  store,
		logger: slog.Default(),
		delay:  persist.DefaultDelay,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.repo = repository.New(repository.WithClock(s.now))
	s.graph = linkgraph.New()
	s.coord = persist.New(store, s.repo,
		persist.WithDelay(s.delay),
		persist.WithLogger(s.logger),
		persist.WithOnStart(s.onSaveStart),
		persist.WithOnResult(s.onSaveResult))
	return s
}

// Load reads every note file from the store into memory, replacing what
// was loaded before. A missing directory is created and yields an empty
// collection; unreadable files are skipped.
func (s *Service) Load(_ context.Context) ([]models.Note, error) {
	if err := s.store.EnsureDir(); err != nil {
		s.logger.Warn("load: ensure dir failed", slog.String("error", err.Error()))
	}
	entries, err := s.store.List()
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Info("load: notes directory missing, starting empty")
		entries = nil
	} else if err != nil {
		return nil, fmt.Errorf("noteservice: load: %w", err)
	}

	var notes []models.Note
	for _, e := range entries {
		if e.IsDir {
			continue
		}
		t, ok := models.TitleFromFile(e.Name)
		if !ok {
			continue
		}
		text, err := s.store.ReadText(e.Name)
		if err != nil {
			s.logger.Warn("load: skipping unreadable file", slog.String("name", e.Name), slog.String("error", err.Error()))
			continue
		}
		notes = append(notes, models.Note{ID: t, Title: t, Content: text})
	}

	for _, n := range s.repo.Load(notes) {
		s.logger.Warn("load: skipping duplicate note", slog.String("id", n.ID), slog.String("title", n.Title))
	}
	all := s.repo.All()
	for _, n := range all {
		s.coord.MarkPersisted(n.ID, n.Title, checksum.String(n.Content))
	}
	s.graph.Rebuild(all)

	if s.db != nil {
		if err := index.Sync(s.db, all, s.logger); err != nil {
			s.logger.Warn("load: index sync failed", slog.String("error", err.Error()))
		}
	}
	s.logger.Info("load: notes loaded", slog.Int("count", len(all)))
	return all, nil
}

// Create adds an empty note titled with the current timestamp, selects it
// and schedules its first save.
func (s *Service) Create(_ context.Context) (models.Note, error) {
	n, err := s.repo.Create()
	if err != nil {
		return models.Note{}, fmt.Errorf("noteservice: create: %w", err)
	}
	s.added(n)
	return n, nil
}

// CreateWithTitle adds a note with the given title and content.
func (s *Service) CreateWithTitle(_ context.Context, t, content string) (models.Note, error) {
	if err := title.Validate(t); err != nil {
		return models.Note{}, err
	}
	n, err := s.repo.Insert(models.Note{Title: t, Content: content})
	if err != nil {
		return models.Note{}, fmt.Errorf("noteservice: create: %w", err)
	}
	s.added(n)
	return n, nil
}

func (s *Service) added(n models.Note) {
	s.graph.Apply(n)
	s.coord.Schedule(n)
	s.setSelected(n.ID)
	s.publishNote(events.NoteCreated, n, nil)
}

// CreateFromQuery handles the omnibar: an empty query creates a new note,
// otherwise the note titled exactly query is opened or created. created
// reports which happened.
func (s *Service) CreateFromQuery(ctx context.Context, query string) (n models.Note, created bool, err error) {
	q := strings.TrimSpace(query)
	if q == "" {
		n, err = s.Create(ctx)
		return n, err == nil, err
	}
	if existing, ok := s.repo.FindByTitle(q); ok {
		n, err = s.Select(existing.ID)
		return n, false, err
	}
	n, err = s.CreateWithTitle(ctx, q, "")
	return n, err == nil, err
}

// UpdateContent replaces the content of id and schedules a save.
func (s *Service) UpdateContent(_ context.Context, id, content string) (models.Note, error) {
	if !s.repo.UpdateContent(id, content) {
		n, ok := s.repo.Find(id)
		if !ok {
			return models.Note{}, fmt.Errorf("noteservice: update %s: %w", id, apperr.ErrNotFound)
		}
		return n, nil
	}
	n, _ := s.repo.Find(id)
	s.graph.Apply(n)
	s.coord.Schedule(n)
	s.publishNote(events.NoteUpdated, n, nil)
	return n, nil
}

// Rename retitles id. The backing file follows on the next save.
func (s *Service) Rename(_ context.Context, id, newTitle string) (models.Note, error) {
	if err := title.Validate(newTitle); err != nil {
		return models.Note{}, err
	}
	before, ok := s.repo.Find(id)
	if !ok {
		return models.Note{}, fmt.Errorf("noteservice: rename %s: %w", id, apperr.ErrNotFound)
	}
	changed, err := s.repo.UpdateTitle(id, newTitle)
	if err != nil {
		return models.Note{}, err
	}
	n, _ := s.repo.Find(id)
	if !changed {
		return n, nil
	}
	s.graph.Apply(n)
	s.coord.Schedule(n)
	s.publishNote(events.NoteRenamed, n, map[string]string{"from": before.Title})
	return n, nil
}

// Delete removes id from memory and deletes its file.
func (s *Service) Delete(_ context.Context, id string) error {
	n, ok := s.repo.Delete(id)
	if !ok {
		return fmt.Errorf("noteservice: delete %s: %w", id, apperr.ErrNotFound)
	}
	s.graph.Remove(id)
	s.clearSelected(id)

	name, err := s.coord.Remove(id)
	if s.db != nil {
		if derr := s.db.DeleteNote(id); derr != nil {
			s.logger.Warn("delete: index delete failed", slog.String("id", id), slog.String("error", derr.Error()))
		}
	}
	s.publishNote(events.NoteDeleted, n, map[string]string{"file": name})
	if err != nil {
		return fmt.Errorf("noteservice: delete %s: %w", id, err)
	}
	return nil
}

// Get returns the detail view of id.
func (s *Service) Get(_ context.Context, id string) (*NoteDetail, error) {
	n, ok := s.repo.Find(id)
	if !ok {
		return nil, fmt.Errorf("noteservice: get %s: %w", id, apperr.ErrNotFound)
	}
	return s.detail(n), nil
}

// GetByTitle returns the detail view of the note titled exactly t.
func (s *Service) GetByTitle(_ context.Context, t string) (*NoteDetail, error) {
	n, ok := s.repo.FindByTitle(t)
	if !ok {
		return nil, fmt.Errorf("noteservice: get %q: %w", t, apperr.ErrNotFound)
	}
	return s.detail(n), nil
}

// Lookup resolves ref as an id first, then as an exact title.
func (s *Service) Lookup(ctx context.Context, ref string) (*NoteDetail, error) {
	d, err := s.Get(ctx, ref)
	if errors.Is(err, apperr.ErrNotFound) {
		d, err = s.GetByTitle(ctx, ref)
	}
	return d, err
}

func (s *Service) detail(n models.Note) *NoteDetail {
	return &NoteDetail{
		ID:        n.ID,
		Title:     n.Title,
		Content:   n.Content,
		Links:     nonNil(s.graph.Links(n.ID)),
		Backlinks: nonNil(s.graph.Backlinks(n.ID)),
		Saving:    s.coord.Saving(n.ID),
		Pending:   s.coord.Pending(n.ID),
	}
}

// Select makes id the current note.
func (s *Service) Select(id string) (models.Note, error) {
	n, ok := s.repo.Find(id)
	if !ok {
		return models.Note{}, fmt.Errorf("noteservice: select %s: %w", id, apperr.ErrNotFound)
	}
	s.setSelected(id)
	s.publish(events.Event{Type: events.NoteSelected, NoteID: n.ID, Title: n.Title})
	return n, nil
}

// Selected returns the current note.
func (s *Service) Selected() (models.Note, bool) {
	s.mu.Lock()
	id := s.selected
	s.mu.Unlock()
	if id == "" {
		return models.Note{}, false
	}
	return s.repo.Find(id)
}

// OpenByTitle follows a link target: it resolves target and selects the
// note it points at.
func (s *Service) OpenByTitle(target string) (models.Note, error) {
	id, ok := s.graph.Resolve(target)
	if !ok {
		return models.Note{}, fmt.Errorf("noteservice: open %q: %w", target, apperr.ErrNotFound)
	}
	return s.Select(id)
}

// List returns every note in insertion order.
func (s *Service) List() []NoteListItem {
	return items(s.repo.All())
}

// View returns the list to display for query: filtered when the query
// matches, sorted numerically descending otherwise.
func (s *Service) View(query string) []NoteListItem {
	return items(search.View(s.repo.All(), query))
}

// Filter returns notes whose title contains query. An empty query yields
// an empty result.
func (s *Service) Filter(query string) []NoteListItem {
	return items(search.Filter(s.repo.All(), query))
}

// Sorted returns every note ordered by the number in its id, descending.
func (s *Service) Sorted() []NoteListItem {
	return items(search.Sorted(s.repo.All()))
}

// Links returns the resolved outgoing links of id.
func (s *Service) Links(id string) ([]models.LinkRef, error) {
	if _, ok := s.repo.Find(id); !ok {
		return nil, fmt.Errorf("noteservice: links %s: %w", id, apperr.ErrNotFound)
	}
	return nonNil(s.graph.Links(id)), nil
}

// Backlinks returns links from any note that resolve to id.
func (s *Service) Backlinks(id string) ([]models.LinkRef, error) {
	if _, ok := s.repo.Find(id); !ok {
		return nil, fmt.Errorf("noteservice: backlinks %s: %w", id, apperr.ErrNotFound)
	}
	return nonNil(s.graph.Backlinks(id)), nil
}

// Dangling returns every link that resolves to no note.
func (s *Service) Dangling() []models.LinkRef {
	return nonNil(s.graph.Dangling())
}

// Resolve maps a link target to a note.
func (s *Service) Resolve(target string) (models.Note, error) {
	id, ok := s.graph.Resolve(target)
	if !ok {
		return models.Note{}, fmt.Errorf("noteservice: resolve %q: %w", target, apperr.ErrNotFound)
	}
	n, ok := s.repo.Find(id)
	if !ok {
		return models.Note{}, fmt.Errorf("noteservice: resolve %q: %w", target, apperr.ErrNotFound)
	}
	return n, nil
}

// Autocomplete detects an open [[ span before cursor (a rune offset) and
// returns the matching candidates.
func (s *Service) Autocomplete(text string, cursor int) (parser.Trigger, []NoteListItem, bool) {
	tr, ok := parser.DetectTrigger(text, cursor)
	if !ok {
		return parser.Trigger{}, nil, false
	}
	return tr, items(s.graph.Candidates(tr.Query)), true
}

// Complete replaces the open [[ span before cursor with [[t]] and returns
// the new text and cursor. ok is false when there is no open span.
func (s *Service) Complete(text string, cursor int, t string) (string, int, bool) {
	tr, ok := parser.DetectTrigger(text, cursor)
	if !ok {
		return text, cursor, false
	}
	out, c := parser.InsertLink(text, tr, t)
	return out, c, true
}

// Search finds notes whose title or content contains query. The SQLite
// mirror serves it when configured; otherwise memory is scanned.
func (s *Service) Search(_ context.Context, query string, limit int) ([]index.SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	if s.db != nil {
		return s.db.Search(query, limit)
	}
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	var out []index.SearchResult
	for _, n := range s.repo.All() {
		if search.Contains(n.Title, query) || search.Contains(n.Content, query) {
			out = append(out, index.SearchResult{ID: n.ID, Title: n.Title, Snippet: snippet(n.Content)})
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// Saving reports whether a save of id is in flight.
func (s *Service) Saving(id string) bool {
	return s.coord.Saving(id)
}

// Pending reports whether id has unsaved changes waiting for the autosave
// window.
func (s *Service) Pending(id string) bool {
	return s.coord.Pending(id)
}

// Len returns the number of notes.
func (s *Service) Len() int {
	return s.repo.Len()
}

// Flush saves all pending changes now.
func (s *Service) Flush(ctx context.Context) error {
	return s.coord.Flush(ctx)
}

// Close flushes pending changes and waits for in-flight saves.
func (s *Service) Close(ctx context.Context) error {
	return s.coord.Close(ctx)
}

func (s *Service) onSaveStart(pw persist.PendingWrite) {
	s.publish(events.Event{Type: events.NoteSaving, NoteID: pw.NoteID, Title: pw.SnapshotTitle})
}

func (s *Service) onSaveResult(res persist.SaveResult) {
	if res.Abandoned {
		return
	}
	if res.Err != nil {
		s.publish(events.Event{
			Type:   events.SaveFailed,
			NoteID: res.NoteID,
			Title:  res.Title,
			Data:   map[string]string{"error": res.Err.Error()},
		})
		return
	}
	data := map[string]string{"rename": res.Rename.String()}
	if res.PreviousTitle != "" && res.PreviousTitle != res.Title {
		data["from"] = res.PreviousTitle
	}
	s.publish(events.Event{Type: events.NoteSaved, NoteID: res.NoteID, Title: res.Title, Data: data})

	if n, ok := s.repo.Find(res.NoteID); ok {
		s.indexNote(n, "")
	}
}

func (s *Service) publish(ev events.Event) {
	if s.broker != nil {
		s.broker.Publish(ev)
	}
}

func (s *Service) publishNote(kind string, n models.Note, data map[string]string) {
	if s.broker != nil {
		s.broker.PublishNoteEvent(events.Event{Type: kind, NoteID: n.ID, Title: n.Title, Data: data})
	}
}

func (s *Service) setSelected(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = id
}

func (s *Service) clearSelected(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected == id {
		s.selected = ""
	}
}

func items(notes []models.Note) []NoteListItem {
	out := make([]NoteListItem, len(notes))
	for i, n := range notes {
		out[i] = NoteListItem{ID: n.ID, Title: n.Title}
	}
	return out
}

func nonNil(l []models.LinkRef) []models.LinkRef {
	if l == nil {
		return []models.LinkRef{}
	}
	return l
}

func snippet(content string) string {
	r := []rune(content)
	if len(r) > 200 {
		r = r[:200]
	}
	return string(r)
}
