package noteservice

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/starford/notetaker/internal/apperr"
	"github.com/starford/notetaker/internal/checksum"
	"github.com/starford/notetaker/internal/events"
	"github.com/starford/notetaker/internal/index"
	"github.com/starford/notetaker/internal/persist"
	"github.com/starford/notetaker/internal/testutil"
)

var clock = time.Date(2024, 1, 1, 9, 5, 0, 0, time.Local)

func newService(t *testing.T, store *testutil.MemStore, opts ...Option) *Service {
	t.Helper()
	opts = append([]Option{
		WithLogger(testutil.Logger()),
		WithDebounce(30 * time.Millisecond),
		WithClock(func() time.Time { return clock }),
	}, opts...)
	s := New(store, opts...)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func titles(items []NoteListItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Title
	}
	return out
}

func TestLoad_ReadsNoteFilesOnly(t *testing.T) {
	store := testutil.NewMemStore()
	store.Seed("X.txt", "see [[Y]]")
	store.Seed("Y.txt", "back to [[x]]")
	store.Seed("image.png", "binary")
	store.SeedDir("archive")
	s := newService(t, store)

	notes, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(notes) != 2 {
		t.Fatalf("loaded %d notes, want 2", len(notes))
	}
	if notes[0].ID != "X" || notes[0].Title != "X" {
		t.Errorf("id on load = %+v", notes[0])
	}
	links, _ := s.Links("X")
	if len(links) != 1 || links[0].TargetID != "Y" {
		t.Errorf("X links = %+v", links)
	}
	back, _ := s.Backlinks("X")
	if len(back) != 1 || back[0].SourceID != "Y" {
		t.Errorf("X backlinks = %+v", back)
	}
}

func TestLoad_MissingDirectoryIsEmpty(t *testing.T) {
	store := testutil.NewMissingMemStore()
	s := newService(t, store)
	notes, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(notes) != 0 {
		t.Errorf("notes = %+v", notes)
	}
	if ops := store.OpsOf("ensure"); len(ops) != 1 {
		t.Error("directory not ensured")
	}
}

func TestLoad_SkipsUnreadable(t *testing.T) {
	store := testutil.NewMemStore()
	store.Seed("Good.txt", "ok")
	store.Seed("Bad.txt", "never")
	store.FailRead("Bad.txt", errors.New("permission denied"))
	s := newService(t, store)

	notes, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(notes) != 1 || notes[0].Title != "Good" {
		t.Errorf("notes = %+v", notes)
	}
}

func TestLoad_DoesNotRewriteFiles(t *testing.T) {
	store := testutil.NewMemStore()
	store.Seed("A.txt", "a")
	s := newService(t, store)
	if _, err := s.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	if w := store.OpsOf("write"); len(w) != 0 {
		t.Errorf("load triggered writes: %+v", w)
	}
}

func TestRoundTrip_LinkResolvesAfterReload(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewMemStore()
	s := newService(t, store)

	foo, err := s.CreateWithTitle(ctx, "Foo", "")
	if err != nil {
		t.Fatal(err)
	}
	n, _ := s.Create(ctx)
	if _, err := s.UpdateContent(ctx, n.ID, "points at [[Foo]] and [[Bar]]"); err != nil {
		t.Fatal(err)
	}
	if err := s.Flush(ctx); err != nil {
		t.Fatal(err)
	}

	reloaded := newService(t, store)
	if _, err := reloaded.Load(ctx); err != nil {
		t.Fatal(err)
	}
	links, err := reloaded.Links(n.Title)
	if err != nil {
		t.Fatal(err)
	}
	if len(links) != 2 {
		t.Fatalf("links = %+v", links)
	}
	if links[0].TargetID != foo.Title {
		t.Errorf("Foo resolved to %q", links[0].TargetID)
	}
	if links[1].Resolved() {
		t.Error("Bar should stay dangling")
	}
}

func TestCreate_UniqueWithinMinute(t *testing.T) {
	s := newService(t, testutil.NewMemStore())
	a, _ := s.Create(context.Background())
	b, err := s.Create(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if a.ID == b.ID {
		t.Fatalf("duplicate id %s", a.ID)
	}
	if sel, _ := s.Selected(); sel.ID != b.ID {
		t.Errorf("selected = %s, want newest", sel.ID)
	}
}

func TestScenario_Draft(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewMemStore()
	s := newService(t, store)

	a, err := s.Create(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Rename(ctx, a.ID, "Draft"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.UpdateContent(ctx, a.ID, "hello [[Draft2]]"); err != nil {
		t.Fatal(err)
	}

	testutil.Eventually(t, time.Second, 5*time.Millisecond, func() bool {
		text, ok := store.File("Draft.txt")
		return ok && text == "hello [[Draft2]]"
	}, "Draft.txt never written")
	if diff := cmp.Diff([]string{"Draft.txt"}, store.Names()); diff != "" {
		t.Errorf("files (-want +got):\n%s", diff)
	}
}

func TestScenario_DraftAfterFirstSave(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewMemStore()
	s := newService(t, store)

	a, _ := s.Create(ctx)
	if err := s.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if _, ok := store.File(a.Title + ".txt"); !ok {
		t.Fatal("first save missing")
	}
	store.ResetOps()

	for _, title := range []string{"D", "Dr", "Draft"} {
		if _, err := s.Rename(ctx, a.ID, title); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.UpdateContent(ctx, a.ID, "hello [[Draft2]]"); err != nil {
		t.Fatal(err)
	}
	if err := s.Flush(ctx); err != nil {
		t.Fatal(err)
	}

	if r := store.OpsOf("rename"); len(r) != 1 || r[0].Name != a.Title+".txt" || r[0].NewName != "Draft.txt" {
		t.Errorf("renames = %+v", r)
	}
	if diff := cmp.Diff([]string{"Draft.txt"}, store.Names()); diff != "" {
		t.Errorf("files (-want +got):\n%s", diff)
	}
}

func TestScenario_FilterXY(t *testing.T) {
	ctx := context.Background()
	s := newService(t, testutil.NewMemStore())
	_, _ = s.CreateWithTitle(ctx, "X", "")
	_, _ = s.CreateWithTitle(ctx, "Y", "")

	if diff := cmp.Diff([]string{"X"}, titles(s.Filter("x"))); diff != "" {
		t.Errorf("Filter(x) (-want +got):\n%s", diff)
	}
	if got := s.Filter(""); len(got) != 0 {
		t.Errorf("Filter(\"\") = %+v, want empty", got)
	}
	if got := s.View(""); len(got) != 2 {
		t.Errorf("View(\"\") = %+v, want all notes", got)
	}
}

func TestSorted_NumericDescending(t *testing.T) {
	store := testutil.NewMemStore()
	store.Seed("202401010000.txt", "")
	store.Seed("202401010005.txt", "")
	store.Seed("abc.txt", "")
	s := newService(t, store)
	if _, err := s.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	want := []string{"202401010005", "202401010000", "abc"}
	if diff := cmp.Diff(want, titles(s.Sorted())); diff != "" {
		t.Errorf("Sorted (-want +got):\n%s", diff)
	}
}

func TestScenario_Autocomplete(t *testing.T) {
	ctx := context.Background()
	s := newService(t, testutil.NewMemStore())
	_, _ = s.CreateWithTitle(ctx, "Project Plan", "")
	_, _ = s.CreateWithTitle(ctx, "Groceries", "")

	text := "Meeting notes with [[Pro"
	cursor := len([]rune(text))
	tr, cands, ok := s.Autocomplete(text, cursor)
	if !ok || tr.Query != "Pro" {
		t.Fatalf("trigger = %+v, %v", tr, ok)
	}
	if diff := cmp.Diff([]string{"Project Plan"}, titles(cands)); diff != "" {
		t.Errorf("candidates (-want +got):\n%s", diff)
	}

	out, c, ok := s.Complete(text, cursor, "Project Plan")
	if !ok {
		t.Fatal("Complete found no trigger")
	}
	want := "Meeting notes with [[Project Plan]]"
	if out != want || c != len([]rune(want)) {
		t.Errorf("Complete = %q, %d", out, c)
	}
	if _, _, ok := s.Complete("no link here", 3, "X"); ok {
		t.Error("Complete without trigger")
	}
}

func TestRename_Validation(t *testing.T) {
	ctx := context.Background()
	s := newService(t, testutil.NewMemStore())
	a, _ := s.CreateWithTitle(ctx, "Alpha", "")
	_, _ = s.CreateWithTitle(ctx, "Beta", "")

	if _, err := s.Rename(ctx, a.ID, "bad/name"); !errors.Is(err, apperr.ErrInvalidTitle) {
		t.Errorf("invalid title err = %v", err)
	}
	if _, err := s.Rename(ctx, a.ID, "Beta"); !errors.Is(err, apperr.ErrTitleTaken) {
		t.Errorf("taken title err = %v", err)
	}
	if _, err := s.Rename(ctx, "missing", "Gamma"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing note err = %v", err)
	}
	if n, _ := s.Get(ctx, a.ID); n.Title != "Alpha" {
		t.Errorf("title changed to %q", n.Title)
	}
}

func TestCreateFromQuery(t *testing.T) {
	ctx := context.Background()
	s := newService(t, testutil.NewMemStore())
	existing, _ := s.CreateWithTitle(ctx, "Inbox", "")
	other, _ := s.CreateWithTitle(ctx, "Other", "")
	_ = other

	n, created, err := s.CreateFromQuery(ctx, "Inbox")
	if err != nil || created || n.ID != existing.ID {
		t.Errorf("open existing = %+v, %v, %v", n, created, err)
	}
	if sel, _ := s.Selected(); sel.ID != existing.ID {
		t.Error("existing note not selected")
	}

	n, created, err = s.CreateFromQuery(ctx, "Ideas")
	if err != nil || !created || n.Title != "Ideas" {
		t.Errorf("create named = %+v, %v, %v", n, created, err)
	}

	n, created, err = s.CreateFromQuery(ctx, "  ")
	if err != nil || !created || n.Title != n.ID {
		t.Errorf("create blank = %+v, %v, %v", n, created, err)
	}
}

func TestOpenByTitle(t *testing.T) {
	ctx := context.Background()
	s := newService(t, testutil.NewMemStore())
	target, _ := s.CreateWithTitle(ctx, "Project Plan", "")
	_, _ = s.CreateWithTitle(ctx, "Start", "[[project plan]]")

	n, err := s.OpenByTitle("project plan")
	if err != nil || n.ID != target.ID {
		t.Fatalf("OpenByTitle = %+v, %v", n, err)
	}
	if sel, _ := s.Selected(); sel.ID != target.ID {
		t.Error("target not selected")
	}
	if _, err := s.OpenByTitle("Nowhere"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v", err)
	}
}

func TestDelete_RemovesFileAndLinks(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewMemStore()
	s := newService(t, store)
	a, _ := s.CreateWithTitle(ctx, "A", "[[B]]")
	b, _ := s.CreateWithTitle(ctx, "B", "")
	if err := s.Flush(ctx); err != nil {
		t.Fatal(err)
	}

	if err := s.Delete(ctx, b.ID); err != nil {
		t.Fatal(err)
	}
	if _, ok := store.File("B.txt"); ok {
		t.Error("B.txt survived delete")
	}
	links, _ := s.Links(a.ID)
	if links[0].Resolved() {
		t.Error("link to deleted note still resolves")
	}
	if _, ok := s.Selected(); ok {
		t.Error("deleted note still selected")
	}
	if err := s.Delete(ctx, b.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("second delete err = %v", err)
	}
}

func TestDelete_PendingSaveDoesNotResurrect(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewMemStore()
	s := newService(t, store)
	n, _ := s.CreateWithTitle(ctx, "Short", "lived")
	if err := s.Delete(ctx, n.ID); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	if names := store.Names(); len(names) != 0 {
		t.Errorf("files = %v", names)
	}
}

func TestSaveFailure_Reported(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewMemStore()
	store.FailWrites(errors.New("disk full"))
	broker := events.NewBroker(time.Second)
	defer broker.Close()
	sub := broker.Subscribe()
	s := newService(t, store, WithBroker(broker))

	n, _ := s.CreateWithTitle(ctx, "Doomed", "x")
	if err := s.Flush(ctx); !errors.Is(err, apperr.ErrSaveFailed) {
		t.Fatalf("Flush = %v", err)
	}
	if s.Saving(n.ID) {
		t.Error("saving flag stuck")
	}

	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-sub:
			if ev.Type == events.SaveFailed && ev.NoteID == n.ID {
				return
			}
		case <-deadline:
			t.Fatal("no save.failed event")
		}
	}
}

func TestEvents_Lifecycle(t *testing.T) {
	ctx := context.Background()
	broker := events.NewBroker(time.Hour)
	defer broker.Close()
	sub := broker.Subscribe()
	s := newService(t, testutil.NewMemStore(), WithBroker(broker))

	n, _ := s.CreateWithTitle(ctx, "Evented", "")
	_, _ = s.Rename(ctx, n.ID, "Renamed")
	_ = s.Flush(ctx)

	want := []string{events.NoteCreated, events.GraphUpdated, events.NoteRenamed, events.NoteSaving, events.NoteSaved}
	var got []string
	deadline := time.After(time.Second)
	for len(got) < len(want) {
		select {
		case ev := <-sub:
			got = append(got, ev.Type)
		case <-deadline:
			t.Fatalf("events so far %v", got)
		}
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}
}

func TestSearch_MemoryFallback(t *testing.T) {
	ctx := context.Background()
	s := newService(t, testutil.NewMemStore())
	_, _ = s.CreateWithTitle(ctx, "Recipes", "Crème brûlée")
	_, _ = s.CreateWithTitle(ctx, "Other", "nothing")

	res, err := s.Search(ctx, "CRÈME", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 1 || res[0].Title != "Recipes" {
		t.Errorf("results = %+v", res)
	}
}

func TestIndex_MirrorsSaves(t *testing.T) {
	ctx := context.Background()
	db := testutil.TestDB(t)
	store := testutil.NewMemStore()
	s := newService(t, store, WithIndex(db))

	n, _ := s.CreateWithTitle(ctx, "Indexed", "needle in [[Hay]]")
	if err := s.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	testutil.Eventually(t, time.Second, 5*time.Millisecond, func() bool {
		cs, _ := db.GetChecksum(n.ID)
		return cs == checksum.String("needle in [[Hay]]")
	}, "save not mirrored into the index")

	res, err := s.Search(ctx, "needle", 10)
	if err != nil || len(res) != 1 || res[0].ID != n.ID {
		t.Errorf("Search = %+v, %v", res, err)
	}
	if from, _ := db.LinkedFrom("Hay"); len(from) != 1 {
		t.Errorf("LinkedFrom = %v", from)
	}

	if err := s.Delete(ctx, n.ID); err != nil {
		t.Fatal(err)
	}
	if cs, _ := db.GetChecksum(n.ID); cs != "" {
		t.Error("deleted note still indexed")
	}
}

func TestIndex_SyncedOnLoad(t *testing.T) {
	db := testutil.TestDB(t)
	_ = db.UpsertNote(index.NoteRow{ID: "ghost", Title: "Ghost", Checksum: "x"}, "", nil)
	store := testutil.NewMemStore()
	store.Seed("Real.txt", "body")
	s := newService(t, store, WithIndex(db))

	if _, err := s.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	rows, _ := db.AllRows()
	if _, ok := rows["ghost"]; ok {
		t.Error("stale row kept")
	}
	if _, ok := rows["Real"]; !ok {
		t.Error("loaded note not indexed")
	}
}

func TestDelay_Default(t *testing.T) {
	s := New(testutil.NewMemStore(), WithLogger(testutil.Logger()))
	if s.coord.Delay() != persist.DefaultDelay {
		t.Errorf("delay = %v", s.coord.Delay())
	}
}

func TestLookup_IDThenTitle(t *testing.T) {
	ctx := context.Background()
	s := newService(t, testutil.NewMemStore())
	stamped, _ := s.Create(ctx)
	named, err := s.CreateWithTitle(ctx, "Named", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Rename(ctx, stamped.ID, "Renamed"); err != nil {
		t.Fatal(err)
	}

	d, err := s.Lookup(ctx, stamped.ID)
	if err != nil || d.Title != "Renamed" {
		t.Errorf("by id = %+v, %v", d, err)
	}
	d, err = s.Lookup(ctx, "Named")
	if err != nil || d.ID != named.ID {
		t.Errorf("by title = %+v, %v", d, err)
	}
	if _, err := s.Lookup(ctx, "nope"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing err = %v", err)
	}
}

func TestRename_TitleHandedToAnotherNoteOnDisk(t *testing.T) {
	ctx := context.Background()
	dir, store := testutil.TestStore(t)
	if err := os.WriteFile(filepath.Join(dir, "A.txt"), []byte("x-content"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "C.txt"), []byte("y-content"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := New(store,
		WithLogger(testutil.Logger()),
		WithDebounce(30*time.Millisecond),
		WithClock(func() time.Time { return clock }))
	t.Cleanup(func() { _ = s.Close(ctx) })
	if _, err := s.Load(ctx); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Rename(ctx, "A", "B"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, err := s.Rename(ctx, "C", "A"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(40 * time.Millisecond)
	if _, err := s.UpdateContent(ctx, "A", "x-content edited"); err != nil {
		t.Fatal(err)
	}
	if err := s.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	testutil.Eventually(t, time.Second, 5*time.Millisecond, func() bool {
		return !s.Saving("A") && !s.Pending("A") && !s.Saving("C") && !s.Pending("C")
	}, "saves did not settle")

	read := func(name string) string {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			t.Errorf("read %s: %v", name, err)
		}
		return string(data)
	}
	if got := read("A.txt"); got != "y-content" {
		t.Errorf("A.txt = %q", got)
	}
	if got := read("B.txt"); got != "x-content edited" {
		t.Errorf("B.txt = %q", got)
	}
	if _, err := os.Stat(filepath.Join(dir, "C.txt")); !os.IsNotExist(err) {
		t.Errorf("C.txt still present: %v", err)
	}

	reloaded := New(store, WithLogger(testutil.Logger()))
	notes, err := reloaded.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(notes) != 2 {
		t.Errorf("reloaded %d notes, want 2", len(notes))
	}
}
