package noteservice

import (
	"context"
	"testing"
	"time"

	"github.com/starford/notetaker/internal/checksum"
	"github.com/starford/notetaker/internal/index"
	"github.com/starford/notetaker/internal/testutil"
)

func written(title, content string) index.Change {
	return index.Change{
		Kind:     index.Written,
		Name:     title + ".txt",
		Title:    title,
		Content:  content,
		Checksum: checksum.String(content),
	}
}

func removed(title string) index.Change {
	return index.Change{Kind: index.Removed, Name: title + ".txt", Title: title}
}

func loaded(t *testing.T, files map[string]string) (*Service, *testutil.MemStore) {
	t.Helper()
	store := testutil.NewMemStore()
	for title, text := range files {
		store.Seed(title+".txt", text)
	}
	s := newService(t, store)
	if _, err := s.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	return s, store
}

func TestExternal_ImportsUnknownFile(t *testing.T) {
	s, _ := loaded(t, map[string]string{"Known": "[[Fresh]]"})

	if got := s.HandleExternal(written("Fresh", "new body")); got != ExternalImported {
		t.Fatalf("outcome = %s", got)
	}
	n, err := s.GetByTitle(context.Background(), "Fresh")
	if err != nil || n.Content != "new body" {
		t.Fatalf("imported = %+v, %v", n, err)
	}
	links, _ := s.Links("Known")
	if links[0].TargetID != n.ID {
		t.Error("existing link did not resolve to imported note")
	}
	if s.Pending(n.ID) {
		t.Error("import scheduled a save")
	}
}

func TestExternal_OwnWriteIgnored(t *testing.T) {
	ctx := context.Background()
	s, _ := loaded(t, nil)
	n, _ := s.CreateWithTitle(ctx, "Mine", "text")
	if err := s.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if got := s.HandleExternal(written("Mine", "text")); got != ExternalOwnWrite {
		t.Errorf("outcome = %s", got)
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d", s.Len())
	}
	_ = n
}

func TestExternal_AdoptsEditOfIdleNote(t *testing.T) {
	s, store := loaded(t, map[string]string{"Shared": "old"})

	if got := s.HandleExternal(written("Shared", "edited elsewhere [[Shared]]")); got != ExternalAdopted {
		t.Fatalf("outcome = %s", got)
	}
	n, _ := s.Get(context.Background(), "Shared")
	if n.Content != "edited elsewhere [[Shared]]" {
		t.Errorf("content = %q", n.Content)
	}
	if len(n.Backlinks) != 1 {
		t.Errorf("backlinks = %+v", n.Backlinks)
	}
	if err := s.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	if w := store.OpsOf("write"); len(w) != 0 {
		t.Errorf("adoption wrote back: %+v", w)
	}
}

func TestExternal_PendingNoteWins(t *testing.T) {
	ctx := context.Background()
	s, store := loaded(t, map[string]string{"Local": "v1"})
	if _, err := s.UpdateContent(ctx, "Local", "v2 local"); err != nil {
		t.Fatal(err)
	}

	if got := s.HandleExternal(written("Local", "v2 external")); got != ExternalBusy {
		t.Fatalf("outcome = %s", got)
	}
	testutil.Eventually(t, time.Second, 5*time.Millisecond, func() bool {
		text, _ := store.File("Local.txt")
		return text == "v2 local"
	}, "local edit not saved over external change")
}

func TestExternal_RemovalDropsIdleNote(t *testing.T) {
	s, _ := loaded(t, map[string]string{"Gone": "", "Stay": "[[Gone]]"})
	if _, err := s.Select("Gone"); err != nil {
		t.Fatal(err)
	}

	if got := s.HandleExternal(removed("Gone")); got != ExternalDropped {
		t.Fatalf("outcome = %s", got)
	}
	if _, err := s.Get(context.Background(), "Gone"); err == nil {
		t.Error("note still present")
	}
	if _, ok := s.Selected(); ok {
		t.Error("dropped note still selected")
	}
	links, _ := s.Links("Stay")
	if links[0].Resolved() {
		t.Error("link to dropped note still resolves")
	}
}

func TestExternal_RemovalOfOwnRenameIgnored(t *testing.T) {
	ctx := context.Background()
	s, store := loaded(t, map[string]string{"Before": "x"})
	if _, err := s.Rename(ctx, "Before", "After"); err != nil {
		t.Fatal(err)
	}
	if err := s.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if _, ok := store.File("After.txt"); !ok {
		t.Fatal("rename not persisted")
	}

	if got := s.HandleExternal(removed("Before")); got != ExternalIgnored {
		t.Errorf("outcome = %s", got)
	}
	if got := s.HandleExternal(written("After", "x")); got != ExternalOwnWrite {
		t.Errorf("outcome = %s", got)
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d", s.Len())
	}
}

func TestExternal_RemovalWhileBusyKept(t *testing.T) {
	ctx := context.Background()
	s, _ := loaded(t, map[string]string{"Editing": "x"})
	if _, err := s.UpdateContent(ctx, "Editing", "y"); err != nil {
		t.Fatal(err)
	}
	if got := s.HandleExternal(removed("Editing")); got != ExternalBusy {
		t.Errorf("outcome = %s", got)
	}
	if _, err := s.Get(ctx, "Editing"); err != nil {
		t.Error("busy note dropped")
	}
}

func TestExternal_WatcherEndToEnd(t *testing.T) {
	dir, store := testutil.TestStore(t)
	s := New(store, WithLogger(testutil.Logger()), WithDebounce(30*time.Millisecond))
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	if _, err := s.Load(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go index.Watch(ctx, store, dir, 30*time.Millisecond, testutil.Logger(), func(ch index.Change) {
		s.HandleExternal(ch)
	})
	time.Sleep(100 * time.Millisecond)

	if err := store.WriteText("Dropped In.txt", "hello"); err != nil {
		t.Fatal(err)
	}
	testutil.Eventually(t, 5*time.Second, 20*time.Millisecond, func() bool {
		_, err := s.GetByTitle(context.Background(), "Dropped In")
		return err == nil
	}, "external file not imported")
}
