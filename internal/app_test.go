package internal

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/notetaker/internal/index"
	"github.com/starford/notetaker/internal/testutil"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	dir := t.TempDir()
	cfg := NewDefaultConfig()
	cfg.App.LogLevel = slog.LevelError
	cfg.App.LogFile.Path = filepath.Join(dir, "notetaker.log")
	cfg.Notes.Dir = filepath.Join(dir, "notes")
	cfg.Notes.Debounce = 20 * time.Millisecond
	cfg.SQLite.Path = filepath.Join(dir, "notetaker.db")
	cfg.Watcher.Settle = 20 * time.Millisecond
	return cfg
}

func TestOpen_CreatesDirAndIndex(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	a, err := Open(ctx, cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := os.Stat(cfg.Notes.Dir); err != nil {
		t.Errorf("notes dir not created: %v", err)
	}
	if a.DB == nil {
		t.Fatal("index should be open when sqlite is enabled")
	}

	n, err := a.Service.CreateWithTitle(ctx, "Hello", "see [[World]]")
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(cfg.Notes.Dir, "Hello.txt"))
	if err != nil {
		t.Fatalf("note not flushed on close: %v", err)
	}
	if string(data) != n.Content {
		t.Errorf("file content = %q", data)
	}
}

func TestOpen_ReloadsFromDisk(t *testing.T) {
	cfg := testConfig(t)
	cfg.SQLite.Enabled = false
	if err := os.MkdirAll(cfg.Notes.Dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(cfg.Notes.Dir, "Existing.txt"), []byte("body"), 0o644); err != nil {
		t.Fatal(err)
	}

	a, err := Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer a.Close(context.Background())

	if a.DB != nil {
		t.Error("index opened although sqlite is disabled")
	}
	d, err := a.Service.GetByTitle(context.Background(), "Existing")
	if err != nil || d.Content != "body" {
		t.Errorf("GetByTitle = %+v, %v", d, err)
	}
}

func TestOpen_InvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Notes.Dir = ""
	if _, err := Open(context.Background(), cfg); err == nil {
		t.Fatal("Open should reject invalid config")
	}
	if _, err := Open(context.Background(), nil); err == nil {
		t.Fatal("Open should reject nil config")
	}
}

func TestRun_RequiresConfig(t *testing.T) {
	if err := Run(context.Background()); err == nil {
		t.Fatal("Run without config should fail")
	}
}

func TestRun_WatcherImportsAndShutdownFlushes(t *testing.T) {
	cfg := testConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- Run(ctx, WithConfig(cfg), WithVersion("test")) }()

	// Wait for the watcher to be running on a created directory.
	testutil.Eventually(t, 2*time.Second, 10*time.Millisecond, func() bool {
		_, err := os.Stat(cfg.Notes.Dir)
		return err == nil
	}, "notes dir never created")
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(filepath.Join(cfg.Notes.Dir, "Outside.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(300 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	// The watcher indexed the file before shutdown; no reload happens here.
	db, err := index.Open(cfg.SQLite.Path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	rows, err := db.AllRows()
	if err != nil {
		t.Fatal(err)
	}
	if row, ok := rows["Outside"]; len(rows) != 1 || !ok || row.Title != "Outside" {
		t.Errorf("index rows = %+v", rows)
	}
}

func TestRun_MCPClientDisconnectStops(t *testing.T) {
	cfg := testConfig(t)
	cfg.Watcher.Enabled = false

	in, w := io.Pipe()
	done := make(chan error, 1)
	go func() {
		done <- Run(context.Background(), WithConfig(cfg), WithMCP(in, io.Discard))
	}()

	time.Sleep(100 * time.Millisecond)
	w.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop when the MCP client went away")
	}
}
