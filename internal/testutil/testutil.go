// Package testutil provides shared test helpers for setting up stores,
// indexes and download directories.
package testutil

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/keep/internal/index"
	"github.com/starford/keep/internal/storage"
	"github.com/starford/keep/internal/store"
)

// Logger returns a logger that discards output.
func Logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// TestStore opens a temporary metadata store that is closed on cleanup.
func TestStore(t *testing.T) *store.SQLite {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "store.db"), Logger())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// TestIndex opens a temporary search index that is closed on cleanup.
func TestIndex(t *testing.T) *index.Index {
	t.Helper()
	ix, err := index.Open(filepath.Join(t.TempDir(), "index"), Logger())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ix.Close() })
	return ix
}

// TestDownloads creates a temporary downloads directory.
func TestDownloads(t *testing.T) (string, *storage.FS) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "downloads")
	files, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return files.Root(), files
}

// Eventually polls fn every tick until it returns true or timeout elapses.
func Eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}
