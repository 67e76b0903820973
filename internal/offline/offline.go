// Package offline keeps the daemon's download status records in memory and
// flushes them to a JSON snapshot on a timer and on Close.
package offline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/starford/keep/internal/storage"
)

// Status is the state of a background download.
type Status string

const (
	StatusDownloading Status = "downloading"
	StatusReady       Status = "ready"
	StatusError       Status = "error"
)

// Record tracks one item's background download.
type Record struct {
	ItemID    string    `json:"item_id"`
	URL       string    `json:"url"`
	Adapter   string    `json:"adapter,omitempty"`
	File      string    `json:"file,omitempty"`
	Status    Status    `json:"status"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

type snapshot struct {
	Version int      `json:"version"`
	Records []Record `json:"records"`
}

const snapshotVersion = 1

// Store is a write-back status table. Writes only touch memory and mark the
// store dirty; Commit persists the snapshot.
type Store struct {
	files  storage.Provider
	name   string
	logger *slog.Logger

	mu      sync.RWMutex
	records map[string]Record
	gen     uint64
	flushed uint64
}

// Open loads the snapshot called name from files. A missing snapshot yields
// an empty store.
func Open(files storage.Provider, name string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		files:   files,
		name:    name,
		logger:  logger,
		records: make(map[string]Record),
	}

	path, err := files.Path(name)
	if err != nil {
		return nil, fmt.Errorf("offline: open: %w", err)
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("offline: read snapshot: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("offline: decode snapshot: %w", err)
	}
	for _, r := range snap.Records {
		s.records[r.ItemID] = r
	}
	logger.Info("offline: snapshot loaded", slog.Int("records", len(s.records)))
	return s, nil
}

// Put inserts or replaces the record for r.ItemID.
func (s *Store) Put(r Record) {
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	s.records[r.ItemID] = r
	s.gen++
	s.mu.Unlock()
}

// Get returns the record for itemID.
func (s *Store) Get(itemID string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[itemID]
	return r, ok
}

// Delete drops the record for itemID, if any.
func (s *Store) Delete(itemID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[itemID]; !ok {
		return
	}
	delete(s.records, itemID)
	s.gen++
}

// List returns all records, oldest update first.
func (s *Store) List() []Record {
	s.mu.RLock()
	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ItemID < out[j].ItemID
		}
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	return out
}

// Pending returns the records still marked downloading.
func (s *Store) Pending() []Record {
	var out []Record
	for _, r := range s.List() {
		if r.Status == StatusDownloading {
			out = append(out, r)
		}
	}
	return out
}

// Dirty reports whether there are writes not yet committed.
func (s *Store) Dirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen != s.flushed
}

// Commit writes the snapshot if anything changed since the last commit.
func (s *Store) Commit() error {
	s.mu.RLock()
	if s.gen == s.flushed {
		s.mu.RUnlock()
		return nil
	}
	gen := s.gen
	snap := snapshot{Version: snapshotVersion, Records: make([]Record, 0, len(s.records))}
	for _, r := range s.records {
		snap.Records = append(snap.Records, r)
	}
	s.mu.RUnlock()

	sort.Slice(snap.Records, func(i, j int) bool {
		return snap.Records[i].ItemID < snap.Records[j].ItemID
	})
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("offline: encode snapshot: %w", err)
	}
	if _, _, err := s.files.Write(s.name, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("offline: commit: %w", err)
	}

	s.mu.Lock()
	if gen > s.flushed {
		s.flushed = gen
	}
	s.mu.Unlock()
	s.logger.Debug("offline: snapshot committed", slog.Int("records", len(snap.Records)))
	return nil
}

// Run commits the snapshot every interval until ctx is cancelled. The final
// commit is left to Close.
func (s *Store) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.Commit(); err != nil {
				s.logger.Error("offline: periodic commit failed", slog.String("error", err.Error()))
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// Close performs the shutdown commit.
func (s *Store) Close() error {
	return s.Commit()
}
