package itemservice

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/starford/keep/internal/adapter"
	"github.com/starford/keep/internal/apperr"
	"github.com/starford/keep/internal/checksum"
	"github.com/starford/keep/internal/download"
	"github.com/starford/keep/internal/models"
	"github.com/starford/keep/internal/offline"
)

// Verification is the result of re-hashing an item's blob.
type Verification struct {
	ItemID   string `json:"item_id"`
	BlobID   string `json:"blob_id"`
	Path     string `json:"path"`
	Expected string `json:"expected"`
	Actual   string `json:"actual,omitempty"`
	Missing  bool   `json:"missing"`
	OK       bool   `json:"ok"`
}

// Verify recomputes the hash of the item's blob and compares it with the
// recorded one.
func (s *Service) Verify(ctx context.Context, id string) (*Verification, error) {
	blob, err := s.store.ItemBlob(ctx, id)
	if err != nil {
		return nil, err
	}
	v := &Verification{
		ItemID:   id,
		BlobID:   blob.ID,
		Path:     blob.LocalPath,
		Expected: blob.ContentHash,
	}
	actual, err := checksum.SumFile(blob.LocalPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		v.Missing = true
		return v, nil
	case err != nil:
		return nil, fmt.Errorf("itemservice: verify: %w", err)
	}
	v.Actual = actual
	v.OK = actual == blob.ContentHash
	return v, nil
}

// ReconcileReport counts what Reconcile changed.
type ReconcileReport struct {
	Indexed int `json:"indexed"`
	Removed int `json:"removed"`
	Pruned  int `json:"pruned"`
}

// Reconcile brings the index and the downloads directory in line with the
// store: items missing from the index are indexed, documents without an item
// are removed and unreferenced managed files are deleted.
func (s *Service) Reconcile(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport

	items, err := s.store.ListItems(ctx, models.ListItems{})
	if err != nil {
		return report, fmt.Errorf("itemservice: reconcile: %w", err)
	}
	indexed, err := s.index.IDs(ctx)
	if err != nil {
		return report, fmt.Errorf("itemservice: reconcile: %w", err)
	}

	inIndex := make(map[string]bool, len(indexed))
	for _, id := range indexed {
		inIndex[id] = true
	}
	known := make(map[string]bool, len(items))
	referenced := make(map[string]bool)
	for _, it := range items {
		known[it.ID] = true
		if it.Blob != nil && it.Blob.Managed {
			referenced[it.Blob.LocalPath] = true
		}
		if inIndex[it.ID] {
			continue
		}
		if err := s.reindex(ctx, it.ID); err != nil {
			return report, fmt.Errorf("itemservice: reconcile: %w", err)
		}
		report.Indexed++
	}
	for _, id := range indexed {
		if known[id] {
			continue
		}
		if err := s.index.Remove(ctx, id); err != nil {
			return report, fmt.Errorf("itemservice: reconcile: %w", err)
		}
		report.Removed++
	}

	if s.downloads != nil {
		files, err := s.downloads.List()
		if err != nil {
			return report, fmt.Errorf("itemservice: reconcile: %w", err)
		}
		for _, f := range files {
			if referenced[f.Path] || s.downloading(itemIDFromFile(f.Name)) {
				continue
			}
			if err := s.downloads.Delete(f.Name); err != nil {
				s.logger.Warn("reconcile: prune failed",
					slog.String("file", f.Name),
					slog.String("error", err.Error()))
				continue
			}
			report.Pruned++
		}
	}

	s.logger.Info("reconcile complete",
		slog.Int("indexed", report.Indexed),
		slog.Int("removed", report.Removed),
		slog.Int("pruned", report.Pruned))
	return report, nil
}

// itemIDFromFile strips the extension from a downloads file name.
func itemIDFromFile(name string) string {
	id, _, _ := strings.Cut(name, ".")
	return id
}

func (s *Service) downloading(itemID string) bool {
	if s.status == nil {
		return false
	}
	r, ok := s.status.Get(itemID)
	return ok && r.Status == offline.StatusDownloading
}

// ApplyUpdate records the outcome of a background download and indexes the
// new blob.
func (s *Service) ApplyUpdate(ctx context.Context, u adapter.Update) error {
	var rec offline.Record
	if s.status != nil {
		rec, _ = s.status.Get(u.ItemID)
	}
	rec.ItemID = u.ItemID
	rec.Adapter = u.Adapter
	rec.UpdatedAt = time.Time{}

	if u.Err != nil {
		if errors.Is(u.Err, apperr.ErrNotFound) {
			s.statusDelete(u.ItemID)
			return nil
		}
		rec.Status = offline.StatusError
		rec.Error = u.Err.Error()
		s.putStatus(rec)
		s.emit(EventArchiveFailed, u.ItemID)
		return nil
	}

	rec.Status = offline.StatusReady
	rec.Error = ""
	if u.Blob != nil {
		rec.File = u.Blob.LocalPath
	}
	s.putStatus(rec)
	s.track(u.Blob)

	if s.cfg.IndexOnAdd {
		if err := s.reindex(ctx, u.ItemID); err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				s.statusDelete(u.ItemID)
				return nil
			}
			return fmt.Errorf("itemservice: apply update: %w", err)
		}
	}
	s.emit(EventArchived, u.ItemID)
	return nil
}

// ConsumeUpdates applies updates until the channel is closed. Updates keep
// being applied after ctx is cancelled so a draining manager never blocks.
func (s *Service) ConsumeUpdates(ctx context.Context, updates <-chan adapter.Update) error {
	applyCtx := context.WithoutCancel(ctx)
	for u := range updates {
		if err := s.ApplyUpdate(applyCtx, u); err != nil {
			s.logger.Error("apply download update failed",
				slog.String("item_id", u.ItemID),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

// ResumePending re-dispatches downloads that were still running when the
// daemon last stopped. It returns the number dispatched.
func (s *Service) ResumePending(ctx context.Context) (int, error) {
	if s.status == nil || s.dispatcher == nil {
		return 0, nil
	}
	n := 0
	for _, rec := range s.status.Pending() {
		item, err := s.store.GetItem(ctx, rec.ItemID)
		if errors.Is(err, apperr.ErrNotFound) {
			s.statusDelete(rec.ItemID)
			continue
		}
		if err != nil {
			return n, fmt.Errorf("itemservice: resume: %w", err)
		}
		name, err := s.dispatcher.Dispatch(item)
		if err != nil {
			rec.Status = offline.StatusError
			rec.Error = err.Error()
			rec.UpdatedAt = time.Time{}
			s.putStatus(rec)
			continue
		}
		rec.Adapter = name
		rec.UpdatedAt = time.Time{}
		s.putStatus(rec)
		n++
	}
	if n > 0 {
		s.logger.Info("resumed pending downloads", slog.Int("count", n))
	}
	return n, nil
}

// Refresh re-hashes the item's blob and re-indexes the item when the file
// changed. It reports whether anything changed.
func (s *Service) Refresh(ctx context.Context, itemID string) (bool, error) {
	blob, err := s.store.ItemBlob(ctx, itemID)
	if err != nil {
		return false, err
	}
	contentType, hash, err := download.Inspect(blob.LocalPath, blob.ContentType)
	if err != nil {
		return false, fmt.Errorf("itemservice: refresh: %w", err)
	}
	if hash == blob.ContentHash {
		return false, nil
	}

	blob.ContentHash = hash
	blob.ContentType = contentType
	if err := s.store.UpdateBlob(ctx, *blob); err != nil {
		return false, err
	}
	if err := s.reindex(ctx, itemID); err != nil {
		return false, fmt.Errorf("itemservice: refresh: %w", err)
	}
	s.logger.Info("blob refreshed",
		slog.String("item_id", itemID),
		slog.String("path", blob.LocalPath))
	s.emit(EventUpdated, itemID)
	return true, nil
}

// Stats summarizes the collection.
type Stats struct {
	Items    int   `json:"items"`
	Indexed  int   `json:"indexed"`
	Pending  int   `json:"pending"`
	InFlight int64 `json:"in_flight"`
}

// Stats counts items, index documents and background downloads.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	items, err := s.store.ListItems(ctx, models.ListItems{})
	if err != nil {
		return st, err
	}
	st.Items = len(items)
	if st.Indexed, err = s.index.Count(ctx); err != nil {
		return st, err
	}
	if s.status != nil {
		st.Pending = len(s.status.Pending())
	}
	if c, ok := s.dispatcher.(interface{ InFlight() int64 }); ok {
		st.InFlight = c.InFlight()
	}
	return st, nil
}

func (s *Service) statusDelete(itemID string) {
	if s.status != nil {
		s.status.Delete(itemID)
	}
}
