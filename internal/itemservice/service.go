// Package itemservice runs the save, archive, extract and index pipeline and
// exposes the item verbs used by the HTTP API, the MCP server and the CLI.
package itemservice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/starford/keep/internal/adapter"
	"github.com/starford/keep/internal/apperr"
	"github.com/starford/keep/internal/index"
	"github.com/starford/keep/internal/models"
	"github.com/starford/keep/internal/offline"
	"github.com/starford/keep/internal/storage"
	"github.com/starford/keep/internal/store"
)

// Event kinds passed to the Notifier.
const (
	EventAdded         = "item.added"
	EventUpdated       = "item.updated"
	EventDeleted       = "item.deleted"
	EventArchived      = "item.archived"
	EventArchiveFailed = "item.archive_failed"
)

// DefaultSearchLimit caps Search when no limit is given.
const DefaultSearchLimit = 10

// Fetcher acquires an item's source inline and records files placed in the
// downloads directory by other means.
type Fetcher interface {
	Fetch(ctx context.Context, item *models.Item) (*models.Blob, error)
	Finalize(ctx context.Context, itemID, sourceURI, path string, managed bool, guess string) (*models.Blob, error)
}

// Extractor pulls indexable text out of a blob.
type Extractor interface {
	Extract(ctx context.Context, item *models.Item, blob *models.Blob) (*models.ExtractedInfo, error)
}

// Dispatcher hands an item to a background download adapter.
type Dispatcher interface {
	Dispatch(item *models.Item) (string, error)
}

// BlobObserver is told about unmanaged blobs so it can watch them.
type BlobObserver interface {
	Track(blob models.Blob)
}

// Notifier receives one call per mutation.
type Notifier func(kind, id string)

// Config selects which Add stages run.
type Config struct {
	DownloadOnAdd bool
	IndexOnAdd    bool
	Background    bool
}

// DefaultConfig downloads and indexes inline.
func DefaultConfig() Config {
	return Config{DownloadOnAdd: true, IndexOnAdd: true}
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithBackground routes remote downloads through d and tracks their state
// in status.
func WithBackground(d Dispatcher, status *offline.Store) Option {
	return func(s *Service) {
		s.dispatcher = d
		s.status = status
	}
}

// WithNotifier sets the mutation callback.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notify = n }
}

// WithBlobObserver registers the watcher for unmanaged blobs.
func WithBlobObserver(o BlobObserver) Option {
	return func(s *Service) { s.observer = o }
}

// WithDownloads sets the downloads directory used by Attach and pruned by
// Reconcile.
func WithDownloads(files storage.Provider) Option {
	return func(s *Service) { s.downloads = files }
}

// Service coordinates the store, the index, the downloader and the
// extractor.
type Service struct {
	store     store.Store
	index     index.ItemIndex
	fetcher   Fetcher
	extractor Extractor
	cfg       Config

	dispatcher Dispatcher
	status     *offline.Store
	notify     Notifier
	observer   BlobObserver
	downloads  storage.Provider
	logger     *slog.Logger
}

// New creates an item service.
func New(st store.Store, ix index.ItemIndex, fetcher Fetcher, extractor Extractor, cfg Config, opts ...Option) *Service {
	s := &Service{
		store:     st,
		index:     ix,
		fetcher:   fetcher,
		extractor: extractor,
		cfg:       cfg,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Add persists a new item, then downloads, extracts and indexes it as
// configured. A failed download leaves the item without a blob and is not
// an error; an index failure is.
func (s *Service) Add(ctx context.Context, req models.AddItem) (*models.Item, error) {
	item, err := s.store.CreateItem(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("itemservice: add: %w", err)
	}

	if s.cfg.DownloadOnAdd && models.Deref(item.URL) != "" {
		s.acquire(ctx, item)
	}
	if s.cfg.IndexOnAdd {
		if err := s.reindex(ctx, item.ID); err != nil {
			return nil, fmt.Errorf("itemservice: add: %w", err)
		}
	}

	out, err := s.store.GetItem(ctx, item.ID)
	if err != nil {
		return nil, fmt.Errorf("itemservice: add: %w", err)
	}
	s.logger.Info("item added",
		slog.String("item_id", out.ID),
		slog.Bool("archived", out.Blob != nil))
	s.emit(EventAdded, out.ID)
	return out, nil
}

// acquire downloads the item source, in the background when configured.
// Failures are logged and the item keeps no blob.
func (s *Service) acquire(ctx context.Context, item *models.Item) {
	if s.cfg.Background && s.dispatcher != nil && adapter.IsRemote(item) {
		name, err := s.dispatcher.Dispatch(item)
		switch {
		case err == nil:
			s.putStatus(offline.Record{
				ItemID:  item.ID,
				URL:     models.Deref(item.URL),
				Adapter: name,
				Status:  offline.StatusDownloading,
			})
			return
		case errors.Is(err, adapter.ErrNoAdapter):
			// handled inline below
		default:
			s.logger.Warn("background dispatch failed",
				slog.String("item_id", item.ID),
				slog.String("error", err.Error()))
			return
		}
	}

	blob, err := s.fetcher.Fetch(ctx, item)
	if err != nil {
		s.logger.Warn("download failed, item saved without blob",
			slog.String("item_id", item.ID),
			slog.String("url", models.Deref(item.URL)),
			slog.String("error", err.Error()))
		return
	}
	s.track(blob)
}

// reindex extracts the item's blob and replaces its index document. A body
// extracted from the blob is stored on items that have none.
func (s *Service) reindex(ctx context.Context, id string) error {
	item, err := s.store.GetItem(ctx, id)
	if err != nil {
		return err
	}

	var info *models.ExtractedInfo
	if item.Blob != nil && s.extractor != nil {
		info, err = s.extractor.Extract(ctx, item, item.Blob)
		if err != nil {
			s.logger.Warn("extraction failed, indexing metadata only",
				slog.String("item_id", id),
				slog.String("error", err.Error()))
			info = nil
		}
	}

	if err := s.index.Remove(ctx, id); err != nil {
		return err
	}
	if err := s.index.IndexFull(ctx, item, item.TagLabels(), info); err != nil {
		return err
	}

	if info != nil && info.Body != "" && models.Deref(item.Body) == "" {
		if err := s.store.SetBody(ctx, id, info.Body); err != nil {
			return err
		}
	}
	return nil
}

// Attach stores r as the managed blob of an existing item and re-indexes it.
// name supplies the file extension and is recorded as the blob source.
func (s *Service) Attach(ctx context.Context, itemID, name string, r io.Reader) (*models.Item, error) {
	if s.downloads == nil {
		return nil, fmt.Errorf("itemservice: attach: %w: no downloads directory", apperr.ErrInvalidInput)
	}
	if _, err := s.store.GetItem(ctx, itemID); err != nil {
		return nil, err
	}
	base := filepath.Base(filepath.Clean(name))
	if base == "." || base == string(filepath.Separator) {
		return nil, fmt.Errorf("itemservice: attach: %w: file name is required", apperr.ErrInvalidInput)
	}

	path, n, err := s.downloads.Write(itemID+strings.ToLower(filepath.Ext(base)), r)
	if err != nil {
		return nil, fmt.Errorf("itemservice: attach: %w", err)
	}
	if _, err := s.fetcher.Finalize(ctx, itemID, base, path, true, ""); err != nil {
		return nil, fmt.Errorf("itemservice: attach: %w", err)
	}
	if err := s.reindex(ctx, itemID); err != nil {
		return nil, fmt.Errorf("itemservice: attach: %w", err)
	}
	s.logger.Info("blob attached",
		slog.String("item_id", itemID),
		slog.String("file", base),
		slog.Int64("bytes", n))
	s.emit(EventUpdated, itemID)
	return s.store.GetItem(ctx, itemID)
}

// Get returns one item.
func (s *Service) Get(ctx context.Context, id string) (*models.Item, error) {
	return s.store.GetItem(ctx, id)
}

// GetBlob resolves id as an item id first and as a blob id second.
func (s *Service) GetBlob(ctx context.Context, id string) (*models.Blob, error) {
	blob, err := s.store.ItemBlob(ctx, id)
	if err == nil {
		return blob, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}
	blob, err = s.store.GetBlob(ctx, id)
	if err != nil {
		return nil, err
	}
	return blob, nil
}

// List returns items newest first.
func (s *Service) List(ctx context.Context, req models.ListItems) ([]models.Item, error) {
	items, err := s.store.ListItems(ctx, req)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []models.Item{}
	}
	return items, nil
}

// Edit applies a partial update and re-indexes the item. A changed URL drops
// the old blob and is downloaded again.
func (s *Service) Edit(ctx context.Context, req models.EditItem) (*models.Item, error) {
	before, err := s.store.GetItem(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	item, err := s.store.UpdateItem(ctx, req)
	if err != nil {
		return nil, err
	}

	if models.Deref(before.URL) != models.Deref(item.URL) {
		if err := s.dropBlob(ctx, item); err != nil {
			return nil, fmt.Errorf("itemservice: edit: %w", err)
		}
		if models.Deref(item.URL) != "" && s.cfg.DownloadOnAdd {
			s.acquire(ctx, item)
		}
	}

	if err := s.reindex(ctx, item.ID); err != nil {
		return nil, fmt.Errorf("itemservice: edit: %w", err)
	}
	s.emit(EventUpdated, item.ID)
	return s.store.GetItem(ctx, item.ID)
}

// dropBlob removes the item's blob. A body that was copied from the blob's
// extracted text is cleared with it.
func (s *Service) dropBlob(ctx context.Context, item *models.Item) error {
	if item.Blob == nil {
		return nil
	}
	if body := models.Deref(item.Body); body != "" && s.extractor != nil {
		info, err := s.extractor.Extract(ctx, item, item.Blob)
		if err == nil && info != nil && info.Body == body {
			if _, err := s.store.UpdateItem(ctx, models.EditItem{ID: item.ID, Body: models.Ptr("")}); err != nil {
				return err
			}
		}
	}
	if err := s.store.DeleteBlob(ctx, item.Blob.ID); err != nil {
		return err
	}
	item.Blob = nil
	return nil
}

// Delete removes the item, its blob and its index document.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteItem(ctx, id); err != nil {
		return err
	}
	if err := s.index.Remove(ctx, id); err != nil {
		return fmt.Errorf("itemservice: delete: %w", err)
	}
	if s.status != nil {
		s.status.Delete(id)
	}
	s.logger.Info("item deleted", slog.String("item_id", id))
	s.emit(EventDeleted, id)
	return nil
}

// Link connects two items symmetrically.
func (s *Service) Link(ctx context.Context, a, b string) error {
	if err := s.store.CreateLink(ctx, a, b); err != nil {
		return err
	}
	s.emit(EventUpdated, a)
	s.emit(EventUpdated, b)
	return nil
}

// Unlink removes the link between two items.
func (s *Service) Unlink(ctx context.Context, a, b string) error {
	if err := s.store.DeleteLink(ctx, a, b); err != nil {
		return err
	}
	s.emit(EventUpdated, a)
	s.emit(EventUpdated, b)
	return nil
}

// LinkedItems returns the items linked to id.
func (s *Service) LinkedItems(ctx context.Context, id string) ([]models.Item, error) {
	items, err := s.store.LinkedItems(ctx, id)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []models.Item{}
	}
	return items, nil
}

// Search queries the index. A non-positive limit means DefaultSearchLimit.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]models.SearchResult, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	return s.index.Search(ctx, query, limit)
}

// Reindex rebuilds the index document of one item.
func (s *Service) Reindex(ctx context.Context, id string) error {
	if err := s.reindex(ctx, id); err != nil {
		return fmt.Errorf("itemservice: reindex: %w", err)
	}
	s.emit(EventUpdated, id)
	return nil
}

func (s *Service) putStatus(r offline.Record) {
	if s.status != nil {
		s.status.Put(r)
	}
}

func (s *Service) track(blob *models.Blob) {
	if s.observer != nil && blob != nil && !blob.Managed {
		s.observer.Track(*blob)
	}
}

func (s *Service) emit(kind, id string) {
	if s.notify != nil {
		s.notify(kind, id)
	}
}
