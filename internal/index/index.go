package index

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/blevesearch/bleve/v2"

	"github.com/starford/keep/internal/apperr"
	"github.com/starford/keep/internal/models"
)

// ItemIndex defines the search engine operations used by the item service.
// Consumers should depend on this interface rather than *Index.
type ItemIndex interface {
	IndexFull(ctx context.Context, item *models.Item, tags []string, info *models.ExtractedInfo) error
	Remove(ctx context.Context, id string) error
	Search(ctx context.Context, query string, limit int) ([]models.SearchResult, error)
	Count(ctx context.Context) (int, error)
	IDs(ctx context.Context) ([]string, error)
	Close() error
}

// Verify *Index satisfies ItemIndex at compile time.
var _ ItemIndex = (*Index)(nil)

// Index wraps an on-disk bleve index. Searches use the handle directly;
// mutations go through a single writer goroutine.
type Index struct {
	bi     bleve.Index
	writer *writer
	logger *slog.Logger
}

// Close stops the writer and closes the index.
func (ix *Index) Close() error {
	ix.writer.close()
	return ix.bi.Close()
}

// newDocument maps an item onto the index fields. The title falls back to
// the item name and extracted body text replaces the item's own body.
func newDocument(item *models.Item, tags []string, info *models.ExtractedInfo) map[string]any {
	body := models.Deref(item.Body)
	title := item.Name
	extra := ""
	if info != nil {
		if info.Body != "" {
			body = info.Body
		}
		if info.Title != "" {
			title = info.Title
		}
		extra = models.Deref(info.Extra)
	}
	found := item.CreatedAt
	if found.IsZero() {
		found = time.Now().UTC()
	}

	paths := make([]string, 0, len(tags))
	for _, tag := range tags {
		if p := facetPath(tag); p != "/" {
			paths = append(paths, p)
		}
	}

	return map[string]any{
		FieldID:      item.ID,
		FieldName:    item.Name,
		FieldURL:     models.Deref(item.URL),
		FieldComment: models.Deref(item.Comment),
		FieldBody:    body,
		FieldTitle:   title,
		FieldExtra:   extra,
		FieldTag:     paths,
		FieldFound:   found,
	}
}

// IndexFull writes one document for item, replacing any existing document
// with the same id in the same batch. The change is applied before IndexFull
// returns.
func (ix *Index) IndexFull(ctx context.Context, item *models.Item, tags []string, info *models.ExtractedInfo) error {
	doc := newDocument(item, tags, info)
	err := ix.writer.submit(ctx, func(b *bleve.Batch, seq uint64) error {
		doc[FieldSeq] = float64(seq)
		b.Delete(item.ID)
		return b.Index(item.ID, doc)
	})
	if err != nil {
		return fmt.Errorf("index: write %s: %w: %w", item.ID, apperr.ErrIndex, err)
	}
	return nil
}

// Remove deletes the document with the given id, if present. The change is
// applied before Remove returns.
func (ix *Index) Remove(ctx context.Context, id string) error {
	err := ix.writer.submit(ctx, func(b *bleve.Batch, _ uint64) error {
		b.Delete(id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("index: remove %s: %w: %w", id, apperr.ErrIndex, err)
	}
	return nil
}

// Count returns the number of indexed documents.
func (ix *Index) Count(ctx context.Context) (int, error) {
	n, err := ix.bi.DocCount()
	if err != nil {
		return 0, fmt.Errorf("index: count: %w", err)
	}
	return int(n), nil
}

// IDs returns every indexed document id in insertion order.
func (ix *Index) IDs(ctx context.Context) ([]string, error) {
	n, err := ix.Count(ctx)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	req := bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), n, 0, false)
	req.SortBy([]string{FieldSeq})
	res, err := ix.bi.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("index: ids: %w", err)
	}
	out := make([]string, 0, len(res.Hits))
	for _, h := range res.Hits {
		out = append(out, h.ID)
	}
	return out, nil
}

// facetPath turns a tag label into a root-level facet path.
func facetPath(label string) string {
	return "/" + strings.Trim(strings.TrimSpace(label), "/")
}
