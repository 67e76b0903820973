// Package models holds the value types shared by the store, the index and
// the item service.
package models

import "time"

// Item is a saved reference: a URL or local path plus user metadata.
type Item struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	URL       *string   `json:"url,omitempty"`
	Body      *string   `json:"body,omitempty"`
	Comment   *string   `json:"comment,omitempty"`
	Summary   *string   `json:"summary,omitempty"`
	Tags      []Tag     `json:"tags"`
	Blob      *Blob     `json:"blob,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// TagLabels returns the labels of the item's tags in order.
func (i *Item) TagLabels() []string {
	out := make([]string, 0, len(i.Tags))
	for _, t := range i.Tags {
		out = append(out, t.Label)
	}
	return out
}

// Tag is a label shared between items. Labels are unique by exact match.
type Tag struct {
	ID        string    `json:"id"`
	Label     string    `json:"label"`
	CreatedAt time.Time `json:"created_at"`
}

// Blob is the locally stored content behind an item.
//
// Managed blobs live under the downloads directory and are removed together
// with their item. Unmanaged blobs point at files owned by the user and are
// never deleted.
type Blob struct {
	ID          string    `json:"id"`
	ItemID      string    `json:"item_id"`
	SourceURI   string    `json:"source_uri"`
	ContentHash string    `json:"content_hash"`
	ContentType string    `json:"content_type"`
	LocalPath   string    `json:"local_path"`
	Managed     bool      `json:"managed"`
	CreatedAt   time.Time `json:"created_at"`
}

// ExtractedInfo is the text pulled out of a blob for indexing.
type ExtractedInfo struct {
	Title string  `json:"title"`
	Body  string  `json:"body"`
	Extra *string `json:"extra,omitempty"`
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

// Deref returns the value behind p, or the zero value when p is nil.
func Deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
