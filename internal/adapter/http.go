package adapter

import (
	"context"
	"net/url"
	"strings"

	"github.com/starford/keep/internal/models"
)

// Fetcher acquires an item's source and records the blob.
type Fetcher interface {
	Fetch(ctx context.Context, item *models.Item) (*models.Blob, error)
}

// HTTPAdapter handles plain http(s) sources with the downloader.
type HTTPAdapter struct {
	fetcher Fetcher
}

var _ Adapter = (*HTTPAdapter)(nil)

// NewHTTPAdapter wraps fetcher.
func NewHTTPAdapter(fetcher Fetcher) *HTTPAdapter {
	return &HTTPAdapter{fetcher: fetcher}
}

func (a *HTTPAdapter) Name() string { return "http" }

// Accepts reports whether the item points at an http or https URL.
func (a *HTTPAdapter) Accepts(item *models.Item) bool {
	u, ok := remoteURL(item)
	return ok && u.Host != ""
}

func (a *HTTPAdapter) Download(ctx context.Context, item *models.Item) (*models.Blob, error) {
	return a.fetcher.Fetch(ctx, item)
}

// remoteURL parses the item URL when it uses the http or https scheme.
func remoteURL(item *models.Item) (*url.URL, bool) {
	if item == nil || item.URL == nil {
		return nil, false
	}
	u, err := url.Parse(strings.TrimSpace(*item.URL))
	if err != nil {
		return nil, false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return u, true
	}
	return nil, false
}

// IsRemote reports whether the item should be acquired over the network.
func IsRemote(item *models.Item) bool {
	_, ok := remoteURL(item)
	return ok
}
