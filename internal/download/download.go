// Package download acquires the bytes behind an item's source and records
// them as a blob.
package download

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/starford/keep/internal/apperr"
	"github.com/starford/keep/internal/checksum"
	"github.com/starford/keep/internal/models"
	"github.com/starford/keep/internal/storage"
)

// DefaultUserAgent is sent with every request unless configured otherwise.
const DefaultUserAgent = "Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:96.0) Gecko/20100101 Firefox/96.0"

// BlobRecorder persists blob records.
type BlobRecorder interface {
	AddBlob(ctx context.Context, blob models.Blob) (*models.Blob, error)
}

// Config tunes network behaviour.
type Config struct {
	UserAgent      string
	Timeout        time.Duration // per plain request
	ArchiveTimeout time.Duration // whole archival fetch, assets included
	MaxAssetBytes  int64
	AssetWorkers   int
}

func (c Config) withDefaults() Config {
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.ArchiveTimeout <= 0 {
		c.ArchiveTimeout = 120 * time.Second
	}
	if c.MaxAssetBytes <= 0 {
		c.MaxAssetBytes = 10 << 20
	}
	if c.AssetWorkers <= 0 {
		c.AssetWorkers = 4
	}
	return c
}

// Downloader fetches item sources into the downloads directory.
type Downloader struct {
	files  storage.Provider
	blobs  BlobRecorder
	client *http.Client
	cfg    Config
	logger *slog.Logger
}

// New creates a Downloader writing into files and recording blobs in blobs.
func New(files storage.Provider, blobs BlobRecorder, cfg Config, logger *slog.Logger) *Downloader {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Downloader{
		files:  files,
		blobs:  blobs,
		client: &http.Client{Timeout: cfg.Timeout},
		cfg:    cfg,
		logger: logger,
	}
}

// Files returns the downloads directory provider.
func (d *Downloader) Files() storage.Provider {
	return d.files
}

// Fetch acquires the item's source and records the resulting blob.
//
// Existing local paths are referenced in place and never copied. HTTP(S)
// sources guessed to be HTML are archived into a single self-contained file,
// falling back to a plain download when archival fails. Other HTTP(S)
// sources are downloaded as-is.
func (d *Downloader) Fetch(ctx context.Context, item *models.Item) (*models.Blob, error) {
	src := strings.TrimSpace(models.Deref(item.URL))
	if src == "" {
		return nil, fmt.Errorf("download: item %s: %w", item.ID, apperr.ErrMissingSource)
	}

	if path, ok := localPath(src); ok {
		return d.Finalize(ctx, item.ID, src, path, false, guessFromPath(path))
	}

	u, err := url.Parse(src)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("download: item %s: %q: %w", item.ID, src, apperr.ErrUnsupportedScheme)
	}

	guess := guessFromURL(u)
	var path string
	if guess == "text/html" {
		path, err = d.archive(ctx, item.ID, u)
		if err != nil {
			d.logger.Warn("download: archival failed, falling back to plain fetch",
				slog.String("item_id", item.ID),
				slog.String("url", src),
				slog.String("error", err.Error()))
			path = ""
		}
	}
	if path == "" {
		path, err = d.fetchPlain(ctx, item.ID, u)
		if err != nil {
			return nil, fmt.Errorf("download: item %s: %w: %w", item.ID, apperr.ErrAcquisition, err)
		}
	}
	return d.Finalize(ctx, item.ID, src, path, true, guess)
}

// Finalize sniffs and hashes the file at path and records it as the item's
// blob. An empty guess is derived from the file extension.
func (d *Downloader) Finalize(ctx context.Context, itemID, sourceURI, path string, managed bool, guess string) (*models.Blob, error) {
	if guess == "" {
		guess = guessFromPath(path)
	}
	contentType, hash, err := Inspect(path, guess)
	if err != nil {
		d.discard(path, managed)
		return nil, fmt.Errorf("download: item %s: %w: %w", itemID, apperr.ErrAcquisition, err)
	}
	blob, err := d.blobs.AddBlob(ctx, models.Blob{
		ItemID:      itemID,
		SourceURI:   sourceURI,
		ContentHash: hash,
		ContentType: contentType,
		LocalPath:   path,
		Managed:     managed,
	})
	if err != nil {
		d.discard(path, managed)
		return nil, fmt.Errorf("download: record blob: %w", err)
	}
	d.logger.Debug("download: blob recorded",
		slog.String("item_id", itemID),
		slog.String("path", path),
		slog.String("content_type", contentType),
		slog.Bool("managed", managed))
	return blob, nil
}

// discard removes a managed file that could not be recorded, e.g. because
// the item was deleted while it downloaded.
func (d *Downloader) discard(path string, managed bool) {
	if !managed {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		d.logger.Warn("download: remove unrecorded file",
			slog.String("path", path),
			slog.String("error", err.Error()))
	}
}

// Inspect sniffs the media type of the file at path and hashes its content.
func Inspect(path, guess string) (contentType, hash string, err error) {
	hash, err = checksum.SumFile(path)
	if err != nil {
		return "", "", err
	}
	return sniff(path, guess), hash, nil
}

// fetchPlain streams the response body into downloads/<id>.
func (d *Downloader) fetchPlain(ctx context.Context, id string, u *url.URL) (string, error) {
	resp, err := d.get(ctx, d.client, u.String())
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	path, _, err := d.files.Write(id, resp.Body)
	if err != nil {
		return "", err
	}
	return path, nil
}

func (d *Downloader) get(ctx context.Context, client *http.Client, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", d.cfg.UserAgent)
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", rawURL, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("get %s: unexpected status %s", rawURL, resp.Status)
	}
	return resp, nil
}

// localPath reports whether src names an existing file, accepting file://
// URLs.
func localPath(src string) (string, bool) {
	p := src
	if strings.HasPrefix(p, "file://") {
		u, err := url.Parse(p)
		if err != nil {
			return "", false
		}
		p = u.Path
	}
	info, err := os.Stat(p)
	if err != nil || info.IsDir() {
		return "", false
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", false
	}
	return abs, true
}
