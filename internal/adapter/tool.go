package adapter

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/starford/keep/internal/apperr"
	"github.com/starford/keep/internal/models"
	"github.com/starford/keep/internal/storage"
)

// videoHosts are the sites handed to the external download tool.
var videoHosts = []string{"youtube.com", "youtu.be"}

// Finalizer records a downloaded file as an item's blob.
type Finalizer interface {
	Finalize(ctx context.Context, itemID, sourceURI, path string, managed bool, guess string) (*models.Blob, error)
}

// ToolAdapter downloads video pages with yt-dlp or youtube-dl.
type ToolAdapter struct {
	bin       string
	files     storage.Provider
	finalizer Finalizer
	logger    *slog.Logger
}

var _ Adapter = (*ToolAdapter)(nil)

// LookupTool returns the first of the known download tools found on PATH.
func LookupTool() (string, bool) {
	for _, name := range []string{"yt-dlp", "youtube-dl"} {
		if p, err := exec.LookPath(name); err == nil {
			return p, true
		}
	}
	return "", false
}

// NewToolAdapter runs bin to download into files.
func NewToolAdapter(bin string, files storage.Provider, finalizer Finalizer, logger *slog.Logger) *ToolAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &ToolAdapter{bin: bin, files: files, finalizer: finalizer, logger: logger}
}

func (a *ToolAdapter) Name() string { return "tool" }

// Accepts reports whether the item URL is on a known video host.
func (a *ToolAdapter) Accepts(item *models.Item) bool {
	u, ok := remoteURL(item)
	if !ok {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, h := range videoHosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

// Download runs the tool with an output template of <id>.%(ext)s and records
// the file it produced.
func (a *ToolAdapter) Download(ctx context.Context, item *models.Item) (*models.Blob, error) {
	src := strings.TrimSpace(models.Deref(item.URL))
	template, err := a.files.Path(item.ID + ".%(ext)s")
	if err != nil {
		return nil, fmt.Errorf("adapter: tool: %w", err)
	}

	started := time.Now()
	cmd := exec.CommandContext(ctx, a.bin, "--no-playlist", "--quiet", "-o", template, src)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		return nil, fmt.Errorf("adapter: tool: item %s: %w: %v: %s", item.ID, apperr.ErrAcquisition, err, msg)
	}

	path, err := a.output(item.ID, started)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("adapter: tool finished",
		slog.String("item_id", item.ID),
		slog.String("path", path),
		slog.Duration("took", time.Since(started)))
	return a.finalizer.Finalize(ctx, item.ID, src, path, true, "")
}

// output finds the newest <id>.<ext> file the tool wrote.
func (a *ToolAdapter) output(id string, since time.Time) (string, error) {
	files, err := a.files.List()
	if err != nil {
		return "", fmt.Errorf("adapter: tool: list downloads: %w", err)
	}
	var best storage.FileInfo
	for _, f := range files {
		if !strings.HasPrefix(f.Name, id+".") || strings.HasSuffix(f.Name, ".part") {
			continue
		}
		if f.ModTime.Before(since.Add(-time.Second)) {
			continue
		}
		if best.Path == "" || f.ModTime.After(best.ModTime) {
			best = f
		}
	}
	if best.Path == "" {
		return "", fmt.Errorf("adapter: tool: item %s: %w: no output file", id, apperr.ErrAcquisition)
	}
	return best.Path, nil
}
