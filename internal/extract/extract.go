// Package extract turns a blob into searchable text according to its content
// type.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"strings"

	"github.com/starford/keep/internal/apperr"
	"github.com/starford/keep/internal/models"
)

// Extractor dispatches on the blob's media type.
type Extractor struct {
	logger *slog.Logger
}

// New creates an Extractor.
func New(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{logger: logger}
}

// Extract returns the text of blob, or nil when the blob is absent or its
// type is not supported. Unsupported types are not an error.
func (e *Extractor) Extract(ctx context.Context, item *models.Item, blob *models.Blob) (*models.ExtractedInfo, error) {
	if blob == nil {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mt := mediaType(blob.ContentType)
	var (
		info *models.ExtractedInfo
		err  error
	)
	switch {
	case mt == "text/html" || mt == "application/xhtml+xml":
		info, err = extractHTML(blob.LocalPath)
	case mt == "application/pdf":
		info, err = extractPDF(blob.LocalPath)
	case isMarkdown(mt, blob.LocalPath):
		info, err = extractMarkdown(blob.LocalPath)
	case strings.HasPrefix(mt, "text/") || strings.HasPrefix(mt, "application/"):
		info, err = extractText(blob.LocalPath)
	default:
		e.logger.Debug("extract: unsupported content type",
			slog.String("item_id", item.ID),
			slog.String("content_type", blob.ContentType))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("extract: item %s (%s): %w: %w", item.ID, mt, apperr.ErrExtraction, err)
	}
	return info, nil
}

// extractText decodes the file as UTF-8, replacing invalid sequences.
func extractText(path string) (*models.ExtractedInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &models.ExtractedInfo{Body: strings.ToValidUTF8(string(data), "�")}, nil
}

func mediaType(ct string) string {
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		mt, _, _ = strings.Cut(ct, ";")
		return strings.ToLower(strings.TrimSpace(mt))
	}
	return mt
}
