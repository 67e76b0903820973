package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/starford/keep/internal/apperr"
	"github.com/starford/keep/internal/models"
)

const blobColumns = `id, item_id, source_uri, content_hash, content_type, local_path, managed, created_at`

// AddBlob records the blob for an item, replacing any previous one. When the
// replaced blob was managed and lived elsewhere its file is removed.
func (s *SQLite) AddBlob(ctx context.Context, blob models.Blob) (*models.Blob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := requireItem(ctx, tx, blob.ItemID); err != nil {
		return nil, fmt.Errorf("store: add blob: %w", err)
	}
	previous, err := blobForItem(ctx, tx, blob.ItemID)
	if err != nil {
		return nil, err
	}
	if previous != nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM blobs WHERE id = ?`, previous.ID); err != nil {
			return nil, fmt.Errorf("store: replace blob: %w", err)
		}
	}

	blob.ID = uuid.NewString()
	blob.CreatedAt = time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO blobs (`+blobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, blob.ID, blob.ItemID, blob.SourceURI, blob.ContentHash, blob.ContentType, blob.LocalPath, blob.Managed, blob.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("store: insert blob: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit: %w", err)
	}

	if previous != nil && previous.Managed && previous.LocalPath != blob.LocalPath {
		s.removeFile(previous.LocalPath)
	}
	return &blob, nil
}

// UpdateBlob refreshes the hash and content type of an existing blob.
func (s *SQLite) UpdateBlob(ctx context.Context, blob models.Blob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.conn.ExecContext(ctx,
		`UPDATE blobs SET content_hash = ?, content_type = ? WHERE id = ?`,
		blob.ContentHash, blob.ContentType, blob.ID)
	if err != nil {
		return fmt.Errorf("store: update blob: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: update blob: %w", apperr.NotFound("blob", blob.ID))
	}
	return nil
}

// ItemBlob returns the blob of an item.
func (s *SQLite) ItemBlob(ctx context.Context, itemID string) (*models.Blob, error) {
	if err := requireItem(ctx, s.conn, itemID); err != nil {
		return nil, fmt.Errorf("store: item blob: %w", err)
	}
	b, err := blobForItem(ctx, s.conn, itemID)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, fmt.Errorf("store: item blob: %w", apperr.NotFound("blob for item", itemID))
	}
	return b, nil
}

// GetBlob returns a blob by its own id.
func (s *SQLite) GetBlob(ctx context.Context, id string) (*models.Blob, error) {
	row := s.conn.QueryRowContext(ctx, `SELECT `+blobColumns+` FROM blobs WHERE id = ?`, id)
	b, err := scanBlob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: get blob: %w", apperr.NotFound("blob", id))
	}
	if err != nil {
		return nil, fmt.Errorf("store: get blob: %w", err)
	}
	return b, nil
}

// DeleteBlob removes a blob record and, when managed, its file.
func (s *SQLite) DeleteBlob(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.conn.QueryRowContext(ctx, `SELECT `+blobColumns+` FROM blobs WHERE id = ?`, id)
	b, err := scanBlob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("store: delete blob: %w", apperr.NotFound("blob", id))
	}
	if err != nil {
		return fmt.Errorf("store: delete blob: %w", err)
	}
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM blobs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("store: delete blob: %w", err)
	}
	if b.Managed {
		s.removeFile(b.LocalPath)
	}
	return nil
}

// UnmanagedBlobs returns every blob that points at a user-owned file.
func (s *SQLite) UnmanagedBlobs(ctx context.Context) ([]models.Blob, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT `+blobColumns+` FROM blobs WHERE managed = 0`)
	if err != nil {
		return nil, fmt.Errorf("store: unmanaged blobs: %w", err)
	}
	defer rows.Close()
	var out []models.Blob
	for rows.Next() {
		b, err := scanBlob(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan blob: %w", err)
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// blobForItem returns the item's blob or nil when it has none.
func blobForItem(ctx context.Context, q querier, itemID string) (*models.Blob, error) {
	row := q.QueryRowContext(ctx, `SELECT `+blobColumns+` FROM blobs WHERE item_id = ?`, itemID)
	b, err := scanBlob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: item blob: %w", err)
	}
	return b, nil
}

func scanBlob(row scanner) (*models.Blob, error) {
	var b models.Blob
	err := row.Scan(&b.ID, &b.ItemID, &b.SourceURI, &b.ContentHash, &b.ContentType, &b.LocalPath, &b.Managed, &b.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *SQLite) removeFile(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.logger.Warn("store: remove blob file failed",
			slog.String("path", path),
			slog.String("error", err.Error()))
	}
}
