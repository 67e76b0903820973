package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/starford/keep/internal/apperr"
	"github.com/starford/keep/internal/models"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const itemColumns = `id, name, url, body, comment, summary, created_at`

// CreateItem inserts a new item and attaches its tags, creating missing tags
// by exact label.
func (s *SQLite) CreateItem(ctx context.Context, req models.AddItem) (*models.Item, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, fmt.Errorf("store: create item: %w: name is required", apperr.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	now := time.Now().UTC()
	id := uuid.NewString()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO items (id, name, url, body, comment, summary, created_at)
		VALUES (?, ?, ?, ?, ?, NULL, ?)
	`, id, req.Name, nullable(req.URL), nullable(req.Body), nullable(req.Comment), now)
	if err != nil {
		return nil, fmt.Errorf("store: insert item: %w", err)
	}

	if err := attachTags(ctx, tx, id, req.Tags, 0, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit: %w", err)
	}
	return s.GetItem(ctx, id)
}

// GetItem returns the item with its tags and blob.
func (s *SQLite) GetItem(ctx context.Context, id string) (*models.Item, error) {
	return getItem(ctx, s.conn, id)
}

// ListItems returns items newest first, optionally filtered to those carrying
// every requested tag.
func (s *SQLite) ListItems(ctx context.Context, req models.ListItems) ([]models.Item, error) {
	var (
		where []string
		args  []any
	)
	labels := dedupLabels(req.Tags)
	if len(labels) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(labels)), ",")
		where = append(where, `id IN (
			SELECT it.item_id FROM item_tags it JOIN tags t ON t.id = it.tag_id
			WHERE t.label IN (`+placeholders+`)
			GROUP BY it.item_id HAVING COUNT(DISTINCT t.label) = ?)`)
		for _, l := range labels {
			args = append(args, l)
		}
		args = append(args, len(labels))
	}

	q := `SELECT ` + itemColumns + ` FROM items`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at DESC, rowid DESC`
	if req.Count > 0 {
		q += ` LIMIT ?`
		args = append(args, req.Count)
	}

	rows, err := s.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list items: %w", err)
	}
	var items []models.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("store: scan item: %w", err)
		}
		items = append(items, *it)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list items: %w", err)
	}

	for i := range items {
		if err := hydrate(ctx, s.conn, &items[i]); err != nil {
			return nil, err
		}
	}
	return items, nil
}

// UpdateItem applies a partial update. Empty strings clear optional fields.
func (s *SQLite) UpdateItem(ctx context.Context, req models.EditItem) (*models.Item, error) {
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		return nil, fmt.Errorf("store: update item: %w: name cannot be empty", apperr.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := requireItem(ctx, tx, req.ID); err != nil {
		return nil, err
	}

	var (
		sets []string
		args []any
	)
	if req.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *req.Name)
	}
	for _, f := range []struct {
		col string
		val *string
	}{
		{"url", req.URL},
		{"body", req.Body},
		{"summary", req.Summary},
		{"comment", req.Comment},
	} {
		if f.val == nil {
			continue
		}
		sets = append(sets, f.col+" = ?")
		args = append(args, clearable(*f.val))
	}
	if len(sets) > 0 {
		args = append(args, req.ID)
		if _, err := tx.ExecContext(ctx, `UPDATE items SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...); err != nil {
			return nil, fmt.Errorf("store: update item: %w", err)
		}
	}

	if len(req.RemoveTags) > 0 {
		for _, label := range dedupLabels(req.RemoveTags) {
			_, err := tx.ExecContext(ctx, `
				DELETE FROM item_tags
				WHERE item_id = ? AND tag_id = (SELECT id FROM tags WHERE label = ?)
			`, req.ID, label)
			if err != nil {
				return nil, fmt.Errorf("store: remove tag: %w", err)
			}
		}
	}

	if len(req.AddTags) > 0 {
		var next int
		err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(position) + 1, 0) FROM item_tags WHERE item_id = ?`, req.ID).Scan(&next)
		if err != nil {
			return nil, fmt.Errorf("store: tag position: %w", err)
		}
		if err := attachTags(ctx, tx, req.ID, req.AddTags, next, time.Now().UTC()); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit: %w", err)
	}
	return s.GetItem(ctx, req.ID)
}

// SetBody replaces the stored body of an item.
func (s *SQLite) SetBody(ctx context.Context, id, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.conn.ExecContext(ctx, `UPDATE items SET body = ? WHERE id = ?`, body, id)
	if err != nil {
		return fmt.Errorf("store: set body: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: set body: %w", apperr.NotFound("item", id))
	}
	return nil
}

// DeleteItem removes an item together with its tag assignments, links and
// blob. A managed blob's file is removed from disk after the commit.
func (s *SQLite) DeleteItem(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	blob, err := blobForItem(ctx, tx, id)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: delete item: %w", apperr.NotFound("item", id))
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}

	if blob != nil && blob.Managed {
		s.removeFile(blob.LocalPath)
	}
	return nil
}

func getItem(ctx context.Context, q querier, id string) (*models.Item, error) {
	row := q.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?`, id)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: get item: %w", apperr.NotFound("item", id))
	}
	if err != nil {
		return nil, fmt.Errorf("store: get item: %w", err)
	}
	if err := hydrate(ctx, q, it); err != nil {
		return nil, err
	}
	return it, nil
}

func requireItem(ctx context.Context, q querier, id string) error {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM items WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound("item", id)
	}
	if err != nil {
		return fmt.Errorf("store: lookup item: %w", err)
	}
	return nil
}

// hydrate loads the tags and blob of it.
func hydrate(ctx context.Context, q querier, it *models.Item) error {
	tags, err := itemTags(ctx, q, it.ID)
	if err != nil {
		return err
	}
	it.Tags = tags
	blob, err := blobForItem(ctx, q, it.ID)
	if err != nil {
		return err
	}
	it.Blob = blob
	return nil
}

func itemTags(ctx context.Context, q querier, itemID string) ([]models.Tag, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT t.id, t.label, t.created_at
		FROM item_tags it JOIN tags t ON t.id = it.tag_id
		WHERE it.item_id = ?
		ORDER BY it.position
	`, itemID)
	if err != nil {
		return nil, fmt.Errorf("store: item tags: %w", err)
	}
	defer rows.Close()
	tags := []models.Tag{}
	for rows.Next() {
		var t models.Tag
		if err := rows.Scan(&t.ID, &t.Label, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan tag: %w", err)
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

// attachTags links labels to an item starting at position pos. Labels are
// looked up by exact match and created when missing.
func attachTags(ctx context.Context, tx *sql.Tx, itemID string, labels []string, pos int, now time.Time) error {
	for _, label := range dedupLabels(labels) {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO tags (id, label, created_at) VALUES (?, ?, ?) ON CONFLICT(label) DO NOTHING`,
			uuid.NewString(), label, now)
		if err != nil {
			return fmt.Errorf("store: insert tag: %w", err)
		}
		var tagID string
		if err := tx.QueryRowContext(ctx, `SELECT id FROM tags WHERE label = ?`, label).Scan(&tagID); err != nil {
			return fmt.Errorf("store: lookup tag: %w", err)
		}
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO item_tags (item_id, tag_id, position) VALUES (?, ?, ?)`,
			itemID, tagID, pos)
		if err != nil {
			return fmt.Errorf("store: attach tag: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			pos++
		}
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (*models.Item, error) {
	var (
		it                          models.Item
		url, body, comment, summary sql.NullString
	)
	if err := row.Scan(&it.ID, &it.Name, &url, &body, &comment, &summary, &it.CreatedAt); err != nil {
		return nil, err
	}
	it.URL = fromNull(url)
	it.Body = fromNull(body)
	it.Comment = fromNull(comment)
	it.Summary = fromNull(summary)
	it.Tags = []models.Tag{}
	return &it, nil
}

// dedupLabels trims labels, drops empty ones and keeps the first occurrence
// of each.
func dedupLabels(labels []string) []string {
	seen := make(map[string]struct{}, len(labels))
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	return out
}

func nullable(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func clearable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func fromNull(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}
