package store

import (
	"context"
	"fmt"

	"github.com/starford/keep/internal/apperr"
	"github.com/starford/keep/internal/models"
)

// linkKey orders a pair so (a, b) and (b, a) share one row.
func linkKey(a, b string) (string, string) {
	if a < b {
		return a, b
	}
	return b, a
}

// CreateLink links two distinct items. Linking an already linked pair is a
// no-op.
func (s *SQLite) CreateLink(ctx context.Context, a, b string) error {
	if a == b {
		return fmt.Errorf("store: create link: %w: cannot link an item to itself", apperr.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, id := range []string{a, b} {
		if err := requireItem(ctx, tx, id); err != nil {
			return fmt.Errorf("store: create link: %w", err)
		}
	}
	lo, hi := linkKey(a, b)
	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO links (a_id, b_id) VALUES (?, ?)`, lo, hi); err != nil {
		return fmt.Errorf("store: insert link: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// DeleteLink removes the link between two items if present.
func (s *SQLite) DeleteLink(ctx context.Context, a, b string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lo, hi := linkKey(a, b)
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM links WHERE a_id = ? AND b_id = ?`, lo, hi); err != nil {
		return fmt.Errorf("store: delete link: %w", err)
	}
	return nil
}

// LinkedItems returns the items linked to id.
func (s *SQLite) LinkedItems(ctx context.Context, id string) ([]models.Item, error) {
	if err := requireItem(ctx, s.conn, id); err != nil {
		return nil, fmt.Errorf("store: linked items: %w", err)
	}
	rows, err := s.conn.QueryContext(ctx, `
		SELECT CASE WHEN a_id = ? THEN b_id ELSE a_id END
		FROM links WHERE a_id = ? OR b_id = ?
	`, id, id, id)
	if err != nil {
		return nil, fmt.Errorf("store: linked items: %w", err)
	}
	var ids []string
	for rows.Next() {
		var other string
		if err := rows.Scan(&other); err != nil {
			rows.Close()
			return nil, fmt.Errorf("store: scan link: %w", err)
		}
		ids = append(ids, other)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: linked items: %w", err)
	}

	out := make([]models.Item, 0, len(ids))
	for _, other := range ids {
		it, err := getItem(ctx, s.conn, other)
		if err != nil {
			return nil, err
		}
		out = append(out, *it)
	}
	return out, nil
}
