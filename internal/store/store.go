// Package store persists items, tags, links and blobs in SQLite.
package store

import (
	"context"

	"github.com/starford/keep/internal/models"
)

// Store is the metadata persistence used by the item service.
// Consumers should depend on this interface rather than *SQLite.
type Store interface {
	CreateItem(ctx context.Context, req models.AddItem) (*models.Item, error)
	GetItem(ctx context.Context, id string) (*models.Item, error)
	ListItems(ctx context.Context, req models.ListItems) ([]models.Item, error)
	UpdateItem(ctx context.Context, req models.EditItem) (*models.Item, error)
	SetBody(ctx context.Context, id, body string) error
	DeleteItem(ctx context.Context, id string) error

	CreateLink(ctx context.Context, a, b string) error
	DeleteLink(ctx context.Context, a, b string) error
	LinkedItems(ctx context.Context, id string) ([]models.Item, error)

	AddBlob(ctx context.Context, blob models.Blob) (*models.Blob, error)
	UpdateBlob(ctx context.Context, blob models.Blob) error
	ItemBlob(ctx context.Context, itemID string) (*models.Blob, error)
	GetBlob(ctx context.Context, id string) (*models.Blob, error)
	DeleteBlob(ctx context.Context, id string) error
	UnmanagedBlobs(ctx context.Context) ([]models.Blob, error)

	Close() error
}

// Verify *SQLite satisfies Store at compile time.
var _ Store = (*SQLite)(nil)
