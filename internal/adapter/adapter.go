// Package adapter runs item downloads in the background through a fixed,
// ordered set of adapters.
package adapter

import (
	"context"
	"errors"

	"github.com/starford/keep/internal/models"
)

// ErrNoAdapter is returned by Dispatch when no registered adapter accepts
// the item.
var ErrNoAdapter = errors.New("adapter: no adapter accepts item")

// Adapter downloads the source of the items it accepts.
type Adapter interface {
	Name() string
	Accepts(item *models.Item) bool
	Download(ctx context.Context, item *models.Item) (*models.Blob, error)
}

// Registry is an ordered adapter list. The first adapter that accepts an
// item handles it.
type Registry struct {
	adapters []Adapter
}

// NewRegistry builds a registry that tries adapters in the given order.
func NewRegistry(adapters ...Adapter) *Registry {
	return &Registry{adapters: adapters}
}

// Match returns the first adapter accepting item.
func (r *Registry) Match(item *models.Item) (Adapter, bool) {
	for _, a := range r.adapters {
		if a.Accepts(item) {
			return a, true
		}
	}
	return nil, false
}

// Names lists the registered adapters in order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a.Name())
	}
	return out
}
