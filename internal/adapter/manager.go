package adapter

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/starford/keep/internal/apperr"
	"github.com/starford/keep/internal/models"
)

// Update reports the outcome of one background download.
type Update struct {
	ItemID  string
	Adapter string
	Blob    *models.Blob
	Err     error
}

// Manager runs one goroutine per dispatched download and publishes the
// results on Updates. It stops accepting work once Shutdown is called.
type Manager struct {
	registry *Registry
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	closing  bool
	inFlight atomic.Int64
	drained  chan struct{}
	once     sync.Once

	updates chan Update
}

// NewManager creates a manager dispatching through registry.
func NewManager(registry *Registry, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		registry: registry,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		drained:  make(chan struct{}),
		updates:  make(chan Update, 16),
	}
}

// Updates delivers download results. It is closed by Shutdown after the
// last in-flight task has reported.
func (m *Manager) Updates() <-chan Update {
	return m.updates
}

// InFlight returns the number of running downloads.
func (m *Manager) InFlight() int64 {
	return m.inFlight.Load()
}

// Dispatch starts a background download for item and returns the name of the
// adapter handling it.
func (m *Manager) Dispatch(item *models.Item) (string, error) {
	a, ok := m.registry.Match(item)
	if !ok {
		return "", ErrNoAdapter
	}

	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		return "", fmt.Errorf("adapter: dispatch %s: %w", item.ID, apperr.ErrShuttingDown)
	}
	m.inFlight.Add(1)
	m.mu.Unlock()

	snapshot := *item
	go m.run(a, &snapshot)

	m.logger.Debug("adapter: dispatched",
		slog.String("item_id", item.ID),
		slog.String("adapter", a.Name()))
	return a.Name(), nil
}

func (m *Manager) run(a Adapter, item *models.Item) {
	defer m.finish()

	blob, err := a.Download(m.ctx, item)
	if err != nil {
		m.logger.Warn("adapter: download failed",
			slog.String("item_id", item.ID),
			slog.String("adapter", a.Name()),
			slog.String("error", err.Error()))
	}
	m.updates <- Update{ItemID: item.ID, Adapter: a.Name(), Blob: blob, Err: err}
}

func (m *Manager) finish() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inFlight.Add(-1) == 0 && m.closing {
		close(m.drained)
	}
}

// Shutdown stops accepting work and waits for in-flight downloads to report.
// If ctx ends first the remaining downloads are cancelled and ctx.Err() is
// returned once they have unwound. Afterwards the adapters that implement
// io.Closer are closed and Updates is closed.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if !m.closing {
		m.closing = true
		if m.inFlight.Load() == 0 {
			close(m.drained)
		}
	}
	m.mu.Unlock()

	var err error
	select {
	case <-m.drained:
	case <-ctx.Done():
		m.logger.Warn("adapter: drain interrupted, cancelling downloads",
			slog.Int64("in_flight", m.inFlight.Load()))
		m.cancel()
		<-m.drained
		err = ctx.Err()
	}

	m.once.Do(func() {
		m.cancel()
		for _, a := range m.registry.adapters {
			c, ok := a.(io.Closer)
			if !ok {
				continue
			}
			if cerr := c.Close(); cerr != nil {
				m.logger.Warn("adapter: close failed",
					slog.String("adapter", a.Name()),
					slog.String("error", cerr.Error()))
			}
		}
		close(m.updates)
		m.logger.Info("adapter: manager stopped")
	})
	return err
}
