package index

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/blevesearch/bleve/v2"
)

// ErrClosed is returned by mutations submitted after Close.
var ErrClosed = errors.New("index: closed")

type writeOp struct {
	ctx   context.Context
	apply func(b *bleve.Batch, seq uint64) error
	done  chan error
}

// writer owns every index mutation. A single goroutine receives operations
// over ops and applies each one as its own batch, so there is never more
// than one writer at a time. Each batch also persists the insertion counter.
type writer struct {
	bi  bleve.Index
	seq uint64

	ops     chan writeOp
	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

func newWriter(bi bleve.Index, seq uint64) *writer {
	w := &writer{
		bi:      bi,
		seq:     seq,
		ops:     make(chan writeOp),
		stopCh:  make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *writer) run() {
	defer close(w.stopped)
	for {
		select {
		case <-w.stopCh:
			return
		case op := <-w.ops:
			op.done <- w.commit(op)
		}
	}
}

func (w *writer) commit(op writeOp) error {
	if err := op.ctx.Err(); err != nil {
		return err
	}
	next := w.seq + 1
	b := w.bi.NewBatch()
	if err := op.apply(b, next); err != nil {
		return err
	}
	b.SetInternal(seqKey, []byte(strconv.FormatUint(next, 10)))
	if err := w.bi.Batch(b); err != nil {
		return fmt.Errorf("index: batch: %w", err)
	}
	w.seq = next
	return nil
}

// submit hands fn to the writer goroutine and waits until its batch is
// applied.
func (w *writer) submit(ctx context.Context, fn func(b *bleve.Batch, seq uint64) error) error {
	if w.closed.Load() {
		return ErrClosed
	}
	op := writeOp{ctx: ctx, apply: fn, done: make(chan error, 1)}
	select {
	case w.ops <- op:
	case <-w.stopped:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-op.done
}

// close stops the writer after the operation in progress, if any.
func (w *writer) close() {
	if w.closed.CompareAndSwap(false, true) {
		close(w.stopCh)
	}
	<-w.stopped
}
