package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/alanyoungcy/costsim/internal/domain"
)

// Mailbox is a single-slot hand-off from the feed goroutine to the tick
// goroutine. Put never blocks: a snapshot that has not been taken yet is
// overwritten by the newer one and counted as dropped.
type Mailbox struct {
	mu      sync.Mutex
	pending *domain.RawSnapshot
	ready   chan struct{}
	dropped atomic.Uint64
	onDrop  func()
}

// NewMailbox returns an empty Mailbox. onDrop, when non-nil, runs every time
// a pending snapshot is overwritten.
func NewMailbox(onDrop func()) *Mailbox {
	return &Mailbox{
		ready:  make(chan struct{}, 1),
		onDrop: onDrop,
	}
}

// Put stores snap, replacing any pending snapshot. A snapshot older than the
// pending one is discarded instead.
func (m *Mailbox) Put(snap domain.RawSnapshot) {
	m.mu.Lock()
	if m.pending != nil {
		if snap.Sequence < m.pending.Sequence {
			m.mu.Unlock()
			m.drop()
			return
		}
		m.drop()
	}
	m.pending = &snap
	m.mu.Unlock()

	select {
	case m.ready <- struct{}{}:
	default:
	}
}

// Take blocks until a snapshot is available or ctx is done.
func (m *Mailbox) Take(ctx context.Context) (domain.RawSnapshot, error) {
	for {
		m.mu.Lock()
		if m.pending != nil {
			snap := *m.pending
			m.pending = nil
			m.mu.Unlock()
			return snap, nil
		}
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return domain.RawSnapshot{}, ctx.Err()
		case <-m.ready:
		}
	}
}

// Clear discards the pending snapshot, if any, and reports whether one was
// discarded. Cleared snapshots are counted as dropped.
func (m *Mailbox) Clear() bool {
	m.mu.Lock()
	had := m.pending != nil
	m.pending = nil
	m.mu.Unlock()
	if had {
		m.drop()
	}
	return had
}

// Dropped returns how many snapshots were overwritten before being taken.
func (m *Mailbox) Dropped() uint64 {
	return m.dropped.Load()
}

func (m *Mailbox) drop() {
	m.dropped.Add(1)
	if m.onDrop != nil {
		m.onDrop()
	}
}
