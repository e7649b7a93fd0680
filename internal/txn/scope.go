// Package txn carries the state of one atomic batch through a call chain.
//
// A Scope is bound to a context.Context, never to a goroutine: every write
// made with a context holding a Scope joins its transaction and defers its
// notifications until the batch commits.
package txn

import (
	"context"
	"sync"

	"github.com/zoravur/tablegate/internal/engine"
	"github.com/zoravur/tablegate/internal/errors"
	"github.com/zoravur/tablegate/internal/notify"
)

type State int

const (
	Idle State = iota
	Open
	Committed
	RolledBack
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case Committed:
		return "committed"
	case RolledBack:
		return "rolled_back"
	}
	return "idle"
}

// Scope is one open batch: its transaction plus the ordered, deduplicated
// events its writes produced. It is safe for concurrent use.
type Scope struct {
	mu      sync.Mutex
	tx      *engine.Tx
	state   State
	pending []notify.ChangeEvent
	seen    map[string]struct{}
}

// Begin opens a scope around tx.
func Begin(tx *engine.Tx) *Scope {
	return &Scope{tx: tx, state: Open, seen: map[string]struct{}{}}
}

type scopeKey struct{}

// NewContext returns a copy of ctx carrying s.
func NewContext(ctx context.Context, s *Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

// FromContext returns the open scope carried by ctx, if any.
func FromContext(ctx context.Context) (*Scope, bool) {
	s, ok := ctx.Value(scopeKey{}).(*Scope)
	if !ok || !s.InBatch() {
		return nil, false
	}
	return s, true
}

// Tx returns the batch transaction.
func (s *Scope) Tx() *engine.Tx { return s.tx }

func (s *Scope) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// InBatch reports whether the scope still accepts writes.
func (s *Scope) InBatch() bool { return s.State() == Open }

// Defer queues ev for delivery after commit. An event whose URI is already
// queued is dropped; the first occurrence keeps its position. Defer reports
// whether ev was queued.
func (s *Scope) Defer(ev notify.ChangeEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Open {
		return false
	}
	k := ev.Key()
	if _, dup := s.seen[k]; dup {
		return false
	}
	s.seen[k] = struct{}{}
	s.pending = append(s.pending, ev)
	return true
}

// Pending returns a copy of the queued events in order.
func (s *Scope) Pending() []notify.ChangeEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notify.ChangeEvent(nil), s.pending...)
}

// Commit commits the transaction and hands back the queued events. On
// failure the events are discarded. The scope is closed either way.
func (s *Scope) Commit() ([]notify.ChangeEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Open {
		return nil, errors.Newf(errors.ErrUncoded, "commit on %s scope", s.state)
	}

	pending := s.pending
	s.pending, s.seen = nil, nil
	if err := s.tx.Commit(); err != nil {
		s.state = RolledBack
		return nil, err
	}
	s.state = Committed
	return pending, nil
}

// Rollback aborts the transaction and discards queued events. It is a no-op
// on a closed scope, so it can be deferred.
func (s *Scope) Rollback() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Open {
		return nil
	}
	s.state = RolledBack
	s.pending, s.seen = nil, nil
	return s.tx.Rollback()
}
