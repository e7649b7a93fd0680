package notify

import (
	"context"
	"sync"

	"go.uber.org/multierr"

	"github.com/zoravur/tablegate/internal/protocol"
	"github.com/zoravur/tablegate/internal/resource"
)

// Observer is one registration in a Hub.
type Observer struct {
	ID  string
	URI resource.Identifier
	// Descendants extends the registration to every row under URI.
	Descendants bool
	Send        func(ctx context.Context, change protocol.Change) error
}

// Hub fans notifications out to registered observers. An observer is
// reached by changes to its exact URI, to an ancestor of it (a change to
// a collection reaches observers of its rows) and, with Descendants, to
// anything below it. Params are ignored when matching.
type Hub struct {
	mu   sync.RWMutex
	data map[string]*Observer
}

func NewHub() *Hub {
	return &Hub{data: make(map[string]*Observer)}
}

func (h *Hub) Register(o *Observer) {
	h.mu.Lock()
	h.data[o.ID] = o
	h.mu.Unlock()
}

func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	delete(h.data, id)
	h.mu.Unlock()
}

func (h *Hub) Get(id string) (*Observer, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	o, ok := h.data[id]
	return o, ok
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.data)
}

// SnapshotView describes the current registrations for display.
func (h *Hub) SnapshotView() []map[string]any {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]map[string]any, 0, len(h.data))
	for _, o := range h.data {
		out = append(out, map[string]any{
			"id":          o.ID,
			"uri":         o.URI.String(),
			"descendants": o.Descendants,
		})
	}
	return out
}

// Deliver sends a Change to every matching observer. Sends happen outside
// the lock; failures are combined.
func (h *Hub) Deliver(ctx context.Context, uri resource.Identifier, sync bool) error {
	h.mu.RLock()
	var targets []*Observer
	for _, o := range h.data {
		if matches(o, uri) {
			targets = append(targets, o)
		}
	}
	h.mu.RUnlock()

	change := ChangeMessage(uri, sync)
	var errs error
	for _, o := range targets {
		msg := change
		msg.ID = o.ID
		errs = multierr.Append(errs, o.Send(ctx, msg))
	}
	return errs
}

// ChangeMessage renders uri as a protocol.Change.
func ChangeMessage(uri resource.Identifier, sync bool) protocol.Change {
	return protocol.Change{
		Message:    protocol.Message{Type: protocol.TypeChange},
		URI:        uri.String(),
		Table:      uri.Table,
		Key:        uri.Key,
		ChangeType: uri.Param(resource.ParamChangeType),
		Sync:       sync,
	}
}

func matches(o *Observer, changed resource.Identifier) bool {
	obs, ch := o.URI, changed
	if obs.Authority != ch.Authority || obs.Table != ch.Table {
		return false
	}
	switch {
	case obs.Key == ch.Key:
		return true
	case ch.Key == "":
		// collection changed: rows under it are affected
		return true
	case obs.Key == "":
		return o.Descendants
	}
	return false
}
