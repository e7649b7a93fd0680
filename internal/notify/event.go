// Package notify delivers change notifications for written resources and
// cascades them to dependent tables.
package notify

import (
	"context"

	"github.com/zoravur/tablegate/internal/catalog"
	"github.com/zoravur/tablegate/internal/resource"
)

// ChangeType is the kind of write that produced an event.
type ChangeType string

const (
	Insert ChangeType = "INSERT"
	Update ChangeType = "UPDATE"
	Delete ChangeType = "DELETE"
)

// ChangeEvent is one change to announce. URI carries the CPORM_CHANGE_TYPE
// param. Notify false suppresses delivery; Sync false lets the transport
// defer it.
type ChangeEvent struct {
	URI    resource.Identifier
	Type   ChangeType
	Notify bool
	Sync   bool
	// Table is the table URI routed to.
	Table *catalog.TableDetails
}

// NewEvent builds the event for a write to uri, reading NOTIFY_CHANGES and
// IS_SYNC from its params.
func NewEvent(uri resource.Identifier, typ ChangeType, td *catalog.TableDetails) ChangeEvent {
	uri = uri.With(resource.ParamChangeType, string(typ))
	return ChangeEvent{
		URI:    uri,
		Type:   typ,
		Notify: uri.Bool(resource.ParamNotifyChanges, true),
		Sync:   uri.Bool(resource.ParamSync, true),
		Table:  td,
	}
}

// Key identifies the event for deduplication: its full canonical URI.
func (e ChangeEvent) Key() string { return e.URI.String() }

// Transport delivers one notification for uri.
type Transport interface {
	Deliver(ctx context.Context, uri resource.Identifier, sync bool) error
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, uri resource.Identifier, sync bool) error

func (f TransportFunc) Deliver(ctx context.Context, uri resource.Identifier, sync bool) error {
	return f(ctx, uri, sync)
}
