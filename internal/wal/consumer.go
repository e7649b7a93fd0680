// Package wal turns postgres logical replication output (wal2json) into
// change notifications for tables written outside the gateway.
package wal

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/zoravur/tablegate/internal/catalog"
	"github.com/zoravur/tablegate/internal/notify"
	"github.com/zoravur/tablegate/internal/resource"
)

// Change is one row change in a wal2json message.
type Change struct {
	Schema       string        `json:"schema"`
	Table        string        `json:"table"`
	Kind         string        `json:"kind"`
	ColumnNames  []string      `json:"columnnames"`
	ColumnValues []interface{} `json:"columnvalues"`
	OldKeys      Keys          `json:"oldkeys"`
}

type Keys struct {
	KeyNames  []string      `json:"keynames"`
	KeyValues []interface{} `json:"keyvalues"`
}

// Envelope is one wal2json message: the changes of a transaction.
type Envelope struct {
	Change []Change `json:"change"`
}

// key returns the value of column among the change's keys. Inserts carry
// the new row; updates and deletes carry the old key.
func (c Change) key(column string) (any, bool) {
	if c.Kind != "insert" {
		for i, name := range c.OldKeys.KeyNames {
			if name == column && i < len(c.OldKeys.KeyValues) {
				return c.OldKeys.KeyValues[i], true
			}
		}
	}
	for i, name := range c.ColumnNames {
		if name == column && i < len(c.ColumnValues) {
			return c.ColumnValues[i], true
		}
	}
	return nil, false
}

// Propagator is the part of notify.Propagator a Consumer needs.
type Propagator interface {
	Propagate(ctx context.Context, ev notify.ChangeEvent, td *catalog.TableDetails) error
}

// Consumer announces changes to watched tables. Events are deferred
// notifications (IS_SYNC=false) and are deduplicated per message, the way a
// batch is.
type Consumer struct {
	Catalog    *catalog.Catalog
	Authority  string
	Propagator Propagator
	Logger     *zap.Logger
}

var kinds = map[string]notify.ChangeType{
	"insert": notify.Insert,
	"update": notify.Update,
	"delete": notify.Delete,
}

func (c *Consumer) OnMessage(ctx context.Context, line []byte) error {
	log := c.Logger
	if log == nil {
		log = zap.NewNop()
	}

	var env Envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return fmt.Errorf("wal decode: %w", err)
	}

	var events []notify.ChangeEvent
	seen := map[string]struct{}{}
	for _, ch := range env.Change {
		td, ok := c.Catalog.LookupName(ch.Table)
		if !ok || !td.WatchWAL {
			continue
		}
		typ, ok := kinds[ch.Kind]
		if !ok {
			log.Debug("ignoring wal change", zap.String("kind", ch.Kind), zap.String("table", ch.Table))
			continue
		}

		uri := resource.Identifier{Authority: c.Authority, Table: td.Name}
		if v, ok := ch.key(td.PrimaryKey.Column); ok && v != nil {
			uri.Key = formatKey(v)
		}
		ev := notify.NewEvent(uri.With(resource.ParamSync, "false"), typ, td)
		if _, dup := seen[ev.Key()]; dup {
			continue
		}
		seen[ev.Key()] = struct{}{}
		events = append(events, ev)
	}

	var errs error
	for _, ev := range events {
		log.Debug("wal change", zap.String("uri", ev.URI.String()))
		errs = multierr.Append(errs, c.Propagator.Propagate(ctx, ev, ev.Table))
	}
	return errs
}

// formatKey renders a key value as its URI segment. JSON numbers arrive as
// float64.
func formatKey(v any) string {
	if f, ok := v.(float64); ok && f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprint(v)
}
