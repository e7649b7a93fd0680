// Package catalog holds the table metadata the gateway routes against:
// primary keys, per-column notification flags and dependent tables.
package catalog

import (
	"fmt"
	"sort"

	"github.com/zoravur/tablegate/pkg/pg_lineage"
)

type PrimaryKey struct {
	Column        string `json:"column" yaml:"column"`
	AutoIncrement bool   `json:"auto_increment" yaml:"auto_increment"`
}

type Column struct {
	Name           string `json:"name"`
	Type           string `json:"type,omitempty"`
	NotifyOnChange bool   `json:"notify"`
}

// TableDetails describes one table. Values handed out by a Catalog are shared
// between goroutines and must not be modified.
type TableDetails struct {
	// ID is the identifier other tables use to list this one as a dependent.
	ID string `json:"id"`
	// Name is the backing relation and the table segment of resource
	// identifiers.
	Name       string     `json:"name"`
	PrimaryKey PrimaryKey `json:"primary_key"`
	Columns    []Column   `json:"columns"`
	Dependents []string   `json:"dependents,omitempty"`
	// View is the defining query when the table is a view. Every base table
	// it reads from gets this table as a dependent.
	View string `json:"view,omitempty"`
	// WatchWAL marks tables whose external writes are picked up from the
	// replication stream.
	WatchWAL bool `json:"watch_wal,omitempty"`
}

// Column returns the column named name.
func (t *TableDetails) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// NotifiesOn reports whether writing any of cols should notify observers.
// Columns the table does not declare never notify.
func (t *TableDetails) NotifiesOn(cols []string) bool {
	for _, name := range cols {
		if c, ok := t.Column(name); ok && c.NotifyOnChange {
			return true
		}
	}
	return false
}

// ColumnNames returns the declared column names in order.
func (t *TableDetails) ColumnNames() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}

// Catalog is an immutable set of tables indexed by ID and by name.
type Catalog struct {
	byID   map[string]*TableDetails
	byName map[string]*TableDetails
	ids    []string
}

// New validates tables and builds a Catalog. Dependents derived from view
// definitions are merged into the declared ones. A dependent that names no
// table in the set is kept; it is skipped when notifications cascade.
func New(tables ...TableDetails) (*Catalog, error) {
	c := &Catalog{
		byID:   make(map[string]*TableDetails, len(tables)),
		byName: make(map[string]*TableDetails, len(tables)),
	}

	for i := range tables {
		t := copyDetails(tables[i])
		if t.Name == "" {
			return nil, fmt.Errorf("table %d: name is required", i)
		}
		if t.ID == "" {
			t.ID = t.Name
		}
		if t.PrimaryKey.Column == "" {
			return nil, fmt.Errorf("table %q: primary key column is required", t.ID)
		}
		if _, dup := c.byID[t.ID]; dup {
			return nil, fmt.Errorf("table %q: duplicate id", t.ID)
		}
		if _, dup := c.byName[t.Name]; dup {
			return nil, fmt.Errorf("table %q: duplicate name %q", t.ID, t.Name)
		}
		c.byID[t.ID] = t
		c.byName[t.Name] = t
		c.ids = append(c.ids, t.ID)
	}

	for _, id := range c.ids {
		view := c.byID[id]
		if view.View == "" {
			continue
		}
		bases, err := pg_lineage.BaseTables(view.View)
		if err != nil {
			return nil, fmt.Errorf("table %q: view definition: %w", id, err)
		}
		for _, b := range bases {
			base, ok := c.byName[b]
			if !ok {
				base, ok = c.byName[pg_lineage.TableName(b)]
			}
			if !ok || base == view {
				continue
			}
			base.Dependents = appendUnique(base.Dependents, view.ID)
		}
	}

	for _, id := range c.ids {
		for _, dep := range c.byID[id].Dependents {
			if dep == id {
				return nil, fmt.Errorf("table %q: lists itself as a dependent", id)
			}
		}
	}

	sort.Strings(c.ids)
	return c, nil
}

// Lookup resolves a table identifier.
func (c *Catalog) Lookup(id string) (*TableDetails, bool) {
	t, ok := c.byID[id]
	return t, ok
}

// LookupName resolves a relation name as it appears in resource identifiers.
func (c *Catalog) LookupName(name string) (*TableDetails, bool) {
	t, ok := c.byName[name]
	return t, ok
}

// AllDependents returns the direct dependents of id. It does not follow
// dependents of dependents.
func (c *Catalog) AllDependents(id string) []string {
	t, ok := c.byID[id]
	if !ok {
		return nil
	}
	return append([]string(nil), t.Dependents...)
}

// Tables returns every table ordered by ID.
func (c *Catalog) Tables() []*TableDetails {
	out := make([]*TableDetails, 0, len(c.ids))
	for _, id := range c.ids {
		out = append(out, c.byID[id])
	}
	return out
}

func copyDetails(t TableDetails) *TableDetails {
	t.Columns = append([]Column(nil), t.Columns...)
	t.Dependents = append([]string(nil), t.Dependents...)
	return &t
}

func appendUnique(xs []string, s string) []string {
	for _, x := range xs {
		if x == s {
			return xs
		}
	}
	return append(xs, s)
}
