package resource

import (
	"github.com/zoravur/tablegate/internal/catalog"
	"github.com/zoravur/tablegate/internal/errors"
)

// Mode is the addressing mode of a routed identifier.
type Mode int

const (
	Collection Mode = iota
	SingleItem
)

func (m Mode) String() string {
	if m == SingleItem {
		return "single_item"
	}
	return "collection"
}

// Routed is an identifier resolved against the catalog.
type Routed struct {
	ID    Identifier
	Table *catalog.TableDetails
	Mode  Mode
	// Key is set in SingleItem mode.
	Key string
}

// Tables resolves the table segment of an identifier.
type Tables interface {
	LookupName(name string) (*catalog.TableDetails, bool)
}

// Router maps identifiers under one authority to catalog tables. Each table
// is reachable through exactly one prefix: authority/<table name>.
type Router struct {
	authority string
	tables    Tables
}

func NewRouter(authority string, tables Tables) *Router {
	return &Router{authority: authority, tables: tables}
}

func (r *Router) Authority() string { return r.authority }

// Route resolves id. A foreign authority or an unknown table is an
// UnknownResource.
func (r *Router) Route(id Identifier) (Routed, error) {
	if id.Authority != r.authority {
		return Routed{}, errors.Newf(errors.ErrUnknownResource, "unknown authority %q", id.Authority)
	}
	td, ok := r.tables.LookupName(id.Table)
	if !ok {
		return Routed{}, errors.Newf(errors.ErrUnknownResource, "unknown table %q", id.Table)
	}

	out := Routed{ID: id, Table: td, Mode: Collection}
	if id.IsSingleItem() {
		out.Mode = SingleItem
		out.Key = id.Key
	}
	return out, nil
}

// RouteString parses and routes s.
func (r *Router) RouteString(s string) (Routed, error) {
	id, err := Parse(s)
	if err != nil {
		return Routed{}, err
	}
	return r.Route(id)
}

// IsSingleItem reports whether s routes to one row of a known table.
func (r *Router) IsSingleItem(s string) bool {
	routed, err := r.RouteString(s)
	return err == nil && routed.Mode == SingleItem
}

// CollectionURI returns the identifier of the whole table.
func (r *Router) CollectionURI(td *catalog.TableDetails) Identifier {
	return Identifier{Authority: r.authority, Table: td.Name}
}

// SingleItemURI returns the identifier of the row with the given key.
func (r *Router) SingleItemURI(td *catalog.TableDetails, key string) Identifier {
	return Identifier{Authority: r.authority, Table: td.Name, Key: key}
}

// Type returns the content type of a routed identifier.
func (r *Router) Type(routed Routed) string {
	kind := "dir"
	if routed.Mode == SingleItem {
		kind = "item"
	}
	return "vnd." + r.authority + ".cursor." + kind + "/" + routed.Table.Name
}
