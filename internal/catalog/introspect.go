package catalog

import (
	"context"
	"fmt"

	"github.com/zoravur/tablegate/pkg/pg_lineage"
)

// Relation is what an engine reports about one table during introspection.
type Relation struct {
	Name          string
	PrimaryKey    string
	AutoIncrement bool
	Columns       []Column
	// View holds the defining query for views, empty for base tables.
	View string
}

// Describer lists the relations of a live database.
type Describer interface {
	Describe(ctx context.Context) ([]Relation, error)
}

// Introspect builds a catalog from a live database. Every column notifies.
// Relations without a primary key are skipped, except views, which use their
// first column. View definitions the lineage parser cannot read contribute
// no dependents.
func Introspect(ctx context.Context, d Describer) (*Catalog, error) {
	rels, err := d.Describe(ctx)
	if err != nil {
		return nil, fmt.Errorf("describe: %w", err)
	}

	tables := make([]TableDetails, 0, len(rels))
	for _, r := range rels {
		pk := r.PrimaryKey
		if pk == "" && r.View != "" && len(r.Columns) > 0 {
			pk = r.Columns[0].Name
		}
		if pk == "" {
			continue
		}
		view := r.View
		if view != "" {
			if _, err := pg_lineage.BaseTables(view); err != nil {
				view = ""
			}
		}
		cols := make([]Column, len(r.Columns))
		for i, c := range r.Columns {
			c.NotifyOnChange = true
			cols[i] = c
		}
		tables = append(tables, TableDetails{
			Name:       r.Name,
			PrimaryKey: PrimaryKey{Column: pk, AutoIncrement: r.AutoIncrement},
			Columns:    cols,
			View:       view,
		})
	}
	return New(tables...)
}
