// Package fixtures provides the library schema used across package tests.
//
// books and authors are base tables. book_titles is a view over both, so it
// is a dependent of each; it lists title_index as its own dependent, which a
// write to books must not reach.
package fixtures

import (
	"embed"
	"io/fs"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/zoravur/tablegate/internal/catalog"
	"github.com/zoravur/tablegate/pkg/fixgres"
	"github.com/zoravur/tablegate/pkg/fixlite"
)

const Authority = "library"

//go:embed migrations/*.sql
var migrations embed.FS

//go:embed migrations_pg/*.sql
var pgMigrations embed.FS

//go:embed catalog.yaml
var catalogYAML []byte

// Migrations returns the goose migrations of the library schema.
func Migrations() fs.FS { return sub(migrations, "migrations") }

// PostgresMigrations is the library schema with identity keys.
func PostgresMigrations() fs.FS { return sub(pgMigrations, "migrations_pg") }

func sub(fsys embed.FS, dir string) fs.FS {
	s, err := fs.Sub(fsys, dir)
	if err != nil {
		panic(err)
	}
	return s
}

// Catalog returns the catalog describing the library schema.
func Catalog(t testing.TB) *catalog.Catalog {
	t.Helper()
	var d catalog.Descriptor
	if err := yaml.Unmarshal(catalogYAML, &d); err != nil {
		t.Fatalf("parse catalog: %v", err)
	}
	c, err := d.Build()
	if err != nil {
		t.Fatalf("build catalog: %v", err)
	}
	return c
}

// Library returns a migrated sandbox and its catalog.
func Library(t *testing.T, opts ...fixlite.Option) (*fixlite.Sandbox, *catalog.Catalog) {
	t.Helper()
	opts = append([]fixlite.Option{fixlite.WithGooseUp(Migrations())}, opts...)
	return fixlite.NewSandbox(t, opts...), Catalog(t)
}

// PostgresLibrary returns a migrated postgres schema private to t. The
// shared container must already be booted with fixgres.BootOnce.
func PostgresLibrary(t *testing.T) (*fixgres.Sandbox, *catalog.Catalog) {
	t.Helper()
	return fixgres.NewSandbox(t, fixgres.WithGooseUp(PostgresMigrations())), Catalog(t)
}
