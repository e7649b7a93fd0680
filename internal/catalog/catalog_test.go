package catalog_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zoravur/tablegate/internal/catalog"
)

func books() catalog.TableDetails {
	return catalog.TableDetails{
		Name:       "books",
		PrimaryKey: catalog.PrimaryKey{Column: "id", AutoIncrement: true},
		Columns: []catalog.Column{
			{Name: "id", NotifyOnChange: true},
			{Name: "title", NotifyOnChange: true},
			{Name: "synced_at", NotifyOnChange: false},
		},
	}
}

func TestNew(t *testing.T) {
	t.Run("DefaultsIDToName", func(t *testing.T) {
		c, err := catalog.New(books())
		require.NoError(t, err)

		td, ok := c.Lookup("books")
		require.True(t, ok)
		assert.Equal(t, "books", td.Name)

		byName, ok := c.LookupName("books")
		require.True(t, ok)
		assert.Same(t, td, byName)
	})

	t.Run("RejectsSelfDependency", func(t *testing.T) {
		b := books()
		b.Dependents = []string{"books"}
		_, err := catalog.New(b)
		assert.Error(t, err)
	})

	t.Run("RejectsMissingPrimaryKey", func(t *testing.T) {
		b := books()
		b.PrimaryKey = catalog.PrimaryKey{}
		_, err := catalog.New(b)
		assert.Error(t, err)
	})

	t.Run("RejectsDuplicates", func(t *testing.T) {
		_, err := catalog.New(books(), books())
		assert.Error(t, err)
	})

	t.Run("AllowsCyclesAndUnknownDependents", func(t *testing.T) {
		a := catalog.TableDetails{ID: "a", Name: "a", PrimaryKey: catalog.PrimaryKey{Column: "id"}, Dependents: []string{"b", "ghost"}}
		b := catalog.TableDetails{ID: "b", Name: "b", PrimaryKey: catalog.PrimaryKey{Column: "id"}, Dependents: []string{"a"}}
		c, err := catalog.New(a, b)
		require.NoError(t, err)
		assert.Equal(t, []string{"b", "ghost"}, c.AllDependents("a"))
		assert.Equal(t, []string{"a"}, c.AllDependents("b"))
		assert.Nil(t, c.AllDependents("missing"))
	})

	t.Run("CopiesInput", func(t *testing.T) {
		b := books()
		c, err := catalog.New(b)
		require.NoError(t, err)
		b.Columns[1].NotifyOnChange = false

		td, _ := c.Lookup("books")
		assert.True(t, td.NotifiesOn([]string{"title"}))
	})
}

func TestViewDependents(t *testing.T) {
	authors := catalog.TableDetails{Name: "authors", PrimaryKey: catalog.PrimaryKey{Column: "id"}}
	view := catalog.TableDetails{
		ID:         "book_authors",
		Name:       "book_authors",
		PrimaryKey: catalog.PrimaryKey{Column: "book_id"},
		View:       "SELECT b.id AS book_id, a.name FROM books b JOIN authors a ON a.id = b.author_id",
	}

	c, err := catalog.New(books(), authors, view)
	require.NoError(t, err)

	assert.Equal(t, []string{"book_authors"}, c.AllDependents("books"))
	assert.Equal(t, []string{"book_authors"}, c.AllDependents("authors"))
	assert.Empty(t, c.AllDependents("book_authors"))

	var ids []string
	for _, td := range c.Tables() {
		ids = append(ids, td.ID)
	}
	assert.Equal(t, []string{"authors", "book_authors", "books"}, ids)
}

func TestNotifiesOn(t *testing.T) {
	b := books()
	td := &b

	assert.True(t, td.NotifiesOn([]string{"title"}))
	assert.True(t, td.NotifiesOn([]string{"synced_at", "title"}))
	assert.False(t, td.NotifiesOn([]string{"synced_at"}))
	assert.False(t, td.NotifiesOn([]string{"not_a_column"}))
	assert.False(t, td.NotifiesOn(nil))
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "catalog.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`
tables:
  - name: books
    primary_key: {column: id, auto_increment: true}
    columns:
      - {name: id}
      - {name: title, type: string}
      - {name: synced_at, type: time, notify: false}
    dependents: [shelf]
  - name: shelf
    primary_key: {column: id}
`), 0o644))

	c, err := catalog.LoadFile(yamlPath)
	require.NoError(t, err)

	td, ok := c.Lookup("books")
	require.True(t, ok)
	assert.True(t, td.PrimaryKey.AutoIncrement)
	assert.Equal(t, []string{"id", "title", "synced_at"}, td.ColumnNames())
	col, _ := td.Column("synced_at")
	assert.False(t, col.NotifyOnChange)
	col, _ = td.Column("title")
	assert.True(t, col.NotifyOnChange)
	assert.Equal(t, []string{"shelf"}, td.Dependents)

	jsonPath := filepath.Join(dir, "catalog.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"tables":[{"name":"books","primary_key":{"column":"id"}}]}`), 0o644))
	_, err = catalog.LoadFile(jsonPath)
	require.NoError(t, err)

	_, err = catalog.LoadFile(filepath.Join(dir, "catalog.toml"))
	assert.Error(t, err)
}

type fakeDescriber []catalog.Relation

func (f fakeDescriber) Describe(context.Context) ([]catalog.Relation, error) { return f, nil }

func TestIntrospect(t *testing.T) {
	c, err := catalog.Introspect(context.Background(), fakeDescriber{
		{Name: "books", PrimaryKey: "id", AutoIncrement: true, Columns: []catalog.Column{{Name: "id"}, {Name: "title"}}},
		{Name: "no_pk", Columns: []catalog.Column{{Name: "x"}}},
		{Name: "titles", View: "SELECT id, title FROM books", Columns: []catalog.Column{{Name: "id"}, {Name: "title"}}},
	})
	require.NoError(t, err)

	_, ok := c.Lookup("no_pk")
	assert.False(t, ok)

	books, ok := c.Lookup("books")
	require.True(t, ok)
	assert.True(t, books.NotifiesOn([]string{"title"}))
	assert.Equal(t, []string{"titles"}, books.Dependents)

	titles, ok := c.Lookup("titles")
	require.True(t, ok)
	assert.Equal(t, "id", titles.PrimaryKey.Column)
}
