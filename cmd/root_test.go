package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var libraryCatalog = filepath.Join("..", "internal", "fixtures", "catalog.yaml")

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	rc := NewRootCommand(&out, &errOut)
	rc.SetArgs(args)
	err := rc.Execute()
	return out.String(), err
}

func TestLineageCommand(t *testing.T) {
	out, err := run(t, "lineage", "SELECT b.title FROM books b JOIN authors a ON a.code = b.author_code")
	require.NoError(t, err)
	assert.Equal(t, "authors\nbooks\n", out)

	_, err = run(t, "lineage", "DELETE FROM books")
	assert.Error(t, err)
}

func TestRouteCommand(t *testing.T) {
	out, err := run(t, "--catalog", libraryCatalog, "route", "library/books/7?LIMIT=20")
	require.NoError(t, err)
	assert.Contains(t, out, "mode:   single_item")
	assert.Contains(t, out, "key:    7")
	assert.Contains(t, out, "type:   vnd.library.cursor.item/books")
	assert.Contains(t, out, `sql:    SELECT DISTINCT * FROM "books" WHERE "id" = ? LIMIT 1`)

	_, err = run(t, "--catalog", libraryCatalog, "route", "library/books?OFFSET=3")
	assert.ErrorContains(t, err, "limit required")

	_, err = run(t, "--catalog", libraryCatalog, "route", "library/missing")
	assert.Error(t, err)
}

func TestCatalogCommand(t *testing.T) {
	out, err := run(t, "--catalog", libraryCatalog, "catalog")
	require.NoError(t, err)
	assert.Contains(t, out, "TABLE")
	assert.Regexp(t, `books\s+id \(auto\)\s+table\s+book_titles`, out)
	assert.Regexp(t, `book_titles\s+id\s+view\s+title_index`, out)
}
