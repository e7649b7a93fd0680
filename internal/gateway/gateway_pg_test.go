//go:build integration

package gateway_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zoravur/tablegate/internal/catalog"
	"github.com/zoravur/tablegate/internal/engine"
	"github.com/zoravur/tablegate/internal/errors"
	"github.com/zoravur/tablegate/internal/fixtures"
	"github.com/zoravur/tablegate/internal/gateway"
	"github.com/zoravur/tablegate/internal/write"
	"github.com/zoravur/tablegate/pkg/fixgres"
)

func TestMain(m *testing.M) {
	code := m.Run()
	_ = fixgres.ShutdownNow()
	os.Exit(code)
}

func setupPostgres(t *testing.T) (*gateway.Gateway, *recorder, *engine.Engine) {
	t.Helper()
	fixgres.BootOnce(t)
	sb, cat := fixtures.PostgresLibrary(t)
	e, err := engine.New(sb.DB, fixgres.Driver, nil)
	require.NoError(t, err)
	rec := &recorder{}
	gw, err := gateway.New(gateway.Options{
		Authority: fixtures.Authority,
		Catalog:   cat,
		Engine:    e,
		Transport: rec,
	})
	require.NoError(t, err)
	return gw, rec, e
}

func TestPostgresInsertReturning(t *testing.T) {
	gw, rec, _ := setupPostgres(t)
	ctx := context.Background()

	id, err := gw.Insert(ctx, "library/books", write.Values{"title": "Emma", "author_code": "tolkien"})
	require.NoError(t, err)
	assert.Equal(t, "library/books/3?CPORM_CHANGE_TYPE=INSERT", id.String())
	assert.Equal(t, []string{
		"library/books/3?CPORM_CHANGE_TYPE=INSERT",
		"library/book_titles",
	}, rec.uris())

	rows, err := gw.Query(ctx, "library/book_titles/3", gateway.Query{})
	require.NoError(t, err)
	defer rows.Close()
	all, err := rows.All()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "J. R. R. Tolkien", all[0]["author"])
}

func TestPostgresLimitOffset(t *testing.T) {
	gw, _, _ := setupPostgres(t)
	rows, err := gw.Query(context.Background(), "library/books?LIMIT=1&OFFSET=1", gateway.Query{SortOrder: "id"})
	require.NoError(t, err)
	defer rows.Close()
	all, err := rows.All()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "Dune", all[0]["title"])
}

func TestPostgresBatchRollback(t *testing.T) {
	gw, rec, e := setupPostgres(t)
	ctx := context.Background()

	_, err := gw.ApplyBatch(ctx, []gateway.Operation{
		{Kind: gateway.OpInsert, URI: "library/books", Values: write.Values{"title": "Emma", "author_code": "herbert"}},
		{Kind: gateway.OpDelete, URI: "library/authors/tolkien"},
	})
	require.Error(t, err)
	assert.False(t, errors.Is(err, errors.ErrWriteConflict), "a foreign key violation is not a conflict: %v", err)
	assert.Empty(t, rec.uris())

	var n int
	require.NoError(t, e.DB().QueryRow("SELECT COUNT(*) FROM books").Scan(&n))
	assert.Equal(t, 2, n)
}

func TestPostgresDescribe(t *testing.T) {
	_, _, e := setupPostgres(t)
	rels, err := e.Describe(context.Background())
	require.NoError(t, err)

	byName := map[string]catalog.Relation{}
	for _, r := range rels {
		byName[r.Name] = r
	}
	require.Contains(t, byName, "books")
	assert.Equal(t, "id", byName["books"].PrimaryKey)
	assert.True(t, byName["books"].AutoIncrement)
	assert.False(t, byName["authors"].AutoIncrement)
	assert.NotEmpty(t, byName["book_titles"].View)
}
