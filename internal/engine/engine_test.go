package engine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zoravur/tablegate/internal/catalog"
	"github.com/zoravur/tablegate/internal/engine"
	"github.com/zoravur/tablegate/internal/errors"
	"github.com/zoravur/tablegate/internal/fixtures"
	"github.com/zoravur/tablegate/internal/query"
	"github.com/zoravur/tablegate/pkg/fixlite"
)

func library(t *testing.T) *engine.Engine {
	t.Helper()
	sb, _ := fixtures.Library(t)
	e, err := engine.New(sb.DB, fixlite.Driver, nil)
	require.NoError(t, err)
	return e
}

func TestNewUnsupportedDriver(t *testing.T) {
	_, err := engine.New(nil, "oracle", nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrUncoded, errors.CodeOf(err))
}

func TestQueryRows(t *testing.T) {
	e := library(t)
	limit := 1
	rows, err := e.Query(context.Background(), query.Bound{
		Table:     "books",
		SortOrder: "id DESC",
		Limit:     &limit,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "title", "author_code", "synced_at"}, rows.Columns())

	all, err := rows.All()
	require.NoError(t, err)
	require.Len(t, all, 1)
	// text columns come back as strings, not byte slices
	assert.Equal(t, "Dune", all[0]["title"])
	assert.EqualValues(t, 2, all[0]["id"])
	assert.Nil(t, all[0]["synced_at"])
}

func TestQueryUnknownTable(t *testing.T) {
	e := library(t)
	ctx := context.Background()
	_, direct := e.Query(ctx, query.Bound{Table: "nope"})
	require.Error(t, direct)

	tx, err := e.BeginTx(ctx)
	require.NoError(t, err)
	defer tx.Rollback()
	_, inTx := tx.Query(ctx, query.Bound{Table: "nope"})
	require.Error(t, inTx)

	// a read fails the same way inside and outside a transaction
	assert.Equal(t, direct.Error(), inTx.Error())
	assert.Equal(t, errors.CodeOf(direct), errors.CodeOf(inTx))
	assert.Contains(t, direct.Error(), "query nope")
}

func TestTx(t *testing.T) {
	ctx := context.Background()
	books := catalog.PrimaryKey{Column: "id", AutoIncrement: true}

	t.Run("InsertAndCommit", func(t *testing.T) {
		e := library(t)
		tx, err := e.BeginTx(ctx)
		require.NoError(t, err)
		defer tx.Rollback()

		id, err := tx.Insert(ctx, "books", books, []string{"title"}, []any{"Emma"})
		require.NoError(t, err)
		assert.EqualValues(t, 3, id)

		// the transaction sees its own write
		rows, err := tx.Query(ctx, query.Bound{Table: "books"})
		require.NoError(t, err)
		all, err := rows.All()
		require.NoError(t, err)
		assert.Len(t, all, 3)

		require.NoError(t, tx.Commit())
		assert.Error(t, tx.Commit())
		assert.NoError(t, tx.Rollback())
	})

	t.Run("Rollback", func(t *testing.T) {
		e := library(t)
		tx, err := e.BeginTx(ctx)
		require.NoError(t, err)
		n, err := tx.Exec(ctx, query.Delete(tx.Dialect(), "books", "", nil))
		require.NoError(t, err)
		assert.EqualValues(t, 2, n)
		require.NoError(t, tx.Rollback())

		var count int
		require.NoError(t, e.DB().QueryRow("SELECT COUNT(*) FROM books").Scan(&count))
		assert.Equal(t, 2, count)
	})

	t.Run("ConstraintViolation", func(t *testing.T) {
		e := library(t)
		tx, err := e.BeginTx(ctx)
		require.NoError(t, err)
		defer tx.Rollback()
		_, err = tx.Insert(ctx, "authors", catalog.PrimaryKey{Column: "code"},
			[]string{"code", "name"}, []any{"tolkien", "again"})
		assert.True(t, errors.Is(err, errors.ErrInsertFailed), "got %v", err)
	})

	t.Run("BeginIgnoresCancellation", func(t *testing.T) {
		e := library(t)
		cctx, cancel := context.WithCancel(ctx)
		tx, err := e.BeginTx(cctx)
		require.NoError(t, err)
		cancel()
		_, err = tx.Exec(cctx, query.Update(tx.Dialect(), "books", []string{"title"}, []any{"x"}, "id = ?", []any{1}))
		require.NoError(t, err)
		require.NoError(t, tx.Commit())
	})
}

func TestDescribeSQLite(t *testing.T) {
	e := library(t)
	rels, err := e.Describe(context.Background())
	require.NoError(t, err)

	byName := map[string]catalog.Relation{}
	for _, r := range rels {
		byName[r.Name] = r
	}
	require.Contains(t, byName, "books")
	assert.NotContains(t, byName, "goose_db_version")

	assert.Equal(t, "id", byName["books"].PrimaryKey)
	assert.True(t, byName["books"].AutoIncrement)
	assert.Equal(t, "code", byName["authors"].PrimaryKey)
	assert.False(t, byName["authors"].AutoIncrement)
	assert.Contains(t, byName["book_titles"].View, "LEFT JOIN authors")
	assert.Len(t, byName["books"].Columns, 4)
}
