package write_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zoravur/tablegate/internal/engine"
	"github.com/zoravur/tablegate/internal/errors"
	"github.com/zoravur/tablegate/internal/fixtures"
	"github.com/zoravur/tablegate/internal/notify"
	"github.com/zoravur/tablegate/internal/resource"
	"github.com/zoravur/tablegate/internal/txn"
	"github.com/zoravur/tablegate/internal/write"
	"github.com/zoravur/tablegate/pkg/fixlite"
)

type harness struct {
	engine *engine.Engine
	router *resource.Router
	x      *write.Executor
}

func setup(t *testing.T) *harness {
	t.Helper()
	sb, cat := fixtures.Library(t)
	e, err := engine.New(sb.DB, fixlite.Driver, nil)
	require.NoError(t, err)
	return &harness{
		engine: e,
		router: resource.NewRouter(fixtures.Authority, cat),
		x:      write.NewExecutor(e, 0, nil),
	}
}

func (h *harness) route(t *testing.T, uri string) resource.Routed {
	t.Helper()
	r, err := h.router.RouteString(uri)
	require.NoError(t, err)
	return r
}

func (h *harness) count(t *testing.T, table string) int {
	t.Helper()
	var n int
	require.NoError(t, h.engine.DB().QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func TestInsert(t *testing.T) {
	ctx := context.Background()

	t.Run("AutoIncrementKeyIsRowID", func(t *testing.T) {
		h := setup(t)
		res, err := h.x.Insert(ctx, h.route(t, "library/books?IS_SYNC=false"), write.Values{"title": "Emma"})
		require.NoError(t, err)

		assert.Equal(t, "3", res.Key)
		assert.Equal(t, "library/books/3?CPORM_CHANGE_TYPE=INSERT&IS_SYNC=false", res.URI.String())
		require.NotNil(t, res.Event)
		assert.False(t, res.Event.Sync)
		assert.True(t, res.Event.Notify)
		assert.Equal(t, notify.Insert, res.Event.Type)

		var title string
		require.NoError(t, h.engine.DB().QueryRow("SELECT title FROM books WHERE id = 3").Scan(&title))
		assert.Equal(t, "Emma", title)
	})

	t.Run("SuppliedKey", func(t *testing.T) {
		h := setup(t)
		res, err := h.x.Insert(ctx, h.route(t, "library/authors?NOTIFY_CHANGES=0"), write.Values{"code": "austen", "name": "Jane Austen"})
		require.NoError(t, err)
		assert.Equal(t, "austen", res.Key)
		assert.Equal(t, "authors", res.URI.Table)
		assert.False(t, res.Event.Notify)
	})

	t.Run("SingleItemIdentifier", func(t *testing.T) {
		h := setup(t)
		_, err := h.x.Insert(ctx, h.route(t, "library/books/5"), write.Values{"title": "Emma"})
		assert.True(t, errors.Is(err, errors.ErrInvalidQuery), "got %v", err)

		_, err = h.x.BulkInsert(ctx, h.route(t, "library/books/5"), []write.Values{{"title": "Emma"}})
		assert.True(t, errors.Is(err, errors.ErrInvalidQuery), "got %v", err)

		var n int
		require.NoError(t, h.engine.DB().QueryRow("SELECT COUNT(*) FROM books").Scan(&n))
		assert.Equal(t, 2, n)
	})

	t.Run("MissingSuppliedKey", func(t *testing.T) {
		h := setup(t)
		_, err := h.x.Insert(ctx, h.route(t, "library/title_index"), write.Values{"title": "x"})
		require.NoError(t, err, "auto-increment table needs no key")

		_, err = h.x.Insert(ctx, h.route(t, "library/authors"), write.Values{"name": "Anon"})
		assert.True(t, errors.Is(err, errors.ErrInsertFailed), "got %v", err)
	})

	t.Run("ConstraintViolation", func(t *testing.T) {
		h := setup(t)
		_, err := h.x.Insert(ctx, h.route(t, "library/authors"), write.Values{"code": "tolkien", "name": "dup"})
		assert.True(t, errors.Is(err, errors.ErrInsertFailed), "got %v", err)
		assert.Equal(t, 2, h.count(t, "authors"))
	})
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	h := setup(t)

	t.Run("SingleItemIgnoresSelection", func(t *testing.T) {
		res, err := h.x.Update(ctx, h.route(t, "library/books/1"), write.Values{"title": "The Hobbit, 2nd ed."}, "id = ?", []any{2})
		require.NoError(t, err)
		assert.EqualValues(t, 1, res.Count)
		require.NotNil(t, res.Event)
		assert.Equal(t, "library/books/1?CPORM_CHANGE_TYPE=UPDATE", res.Event.URI.String())

		var title string
		require.NoError(t, h.engine.DB().QueryRow("SELECT title FROM books WHERE id = 2").Scan(&title))
		assert.Equal(t, "Dune", title)
	})

	t.Run("SilentColumnDoesNotNotify", func(t *testing.T) {
		res, err := h.x.Update(ctx, h.route(t, "library/books"), write.Values{"synced_at": "now"}, "", nil)
		require.NoError(t, err)
		assert.EqualValues(t, 2, res.Count)
		assert.Nil(t, res.Event)
	})

	t.Run("UnknownColumnDoesNotNotify", func(t *testing.T) {
		// sqlite rejects the unknown column, so nothing is written either.
		_, err := h.x.Update(ctx, h.route(t, "library/books"), write.Values{"nope": 1}, "", nil)
		assert.Error(t, err)
	})

	t.Run("NoMatchDoesNotNotify", func(t *testing.T) {
		res, err := h.x.Update(ctx, h.route(t, "library/books"), write.Values{"title": "x"}, "id = ?", []any{99})
		require.NoError(t, err)
		assert.EqualValues(t, 0, res.Count)
		assert.Nil(t, res.Event)
	})

	t.Run("NoValues", func(t *testing.T) {
		_, err := h.x.Update(ctx, h.route(t, "library/books"), nil, "", nil)
		assert.True(t, errors.Is(err, errors.ErrInvalidQuery))
	})
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	h := setup(t)

	res, err := h.x.Delete(ctx, h.route(t, "library/books"), "id = ?", []any{42})
	require.NoError(t, err)
	assert.Nil(t, res.Event)

	res, err = h.x.Delete(ctx, h.route(t, "library/books/2"), "", nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.Count)
	require.NotNil(t, res.Event)
	assert.Equal(t, notify.Delete, res.Event.Type)
	assert.Equal(t, 1, h.count(t, "books"))
}

func TestBulkInsert(t *testing.T) {
	ctx := context.Background()

	t.Run("OneEventForAllRows", func(t *testing.T) {
		h := setup(t)
		rows := make([]write.Values, 250)
		for i := range rows {
			rows[i] = write.Values{"title": fmt.Sprintf("title %d", i)}
		}
		res, err := h.x.BulkInsert(ctx, h.route(t, "library/title_index"), rows)
		require.NoError(t, err)
		assert.EqualValues(t, 250, res.Count)
		require.NotNil(t, res.Event)
		assert.Equal(t, "library/title_index?CPORM_CHANGE_TYPE=INSERT", res.Event.URI.String())
		assert.Equal(t, 250, h.count(t, "title_index"))
	})

	t.Run("FailingRowRollsBackAll", func(t *testing.T) {
		h := setup(t)
		rows := []write.Values{
			{"code": "austen", "name": "Jane Austen"},
			{"code": "tolkien", "name": "dup"},
		}
		_, err := h.x.BulkInsert(ctx, h.route(t, "library/authors"), rows)
		assert.True(t, errors.Is(err, errors.ErrInsertFailed), "got %v", err)
		assert.Equal(t, 2, h.count(t, "authors"))
	})

	t.Run("Empty", func(t *testing.T) {
		h := setup(t)
		res, err := h.x.BulkInsert(ctx, h.route(t, "library/title_index"), nil)
		require.NoError(t, err)
		assert.Nil(t, res.Event)
	})
}

func TestWritesJoinScope(t *testing.T) {
	ctx := context.Background()
	h := setup(t)

	tx, err := h.engine.BeginTx(ctx)
	require.NoError(t, err)
	scope := txn.Begin(tx)
	bctx := txn.NewContext(ctx, scope)

	_, err = h.x.Insert(bctx, h.route(t, "library/authors"), write.Values{"code": "austen", "name": "Jane Austen"})
	require.NoError(t, err)
	_, err = h.x.Delete(bctx, h.route(t, "library/books/1"), "", nil)
	require.NoError(t, err)

	require.NoError(t, scope.Rollback())
	assert.Equal(t, 2, h.count(t, "authors"))
	assert.Equal(t, 2, h.count(t, "books"))
}
