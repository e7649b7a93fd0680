// Package gateway is the entry point for every resource operation. It routes
// identifiers, runs reads and writes, owns batch scopes and hands the
// resulting change events to the propagator.
package gateway

import (
	"context"

	"go.uber.org/zap"

	"github.com/zoravur/tablegate/internal/catalog"
	"github.com/zoravur/tablegate/internal/engine"
	"github.com/zoravur/tablegate/internal/errors"
	"github.com/zoravur/tablegate/internal/metrics"
	"github.com/zoravur/tablegate/internal/notify"
	"github.com/zoravur/tablegate/internal/query"
	"github.com/zoravur/tablegate/internal/resource"
	"github.com/zoravur/tablegate/internal/txn"
	"github.com/zoravur/tablegate/internal/write"
)

type Options struct {
	Authority string
	Catalog   *catalog.Catalog
	Engine    *engine.Engine
	// Transport receives change notifications. Nil discards them.
	Transport notify.Transport
	// YieldEvery is the bulk insert yield interval, write.DefaultYieldEvery
	// when zero.
	YieldEvery int
	Logger     *zap.Logger
}

type Gateway struct {
	catalog    *catalog.Catalog
	router     *resource.Router
	engine     *engine.Engine
	writer     *write.Executor
	propagator *notify.Propagator
	logger     *zap.Logger
}

func New(o Options) (*Gateway, error) {
	if o.Authority == "" {
		return nil, errors.New(errors.ErrUncoded, "authority is required")
	}
	if o.Catalog == nil || o.Engine == nil {
		return nil, errors.New(errors.ErrUncoded, "catalog and engine are required")
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Transport == nil {
		o.Transport = notify.TransportFunc(func(context.Context, resource.Identifier, bool) error { return nil })
	}
	return &Gateway{
		catalog:    o.Catalog,
		router:     resource.NewRouter(o.Authority, o.Catalog),
		engine:     o.Engine,
		writer:     write.NewExecutor(o.Engine, o.YieldEvery, o.Logger),
		propagator: notify.NewPropagator(o.Catalog, o.Transport, o.Logger),
		logger:     o.Logger,
	}, nil
}

func (g *Gateway) Router() *resource.Router  { return g.router }
func (g *Gateway) Catalog() *catalog.Catalog { return g.catalog }
func (g *Gateway) Engine() *engine.Engine    { return g.engine }

// Query describes a read. Limits and the other shaping params come from the
// identifier.
type Query struct {
	Projection    []string
	Selection     string
	SelectionArgs []any
	SortOrder     string
}

// Query reads the rows uri addresses. Cancelling ctx aborts the read. Inside
// a batch the read sees the batch's uncommitted writes.
func (g *Gateway) Query(ctx context.Context, uri string, q Query) (rows *engine.Rows, err error) {
	defer observe("query", &err)

	routed, err := g.router.RouteString(uri)
	if err != nil {
		return nil, err
	}
	spec := query.FromParams(routed.ID)
	spec.Projection = q.Projection
	spec.Selection = q.Selection
	spec.SelectionArgs = q.SelectionArgs
	spec.SortOrder = q.SortOrder

	bound, err := query.Translate(g.engine.Dialect(), routed, spec)
	if err != nil {
		return nil, err
	}
	if s, ok := txn.FromContext(ctx); ok {
		return s.Tx().Query(ctx, bound)
	}
	return g.engine.Query(ctx, bound)
}

// Type returns the content type of uri.
func (g *Gateway) Type(uri string) (string, error) {
	routed, err := g.router.RouteString(uri)
	if err != nil {
		return "", err
	}
	return g.router.Type(routed), nil
}

// Insert adds one row to the table uri addresses and returns the new row's
// identifier.
func (g *Gateway) Insert(ctx context.Context, uri string, vals write.Values) (id resource.Identifier, err error) {
	defer observe("insert", &err)

	routed, err := g.router.RouteString(uri)
	if err != nil {
		return resource.Identifier{}, err
	}
	res, err := g.writer.Insert(ctx, routed, vals)
	if err != nil {
		return resource.Identifier{}, err
	}
	g.announce(ctx, res.Event)
	return res.URI, nil
}

// Update writes vals to the rows uri addresses and returns how many rows
// changed.
func (g *Gateway) Update(ctx context.Context, uri string, vals write.Values, selection string, args []any) (n int64, err error) {
	defer observe("update", &err)

	routed, err := g.router.RouteString(uri)
	if err != nil {
		return 0, err
	}
	res, err := g.writer.Update(ctx, routed, vals, selection, args)
	if err != nil {
		return 0, err
	}
	g.announce(ctx, res.Event)
	return res.Count, nil
}

// Delete removes the rows uri addresses and returns how many were removed.
func (g *Gateway) Delete(ctx context.Context, uri string, selection string, args []any) (n int64, err error) {
	defer observe("delete", &err)

	routed, err := g.router.RouteString(uri)
	if err != nil {
		return 0, err
	}
	res, err := g.writer.Delete(ctx, routed, selection, args)
	if err != nil {
		return 0, err
	}
	g.announce(ctx, res.Event)
	return res.Count, nil
}

// BulkInsert inserts rows atomically and returns how many were inserted.
func (g *Gateway) BulkInsert(ctx context.Context, uri string, rows []write.Values) (n int64, err error) {
	defer observe("bulk_insert", &err)

	routed, err := g.router.RouteString(uri)
	if err != nil {
		return 0, err
	}
	res, err := g.writer.BulkInsert(ctx, routed, rows)
	if err != nil {
		return 0, err
	}
	g.announce(ctx, res.Event)
	return res.Count, nil
}

// announce defers ev into the open batch scope, or propagates it right away.
// Delivery failures are logged by the propagator and never fail the write.
func (g *Gateway) announce(ctx context.Context, ev *notify.ChangeEvent) {
	if ev == nil {
		return
	}
	if s, ok := txn.FromContext(ctx); ok {
		s.Defer(*ev)
		return
	}
	if err := g.propagator.Propagate(ctx, *ev, ev.Table); err != nil {
		g.logger.Debug("propagation finished with errors", zap.String("uri", ev.URI.String()), zap.Error(err))
	}
}

func observe(op string, err *error) {
	metrics.CounterOperations.WithLabelValues(op, metrics.Outcome(*err)).Inc()
}
