package gateway

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/zoravur/tablegate/internal/errors"
	"github.com/zoravur/tablegate/internal/metrics"
	"github.com/zoravur/tablegate/internal/txn"
	"github.com/zoravur/tablegate/internal/write"
)

type OpKind string

const (
	OpInsert OpKind = "insert"
	OpUpdate OpKind = "update"
	OpDelete OpKind = "delete"
)

// Operation is one write in a batch.
type Operation struct {
	Kind      OpKind       `json:"kind"`
	URI       string       `json:"uri"`
	Values    write.Values `json:"values,omitempty"`
	Selection string       `json:"selection,omitempty"`
	Args      []any        `json:"args,omitempty"`
	// BackReferences sets a column to the key inserted by an earlier
	// operation, given by its index in the batch.
	BackReferences map[string]int `json:"back_references,omitempty"`
	// ExpectedCount, when set, is the number of rows an update or delete
	// must affect.
	ExpectedCount *int64 `json:"expected_count,omitempty"`
}

// Result is the outcome of one batch operation. URI is set for inserts.
type Result struct {
	URI   string `json:"uri,omitempty"`
	Count int64  `json:"count"`
}

// ApplyBatch runs ops in order inside one transaction. Either every
// operation succeeds and the results come back in order, or the batch is
// rolled back and nothing is written or announced. Notifications are
// deduplicated and delivered after the commit.
func (g *Gateway) ApplyBatch(ctx context.Context, ops []Operation) (results []Result, err error) {
	defer observe("apply_batch", &err)

	if _, ok := txn.FromContext(ctx); ok {
		return nil, errors.New(errors.ErrInvalidQuery, "batch already open")
	}

	tx, err := g.engine.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	scope := txn.Begin(tx)
	defer func() {
		if scope.State() == txn.Open {
			metrics.CounterBatchRollbacks.Inc()
			if rerr := scope.Rollback(); rerr != nil {
				g.logger.Warn("batch rollback failed", zap.Error(rerr))
			}
		}
	}()
	bctx := txn.NewContext(ctx, scope)

	results = make([]Result, len(ops))
	keys := make([]string, len(ops))
	for i, op := range ops {
		res, key, err := g.apply(bctx, i, op, keys)
		if err != nil {
			return nil, errors.Wrapf(err, "batch operation %d", i)
		}
		results[i], keys[i] = res, key
	}

	events, err := scope.Commit()
	if err != nil {
		metrics.CounterBatchRollbacks.Inc()
		return nil, err
	}
	if err := g.propagator.PropagateAll(ctx, events); err != nil {
		g.logger.Debug("batch propagation finished with errors", zap.Int("events", len(events)), zap.Error(err))
	}
	return results, nil
}

func (g *Gateway) apply(ctx context.Context, i int, op Operation, keys []string) (Result, string, error) {
	routed, err := g.router.RouteString(op.URI)
	if err != nil {
		return Result{}, "", err
	}

	vals := op.Values
	if len(op.BackReferences) > 0 {
		vals = make(write.Values, len(op.Values)+len(op.BackReferences))
		for k, v := range op.Values {
			vals[k] = v
		}
		for col, ref := range op.BackReferences {
			if ref < 0 || ref >= i || keys[ref] == "" {
				return Result{}, "", errors.Newf(errors.ErrInvalidQuery, "back reference %s=%d does not name an earlier insert", col, ref)
			}
			vals[col] = keys[ref]
		}
	}

	var res write.Result
	switch op.Kind {
	case OpInsert:
		res, err = g.writer.Insert(ctx, routed, vals)
	case OpUpdate:
		res, err = g.writer.Update(ctx, routed, vals, op.Selection, op.Args)
	case OpDelete:
		res, err = g.writer.Delete(ctx, routed, op.Selection, op.Args)
	default:
		return Result{}, "", errors.Newf(errors.ErrInvalidQuery, "unknown operation kind %q", op.Kind)
	}
	if err != nil {
		return Result{}, "", err
	}

	if op.ExpectedCount != nil && op.Kind != OpInsert && *op.ExpectedCount != res.Count {
		return Result{}, "", errors.New(errors.ErrExpectedCountMismatch,
			fmt.Sprintf("expected %d rows, affected %d", *op.ExpectedCount, res.Count))
	}
	g.announce(ctx, res.Event)

	out := Result{Count: res.Count}
	if op.Kind == OpInsert {
		out.URI = res.URI.String()
	}
	return out, res.Key, nil
}
