package notify

import (
	"context"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/zoravur/tablegate/internal/catalog"
	"github.com/zoravur/tablegate/internal/errors"
	"github.com/zoravur/tablegate/internal/logutil"
	"github.com/zoravur/tablegate/internal/metrics"
	"github.com/zoravur/tablegate/internal/resource"
)

// Catalog resolves dependent table identifiers.
type Catalog interface {
	Lookup(id string) (*catalog.TableDetails, bool)
}

// Propagator delivers an event and announces it to the dependents of the
// changed table.
type Propagator struct {
	catalog   Catalog
	transport Transport
	logger    *zap.Logger
}

func NewPropagator(cat Catalog, t Transport, logger *zap.Logger) *Propagator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Propagator{catalog: cat, transport: t, logger: logger}
}

// Propagate delivers ev.URI, then the collection URI of every table listed
// in td.Dependents. Dependents of dependents are not visited, so cycles in
// the catalog cannot loop. A dependent missing from the catalog is skipped.
//
// Delivery failures do not stop the cascade; they are logged and returned
// combined.
func (p *Propagator) Propagate(ctx context.Context, ev ChangeEvent, td *catalog.TableDetails) error {
	if !ev.Notify {
		return nil
	}

	var errs error
	deliver := func(uri resource.Identifier, kind string) {
		if err := p.transport.Deliver(ctx, uri, ev.Sync); err != nil {
			p.logger.Warn("notification delivery failed",
				zap.String("uri", uri.String()),
				zap.String("kind", kind),
				zap.Error(err))
			errs = multierr.Append(errs, err)
			return
		}
		metrics.CounterNotifications.WithLabelValues(kind).Inc()
	}

	deliver(ev.URI, "primary")

	if td == nil {
		return errs
	}
	for _, id := range td.Dependents {
		dep, ok := p.catalog.Lookup(id)
		if !ok {
			metrics.CounterDependentMisses.Inc()
			p.logger.Debug("skipping dependent",
				logutil.Values(
					zap.String("table", td.ID),
					zap.String("dependent", id),
					zap.String("code", string(errors.ErrDependentResolutionMiss)),
				))
			continue
		}
		deliver(resource.Identifier{Authority: ev.URI.Authority, Table: dep.Name}, "dependent")
	}
	return errs
}

// PropagateAll propagates events in order, each against its own table.
func (p *Propagator) PropagateAll(ctx context.Context, events []ChangeEvent) error {
	var errs error
	for _, ev := range events {
		errs = multierr.Append(errs, p.Propagate(ctx, ev, ev.Table))
	}
	return errs
}
