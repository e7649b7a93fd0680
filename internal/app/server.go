// Package app assembles the gateway, its transports and the HTTP server
// from configuration and runs them until shutdown.
package app

import (
	"context"
	"net/http"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zoravur/tablegate/internal/api"
	"github.com/zoravur/tablegate/internal/catalog"
	"github.com/zoravur/tablegate/internal/codec"
	"github.com/zoravur/tablegate/internal/config"
	"github.com/zoravur/tablegate/internal/engine"
	"github.com/zoravur/tablegate/internal/gateway"
	"github.com/zoravur/tablegate/internal/notify"
	"github.com/zoravur/tablegate/internal/wal"
)

type Server struct {
	cfg        *config.Config
	logger     *zap.Logger
	httpServer *http.Server

	Engine  *engine.Engine
	Catalog *catalog.Catalog
	Gateway *gateway.Gateway
	Hub     *notify.Hub

	async   *notify.Async
	stream  *wal.Stream
	walSink *wal.Consumer
	closers []func() error
}

// NewServer opens the database, resolves the catalog and builds every
// configured transport.
func NewServer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (s *Server, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s = &Server{cfg: cfg, logger: logger, Hub: notify.NewHub()}
	defer func() {
		if err != nil {
			_ = s.close()
		}
	}()

	s.Engine, err = engine.Open(ctx, engine.Config{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		LogQueries:      cfg.Database.LogQueries,
	}, logger)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, s.Engine.Close)

	s.Catalog, err = LoadCatalog(ctx, cfg.Catalog, s.Engine)
	if err != nil {
		return nil, err
	}

	transport, err := s.transports(ctx)
	if err != nil {
		return nil, err
	}

	s.Gateway, err = gateway.New(gateway.Options{
		Authority:  cfg.Authority,
		Catalog:    s.Catalog,
		Engine:     s.Engine,
		Transport:  transport,
		YieldEvery: cfg.Bulk.YieldEvery,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	if cfg.WAL.Enabled {
		s.stream = &wal.Stream{Conn: cfg.WAL.Conn, Slot: cfg.WAL.Slot, CreateSlot: cfg.WAL.CreateSlot, Logger: logger}
		s.walSink = &wal.Consumer{
			Catalog:    s.Catalog,
			Authority:  cfg.Authority,
			Propagator: notify.NewPropagator(s.Catalog, transport, logger),
			Logger:     logger,
		}
	}

	s.httpServer = &http.Server{
		Addr:        cfg.HTTP.Addr,
		ReadTimeout: cfg.HTTP.ReadTimeout,
		Handler: api.SetupRoutes(api.Deps{
			Gateway: s.Gateway,
			Hub:     s.Hub,
			Codecs:  codec.Default(),
			Logger:  logger,
		}),
	}
	return s, nil
}

// LoadCatalog reads the descriptor at cfg.Path, or introspects e when no
// path is set.
func LoadCatalog(ctx context.Context, cfg config.CatalogConfig, e *engine.Engine) (*catalog.Catalog, error) {
	if cfg.Path != "" {
		return catalog.LoadFile(cfg.Path)
	}
	return catalog.Introspect(ctx, e)
}

// transports builds the delivery chain: the websocket hub plus redis and
// kafka when configured, optionally behind a rate-limited queue for
// deferred notifications.
func (s *Server) transports(ctx context.Context) (notify.Transport, error) {
	ncfg := s.cfg.Notify
	multi := notify.Multi{s.Hub}

	if ncfg.Redis.Addr != "" {
		r, client, err := notify.DialRedis(ctx, notify.RedisConfig{
			Addr:     ncfg.Redis.Addr,
			Password: ncfg.Redis.Password,
			DB:       ncfg.Redis.DB,
			Channel:  ncfg.Redis.Channel,
		})
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, client.Close)
		multi = append(multi, r)
	}

	if len(ncfg.Kafka.Brokers) > 0 {
		w, err := notify.NewKafkaWriter(notify.KafkaConfig{Brokers: ncfg.Kafka.Brokers, Topic: ncfg.Kafka.Topic})
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, w.Close)
		multi = append(multi, notify.NewKafka(w))
	}

	if !ncfg.Async.Enabled {
		return multi, nil
	}
	s.async = notify.NewAsync(multi, ncfg.Async.Buffer, ncfg.Async.Rate, ncfg.Async.Burst, s.logger)
	return s.async, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	defer func() {
		if err := s.close(); err != nil {
			s.logger.Warn("close failed", zap.Error(err))
		}
	}()

	g, gctx := errgroup.WithContext(ctx)

	if s.async != nil {
		// the queue outlives ctx so close can drain it
		s.async.Start(context.WithoutCancel(ctx))
	}
	if s.stream != nil {
		g.Go(func() error { return s.stream.Run(gctx, s.walSink.OnMessage) })
	}

	g.Go(func() error {
		s.logger.Info("listening", zap.String("addr", s.httpServer.Addr), zap.String("authority", s.cfg.Authority))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("shutting down")
		shutCtx, cancel := context.WithTimeout(context.Background(), s.cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return s.httpServer.Shutdown(shutCtx)
	})

	return g.Wait()
}

// close drains deferred notifications before releasing connections.
func (s *Server) close() error {
	var errs error
	if s.async != nil {
		errs = multierr.Append(errs, s.async.Close())
		s.async = nil
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = multierr.Append(errs, s.closers[i]())
	}
	s.closers = nil
	return errs
}
