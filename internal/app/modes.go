package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/costsim/internal/costmodel"
	"github.com/alanyoungcy/costsim/internal/domain"
	"github.com/alanyoungcy/costsim/internal/engine"
	"github.com/alanyoungcy/costsim/internal/feed"
	"github.com/alanyoungcy/costsim/internal/pipeline"
	"github.com/alanyoungcy/costsim/internal/server"
	"github.com/alanyoungcy/costsim/internal/server/handler"
	"github.com/alanyoungcy/costsim/internal/server/ws"
	"github.com/alanyoungcy/costsim/internal/service"
)

const shutdownTimeout = 5 * time.Second

// pipelineHandle exposes the running simulation to the HTTP layer.
type pipelineHandle struct {
	engine *engine.Engine
	feed   handler.FeedState // nil for the bus source
}

// SimulateMode streams snapshots from the feed through the engine and
// publishes every result. No HTTP API is served; metrics are exposed on
// their own listener when enabled.
func (a *App) SimulateMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting simulate mode",
		slog.String("instrument", a.cfg.Feed.Instrument),
		slog.String("source", a.cfg.Feed.Source),
	)

	g, ctx := errgroup.WithContext(ctx)
	if _, err := a.startPipeline(ctx, g, deps); err != nil {
		return err
	}
	if a.cfg.Metrics.Enabled {
		a.startMetricsServer(ctx, g, deps)
	}
	return g.Wait()
}

// MonitorMode runs the simulation pipeline together with the HTTP and
// WebSocket API.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode",
		slog.String("instrument", a.cfg.Feed.Instrument),
		slog.Int("port", a.cfg.Server.Port),
	)

	g, ctx := errgroup.WithContext(ctx)
	p, err := a.startPipeline(ctx, g, deps)
	if err != nil {
		return err
	}
	a.startHTTPServer(ctx, g, deps, p)
	return g.Wait()
}

// ArchiveMode exports old results and samples to blob storage, once or on
// the configured cron schedule.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	if deps.Archiver == nil {
		return errors.New("archive mode: postgres must be enabled")
	}
	a.logger.InfoContext(ctx, "starting archive mode",
		slog.Int("retention_days", a.cfg.Archive.RetentionDays),
		slog.String("cron", a.cfg.Archive.Cron),
	)

	opts := []pipeline.ArchiverOption{
		pipeline.WithPruners(deps.Results, deps.Samples),
		pipeline.WithReportHook(func(r domain.ArchiveReport) {
			deps.Metrics.Archived(r.Kind, r.Count)
		}),
	}
	if a.cfg.Archive.Verify {
		opts = append(opts, pipeline.WithVerifier(deps.BlobReader, deps.BlobDeleter))
	}
	if deps.LockManager != nil {
		opts = append(opts, pipeline.WithLock(deps.LockManager))
	}
	archiver := pipeline.NewArchiver(deps.Archiver, pipeline.ArchiverConfig{
		RetentionDays:     a.cfg.Archive.RetentionDays,
		DeleteAfterUpload: a.cfg.Archive.DeleteAfterUpload,
	}, a.logger, opts...)

	if a.cfg.Archive.Cron == "" {
		if _, err := archiver.Run(ctx); err != nil {
			return fmt.Errorf("archive mode: %w", err)
		}
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	if a.cfg.Metrics.Enabled {
		a.startMetricsServer(ctx, g, deps)
	}
	g.Go(func() error {
		return archiver.RunCron(ctx, a.cfg.Archive.Cron)
	})
	return g.Wait()
}

// startPipeline builds the engine and its sinks and launches the feed,
// engine loop and batch writer on g.
func (a *App) startPipeline(ctx context.Context, g *errgroup.Group, deps *Dependencies) (*pipelineHandle, error) {
	model, err := costmodel.New(a.cfg.CostParams())
	if err != nil {
		return nil, fmt.Errorf("app: cost model: %w", err)
	}

	pubOpts := []service.PublisherOption{service.WithSinkErrors(deps.Metrics)}
	if deps.SignalBus != nil {
		pubOpts = append(pubOpts, service.WithBus(deps.SignalBus))
	}
	if deps.BookCache != nil {
		pubOpts = append(pubOpts, service.WithBookCache(deps.BookCache))
	}
	if deps.Results != nil {
		writer := service.NewBatchWriter(deps.Results, deps.Samples, service.BatchWriterConfig{
			BatchSize:     a.cfg.Postgres.BatchSize,
			FlushInterval: a.cfg.Postgres.FlushInterval.Duration,
		}, a.logger)
		pubOpts = append(pubOpts, service.WithBatchWriter(writer))
		g.Go(func() error { return writer.Run(ctx) })
	}

	instrument := a.cfg.Feed.Instrument
	eng := engine.New(engine.Config{
		Instrument:   instrument,
		USDAmount:    a.cfg.Simulation.USDAmount.Decimal,
		DepthLevels:  a.cfg.Simulation.DepthLevels,
		AllowPartial: a.cfg.Simulation.AllowPartial,
	}, model, a.logger,
		engine.WithSink(service.NewResultPublisher(a.logger, pubOpts...)),
		engine.WithRecorder(deps.Metrics),
		engine.WithPredictors(a.cfg.Predictors()),
	)

	mb := engine.NewMailbox(func() { deps.Metrics.SnapshotDropped(instrument) })
	handle := &pipelineHandle{engine: eng}

	switch a.cfg.Feed.Source {
	case "redis":
		if deps.SignalBus == nil {
			return nil, errors.New("app: feed source redis requires redis to be enabled")
		}
		bf := feed.NewBusFeeder(deps.SignalBus, instrument, mb.Put, a.logger)
		g.Go(func() error { return bf.Run(ctx) })
	default:
		l2 := feed.NewL2Feed(feed.L2Config{
			URL:               a.cfg.Feed.URL,
			Instrument:        instrument,
			ReconnectDelay:    a.cfg.Feed.ReconnectDelay.Duration,
			MaxReconnectDelay: a.cfg.Feed.MaxReconnectDelay.Duration,
			HandshakeTimeout:  a.cfg.Feed.HandshakeTimeout.Duration,
		}, mb.Put, func(lastSeq uint64) {
			mb.Clear()
			eng.Reset(lastSeq)
			deps.Metrics.FeedReconnected(instrument)
		}, a.logger)
		handle.feed = l2
		if err := deps.Metrics.WatchFeedDecodeErrors(instrument, l2.DecodeErrors); err != nil {
			return nil, fmt.Errorf("app: feed metrics: %w", err)
		}
		g.Go(func() error {
			defer l2.Close()
			return l2.Run(ctx)
		})
	}

	g.Go(func() error { return eng.Run(ctx, mb) })
	return handle, nil
}

// startHTTPServer builds the API server and runs it until ctx is done.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, p *pipelineHandle) {
	var queryOpts []service.QueryOption
	if deps.BookCache != nil {
		queryOpts = append(queryOpts, service.WithCachedBooks(deps.BookCache))
	}
	if deps.SignalBus != nil {
		queryOpts = append(queryOpts, service.WithResultStream(deps.SignalBus))
	}
	svc := service.NewSimulationService(p.engine, deps.Results, deps.Audit, a.logger, queryOpts...)

	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, ws.Config{
			Channels:   []string{service.ResultChannel(a.cfg.Feed.Instrument)},
			FailureCh:  service.FailureChannel,
			Mode:       a.cfg.Mode,
			Instrument: a.cfg.Feed.Instrument,
			StartedAt:  a.startedAt,
		}, a.logger)
		g.Go(func() error { return hub.Run(ctx) })
	}

	handlers := server.Handlers{
		Health:      handler.NewHealthHandler(deps.Checks, a.logger),
		Status:      handler.NewStatusHandler(a.cfg.Mode, a.startedAt, svc, p.feed),
		Simulations: handler.NewSimulationHandler(svc, a.logger),
	}
	if a.cfg.Metrics.Enabled {
		handlers.Metrics = deps.Metrics.Handler()
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		go func() {
			<-ctx.Done()
			shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(shutCtx)
		}()
		return srv.Start()
	})
}

// startMetricsServer exposes /metrics on its own listener.
func (a *App) startMetricsServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", deps.Metrics.Handler())
	srv := &http.Server{
		Addr:              a.cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		go func() {
			<-ctx.Done()
			shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(shutCtx)
		}()
		a.logger.Info("metrics listener started", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: metrics listener: %w", err)
		}
		return nil
	})
}
