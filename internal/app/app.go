// Package app wires the user aggregate, its command router and its projections
// onto the configured storage, lease and publication backends.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"accounts/internal/eventsourcing/entity"
	"accounts/internal/eventsourcing/journal"
	"accounts/internal/eventsourcing/lease"
	esprojection "accounts/internal/eventsourcing/projection"
	"accounts/internal/eventsourcing/projection/kafkasink"
	"accounts/internal/eventsourcing/router"
	"accounts/internal/eventsourcing/snapshot"
	"accounts/internal/platform/config"
	"accounts/internal/platform/kafka"
	"accounts/internal/platform/metrics"
	"accounts/internal/platform/postgres"
	redisclient "accounts/internal/platform/redis"
	httptransport "accounts/internal/transport/http"
	"accounts/internal/user/aggregate"
	"accounts/internal/user/models"
	userprojection "accounts/internal/user/projection"
	"accounts/internal/user/service"
	"accounts/internal/user/store/readmodel"
)

// PublisherName names the Kafka publication projection's checkpoint.
const PublisherName = "user-events-kafka"

// UserRouter is the command router for user aggregates.
type UserRouter = router.Router[models.State, models.Command, models.Event]

// App is a fully wired process.
type App struct {
	Service *service.Service
	Router  *UserRouter
	Runners []*esprojection.Runner
	Ops     http.Handler

	cfg     config.Config
	logger  *slog.Logger
	checks  map[string]httptransport.Check
	closers []func() error
}

type storage struct {
	journal     journal.Journal
	tagged      journal.TaggedReader
	snapshots   snapshot.Store
	checkpoints esprojection.CheckpointStore
	reads       readmodel.Store
}

// New opens every configured backend and wires the components. On error,
// whatever was already opened is closed.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger, reg *prometheus.Registry) (_ *App, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	a := &App{cfg: cfg, logger: logger, checks: map[string]httptransport.Check{}}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	codec, err := aggregate.NewCodec()
	if err != nil {
		return nil, err
	}

	store, err := a.openStorage(ctx)
	if err != nil {
		return nil, err
	}

	runtime := entity.NewRuntime[models.State, models.Command, models.Event](
		aggregate.New(logger), codec, codec, store.journal, store.snapshots,
		entity.WithConfig(entity.Config{
			SnapshotEvery:    cfg.Router.SnapshotEvery,
			KeepSnapshots:    cfg.Router.KeepSnapshots,
			MaxAppendRetries: cfg.Router.MaxAppendRetries,
		}),
		entity.WithLogger(logger),
		entity.WithMetrics(entity.NewMetrics(reg)),
	)

	routerOpts := []router.Option{
		router.WithAskTimeout(cfg.Router.AskTimeout),
		router.WithPassivateAfter(cfg.Router.PassivateAfter),
		router.WithMailboxSize(cfg.Router.MailboxSize),
		router.WithLogger(logger),
		router.WithMetrics(router.NewMetrics(reg)),
	}
	leaser, err := a.openLeaser(ctx, reg)
	if err != nil {
		return nil, err
	}
	if leaser != nil {
		routerOpts = append(routerOpts, router.WithLeaser(leaser, cfg.Router.LeaseTTL, cfg.Router.LeaseWait))
	}
	a.Router = router.New(runtime, routerOpts...)

	a.Service = service.New(a.Router, store.reads,
		service.WithLogger(logger),
		service.WithMetrics(metrics.New(reg)),
	)

	projMetrics := esprojection.NewMetrics(reg)
	runnerOpts := []esprojection.Option{
		esprojection.WithCheckpointPolicy(cfg.Projection.SaveEvery, cfg.Projection.SaveAfter),
		esprojection.WithPolling(cfg.Projection.BatchSize, cfg.Projection.PollInterval),
		esprojection.WithBackoff(cfg.Projection.MinBackoff, cfg.Projection.MaxBackoff),
		esprojection.WithLogger(logger),
		esprojection.WithMetrics(projMetrics),
	}
	a.Runners = append(a.Runners, esprojection.New(
		userprojection.ReadModelID, store.tagged, store.checkpoints,
		userprojection.NewReadModelHandler(codec, store.reads, logger),
		runnerOpts...,
	))

	publisher, err := a.openPublisher(ctx, reg)
	if err != nil {
		return nil, err
	}
	if publisher != nil {
		a.Runners = append(a.Runners, esprojection.New(
			esprojection.ID{Name: PublisherName, Tag: aggregate.Tag},
			store.tagged, store.checkpoints, publisher, runnerOpts...,
		))
	}

	a.Ops = httptransport.NewOpsRouter(httptransport.OpsDeps{
		Registry: reg,
		Logger:   logger,
		Checks:   a.checks,
	})
	return a, nil
}

func (a *App) openStorage(ctx context.Context) (storage, error) {
	switch a.cfg.Storage.Backend {
	case config.BackendPostgres:
		handles, err := postgres.Open(ctx, a.cfg.Postgres)
		if err != nil {
			return storage{}, err
		}
		a.closers = append(a.closers, handles.Close)
		a.checks["postgres"] = handles.Health
		if a.cfg.Postgres.EnsureSchema {
			if err := postgres.EnsureSchema(ctx, handles.DB); err != nil {
				return storage{}, err
			}
		}
		j := journal.NewPostgres(handles.DB, journal.WithConsistencyDelay(a.cfg.Projection.ConsistencyDelay))
		return storage{
			journal:     j,
			tagged:      j,
			snapshots:   snapshot.NewPostgres(handles.DB),
			checkpoints: esprojection.NewPostgresCheckpoints(handles.DB),
			reads:       readmodel.NewPostgresStore(handles.Pool),
		}, nil
	case config.BackendMemory:
		j := journal.NewMemory()
		return storage{
			journal:     j,
			tagged:      j,
			snapshots:   snapshot.NewMemory(),
			checkpoints: esprojection.NewMemoryCheckpoints(),
			reads:       readmodel.NewInMemoryStore(),
		}, nil
	default:
		return storage{}, fmt.Errorf("unknown storage backend %q", a.cfg.Storage.Backend)
	}
}

// openLeaser returns nil when Redis is not configured; the router then uses
// in-process leases.
func (a *App) openLeaser(ctx context.Context, reg prometheus.Registerer) (lease.Leaser, error) {
	client, err := redisclient.New(ctx, a.cfg.Redis)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, nil
	}
	a.closers = append(a.closers, client.Close)
	a.checks["redis"] = client.Health
	return lease.NewRedis(client.Client, lease.WithLatencyHistogram(lease.NewLatencyHistogram(reg))), nil
}

// openPublisher returns nil when no Kafka brokers are configured.
func (a *App) openPublisher(ctx context.Context, reg prometheus.Registerer) (*kafkasink.Sink, error) {
	client, err := kafka.NewClient(a.cfg.Kafka)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, nil
	}
	a.closers = append(a.closers, func() error {
		client.Close()
		return nil
	})
	a.checks["kafka"] = func(ctx context.Context) error { return kafka.Health(ctx, client) }

	if err := kafka.EnsureTopic(ctx, client, a.cfg.Kafka.Topic, a.cfg.Kafka.Partitions, a.cfg.Kafka.ReplicationFactor); err != nil {
		return nil, err
	}
	return kafkasink.New(client, a.cfg.Kafka.Topic,
		kafkasink.WithLogger(a.logger),
		kafkasink.WithMetrics(kafkasink.NewMetrics(reg)),
	), nil
}

// Run drives the projections until ctx is cancelled, then stops the router so
// queued commands fail instead of hanging.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, r := range a.Runners {
		g.Go(func() error {
			return r.Run(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := a.Router.Stop(stopCtx); err != nil {
			return fmt.Errorf("stop router: %w", err)
		}
		a.logger.InfoContext(stopCtx, "command router stopped")
		return nil
	})
	return g.Wait()
}

// Close releases backends in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for _, c := range slices.Backward(a.closers) {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
