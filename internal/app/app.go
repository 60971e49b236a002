// Package app assembles the event log, bus, projections, syncer and HTTP
// router from configuration.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/PratikDhanave/salesview/internal/bus"
	"github.com/PratikDhanave/salesview/internal/config"
	"github.com/PratikDhanave/salesview/internal/event"
	"github.com/PratikDhanave/salesview/internal/eventlog"
	"github.com/PratikDhanave/salesview/internal/handlers"
	"github.com/PratikDhanave/salesview/internal/httpserver"
	"github.com/PratikDhanave/salesview/internal/projection"
	"github.com/PratikDhanave/salesview/internal/projection/access"
	"github.com/PratikDhanave/salesview/internal/projection/activity"
	"github.com/PratikDhanave/salesview/internal/projection/identity"
	"github.com/PratikDhanave/salesview/internal/projection/metrics"
	"github.com/PratikDhanave/salesview/internal/projection/opportunity"
	"github.com/PratikDhanave/salesview/internal/reconcile"
	"github.com/PratikDhanave/salesview/internal/syncer"
	"github.com/PratikDhanave/salesview/internal/view"
)

// App is a fully wired service.
type App struct {
	Log           eventlog.Log
	Bus           *bus.Bus
	Engine        *projection.Engine
	Syncer        *syncer.Syncer
	Users         view.Store[view.UserProfile]
	Grants        view.Store[view.AccessGrant]
	Opportunities view.Store[view.Opportunity]
	Activities    view.Store[view.Activity]
	Metrics       *metrics.Projection
	Router        *gin.Engine

	closers []func()
}

type schemaStore interface {
	EnsureSchema(ctx context.Context) error
}

// New builds the service. An empty DBURL keeps the log and views in memory;
// an empty RedisAddr keeps metrics in memory.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{}
	ready := map[string]httpserver.Pinger{}

	if cfg.DBURL == "" {
		logger.Warn("DB_URL not set, using in-memory storage")
		a.Log = eventlog.NewMemoryLog(time.Now)
		a.Users = view.NewMemoryStore[view.UserProfile]()
		a.Grants = view.NewMemoryStore[view.AccessGrant]()
		a.Opportunities = view.NewMemoryStore[view.Opportunity]()
		a.Activities = view.NewMemoryStore[view.Activity]()
	} else {
		pool, err := eventlog.Connect(ctx, cfg.DBURL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		if err := a.usePostgres(ctx, pool); err != nil {
			a.Close()
			return nil, err
		}
		ready["postgres"] = pool
	}

	var cache metrics.Cache = metrics.NewMemoryCache()
	if cfg.RedisAddr != "" {
		// Entries older than the freshness window are recomputed on read anyway.
		rc := metrics.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, 2*cfg.MetricsFreshness)
		if err := rc.Ping(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.closers = append(a.closers, func() { _ = rc.Close() })
		ready["redis"] = rc
		cache = rc
	}

	a.Bus = bus.New(logger)
	a.Engine = projection.NewEngine(a.Log, a.Bus, logger)
	a.Metrics = metrics.New(a.Opportunities, cache,
		metrics.WithFreshness(cfg.MetricsFreshness),
		metrics.WithLogger(logger))

	grants := access.New(a.Grants, cfg.AdminSubjects, logger)
	opps := opportunity.New(a.Opportunities, a.Users, a.Grants, cfg.AdminSubjects, logger)
	acts := activity.New(a.Activities, a.Opportunities, logger)
	// Derived visibility follows its source within the same delivery.
	grants.AddDependent(opps)
	opps.AddDependent(acts)
	opps.AddDependent(a.Metrics)

	// Registration order is rebuild order: views read by later projections come first.
	for _, p := range []projection.Projection{
		identity.New(a.Users, logger),
		grants,
		opps,
		acts,
		a.Metrics,
	} {
		if err := a.Engine.Register(p); err != nil {
			a.Close()
			return nil, err
		}
	}

	a.Syncer = syncer.New(a.Log, a.Bus, syncer.Config{
		Sources: map[event.AggregateType]reconcile.ActiveSource{
			event.AggregateUser: func(ctx context.Context) ([]string, error) {
				return view.ActiveKeys[view.UserProfile](ctx, a.Users)
			},
			event.AggregateOpportunity: func(ctx context.Context) ([]string, error) {
				return view.ActiveKeys[view.Opportunity](ctx, a.Opportunities)
			},
			event.AggregateActivity: func(ctx context.Context) ([]string, error) {
				return view.ActiveKeys[view.Activity](ctx, a.Activities)
			},
		},
		MaxRetries: cfg.SyncMaxRetries,
		Logger:     logger,
	})

	a.Router = httpserver.NewRouter(cfg, httpserver.Deps{
		Log:  a.Log,
		Sync: a.Syncer,
		Views: handlers.Views{
			Users:         a.Users,
			Opportunities: a.Opportunities,
			Activities:    a.Activities,
			Admins:        cfg.AdminSubjects,
		},
		Metrics: a.Metrics,
		Rebuild: a.Engine,
		Ready:   ready,
		Logger:  logger,
	})
	return a, nil
}

func (a *App) usePostgres(ctx context.Context, pool *pgxpool.Pool) error {
	log := eventlog.NewPostgresLog(pool)
	users, err := view.NewPostgresStore[view.UserProfile](pool, "users")
	if err != nil {
		return err
	}
	grants, err := view.NewPostgresStore[view.AccessGrant](pool, "access_grants")
	if err != nil {
		return err
	}
	opps, err := view.NewPostgresStore[view.Opportunity](pool, "opportunities")
	if err != nil {
		return err
	}
	acts, err := view.NewPostgresStore[view.Activity](pool, "activities")
	if err != nil {
		return err
	}
	// Ensure required tables/indexes exist so the service self-bootstraps.
	for _, s := range []schemaStore{log, users, grants, opps, acts} {
		if err := s.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	a.Log, a.Users, a.Grants, a.Opportunities, a.Activities = log, users, grants, opps, acts
	return nil
}

// Recover re-applies, per projection in registration order, every logged
// event the projection has not been marked as having applied. Run at startup
// to finish deliveries interrupted by a crash.
func (a *App) Recover(ctx context.Context) error {
	for _, name := range a.Engine.Names() {
		if _, err := a.Engine.Recover(ctx, name, time.Time{}); err != nil {
			return err
		}
	}
	return nil
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
