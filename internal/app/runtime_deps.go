package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/revreport/internal/mapping"
	"github.com/odyssey-erp/revreport/internal/platform/cache"
	"github.com/odyssey-erp/revreport/internal/platform/db"
	"github.com/odyssey-erp/revreport/internal/reportcache"
	"github.com/odyssey-erp/revreport/internal/reports"
	"github.com/odyssey-erp/revreport/internal/revenue"
	"github.com/odyssey-erp/revreport/internal/store"
)

// DepsOptions selects which backing services Open connects to.
type DepsOptions struct {
	// Redis enables the report cache.
	Redis bool
	// Years overrides the configured year range when non-zero.
	Years revenue.YearRange
	// Workers overrides REPORT_WORKERS when positive.
	Workers int
}

// Deps holds the connections and the report service shared by every binary.
type Deps struct {
	Pool     *pgxpool.Pool
	Redis    *redis.Client
	Store    *store.Store
	Cache    *reportcache.Cache
	Mappings *mapping.Cached
	Reports  *reports.Service
	logger   *slog.Logger
}

// Open connects to Postgres when PG_DSN is set, applies migrations, connects
// to Redis when requested and builds the report service. A Redis outage is
// logged and leaves the cache disabled.
func Open(ctx context.Context, cfg *Config, logger *slog.Logger, opts DepsOptions) (*Deps, error) {
	if logger == nil {
		logger = slog.Default()
	}
	deps := &Deps{logger: logger}

	if cfg.PGDSN != "" {
		if err := store.Migrate(cfg.PGDSN); err != nil {
			return nil, err
		}
		pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns})
		if err != nil {
			return nil, err
		}
		deps.Pool = pool
		deps.Store = store.New(pool)
	}

	if opts.Redis {
		client, err := cache.New(ctx, cfg.RedisAddr)
		if err != nil {
			logger.Warn("report cache disabled", slog.String("addr", cfg.RedisAddr), slog.Any("error", err))
		} else {
			deps.Redis = client
		}
	}
	deps.Cache = reportcache.New(deps.Redis, cfg.ReportCacheTTL)

	var loader mapping.Loader
	switch cfg.MappingSource {
	case MappingFile:
		loader = mapping.FileSource{Path: cfg.MappingFilePath}
	case MappingPostgres:
		if deps.Store == nil {
			deps.Close()
			return nil, fmt.Errorf("mapping source postgres needs PG_DSN")
		}
		loader = deps.Store.Mappings()
	}
	if loader != nil {
		deps.Mappings = mapping.NewCached(loader, cfg.MappingCacheTTL)
	}

	years := cfg.Years()
	if opts.Years != (revenue.YearRange{}) {
		years = opts.Years
	}
	workers := cfg.ReportWorkers
	if opts.Workers > 0 {
		workers = opts.Workers
	}
	pipeline, err := revenue.NewPipeline(revenue.Config{Years: years, Workers: workers, Logger: logger})
	if err != nil {
		deps.Close()
		return nil, err
	}
	svcCfg := reports.Config{
		Pipeline: pipeline,
		Cache:    deps.Cache,
		Logger:   logger,
	}
	if deps.Mappings != nil {
		svcCfg.Mappings = deps.Mappings
	}
	if deps.Store != nil {
		svcCfg.Store = deps.Store
	}
	service, err := reports.NewService(svcCfg)
	if err != nil {
		deps.Close()
		return nil, err
	}
	deps.Reports = service
	return deps, nil
}

// WatchMappings drops the in-process mapping table whenever another process
// bumps the report cache version.
func (d *Deps) WatchMappings(ctx context.Context) error {
	if d == nil || d.Mappings == nil || d.Redis == nil {
		return nil
	}
	return d.Cache.Listen(ctx, func(version int64) {
		d.Mappings.Invalidate()
		d.logger.Info("mapping cache invalidated", slog.Int64("version", version))
	})
}

// Close releases every open connection.
func (d *Deps) Close() {
	if d == nil {
		return
	}
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			d.logger.Warn("redis close", slog.Any("error", err))
		}
	}
	if d.Pool != nil {
		d.Pool.Close()
	}
}
