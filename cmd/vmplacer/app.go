package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/vmware/govmomi"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/limiquantix/vmplacer/internal/config"
	"github.com/limiquantix/vmplacer/internal/domain"
	"github.com/limiquantix/vmplacer/internal/inventory/file"
	"github.com/limiquantix/vmplacer/internal/inventory/vsphere"
	"github.com/limiquantix/vmplacer/internal/placement"
	"github.com/limiquantix/vmplacer/internal/plugins"
	"github.com/limiquantix/vmplacer/internal/provision"
	"github.com/limiquantix/vmplacer/internal/repository/etcd"
	"github.com/limiquantix/vmplacer/internal/repository/memory"
	"github.com/limiquantix/vmplacer/internal/repository/postgres"
	"github.com/limiquantix/vmplacer/internal/repository/redis"
	"github.com/limiquantix/vmplacer/internal/server"
	"github.com/limiquantix/vmplacer/internal/services/planner"
)

// app holds the backends selected by the configuration.
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	db      *postgres.DB
	cache   *redis.Cache
	etcd    *etcd.Client
	vcenter *govmomi.Client

	registry *prometheus.Registry
	planner  *planner.Service
}

// newApp connects the enabled backends and builds the planner.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (a *app, err error) {
	a = &app{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			err = multierr.Append(err, a.Close(context.WithoutCancel(ctx)))
			a = nil
		}
	}()

	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var runs domain.RunRepository = memory.NewRunRepository()
	if cfg.Database.Enabled {
		if a.db, err = postgres.NewDB(ctx, cfg.Database, logger); err != nil {
			return nil, err
		}
		runs = postgres.NewRunRepository(a.db, logger)
	}

	var (
		locker domain.Locker         = memory.NewLocker()
		latest domain.LatestRunIndex = memory.NewLatestRunIndex()
	)
	if cfg.Etcd.Enabled {
		if a.etcd, err = etcd.NewClient(cfg.Etcd, logger); err != nil {
			return nil, err
		}
		locker, latest = a.etcd, a.etcd
	}

	opts := []planner.Option{
		planner.WithLatestIndex(latest),
		planner.WithMetrics(placement.NewMetrics(a.registry)),
	}

	var source domain.SnapshotSource
	switch cfg.Inventory.Source {
	case config.InventoryVSphere:
		if a.vcenter, err = vsphere.Connect(ctx, cfg.VSphere); err != nil {
			return nil, err
		}
		source = vsphere.NewCollector(a.vcenter.Client, cfg.VSphere.Datacenter, logger)
		ops := vsphere.NewOperator(a.vcenter.Client, cfg.VSphere.Datacenter, logger)
		opts = append(opts, planner.WithWaiter(provision.NewWaiter(cfg.Provision, ops, logger)))
		logger.Info("Using vCenter inventory", zap.String("url", cfg.VSphere.URL))
	default:
		source = file.NewSource(cfg.Inventory.Path, logger)
		logger.Info("Using file inventory", zap.String("path", cfg.Inventory.Path))
	}

	if cfg.Redis.Enabled {
		if a.cache, err = redis.NewCache(cfg.Redis, logger); err != nil {
			return nil, err
		}
		datacenter := ""
		if cfg.Inventory.Source == config.InventoryVSphere {
			datacenter = cfg.VSphere.Datacenter
		}
		opts = append(opts, planner.WithSnapshotCache(a.cache, datacenter), planner.WithEvents(a.cache))
	}

	a.planner = planner.NewService(cfg.Placement, plugins.NewRegistry(cfg.Compute), runs, source, locker, logger, opts...)

	logger.Info("Backends initialized",
		zap.Bool("postgres", a.db != nil),
		zap.Bool("redis", a.cache != nil),
		zap.Bool("etcd", a.etcd != nil),
		zap.String("engine", cfg.Placement.Engine),
	)
	return a, nil
}

// serverOptions hands the connected backends to the HTTP server, which closes them
// on shutdown.
func (a *app) serverOptions() []server.ServerOption {
	opts := []server.ServerOption{server.WithGatherer(a.registry)}
	if a.db != nil {
		opts = append(opts, server.WithPostgreSQL(a.db))
	}
	if a.cache != nil {
		opts = append(opts, server.WithRedis(a.cache))
	}
	if a.etcd != nil {
		opts = append(opts, server.WithEtcd(a.etcd))
	}
	return opts
}

// Close releases every connected backend.
func (a *app) Close(ctx context.Context) error {
	err := a.logout(ctx)
	if a.etcd != nil {
		err = multierr.Append(err, a.etcd.Close())
	}
	if a.cache != nil {
		err = multierr.Append(err, a.cache.Close())
	}
	if a.db != nil {
		a.db.Close()
	}
	return err
}

func (a *app) logout(ctx context.Context) error {
	if a.vcenter == nil {
		return nil
	}
	if err := a.vcenter.Logout(ctx); err != nil {
		return fmt.Errorf("vcenter logout: %w", err)
	}
	return nil
}
