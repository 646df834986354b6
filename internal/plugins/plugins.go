// Package plugins wires the built-in resource services and placement engines into a
// placement registry.
package plugins

import (
	"go.uber.org/zap"

	"github.com/limiquantix/vmplacer/internal/placement"
	"github.com/limiquantix/vmplacer/internal/resources/compute"
	"github.com/limiquantix/vmplacer/internal/resources/network"
	"github.com/limiquantix/vmplacer/internal/resources/pool"
	"github.com/limiquantix/vmplacer/internal/resources/storage"
	"github.com/limiquantix/vmplacer/internal/scheduler"
)

// NewRegistry returns a registry with every built-in service and engine.
func NewRegistry(computeCfg compute.Config) *placement.Registry {
	r := placement.NewRegistry()

	services := map[string]placement.ServiceFactory{
		placement.ServiceCompute: func(_ placement.Config, logger *zap.Logger) (placement.ResourceService, error) {
			return compute.New(computeCfg, logger), nil
		},
		placement.ServiceResourcePool: func(_ placement.Config, logger *zap.Logger) (placement.ResourceService, error) {
			return pool.New(logger), nil
		},
		placement.ServiceStorage: func(_ placement.Config, logger *zap.Logger) (placement.ResourceService, error) {
			return storage.New(logger), nil
		},
		placement.ServiceNetwork: func(_ placement.Config, logger *zap.Logger) (placement.ResourceService, error) {
			return network.New(logger), nil
		},
	}
	for name, factory := range services {
		// names are distinct constants
		_ = r.RegisterService(name, factory)
	}

	_ = r.RegisterEngine(placement.EngineRoundRobin, func(cfg placement.Config, logger *zap.Logger) (placement.Engine, error) {
		return scheduler.NewRoundRobin(cfg, logger), nil
	})
	_ = r.RegisterEngine(placement.EngineWeighted, func(cfg placement.Config, logger *zap.Logger) (placement.Engine, error) {
		engine, err := scheduler.NewWeighted(cfg, logger)
		if err != nil {
			return nil, err
		}
		return engine, nil
	})

	return r
}
