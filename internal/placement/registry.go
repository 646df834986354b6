package placement

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/limiquantix/vmplacer/internal/domain"
)

// ServiceFactory creates a resource service for one run configuration.
type ServiceFactory func(cfg Config, logger *zap.Logger) (ResourceService, error)

// EngineFactory creates a placement engine for one run configuration.
type EngineFactory func(cfg Config, logger *zap.Logger) (Engine, error)

// Registry resolves configured service and engine names to implementations.
type Registry struct {
	mu       sync.RWMutex
	services map[string]ServiceFactory
	engines  map[string]EngineFactory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		services: make(map[string]ServiceFactory),
		engines:  make(map[string]EngineFactory),
	}
}

// RegisterService registers a resource service factory under name.
func (r *Registry) RegisterService(name string, factory ServiceFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if name == "" || factory == nil {
		return fmt.Errorf("%w: resource service needs a name and a factory", domain.ErrInvalidConfig)
	}
	if _, ok := r.services[name]; ok {
		return fmt.Errorf("%w: resource service %q is already registered", domain.ErrInvalidConfig, name)
	}
	r.services[name] = factory
	return nil
}

// RegisterEngine registers a placement engine factory under name.
func (r *Registry) RegisterEngine(name string, factory EngineFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if name == "" || factory == nil {
		return fmt.Errorf("%w: placement engine needs a name and a factory", domain.ErrInvalidConfig)
	}
	if _, ok := r.engines[name]; ok {
		return fmt.Errorf("%w: placement engine %q is already registered", domain.ErrInvalidConfig, name)
	}
	r.engines[name] = factory
	return nil
}

// ServiceNames returns the registered service names in sorted order.
func (r *Registry) ServiceNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EngineNames returns the registered engine names in sorted order.
func (r *Registry) EngineNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.engines))
	for name := range r.engines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build creates the configured engine and resource services, in configuration order.
func (r *Registry) Build(cfg Config, logger *zap.Logger) (Engine, []ResourceService, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	engineFactory, ok := r.engines[cfg.Engine]
	if !ok {
		return nil, nil, fmt.Errorf("%w: unknown placement engine %q", domain.ErrInvalidConfig, cfg.Engine)
	}
	engine, err := engineFactory(cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create placement engine %q: %w", cfg.Engine, err)
	}
	if engine == nil {
		return nil, nil, fmt.Errorf("%w: placement engine %q can not be created", domain.ErrInvalidConfig, cfg.Engine)
	}

	if len(cfg.Services) == 0 {
		return nil, nil, fmt.Errorf("%w: no resource services configured", domain.ErrInvalidConfig)
	}

	services := make([]ResourceService, 0, len(cfg.Services))
	for _, name := range cfg.Services {
		factory, ok := r.services[name]
		if !ok {
			return nil, nil, fmt.Errorf("%w: unknown resource service %q", domain.ErrInvalidConfig, name)
		}
		svc, err := factory(cfg, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create resource service %q: %w", name, err)
		}
		services = append(services, svc)
	}

	if err := ValidateServices(services); err != nil {
		return nil, nil, err
	}
	return engine, services, nil
}

// ValidateServices rejects nil services, services without a name and duplicate names.
func ValidateServices(services []ResourceService) error {
	var errs error
	seen := make(map[string]bool, len(services))
	for i, svc := range services {
		if svc == nil {
			errs = multierr.Append(errs, fmt.Errorf("%w: registered service %d is nil", domain.ErrInvalidConfig, i))
			continue
		}
		name := svc.Name()
		if name == "" {
			errs = multierr.Append(errs, fmt.Errorf("%w: registered service %d has no name", domain.ErrInvalidConfig, i))
			continue
		}
		if seen[name] {
			errs = multierr.Append(errs, fmt.Errorf("%w: registered service %q already exists", domain.ErrInvalidConfig, name))
			continue
		}
		seen[name] = true
	}
	return errs
}
