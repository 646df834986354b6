// Package planner runs placement requests end to end: it reads the inventory,
// builds the VM groups of a cluster spec, places them and records the run.
package planner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/limiquantix/vmplacer/internal/domain"
	"github.com/limiquantix/vmplacer/internal/groups"
	"github.com/limiquantix/vmplacer/internal/placement"
	"github.com/limiquantix/vmplacer/internal/provision"
)

// ReadyWaiter brings VMs to a ready state.
type ReadyWaiter interface {
	WaitReady(ctx context.Context, vms []*domain.VM) (*provision.Report, error)
}

// Request is one placement request.
type Request struct {
	Spec *groups.ClusterSpec

	// Placed holds VMs planned by an earlier pass that do not exist yet.
	Placed map[string]*domain.VM

	// Refresh bypasses the snapshot cache.
	Refresh bool

	// RequestedBy is the authenticated caller, if any.
	RequestedBy string
}

// Service plans clusters and keeps the history of placement runs.
type Service struct {
	config   placement.Config
	registry *placement.Registry
	runs     domain.RunRepository
	source   domain.SnapshotSource
	locker   domain.Locker

	cache      domain.SnapshotCache
	mu         sync.Mutex
	datacenter string
	latest     domain.LatestRunIndex
	events     domain.EventPublisher
	waiter     ReadyWaiter
	metrics    *placement.Metrics

	now    func() time.Time
	logger *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithSnapshotCache caches the snapshots of datacenter in cache. An empty
// datacenter is learned from the first snapshot read.
func WithSnapshotCache(cache domain.SnapshotCache, datacenter string) Option {
	return func(s *Service) {
		s.cache = cache
		s.datacenter = datacenter
	}
}

// WithLatestIndex records the latest run of every cluster in index.
func WithLatestIndex(index domain.LatestRunIndex) Option {
	return func(s *Service) { s.latest = index }
}

// WithEvents publishes run events through p.
func WithEvents(p domain.EventPublisher) Option {
	return func(s *Service) { s.events = p }
}

// WithWaiter enables WaitReady.
func WithWaiter(w ReadyWaiter) Option {
	return func(s *Service) { s.waiter = w }
}

// WithMetrics records placement metrics in m.
func WithMetrics(m *placement.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService creates a new planner service.
func NewService(
	cfg placement.Config,
	registry *placement.Registry,
	runs domain.RunRepository,
	source domain.SnapshotSource,
	locker domain.Locker,
	logger *zap.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		config:   cfg,
		registry: registry,
		runs:     runs,
		source:   source,
		locker:   locker,
		now:      time.Now,
		logger:   logger.Named("planner"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Plan places the groups of req.Spec on the current inventory and stores the run.
// Only one plan per cluster runs at a time; a concurrent request gets ErrConflict.
// Groups that cannot be placed are reported in the run result, not as an error.
func (s *Service) Plan(ctx context.Context, req Request) (*domain.PlacementRun, error) {
	if req.Spec == nil {
		return nil, fmt.Errorf("%w: cluster spec is required", domain.ErrInvalidArgument)
	}
	if err := req.Spec.Validate(); err != nil {
		return nil, err
	}

	cfg := s.config
	cfg.ClusterName = req.Spec.Name
	cfg.RackToHosts = req.Spec.RackMap(cfg.RackToHosts)

	logger := s.logger.With(zap.String("cluster", cfg.ClusterName), zap.String("engine", cfg.Engine))
	if req.RequestedBy != "" {
		logger = logger.With(zap.String("requested_by", req.RequestedBy))
	}

	builder := groups.NewBuilder(cfg.ClusterName, cfg.RackToHosts, s.logger)
	requested, err := builder.FromSpec(req.Spec)
	if err != nil {
		return nil, err
	}

	lock, err := s.locker.TryLock(ctx, "placement/"+cfg.ClusterName)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lock.Unlock(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("Failed to release placement lock", zap.Error(err))
		}
	}()

	started := s.now()
	dc, err := s.snapshot(ctx, req.Refresh)
	if err != nil {
		return nil, err
	}

	// Inventory-only groups are known to the run but not placed.
	all, existing := builder.FromInventory(dc, requested)
	toPlace := make(map[string]*domain.VMGroup, len(req.Spec.Groups))
	for _, gs := range req.Spec.Groups {
		toPlace[gs.Name] = all[gs.Name]
	}

	engine, services, err := s.registry.Build(cfg, s.logger)
	if err != nil {
		return nil, err
	}
	svc, err := placement.New(cfg, engine, services, s.logger, placement.WithMetrics(s.metrics))
	if err != nil {
		return nil, err
	}

	result, err := svc.ClusterPlacement(ctx, dc, toPlace, existing, req.Placed)
	if err != nil {
		return nil, err
	}

	run := &domain.PlacementRun{
		ID:         uuid.New().String(),
		Cluster:    cfg.ClusterName,
		Datacenter: dc.Name,
		Engine:     engine.Name(),
		StartedAt:  started,
		FinishedAt: s.now(),
		Result:     result,
	}
	if err := s.runs.Save(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to save placement run: %w", err)
	}
	if s.latest != nil {
		if err := s.latest.SetLatest(ctx, run.Cluster, run.ID); err != nil {
			logger.Warn("Failed to update latest run", zap.String("run_id", run.ID), zap.Error(err))
		}
	}
	s.publish(ctx, domain.EventPlacementCompleted, run)

	logger.Info("Placement run recorded",
		zap.String("run_id", run.ID),
		zap.Int("placed_groups", len(result.Placed)),
		zap.Int("failed_groups", result.FailedCount),
	)
	return run, nil
}

// Get returns a run by ID.
func (s *Service) Get(ctx context.Context, id string) (*domain.PlacementRun, error) {
	return s.runs.Get(ctx, id)
}

// List returns runs newest first.
func (s *Service) List(ctx context.Context, filter domain.RunFilter) ([]*domain.PlacementRun, error) {
	return s.runs.List(ctx, filter)
}

// Latest returns the most recent run of cluster.
func (s *Service) Latest(ctx context.Context, cluster string) (*domain.PlacementRun, error) {
	if s.latest != nil {
		id, err := s.latest.Latest(ctx, cluster)
		switch {
		case err == nil:
			return s.runs.Get(ctx, id)
		case !errors.Is(err, domain.ErrNotFound):
			s.logger.Warn("Latest run index unavailable", zap.String("cluster", cluster), zap.Error(err))
		}
	}

	runs, err := s.runs.List(ctx, domain.RunFilter{Cluster: cluster, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, domain.ErrNotFound
	}
	return runs[0], nil
}

// WaitReady powers on the VMs of a run once they exist and waits for their IP
// addresses. VMs of the run missing from the inventory are reported as failed.
func (s *Service) WaitReady(ctx context.Context, runID string) (*provision.Report, error) {
	if s.waiter == nil {
		return nil, fmt.Errorf("%w: no vm operator configured", domain.ErrUnavailable)
	}
	run, err := s.runs.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	dc, err := s.snapshot(ctx, true)
	if err != nil {
		return nil, err
	}

	missing := map[string]string{}
	vms := []*domain.VM{}
	for _, a := range assignmentsOf(run) {
		vm, canHA, ok := findVM(dc, a.VM)
		if !ok {
			missing[a.VM] = "vm not found in inventory"
			continue
		}
		vm = vm.Clone()
		vm.Group = a.Group
		vm.HAEnabled = a.Build.Spec.HA != domain.HAOff
		vm.CanHA = canHA
		vms = append(vms, vm)
	}

	report, err := s.waiter.WaitReady(ctx, vms)
	if report == nil {
		return nil, err
	}
	for name, reason := range missing {
		report.Failed[name] = reason
	}
	if err != nil {
		return report, err
	}

	s.publish(ctx, domain.EventPlacementReady, run)
	s.logger.Info("Placement run ready",
		zap.String("run_id", run.ID),
		zap.Int("done", len(report.Done)),
		zap.Int("failed", len(report.Failed)),
	)
	return report, nil
}

func (s *Service) snapshot(ctx context.Context, refresh bool) (*domain.Datacenter, error) {
	key := s.cacheKey()
	if s.cache != nil && key != "" && !refresh {
		dc, err := s.cache.GetSnapshot(ctx, key)
		if err == nil {
			return dc, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.Warn("Snapshot cache read failed", zap.Error(err))
		}
	}

	dc, err := s.source.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read inventory: %w", err)
	}
	if s.cache != nil {
		if err := s.cache.SetSnapshot(ctx, dc); err != nil {
			s.logger.Warn("Snapshot cache write failed", zap.Error(err))
		}
		if key == "" {
			s.mu.Lock()
			s.datacenter = dc.Name
			s.mu.Unlock()
		}
	}
	return dc, nil
}

func (s *Service) cacheKey() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.datacenter
}

func (s *Service) publish(ctx context.Context, eventType string, run *domain.PlacementRun) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishRunEvent(ctx, eventType, run); err != nil {
		s.logger.Warn("Failed to publish run event",
			zap.String("event", eventType),
			zap.String("run_id", run.ID),
			zap.Error(err),
		)
	}
}

func assignmentsOf(run *domain.PlacementRun) []domain.Assignment {
	if run.Result == nil {
		return nil
	}
	var out []domain.Assignment
	for _, g := range run.Result.Placed {
		out = append(out, g.Assignments...)
	}
	return out
}

// findVM looks a VM up by name and reports whether its cluster has HA.
func findVM(dc *domain.Datacenter, name string) (*domain.VM, bool, bool) {
	for _, c := range dc.Clusters {
		for _, h := range c.Hosts {
			if vm, ok := h.VMs[name]; ok {
				return vm, c.HAEnabled, true
			}
		}
	}
	return nil, false, false
}
