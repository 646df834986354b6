package placement

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/limiquantix/vmplacer/internal/domain"
)

// Service is the placement orchestrator. It is not safe for concurrent runs: the
// resource services it drives keep mutable per-run state.
type Service struct {
	config   Config
	engine   Engine
	services []ResourceService
	metrics  *Metrics
	logger   *zap.Logger
}

// Option configures the placement service.
type Option func(*Service)

// WithMetrics records placement metrics.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// New creates a placement service. Services are invoked in the given order.
func New(cfg Config, engine Engine, services []ResourceService, logger *zap.Logger, opts ...Option) (*Service, error) {
	if engine == nil {
		return nil, fmt.Errorf("%w: placement engine is nil", domain.ErrInvalidConfig)
	}
	if len(services) == 0 {
		return nil, fmt.Errorf("%w: at least one resource service is required", domain.ErrInvalidConfig)
	}
	if err := ValidateServices(services); err != nil {
		return nil, err
	}

	s := &Service{
		config:   cfg,
		engine:   engine,
		services: append([]ResourceService(nil), services...),
		logger:   logger.With(zap.String("component", "placement")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Engine returns the active placement engine.
func (s *Service) Engine() Engine {
	return s.engine
}

// ServiceNames returns the resource service names in invocation order.
func (s *Service) ServiceNames() []string {
	names := make([]string, len(s.services))
	for i, svc := range s.services {
		names[i] = svc.Name()
	}
	return names
}

// ClusterPlacement places every requested group. A group that cannot be placed is
// recorded in the result and never stops the other groups. An error is returned only
// when the run could not start or ctx was cancelled.
func (s *Service) ClusterPlacement(
	ctx context.Context,
	dc *domain.Datacenter,
	groups map[string]*domain.VMGroup,
	existing, placed map[string]*domain.VM,
) (*domain.PlacementResult, error) {
	start := time.Now()
	defer s.metrics.observeRun(start)

	result := domain.NewPlacementResult()

	run := RunContext{Datacenter: dc, Groups: groups, Config: s.config}
	for _, svc := range s.services {
		if err := svc.Init(ctx, run); err != nil {
			return nil, fmt.Errorf("failed to initialize resource service %s: %w", svc.Name(), err)
		}
	}
	if err := s.engine.Init(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to initialize placement engine %s: %w", s.engine.Name(), err)
	}

	placedView := make(map[string]*domain.VM, len(placed))
	for name, vm := range placed {
		placedView[name] = vm
	}

	virtualGroups := s.engine.VirtualGroups(groups)
	s.logger.Info("Starting placement",
		zap.String("engine", s.engine.Name()),
		zap.Strings("services", s.ServiceNames()),
		zap.Int("virtual_groups", len(virtualGroups)),
	)

	for _, vg := range virtualGroups {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		logger := s.logger.With(zap.String("virtual_group", vg.Name))
		assignments, err := s.placeVirtualGroup(ctx, dc, vg, existing, placedView, logger)
		if err != nil {
			result.FailedCount++
			result.Errors = append(result.Errors, fmt.Sprintf("failed to place vm group %s: %v", vg.Name, err))
			s.metrics.groupFailed(failureReason(err))
			logger.Error("Failed to place virtual group",
				zap.Error(err),
				zap.Int("failed_total", result.FailedCount),
			)
			continue
		}

		for _, a := range assignments {
			placedView[a.VM] = &domain.VM{
				Name:      a.VM,
				Cluster:   s.config.ClusterName,
				Group:     a.Group,
				Index:     a.Build.Spec.Index,
				Host:      a.Host,
				CPU:       a.Build.CPU,
				MemoryMiB: a.Build.MemoryMiB,
				Status:    domain.VMStatePlaced,
				Action:    domain.VMActionCreate,
			}
		}
		result.Placed = append(result.Placed, domain.GroupPlacement{Group: vg.Name, Assignments: assignments})
		s.metrics.placed(len(assignments))
		logger.Info("Placed virtual group", zap.Int("vms", len(assignments)))
	}

	s.logger.Info("Placement finished",
		zap.Int("placed_groups", len(result.Placed)),
		zap.Int("failed_groups", result.FailedCount),
		zap.Duration("duration", time.Since(start)),
	)
	return result, nil
}

// placeVirtualGroup places every virtual node of vg. When any node fails, the commits
// of the nodes placed before it are released and the whole group fails.
func (s *Service) placeVirtualGroup(
	ctx context.Context,
	dc *domain.Datacenter,
	vg *domain.VirtualGroup,
	existing, placed map[string]*domain.VM,
	logger *zap.Logger,
) ([]domain.Assignment, error) {
	pools := ResolvePools(dc, vg)
	if len(pools) == 0 {
		return nil, fmt.Errorf("%w %s", domain.ErrNoResourcePools, vg.Name)
	}
	hosts := CandidateHosts(dc, pools)
	if s.config.Debug {
		logger.Debug("Resolved resource pools",
			zap.Int("pools", len(pools)),
			zap.Strings("hosts", hosts),
		)
	}

	nodes, err := s.engine.VirtualNodes(vg, existing, placed)
	if err != nil {
		return nil, fmt.Errorf("failed to decompose virtual group: %w", err)
	}

	var (
		assignments []domain.Assignment
		txs         []*commitTx
	)
	for _, node := range nodes {
		builds := s.buildVMs(node)

		tx, err := s.placeNode(ctx, node, builds, hosts, logger)
		if err != nil {
			s.releaseGroup(ctx, txs, logger)
			return nil, err
		}
		txs = append(txs, tx)

		s.engine.AssignHost(node.Specs, tx.host)
		logger.Debug("Assigned virtual node",
			zap.Strings("vms", node.Names()),
			zap.String("host", tx.host),
		)
		for _, b := range builds {
			assignments = append(assignments, domain.Assignment{
				VM:    b.Name(),
				Group: b.Spec.Group,
				Host:  tx.host,
				Build: b,
			})
		}
	}
	return assignments, nil
}

// buildVMs folds every service's contribution into one build per VM, in service order.
func (s *Service) buildVMs(node domain.VirtualNode) []domain.VMBuild {
	builds := make([]domain.VMBuild, len(node.Specs))
	for i, spec := range node.Specs {
		build := domain.VMBuild{Spec: spec}
		for _, svc := range s.services {
			build = svc.Enrich(spec, build)
		}
		builds[i] = build
	}
	return builds
}

// placeNode filters and scores hosts for one virtual node, then tries the engine's
// choices until every service commits or no candidate is left.
func (s *Service) placeNode(
	ctx context.Context,
	node domain.VirtualNode,
	builds []domain.VMBuild,
	hosts []string,
	logger *zap.Logger,
) (*commitTx, error) {
	candidates := hosts
	for _, svc := range s.services {
		filtered, err := svc.CheckCapacity(ctx, builds, candidates)
		if err != nil {
			return nil, fmt.Errorf("service %s capacity check failed: %w", svc.Name(), err)
		}
		if len(filtered) == 0 {
			return nil, fmt.Errorf("%w: service %s rejected all %d hosts for vms %v",
				domain.ErrNoMatchingHosts, svc.Name(), len(candidates), node.Names())
		}
		candidates = filtered
	}

	table := make(ScoreTable, len(s.services))
	for _, svc := range s.services {
		scores, err := svc.EvaluateHosts(ctx, builds, candidates)
		if err != nil {
			return nil, fmt.Errorf("service %s evaluation failed: %w", svc.Name(), err)
		}
		table[svc.Name()] = scores
	}

	byHost := table.Transpose()
	for host, scores := range byHost {
		if len(scores) != len(s.services) {
			delete(byHost, host)
		}
	}
	if s.config.Debug {
		logger.Debug("Host scores", zap.Strings("hosts", SortedHosts(byHost)), zap.Any("scores", byHost))
	}

	for len(byHost) > 0 {
		host, ok := s.engine.SelectHost(node.Specs, byHost)
		if !ok {
			return nil, fmt.Errorf("%w: engine selected no host for vms %v", domain.ErrNoSuitableHost, node.Names())
		}
		scores, known := byHost[host]
		if !known {
			return nil, fmt.Errorf("%w: engine selected unknown host %s", domain.ErrNoSuitableHost, host)
		}

		tx := newCommitTx(host, logger)
		var failed ResourceService
		var commitErr error
		for _, svc := range s.services {
			if err := tx.Commit(ctx, svc, scores[svc.Name()]); err != nil {
				failed, commitErr = svc, err
				break
			}
		}
		if commitErr == nil {
			return tx, nil
		}

		logger.Debug("VM commit failed, trying another host",
			zap.String("host", host),
			zap.Strings("rolled_back", tx.Committed()),
			zap.Error(commitErr),
		)
		s.metrics.rolledBack(failed.Name())
		if err := tx.Rollback(ctx); err != nil {
			logger.Error("Rollback incomplete", zap.String("host", host), zap.Error(err))
		}
		delete(byHost, host)
	}

	return nil, fmt.Errorf("%w: every candidate host failed to commit vms %v", domain.ErrNoSuitableHost, node.Names())
}

// releaseGroup discommits the nodes of a failed group, last node first.
func (s *Service) releaseGroup(ctx context.Context, txs []*commitTx, logger *zap.Logger) {
	for i := len(txs) - 1; i >= 0; i-- {
		if err := txs[i].Rollback(ctx); err != nil {
			logger.Error("Failed to release virtual node", zap.String("host", txs[i].host), zap.Error(err))
		}
	}
}

// ResolvePools returns the union of the resource pools referenced by the groups of vg
// that exist in dc.
func ResolvePools(dc *domain.Datacenter, vg *domain.VirtualGroup) []*domain.ResourcePool {
	var pools []*domain.ResourcePool
	seen := make(map[string]bool)
	for _, g := range vg.Groups {
		clusters := make([]string, 0, len(g.ResourcePools))
		for cluster := range g.ResourcePools {
			clusters = append(clusters, cluster)
		}
		sort.Strings(clusters)

		for _, cluster := range clusters {
			for _, name := range g.ResourcePools[cluster] {
				rp, ok := dc.ResourcePool(cluster, name)
				if !ok || seen[rp.Key()] {
					continue
				}
				seen[rp.Key()] = true
				pools = append(pools, rp)
			}
		}
	}
	return pools
}

// CandidateHosts returns the sorted union of the hosts of the clusters owning pools.
func CandidateHosts(dc *domain.Datacenter, pools []*domain.ResourcePool) []string {
	seen := make(map[string]bool)
	var hosts []string
	for _, rp := range pools {
		cluster, ok := dc.Clusters[rp.Cluster]
		if !ok {
			continue
		}
		for _, host := range cluster.HostNames() {
			if !seen[host] {
				seen[host] = true
				hosts = append(hosts, host)
			}
		}
	}
	sort.Strings(hosts)
	return hosts
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrNoResourcePools):
		return ReasonNoResourcePools
	case errors.Is(err, domain.ErrNoMatchingHosts):
		return ReasonNoMatchingHosts
	case errors.Is(err, domain.ErrNoSuitableHost):
		return ReasonNoSuitableHost
	default:
		return ReasonError
	}
}
