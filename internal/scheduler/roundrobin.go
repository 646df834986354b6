package scheduler

import (
	"context"

	"go.uber.org/zap"

	"github.com/limiquantix/vmplacer/internal/domain"
	"github.com/limiquantix/vmplacer/internal/placement"
)

// RoundRobin cycles the candidate hosts in name order, starting after the host it
// assigned last. It ignores scores and placement policies.
type RoundRobin struct {
	config placement.Config
	opts   domain.SpecOptions
	last   string
	logger *zap.Logger
}

var _ placement.Engine = (*RoundRobin)(nil)

// NewRoundRobin creates a round-robin engine.
func NewRoundRobin(cfg placement.Config, logger *zap.Logger) *RoundRobin {
	return &RoundRobin{
		config: cfg,
		logger: logger.With(zap.String("component", "scheduler"), zap.String("engine", placement.EngineRoundRobin)),
	}
}

// Name returns the engine name.
func (r *RoundRobin) Name() string {
	return placement.EngineRoundRobin
}

// Init resets the cursor.
func (r *RoundRobin) Init(ctx context.Context, run placement.RunContext) error {
	r.last = ""
	r.opts = specOptions(run)
	return nil
}

// VirtualGroups returns one virtual group per VM group, in name order.
func (r *RoundRobin) VirtualGroups(groups map[string]*domain.VMGroup) []*domain.VirtualGroup {
	return identityGroups(groups)
}

// VirtualNodes splits the missing instances into nodes of instance_per_host VMs.
func (r *RoundRobin) VirtualNodes(vg *domain.VirtualGroup, existing, placed map[string]*domain.VM) ([]domain.VirtualNode, error) {
	return decompose(r.config.ClusterName, vg, existing, placed, r.opts), nil
}

// SelectHost returns the first host after the last assigned one, wrapping around.
func (r *RoundRobin) SelectHost(specs []domain.VMSpec, scores map[string]map[string]placement.Score) (string, bool) {
	hosts := placement.SortedHosts(scores)
	if len(hosts) == 0 {
		return "", false
	}
	for _, h := range hosts {
		if h > r.last {
			return h, true
		}
	}
	return hosts[0], true
}

// AssignHost moves the cursor.
func (r *RoundRobin) AssignHost(specs []domain.VMSpec, host string) {
	r.last = host
	r.logger.Debug("Assigned host", zap.String("host", host), zap.Int("vms", len(specs)))
}
