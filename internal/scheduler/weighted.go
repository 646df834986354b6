package scheduler

import (
	"context"
	"sort"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/limiquantix/vmplacer/internal/domain"
	"github.com/limiquantix/vmplacer/internal/placement"
)

// Weighted selects the host with the best combined score. Each service's scores are
// normalised by that service's best host and summed, then adjusted by the strategy.
// Rack policies and STRICT associations restrict the candidates. Ties go to the
// lexicographically smallest host name.
type Weighted struct {
	config   placement.Config
	strategy string
	opts     domain.SpecOptions
	logger   *zap.Logger

	hostRack   map[string]string
	groupHosts map[string]map[string]int // group -> host -> VM count
	groupRacks map[string]map[string]int // group -> rack -> VM count
	recorded   map[string]bool           // VM names already counted
}

// scoreEpsilon absorbs float rounding when comparing combined scores.
const scoreEpsilon = 1e-9

var _ placement.Engine = (*Weighted)(nil)

// NewWeighted creates a weighted engine.
func NewWeighted(cfg placement.Config, logger *zap.Logger) (*Weighted, error) {
	strategy, err := ParseStrategy(cfg.Strategy)
	if err != nil {
		return nil, err
	}
	return &Weighted{
		config:   cfg,
		strategy: strategy,
		logger:   logger.With(zap.String("component", "scheduler"), zap.String("engine", placement.EngineWeighted)),
	}, nil
}

// Name returns the engine name.
func (w *Weighted) Name() string {
	return placement.EngineWeighted
}

// Init builds the rack map and records the VMs already running in the datacenter.
func (w *Weighted) Init(ctx context.Context, run placement.RunContext) error {
	w.opts = specOptions(run)
	w.hostRack = make(map[string]string)
	w.groupHosts = make(map[string]map[string]int)
	w.groupRacks = make(map[string]map[string]int)
	w.recorded = make(map[string]bool)

	for rack, hosts := range w.config.RackToHosts {
		for _, h := range hosts {
			w.hostRack[h] = rack
		}
	}

	if run.Datacenter == nil {
		return nil
	}
	for _, h := range run.Datacenter.Hosts() {
		if h.Rack != "" {
			if _, ok := w.hostRack[h.Name]; !ok {
				w.hostRack[h.Name] = h.Rack
			}
		}
		for _, name := range h.VMNames() {
			parsed, ok := domain.ParseVMName(name)
			if !ok || parsed.Cluster != w.config.ClusterName {
				continue
			}
			w.recordVM(name, parsed.Group, h.Name)
		}
	}
	return nil
}

// VirtualGroups orders groups so that a referenced group is placed before the groups
// associated with it. Otherwise groups are placed in name order.
func (w *Weighted) VirtualGroups(groups map[string]*domain.VMGroup) []*domain.VirtualGroup {
	names := lo.Keys(groups)
	sort.Strings(names)

	ordered := make([]*domain.VirtualGroup, 0, len(names))
	done := make(map[string]bool, len(names))
	for len(ordered) < len(names) {
		progress := false
		for _, name := range names {
			if done[name] {
				continue
			}
			ref := groups[name].ReferredGroup()
			if _, requested := groups[ref]; ref != "" && ref != name && requested && !done[ref] {
				continue
			}
			done[name] = true
			ordered = append(ordered, domain.NewVirtualGroup(groups[name]))
			progress = true
		}
		if !progress {
			// Association cycle: fall back to name order for the rest.
			for _, name := range names {
				if !done[name] {
					done[name] = true
					ordered = append(ordered, domain.NewVirtualGroup(groups[name]))
				}
			}
		}
	}
	return ordered
}

// VirtualNodes splits the missing instances into nodes of instance_per_host VMs. Placed
// VMs not counted yet are recorded as association, rack and strategy hints.
func (w *Weighted) VirtualNodes(vg *domain.VirtualGroup, existing, placed map[string]*domain.VM) ([]domain.VirtualNode, error) {
	for name, vm := range placed {
		if vm.Host == "" || vm.Group == "" {
			continue
		}
		w.recordVM(name, vm.Group, vm.Host)
	}
	return decompose(w.config.ClusterName, vg, existing, placed, w.opts), nil
}

// SelectHost returns the candidate with the highest combined score.
func (w *Weighted) SelectHost(specs []domain.VMSpec, scores map[string]map[string]placement.Score) (string, bool) {
	if len(specs) == 0 {
		return "", false
	}
	spec := specs[0]

	candidates := w.filterPerHost(spec, len(specs), placement.SortedHosts(scores))
	candidates = w.filterAssociation(spec, w.filterRacks(spec, candidates))
	if len(candidates) == 0 {
		w.logger.Debug("No host satisfies placement policies", zap.String("group", spec.Group))
		return "", false
	}

	services := serviceNames(scores)
	maxima := serviceMaxima(services, scores)

	best, bestScore := "", 0.0
	for _, host := range candidates {
		score := w.combine(spec, host, scores[host], services, maxima)
		// candidates are sorted, so a tie keeps the smallest name
		if best == "" || score > bestScore+scoreEpsilon {
			best, bestScore = host, score
		}
	}

	w.logger.Debug("Selected host",
		zap.String("group", spec.Group),
		zap.String("host", best),
		zap.Float64("score", bestScore),
		zap.Int("candidates", len(candidates)),
	)
	return best, true
}

// AssignHost records the VMs of the node on host.
func (w *Weighted) AssignHost(specs []domain.VMSpec, host string) {
	for _, spec := range specs {
		w.recordVM(spec.Name, spec.Group, host)
	}
}

// recordVM counts a named VM once. Unnamed VMs are always counted.
func (w *Weighted) recordVM(name, group, host string) {
	if name != "" {
		if w.recorded[name] {
			return
		}
		w.recorded[name] = true
	}
	w.record(group, host, 1)
}

func (w *Weighted) record(group, host string, n int) {
	if w.groupHosts[group] == nil {
		w.groupHosts[group] = make(map[string]int)
	}
	w.groupHosts[group][host] += n

	if rack, ok := w.hostRack[host]; ok {
		if w.groupRacks[group] == nil {
			w.groupRacks[group] = make(map[string]int)
		}
		w.groupRacks[group][rack] += n
	}
}

// filterRacks applies the group's rack policy. samerack keeps the hosts of the single
// rack; roundrobin keeps the hosts of the least used rack that has a candidate.
func (w *Weighted) filterRacks(spec domain.VMSpec, hosts []string) []string {
	policy := spec.RackPolicy
	if policy == nil || len(policy.Racks) == 0 {
		return hosts
	}

	inRack := func(rack string) []string {
		return lo.Filter(hosts, func(h string, _ int) bool { return w.hostRack[h] == rack })
	}

	if policy.Type == domain.RackPolicySameRack {
		return inRack(policy.Racks[0])
	}

	racks := append([]string(nil), policy.Racks...)
	sort.SliceStable(racks, func(i, j int) bool {
		return w.groupRacks[spec.Group][racks[i]] < w.groupRacks[spec.Group][racks[j]]
	})
	for _, rack := range racks {
		if matched := inRack(rack); len(matched) > 0 {
			return matched
		}
	}
	return nil
}

// filterPerHost drops hosts that cannot take n more VMs of the group without exceeding
// instance_per_host.
func (w *Weighted) filterPerHost(spec domain.VMSpec, n int, hosts []string) []string {
	if spec.InstancePerHost <= 0 {
		return hosts
	}
	return lo.Filter(hosts, func(h string, _ int) bool {
		return w.groupHosts[spec.Group][h]+n <= spec.InstancePerHost
	})
}

// filterAssociation keeps only hosts of the referenced group for STRICT associations.
func (w *Weighted) filterAssociation(spec domain.VMSpec, hosts []string) []string {
	a := spec.Association
	if a == nil || a.Type != domain.AssociationStrict {
		return hosts
	}
	refHosts := w.groupHosts[a.Reference]
	return lo.Filter(hosts, func(h string, _ int) bool { return refHosts[h] > 0 })
}

// combine sums the normalised service scores of host in service name order, then
// applies the strategy and association adjustments.
func (w *Weighted) combine(
	spec domain.VMSpec,
	host string,
	byService map[string]placement.Score,
	services []string,
	maxima map[string]float64,
) float64 {
	var total float64
	for _, service := range services {
		score, ok := byService[service]
		if !ok {
			continue
		}
		if top := maxima[service]; top > 0 {
			total += score.Value / top * maxServiceScore
		}
	}

	count := float64(w.groupHosts[spec.Group][host])
	switch w.strategy {
	case StrategySpread:
		total -= count * spreadPenalty
	case StrategyPack:
		total += min(count*packBonus, maxPackBonus)
	}

	if a := spec.Association; a != nil && a.Type == domain.AssociationWeak && w.groupHosts[a.Reference][host] > 0 {
		total += associationBonus
	}
	return total
}

// serviceNames returns every service scoring any host, sorted.
func serviceNames(scores map[string]map[string]placement.Score) []string {
	seen := make(map[string]struct{})
	for _, byService := range scores {
		for service := range byService {
			seen[service] = struct{}{}
		}
	}
	names := lo.Keys(seen)
	sort.Strings(names)
	return names
}

// serviceMaxima returns the best score of each service over all hosts.
func serviceMaxima(services []string, scores map[string]map[string]placement.Score) map[string]float64 {
	maxima := make(map[string]float64, len(services))
	for _, service := range services {
		for _, byService := range scores {
			if s, ok := byService[service]; ok && s.Value > maxima[service] {
				maxima[service] = s.Value
			}
		}
	}
	return maxima
}
