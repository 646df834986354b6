package groups

import (
	"fmt"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/limiquantix/vmplacer/internal/domain"
)

// Builder creates VM groups for one cluster.
type Builder struct {
	cluster     string
	rackToHosts map[string][]string
	logger      *zap.Logger
}

// NewBuilder creates a builder for cluster. rackToHosts is the known rack topology.
func NewBuilder(cluster string, rackToHosts map[string][]string, logger *zap.Logger) *Builder {
	return &Builder{
		cluster:     cluster,
		rackToHosts: rackToHosts,
		logger:      logger.With(zap.String("component", "groups"), zap.String("cluster", cluster)),
	}
}

// FromSpec builds the requested groups of spec. Any invalid value fails the whole
// spec with domain.ErrInvalidConfig.
func (b *Builder) FromSpec(spec *ClusterSpec) (map[string]*domain.VMGroup, error) {
	if spec.TemplateID != "" && !domain.ValidTemplateID(spec.TemplateID) {
		return nil, fmt.Errorf("%w: template_id %q should be a vm mob id (like vm-1234)", domain.ErrInvalidConfig, spec.TemplateID)
	}

	clusterPools := poolsByCluster(spec.VCClusters)
	network := networkResource(spec.Networking)

	groups := make(map[string]*domain.VMGroup, len(spec.Groups))
	for _, gs := range spec.Groups {
		g, err := b.group(spec, gs, clusterPools, network)
		if err != nil {
			return nil, fmt.Errorf("group %s: %w", gs.Name, err)
		}
		groups[g.Name] = g
	}
	return groups, nil
}

func (b *Builder) group(
	spec *ClusterSpec,
	gs GroupSpec,
	clusterPools map[string][]string,
	network domain.NetworkResource,
) (*domain.VMGroup, error) {
	g := domain.NewVMGroup(gs.Name)
	g.Roles = gs.Roles
	g.Instances = gs.InstanceNum

	templateID := lo.CoalesceOrEmpty(gs.TemplateID, spec.TemplateID)
	if !domain.ValidTemplateID(templateID) {
		return nil, fmt.Errorf("%w: template_id %q should be a vm mob id (like vm-1234)", domain.ErrInvalidConfig, templateID)
	}

	ha, err := domain.ParseHAMode(gs.HA)
	if err != nil {
		return nil, err
	}

	diskType := domain.ParseDiskType(gs.Storage.Type)
	exprs := gs.Storage.NamePattern
	if len(exprs) == 0 {
		exprs = datastorePattern(spec, diskType)
	}
	if len(exprs) == 0 {
		exprs = []string{"*"}
	}
	patterns, err := domain.CompilePatterns(WildcardsToRegex(exprs))
	if err != nil {
		return nil, err
	}

	g.Requirement = domain.ResourceRequirement{
		CPU:          lo.Ternary(gs.CPU > 0, gs.CPU, domain.DefaultCPU),
		MemoryMiB:    lo.Ternary(gs.Memory > 0, gs.Memory, domain.DefaultMemoryMiB),
		DiskSizeMiB:  gs.Storage.Size * domain.DiskSizeUnit,
		DiskType:     diskType,
		DiskPatterns: patterns,
		DiskBisect:   gs.Storage.Bisect,
		TemplateID:   templateID,
		HA:           ha,
		FolderPath:   gs.FolderPath,
		Elastic:      domain.IsElastic(gs.Roles),
	}

	if len(gs.VCClusters) > 0 {
		g.ResourcePools = poolsByCluster(gs.VCClusters)
	} else {
		g.ResourcePools = clusterPools
	}

	if gs.Policies != nil {
		policy, err := b.policy(gs.Policies)
		if err != nil {
			return nil, err
		}
		g.Policy = policy
	}

	g.Network = network
	return g, nil
}

func (b *Builder) policy(ps *PolicySpec) (*domain.PlacementPolicy, error) {
	policy := &domain.PlacementPolicy{InstancePerHost: ps.InstancePerHost}
	for _, a := range ps.GroupAssociations {
		policy.Associations = append(policy.Associations, domain.GroupAssociation{
			Reference: a.Reference,
			Type:      lo.Ternary(a.Type == "", domain.AssociationWeak, domain.AssociationType(a.Type)),
		})
	}
	if len(policy.Associations) > 1 {
		b.logger.Warn("Only the first group association is used", zap.Int("associations", len(policy.Associations)))
	}

	if len(b.rackToHosts) > 0 && ps.GroupRacks != nil {
		racks, unknown, err := domain.NewRackPolicy(ps.GroupRacks.Type, ps.GroupRacks.Racks, b.rackToHosts)
		if len(unknown) > 0 {
			b.logger.Warn("Racks not in cluster rack info", zap.Strings("racks", unknown))
		}
		if err != nil {
			return nil, err
		}
		policy.Racks = racks
	}
	return policy, nil
}

// FromInventory adds every VM of the cluster found in dc to the group of the same
// name, creating groups that are not in groups. Discovered VMs are marked ready and
// returned keyed by name. Running it again on the same snapshot changes nothing.
func (b *Builder) FromInventory(dc *domain.Datacenter, groups map[string]*domain.VMGroup) (map[string]*domain.VMGroup, map[string]*domain.VM) {
	if groups == nil {
		groups = make(map[string]*domain.VMGroup)
	}
	existing := make(map[string]*domain.VM)
	if dc == nil {
		return groups, existing
	}

	for _, clusterName := range dc.ClusterNames() {
		cluster := dc.Clusters[clusterName]
		for _, hostName := range cluster.HostNames() {
			host := cluster.Hosts[hostName]
			for _, vmName := range host.VMNames() {
				parsed, ok := domain.ParseVMName(vmName)
				if !ok || parsed.Cluster != b.cluster {
					continue
				}

				g, ok := groups[parsed.Group]
				if !ok {
					g = domain.NewVMGroup(parsed.Group)
					groups[parsed.Group] = g
				}

				vm := host.VMs[vmName]
				vm.Cluster = parsed.Cluster
				vm.Group = parsed.Group
				vm.Index = parsed.Index
				vm.Status = domain.VMStateReady
				vm.Action = domain.VMActionStart

				if !g.AddVM(vm) {
					b.logger.Debug("VM already in group", zap.String("vm", vmName), zap.String("group", g.Name))
				}
				existing[vmName] = vm
			}
		}
	}

	b.logger.Debug("Reconciled existing VMs", zap.Int("vms", len(existing)), zap.Int("groups", len(groups)))
	return groups, existing
}

func poolsByCluster(clusters []VCCluster) map[string][]string {
	out := make(map[string][]string, len(clusters))
	for _, c := range clusters {
		out[c.Name] = append(out[c.Name], c.ResourcePools...)
	}
	return out
}

func networkResource(specs []NetworkSpec) domain.NetworkResource {
	var res domain.NetworkResource
	for _, n := range specs {
		typ := domain.NetworkTypeDHCP
		if n.Type == string(domain.NetworkTypeStatic) {
			typ = domain.NetworkTypeStatic
		}
		res.PortGroups = append(res.PortGroups, n.PortGroup)
		res.Networks = append(res.Networks, domain.Network{PortGroup: n.PortGroup, Type: typ, IPRanges: n.IP})
	}
	return res
}

func datastorePattern(spec *ClusterSpec, diskType domain.DiskType) []string {
	switch diskType {
	case domain.DiskTypeShared:
		return spec.SharedDatastorePattern
	case domain.DiskTypeLocal:
		return spec.LocalDatastorePattern
	default:
		return nil
	}
}
