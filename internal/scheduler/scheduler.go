package scheduler

import (
	"sort"

	"github.com/samber/lo"

	"github.com/limiquantix/vmplacer/internal/domain"
	"github.com/limiquantix/vmplacer/internal/placement"
)

// specOptions returns the deployment-wide values used to build VM specs for a run.
func specOptions(run placement.RunContext) domain.SpecOptions {
	opts := domain.SpecOptions{SystemDiskSizeMiB: run.Config.SystemDiskSizeMiB}
	if run.Datacenter != nil {
		opts.HasLocalDatastores = run.Datacenter.HasLocalDatastores()
	}
	return opts
}

// identityGroups returns one virtual group per VM group, in name order.
func identityGroups(groups map[string]*domain.VMGroup) []*domain.VirtualGroup {
	names := lo.Keys(groups)
	sort.Strings(names)
	return lo.Map(names, func(name string, _ int) *domain.VirtualGroup {
		return domain.NewVirtualGroup(groups[name])
	})
}

// decompose splits the missing instances of every group of vg into virtual nodes of
// instance_per_host VMs (default 1). Instances already existing or placed are skipped.
func decompose(
	cluster string,
	vg *domain.VirtualGroup,
	existing, placed map[string]*domain.VM,
	opts domain.SpecOptions,
) []domain.VirtualNode {
	var nodes []domain.VirtualNode
	for _, g := range vg.Groups {
		base := g.ToSpec(opts)

		var specs []domain.VMSpec
		for i := 0; i < g.Instances; i++ {
			name := domain.FormatVMName(cluster, g.Name, i)
			if _, ok := existing[name]; ok {
				continue
			}
			if _, ok := placed[name]; ok {
				continue
			}
			spec := base
			spec.Name, spec.Index = name, i
			specs = append(specs, spec)
		}

		perHost := g.InstancePerHost()
		if perHost <= 0 {
			perHost = 1
		}
		for _, chunk := range lo.Chunk(specs, perHost) {
			nodes = append(nodes, domain.VirtualNode{Specs: chunk})
		}
	}
	return nodes
}
