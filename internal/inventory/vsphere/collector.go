// Package vsphere reads infrastructure snapshots from vCenter and drives the VM
// operations needed once a placement has been provisioned.
package vsphere

import (
	"context"
	"fmt"
	"net/url"

	"github.com/vmware/govmomi"
	"github.com/vmware/govmomi/find"
	"github.com/vmware/govmomi/property"
	"github.com/vmware/govmomi/view"
	"github.com/vmware/govmomi/vim25"
	"github.com/vmware/govmomi/vim25/mo"
	"github.com/vmware/govmomi/vim25/soap"
	"github.com/vmware/govmomi/vim25/types"
	"go.uber.org/zap"

	"github.com/limiquantix/vmplacer/internal/domain"
)

const mib = 1024 * 1024

// Config holds the vCenter connection settings.
type Config struct {
	URL        string `mapstructure:"url"`
	Username   string `mapstructure:"username"`
	Password   string `mapstructure:"password"`
	Insecure   bool   `mapstructure:"insecure"`
	Datacenter string `mapstructure:"datacenter"`
}

// Connect logs into vCenter.
func Connect(ctx context.Context, cfg Config) (*govmomi.Client, error) {
	u, err := soap.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: bad vcenter url: %v", domain.ErrInvalidConfig, err)
	}
	if cfg.Username != "" {
		u.User = url.UserPassword(cfg.Username, cfg.Password)
	}
	client, err := govmomi.NewClient(ctx, u, cfg.Insecure)
	if err != nil {
		return nil, fmt.Errorf("%w: connect to vcenter: %v", domain.ErrUnavailable, err)
	}
	return client, nil
}

// Collector builds datacenter snapshots from vCenter inventory.
type Collector struct {
	client     *vim25.Client
	datacenter string
	logger     *zap.Logger
}

// NewCollector creates a collector for the named datacenter. An empty name selects
// the default datacenter.
func NewCollector(client *vim25.Client, datacenter string, logger *zap.Logger) *Collector {
	return &Collector{
		client:     client,
		datacenter: datacenter,
		logger:     logger.With(zap.String("component", "vsphere-collector")),
	}
}

// Snapshot reads clusters, hosts, resource pools, datastores and VMs of the datacenter.
func (c *Collector) Snapshot(ctx context.Context) (*domain.Datacenter, error) {
	finder := find.NewFinder(c.client, true)
	dc, err := finder.DatacenterOrDefault(ctx, c.datacenter)
	if err != nil {
		return nil, fmt.Errorf("find datacenter %q: %w", c.datacenter, err)
	}
	finder.SetDatacenter(dc)

	m := view.NewManager(c.client)
	v, err := m.CreateContainerView(ctx, dc.Reference(),
		[]string{"ClusterComputeResource", "HostSystem", "ResourcePool", "Datastore", "VirtualMachine"}, true)
	if err != nil {
		return nil, fmt.Errorf("create container view: %w", err)
	}
	defer func() {
		if err := v.Destroy(ctx); err != nil {
			c.logger.Warn("Failed to destroy container view", zap.Error(err))
		}
	}()

	var clusters []mo.ClusterComputeResource
	if err := v.Retrieve(ctx, []string{"ClusterComputeResource"}, []string{"name", "host", "configurationEx"}, &clusters); err != nil {
		return nil, fmt.Errorf("retrieve clusters: %w", err)
	}
	var hosts []mo.HostSystem
	if err := v.Retrieve(ctx, []string{"HostSystem"}, []string{"name", "summary", "runtime", "network"}, &hosts); err != nil {
		return nil, fmt.Errorf("retrieve hosts: %w", err)
	}
	var pools []mo.ResourcePool
	if err := v.Retrieve(ctx, []string{"ResourcePool"}, []string{"name", "owner", "config", "runtime"}, &pools); err != nil {
		return nil, fmt.Errorf("retrieve resource pools: %w", err)
	}
	var datastores []mo.Datastore
	if err := v.Retrieve(ctx, []string{"Datastore"}, []string{"summary", "host"}, &datastores); err != nil {
		return nil, fmt.Errorf("retrieve datastores: %w", err)
	}
	var vms []mo.VirtualMachine
	if err := v.Retrieve(ctx, []string{"VirtualMachine"}, []string{"summary", "datastore", "network"}, &vms); err != nil {
		return nil, fmt.Errorf("retrieve virtual machines: %w", err)
	}

	networkNames, err := c.networkNames(ctx, hosts)
	if err != nil {
		return nil, err
	}

	out := domain.NewDatacenter(dc.Name())
	clusterByRef := make(map[string]*domain.Cluster)
	haByVM := make(map[string]bool)
	canHA := make(map[string]bool)
	hostCluster := make(map[string]*domain.Cluster)
	for _, cc := range clusters {
		cluster := domain.NewCluster(cc.Name)
		cluster.HAEnabled = clusterHA(cc)
		clusterByRef[cc.Self.Value] = cluster
		out.AddCluster(cluster)
		for vm, enabled := range vmOverrides(cc) {
			haByVM[vm] = enabled
		}
		for _, ref := range cc.Host {
			canHA[ref.Value] = cluster.HAEnabled
			hostCluster[ref.Value] = cluster
		}
	}

	hostByRef := make(map[string]*domain.Host)
	for _, hs := range hosts {
		cluster, ok := hostCluster[hs.Self.Value]
		if !ok {
			c.logger.Debug("Skipping standalone host", zap.String("host", hs.Name))
			continue
		}
		h := &domain.Host{
			Name:          hs.Name,
			Connected:     hs.Runtime.ConnectionState == types.HostSystemConnectionStateConnected,
			InMaintenance: hs.Runtime.InMaintenanceMode,
		}
		if hw := hs.Summary.Hardware; hw != nil {
			h.CPUCores = int(hw.NumCpuCores)
			h.MemoryMiB = hw.MemorySize / mib
		}
		for _, ref := range hs.Network {
			if name, ok := networkNames[ref.Value]; ok {
				h.Networks = append(h.Networks, name)
			}
		}
		cluster.AddHost(h)
		hostByRef[hs.Self.Value] = h
	}

	for _, rp := range pools {
		cluster, ok := clusterByRef[rp.Owner.Value]
		if !ok {
			continue
		}
		pool := &domain.ResourcePool{Name: rp.Name, MemoryLimitMiB: -1}
		if limit := rp.Config.MemoryAllocation.Limit; limit != nil {
			pool.MemoryLimitMiB = *limit
		}
		pool.MemoryUsedMiB = rp.Runtime.Memory.OverallUsage / mib
		cluster.AddResourcePool(pool)
	}

	datastoreNames := make(map[string]string, len(datastores))
	for _, ds := range datastores {
		datastoreNames[ds.Self.Value] = ds.Summary.Name
		shared := len(ds.Host) > 1
		if ds.Summary.MultipleHostAccess != nil && *ds.Summary.MultipleHostAccess {
			shared = true
		}
		for _, mount := range ds.Host {
			h, ok := hostByRef[mount.Key.Value]
			if !ok {
				continue
			}
			h.Datastores = append(h.Datastores, domain.Datastore{
				Name:        ds.Summary.Name,
				CapacityMiB: ds.Summary.Capacity / mib,
				FreeMiB:     ds.Summary.FreeSpace / mib,
				Shared:      shared,
			})
		}
	}

	for _, mvm := range vms {
		summary := mvm.Summary
		if summary.Config.Template || summary.Runtime.Host == nil {
			continue
		}
		h, ok := hostByRef[summary.Runtime.Host.Value]
		if !ok {
			continue
		}
		vm := &domain.VM{
			Name:       summary.Config.Name,
			Cluster:    h.Cluster,
			CPU:        int(summary.Config.NumCpu),
			MemoryMiB:  int(summary.Config.MemorySizeMB),
			PowerState: string(summary.Runtime.PowerState),
			CanHA:      canHA[summary.Runtime.Host.Value],
		}
		vm.HAEnabled = vm.CanHA
		if enabled, ok := haByVM[mvm.Self.Value]; ok {
			vm.HAEnabled = vm.CanHA && enabled
		}
		if summary.Guest != nil {
			vm.IPAddress = summary.Guest.IpAddress
		}
		for _, ref := range mvm.Datastore {
			if name, ok := datastoreNames[ref.Value]; ok {
				vm.Datastores = append(vm.Datastores, name)
			}
		}
		for _, ref := range mvm.Network {
			if name, ok := networkNames[ref.Value]; ok {
				vm.Networks = append(vm.Networks, name)
			}
		}
		h.AddVM(vm)
	}

	c.logger.Info("Collected inventory snapshot",
		zap.String("datacenter", out.Name),
		zap.Int("clusters", len(out.Clusters)),
		zap.Int("hosts", len(hostByRef)),
		zap.Int("vms", len(vms)),
	)
	return out, nil
}

// networkNames resolves the names of every network attached to the hosts. Standard
// networks and distributed port groups are both managed entities.
func (c *Collector) networkNames(ctx context.Context, hosts []mo.HostSystem) (map[string]string, error) {
	seen := make(map[string]bool)
	var refs []types.ManagedObjectReference
	for _, hs := range hosts {
		for _, ref := range hs.Network {
			if !seen[ref.Value] {
				seen[ref.Value] = true
				refs = append(refs, ref)
			}
		}
	}
	names := make(map[string]string, len(refs))
	if len(refs) == 0 {
		return names, nil
	}
	var entities []mo.ManagedEntity
	pc := property.DefaultCollector(c.client)
	if err := pc.Retrieve(ctx, refs, []string{"name"}, &entities); err != nil {
		return nil, fmt.Errorf("retrieve networks: %w", err)
	}
	for _, e := range entities {
		names[e.Self.Value] = e.Name
	}
	return names, nil
}

func clusterConfig(cc mo.ClusterComputeResource) *types.ClusterConfigInfoEx {
	if cc.ConfigurationEx == nil {
		return nil
	}
	cfg, _ := cc.ConfigurationEx.(*types.ClusterConfigInfoEx)
	return cfg
}

func clusterHA(cc mo.ClusterComputeResource) bool {
	cfg := clusterConfig(cc)
	return cfg != nil && cfg.DasConfig.Enabled != nil && *cfg.DasConfig.Enabled
}

// vmOverrides returns the per-VM HA overrides of the cluster keyed by VM reference.
func vmOverrides(cc mo.ClusterComputeResource) map[string]bool {
	out := make(map[string]bool)
	cfg := clusterConfig(cc)
	if cfg == nil {
		return out
	}
	for _, o := range cfg.DasVmConfig {
		if o.DasSettings == nil {
			continue
		}
		out[o.Key.Value] = o.DasSettings.RestartPriority != string(types.ClusterDasVmSettingsRestartPriorityDisabled)
	}
	return out
}
