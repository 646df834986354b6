// Package file loads datacenter snapshots from YAML documents. Snapshots are used for
// offline placement runs and as test fixtures, and can be dumped from a live vCenter.
package file

import (
	"context"
	"fmt"
	"os"
	"sort"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/limiquantix/vmplacer/internal/domain"
)

// Document is the YAML form of a datacenter snapshot.
type Document struct {
	Name     string    `yaml:"name"`
	Clusters []Cluster `yaml:"clusters"`
}

// Cluster is the YAML form of a cluster.
type Cluster struct {
	Name          string         `yaml:"name"`
	HAEnabled     bool           `yaml:"ha_enabled,omitempty"`
	ResourcePools []ResourcePool `yaml:"resource_pools,omitempty"`
	Hosts         []Host         `yaml:"hosts"`
}

// ResourcePool is the YAML form of a resource pool. A missing limit means unlimited.
type ResourcePool struct {
	Name           string `yaml:"name"`
	MemoryLimitMiB *int64 `yaml:"memory_limit_mib,omitempty"`
	MemoryUsedMiB  int64  `yaml:"memory_used_mib,omitempty"`
}

// Host is the YAML form of a host. Hosts are connected unless stated otherwise.
type Host struct {
	Name          string      `yaml:"name"`
	Rack          string      `yaml:"rack,omitempty"`
	CPUCores      int         `yaml:"cpu_cores"`
	MemoryMiB     int64       `yaml:"memory_mib"`
	Connected     *bool       `yaml:"connected,omitempty"`
	InMaintenance bool        `yaml:"in_maintenance,omitempty"`
	Networks      []string    `yaml:"networks,omitempty"`
	Datastores    []Datastore `yaml:"datastores,omitempty"`
	VMs           []VM        `yaml:"vms,omitempty"`
}

// Datastore is the YAML form of a datastore mounted on a host.
type Datastore struct {
	Name        string `yaml:"name"`
	CapacityMiB int64  `yaml:"capacity_mib"`
	FreeMiB     int64  `yaml:"free_mib"`
	Shared      bool   `yaml:"shared,omitempty"`
}

// VM is the YAML form of a virtual machine.
type VM struct {
	Name       string   `yaml:"name"`
	CPU        int      `yaml:"cpu"`
	MemoryMiB  int      `yaml:"memory_mib"`
	PowerState string   `yaml:"power_state,omitempty"`
	IPAddress  string   `yaml:"ip_address,omitempty"`
	HAEnabled  bool     `yaml:"ha_enabled,omitempty"`
	Datastores []string `yaml:"datastores,omitempty"`
	Networks   []string `yaml:"networks,omitempty"`
}

// Load reads a snapshot file.
func Load(path string) (*domain.Datacenter, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML snapshot.
func Parse(data []byte) (*domain.Datacenter, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: failed to parse snapshot: %v", domain.ErrInvalidArgument, err)
	}
	return doc.Datacenter()
}

// Datacenter converts the document into a snapshot.
func (d Document) Datacenter() (*domain.Datacenter, error) {
	if d.Name == "" {
		return nil, fmt.Errorf("%w: datacenter name is required", domain.ErrInvalidArgument)
	}
	dc := domain.NewDatacenter(d.Name)
	for _, c := range d.Clusters {
		if _, dup := dc.Clusters[c.Name]; dup || c.Name == "" {
			return nil, fmt.Errorf("%w: bad or duplicate cluster name %q", domain.ErrInvalidArgument, c.Name)
		}
		cluster := domain.NewCluster(c.Name)
		cluster.HAEnabled = c.HAEnabled
		for _, p := range c.ResourcePools {
			pool := &domain.ResourcePool{Name: p.Name, MemoryLimitMiB: -1, MemoryUsedMiB: p.MemoryUsedMiB}
			if p.MemoryLimitMiB != nil {
				pool.MemoryLimitMiB = *p.MemoryLimitMiB
			}
			cluster.AddResourcePool(pool)
		}
		for _, h := range c.Hosts {
			if _, dup := dc.Host(h.Name); dup || cluster.Hosts[h.Name] != nil || h.Name == "" {
				return nil, fmt.Errorf("%w: bad or duplicate host name %q", domain.ErrInvalidArgument, h.Name)
			}
			host := &domain.Host{
				Name:          h.Name,
				Rack:          h.Rack,
				CPUCores:      h.CPUCores,
				MemoryMiB:     h.MemoryMiB,
				Connected:     h.Connected == nil || *h.Connected,
				InMaintenance: h.InMaintenance,
				Networks:      h.Networks,
			}
			for _, ds := range h.Datastores {
				host.Datastores = append(host.Datastores, domain.Datastore(ds))
			}
			cluster.AddHost(host)
			for _, v := range h.VMs {
				host.AddVM(&domain.VM{
					Name:       v.Name,
					Cluster:    c.Name,
					CPU:        v.CPU,
					MemoryMiB:  v.MemoryMiB,
					PowerState: v.PowerState,
					IPAddress:  v.IPAddress,
					HAEnabled:  v.HAEnabled,
					CanHA:      c.HAEnabled,
					Datastores: v.Datastores,
					Networks:   v.Networks,
				})
			}
		}
		dc.AddCluster(cluster)
	}
	return dc, nil
}

// Encode renders a snapshot as YAML, with clusters, pools, hosts and VMs in name order.
func Encode(dc *domain.Datacenter) ([]byte, error) {
	doc := Document{Name: dc.Name}
	for _, name := range dc.ClusterNames() {
		c := dc.Clusters[name]
		cluster := Cluster{Name: c.Name, HAEnabled: c.HAEnabled}

		pools := make([]string, 0, len(c.ResourcePools))
		for p := range c.ResourcePools {
			pools = append(pools, p)
		}
		sort.Strings(pools)
		for _, p := range pools {
			rp := c.ResourcePools[p]
			pool := ResourcePool{Name: rp.Name, MemoryUsedMiB: rp.MemoryUsedMiB}
			if rp.MemoryLimitMiB >= 0 {
				limit := rp.MemoryLimitMiB
				pool.MemoryLimitMiB = &limit
			}
			cluster.ResourcePools = append(cluster.ResourcePools, pool)
		}

		for _, hn := range c.HostNames() {
			h := c.Hosts[hn]
			connected := h.Connected
			host := Host{
				Name:          h.Name,
				Rack:          h.Rack,
				CPUCores:      h.CPUCores,
				MemoryMiB:     h.MemoryMiB,
				InMaintenance: h.InMaintenance,
				Networks:      h.Networks,
			}
			if !connected {
				host.Connected = &connected
			}
			for _, ds := range h.Datastores {
				host.Datastores = append(host.Datastores, Datastore(ds))
			}
			for _, vn := range h.VMNames() {
				v := h.VMs[vn]
				host.VMs = append(host.VMs, VM{
					Name:       v.Name,
					CPU:        v.CPU,
					MemoryMiB:  v.MemoryMiB,
					PowerState: v.PowerState,
					IPAddress:  v.IPAddress,
					HAEnabled:  v.HAEnabled,
					Datastores: v.Datastores,
					Networks:   v.Networks,
				})
			}
			cluster.Hosts = append(cluster.Hosts, host)
		}
		doc.Clusters = append(doc.Clusters, cluster)
	}
	return yaml.Marshal(doc)
}

// Source serves a snapshot file. The file is re-read on every call so edits are
// picked up between runs.
type Source struct {
	path   string
	logger *zap.Logger
}

// NewSource creates a snapshot source backed by path.
func NewSource(path string, logger *zap.Logger) *Source {
	return &Source{path: path, logger: logger.With(zap.String("component", "file-inventory"))}
}

// Snapshot loads the datacenter from the file.
func (s *Source) Snapshot(ctx context.Context) (*domain.Datacenter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dc, err := Load(s.path)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("Loaded inventory snapshot", zap.String("path", s.path), zap.String("datacenter", dc.Name))
	return dc, nil
}
