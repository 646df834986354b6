package domain

import "sort"

// Datacenter is a read-only snapshot of the infrastructure used by one placement run.
type Datacenter struct {
	Name     string              `json:"name"`
	Clusters map[string]*Cluster `json:"clusters"`
}

// Cluster is a compute cluster with its resource pools and hosts.
type Cluster struct {
	Name          string                   `json:"name"`
	HAEnabled     bool                     `json:"ha_enabled"`
	ResourcePools map[string]*ResourcePool `json:"resource_pools"`
	Hosts         map[string]*Host         `json:"hosts"`
}

// ResourcePool is a vSphere resource pool inside a cluster.
type ResourcePool struct {
	Name    string `json:"name"`
	Cluster string `json:"cluster"`

	// MemoryLimitMiB is the pool memory limit. A negative value means unlimited.
	MemoryLimitMiB int64 `json:"memory_limit_mib"`
	MemoryUsedMiB  int64 `json:"memory_used_mib"`
}

// Key returns "<cluster>/<pool>".
func (p *ResourcePool) Key() string {
	return p.Cluster + "/" + p.Name
}

// NewDatacenter creates an empty snapshot.
func NewDatacenter(name string) *Datacenter {
	return &Datacenter{Name: name, Clusters: make(map[string]*Cluster)}
}

// NewCluster creates an empty cluster.
func NewCluster(name string) *Cluster {
	return &Cluster{
		Name:          name,
		ResourcePools: make(map[string]*ResourcePool),
		Hosts:         make(map[string]*Host),
	}
}

// AddCluster adds or replaces a cluster.
func (dc *Datacenter) AddCluster(c *Cluster) {
	if dc.Clusters == nil {
		dc.Clusters = make(map[string]*Cluster)
	}
	dc.Clusters[c.Name] = c
}

// AddHost adds a host to the cluster and sets its cluster name.
func (c *Cluster) AddHost(h *Host) {
	if c.Hosts == nil {
		c.Hosts = make(map[string]*Host)
	}
	h.Cluster = c.Name
	c.Hosts[h.Name] = h
}

// AddResourcePool adds a resource pool to the cluster and sets its cluster name.
func (c *Cluster) AddResourcePool(p *ResourcePool) {
	if c.ResourcePools == nil {
		c.ResourcePools = make(map[string]*ResourcePool)
	}
	p.Cluster = c.Name
	c.ResourcePools[p.Name] = p
}

// ClusterNames returns cluster names in sorted order.
func (dc *Datacenter) ClusterNames() []string {
	names := make([]string, 0, len(dc.Clusters))
	for name := range dc.Clusters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HostNames returns the cluster's host names in sorted order.
func (c *Cluster) HostNames() []string {
	names := make([]string, 0, len(c.Hosts))
	for name := range c.Hosts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResourcePool looks up a pool by cluster and pool name.
func (dc *Datacenter) ResourcePool(cluster, pool string) (*ResourcePool, bool) {
	c, ok := dc.Clusters[cluster]
	if !ok {
		return nil, false
	}
	rp, ok := c.ResourcePools[pool]
	return rp, ok
}

// Host looks up a host by name across all clusters.
func (dc *Datacenter) Host(name string) (*Host, bool) {
	for _, c := range dc.Clusters {
		if h, ok := c.Hosts[name]; ok {
			return h, true
		}
	}
	return nil, false
}

// Hosts returns every host of the datacenter ordered by name.
func (dc *Datacenter) Hosts() []*Host {
	var hosts []*Host
	for _, c := range dc.Clusters {
		for _, h := range c.Hosts {
			hosts = append(hosts, h)
		}
	}
	sort.Slice(hosts, func(i, j int) bool { return hosts[i].Name < hosts[j].Name })
	return hosts
}

// HasLocalDatastores reports whether any host has a datastore that is not shared.
func (dc *Datacenter) HasLocalDatastores() bool {
	for _, h := range dc.Hosts() {
		for _, ds := range h.Datastores {
			if !ds.Shared {
				return true
			}
		}
	}
	return false
}
