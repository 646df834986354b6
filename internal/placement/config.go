// Package placement places groups of virtual machines onto hosts. It resolves resource
// pools, decomposes groups into placement units, filters and scores hosts through the
// registered resource services and commits the engine's choice with rollback.
package placement

import "sort"

// Config holds the placement configuration. It is passed explicitly to the
// placement service, the resource services and the engine.
type Config struct {
	// ClusterName is the name of the cluster being provisioned. It prefixes VM names.
	ClusterName string `mapstructure:"cluster_name"`

	// Engine is the name of the active placement engine.
	Engine string `mapstructure:"engine"`

	// Services lists resource services in invocation order.
	Services []string `mapstructure:"services"`

	// Strategy is used by scoring engines: "balance", "spread" or "pack".
	Strategy string `mapstructure:"strategy"`

	// RackToHosts maps rack names to host names.
	RackToHosts map[string][]string `mapstructure:"rack_to_hosts"`

	// SystemDiskSizeMiB is the size of the system disk of every VM.
	SystemDiskSizeMiB int `mapstructure:"system_disk_size_mib"`

	// Debug enables verbose placement traces.
	Debug bool `mapstructure:"debug"`
}

// Engine and service names.
const (
	EngineRoundRobin = "roundrobin"
	EngineWeighted   = "weighted"

	ServiceCompute      = "compute"
	ServiceResourcePool = "resource_pool"
	ServiceStorage      = "storage"
	ServiceNetwork      = "network"
)

// DefaultConfig returns the default placement configuration.
func DefaultConfig() Config {
	return Config{
		Engine:            EngineRoundRobin,
		Services:          []string{ServiceCompute, ServiceResourcePool, ServiceStorage, ServiceNetwork},
		Strategy:          "balance",
		RackToHosts:       map[string][]string{},
		SystemDiskSizeMiB: 4096,
	}
}

// RackOf returns the rack of host, or "" when the host is not in the rack map.
func (c Config) RackOf(host string) string {
	racks := make([]string, 0, len(c.RackToHosts))
	for rack := range c.RackToHosts {
		racks = append(racks, rack)
	}
	sort.Strings(racks)
	for _, rack := range racks {
		for _, h := range c.RackToHosts[rack] {
			if h == host {
				return rack
			}
		}
	}
	return ""
}
