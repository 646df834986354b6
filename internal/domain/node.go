package domain

import "sort"

// Host is a physical hypervisor host, the atomic scheduling target.
type Host struct {
	Name    string `json:"name"`
	Cluster string `json:"cluster"`
	Rack    string `json:"rack,omitempty"`

	CPUCores      int   `json:"cpu_cores"`
	MemoryMiB     int64 `json:"memory_mib"`
	Connected     bool  `json:"connected"`
	InMaintenance bool  `json:"in_maintenance"`

	Datastores []Datastore    `json:"datastores"`
	Networks   []string       `json:"networks"`
	VMs        map[string]*VM `json:"vms"`
}

// Datastore is a datastore mounted on a host.
type Datastore struct {
	Name        string `json:"name"`
	CapacityMiB int64  `json:"capacity_mib"`
	FreeMiB     int64  `json:"free_mib"`
	Shared      bool   `json:"shared"`
}

// IsSchedulable reports whether new VMs may be placed on the host.
func (h *Host) IsSchedulable() bool {
	return h.Connected && !h.InMaintenance
}

// AddVM records a VM running on the host.
func (h *Host) AddVM(vm *VM) {
	if h.VMs == nil {
		h.VMs = make(map[string]*VM)
	}
	vm.Host = h.Name
	h.VMs[vm.Name] = vm
}

// VMNames returns the host's VM names in sorted order.
func (h *Host) VMNames() []string {
	names := make([]string, 0, len(h.VMs))
	for name := range h.VMs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// UsedCPU returns the cores allocated to VMs on the host.
func (h *Host) UsedCPU() int {
	total := 0
	for _, vm := range h.VMs {
		total += vm.CPU
	}
	return total
}

// UsedMemoryMiB returns the memory allocated to VMs on the host.
func (h *Host) UsedMemoryMiB() int64 {
	var total int64
	for _, vm := range h.VMs {
		total += int64(vm.MemoryMiB)
	}
	return total
}

// HasNetwork reports whether the host is connected to the named network.
func (h *Host) HasNetwork(name string) bool {
	for _, n := range h.Networks {
		if n == name {
			return true
		}
	}
	return false
}
