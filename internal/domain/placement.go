package domain

import (
	"sort"
	"time"
)

// VirtualGroup batches one or more VM groups that are decomposed together.
type VirtualGroup struct {
	Name   string     `json:"name"`
	Groups []*VMGroup `json:"groups"`
}

// NewVirtualGroup wraps a single VM group.
func NewVirtualGroup(g *VMGroup) *VirtualGroup {
	return &VirtualGroup{Name: g.Name, Groups: []*VMGroup{g}}
}

// VirtualNode is the atomic allocation unit: the VMs placed by one host selection.
type VirtualNode struct {
	Specs []VMSpec `json:"specs"`
}

// Names returns the VM names of the node.
func (n VirtualNode) Names() []string {
	names := make([]string, len(n.Specs))
	for i, spec := range n.Specs {
		names[i] = spec.Name
	}
	return names
}

// VMBuild is the request handed to the provisioning layer for one VM. Each
// resource service contributes its own fields.
type VMBuild struct {
	Spec VMSpec `json:"spec"`

	CPU       int `json:"cpu"`
	MemoryMiB int `json:"memory_mib"`

	ResourcePools []string `json:"resource_pools,omitempty"`

	SystemDisk *DiskRequest `json:"system_disk,omitempty"`
	DataDisk   *DiskRequest `json:"data_disk,omitempty"`

	Networks []string `json:"networks,omitempty"`
}

// Name returns the VM name.
func (b VMBuild) Name() string {
	return b.Spec.Name
}

// Assignment is a VM bound to the host chosen for it.
type Assignment struct {
	VM    string  `json:"vm"`
	Group string  `json:"group"`
	Host  string  `json:"host"`
	Build VMBuild `json:"build"`
}

// GroupPlacement holds every assignment of one successfully placed virtual group.
type GroupPlacement struct {
	Group       string       `json:"group"`
	Assignments []Assignment `json:"assignments"`
}

// PlacementResult is the aggregate outcome of one placement run.
type PlacementResult struct {
	FailedCount int              `json:"failed_count"`
	Errors      []string         `json:"errors"`
	Placed      []GroupPlacement `json:"placed"`
}

// NewPlacementResult returns an empty result.
func NewPlacementResult() *PlacementResult {
	return &PlacementResult{Errors: []string{}, Placed: []GroupPlacement{}}
}

// Succeeded reports whether no group failed.
func (r *PlacementResult) Succeeded() bool {
	return r.FailedCount == 0 && len(r.Errors) == 0
}

// Assignments returns every assignment of the run keyed by VM name.
func (r *PlacementResult) Assignments() map[string]Assignment {
	out := make(map[string]Assignment)
	for _, g := range r.Placed {
		for _, a := range g.Assignments {
			out[a.VM] = a
		}
	}
	return out
}

// PlacedGroupNames returns the names of the placed groups in sorted order.
func (r *PlacementResult) PlacedGroupNames() []string {
	names := make([]string, len(r.Placed))
	for i, g := range r.Placed {
		names[i] = g.Group
	}
	sort.Strings(names)
	return names
}

// PlacementRun is a persisted placement run.
type PlacementRun struct {
	ID         string           `json:"id"`
	Cluster    string           `json:"cluster"`
	Datacenter string           `json:"datacenter"`
	Engine     string           `json:"engine"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Result     *PlacementResult `json:"result"`
}
