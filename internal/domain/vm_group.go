package domain

import (
	"regexp"
	"sort"
)

// Requirement defaults and conventions.
const (
	DefaultCPU       = 1
	DefaultMemoryMiB = 512

	// DiskSizeUnit converts the input disk size (GB) into MB.
	DiskSizeUnit = 1024

	// ElasticRole is the only role whose groups can be scaled elastically.
	ElasticRole = "hadoop_tasktracker"

	DataDiskMode     = "thick_eager_zeroed"
	DataDiskAffinity = "split"
	SystemDiskMode   = "thin"
)

var templateIDPattern = regexp.MustCompile(`^vm-\d+$`)

// ValidTemplateID reports whether id looks like a vSphere VM template reference (vm-1234).
func ValidTemplateID(id string) bool {
	return templateIDPattern.MatchString(id)
}

// ResourceRequirement is what every VM of a group needs.
type ResourceRequirement struct {
	CPU          int      `json:"cpu"`
	MemoryMiB    int      `json:"memory_mib"`
	DiskSizeMiB  int      `json:"disk_size_mib"`
	DiskType     DiskType `json:"disk_type"`
	DiskPatterns Patterns `json:"disk_patterns"`
	DiskBisect   bool     `json:"disk_bisect,omitempty"`
	RackID       string   `json:"rack_id,omitempty"`
	TemplateID   string   `json:"template_id"`
	HA           HAMode   `json:"ha"`
	FolderPath   string   `json:"folder_path,omitempty"`
	Elastic      bool     `json:"elastic"`
}

// IsElastic reports whether roles makes a group elastic.
func IsElastic(roles []string) bool {
	return len(roles) == 1 && roles[0] == ElasticRole
}

// NetworkResource is the resolved network attachment of a group.
type NetworkResource struct {
	PortGroups []string  `json:"port_groups"`
	Networks   []Network `json:"networks,omitempty"`
}

// VMGroup is a named set of VMs sharing one requirement and placement policy.
type VMGroup struct {
	Name        string              `json:"name"`
	Roles       []string            `json:"roles,omitempty"`
	Instances   int                 `json:"instances"`
	Requirement ResourceRequirement `json:"requirement"`
	Policy      *PlacementPolicy    `json:"placement_policy,omitempty"`

	// ResourcePools maps a cluster name to the ordered pools the group may use.
	ResourcePools map[string][]string `json:"resource_pools,omitempty"`

	Network NetworkResource `json:"network"`

	// VMs holds VMs discovered or created for the group, keyed by name.
	VMs map[string]*VM `json:"vms,omitempty"`
}

// NewVMGroup creates an empty group.
func NewVMGroup(name string) *VMGroup {
	return &VMGroup{
		Name:          name,
		ResourcePools: make(map[string][]string),
		VMs:           make(map[string]*VM),
	}
}

// AddVM adds vm to the group. Adding a name that is already present is a no-op
// and returns false.
func (g *VMGroup) AddVM(vm *VM) bool {
	if g.VMs == nil {
		g.VMs = make(map[string]*VM)
	}
	if _, ok := g.VMs[vm.Name]; ok {
		return false
	}
	g.VMs[vm.Name] = vm
	return true
}

// FindVM returns the VM with the given name.
func (g *VMGroup) FindVM(name string) (*VM, bool) {
	vm, ok := g.VMs[name]
	return vm, ok
}

// RemoveVM removes a VM from the group.
func (g *VMGroup) RemoveVM(name string) bool {
	if _, ok := g.VMs[name]; !ok {
		return false
	}
	delete(g.VMs, name)
	return true
}

// Size returns the number of VMs in the group.
func (g *VMGroup) Size() int {
	return len(g.VMs)
}

// VMNames returns the VM names in sorted order.
func (g *VMGroup) VMNames() []string {
	names := make([]string, 0, len(g.VMs))
	for name := range g.VMs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// InstancePerHost returns the per-host instance count, or 0 when unset.
func (g *VMGroup) InstancePerHost() int {
	if g.Policy == nil {
		return 0
	}
	return g.Policy.InstancePerHost
}

// Association returns the effective group association. Only one is supported.
func (g *VMGroup) Association() (GroupAssociation, bool) {
	if g.Policy == nil || len(g.Policy.Associations) == 0 {
		return GroupAssociation{}, false
	}
	return g.Policy.Associations[0], true
}

// ReferredGroup returns the name of the associated group, if any.
func (g *VMGroup) ReferredGroup() string {
	a, _ := g.Association()
	return a.Reference
}

// IsStrict reports whether the group has a STRICT association.
func (g *VMGroup) IsStrict() bool {
	a, ok := g.Association()
	return ok && a.Type == AssociationStrict
}

// RackPolicy returns the group's rack policy, or nil.
func (g *VMGroup) RackPolicy() *RackPolicy {
	if g.Policy == nil {
		return nil
	}
	return g.Policy.Racks
}

// SpecOptions carries deployment-wide values needed to build VM specs.
type SpecOptions struct {
	SystemDiskSizeMiB  int
	HasLocalDatastores bool
}

// VMSpec is the placement-time description of one VM to create.
type VMSpec struct {
	Name  string `json:"name"`
	Index int    `json:"index"`
	Group string `json:"group"`

	TemplateID string `json:"template_id"`
	MemoryMiB  int    `json:"memory_mib"`
	CPU        int    `json:"cpu"`
	HA         HAMode `json:"ha"`

	DatastorePatterns Patterns `json:"datastore_patterns"`
	DataSizeMiB       int      `json:"data_size_mib"`
	DataShared        bool     `json:"data_shared"`
	DataMode          string   `json:"data_mode"`
	DataAffinity      string   `json:"data_affinity"`
	DiskBisect        bool     `json:"disk_bisect"`

	SystemSizeMiB int    `json:"system_size_mib"`
	SystemShared  bool   `json:"system_shared"`
	SystemMode    string `json:"system_mode"`

	PortGroups []string `json:"port_groups"`
	FolderPath string   `json:"folder_path,omitempty"`
	Elastic    bool     `json:"elastic"`

	ResourcePools   map[string][]string `json:"resource_pools,omitempty"`
	RackPolicy      *RackPolicy         `json:"rack_policy,omitempty"`
	Association     *GroupAssociation   `json:"association,omitempty"`
	InstancePerHost int                 `json:"instance_per_host,omitempty"`
}

// ToSpec builds the VM spec shared by every VM of the group. Name and Index are
// filled in by the engine.
func (g *VMGroup) ToSpec(opts SpecOptions) VMSpec {
	req := g.Requirement

	dataSize := req.DiskSizeMiB
	if req.DiskType == DiskTypeTempfs {
		dataSize = 0
	}

	spec := VMSpec{
		Group:             g.Name,
		TemplateID:        req.TemplateID,
		MemoryMiB:         req.MemoryMiB,
		CPU:               req.CPU,
		HA:                req.HA,
		DatastorePatterns: req.DiskPatterns,
		DataSizeMiB:       dataSize,
		DataShared:        req.DiskType == DiskTypeShared,
		DataMode:          DataDiskMode,
		DataAffinity:      DataDiskAffinity,
		DiskBisect:        req.DiskBisect,
		SystemSizeMiB:     opts.SystemDiskSizeMiB,
		SystemShared: req.DiskType == DiskTypeShared ||
			(req.DiskType == DiskTypeTempfs && !opts.HasLocalDatastores),
		SystemMode:    SystemDiskMode,
		PortGroups:    append([]string(nil), g.Network.PortGroups...),
		FolderPath:    req.FolderPath,
		Elastic:       req.Elastic,
		ResourcePools: g.ResourcePools,
		RackPolicy:    g.RackPolicy(),

		InstancePerHost: g.InstancePerHost(),
	}
	if a, ok := g.Association(); ok {
		spec.Association = &a
	}
	return spec
}
