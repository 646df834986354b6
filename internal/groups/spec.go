// Package groups builds VM groups from a cluster specification document and from
// the VMs discovered in the datacenter.
package groups

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/limiquantix/vmplacer/internal/domain"
)

// ClusterSpec is the desired state of a cluster.
type ClusterSpec struct {
	Name       string      `json:"name" yaml:"name"`
	TemplateID string      `json:"template_id" yaml:"template_id"`
	VCClusters []VCCluster `json:"vc_clusters,omitempty" yaml:"vc_clusters,omitempty"`

	SharedDatastorePattern []string `json:"vc_shared_datastore_pattern,omitempty" yaml:"vc_shared_datastore_pattern,omitempty"`
	LocalDatastorePattern  []string `json:"vc_local_datastore_pattern,omitempty" yaml:"vc_local_datastore_pattern,omitempty"`

	Networking   []NetworkSpec       `json:"networking,omitempty" yaml:"networking,omitempty"`
	RackTopology map[string][]string `json:"rack_topology,omitempty" yaml:"rack_topology,omitempty"`
	Groups       []GroupSpec         `json:"groups" yaml:"groups"`
}

// VCCluster names a vSphere cluster and the resource pools to use in it.
type VCCluster struct {
	Name          string   `json:"name" yaml:"name"`
	ResourcePools []string `json:"vc_rps" yaml:"vc_rps"`
}

// NetworkSpec is a port group definition.
type NetworkSpec struct {
	PortGroup string   `json:"port_group" yaml:"port_group"`
	Type      string   `json:"type,omitempty" yaml:"type,omitempty"`
	IP        []string `json:"ip,omitempty" yaml:"ip,omitempty"`
}

// GroupSpec is one requested VM group.
type GroupSpec struct {
	Name        string      `json:"name" yaml:"name"`
	Roles       []string    `json:"roles,omitempty" yaml:"roles,omitempty"`
	InstanceNum int         `json:"instance_num" yaml:"instance_num"`
	CPU         int         `json:"cpu,omitempty" yaml:"cpu,omitempty"`
	Memory      int         `json:"memory,omitempty" yaml:"memory,omitempty"`
	Storage     StorageSpec `json:"storage" yaml:"storage"`
	TemplateID  string      `json:"template_id,omitempty" yaml:"template_id,omitempty"`
	HA          string      `json:"ha,omitempty" yaml:"ha,omitempty"`
	FolderPath  string      `json:"vm_folder_path,omitempty" yaml:"vm_folder_path,omitempty"`
	VCClusters  []VCCluster `json:"vc_clusters,omitempty" yaml:"vc_clusters,omitempty"`
	Policies    *PolicySpec `json:"placement_policies,omitempty" yaml:"placement_policies,omitempty"`
}

// StorageSpec is the data disk request of a group. Size is in GB.
type StorageSpec struct {
	Type        string   `json:"type,omitempty" yaml:"type,omitempty"`
	Size        int      `json:"size,omitempty" yaml:"size,omitempty"`
	NamePattern []string `json:"name_pattern,omitempty" yaml:"name_pattern,omitempty"`
	Bisect      bool     `json:"bisect,omitempty" yaml:"bisect,omitempty"`
}

// PolicySpec holds the placement policies of a group.
type PolicySpec struct {
	InstancePerHost   int               `json:"instance_per_host,omitempty" yaml:"instance_per_host,omitempty"`
	GroupAssociations []AssociationSpec `json:"group_associations,omitempty" yaml:"group_associations,omitempty"`
	GroupRacks        *RackSpec         `json:"group_racks,omitempty" yaml:"group_racks,omitempty"`
}

// AssociationSpec ties a group to another group.
type AssociationSpec struct {
	Reference string `json:"reference" yaml:"reference"`
	Type      string `json:"type,omitempty" yaml:"type,omitempty"`
}

// RackSpec is a rack policy request.
type RackSpec struct {
	Type  string   `json:"type" yaml:"type"`
	Racks []string `json:"racks,omitempty" yaml:"racks,omitempty"`
}

// LoadClusterSpec reads a YAML (or JSON) cluster specification file.
func LoadClusterSpec(path string) (*ClusterSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read cluster spec: %w", err)
	}
	return ParseClusterSpec(data)
}

// ParseClusterSpec decodes and validates a YAML (or JSON) cluster specification.
func ParseClusterSpec(data []byte) (*ClusterSpec, error) {
	var spec ClusterSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("%w: failed to parse cluster spec: %v", domain.ErrInvalidArgument, err)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}

// Validate checks the naming rules VM names depend on.
func (s *ClusterSpec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: cluster name is required", domain.ErrInvalidArgument)
	}
	if strings.Contains(s.Name, "-") {
		return fmt.Errorf("%w: cluster name %q must not contain '-'", domain.ErrInvalidArgument, s.Name)
	}
	if len(s.Groups) == 0 {
		return fmt.Errorf("%w: cluster %s has no groups", domain.ErrInvalidArgument, s.Name)
	}

	seen := make(map[string]bool, len(s.Groups))
	for _, g := range s.Groups {
		switch {
		case g.Name == "":
			return fmt.Errorf("%w: group name is required", domain.ErrInvalidArgument)
		case strings.Contains(g.Name, "-"):
			return fmt.Errorf("%w: group name %q must not contain '-'", domain.ErrInvalidArgument, g.Name)
		case seen[g.Name]:
			return fmt.Errorf("%w: duplicate group %q", domain.ErrInvalidArgument, g.Name)
		case g.InstanceNum < 0:
			return fmt.Errorf("%w: group %s has a negative instance count", domain.ErrInvalidArgument, g.Name)
		}
		seen[g.Name] = true
	}
	return nil
}

// RackMap returns the spec's rack topology, or fallback when it has none.
func (s *ClusterSpec) RackMap(fallback map[string][]string) map[string][]string {
	if len(s.RackTopology) > 0 {
		return s.RackTopology
	}
	return fallback
}
