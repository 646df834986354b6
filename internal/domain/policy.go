package domain

import (
	"fmt"
	"sort"
	"strings"
)

// RackPolicyType controls how a group's VMs are spread over racks.
type RackPolicyType string

const (
	RackPolicySameRack   RackPolicyType = "samerack"
	RackPolicyRoundRobin RackPolicyType = "roundrobin"
)

// RackPolicy is a resolved rack constraint for a VM group.
type RackPolicy struct {
	Type  RackPolicyType `json:"type"`
	Racks []string       `json:"racks"`
}

// NewRackPolicy resolves a rack policy against the known rack-to-hosts mapping.
// An empty rack list selects every known rack. Racks missing from the mapping are
// dropped and returned as unknown so the caller can report them.
func NewRackPolicy(policyType string, racks []string, rackToHosts map[string][]string) (*RackPolicy, []string, error) {
	typ := RackPolicyType(strings.ToLower(policyType))
	if typ != RackPolicySameRack && typ != RackPolicyRoundRobin {
		return nil, nil, fmt.Errorf("%w: unsupported rack type %q", ErrInvalidConfig, policyType)
	}

	if len(racks) == 0 {
		racks = make([]string, 0, len(rackToHosts))
		for rack := range rackToHosts {
			racks = append(racks, rack)
		}
		sort.Strings(racks)
	}

	var used, unknown []string
	seen := make(map[string]bool, len(racks))
	for _, rack := range racks {
		if seen[rack] {
			continue
		}
		seen[rack] = true
		if _, ok := rackToHosts[rack]; ok {
			used = append(used, rack)
		} else {
			unknown = append(unknown, rack)
		}
	}

	if len(used) == 0 {
		return nil, unknown, fmt.Errorf("%w: racks %v are not in the cluster definition", ErrInvalidConfig, racks)
	}
	if typ == RackPolicySameRack && len(used) > 1 {
		return nil, unknown, fmt.Errorf("%w: more than one rack %v in samerack policy", ErrInvalidConfig, used)
	}

	return &RackPolicy{Type: typ, Racks: used}, unknown, nil
}

// AssociationType is the strength of a group-to-group association.
type AssociationType string

const (
	AssociationStrict AssociationType = "STRICT"
	AssociationWeak   AssociationType = "WEAK"
)

// GroupAssociation ties a group's placement to the hosts of another group.
type GroupAssociation struct {
	Reference string          `json:"reference"`
	Type      AssociationType `json:"type"`
}

// PlacementPolicy holds the optional placement constraints of a VM group.
type PlacementPolicy struct {
	// InstancePerHost is the number of VMs placed together on one host. Zero means unset.
	InstancePerHost int `json:"instance_per_host,omitempty"`

	// Associations lists group associations. Only the first one is honored.
	Associations []GroupAssociation `json:"group_associations,omitempty"`

	// Racks is set only when the cluster has a rack topology.
	Racks *RackPolicy `json:"group_racks,omitempty"`
}
