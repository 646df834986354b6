package domain

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// DiskType is where a VM group's data disks live.
type DiskType string

const (
	DiskTypeShared DiskType = "shared"
	DiskTypeLocal  DiskType = "local"
	DiskTypeTempfs DiskType = "tempfs"
)

// ParseDiskType returns the disk type for s. Unknown or empty values fall back to shared.
func ParseDiskType(s string) DiskType {
	switch DiskType(s) {
	case DiskTypeShared, DiskTypeLocal, DiskTypeTempfs:
		return DiskType(s)
	default:
		return DiskTypeShared
	}
}

// HAMode is the vSphere high availability mode requested for a group.
type HAMode string

const (
	HAOff           HAMode = "off"
	HAOn            HAMode = "on"
	HAFaultTolerant HAMode = "ft"
)

// ParseHAMode parses an HA mode. An empty value means off.
func ParseHAMode(s string) (HAMode, error) {
	switch HAMode(s) {
	case "":
		return HAOff, nil
	case HAOff, HAOn, HAFaultTolerant:
		return HAMode(s), nil
	default:
		return "", fmt.Errorf("%w: unsupported ha mode %q", ErrInvalidConfig, s)
	}
}

// Patterns is an ordered list of compiled datastore name patterns.
type Patterns []*regexp.Regexp

// CompilePatterns compiles every expression in exprs.
func CompilePatterns(exprs []string) (Patterns, error) {
	patterns := make(Patterns, 0, len(exprs))
	for _, expr := range exprs {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("%w: bad datastore pattern %q: %v", ErrInvalidConfig, expr, err)
		}
		patterns = append(patterns, re)
	}
	return patterns, nil
}

// MatchAny reports whether name matches at least one pattern.
// An empty pattern list matches nothing.
func (p Patterns) MatchAny(name string) bool {
	for _, re := range p {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

// Strings returns the source expressions.
func (p Patterns) Strings() []string {
	out := make([]string, len(p))
	for i, re := range p {
		out[i] = re.String()
	}
	return out
}

// MarshalJSON encodes the patterns as their source expressions.
func (p Patterns) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Strings())
}

// UnmarshalJSON decodes and compiles a list of expressions.
func (p *Patterns) UnmarshalJSON(data []byte) error {
	var exprs []string
	if err := json.Unmarshal(data, &exprs); err != nil {
		return err
	}
	compiled, err := CompilePatterns(exprs)
	if err != nil {
		return err
	}
	*p = compiled
	return nil
}

// DiskRequest is a disk the provisioning layer has to create for a VM.
type DiskRequest struct {
	SizeMiB  int    `json:"size_mib"`
	Shared   bool   `json:"shared"`
	Mode     string `json:"mode"`
	Affinity string `json:"affinity,omitempty"`
}
