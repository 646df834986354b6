package domain

import (
	"fmt"
	"regexp"
	"strconv"
)

// VM names follow "<cluster>-<group>-<index>". Cluster and group names may not contain '-'.
var vmNamePattern = regexp.MustCompile(`^([A-Za-z0-9_.]+)-([A-Za-z0-9_.]+)-(\d+)$`)

// VMName is a parsed VM name.
type VMName struct {
	Cluster string
	Group   string
	Index   int
}

// String formats the name.
func (n VMName) String() string {
	return FormatVMName(n.Cluster, n.Group, n.Index)
}

// FormatVMName builds a VM name from its parts.
func FormatVMName(cluster, group string, index int) string {
	return fmt.Sprintf("%s-%s-%d", cluster, group, index)
}

// ParseVMName splits a VM name into cluster, group and index.
// It returns false for names that do not follow the convention.
func ParseVMName(name string) (VMName, bool) {
	m := vmNamePattern.FindStringSubmatch(name)
	if m == nil {
		return VMName{}, false
	}
	index, err := strconv.Atoi(m[3])
	if err != nil {
		return VMName{}, false
	}
	return VMName{Cluster: m[1], Group: m[2], Index: index}, true
}
