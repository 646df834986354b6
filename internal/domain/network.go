package domain

import (
	"fmt"
	"net/netip"
	"strings"
)

// NetworkType is how VMs on a port group get their address.
type NetworkType string

const (
	NetworkTypeDHCP   NetworkType = "dhcp"
	NetworkTypeStatic NetworkType = "static"
)

// Network is a port group VMs are attached to.
type Network struct {
	PortGroup string      `json:"port_group"`
	Type      NetworkType `json:"type"`

	// IPRanges lists "a.b.c.d-a.b.c.e" ranges or single addresses for static networks.
	IPRanges []string `json:"ip,omitempty"`
}

// IsStatic reports whether addresses come from the network's own IP pool.
func (n Network) IsStatic() bool {
	return n.Type == NetworkTypeStatic
}

// IPRange is an inclusive address range.
type IPRange struct {
	Start netip.Addr
	End   netip.Addr
}

// ParseIPRange parses "a.b.c.d-a.b.c.e" or a single address.
func ParseIPRange(s string) (IPRange, error) {
	startStr, endStr, found := strings.Cut(strings.TrimSpace(s), "-")
	start, err := netip.ParseAddr(strings.TrimSpace(startStr))
	if err != nil {
		return IPRange{}, fmt.Errorf("%w: bad ip range %q: %v", ErrInvalidConfig, s, err)
	}
	end := start
	if found {
		end, err = netip.ParseAddr(strings.TrimSpace(endStr))
		if err != nil {
			return IPRange{}, fmt.Errorf("%w: bad ip range %q: %v", ErrInvalidConfig, s, err)
		}
	}
	if start.Is4() != end.Is4() || end.Less(start) {
		return IPRange{}, fmt.Errorf("%w: bad ip range %q", ErrInvalidConfig, s)
	}
	return IPRange{Start: start, End: end}, nil
}

// Contains reports whether addr is inside the range.
func (r IPRange) Contains(addr netip.Addr) bool {
	return r.Start.Compare(addr) <= 0 && addr.Compare(r.End) <= 0
}

// Size returns the number of addresses in the range, capped at limit.
func (r IPRange) Size(limit int64) int64 {
	var n int64
	for ip := r.Start; ip.IsValid() && ip.Compare(r.End) <= 0 && n < limit; ip = ip.Next() {
		n++
	}
	return n
}
