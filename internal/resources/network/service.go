// Package network implements the network resource service. Hosts must reach every
// port group of a VM; static port groups hand out one address per VM from their pool.
package network

import (
	"context"
	"fmt"
	"net/netip"

	"go.uber.org/zap"

	"github.com/limiquantix/vmplacer/internal/domain"
	"github.com/limiquantix/vmplacer/internal/placement"
	"github.com/limiquantix/vmplacer/internal/resources"
)

// maxPoolSize caps the address count of one static pool.
const maxPoolSize = 1 << 20

// Service is the network resource service.
type Service struct {
	ledger   *resources.Ledger
	networks map[string]domain.Network // port group -> network
	hosts    map[string]*domain.Host
	logger   *zap.Logger
}

var _ placement.ResourceService = (*Service)(nil)

// New creates a network service.
func New(logger *zap.Logger) *Service {
	return &Service{
		ledger:   resources.NewLedger(),
		networks: make(map[string]domain.Network),
		hosts:    make(map[string]*domain.Host),
		logger:   logger.With(zap.String("component", "resource"), zap.String("service", placement.ServiceNetwork)),
	}
}

// Name returns the service name.
func (s *Service) Name() string {
	return placement.ServiceNetwork
}

// Init sizes the address pool of every static network used by the requested groups.
// Addresses held by VMs already in the datacenter count as used.
func (s *Service) Init(ctx context.Context, run placement.RunContext) error {
	s.ledger.Reset()
	s.networks = make(map[string]domain.Network)
	s.hosts = make(map[string]*domain.Host)

	var vms []*domain.VM
	if run.Datacenter != nil {
		for _, h := range run.Datacenter.Hosts() {
			s.hosts[h.Name] = h
			for _, name := range h.VMNames() {
				vms = append(vms, h.VMs[name])
			}
		}
	}

	for _, g := range run.Groups {
		for _, n := range g.Network.Networks {
			if _, ok := s.networks[n.PortGroup]; ok {
				continue
			}
			s.networks[n.PortGroup] = n
			if !n.IsStatic() {
				continue
			}

			ranges, err := parseRanges(n.IPRanges)
			if err != nil {
				return fmt.Errorf("network %s: %w", n.PortGroup, err)
			}
			var size, used int64
			for _, r := range ranges {
				size += r.Size(maxPoolSize)
			}
			for _, vm := range vms {
				if addr, err := netip.ParseAddr(vm.IPAddress); err == nil && inRanges(ranges, addr) {
					used++
				}
			}
			s.ledger.SetCapacity(ipKey(n.PortGroup), size, used)
			s.logger.Debug("Static address pool", zap.String("port_group", n.PortGroup), zap.String("status", s.ledger.Status(ipKey(n.PortGroup))))
		}
	}
	return nil
}

// Enrich attaches the VM to its port groups.
func (s *Service) Enrich(spec domain.VMSpec, build domain.VMBuild) domain.VMBuild {
	build.Networks = append([]string(nil), spec.PortGroups...)
	return build
}

// CheckCapacity keeps hosts connected to every port group while the static pools have
// an address for each VM.
func (s *Service) CheckCapacity(ctx context.Context, builds []domain.VMBuild, hosts []string) ([]string, error) {
	if !s.ledger.Fits(s.reservations(builds)) {
		s.logger.Debug("Static address pool exhausted")
		return nil, nil
	}

	var out []string
	for _, name := range hosts {
		h, ok := s.hosts[name]
		if !ok {
			continue
		}
		if s.reachable(h, builds) {
			out = append(out, name)
		}
	}
	return out, nil
}

// EvaluateHosts scores every reachable host the same.
func (s *Service) EvaluateHosts(ctx context.Context, builds []domain.VMBuild, hosts []string) (map[string]placement.Score, error) {
	rs := s.reservations(builds)
	scores := make(map[string]placement.Score, len(hosts))
	for _, h := range hosts {
		scores[h] = placement.Score{
			Service:      s.Name(),
			Host:         h,
			Value:        100,
			Reservations: append([]placement.Reservation(nil), rs...),
		}
	}
	return scores, nil
}

// Commit takes the addresses of score.
func (s *Service) Commit(ctx context.Context, score placement.Score) error {
	return s.ledger.AllocateAll(score.Reservations)
}

// Discommit returns the addresses of score.
func (s *Service) Discommit(ctx context.Context, score placement.Score) error {
	return s.ledger.ReleaseAll(score.Reservations)
}

// Available returns the free addresses of a static port group.
func (s *Service) Available(portGroup string) int64 {
	return s.ledger.Available(ipKey(portGroup))
}

func (s *Service) reachable(h *domain.Host, builds []domain.VMBuild) bool {
	for _, b := range builds {
		for _, pg := range b.Networks {
			if !h.HasNetwork(pg) {
				return false
			}
		}
	}
	return true
}

func (s *Service) reservations(builds []domain.VMBuild) []placement.Reservation {
	var rs []placement.Reservation
	for _, b := range builds {
		for _, pg := range b.Networks {
			if n, ok := s.networks[pg]; ok && n.IsStatic() {
				rs = resources.Merge(rs, placement.Reservation{Resource: ipKey(pg), Amount: 1})
			}
		}
	}
	return rs
}

func parseRanges(specs []string) ([]domain.IPRange, error) {
	ranges := make([]domain.IPRange, 0, len(specs))
	for _, spec := range specs {
		r, err := domain.ParseIPRange(spec)
		if err != nil {
			return nil, err
		}
		ranges = append(ranges, r)
	}
	return ranges, nil
}

func inRanges(ranges []domain.IPRange, addr netip.Addr) bool {
	for _, r := range ranges {
		if r.Contains(addr) {
			return true
		}
	}
	return false
}

func ipKey(portGroup string) string { return "ip/" + portGroup }
