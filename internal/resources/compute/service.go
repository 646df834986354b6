package compute

import (
	"context"

	"go.uber.org/zap"

	"github.com/limiquantix/vmplacer/internal/domain"
	"github.com/limiquantix/vmplacer/internal/placement"
	"github.com/limiquantix/vmplacer/internal/resources"
)

// Service is the compute resource service.
type Service struct {
	config Config
	ledger *resources.Ledger
	logger *zap.Logger
}

var _ placement.ResourceService = (*Service)(nil)

// New creates a compute service.
func New(cfg Config, logger *zap.Logger) *Service {
	return &Service{
		config: cfg,
		ledger: resources.NewLedger(),
		logger: logger.With(zap.String("component", "resource"), zap.String("service", placement.ServiceCompute)),
	}
}

// Name returns the service name.
func (s *Service) Name() string {
	return placement.ServiceCompute
}

// Init registers the allocatable CPU and memory of every schedulable host.
func (s *Service) Init(ctx context.Context, run placement.RunContext) error {
	s.ledger.Reset()
	if run.Datacenter == nil {
		return nil
	}

	for _, h := range run.Datacenter.Hosts() {
		if !h.IsSchedulable() {
			s.logger.Debug("Skipping unschedulable host",
				zap.String("host", h.Name),
				zap.Bool("connected", h.Connected),
				zap.Bool("in_maintenance", h.InMaintenance),
			)
			continue
		}
		s.ledger.SetCapacity(cpuKey(h.Name), s.allocatableCPU(h), int64(h.UsedCPU()))
		s.ledger.SetCapacity(memKey(h.Name), s.allocatableMemory(h), h.UsedMemoryMiB())
	}
	return nil
}

// Enrich sets CPU and memory, falling back to the defaults.
func (s *Service) Enrich(spec domain.VMSpec, build domain.VMBuild) domain.VMBuild {
	build.CPU = spec.CPU
	if build.CPU <= 0 {
		build.CPU = domain.DefaultCPU
	}
	build.MemoryMiB = spec.MemoryMiB
	if build.MemoryMiB <= 0 {
		build.MemoryMiB = domain.DefaultMemoryMiB
	}
	return build
}

// CheckCapacity keeps schedulable hosts with room for every build.
func (s *Service) CheckCapacity(ctx context.Context, builds []domain.VMBuild, hosts []string) ([]string, error) {
	var out []string
	for _, h := range hosts {
		if !s.ledger.Has(cpuKey(h)) {
			continue
		}
		if s.ledger.Fits(reservations(h, builds)) {
			out = append(out, h)
			continue
		}
		s.logger.Debug("Insufficient compute capacity",
			zap.String("host", h),
			zap.String("cpu", s.ledger.Status(cpuKey(h))),
			zap.String("memory", s.ledger.Status(memKey(h))),
		)
	}
	return out, nil
}

// EvaluateHosts scores hosts by the capacity left after placing the builds: up to 50
// points for CPU and 50 for memory.
func (s *Service) EvaluateHosts(ctx context.Context, builds []domain.VMBuild, hosts []string) (map[string]placement.Score, error) {
	scores := make(map[string]placement.Score, len(hosts))
	for _, h := range hosts {
		rs := reservations(h, builds)
		scores[h] = placement.Score{
			Service:      s.Name(),
			Host:         h,
			Value:        s.remaining(cpuKey(h), rs[0].Amount)*50 + s.remaining(memKey(h), rs[1].Amount)*50,
			Reservations: rs,
		}
	}
	return scores, nil
}

// Commit allocates the CPU and memory of score.
func (s *Service) Commit(ctx context.Context, score placement.Score) error {
	return s.ledger.AllocateAll(score.Reservations)
}

// Discommit releases the CPU and memory of score.
func (s *Service) Discommit(ctx context.Context, score placement.Score) error {
	return s.ledger.ReleaseAll(score.Reservations)
}

// Available returns the free CPU cores and memory of host.
func (s *Service) Available(host string) (int64, int64) {
	return s.ledger.Available(cpuKey(host)), s.ledger.Available(memKey(host))
}

// allocatableCPU returns the allocatable CPU cores for a host.
func (s *Service) allocatableCPU(h *domain.Host) int64 {
	total := float64(h.CPUCores) - float64(s.config.ReservedCPUCores)
	if total < 0 {
		total = 0
	}
	return int64(total * s.config.OvercommitCPU)
}

// allocatableMemory returns the allocatable memory in MiB for a host.
func (s *Service) allocatableMemory(h *domain.Host) int64 {
	total := float64(h.MemoryMiB) - float64(s.config.ReservedMemoryMiB)
	if total < 0 {
		total = 0
	}
	return int64(total * s.config.OvercommitMemory)
}

// remaining returns the fraction of key left after requesting amount.
func (s *Service) remaining(key string, amount int64) float64 {
	capacity := s.ledger.Capacity(key)
	if capacity <= 0 {
		return 0
	}
	left := float64(s.ledger.Available(key)-amount) / float64(capacity)
	if left < 0 {
		return 0
	}
	return left
}

func reservations(host string, builds []domain.VMBuild) []placement.Reservation {
	var cpu, mem int64
	for _, b := range builds {
		cpu += int64(b.CPU)
		mem += int64(b.MemoryMiB)
	}
	return []placement.Reservation{
		{Resource: cpuKey(host), Amount: cpu},
		{Resource: memKey(host), Amount: mem},
	}
}

func cpuKey(host string) string { return "cpu/" + host }

func memKey(host string) string { return "memory/" + host }
