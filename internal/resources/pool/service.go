// Package pool implements the resource pool service: VMs are charged against the
// memory limit of the first requested pool with room in the host's cluster.
package pool

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/limiquantix/vmplacer/internal/domain"
	"github.com/limiquantix/vmplacer/internal/placement"
	"github.com/limiquantix/vmplacer/internal/resources"
)

// Service is the resource pool service.
type Service struct {
	ledger      *resources.Ledger
	hostCluster map[string]string
	logger      *zap.Logger
}

var _ placement.ResourceService = (*Service)(nil)

// New creates a resource pool service.
func New(logger *zap.Logger) *Service {
	return &Service{
		ledger:      resources.NewLedger(),
		hostCluster: make(map[string]string),
		logger:      logger.With(zap.String("component", "resource"), zap.String("service", placement.ServiceResourcePool)),
	}
}

// Name returns the service name.
func (s *Service) Name() string {
	return placement.ServiceResourcePool
}

// Init registers the memory limit of every resource pool.
func (s *Service) Init(ctx context.Context, run placement.RunContext) error {
	s.ledger.Reset()
	s.hostCluster = make(map[string]string)
	if run.Datacenter == nil {
		return nil
	}

	for _, name := range run.Datacenter.ClusterNames() {
		c := run.Datacenter.Clusters[name]
		for _, rp := range c.ResourcePools {
			s.ledger.SetCapacity(rp.Key(), rp.MemoryLimitMiB, rp.MemoryUsedMiB)
		}
		for host := range c.Hosts {
			s.hostCluster[host] = c.Name
		}
	}
	return nil
}

// Enrich sets the candidate pools in request order: clusters by name, pools as listed.
func (s *Service) Enrich(spec domain.VMSpec, build domain.VMBuild) domain.VMBuild {
	clusters := make([]string, 0, len(spec.ResourcePools))
	for cluster := range spec.ResourcePools {
		clusters = append(clusters, cluster)
	}
	sort.Strings(clusters)

	var pools []string
	for _, cluster := range clusters {
		for _, name := range spec.ResourcePools[cluster] {
			key := cluster + "/" + name
			if s.ledger.Has(key) {
				pools = append(pools, key)
			}
		}
	}
	build.ResourcePools = pools
	return build
}

// CheckCapacity keeps hosts whose cluster has a requested pool with room.
func (s *Service) CheckCapacity(ctx context.Context, builds []domain.VMBuild, hosts []string) ([]string, error) {
	var out []string
	for _, h := range hosts {
		if _, _, ok := s.choose(h, builds); ok {
			out = append(out, h)
		}
	}
	return out, nil
}

// EvaluateHosts prefers hosts whose first requested pool has room.
func (s *Service) EvaluateHosts(ctx context.Context, builds []domain.VMBuild, hosts []string) (map[string]placement.Score, error) {
	scores := make(map[string]placement.Score, len(hosts))
	for _, h := range hosts {
		key, rank, ok := s.choose(h, builds)
		if !ok {
			continue
		}
		scores[h] = placement.Score{
			Service:      s.Name(),
			Host:         h,
			Value:        100 / float64(rank+1),
			Reservations: []placement.Reservation{{Resource: key, Amount: memory(builds)}},
		}
	}
	return scores, nil
}

// Commit charges the chosen pool.
func (s *Service) Commit(ctx context.Context, score placement.Score) error {
	return s.ledger.AllocateAll(score.Reservations)
}

// Discommit refunds the chosen pool.
func (s *Service) Discommit(ctx context.Context, score placement.Score) error {
	return s.ledger.ReleaseAll(score.Reservations)
}

// Status returns the usage of pool "<cluster>/<pool>".
func (s *Service) Status(key string) string {
	return s.ledger.Status(key)
}

// choose returns the first requested pool of host's cluster with room for the builds
// and its rank among the requested pools.
func (s *Service) choose(host string, builds []domain.VMBuild) (string, int, bool) {
	if len(builds) == 0 {
		return "", 0, false
	}
	cluster, ok := s.hostCluster[host]
	if !ok {
		return "", 0, false
	}

	need := memory(builds)
	for rank, key := range builds[0].ResourcePools {
		if !strings.HasPrefix(key, cluster+"/") {
			continue
		}
		if s.ledger.Available(key) >= need {
			return key, rank, true
		}
	}
	return "", 0, false
}

func memory(builds []domain.VMBuild) int64 {
	var total int64
	for _, b := range builds {
		total += int64(b.MemoryMiB)
	}
	return total
}
