// Package storage implements the storage resource service. It picks datastores for
// the system and data disks of every VM and reserves their space.
package storage

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/limiquantix/vmplacer/internal/domain"
	"github.com/limiquantix/vmplacer/internal/placement"
	"github.com/limiquantix/vmplacer/internal/resources"
)

type datastore struct {
	name   string
	key    string
	shared bool
}

// Service is the storage resource service.
type Service struct {
	ledger     *resources.Ledger
	datastores map[string][]datastore // host -> datastores sorted by name
	debug      bool
	logger     *zap.Logger
}

var _ placement.ResourceService = (*Service)(nil)

// New creates a storage service.
func New(logger *zap.Logger) *Service {
	return &Service{
		ledger:     resources.NewLedger(),
		datastores: make(map[string][]datastore),
		logger:     logger.With(zap.String("component", "resource"), zap.String("service", placement.ServiceStorage)),
	}
}

// Name returns the service name.
func (s *Service) Name() string {
	return placement.ServiceStorage
}

// Init registers the free space of every datastore. A shared datastore is one entry
// no matter how many hosts mount it.
func (s *Service) Init(ctx context.Context, run placement.RunContext) error {
	s.ledger.Reset()
	s.datastores = make(map[string][]datastore)
	s.debug = run.Config.Debug
	if run.Datacenter == nil {
		return nil
	}

	for _, h := range run.Datacenter.Hosts() {
		list := make([]datastore, 0, len(h.Datastores))
		for _, ds := range h.Datastores {
			key := datastoreKey(h.Name, ds)
			if !s.ledger.Has(key) {
				s.ledger.SetCapacity(key, ds.CapacityMiB, ds.CapacityMiB-ds.FreeMiB)
			}
			list = append(list, datastore{name: ds.Name, key: key, shared: ds.Shared})
		}
		sort.Slice(list, func(i, j int) bool { return list[i].name < list[j].name })
		s.datastores[h.Name] = list
	}
	return nil
}

// Enrich adds the system disk and, unless the data disk is ephemeral, the data disk.
func (s *Service) Enrich(spec domain.VMSpec, build domain.VMBuild) domain.VMBuild {
	build.SystemDisk = &domain.DiskRequest{
		SizeMiB: spec.SystemSizeMiB,
		Shared:  spec.SystemShared,
		Mode:    spec.SystemMode,
	}
	build.DataDisk = nil
	if spec.DataSizeMiB > 0 {
		build.DataDisk = &domain.DiskRequest{
			SizeMiB:  spec.DataSizeMiB,
			Shared:   spec.DataShared,
			Mode:     spec.DataMode,
			Affinity: spec.DataAffinity,
		}
	}
	return build
}

// CheckCapacity keeps hosts with datastores for every disk of every build.
func (s *Service) CheckCapacity(ctx context.Context, builds []domain.VMBuild, hosts []string) ([]string, error) {
	var out []string
	for _, h := range hosts {
		if _, _, ok := s.plan(h, builds); ok {
			out = append(out, h)
		}
	}
	return out, nil
}

// EvaluateHosts scores hosts by the free space left on the chosen datastores.
func (s *Service) EvaluateHosts(ctx context.Context, builds []domain.VMBuild, hosts []string) (map[string]placement.Score, error) {
	scores := make(map[string]placement.Score, len(hosts))
	for _, h := range hosts {
		rs, value, ok := s.plan(h, builds)
		if !ok {
			continue
		}
		if s.debug {
			s.logger.Debug("Datastores chosen", zap.String("host", h), zap.Any("reservations", rs))
		}
		scores[h] = placement.Score{Service: s.Name(), Host: h, Value: value, Reservations: rs}
	}
	return scores, nil
}

// Commit reserves the datastore space of score.
func (s *Service) Commit(ctx context.Context, score placement.Score) error {
	return s.ledger.AllocateAll(score.Reservations)
}

// Discommit releases the datastore space of score.
func (s *Service) Discommit(ctx context.Context, score placement.Score) error {
	return s.ledger.ReleaseAll(score.Reservations)
}

// Available returns the free space of a datastore on host.
func (s *Service) Available(host, name string) int64 {
	for _, ds := range s.datastores[host] {
		if ds.name == name {
			return s.ledger.Available(ds.key)
		}
	}
	return 0
}

// plan assigns every disk of builds to a datastore of host. Each disk goes to the
// matching datastore with the most free space, ties by name. A bisected data disk is
// split in two halves that prefer different datastores.
func (s *Service) plan(host string, builds []domain.VMBuild) ([]placement.Reservation, float64, bool) {
	candidates, ok := s.datastores[host]
	if !ok {
		return nil, 0, false
	}

	avail := make(map[string]int64)
	free := func(key string) int64 {
		if v, ok := avail[key]; ok {
			return v
		}
		v := s.ledger.Available(key)
		avail[key] = v
		return v
	}

	var rs []placement.Reservation
	place := func(patterns domain.Patterns, shared bool, size int64, avoid string) (string, bool) {
		best, fallback := "", ""
		bestFree := int64(-1)
		for _, ds := range candidates {
			if ds.shared != shared || !matches(patterns, ds.name) {
				continue
			}
			f := free(ds.key)
			if f < size {
				continue
			}
			if ds.key == avoid {
				fallback = ds.key
				continue
			}
			if f > bestFree {
				best, bestFree = ds.key, f
			}
		}
		if best == "" {
			best = fallback
		}
		if best == "" {
			return "", false
		}
		avail[best] -= size
		rs = resources.Merge(rs, placement.Reservation{Resource: best, Amount: size})
		return best, true
	}

	for _, b := range builds {
		patterns := b.Spec.DatastorePatterns
		if d := b.SystemDisk; d != nil && d.SizeMiB > 0 {
			if _, ok := place(patterns, d.Shared, int64(d.SizeMiB), ""); !ok {
				return nil, 0, false
			}
		}

		d := b.DataDisk
		if d == nil || d.SizeMiB <= 0 {
			continue
		}
		if !b.Spec.DiskBisect {
			if _, ok := place(patterns, d.Shared, int64(d.SizeMiB), ""); !ok {
				return nil, 0, false
			}
			continue
		}
		half := int64(d.SizeMiB) / 2
		first, ok := place(patterns, d.Shared, int64(d.SizeMiB)-half, "")
		if !ok {
			return nil, 0, false
		}
		if _, ok := place(patterns, d.Shared, half, first); !ok {
			return nil, 0, false
		}
	}

	var left, capacity int64
	for _, r := range rs {
		left += avail[r.Resource]
		capacity += s.ledger.Capacity(r.Resource)
	}
	value := 100.0
	if capacity > 0 {
		value = float64(left) / float64(capacity) * 100
	}
	return rs, value, true
}

// matches reports whether name matches a pattern. No patterns means any datastore.
func matches(patterns domain.Patterns, name string) bool {
	return len(patterns) == 0 || patterns.MatchAny(name)
}

func datastoreKey(host string, ds domain.Datastore) string {
	if ds.Shared {
		return "datastore/" + ds.Name
	}
	return "datastore/" + host + "/" + ds.Name
}
