// Package memory provides in-memory repository implementations for development and testing.
// These repositories store data in memory and are not persistent across restarts.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/limiquantix/vmplacer/internal/domain"
)

// Ensure RunRepository implements domain.RunRepository
var _ domain.RunRepository = (*RunRepository)(nil)

// RunRepository is an in-memory implementation of the placement run repository.
type RunRepository struct {
	mu   sync.RWMutex
	data map[string]*domain.PlacementRun
}

// NewRunRepository creates a new in-memory run repository.
func NewRunRepository() *RunRepository {
	return &RunRepository{
		data: make(map[string]*domain.PlacementRun),
	}
}

// Save stores a run, replacing any run with the same ID.
func (r *RunRepository) Save(ctx context.Context, run *domain.PlacementRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	stored, err := cloneRun(run)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[run.ID] = stored
	return nil
}

// Get retrieves a run by ID.
func (r *RunRepository) Get(ctx context.Context, id string) (*domain.PlacementRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	run, ok := r.data[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneRun(run)
}

// List returns runs newest first, optionally filtered by cluster.
func (r *RunRepository) List(ctx context.Context, filter domain.RunFilter) ([]*domain.PlacementRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var runs []*domain.PlacementRun
	for _, run := range r.data {
		if filter.Cluster != "" && run.Cluster != filter.Cluster {
			continue
		}
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].StartedAt.After(runs[j].StartedAt)
		}
		return runs[i].ID < runs[j].ID
	})
	if filter.Limit > 0 && len(runs) > filter.Limit {
		runs = runs[:filter.Limit]
	}

	result := make([]*domain.PlacementRun, 0, len(runs))
	for _, run := range runs {
		c, err := cloneRun(run)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, nil
}

// cloneRun deep-copies a run so callers never share state with the store.
func cloneRun(run *domain.PlacementRun) (*domain.PlacementRun, error) {
	data, err := json.Marshal(run)
	if err != nil {
		return nil, err
	}
	var out domain.PlacementRun
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
