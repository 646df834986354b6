package domain

import "context"

// RunFilter selects placement runs.
type RunFilter struct {
	Cluster string
	Limit   int
}

// RunRepository stores placement runs.
type RunRepository interface {
	Save(ctx context.Context, run *PlacementRun) error
	Get(ctx context.Context, id string) (*PlacementRun, error)
	// List returns runs newest first.
	List(ctx context.Context, filter RunFilter) ([]*PlacementRun, error)
}

// LatestRunIndex points at the most recent run of each cluster.
type LatestRunIndex interface {
	SetLatest(ctx context.Context, cluster, runID string) error
	Latest(ctx context.Context, cluster string) (string, error)
}

// Lock is a held lock.
type Lock interface {
	Unlock(ctx context.Context) error
}

// Locker hands out named locks. TryLock returns ErrConflict when the lock is held.
type Locker interface {
	TryLock(ctx context.Context, key string) (Lock, error)
}

// SnapshotSource reads the current datacenter inventory.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (*Datacenter, error)
}

// SnapshotCache caches datacenter snapshots. GetSnapshot returns ErrNotFound on a miss.
type SnapshotCache interface {
	GetSnapshot(ctx context.Context, datacenter string) (*Datacenter, error)
	SetSnapshot(ctx context.Context, dc *Datacenter) error
}

// EventPublisher publishes placement run events.
type EventPublisher interface {
	PublishRunEvent(ctx context.Context, eventType string, run *PlacementRun) error
}

// Placement run event types.
const (
	EventPlacementCompleted = "placement.completed"
	EventPlacementReady     = "placement.ready"
)
