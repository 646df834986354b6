package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/limiquantix/vmplacer/internal/domain"
)

// Ensure Locker implements domain.Locker
var _ domain.Locker = (*Locker)(nil)

// Locker hands out process-local named locks.
type Locker struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewLocker creates a new in-process locker.
func NewLocker() *Locker {
	return &Locker{held: make(map[string]bool)}
}

// TryLock takes the named lock or returns domain.ErrConflict when it is held.
func (l *Locker) TryLock(ctx context.Context, key string) (domain.Lock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held[key] {
		return nil, fmt.Errorf("%w: lock %s is held", domain.ErrConflict, key)
	}
	l.held[key] = true
	return &lock{locker: l, key: key}, nil
}

type lock struct {
	locker *Locker
	key    string
	once   sync.Once
}

func (k *lock) Unlock(ctx context.Context) error {
	k.once.Do(func() {
		k.locker.mu.Lock()
		defer k.locker.mu.Unlock()
		delete(k.locker.held, k.key)
	})
	return nil
}

// LatestRunIndex keeps the latest run ID of each cluster in memory.
type LatestRunIndex struct {
	mu     sync.RWMutex
	latest map[string]string
}

// Ensure LatestRunIndex implements domain.LatestRunIndex
var _ domain.LatestRunIndex = (*LatestRunIndex)(nil)

// NewLatestRunIndex creates an empty index.
func NewLatestRunIndex() *LatestRunIndex {
	return &LatestRunIndex{latest: make(map[string]string)}
}

// SetLatest records runID as the latest run of cluster.
func (i *LatestRunIndex) SetLatest(ctx context.Context, cluster, runID string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.latest[cluster] = runID
	return nil
}

// Latest returns the latest run ID of cluster.
func (i *LatestRunIndex) Latest(ctx context.Context, cluster string) (string, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	id, ok := i.latest[cluster]
	if !ok {
		return "", domain.ErrNotFound
	}
	return id, nil
}
