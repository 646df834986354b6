// Package resources contains the capacity ledger shared by the reference resource
// services. Services register capacity per key at the start of a run and allocate
// against it on commit.
package resources

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"go.uber.org/multierr"

	"github.com/limiquantix/vmplacer/internal/domain"
	"github.com/limiquantix/vmplacer/internal/placement"
)

// Unlimited marks a key without a capacity limit.
const Unlimited int64 = -1

type entry struct {
	capacity int64
	used     int64
}

// Ledger tracks capacity and usage per key.
type Ledger struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{entries: make(map[string]*entry)}
}

// Reset drops every key.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = make(map[string]*entry)
}

// SetCapacity registers key with its capacity and current usage. A negative capacity
// means unlimited.
func (l *Ledger) SetCapacity(key string, capacity, used int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if capacity < 0 {
		capacity = Unlimited
	}
	l.entries[key] = &entry{capacity: capacity, used: used}
}

// Has reports whether key is registered.
func (l *Ledger) Has(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, ok := l.entries[key]
	return ok
}

// Capacity returns the capacity of key, Unlimited, or 0 for unknown keys.
func (l *Ledger) Capacity(key string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e, ok := l.entries[key]; ok {
		return e.capacity
	}
	return 0
}

// Available returns what is left on key. Unlimited keys report math.MaxInt64 and
// unknown keys report 0.
func (l *Ledger) Available(key string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.available(key)
}

func (l *Ledger) available(key string) int64 {
	e, ok := l.entries[key]
	if !ok {
		return 0
	}
	if e.capacity == Unlimited {
		return math.MaxInt64
	}
	if e.used > e.capacity {
		return 0
	}
	return e.capacity - e.used
}

// Fits reports whether every reservation could be allocated at once.
func (l *Ledger) Fits(reservations []placement.Reservation) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for key, amount := range sum(reservations) {
		if amount > l.available(key) {
			return false
		}
	}
	return true
}

// Allocate reserves amount on key.
func (l *Ledger) Allocate(key string, amount int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.allocate(key, amount)
}

func (l *Ledger) allocate(key string, amount int64) error {
	e, ok := l.entries[key]
	if !ok {
		return fmt.Errorf("%w: unknown resource %s", domain.ErrNotFound, key)
	}
	if amount > l.available(key) {
		return fmt.Errorf("%w: not enough %s available", domain.ErrResourceExhausted, key)
	}
	e.used += amount
	return nil
}

// Release returns amount on key.
func (l *Ledger) Release(key string, amount int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.release(key, amount)
}

func (l *Ledger) release(key string, amount int64) error {
	e, ok := l.entries[key]
	if !ok {
		return fmt.Errorf("%w: unknown resource %s", domain.ErrNotFound, key)
	}
	if amount > e.used {
		return fmt.Errorf("cannot release %d of %s, only %d used", amount, key, e.used)
	}
	e.used -= amount
	return nil
}

// AllocateAll allocates every reservation or none of them.
func (l *Ledger) AllocateAll(reservations []placement.Reservation) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, r := range reservations {
		if err := l.allocate(r.Resource, r.Amount); err != nil {
			for j := i - 1; j >= 0; j-- {
				_ = l.release(reservations[j].Resource, reservations[j].Amount)
			}
			return err
		}
	}
	return nil
}

// ReleaseAll releases every reservation, attempting all of them.
func (l *Ledger) ReleaseAll(reservations []placement.Reservation) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var errs error
	for i := len(reservations) - 1; i >= 0; i-- {
		errs = multierr.Append(errs, l.release(reservations[i].Resource, reservations[i].Amount))
	}
	return errs
}

// Status returns a readable summary of key.
func (l *Ledger) Status(key string) string {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	switch {
	case !ok:
		return key + ": unknown"
	case e.capacity == Unlimited:
		return fmt.Sprintf("%s: used %d, unlimited", key, e.used)
	default:
		return fmt.Sprintf("%s: used %d of %d", key, e.used, e.capacity)
	}
}

// Keys returns the registered keys in sorted order.
func (l *Ledger) Keys() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	keys := make([]string, 0, len(l.entries))
	for k := range l.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Merge adds r to reservations, summing amounts of the same resource.
func Merge(reservations []placement.Reservation, r placement.Reservation) []placement.Reservation {
	for i := range reservations {
		if reservations[i].Resource == r.Resource {
			reservations[i].Amount += r.Amount
			return reservations
		}
	}
	return append(reservations, r)
}

func sum(reservations []placement.Reservation) map[string]int64 {
	out := make(map[string]int64, len(reservations))
	for _, r := range reservations {
		out[r.Resource] += r.Amount
	}
	return out
}
