package placement

import (
	"context"

	"github.com/limiquantix/vmplacer/internal/domain"
)

// RunContext is what resource services and engines receive at the start of a run.
type RunContext struct {
	Datacenter *domain.Datacenter
	Groups     map[string]*domain.VMGroup
	Config     Config
}

// Reservation is one amount a service reserves on commit.
type Reservation struct {
	Resource string `json:"resource"`
	Amount   int64  `json:"amount"`
}

// Score is a service's evaluation of one host for one virtual node. It carries the
// exact reservations a commit of this host makes, so a discommit can invert it.
type Score struct {
	Service      string        `json:"service"`
	Host         string        `json:"host"`
	Value        float64       `json:"value"`
	Reservations []Reservation `json:"reservations,omitempty"`
}

// ResourceService evaluates one resource dimension.
type ResourceService interface {
	// Name returns the unique service name.
	Name() string

	// Init prepares per-run state. Calling it again starts a fresh run.
	Init(ctx context.Context, run RunContext) error

	// Enrich returns build with this service's fields filled in.
	Enrich(spec domain.VMSpec, build domain.VMBuild) domain.VMBuild

	// CheckCapacity returns the hosts able to take every build. An empty result means
	// no capacity.
	CheckCapacity(ctx context.Context, builds []domain.VMBuild, hosts []string) ([]string, error)

	// EvaluateHosts scores each host. Scores are only comparable within one service.
	EvaluateHosts(ctx context.Context, builds []domain.VMBuild, hosts []string) (map[string]Score, error)

	// Commit reserves what score describes. An error means the reservation could not be made.
	Commit(ctx context.Context, score Score) error

	// Discommit releases a previous successful commit of score.
	Discommit(ctx context.Context, score Score) error
}

// Engine decides how groups are decomposed and which host gets each virtual node.
type Engine interface {
	// Name returns the engine name.
	Name() string

	// Init prepares per-run state.
	Init(ctx context.Context, run RunContext) error

	// VirtualGroups batches the requested groups in placement order.
	VirtualGroups(groups map[string]*domain.VMGroup) []*domain.VirtualGroup

	// VirtualNodes decomposes the remaining instances of a virtual group. VMs already
	// existing or placed are skipped.
	VirtualNodes(vg *domain.VirtualGroup, existing, placed map[string]*domain.VM) ([]domain.VirtualNode, error)

	// SelectHost picks one host from the per-host scores, keyed host then service.
	// It returns false when no host is acceptable.
	SelectHost(specs []domain.VMSpec, scores map[string]map[string]Score) (string, bool)

	// AssignHost is called after every service committed host for specs.
	AssignHost(specs []domain.VMSpec, host string)
}
