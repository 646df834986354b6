package planner

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/limiquantix/vmplacer/internal/domain"
	"github.com/limiquantix/vmplacer/internal/groups"
	"github.com/limiquantix/vmplacer/internal/inventory/file"
	"github.com/limiquantix/vmplacer/internal/placement"
	"github.com/limiquantix/vmplacer/internal/plugins"
	"github.com/limiquantix/vmplacer/internal/provision"
	"github.com/limiquantix/vmplacer/internal/repository/memory"
	"github.com/limiquantix/vmplacer/internal/resources/compute"
)

type countingSource struct {
	domain.SnapshotSource
	calls int
}

func (s *countingSource) Snapshot(ctx context.Context) (*domain.Datacenter, error) {
	s.calls++
	return s.SnapshotSource.Snapshot(ctx)
}

type mapCache struct {
	snapshots map[string]*domain.Datacenter
}

func (c *mapCache) GetSnapshot(_ context.Context, datacenter string) (*domain.Datacenter, error) {
	dc, ok := c.snapshots[datacenter]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return dc, nil
}

func (c *mapCache) SetSnapshot(_ context.Context, dc *domain.Datacenter) error {
	c.snapshots[dc.Name] = dc
	return nil
}

type recordedEvent struct {
	eventType string
	runID     string
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (p *recordingPublisher) PublishRunEvent(_ context.Context, eventType string, run *domain.PlacementRun) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, recordedEvent{eventType: eventType, runID: run.ID})
	return nil
}

type fakeWaiter struct {
	vms []*domain.VM
}

func (w *fakeWaiter) WaitReady(_ context.Context, vms []*domain.VM) (*provision.Report, error) {
	w.vms = vms
	report := &provision.Report{Done: []string{}, Failed: map[string]string{}}
	for _, vm := range vms {
		vm.Status = domain.VMStateDone
		report.Done = append(report.Done, vm.Name)
	}
	return report, nil
}

type fixture struct {
	svc    *Service
	runs   *memory.RunRepository
	locker *memory.Locker
	source *countingSource
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	cfg := placement.DefaultConfig()
	f := &fixture{
		runs:   memory.NewRunRepository(),
		locker: memory.NewLocker(),
		source: &countingSource{SnapshotSource: file.NewSource("testdata/datacenter.yaml", zap.NewNop())},
	}
	f.svc = NewService(cfg, plugins.NewRegistry(compute.DefaultConfig()), f.runs, f.source, f.locker, zap.NewNop(), opts...)
	return f
}

func loadSpec(t *testing.T) *groups.ClusterSpec {
	t.Helper()
	spec, err := groups.LoadClusterSpec("testdata/cluster.yaml")
	require.NoError(t, err)
	return spec
}

func TestPlan(t *testing.T) {
	t.Parallel()

	events := &recordingPublisher{}
	index := memory.NewLatestRunIndex()
	f := newFixture(t, WithEvents(events), WithLatestIndex(index))

	run, err := f.svc.Plan(context.Background(), Request{Spec: loadSpec(t)})
	require.NoError(t, err)

	assert.NotEmpty(t, run.ID)
	assert.Equal(t, "hdp", run.Cluster)
	assert.Equal(t, "dc1", run.Datacenter)
	assert.Equal(t, placement.EngineRoundRobin, run.Engine)
	assert.False(t, run.FinishedAt.Before(run.StartedAt))

	require.NotNil(t, run.Result)
	assert.Zero(t, run.Result.FailedCount)

	// hdp-master-0 already exists, so only the workers are new.
	assignments := run.Result.Assignments()
	require.Len(t, assignments, 2)
	hosts := []string{}
	for _, name := range []string{"hdp-worker-0", "hdp-worker-1"} {
		require.Contains(t, assignments, name)
		hosts = append(hosts, assignments[name].Host)
	}
	assert.ElementsMatch(t, []string{"h1", "h2"}, hosts)

	stored, err := f.svc.Get(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, stored.ID)

	latest, err := index.Latest(context.Background(), "hdp")
	require.NoError(t, err)
	assert.Equal(t, run.ID, latest)

	require.Len(t, events.events, 1)
	assert.Equal(t, recordedEvent{eventType: domain.EventPlacementCompleted, runID: run.ID}, events.events[0])

	// The lock is released once the run is recorded.
	lock, err := f.locker.TryLock(context.Background(), "placement/hdp")
	require.NoError(t, err)
	require.NoError(t, lock.Unlock(context.Background()))
}

func TestPlan_Conflict(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	lock, err := f.locker.TryLock(context.Background(), "placement/hdp")
	require.NoError(t, err)
	defer lock.Unlock(context.Background())

	_, err = f.svc.Plan(context.Background(), Request{Spec: loadSpec(t)})
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Zero(t, f.source.calls)
}

func TestPlan_InvalidSpec(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	_, err := f.svc.Plan(context.Background(), Request{})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	spec := loadSpec(t)
	spec.Groups[1].TemplateID = "template"
	_, err = f.svc.Plan(context.Background(), Request{Spec: spec})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	runs, err := f.svc.List(context.Background(), domain.RunFilter{})
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestPlan_FailedGroupRecorded(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	spec := loadSpec(t)
	spec.Groups[1].Memory = 1 << 20

	run, err := f.svc.Plan(context.Background(), Request{Spec: spec})
	require.NoError(t, err)
	assert.Equal(t, 1, run.Result.FailedCount)
	require.Len(t, run.Result.Errors, 1)
	assert.Contains(t, run.Result.Errors[0], "worker")
}

func TestPlan_SnapshotCache(t *testing.T) {
	t.Parallel()

	cache := &mapCache{snapshots: map[string]*domain.Datacenter{}}
	f := newFixture(t, WithSnapshotCache(cache, "dc1"))
	spec := loadSpec(t)

	_, err := f.svc.Plan(context.Background(), Request{Spec: spec})
	require.NoError(t, err)
	assert.Equal(t, 1, f.source.calls)
	assert.Contains(t, cache.snapshots, "dc1")

	_, err = f.svc.Plan(context.Background(), Request{Spec: spec})
	require.NoError(t, err)
	assert.Equal(t, 1, f.source.calls)

	_, err = f.svc.Plan(context.Background(), Request{Spec: spec, Refresh: true})
	require.NoError(t, err)
	assert.Equal(t, 2, f.source.calls)
}

func TestLatest(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	_, err := f.svc.Latest(context.Background(), "hdp")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	run, err := f.svc.Plan(context.Background(), Request{Spec: loadSpec(t)})
	require.NoError(t, err)

	latest, err := f.svc.Latest(context.Background(), "hdp")
	require.NoError(t, err)
	assert.Equal(t, run.ID, latest.ID)
}

func TestWaitReady(t *testing.T) {
	t.Parallel()

	waiter := &fakeWaiter{}
	events := &recordingPublisher{}
	f := newFixture(t, WithWaiter(waiter), WithEvents(events))

	run := &domain.PlacementRun{
		ID:      "run-1",
		Cluster: "hdp",
		Result: &domain.PlacementResult{
			Placed: []domain.GroupPlacement{{
				Group: "master",
				Assignments: []domain.Assignment{
					{VM: "hdp-master-0", Group: "master", Host: "h1", Build: domain.VMBuild{Spec: domain.VMSpec{Name: "hdp-master-0", HA: domain.HAOn}}},
					{VM: "hdp-master-1", Group: "master", Host: "h2", Build: domain.VMBuild{Spec: domain.VMSpec{Name: "hdp-master-1", HA: domain.HAOn}}},
				},
			}},
		},
	}
	require.NoError(t, f.runs.Save(context.Background(), run))

	report, err := f.svc.WaitReady(context.Background(), "run-1")
	require.NoError(t, err)

	assert.Equal(t, []string{"hdp-master-0"}, report.Done)
	assert.Equal(t, map[string]string{"hdp-master-1": "vm not found in inventory"}, report.Failed)

	require.Len(t, waiter.vms, 1)
	vm := waiter.vms[0]
	assert.True(t, vm.HAEnabled)
	assert.True(t, vm.CanHA)
	assert.Equal(t, "master", vm.Group)

	require.Len(t, events.events, 1)
	assert.Equal(t, domain.EventPlacementReady, events.events[0].eventType)
}

func TestWaitReady_NoWaiter(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.svc.WaitReady(context.Background(), "run-1")
	assert.True(t, errors.Is(err, domain.ErrUnavailable))
}

func TestPlan_SnapshotCacheLearnsDatacenter(t *testing.T) {
	t.Parallel()

	cache := &mapCache{snapshots: map[string]*domain.Datacenter{}}
	f := newFixture(t, WithSnapshotCache(cache, ""))
	spec := loadSpec(t)

	for i := 0; i < 2; i++ {
		_, err := f.svc.Plan(context.Background(), Request{Spec: spec})
		require.NoError(t, err)
	}
	assert.Equal(t, 1, f.source.calls)
	assert.Contains(t, cache.snapshots, "dc1")
}
