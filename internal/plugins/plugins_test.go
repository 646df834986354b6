package plugins

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/limiquantix/vmplacer/internal/domain"
	"github.com/limiquantix/vmplacer/internal/placement"
	"github.com/limiquantix/vmplacer/internal/resources/compute"
)

func testDatacenter(sharedFree int64) *domain.Datacenter {
	dc := domain.NewDatacenter("dc0")
	c := domain.NewCluster("c0")
	c.AddResourcePool(&domain.ResourcePool{Name: "rp0", MemoryLimitMiB: -1})
	for _, name := range []string{"h1", "h2", "h3"} {
		c.AddHost(&domain.Host{
			Name:      name,
			CPUCores:  16,
			MemoryMiB: 65536,
			Connected: true,
			Networks:  []string{"VM Network"},
			Datastores: []domain.Datastore{
				{Name: "san-01", CapacityMiB: 1 << 20, FreeMiB: sharedFree, Shared: true},
			},
		})
	}
	dc.AddCluster(c)
	return dc
}

func workerGroup() *domain.VMGroup {
	g := domain.NewVMGroup("worker")
	g.Instances = 2
	g.Requirement = domain.ResourceRequirement{
		CPU:         2,
		MemoryMiB:   2048,
		DiskSizeMiB: 10 * domain.DiskSizeUnit,
		DiskType:    domain.DiskTypeShared,
		TemplateID:  "vm-1001",
	}
	g.ResourcePools["c0"] = []string{"rp0"}
	g.Network = domain.NetworkResource{
		PortGroups: []string{"VM Network"},
		Networks:   []domain.Network{{PortGroup: "VM Network", Type: domain.NetworkTypeDHCP}},
	}
	return g
}

func newService(t *testing.T, engine string) *placement.Service {
	t.Helper()

	cfg := placement.DefaultConfig()
	cfg.ClusterName = "c0"
	cfg.Engine = engine

	r := NewRegistry(compute.DefaultConfig())
	e, services, err := r.Build(cfg, zap.NewNop())
	require.NoError(t, err)

	svc, err := placement.New(cfg, e, services, zap.NewNop())
	require.NoError(t, err)
	return svc
}

func TestNewRegistry(t *testing.T) {
	t.Parallel()

	r := NewRegistry(compute.DefaultConfig())
	assert.Equal(t, []string{"compute", "network", "resource_pool", "storage"}, r.ServiceNames())
	assert.Equal(t, []string{"roundrobin", "weighted"}, r.EngineNames())

	cfg := placement.DefaultConfig()
	cfg.Engine = placement.EngineWeighted
	cfg.Strategy = "random"
	_, _, err := r.Build(cfg, zap.NewNop())
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestPlacementRoundRobin(t *testing.T) {
	t.Parallel()

	svc := newService(t, placement.EngineRoundRobin)
	groups := map[string]*domain.VMGroup{"worker": workerGroup()}

	result, err := svc.ClusterPlacement(context.Background(), testDatacenter(1<<19), groups, nil, nil)
	require.NoError(t, err)

	assert.Zero(t, result.FailedCount)
	require.Len(t, result.Placed, 1)
	assignments := result.Assignments()
	require.Len(t, assignments, 2)
	assert.Equal(t, "h1", assignments["c0-worker-0"].Host)
	assert.Equal(t, "h2", assignments["c0-worker-1"].Host)

	build := assignments["c0-worker-0"].Build
	assert.Equal(t, 2, build.CPU)
	assert.Equal(t, []string{"c0/rp0"}, build.ResourcePools)
	assert.Equal(t, []string{"VM Network"}, build.Networks)
	require.NotNil(t, build.DataDisk)
	assert.Equal(t, 10240, build.DataDisk.SizeMiB)
}

func TestPlacementNoDatastore(t *testing.T) {
	t.Parallel()

	svc := newService(t, placement.EngineRoundRobin)
	groups := map[string]*domain.VMGroup{"worker": workerGroup()}

	result, err := svc.ClusterPlacement(context.Background(), testDatacenter(1024), groups, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, result.FailedCount)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "no hosts match resources requirement")
	assert.Empty(t, result.Placed)
}

func TestPlacementWeightedSpread(t *testing.T) {
	t.Parallel()

	svc := newService(t, placement.EngineWeighted)
	g := workerGroup()
	g.Instances = 3
	groups := map[string]*domain.VMGroup{"worker": g}

	result, err := svc.ClusterPlacement(context.Background(), testDatacenter(1<<19), groups, nil, nil)
	require.NoError(t, err)
	require.Zero(t, result.FailedCount)

	hosts := map[string]bool{}
	for _, a := range result.Assignments() {
		hosts[a.Host] = true
	}
	assert.Len(t, hosts, 3)
}
