package compute

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/limiquantix/vmplacer/internal/domain"
	"github.com/limiquantix/vmplacer/internal/placement"
)

func testRun() placement.RunContext {
	dc := domain.NewDatacenter("dc0")
	c := domain.NewCluster("c0")
	c.AddHost(&domain.Host{Name: "small", CPUCores: 5, MemoryMiB: 9216, Connected: true})
	c.AddHost(&domain.Host{Name: "large", CPUCores: 17, MemoryMiB: 33792, Connected: true})
	c.AddHost(&domain.Host{Name: "maint", CPUCores: 17, MemoryMiB: 33792, Connected: true, InMaintenance: true})
	c.AddHost(&domain.Host{Name: "down", CPUCores: 17, MemoryMiB: 33792})
	c.Hosts["small"].AddVM(&domain.VM{Name: "c0-old-0", CPU: 2, MemoryMiB: 4096})
	dc.AddCluster(c)
	return placement.RunContext{Datacenter: dc, Config: placement.DefaultConfig()}
}

func builds(n, cpu, mem int) []domain.VMBuild {
	out := make([]domain.VMBuild, n)
	for i := range out {
		out[i] = domain.VMBuild{CPU: cpu, MemoryMiB: mem}
	}
	return out
}

func TestInitCapacity(t *testing.T) {
	t.Parallel()

	svc := New(DefaultConfig(), zap.NewNop())
	require.NoError(t, svc.Init(context.Background(), testRun()))

	cpu, mem := svc.Available("small")
	assert.Equal(t, int64(2), cpu) // (5 - 1) - 2 used
	assert.Equal(t, int64(4096), mem)

	cpu, mem = svc.Available("maint")
	assert.Zero(t, cpu)
	assert.Zero(t, mem)
}

func TestInitOvercommit(t *testing.T) {
	t.Parallel()

	cfg := Config{OvercommitCPU: 2, OvercommitMemory: 1.5}
	svc := New(cfg, zap.NewNop())
	require.NoError(t, svc.Init(context.Background(), testRun()))

	cpu, mem := svc.Available("large")
	assert.Equal(t, int64(34), cpu)
	assert.Equal(t, int64(50688), mem)
}

func TestCheckCapacity(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		builds []domain.VMBuild
		hosts  []string
	}{
		{
			name:   "fits everywhere",
			builds: builds(1, 2, 2048),
			hosts:  []string{"large", "small"},
		},
		{
			name:   "cpu too small",
			builds: builds(1, 4, 2048),
			hosts:  []string{"large"},
		},
		{
			name:   "whole node",
			builds: builds(2, 1, 4096),
			hosts:  []string{"large"},
		},
		{
			name:   "nothing fits",
			builds: builds(1, 64, 2048),
			hosts:  nil,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			svc := New(DefaultConfig(), zap.NewNop())
			require.NoError(t, svc.Init(context.Background(), testRun()))

			hosts, err := svc.CheckCapacity(context.Background(), testCase.builds, []string{"down", "large", "maint", "small"})
			require.NoError(t, err)
			assert.Equal(t, testCase.hosts, hosts)
		})
	}
}

func TestEvaluateCommitDiscommit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc := New(DefaultConfig(), zap.NewNop())
	require.NoError(t, svc.Init(ctx, testRun()))

	scores, err := svc.EvaluateHosts(ctx, builds(1, 2, 2048), []string{"small", "large"})
	require.NoError(t, err)
	assert.Greater(t, scores["large"].Value, scores["small"].Value)
	assert.Equal(t, []placement.Reservation{
		{Resource: "cpu/large", Amount: 2},
		{Resource: "memory/large", Amount: 2048},
	}, scores["large"].Reservations)

	require.NoError(t, svc.Commit(ctx, scores["small"]))
	cpu, mem := svc.Available("small")
	assert.Zero(t, cpu)
	assert.Equal(t, int64(2048), mem)

	assert.Error(t, svc.Commit(ctx, scores["small"]))
	cpu, _ = svc.Available("small")
	assert.Zero(t, cpu)

	require.NoError(t, svc.Discommit(ctx, scores["small"]))
	cpu, mem = svc.Available("small")
	assert.Equal(t, int64(2), cpu)
	assert.Equal(t, int64(4096), mem)
}

func TestEnrichDefaults(t *testing.T) {
	t.Parallel()

	svc := New(DefaultConfig(), zap.NewNop())

	b := svc.Enrich(domain.VMSpec{Name: "c0-w-0"}, domain.VMBuild{})
	assert.Equal(t, domain.DefaultCPU, b.CPU)
	assert.Equal(t, domain.DefaultMemoryMiB, b.MemoryMiB)

	b = svc.Enrich(domain.VMSpec{CPU: 4, MemoryMiB: 8192}, domain.VMBuild{Networks: []string{"kept"}})
	assert.Equal(t, 4, b.CPU)
	assert.Equal(t, 8192, b.MemoryMiB)
	assert.Equal(t, []string{"kept"}, b.Networks)
}
