package network

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/limiquantix/vmplacer/internal/domain"
	"github.com/limiquantix/vmplacer/internal/placement"
)

func testRun(ranges ...string) placement.RunContext {
	dc := domain.NewDatacenter("dc0")
	c := domain.NewCluster("c0")
	c.AddHost(&domain.Host{Name: "h1", Connected: true, Networks: []string{"mgmt", "data"}})
	c.AddHost(&domain.Host{Name: "h2", Connected: true, Networks: []string{"mgmt"}})
	c.Hosts["h1"].AddVM(&domain.VM{Name: "c0-old-0", IPAddress: "10.0.0.10"})
	dc.AddCluster(c)

	g := domain.NewVMGroup("worker")
	g.Network = domain.NetworkResource{
		PortGroups: []string{"mgmt", "data"},
		Networks: []domain.Network{
			{PortGroup: "mgmt", Type: domain.NetworkTypeDHCP},
			{PortGroup: "data", Type: domain.NetworkTypeStatic, IPRanges: ranges},
		},
	}
	return placement.RunContext{Datacenter: dc, Groups: map[string]*domain.VMGroup{"worker": g}}
}

func builds(svc *Service, n int, portGroups ...string) []domain.VMBuild {
	out := make([]domain.VMBuild, n)
	for i := range out {
		out[i] = svc.Enrich(domain.VMSpec{PortGroups: portGroups}, domain.VMBuild{})
	}
	return out
}

func TestInitPoolSize(t *testing.T) {
	t.Parallel()

	svc := New(zap.NewNop())
	require.NoError(t, svc.Init(context.Background(), testRun("10.0.0.10-10.0.0.12", "10.0.1.1")))

	// four addresses, one held by an existing VM
	assert.Equal(t, int64(3), svc.Available("data"))
}

func TestInitBadRange(t *testing.T) {
	t.Parallel()

	svc := New(zap.NewNop())
	err := svc.Init(context.Background(), testRun("10.0.0.12-10.0.0.10"))
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestCheckCapacity(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name       string
		portGroups []string
		count      int
		hosts      []string
	}{
		{name: "dhcp only", portGroups: []string{"mgmt"}, count: 5, hosts: []string{"h1", "h2"}},
		{name: "static reachable from one host", portGroups: []string{"mgmt", "data"}, count: 2, hosts: []string{"h1"}},
		{name: "static pool exhausted", portGroups: []string{"data"}, count: 3, hosts: nil},
		{name: "unknown port group", portGroups: []string{"backup"}, count: 1, hosts: nil},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			svc := New(zap.NewNop())
			require.NoError(t, svc.Init(context.Background(), testRun("10.0.0.10-10.0.0.12")))

			hosts, err := svc.CheckCapacity(context.Background(), builds(svc, testCase.count, testCase.portGroups...), []string{"h1", "h2", "h9"})
			require.NoError(t, err)
			assert.Equal(t, testCase.hosts, hosts)
		})
	}
}

func TestCommitTakesAddresses(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc := New(zap.NewNop())
	require.NoError(t, svc.Init(ctx, testRun("10.0.0.10-10.0.0.12")))

	scores, err := svc.EvaluateHosts(ctx, builds(svc, 2, "mgmt", "data"), []string{"h1"})
	require.NoError(t, err)
	assert.Equal(t, []placement.Reservation{{Resource: "ip/data", Amount: 2}}, scores["h1"].Reservations)

	require.NoError(t, svc.Commit(ctx, scores["h1"]))
	assert.Zero(t, svc.Available("data"))
	assert.Error(t, svc.Commit(ctx, scores["h1"]))

	require.NoError(t, svc.Discommit(ctx, scores["h1"]))
	assert.Equal(t, int64(2), svc.Available("data"))
}
