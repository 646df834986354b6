package groups

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/limiquantix/vmplacer/internal/domain"
)

func loadGroups(t *testing.T) (*ClusterSpec, map[string]*domain.VMGroup) {
	t.Helper()

	spec, err := LoadClusterSpec("testdata/cluster.yaml")
	require.NoError(t, err)

	groups, err := NewBuilder(spec.Name, spec.RackMap(nil), zap.NewNop()).FromSpec(spec)
	require.NoError(t, err)
	return spec, groups
}

func TestFromSpec(t *testing.T) {
	t.Parallel()

	_, groups := loadGroups(t)
	require.Len(t, groups, 3)

	master := groups["master"]
	assert.Equal(t, 1, master.Instances)
	assert.Equal(t, 2, master.Requirement.CPU)
	assert.Equal(t, 4096, master.Requirement.MemoryMiB)
	assert.Equal(t, 50*1024, master.Requirement.DiskSizeMiB)
	assert.Equal(t, domain.HAOn, master.Requirement.HA)
	assert.Equal(t, "vm-1001", master.Requirement.TemplateID)
	assert.Equal(t, []string{"^san-.*$"}, master.Requirement.DiskPatterns.Strings())
	assert.Equal(t, map[string][]string{"c0": {"rp0", "rp1"}}, master.ResourcePools)
	assert.Equal(t, []string{"VM Network", "data"}, master.Network.PortGroups)
	assert.False(t, master.Requirement.Elastic)
	assert.Nil(t, master.Policy)

	worker := groups["worker"]
	assert.Equal(t, domain.DefaultCPU, worker.Requirement.CPU)
	assert.Equal(t, domain.DefaultMemoryMiB, worker.Requirement.MemoryMiB)
	assert.Equal(t, domain.HAOff, worker.Requirement.HA)
	assert.True(t, worker.Requirement.Elastic)
	assert.True(t, worker.Requirement.DiskBisect)
	assert.Equal(t, []string{"^local.$"}, worker.Requirement.DiskPatterns.Strings())
	assert.Equal(t, map[string][]string{"c1": {"rp9"}}, worker.ResourcePools)
	assert.Equal(t, 1, worker.InstancePerHost())
	assert.True(t, worker.IsStrict())
	assert.Equal(t, "master", worker.ReferredGroup())
	require.NotNil(t, worker.RackPolicy())
	assert.Equal(t, domain.RackPolicyRoundRobin, worker.RackPolicy().Type)
	assert.Equal(t, []string{"r1", "r2"}, worker.RackPolicy().Racks)

	scratch := groups["scratch"]
	assert.Equal(t, "vm-2002", scratch.Requirement.TemplateID)
	assert.Equal(t, domain.DiskTypeTempfs, scratch.Requirement.DiskType)
	assert.Equal(t, []string{"^fast-.*$"}, scratch.Requirement.DiskPatterns.Strings())
	assert.Zero(t, scratch.ToSpec(domain.SpecOptions{}).DataSizeMiB)
}

func TestFromSpecErrors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		mutate func(*ClusterSpec)
	}{
		{
			name:   "bad cluster template",
			mutate: func(s *ClusterSpec) { s.TemplateID = "template-1" },
		},
		{
			name: "bad group template",
			mutate: func(s *ClusterSpec) {
				s.TemplateID = ""
				s.Groups[0].TemplateID = ""
			},
		},
		{
			name:   "bad ha",
			mutate: func(s *ClusterSpec) { s.Groups[0].HA = "sometimes" },
		},
		{
			name: "samerack with two racks",
			mutate: func(s *ClusterSpec) {
				s.Groups[1].Policies.GroupRacks = &RackSpec{Type: "samerack", Racks: []string{"r1", "r2"}}
			},
		},
		{
			name: "unknown racks only",
			mutate: func(s *ClusterSpec) {
				s.Groups[1].Policies.GroupRacks = &RackSpec{Type: "samerack", Racks: []string{"r9"}}
			},
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			spec, err := LoadClusterSpec("testdata/cluster.yaml")
			require.NoError(t, err)
			testCase.mutate(spec)

			_, err = NewBuilder(spec.Name, spec.RackMap(nil), zap.NewNop()).FromSpec(spec)
			assert.ErrorIs(t, err, domain.ErrInvalidConfig)
		})
	}
}

func TestFromSpecIgnoresRacksWithoutTopology(t *testing.T) {
	t.Parallel()

	spec, err := LoadClusterSpec("testdata/cluster.yaml")
	require.NoError(t, err)

	groups, err := NewBuilder(spec.Name, nil, zap.NewNop()).FromSpec(spec)
	require.NoError(t, err)
	assert.Nil(t, groups["worker"].RackPolicy())
}

func TestParseClusterSpecValidation(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		doc  string
	}{
		{name: "no name", doc: `{"groups": [{"name": "a"}]}`},
		{name: "dash in cluster", doc: `{"name": "my-cluster", "groups": [{"name": "a"}]}`},
		{name: "dash in group", doc: `{"name": "c", "groups": [{"name": "data-node"}]}`},
		{name: "duplicate group", doc: `{"name": "c", "groups": [{"name": "a"}, {"name": "a"}]}`},
		{name: "no groups", doc: `{"name": "c"}`},
		{name: "not a document", doc: `[1, 2`},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			_, err := ParseClusterSpec([]byte(testCase.doc))
			assert.ErrorIs(t, err, domain.ErrInvalidArgument)
		})
	}
}

func TestFromInventory(t *testing.T) {
	t.Parallel()

	_, groups := loadGroups(t)

	dc := domain.NewDatacenter("dc0")
	c := domain.NewCluster("c0")
	h1 := &domain.Host{Name: "h1", Connected: true}
	h2 := &domain.Host{Name: "h2", Connected: true}
	c.AddHost(h1)
	c.AddHost(h2)
	h1.AddVM(&domain.VM{Name: "hdp-master-0", PowerState: domain.PowerStateOn})
	h1.AddVM(&domain.VM{Name: "hdp-worker-2"})
	h2.AddVM(&domain.VM{Name: "hdp-client-0"})
	h2.AddVM(&domain.VM{Name: "other-worker-0"})
	h2.AddVM(&domain.VM{Name: "not a managed vm"})
	dc.AddCluster(c)

	b := NewBuilder("hdp", nil, zap.NewNop())
	groups, existing := b.FromInventory(dc, groups)

	assert.Len(t, existing, 3)
	assert.Contains(t, groups, "client")
	assert.Equal(t, []string{"hdp-worker-2"}, groups["worker"].VMNames())

	vm := existing["hdp-master-0"]
	assert.Equal(t, domain.VMStateReady, vm.Status)
	assert.Equal(t, domain.VMActionStart, vm.Action)
	assert.Equal(t, "h1", vm.Host)
	assert.Equal(t, "master", vm.Group)

	// Reconciling again yields the same membership.
	again, existingAgain := b.FromInventory(dc, groups)
	assert.Equal(t, 1, again["master"].Size())
	assert.Equal(t, 1, again["worker"].Size())
	assert.Equal(t, 1, again["client"].Size())
	assert.Len(t, existingAgain, 3)
}

func TestWildcardToRegex(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		in    string
		want  string
		match []string
		miss  []string
	}{
		{in: "*", want: "^.*$", match: []string{"", "anything"}},
		{in: "san-*", want: `^san-.*$`, match: []string{"san-01"}, miss: []string{"xsan-01"}},
		{in: "ds?.local", want: `^ds.\.local$`, match: []string{"ds1.local"}, miss: []string{"ds1xlocal", "ds12.local"}},
	}

	for _, testCase := range testCases {
		got := WildcardToRegex(testCase.in)
		assert.Equal(t, testCase.want, got)

		patterns, err := domain.CompilePatterns([]string{got})
		require.NoError(t, err)
		for _, name := range testCase.match {
			assert.True(t, patterns.MatchAny(name), "%s should match %s", got, name)
		}
		for _, name := range testCase.miss {
			assert.False(t, patterns.MatchAny(name), "%s should not match %s", got, name)
		}
	}
}
