package placement

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/limiquantix/vmplacer/internal/domain"
)

// callLog records service calls across fakes in invocation order.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, fmt.Sprintf(format, args...))
}

func (l *callLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

func (l *callLog) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = nil
}

// MockService is a configurable resource service.
type MockService struct {
	name string
	log  *callLog

	reject       map[string]bool
	failCommit   func(host string) bool
	failUncommit bool
	checkErr     error

	committed map[string]int
	inits     int
}

func NewMockService(name string, log *callLog) *MockService {
	return &MockService{
		name:      name,
		log:       log,
		reject:    make(map[string]bool),
		committed: make(map[string]int),
	}
}

func (m *MockService) Name() string { return m.name }

func (m *MockService) Init(ctx context.Context, run RunContext) error {
	m.inits++
	m.committed = make(map[string]int)
	return nil
}

func (m *MockService) Enrich(spec domain.VMSpec, build domain.VMBuild) domain.VMBuild {
	build.Networks = append(build.Networks, m.name)
	return build
}

func (m *MockService) CheckCapacity(ctx context.Context, builds []domain.VMBuild, hosts []string) ([]string, error) {
	m.log.add("%s check", m.name)
	if m.checkErr != nil {
		return nil, m.checkErr
	}
	var out []string
	for _, h := range hosts {
		if !m.reject[h] {
			out = append(out, h)
		}
	}
	return out, nil
}

func (m *MockService) EvaluateHosts(ctx context.Context, builds []domain.VMBuild, hosts []string) (map[string]Score, error) {
	scores := make(map[string]Score, len(hosts))
	for _, h := range hosts {
		scores[h] = Score{
			Service:      m.name,
			Host:         h,
			Value:        1,
			Reservations: []Reservation{{Resource: h, Amount: int64(len(builds))}},
		}
	}
	return scores, nil
}

func (m *MockService) Commit(ctx context.Context, score Score) error {
	m.log.add("%s commit %s", m.name, score.Host)
	if m.failCommit != nil && m.failCommit(score.Host) {
		return fmt.Errorf("%s refused %s", m.name, score.Host)
	}
	m.committed[score.Host] += int(score.Reservations[0].Amount)
	return nil
}

func (m *MockService) Discommit(ctx context.Context, score Score) error {
	m.log.add("%s discommit %s", m.name, score.Host)
	if m.failUncommit {
		return fmt.Errorf("%s cannot release %s", m.name, score.Host)
	}
	m.committed[score.Host] -= int(score.Reservations[0].Amount)
	return nil
}

// MockEngine decomposes one VM per node and walks hosts in name order after the
// last assigned one.
type MockEngine struct {
	cluster string
	last    string

	selectNone bool
	selectHost string
	assigned   []string
}

func (e *MockEngine) Name() string { return "mock" }

func (e *MockEngine) Init(ctx context.Context, run RunContext) error {
	e.cluster = run.Config.ClusterName
	e.last = ""
	e.assigned = nil
	return nil
}

func (e *MockEngine) VirtualGroups(groups map[string]*domain.VMGroup) []*domain.VirtualGroup {
	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]*domain.VirtualGroup, len(names))
	for i, name := range names {
		out[i] = domain.NewVirtualGroup(groups[name])
	}
	return out
}

func (e *MockEngine) VirtualNodes(vg *domain.VirtualGroup, existing, placed map[string]*domain.VM) ([]domain.VirtualNode, error) {
	var nodes []domain.VirtualNode
	for _, g := range vg.Groups {
		for i := 0; i < g.Instances; i++ {
			name := domain.FormatVMName(e.cluster, g.Name, i)
			if _, ok := existing[name]; ok {
				continue
			}
			if _, ok := placed[name]; ok {
				continue
			}
			spec := g.ToSpec(domain.SpecOptions{})
			spec.Name, spec.Index = name, i
			nodes = append(nodes, domain.VirtualNode{Specs: []domain.VMSpec{spec}})
		}
	}
	return nodes, nil
}

func (e *MockEngine) SelectHost(specs []domain.VMSpec, scores map[string]map[string]Score) (string, bool) {
	if e.selectNone {
		return "", false
	}
	if e.selectHost != "" {
		return e.selectHost, true
	}
	hosts := SortedHosts(scores)
	if len(hosts) == 0 {
		return "", false
	}
	for _, h := range hosts {
		if h > e.last {
			return h, true
		}
	}
	return hosts[0], true
}

func (e *MockEngine) AssignHost(specs []domain.VMSpec, host string) {
	e.last = host
	e.assigned = append(e.assigned, host)
}

func testDatacenter() *domain.Datacenter {
	dc := domain.NewDatacenter("dc0")
	c := domain.NewCluster("c0")
	c.AddResourcePool(&domain.ResourcePool{Name: "rp0", MemoryLimitMiB: -1})
	for _, name := range []string{"h1", "h2", "h3"} {
		c.AddHost(&domain.Host{Name: name, CPUCores: 8, MemoryMiB: 16384, Connected: true})
	}
	dc.AddCluster(c)
	return dc
}

func testGroup(name string, instances int) *domain.VMGroup {
	g := domain.NewVMGroup(name)
	g.Instances = instances
	g.Requirement = domain.ResourceRequirement{CPU: 1, MemoryMiB: 1024, DiskType: domain.DiskTypeShared}
	g.ResourcePools["c0"] = []string{"rp0"}
	return g
}
