package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/limiquantix/vmplacer/internal/auth"
	"github.com/limiquantix/vmplacer/internal/config"
	"github.com/limiquantix/vmplacer/internal/domain"
	"github.com/limiquantix/vmplacer/internal/provision"
	"github.com/limiquantix/vmplacer/internal/services/planner"
)

const specBody = `
name: hdp
template_id: vm-1001
groups:
  - name: worker
    instance_num: 2
`

type fakePlanner struct {
	runs    map[string]*domain.PlacementRun
	planErr error
	lastReq planner.Request
	filter  domain.RunFilter
}

func newFakePlanner() *fakePlanner {
	return &fakePlanner{runs: map[string]*domain.PlacementRun{}}
}

func (f *fakePlanner) Plan(_ context.Context, req planner.Request) (*domain.PlacementRun, error) {
	f.lastReq = req
	if f.planErr != nil {
		return nil, f.planErr
	}
	run := &domain.PlacementRun{ID: "run-1", Cluster: req.Spec.Name, Result: domain.NewPlacementResult()}
	f.runs[run.ID] = run
	return run, nil
}

func (f *fakePlanner) Get(_ context.Context, id string) (*domain.PlacementRun, error) {
	run, ok := f.runs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return run, nil
}

func (f *fakePlanner) List(_ context.Context, filter domain.RunFilter) ([]*domain.PlacementRun, error) {
	f.filter = filter
	out := []*domain.PlacementRun{}
	for _, run := range f.runs {
		out = append(out, run)
	}
	return out, nil
}

func (f *fakePlanner) Latest(_ context.Context, cluster string) (*domain.PlacementRun, error) {
	for _, run := range f.runs {
		if run.Cluster == cluster {
			return run, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f *fakePlanner) WaitReady(_ context.Context, runID string) (*provision.Report, error) {
	if _, ok := f.runs[runID]; !ok {
		return nil, domain.ErrNotFound
	}
	return &provision.Report{Done: []string{"hdp-worker-0"}, Failed: map[string]string{}}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Host: "127.0.0.1", Port: 0, ShutdownTimeout: time.Second},
		Auth:   config.AuthConfig{Issuer: "vmplacer", TokenExpiry: time.Hour},
		CORS: config.CORSConfig{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST"},
		},
		Inventory: config.InventoryConfig{Source: config.InventoryFile},
	}
}

func do(t *testing.T, h http.Handler, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	t.Parallel()

	h := New(testConfig(), newFakePlanner(), zap.NewNop()).Handler()

	for _, path := range []string{"/health", "/healthz", "/live", "/ready"} {
		rec := do(t, h, http.MethodGet, path, "", "")
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"), path)
	}
}

func TestPlacementAPI(t *testing.T) {
	t.Parallel()

	p := newFakePlanner()
	h := New(testConfig(), p, zap.NewNop()).Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/placements?refresh=true", specBody, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.True(t, p.lastReq.Refresh)
	require.NotNil(t, p.lastReq.Spec)
	assert.Equal(t, "hdp", p.lastReq.Spec.Name)

	var run domain.PlacementRun
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, "run-1", run.ID)

	rec = do(t, h, http.MethodGet, "/api/v1/placements/run-1", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/placements/missing", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/placements?cluster=hdp&limit=5", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.RunFilter{Cluster: "hdp", Limit: 5}, p.filter)

	rec = do(t, h, http.MethodGet, "/api/v1/placements?limit=x", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/clusters/hdp/latest", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/placements/run-1/wait", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var report provision.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, []string{"hdp-worker-0"}, report.Done)
}

func TestPlacementAPI_Errors(t *testing.T) {
	t.Parallel()

	p := newFakePlanner()
	h := New(testConfig(), p, zap.NewNop()).Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/placements", "name: bad-name\ngroups: [{name: a}]", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	p.planErr = domain.ErrConflict
	rec = do(t, h, http.MethodPost, "/api/v1/placements", specBody, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	p.planErr = domain.ErrUnavailable
	rec = do(t, h, http.MethodPost, "/api/v1/placements", specBody, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = do(t, h, http.MethodDelete, "/api/v1/placements/run-1", "", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestPlacementAPI_Auth(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Auth.JWTSecret = "test-secret"
	p := newFakePlanner()
	h := New(cfg, p, zap.NewNop()).Handler()

	jwtManager := auth.NewJWTManager(cfg.Auth)
	read, err := jwtManager.Generate("reader", []string{auth.ScopeRead})
	require.NoError(t, err)
	write, err := jwtManager.Generate("writer", []string{auth.ScopeWrite})
	require.NoError(t, err)

	rec := do(t, h, http.MethodPost, "/api/v1/placements", specBody, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/placements", specBody, "not-a-token")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/placements", specBody, read.AccessToken)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/placements", specBody, write.AccessToken)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "writer", p.lastReq.RequestedBy)

	rec = do(t, h, http.MethodGet, "/api/v1/placements", "", read.AccessToken)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Health checks stay public.
	rec = do(t, h, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNew_WarnsWhenAuthDisabled(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	New(testConfig(), newFakePlanner(), zap.New(core))
	assert.Equal(t, 1, logs.FilterMessageSnippet("authentication disabled").Len())

	cfg := testConfig()
	cfg.Auth.JWTSecret = "test-secret"
	core, logs = observer.New(zap.WarnLevel)
	New(cfg, newFakePlanner(), zap.New(core))
	assert.Zero(t, logs.Len())
}

func TestMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "vmplacer_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	h := New(testConfig(), newFakePlanner(), zap.NewNop(), WithGatherer(reg)).Handler()
	rec := do(t, h, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "vmplacer_test_total 1")
}
