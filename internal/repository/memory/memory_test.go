package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/limiquantix/vmplacer/internal/domain"
)

func newRun(id, cluster string, started time.Time) *domain.PlacementRun {
	result := domain.NewPlacementResult()
	result.Placed = append(result.Placed, domain.GroupPlacement{
		Group:       "data",
		Assignments: []domain.Assignment{{VM: cluster + "-data-0", Group: "data", Host: "h1"}},
	})
	return &domain.PlacementRun{
		ID:         id,
		Cluster:    cluster,
		Datacenter: "dc1",
		Engine:     "roundrobin",
		StartedAt:  started,
		FinishedAt: started.Add(time.Second),
		Result:     result,
	}
}

func TestRunRepository_SaveGet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewRunRepository()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	run := newRun("", "hdp", now)
	require.NoError(t, repo.Save(ctx, run))
	require.NotEmpty(t, run.ID)

	got, err := repo.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "hdp", got.Cluster)
	assert.True(t, now.Equal(got.StartedAt))
	assert.Equal(t, "h1", got.Result.Assignments()["hdp-data-0"].Host)

	// Mutating the returned copy does not change the stored run.
	got.Result.Placed[0].Assignments[0].Host = "h9"
	again, err := repo.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "h1", again.Result.Placed[0].Assignments[0].Host)

	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRunRepository_List(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := NewRunRepository()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Save(ctx, newRun("a", "hdp", base)))
	require.NoError(t, repo.Save(ctx, newRun("b", "hdp", base.Add(time.Hour))))
	require.NoError(t, repo.Save(ctx, newRun("c", "kafka", base.Add(2*time.Hour))))

	tests := []struct {
		name   string
		filter domain.RunFilter
		want   []string
	}{
		{name: "all newest first", filter: domain.RunFilter{}, want: []string{"c", "b", "a"}},
		{name: "by cluster", filter: domain.RunFilter{Cluster: "hdp"}, want: []string{"b", "a"}},
		{name: "limit", filter: domain.RunFilter{Limit: 1}, want: []string{"c"}},
		{name: "unknown cluster", filter: domain.RunFilter{Cluster: "nope"}, want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runs, err := repo.List(ctx, tt.filter)
			require.NoError(t, err)
			ids := make([]string, 0, len(runs))
			for _, r := range runs {
				ids = append(ids, r.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestLocker(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	locker := NewLocker()

	lock, err := locker.TryLock(ctx, "placement/hdp")
	require.NoError(t, err)

	_, err = locker.TryLock(ctx, "placement/hdp")
	assert.ErrorIs(t, err, domain.ErrConflict)

	other, err := locker.TryLock(ctx, "placement/kafka")
	require.NoError(t, err)
	require.NoError(t, other.Unlock(ctx))

	require.NoError(t, lock.Unlock(ctx))
	require.NoError(t, lock.Unlock(ctx))

	again, err := locker.TryLock(ctx, "placement/hdp")
	require.NoError(t, err)
	require.NoError(t, again.Unlock(ctx))
}

func TestLatestRunIndex(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	index := NewLatestRunIndex()

	_, err := index.Latest(ctx, "hdp")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, index.SetLatest(ctx, "hdp", "a"))
	require.NoError(t, index.SetLatest(ctx, "hdp", "b"))
	id, err := index.Latest(ctx, "hdp")
	require.NoError(t, err)
	assert.Equal(t, "b", id)
}
