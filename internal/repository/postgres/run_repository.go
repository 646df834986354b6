package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/limiquantix/vmplacer/internal/domain"
)

// Ensure RunRepository implements domain.RunRepository
var _ domain.RunRepository = (*RunRepository)(nil)

const defaultListLimit = 100

// RunRepository implements domain.RunRepository using PostgreSQL.
type RunRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewRunRepository creates a new PostgreSQL placement run repository.
func NewRunRepository(db *DB, logger *zap.Logger) *RunRepository {
	return &RunRepository{
		db:     db,
		logger: logger.With(zap.String("repository", "placement_run")),
	}
}

// Save inserts a run or replaces the stored run with the same ID.
func (r *RunRepository) Save(ctx context.Context, run *domain.PlacementRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	result, err := json.Marshal(run.Result)
	if err != nil {
		return fmt.Errorf("failed to marshal placement result: %w", err)
	}
	failed := 0
	if run.Result != nil {
		failed = run.Result.FailedCount
	}

	query := `
		INSERT INTO placement_runs (
			id, cluster, datacenter, engine, started_at, finished_at, failed_count, result
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			cluster = EXCLUDED.cluster,
			datacenter = EXCLUDED.datacenter,
			engine = EXCLUDED.engine,
			started_at = EXCLUDED.started_at,
			finished_at = EXCLUDED.finished_at,
			failed_count = EXCLUDED.failed_count,
			result = EXCLUDED.result
	`

	_, err = r.db.pool.Exec(ctx, query,
		run.ID,
		run.Cluster,
		run.Datacenter,
		run.Engine,
		run.StartedAt,
		run.FinishedAt,
		failed,
		result,
	)
	if err != nil {
		r.logger.Error("Failed to save placement run", zap.Error(err), zap.String("id", run.ID))
		return fmt.Errorf("failed to insert placement run: %w", err)
	}

	r.logger.Debug("Saved placement run", zap.String("id", run.ID), zap.String("cluster", run.Cluster))
	return nil
}

// Get retrieves a run by ID.
func (r *RunRepository) Get(ctx context.Context, id string) (*domain.PlacementRun, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrNotFound
	}

	query := `
		SELECT id, cluster, datacenter, engine, started_at, finished_at, result
		FROM placement_runs
		WHERE id = $1
	`

	run, err := scanRun(r.db.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get placement run: %w", err)
	}
	return run, nil
}

// List returns runs newest first, optionally filtered by cluster.
func (r *RunRepository) List(ctx context.Context, filter domain.RunFilter) ([]*domain.PlacementRun, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := `
		SELECT id, cluster, datacenter, engine, started_at, finished_at, result
		FROM placement_runs
		WHERE ($1 = '' OR cluster = $1)
		ORDER BY started_at DESC, id ASC
		LIMIT $2
	`

	rows, err := r.db.pool.Query(ctx, query, filter.Cluster, limit)
	if err != nil {
		r.logger.Error("Failed to list placement runs", zap.Error(err))
		return nil, fmt.Errorf("failed to list placement runs: %w", err)
	}
	defer rows.Close()

	runs := []*domain.PlacementRun{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating placement runs: %w", err)
	}
	return runs, nil
}

func scanRun(row pgx.Row) (*domain.PlacementRun, error) {
	var (
		run    domain.PlacementRun
		id     uuid.UUID
		result []byte
	)
	if err := row.Scan(&id, &run.Cluster, &run.Datacenter, &run.Engine, &run.StartedAt, &run.FinishedAt, &result); err != nil {
		return nil, err
	}
	run.ID = id.String()
	if err := json.Unmarshal(result, &run.Result); err != nil {
		return nil, fmt.Errorf("failed to decode placement result of run %s: %w", run.ID, err)
	}
	return &run, nil
}
