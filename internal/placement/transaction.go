package placement

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type committed struct {
	service ResourceService
	score   Score
}

// commitTx commits one host for one virtual node across resource services.
// It remembers every successful commit so a failure can be inverted exactly.
type commitTx struct {
	host      string
	committed []committed
	logger    *zap.Logger
}

func newCommitTx(host string, logger *zap.Logger) *commitTx {
	return &commitTx{host: host, logger: logger}
}

// Commit commits score on svc and records it on success.
func (tx *commitTx) Commit(ctx context.Context, svc ResourceService, score Score) error {
	if err := svc.Commit(ctx, score); err != nil {
		return fmt.Errorf("service %s commit on host %s failed: %w", svc.Name(), tx.host, err)
	}
	tx.committed = append(tx.committed, committed{service: svc, score: score})
	return nil
}

// Committed returns the names of the services committed so far, in commit order.
func (tx *commitTx) Committed() []string {
	names := make([]string, len(tx.committed))
	for i, c := range tx.committed {
		names[i] = c.service.Name()
	}
	return names
}

// Rollback discommits every recorded commit in reverse order. Every discommit is
// attempted even when an earlier one fails; the failures are returned combined.
func (tx *commitTx) Rollback(ctx context.Context) error {
	var errs error
	for i := len(tx.committed) - 1; i >= 0; i-- {
		c := tx.committed[i]
		if err := c.service.Discommit(ctx, c.score); err != nil {
			tx.logger.Warn("Discommit failed",
				zap.String("service", c.service.Name()),
				zap.String("host", tx.host),
				zap.Error(err),
			)
			errs = multierr.Append(errs, fmt.Errorf("service %s discommit on host %s: %w", c.service.Name(), tx.host, err))
		}
	}
	tx.committed = nil
	return errs
}
