// Package provision brings placed VMs to a ready state once they exist: it applies the
// HA override, powers them on and waits until the guest reports an IP address.
package provision

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/limiquantix/vmplacer/internal/domain"
)

// Config holds wait-until-ready settings.
type Config struct {
	// Concurrency bounds the number of VMs handled at once.
	Concurrency int `mapstructure:"concurrency"`

	// PollInterval is the delay between IP address checks.
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// Timeout bounds the wait of a single VM. Zero waits until the context ends.
	Timeout time.Duration `mapstructure:"timeout"`
}

// DefaultConfig returns the default wait-until-ready configuration.
func DefaultConfig() Config {
	return Config{
		Concurrency:  8,
		PollInterval: 4 * time.Second,
		Timeout:      30 * time.Minute,
	}
}

// VMOperator performs VM operations on the virtualization platform.
type VMOperator interface {
	Refresh(ctx context.Context, vm *domain.VM) error
	PowerOn(ctx context.Context, vm *domain.VM) error
	SetHA(ctx context.Context, vm *domain.VM, enabled bool) error
}

// Report is the outcome of a wait run.
type Report struct {
	Done   []string          `json:"done"`
	Failed map[string]string `json:"failed"`
}

// Waiter waits for VMs to become ready.
type Waiter struct {
	config Config
	ops    VMOperator
	logger *zap.Logger
}

// NewWaiter creates a new Waiter.
func NewWaiter(cfg Config, ops VMOperator, logger *zap.Logger) *Waiter {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConfig().Concurrency
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	return &Waiter{
		config: cfg,
		ops:    ops,
		logger: logger.With(zap.String("component", "provision")),
	}
}

// WaitReady handles every VM concurrently. A failing VM is marked failed and recorded
// in the report without stopping the others. The context error is returned when the
// run was cancelled.
func (w *Waiter) WaitReady(ctx context.Context, vms []*domain.VM) (*Report, error) {
	report := &Report{Done: []string{}, Failed: map[string]string{}}
	var mu sync.Mutex

	g := new(errgroup.Group)
	g.SetLimit(w.config.Concurrency)

	for _, vm := range vms {
		g.Go(func() error {
			err := w.waitVM(ctx, vm)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				vm.Status = domain.VMStateFailed
				vm.Error = err.Error()
				report.Failed[vm.Name] = err.Error()
				w.logger.Warn("VM did not become ready", zap.String("vm", vm.Name), zap.Error(err))
				return nil
			}
			report.Done = append(report.Done, vm.Name)
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(report.Done)
	w.logger.Info("Finished waiting for VMs",
		zap.Int("done", len(report.Done)),
		zap.Int("failed", len(report.Failed)),
	)
	return report, ctx.Err()
}

func (w *Waiter) waitVM(ctx context.Context, vm *domain.VM) error {
	if w.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.config.Timeout)
		defer cancel()
	}

	switch {
	case !vm.HAEnabled && vm.CanHA:
		if err := w.ops.SetHA(ctx, vm, false); err != nil {
			return fmt.Errorf("disable ha: %w", err)
		}
		w.logger.Debug("Disabled HA", zap.String("vm", vm.Name))
	case vm.HAEnabled && !vm.CanHA:
		w.logger.Warn("Cannot enable HA on a cluster without HA", zap.String("vm", vm.Name))
	}

	vm.Status = domain.VMStatePoweringOn
	if vm.PowerState == "" {
		if err := w.ops.Refresh(ctx, vm); err != nil {
			return fmt.Errorf("refresh: %w", err)
		}
	}
	if vm.PowerState == domain.PowerStateOff {
		if err := w.ops.PowerOn(ctx, vm); err != nil {
			return fmt.Errorf("power on: %w", err)
		}
	}

	vm.Status = domain.VMStateWaitingIP
	for vm.IPAddress == "" {
		if err := w.ops.Refresh(ctx, vm); err != nil {
			return fmt.Errorf("wait ip: %w", err)
		}
		if vm.IPAddress != "" {
			break
		}
		timer := time.NewTimer(w.config.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("wait ip: %w", ctx.Err())
		case <-timer.C:
		}
	}

	vm.Status = domain.VMStateDone
	w.logger.Debug("VM ready", zap.String("vm", vm.Name), zap.String("ip", vm.IPAddress))
	return nil
}
