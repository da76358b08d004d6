package tray

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultSettleDelay is the pause between consecutive rotations.
const DefaultSettleDelay = time.Second

// ErrStepFailed wraps the error of the rotation that aborted a plan.
var ErrStepFailed = errors.New("tray: rotation step failed")

// Logger defines the logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Rotator is what the planner needs from a device: one forward rotation,
// and an uncached read of the current position.
type Rotator interface {
	RotateTray(ctx context.Context, deviceID string) error
	TrayPosition(ctx context.Context, deviceID string) (int, error)
}

// Outcome is the result of an executed plan.
type Outcome struct {
	Plan RotationPlan `json:"plan"`

	// Estimated is the position after counting successful steps.
	Estimated int `json:"estimated"`

	// Actual is the position read back from the device.
	Actual int `json:"actual"`

	// Reconciled is true when Actual differed from Estimated.
	Reconciled bool `json:"reconciled"`
}

// Planner moves a tray to a target position.
type Planner struct {
	rotator Rotator
	settle  time.Duration
	logger  Logger
}

// NewPlanner creates a Planner. A negative settle delay takes the default.
func NewPlanner(rotator Rotator, settle time.Duration) *Planner {
	if settle < 0 {
		settle = DefaultSettleDelay
	}
	return &Planner{
		rotator: rotator,
		settle:  settle,
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the planner.
func (p *Planner) SetLogger(logger Logger) {
	p.logger = logger
}

// Execute rotates the tray on deviceID to target. Steps that succeeded
// before a failure are not undone; the error names the failed step.
func (p *Planner) Execute(ctx context.Context, deviceID string, target int) (Outcome, error) {
	current, err := p.rotator.TrayPosition(ctx, deviceID)
	if err != nil {
		return Outcome{}, fmt.Errorf("reading tray position: %w", err)
	}

	plan := NewPlan(current, target)
	out := Outcome{Plan: plan, Estimated: plan.Current, Actual: plan.Current}
	if plan.Noop() {
		p.logger.Debug("tray already at target", "device_id", deviceID, "position", plan.Target)
		return out, nil
	}

	p.logger.Info("rotating tray",
		"device_id", deviceID,
		"from", plan.Current,
		"to", plan.Target,
		"steps", plan.Steps,
	)

	for step := 1; step <= plan.Steps; step++ {
		if step > 1 {
			if err := p.wait(ctx); err != nil {
				return out, fmt.Errorf("tray: waiting before step %d/%d: %w", step, plan.Steps, err)
			}
		}
		if err := p.rotator.RotateTray(ctx, deviceID); err != nil {
			return out, fmt.Errorf("%w: step %d/%d: %w", ErrStepFailed, step, plan.Steps, err)
		}
		out.Estimated = (out.Estimated + 1) % Positions
	}

	if err := p.wait(ctx); err != nil {
		return out, fmt.Errorf("tray: waiting before read-back: %w", err)
	}
	actual, err := p.rotator.TrayPosition(ctx, deviceID)
	if err != nil {
		// The rotation itself succeeded; keep the estimate.
		p.logger.Warn("tray read-back failed, keeping estimate",
			"device_id", deviceID,
			"estimated", out.Estimated,
			"error", err,
		)
		out.Actual = out.Estimated
		return out, nil
	}

	out.Actual = actual
	if actual != out.Estimated {
		out.Reconciled = true
		p.logger.Warn("tray position differs from estimate",
			"device_id", deviceID,
			"estimated", out.Estimated,
			"actual", actual,
		)
		out.Estimated = actual
	}
	return out, nil
}

func (p *Planner) wait(ctx context.Context) error {
	if p.settle <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(p.settle):
		return nil
	}
}
