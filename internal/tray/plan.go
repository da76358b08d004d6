package tray

import "github.com/nerrad567/gray-logic-petfeeder/internal/petlibro"

// Positions is the number of tray compartments.
const Positions = petlibro.TrayPositions

// Percentage band upper bounds.
const (
	lowBandMax = 33
	midBandMax = 66
)

// PercentageToPosition maps 0..100 to a position. Out-of-range input is
// clamped.
func PercentageToPosition(pct int) int {
	pct = min(max(pct, 0), 100)
	switch {
	case pct <= lowBandMax:
		return 0
	case pct <= midBandMax:
		return 1
	default:
		return 2
	}
}

// PositionToPercentage maps a position to its canonical percentage.
// Positions outside 0..2 wrap.
func PositionToPercentage(position int) int {
	return petlibro.NormalizeTrayPosition(position) * 100 / (Positions - 1)
}

// ComputeSteps returns how many forward rotations take the tray from
// current to target.
func ComputeSteps(current, target int) int {
	current = petlibro.NormalizeTrayPosition(current)
	target = petlibro.NormalizeTrayPosition(target)
	return (target - current + Positions) % Positions
}

// RotationPlan is the rotation needed to reach a target position.
type RotationPlan struct {
	Current int `json:"current"`
	Target  int `json:"target"`
	Steps   int `json:"steps"`
}

// NewPlan builds the plan from current to target.
func NewPlan(current, target int) RotationPlan {
	current = petlibro.NormalizeTrayPosition(current)
	target = petlibro.NormalizeTrayPosition(target)
	return RotationPlan{
		Current: current,
		Target:  target,
		Steps:   ComputeSteps(current, target),
	}
}

// Noop reports whether the tray is already at the target.
func (p RotationPlan) Noop() bool {
	return p.Steps == 0
}
