package simcoord

import (
	"pkt.systems/pslog"
)

// Guard collects compensating actions for a multi-step operation so a
// partial failure can be unwound. It is in-process and in-memory only;
// nothing is persisted. Use it when mutating more than one independent
// resource (registering a batch of hosts, say) — the coordinator's own
// operations are atomic only with respect to their single registry.
type Guard struct {
	logger pslog.Logger
	steps  []guardStep
}

type guardStep struct {
	desc string
	undo func() error
}

// NewGuard returns an empty guard logging through logger.
func NewGuard(logger pslog.Logger) *Guard {
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	return &Guard{logger: logger.With("component", "guard")}
}

// Record appends a compensating action. desc names the effect being
// guarded, for rollback logs.
func (g *Guard) Record(desc string, undo func() error) {
	g.steps = append(g.steps, guardStep{desc: desc, undo: undo})
}

// Len reports how many compensating actions are pending.
func (g *Guard) Len() int { return len(g.steps) }

// Commit discards the recorded actions without running them.
func (g *Guard) Commit() {
	g.steps = nil
}

// Rollback executes the recorded actions in reverse order, undoing the
// most recent effect first. A failing undo is logged and the remaining
// undos still run; Rollback returns how many failed.
func (g *Guard) Rollback() int {
	failed := 0
	for i := len(g.steps) - 1; i >= 0; i-- {
		step := g.steps[i]
		if err := step.undo(); err != nil {
			failed++
			g.logger.Error("guard.rollback_step_failed",
				"step", step.desc,
				"error", err,
			)
			continue
		}
		g.logger.Debug("guard.rolled_back", "step", step.desc)
	}
	g.steps = nil
	return failed
}
