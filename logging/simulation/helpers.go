package simulation

import (
	"context"

	"hidden-walnuts/server/logging"
)

const (
	// EventTickBudgetOverrun is emitted when a tick takes longer than its budget.
	EventTickBudgetOverrun logging.EventType = "simulation.tick_budget_overrun"
	// EventTickFailed is emitted when a tick step panics and is skipped.
	EventTickFailed logging.EventType = "simulation.tick_failed"
	// EventLoopStopped is emitted once when the loop exits.
	EventLoopStopped logging.EventType = "simulation.loop_stopped"
)

// TickBudgetOverrunPayload captures timing details for a tick budget breach.
type TickBudgetOverrunPayload struct {
	DurationMillis float64 `json:"durationMillis"`
	BudgetMillis   float64 `json:"budgetMillis"`
	Ratio          float64 `json:"ratio"`
	Streak         uint64  `json:"streak"`
}

// TickFailedPayload records a recovered panic.
type TickFailedPayload struct {
	Error string `json:"error"`
}

// LoopStoppedPayload summarises a finished run.
type LoopStoppedPayload struct {
	Ticks  uint64 `json:"ticks"`
	Reason string `json:"reason"`
}

func simulationRef() logging.EntityRef {
	return logging.EntityRef{ID: "simulation", Kind: logging.EntityKindWorld}
}

// TickBudgetOverrun publishes a warning when the simulation exceeds the configured tick budget.
func TickBudgetOverrun(ctx context.Context, pub logging.Publisher, tick uint64, payload TickBudgetOverrunPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventTickBudgetOverrun,
		Tick:     tick,
		Actor:    simulationRef(),
		Severity: logging.SeverityWarn,
		Category: logging.CategorySimulation,
		Payload:  payload,
		Extra:    extra,
	})
}

// TickFailed publishes an error for a tick that panicked.
func TickFailed(ctx context.Context, pub logging.Publisher, tick uint64, payload TickFailedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventTickFailed,
		Tick:     tick,
		Actor:    simulationRef(),
		Severity: logging.SeverityError,
		Category: logging.CategorySimulation,
		Payload:  payload,
		Extra:    extra,
	})
}

func LoopStopped(ctx context.Context, pub logging.Publisher, tick uint64, payload LoopStoppedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventLoopStopped,
		Tick:     tick,
		Actor:    simulationRef(),
		Severity: logging.SeverityInfo,
		Category: logging.CategorySimulation,
		Payload:  payload,
		Extra:    extra,
	})
}
