package sim

import (
	"hidden-walnuts/server/internal/events"
	"hidden-walnuts/server/internal/telemetry"
	"hidden-walnuts/server/logging"
)

// Deps carries shared infrastructure dependencies required by the loop.
type Deps struct {
	Logger    telemetry.Logger
	Metrics   telemetry.Metrics
	Clock     logging.Clock
	Publisher logging.Publisher
	// Bus receives drained player commands as typed events.
	Bus *events.Bus
}
