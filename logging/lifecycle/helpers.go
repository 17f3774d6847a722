package lifecycle

import (
	"context"

	"hidden-walnuts/server/logging"
)

const (
	// EventPlayerJoined is emitted when a player becomes visible to NPCs.
	EventPlayerJoined logging.EventType = "lifecycle.player_joined"
	// EventPlayerLeft is emitted when a player is removed from the world state.
	EventPlayerLeft logging.EventType = "lifecycle.player_left"
	// EventServerStarted is emitted once the HTTP listener is up.
	EventServerStarted logging.EventType = "lifecycle.server_started"
)

// PlayerJoinedPayload captures where a player entered the world.
type PlayerJoinedPayload struct {
	X       float64 `json:"x"`
	Z       float64 `json:"z"`
	Species string  `json:"species,omitempty"`
}

// PlayerLeftPayload captures the reason a player left.
type PlayerLeftPayload struct {
	Reason string `json:"reason"`
}

// ServerStartedPayload records the listen address.
type ServerStartedPayload struct {
	Addr string `json:"addr"`
}

// PlayerJoined publishes a player join event.
func PlayerJoined(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload PlayerJoinedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventPlayerJoined,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryLifecycle,
		Payload:  payload,
		Extra:    extra,
	})
}

// PlayerLeft publishes a player departure event.
func PlayerLeft(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload PlayerLeftPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventPlayerLeft,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryLifecycle,
		Payload:  payload,
		Extra:    extra,
	})
}

func ServerStarted(ctx context.Context, pub logging.Publisher, payload ServerStartedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventServerStarted,
		Actor:    logging.EntityRef{ID: "server", Kind: logging.EntityKindWorld},
		Severity: logging.SeverityInfo,
		Category: logging.CategorySystem,
		Payload:  payload,
	})
}
