package network

import (
	"context"

	"hidden-walnuts/server/logging"
)

const (
	// EventViewerConnected is emitted when a websocket viewer subscribes.
	EventViewerConnected logging.EventType = "network.viewer_connected"
	// EventViewerDropped is emitted when the hub disconnects a viewer whose write failed.
	EventViewerDropped logging.EventType = "network.viewer_dropped"
	// EventCommandReplayed is emitted when a client resends a command sequence it already had acknowledged.
	EventCommandReplayed logging.EventType = "network.command_replayed"
)

// ViewerPayload captures the viewer count after a connection change.
type ViewerPayload struct {
	Viewers int    `json:"viewers"`
	Reason  string `json:"reason,omitempty"`
}

// CommandSeqPayload captures command sequence progression details.
type CommandSeqPayload struct {
	Last uint64 `json:"last"`
	Seq  uint64 `json:"seq"`
}

func playerRef(id string) logging.EntityRef {
	return logging.EntityRef{ID: id, Kind: logging.EntityKindPlayer}
}

// ViewerConnected publishes an info event when a viewer subscribes.
func ViewerConnected(ctx context.Context, pub logging.Publisher, tick uint64, playerID string, payload ViewerPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventViewerConnected,
		Tick:     tick,
		Actor:    playerRef(playerID),
		Severity: logging.SeverityInfo,
		Category: logging.CategoryNetwork,
		Payload:  payload,
	})
}

// ViewerDropped publishes a warning event when a viewer is disconnected by the hub.
func ViewerDropped(ctx context.Context, pub logging.Publisher, tick uint64, playerID string, payload ViewerPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventViewerDropped,
		Tick:     tick,
		Actor:    playerRef(playerID),
		Severity: logging.SeverityWarn,
		Category: logging.CategoryNetwork,
		Payload:  payload,
	})
}

// CommandReplayed publishes a debug event when a duplicate command sequence is re-acknowledged.
func CommandReplayed(ctx context.Context, pub logging.Publisher, tick uint64, playerID string, payload CommandSeqPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventCommandReplayed,
		Tick:     tick,
		Actor:    playerRef(playerID),
		Severity: logging.SeverityDebug,
		Category: logging.CategoryNetwork,
		Payload:  payload,
	})
}
