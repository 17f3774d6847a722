package npc

import (
	"context"

	"hidden-walnuts/server/logging"
)

const (
	// EventSpawned is emitted when an NPC enters the world.
	EventSpawned logging.EventType = "npc.spawned"
	// EventDespawned is emitted when an NPC is removed.
	EventDespawned logging.EventType = "npc.despawned"
	// EventSpawnRejected is emitted when a spawn request is refused.
	EventSpawnRejected logging.EventType = "npc.spawn_rejected"
	// EventUpdateFailed is emitted when one NPC's update fails; the tick continues.
	EventUpdateFailed logging.EventType = "npc.update_failed"
	// EventBehaviorChanged is emitted at debug level on every behavior transition.
	EventBehaviorChanged logging.EventType = "npc.behavior_changed"
	// EventConfigUpdated is emitted when the manager configuration changes.
	EventConfigUpdated logging.EventType = "npc.config_updated"
	// EventConfigRejected is emitted for each ignored configuration field.
	EventConfigRejected logging.EventType = "npc.config_rejected"
)

// SpawnedPayload describes a new NPC.
type SpawnedPayload struct {
	CharacterType string  `json:"characterType"`
	X             float64 `json:"x"`
	Y             float64 `json:"y"`
	Z             float64 `json:"z"`
	Population    int     `json:"population"`
}

// DespawnedPayload records why an NPC left.
type DespawnedPayload struct {
	Reason     string `json:"reason"`
	Population int    `json:"population"`
}

// SpawnRejectedPayload records a refused spawn.
type SpawnRejectedPayload struct {
	CharacterType string `json:"characterType"`
	Reason        string `json:"reason"`
}

// UpdateFailedPayload records a per-NPC failure.
type UpdateFailedPayload struct {
	Stage string `json:"stage"`
	Error string `json:"error"`
}

// BehaviorChangedPayload records a transition.
type BehaviorChangedPayload struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// ConfigUpdatedPayload lists the fields that changed.
type ConfigUpdatedPayload struct {
	Fields []string `json:"fields"`
}

// ConfigRejectedPayload names an ignored configuration value.
type ConfigRejectedPayload struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func npcRef(id string) logging.EntityRef {
	return logging.EntityRef{ID: id, Kind: logging.EntityKindNPC}
}

func managerRef() logging.EntityRef {
	return logging.EntityRef{ID: "npc-manager", Kind: logging.EntityKindWorld}
}

func publish(ctx context.Context, pub logging.Publisher, event logging.Event) {
	if pub == nil {
		return
	}
	event.Category = logging.CategoryNPC
	pub.Publish(ctx, event)
}

// Spawned publishes a spawn event for the NPC with the given id.
func Spawned(ctx context.Context, pub logging.Publisher, tick uint64, id string, payload SpawnedPayload, extra map[string]any) {
	publish(ctx, pub, logging.Event{
		Type:     EventSpawned,
		Tick:     tick,
		Actor:    npcRef(id),
		Severity: logging.SeverityInfo,
		Payload:  payload,
		Extra:    extra,
	})
}

// Despawned publishes a despawn event.
func Despawned(ctx context.Context, pub logging.Publisher, tick uint64, id string, payload DespawnedPayload, extra map[string]any) {
	publish(ctx, pub, logging.Event{
		Type:     EventDespawned,
		Tick:     tick,
		Actor:    npcRef(id),
		Severity: logging.SeverityInfo,
		Payload:  payload,
		Extra:    extra,
	})
}

// SpawnRejected publishes a warning for a refused spawn.
func SpawnRejected(ctx context.Context, pub logging.Publisher, tick uint64, payload SpawnRejectedPayload, extra map[string]any) {
	publish(ctx, pub, logging.Event{
		Type:     EventSpawnRejected,
		Tick:     tick,
		Actor:    managerRef(),
		Severity: logging.SeverityWarn,
		Payload:  payload,
		Extra:    extra,
	})
}

// UpdateFailed publishes an error for one NPC.
func UpdateFailed(ctx context.Context, pub logging.Publisher, tick uint64, id string, payload UpdateFailedPayload, extra map[string]any) {
	publish(ctx, pub, logging.Event{
		Type:     EventUpdateFailed,
		Tick:     tick,
		Actor:    npcRef(id),
		Severity: logging.SeverityError,
		Payload:  payload,
		Extra:    extra,
	})
}

func BehaviorChanged(ctx context.Context, pub logging.Publisher, tick uint64, id string, payload BehaviorChangedPayload, extra map[string]any) {
	publish(ctx, pub, logging.Event{
		Type:     EventBehaviorChanged,
		Tick:     tick,
		Actor:    npcRef(id),
		Severity: logging.SeverityDebug,
		Payload:  payload,
		Extra:    extra,
	})
}

func ConfigUpdated(ctx context.Context, pub logging.Publisher, tick uint64, payload ConfigUpdatedPayload, extra map[string]any) {
	publish(ctx, pub, logging.Event{
		Type:     EventConfigUpdated,
		Tick:     tick,
		Actor:    managerRef(),
		Severity: logging.SeverityInfo,
		Payload:  payload,
		Extra:    extra,
	})
}

func ConfigRejected(ctx context.Context, pub logging.Publisher, tick uint64, payload ConfigRejectedPayload, extra map[string]any) {
	publish(ctx, pub, logging.Event{
		Type:     EventConfigRejected,
		Tick:     tick,
		Actor:    managerRef(),
		Severity: logging.SeverityWarn,
		Payload:  payload,
		Extra:    extra,
	})
}
