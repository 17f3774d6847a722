package npc

import (
	"sort"
	"sync"

	"hidden-walnuts/server/internal/ai"
)

// EntityState is the render-facing mirror of one NPC.
type EntityState struct {
	ID            string          `json:"id"`
	CharacterType string          `json:"characterType"`
	Position      ai.Vec3         `json:"position"`
	Rotation      float64         `json:"rotation"`
	Velocity      ai.Vec3         `json:"velocity"`
	Behavior      ai.BehaviorType `json:"behavior"`
	Animation     string          `json:"animation"`
}

// EntitySink receives one-way pushes of NPC state. Implementations must be
// safe for concurrent use.
type EntitySink interface {
	UpsertEntity(state EntityState)
	RemoveEntity(id string)
}

func entityState(npc *ai.NPC) EntityState {
	return EntityState{
		ID:            npc.ID,
		CharacterType: npc.CharacterType,
		Position:      npc.Position,
		Rotation:      npc.Rotation,
		Velocity:      npc.Velocity,
		Behavior:      npc.BehaviorType(),
		Animation:     animationFor(npc),
	}
}

func animationFor(npc *ai.NPC) string {
	moving := npc.Velocity.X != 0 || npc.Velocity.Z != 0
	switch {
	case npc.BehaviorType() == ai.BehaviorFlee && moving:
		return "run"
	case moving:
		return "walk"
	case npc.BehaviorType() == ai.BehaviorRest:
		return "sleep"
	case npc.BehaviorType() == ai.BehaviorForage:
		return "eat"
	default:
		return "idle"
	}
}

// EntityRegistry is an in-memory EntitySink.
type EntityRegistry struct {
	mu       sync.RWMutex
	entities map[string]EntityState
	upserts  uint64
}

func NewEntityRegistry() *EntityRegistry {
	return &EntityRegistry{entities: make(map[string]EntityState)}
}

func (r *EntityRegistry) UpsertEntity(state EntityState) {
	r.mu.Lock()
	r.entities[state.ID] = state
	r.upserts++
	r.mu.Unlock()
}

func (r *EntityRegistry) RemoveEntity(id string) {
	r.mu.Lock()
	delete(r.entities, id)
	r.mu.Unlock()
}

// Get returns the last pushed state for id.
func (r *EntityRegistry) Get(id string) (EntityState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.entities[id]
	return state, ok
}

// All returns every entity sorted by id.
func (r *EntityRegistry) All() []EntityState {
	r.mu.RLock()
	out := make([]EntityState, 0, len(r.entities))
	for _, state := range r.entities {
		out = append(out, state)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *EntityRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entities)
}

// Upserts counts every push received.
func (r *EntityRegistry) Upserts() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.upserts
}

type multiSink []EntitySink

func (m multiSink) UpsertEntity(state EntityState) {
	for _, sink := range m {
		sink.UpsertEntity(state)
	}
}

func (m multiSink) RemoveEntity(id string) {
	for _, sink := range m {
		sink.RemoveEntity(id)
	}
}

// MultiSink pushes to every non-nil sink in order.
func MultiSink(sinks ...EntitySink) EntitySink {
	filtered := make(multiSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			filtered = append(filtered, s)
		}
	}
	return filtered
}

type nopSink struct{}

func (nopSink) UpsertEntity(EntityState) {}
func (nopSink) RemoveEntity(string)      {}
