package events

import "time"

// Position is a world-space point. It mirrors world.Vec3 without importing
// the world package so transports can depend on events alone.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type PlayerJoined struct {
	PlayerID      string    `json:"playerId"`
	CharacterType string    `json:"characterType"`
	Position      Position  `json:"position"`
	Rotation      float64   `json:"rotation"`
	Timestamp     time.Time `json:"timestamp"`
}

func (PlayerJoined) EventName() string { return "player.joined" }

type PlayerLeft struct {
	PlayerID  string    `json:"playerId"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (PlayerLeft) EventName() string { return "player.left" }

type PlayerMoved struct {
	PlayerID  string    `json:"playerId"`
	Position  Position  `json:"position"`
	Rotation  float64   `json:"rotation"`
	Timestamp time.Time `json:"timestamp"`
}

func (PlayerMoved) EventName() string { return "player.moved" }

// TerrainChanged asks every consumer of terrain data to rebuild.
type TerrainChanged struct {
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (TerrainChanged) EventName() string { return "terrain.changed" }

type NPCSpawned struct {
	NPCID         string    `json:"npcId"`
	CharacterType string    `json:"characterType"`
	Position      Position  `json:"position"`
	Rotation      float64   `json:"rotation"`
	Timestamp     time.Time `json:"timestamp"`
}

func (NPCSpawned) EventName() string { return "npc.spawned" }

type NPCDespawned struct {
	NPCID         string    `json:"npcId"`
	CharacterType string    `json:"characterType"`
	Reason        string    `json:"reason,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

func (NPCDespawned) EventName() string { return "npc.despawned" }
