// Package proto defines the JSON messages exchanged with viewers over the
// websocket.
package proto

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"hidden-walnuts/server/internal/npc"
	"hidden-walnuts/server/internal/sim"
)

const (
	// Version tracks the wire-protocol revision expected by clients.
	Version = 1

	// Outbound message types.
	TypeSnapshot      = "snapshot"
	TypeEntities      = "entities"
	TypeCommandAck    = "commandAck"
	TypeCommandReject = "commandReject"
	TypeHeartbeatAck  = "heartbeat"
)

// Client message type identifiers.
const (
	TypeJoin      = "join"
	TypeMove      = "move"
	TypeLeave     = "leave"
	TypeHeartbeat = "heartbeat"
)

// Vec is the wire form of a position.
type Vec struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (v Vec) finite() bool {
	for _, c := range [...]float64{v.X, v.Y, v.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

// ClientMessage captures an inbound websocket message from a viewer.
type ClientMessage struct {
	Ver           int     `json:"ver,omitempty"`
	Type          string  `json:"type"`
	CharacterType string  `json:"characterType,omitempty"`
	Position      *Vec    `json:"position,omitempty"`
	Rotation      float64 `json:"rotation"`
	Reason        string  `json:"reason,omitempty"`
	SentAt        int64   `json:"sentAt,omitempty"`
	CommandSeq    *uint64 `json:"seq,omitempty"`
}

// DecodeClientMessage parses and version-checks one inbound frame.
func DecodeClientMessage(data []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ClientMessage{}, fmt.Errorf("decode client message: %w", err)
	}
	if msg.Ver != 0 && msg.Ver != Version {
		return ClientMessage{}, fmt.Errorf("unsupported protocol version %d", msg.Ver)
	}
	if msg.Type == "" {
		return ClientMessage{}, fmt.Errorf("client message missing type")
	}
	return msg, nil
}

// ClientCommand converts a player message into a simulation command. The
// actor, tick and timestamp are filled in by the caller.
func ClientCommand(msg ClientMessage) (sim.Command, bool) {
	switch msg.Type {
	case TypeJoin:
		if msg.CharacterType == "" || msg.Position == nil || !msg.Position.finite() {
			return sim.Command{}, false
		}
		return sim.Command{Type: sim.CommandJoin, Join: &sim.JoinCommand{
			CharacterType: msg.CharacterType,
			X:             msg.Position.X,
			Y:             msg.Position.Y,
			Z:             msg.Position.Z,
			Rotation:      msg.Rotation,
		}}, true
	case TypeMove:
		if msg.Position == nil || !msg.Position.finite() {
			return sim.Command{}, false
		}
		return sim.Command{Type: sim.CommandMove, Move: &sim.MoveCommand{
			X:        msg.Position.X,
			Y:        msg.Position.Y,
			Z:        msg.Position.Z,
			Rotation: msg.Rotation,
		}}, true
	case TypeLeave:
		return sim.Command{Type: sim.CommandLeave, Leave: &sim.LeaveCommand{Reason: msg.Reason}}, true
	default:
		return sim.Command{}, false
	}
}

// SnapshotMessage is sent once when a viewer subscribes.
type SnapshotMessage struct {
	Ver        int               `json:"ver"`
	Type       string            `json:"type"`
	ServerTime int64             `json:"serverTime"`
	Entities   []npc.EntityState `json:"entities"`
}

// EntitiesMessage carries the entity changes accumulated since the last
// broadcast.
type EntitiesMessage struct {
	Ver        int               `json:"ver"`
	Type       string            `json:"type"`
	Seq        uint64            `json:"seq"`
	ServerTime int64             `json:"serverTime"`
	Upserts    []npc.EntityState `json:"upserts,omitempty"`
	Removed    []string          `json:"removed,omitempty"`
}

type CommandAckMessage struct {
	Ver  int    `json:"ver"`
	Type string `json:"type"`
	Seq  uint64 `json:"seq"`
	Tick uint64 `json:"tick,omitempty"`
}

type CommandRejectMessage struct {
	Ver    int    `json:"ver"`
	Type   string `json:"type"`
	Seq    uint64 `json:"seq"`
	Reason string `json:"reason"`
	Retry  bool   `json:"retry,omitempty"`
}

type HeartbeatMessage struct {
	Ver        int    `json:"ver"`
	Type       string `json:"type"`
	ServerTime int64  `json:"serverTime"`
	ClientTime int64  `json:"clientTime"`
}

// NewSnapshot builds the initial subscription payload.
func NewSnapshot(now time.Time, entities []npc.EntityState) SnapshotMessage {
	if entities == nil {
		entities = []npc.EntityState{}
	}
	return SnapshotMessage{Ver: Version, Type: TypeSnapshot, ServerTime: now.UnixMilli(), Entities: entities}
}

// NewEntities builds a delta broadcast.
func NewEntities(seq uint64, now time.Time, upserts []npc.EntityState, removed []string) EntitiesMessage {
	return EntitiesMessage{
		Ver:        Version,
		Type:       TypeEntities,
		Seq:        seq,
		ServerTime: now.UnixMilli(),
		Upserts:    upserts,
		Removed:    removed,
	}
}

func NewCommandAck(seq, tick uint64) CommandAckMessage {
	return CommandAckMessage{Ver: Version, Type: TypeCommandAck, Seq: seq, Tick: tick}
}

func NewCommandReject(seq uint64, reason string, retry bool) CommandRejectMessage {
	return CommandRejectMessage{Ver: Version, Type: TypeCommandReject, Seq: seq, Reason: reason, Retry: retry}
}

func NewHeartbeat(now time.Time, clientTime int64) HeartbeatMessage {
	return HeartbeatMessage{Ver: Version, Type: TypeHeartbeatAck, ServerTime: now.UnixMilli(), ClientTime: clientTime}
}
