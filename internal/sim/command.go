package sim

import (
	"time"

	"hidden-walnuts/server/internal/events"
)

// CommandType enumerates the player intents the loop accepts.
type CommandType string

const (
	CommandJoin  CommandType = "Join"
	CommandMove  CommandType = "Move"
	CommandLeave CommandType = "Leave"
)

// JoinCommand places a player in the world.
type JoinCommand struct {
	CharacterType string  `json:"characterType"`
	X             float64 `json:"x"`
	Y             float64 `json:"y"`
	Z             float64 `json:"z"`
	Rotation      float64 `json:"rotation"`
}

// MoveCommand reports a player's latest transform.
type MoveCommand struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Z        float64 `json:"z"`
	Rotation float64 `json:"rotation"`
}

// LeaveCommand removes a player.
type LeaveCommand struct {
	Reason string `json:"reason"`
}

// Command represents an intent captured for processing on the next tick.
type Command struct {
	OriginTick uint64        `json:"originTick"`
	ActorID    string        `json:"actorId"`
	Type       CommandType   `json:"type"`
	IssuedAt   time.Time     `json:"issuedAt"`
	Join       *JoinCommand  `json:"join,omitempty"`
	Move       *MoveCommand  `json:"move,omitempty"`
	Leave      *LeaveCommand `json:"leave,omitempty"`
}

// publish forwards cmd to the bus as the matching typed event. Commands with
// a missing payload are dropped.
func publish(bus *events.Bus, cmd Command) bool {
	switch cmd.Type {
	case CommandJoin:
		if cmd.Join == nil {
			return false
		}
		events.Publish(bus, events.PlayerJoined{
			PlayerID:      cmd.ActorID,
			CharacterType: cmd.Join.CharacterType,
			Position:      events.Position{X: cmd.Join.X, Y: cmd.Join.Y, Z: cmd.Join.Z},
			Rotation:      cmd.Join.Rotation,
			Timestamp:     cmd.IssuedAt,
		})
	case CommandMove:
		if cmd.Move == nil {
			return false
		}
		events.Publish(bus, events.PlayerMoved{
			PlayerID:  cmd.ActorID,
			Position:  events.Position{X: cmd.Move.X, Y: cmd.Move.Y, Z: cmd.Move.Z},
			Rotation:  cmd.Move.Rotation,
			Timestamp: cmd.IssuedAt,
		})
	case CommandLeave:
		reason := ""
		if cmd.Leave != nil {
			reason = cmd.Leave.Reason
		}
		events.Publish(bus, events.PlayerLeft{
			PlayerID:  cmd.ActorID,
			Reason:    reason,
			Timestamp: cmd.IssuedAt,
		})
	default:
		return false
	}
	return true
}
