// Package intake validates viewer messages and stages them on the
// simulation loop.
package intake

import (
	"time"

	"hidden-walnuts/server/internal/net/proto"
	"hidden-walnuts/server/internal/sim"
)

const (
	// RejectInvalidMessage marks a message that does not describe a
	// well-formed player command.
	RejectInvalidMessage = "invalid_message"
	// RejectNotJoined marks a move sent before the sender joined.
	RejectNotJoined = "not_joined"
)

// Enqueuer stages commands for the next tick. *sim.Loop satisfies it.
type Enqueuer interface {
	Enqueue(cmd sim.Command) (bool, string)
}

// CommandContext supplies what staging needs besides the message itself.
type CommandContext struct {
	Loop   Enqueuer
	Joined bool
	Tick   func() uint64
	Now    func() time.Time
}

// StageClientCommand converts msg into a command for playerID and enqueues
// it. The returned reason is empty on success.
func StageClientCommand(ctx CommandContext, playerID string, msg proto.ClientMessage) (sim.Command, bool, string) {
	var zero sim.Command

	command, ok := proto.ClientCommand(msg)
	if !ok || playerID == "" {
		return zero, false, RejectInvalidMessage
	}
	if command.Type == sim.CommandMove && !ctx.Joined {
		return zero, false, RejectNotJoined
	}

	command.ActorID = playerID
	if ctx.Tick != nil {
		command.OriginTick = ctx.Tick()
	}
	if ctx.Now != nil {
		command.IssuedAt = ctx.Now()
	} else {
		command.IssuedAt = time.Now()
	}

	if ctx.Loop == nil {
		return zero, false, sim.CommandRejectQueueFull
	}
	if ok, reason := ctx.Loop.Enqueue(command); !ok {
		return zero, false, reason
	}
	return command, true, ""
}

// Retryable reports whether a rejected command may succeed if resent.
func Retryable(reason string) bool {
	return reason == sim.CommandRejectQueueLimit || reason == sim.CommandRejectQueueFull
}
