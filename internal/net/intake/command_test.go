package intake

import (
	"testing"
	"time"

	"hidden-walnuts/server/internal/net/proto"
	"hidden-walnuts/server/internal/sim"
)

type recordingLoop struct {
	commands []sim.Command
	reject   string
}

func (l *recordingLoop) Enqueue(cmd sim.Command) (bool, string) {
	if l.reject != "" {
		return false, l.reject
	}
	l.commands = append(l.commands, cmd)
	return true, ""
}

func TestStageClientCommandStampsActorAndTick(t *testing.T) {
	loop := &recordingLoop{}
	issued := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ctx := CommandContext{
		Loop: loop,
		Tick: func() uint64 { return 42 },
		Now:  func() time.Time { return issued },
	}
	msg := proto.ClientMessage{Type: proto.TypeJoin, CharacterType: "colobus", Position: &proto.Vec{X: 1, Z: 2}}

	cmd, ok, reason := StageClientCommand(ctx, "player-1", msg)
	if !ok || reason != "" {
		t.Fatalf("expected command to be staged, got reason %q", reason)
	}
	if cmd.ActorID != "player-1" || cmd.OriginTick != 42 || !cmd.IssuedAt.Equal(issued) {
		t.Fatalf("unexpected command metadata %+v", cmd)
	}
	if len(loop.commands) != 1 || loop.commands[0].Join == nil {
		t.Fatalf("expected join to reach the loop, got %+v", loop.commands)
	}
}

func TestStageClientCommandRejections(t *testing.T) {
	move := proto.ClientMessage{Type: proto.TypeMove, Position: &proto.Vec{X: 1}}
	cases := []struct {
		name   string
		ctx    CommandContext
		player string
		msg    proto.ClientMessage
		want   string
	}{
		{name: "unknown type", ctx: CommandContext{Loop: &recordingLoop{}}, player: "p", msg: proto.ClientMessage{Type: "fly"}, want: RejectInvalidMessage},
		{name: "missing player", ctx: CommandContext{Loop: &recordingLoop{}, Joined: true}, msg: move, want: RejectInvalidMessage},
		{name: "move before join", ctx: CommandContext{Loop: &recordingLoop{}}, player: "p", msg: move, want: RejectNotJoined},
		{name: "no loop", ctx: CommandContext{Joined: true}, player: "p", msg: move, want: sim.CommandRejectQueueFull},
		{name: "throttled", ctx: CommandContext{Loop: &recordingLoop{reject: sim.CommandRejectQueueLimit}, Joined: true}, player: "p", msg: move, want: sim.CommandRejectQueueLimit},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, ok, reason := StageClientCommand(tc.ctx, tc.player, tc.msg)
			if ok || reason != tc.want {
				t.Fatalf("expected rejection %q, got ok=%v reason=%q", tc.want, ok, reason)
			}
		})
	}
}

func TestRetryable(t *testing.T) {
	if !Retryable(sim.CommandRejectQueueLimit) || !Retryable(sim.CommandRejectQueueFull) {
		t.Fatalf("expected queue rejections to be retryable")
	}
	if Retryable(RejectInvalidMessage) || Retryable(RejectNotJoined) {
		t.Fatalf("expected validation rejections to be final")
	}
}
