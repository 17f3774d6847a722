package ws

import (
	"context"
	"encoding/json"

	"github.com/gorilla/websocket"

	"hidden-walnuts/server/internal/net/intake"
	"hidden-walnuts/server/internal/net/proto"
	"hidden-walnuts/server/internal/sim"
	"hidden-walnuts/server/logging/network"
)

// session tracks one viewer's protocol state while Serve runs.
type session struct {
	h        *Handler
	playerID string
	sub      *subscriber
	joined   bool
}

// Serve runs the session for an upgraded connection until it closes. A
// viewer that joined as a player is removed from the world on disconnect.
func (h *Handler) Serve(playerID string, conn *websocket.Conn) {
	if h == nil || h.hub == nil || conn == nil {
		return
	}
	sub, snapshot := h.hub.subscribe(playerID, conn)
	s := &session{h: h, playerID: playerID, sub: sub}
	defer s.close()

	if !s.writeJSON(proto.NewSnapshot(h.now(), snapshot)) {
		return
	}

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := proto.DecodeClientMessage(payload)
		if err != nil {
			h.logger.Printf("discarding malformed message from %s: %v", playerID, err)
			continue
		}
		if !s.handle(msg) {
			return
		}
	}
}

// handle processes one message and reports whether the connection is still
// writable.
func (s *session) handle(msg proto.ClientMessage) bool {
	if msg.Type == proto.TypeHeartbeat {
		return s.writeJSON(proto.NewHeartbeat(s.h.now(), msg.SentAt))
	}

	var seq uint64
	if msg.CommandSeq != nil {
		seq = *msg.CommandSeq
	}
	if seq > 0 {
		if last := s.sub.LastCommandSeq(); last > 0 && seq <= last {
			network.CommandReplayed(context.Background(), s.h.publisher, s.h.currentTick(), s.playerID, network.CommandSeqPayload{Last: last, Seq: seq})
			return s.writeJSON(proto.NewCommandAck(seq, 0))
		}
	}

	cmd, ok, reason := intake.StageClientCommand(intake.CommandContext{
		Loop:   s.h.loop,
		Joined: s.joined,
		Tick:   s.h.tick,
		Now:    s.h.now,
	}, s.playerID, msg)
	if !ok {
		if reason == intake.RejectInvalidMessage {
			s.h.logger.Printf("unsupported %q message from %s", msg.Type, s.playerID)
		}
		if seq == 0 {
			return true
		}
		return s.writeJSON(proto.NewCommandReject(seq, reason, intake.Retryable(reason)))
	}

	switch cmd.Type {
	case sim.CommandJoin:
		s.joined = true
	case sim.CommandLeave:
		s.joined = false
	}
	if seq == 0 {
		return true
	}
	if !s.writeJSON(proto.NewCommandAck(seq, cmd.OriginTick)) {
		return false
	}
	s.sub.StoreLastCommandSeq(seq)
	return true
}

func (s *session) writeJSON(payload any) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		s.h.logger.Printf("failed to marshal response for %s: %v", s.playerID, err)
		return true
	}
	return s.sub.WriteMessage(websocket.TextMessage, data) == nil
}

func (s *session) close() {
	s.h.hub.unsubscribe(s.sub)
	s.sub.conn.Close()
	if !s.joined || s.h.loop == nil {
		return
	}
	cmd := sim.Command{
		ActorID:  s.playerID,
		Type:     sim.CommandLeave,
		IssuedAt: s.h.now(),
		Leave:    &sim.LeaveCommand{Reason: "disconnected"},
	}
	cmd.OriginTick = s.h.currentTick()
	if ok, reason := s.h.loop.Enqueue(cmd); !ok {
		s.h.logger.Printf("failed to stage leave for %s: %s", s.playerID, reason)
	}
}
