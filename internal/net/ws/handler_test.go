package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"hidden-walnuts/server/internal/ai"
	"hidden-walnuts/server/internal/net/proto"
	"hidden-walnuts/server/internal/npc"
	"hidden-walnuts/server/internal/sim"
	"hidden-walnuts/server/internal/telemetry"
	"hidden-walnuts/server/logging"
	"hidden-walnuts/server/logging/network"
)

type recordingLoop struct {
	mu       sync.Mutex
	commands []sim.Command
}

func (l *recordingLoop) Enqueue(cmd sim.Command) (bool, string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.commands = append(l.commands, cmd)
	return true, ""
}

func (l *recordingLoop) snapshot() []sim.Command {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]sim.Command(nil), l.commands...)
}

func startServer(t *testing.T, hub *Hub, loop *recordingLoop) *httptest.Server {
	t.Helper()
	handler := NewHandler(hub, loop, HandlerConfig{Tick: func() uint64 { return 9 }})
	srv := httptest.NewServer(http.HandlerFunc(handler.Handle))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, baseURL, playerID string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(websocketURL(t, baseURL, playerID), nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		t.Fatalf("failed to open websocket connection: %v", err)
	}
	t.Cleanup(func() {
		conn.Close()
		if resp != nil {
			resp.Body.Close()
		}
	})
	return conn
}

func websocketURL(t *testing.T, baseURL, playerID string) string {
	t.Helper()

	parsed, err := url.Parse(baseURL)
	if err != nil {
		t.Fatalf("failed to parse test server url: %v", err)
	}
	parsed.Scheme = "ws"
	parsed.Path = "/"
	query := parsed.Query()
	if playerID != "" {
		query.Set("id", playerID)
	}
	parsed.RawQuery = query.Encode()
	return parsed.String()
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read frame: %v", err)
	}
	var frame map[string]any
	if err := json.Unmarshal(payload, &frame); err != nil {
		t.Fatalf("failed to decode frame %s: %v", payload, err)
	}
	return frame
}

func entity(id string, x float64) npc.EntityState {
	return npc.EntityState{ID: id, CharacterType: "colobus", Position: ai.Vec3{X: x}, Behavior: ai.BehaviorWander, Animation: "walk"}
}

func TestSubscribeSendsSnapshotThenDeltas(t *testing.T) {
	hub := NewHub(HubConfig{})
	hub.UpsertEntity(entity("npc_b", 2))
	hub.UpsertEntity(entity("npc_a", 1))
	hub.Flush()

	srv := startServer(t, hub, &recordingLoop{})
	conn := dial(t, srv.URL, "viewer")

	frame := readFrame(t, conn)
	if frame["type"] != proto.TypeSnapshot {
		t.Fatalf("expected snapshot, got %v", frame["type"])
	}
	entities, ok := frame["entities"].([]any)
	if !ok || len(entities) != 2 {
		t.Fatalf("expected 2 entities in snapshot, got %v", frame["entities"])
	}
	if first := entities[0].(map[string]any); first["id"] != "npc_a" {
		t.Fatalf("expected snapshot sorted by id, got %v", first["id"])
	}

	waitFor(t, func() bool { return hub.Subscribers() == 1 })
	hub.UpsertEntity(entity("npc_a", 5))
	hub.RemoveEntity("npc_b")
	if sent := hub.Flush(); sent != 1 {
		t.Fatalf("expected broadcast to reach 1 viewer, got %d", sent)
	}

	delta := readFrame(t, conn)
	if delta["type"] != proto.TypeEntities {
		t.Fatalf("expected entities delta, got %v", delta["type"])
	}
	upserts := delta["upserts"].([]any)
	if len(upserts) != 1 || upserts[0].(map[string]any)["id"] != "npc_a" {
		t.Fatalf("unexpected upserts %v", upserts)
	}
	removed := delta["removed"].([]any)
	if len(removed) != 1 || removed[0] != "npc_b" {
		t.Fatalf("unexpected removals %v", removed)
	}
	if hub.Flush() != 0 {
		t.Fatalf("expected no broadcast without changes")
	}
}

func TestSessionStagesPlayerCommands(t *testing.T) {
	hub := NewHub(HubConfig{})
	loop := &recordingLoop{}
	srv := startServer(t, hub, loop)
	conn := dial(t, srv.URL, "squirrel-1")
	readFrame(t, conn)

	send := func(msg string) {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	send(`{"type":"move","position":{"x":1,"y":0,"z":1},"seq":1}`)
	reject := readFrame(t, conn)
	if reject["type"] != proto.TypeCommandReject || reject["reason"] != "not_joined" {
		t.Fatalf("expected move before join to be rejected, got %v", reject)
	}

	send(`{"type":"join","characterType":"colobus","position":{"x":1,"y":0,"z":1},"seq":2}`)
	ack := readFrame(t, conn)
	if ack["type"] != proto.TypeCommandAck || ack["seq"] != float64(2) || ack["tick"] != float64(9) {
		t.Fatalf("unexpected join ack %v", ack)
	}

	send(`{"type":"join","characterType":"colobus","position":{"x":1,"y":0,"z":1},"seq":2}`)
	if dup := readFrame(t, conn); dup["type"] != proto.TypeCommandAck {
		t.Fatalf("expected duplicate to be re-acked, got %v", dup)
	}

	send(`{"type":"heartbeat","sentAt":1234}`)
	if hb := readFrame(t, conn); hb["type"] != proto.TypeHeartbeatAck || hb["clientTime"] != float64(1234) {
		t.Fatalf("unexpected heartbeat ack %v", hb)
	}

	send(`{"type":"move","position":{"x":2,"y":0,"z":3},"seq":3}`)
	readFrame(t, conn)

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()

	waitFor(t, func() bool { return len(loop.snapshot()) == 3 })
	commands := loop.snapshot()
	want := []sim.CommandType{sim.CommandJoin, sim.CommandMove, sim.CommandLeave}
	for i, cmd := range commands {
		if cmd.Type != want[i] || cmd.ActorID != "squirrel-1" {
			t.Fatalf("unexpected command %d: %+v", i, cmd)
		}
	}
	if commands[2].Leave == nil || commands[2].Leave.Reason != "disconnected" {
		t.Fatalf("expected disconnect leave, got %+v", commands[2])
	}
	waitFor(t, func() bool { return hub.Subscribers() == 0 })
}

func TestHandleGeneratesPlayerID(t *testing.T) {
	hub := NewHub(HubConfig{})
	loop := &recordingLoop{}
	srv := startServer(t, hub, loop)
	conn := dial(t, srv.URL, "")
	readFrame(t, conn)
	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"leave","seq":1}`))
	readFrame(t, conn)
	commands := loop.snapshot()
	if len(commands) != 1 || len(commands[0].ActorID) <= len("player_") {
		t.Fatalf("expected generated player id, got %+v", commands)
	}
}

type failingConn struct {
	closed bool
}

func (c *failingConn) WriteMessage(int, []byte) error { return errors.New("broken pipe") }

func (c *failingConn) SetWriteDeadline(time.Time) error { return nil }

func (c *failingConn) Close() error {
	c.closed = true
	return nil
}

type eventRecorder struct {
	mu     sync.Mutex
	events []logging.Event
}

func (r *eventRecorder) Publish(_ context.Context, event logging.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *eventRecorder) types() []logging.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]logging.EventType, 0, len(r.events))
	for _, event := range r.events {
		out = append(out, event.Type)
	}
	return out
}

func TestFlushDropsFailingViewers(t *testing.T) {
	counters := &telemetry.Counters{}
	recorder := &eventRecorder{}
	hub := NewHub(HubConfig{Metrics: counters, Publisher: recorder, Tick: func() uint64 { return 4 }})
	broken := &failingConn{}
	hub.subscribe("player_broken", broken)
	hub.UpsertEntity(entity("npc_a", 0))
	if sent := hub.Flush(); sent != 0 {
		t.Fatalf("expected no successful sends, got %d", sent)
	}
	if hub.Subscribers() != 0 || !broken.closed {
		t.Fatalf("expected failing viewer to be dropped and closed")
	}
	if counters.Get(droppedMetricKey) != 1 {
		t.Fatalf("expected dropped metric, got %d", counters.Get(droppedMetricKey))
	}
	types := recorder.types()
	if len(types) != 2 || types[0] != network.EventViewerConnected || types[1] != network.EventViewerDropped {
		t.Fatalf("unexpected network events %v", types)
	}
	dropped := recorder.events[1]
	if dropped.Tick != 4 || dropped.Actor.ID != "player_broken" {
		t.Fatalf("unexpected drop event %+v", dropped)
	}
}

func TestRemoveUnknownEntityIsNoop(t *testing.T) {
	hub := NewHub(HubConfig{})
	hub.RemoveEntity("ghost")
	hub.UpsertEntity(entity("npc_a", 0))
	hub.RemoveEntity("npc_a")
	hub.UpsertEntity(entity("npc_a", 1))
	if got := hub.Entities(); len(got) != 1 || got[0].Position.X != 1 {
		t.Fatalf("unexpected entities %+v", got)
	}
	hub.mu.Lock()
	defer hub.mu.Unlock()
	if len(hub.removed) != 0 {
		t.Fatalf("re-upserted entity should not be reported as removed")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
