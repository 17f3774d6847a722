package proto

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"

	"hidden-walnuts/server/internal/sim"
)

func TestDecodeClientMessage(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		wantErr string
	}{
		{name: "join", raw: `{"type":"join","characterType":"colobus","position":{"x":1,"y":0,"z":2},"seq":4}`},
		{name: "explicit version", raw: `{"ver":1,"type":"leave"}`},
		{name: "future version", raw: `{"ver":2,"type":"leave"}`, wantErr: "version"},
		{name: "missing type", raw: `{"position":{"x":1}}`, wantErr: "missing type"},
		{name: "garbage", raw: `{`, wantErr: "decode"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeClientMessage([]byte(tc.raw))
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestClientCommandConversion(t *testing.T) {
	join, ok := ClientCommand(ClientMessage{Type: TypeJoin, CharacterType: "gecko", Position: &Vec{X: 3, Y: 1, Z: -4}, Rotation: 0.5})
	if !ok || join.Type != sim.CommandJoin || join.Join == nil {
		t.Fatalf("unexpected join command %+v", join)
	}
	if join.Join.CharacterType != "gecko" || join.Join.X != 3 || join.Join.Z != -4 || join.Join.Rotation != 0.5 {
		t.Fatalf("join payload not copied: %+v", join.Join)
	}

	move, ok := ClientCommand(ClientMessage{Type: TypeMove, Position: &Vec{X: 7}})
	if !ok || move.Move == nil || move.Move.X != 7 {
		t.Fatalf("unexpected move command %+v", move)
	}

	leave, ok := ClientCommand(ClientMessage{Type: TypeLeave, Reason: "bye"})
	if !ok || leave.Leave == nil || leave.Leave.Reason != "bye" {
		t.Fatalf("unexpected leave command %+v", leave)
	}

	rejected := []ClientMessage{
		{Type: TypeJoin, Position: &Vec{}},
		{Type: TypeJoin, CharacterType: "gecko"},
		{Type: TypeMove},
		{Type: TypeMove, Position: &Vec{X: math.NaN()}},
		{Type: TypeHeartbeat},
		{Type: "dance"},
	}
	for _, msg := range rejected {
		if cmd, ok := ClientCommand(msg); ok {
			t.Fatalf("expected %+v to be rejected, got %+v", msg, cmd)
		}
	}
}

func TestEntitiesMessageOmitsEmptySections(t *testing.T) {
	msg := NewEntities(3, time.UnixMilli(1000), nil, []string{"npc_1"})
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["type"] != TypeEntities || decoded["seq"] != float64(3) || decoded["serverTime"] != float64(1000) {
		t.Fatalf("unexpected envelope %s", data)
	}
	if _, ok := decoded["upserts"]; ok {
		t.Fatalf("expected upserts to be omitted: %s", data)
	}

	snapshot, err := json.Marshal(NewSnapshot(time.Now(), nil))
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}
	if !strings.Contains(string(snapshot), `"entities":[]`) {
		t.Fatalf("expected empty entity list in snapshot, got %s", snapshot)
	}
}
