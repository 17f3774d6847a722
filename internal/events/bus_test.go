package events

import (
	"sync"
	"testing"
)

func TestPublishDeliversOnlyToMatchingType(t *testing.T) {
	bus := NewBus()
	var joined []PlayerJoined
	var left []PlayerLeft
	Subscribe(bus, func(ev PlayerJoined) { joined = append(joined, ev) })
	Subscribe(bus, func(ev PlayerLeft) { left = append(left, ev) })

	Publish(bus, PlayerJoined{PlayerID: "p1", Position: Position{X: 1}})
	Publish(bus, PlayerMoved{PlayerID: "p1"})

	if len(joined) != 1 || joined[0].PlayerID != "p1" || joined[0].Position.X != 1 {
		t.Fatalf("unexpected joined events: %+v", joined)
	}
	if len(left) != 0 {
		t.Fatalf("expected no left events, got %+v", left)
	}
}

func TestUnsubscribe(t *testing.T) {
	bus := NewBus()
	calls := 0
	stop := Subscribe(bus, func(TerrainChanged) { calls++ })
	Subscribe(bus, func(TerrainChanged) { calls += 10 })

	Publish(bus, TerrainChanged{})
	stop()
	stop()
	Publish(bus, TerrainChanged{})

	if calls != 21 {
		t.Fatalf("expected 21, got %d", calls)
	}
	if HandlerCount[TerrainChanged](bus) != 1 {
		t.Fatalf("expected one remaining handler")
	}
}

func TestPanickingHandlerIsIsolated(t *testing.T) {
	bus := NewBus()
	var recovered []string
	bus.OnPanic = func(name string, r any) {
		recovered = append(recovered, PanicError{Event: name, Value: r}.Error())
	}
	delivered := false
	Subscribe(bus, func(NPCSpawned) { panic("bad handler") })
	Subscribe(bus, func(NPCSpawned) { delivered = true })

	Publish(bus, NPCSpawned{NPCID: "npc_1"})

	if !delivered {
		t.Fatalf("expected second handler to run")
	}
	if len(recovered) != 1 || recovered[0] != "events: handler for npc.spawned panicked: bad handler" {
		t.Fatalf("unexpected recovered panics: %v", recovered)
	}
}

func TestConcurrentPublish(t *testing.T) {
	bus := NewBus()
	var mu sync.Mutex
	count := 0
	Subscribe(bus, func(PlayerMoved) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				Publish(bus, PlayerMoved{PlayerID: "p"})
			}
		}()
	}
	wg.Wait()
	if count != 500 {
		t.Fatalf("expected 500 deliveries, got %d", count)
	}
}

func TestNilBusIsSafe(t *testing.T) {
	var bus *Bus
	Subscribe(bus, func(PlayerLeft) {})()
	Publish(bus, PlayerLeft{})
}
