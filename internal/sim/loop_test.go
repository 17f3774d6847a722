package sim

import (
	"context"
	"sync"
	"testing"
	"time"

	"hidden-walnuts/server/internal/events"
	"hidden-walnuts/server/logging"
)

type fakeEngine struct {
	mu      sync.Mutex
	updates []float64
	panicOn int
}

func (e *fakeEngine) Update(_ context.Context, dt float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.updates = append(e.updates, dt)
	if e.panicOn > 0 && len(e.updates) == e.panicOn {
		panic("boom")
	}
}

func (e *fakeEngine) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.updates)
}

type eventLog struct {
	mu     sync.Mutex
	events []logging.Event
}

func (l *eventLog) Publish(_ context.Context, ev logging.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) types() []logging.EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]logging.EventType, len(l.events))
	for i, ev := range l.events {
		out[i] = ev.Type
	}
	return out
}

func TestAdvancePublishesCommandsBeforeUpdate(t *testing.T) {
	bus := events.NewBus()
	engine := &fakeEngine{}
	var seen []string
	events.Subscribe(bus, func(ev events.PlayerJoined) {
		if engine.count() != 0 {
			t.Errorf("join delivered after engine update")
		}
		seen = append(seen, "join:"+ev.PlayerID+":"+ev.CharacterType)
	})
	events.Subscribe(bus, func(ev events.PlayerMoved) { seen = append(seen, "move:"+ev.PlayerID) })
	events.Subscribe(bus, func(ev events.PlayerLeft) { seen = append(seen, "leave:"+ev.Reason) })

	loop := NewLoop(engine, LoopConfig{}, Deps{Bus: bus}, LoopHooks{})
	loop.Enqueue(Command{ActorID: "p1", Type: CommandJoin, Join: &JoinCommand{CharacterType: "colobus", X: 1}})
	loop.Enqueue(Command{ActorID: "p1", Type: CommandMove, Move: &MoveCommand{X: 2}})
	loop.Enqueue(Command{ActorID: "p1", Type: CommandMove})
	loop.Enqueue(Command{ActorID: "p1", Type: CommandLeave, Leave: &LeaveCommand{Reason: "closed"}})

	result := loop.Advance(context.Background(), LoopTickContext{Tick: 7, Delta: 0.1})
	if result.Commands != 3 {
		t.Fatalf("expected 3 published commands, got %d", result.Commands)
	}
	want := []string{"join:p1:colobus", "move:p1", "leave:closed"}
	if len(seen) != len(want) {
		t.Fatalf("unexpected events %v", seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("unexpected events %v", seen)
		}
	}
	if engine.count() != 1 || loop.Tick() != 7 || loop.Pending() != 0 {
		t.Fatalf("unexpected loop state updates=%d tick=%d pending=%d", engine.count(), loop.Tick(), loop.Pending())
	}
}

func TestEnqueueThrottlesPerActor(t *testing.T) {
	var drops []string
	loop := NewLoop(&fakeEngine{}, LoopConfig{PerActorLimit: 2, CommandCapacity: 3}, Deps{}, LoopHooks{
		OnCommandDrop: func(reason string, cmd Command) { drops = append(drops, reason+":"+cmd.ActorID) },
	})
	for range 3 {
		loop.Enqueue(Command{ActorID: "a", Type: CommandMove, Move: &MoveCommand{}})
	}
	if ok, _ := loop.Enqueue(Command{ActorID: "b", Type: CommandMove, Move: &MoveCommand{}}); !ok {
		t.Fatalf("expected other actor to be admitted")
	}
	if ok, reason := loop.Enqueue(Command{ActorID: "c", Type: CommandMove, Move: &MoveCommand{}}); ok || reason != CommandRejectQueueFull {
		t.Fatalf("expected queue full, got %v %q", ok, reason)
	}
	if len(drops) != 2 || drops[0] != CommandRejectQueueLimit+":a" || drops[1] != CommandRejectQueueFull+":c" {
		t.Fatalf("unexpected drops %v", drops)
	}

	loop.Advance(context.Background(), LoopTickContext{Tick: 1})
	if ok, _ := loop.Enqueue(Command{ActorID: "a", Type: CommandMove, Move: &MoveCommand{}}); !ok {
		t.Fatalf("expected per-actor budget to reset after a tick")
	}
}

func TestQueueWarningStep(t *testing.T) {
	var warnings []int
	loop := NewLoop(&fakeEngine{}, LoopConfig{WarningStep: 2}, Deps{}, LoopHooks{
		OnQueueWarning: func(length int) { warnings = append(warnings, length) },
	})
	for range 5 {
		loop.Enqueue(Command{Type: CommandMove, Move: &MoveCommand{}})
	}
	if len(warnings) != 2 || warnings[0] != 2 || warnings[1] != 4 {
		t.Fatalf("unexpected warnings %v", warnings)
	}
}

func TestAdvanceRecoversEnginePanic(t *testing.T) {
	log := &eventLog{}
	engine := &fakeEngine{panicOn: 1}
	loop := NewLoop(engine, LoopConfig{}, Deps{Publisher: log}, LoopHooks{})
	result := loop.Advance(context.Background(), LoopTickContext{Tick: 1, Delta: 0.016})
	if !result.Failed {
		t.Fatalf("expected failed step")
	}
	if got := log.types(); len(got) != 1 || got[0] != "simulation.tick_failed" {
		t.Fatalf("unexpected events %v", got)
	}
	if result = loop.Advance(context.Background(), LoopTickContext{Tick: 2}); result.Failed {
		t.Fatalf("expected loop to keep running after a failed tick")
	}
	// The lock must have been released by the failed tick.
	done := make(chan struct{})
	go loop.Do(func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Do blocked after recovered panic")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	log := &eventLog{}
	engine := &fakeEngine{}
	steps := make(chan LoopStepResult, 64)
	loop := NewLoop(engine, LoopConfig{TickRate: 200, CatchupMaxTicks: 2}, Deps{Publisher: log}, LoopHooks{
		AfterStep: func(r LoopStepResult) {
			select {
			case steps <- r:
			default:
			}
		},
	})
	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(finished)
	}()
	for range 3 {
		select {
		case r := <-steps:
			if r.Delta <= 0 || r.Delta > r.MaxDelta {
				t.Errorf("delta %v outside (0, %v]", r.Delta, r.MaxDelta)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("loop did not tick")
		}
	}
	cancel()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatalf("loop did not stop")
	}
	got := log.types()
	if len(got) == 0 || got[len(got)-1] != "simulation.loop_stopped" {
		t.Fatalf("expected loop_stopped event, got %v", got)
	}
}

func TestNewLoopRequiresEngine(t *testing.T) {
	if NewLoop(nil, LoopConfig{}, Deps{}, LoopHooks{}) != nil {
		t.Fatalf("expected nil loop without engine")
	}
	var loop *Loop
	if ok, _ := loop.Enqueue(Command{}); ok || loop.Tick() != 0 {
		t.Fatalf("nil loop should reject work")
	}
}
