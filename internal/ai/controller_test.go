package ai

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"hidden-walnuts/server/internal/species"
)

func testCharacter() species.Character {
	return species.Character{
		Key:            "colobus",
		Name:           "Colobus",
		NPC:            true,
		WalkSpeed:      2,
		RunSpeed:       5,
		DetectionRange: 15,
		Behaviors:      []string{"idle", "wander", "forage", "socialize", "flee", "rest", "curious"},
	}
}

func newTestController(t *testing.T, seed int64, mutate func(*NPC)) *Controller {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	npc := NewNPC("npc_test", testCharacter(), Vec3{}, rng)
	if mutate != nil {
		mutate(npc)
	}
	return NewController(npc, ControllerOptions{Character: testCharacter(), RNG: rng, Settings: DefaultSettings()})
}

type panickingNavigator struct{}

func (panickingNavigator) RandomPosition(Vec3, float64) Vec3 { panic("navigator exploded") }
func (panickingNavigator) IsValidPosition(Vec3) bool        { return true }

func TestNewControllerSelectsInitialBehavior(t *testing.T) {
	c := newTestController(t, 1, nil)
	b := c.CurrentBehavior()
	if b == nil {
		t.Fatalf("expected initial behavior")
	}
	min, max, ok := DurationRange(b.Type)
	if !ok {
		t.Fatalf("unknown behavior type %q", b.Type)
	}
	if b.Duration < min || b.Duration > max {
		t.Fatalf("duration %.2f outside [%.0f, %.0f] for %s", b.Duration, min, max, b.Type)
	}
}

func TestBehaviorPersistsUntilExpired(t *testing.T) {
	c := newTestController(t, 2, nil)
	world := &WorldState{Visibility: 1, TimeOfDay: 12}
	first := c.CurrentBehavior()
	firstType := first.Type
	steps := int(first.Duration/0.1) - 1
	for i := 0; i < steps; i++ {
		world.Time += 0.1
		if err := c.Update(0.1, world); err != nil {
			t.Fatalf("update failed: %v", err)
		}
		if c.CurrentBehavior() != first {
			t.Fatalf("behavior changed after %.1fs of %.1fs", first.Elapsed, first.Duration)
		}
	}
	for i := 0; i < 20 && c.CurrentBehavior() == first; i++ {
		world.Time += 0.1
		_ = c.Update(0.1, world)
	}
	if c.CurrentBehavior() == first {
		t.Fatalf("expected %s to be replaced after its duration", firstType)
	}
	if c.PerformanceMetrics().Transitions != 1 {
		t.Fatalf("expected exactly one transition, got %d", c.PerformanceMetrics().Transitions)
	}
}

func TestUpdateNeverLeavesNilBehavior(t *testing.T) {
	c := newTestController(t, 3, nil)
	world := &WorldState{
		Visibility: 1,
		Players: map[string]PlayerInfo{
			"p1": {ID: "p1", Position: Vec3{X: 3, Z: 3}},
		},
		NPCs: map[string]NPCInfo{
			"npc_other": {ID: "npc_other", CharacterType: "gecko", Position: Vec3{X: -2, Z: 1}},
		},
	}
	for i := 0; i < 3000; i++ {
		world.Time += 0.1
		world.TimeOfDay = math.Mod(world.Time/60, 24)
		if err := c.Update(0.1, world); err != nil {
			t.Fatalf("update %d failed: %v", i, err)
		}
		if c.CurrentBehavior() == nil {
			t.Fatalf("behavior nil after update %d", i)
		}
		npc := c.NPC()
		if !npc.Position.Finite() {
			t.Fatalf("position not finite after update %d: %+v", i, npc.Position)
		}
		if npc.Energy < 0 || npc.Energy > 100 || npc.Mood < -100 || npc.Mood > 100 {
			t.Fatalf("energy/mood out of range: %.2f / %.2f", npc.Energy, npc.Mood)
		}
	}
}

func TestUpdateRecoversFromPanic(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	npc := NewNPC("npc_panic", testCharacter(), Vec3{}, rng)
	npc.CurrentBehavior = &Behavior{Type: BehaviorWander, Duration: 10}
	npc.Velocity = Vec3{X: 1}
	c := NewController(npc, ControllerOptions{
		Character: testCharacter(),
		Navigator: panickingNavigator{},
		RNG:       rng,
	})

	err := c.Update(0.1, &WorldState{Visibility: 1})
	if !errors.Is(err, ErrUpdatePanicked) {
		t.Fatalf("expected ErrUpdatePanicked, got %v", err)
	}
	b := c.CurrentBehavior()
	if b == nil || b.Type != BehaviorWander {
		t.Fatalf("expected previous behavior restored, got %+v", b)
	}
	if b.Elapsed != 0 {
		t.Fatalf("expected restored behavior to keep its pre-update timer, got %.2f", b.Elapsed)
	}
	if npc.Velocity != (Vec3{}) {
		t.Fatalf("expected velocity zeroed, got %+v", npc.Velocity)
	}
	if c.PerformanceMetrics().Failures != 1 {
		t.Fatalf("expected failure counted")
	}
}

func TestNilWorldAndBadDeltaTolerated(t *testing.T) {
	c := newTestController(t, 5, nil)
	for _, dt := range []float64{0, -1, math.NaN(), math.Inf(1), 0.1} {
		if err := c.Update(dt, nil); err != nil {
			t.Fatalf("update(%v) failed: %v", dt, err)
		}
	}
	if !c.NPC().Position.Finite() {
		t.Fatalf("position corrupted by bad delta")
	}
}

func TestFleeMoreLikelyUnderDanger(t *testing.T) {
	count := func(danger float64, players map[string]PlayerInfo) int {
		rng := rand.New(rand.NewSource(99))
		npc := NewNPC("npc_bias", testCharacter(), Vec3{}, rng)
		npc.Personality.Fearfulness = 90
		npc.Energy = 80
		c := &Controller{npc: npc, character: testCharacter(), rng: rng, settings: DefaultSettings(), selections: map[BehaviorType]uint64{}}
		world := &WorldState{DangerLevel: danger, Players: players, Visibility: 1, TimeOfDay: 12}
		candidates := allowedBehaviors(c.character, true)
		flee := 0
		for i := 0; i < 2000; i++ {
			if pickWeighted(rng, candidates, c.selectionContext(world)) == BehaviorFlee {
				flee++
			}
		}
		return flee
	}
	calm := count(0, nil)
	scared := count(90, map[string]PlayerInfo{"p": {ID: "p", Position: Vec3{X: 2}}})
	if scared <= calm*3 {
		t.Fatalf("expected danger to raise flee frequency: calm=%d scared=%d", calm, scared)
	}
}

func TestRestMoreLikelyWhenTired(t *testing.T) {
	ctx := selectionContext{personality: Personality{EnergyLevel: 50}, energy: 0.9}
	rested := behaviorWeight(BehaviorRest, ctx)
	ctx.energy = 0.05
	tired := behaviorWeight(BehaviorRest, ctx)
	if tired <= rested*3 {
		t.Fatalf("expected low energy to boost rest: rested=%.2f tired=%.2f", rested, tired)
	}
}

func TestTerritorialNeedsForeignSpecies(t *testing.T) {
	ctx := selectionContext{personality: Personality{Territoriality: 90, Aggression: 90}}
	alone := behaviorWeight(BehaviorTerritorial, ctx)
	ctx.nearbyForeign = 1
	intruded := behaviorWeight(BehaviorTerritorial, ctx)
	if intruded <= alone*10 {
		t.Fatalf("expected intruders to raise territorial weight: alone=%.3f intruded=%.3f", alone, intruded)
	}
}

func TestPickWeightedFallsBackToIdle(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	got := pickWeighted(rng, []BehaviorType{"unknown", BehaviorIdle}, selectionContext{personality: Personality{EnergyLevel: 50}})
	if got != BehaviorIdle {
		t.Fatalf("expected idle, got %s", got)
	}
	if got := pickWeighted(rng, nil, selectionContext{}); got != BehaviorIdle {
		t.Fatalf("expected idle for empty candidates, got %s", got)
	}
}

func TestCharacterSpecificBehaviorsToggle(t *testing.T) {
	ch := species.Character{Key: "pudu", Behaviors: []string{"idle", "patrol"}}
	got := allowedBehaviors(ch, true)
	if len(got) != 2 || got[0] != BehaviorIdle || got[1] != BehaviorPatrol {
		t.Fatalf("unexpected character behaviors %v", got)
	}
	if got := allowedBehaviors(ch, false); len(got) != len(DefaultBehaviors) {
		t.Fatalf("expected default behaviors when disabled, got %v", got)
	}
}

func TestBehaviorNamesMatchCatalog(t *testing.T) {
	for _, b := range AllBehaviors {
		if !species.IsKnownBehavior(string(b)) {
			t.Fatalf("behavior %q not accepted by the species catalog", b)
		}
	}
}

func TestDurationScaledByMultiplier(t *testing.T) {
	ch := species.Character{Key: "taipan", BehaviorMultipliers: map[string]float64{"rest": 2}}
	rng := rand.New(rand.NewSource(7))
	min, max, _ := DurationRange(BehaviorRest)
	for i := 0; i < 100; i++ {
		d := sampleDuration(rng, BehaviorRest, ch)
		if d < 2*min || d > 2*max {
			t.Fatalf("scaled duration %.2f outside [%.0f, %.0f]", d, 2*min, 2*max)
		}
	}
}

func TestRandomPersonalityClampsBias(t *testing.T) {
	rng := rand.New(rand.NewSource(8))
	for i := 0; i < 200; i++ {
		p := RandomPersonality(rng, species.PersonalityBias{Fearfulness: 50, Aggression: -50})
		if p.Fearfulness < 70 || p.Fearfulness > 100 {
			t.Fatalf("fearfulness %.2f outside biased range", p.Fearfulness)
		}
		if p.Aggression < 0 || p.Aggression > 30 {
			t.Fatalf("aggression %.2f outside biased range", p.Aggression)
		}
	}
}

func TestWanderMovesTowardTarget(t *testing.T) {
	c := newTestController(t, 9, func(n *NPC) {
		n.CurrentBehavior = &Behavior{Type: BehaviorWander, Duration: 100}
	})
	target := Vec3{X: 10}
	c.NPC().TargetPosition = &target
	for i := 0; i < 10; i++ {
		_ = c.Update(0.1, &WorldState{Visibility: 1, TimeOfDay: 12})
	}
	pos := c.NPC().Position
	if pos.X <= 0.5 || math.Abs(pos.Z) > 1e-9 {
		t.Fatalf("expected movement along +x, got %+v", pos)
	}
}

func TestMoveAlongFollowsPath(t *testing.T) {
	c := newTestController(t, 10, nil)
	npc := c.NPC()
	target := Vec3{X: 4, Z: 4}
	npc.TargetPosition = &target
	npc.Path = []Vec3{{X: 0, Z: 0}, {X: 0, Z: 4}, {X: 4, Z: 4}}
	c.moveAlong(0.5, 2)
	if npc.Position.X != 0 || npc.Position.Z <= 0 {
		t.Fatalf("expected to head toward the second waypoint, got %+v", npc.Position)
	}
	arrived := false
	for i := 0; i < 20 && !arrived; i++ {
		arrived = c.moveAlong(0.5, 2)
	}
	if !arrived || npc.TargetPosition != nil || npc.Path != nil {
		t.Fatalf("expected arrival to clear target and path: arrived=%v %+v", arrived, npc)
	}
}

func TestFleeRecordsDanger(t *testing.T) {
	c := newTestController(t, 11, nil)
	c.enter(&Behavior{Type: BehaviorFlee}, &WorldState{})
	npc := c.NPC()
	if npc.Memory.NegativeExperiences != 1 || len(npc.Memory.DangerousLocations) != 1 {
		t.Fatalf("expected flee to record danger, got %+v", npc.Memory)
	}
}

func TestOnTransitionCallback(t *testing.T) {
	var calls []BehaviorType
	rng := rand.New(rand.NewSource(12))
	npc := NewNPC("npc_cb", testCharacter(), Vec3{}, rng)
	c := NewController(npc, ControllerOptions{
		Character: testCharacter(),
		RNG:       rng,
		OnTransition: func(from, to BehaviorType) {
			calls = append(calls, to)
		},
	})
	if len(calls) != 1 || calls[0] != c.CurrentBehavior().Type {
		t.Fatalf("expected initial selection reported, got %v", calls)
	}
}
