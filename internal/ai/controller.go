package ai

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"hidden-walnuts/server/internal/species"
	worldpkg "hidden-walnuts/server/internal/world"
)

const (
	DefaultPlayerDetectionRange = 15.0
	DefaultSocialRange          = 10.0

	arriveRadius         = 1.0
	waypointArriveRadius = 0.75
	wanderRadius         = 15.0
	forageRadius         = 8.0
	patrolRadius         = 10.0
	fleeDistance         = 12.0
	socialStandOff       = 2.0
	curiousStandOff      = 4.0
	territorialStandOff  = 3.0
	retargetThreshold    = 2.0
	dangerRecallRadius   = 10.0
	defaultWalkSpeed     = 2.5
)

// ErrUpdatePanicked wraps a panic recovered inside Update.
var ErrUpdatePanicked = errors.New("ai: controller update panicked")

// Navigator answers the walkability queries a controller needs when picking
// targets. *world.Pathfinder satisfies it.
type Navigator interface {
	RandomPosition(center Vec3, radius float64) Vec3
	IsValidPosition(pos Vec3) bool
}

// Settings are the manager-level tunables a controller reads.
type Settings struct {
	CharacterSpecificBehaviors bool
	PlayerDetectionRange       float64
	SocialRange                float64
}

func DefaultSettings() Settings {
	return Settings{
		CharacterSpecificBehaviors: true,
		PlayerDetectionRange:       DefaultPlayerDetectionRange,
		SocialRange:                DefaultSocialRange,
	}
}

func (s Settings) normalized() Settings {
	n := s
	if n.PlayerDetectionRange <= 0 {
		n.PlayerDetectionRange = DefaultPlayerDetectionRange
	}
	if n.SocialRange <= 0 {
		n.SocialRange = DefaultSocialRange
	}
	return n
}

// ControllerOptions configures a Controller.
type ControllerOptions struct {
	Character species.Character
	Navigator Navigator
	// RNG drives selection and target picking. Nil derives a stream from
	// the NPC id.
	RNG      *rand.Rand
	Settings Settings
	// OnTransition is called after every behavior selection.
	OnTransition func(from, to BehaviorType)
}

// PerformanceMetrics reports controller activity for capacity planning.
type PerformanceMetrics struct {
	Updates                 uint64                  `json:"updates"`
	Transitions             uint64                  `json:"transitions"`
	Failures                uint64                  `json:"failures"`
	Selections              map[BehaviorType]uint64 `json:"selections"`
	AverageBehaviorDuration float64                 `json:"averageBehaviorDuration"`
}

// Controller drives one NPC's behavior machine. It mutates the NPC in place
// and is not safe for concurrent use.
type Controller struct {
	npc          *NPC
	character    species.Character
	nav          Navigator
	rng          *rand.Rand
	settings     Settings
	onTransition func(from, to BehaviorType)

	updates       uint64
	transitions   uint64
	failures      uint64
	selections    map[BehaviorType]uint64
	completedTime float64
	completed     uint64
}

// NewController pairs a controller with npc and selects its first behavior.
func NewController(npc *NPC, opts ControllerOptions) *Controller {
	rng := opts.RNG
	if rng == nil {
		rng = worldpkg.NewDeterministicRNG(worldpkg.DefaultSeed, "controller:"+npc.ID)
	}
	c := &Controller{
		npc:          npc,
		character:    opts.Character,
		nav:          opts.Navigator,
		rng:          rng,
		settings:     opts.Settings.normalized(),
		onTransition: opts.OnTransition,
		selections:   make(map[BehaviorType]uint64),
	}
	if npc.Memory.KnownPlayers == nil {
		npc.Memory.KnownPlayers = make(map[string]PlayerMemory)
	}
	if npc.Memory.KnownNPCs == nil {
		npc.Memory.KnownNPCs = make(map[string]NPCMemory)
	}
	if npc.CurrentBehavior == nil {
		c.transition(&WorldState{Time: npc.SpawnedAt})
	}
	return c
}

// NPC returns the controlled agent.
func (c *Controller) NPC() *NPC {
	return c.npc
}

// Configure replaces the runtime settings.
func (c *Controller) Configure(settings Settings) {
	c.settings = settings.normalized()
}

// CurrentBehavior returns the active behavior without side effects.
func (c *Controller) CurrentBehavior() *Behavior {
	if c == nil || c.npc == nil {
		return nil
	}
	return c.npc.CurrentBehavior
}

// PerformanceMetrics returns a copy of the controller counters.
func (c *Controller) PerformanceMetrics() PerformanceMetrics {
	m := PerformanceMetrics{
		Updates:     c.updates,
		Transitions: c.transitions,
		Failures:    c.failures,
		Selections:  make(map[BehaviorType]uint64, len(c.selections)),
	}
	for k, v := range c.selections {
		m.Selections[k] = v
	}
	if c.completed > 0 {
		m.AverageBehaviorDuration = c.completedTime / float64(c.completed)
	}
	return m
}

// Update advances the active behavior by dt seconds, applies its effect and
// selects a new behavior once it has expired. A panic inside the update is
// recovered: the previous behavior is restored (idle when there was none),
// velocity is zeroed and an error wrapping ErrUpdatePanicked is returned.
func (c *Controller) Update(dt float64, world *WorldState) (err error) {
	if c == nil || c.npc == nil {
		return nil
	}
	if world == nil {
		world = &WorldState{}
	}
	var saved *Behavior
	if c.npc.CurrentBehavior != nil {
		copied := *c.npc.CurrentBehavior
		saved = &copied
	}
	defer func() {
		if r := recover(); r != nil {
			c.failures++
			c.npc.Velocity = Vec3{}
			if saved != nil {
				c.npc.CurrentBehavior = saved
			} else {
				c.npc.CurrentBehavior = c.newBehavior(BehaviorIdle, world.Time)
			}
			err = fmt.Errorf("%w: npc %s: %v", ErrUpdatePanicked, c.npc.ID, r)
		}
	}()

	if dt < 0 || math.IsNaN(dt) || math.IsInf(dt, 0) {
		dt = 0
	}
	c.updates++
	c.observe(world)
	if c.npc.CurrentBehavior == nil {
		c.transition(world)
	}

	behavior := c.npc.CurrentBehavior
	behavior.Elapsed += dt
	c.apply(behavior, dt, world)
	c.drift(behavior, dt, world)
	if behavior.Expired() {
		c.transition(world)
	}
	return nil
}

func (c *Controller) detectionRange(world *WorldState) float64 {
	r := c.settings.PlayerDetectionRange
	if c.character.DetectionRange > 0 {
		r = c.character.DetectionRange
	}
	if world != nil && world.Visibility > 0 {
		r *= math.Max(0.3, math.Min(world.Visibility, 1))
	}
	return r
}

// observe refreshes memory with everything currently in range.
func (c *Controller) observe(world *WorldState) {
	now := world.Time
	pos := c.npc.Position
	detect := c.detectionRange(world)
	for _, p := range world.Players {
		if worldpkg.GroundDistance(p.Position, pos) <= detect {
			c.npc.Memory.observePlayer(p, now)
		}
	}
	for id, other := range world.NPCs {
		if id == c.npc.ID {
			continue
		}
		if worldpkg.GroundDistance(other.Position, pos) <= c.settings.SocialRange {
			c.npc.Memory.observeNPC(other, now)
		}
	}
	c.npc.Memory.prune(now)
}

func (c *Controller) newBehavior(t BehaviorType, now float64) *Behavior {
	return &Behavior{
		Type:      t,
		Duration:  sampleDuration(c.rng, t, c.character),
		StartedAt: now,
	}
}

func (c *Controller) transition(world *WorldState) {
	previous := c.npc.BehaviorType()
	if cur := c.npc.CurrentBehavior; cur != nil {
		c.completedTime += cur.Elapsed
		c.completed++
		c.transitions++
	}
	candidates := allowedBehaviors(c.character, c.settings.CharacterSpecificBehaviors)
	next := pickWeighted(c.rng, candidates, c.selectionContext(world))

	c.npc.CurrentBehavior = c.newBehavior(next, world.Time)
	c.npc.TargetPosition = nil
	c.npc.Path = nil
	c.selections[next]++
	c.enter(c.npc.CurrentBehavior, world)
	if c.onTransition != nil {
		c.onTransition(previous, next)
	}
}

// enter applies one-off effects when a behavior starts.
func (c *Controller) enter(b *Behavior, world *WorldState) {
	switch b.Type {
	case BehaviorFlee:
		c.npc.Memory.NegativeExperiences++
		c.npc.Memory.rememberDanger(c.npc.Position)
	case BehaviorSocialize:
		if other, ok := nearestNPC(world, c.npc.ID, c.npc.Position, c.settings.SocialRange, nil); ok {
			b.FocusID = other.ID
			if other.CharacterType == c.npc.CharacterType && c.npc.SocialGroup == "" {
				c.npc.SocialGroup = c.npc.CharacterType
			}
		}
	}
}

func (c *Controller) walkSpeed() float64 {
	if c.character.WalkSpeed > 0 {
		return c.character.WalkSpeed
	}
	return defaultWalkSpeed
}

func (c *Controller) runSpeed() float64 {
	if c.character.RunSpeed > 0 {
		return c.character.RunSpeed
	}
	return c.walkSpeed() * 2
}

func (c *Controller) speedFor(t BehaviorType) float64 {
	if t == BehaviorFlee {
		return c.runSpeed()
	}
	return c.walkSpeed() * behaviorTuning[t].speedFactor
}

// apply runs the per-tick effect of b.
func (c *Controller) apply(b *Behavior, dt float64, world *WorldState) {
	npc := c.npc
	speed := c.speedFor(b.Type)
	switch b.Type {
	case BehaviorIdle, BehaviorRest:
		c.stop()

	case BehaviorWander:
		if npc.TargetPosition == nil {
			c.setTarget(c.pickNear(npc.Position, wanderRadius))
		}
		c.moveAlong(dt, speed)

	case BehaviorForage:
		if npc.TargetPosition == nil {
			center := npc.Home
			if n := len(npc.Memory.FavoriteLocations); n > 0 && c.rng.Float64() < 0.5 {
				center = npc.Memory.FavoriteLocations[c.rng.Intn(n)]
			}
			c.setTarget(c.pickNear(center, forageRadius))
		}
		if c.moveAlong(dt, speed) {
			npc.Energy = math.Min(100, npc.Energy+5)
			npc.Memory.PositiveExperiences++
			if c.rng.Float64() < 0.3 {
				npc.Memory.rememberFavorite(npc.Position)
			}
		}

	case BehaviorSocialize:
		other, ok := world.NPCs[b.FocusID]
		if !ok || worldpkg.GroundDistance(other.Position, npc.Position) > c.settings.SocialRange*1.5 {
			other, ok = nearestNPC(world, npc.ID, npc.Position, c.settings.SocialRange, nil)
			if ok {
				b.FocusID = other.ID
			}
		}
		if !ok {
			c.stop()
			return
		}
		if c.approach(other.Position, socialStandOff, dt, speed) {
			npc.Mood = math.Min(100, npc.Mood+2*dt)
			npc.Memory.adjustRelationship(other.ID, 1*dt)
		}

	case BehaviorFlee:
		threat, ok := c.threatPosition(world)
		if ok && (npc.TargetPosition == nil || worldpkg.GroundDistance(threat, *npc.TargetPosition) < fleeDistance/2) {
			away := Vec3{X: npc.Position.X - threat.X, Z: npc.Position.Z - threat.Z}
			length := math.Hypot(away.X, away.Z)
			if length < 1e-6 {
				angle := worldpkg.RandomAngle(c.rng)
				away = Vec3{X: math.Cos(angle), Z: math.Sin(angle)}
				length = 1
			}
			dest := Vec3{
				X: npc.Position.X + away.X/length*fleeDistance,
				Y: npc.Position.Y,
				Z: npc.Position.Z + away.Z/length*fleeDistance,
			}
			c.setTarget(c.pickNear(dest, 3))
		} else if npc.TargetPosition == nil {
			c.setTarget(c.pickNear(npc.Position, wanderRadius))
		}
		c.moveAlong(dt, speed)
		npc.Mood = math.Max(-100, npc.Mood-3*dt)

	case BehaviorPatrol:
		c.patrol(b, dt, speed)

	case BehaviorTerritorial:
		intruder, ok := nearestNPC(world, npc.ID, npc.Position, c.detectionRange(world), func(n NPCInfo) bool {
			return n.CharacterType != npc.CharacterType
		})
		if !ok {
			c.patrol(b, dt, c.walkSpeed()*behaviorTuning[BehaviorPatrol].speedFactor)
			return
		}
		b.FocusID = intruder.ID
		if c.approach(intruder.Position, territorialStandOff, dt, speed) {
			npc.Memory.adjustRelationship(intruder.ID, -2*dt)
		}
		npc.Mood = math.Max(-100, npc.Mood-1*dt)

	case BehaviorCurious:
		player, ok := nearestPlayer(world, npc.Position, c.detectionRange(world))
		if !ok {
			if npc.TargetPosition == nil {
				c.setTarget(c.pickNear(npc.Position, wanderRadius/2))
			}
			c.moveAlong(dt, speed)
			return
		}
		b.FocusID = player.ID
		c.approach(player.Position, curiousStandOff, dt, speed)
	}
}

// threatPosition returns the nearest visible player, falling back to the
// nearest remembered dangerous location.
func (c *Controller) threatPosition(world *WorldState) (Vec3, bool) {
	if p, ok := nearestPlayer(world, c.npc.Position, c.detectionRange(world)); ok {
		return p.Position, true
	}
	best := math.Inf(1)
	var threat Vec3
	for _, loc := range c.npc.Memory.DangerousLocations {
		if d := worldpkg.GroundDistance(loc, c.npc.Position); d < best && d > arriveRadius {
			best, threat = d, loc
		}
	}
	return threat, !math.IsInf(best, 1)
}

// approach moves toward goal and stops within standOff. It reports whether
// the NPC is within standOff of goal.
func (c *Controller) approach(goal Vec3, standOff, dt, speed float64) bool {
	npc := c.npc
	if worldpkg.GroundDistance(goal, npc.Position) <= standOff {
		c.stop()
		npc.TargetPosition = nil
		npc.Path = nil
		npc.Rotation = worldpkg.Yaw(goal.X-npc.Position.X, goal.Z-npc.Position.Z, npc.Rotation)
		return true
	}
	if npc.TargetPosition == nil || worldpkg.GroundDistance(*npc.TargetPosition, goal) > retargetThreshold {
		c.setTarget(goal)
	}
	c.moveAlong(dt, speed)
	return false
}

func (c *Controller) patrol(b *Behavior, dt, speed float64) {
	npc := c.npc
	if npc.TargetPosition == nil {
		angle := float64(b.step%4) * math.Pi / 2
		b.step++
		c.setTarget(Vec3{
			X: npc.Home.X + math.Cos(angle)*patrolRadius,
			Y: npc.Home.Y,
			Z: npc.Home.Z + math.Sin(angle)*patrolRadius,
		})
	}
	c.moveAlong(dt, speed)
}

func (c *Controller) pickNear(center Vec3, radius float64) Vec3 {
	if c.nav != nil {
		return c.nav.RandomPosition(center, radius)
	}
	return worldpkg.RandomPointInDisc(c.rng, center, radius)
}

// setTarget replaces the target and drops the path computed for the old one.
func (c *Controller) setTarget(target Vec3) {
	t := target
	c.npc.TargetPosition = &t
	c.npc.Path = nil
}

func (c *Controller) stop() {
	c.npc.Velocity = Vec3{}
}

// moveAlong steers toward the next path waypoint, or straight at the target
// while no path is available. It reports arrival at the target.
func (c *Controller) moveAlong(dt, speed float64) bool {
	npc := c.npc
	if npc.TargetPosition == nil || speed <= 0 {
		c.stop()
		return false
	}
	target := *npc.TargetPosition
	if worldpkg.GroundDistance(npc.Position, target) <= arriveRadius {
		c.stop()
		npc.TargetPosition = nil
		npc.Path = nil
		return true
	}

	for len(npc.Path) > 0 {
		if worldpkg.GroundDistance(npc.Position, npc.Path[0]) <= waypointArriveRadius {
			npc.Path = npc.Path[1:]
			continue
		}
		// Skip a waypoint the NPC has already moved past.
		if len(npc.Path) >= 2 && worldpkg.GroundDistance(npc.Position, npc.Path[1]) <= worldpkg.GroundDistance(npc.Path[0], npc.Path[1]) {
			npc.Path = npc.Path[1:]
			continue
		}
		break
	}
	waypoint := target
	if len(npc.Path) > 0 {
		waypoint = npc.Path[0]
	}

	dx := waypoint.X - npc.Position.X
	dz := waypoint.Z - npc.Position.Z
	dist := math.Hypot(dx, dz)
	if dist < 1e-9 {
		c.stop()
		return false
	}
	step := math.Min(speed*dt, dist)
	next := Vec3{
		X: npc.Position.X + dx/dist*step,
		Y: npc.Position.Y,
		Z: npc.Position.Z + dz/dist*step,
	}
	if step > 0 && c.nav != nil && !c.nav.IsValidPosition(next) {
		// Blocked: give up on the target so the next tick picks another.
		c.stop()
		npc.TargetPosition = nil
		npc.Path = nil
		return false
	}
	npc.Velocity = Vec3{X: dx / dist * speed, Z: dz / dist * speed}
	npc.Position = next
	npc.Rotation = worldpkg.Yaw(dx, dz, npc.Rotation)
	return false
}

// drift applies energy and mood changes that happen regardless of behavior.
func (c *Controller) drift(b *Behavior, dt float64, world *WorldState) {
	npc := c.npc
	moving := npc.Velocity.X != 0 || npc.Velocity.Z != 0
	switch {
	case b.Type == BehaviorRest:
		npc.Energy += 4 * dt
	case moving:
		drain := 0.4 + 0.6*behaviorTuning[b.Type].speedFactor
		if b.Type == BehaviorFlee {
			drain = 1.5
		}
		drain *= 1.2 - npc.Personality.EnergyLevel/100*0.5
		npc.Energy -= drain * dt
	default:
		npc.Energy += 1 * dt
	}
	npc.Energy = worldpkg.Clamp(npc.Energy, 0, 100)

	decay := 0.5 * dt
	switch {
	case npc.Mood > decay:
		npc.Mood -= decay
	case npc.Mood < -decay:
		npc.Mood += decay
	default:
		npc.Mood = 0
	}
	npc.Mood -= worldpkg.Clamp(world.DangerLevel/100, 0, 1) * dt
	if world.Weather == WeatherRain || world.Weather == WeatherStorm {
		npc.Mood -= 0.2 * dt
	}
	npc.Mood = worldpkg.Clamp(npc.Mood, -100, 100)
}
