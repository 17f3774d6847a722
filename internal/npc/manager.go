package npc

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"hidden-walnuts/server/internal/ai"
	"hidden-walnuts/server/internal/events"
	"hidden-walnuts/server/internal/species"
	"hidden-walnuts/server/internal/telemetry"
	worldpkg "hidden-walnuts/server/internal/world"
	"hidden-walnuts/server/logging"
	"hidden-walnuts/server/logging/lifecycle"
	npclog "hidden-walnuts/server/logging/npc"
)

const (
	// MetricsInterval is how often aggregate metrics are recomputed, in
	// simulation seconds.
	MetricsInterval = 5.0
	// DefaultDayLength is the simulation seconds in one in-game day.
	DefaultDayLength = 1200.0
	// DefaultStartHour is the time of day at simulation time zero.
	DefaultStartHour = 8.0

	// dangerPerPlayer is added for every player inside an NPC's detection
	// range.
	dangerPerPlayer = 25.0
	// impactPerNPC is the per-agent cost estimate in milliseconds per tick.
	impactPerNPC = 0.05

	tracerName = "hidden-walnuts/server/internal/npc"
)

// ErrNoCatalog is returned by NewManager without a species catalog.
var ErrNoCatalog = errors.New("npc: species catalog is required")

// Options wires a Manager to its collaborators. Only Catalog is required.
type Options struct {
	Catalog   *species.Catalog
	Navigator Navigator
	Bus       *events.Bus
	Entities  EntitySink
	Publisher logging.Publisher
	Logger    telemetry.Logger
	Metrics   telemetry.Metrics
	Tracer    trace.Tracer
	// Config is used as-is when non-zero, otherwise DefaultConfig.
	Config      Config
	SpawnPoints []SpawnPoint
	// Seed derives the manager and controller RNG streams.
	Seed string
	// Now stamps bus events.
	Now       func() time.Time
	DayLength float64
	// StartHour is the time of day at simulation time zero. Nil means
	// DefaultStartHour.
	StartHour *float64
}

// Metrics summarises the population. Histograms and averages are refreshed
// every MetricsInterval; counters and TotalNPCs are always current.
type Metrics struct {
	TotalNPCs               int                       `json:"totalNPCs"`
	BehaviorCounts          map[ai.BehaviorType]int   `json:"behaviorCounts"`
	CharacterCounts         map[string]int            `json:"characterCounts"`
	AverageBehaviorDuration float64                   `json:"averageBehaviorDuration"`
	PerformanceImpact       float64                   `json:"performanceImpact"`
	ActiveInteractions      int                       `json:"activeInteractions"`
	SocialInteractionsTotal uint64                    `json:"socialInteractionsTotal"`
	SpawnsTotal             uint64                    `json:"spawnsTotal"`
	DespawnsTotal           uint64                    `json:"despawnsTotal"`
	SpawnRejections         map[SpawnRejection]uint64 `json:"spawnRejections"`
	UpdateFailures          uint64                    `json:"updateFailures"`
	PathRequests            uint64                    `json:"pathRequests"`
	PathsApplied            uint64                    `json:"pathsApplied"`
	StalePaths              uint64                    `json:"stalePaths"`
	PathsInFlight           int                       `json:"pathsInFlight"`
	Tick                    uint64                    `json:"tick"`
	SimTime                 float64                   `json:"simTime"`
	ComputedAt              float64                   `json:"computedAt"`
}

// Manager owns the NPC population and drives every per-tick subsystem. It
// is not safe for concurrent use; callers serialise access (see sim.Loop).
// Bus handlers and path searches are the exception: they only enqueue work
// that Update applies.
type Manager struct {
	catalog  *species.Catalog
	nav      Navigator
	bus      *events.Bus
	entities EntitySink
	pub      logging.Publisher
	logger   telemetry.Logger
	counters telemetry.Metrics
	tracer   trace.Tracer
	now      func() time.Time
	seed     string

	config      Config
	npcs        map[string]*ai.NPC
	controllers map[string]*ai.Controller
	world       ai.WorldState
	rng         *rand.Rand
	tick        uint64
	dayLength   float64
	startHour   float64

	behaviorAccum float64
	pathAccum     float64
	metricsAccum  float64

	interactions []SocialInteraction
	spawnPoints  map[string]*SpawnPoint
	spawnOrder   []string

	inFlight       map[string]ai.Vec3
	pathResults    chan pathResult
	done           chan struct{}
	wg             sync.WaitGroup
	closed         bool
	rebuildPending atomic.Bool
	rebuilding     atomic.Bool

	inboxMu     sync.Mutex
	inbox       []events.Event
	unsubscribe []func()

	metrics        Metrics
	socialTotal    uint64
	spawnsTotal    uint64
	despawnsTotal  uint64
	rejections     map[SpawnRejection]uint64
	updateFailures uint64
	pathRequests   uint64
	pathsApplied   uint64
	stalePaths     uint64
}

// NewManager constructs a manager and subscribes it to the bus.
func NewManager(opts Options) (*Manager, error) {
	if opts.Catalog == nil {
		return nil, ErrNoCatalog
	}
	cfg := opts.Config
	if cfg == (Config{}) {
		cfg = DefaultConfig()
	}
	if !positiveRate(cfg.BehaviorUpdateRate) || !positiveRate(cfg.PathfindingUpdateRate) {
		return nil, fmt.Errorf("npc: update rates must be positive (behavior=%v pathfinding=%v)", cfg.BehaviorUpdateRate, cfg.PathfindingUpdateRate)
	}
	if !cfg.PerformanceMode.valid() {
		cfg.PerformanceMode = PerformanceBalanced
	}
	m := &Manager{
		catalog:     opts.Catalog,
		nav:         opts.Navigator,
		bus:         opts.Bus,
		entities:    opts.Entities,
		pub:         opts.Publisher,
		logger:      opts.Logger,
		counters:    opts.Metrics,
		tracer:      opts.Tracer,
		now:         opts.Now,
		seed:        opts.Seed,
		config:      cfg,
		npcs:        make(map[string]*ai.NPC),
		controllers: make(map[string]*ai.Controller),
		world: ai.WorldState{
			Players:    make(map[string]ai.PlayerInfo),
			NPCs:       make(map[string]ai.NPCInfo),
			Weather:    ai.WeatherClear,
			Visibility: 1,
		},
		dayLength:   opts.DayLength,
		startHour:   DefaultStartHour,
		spawnPoints: make(map[string]*SpawnPoint),
		inFlight:    make(map[string]ai.Vec3),
		pathResults: make(chan pathResult, pathResultBuffer),
		done:        make(chan struct{}),
		rejections:  make(map[SpawnRejection]uint64),
	}
	if m.entities == nil {
		m.entities = nopSink{}
	}
	if m.pub == nil {
		m.pub = logging.NopPublisher()
	}
	if m.logger == nil {
		m.logger = telemetry.WrapLogger(log.Default())
	}
	if m.counters == nil {
		m.counters = telemetry.NopMetrics{}
	}
	if m.tracer == nil {
		m.tracer = otel.Tracer(tracerName)
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.seed == "" {
		m.seed = worldpkg.DefaultSeed
	}
	if m.dayLength <= 0 {
		m.dayLength = DefaultDayLength
	}
	if opts.StartHour != nil {
		m.startHour = *opts.StartHour
	}
	m.rng = worldpkg.NewDeterministicRNG(m.seed, "npc-manager")
	m.world.TimeOfDay = math.Mod(m.startHour, 24)

	for _, sp := range opts.SpawnPoints {
		if err := m.AddSpawnPoint(sp); err != nil {
			return nil, err
		}
	}
	m.subscribe()
	m.computeMetrics()
	return m, nil
}

func (m *Manager) subscribe() {
	if m.bus == nil {
		return
	}
	m.unsubscribe = append(m.unsubscribe,
		events.Subscribe(m.bus, func(ev events.PlayerJoined) { m.enqueue(ev) }),
		events.Subscribe(m.bus, func(ev events.PlayerLeft) { m.enqueue(ev) }),
		events.Subscribe(m.bus, func(ev events.PlayerMoved) { m.enqueue(ev) }),
		events.Subscribe(m.bus, func(ev events.TerrainChanged) { m.enqueue(ev) }),
	)
}

func (m *Manager) enqueue(ev events.Event) {
	m.inboxMu.Lock()
	m.inbox = append(m.inbox, ev)
	m.inboxMu.Unlock()
}

// Update advances the simulation by dt seconds.
func (m *Manager) Update(ctx context.Context, dt float64) {
	if m.closed {
		return
	}
	if dt < 0 || math.IsNaN(dt) || math.IsInf(dt, 0) {
		dt = 0
	}
	m.tick++
	ctx, span := m.tracer.Start(ctx, "npc.update", trace.WithAttributes(
		attribute.Int64("npc.tick", int64(m.tick)),
		attribute.Int("npc.population", len(m.npcs)),
	))
	defer span.End()

	m.applyPathResults()
	m.drainInbox(ctx)
	m.refreshWorld(dt)

	m.behaviorAccum += dt
	if m.behaviorAccum >= m.config.behaviorInterval() {
		step := m.behaviorAccum
		m.behaviorAccum = 0
		m.phase(ctx, "npc.behavior", func(ctx context.Context) { m.updateBehaviors(ctx, step) })
	}

	if m.config.EnablePathfinding && m.nav != nil {
		m.pathAccum += dt
		if m.pathAccum >= m.config.pathfindingInterval() {
			m.pathAccum = 0
			m.phase(ctx, "npc.pathfinding", func(context.Context) { m.dispatchPaths() })
		}
	}

	if m.config.EnableSocialInteractions {
		m.phase(ctx, "npc.social", func(context.Context) { m.runSocial(dt) })
	} else {
		m.interactions = m.interactions[:0]
	}

	m.phase(ctx, "npc.spawn", func(ctx context.Context) {
		m.enforcePopulationCap(ctx)
		m.runSpawnPoints(ctx)
	})

	m.metricsAccum += dt
	if m.metricsAccum >= MetricsInterval {
		m.metricsAccum = 0
		m.computeMetrics()
	}
}

func (m *Manager) phase(ctx context.Context, name string, fn func(context.Context)) {
	ctx, span := m.tracer.Start(ctx, name)
	defer span.End()
	fn(ctx)
}

func (m *Manager) drainInbox(ctx context.Context) {
	m.inboxMu.Lock()
	pending := m.inbox
	m.inbox = nil
	m.inboxMu.Unlock()

	for _, raw := range pending {
		switch ev := raw.(type) {
		case events.PlayerJoined:
			m.world.Players[ev.PlayerID] = ai.PlayerInfo{
				ID:            ev.PlayerID,
				CharacterType: ev.CharacterType,
				Position:      ai.Vec3(ev.Position),
				Rotation:      ev.Rotation,
				LastSeen:      m.world.Time,
			}
			lifecycle.PlayerJoined(ctx, m.pub, m.tick, playerRef(ev.PlayerID), lifecycle.PlayerJoinedPayload{
				X:       ev.Position.X,
				Z:       ev.Position.Z,
				Species: ev.CharacterType,
			}, nil)
		case events.PlayerMoved:
			info, ok := m.world.Players[ev.PlayerID]
			if !ok {
				continue
			}
			info.Position = ai.Vec3(ev.Position)
			info.Rotation = ev.Rotation
			info.LastSeen = m.world.Time
			m.world.Players[ev.PlayerID] = info
		case events.PlayerLeft:
			if _, ok := m.world.Players[ev.PlayerID]; !ok {
				continue
			}
			delete(m.world.Players, ev.PlayerID)
			lifecycle.PlayerLeft(ctx, m.pub, m.tick, playerRef(ev.PlayerID), lifecycle.PlayerLeftPayload{Reason: ev.Reason}, nil)
		case events.TerrainChanged:
			m.requestRebuild(ctx)
		}
	}
}

func playerRef(id string) logging.EntityRef {
	return logging.EntityRef{ID: id, Kind: logging.EntityKindPlayer}
}

func weatherVisibility(w ai.Weather) float64 {
	switch w {
	case ai.WeatherCloudy:
		return 0.85
	case ai.WeatherRain:
		return 0.6
	case ai.WeatherStorm:
		return 0.4
	case ai.WeatherFog:
		return 0.35
	default:
		return 1
	}
}

func (m *Manager) refreshWorld(dt float64) {
	w := &m.world
	w.Time += dt
	w.TimeOfDay = math.Mod(m.startHour+w.Time/m.dayLength*24, 24)
	w.Visibility = weatherVisibility(w.Weather)
	if w.IsNight() {
		w.Visibility *= 0.6
	}
	// Warmest at 14:00.
	w.Temperature = 14 + 8*math.Cos((w.TimeOfDay-14)/24*2*math.Pi)
	if w.Weather == ai.WeatherRain || w.Weather == ai.WeatherStorm {
		w.Temperature -= 4
	}

	clear(w.NPCs)
	for id, npc := range m.npcs {
		w.NPCs[id] = snapshot(npc)
	}
	w.DangerLevel = m.dangerLevel()
}

// dangerLevel grows with the number of players close to any NPC.
func (m *Manager) dangerLevel() float64 {
	danger := 0.0
	detect := m.config.PlayerDetectionRange
	for _, p := range m.world.Players {
		for _, npc := range m.npcs {
			if worldpkg.GroundDistance(p.Position, npc.Position) <= detect {
				danger += dangerPerPlayer
				break
			}
		}
	}
	if m.world.Weather == ai.WeatherStorm {
		danger += 20
	}
	return math.Min(danger, 100)
}

func snapshot(npc *ai.NPC) ai.NPCInfo {
	return ai.NPCInfo{
		ID:            npc.ID,
		CharacterType: npc.CharacterType,
		Position:      npc.Position,
		Behavior:      npc.BehaviorType(),
		Mood:          npc.Mood,
		Energy:        npc.Energy,
	}
}

func (m *Manager) updateBehaviors(ctx context.Context, dt float64) {
	for _, id := range m.sortedIDs() {
		if err := m.updateOne(id, dt); err != nil {
			m.updateFailures++
			m.counters.Add("npc_update_failures_total", 1)
			npclog.UpdateFailed(ctx, m.pub, m.tick, id, npclog.UpdateFailedPayload{Stage: "behavior", Error: err.Error()}, nil)
		}
	}
}

// updateOne runs one controller, snaps the NPC to the terrain and mirrors
// it. A failure here never stops the rest of the population.
func (m *Manager) updateOne(id string, dt float64) (err error) {
	npc := m.npcs[id]
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("npc %s: update panicked: %v", id, r)
		}
	}()
	updateErr := m.controllers[id].Update(dt, &m.world)
	npc.Position.Y = m.heightAt(npc.Position.X, npc.Position.Z, npc.Position.Y)
	m.entities.UpsertEntity(entityState(npc))
	return updateErr
}

func (m *Manager) sortedIDs() []string {
	ids := make([]string, 0, len(m.npcs))
	for id := range m.npcs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (m *Manager) controllerSettings() ai.Settings {
	return ai.Settings{
		CharacterSpecificBehaviors: m.config.EnableCharacterSpecificBehaviors,
		PlayerDetectionRange:       m.config.PlayerDetectionRange,
		SocialRange:                m.config.SocialInteractionRange,
	}
}

// SpawnNPC creates an NPC of characterType at position. It returns nil when
// the species is unknown or not NPC-capable, or the population is at its
// cap; the reason is logged.
func (m *Manager) SpawnNPC(characterType string, position ai.Vec3) *ai.NPC {
	return m.spawn(context.Background(), characterType, position, "")
}

func (m *Manager) spawn(ctx context.Context, key string, pos ai.Vec3, spawnPointID string) *ai.NPC {
	if m.closed {
		return nil
	}
	ch, ok := m.catalog.Lookup(key)
	switch {
	case !ok:
		m.reject(ctx, key, RejectUnknownCharacter)
		return nil
	case !ch.NPC:
		m.reject(ctx, key, RejectNotNPC)
		return nil
	case len(m.npcs) >= m.config.MaxNPCs:
		m.reject(ctx, key, RejectPopulationCap)
		return nil
	case !pos.Finite():
		m.reject(ctx, key, RejectInvalidPosition)
		return nil
	}

	id := "npc_" + uuid.NewString()
	pos.Y = m.heightAt(pos.X, pos.Z, pos.Y)
	npc := ai.NewNPC(id, ch, pos, m.rng)
	npc.SpawnPointID = spawnPointID
	npc.SpawnedAt = m.world.Time

	ctrl := ai.NewController(npc, ai.ControllerOptions{
		Character: ch,
		Navigator: m.nav,
		RNG:       worldpkg.NewDeterministicRNG(m.seed, "controller:"+id),
		Settings:  m.controllerSettings(),
		OnTransition: func(from, to ai.BehaviorType) {
			npclog.BehaviorChanged(context.Background(), m.pub, m.tick, id, npclog.BehaviorChangedPayload{From: string(from), To: string(to)}, nil)
		},
	})
	m.npcs[id] = npc
	m.controllers[id] = ctrl
	m.world.NPCs[id] = snapshot(npc)
	m.entities.UpsertEntity(entityState(npc))
	m.spawnsTotal++
	m.counters.Add("npc_spawned_total", 1)
	m.counters.Store("npc_population", uint64(len(m.npcs)))

	var extra map[string]any
	if spawnPointID != "" {
		extra = map[string]any{"spawnPoint": spawnPointID}
	}
	npclog.Spawned(ctx, m.pub, m.tick, id, npclog.SpawnedPayload{
		CharacterType: key,
		X:             pos.X,
		Y:             pos.Y,
		Z:             pos.Z,
		Population:    len(m.npcs),
	}, extra)
	events.Publish(m.bus, events.NPCSpawned{
		NPCID:         id,
		CharacterType: key,
		Position:      events.Position(npc.Position),
		Rotation:      npc.Rotation,
		Timestamp:     m.now(),
	})
	return npc
}

func (m *Manager) reject(ctx context.Context, key string, reason SpawnRejection) {
	m.rejections[reason]++
	m.counters.Add("npc_spawn_rejected_total", 1)
	npclog.SpawnRejected(ctx, m.pub, m.tick, npclog.SpawnRejectedPayload{CharacterType: key, Reason: string(reason)}, nil)
}

// DespawnNPC removes an NPC. Unknown ids are ignored.
func (m *Manager) DespawnNPC(id string) {
	m.despawn(context.Background(), id, "requested")
}

func (m *Manager) despawn(ctx context.Context, id, reason string) bool {
	npc, ok := m.npcs[id]
	if !ok {
		return false
	}
	delete(m.npcs, id)
	delete(m.controllers, id)
	delete(m.world.NPCs, id)
	m.entities.RemoveEntity(id)
	m.despawnsTotal++
	m.counters.Add("npc_despawned_total", 1)
	m.counters.Store("npc_population", uint64(len(m.npcs)))

	npclog.Despawned(ctx, m.pub, m.tick, id, npclog.DespawnedPayload{Reason: reason, Population: len(m.npcs)}, nil)
	events.Publish(m.bus, events.NPCDespawned{
		NPCID:         id,
		CharacterType: npc.CharacterType,
		Reason:        reason,
		Timestamp:     m.now(),
	})
	return true
}

// NPC returns the live NPC for id.
func (m *Manager) NPC(id string) (*ai.NPC, bool) {
	npc, ok := m.npcs[id]
	return npc, ok
}

// Controller returns the behavior controller paired with id.
func (m *Manager) Controller(id string) (*ai.Controller, bool) {
	ctrl, ok := m.controllers[id]
	return ctrl, ok
}

// AllNPCs returns every live NPC sorted by id.
func (m *Manager) AllNPCs() []*ai.NPC {
	out := make([]*ai.NPC, 0, len(m.npcs))
	for _, id := range m.sortedIDs() {
		out = append(out, m.npcs[id])
	}
	return out
}

func (m *Manager) NPCCount() int {
	return len(m.npcs)
}

// Tick returns the number of Update calls so far.
func (m *Manager) Tick() uint64 {
	return m.tick
}

// World returns a copy of the current world state.
func (m *Manager) World() ai.WorldState {
	w := m.world
	w.Players = make(map[string]ai.PlayerInfo, len(m.world.Players))
	for id, p := range m.world.Players {
		w.Players[id] = p
	}
	w.NPCs = make(map[string]ai.NPCInfo, len(m.world.NPCs))
	for id, n := range m.world.NPCs {
		w.NPCs[id] = n
	}
	return w
}

func (m *Manager) Config() Config {
	return m.config
}

// UpdateConfig applies patch field by field. Rejected fields are logged and
// returned; the rest take effect immediately.
func (m *Manager) UpdateConfig(patch ConfigPatch) (Config, []FieldError) {
	ctx := context.Background()
	changed, rejected := m.config.Apply(patch)
	for _, r := range rejected {
		npclog.ConfigRejected(ctx, m.pub, m.tick, npclog.ConfigRejectedPayload{Field: r.Field, Reason: r.Reason}, nil)
	}
	if len(changed) > 0 {
		settings := m.controllerSettings()
		for _, ctrl := range m.controllers {
			ctrl.Configure(settings)
		}
		npclog.ConfigUpdated(ctx, m.pub, m.tick, npclog.ConfigUpdatedPayload{Fields: changed}, nil)
	}
	return m.config, rejected
}

// SetWeather changes the weather from the next tick on.
func (m *Manager) SetWeather(w ai.Weather) {
	m.world.Weather = w
}

// SetTimeOfDay jumps the in-game clock to hour, keeping the day length.
func (m *Manager) SetTimeOfDay(hour float64) {
	if math.IsNaN(hour) || math.IsInf(hour, 0) {
		return
	}
	hour = math.Mod(math.Mod(hour, 24)+24, 24)
	m.startHour = hour - m.world.Time/m.dayLength*24
	m.world.TimeOfDay = hour
}

func (m *Manager) computeMetrics() {
	behaviors := make(map[ai.BehaviorType]int)
	characters := make(map[string]int)
	var weighted, completed float64
	for id, npc := range m.npcs {
		behaviors[npc.BehaviorType()]++
		characters[npc.CharacterType]++
		pm := m.controllers[id].PerformanceMetrics()
		weighted += pm.AverageBehaviorDuration * float64(pm.Transitions)
		completed += float64(pm.Transitions)
	}
	avg := 0.0
	if completed > 0 {
		avg = weighted / completed
	}
	m.metrics = Metrics{
		BehaviorCounts:          behaviors,
		CharacterCounts:         characters,
		AverageBehaviorDuration: avg,
		PerformanceImpact:       float64(len(m.npcs)) * impactPerNPC,
		ComputedAt:              m.world.Time,
	}
}

// Metrics returns the latest aggregates merged with live counters.
func (m *Manager) Metrics() Metrics {
	out := m.metrics
	out.BehaviorCounts = make(map[ai.BehaviorType]int, len(m.metrics.BehaviorCounts))
	for k, v := range m.metrics.BehaviorCounts {
		out.BehaviorCounts[k] = v
	}
	out.CharacterCounts = make(map[string]int, len(m.metrics.CharacterCounts))
	for k, v := range m.metrics.CharacterCounts {
		out.CharacterCounts[k] = v
	}
	out.SpawnRejections = make(map[SpawnRejection]uint64, len(m.rejections))
	for k, v := range m.rejections {
		out.SpawnRejections[k] = v
	}
	out.TotalNPCs = len(m.npcs)
	out.ActiveInteractions = len(m.interactions)
	out.SocialInteractionsTotal = m.socialTotal
	out.SpawnsTotal = m.spawnsTotal
	out.DespawnsTotal = m.despawnsTotal
	out.UpdateFailures = m.updateFailures
	out.PathRequests = m.pathRequests
	out.PathsApplied = m.pathsApplied
	out.StalePaths = m.stalePaths
	out.PathsInFlight = len(m.inFlight)
	out.Tick = m.tick
	out.SimTime = m.world.Time
	return out
}

// Close unsubscribes from the bus and waits for background searches and
// rebuilds to finish. Further updates and spawns are ignored.
func (m *Manager) Close() {
	if m.closed {
		return
	}
	m.closed = true
	for _, unsubscribe := range m.unsubscribe {
		unsubscribe()
	}
	close(m.done)
	m.wg.Wait()
}
