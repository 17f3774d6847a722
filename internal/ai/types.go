package ai

import (
	worldpkg "hidden-walnuts/server/internal/world"
)

// Vec3 is a world-space position.
type Vec3 = worldpkg.Vec3

// BehaviorType names one state of the behavior machine.
type BehaviorType string

const (
	BehaviorIdle        BehaviorType = "idle"
	BehaviorWander      BehaviorType = "wander"
	BehaviorForage      BehaviorType = "forage"
	BehaviorSocialize   BehaviorType = "socialize"
	BehaviorFlee        BehaviorType = "flee"
	BehaviorRest        BehaviorType = "rest"
	BehaviorPatrol      BehaviorType = "patrol"
	BehaviorTerritorial BehaviorType = "territorial"
	BehaviorCurious     BehaviorType = "curious"
)

// AllBehaviors lists every behavior type in a fixed order. Selection iterates
// in this order so equal RNG draws give equal results.
var AllBehaviors = []BehaviorType{
	BehaviorIdle,
	BehaviorWander,
	BehaviorForage,
	BehaviorSocialize,
	BehaviorFlee,
	BehaviorRest,
	BehaviorPatrol,
	BehaviorTerritorial,
	BehaviorCurious,
}

// DefaultBehaviors is used for every species when character specific
// behaviors are disabled.
var DefaultBehaviors = []BehaviorType{
	BehaviorIdle,
	BehaviorWander,
	BehaviorForage,
	BehaviorSocialize,
	BehaviorFlee,
	BehaviorRest,
}

// Behavior is the active state of an NPC. Duration and Elapsed are seconds of
// simulation time.
type Behavior struct {
	Type      BehaviorType `json:"type"`
	Duration  float64      `json:"duration"`
	Elapsed   float64      `json:"elapsed"`
	StartedAt float64      `json:"startedAt"`
	// FocusID is the player or NPC the behavior is oriented around, if any.
	FocusID string `json:"focusId,omitempty"`
	step    int
}

// Expired reports whether the behavior has run for its full duration.
func (b *Behavior) Expired() bool {
	return b == nil || b.Elapsed >= b.Duration
}

// Personality traits are fixed at spawn. Each is in [0, 100].
type Personality struct {
	Sociability    float64 `json:"sociability"`
	Curiosity      float64 `json:"curiosity"`
	Aggression     float64 `json:"aggression"`
	Fearfulness    float64 `json:"fearfulness"`
	Territoriality float64 `json:"territoriality"`
	EnergyLevel    float64 `json:"energyLevel"`
}

// PlayerMemory tracks one player the NPC has seen.
type PlayerMemory struct {
	FirstSeen    float64 `json:"firstSeen"`
	LastSeen     float64 `json:"lastSeen"`
	LastPosition Vec3    `json:"lastPosition"`
	Encounters   int     `json:"encounters"`
}

// NPCMemory tracks another NPC. Relationship is in [-100, 100].
type NPCMemory struct {
	CharacterType string  `json:"characterType"`
	FirstSeen     float64 `json:"firstSeen"`
	LastSeen      float64 `json:"lastSeen"`
	LastPosition  Vec3    `json:"lastPosition"`
	Encounters    int     `json:"encounters"`
	Relationship  float64 `json:"relationship"`
}

// Memory is mutated only by the owning controller.
type Memory struct {
	KnownPlayers        map[string]PlayerMemory `json:"knownPlayers"`
	KnownNPCs           map[string]NPCMemory    `json:"knownNPCs"`
	FavoriteLocations   []Vec3                  `json:"favoriteLocations"`
	DangerousLocations  []Vec3                  `json:"dangerousLocations"`
	PositiveExperiences int                     `json:"positiveExperiences"`
	NegativeExperiences int                     `json:"negativeExperiences"`
}

// NewMemory returns an empty memory with allocated maps.
func NewMemory() Memory {
	return Memory{
		KnownPlayers: make(map[string]PlayerMemory),
		KnownNPCs:    make(map[string]NPCMemory),
	}
}

// NPC is one agent. Behavioral fields (everything from Velocity through
// Memory) are written by the paired Controller; Home, SpawnPointID and
// SpawnedAt belong to the manager.
type NPC struct {
	ID              string      `json:"id"`
	CharacterType   string      `json:"characterType"`
	Position        Vec3        `json:"position"`
	Rotation        float64     `json:"rotation"`
	Velocity        Vec3        `json:"velocity"`
	Health          float64     `json:"health"`
	Energy          float64     `json:"energy"`
	Mood            float64     `json:"mood"`
	CurrentBehavior *Behavior   `json:"currentBehavior"`
	TargetPosition  *Vec3       `json:"targetPosition,omitempty"`
	Path            []Vec3      `json:"path,omitempty"`
	SocialGroup     string      `json:"socialGroup,omitempty"`
	Personality     Personality `json:"personality"`
	Memory          Memory      `json:"memory"`

	Home         Vec3    `json:"home"`
	SpawnPointID string  `json:"spawnPointId,omitempty"`
	SpawnedAt    float64 `json:"spawnedAt"`
}

// BehaviorType returns the active behavior type or the empty string.
func (n *NPC) BehaviorType() BehaviorType {
	if n == nil || n.CurrentBehavior == nil {
		return ""
	}
	return n.CurrentBehavior.Type
}

// Weather is the ambient condition reported in WorldState.
type Weather string

const (
	WeatherClear  Weather = "clear"
	WeatherCloudy Weather = "cloudy"
	WeatherRain   Weather = "rain"
	WeatherFog    Weather = "fog"
	WeatherStorm  Weather = "storm"
)

// ParseWeather validates a weather name.
func ParseWeather(value string) (Weather, bool) {
	switch w := Weather(value); w {
	case WeatherClear, WeatherCloudy, WeatherRain, WeatherFog, WeatherStorm:
		return w, true
	default:
		return "", false
	}
}

// PlayerInfo is a value snapshot of a connected player.
type PlayerInfo struct {
	ID            string  `json:"id"`
	CharacterType string  `json:"characterType"`
	Position      Vec3    `json:"position"`
	Rotation      float64 `json:"rotation"`
	LastSeen      float64 `json:"lastSeen"`
}

// NPCInfo is a value snapshot of an NPC taken at the start of a tick.
type NPCInfo struct {
	ID            string       `json:"id"`
	CharacterType string       `json:"characterType"`
	Position      Vec3         `json:"position"`
	Behavior      BehaviorType `json:"behavior"`
	Mood          float64      `json:"mood"`
	Energy        float64      `json:"energy"`
}

// WorldState is the per-tick snapshot read by every controller. Controllers
// must treat it as read-only.
type WorldState struct {
	Players     map[string]PlayerInfo `json:"players"`
	NPCs        map[string]NPCInfo    `json:"npcs"`
	Time        float64               `json:"time"`
	TimeOfDay   float64               `json:"timeOfDay"`
	Weather     Weather               `json:"weather"`
	Temperature float64               `json:"temperature"`
	Visibility  float64               `json:"visibility"`
	DangerLevel float64               `json:"dangerLevel"`
}

// IsNight reports whether TimeOfDay falls between 20:00 and 06:00.
func (w *WorldState) IsNight() bool {
	if w == nil {
		return false
	}
	return w.TimeOfDay >= 20 || w.TimeOfDay < 6
}
