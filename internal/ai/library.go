package ai

import (
	"math"
	"math/rand"

	"hidden-walnuts/server/internal/species"
	worldpkg "hidden-walnuts/server/internal/world"
)

// behaviorTuningEntry holds the static tuning for one behavior type.
type behaviorTuningEntry struct {
	minDuration float64
	maxDuration float64
	// speedFactor scales walk speed; flee uses run speed instead.
	speedFactor float64
	baseWeight  float64
}

var behaviorTuning = map[BehaviorType]behaviorTuningEntry{
	BehaviorIdle:        {minDuration: 3, maxDuration: 8, speedFactor: 0, baseWeight: 1},
	BehaviorWander:      {minDuration: 8, maxDuration: 20, speedFactor: 0.6, baseWeight: 1.5},
	BehaviorForage:      {minDuration: 10, maxDuration: 25, speedFactor: 0.4, baseWeight: 1.2},
	BehaviorSocialize:   {minDuration: 6, maxDuration: 15, speedFactor: 0.5, baseWeight: 0.5},
	BehaviorFlee:        {minDuration: 3, maxDuration: 6, speedFactor: 1, baseWeight: 0.05},
	BehaviorRest:        {minDuration: 10, maxDuration: 30, speedFactor: 0, baseWeight: 0.5},
	BehaviorPatrol:      {minDuration: 15, maxDuration: 30, speedFactor: 0.7, baseWeight: 0.8},
	BehaviorTerritorial: {minDuration: 5, maxDuration: 10, speedFactor: 0.8, baseWeight: 0.1},
	BehaviorCurious:     {minDuration: 5, maxDuration: 12, speedFactor: 0.5, baseWeight: 0.3},
}

// DurationRange returns the unscaled [min, max] seconds for t.
func DurationRange(t BehaviorType) (float64, float64, bool) {
	tuning, ok := behaviorTuning[t]
	if !ok {
		return 0, 0, false
	}
	return tuning.minDuration, tuning.maxDuration, true
}

// sampleDuration draws a duration for t, scaled by the species multiplier.
func sampleDuration(rng *rand.Rand, t BehaviorType, character species.Character) float64 {
	tuning, ok := behaviorTuning[t]
	if !ok {
		tuning = behaviorTuning[BehaviorIdle]
	}
	d := tuning.minDuration + rng.Float64()*(tuning.maxDuration-tuning.minDuration)
	return d * character.DurationMultiplier(string(t))
}

// allowedBehaviors resolves the behaviors a species may select.
func allowedBehaviors(character species.Character, characterSpecific bool) []BehaviorType {
	if !characterSpecific || len(character.Behaviors) == 0 {
		return DefaultBehaviors
	}
	out := make([]BehaviorType, 0, len(character.Behaviors))
	for _, t := range AllBehaviors {
		if character.HasBehavior(string(t)) {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return DefaultBehaviors
	}
	return out
}

// Personality traits are drawn uniformly from this range before the species
// bias is added.
const (
	personalityMin = 20.0
	personalityMax = 80.0
)

// RandomPersonality draws six traits and applies the species bias, clamping
// each to [0, 100].
func RandomPersonality(rng *rand.Rand, bias species.PersonalityBias) Personality {
	draw := func(offset float64) float64 {
		v := personalityMin + rng.Float64()*(personalityMax-personalityMin) + offset
		return worldpkg.Clamp(v, 0, 100)
	}
	return Personality{
		Sociability:    draw(bias.Sociability),
		Curiosity:      draw(bias.Curiosity),
		Aggression:     draw(bias.Aggression),
		Fearfulness:    draw(bias.Fearfulness),
		Territoriality: draw(bias.Territoriality),
		EnergyLevel:    draw(bias.EnergyLevel),
	}
}

// NewNPC builds an agent with randomized personality and empty memory. The
// caller assigns lifecycle fields.
func NewNPC(id string, character species.Character, position Vec3, rng *rand.Rand) *NPC {
	return &NPC{
		ID:            id,
		CharacterType: character.Key,
		Position:      position,
		Rotation:      rng.Float64() * 2 * math.Pi,
		Health:        100,
		Energy:        60 + rng.Float64()*40,
		Mood:          0,
		Personality:   RandomPersonality(rng, character.Personality),
		Memory:        NewMemory(),
		Home:          position,
	}
}
