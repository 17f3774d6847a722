package ai

import (
	"math"
	"math/rand"
	"sort"

	worldpkg "hidden-walnuts/server/internal/world"
)

// selectionContext summarises what a controller sees when choosing the next
// behavior.
type selectionContext struct {
	personality   Personality
	energy        float64 // 0..1
	mood          float64 // -1..1
	danger        float64 // 0..1
	nearbyPlayers int
	nearbyNPCs    int
	nearbyForeign int
	nearDanger    bool
	favorites     int
	sleepy        bool
}

func (c *Controller) selectionContext(world *WorldState) selectionContext {
	npc := c.npc
	ctx := selectionContext{
		personality: npc.Personality,
		energy:      worldpkg.Clamp(npc.Energy/100, 0, 1),
		mood:        worldpkg.Clamp(npc.Mood/100, -1, 1),
		danger:      worldpkg.Clamp(world.DangerLevel/100, 0, 1),
		nearDanger:  npc.Memory.nearDanger(npc.Position, dangerRecallRadius),
		favorites:   len(npc.Memory.FavoriteLocations),
		sleepy:      world.IsNight() != c.character.Nocturnal,
	}
	detect := c.detectionRange(world)
	for _, p := range world.Players {
		if worldpkg.GroundDistance(p.Position, npc.Position) <= detect {
			ctx.nearbyPlayers++
		}
	}
	for id, other := range world.NPCs {
		if id == npc.ID {
			continue
		}
		d := worldpkg.GroundDistance(other.Position, npc.Position)
		if d <= c.settings.SocialRange {
			ctx.nearbyNPCs++
		}
		if d <= detect && other.CharacterType != npc.CharacterType {
			ctx.nearbyForeign++
		}
	}
	return ctx
}

// behaviorWeight scores t for the given context. Weights are relative; a
// zero weight excludes the behavior.
func behaviorWeight(t BehaviorType, ctx selectionContext) float64 {
	tuning, ok := behaviorTuning[t]
	if !ok {
		return 0
	}
	p := ctx.personality
	sociability := p.Sociability / 100
	curiosity := p.Curiosity / 100
	aggression := p.Aggression / 100
	fearfulness := p.Fearfulness / 100
	territoriality := p.Territoriality / 100
	energyLevel := p.EnergyLevel / 100

	w := tuning.baseWeight
	switch t {
	case BehaviorIdle:
		w *= 1 + (1-energyLevel)*0.5
		w *= 1 + math.Max(0, -ctx.mood)*0.5
	case BehaviorWander:
		w *= 0.5 + curiosity*0.5 + energyLevel*0.5
		w *= 0.3 + ctx.energy
	case BehaviorForage:
		w *= 1 + (1-ctx.energy)*0.5
		w *= 1 + 0.1*float64(ctx.favorites)
	case BehaviorSocialize:
		if ctx.nearbyNPCs > 0 {
			w *= sociability * (1.5 + 0.3*float64(min(ctx.nearbyNPCs, 5)))
		} else {
			w *= sociability * 0.2
		}
		w *= 1 + ctx.mood*0.5
	case BehaviorFlee:
		threat := ctx.danger
		threat += 0.3 * float64(min(ctx.nearbyPlayers, 3))
		if ctx.nearDanger {
			threat += 0.3
		}
		w += fearfulness * threat * 4
	case BehaviorRest:
		tired := 1 - ctx.energy
		w *= 1 + tired*tired*6
		if ctx.sleepy {
			w *= 2
		}
	case BehaviorPatrol:
		w *= 0.5 + territoriality
	case BehaviorTerritorial:
		if ctx.nearbyForeign > 0 {
			w = territoriality*aggression*6 + tuning.baseWeight
		} else {
			w = 0.02
		}
	case BehaviorCurious:
		if ctx.nearbyPlayers > 0 {
			w *= curiosity * 4 * (1 - fearfulness*0.5)
		} else {
			w *= curiosity * 0.5
		}
		w *= 1 + ctx.mood*0.3
	}

	if ctx.energy < 0.1 && tuning.speedFactor > 0 && t != BehaviorFlee {
		w *= 0.2
	}
	if math.IsNaN(w) || w < 0 {
		return 0
	}
	return w
}

// pickWeighted returns a behavior from candidates with probability
// proportional to its weight. When every weight is zero it prefers idle.
func pickWeighted(rng *rand.Rand, candidates []BehaviorType, ctx selectionContext) BehaviorType {
	if len(candidates) == 0 {
		return BehaviorIdle
	}
	weights := make([]float64, len(candidates))
	total := 0.0
	for i, t := range candidates {
		weights[i] = behaviorWeight(t, ctx)
		total += weights[i]
	}
	if total <= 0 || math.IsInf(total, 0) {
		for _, t := range candidates {
			if t == BehaviorIdle {
				return t
			}
		}
		return candidates[0]
	}
	r := rng.Float64() * total
	for i, t := range candidates {
		r -= weights[i]
		if r < 0 {
			return t
		}
	}
	return candidates[len(candidates)-1]
}

// nearestPlayer returns the closest player within radius. Ties break on id.
func nearestPlayer(world *WorldState, from Vec3, radius float64) (PlayerInfo, bool) {
	ids := make([]string, 0, len(world.Players))
	for id := range world.Players {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var best PlayerInfo
	bestDist := math.Inf(1)
	for _, id := range ids {
		p := world.Players[id]
		d := worldpkg.GroundDistance(p.Position, from)
		if d <= radius && d < bestDist {
			best, bestDist = p, d
		}
	}
	return best, !math.IsInf(bestDist, 1)
}

// nearestNPC returns the closest other NPC within radius accepted by keep.
func nearestNPC(world *WorldState, self string, from Vec3, radius float64, keep func(NPCInfo) bool) (NPCInfo, bool) {
	ids := make([]string, 0, len(world.NPCs))
	for id := range world.NPCs {
		if id != self {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	var best NPCInfo
	bestDist := math.Inf(1)
	for _, id := range ids {
		n := world.NPCs[id]
		if keep != nil && !keep(n) {
			continue
		}
		d := worldpkg.GroundDistance(n.Position, from)
		if d <= radius && d < bestDist {
			best, bestDist = n, d
		}
	}
	return best, !math.IsInf(bestDist, 1)
}
