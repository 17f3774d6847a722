package npc

import (
	worldpkg "hidden-walnuts/server/internal/world"
)

// InteractionType classifies a social interaction.
type InteractionType string

const (
	InteractionGreeting    InteractionType = "greeting"
	InteractionPlay        InteractionType = "play"
	InteractionMating      InteractionType = "mating"
	InteractionTerritorial InteractionType = "territorial"
	InteractionFight       InteractionType = "fight"
)

// Per-second probabilities of starting an interaction with an NPC in range.
const (
	sameSpeciesInteractionChance  = 0.6
	crossSpeciesInteractionChance = 0.2
)

// SocialInteraction is recorded for the tick it was decided in only.
type SocialInteraction struct {
	A         string          `json:"a"`
	B         string          `json:"b"`
	Type      InteractionType `json:"type"`
	Duration  float64         `json:"duration"`
	StartTime float64         `json:"startTime"`
	Intensity float64         `json:"intensity"`
}

// SocialInteractions returns the interactions decided on the last tick.
func (m *Manager) SocialInteractions() []SocialInteraction {
	return append([]SocialInteraction(nil), m.interactions...)
}

// runSocial scans every unordered pair in range. The scan is quadratic in
// population size.
func (m *Manager) runSocial(dt float64) {
	m.interactions = m.interactions[:0]
	if dt <= 0 {
		return
	}
	ids := m.sortedIDs()
	rangeLimit := m.config.SocialInteractionRange
	for i := 0; i < len(ids); i++ {
		a := m.npcs[ids[i]]
		for j := i + 1; j < len(ids); j++ {
			b := m.npcs[ids[j]]
			if worldpkg.GroundDistance(a.Position, b.Position) > rangeLimit {
				continue
			}
			sameSpecies := a.CharacterType == b.CharacterType
			chance := crossSpeciesInteractionChance
			if sameSpecies {
				chance = sameSpeciesInteractionChance
			}
			if m.rng.Float64() >= chance*dt {
				continue
			}
			kind := m.interactionType(sameSpecies, a.Personality.Aggression, b.Personality.Aggression,
				min(a.Energy, b.Energy), (a.Mood+b.Mood)/2)
			m.interactions = append(m.interactions, SocialInteraction{
				A:         a.ID,
				B:         b.ID,
				Type:      kind,
				Duration:  worldpkg.RandomDistance(m.rng, 2, 6),
				StartTime: m.world.Time,
				Intensity: worldpkg.RandomDistance(m.rng, 0.3, 1),
			})
			m.socialTotal++
		}
	}
}

func (m *Manager) interactionType(sameSpecies bool, aggressionA, aggressionB, energy, mood float64) InteractionType {
	aggression := (aggressionA + aggressionB) / 2
	if sameSpecies {
		switch {
		case energy > 70 && mood > 50 && m.rng.Float64() < 0.1:
			return InteractionMating
		case mood > 20 && energy > 40:
			return InteractionPlay
		case aggression > 70:
			return InteractionTerritorial
		default:
			return InteractionGreeting
		}
	}
	switch {
	case aggression > 60 && energy > 40:
		return InteractionFight
	case aggression > 45:
		return InteractionTerritorial
	default:
		return InteractionGreeting
	}
}
