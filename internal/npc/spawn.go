package npc

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"hidden-walnuts/server/internal/ai"
	worldpkg "hidden-walnuts/server/internal/world"
)

// SpawnPoint feeds the population around a fixed location.
type SpawnPoint struct {
	ID             string   `json:"id" yaml:"id"`
	Position       ai.Vec3  `json:"position" yaml:"position"`
	CharacterTypes []string `json:"characterTypes" yaml:"character_types"`
	Radius         float64  `json:"radius" yaml:"radius"`
	MaxNPCs        int      `json:"maxNPCs" yaml:"max_npcs"`
	// SpawnRate is spawns per minute before the global multiplier.
	SpawnRate float64 `json:"spawnRate" yaml:"spawn_rate"`
	// LastSpawn is the simulation time of the last spawn attempt.
	LastSpawn float64 `json:"lastSpawn" yaml:"-"`
}

func (sp SpawnPoint) validate() error {
	switch {
	case sp.ID == "":
		return errors.New("id is required")
	case len(sp.CharacterTypes) == 0:
		return errors.New("at least one character type is required")
	case sp.Radius < 0:
		return errors.New("radius must not be negative")
	case sp.MaxNPCs < 0:
		return errors.New("max_npcs must not be negative")
	case sp.SpawnRate < 0:
		return errors.New("spawn_rate must not be negative")
	case !sp.Position.Finite():
		return errors.New("position must be finite")
	}
	return nil
}

// SpawnRejection names why SpawnNPC returned nil.
type SpawnRejection string

const (
	RejectUnknownCharacter SpawnRejection = "unknown_character"
	RejectNotNPC           SpawnRejection = "not_npc"
	RejectPopulationCap    SpawnRejection = "population_cap"
	RejectInvalidPosition  SpawnRejection = "invalid_position"
)

// AddSpawnPoint registers or replaces a spawn point.
func (m *Manager) AddSpawnPoint(sp SpawnPoint) error {
	if err := sp.validate(); err != nil {
		return fmt.Errorf("spawn point %q: %w", sp.ID, err)
	}
	sp.CharacterTypes = append([]string(nil), sp.CharacterTypes...)
	if existing, ok := m.spawnPoints[sp.ID]; ok {
		sp.LastSpawn = existing.LastSpawn
	} else {
		sp.LastSpawn = m.world.Time
		m.spawnOrder = append(m.spawnOrder, sp.ID)
		sort.Strings(m.spawnOrder)
	}
	m.spawnPoints[sp.ID] = &sp
	return nil
}

// RemoveSpawnPoint drops a spawn point. NPCs it produced stay alive.
func (m *Manager) RemoveSpawnPoint(id string) {
	if _, ok := m.spawnPoints[id]; !ok {
		return
	}
	delete(m.spawnPoints, id)
	for i, existing := range m.spawnOrder {
		if existing == id {
			m.spawnOrder = append(m.spawnOrder[:i], m.spawnOrder[i+1:]...)
			break
		}
	}
}

// SpawnPoints returns copies of the registered spawn points sorted by id.
func (m *Manager) SpawnPoints() []SpawnPoint {
	out := make([]SpawnPoint, 0, len(m.spawnOrder))
	for _, id := range m.spawnOrder {
		sp := *m.spawnPoints[id]
		sp.CharacterTypes = append([]string(nil), sp.CharacterTypes...)
		out = append(out, sp)
	}
	return out
}

func (m *Manager) spawnPointPopulation(id string) int {
	count := 0
	for _, npc := range m.npcs {
		if npc.SpawnPointID == id {
			count++
		}
	}
	return count
}

// runSpawnPoints spawns at most one NPC per due spawn point.
func (m *Manager) runSpawnPoints(ctx context.Context) {
	for _, id := range m.spawnOrder {
		sp := m.spawnPoints[id]
		rate := sp.SpawnRate * m.config.SpawnRate
		if rate <= 0 {
			continue
		}
		interval := 60 / rate
		if m.world.Time-sp.LastSpawn < interval {
			continue
		}
		sp.LastSpawn = m.world.Time
		if len(m.npcs) >= m.config.MaxNPCs || m.spawnPointPopulation(sp.ID) >= sp.MaxNPCs {
			continue
		}
		eligible := make([]string, 0, len(sp.CharacterTypes))
		for _, key := range sp.CharacterTypes {
			if ch, ok := m.catalog.Lookup(key); ok && ch.NPC {
				eligible = append(eligible, key)
			}
		}
		if len(eligible) == 0 {
			continue
		}
		key := eligible[m.rng.Intn(len(eligible))]
		pos := m.spawnPosition(worldpkg.RandomPointInDisc(m.rng, sp.Position, sp.Radius), sp.Position, sp.Radius)
		if npc := m.spawn(ctx, key, pos, sp.ID); npc != nil {
			npc.Home = sp.Position
		}
	}
}

// enforcePopulationCap despawns the newest NPCs while over MaxNPCs.
func (m *Manager) enforcePopulationCap(ctx context.Context) {
	excess := len(m.npcs) - m.config.MaxNPCs
	if excess <= 0 {
		return
	}
	ids := m.sortedIDs()
	sort.SliceStable(ids, func(i, j int) bool {
		return m.npcs[ids[i]].SpawnedAt > m.npcs[ids[j]].SpawnedAt
	})
	for _, id := range ids[:excess] {
		m.despawn(ctx, id, "population_cap")
	}
}
