package npc

import (
	"context"

	"hidden-walnuts/server/internal/ai"
	worldpkg "hidden-walnuts/server/internal/world"
)

const (
	pathResultBuffer = 256
	maxPathsInFlight = 16

	navigatorPanicMetricKey = "npc_navigator_panics_total"
)

// Navigator is the pathfinding and terrain surface the manager needs.
// *world.Pathfinder satisfies it.
type Navigator interface {
	FindPath(start, end ai.Vec3) []ai.Vec3
	IsValidPosition(pos ai.Vec3) bool
	RandomPosition(center ai.Vec3, radius float64) ai.Vec3
	HeightAt(x, z float64) float64
	Rebuild(ctx context.Context) worldpkg.GridBuildReport
}

type pathResult struct {
	npcID  string
	target ai.Vec3
	path   []ai.Vec3
}

// dispatchPaths starts a search for every NPC with a target and no path.
func (m *Manager) dispatchPaths() {
	for _, id := range m.sortedIDs() {
		if len(m.inFlight) >= maxPathsInFlight {
			return
		}
		npc := m.npcs[id]
		if npc.TargetPosition == nil || len(npc.Path) > 0 {
			continue
		}
		if _, busy := m.inFlight[id]; busy {
			continue
		}
		start, target := npc.Position, *npc.TargetPosition
		m.inFlight[id] = target
		m.pathRequests++
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			path := m.findPath(start, target)
			select {
			case m.pathResults <- pathResult{npcID: id, target: target, path: path}:
			case <-m.done:
			}
		}()
	}
}

// applyPathResults drains resolved searches. A result whose target no
// longer matches the NPC's current target is discarded.
func (m *Manager) applyPathResults() {
	for {
		select {
		case res := <-m.pathResults:
			delete(m.inFlight, res.npcID)
			npc, ok := m.npcs[res.npcID]
			if !ok || npc.TargetPosition == nil || *npc.TargetPosition != res.target {
				m.stalePaths++
				continue
			}
			npc.Path = res.path
			m.pathsApplied++
		default:
			return
		}
	}
}

// requestRebuild rebuilds the walkability grid in the background. Requests
// that arrive while a rebuild runs collapse into one follow-up rebuild.
func (m *Manager) requestRebuild(ctx context.Context) {
	if m.nav == nil {
		return
	}
	m.rebuildPending.Store(true)
	if !m.rebuilding.CompareAndSwap(false, true) {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			for m.rebuildPending.Swap(false) {
				select {
				case <-m.done:
					m.rebuilding.Store(false)
					return
				default:
				}
				if report, ok := m.rebuild(context.WithoutCancel(ctx)); ok {
					m.logger.Printf("[npc] walkability grid rebuilt: cells=%d walkable=%d failures=%d",
						report.Cells, report.Walkable, report.SampleFailures)
				}
			}
			m.rebuilding.Store(false)
			// A request may have landed between the last swap and the store.
			if !m.rebuildPending.Load() || !m.rebuilding.CompareAndSwap(false, true) {
				return
			}
		}
	}()
}

// The helpers below recover Navigator panics, count them and return a
// fallback value.

func (m *Manager) navigatorPanicked(op string, r any) {
	m.counters.Add(navigatorPanicMetricKey, 1)
	m.logger.Printf("[npc] navigator %s panicked: %v", op, r)
}

// findPath falls back to the direct two-point path.
func (m *Manager) findPath(start, end ai.Vec3) (path []ai.Vec3) {
	defer func() {
		if r := recover(); r != nil {
			m.navigatorPanicked("FindPath", r)
			path = []ai.Vec3{start, end}
		}
	}()
	return m.nav.FindPath(start, end)
}

// heightAt falls back to the given height.
func (m *Manager) heightAt(x, z, fallback float64) (height float64) {
	if m.nav == nil {
		return fallback
	}
	defer func() {
		if r := recover(); r != nil {
			m.navigatorPanicked("HeightAt", r)
			height = fallback
		}
	}()
	return m.nav.HeightAt(x, z)
}

// spawnPosition keeps the sampled point when validation or resampling fails.
func (m *Manager) spawnPosition(sampled, center ai.Vec3, radius float64) (pos ai.Vec3) {
	pos = sampled
	if m.nav == nil {
		return pos
	}
	defer func() {
		if r := recover(); r != nil {
			m.navigatorPanicked("spawn position lookup", r)
			pos = sampled
		}
	}()
	if !m.nav.IsValidPosition(sampled) {
		pos = m.nav.RandomPosition(center, radius)
	}
	return pos
}

func (m *Manager) rebuild(ctx context.Context) (report worldpkg.GridBuildReport, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			m.navigatorPanicked("Rebuild", r)
			ok = false
		}
	}()
	return m.nav.Rebuild(ctx), true
}
