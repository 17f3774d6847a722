package ai

import worldpkg "hidden-walnuts/server/internal/world"

const (
	// RecentlySeenWindow is how long after the last sighting an agent still
	// counts as recently seen.
	RecentlySeenWindow = 30.0
	// ForgetAfter drops memory entries not refreshed for this long.
	ForgetAfter = 300.0
	// MaxRememberedLocations caps favorite and dangerous location lists.
	MaxRememberedLocations = 5
	// locationMergeRadius treats a new location this close to a stored one
	// as the same place.
	locationMergeRadius = 3.0
)

// RecentlySeenPlayer reports whether id was seen within the recent window.
func (m *Memory) RecentlySeenPlayer(id string, now float64) bool {
	entry, ok := m.KnownPlayers[id]
	return ok && now-entry.LastSeen <= RecentlySeenWindow
}

// RecentlySeenNPC reports whether id was seen within the recent window.
func (m *Memory) RecentlySeenNPC(id string, now float64) bool {
	entry, ok := m.KnownNPCs[id]
	return ok && now-entry.LastSeen <= RecentlySeenWindow
}

func (m *Memory) observePlayer(p PlayerInfo, now float64) {
	if m.KnownPlayers == nil {
		m.KnownPlayers = make(map[string]PlayerMemory)
	}
	entry, ok := m.KnownPlayers[p.ID]
	if !ok {
		entry.FirstSeen = now
	}
	if !ok || now-entry.LastSeen > RecentlySeenWindow {
		entry.Encounters++
	}
	entry.LastSeen = now
	entry.LastPosition = p.Position
	m.KnownPlayers[p.ID] = entry
}

func (m *Memory) observeNPC(n NPCInfo, now float64) {
	if m.KnownNPCs == nil {
		m.KnownNPCs = make(map[string]NPCMemory)
	}
	entry, ok := m.KnownNPCs[n.ID]
	if !ok {
		entry.FirstSeen = now
		entry.CharacterType = n.CharacterType
	}
	if !ok || now-entry.LastSeen > RecentlySeenWindow {
		entry.Encounters++
	}
	entry.LastSeen = now
	entry.LastPosition = n.Position
	m.KnownNPCs[n.ID] = entry
}

// adjustRelationship shifts the relationship with a known NPC.
func (m *Memory) adjustRelationship(id string, delta float64) {
	entry, ok := m.KnownNPCs[id]
	if !ok {
		return
	}
	entry.Relationship = worldpkg.Clamp(entry.Relationship+delta, -100, 100)
	m.KnownNPCs[id] = entry
}

// prune forgets entries not refreshed within ForgetAfter seconds.
func (m *Memory) prune(now float64) {
	for id, entry := range m.KnownPlayers {
		if now-entry.LastSeen > ForgetAfter {
			delete(m.KnownPlayers, id)
		}
	}
	for id, entry := range m.KnownNPCs {
		if now-entry.LastSeen > ForgetAfter {
			delete(m.KnownNPCs, id)
		}
	}
}

func (m *Memory) rememberFavorite(pos Vec3) {
	m.FavoriteLocations = rememberLocation(m.FavoriteLocations, pos)
}

func (m *Memory) rememberDanger(pos Vec3) {
	m.DangerousLocations = rememberLocation(m.DangerousLocations, pos)
}

// nearDanger reports whether pos lies within radius of a remembered
// dangerous location.
func (m *Memory) nearDanger(pos Vec3, radius float64) bool {
	for _, loc := range m.DangerousLocations {
		if worldpkg.GroundDistance(loc, pos) <= radius {
			return true
		}
	}
	return false
}

// rememberLocation appends pos unless it duplicates a stored location,
// evicting the oldest entry beyond the cap.
func rememberLocation(list []Vec3, pos Vec3) []Vec3 {
	for _, existing := range list {
		if worldpkg.GroundDistance(existing, pos) <= locationMergeRadius {
			return list
		}
	}
	list = append(list, pos)
	if len(list) > MaxRememberedLocations {
		list = append(list[:0], list[len(list)-MaxRememberedLocations:]...)
	}
	return list
}
