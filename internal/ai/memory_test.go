package ai

import "testing"

func TestRememberLocationCapsAndMerges(t *testing.T) {
	var m Memory
	for i := 0; i < 8; i++ {
		m.rememberFavorite(Vec3{X: float64(i) * 10})
	}
	if len(m.FavoriteLocations) != MaxRememberedLocations {
		t.Fatalf("expected %d locations, got %d", MaxRememberedLocations, len(m.FavoriteLocations))
	}
	if m.FavoriteLocations[0].X != 30 {
		t.Fatalf("expected oldest entries evicted, first is %+v", m.FavoriteLocations[0])
	}
	m.rememberFavorite(Vec3{X: 71})
	if len(m.FavoriteLocations) != MaxRememberedLocations || m.FavoriteLocations[4].X != 70 {
		t.Fatalf("expected nearby location merged, got %+v", m.FavoriteLocations)
	}
}

func TestObserveCountsEncounters(t *testing.T) {
	m := NewMemory()
	p := PlayerInfo{ID: "p1"}
	m.observePlayer(p, 0)
	m.observePlayer(p, 10)
	if got := m.KnownPlayers["p1"].Encounters; got != 1 {
		t.Fatalf("expected continuous sighting to count once, got %d", got)
	}
	m.observePlayer(p, 10+RecentlySeenWindow+1)
	if got := m.KnownPlayers["p1"].Encounters; got != 2 {
		t.Fatalf("expected a new encounter after the window, got %d", got)
	}
	if !m.RecentlySeenPlayer("p1", 45) || m.RecentlySeenPlayer("p1", 100) {
		t.Fatalf("recently seen window mismatch")
	}
}

func TestPruneForgetsStaleEntries(t *testing.T) {
	m := NewMemory()
	m.observePlayer(PlayerInfo{ID: "old"}, 0)
	m.observeNPC(NPCInfo{ID: "npc_old", CharacterType: "gecko"}, 0)
	m.observeNPC(NPCInfo{ID: "npc_new", CharacterType: "gecko"}, 250)
	m.prune(ForgetAfter + 1)
	if _, ok := m.KnownPlayers["old"]; ok {
		t.Fatalf("expected stale player forgotten")
	}
	if _, ok := m.KnownNPCs["npc_old"]; ok {
		t.Fatalf("expected stale npc forgotten")
	}
	if _, ok := m.KnownNPCs["npc_new"]; !ok {
		t.Fatalf("expected fresh npc kept")
	}
}

func TestRelationshipClamped(t *testing.T) {
	m := NewMemory()
	m.observeNPC(NPCInfo{ID: "npc_a"}, 0)
	for i := 0; i < 50; i++ {
		m.adjustRelationship("npc_a", 10)
	}
	if got := m.KnownNPCs["npc_a"].Relationship; got != 100 {
		t.Fatalf("expected relationship clamped to 100, got %.1f", got)
	}
	m.adjustRelationship("npc_unknown", 5)
	if _, ok := m.KnownNPCs["npc_unknown"]; ok {
		t.Fatalf("adjusting unknown npc must not create an entry")
	}
}
