package npc

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestDefaultsDocument(t *testing.T) {
	cfg, points, err := Defaults()
	if err != nil {
		t.Fatalf("embedded defaults: %v", err)
	}
	if cfg != DefaultConfig() {
		t.Fatalf("embedded config drifted from DefaultConfig: %+v", cfg)
	}
	if len(points) != 4 {
		t.Fatalf("expected 4 spawn points, got %d", len(points))
	}
	for _, sp := range points {
		if sp.SpawnRate <= 0 || sp.MaxNPCs <= 0 || len(sp.CharacterTypes) == 0 {
			t.Fatalf("unexpected spawn point %+v", sp)
		}
	}
}

func TestParseFileOverridesAndRejects(t *testing.T) {
	cases := []struct {
		name    string
		doc     string
		wantErr string
		check   func(t *testing.T, cfg Config, points []SpawnPoint)
	}{
		{
			name: "override",
			doc:  "npc:\n  max_npcs: 3\n  enable_social_interactions: false\n  performance_mode: performance\n",
			check: func(t *testing.T, cfg Config, points []SpawnPoint) {
				if cfg.MaxNPCs != 3 || cfg.EnableSocialInteractions || cfg.PerformanceMode != PerformancePerformance {
					t.Fatalf("unexpected config %+v", cfg)
				}
				if cfg.BehaviorUpdateRate != DefaultConfig().BehaviorUpdateRate {
					t.Fatalf("expected untouched fields to keep defaults")
				}
				if len(points) != 0 {
					t.Fatalf("expected no spawn points")
				}
			},
		},
		{name: "negative rate", doc: "npc:\n  behavior_update_rate: -2\n", wantErr: "behaviorUpdateRate"},
		{name: "unknown mode", doc: "npc:\n  performance_mode: turbo\n", wantErr: "performanceMode"},
		{name: "spawn point without types", doc: "spawn_points:\n  - id: a\n    radius: 2\n", wantErr: "character type"},
		{name: "duplicate spawn point", doc: "spawn_points:\n  - id: a\n    character_types: [gecko]\n  - id: a\n    character_types: [gecko]\n", wantErr: "duplicate"},
		{name: "bad yaml", doc: "npc: [", wantErr: "decode"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, points, err := ParseFile([]byte(tc.doc))
			if tc.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			tc.check(t, cfg, points)
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "npc.yaml")
	doc := "spawn_points:\n  - id: glade\n    position: {x: 3, y: 0, z: 4}\n    character_types: [colobus]\n    radius: 5\n    max_npcs: 2\n    spawn_rate: 1\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, points, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := []SpawnPoint{{
		ID:             "glade",
		Position:       points[0].Position,
		CharacterTypes: []string{"colobus"},
		Radius:         5,
		MaxNPCs:        2,
		SpawnRate:      1,
	}}
	if !reflect.DeepEqual(points, want) || points[0].Position.X != 3 || points[0].Position.Z != 4 {
		t.Fatalf("unexpected spawn points %+v", points)
	}
	if _, _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestConfigApplyReportsChangedFields(t *testing.T) {
	cfg := DefaultConfig()
	same := cfg.MaxNPCs
	changed, rejected := cfg.Apply(ConfigPatch{
		MaxNPCs:                intPtr(same),
		SocialInteractionRange: floatPtr(12),
		EnablePathfinding:      boolPtr(false),
	})
	if len(rejected) != 0 {
		t.Fatalf("unexpected rejections %v", rejected)
	}
	if !reflect.DeepEqual(changed, []string{"enablePathfinding", "socialInteractionRange"}) {
		t.Fatalf("unexpected changed fields %v", changed)
	}
}

func TestPerformanceModeScalesIntervals(t *testing.T) {
	cfg := DefaultConfig()
	balanced := cfg.behaviorInterval()
	cfg.PerformanceMode = PerformancePerformance
	if cfg.behaviorInterval() <= balanced {
		t.Fatalf("expected performance mode to update less often")
	}
	cfg.PerformanceMode = PerformanceQuality
	if cfg.pathfindingInterval() >= 1/DefaultConfig().PathfindingUpdateRate {
		t.Fatalf("expected quality mode to search more often")
	}
}

func TestConfigApplyAllowsZeroSpawnRate(t *testing.T) {
	cfg := DefaultConfig()
	changed, rejected := cfg.Apply(ConfigPatch{SpawnRate: floatPtr(0)})
	if len(rejected) != 0 {
		t.Fatalf("expected zero spawn rate to be accepted, got %v", rejected)
	}
	if cfg.SpawnRate != 0 || !reflect.DeepEqual(changed, []string{"spawnRate"}) {
		t.Fatalf("expected spawnRate to change to 0, got %v (%v)", cfg.SpawnRate, changed)
	}

	_, rejected = cfg.Apply(ConfigPatch{SpawnRate: floatPtr(-1), BehaviorUpdateRate: floatPtr(0)})
	if len(rejected) != 2 {
		t.Fatalf("expected negative spawn rate and zero behavior rate rejected, got %v", rejected)
	}
	if cfg.SpawnRate != 0 {
		t.Fatalf("rejected patch must not modify config, got %v", cfg.SpawnRate)
	}
}
