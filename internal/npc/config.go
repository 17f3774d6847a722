package npc

import (
	_ "embed"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// PerformanceMode scales the behavior and pathfinding rates.
type PerformanceMode string

const (
	PerformanceQuality     PerformanceMode = "quality"
	PerformanceBalanced    PerformanceMode = "balanced"
	PerformancePerformance PerformanceMode = "performance"
)

// RateScale returns the multiplier applied to update rates.
func (m PerformanceMode) RateScale() float64 {
	switch m {
	case PerformanceQuality:
		return 1.5
	case PerformancePerformance:
		return 0.5
	default:
		return 1
	}
}

func (m PerformanceMode) valid() bool {
	switch m {
	case PerformanceQuality, PerformanceBalanced, PerformancePerformance:
		return true
	}
	return false
}

// Config holds the runtime-tunable manager settings.
type Config struct {
	MaxNPCs int `json:"maxNPCs" yaml:"max_npcs"`
	// SpawnRate multiplies every spawn point's own rate.
	SpawnRate float64 `json:"spawnRate" yaml:"spawn_rate"`
	// BehaviorUpdateRate and PathfindingUpdateRate are in Hz.
	BehaviorUpdateRate               float64         `json:"behaviorUpdateRate" yaml:"behavior_update_rate"`
	PathfindingUpdateRate            float64         `json:"pathfindingUpdateRate" yaml:"pathfinding_update_rate"`
	SocialInteractionRange           float64         `json:"socialInteractionRange" yaml:"social_interaction_range"`
	PlayerDetectionRange             float64         `json:"playerDetectionRange" yaml:"player_detection_range"`
	PerformanceMode                  PerformanceMode `json:"performanceMode" yaml:"performance_mode"`
	EnableSocialInteractions         bool            `json:"enableSocialInteractions" yaml:"enable_social_interactions"`
	EnablePathfinding                bool            `json:"enablePathfinding" yaml:"enable_pathfinding"`
	EnableCharacterSpecificBehaviors bool            `json:"enableCharacterSpecificBehaviors" yaml:"enable_character_specific_behaviors"`
}

// DefaultConfig returns the baseline manager settings.
func DefaultConfig() Config {
	return Config{
		MaxNPCs:                          20,
		SpawnRate:                        1,
		BehaviorUpdateRate:               10,
		PathfindingUpdateRate:            5,
		SocialInteractionRange:           8,
		PlayerDetectionRange:             15,
		PerformanceMode:                  PerformanceBalanced,
		EnableSocialInteractions:         true,
		EnablePathfinding:                true,
		EnableCharacterSpecificBehaviors: true,
	}
}

// ConfigPatch is a partial update. Nil fields are left unchanged.
type ConfigPatch struct {
	MaxNPCs                          *int             `json:"maxNPCs,omitempty" yaml:"max_npcs"`
	SpawnRate                        *float64         `json:"spawnRate,omitempty" yaml:"spawn_rate"`
	BehaviorUpdateRate               *float64         `json:"behaviorUpdateRate,omitempty" yaml:"behavior_update_rate"`
	PathfindingUpdateRate            *float64         `json:"pathfindingUpdateRate,omitempty" yaml:"pathfinding_update_rate"`
	SocialInteractionRange           *float64         `json:"socialInteractionRange,omitempty" yaml:"social_interaction_range"`
	PlayerDetectionRange             *float64         `json:"playerDetectionRange,omitempty" yaml:"player_detection_range"`
	PerformanceMode                  *PerformanceMode `json:"performanceMode,omitempty" yaml:"performance_mode"`
	EnableSocialInteractions         *bool            `json:"enableSocialInteractions,omitempty" yaml:"enable_social_interactions"`
	EnablePathfinding                *bool            `json:"enablePathfinding,omitempty" yaml:"enable_pathfinding"`
	EnableCharacterSpecificBehaviors *bool            `json:"enableCharacterSpecificBehaviors,omitempty" yaml:"enable_character_specific_behaviors"`
}

// FieldError reports a patch field that was ignored.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func positiveRate(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

// nonNegativeRate also accepts zero, which switches a rate off.
func nonNegativeRate(v float64) bool {
	return v == 0 || positiveRate(v)
}

// Apply merges patch into c. Invalid fields are skipped and reported; the
// valid ones still apply. The names of changed fields are returned sorted.
func (c *Config) Apply(patch ConfigPatch) (changed []string, rejected []FieldError) {
	floatField := func(name string, src *float64, dst *float64, valid func(float64) bool, reason string) {
		if src == nil {
			return
		}
		if !valid(*src) {
			rejected = append(rejected, FieldError{Field: name, Reason: reason})
			return
		}
		if *dst != *src {
			*dst = *src
			changed = append(changed, name)
		}
	}
	boolField := func(name string, src *bool, dst *bool) {
		if src != nil && *dst != *src {
			*dst = *src
			changed = append(changed, name)
		}
	}

	if patch.MaxNPCs != nil {
		if *patch.MaxNPCs < 0 {
			rejected = append(rejected, FieldError{Field: "maxNPCs", Reason: "must not be negative"})
		} else if c.MaxNPCs != *patch.MaxNPCs {
			c.MaxNPCs = *patch.MaxNPCs
			changed = append(changed, "maxNPCs")
		}
	}
	const positive, nonNegative = "must be a positive number", "must be a non-negative number"
	floatField("spawnRate", patch.SpawnRate, &c.SpawnRate, nonNegativeRate, nonNegative)
	floatField("behaviorUpdateRate", patch.BehaviorUpdateRate, &c.BehaviorUpdateRate, positiveRate, positive)
	floatField("pathfindingUpdateRate", patch.PathfindingUpdateRate, &c.PathfindingUpdateRate, positiveRate, positive)
	floatField("socialInteractionRange", patch.SocialInteractionRange, &c.SocialInteractionRange, positiveRate, positive)
	floatField("playerDetectionRange", patch.PlayerDetectionRange, &c.PlayerDetectionRange, positiveRate, positive)
	if patch.PerformanceMode != nil {
		mode := PerformanceMode(strings.ToLower(string(*patch.PerformanceMode)))
		if !mode.valid() {
			rejected = append(rejected, FieldError{Field: "performanceMode", Reason: fmt.Sprintf("unknown mode %q", *patch.PerformanceMode)})
		} else if c.PerformanceMode != mode {
			c.PerformanceMode = mode
			changed = append(changed, "performanceMode")
		}
	}
	boolField("enableSocialInteractions", patch.EnableSocialInteractions, &c.EnableSocialInteractions)
	boolField("enablePathfinding", patch.EnablePathfinding, &c.EnablePathfinding)
	boolField("enableCharacterSpecificBehaviors", patch.EnableCharacterSpecificBehaviors, &c.EnableCharacterSpecificBehaviors)

	sort.Strings(changed)
	return changed, rejected
}

func (c Config) behaviorInterval() float64 {
	return 1 / (c.BehaviorUpdateRate * c.PerformanceMode.RateScale())
}

func (c Config) pathfindingInterval() float64 {
	return 1 / (c.PathfindingUpdateRate * c.PerformanceMode.RateScale())
}

//go:embed defaults.yaml
var defaultFile []byte

// File is the on-disk manager document.
type File struct {
	NPC         ConfigPatch  `yaml:"npc"`
	SpawnPoints []SpawnPoint `yaml:"spawn_points"`
}

// ParseFile decodes a manager document on top of DefaultConfig. Any invalid
// field fails the whole document.
func ParseFile(data []byte) (Config, []SpawnPoint, error) {
	var doc File
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Config{}, nil, fmt.Errorf("decode npc config: %w", err)
	}
	cfg := DefaultConfig()
	if _, rejected := cfg.Apply(doc.NPC); len(rejected) > 0 {
		errs := make([]error, 0, len(rejected))
		for _, r := range rejected {
			errs = append(errs, r)
		}
		return Config{}, nil, fmt.Errorf("npc config: %w", errors.Join(errs...))
	}
	seen := make(map[string]struct{}, len(doc.SpawnPoints))
	for i, sp := range doc.SpawnPoints {
		if err := sp.validate(); err != nil {
			return Config{}, nil, fmt.Errorf("spawn point %d: %w", i, err)
		}
		if _, dup := seen[sp.ID]; dup {
			return Config{}, nil, fmt.Errorf("spawn point %d: duplicate id %q", i, sp.ID)
		}
		seen[sp.ID] = struct{}{}
	}
	return cfg, doc.SpawnPoints, nil
}

// LoadFile reads a manager document from disk.
func LoadFile(path string) (Config, []SpawnPoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, nil, fmt.Errorf("read npc config %s: %w", path, err)
	}
	return ParseFile(data)
}

// Defaults returns the embedded manager document.
func Defaults() (Config, []SpawnPoint, error) {
	return ParseFile(defaultFile)
}
