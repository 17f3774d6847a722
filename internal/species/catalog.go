// Package species holds the character catalog: movement stats, NPC
// eligibility and behavior tuning per species key. Catalogs are explicit
// values passed to the NPC manager; there is no package-level registry.
package species

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

//go:embed catalog.schema.json
var catalogSchemaJSON []byte

const schemaURL = "catalog.schema.json"

// Behavior names a catalog may reference.
var knownBehaviors = map[string]struct{}{
	"idle":        {},
	"wander":      {},
	"forage":      {},
	"socialize":   {},
	"flee":        {},
	"rest":        {},
	"patrol":      {},
	"territorial": {},
	"curious":     {},
}

var ErrDuplicateKey = errors.New("species: duplicate key")

// IsKnownBehavior reports whether name is a behavior the catalog accepts.
func IsKnownBehavior(name string) bool {
	_, ok := knownBehaviors[name]
	return ok
}

// PersonalityBias shifts the randomized personality of spawned NPCs.
type PersonalityBias struct {
	Sociability    float64 `json:"sociability,omitempty" yaml:"sociability" jsonschema:"minimum=-50,maximum=50"`
	Curiosity      float64 `json:"curiosity,omitempty" yaml:"curiosity" jsonschema:"minimum=-50,maximum=50"`
	Aggression     float64 `json:"aggression,omitempty" yaml:"aggression" jsonschema:"minimum=-50,maximum=50"`
	Fearfulness    float64 `json:"fearfulness,omitempty" yaml:"fearfulness" jsonschema:"minimum=-50,maximum=50"`
	Territoriality float64 `json:"territoriality,omitempty" yaml:"territoriality" jsonschema:"minimum=-50,maximum=50"`
	EnergyLevel    float64 `json:"energy_level,omitempty" yaml:"energy_level" jsonschema:"minimum=-50,maximum=50"`
}

// Character is one species entry.
type Character struct {
	Key                 string             `json:"key" yaml:"key" jsonschema:"title=Species key,description=Identifier used by spawn points and players,pattern=^[a-z][a-z0-9_]*$"`
	Name                string             `json:"name" yaml:"name" jsonschema:"description=Display name"`
	NPC                 bool               `json:"npc" yaml:"npc" jsonschema:"description=Whether the species may be spawned as an NPC"`
	WalkSpeed           float64            `json:"walk_speed" yaml:"walk_speed" jsonschema:"minimum=0,description=Walking speed in world units per second"`
	RunSpeed            float64            `json:"run_speed" yaml:"run_speed" jsonschema:"minimum=0,description=Running speed used while fleeing"`
	DetectionRange      float64            `json:"detection_range,omitempty" yaml:"detection_range" jsonschema:"minimum=0,description=Overrides the manager player detection range"`
	Nocturnal           bool               `json:"nocturnal,omitempty" yaml:"nocturnal" jsonschema:"description=Active at night and resting by day"`
	Behaviors           []string           `json:"behaviors" yaml:"behaviors" jsonschema:"minItems=1,description=Behaviors available when character specific behaviors are enabled"`
	BehaviorMultipliers map[string]float64 `json:"behavior_multipliers,omitempty" yaml:"behavior_multipliers" jsonschema:"description=Duration multiplier per behavior"`
	Personality         PersonalityBias    `json:"personality_bias,omitempty" yaml:"personality_bias" jsonschema:"description=Offsets added to randomized personality traits"`
}

// DurationMultiplier returns the duration scale for behavior, 1 when unset.
func (c Character) DurationMultiplier(behavior string) float64 {
	if m, ok := c.BehaviorMultipliers[behavior]; ok && m > 0 {
		return m
	}
	return 1
}

// HasBehavior reports whether the species lists behavior.
func (c Character) HasBehavior(behavior string) bool {
	for _, b := range c.Behaviors {
		if b == behavior {
			return true
		}
	}
	return false
}

// File is the on-disk catalog document.
type File struct {
	Version    int         `json:"version" yaml:"version" jsonschema:"minimum=1"`
	Characters []Character `json:"characters" yaml:"characters" jsonschema:"minItems=1"`
}

// Catalog is an immutable species lookup.
type Catalog struct {
	characters map[string]Character
	keys       []string
}

// New builds a catalog from explicit entries. It is the constructor tests
// use for isolated fixtures.
func New(characters ...Character) (*Catalog, error) {
	c := &Catalog{characters: make(map[string]Character, len(characters))}
	for _, ch := range characters {
		if err := validateCharacter(ch); err != nil {
			return nil, err
		}
		if _, exists := c.characters[ch.Key]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateKey, ch.Key)
		}
		ch.Behaviors = append([]string(nil), ch.Behaviors...)
		if ch.BehaviorMultipliers != nil {
			copied := make(map[string]float64, len(ch.BehaviorMultipliers))
			for k, v := range ch.BehaviorMultipliers {
				copied[k] = v
			}
			ch.BehaviorMultipliers = copied
		}
		c.characters[ch.Key] = ch
		c.keys = append(c.keys, ch.Key)
	}
	sort.Strings(c.keys)
	return c, nil
}

func validateCharacter(ch Character) error {
	if ch.Key == "" {
		return errors.New("species: empty key")
	}
	if ch.WalkSpeed < 0 || ch.RunSpeed < 0 {
		return fmt.Errorf("species %s: negative speed", ch.Key)
	}
	if len(ch.Behaviors) == 0 {
		return fmt.Errorf("species %s: no behaviors", ch.Key)
	}
	for _, b := range ch.Behaviors {
		if !IsKnownBehavior(b) {
			return fmt.Errorf("species %s: unknown behavior %q", ch.Key, b)
		}
	}
	for b := range ch.BehaviorMultipliers {
		if !IsKnownBehavior(b) {
			return fmt.Errorf("species %s: multiplier for unknown behavior %q", ch.Key, b)
		}
	}
	return nil
}

// Parse decodes a YAML catalog, validating it against the embedded schema
// before building the lookup.
func Parse(data []byte) (*Catalog, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if err := validateDocument(doc); err != nil {
		return nil, err
	}
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	catalog, err := New(file.Characters...)
	if err != nil {
		return nil, fmt.Errorf("build catalog: %w", err)
	}
	return catalog, nil
}

// LoadFile reads and parses a YAML catalog from disk.
func LoadFile(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	catalog, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return catalog, nil
}

// Default parses the embedded forest catalog.
func Default() (*Catalog, error) {
	return Parse(defaultCatalogYAML)
}

// DefaultYAML returns a copy of the embedded catalog source.
func DefaultYAML() []byte {
	return append([]byte(nil), defaultCatalogYAML...)
}

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, bytes.NewReader(catalogSchemaJSON)); err != nil {
			schemaErr = fmt.Errorf("load catalog schema: %w", err)
			return
		}
		schema, schemaErr = compiler.Compile(schemaURL)
		if schemaErr != nil {
			schemaErr = fmt.Errorf("compile catalog schema: %w", schemaErr)
		}
	})
	return schema, schemaErr
}

// validateDocument round-trips the YAML tree through JSON so the validator
// sees json.Number values.
func validateDocument(doc any) error {
	s, err := compiledSchema()
	if err != nil {
		return err
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("catalog to json: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		return fmt.Errorf("catalog to json: %w", err)
	}
	if err := s.Validate(value); err != nil {
		return fmt.Errorf("catalog schema: %w", err)
	}
	return nil
}

// Lookup returns the species for key. Unknown keys report false.
func (c *Catalog) Lookup(key string) (Character, bool) {
	if c == nil {
		return Character{}, false
	}
	ch, ok := c.characters[key]
	return ch, ok
}

// Keys lists every species key in sorted order.
func (c *Catalog) Keys() []string {
	if c == nil {
		return nil
	}
	return append([]string(nil), c.keys...)
}

// NPCKeys lists the keys of NPC-capable species in sorted order.
func (c *Catalog) NPCKeys() []string {
	if c == nil {
		return nil
	}
	out := make([]string, 0, len(c.keys))
	for _, key := range c.keys {
		if c.characters[key].NPC {
			out = append(out, key)
		}
	}
	return out
}

func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.characters)
}
