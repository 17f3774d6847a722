package navigation

import (
	"context"

	"hidden-walnuts/server/logging"
)

const (
	// EventGridBuilt is emitted after the walkability grid is (re)built.
	EventGridBuilt logging.EventType = "navigation.grid_built"
	// EventTerrainSampleFailed is emitted once per build when terrain height samples failed.
	EventTerrainSampleFailed logging.EventType = "navigation.terrain_sample_failed"
	// EventPathFallback is emitted when a search degrades to the direct two-point path.
	EventPathFallback logging.EventType = "navigation.path_fallback"
)

// GridBuiltPayload describes a completed grid build.
type GridBuiltPayload struct {
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	CellSize       float64 `json:"cellSize"`
	Walkable       int     `json:"walkable"`
	DurationMillis int64   `json:"durationMillis"`
}

// TerrainSampleFailedPayload summarises failed height samples during a build.
type TerrainSampleFailedPayload struct {
	Failures int    `json:"failures"`
	Error    string `json:"error"`
}

// PathFallbackPayload captures why a search fell back.
type PathFallbackPayload struct {
	Reason        string  `json:"reason"`
	StartX        float64 `json:"startX"`
	StartZ        float64 `json:"startZ"`
	EndX          float64 `json:"endX"`
	EndZ          float64 `json:"endZ"`
	ElapsedMicros int64   `json:"elapsedMicros"`
}

func worldRef() logging.EntityRef {
	return logging.EntityRef{ID: "pathfinder", Kind: logging.EntityKindWorld}
}

// GridBuilt publishes a grid build summary.
func GridBuilt(ctx context.Context, pub logging.Publisher, payload GridBuiltPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventGridBuilt,
		Actor:    worldRef(),
		Severity: logging.SeverityInfo,
		Category: logging.CategoryNavigation,
		Payload:  payload,
		Extra:    extra,
	})
}

// TerrainSampleFailed publishes a warning about failed terrain samples.
func TerrainSampleFailed(ctx context.Context, pub logging.Publisher, payload TerrainSampleFailedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventTerrainSampleFailed,
		Actor:    worldRef(),
		Severity: logging.SeverityWarn,
		Category: logging.CategoryNavigation,
		Payload:  payload,
		Extra:    extra,
	})
}

// PathFallback publishes a debug event for a degraded path.
func PathFallback(ctx context.Context, pub logging.Publisher, payload PathFallbackPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventPathFallback,
		Actor:    worldRef(),
		Severity: logging.SeverityDebug,
		Category: logging.CategoryNavigation,
		Payload:  payload,
		Extra:    extra,
	})
}
