package world

import (
	"context"
	"errors"
	"testing"
)

func TestGridRoundTripCellCenters(t *testing.T) {
	grid, _ := BuildGrid(context.Background(), FlatTerrain(0), DefaultGridOptions())

	for z := 0; z < grid.Height(); z++ {
		for x := 0; x < grid.Width(); x++ {
			p := GridPoint{X: x, Z: z}
			got := grid.WorldToGrid(grid.GridToWorld(p))
			if got != p {
				t.Fatalf("round trip mismatch: %+v -> %+v", p, got)
			}
		}
	}
}

func TestGridRoundTripOddCellSize(t *testing.T) {
	opts := DefaultGridOptions()
	opts.WorldSize = 90
	opts.CellSize = 3
	grid, _ := BuildGrid(context.Background(), FlatTerrain(0), opts)
	if grid.Width() != 30 || grid.Height() != 30 {
		t.Fatalf("expected 30x30 grid, got %dx%d", grid.Width(), grid.Height())
	}
	for _, p := range []GridPoint{{0, 0}, {1, 28}, {15, 15}, {29, 29}} {
		if got := grid.WorldToGrid(grid.GridToWorld(p)); got != p {
			t.Fatalf("round trip mismatch: %+v -> %+v", p, got)
		}
	}
}

func TestGridBorderAlwaysUnwalkable(t *testing.T) {
	terrains := map[string]Terrain{
		"flat":    FlatTerrain(0),
		"hills":   DefaultHeightField(DefaultWorldSize),
		"failing": TerrainFunc(func(x, z float64) (float64, error) { return 0, errors.New("terrain offline") }),
		"too-low": FlatTerrain(-50),
	}
	for name, terrain := range terrains {
		t.Run(name, func(t *testing.T) {
			grid, _ := BuildGrid(context.Background(), terrain, DefaultGridOptions())
			w, h := grid.Width(), grid.Height()
			for i := 0; i < w; i++ {
				if grid.Walkable(GridPoint{X: i, Z: 0}) || grid.Walkable(GridPoint{X: i, Z: h - 1}) {
					t.Fatalf("border row cell %d walkable", i)
				}
			}
			for i := 0; i < h; i++ {
				if grid.Walkable(GridPoint{X: 0, Z: i}) || grid.Walkable(GridPoint{X: w - 1, Z: i}) {
					t.Fatalf("border column cell %d walkable", i)
				}
			}
		})
	}
}

func TestGridHeightThresholds(t *testing.T) {
	terrain := TerrainFunc(func(x, z float64) (float64, error) {
		switch {
		case x < -50:
			return 25, nil
		case x > 50:
			return -10, nil
		default:
			return 1, nil
		}
	})
	grid, report := BuildGrid(context.Background(), terrain, DefaultGridOptions())

	if grid.Walkable(grid.WorldToGrid(Vec3{X: -80})) {
		t.Fatalf("expected steep cell to be unwalkable")
	}
	if grid.Walkable(grid.WorldToGrid(Vec3{X: 80})) {
		t.Fatalf("expected submerged cell to be unwalkable")
	}
	if !grid.Walkable(grid.WorldToGrid(Vec3{X: 0})) {
		t.Fatalf("expected flat cell to be walkable")
	}
	if report.SampleFailures != 0 {
		t.Fatalf("expected no sample failures, got %d", report.SampleFailures)
	}
	if report.Walkable != grid.WalkableCount() {
		t.Fatalf("report walkable %d != grid walkable %d", report.Walkable, grid.WalkableCount())
	}
}

func TestGridFailedSamplesFailOpen(t *testing.T) {
	failing := TerrainFunc(func(x, z float64) (float64, error) {
		return 0, errors.New("terrain offline")
	})
	grid, report := BuildGrid(context.Background(), failing, DefaultGridOptions())

	if report.SampleFailures != report.Cells {
		t.Fatalf("expected every sample to fail, got %d of %d", report.SampleFailures, report.Cells)
	}
	interior := (grid.Width() - 2) * (grid.Height() - 2)
	if got := grid.WalkableCount(); got != interior {
		t.Fatalf("expected %d walkable interior cells, got %d", interior, got)
	}
	cell, ok := grid.Cell(GridPoint{X: 10, Z: 10})
	if !ok || cell.Height != DefaultFallbackHeight {
		t.Fatalf("expected fallback height, got %+v", cell)
	}
}

func TestGridPanickingTerrainIsRecovered(t *testing.T) {
	terrain := TerrainFunc(func(x, z float64) (float64, error) {
		panic("boom")
	})
	grid, report := BuildGrid(context.Background(), terrain, DefaultGridOptions())
	if report.SampleFailures != report.Cells {
		t.Fatalf("expected panics counted as failures, got %d", report.SampleFailures)
	}
	if grid.WalkableCount() == 0 {
		t.Fatalf("expected fail-open grid")
	}
}

func TestGridSetWalkableKeepsBorder(t *testing.T) {
	grid, _ := BuildGrid(context.Background(), FlatTerrain(0), DefaultGridOptions())
	grid.SetWalkable(GridPoint{X: 0, Z: 5}, true)
	if grid.Walkable(GridPoint{X: 0, Z: 5}) {
		t.Fatalf("border cell became walkable")
	}
	grid.SetWalkable(GridPoint{X: 5, Z: 5}, false)
	if grid.Walkable(GridPoint{X: 5, Z: 5}) {
		t.Fatalf("expected interior cell to be blocked")
	}
}
