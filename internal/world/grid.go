package world

import (
	"context"
	"math"
)

const (
	DefaultWorldSize         = 200.0
	DefaultCellSize          = 2.0
	DefaultMaxWalkableHeight = 10.0
	DefaultMinWalkableHeight = -2.0
	DefaultFallbackHeight    = 0.0
)

// GridOptions controls how terrain is discretised.
type GridOptions struct {
	WorldSize         float64
	CellSize          float64
	MaxWalkableHeight float64
	MinWalkableHeight float64
	FallbackHeight    float64
}

// DefaultGridOptions covers the 200x200 forest with 2-unit cells.
func DefaultGridOptions() GridOptions {
	return GridOptions{
		WorldSize:         DefaultWorldSize,
		CellSize:          DefaultCellSize,
		MaxWalkableHeight: DefaultMaxWalkableHeight,
		MinWalkableHeight: DefaultMinWalkableHeight,
		FallbackHeight:    DefaultFallbackHeight,
	}
}

func (o GridOptions) normalized() GridOptions {
	n := o
	if n.WorldSize <= 0 {
		n.WorldSize = DefaultWorldSize
	}
	if n.CellSize <= 0 {
		n.CellSize = DefaultCellSize
	}
	if n.MaxWalkableHeight <= n.MinWalkableHeight {
		n.MaxWalkableHeight = DefaultMaxWalkableHeight
		n.MinWalkableHeight = DefaultMinWalkableHeight
	}
	return n
}

// GridCell is one discretised terrain cell.
type GridCell struct {
	Walkable bool
	Height   float64
}

// GridPoint addresses a cell by column (X) and row (Z).
type GridPoint struct {
	X int `json:"x"`
	Z int `json:"z"`
}

// Grid is the walkability grid over a square world centered at the origin.
// A Grid is immutable once built; rebuilding produces a new Grid.
type Grid struct {
	width     int
	height    int
	cellSize  float64
	worldSize float64
	cells     []GridCell
}

// GridBuildReport summarises a build for logging.
type GridBuildReport struct {
	Cells          int
	Walkable       int
	SampleFailures int
	FirstFailure   error
}

// BuildGrid samples terrain at every cell center. Cells whose height sample
// fails are treated as walkable at the fallback height. The outermost ring of
// cells is always unwalkable.
func BuildGrid(ctx context.Context, terrain Terrain, opts GridOptions) (*Grid, GridBuildReport) {
	opts = opts.normalized()
	n := int(math.Floor(opts.WorldSize / opts.CellSize))
	if n < 1 {
		n = 1
	}
	g := &Grid{
		width:     n,
		height:    n,
		cellSize:  opts.CellSize,
		worldSize: opts.WorldSize,
		cells:     make([]GridCell, n*n),
	}
	report := GridBuildReport{Cells: n * n}

	for z := 0; z < g.height; z++ {
		for x := 0; x < g.width; x++ {
			center := g.GridToWorld(GridPoint{X: x, Z: z})
			height, err := sampleHeight(ctx, terrain, center.X, center.Z)
			cell := GridCell{Walkable: true, Height: height}
			if err != nil {
				report.SampleFailures++
				if report.FirstFailure == nil {
					report.FirstFailure = err
				}
				cell.Height = opts.FallbackHeight
			} else if height > opts.MaxWalkableHeight || height < opts.MinWalkableHeight {
				cell.Walkable = false
			}
			g.cells[g.index(x, z)] = cell
		}
	}

	for i := 0; i < g.width; i++ {
		g.cells[g.index(i, 0)].Walkable = false
		g.cells[g.index(i, g.height-1)].Walkable = false
	}
	for i := 0; i < g.height; i++ {
		g.cells[g.index(0, i)].Walkable = false
		g.cells[g.index(g.width-1, i)].Walkable = false
	}

	for _, cell := range g.cells {
		if cell.Walkable {
			report.Walkable++
		}
	}
	return g, report
}

func sampleHeight(ctx context.Context, terrain Terrain, x, z float64) (height float64, err error) {
	if terrain == nil {
		return 0, ErrOutsideTerrain
	}
	defer func() {
		if r := recover(); r != nil {
			height = 0
			err = panicError{value: r}
		}
	}()
	height, err = terrain.Height(ctx, x, z)
	if err == nil && !isFinite(height) {
		return 0, ErrOutsideTerrain
	}
	return height, err
}

func (g *Grid) Width() int         { return g.width }
func (g *Grid) Height() int        { return g.height }
func (g *Grid) CellSize() float64  { return g.cellSize }
func (g *Grid) WorldSize() float64 { return g.worldSize }

func (g *Grid) index(x, z int) int {
	return z*g.width + x
}

// InBounds reports whether p addresses a cell of the grid.
func (g *Grid) InBounds(p GridPoint) bool {
	return g != nil && p.X >= 0 && p.Z >= 0 && p.X < g.width && p.Z < g.height
}

// Walkable reports whether p is inside the grid and passable.
func (g *Grid) Walkable(p GridPoint) bool {
	if !g.InBounds(p) {
		return false
	}
	return g.cells[g.index(p.X, p.Z)].Walkable
}

// Cell returns the cell at p.
func (g *Grid) Cell(p GridPoint) (GridCell, bool) {
	if !g.InBounds(p) {
		return GridCell{}, false
	}
	return g.cells[g.index(p.X, p.Z)], true
}

// WorldToGrid maps a world position to the cell containing it. The result may
// be out of bounds; callers check with InBounds.
func (g *Grid) WorldToGrid(pos Vec3) GridPoint {
	half := g.worldSize / 2
	return GridPoint{
		X: int(math.Floor((pos.X + half) / g.cellSize)),
		Z: int(math.Floor((pos.Z + half) / g.cellSize)),
	}
}

// GridToWorld returns the world-space center of a cell. Y is the cached
// terrain height for in-bounds cells and zero otherwise.
func (g *Grid) GridToWorld(p GridPoint) Vec3 {
	half := g.worldSize / 2
	pos := Vec3{
		X: float64(p.X)*g.cellSize - half + g.cellSize/2,
		Z: float64(p.Z)*g.cellSize - half + g.cellSize/2,
	}
	if g.InBounds(p) && len(g.cells) == g.width*g.height {
		pos.Y = g.cells[g.index(p.X, p.Z)].Height
	}
	return pos
}

// WalkableCount returns the number of passable cells.
func (g *Grid) WalkableCount() int {
	if g == nil {
		return 0
	}
	count := 0
	for _, cell := range g.cells {
		if cell.Walkable {
			count++
		}
	}
	return count
}

// SetWalkable overrides a single cell for building fixtures. Border cells stay
// unwalkable. It must not be called on a grid shared with a Pathfinder.
func (g *Grid) SetWalkable(p GridPoint, walkable bool) {
	if !g.InBounds(p) {
		return
	}
	if walkable && g.onBorder(p) {
		return
	}
	g.cells[g.index(p.X, p.Z)].Walkable = walkable
}

func (g *Grid) onBorder(p GridPoint) bool {
	return p.X == 0 || p.Z == 0 || p.X == g.width-1 || p.Z == g.height-1
}
