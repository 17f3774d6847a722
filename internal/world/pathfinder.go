package world

import (
	"container/heap"
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"hidden-walnuts/server/logging"
	"hidden-walnuts/server/logging/navigation"
)

const (
	DefaultSearchBudget   = 50 * time.Millisecond
	DefaultRandomAttempts = 10
	budgetCheckInterval   = 64
	pathfinderRNGLabel    = "pathfinder"
)

// Fallback reasons reported in PathfinderStats and navigation events.
const (
	FallbackOutOfBounds   = "out_of_bounds"
	FallbackUnwalkable    = "unwalkable"
	FallbackTimeout       = "timeout"
	FallbackUnreachable   = "unreachable"
	FallbackInternalError = "internal_error"
	fallbackReasonCount   = 5
)

var fallbackReasons = [fallbackReasonCount]string{
	FallbackOutOfBounds,
	FallbackUnwalkable,
	FallbackTimeout,
	FallbackUnreachable,
	FallbackInternalError,
}

type navNeighbor struct {
	x int
	z int
}

var navNeighborOffsets = [...]navNeighbor{
	{x: 0, z: -1},
	{x: 1, z: 0},
	{x: 0, z: 1},
	{x: -1, z: 0},
	{x: 1, z: -1},
	{x: 1, z: 1},
	{x: -1, z: 1},
	{x: -1, z: -1},
}

// PathfinderOptions configures a Pathfinder.
type PathfinderOptions struct {
	Grid           GridOptions
	SearchBudget   time.Duration
	RandomAttempts int
	Seed           string
	Publisher      logging.Publisher
	// Clock is used for the search budget; tests substitute it.
	Clock func() time.Time
}

func (o PathfinderOptions) normalized() PathfinderOptions {
	n := o
	n.Grid = n.Grid.normalized()
	if n.SearchBudget <= 0 {
		n.SearchBudget = DefaultSearchBudget
	}
	if n.RandomAttempts <= 0 {
		n.RandomAttempts = DefaultRandomAttempts
	}
	if n.Seed == "" {
		n.Seed = DefaultSeed
	}
	if n.Publisher == nil {
		n.Publisher = logging.NopPublisher()
	}
	if n.Clock == nil {
		n.Clock = time.Now
	}
	return n
}

// Pathfinder runs A* searches over the walkability grid. FindPath,
// IsValidPosition and Rebuild are safe for concurrent use.
type Pathfinder struct {
	terrain Terrain
	opts    PathfinderOptions

	mu   sync.RWMutex
	grid *Grid

	rngMu sync.Mutex
	rng   *rand.Rand

	searches     atomic.Uint64
	found        atomic.Uint64
	partial      atomic.Uint64
	searchNanos  atomic.Int64
	fallbacks    [fallbackReasonCount]atomic.Uint64
	rebuildCount atomic.Uint64
}

// PathfinderStats reports search counters for diagnostics.
type PathfinderStats struct {
	Searches        uint64            `json:"searches"`
	Found           uint64            `json:"found"`
	Partial         uint64            `json:"partial"`
	Fallbacks       map[string]uint64 `json:"fallbacks"`
	AverageSearchMs float64           `json:"averageSearchMs"`
	Rebuilds        uint64            `json:"rebuilds"`
	GridWidth       int               `json:"gridWidth"`
	GridHeight      int               `json:"gridHeight"`
	WalkableCells   int               `json:"walkableCells"`
}

// NewPathfinder samples terrain into a fresh grid.
func NewPathfinder(ctx context.Context, terrain Terrain, opts PathfinderOptions) *Pathfinder {
	p := newPathfinder(terrain, opts)
	p.Rebuild(ctx)
	return p
}

// NewPathfinderWithGrid wraps a prebuilt grid. Rebuild still resamples the
// terrain.
func NewPathfinderWithGrid(grid *Grid, terrain Terrain, opts PathfinderOptions) *Pathfinder {
	p := newPathfinder(terrain, opts)
	p.grid = grid
	return p
}

func newPathfinder(terrain Terrain, opts PathfinderOptions) *Pathfinder {
	opts = opts.normalized()
	return &Pathfinder{
		terrain: terrain,
		opts:    opts,
		rng:     NewDeterministicRNG(opts.Seed, pathfinderRNGLabel),
	}
}

// Rebuild resamples the terrain into a new grid and swaps it in. Searches in
// flight keep using the previous grid.
func (p *Pathfinder) Rebuild(ctx context.Context) GridBuildReport {
	started := time.Now()
	grid, report := BuildGrid(ctx, p.terrain, p.opts.Grid)

	p.mu.Lock()
	p.grid = grid
	p.mu.Unlock()
	p.rebuildCount.Add(1)

	if report.SampleFailures > 0 {
		errText := ""
		if report.FirstFailure != nil {
			errText = report.FirstFailure.Error()
		}
		navigation.TerrainSampleFailed(ctx, p.opts.Publisher, navigation.TerrainSampleFailedPayload{
			Failures: report.SampleFailures,
			Error:    errText,
		}, nil)
	}
	navigation.GridBuilt(ctx, p.opts.Publisher, navigation.GridBuiltPayload{
		Width:          grid.Width(),
		Height:         grid.Height(),
		CellSize:       grid.CellSize(),
		Walkable:       report.Walkable,
		DurationMillis: time.Since(started).Milliseconds(),
	}, nil)
	return report
}

// Grid returns the current grid. The grid is immutable; callers may keep it.
func (p *Pathfinder) Grid() *Grid {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.grid
}

// FindPath returns waypoints from start to end. The result is never empty:
// when no grid path can be produced it is exactly [start, end].
func (p *Pathfinder) FindPath(start, end Vec3) (path []Vec3) {
	began := p.opts.Clock()
	p.searches.Add(1)
	defer func() {
		p.searchNanos.Add(int64(p.opts.Clock().Sub(began)))
	}()
	defer func() {
		if r := recover(); r != nil {
			path = p.fallback(start, end, FallbackInternalError, began)
		}
	}()

	if !start.Finite() || !end.Finite() {
		return p.fallback(start, end, FallbackOutOfBounds, began)
	}

	p.mu.RLock()
	grid := p.grid
	p.mu.RUnlock()
	if grid == nil {
		return p.fallback(start, end, FallbackInternalError, began)
	}

	from := grid.WorldToGrid(start)
	to := grid.WorldToGrid(end)
	if !grid.InBounds(from) || !grid.InBounds(to) {
		return p.fallback(start, end, FallbackOutOfBounds, began)
	}
	if !grid.Walkable(from) || !grid.Walkable(to) {
		return p.fallback(start, end, FallbackUnwalkable, began)
	}
	if from == to {
		p.found.Add(1)
		return []Vec3{end}
	}

	deadline := began.Add(p.opts.SearchBudget)
	nodes, result := p.search(grid, from, to, deadline)
	switch result {
	case searchFound:
		p.found.Add(1)
	case searchTimedOut:
		if len(nodes) < 2 {
			return p.fallback(start, end, FallbackTimeout, began)
		}
		p.partial.Add(1)
	default:
		return p.fallback(start, end, FallbackUnreachable, began)
	}

	path = make([]Vec3, 0, len(nodes)+1)
	path = append(path, start)
	for i := 1; i < len(nodes)-1; i++ {
		path = append(path, grid.GridToWorld(nodes[i]))
	}
	if result == searchTimedOut {
		path = append(path, grid.GridToWorld(nodes[len(nodes)-1]))
	}
	path = append(path, end)
	return p.smooth(path)
}

func (p *Pathfinder) fallback(start, end Vec3, reason string, began time.Time) []Vec3 {
	for i, name := range fallbackReasons {
		if name == reason {
			p.fallbacks[i].Add(1)
			break
		}
	}
	navigation.PathFallback(context.Background(), p.opts.Publisher, navigation.PathFallbackPayload{
		Reason:        reason,
		StartX:        start.X,
		StartZ:        start.Z,
		EndX:          end.X,
		EndZ:          end.Z,
		ElapsedMicros: p.opts.Clock().Sub(began).Microseconds(),
	}, nil)
	return []Vec3{start, end}
}

type searchResult uint8

const (
	searchExhausted searchResult = iota
	searchFound
	searchTimedOut
)

type pathNode struct {
	point  GridPoint
	g      float64
	h      float64
	f      float64
	index  int
	parent *pathNode
}

type pathQueue []*pathNode

func (pq pathQueue) Len() int { return len(pq) }

func (pq pathQueue) Less(i, j int) bool { return pq[i].f < pq[j].f }

func (pq pathQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

func (pq *pathQueue) Push(x any) {
	n := len(*pq)
	item := x.(*pathNode)
	item.index = n
	*pq = append(*pq, item)
}

func (pq *pathQueue) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*pq = old[:n-1]
	return item
}

// heuristic is Manhattan distance in world units. It overestimates the
// euclidean step costs on diagonals, so returned paths are not always the
// shortest.
func heuristic(grid *Grid, a, b GridPoint) float64 {
	dx := math.Abs(float64(a.X - b.X))
	dz := math.Abs(float64(a.Z - b.Z))
	return (dx + dz) * grid.cellSize
}

func stepCost(grid *Grid, a, b GridPoint) float64 {
	dx := float64(a.X-b.X) * grid.cellSize
	dz := float64(a.Z-b.Z) * grid.cellSize
	return math.Hypot(dx, dz)
}

func (p *Pathfinder) search(grid *Grid, start, goal GridPoint, deadline time.Time) ([]GridPoint, searchResult) {
	open := &pathQueue{}
	heap.Init(open)
	startNode := &pathNode{point: start, h: heuristic(grid, start, goal)}
	startNode.f = startNode.h
	heap.Push(open, startNode)
	gScore := map[int]float64{grid.index(start.X, start.Z): 0}
	closed := make(map[int]struct{})
	best := startNode
	expansions := 0

	for open.Len() > 0 {
		expansions++
		if expansions%budgetCheckInterval == 0 && !p.opts.Clock().Before(deadline) {
			if best == startNode {
				return nil, searchTimedOut
			}
			return reconstructPath(best), searchTimedOut
		}

		current := heap.Pop(open).(*pathNode)
		currIdx := grid.index(current.point.X, current.point.Z)
		if _, seen := closed[currIdx]; seen {
			continue
		}
		closed[currIdx] = struct{}{}
		if current.point == goal {
			return reconstructPath(current), searchFound
		}
		if current.h < best.h {
			best = current
		}

		for _, delta := range navNeighborOffsets {
			next := GridPoint{X: current.point.X + delta.x, Z: current.point.Z + delta.z}
			if !grid.Walkable(next) {
				continue
			}
			idx := grid.index(next.X, next.Z)
			if _, seen := closed[idx]; seen {
				continue
			}
			tentativeG := current.g + stepCost(grid, current.point, next)
			if prev, ok := gScore[idx]; ok && tentativeG >= prev {
				continue
			}
			gScore[idx] = tentativeG
			h := heuristic(grid, next, goal)
			heap.Push(open, &pathNode{
				point:  next,
				g:      tentativeG,
				h:      h,
				f:      tentativeG + h,
				parent: current,
			})
		}
	}
	return nil, searchExhausted
}

func reconstructPath(end *pathNode) []GridPoint {
	if end == nil {
		return nil
	}
	path := make([]GridPoint, 0)
	for node := end; node != nil; node = node.parent {
		path = append(path, node.point)
	}
	for i := 0; i < len(path)/2; i++ {
		j := len(path) - 1 - i
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// smooth replaces every interior waypoint with the average of itself and its
// neighbours, then re-samples terrain height at the new ground position.
func (p *Pathfinder) smooth(path []Vec3) []Vec3 {
	if len(path) < 3 {
		return path
	}
	out := make([]Vec3, len(path))
	out[0] = path[0]
	out[len(path)-1] = path[len(path)-1]
	for i := 1; i < len(path)-1; i++ {
		prev, cur, next := path[i-1], path[i], path[i+1]
		x := (prev.X + cur.X + next.X) / 3
		z := (prev.Z + cur.Z + next.Z) / 3
		out[i] = Vec3{X: x, Y: p.heightAt(x, z), Z: z}
	}
	return out
}

func (p *Pathfinder) heightAt(x, z float64) (height float64) {
	if p.terrain == nil {
		return p.opts.Grid.FallbackHeight
	}
	defer func() {
		if r := recover(); r != nil {
			height = p.opts.Grid.FallbackHeight
		}
	}()
	h, err := p.terrain.HeightAt(x, z)
	if err != nil || !isFinite(h) {
		return p.opts.Grid.FallbackHeight
	}
	return h
}

// IsValidPosition reports whether pos lies on a walkable cell. Any internal
// failure reports false.
func (p *Pathfinder) IsValidPosition(pos Vec3) (valid bool) {
	defer func() {
		if r := recover(); r != nil {
			valid = false
		}
	}()
	if !pos.Finite() {
		return false
	}
	grid := p.Grid()
	if grid == nil {
		return false
	}
	return grid.Walkable(grid.WorldToGrid(pos))
}

// RandomPosition samples up to RandomAttempts points within radius of center
// and returns the first valid one with its terrain height. When none is found
// it returns center unchanged.
func (p *Pathfinder) RandomPosition(center Vec3, radius float64) Vec3 {
	for attempt := 0; attempt < p.opts.RandomAttempts; attempt++ {
		p.rngMu.Lock()
		candidate := RandomPointInDisc(p.rng, center, radius)
		p.rngMu.Unlock()
		if !p.IsValidPosition(candidate) {
			continue
		}
		candidate.Y = p.heightAt(candidate.X, candidate.Z)
		return candidate
	}
	return center
}

// HeightAt samples terrain synchronously, falling back to the flat height on
// error.
func (p *Pathfinder) HeightAt(x, z float64) float64 {
	return p.heightAt(x, z)
}

// Stats reports accumulated search counters.
func (p *Pathfinder) Stats() PathfinderStats {
	stats := PathfinderStats{
		Searches:  p.searches.Load(),
		Found:     p.found.Load(),
		Partial:   p.partial.Load(),
		Fallbacks: make(map[string]uint64, fallbackReasonCount),
		Rebuilds:  p.rebuildCount.Load(),
	}
	for i, name := range fallbackReasons {
		stats.Fallbacks[name] = p.fallbacks[i].Load()
	}
	if stats.Searches > 0 {
		stats.AverageSearchMs = float64(p.searchNanos.Load()) / float64(stats.Searches) / float64(time.Millisecond)
	}
	if grid := p.Grid(); grid != nil {
		stats.GridWidth = grid.Width()
		stats.GridHeight = grid.Height()
		stats.WalkableCells = grid.WalkableCount()
	}
	return stats
}

type panicError struct {
	value any
}

func (e panicError) Error() string {
	return fmt.Sprintf("world: recovered panic: %v", e.value)
}
