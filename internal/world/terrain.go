package world

import (
	"context"
	"errors"
	"math"
)

// ErrOutsideTerrain is returned when a height is requested outside the
// sampled area.
var ErrOutsideTerrain = errors.New("world: position outside terrain")

// Terrain answers height queries. Height may block (for example on a remote
// terrain service) and must honour ctx; HeightAt is the synchronous variant
// used on the simulation goroutine.
type Terrain interface {
	Height(ctx context.Context, x, z float64) (float64, error)
	HeightAt(x, z float64) (float64, error)
}

// TerrainFunc adapts a pure height function into a Terrain.
type TerrainFunc func(x, z float64) (float64, error)

func (f TerrainFunc) Height(ctx context.Context, x, z float64) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return f(x, z)
}

func (f TerrainFunc) HeightAt(x, z float64) (float64, error) {
	return f(x, z)
}

// FlatTerrain reports the same height everywhere.
type FlatTerrain float64

func (t FlatTerrain) Height(ctx context.Context, x, z float64) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return float64(t), nil
}

func (t FlatTerrain) HeightAt(x, z float64) (float64, error) {
	return float64(t), nil
}

// HeightField is the procedural forest floor: rolling hills, a river channel
// running north to south and a rocky ridge along the eastern edge.
type HeightField struct {
	Size          float64
	HillAmplitude float64
	HillFrequency float64
	RiverX        float64
	RiverWidth    float64
	RiverDepth    float64
	RidgeX        float64
	RidgeHeight   float64
	RidgeWidth    float64
}

// DefaultHeightField returns the terrain used by the server when no external
// terrain service is configured.
func DefaultHeightField(size float64) HeightField {
	if size <= 0 {
		size = DefaultWorldSize
	}
	return HeightField{
		Size:          size,
		HillAmplitude: 2.5,
		HillFrequency: 0.05,
		RiverX:        -size * 0.2,
		RiverWidth:    4,
		RiverDepth:    5,
		RidgeX:        size * 0.35,
		RidgeHeight:   14,
		RidgeWidth:    6,
	}
}

func (h HeightField) sample(x, z float64) (float64, error) {
	half := h.Size / 2
	if h.Size > 0 && (math.Abs(x) > half || math.Abs(z) > half) {
		return 0, ErrOutsideTerrain
	}
	height := h.HillAmplitude * (math.Sin(x*h.HillFrequency) + math.Cos(z*h.HillFrequency*1.3)) / 2
	if h.RiverWidth > 0 {
		d := math.Abs(x - h.RiverX - 6*math.Sin(z*0.04))
		if d < h.RiverWidth {
			height -= h.RiverDepth * (1 - d/h.RiverWidth)
		}
	}
	if h.RidgeWidth > 0 {
		d := math.Abs(x - h.RidgeX)
		if d < h.RidgeWidth && math.Abs(z) < half*0.6 {
			height += h.RidgeHeight * (1 - d/h.RidgeWidth)
		}
	}
	return height, nil
}

func (h HeightField) Height(ctx context.Context, x, z float64) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return h.sample(x, z)
}

func (h HeightField) HeightAt(x, z float64) (float64, error) {
	return h.sample(x, z)
}
