package world

import (
	"hash/fnv"
	"math"
	"math/rand"
)

// DefaultSeed is used when no seed is configured.
const DefaultSeed = "hidden-walnuts"

func DeterministicSeedValue(rootSeed, label string) int64 {
	hasher := fnv.New64a()
	hasher.Write([]byte(rootSeed))
	hasher.Write([]byte{0})
	hasher.Write([]byte(label))
	sum := hasher.Sum64()
	if sum == 0 {
		sum = 1
	}
	return int64(sum)
}

// NewDeterministicRNG derives an independent stream for a subsystem label so
// that adding consumers in one subsystem never shifts another's sequence.
func NewDeterministicRNG(rootSeed, label string) *rand.Rand {
	seedValue := DeterministicSeedValue(rootSeed, label)
	return rand.New(rand.NewSource(seedValue))
}

func RandomFloat(rng *rand.Rand) float64 {
	if rng == nil {
		return rand.New(rand.NewSource(DeterministicSeedValue(DefaultSeed, "world"))).Float64()
	}
	return rng.Float64()
}

func RandomAngle(rng *rand.Rand) float64 {
	return RandomFloat(rng) * 2 * math.Pi
}

func RandomDistance(rng *rand.Rand, min, max float64) float64 {
	if max <= min {
		return min
	}
	return min + RandomFloat(rng)*(max-min)
}

// RandomPointInDisc samples a point uniformly over the disc of the given
// radius around center. The returned Y equals center.Y.
func RandomPointInDisc(rng *rand.Rand, center Vec3, radius float64) Vec3 {
	if radius <= 0 {
		return center
	}
	r := radius * math.Sqrt(RandomFloat(rng))
	theta := RandomAngle(rng)
	return Vec3{
		X: center.X + r*math.Cos(theta),
		Y: center.Y,
		Z: center.Z + r*math.Sin(theta),
	}
}
