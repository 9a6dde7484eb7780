package hpmc

import (
	"encoding/binary"
	"hash/fnv"
	"math"
	"math/rand"
)

// Stream identifiers separate the independent random streams consumed
// during one sweep. Two draws with different streams never correlate
// even for identical (seed, timestep, sweep, tag).
type rngStream uint64

const (
	streamShuffle rngStream = iota + 1
	streamMove
	streamDepletantCount
	streamDepletantPlace
	streamDepletantAccept
	streamPatchAccept
)

// moveKey identifies one reproducible random stream. Every draw in the
// engine is keyed by (stream, seed, timestep, sweep, tag), which makes
// the result independent of execution order, lane count, and device
// count: re-deriving the stream replays the exact same values.
type moveKey struct {
	stream   rngStream
	seed     uint64
	timestep uint64
	sweep    uint64
	tag      uint64
}

// newKeyedRand derives a generator from a moveKey. The key tuple is
// hashed with FNV-1a into a seed for a plain math/rand source.
func newKeyedRand(k moveKey) *rand.Rand {
	h := fnv.New64a()
	var buf [8]byte
	for _, w := range [5]uint64{uint64(k.stream), k.seed, k.timestep, k.sweep, k.tag} {
		binary.LittleEndian.PutUint64(buf[:], w)
		h.Write(buf[:])
	}
	return rand.New(rand.NewSource(int64(h.Sum64())))
}

// combineKey folds several identifying values into one tag for keys
// that need more components than (seed, timestep, sweep, tag), such as
// per-trial depletant streams.
func combineKey(vals ...uint64) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	for _, w := range vals {
		binary.LittleEndian.PutUint64(buf[:], w)
		h.Write(buf[:])
	}
	return h.Sum64()
}

// uniformInCube draws a displacement uniformly from the cube of
// half-width d centered at the origin.
func uniformInCube(rng *rand.Rand, d float64) Vec3 {
	return Vec3{
		X: d * (2*rng.Float64() - 1),
		Y: d * (2*rng.Float64() - 1),
		Z: d * (2*rng.Float64() - 1),
	}
}

// uniformUnitVector draws a direction uniformly on the unit sphere.
func uniformUnitVector(rng *rand.Rand) Vec3 {
	z := 2*rng.Float64() - 1
	phi := 2 * math.Pi * rng.Float64()
	r := math.Sqrt(1 - z*z)
	return Vec3{X: r * math.Cos(phi), Y: r * math.Sin(phi), Z: z}
}

// uniformInSphere draws a point uniformly inside the sphere of the
// given radius centered at the origin.
func uniformInSphere(rng *rand.Rand, radius float64) Vec3 {
	v := uniformUnitVector(rng)
	r := radius * math.Cbrt(rng.Float64())
	return Vec3{X: r * v.X, Y: r * v.Y, Z: r * v.Z}
}
