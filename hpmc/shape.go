package hpmc

import "math"

// Shape is the capability interface for hard-particle geometry. One
// implementation exists per shape kind and is injected into the engine;
// the engine itself never inspects shape internals.
type Shape interface {
	// Diameter returns the circumsphere diameter, which bounds the
	// interaction range of the shape.
	Diameter() float64

	// Overlap reports whether this shape, with orientation oi, overlaps
	// other at separation rij (from this shape's center) with
	// orientation oj.
	Overlap(rij Vec3, oi Orientation, other Shape, oj Orientation) bool
}

// SphereShape is the built-in shape kind: orientation-independent hard
// spheres.
type SphereShape struct {
	Radius float64
}

func (s SphereShape) Diameter() float64 { return 2 * s.Radius }

func (s SphereShape) Overlap(rij Vec3, _ Orientation, other Shape, _ Orientation) bool {
	rsum := s.Radius + 0.5*other.Diameter()
	return rij.Norm2() < rsum*rsum
}

// OverlapMatrix gates which type pairs interact as hard particles.
// Entries default to interacting.
type OverlapMatrix struct {
	ntypes  int
	ignored map[[2]int]bool
}

// NewOverlapMatrix builds a matrix for ntypes particle types with every
// pair checked.
func NewOverlapMatrix(ntypes int) *OverlapMatrix {
	return &OverlapMatrix{ntypes: ntypes, ignored: make(map[[2]int]bool)}
}

func pairKey(a, b int) [2]int {
	if a > b {
		a, b = b, a
	}
	return [2]int{a, b}
}

// SetIgnored excludes a type pair from hard overlap checks.
func (m *OverlapMatrix) SetIgnored(a, b int, ignored bool) {
	m.ignored[pairKey(a, b)] = ignored
}

// Check reports whether the pair (a, b) participates in overlap checks.
func (m *OverlapMatrix) Check(a, b int) bool {
	return !m.ignored[pairKey(a, b)]
}

// PatchEnergy is an optional pairwise soft potential evaluated with the
// same trial/trial visibility rules as the hard overlap test. A
// non-finite energy for a pair is neutralized to zero so one
// pathological pair cannot poison the sweep.
type PatchEnergy interface {
	// Energy returns the pair energy at separation rij between types
	// ti and tj with the given orientations.
	Energy(rij Vec3, ti int, oi Orientation, tj int, oj Orientation) float64

	// RCut returns the cutoff radius beyond which Energy is zero.
	RCut() float64
}

// finiteOrZero clamps NaN and Inf pair results to a zero contribution.
func finiteOrZero(e float64) float64 {
	if math.IsNaN(e) || math.IsInf(e, 0) {
		return 0
	}
	return e
}

// typePairIndex indexes the symmetric (itype <= jtype) pair table used
// for depletant parameters. Mirrors a triangular matrix laid out row by
// row.
type typePairIndex struct {
	ntypes int
}

func (t typePairIndex) count() int { return t.ntypes * (t.ntypes + 1) / 2 }

func (t typePairIndex) at(i, j int) int {
	if i > j {
		i, j = j, i
	}
	// row-major upper triangle: offset of row i plus column within row
	return i*t.ntypes - i*(i-1)/2 + (j - i)
}
