package hpmc

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/num/quat"
)

// Orientation is a rotation stored as a unit quaternion (W, X, Y, Z).
type Orientation struct {
	W, X, Y, Z float64
}

// IdentityOrientation is the null rotation.
var IdentityOrientation = Orientation{W: 1}

// rotateBy applies an axis-angle rotation to o. Used only to perturb
// orientations for rotation moves; shape-specific geometry stays behind
// the Shape interface.
func (o Orientation) rotateBy(axis Vec3, angle float64) Orientation {
	sin, cos := math.Sincos(0.5 * angle)
	q := quat.Mul(
		quat.Number{Real: cos, Imag: sin * axis.X, Jmag: sin * axis.Y, Kmag: sin * axis.Z},
		quat.Number{Real: o.W, Imag: o.X, Jmag: o.Y, Kmag: o.Z},
	)
	return Orientation{W: q.Real, X: q.Imag, Y: q.Jmag, Z: q.Kmag}
}

// Particle is one simulation particle. Position and Orientation are
// mutated only by the Updater commit at the end of a sweep; everything
// else reads them through stable snapshots.
type Particle struct {
	Position    Vec3
	Orientation Orientation
	Type        int
	Tag         uint64
	Ghost       bool

	// Aux is the auxiliary variable for the ntrial depletant estimator:
	// an RNG key component that travels with the accepted configuration
	// so depletant patterns can be re-generated exactly.
	Aux uint64
}

// ParticleData owns the particle collection and the tag -> index lookup.
// Local particles occupy indices [0, NLocal); ghosts copied in by the
// communicator follow and are read-only for the duration of a sweep.
type ParticleData struct {
	Particles []Particle
	NLocal    int
	tagIndex  map[uint64]int
}

// NewParticleData builds a collection from local particles. Tags must be
// unique.
func NewParticleData(local []Particle) (*ParticleData, error) {
	pd := &ParticleData{
		Particles: local,
		NLocal:    len(local),
		tagIndex:  make(map[uint64]int, len(local)),
	}
	for i, p := range local {
		if _, dup := pd.tagIndex[p.Tag]; dup {
			return nil, fmt.Errorf("duplicate particle tag %d", p.Tag)
		}
		pd.tagIndex[p.Tag] = i
	}
	return pd, nil
}

// IndexOf returns the current index of the particle with the given tag.
func (pd *ParticleData) IndexOf(tag uint64) (int, bool) {
	i, ok := pd.tagIndex[tag]
	return i, ok
}

// SetGhosts replaces the ghost slab after the local particles. Ghosts
// are assumed present and immutable for the whole sweep.
func (pd *ParticleData) SetGhosts(ghosts []Particle) {
	pd.Particles = pd.Particles[:pd.NLocal]
	for i := range ghosts {
		ghosts[i].Ghost = true
	}
	pd.Particles = append(pd.Particles, ghosts...)
}

// moveKind tags the type of trial move drawn for a particle.
type moveKind uint8

const (
	moveNone moveKind = iota
	moveTranslate
	moveRotate
)

// TrialState is the per-sweep shadow configuration: one proposed
// position/orientation/auxiliary variable per local particle. Owned by
// the proposer; read concurrently by the resolver, the depletant
// inserter and the updater within a sweep.
type TrialState struct {
	Position    []Vec3
	Orientation []Orientation
	Aux         []uint64 // auxiliary variable for ntrial depletant sampling
	Kind        []moveKind
}

// NewTrialState allocates trial buffers for n local particles.
func NewTrialState(n int) *TrialState {
	return &TrialState{
		Position:    make([]Vec3, n),
		Orientation: make([]Orientation, n),
		Aux:         make([]uint64, n),
		Kind:        make([]moveKind, n),
	}
}

// Resize grows the trial buffers to hold n particles.
func (ts *TrialState) Resize(n int) {
	if n <= len(ts.Position) {
		return
	}
	*ts = *NewTrialState(n)
}
