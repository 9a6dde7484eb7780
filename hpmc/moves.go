package hpmc

// MoveProposer draws one candidate move per local particle per sweep.
// Every draw comes from a stream keyed by (seed, timestep, sweep, tag),
// so the proposal for a particle is the same no matter which lane or
// device evaluates it, or in what order.
type MoveProposer struct {
	d         []float64 // per-type translation cube half-width
	a         []float64 // per-type rotation angle
	moveRatio float64
	seed      uint64
}

// NewMoveProposer builds a proposer from per-type move sizes. An empty
// rotation table disables rotate moves entirely.
func NewMoveProposer(d, a []float64, moveRatio float64, seed uint64) *MoveProposer {
	return &MoveProposer{d: d, a: a, moveRatio: moveRatio, seed: seed}
}

// Propose fills the trial state for particles in r and seeds
// rejectOutOfCell with the static geometric infeasibility: in
// decomposition mode a trial that leaves the owning sub-box cannot be
// accepted this sweep (the particle migrates between sweeps instead).
func (mp *MoveProposer) Propose(pd *ParticleData, ts *TrialState, box, localBox SimulationBox,
	domainMode bool, timestep uint64, sweep int, r Range, rejectOutOfCell []bool) {
	for i := r.Begin; i < r.End; i++ {
		p := &pd.Particles[i]
		rng := newKeyedRand(moveKey{
			stream: streamMove, seed: mp.seed,
			timestep: timestep, sweep: uint64(sweep), tag: p.Tag,
		})

		translate := len(mp.a) == 0 || mp.a[p.Type] == 0 || rng.Float64() < mp.moveRatio
		if translate {
			ts.Position[i] = box.Wrap(p.Position.Add(uniformInCube(rng, mp.d[p.Type])))
			ts.Orientation[i] = p.Orientation
			ts.Kind[i] = moveTranslate
		} else {
			axis := uniformUnitVector(rng)
			angle := mp.a[p.Type] * (2*rng.Float64() - 1)
			ts.Position[i] = p.Position
			ts.Orientation[i] = p.Orientation.rotateBy(axis, angle)
			ts.Kind[i] = moveRotate
		}
		// fresh auxiliary variable for the trial configuration
		ts.Aux[i] = rng.Uint64()

		rejectOutOfCell[i] = domainMode && !localBox.Contains(ts.Position[i])
	}
}
