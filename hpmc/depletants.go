package hpmc

import (
	"math"
	randv2 "math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// deltaFScale converts free-energy contributions to fixed-point int64
// so per-trial partial sums reduce with a plain commutative addition.
const deltaFScale = 1 << 16

// DepletantPair is one active (fugacity != 0) implicit-depletant type
// pair.
type DepletantPair struct {
	TypeI, TypeJ int
	Fugacity     float64
	NTrial       int
	idx          int // index into the symmetric pair table
}

// DepletantInserter estimates the implicit-depletant free-energy
// contribution of each trial move. Two modes exist per type pair:
// direct Poisson insertion (NTrial == 0) and the auxiliary-variable
// estimator (NTrial > 0). All random draws are keyed by (seed,
// timestep, sweep, tag, trial, ...) so re-evaluating a particle during
// a later convergence iteration replays the identical depletant
// configuration.
type DepletantInserter struct {
	pairs   []DepletantPair
	pairIdx typePairIndex
	shapes  []Shape
	seed    uint64

	// lambda[k][pair] is the Poisson mean for inserting the pair's
	// depletants into the excluded volume of a type-k particle:
	// |fugacity| times the circumsphere volume extended by the
	// depletant range. Recomputed when shapes or the type count change.
	lambda [][]float64

	// rangeByPair is the governing depletant diameter per pair, the
	// larger of the two member circumspheres.
	rangeByPair []float64
}

// NewDepletantInserter builds the inserter from the configured pairs.
// Pairs with zero fugacity are dropped.
func NewDepletantInserter(cfgs []DepletantPairConfig, shapes []Shape, seed uint64) *DepletantInserter {
	dep := &DepletantInserter{
		pairIdx: typePairIndex{ntypes: len(shapes)},
		shapes:  shapes,
		seed:    seed,
	}
	for _, c := range cfgs {
		if c.Fugacity == 0 {
			continue
		}
		dep.pairs = append(dep.pairs, DepletantPair{
			TypeI: c.TypeI, TypeJ: c.TypeJ,
			Fugacity: c.Fugacity, NTrial: c.NTrial,
			idx: dep.pairIdx.at(c.TypeI, c.TypeJ),
		})
	}
	dep.RecomputeLambdas()
	return dep
}

// Active reports whether any pair has nonzero fugacity.
func (dep *DepletantInserter) Active() bool { return len(dep.pairs) > 0 }

// RecomputeLambdas rebuilds the per-type-pair Poisson mean table. Must
// be called after shape parameters change.
func (dep *DepletantInserter) RecomputeLambdas() {
	ntypes := len(dep.shapes)
	dep.lambda = make([][]float64, ntypes)
	for k := range dep.lambda {
		dep.lambda[k] = make([]float64, dep.pairIdx.count())
	}
	dep.rangeByPair = make([]float64, dep.pairIdx.count())

	for _, p := range dep.pairs {
		depRange := math.Max(dep.shapes[p.TypeI].Diameter(), dep.shapes[p.TypeJ].Diameter())
		dep.rangeByPair[p.idx] = depRange
		for k := 0; k < ntypes; k++ {
			r := 0.5*dep.shapes[k].Diameter() + 0.5*depRange
			vol := 4.0 / 3.0 * math.Pi * r * r * r
			dep.lambda[k][p.idx] = math.Abs(p.Fugacity) * vol
		}
	}
}

// Lambda returns the Poisson mean for inserting pair (ti, tj) depletants
// around a type-k particle.
func (dep *DepletantInserter) Lambda(k, ti, tj int) float64 {
	return dep.lambda[k][dep.pairIdx.at(ti, tj)]
}

// poissonCount draws the insertion count for one keyed stream.
func poissonCount(lambda float64, k moveKey) int {
	if lambda == 0 {
		return 0
	}
	h1 := combineKey(uint64(k.stream), k.seed, k.timestep)
	h2 := combineKey(k.sweep, k.tag)
	p := distuv.Poisson{Lambda: lambda, Src: randv2.NewPCG(h1, h2)}
	return int(p.Rand())
}

// excludedRadius is the insertion sphere radius around a type-k
// particle for the given pair.
func (dep *DepletantInserter) excludedRadius(k int, pair DepletantPair) float64 {
	return 0.5*dep.shapes[k].Diameter() + 0.5*dep.rangeByPair[pair.idx]
}

// depOverlap reports whether a depletant of the pair's governing
// diameter at point pt overlaps a particle of type t at pos.
func (dep *DepletantInserter) depOverlap(box SimulationBox, pt, pos Vec3, t int, pair DepletantPair) bool {
	r := 0.5*dep.shapes[t].Diameter() + 0.5*dep.rangeByPair[pair.idx]
	d := box.MinImage(pos.Sub(pt))
	return d.Norm2() < r*r
}

// envOverlap reports whether the depletant at pt overlaps any candidate
// other than particle i and the optional host skip (the neighbor whose
// excluded region the point was sampled in), each candidate seen
// through the sequential visibility rule.
func (dep *DepletantInserter) envOverlap(box SimulationBox, pt Vec3, i, skip int, cands []int,
	pd *ParticleData, ts *TrialState, order *UpdateOrder, reject []bool, pair DepletantPair) bool {
	ri := order.Rank(i)
	for _, j := range cands {
		if j == i || j == skip {
			continue
		}
		pos, _ := envAt(j, ri, pd, ts, order, reject)
		if dep.depOverlap(box, pt, pos, pd.Particles[j].Type, pair) {
			return true
		}
	}
	return false
}

// Evaluate runs every active pair against particle i's trial move and
// reports whether depletants reject it. Counters accumulate into the
// owning device's slot only. deltaFOut, when non-nil, receives the
// auxiliary-mode estimator value per pair for inspection.
func (dep *DepletantInserter) Evaluate(box SimulationBox, i int, cands []int,
	pd *ParticleData, ts *TrialState, order *UpdateOrder, reject []bool,
	timestep uint64, sweep int, counters []ImplicitCounters, deltaFOut [][]int64) bool {
	for _, pair := range dep.pairs {
		var rejected bool
		if pair.NTrial == 0 {
			rejected = dep.evaluateDirect(box, i, cands, pd, ts, order, reject, timestep, sweep, pair, &counters[pair.idx])
		} else {
			rejected = dep.evaluateAuxiliary(box, i, cands, pd, ts, order, reject, timestep, sweep, pair, &counters[pair.idx], deltaFOut)
		}
		if rejected {
			return true
		}
	}
	return false
}

// evaluateDirect implements the standard implicit-depletant rule: draw
// Poisson-many insertion points in the excluded region of the governing
// configuration; a depletant that fits the old configuration but not
// the new one (and is not blocked by a neighbor) certifies that the
// move destroys depletant-accessible volume, and the move is rejected.
// A negative fugacity swaps old and new, turning insertion into the
// deletion ensemble.
func (dep *DepletantInserter) evaluateDirect(box SimulationBox, i int, cands []int,
	pd *ParticleData, ts *TrialState, order *UpdateOrder, reject []bool,
	timestep uint64, sweep int, pair DepletantPair, ctr *ImplicitCounters) bool {
	p := pd.Particles[i]
	lambda := dep.lambda[p.Type][pair.idx]
	n := poissonCount(lambda, moveKey{
		stream: streamDepletantCount, seed: dep.seed,
		timestep: timestep, sweep: uint64(sweep),
		tag: combineKey(p.Tag, uint64(pair.idx)),
	})
	ctr.InsertCount += uint64(n)
	if n == 0 {
		return false
	}

	rng := newKeyedRand(moveKey{
		stream: streamDepletantPlace, seed: dep.seed,
		timestep: timestep, sweep: uint64(sweep),
		tag: combineKey(p.Tag, uint64(pair.idx)),
	})
	radius := dep.excludedRadius(p.Type, pair)

	insertion := pair.Fugacity > 0
	center := ts.Position[i]
	if !insertion {
		center = p.Position
	}

	rejected := false
	for k := 0; k < n; k++ {
		pt := box.Wrap(center.Add(uniformInSphere(rng, radius)))
		overlOld := dep.depOverlap(box, pt, p.Position, p.Type, pair)
		overlNew := dep.depOverlap(box, pt, ts.Position[i], p.Type, pair)
		overlEnv := dep.envOverlap(box, pt, i, -1, cands, pd, ts, order, reject, pair)
		if !overlEnv {
			ctr.InsertAcceptCount++
		}
		if overlEnv {
			continue
		}
		if insertion {
			if overlNew && !overlOld {
				rejected = true
			}
		} else {
			if overlOld && !overlNew {
				rejected = true
			}
		}
	}
	return rejected
}

// evaluateAuxiliary implements the two-phase auxiliary-variable
// estimator. Phase 1 inserts trial depletants into particle i's own
// excluded region keyed by i's old auxiliary variable; phase 2
// re-inserts into the excluded regions of i's neighbors keyed by i's
// trial auxiliary variable. Both accumulate a signed fixed-point
// estimate of the free-energy difference, summed commutatively over the
// ntrial sub-partitions; acceptance is a Metropolis-Hastings test on
// exp(-deltaF).
func (dep *DepletantInserter) evaluateAuxiliary(box SimulationBox, i int, cands []int,
	pd *ParticleData, ts *TrialState, order *UpdateOrder, reject []bool,
	timestep uint64, sweep int, pair DepletantPair, ctr *ImplicitCounters, deltaFOut [][]int64) bool {
	p := pd.Particles[i]
	var deltaFInt int64
	for t := 0; t < pair.NTrial; t++ {
		deltaFInt += dep.phase1(box, i, t, cands, pd, ts, order, reject, timestep, sweep, pair, ctr)
		deltaFInt += dep.phase2(box, i, t, cands, pd, ts, order, reject, timestep, sweep, pair, ctr)
	}
	if deltaFOut != nil {
		deltaFOut[pair.idx][i] = deltaFInt
	}

	deltaF := float64(deltaFInt) / (deltaFScale * float64(pair.NTrial))
	u := newKeyedRand(moveKey{
		stream: streamDepletantAccept, seed: dep.seed,
		timestep: timestep, sweep: uint64(sweep),
		tag: combineKey(p.Tag, uint64(pair.idx)),
	}).Float64()
	return u >= math.Exp(-deltaF)
}

// phase1 inserts into i's own excluded region around both the old and
// the trial configuration, keyed by the old auxiliary variable. A
// depletant that fits only the old configuration raises deltaF; one
// that fits only the trial configuration lowers it.
func (dep *DepletantInserter) phase1(box SimulationBox, i, trial int, cands []int,
	pd *ParticleData, ts *TrialState, order *UpdateOrder, reject []bool,
	timestep uint64, sweep int, pair DepletantPair, ctr *ImplicitCounters) int64 {
	p := pd.Particles[i]
	lambda := dep.lambda[p.Type][pair.idx]
	radius := dep.excludedRadius(p.Type, pair)
	sign := int64(1)
	if pair.Fugacity < 0 {
		sign = -1
	}

	var acc int64
	for cfg := 0; cfg < 2; cfg++ { // 0 = old configuration, 1 = trial
		key := combineKey(p.Tag, uint64(pair.idx), uint64(trial), uint64(cfg), p.Aux)
		n := poissonCount(lambda, moveKey{
			stream: streamDepletantCount, seed: dep.seed,
			timestep: timestep, sweep: uint64(sweep), tag: key,
		})
		ctr.InsertCount += uint64(n)
		rng := newKeyedRand(moveKey{
			stream: streamDepletantPlace, seed: dep.seed,
			timestep: timestep, sweep: uint64(sweep), tag: key,
		})
		center := p.Position
		if cfg == 1 {
			center = ts.Position[i]
		}
		for k := 0; k < n; k++ {
			pt := box.Wrap(center.Add(uniformInSphere(rng, radius)))
			overlOld := dep.depOverlap(box, pt, p.Position, p.Type, pair)
			overlNew := dep.depOverlap(box, pt, ts.Position[i], p.Type, pair)
			if dep.envOverlap(box, pt, i, -1, cands, pd, ts, order, reject, pair) {
				continue
			}
			ctr.InsertAcceptCount++
			switch {
			case overlOld && !overlNew:
				acc += sign * deltaFScale
			case overlNew && !overlOld:
				acc -= sign * deltaFScale
			}
		}
	}
	return acc
}

// phase2 re-inserts into the excluded regions of i's neighbors, keyed
// by i's trial auxiliary variable. Contributions carry the opposite
// sign of phase 1 so the two phases estimate the same difference from
// both ends; writes stay owned by i's lane because the accumulator is
// i's own.
//
// Blockers are screened against i's candidate set, which is guaranteed
// to hold every particle near i's configurations but not every particle
// near a distant neighbor j. Points that straddle i's old/new shapes
// always sit inside that guarantee, so the deltaF terms are exact; the
// free-volume tally below may count an insertion near j as free when a
// blocker outside the set would cover it.
func (dep *DepletantInserter) phase2(box SimulationBox, i, trial int, cands []int,
	pd *ParticleData, ts *TrialState, order *UpdateOrder, reject []bool,
	timestep uint64, sweep int, pair DepletantPair, ctr *ImplicitCounters) int64 {
	p := pd.Particles[i]
	ri := order.Rank(i)
	sign := int64(1)
	if pair.Fugacity < 0 {
		sign = -1
	}

	var acc int64
	for _, j := range cands {
		if j == i {
			continue
		}
		q := pd.Particles[j]
		lambda := dep.lambda[q.Type][pair.idx]
		radius := dep.excludedRadius(q.Type, pair)
		key := combineKey(p.Tag, q.Tag, uint64(pair.idx), uint64(trial), ts.Aux[i])
		n := poissonCount(lambda, moveKey{
			stream: streamDepletantCount, seed: dep.seed,
			timestep: timestep, sweep: uint64(sweep), tag: key,
		})
		ctr.InsertCount += uint64(n)
		if n == 0 {
			continue
		}
		rng := newKeyedRand(moveKey{
			stream: streamDepletantPlace, seed: dep.seed,
			timestep: timestep, sweep: uint64(sweep), tag: key,
		})
		center, _ := envAt(j, ri, pd, ts, order, reject)
		for k := 0; k < n; k++ {
			pt := box.Wrap(center.Add(uniformInSphere(rng, radius)))
			overlOld := dep.depOverlap(box, pt, p.Position, p.Type, pair)
			overlNew := dep.depOverlap(box, pt, ts.Position[i], p.Type, pair)
			if dep.envOverlap(box, pt, i, j, cands, pd, ts, order, reject, pair) {
				continue
			}
			ctr.InsertAcceptCount++
			switch {
			case overlOld && !overlNew:
				acc -= sign * deltaFScale
			case overlNew && !overlOld:
				acc += sign * deltaFScale
			}
		}
	}
	return acc
}
