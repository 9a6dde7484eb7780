package hpmc

import (
	"context"
	"fmt"
	"math"
)

// converge iterates the per-particle reject hypothesis to a fixed
// point. Each iteration recomputes every particle's flag from the
// previous iteration's flags; a flag only ever flips from accept to
// reject, so the loop terminates after at most one iteration per local
// particle. Re-evaluations that involve randomness re-derive the same
// draws from keyed streams every iteration, so the fixed point is a
// deterministic function of the pre-sweep state.
func (it *Integrator) converge(ctx context.Context, timestep uint64, sweep int) error {
	n := it.pd.NLocal
	for iter := 0; iter <= n; iter++ {
		if err := ctx.Err(); err != nil {
			return ErrInterrupted
		}
		err := it.runWithScratchRetry(ctx, func(dev int, r Range) error {
			return it.iteratePass(dev, r, timestep, sweep)
		})
		if err != nil {
			return it.phaseErr(ctx, err)
		}

		changed := false
		for d := 0; d < it.sched.Devices(); d++ {
			changed = changed || it.devChanged[d]
		}
		it.reject, it.rejectOut = it.rejectOut, it.reject
		if !changed {
			return nil
		}
	}
	// unreachable while flags stay monotone
	return fmt.Errorf("conflict resolution failed to converge after %d iterations", n+1)
}

// iteratePass recomputes the reject flags for one device's slab against
// the previous iteration's hypothesis. It reads it.reject (all
// particles) and writes it.rejectOut (own slab only).
func (it *Integrator) iteratePass(dev int, r Range, timestep uint64, sweep int) error {
	it.devChanged[dev] = false
	// insertion tallies are per-iteration: each pass replays the same
	// keyed draws, so only the deciding iteration's counts are kept
	for p := range it.sched.implicit[dev] {
		it.sched.implicit[dev][p] = ImplicitCounters{}
	}
	for p := range it.deltaFInt {
		df := it.deltaFInt[p]
		for i := r.Begin; i < r.End; i++ {
			df[i] = 0
		}
	}
	for i := r.Begin; i < r.End; i++ {
		// carry forward prior rejections; a flag never clears within a
		// sweep, which is what bounds the iteration count
		out := it.reject[i] || it.rejectOutOfCell[i]

		if !out && it.trial.Kind[i] != moveNone {
			cands, err := it.gatherCandidates(dev, i)
			if err != nil {
				return err
			}
			if it.narrow.checkDynamic(i, cands, it.pd, it.trial, it.order, it.reject) {
				out = true
			}
			if !out && it.dep.Active() {
				if it.dep.Evaluate(it.box, i, cands, it.pd, it.trial, it.order, it.reject,
					timestep, sweep, it.sched.implicit[dev], it.deltaFInt) {
					out = true
				}
			}
			if !out && it.patch != nil && it.Config.EnablePatch {
				if it.patchReject(i, cands, timestep, sweep) {
					out = true
				}
			}
		}

		it.rejectOut[i] = out
		if out && !it.reject[i] {
			it.devChanged[dev] = true
		}
	}
	return nil
}

// patchReject applies the Metropolis criterion to the soft-interaction
// energy change of particle i's trial move. Neighbor configurations
// follow the same sequential-visibility rule as the overlap checks, and
// the comparison uniform is a fixed keyed draw so the decision is
// stable across convergence iterations. Non-finite pair energies are
// treated as zero.
func (it *Integrator) patchReject(i int, cands []int, timestep uint64, sweep int) bool {
	p := it.pd.Particles[i]
	ri := it.order.Rank(i)
	rcut := it.patch.RCut()
	rcut2 := rcut * rcut

	var deltaU float64
	for _, j := range cands {
		if j == i {
			continue
		}
		q := it.pd.Particles[j]
		posJ, ornJ := envAt(j, ri, it.pd, it.trial, it.order, it.reject)

		rijOld := it.box.MinImage(posJ.Sub(p.Position))
		if rijOld.Norm2() < rcut2 {
			deltaU -= finiteOrZero(it.patch.Energy(rijOld, p.Type, p.Orientation, q.Type, ornJ))
		}
		rijNew := it.box.MinImage(posJ.Sub(it.trial.Position[i]))
		if rijNew.Norm2() < rcut2 {
			deltaU += finiteOrZero(it.patch.Energy(rijNew, p.Type, it.trial.Orientation[i], q.Type, ornJ))
		}
	}

	rng := newKeyedRand(moveKey{
		stream: streamPatchAccept, seed: it.Config.Seed,
		timestep: timestep, sweep: uint64(sweep), tag: p.Tag,
	})
	return rng.Float64() >= math.Exp(-deltaU)
}
