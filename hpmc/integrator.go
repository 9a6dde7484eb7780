package hpmc

import (
	"context"
	"math"

	"github.com/sirupsen/logrus"
)

// Integrator is the parallel conflict-resolving Monte Carlo update
// engine. Each call to Update advances the configuration by nselect
// sweeps, reproducing the accept/reject outcome of a strictly
// sequential reference chain while evaluating all trial moves
// concurrently across compute units.
type Integrator struct {
	Config *RunConfig

	pd       *ParticleData
	shapes   []Shape
	narrow   *narrowPhase
	patch    PatchEnergy
	broad    BroadPhase
	comm     Communicator
	sched    *DeviceScheduler
	dep      *DepletantInserter
	proposer *MoveProposer

	box        SimulationBox // global box
	localBox   SimulationBox
	domainMode bool

	order *UpdateOrder
	trial *TrialState

	// per-sweep flags; reject flips false->true at most once per sweep
	rejectOutOfCell []bool
	reject          []bool
	rejectOut       []bool
	devChanged      []bool

	// deltaFInt[pair][i] holds the auxiliary-mode estimator for the
	// current convergence iteration; written only by i's owning device.
	deltaFInt [][]int64

	// maxLen bounds the per-device candidate scratch; grown on demand
	// when a particle's dependency chain outruns it.
	maxLen int

	// process-wide totals, reduced from per-device counters once per
	// sweep
	Counters MoveCounters
	Implicit []ImplicitCounters

	nominalWidth float64
}

// IntegratorOption customizes construction.
type IntegratorOption func(*Integrator)

// WithPatch injects a soft-potential evaluator.
func WithPatch(p PatchEnergy) IntegratorOption {
	return func(it *Integrator) { it.patch = p }
}

// WithCommunicator injects the once-per-sweep ghost/migration
// collaborator.
func WithCommunicator(c Communicator) IntegratorOption {
	return func(it *Integrator) { it.comm = c }
}

// WithBroadPhase replaces the default cell list.
func WithBroadPhase(b BroadPhase) IntegratorOption {
	return func(it *Integrator) { it.broad = b }
}

// WithLocalBox puts the integrator in domain-decomposition mode with
// the given sub-box of the global box.
func WithLocalBox(local SimulationBox) IntegratorOption {
	return func(it *Integrator) {
		it.localBox = local
		it.domainMode = true
	}
}

// WithOverlapMatrix replaces the default all-pairs-interact matrix.
func WithOverlapMatrix(m *OverlapMatrix) IntegratorOption {
	return func(it *Integrator) { it.narrow.overlaps = m }
}

// NewIntegrator validates the configuration and assembles the engine.
// shapes holds one injected Shape per particle type.
func NewIntegrator(cfg *RunConfig, pd *ParticleData, shapes []Shape, box SimulationBox, opts ...IntegratorOption) (*Integrator, error) {
	if err := cfg.validate(len(shapes)); err != nil {
		return nil, err
	}

	it := &Integrator{
		Config: cfg,
		pd:     pd,
		shapes: shapes,
		narrow: &narrowPhase{shapes: shapes, overlaps: NewOverlapMatrix(len(shapes)), box: box},
		comm:   NullCommunicator{},
		box:    box,
		order:  NewUpdateOrder(pd.NLocal),
		trial:  NewTrialState(pd.NLocal),
		maxLen: 64,
	}
	for _, opt := range opts {
		opt(it)
	}
	if !it.domainMode {
		it.localBox = box
	}

	it.dep = NewDepletantInserter(cfg.Depletants, shapes, cfg.Seed)
	it.Implicit = make([]ImplicitCounters, it.dep.pairIdx.count())
	it.deltaFInt = make([][]int64, it.dep.pairIdx.count())
	for p := range it.deltaFInt {
		it.deltaFInt[p] = make([]int64, pd.NLocal)
	}

	it.proposer = NewMoveProposer(cfg.Moves.D, cfg.Moves.A, cfg.MoveRatioOrDefault(), cfg.Seed)

	it.nominalWidth = it.computeNominalWidth()
	if err := it.checkBox(); err != nil {
		return nil, err
	}

	if it.broad == nil {
		it.broad = NewCellList(it.nominalWidth)
	}

	it.sched = NewDeviceScheduler(cfg.Device.Devices, it.dep.pairIdx.count())
	it.devChanged = make([]bool, it.sched.Devices())
	it.growFlags(pd.NLocal)
	return it, nil
}

// computeNominalWidth is the interaction range the broad phase must
// cover: the largest circumsphere extended by the largest depletant
// range, the patch cutoff, and the largest translation. Particles are
// binned at their current positions, so the extra displacement term is
// what keeps every reachable trial-trial pair inside adjacent cells.
func (it *Integrator) computeNominalWidth() float64 {
	maxDiam := 0.0
	for _, s := range it.shapes {
		maxDiam = math.Max(maxDiam, s.Diameter())
	}
	depExtra := 0.0
	for _, r := range it.dep.rangeByPair {
		depExtra = math.Max(depExtra, r)
	}
	maxD := 0.0
	for _, d := range it.Config.Moves.D {
		maxD = math.Max(maxD, d)
	}
	w := maxDiam + depExtra + maxD
	if it.patch != nil && it.Config.EnablePatch {
		w = math.Max(w, it.patch.RCut())
	}
	return w
}

// checkBox enforces the minimum-image convention: each periodic axis of
// the global box must exceed twice the interaction range.
func (it *Integrator) checkBox() error {
	ls := [3]float64{it.box.L.X, it.box.L.Y, it.box.L.Z}
	for ax := 0; ax < 3; ax++ {
		if it.box.Periodic[ax] && ls[ax] <= 2*it.nominalWidth {
			return fatalConfigf("box length %v on axis %d too small for interaction range %v (need > %v)",
				ls[ax], ax, it.nominalWidth, 2*it.nominalWidth)
		}
	}
	return nil
}

func (it *Integrator) growFlags(n int) {
	if len(it.reject) >= n {
		return
	}
	it.rejectOutOfCell = make([]bool, n)
	it.reject = make([]bool, n)
	it.rejectOut = make([]bool, n)
	for p := range it.deltaFInt {
		it.deltaFInt[p] = make([]int64, n)
	}
}

// Update advances the configuration by one timestep: nselect sweeps,
// each proposing one trial move per local particle, resolving conflicts
// to a fixed point and committing the survivors. On cancellation no
// state from the interrupted sweep has been committed.
func (it *Integrator) Update(ctx context.Context, timestep uint64) error {
	n := it.pd.NLocal
	if n == 0 {
		return nil
	}
	it.order.Resize(n)
	it.trial.Resize(n)
	it.growFlags(n)
	it.sched.Partition(n)

	for sweep := 0; sweep < it.Config.NSelect; sweep++ {
		if err := ctx.Err(); err != nil {
			return ErrInterrupted
		}
		if err := it.comm.Exchange(it.pd); err != nil {
			return err
		}
		it.broad.Rebuild(it.box, it.pd.Particles)
		it.order.Shuffle(it.Config.Seed, timestep, sweep)

		if err := it.runSweep(ctx, timestep, sweep); err != nil {
			return err
		}
		it.sched.ReduceCounters(&it.Counters, it.Implicit)
		logrus.Debugf("timestep %d sweep %d: %d local particles, order reversed=%v",
			timestep, sweep, n, it.order.Reversed())
	}
	return nil
}

func (it *Integrator) runSweep(ctx context.Context, timestep uint64, sweep int) error {
	// propose one trial move per particle
	err := it.sched.RunPhase(ctx, func(dev int, r Range) error {
		it.proposer.Propose(it.pd, it.trial, it.box, it.localBox, it.domainMode,
			timestep, sweep, r, it.rejectOutOfCell)
		return nil
	})
	if err != nil {
		return it.phaseErr(ctx, err)
	}

	// static narrow phase: trial vs current, order-independent, folds
	// into the static reject seed for the whole sweep
	err = it.runWithScratchRetry(ctx, func(dev int, r Range) error {
		for i := r.Begin; i < r.End; i++ {
			if it.rejectOutOfCell[i] {
				continue
			}
			cands, err := it.gatherCandidates(dev, i)
			if err != nil {
				return err
			}
			if it.narrow.checkStatic(i, cands, it.pd, it.trial) {
				it.rejectOutOfCell[i] = true
			}
		}
		return nil
	})
	if err != nil {
		return it.phaseErr(ctx, err)
	}

	// seed the hypothesis and iterate to the fixed point
	for i := 0; i < it.pd.NLocal; i++ {
		it.reject[i] = it.rejectOutOfCell[i]
		it.rejectOut[i] = false
	}
	if err := it.converge(ctx, timestep, sweep); err != nil {
		return err
	}

	// commit accepted moves and tally counters
	err = it.sched.RunPhase(ctx, func(dev int, r Range) error {
		it.commitRange(dev, r)
		return nil
	})
	return it.phaseErr(ctx, err)
}

// commitRange applies accepted trial moves for one device's slab. Only
// this phase mutates particle state.
func (it *Integrator) commitRange(dev int, r Range) {
	ctr := &it.sched.counters[dev]
	for i := r.Begin; i < r.End; i++ {
		accepted := !it.reject[i]
		switch it.trial.Kind[i] {
		case moveTranslate:
			ctr.TranslateAttempt++
			if accepted {
				ctr.TranslateAccept++
			}
		case moveRotate:
			ctr.RotateAttempt++
			if accepted {
				ctr.RotateAccept++
			}
		}
		if accepted {
			p := &it.pd.Particles[i]
			p.Position = it.trial.Position[i]
			p.Orientation = it.trial.Orientation[i]
			p.Aux = it.trial.Aux[i]
		}
	}
}

// phaseErr maps context cancellation surfaced by a phase into the
// engine's error taxonomy.
func (it *Integrator) phaseErr(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ErrInterrupted
	}
	return err
}

// gatherCandidates collects the broad-phase candidates around particle
// i's current and trial configurations into device dev's scratch
// buffer, deduplicated. Exceeding the shared scratch budget reports the
// required length and asks for an iteration rerun.
func (it *Integrator) gatherCandidates(dev, i int) ([]int, error) {
	sc := &it.sched.scratch[dev]
	buf := sc.candidates[:0]
	buf = it.broad.Candidates(it.pd.Particles[i].Position, buf)
	buf = it.broad.Candidates(it.trial.Position[i], buf)

	// dedupe in place; candidate sets are small
	uniq := buf[:0]
	for _, v := range buf {
		dup := false
		for _, u := range uniq {
			if u == v {
				dup = true
				break
			}
		}
		if !dup {
			uniq = append(uniq, v)
		}
	}
	sc.candidates = uniq
	if len(uniq) > it.maxLen {
		sc.reqLen = len(uniq)
		return nil, errScratchRetry
	}
	return uniq, nil
}

// runWithScratchRetry executes a phase, growing the candidate scratch
// and rerunning when any device reports an undersized buffer. No move
// decisions are lost across a rerun. Growth is bounded by memory: the
// retry loop always terminates because maxLen only grows.
func (it *Integrator) runWithScratchRetry(ctx context.Context, fn func(dev int, r Range) error) error {
	for {
		err := it.sched.RunPhase(ctx, fn)
		if err == nil {
			return nil
		}
		if !isScratchRetry(err) {
			return err
		}
		req := it.maxLen
		for d := range it.sched.scratch {
			if it.sched.scratch[d].reqLen > req {
				req = it.sched.scratch[d].reqLen
			}
			it.sched.scratch[d].reqLen = 0
		}
		logrus.Warnf("growing candidate scratch %d -> %d", it.maxLen, req)
		it.maxLen = req
		for d := range it.sched.scratch {
			it.sched.growScratch(d, req)
		}
	}
}
