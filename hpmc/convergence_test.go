package hpmc

import (
	"context"
	"testing"
)

// newTestIntegrator builds a single-type hard-sphere integrator around
// explicit particle positions.
func newTestIntegrator(t *testing.T, cfg *RunConfig, box SimulationBox, positions ...Vec3) *Integrator {
	t.Helper()
	particles := make([]Particle, len(positions))
	for i, pos := range positions {
		particles[i] = Particle{Position: pos, Orientation: IdentityOrientation, Tag: uint64(i)}
	}
	pd, err := NewParticleData(particles)
	if err != nil {
		t.Fatal(err)
	}
	it, err := NewIntegrator(cfg, pd, []Shape{SphereShape{Radius: 0.5}}, box)
	if err != nil {
		t.Fatalf("NewIntegrator: %v", err)
	}
	return it
}

// prepareSweep puts the integrator in the state runSweep would have
// right before convergence: order and buffers sized, broad phase built,
// reject seeded from the static flags.
func prepareSweep(it *Integrator) {
	n := it.pd.NLocal
	it.order.Resize(n)
	it.trial.Resize(n)
	it.growFlags(n)
	it.sched.Partition(n)
	it.broad.Rebuild(it.box, it.pd.Particles)
	for i := 0; i < n; i++ {
		it.reject[i] = it.rejectOutOfCell[i]
		it.rejectOut[i] = false
	}
}

func basicConfig() *RunConfig {
	return &RunConfig{Seed: 42, NSelect: 1, Moves: MoveConfig{D: []float64{0.1}}}
}

func TestConverge_TwoConflictingTrialsLaterOneLoses(t *testing.T) {
	// GIVEN two spheres whose trials land on the same spot between them
	box := NewCubicBox(10)
	cfg := basicConfig()
	cfg.Moves.D = []float64{1}
	it := newTestIntegrator(t, cfg, box, Vec3{X: 4, Y: 5, Z: 5}, Vec3{X: 6, Y: 5, Z: 5})
	prepareSweep(it)
	it.trial.Position[0] = Vec3{X: 4.9, Y: 5, Z: 5}
	it.trial.Position[1] = Vec3{X: 5.1, Y: 5, Z: 5}
	it.trial.Orientation[0] = IdentityOrientation
	it.trial.Orientation[1] = IdentityOrientation
	it.trial.Kind[0] = moveTranslate
	it.trial.Kind[1] = moveTranslate

	// WHEN the conflict is resolved in forward order
	if err := it.converge(context.Background(), 0, 0); err != nil {
		t.Fatalf("converge: %v", err)
	}

	// THEN the earlier-ordered particle wins
	if it.reject[0] {
		t.Error("particle 0 is first in order and must keep its move")
	}
	if !it.reject[1] {
		t.Error("particle 1 must lose the conflict with 0")
	}
}

func TestConverge_ReversedOrderFlipsWinner(t *testing.T) {
	box := NewCubicBox(10)
	cfg := basicConfig()
	cfg.Moves.D = []float64{1}
	it := newTestIntegrator(t, cfg, box, Vec3{X: 4, Y: 5, Z: 5}, Vec3{X: 6, Y: 5, Z: 5})
	prepareSweep(it)
	it.order.SetReversed(true)
	it.trial.Position[0] = Vec3{X: 4.9, Y: 5, Z: 5}
	it.trial.Position[1] = Vec3{X: 5.1, Y: 5, Z: 5}
	it.trial.Kind[0] = moveTranslate
	it.trial.Kind[1] = moveTranslate

	if err := it.converge(context.Background(), 0, 0); err != nil {
		t.Fatalf("converge: %v", err)
	}

	if !it.reject[0] || it.reject[1] {
		t.Errorf("reversed order: want reject={true false}, got {%v %v}", it.reject[0], it.reject[1])
	}
}

func TestConverge_RejectionIsKeptWhenBlockerLosesToo(t *testing.T) {
	// GIVEN a three-link chain of trial/trial conflicts: 1's trial lands
	// on 0's trial and 2's trial lands on 1's trial, with every trial
	// clear of every current position. The first iteration rejects both
	// 1 and 2; the second iteration no longer sees 1's trial blocking 2,
	// but 2's flag must not clear again.
	box := NewCubicBox(20)
	cfg := basicConfig()
	cfg.Moves.D = []float64{1.5}
	it := newTestIntegrator(t, cfg, box,
		Vec3{X: 2, Y: 5, Z: 5},
		Vec3{X: 5, Y: 5, Z: 5},
		Vec3{X: 3.9, Y: 7.5, Z: 5},
	)
	prepareSweep(it)
	it.trial.Position[0] = Vec3{X: 3.4, Y: 5, Z: 5}
	it.trial.Position[1] = Vec3{X: 3.9, Y: 5.6, Z: 5} // onto 0's trial
	it.trial.Position[2] = Vec3{X: 3.9, Y: 6.5, Z: 5} // onto 1's trial only
	for i := 0; i < 3; i++ {
		it.trial.Orientation[i] = IdentityOrientation
		it.trial.Kind[i] = moveTranslate
	}

	if err := it.converge(context.Background(), 0, 0); err != nil {
		t.Fatalf("converge: %v", err)
	}

	// THEN the earliest particle keeps its move and both downstream
	// flags stay set: reject never reverts within a sweep
	if it.reject[0] {
		t.Error("particle 0 has no earlier conflicts and must keep its move")
	}
	if !it.reject[1] {
		t.Error("particle 1 must lose the trial conflict with 0")
	}
	if !it.reject[2] {
		t.Error("particle 2 was rejected against 1's trial and must stay rejected")
	}
}

func TestConverge_PatchRejectionAppearsAfterNeighborReverts(t *testing.T) {
	// GIVEN three spheres and a strongly repulsive square well: 1's
	// trial lands on 0's trial, and 2's trial is inside the well of 1's
	// current position but outside the well of 1's trial. While 1 is
	// assumed accepted, 2 sees no energy change; only once 1 reverts to
	// its current position does 2's move become uphill.
	box := NewCubicBox(20)
	cfg := basicConfig()
	cfg.Moves.D = []float64{2}
	cfg.EnablePatch = true
	particles := []Particle{
		{Position: Vec3{X: 4, Y: 6, Z: 6}, Orientation: IdentityOrientation, Tag: 0},
		{Position: Vec3{X: 7.5, Y: 6, Z: 6}, Orientation: IdentityOrientation, Tag: 1},
		{Position: Vec3{X: 8.4, Y: 9.2, Z: 6}, Orientation: IdentityOrientation, Tag: 2},
	}
	pd, err := NewParticleData(particles)
	if err != nil {
		t.Fatal(err)
	}
	it, err := NewIntegrator(cfg, pd, []Shape{SphereShape{Radius: 0.5}}, box,
		WithPatch(repulsivePatch{rcut: 2.0, energy: 500}))
	if err != nil {
		t.Fatal(err)
	}
	prepareSweep(it)
	it.trial.Position[0] = Vec3{X: 5.4, Y: 6, Z: 6}
	it.trial.Position[1] = Vec3{X: 6, Y: 6, Z: 6}   // onto 0's trial
	it.trial.Position[2] = Vec3{X: 8.4, Y: 7.2, Z: 6} // near 1's current only
	for i := 0; i < 3; i++ {
		it.trial.Orientation[i] = IdentityOrientation
		it.trial.Kind[i] = moveTranslate
	}

	// WHEN running one pass by hand
	err = it.runWithScratchRetry(context.Background(), func(dev int, r Range) error {
		return it.iteratePass(dev, r, 0, 0)
	})
	if err != nil {
		t.Fatal(err)
	}

	// THEN the first iteration settles only the hard conflict
	if it.rejectOut[0] || !it.rejectOut[1] || it.rejectOut[2] {
		t.Fatalf("after one iteration: reject = {%v %v %v}, want {false true false}",
			it.rejectOut[0], it.rejectOut[1], it.rejectOut[2])
	}

	// AND the full fixed point picks up 2's rejection in a later
	// iteration, once 1's reverted position raises 2's energy
	it.reject, it.rejectOut = it.rejectOut, it.reject
	if err := it.converge(context.Background(), 0, 0); err != nil {
		t.Fatalf("converge: %v", err)
	}
	if it.reject[0] || !it.reject[1] || !it.reject[2] {
		t.Errorf("converged: reject = {%v %v %v}, want {false true true}",
			it.reject[0], it.reject[1], it.reject[2])
	}
}

func TestConverge_RejectFlagsAreMonotone(t *testing.T) {
	// GIVEN a crowded random-ish configuration with large trial moves
	box := NewCubicBox(6)
	positions := []Vec3{
		{X: 1, Y: 1, Z: 1}, {X: 2.2, Y: 1, Z: 1}, {X: 3.4, Y: 1, Z: 1},
		{X: 1, Y: 2.2, Z: 1}, {X: 2.2, Y: 2.2, Z: 1}, {X: 3.4, Y: 2.2, Z: 1},
	}
	cfg := basicConfig()
	cfg.Moves.D = []float64{0.6}
	it := newTestIntegrator(t, cfg, box, positions...)
	prepareSweep(it)
	mp := NewMoveProposer([]float64{0.6}, nil, 0.5, 42)
	mp.Propose(it.pd, it.trial, box, box, false, 0, 0, Range{End: 6}, it.rejectOutOfCell)
	for i := 0; i < 6; i++ {
		it.reject[i] = it.rejectOutOfCell[i]
	}

	// WHEN iterating manually, tracking flags across iterations
	prev := make([]bool, 6)
	copy(prev, it.reject)
	for iter := 0; iter < 7; iter++ {
		err := it.runWithScratchRetry(context.Background(), func(dev int, r Range) error {
			return it.iteratePass(dev, r, 0, 0)
		})
		if err != nil {
			t.Fatalf("iteration %d: %v", iter, err)
		}
		// THEN no flag ever clears
		for i := 0; i < 6; i++ {
			if prev[i] && !it.rejectOut[i] {
				t.Fatalf("iteration %d: reject[%d] flipped true -> false", iter, i)
			}
		}
		it.reject, it.rejectOut = it.rejectOut, it.reject
		copy(prev, it.reject)
	}
}

func TestConverge_DeterministicAcrossDeviceCounts(t *testing.T) {
	// GIVEN identical systems resolved with 1 and 4 devices
	box := NewCubicBox(6)
	positions := []Vec3{
		{X: 1, Y: 1, Z: 1}, {X: 2.2, Y: 1, Z: 1}, {X: 3.4, Y: 1, Z: 1},
		{X: 1, Y: 2.2, Z: 1}, {X: 2.2, Y: 2.2, Z: 1}, {X: 3.4, Y: 2.2, Z: 1},
	}
	run := func(devices int) []bool {
		cfg := basicConfig()
		cfg.Moves.D = []float64{0.6}
		cfg.Device.Devices = devices
		it := newTestIntegrator(t, cfg, box, positions...)
		prepareSweep(it)
		mp := NewMoveProposer([]float64{0.6}, nil, 0.5, 42)
		mp.Propose(it.pd, it.trial, box, box, false, 0, 0, Range{End: 6}, it.rejectOutOfCell)
		for i := 0; i < 6; i++ {
			it.reject[i] = it.rejectOutOfCell[i]
		}
		if err := it.converge(context.Background(), 0, 0); err != nil {
			t.Fatalf("converge with %d devices: %v", devices, err)
		}
		out := make([]bool, 6)
		copy(out, it.reject)
		return out
	}

	r1 := run(1)
	r4 := run(4)

	for i := range r1 {
		if r1[i] != r4[i] {
			t.Errorf("particle %d: reject differs between 1 and 4 devices", i)
		}
	}
}

func TestConverge_CancelledContextInterrupts(t *testing.T) {
	box := NewCubicBox(10)
	it := newTestIntegrator(t, basicConfig(), box, Vec3{X: 5, Y: 5, Z: 5})
	prepareSweep(it)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := it.converge(ctx, 0, 0); err != ErrInterrupted {
		t.Errorf("converge on cancelled context: got %v, want ErrInterrupted", err)
	}
}
