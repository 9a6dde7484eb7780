package hpmc

// UpdateOrder is the deterministic particle evaluation order for a
// sweep. It holds the identity permutation 0..N-1 and its point
// reversal; Shuffle picks one of the two with equal probability from a
// keyed stream, which is what gives the sweep detailed balance without
// the cost of a full random permutation.
type UpdateOrder struct {
	forward  []int
	reverse  []int
	reversed bool
}

// NewUpdateOrder builds the order for n particles.
func NewUpdateOrder(n int) *UpdateOrder {
	o := &UpdateOrder{}
	o.Resize(n)
	return o
}

// Resize re-derives both permutations for n particles and resets the
// orientation to forward.
func (o *UpdateOrder) Resize(n int) {
	if n == len(o.forward) {
		return
	}
	o.forward = make([]int, n)
	o.reverse = make([]int, n)
	for i := 0; i < n; i++ {
		o.forward[i] = i
		o.reverse[i] = n - i - 1
	}
	o.reversed = false
}

// Shuffle selects forward or reversed order for this sweep with
// probability 1/2 each, keyed by (seed, timestep, sweep).
func (o *UpdateOrder) Shuffle(seed, timestep uint64, sweep int) {
	rng := newKeyedRand(moveKey{stream: streamShuffle, seed: seed, timestep: timestep, sweep: uint64(sweep)})
	o.reversed = rng.Intn(2) == 1
}

// SetReversed forces the orientation. Tests use this to check order
// irrelevance directly.
func (o *UpdateOrder) SetReversed(rev bool) { o.reversed = rev }

// Reversed reports whether the reverse permutation is active.
func (o *UpdateOrder) Reversed() bool { return o.reversed }

// At returns the particle index evaluated at position i of the order.
func (o *UpdateOrder) At(i int) int {
	if o.reversed {
		return o.reverse[i]
	}
	return o.forward[i]
}

// Rank returns the position of particle index idx in the active order.
// Both permutations are involutions of the index line, so the rank is
// computable without an inverse table.
func (o *UpdateOrder) Rank(idx int) int {
	if o.reversed {
		return len(o.forward) - idx - 1
	}
	return idx
}

// Len returns the number of particles in the order.
func (o *UpdateOrder) Len() int { return len(o.forward) }
