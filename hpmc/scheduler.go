package hpmc

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Range is a contiguous slab of local particle indices owned by one
// compute unit.
type Range struct {
	Begin, End int
}

// Len returns the number of particles in the range.
func (r Range) Len() int { return r.End - r.Begin }

// deviceScratch is the per-device arena: candidate buffers for the
// narrow phase and depletant loops, plus the reported length when a
// particle's candidate set outgrows the buffer. Scratch is indexed by
// device id only; no lane ever touches another device's arena.
type deviceScratch struct {
	candidates []int
	reqLen     int
}

// DeviceScheduler splits local particles into contiguous ranges, one
// per compute unit, and runs each phase of a sweep as a fan-out of
// goroutines. The Wait at the end of each phase is the explicit
// synchronization event: no lane starts phase k+1 before every lane has
// finished its phase k writes.
type DeviceScheduler struct {
	ndev     int
	ranges   []Range
	counters []MoveCounters
	implicit [][]ImplicitCounters
	scratch  []deviceScratch
}

// NewDeviceScheduler creates a scheduler for ndev compute units and
// npairs depletant type pairs. ndev < 1 takes one unit per available
// CPU.
func NewDeviceScheduler(ndev, npairs int) *DeviceScheduler {
	if ndev < 1 {
		ndev = runtime.GOMAXPROCS(0)
	}
	s := &DeviceScheduler{
		ndev:     ndev,
		ranges:   make([]Range, ndev),
		counters: make([]MoveCounters, ndev),
		implicit: make([][]ImplicitCounters, ndev),
		scratch:  make([]deviceScratch, ndev),
	}
	for i := range s.implicit {
		s.implicit[i] = make([]ImplicitCounters, npairs)
	}
	return s
}

// Partition assigns n local particles to the devices in contiguous
// slabs. Remainder particles go to the leading devices so no range
// differs in size by more than one.
func (s *DeviceScheduler) Partition(n int) {
	per := n / s.ndev
	rem := n % s.ndev
	begin := 0
	for d := 0; d < s.ndev; d++ {
		size := per
		if d < rem {
			size++
		}
		s.ranges[d] = Range{Begin: begin, End: begin + size}
		begin += size
	}
}

// Devices returns the number of compute units.
func (s *DeviceScheduler) Devices() int { return s.ndev }

// RangeOf returns device d's index range.
func (s *DeviceScheduler) RangeOf(d int) Range { return s.ranges[d] }

// RunPhase executes fn once per device on its range. It returns the
// first error; ctx cancellation surfaces as ErrInterrupted from the
// caller. All devices have completed when RunPhase returns.
func (s *DeviceScheduler) RunPhase(ctx context.Context, fn func(dev int, r Range) error) error {
	g, _ := errgroup.WithContext(ctx)
	for d := 0; d < s.ndev; d++ {
		dev := d
		g.Go(func() error {
			return fn(dev, s.ranges[dev])
		})
	}
	return g.Wait()
}

// growScratch ensures device dev's candidate buffer holds at least n
// entries.
func (s *DeviceScheduler) growScratch(dev, n int) {
	if cap(s.scratch[dev].candidates) < n {
		s.scratch[dev].candidates = make([]int, 0, n)
	}
}

// ReduceCounters folds per-device counters into process-wide totals and
// resets the per-device accumulators. Called once per sweep.
func (s *DeviceScheduler) ReduceCounters(total *MoveCounters, implicit []ImplicitCounters) {
	for d := 0; d < s.ndev; d++ {
		total.Add(s.counters[d])
		s.counters[d].Reset()
		for pair := range implicit {
			implicit[pair].Add(s.implicit[d][pair])
			s.implicit[d][pair] = ImplicitCounters{}
		}
	}
}
