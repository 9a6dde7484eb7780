// Tracks per-device and process-wide move and insertion statistics.

package hpmc

import (
	"fmt"
	"time"
)

// MoveCounters accumulates trial move outcomes. One instance exists per
// compute unit; Add folds them into the process-wide total once per
// sweep.
type MoveCounters struct {
	TranslateAttempt uint64
	TranslateAccept  uint64
	RotateAttempt    uint64
	RotateAccept     uint64
}

// Add accumulates o into c.
func (c *MoveCounters) Add(o MoveCounters) {
	c.TranslateAttempt += o.TranslateAttempt
	c.TranslateAccept += o.TranslateAccept
	c.RotateAttempt += o.RotateAttempt
	c.RotateAccept += o.RotateAccept
}

// Reset zeroes the counters.
func (c *MoveCounters) Reset() { *c = MoveCounters{} }

// TranslateAcceptance returns the accepted fraction of translate moves.
func (c *MoveCounters) TranslateAcceptance() float64 {
	if c.TranslateAttempt == 0 {
		return 0
	}
	return float64(c.TranslateAccept) / float64(c.TranslateAttempt)
}

// RotateAcceptance returns the accepted fraction of rotate moves.
func (c *MoveCounters) RotateAcceptance() float64 {
	if c.RotateAttempt == 0 {
		return 0
	}
	return float64(c.RotateAccept) / float64(c.RotateAttempt)
}

// ImplicitCounters accumulates depletant insertion statistics for one
// type pair.
type ImplicitCounters struct {
	InsertCount       uint64 // attempted depletant insertions
	// InsertAcceptCount tallies insertions that landed in free volume.
	// Slightly optimistic in the auxiliary mode's neighbor re-insertion
	// phase, where blockers far from the moving particle are not
	// enumerated; the deltaF estimator itself is exact.
	InsertAcceptCount uint64
}

// Add accumulates o into c.
func (c *ImplicitCounters) Add(o ImplicitCounters) {
	c.InsertCount += o.InsertCount
	c.InsertAcceptCount += o.InsertAcceptCount
}

// Print displays aggregated counters at the end of a run.
func PrintCounters(moves MoveCounters, implicit []ImplicitCounters, elapsed time.Duration) {
	fmt.Println("=== HPMC Counters ===")
	fmt.Printf("Wall time            : %v\n", elapsed.Round(time.Millisecond))
	fmt.Printf("Translate            : %d/%d accepted (%.4f)\n",
		moves.TranslateAccept, moves.TranslateAttempt, moves.TranslateAcceptance())
	fmt.Printf("Rotate               : %d/%d accepted (%.4f)\n",
		moves.RotateAccept, moves.RotateAttempt, moves.RotateAcceptance())
	for pair, ic := range implicit {
		if ic.InsertCount == 0 {
			continue
		}
		fmt.Printf("Depletant pair %-6d: %d insertions, %d in free volume\n",
			pair, ic.InsertCount, ic.InsertAcceptCount)
	}
}
