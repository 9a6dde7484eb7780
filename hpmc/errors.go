package hpmc

import (
	"errors"
	"fmt"
)

// Error taxonomy for the update engine. Configuration errors abort the
// run; scratch exhaustion is recovered internally and never surfaces;
// interruption aborts with no partial sweep committed.
var (
	// ErrFatalConfiguration marks an unusable configuration, such as a
	// box smaller than twice the interaction range on a periodic axis
	// or a pinned decomposition that cannot tile the rank count.
	ErrFatalConfiguration = errors.New("fatal configuration")

	// ErrInterrupted is returned when the run context is cancelled.
	// No particle state from the current sweep has been committed.
	ErrInterrupted = errors.New("run interrupted")
)

// errScratchRetry signals that a per-device scratch buffer was too small
// for a particle's candidate set. It never escapes the convergence loop:
// the scheduler grows the buffer and reruns the iteration.
var errScratchRetry = errors.New("scratch buffer undersized")

func isScratchRetry(err error) bool { return errors.Is(err, errScratchRetry) }

func fatalConfigf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrFatalConfiguration}, args...)...)
}
