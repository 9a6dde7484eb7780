package hpmc

import "sync"

// Broadcaster distributes a decomposition result from a coordinating
// rank to every rank. It mirrors a collective broadcast: the root calls
// it with the value filled in, everyone else receives into it.
type Broadcaster interface {
	Broadcast(root int, res *DecompositionResult) error
}

// Communicator is the once-per-sweep collaborator that makes ghost
// particles visible and migrates particles between domains. The engine
// invokes it between sweeps only; ghosts are read-only while a sweep
// runs.
type Communicator interface {
	// Exchange refreshes ghosts and migrates out-of-domain particles.
	Exchange(pd *ParticleData) error
}

// LocalBroadcaster is the in-process Broadcaster for single-process runs
// and tests: ranks share one instance, the root publishes once and every
// receiver waits for the published value.
type LocalBroadcaster struct {
	rank int
	done chan struct{}
	res  *DecompositionResult
	once *sync.Once
}

// NewLocalBroadcaster creates broadcaster handles for nranks in-process
// ranks sharing one published value.
func NewLocalBroadcaster(nranks int) []*LocalBroadcaster {
	done := make(chan struct{})
	res := &DecompositionResult{}
	once := &sync.Once{}
	handles := make([]*LocalBroadcaster, nranks)
	for r := range handles {
		handles[r] = &LocalBroadcaster{rank: r, done: done, res: res, once: once}
	}
	return handles
}

// Broadcast implements Broadcaster.
func (b *LocalBroadcaster) Broadcast(root int, res *DecompositionResult) error {
	if b.rank == root {
		b.once.Do(func() {
			*b.res = *res
			close(b.done)
		})
		return nil
	}
	<-b.done
	*res = *b.res
	return nil
}

// NullCommunicator is the single-process Communicator: no ghosts, no
// migration.
type NullCommunicator struct{}

// Exchange implements Communicator.
func (NullCommunicator) Exchange(*ParticleData) error { return nil }
