// Package hpmc implements a parallel hard-particle Monte Carlo update
// engine: per-sweep trial moves for every particle, resolved against a
// sequential reference order by iterating a reject hypothesis to a
// fixed point.
//
// # Reading Guide
//
// Start with these three files to understand the update kernel:
//   - moves.go: one keyed trial move per particle per sweep
//   - narrow.go: overlap tests under the sequential visibility rule
//   - convergence.go: the fixed-point iteration over reject flags
//
// # Architecture
//
// integrator.go orchestrates a sweep as a series of synchronous phases
// fanned out over compute units by scheduler.go: propose, static
// overlap pass, convergence iterations, commit. Every random draw is
// keyed by (stream, seed, timestep, sweep, tag) in rng.go, which makes
// outcomes independent of lane and device count.
//
// # Key Interfaces
//
// The extension points are small interfaces:
//   - Shape: hard-particle geometry (diameter, pairwise overlap)
//   - PatchEnergy: optional soft pair potential with a cutoff
//   - BroadPhase: candidate neighbor enumeration (cell list by default)
//   - Communicator / Broadcaster: domain-decomposition collectives
//
// Implicit depletants (depletants.go) and spatial domain decomposition
// (domain.go) are optional layers over the same kernel.
package hpmc
