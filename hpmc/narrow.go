package hpmc

// narrowPhase performs the exact pairwise overlap tests against
// broad-phase candidates. The shape predicate and the pair interaction
// matrix are injected; the narrow phase itself is shape-agnostic.
type narrowPhase struct {
	shapes   []Shape
	overlaps *OverlapMatrix
	box      SimulationBox
}

// overlapPair tests one configured pair at the minimum-image separation.
func (np *narrowPhase) overlapPair(posI Vec3, oi Orientation, ti int, posJ Vec3, oj Orientation, tj int) bool {
	if !np.overlaps.Check(ti, tj) {
		return false
	}
	rij := np.box.MinImage(posJ.Sub(posI))
	return np.shapes[ti].Overlap(rij, oi, np.shapes[tj], oj)
}

// earlierMover reports whether candidate j's visible configuration can
// change across convergence iterations: a local particle ordered before
// rank ri whose trial is a real move. Everyone else is pinned at their
// current configuration for the whole sweep.
func earlierMover(j, ri int, pd *ParticleData, ts *TrialState, order *UpdateOrder) bool {
	return j < pd.NLocal && order.Rank(j) < ri && ts.Kind[j] != moveNone
}

// checkStatic tests particle i's trial shape against the current shape
// of every candidate. Current configurations are stable for the whole
// sweep, so this result is iteration-independent and folds into the
// static reject seed.
func (np *narrowPhase) checkStatic(i int, cands []int, pd *ParticleData, ts *TrialState) bool {
	p := pd.Particles[i]
	for _, j := range cands {
		if j == i {
			continue
		}
		q := pd.Particles[j]
		if np.overlapPair(ts.Position[i], ts.Orientation[i], p.Type, q.Position, q.Orientation, q.Type) {
			return true
		}
	}
	return false
}

// checkDynamic tests i's trial shape against the trial shape of each
// earlier-ordered moving neighbor whose own move is currently assumed
// accepted, modeling the read a sequential reference chain would
// perform. Rejected neighbors stay at their current configuration,
// which checkStatic has already tested. This is the only part of the
// overlap test that changes between convergence iterations.
func (np *narrowPhase) checkDynamic(i int, cands []int, pd *ParticleData, ts *TrialState,
	order *UpdateOrder, reject []bool) bool {
	p := pd.Particles[i]
	ri := order.Rank(i)
	for _, j := range cands {
		if j == i || !earlierMover(j, ri, pd, ts, order) || reject[j] {
			continue
		}
		if np.overlapPair(ts.Position[i], ts.Orientation[i], p.Type, ts.Position[j], ts.Orientation[j], pd.Particles[j].Type) {
			return true
		}
	}
	return false
}

// envAt returns the configuration of candidate j as seen by particle i
// under the sequential visibility rule: earlier-ordered local neighbors
// whose move is assumed accepted appear at their trial configuration,
// everyone else at their current one.
func envAt(j, rankI int, pd *ParticleData, ts *TrialState, order *UpdateOrder, reject []bool) (Vec3, Orientation) {
	if j < pd.NLocal && order.Rank(j) < rankI && !reject[j] && ts.Kind[j] != moveNone {
		return ts.Position[j], ts.Orientation[j]
	}
	q := pd.Particles[j]
	return q.Position, q.Orientation
}
