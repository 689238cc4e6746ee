// Package progress maps absolute step counts and completed-replicate
// counts into throttled, human-readable progress updates.
package progress

import "time"

// Update is one emitted progress observation.
type Update struct {
	Percent        int
	StepsCompleted int64
	RepsCompleted  int
}

// Calculator tracks progress through R replicates of T steps each. It
// is not safe for concurrent use; the response reducer is its single
// owner for the duration of one strategy invocation.
type Calculator struct {
	stepsPerReplicate int64
	replicates        int

	sCur            int64
	rDone           int
	lastReportedPct int
	lastEmit        time.Time

	now func() time.Time
}

// NewCalculator returns a calculator for stepsPerReplicate steps across
// replicates replicates.
func NewCalculator(stepsPerReplicate int64, replicates int) *Calculator {
	return &Calculator{
		stepsPerReplicate: stepsPerReplicate,
		replicates:        replicates,
		lastReportedPct:   -1,
		now:               time.Now,
	}
}

func (c *Calculator) percent() int {
	total := c.stepsPerReplicate * int64(c.replicates)
	if total <= 0 {
		return 0
	}
	done := int64(c.rDone)*c.stepsPerReplicate + c.sCur
	return int(100 * done / total)
}

// UpdateStep records an absolute step within the current replicate
// (already normalized to start at 0 by the response reducer) and
// reports whether an update should be emitted: either the integer
// percent advanced since the last emission, or at least a second has
// elapsed since the last emission. The latter guarantees visibility
// even when the engine emits PROGRESS rarely.
func (c *Calculator) UpdateStep(sAbs int64) (Update, bool) {
	c.sCur = sAbs
	pct := c.percent()

	elapsed := c.lastEmit.IsZero() || c.now().Sub(c.lastEmit) >= time.Second
	if pct <= c.lastReportedPct && !elapsed {
		return Update{}, false
	}

	c.lastReportedPct = pct
	c.lastEmit = c.now()
	return Update{Percent: pct, StepsCompleted: c.sCur, RepsCompleted: c.rDone}, true
}

// UpdateReplicateCompleted records that replicate r has finished. It
// always emits, regardless of throttling, since a replicate boundary
// is always worth reporting.
func (c *Calculator) UpdateReplicateCompleted(r int) Update {
	c.rDone = r
	// The finished replicate's steps are now counted through rDone, so
	// they are dropped from sCur rather than counted twice.
	c.sCur = 0
	pct := c.percent()
	c.lastReportedPct = pct
	c.lastEmit = c.now()
	return Update{Percent: pct, StepsCompleted: c.sCur, RepsCompleted: c.rDone}
}

// ResetForNextReplicate zeroes the current-replicate step counter
// ahead of the next replicate's PROGRESS stream. lastReportedPct is
// preserved so the reported percentage never regresses across the
// replicate boundary.
func (c *Calculator) ResetForNextReplicate() {
	c.sCur = 0
}
