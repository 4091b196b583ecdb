package pipeline

import (
	"time"

	"github.com/lifestream/lifestream/internal/jobstate"
)

// stageTimer accumulates per-stage wall-clock milliseconds. It is not safe
// for concurrent use: branch goroutines keep their own timer and the main
// goroutine merges the results after the join.
type stageTimer struct {
	timings jobstate.Timings
}

func newStageTimer() *stageTimer {
	return &stageTimer{timings: jobstate.Timings{}}
}

// track runs fn and records its duration under stage, including on failure
// so a failure report still shows where the time went.
func (t *stageTimer) track(stage string, fn func() error) error {
	started := time.Now()
	err := fn()
	t.timings[stage] = time.Since(started).Milliseconds()
	return err
}

// merge folds another timing set into this one.
func (t *stageTimer) merge(other jobstate.Timings) {
	t.timings = t.timings.Merge(other)
}

// snapshot returns a copy of the accumulated timings.
func (t *stageTimer) snapshot() jobstate.Timings {
	return t.timings.Merge(nil)
}
