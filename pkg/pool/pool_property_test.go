// Package pool property-based tests for capacity accounting and selection.
package pool

import (
	"fmt"
	"sync"
	"testing"

	"starbench/internal/model"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestProperty_LoadNeverExceedsCapacity verifies that for any sequence of
// concurrent acquire/release interleavings, no worker's load ever exceeds
// its capacity unit.
func TestProperty_LoadNeverExceedsCapacity(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)

	properties.Property("load never exceeds capacity under concurrent acquire", prop.ForAll(
		func(workerCount, capacity, sessionCount int) bool {
			p := New(Config{SuspectThreshold: 2, DeadThreshold: 4}, LeastLoaded{})
			for i := 0; i < workerCount; i++ {
				p.Register(fmt.Sprintf("tcp://w%d:9100", i), capacity, "")
			}

			var wg sync.WaitGroup
			for i := 0; i < sessionCount; i++ {
				wg.Add(1)
				go func(n int) {
					defer wg.Done()
					p.Acquire(fmt.Sprintf("sess-%d", n))
				}(i)
			}
			wg.Wait()

			total := 0
			for _, w := range p.List() {
				if w.Load > w.Capacity {
					return false
				}
				if w.Load != len(w.BoundSessions) {
					return false
				}
				total += w.Load
			}
			// Bound sessions never exceed total capacity; the rest failed
			// with ErrPoolExhausted rather than over-binding.
			return total <= workerCount*capacity
		},
		gen.IntRange(1, 5),
		gen.IntRange(1, 3),
		gen.IntRange(1, 30),
	))

	properties.TestingRun(t)
}

// TestProperty_AcquirePicksLowestRatio verifies the least-loaded heuristic
// is a pure function of the candidate set: the picked worker always has
// the minimal load/capacity ratio.
func TestProperty_AcquirePicksLowestRatio(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("acquired worker had the minimal load ratio", prop.ForAll(
		func(capacities []int) bool {
			p := New(Config{SuspectThreshold: 2, DeadThreshold: 4}, LeastLoaded{})
			for i, c := range capacities {
				p.Register(fmt.Sprintf("tcp://w%d:9100", i), c, "")
			}

			before := p.List()
			w, err := p.Acquire("sess-probe")
			if err != nil {
				return len(before) == 0
			}
			for _, other := range before {
				if other.HasCapacity() && other.LoadRatio() < ratioBefore(before, w.ID) {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(4, gen.IntRange(1, 4)),
	))

	properties.TestingRun(t)
}

func ratioBefore(workers []*model.Worker, id string) float64 {
	for _, w := range workers {
		if w.ID == id {
			return w.LoadRatio()
		}
	}
	return 1
}

// TestProperty_HealthTransitionsAreMonotonic verifies that missed probes
// only ever move a worker toward DEAD, and a single heartbeat fully
// restores a SUSPECT worker.
func TestProperty_HealthTransitionsAreMonotonic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("misses below the dead threshold never drain the worker", prop.ForAll(
		func(suspect, extra int) bool {
			dead := suspect + 1 + extra
			p := New(Config{SuspectThreshold: suspect, DeadThreshold: dead}, LeastLoaded{})
			w, _ := p.Register("tcp://w:9100", 1, "")

			for i := 0; i < dead-1; i++ {
				if _, err := p.RecordProbeFailure(w.ID); err != nil {
					return false
				}
			}
			got, ok := p.Get(w.ID)
			if !ok {
				return false
			}
			if got.MissedProbes >= suspect && got.Health != model.WorkerHealthSuspect {
				return false
			}

			// One heartbeat in SUSPECT restores HEALTHY without reaching DEAD.
			if err := p.MarkHeartbeat(w.ID); err != nil {
				return false
			}
			got, _ = p.Get(w.ID)
			return got.Health == model.WorkerHealthHealthy && got.MissedProbes == 0
		},
		gen.IntRange(1, 5),
		gen.IntRange(1, 5),
	))

	properties.TestingRun(t)
}
