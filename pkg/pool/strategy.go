package pool

import (
	"starbench/internal/model"
)

// Strategy picks the worker a new session is placed on. Candidates are
// already filtered to healthy workers with spare capacity; the strategy
// only ranks them. Implementations must not mutate the candidates.
type Strategy interface {
	Name() string
	Pick(candidates []*model.Worker) *model.Worker
}

// LeastLoaded selects the worker with the lowest load/capacity ratio,
// breaking ties by earliest registration time so warmup cost spreads
// across the oldest workers first.
type LeastLoaded struct{}

func (LeastLoaded) Name() string {
	return "least_loaded"
}

func (LeastLoaded) Pick(candidates []*model.Worker) *model.Worker {
	var best *model.Worker
	for _, w := range candidates {
		if best == nil {
			best = w
			continue
		}
		if w.LoadRatio() < best.LoadRatio() {
			best = w
			continue
		}
		if w.LoadRatio() == best.LoadRatio() && w.RegisteredAt.Before(best.RegisteredAt) {
			best = w
		}
	}
	return best
}
