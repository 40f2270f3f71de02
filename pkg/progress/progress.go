// Package progress turns elapsed wait time into a plausible percentage,
// calibrated by how long the previous call took.
package progress

import (
	"time"

	"go.uber.org/atomic"
)

const (
	DefaultResponseTime = 60 * time.Second
	MaxProgress         = 95.0
)

// Estimator tracks the last observed response time. It is safe for
// concurrent use.
type Estimator struct {
	last *atomic.Duration
	now  func() time.Time
}

func NewEstimator() *Estimator {
	return &Estimator{
		last: atomic.NewDuration(DefaultResponseTime),
		now:  time.Now,
	}
}

// RecordLatency stores end-start as the last response time. Non-positive
// durations are ignored.
func (e *Estimator) RecordLatency(start, end time.Time) {
	if d := end.Sub(start); d > 0 {
		e.last.Store(d)
	}
}

func (e *Estimator) LastResponseTime() time.Duration {
	return e.last.Load()
}

// EstimateProgress returns a percentage in [0, MaxProgress].
func (e *Estimator) EstimateProgress(waitStart time.Time) float64 {
	last := e.last.Load()
	if last <= 0 {
		last = DefaultResponseTime
	}

	pct := 100 * float64(e.now().Sub(waitStart)) / float64(last)
	if pct < 0 {
		return 0
	}
	if pct > MaxProgress {
		return MaxProgress
	}
	return pct
}
