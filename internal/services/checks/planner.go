package checks

import "time"

// Backoff grows exponentially from the config's own interval and is
// capped at backoffCapFactor times that interval, so one flaky case
// never stalls for days but still eases off a struggling source.
const backoffCapFactor = 8

type Planner struct{}

func NewPlanner() *Planner { return &Planner{} }

// NextCheckDelay is the steady-state delay after a successful check.
func (p *Planner) NextCheckDelay(intervalMinutes int) time.Duration {
	if intervalMinutes <= 0 {
		intervalMinutes = 60
	}
	return time.Duration(intervalMinutes) * time.Minute
}

// BackoffDelay is the delay after the nextFailCount-th consecutive
// failure: 2x, 4x, 8x the interval, then flat at the cap.
func (p *Planner) BackoffDelay(intervalMinutes int, nextFailCount int32) time.Duration {
	interval := p.NextCheckDelay(intervalMinutes)
	if nextFailCount < 1 {
		nextFailCount = 1
	}
	factor := time.Duration(1) << nextFailCount
	if factor > backoffCapFactor {
		factor = backoffCapFactor
	}
	return interval * factor
}
