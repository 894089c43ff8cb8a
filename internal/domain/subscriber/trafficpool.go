package subscriber

import (
	"math/bits"
	"time"
)

// TrafficPool tracks billing-period accounting for one pool: an ever-increasing
// cumulative counter, the offset marking the start of the current period, the
// last reset timestamp, and the three warning-sent flags.
type TrafficPool struct {
	cumulative uint64
	offset     uint64
	resetAt    *time.Time
	warnSent   [3]bool
}

// ReconstructTrafficPool restores pool state from persistence.
func ReconstructTrafficPool(cumulative, offset uint64, resetAt *time.Time, warn50, warn70, warn90 bool) TrafficPool {
	return TrafficPool{
		cumulative: cumulative,
		offset:     offset,
		resetAt:    resetAt,
		warnSent:   [3]bool{warn50, warn70, warn90},
	}
}

func (p *TrafficPool) Cumulative() uint64 {
	return p.cumulative
}

func (p *TrafficPool) Offset() uint64 {
	return p.offset
}

func (p *TrafficPool) ResetAt() *time.Time {
	return p.resetAt
}

func (p *TrafficPool) WarnSent(idx int) bool {
	if idx < 0 || idx >= len(p.warnSent) {
		return false
	}
	return p.warnSent[idx]
}

// ApplyCumulative records a freshly observed fleet-wide counter sum.
// The cumulative counter is monotone: a lower observation (an unreachable node
// transiently reporting zero) never reduces it. Returns true when the counter
// advanced.
func (p *TrafficPool) ApplyCumulative(observed uint64) bool {
	if observed <= p.cumulative {
		return false
	}
	p.cumulative = observed
	return true
}

// Usage returns the current billing-period usage.
func (p *TrafficPool) Usage() uint64 {
	if p.cumulative <= p.offset {
		return 0
	}
	return p.cumulative - p.offset
}

// Reset starts a new billing period: the offset absorbs the cumulative counter
// and all warning flags are cleared.
func (p *TrafficPool) Reset(now time.Time) {
	p.offset = p.cumulative
	t := now.UTC()
	p.resetAt = &t
	p.warnSent = [3]bool{}
}

// NeedsReset reports whether the pool's billing period has elapsed.
// A pool that never reset is due immediately.
func (p *TrafficPool) NeedsReset(period time.Duration, now time.Time) bool {
	if p.resetAt == nil {
		return true
	}
	return now.Sub(*p.resetAt) >= period
}

// DaysUntilReset returns the whole days remaining in the billing period.
func (p *TrafficPool) DaysUntilReset(period time.Duration, now time.Time) int {
	if p.resetAt == nil {
		return 0
	}
	remaining := p.resetAt.Add(period).Sub(now)
	if remaining <= 0 {
		return 0
	}
	return int(remaining.Hours() / 24)
}

// CrossedThresholds returns the warning percentages newly crossed at the given
// usage against cap, marking each as sent. Once sent, a threshold is never
// returned again before the next Reset, even if usage oscillates.
func (p *TrafficPool) CrossedThresholds(cap uint64) []int {
	if cap == 0 {
		return nil
	}
	usage := p.Usage()
	var crossed []int
	for i, pct := range WarnThresholds {
		if p.warnSent[i] {
			continue
		}
		if thresholdReached(usage, uint64(pct), cap) {
			p.warnSent[i] = true
			crossed = append(crossed, pct)
		}
	}
	return crossed
}

// thresholdReached reports usage*100 >= pct*cap. Both products are taken at
// full 128-bit width so the comparison stays exact for any byte count.
func thresholdReached(usage, pct, cap uint64) bool {
	uhi, ulo := bits.Mul64(usage, 100)
	thi, tlo := bits.Mul64(pct, cap)
	if uhi != thi {
		return uhi > thi
	}
	return ulo >= tlo
}

// OverCap reports whether period usage has reached the cap.
func (p *TrafficPool) OverCap(cap uint64) bool {
	return cap > 0 && p.Usage() >= cap
}
