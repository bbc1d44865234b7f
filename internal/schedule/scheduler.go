// Package schedule computes the jittered inter-message delays that keep a
// campaign's sending pace human-like, and the wall-clock budget that bounds
// how long one batch invocation may run.
package schedule

import (
	"fmt"
	"math/rand"
	"time"
)

// Global safety envelope for delay bounds. Caller-supplied bounds are
// clamped into this range at campaign-start time no matter what was asked
// for.
const (
	FloorMs   = 1000
	CeilingMs = 600000
)

// ValidateBounds rejects nonsensical delay configuration before a campaign
// starts. Bounds outside the envelope are not an error; they get clamped.
func ValidateBounds(minMs, maxMs int) error {
	if minMs < 0 || maxMs < 0 {
		return fmt.Errorf("delay bounds must be non-negative, got [%d,%d]", minMs, maxMs)
	}
	if minMs > maxMs {
		return fmt.Errorf("min delay %dms exceeds max delay %dms", minMs, maxMs)
	}
	return nil
}

// ClampBounds forces delay bounds into the global safety envelope.
func ClampBounds(minMs, maxMs int) (int, int) {
	minMs = clamp(minMs, FloorMs, CeilingMs)
	maxMs = clamp(maxMs, FloorMs, CeilingMs)
	if minMs > maxMs {
		maxMs = minMs
	}
	return minMs, maxMs
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// NextDelay returns a uniform-random delay in [minMs, maxMs] inclusive.
func NextDelay(minMs, maxMs int) time.Duration {
	if maxMs < minMs {
		minMs, maxMs = maxMs, minMs
	}
	ms := minMs + rand.Intn(maxMs-minMs+1)
	return time.Duration(ms) * time.Millisecond
}

// BudgetExceeded reports whether an invocation that started at startedAt
// has used up its wall-clock budget as of now. The batch loop must check
// this before each send, not only after, because sending itself can be
// slow.
func BudgetExceeded(startedAt, now time.Time, budget time.Duration) bool {
	return now.Sub(startedAt) >= budget
}
