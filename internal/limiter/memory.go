package limiter

import (
	"context"
	"sync"
	"time"
)

// MemoryGovernor is a single-process Governor for tests and development.
type MemoryGovernor struct {
	mu       sync.Mutex
	maxSlots int
	slots    map[int]int
	events   map[string][]time.Time
	now      func() time.Time
}

func NewMemoryGovernor(maxSlots int) *MemoryGovernor {
	return &MemoryGovernor{
		maxSlots: maxSlots,
		slots:    make(map[int]int),
		events:   make(map[string][]time.Time),
		now:      time.Now,
	}
}

func (g *MemoryGovernor) TryAcquireCampaignSlot(_ context.Context, ownerID int) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.slots[ownerID] >= g.maxSlots {
		return false, nil
	}
	g.slots[ownerID]++
	return true, nil
}

func (g *MemoryGovernor) ReleaseCampaignSlot(_ context.Context, ownerID int) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.slots[ownerID] > 0 {
		g.slots[ownerID]--
	}
	return nil
}

func (g *MemoryGovernor) CheckRate(_ context.Context, key string, limit int, window time.Duration) (RateResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	windowStart := now.Add(-window)

	kept := g.events[key][:0]
	for _, at := range g.events[key] {
		if at.After(windowStart) {
			kept = append(kept, at)
		}
	}
	g.events[key] = kept

	if len(kept) >= limit {
		return RateResult{
			Allowed:   false,
			Remaining: 0,
			ResetAt:   kept[0].Add(window),
		}, nil
	}

	g.events[key] = append(kept, now)
	return RateResult{
		Allowed:   true,
		Remaining: limit - len(kept) - 1,
		ResetAt:   now.Add(window),
	}, nil
}

var _ Governor = (*MemoryGovernor)(nil)
