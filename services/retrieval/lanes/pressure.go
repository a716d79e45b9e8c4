// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lanes

import (
	"sync"
	"time"
)

// Gauge tracks lane executions that are currently in flight across all
// concurrent queries, so other components can observe system-wide time
// pressure. The preflight pass bypasses itself when any active lane has
// less than a quarter of its budget left.
//
// Thread Safety: Safe for concurrent use.
type Gauge struct {
	mu      sync.Mutex
	nextID  uint64
	active  map[uint64]gaugeEntry
	now     func() time.Time
}

type gaugeEntry struct {
	deadline time.Time
	budget   time.Duration
}

// NewGauge creates an empty pressure gauge.
func NewGauge() *Gauge {
	return &Gauge{
		active: make(map[uint64]gaugeEntry),
		now:    time.Now,
	}
}

// Begin registers an in-flight lane execution and returns a release
// function the caller must invoke when the lane finalizes.
func (g *Gauge) Begin(budget time.Duration) func() {
	g.mu.Lock()
	id := g.nextID
	g.nextID++
	g.active[id] = gaugeEntry{
		deadline: g.now().Add(budget),
		budget:   budget,
	}
	g.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.active, id)
			g.mu.Unlock()
		})
	}
}

// UnderPressure reports whether any active lane has less than the given
// fraction of its budget remaining.
func (g *Gauge) UnderPressure(fraction float64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	for _, e := range g.active {
		if e.budget <= 0 {
			continue
		}
		remaining := float64(e.deadline.Sub(now)) / float64(e.budget)
		if remaining < fraction {
			return true
		}
	}
	return false
}

// ActiveLanes returns the number of lane executions currently in flight.
func (g *Gauge) ActiveLanes() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.active)
}
