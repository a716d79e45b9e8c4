// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package provider

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock drives the breaker's injectable clock.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(cfg BreakerConfig) (*Breaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	b := NewBreaker("test.provider", cfg)
	b.now = clock.now
	return b, clock
}

// TestBreaker_OpensAfterThreshold verifies five failures in the window
// flip the breaker open and calls are skipped.
func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(BreakerConfig{FailureThreshold: 5, Window: 30 * time.Second, Cooldown: 60 * time.Second})

	for i := 0; i < 4; i++ {
		b.RecordFailure(failureGeneric, false)
		assert.Equal(t, StateClosed, b.State(), "breaker must stay closed below threshold")
	}

	b.RecordFailure(failureGeneric, false)
	require.Equal(t, StateOpen, b.State())

	proceed, probe := b.Allow()
	assert.False(t, proceed, "open breaker must skip calls without I/O")
	assert.False(t, probe)
}

// TestBreaker_WindowExpiry verifies stale failures age out of the rolling
// window.
func TestBreaker_WindowExpiry(t *testing.T) {
	b, clock := newTestBreaker(BreakerConfig{FailureThreshold: 5, Window: 30 * time.Second, Cooldown: 60 * time.Second})

	for i := 0; i < 4; i++ {
		b.RecordFailure(failureGeneric, false)
	}
	clock.advance(31 * time.Second)

	// Only one failure inside the window now.
	b.RecordFailure(failureGeneric, false)
	assert.Equal(t, StateClosed, b.State(), "aged-out failures must not count")
}

// TestBreaker_HalfOpenProbeSuccess verifies the probe path back to closed.
func TestBreaker_HalfOpenProbeSuccess(t *testing.T) {
	b, clock := newTestBreaker(BreakerConfig{FailureThreshold: 2, Window: 30 * time.Second, Cooldown: 60 * time.Second})

	b.RecordFailure(failureGeneric, false)
	b.RecordFailure(failureGeneric, false)
	require.Equal(t, StateOpen, b.State())

	// Still cooling down.
	proceed, _ := b.Allow()
	assert.False(t, proceed)

	clock.advance(61 * time.Second)

	// Exactly one probe slot.
	proceed, probe := b.Allow()
	require.True(t, proceed)
	require.True(t, probe)

	second, _ := b.Allow()
	assert.False(t, second, "only one trial call is allowed in half-open")

	b.RecordSuccess(true)
	assert.Equal(t, StateClosed, b.State(), "successful probe must close the breaker")

	proceed, probe = b.Allow()
	assert.True(t, proceed)
	assert.False(t, probe)
}

// TestBreaker_HalfOpenProbeFailure verifies a failed probe restarts the
// cooldown.
func TestBreaker_HalfOpenProbeFailure(t *testing.T) {
	b, clock := newTestBreaker(BreakerConfig{FailureThreshold: 2, Window: 30 * time.Second, Cooldown: 60 * time.Second})

	b.RecordFailure(failureGeneric, false)
	b.RecordFailure(failureGeneric, false)
	clock.advance(61 * time.Second)

	proceed, probe := b.Allow()
	require.True(t, proceed)
	require.True(t, probe)

	b.RecordFailure(failureGeneric, true)
	assert.Equal(t, StateOpen, b.State())

	// Cooldown restarted: even a moment later nothing proceeds.
	clock.advance(30 * time.Second)
	proceed, _ = b.Allow()
	assert.False(t, proceed, "failed probe must restart the full cooldown")

	clock.advance(31 * time.Second)
	proceed, probe = b.Allow()
	assert.True(t, proceed)
	assert.True(t, probe)
}

// TestBreaker_AuthLatches verifies auth failures open immediately with no
// automatic half-open retry.
func TestBreaker_AuthLatches(t *testing.T) {
	b, clock := newTestBreaker(BreakerConfig{FailureThreshold: 5, Window: 30 * time.Second, Cooldown: 60 * time.Second})

	b.RecordFailure(failureAuth, false)
	require.Equal(t, StateOpen, b.State())
	assert.True(t, b.AuthLatched())

	// No cooldown ever reopens an auth-latched breaker.
	clock.advance(24 * time.Hour)
	proceed, _ := b.Allow()
	assert.False(t, proceed, "auth latch must survive any cooldown")

	// Only a credentials refresh clears it.
	b.Reset()
	assert.False(t, b.AuthLatched())
	assert.Equal(t, StateClosed, b.State())
	proceed, _ = b.Allow()
	assert.True(t, proceed)
}

// TestRegistry_SharedPerProvider verifies lazy creation returns the same
// breaker for the same name.
func TestRegistry_SharedPerProvider(t *testing.T) {
	r := NewRegistry(DefaultBreakerConfig())

	a := r.Get("web.brave")
	b := r.Get("web.brave")
	c := r.Get("news.newsapi")

	assert.Same(t, a, b, "same provider must share one breaker across queries")
	assert.NotSame(t, a, c)
}

// TestRegistry_OnCredentialsRefresh verifies only auth-latched breakers
// reset; ordinary open breakers keep their cooldown.
func TestRegistry_OnCredentialsRefresh(t *testing.T) {
	r := NewRegistry(BreakerConfig{FailureThreshold: 1, Window: 30 * time.Second, Cooldown: time.Hour})

	authBroken := r.Get("web.brave")
	authBroken.RecordFailure(failureAuth, false)

	netBroken := r.Get("news.newsapi")
	netBroken.RecordFailure(failureGeneric, false)
	require.Equal(t, StateOpen, netBroken.State())

	r.OnCredentialsRefresh()

	assert.Equal(t, StateClosed, authBroken.State(), "auth-latched breaker must reset on refresh")
	assert.Equal(t, StateOpen, netBroken.State(), "ordinary failures keep their cooldown")
}

// TestRegistry_Snapshot verifies the health snapshot reflects state.
func TestRegistry_Snapshot(t *testing.T) {
	r := NewRegistry(BreakerConfig{FailureThreshold: 1, Window: 30 * time.Second, Cooldown: time.Hour})
	r.Get("markets.influx").RecordFailure(failureAuth, false)
	r.Get("markets.yahoo")

	statuses := r.Snapshot()
	require.Len(t, statuses, 2)

	byName := map[string]BreakerStatus{}
	for _, s := range statuses {
		byName[s.Provider] = s
	}
	assert.Equal(t, "open", byName["markets.influx"].State)
	assert.True(t, byName["markets.influx"].AuthLatched)
	assert.Equal(t, "closed", byName["markets.yahoo"].State)
}

// TestBreaker_StateChangeHook verifies every distinct transition is
// reported: closed to open, open to half-open, half-open to closed.
func TestBreaker_StateChangeHook(t *testing.T) {
	var transitions []string
	cfg := BreakerConfig{
		FailureThreshold: 2,
		Window:           30 * time.Second,
		Cooldown:         60 * time.Second,
		OnStateChange: func(provider string, to BreakerState) {
			transitions = append(transitions, provider+":"+to.String())
		},
	}
	b, clock := newTestBreaker(cfg)

	b.RecordFailure(failureGeneric, false)
	b.RecordFailure(failureGeneric, false)
	assert.Equal(t, []string{"test.provider:open"}, transitions)

	clock.advance(61 * time.Second)
	proceed, probe := b.Allow()
	require.True(t, proceed)
	require.True(t, probe)
	assert.Equal(t, []string{"test.provider:open", "test.provider:half_open"}, transitions)

	b.RecordSuccess(true)
	assert.Equal(t, []string{
		"test.provider:open",
		"test.provider:half_open",
		"test.provider:closed",
	}, transitions)
}
