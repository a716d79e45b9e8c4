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
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// =============================================================================
// Breaker State
// =============================================================================

// BreakerState is the circuit breaker state for one provider.
type BreakerState int32

const (
	// StateClosed is the default: calls proceed, failures are counted.
	StateClosed BreakerState = iota
	// StateOpen skips all calls until the cooldown elapses.
	StateOpen
	// StateHalfOpen allows exactly one trial call.
	StateHalfOpen
)

// String returns the wire representation of the state.
func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// =============================================================================
// Configuration
// =============================================================================

// BreakerConfig configures the per-provider circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of failures within Window that opens
	// the breaker. Default: 5
	FailureThreshold int

	// Window is the rolling window failures are counted in.
	// Default: 30s
	Window time.Duration

	// Cooldown is how long the breaker stays open before allowing one
	// half-open probe. Default: 60s
	Cooldown time.Duration

	// OnStateChange, when set, observes every state transition. Feeds
	// the breaker-transition metrics. Must not block.
	OnStateChange func(provider string, to BreakerState)
}

// DefaultBreakerConfig returns production breaker defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Window:           30 * time.Second,
		Cooldown:         60 * time.Second,
	}
}

// applyDefaults fills in zero values with defaults.
func (c *BreakerConfig) applyDefaults() {
	defaults := DefaultBreakerConfig()
	if c.FailureThreshold == 0 {
		c.FailureThreshold = defaults.FailureThreshold
	}
	if c.Window == 0 {
		c.Window = defaults.Window
	}
	if c.Cooldown == 0 {
		c.Cooldown = defaults.Cooldown
	}
}

// =============================================================================
// Breaker
// =============================================================================

// Breaker is the failure-tracking state machine for one provider. It is
// process-wide: every concurrent query touching the same provider shares
// this instance, and all mutation is atomic or under the failure mutex.
//
// Auth failures latch the breaker open with no half-open retry; retrying
// with the same bad credential cannot succeed, so only a credentials
// refresh (Reset) reopens the path.
//
// Thread Safety: Safe for concurrent use.
type Breaker struct {
	name string
	cfg  BreakerConfig

	state       atomic.Int32
	openedAt    atomic.Int64 // UnixNano when the breaker opened
	authLatched atomic.Bool

	// Ring buffer of failure timestamps forming the rolling window.
	failures   []time.Time
	failureIdx int
	failureMu  sync.Mutex

	// Half-open gate: one probe at a time.
	halfOpenProbe atomic.Bool

	// now is injectable for deterministic tests.
	now func() time.Time
}

// NewBreaker creates a breaker for the named provider.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	cfg.applyDefaults()
	return &Breaker{
		name:     name,
		cfg:      cfg,
		failures: make([]time.Time, cfg.FailureThreshold),
		now:      time.Now,
	}
}

// State returns the current breaker state. Open breakers whose cooldown
// has elapsed still report StateOpen until a caller transitions them via
// Allow.
func (b *Breaker) State() BreakerState {
	return BreakerState(b.state.Load())
}

// Allow reports whether a call may proceed.
//
// Description:
//
//	Closed breakers always allow. Open breakers allow nothing until the
//	cooldown elapses; then exactly one caller wins the half-open probe
//	slot and proceeds, and everyone else keeps being skipped. Auth-latched
//	breakers never half-open; they wait for Reset.
//
// Outputs:
//
//	proceed - True if the caller may perform network I/O.
//	probe - True if this call is the half-open trial; the caller must
//	  report the outcome via RecordSuccess/RecordFailure either way.
func (b *Breaker) Allow() (proceed, probe bool) {
	switch b.State() {
	case StateClosed:
		return true, false
	case StateOpen:
		if b.authLatched.Load() {
			return false, false
		}
		opened := time.Unix(0, b.openedAt.Load())
		if b.now().Sub(opened) < b.cfg.Cooldown {
			return false, false
		}
		b.transition(StateHalfOpen)
		fallthrough
	case StateHalfOpen:
		if b.halfOpenProbe.CompareAndSwap(false, true) {
			return true, true
		}
		return false, false
	}
	return false, false
}

// RecordSuccess records a successful call. A successful half-open probe
// closes the breaker and clears the failure window.
func (b *Breaker) RecordSuccess(probe bool) {
	if probe {
		b.halfOpenProbe.Store(false)
	}
	if b.State() != StateClosed {
		b.transition(StateClosed)
		b.resetFailures()
	}
}

// RecordFailure records a failed call of the given kind.
//
// Description:
//
//	Auth failures open and latch the breaker immediately. A failed
//	half-open probe reopens it and restarts the cooldown. Otherwise the
//	failure lands in the rolling window; crossing the threshold opens
//	the breaker. Kinds that don't count (cancellations, open-circuit
//	skips, rate limits, malformed payloads) are ignored here.
func (b *Breaker) RecordFailure(kind failureKind, probe bool) {
	if probe {
		b.halfOpenProbe.Store(false)
	}

	if kind == failureAuth {
		b.authLatched.Store(true)
		b.open()
		slog.Warn("provider breaker latched open on auth failure",
			slog.String("provider", b.name))
		return
	}

	if probe {
		// Trial call failed: straight back to open, cooldown restarts.
		b.open()
		return
	}

	b.failureMu.Lock()
	now := b.now()
	b.failures[b.failureIdx] = now
	b.failureIdx = (b.failureIdx + 1) % len(b.failures)

	windowStart := now.Add(-b.cfg.Window)
	count := 0
	for _, t := range b.failures {
		if !t.IsZero() && t.After(windowStart) {
			count++
		}
	}
	b.failureMu.Unlock()

	if count >= b.cfg.FailureThreshold && b.State() == StateClosed {
		b.open()
		slog.Warn("provider breaker opened",
			slog.String("provider", b.name),
			slog.Int("failures_in_window", count))
	}
}

// Reset closes the breaker unconditionally and clears the auth latch.
// Called when credentials are refreshed.
func (b *Breaker) Reset() {
	b.authLatched.Store(false)
	b.halfOpenProbe.Store(false)
	b.transition(StateClosed)
	b.resetFailures()
}

// AuthLatched reports whether the breaker is held open by an auth failure.
func (b *Breaker) AuthLatched() bool {
	return b.authLatched.Load()
}

func (b *Breaker) open() {
	b.openedAt.Store(b.now().UnixNano())
	b.transition(StateOpen)
}

func (b *Breaker) transition(newState BreakerState) {
	oldState := BreakerState(b.state.Swap(int32(newState)))
	if oldState == newState {
		return
	}
	slog.Debug("provider breaker state transition",
		slog.String("provider", b.name),
		slog.String("from", oldState.String()),
		slog.String("to", newState.String()))
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.name, newState)
	}
}

func (b *Breaker) resetFailures() {
	b.failureMu.Lock()
	for i := range b.failures {
		b.failures[i] = time.Time{}
	}
	b.failureIdx = 0
	b.failureMu.Unlock()
}

// failureKind narrows ErrorKind to what the breaker cares about.
type failureKind int

const (
	failureGeneric failureKind = iota
	failureAuth
)

// =============================================================================
// Registry
// =============================================================================

// Registry is the process-wide collection of breakers, one per provider,
// created lazily and shared across every concurrent query.
//
// Thread Safety: Safe for concurrent use. Locking is scoped to the map;
// no lock spans a provider call.
type Registry struct {
	cfg      BreakerConfig
	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewRegistry creates a breaker registry with the given per-breaker config.
func NewRegistry(cfg BreakerConfig) *Registry {
	cfg.applyDefaults()
	return &Registry{
		cfg:      cfg,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for the named provider, creating it on first use.
func (r *Registry) Get(name string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok = r.breakers[name]; ok {
		return b
	}
	b = NewBreaker(name, r.cfg)
	r.breakers[name] = b
	return b
}

// OnCredentialsRefresh resets every auth-latched breaker. Breakers opened
// by ordinary failures keep their cooldown; only bad-credential latches
// are cleared, since fresh configuration is the one thing that can fix
// them.
func (r *Registry) OnCredentialsRefresh() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, b := range r.breakers {
		if b.AuthLatched() {
			b.Reset()
			slog.Info("provider breaker reset after credentials refresh",
				slog.String("provider", b.name))
		}
	}
}

// BreakerStatus is one row of the health snapshot.
type BreakerStatus struct {
	Provider    string `json:"provider"`
	State       string `json:"state"`
	AuthLatched bool   `json:"auth_latched,omitempty"`
}

// Snapshot returns the current state of every known breaker, for the
// provider-health endpoint and dashboards.
func (r *Registry) Snapshot() []BreakerStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]BreakerStatus, 0, len(r.breakers))
	for name, b := range r.breakers {
		out = append(out, BreakerStatus{
			Provider:    name,
			State:       b.State().String(),
			AuthLatched: b.AuthLatched(),
		})
	}
	return out
}
