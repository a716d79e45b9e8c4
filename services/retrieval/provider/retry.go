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
	"math/rand"
	"time"
)

// RetryConfig configures bounded retry with exponential backoff for
// transient network failures. Only network errors retry; auth, rate
// limit, malformed, and timeout failures return immediately.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts including the first.
	// Default: 2
	MaxAttempts int

	// InitialBackoff is the wait before the first retry.
	// Default: 50ms
	InitialBackoff time.Duration

	// MaxBackoff caps the exponential backoff.
	// Default: 200ms
	MaxBackoff time.Duration

	// BackoffFactor is the exponential multiplier.
	// Default: 2.0
	BackoffFactor float64

	// JitterFactor is the maximum jitter as a fraction of the backoff
	// (0-1). Prevents synchronized retries across concurrent lanes.
	// Default: 0.2
	JitterFactor float64
}

// DefaultRetryConfig returns retry defaults sized for sub-second provider
// timeouts. The whole retry envelope must fit inside the 800ms provider
// cap, hence the short backoffs.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    2,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     200 * time.Millisecond,
		BackoffFactor:  2.0,
		JitterFactor:   0.2,
	}
}

// applyDefaults fills in zero values with defaults.
func (c *RetryConfig) applyDefaults() {
	defaults := DefaultRetryConfig()
	if c.MaxAttempts == 0 {
		c.MaxAttempts = defaults.MaxAttempts
	}
	if c.InitialBackoff == 0 {
		c.InitialBackoff = defaults.InitialBackoff
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = defaults.MaxBackoff
	}
	if c.BackoffFactor == 0 {
		c.BackoffFactor = defaults.BackoffFactor
	}
	if c.JitterFactor == 0 {
		c.JitterFactor = defaults.JitterFactor
	}
}

// backoff computes the wait before the given retry attempt (1-based),
// with jitter applied in both directions.
func (c RetryConfig) backoff(attempt int) time.Duration {
	d := float64(c.InitialBackoff)
	for i := 1; i < attempt; i++ {
		d *= c.BackoffFactor
	}
	if d > float64(c.MaxBackoff) {
		d = float64(c.MaxBackoff)
	}
	if c.JitterFactor > 0 {
		jitter := d * c.JitterFactor
		d = d - jitter + rand.Float64()*2*jitter
	}
	return time.Duration(d)
}
