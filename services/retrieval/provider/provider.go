// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package provider implements the provider pool: the uniform adapter
// contract for every retrieval backend, the per-provider circuit breaker
// registry shared across all queries, and the ordered keyed-to-keyless
// fallback chains each lane owns.
//
// Providers never leak errors past the pool. Every call produces a
// datatypes.ProviderResult whose ErrorKind field carries the failure
// category; the lane executor and fusion engine treat failure as data.
package provider

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/datatypes"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrAuth is returned by a provider when the backend rejects our
	// credential. Latches the provider's breaker open.
	ErrAuth = errors.New("provider authentication rejected")

	// ErrRateLimited is returned when the backend throttles us.
	ErrRateLimited = errors.New("provider rate limited")

	// ErrMalformed is returned when the backend response cannot be parsed.
	ErrMalformed = errors.New("provider response malformed")

	// ErrNotConfigured is returned by keyed providers constructed without
	// a credential. The chain skips them without breaker bookkeeping.
	ErrNotConfigured = errors.New("provider not configured")
)

// =============================================================================
// Contract
// =============================================================================

// Query is the lane-neutral search request handed to a provider. Each
// provider maps the constraint subset it understands into its native
// parameters and ignores the rest.
type Query struct {
	// Text is the (possibly preflight-refined) query text.
	Text string

	// Constraints narrow the search per lane-type mapping.
	Constraints datatypes.Constraints

	// Limit is the maximum number of items the provider should return.
	Limit int
}

// Provider is the capability interface every retrieval backend implements.
//
// # Description
//
// One concrete implementation exists per external backend (vector index,
// BM25 index, graph store, web search engines, news APIs, market-data APIs and
// their keyless fallbacks). Implementations normalize their native response
// into []datatypes.RetrievalItem and return sentinel errors from this
// package (or transport errors) for the pool to classify.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use; the same instance is
// shared across every query in the process.
type Provider interface {
	// Name returns the stable provider identifier (e.g. "web.brave").
	Name() string

	// IsKeyed reports whether this provider requires an API credential.
	// Keyless providers serve as always-available fallbacks.
	IsKeyed() bool

	// Search executes one bounded retrieval. The context carries the
	// per-provider deadline; implementations must honor cancellation.
	Search(ctx context.Context, q Query) ([]datatypes.RetrievalItem, error)
}

// =============================================================================
// Error Classification
// =============================================================================

// Classify maps a provider error to its ErrorKind.
//
// Description:
//
//	Timeouts and transport failures are distinguished from auth, rate
//	limit, and parse failures via the sentinel errors above. A deadline
//	hit inside the provider call is a timeout; a cancellation that
//	originated above the provider (early sufficiency, lane or global
//	budget) is reported as canceled so it never counts against the
//	breaker.
//
// Inputs:
//
//	parent - The context the pool derived the per-provider deadline from.
//	err - The provider error. Must be non-nil.
//
// Outputs:
//
//	datatypes.ErrorKind - The failure category.
func Classify(parent context.Context, err error) datatypes.ErrorKind {
	switch {
	case errors.Is(err, ErrAuth):
		return datatypes.ErrorKindAuth
	case errors.Is(err, ErrRateLimited):
		return datatypes.ErrorKindRateLimit
	case errors.Is(err, ErrMalformed):
		return datatypes.ErrorKindMalformed
	}

	if errors.Is(err, context.Canceled) {
		return datatypes.ErrorKindCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		// The provider's own deadline firing is a timeout. If the parent
		// was already done, the cancellation came from above.
		if parent != nil && parent.Err() != nil {
			return datatypes.ErrorKindCanceled
		}
		return datatypes.ErrorKindTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return datatypes.ErrorKindTimeout
		}
		return datatypes.ErrorKindNetwork
	}

	return datatypes.ErrorKindNetwork
}

// failureResult builds a ProviderResult for a failed call.
func failureResult(name string, kind datatypes.ErrorKind, latency time.Duration) datatypes.ProviderResult {
	return datatypes.ProviderResult{
		ProviderID: name,
		Success:    false,
		Latency:    latency,
		ErrorKind:  kind,
	}
}
