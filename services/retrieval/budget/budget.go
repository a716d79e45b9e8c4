// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package budget derives time budgets from a query's complexity class.
//
// Budget derivation is pure and table-driven: no I/O, no shared state.
// The same complexity always yields the same Budget, so callers can rely
// on it for deterministic test scenarios.
package budget

import (
	"fmt"
	"time"

	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/datatypes"
)

// ProviderTimeoutCap is the hard global maximum for any single provider
// call, regardless of lane budget. Lanes with smaller budgets clamp the
// provider timeout further down.
const ProviderTimeoutCap = 800 * time.Millisecond

// PreflightBudget bounds the guided-prompt refinement pass. Fixed for all
// complexity classes; preflight runs concurrently with warmup and never
// extends total latency by more than this.
const PreflightBudget = 500 * time.Millisecond

// tier is one row of the derivation table.
type tier struct {
	endToEnd time.Duration
	perLane  time.Duration
}

// derivationTable maps complexity class to its time tier.
var derivationTable = map[datatypes.Complexity]tier{
	datatypes.ComplexitySimple:     {endToEnd: 5 * time.Second, perLane: 2 * time.Second},
	datatypes.ComplexityTechnical:  {endToEnd: 7 * time.Second, perLane: 3 * time.Second},
	datatypes.ComplexityResearch:   {endToEnd: 10 * time.Second, perLane: 4 * time.Second},
	datatypes.ComplexityMultimodal: {endToEnd: 12 * time.Second, perLane: 4 * time.Second},
}

// Compute derives the Budget for a complexity class.
//
// Description:
//
//	Looks up the complexity tier and builds a Budget with a uniform lane
//	budget and the capped provider timeout. The provider timeout is the
//	smaller of ProviderTimeoutCap and the lane budget, so a lane can never
//	be configured to let one provider outlive the lane itself.
//
// Inputs:
//
//	complexity - The query's complexity class.
//
// Outputs:
//
//	datatypes.Budget - The derived, read-only budget.
//	error - datatypes.ErrInvalidQuery (wrapped) for unknown classes.
func Compute(complexity datatypes.Complexity) (datatypes.Budget, error) {
	t, ok := derivationTable[complexity]
	if !ok {
		return datatypes.Budget{}, fmt.Errorf("%w: unknown complexity %q",
			datatypes.ErrInvalidQuery, complexity)
	}

	providerTimeout := ProviderTimeoutCap
	if t.perLane < providerTimeout {
		providerTimeout = t.perLane
	}

	return datatypes.Budget{
		EndToEnd:        t.endToEnd,
		PerLane:         map[datatypes.LaneName]time.Duration{},
		DefaultLane:     t.perLane,
		ProviderTimeout: providerTimeout,
	}, nil
}
