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
	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/classify"
	"github.com/AleutianAI/AleutianRetrieval/services/retrieval/datatypes"
)

// Select chooses the active lanes for a query.
//
// # Description
//
// Pure, deterministic rule evaluation. An explicit constraints.Sources
// list overrides everything: only the named lanes run (unknown names are
// silently dropped). Otherwise each configured lane's activation
// predicate is evaluated against the query and the classifier signals.
// Output is always in canonical lane priority order, independent of
// input ordering.
//
// # Inputs
//
//   - req: The validated query request.
//   - sig: Classifier signals (entities, tickers, intent flags).
//   - specs: The lane configuration to evaluate against.
//
// # Outputs
//
//   - []datatypes.LaneName: Active lanes in priority order. Never nil,
//     may be empty only when Sources names no configured lane.
func Select(req *datatypes.QueryRequest, sig classify.Signals, specs *SpecSet) []datatypes.LaneName {
	if len(req.Constraints.Sources) > 0 {
		requested := make(map[datatypes.LaneName]bool, len(req.Constraints.Sources))
		for _, src := range req.Constraints.Sources {
			requested[datatypes.LaneName(src)] = true
		}
		out := []datatypes.LaneName{}
		for _, lane := range specs.Names() {
			if requested[lane] {
				out = append(out, lane)
			}
		}
		return out
	}

	out := []datatypes.LaneName{}
	for _, lane := range specs.Names() {
		spec, _ := specs.Get(lane)
		if spec.Activate != nil && spec.Activate(req, sig) {
			out = append(out, lane)
		}
	}
	return out
}
