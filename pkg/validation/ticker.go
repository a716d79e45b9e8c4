// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation guards the seams where caller-supplied constraint
// values are interpolated into backend queries.
//
// Ticker symbols reach the markets lane from two directions — the query
// classifier's extraction and the request's explicit constraints — and
// end up inside a hand-assembled Flux string and a Yahoo chart URL. The
// validators here are the injection guard on both paths: anything that
// fails them is rejected before it touches a query.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// tickerPattern accepts exchange-listed symbol shapes: 1-10 uppercase
// alphanumerics, with dots (BRK.A) and hyphens (BF-B) for share classes.
var tickerPattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9.\-]{0,9}$`)

// intervalPattern accepts market sampling intervals like "1m", "15m",
// "1h", "1d", "1wk", "1mo".
var intervalPattern = regexp.MustCompile(`^[0-9]{1,3}(m|h|d|wk|mo)$`)

// ValidateTicker checks one symbol against the accepted shape. The value
// must already be uppercase; use SanitizeTicker for raw user input.
func ValidateTicker(ticker string) error {
	if ticker == "" {
		return fmt.Errorf("ticker cannot be empty")
	}
	if !tickerPattern.MatchString(ticker) {
		return fmt.Errorf("invalid ticker %q: want 1-10 uppercase alphanumerics, dots, or hyphens", ticker)
	}
	return nil
}

// ValidateTickers checks a symbol list, reporting every invalid entry at
// once so a caller can surface them all in one error.
func ValidateTickers(tickers []string) error {
	var invalid []string
	for _, t := range tickers {
		if err := ValidateTicker(t); err != nil {
			invalid = append(invalid, t)
		}
	}
	if len(invalid) > 0 {
		return fmt.Errorf("invalid tickers: %s", strings.Join(invalid, ", "))
	}
	return nil
}

// SanitizeTicker trims and uppercases raw input, then validates it.
// Returns the normalized symbol.
func SanitizeTicker(ticker string) (string, error) {
	normalized := strings.ToUpper(strings.TrimSpace(ticker))
	if err := ValidateTicker(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}

// ValidateInterval checks a market sampling interval before it is passed
// through to a chart API or used to size a series lookback.
func ValidateInterval(interval string) error {
	if interval == "" {
		return nil
	}
	if !intervalPattern.MatchString(interval) {
		return fmt.Errorf("invalid interval %q: want forms like 1m, 1h, 1d, 1wk", interval)
	}
	return nil
}
