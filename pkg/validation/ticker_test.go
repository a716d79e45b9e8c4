// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestValidateTicker verifies accepted symbol shapes and rejection of
// injection-shaped input.
func TestValidateTicker(t *testing.T) {
	tests := []struct {
		name    string
		ticker  string
		wantErr bool
	}{
		{"plain", "AAPL", false},
		{"single char", "F", false},
		{"with digit", "BRK2", false},
		{"class share dot", "BRK.A", false},
		{"class share hyphen", "BF-B", false},
		{"max length", "ABCDEFGHIJ", false},

		{"empty", "", true},
		{"lowercase", "aapl", true},
		{"too long", "ABCDEFGHIJK", true},
		{"flux injection", `AAPL") |> drop()`, true},
		{"newline", "AAPL\n|> last()", true},
		{"path traversal", "../AAPL", true},
		{"whitespace", "AA PL", true},
		{"leading dot", ".AAPL", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTicker(tt.ticker)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// TestValidateTickers verifies all invalid entries are reported together.
func TestValidateTickers(t *testing.T) {
	assert.NoError(t, ValidateTickers(nil))
	assert.NoError(t, ValidateTickers([]string{"AAPL", "MSFT"}))

	err := ValidateTickers([]string{"AAPL", "bad!", "also bad"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad!")
	assert.Contains(t, err.Error(), "also bad")
}

// TestSanitizeTicker verifies normalization before validation.
func TestSanitizeTicker(t *testing.T) {
	got, err := SanitizeTicker("  aapl ")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", got)

	_, err = SanitizeTicker("not a ticker")
	assert.Error(t, err)
}

// TestValidateInterval verifies sampling interval shapes; empty means
// "use the default" and passes.
func TestValidateInterval(t *testing.T) {
	for _, ok := range []string{"", "1m", "15m", "1h", "4h", "1d", "1wk", "1mo"} {
		assert.NoError(t, ValidateInterval(ok), ok)
	}
	for _, bad := range []string{"daily", "1 d", "d1", "1y", "-1d", "1d;drop"} {
		assert.Error(t, ValidateInterval(bad), bad)
	}
}
