// Package money provides shared amount parsing and formatting utilities.
//
// Billing amounts use 2 decimal places. All amounts are stored as big.Int
// in cents (KES 1.50 = 150 units) and rendered as decimal strings.
package money

import (
	"math/big"
	"strings"
)

const Decimals = 2

// Parse converts a decimal string (e.g. "1500.50") to its cent
// big.Int representation (150050). Returns (nil, false) on invalid input.
//
// Rules:
//   - Empty string returns (0, true)
//   - Negative amounts are rejected
//   - Multiple decimal points are rejected
//   - Fractional parts are padded/truncated to 2 decimal places
func Parse(s string) (*big.Int, bool) {
	if s == "" {
		return big.NewInt(0), true
	}

	if strings.HasPrefix(s, "-") {
		return nil, false
	}

	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return nil, false
	}
	whole := parts[0]
	frac := ""
	if len(parts) > 1 {
		frac = parts[1]
	}

	// Pad or trim to 2 decimals
	for len(frac) < Decimals {
		frac += "0"
	}
	frac = frac[:Decimals]

	combined := whole + frac
	result, ok := new(big.Int).SetString(combined, 10)
	return result, ok
}

// Format converts a cent big.Int to a human-readable decimal string
// with exactly 2 decimal places (e.g. "1500.50").
func Format(amount *big.Int) string {
	if amount == nil {
		return "0.00"
	}
	neg := amount.Sign() < 0
	abs := new(big.Int).Abs(amount)
	s := abs.String()
	for len(s) < Decimals+1 {
		s = "0" + s
	}
	decimal := len(s) - Decimals
	result := s[:decimal] + "." + s[decimal:]
	if neg {
		result = "-" + result
	}
	return result
}

// GTE reports whether decimal string a >= decimal string b.
// Invalid inputs compare as zero.
func GTE(a, b string) bool {
	ab, ok := Parse(a)
	if !ok {
		ab = big.NewInt(0)
	}
	bb, ok := Parse(b)
	if !ok {
		bb = big.NewInt(0)
	}
	return ab.Cmp(bb) >= 0
}

// Sub returns a - b as a formatted decimal string. Invalid inputs are
// treated as zero.
func Sub(a, b string) string {
	ab, ok := Parse(a)
	if !ok {
		ab = big.NewInt(0)
	}
	bb, ok := Parse(b)
	if !ok {
		bb = big.NewInt(0)
	}
	return Format(new(big.Int).Sub(ab, bb))
}

// Add returns a + b as a formatted decimal string. Invalid inputs are
// treated as zero.
func Add(a, b string) string {
	ab, ok := Parse(a)
	if !ok {
		ab = big.NewInt(0)
	}
	bb, ok := Parse(b)
	if !ok {
		bb = big.NewInt(0)
	}
	return Format(new(big.Int).Add(ab, bb))
}
