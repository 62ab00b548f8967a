package money

import (
	"math/big"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		input string
		want  int64
		ok    bool
	}{
		{"", 0, true},
		{"0", 0, true},
		{"1500", 150000, true},
		{"1500.50", 150050, true},
		{"1500.5", 150050, true},
		{"0.01", 1, true},
		{"0.015", 1, true}, // truncated to 2 decimals
		{"-1", 0, false},
		{"1.2.3", 0, false},
		{"abc", 0, false},
	}

	for _, tc := range tests {
		got, ok := Parse(tc.input)
		if ok != tc.ok {
			t.Errorf("Parse(%q) ok = %v, want %v", tc.input, ok, tc.ok)
			continue
		}
		if ok && got.Cmp(big.NewInt(tc.want)) != 0 {
			t.Errorf("Parse(%q) = %s, want %d", tc.input, got, tc.want)
		}
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		cents int64
		want  string
	}{
		{0, "0.00"},
		{1, "0.01"},
		{150050, "1500.50"},
		{-150, "-1.50"},
	}

	for _, tc := range tests {
		if got := Format(big.NewInt(tc.cents)); got != tc.want {
			t.Errorf("Format(%d) = %q, want %q", tc.cents, got, tc.want)
		}
	}

	if got := Format(nil); got != "0.00" {
		t.Errorf("Format(nil) = %q, want \"0.00\"", got)
	}
}

func TestArithmetic(t *testing.T) {
	if got := Add("1500.50", "499.50"); got != "2000.00" {
		t.Errorf("Add = %q, want 2000.00", got)
	}
	if got := Sub("1500.00", "2000.00"); got != "-500.00" {
		t.Errorf("Sub = %q, want -500.00", got)
	}
	if got := Sub("1500.00", "garbage"); got != "1500.00" {
		t.Errorf("Sub with invalid rhs = %q, want 1500.00", got)
	}
}

func TestGTE(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"1500.00", "1500.00", true},
		{"1500.01", "1500.00", true},
		{"1499.99", "1500.00", false},
		{"", "0", true},        // empty parses as zero
		{"garbage", "1", false}, // invalid compares as zero
	}

	for _, tc := range tests {
		if got := GTE(tc.a, tc.b); got != tc.want {
			t.Errorf("GTE(%q, %q) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}
