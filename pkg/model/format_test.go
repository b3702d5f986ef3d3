package model

import (
	"math/big"
	"testing"
)

func TestFormatAmount(t *testing.T) {
	cases := []struct {
		name     string
		raw      string
		decimals int
		want     string
	}{
		{"no decimals", "12345", 0, "12345"},
		{"whole number trims zero fraction", "1000000000000000000", 18, "1"},
		{"fractional value", "1500000000000000000", 18, "1.5"},
		{"small value needs left padding", "500", 6, "0.0005"},
		{"negative value", "-2500000", 6, "-2.5"},
		{"zero", "0", 8, "0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw, ok := new(big.Int).SetString(tc.raw, 10)
			if !ok {
				t.Fatalf("bad test fixture %q", tc.raw)
			}
			if got := FormatAmount(raw, tc.decimals); got != tc.want {
				t.Errorf("FormatAmount(%s, %d) = %q, want %q", tc.raw, tc.decimals, got, tc.want)
			}
		})
	}
}
