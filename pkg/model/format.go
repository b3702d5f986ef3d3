package model

import (
	"math/big"
	"strings"
)

// FormatAmount renders raw (an integer count of base units) as the
// decimal value implied by decimals, trailing zeros trimmed. With no
// decimals the base-unit integer is returned as-is.
func FormatAmount(raw *big.Int, decimals int) string {
	if decimals <= 0 {
		return raw.String()
	}

	neg := raw.Sign() < 0
	abs := new(big.Int).Abs(raw)
	s := abs.String()
	if len(s) <= decimals {
		s = strings.Repeat("0", decimals-len(s)+1) + s
	}

	intPart := s[:len(s)-decimals]
	fracPart := strings.TrimRight(s[len(s)-decimals:], "0")

	out := intPart
	if fracPart != "" {
		out += "." + fracPart
	}
	if neg && abs.Sign() != 0 {
		out = "-" + out
	}
	return out
}
