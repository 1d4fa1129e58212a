package util

import (
	"fmt"
	"math/big"
	"strings"
)

// DefaultDecimals is the number of decimals of the native currency.
const DefaultDecimals = 18

// FormatUnits renders value as a decimal string with the given number of
// decimals, trimming trailing zeros: FormatUnits(1500000000000000000, 18)
// returns "1.5".
func FormatUnits(value *big.Int, decimals int) string {
	if value == nil {
		return "0"
	}
	neg := value.Sign() < 0
	digits := new(big.Int).Abs(value).String()
	if decimals > 0 {
		if len(digits) <= decimals {
			digits = strings.Repeat("0", decimals-len(digits)+1) + digits
		}
		intPart, frac := digits[:len(digits)-decimals], strings.TrimRight(digits[len(digits)-decimals:], "0")
		digits = intPart
		if frac != "" {
			digits += "." + frac
		}
	}
	if neg {
		return "-" + digits
	}
	return digits
}

// ParseUnits is the inverse of FormatUnits. It fails when s has more
// fractional digits than decimals.
func ParseUnits(s string, decimals int) (*big.Int, error) {
	s = strings.TrimSpace(s)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	intPart, frac, _ := strings.Cut(s, ".")
	if len(frac) > decimals {
		return nil, fmt.Errorf("too many decimals in %q, max %d", s, decimals)
	}
	if intPart == "" {
		intPart = "0"
	}
	digits := intPart + frac + strings.Repeat("0", decimals-len(frac))
	if strings.ContainsAny(digits, "+-") {
		return nil, fmt.Errorf("invalid number %q", s)
	}
	out, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, fmt.Errorf("invalid number %q", s)
	}
	if neg {
		out.Neg(out)
	}
	return out, nil
}
