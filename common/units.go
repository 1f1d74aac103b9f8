package common

import (
	"errors"
	"math/big"
	"strings"
)

var (
	ErrInvalidDecimalString = errors.New("invalid decimal string")
	ErrTooManyDecimals      = errors.New("too many decimal places")
)

// Pow10 returns 10^decimals.
func Pow10(decimals uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
}

// ScaleDenomination turns a whole-unit denomination into base units.
func ScaleDenomination(denomination *big.Int, decimals uint8) *big.Int {
	return new(big.Int).Mul(denomination, Pow10(decimals))
}

// FormatUnits renders base units as a decimal string with at least one
// fractional digit and no trailing zeros beyond it, e.g. 1000000 with 6
// decimals is "1.0" and 1500000 is "1.5".
func FormatUnits(amount *big.Int, decimals uint8) string {
	if amount == nil {
		return "0.0"
	}

	abs := new(big.Int).Abs(amount)
	whole, frac := new(big.Int).QuoRem(abs, Pow10(decimals), new(big.Int))

	fracStr := ""
	if decimals > 0 {
		fracStr = frac.String()
		fracStr = strings.Repeat("0", int(decimals)-len(fracStr)) + fracStr
		fracStr = strings.TrimRight(fracStr, "0")
	}
	if fracStr == "" {
		fracStr = "0"
	}

	s := whole.String() + "." + fracStr
	if amount.Sign() < 0 {
		s = "-" + s
	}
	return s
}

// ParseUnits parses a non-negative decimal string into base units. It
// refuses inputs with more fractional digits than decimals.
func ParseUnits(s string, decimals uint8) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrInvalidDecimalString
	}

	whole, frac, hasDot := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	if hasDot && frac == "" {
		return nil, ErrInvalidDecimalString
	}
	if !isDigits(whole) || (hasDot && !isDigits(frac)) {
		return nil, ErrInvalidDecimalString
	}

	frac = strings.TrimRight(frac, "0")
	if len(frac) > int(decimals) {
		return nil, ErrTooManyDecimals
	}
	frac += strings.Repeat("0", int(decimals)-len(frac))

	v, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return nil, ErrInvalidDecimalString
	}
	return v, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
