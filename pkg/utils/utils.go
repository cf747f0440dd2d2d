package utils

import (
	"fmt"
	"math/big"
	"strings"
)

// Ellipsize shortens s to at most max runes, marking the cut with "...".
func Ellipsize(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}

// AddCommas groups the integer digits of a formatted number in thousands.
func AddCommas(s string) string {
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	intPart, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, frac = s[:i], s[i:]
	}
	if len(intPart) <= 3 {
		return sign + s
	}

	var b strings.Builder
	b.WriteString(sign)
	lead := len(intPart) % 3
	if lead == 0 {
		lead = 3
	}
	b.WriteString(intPart[:lead])
	for i := lead; i < len(intPart); i += 3 {
		b.WriteByte(',')
		b.WriteString(intPart[i : i+3])
	}
	b.WriteString(frac)
	return b.String()
}

func FormatFloat(f float64, decimals int) string {
	return AddCommas(fmt.Sprintf("%.*f", decimals, f))
}

func FormatBigFloat(f *big.Float, decimals int) string {
	if f == nil {
		return "0"
	}
	return AddCommas(f.Text('f', decimals))
}

// FormatUnits scales a raw on-chain amount by decimals and renders it with
// precision fractional digits.
func FormatUnits(raw *big.Int, decimals, precision int) string {
	return FormatBigFloat(ToUnits(raw, decimals), precision)
}

// ToUnits converts a raw amount to a float scaled by decimals.
func ToUnits(raw *big.Int, decimals int) *big.Float {
	if raw == nil {
		return new(big.Float)
	}
	f := new(big.Float).SetInt(raw)
	if decimals > 0 {
		divisor := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
		f.Quo(f, divisor)
	}
	return f
}

// UnitsToFloat64 is ToUnits narrowed to a float64 for USD valuation.
func UnitsToFloat64(raw *big.Int, decimals int) float64 {
	return BigFloatToFloat64(ToUnits(raw, decimals))
}

// ShortAddress abbreviates a hex address to 0x1234...abcd.
func ShortAddress(addr string) string {
	if len(addr) <= 12 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}

func BigFloatToFloat64(f *big.Float) float64 {
	if f == nil {
		return 0
	}
	val, _ := f.Float64()
	return val
}
