package model

import (
	"math"

	"github.com/shopspring/decimal"
)

// ParsePrice parses a venue decimal string into a float64 at the arithmetic
// boundary (spec §3: "converted to 64-bit floats only at arithmetic sites").
// Using shopspring/decimal for the parse step avoids the precision loss that
// strconv.ParseFloat can introduce on venue strings with many trailing
// digits before we ever touch float math.
func ParsePrice(s string) (float64, bool) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, false
	}
	f, _ := d.Float64()
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0, false
	}
	return f, true
}

// IsZeroSize reports whether a wire size string represents removal of a
// price level per spec §3/§4.2 ("size==\"0\" ⇒ level absent").
func IsZeroSize(s string) bool {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return false
	}
	return d.IsZero()
}

// RoundHalfUp2 rounds a price to 2 decimal places, half-away-from-zero, per
// spec §4.5 step 1 ("Normalize each price p ← round(p · 100) / 100").
func RoundHalfUp2(p float64) float64 {
	return math.Round(p*100) / 100
}
