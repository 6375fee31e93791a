package canonicalize

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Decimal3 encodes a bounded float as a fixed-point decimal string with
// exactly three fractional digits, per spec §4.1: "trust_delta is
// encoded as a fixed-point decimal string with three fractional
// digits" — floats are otherwise rejected in hashed contexts, so this
// type is how a trust_delta-shaped value crosses into canonical form
// without ever appearing as a JSON number.
type Decimal3 float64

// NewDecimal3 rounds to the nearest thousandth, matching the precision
// the wire form can actually represent.
func NewDecimal3(f float64) Decimal3 {
	return Decimal3(math.Round(f*1000) / 1000)
}

func (d Decimal3) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Decimal3) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("canonicalize: invalid decimal %q: %w", s, err)
	}
	*d = NewDecimal3(f)
	return nil
}

// String renders exactly three fractional digits, e.g. "-0.100".
func (d Decimal3) String() string {
	return strconv.FormatFloat(float64(d), 'f', 3, 64)
}

// Float64 returns the underlying value for arithmetic/bounds checks.
func (d Decimal3) Float64() float64 {
	return float64(d)
}
