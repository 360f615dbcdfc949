package fixedpoint

import (
	"fmt"
	"math"
	"math/big"
	"strings"
)

// Amount represents a signed decimal value as an integer mantissa scaled by
// a fixed power of ten. All report arithmetic goes through this type; no
// floating-point value ever reaches a financial total.
type Amount struct {
	mantissa *big.Int
	scale    int32
}

// PriceScale is the number of fractional digits kept for USD prices after
// the one permitted float conversion at the provider boundary.
const PriceScale int32 = 8

// TokenScale is the fixed-point scale of on-chain token and ether amounts.
const TokenScale int32 = 18

// New creates an Amount from an integer mantissa and a decimal scale.
// The mantissa is copied, the caller keeps ownership of its big.Int.
func New(mantissa *big.Int, scale int32) Amount {
	if mantissa == nil {
		mantissa = big.NewInt(0)
	}
	return Amount{mantissa: new(big.Int).Set(mantissa), scale: scale}
}

// FromInt64 creates an Amount whose mantissa fits in an int64.
func FromInt64(mantissa int64, scale int32) Amount {
	return Amount{mantissa: big.NewInt(mantissa), scale: scale}
}

// FromFloat converts a floating-point value into an Amount with the given
// scale. This is the single place where a float enters fixed-point space:
// the value is multiplied by 10^scale and rounded to the nearest integer
// (half away from zero) exactly once. Returns an error for NaN and infinities.
func FromFloat(v float64, scale int32) (Amount, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Amount{}, fmt.Errorf("cannot convert %v to a fixed-point amount", v)
	}
	scaled := new(big.Float).SetFloat64(v)
	scaled.Mul(scaled, new(big.Float).SetInt(pow10(scale)))

	// big.Float.Int truncates toward zero, so shift by half a unit first.
	half := big.NewFloat(0.5)
	if scaled.Sign() < 0 {
		half.Neg(half)
	}
	scaled.Add(scaled, half)

	mantissa, _ := scaled.Int(nil)
	return Amount{mantissa: mantissa, scale: scale}, nil
}

// Mantissa returns a copy of the integer mantissa.
func (a Amount) Mantissa() *big.Int {
	if a.mantissa == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(a.mantissa)
}

// Scale returns the number of fractional decimal digits the mantissa carries.
func (a Amount) Scale() int32 {
	return a.scale
}

// Sign returns -1, 0 or +1 depending on the sign of the amount.
func (a Amount) Sign() int {
	if a.mantissa == nil {
		return 0
	}
	return a.mantissa.Sign()
}

// IsZero reports whether the amount is exactly zero.
func (a Amount) IsZero() bool {
	return a.Sign() == 0
}

// Mul multiplies two amounts exactly: the mantissas are multiplied as
// integers and the scales add up. No precision is lost.
func (a Amount) Mul(b Amount) Amount {
	return Amount{
		mantissa: new(big.Int).Mul(a.Mantissa(), b.Mantissa()),
		scale:    a.scale + b.scale,
	}
}

// Rescale returns the amount re-expressed at targetScale. Scaling down
// truncates excess fractional digits toward zero, matching conventional
// ledger display; scaling up is exact.
func (a Amount) Rescale(targetScale int32) Amount {
	diff := targetScale - a.scale
	switch {
	case diff == 0:
		return New(a.mantissa, a.scale)
	case diff > 0:
		return Amount{
			mantissa: new(big.Int).Mul(a.Mantissa(), pow10(diff)),
			scale:    targetScale,
		}
	default:
		return Amount{
			mantissa: new(big.Int).Quo(a.Mantissa(), pow10(-diff)),
			scale:    targetScale,
		}
	}
}

// Text renders the amount with exactly targetScale fractional digits,
// truncating (not rounding) any excess precision.
func (a Amount) Text(targetScale int32) string {
	v := a.Rescale(targetScale)

	mantissa := v.Mantissa()
	neg := mantissa.Sign() < 0
	digits := new(big.Int).Abs(mantissa).String()

	if int32(len(digits)) <= targetScale {
		digits = strings.Repeat("0", int(targetScale)-len(digits)+1) + digits
	}

	out := digits
	if targetScale > 0 {
		split := len(digits) - int(targetScale)
		out = digits[:split] + "." + digits[split:]
	}
	if neg {
		out = "-" + out
	}
	return out
}

// String renders the amount at its own scale with trailing fractional
// zeros removed, e.g. mantissa 2500000 at scale 6 prints as "2.5".
func (a Amount) String() string {
	out := a.Text(a.scale)
	if strings.Contains(out, ".") {
		out = strings.TrimRight(out, "0")
		out = strings.TrimRight(out, ".")
	}
	if out == "" || out == "-" {
		return "0"
	}
	return out
}

func pow10(exp int32) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(exp)), nil)
}
