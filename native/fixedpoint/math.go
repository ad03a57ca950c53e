package fixedpoint

import "math/big"

// Rounding selects the direction applied when a division discards a remainder.
// Every share/asset conversion call site passes one explicitly; there is no
// default direction.
type Rounding int

const (
	RoundDown Rounding = iota
	RoundUp
)

// Wad is the fixed-point scale used for prices, LTV ratios and rate factors.
// 1e18 represents 100%.
var Wad = big.NewInt(1_000_000_000_000_000_000)

var basisPoints = big.NewInt(10_000)

// MulDiv computes a * b / denominator with the requested rounding. Inputs are
// treated as non-negative; a nil or zero denominator yields zero.
func MulDiv(a, b, denominator *big.Int, rounding Rounding) *big.Int {
	if a == nil || b == nil || denominator == nil || denominator.Sign() == 0 {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, b)
	quotient, remainder := new(big.Int).QuoRem(product, denominator, new(big.Int))
	if rounding == RoundUp && remainder.Sign() != 0 {
		quotient.Add(quotient, big.NewInt(1))
	}
	return quotient
}

// MulWad multiplies two wad-scaled values.
func MulWad(a, b *big.Int, rounding Rounding) *big.Int {
	return MulDiv(a, b, Wad, rounding)
}

// DivWad divides a by b, returning a wad-scaled ratio.
func DivWad(a, b *big.Int, rounding Rounding) *big.Int {
	return MulDiv(a, Wad, b, rounding)
}

// BpsOf applies a basis-point fraction to an amount.
func BpsOf(amount *big.Int, bps uint64, rounding Rounding) *big.Int {
	return MulDiv(amount, new(big.Int).SetUint64(bps), basisPoints, rounding)
}

// BpsToWad converts a basis-point value to its wad representation.
func BpsToWad(bps uint64) *big.Int {
	return MulDiv(new(big.Int).SetUint64(bps), Wad, basisPoints, RoundDown)
}

// SatSub returns a - b, floored at zero. Health math must never rely on
// underflow to encode "false".
func SatSub(a, b *big.Int) *big.Int {
	if a == nil {
		return big.NewInt(0)
	}
	if b == nil {
		return new(big.Int).Set(a)
	}
	if a.Cmp(b) <= 0 {
		return big.NewInt(0)
	}
	return new(big.Int).Sub(a, b)
}

// Min returns the smaller of a and b as a fresh value.
func Min(a, b *big.Int) *big.Int {
	if a == nil {
		return big.NewInt(0)
	}
	if b == nil || a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// Clone returns a defensive copy, mapping nil to zero.
func Clone(a *big.Int) *big.Int {
	if a == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(a)
}
