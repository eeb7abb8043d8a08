// Package apint implements fixed-width two's-complement integers of
// arbitrary bit width, the integer model used throughout the offset
// algebra. Values are immutable; every operation returns a new Int.
package apint

import (
	"math/big"
)

// Int is a bit-width-tagged two's-complement integer. The zero value is
// a 0-bit integer and is not usable; construct with New or FromBig.
type Int struct {
	bits int
	// abs holds the unsigned residue of the value modulo 2^bits,
	// always in [0, 2^bits).
	abs *big.Int
}

// New builds an Int of the given width from a host integer. When signed
// is set, v is interpreted as a signed quantity and wrapped into the
// width; otherwise the low bits of the unsigned pattern are kept.
func New(bits int, v int64, signed bool) Int {
	if bits <= 0 {
		panic("apint: nonpositive width")
	}
	b := big.NewInt(v)
	if !signed && v < 0 {
		b.SetUint64(uint64(v))
	}
	return FromBig(bits, b)
}

// FromBig wraps an arbitrary-precision value into the given width.
func FromBig(bits int, v *big.Int) Int {
	if bits <= 0 {
		panic("apint: nonpositive width")
	}
	m := new(big.Int).Lsh(big.NewInt(1), uint(bits))
	abs := new(big.Int).Mod(v, m)
	if abs.Sign() < 0 {
		abs.Add(abs, m)
	}
	return Int{bits: bits, abs: abs}
}

// Bits reports the width of the integer.
func (x Int) Bits() int { return x.bits }

// Signed returns the signed interpretation of the bit pattern.
func (x Int) Signed() *big.Int {
	half := new(big.Int).Lsh(big.NewInt(1), uint(x.bits-1))
	if x.abs.Cmp(half) >= 0 {
		m := new(big.Int).Lsh(big.NewInt(1), uint(x.bits))
		return new(big.Int).Sub(x.abs, m)
	}
	return new(big.Int).Set(x.abs)
}

// Unsigned returns the unsigned interpretation of the bit pattern.
func (x Int) Unsigned() *big.Int { return new(big.Int).Set(x.abs) }

// SExtValue truncates the signed interpretation to a host int64.
func (x Int) SExtValue() int64 { return x.Signed().Int64() }

// ZExtValue truncates the unsigned interpretation to a host uint64.
func (x Int) ZExtValue() uint64 { return x.Unsigned().Uint64() }

// Sext sign-extends to the given wider width.
func (x Int) Sext(bits int) Int {
	if bits < x.bits {
		panic("apint: Sext to narrower width")
	}
	return FromBig(bits, x.Signed())
}

// Zext zero-extends to the given wider width.
func (x Int) Zext(bits int) Int {
	if bits < x.bits {
		panic("apint: Zext to narrower width")
	}
	return Int{bits: bits, abs: new(big.Int).Set(x.abs)}
}

// SextOrSelf sign-extends when bits exceeds the current width.
func (x Int) SextOrSelf(bits int) Int {
	if bits > x.bits {
		return x.Sext(bits)
	}
	return x
}

// ZextOrSelf zero-extends when bits exceeds the current width.
func (x Int) ZextOrSelf(bits int) Int {
	if bits > x.bits {
		return x.Zext(bits)
	}
	return x
}

func (x Int) binop(y Int, f func(z, a, b *big.Int) *big.Int) Int {
	if x.bits != y.bits {
		panic("apint: width mismatch")
	}
	return FromBig(x.bits, f(new(big.Int), x.abs, y.abs))
}

// Add returns x+y wrapped into the common width.
func (x Int) Add(y Int) Int { return x.binop(y, (*big.Int).Add) }

// Sub returns x-y wrapped into the common width.
func (x Int) Sub(y Int) Int { return x.binop(y, (*big.Int).Sub) }

// Mul returns x*y wrapped into the common width.
func (x Int) Mul(y Int) Int { return x.binop(y, (*big.Int).Mul) }

// SDiv returns the signed quotient, truncated toward zero.
func (x Int) SDiv(y Int) Int {
	if x.bits != y.bits {
		panic("apint: width mismatch")
	}
	return FromBig(x.bits, new(big.Int).Quo(x.Signed(), y.Signed()))
}

// UDiv returns the unsigned quotient.
func (x Int) UDiv(y Int) Int {
	if x.bits != y.bits {
		panic("apint: width mismatch")
	}
	return FromBig(x.bits, new(big.Int).Quo(x.abs, y.abs))
}

// SRem returns the signed remainder, sign following the dividend.
func (x Int) SRem(y Int) Int {
	if x.bits != y.bits {
		panic("apint: width mismatch")
	}
	return FromBig(x.bits, new(big.Int).Rem(x.Signed(), y.Signed()))
}

// URem returns the unsigned remainder.
func (x Int) URem(y Int) Int {
	if x.bits != y.bits {
		panic("apint: width mismatch")
	}
	return FromBig(x.bits, new(big.Int).Rem(x.abs, y.abs))
}

// Eq reports bit-pattern equality at the common width.
func (x Int) Eq(y Int) bool { return x.abs.Cmp(y.abs) == 0 }

// Ne is the negation of Eq.
func (x Int) Ne(y Int) bool { return !x.Eq(y) }

// Slt, Sle, Sgt, Sge compare signed interpretations.
func (x Int) Slt(y Int) bool { return x.Signed().Cmp(y.Signed()) < 0 }
func (x Int) Sle(y Int) bool { return x.Signed().Cmp(y.Signed()) <= 0 }
func (x Int) Sgt(y Int) bool { return x.Signed().Cmp(y.Signed()) > 0 }
func (x Int) Sge(y Int) bool { return x.Signed().Cmp(y.Signed()) >= 0 }

// Ult, Ule, Ugt, Uge compare unsigned interpretations.
func (x Int) Ult(y Int) bool { return x.abs.Cmp(y.abs) < 0 }
func (x Int) Ule(y Int) bool { return x.abs.Cmp(y.abs) <= 0 }
func (x Int) Ugt(y Int) bool { return x.abs.Cmp(y.abs) > 0 }
func (x Int) Uge(y Int) bool { return x.abs.Cmp(y.abs) >= 0 }

// IsZero reports whether the bit pattern is all zeroes.
func (x Int) IsZero() bool { return x.abs.Sign() == 0 }

// IsOne reports whether the value is exactly one.
func (x Int) IsOne() bool { return x.abs.Cmp(big.NewInt(1)) == 0 }

// IsNonNegative reports a non-negative signed interpretation.
func (x Int) IsNonNegative() bool { return x.Signed().Sign() >= 0 }

// IsMinSigned reports whether x is the most negative value of its width.
func (x Int) IsMinSigned() bool { return x.Eq(SignedMin(x.bits)) }

// IsMaxSigned reports whether x is the most positive value of its width.
func (x Int) IsMaxSigned() bool { return x.Eq(SignedMax(x.bits)) }

// SignedMin returns the most negative value of the given width.
func SignedMin(bits int) Int {
	v := new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), uint(bits-1)))
	return FromBig(bits, v)
}

// SignedMax returns the most positive value of the given width.
func SignedMax(bits int) Int {
	v := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), uint(bits-1)), big.NewInt(1))
	return FromBig(bits, v)
}

// Bool builds the 1-bit integer conventionally used for comparison
// results: bit pattern 1 for true, 0 for false.
func Bool(b bool) Int {
	if b {
		return New(1, 1, false)
	}
	return New(1, 0, false)
}

// SMin returns the signed minimum of x and y at a common width.
func SMin(x, y Int) Int {
	if x.Slt(y) {
		return x
	}
	return y
}

// SMax returns the signed maximum of x and y at a common width.
func SMax(x, y Int) Int {
	if x.Sgt(y) {
		return x
	}
	return y
}

// String renders the signed decimal interpretation.
func (x Int) String() string {
	if x.abs == nil {
		return "<invalid>"
	}
	return x.Signed().String()
}
