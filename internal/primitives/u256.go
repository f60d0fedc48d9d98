package primitives

import (
	"math/big"

	"github.com/fxamacker/cbor/v2"
)

const u256Bytes = 32

// maxU256 is 2^256 - 1, the ceiling every U256 saturates to.
var maxU256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// MinTarget is the easiest (numerically largest) target the chain will
// ever accept, and the ceiling the stored target saturates to: 2^240.
var MinTarget = NewU256(new(big.Int).Lsh(big.NewInt(1), 240))

// U256 is a 256-bit unsigned integer with saturating arithmetic, used for
// the chain's proof-of-work target.
type U256 struct {
	v *big.Int
}

// NewU256 clamps n into [0, 2^256-1] and wraps it.
func NewU256(n *big.Int) U256 {
	c := new(big.Int).Set(n)
	if c.Sign() < 0 {
		c.SetInt64(0)
	}
	if c.Cmp(maxU256) > 0 {
		c.Set(maxU256)
	}
	return U256{v: c}
}

// Int returns the underlying big.Int. Callers must not mutate it.
func (u U256) Int() *big.Int {
	if u.v == nil {
		return big.NewInt(0)
	}
	return u.v
}

// Cmp compares u against other.
func (u U256) Cmp(other U256) int {
	return u.Int().Cmp(other.Int())
}

// Mul returns u * n, saturating at 2^256-1.
func (u U256) Mul(n int64) U256 {
	return NewU256(new(big.Int).Mul(u.Int(), big.NewInt(n)))
}

// Div returns u / n, floored toward zero. Division by zero returns u
// unchanged.
func (u U256) Div(n int64) U256 {
	if n == 0 {
		return u
	}
	return NewU256(new(big.Int).Div(u.Int(), big.NewInt(n)))
}

// MulDiv returns u * num / den, truncated toward zero, saturating at
// 2^256-1. It is used for the retargeting ratio, where num/den is not an
// integer on its own.
func (u U256) MulDiv(num, den int64) U256 {
	if den == 0 {
		return u
	}
	scaled := new(big.Int).Mul(u.Int(), big.NewInt(num))
	return NewU256(scaled.Quo(scaled, big.NewInt(den)))
}

// Min returns the smaller of u and other.
func (u U256) Min(other U256) U256 {
	if u.Cmp(other) <= 0 {
		return u
	}
	return other
}

// MarshalCBOR encodes the target as a fixed 32-byte big-endian CBOR byte
// string, so encoding is stable regardless of the integer's magnitude.
func (u U256) MarshalCBOR() ([]byte, error) {
	buf := make([]byte, u256Bytes)
	u.Int().FillBytes(buf)
	return cbor.Marshal(buf)
}

// UnmarshalCBOR decodes a fixed 32-byte big-endian CBOR byte string.
func (u *U256) UnmarshalCBOR(data []byte) error {
	var buf []byte
	if err := cbor.Unmarshal(data, &buf); err != nil {
		return err
	}
	*u = NewU256(new(big.Int).SetBytes(buf))
	return nil
}

// String renders the target in hex.
func (u U256) String() string {
	return u.Int().Text(16)
}
