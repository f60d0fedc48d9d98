// Package primitives implements the hashing, proof-of-work target, and
// Merkle tree building blocks the ledger is built on.
package primitives

import (
	"crypto/sha256"
	"encoding/hex"
	"math/big"

	"github.com/fxamacker/cbor/v2"
)

// Hash is a 256-bit SHA-256 digest, compared as a big-endian unsigned
// integer against proof-of-work targets.
type Hash [32]byte

// ZeroHash is the all-zero sentinel used as the genesis block's
// prev_block_hash.
var ZeroHash = Hash{}

// IsZero reports whether h is the all-zero sentinel.
func (h Hash) IsZero() bool {
	return h == ZeroHash
}

// HashOf computes SHA-256 over the canonical CBOR encoding of v.
func HashOf(v interface{}) (Hash, error) {
	data, err := cbor.Marshal(v)
	if err != nil {
		return Hash{}, err
	}
	return sha256.Sum256(data), nil
}

// MustHashOf is HashOf for values whose encoding cannot fail (fixed-shape
// structs); it panics on error, matching the teacher's convention of
// panicking only on encoder bugs, never on caller input.
func MustHashOf(v interface{}) Hash {
	h, err := HashOf(v)
	if err != nil {
		panic(err)
	}
	return h
}

// Int converts the hash to a big-endian unsigned integer for target
// comparisons.
func (h Hash) Int() *big.Int {
	return new(big.Int).SetBytes(h[:])
}

// MatchesTarget reports whether h, read as a big-endian integer, is <=
// target.
func (h Hash) MatchesTarget(target *big.Int) bool {
	return h.Int().Cmp(target) <= 0
}

// String returns the hash as a hex string.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// MarshalCBOR encodes the hash as a CBOR byte string.
func (h Hash) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(h[:])
}

// UnmarshalCBOR decodes the hash from a CBOR byte string.
func (h *Hash) UnmarshalCBOR(data []byte) error {
	var b []byte
	if err := cbor.Unmarshal(data, &b); err != nil {
		return err
	}
	if len(b) != len(h) {
		return errInvalidHashLength
	}
	copy(h[:], b)
	return nil
}
