// Package keys implements secp256k1 ECDSA keypairs, signing, and the
// on-disk/on-wire key encodings spec'd for wallet interop: private keys as
// CBOR-wrapped raw scalars, public keys as PEM-encoded SubjectPublicKeyInfo.
package keys

import (
	"encoding/asn1"
	"encoding/pem"
	"errors"
	"fmt"

	secp256k1 "github.com/decred/dcrd/dcrec/secp256k1/v4"
	dcrecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/fxamacker/cbor/v2"

	"github.com/tinycoin/tinycoin/internal/primitives"
)

// idECPublicKey and secp256k1OID identify the key type and curve in the
// SubjectPublicKeyInfo, per RFC 5480. The standard library's x509 package
// cannot encode secp256k1 keys (it only recognizes the NIST P-curves), so
// the SubjectPublicKeyInfo is built by hand here with encoding/asn1.
var (
	idECPublicKey = asn1.ObjectIdentifier{1, 2, 840, 10045, 2, 1}
	secp256k1OID  = asn1.ObjectIdentifier{1, 3, 132, 0, 10}
)

type pkixAlgorithmIdentifier struct {
	Algorithm  asn1.ObjectIdentifier
	Parameters asn1.ObjectIdentifier
}

type pkixPublicKey struct {
	Algorithm        pkixAlgorithmIdentifier
	SubjectPublicKey asn1.BitString
}

// PublicKey wraps a secp256k1 public key.
type PublicKey struct {
	key *secp256k1.PublicKey
}

// PrivateKey wraps a secp256k1 private key.
type PrivateKey struct {
	key *secp256k1.PrivateKey
}

// Signature wraps a secp256k1 ECDSA signature.
type Signature struct {
	sig *dcrecdsa.Signature
}

// NewPrivateKey generates a fresh secp256k1 keypair.
func NewPrivateKey() (PrivateKey, error) {
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return PrivateKey{}, fmt.Errorf("generate private key: %w", err)
	}
	return PrivateKey{key: key}, nil
}

// PublicKey returns the public key corresponding to priv.
func (priv PrivateKey) PublicKey() PublicKey {
	return PublicKey{key: priv.key.PubKey()}
}

// Sign signs hash (a raw previous-output hash, per spec) and returns the
// signature. No additional digest is computed over hash; it is the message.
func (priv PrivateKey) Sign(hash primitives.Hash) Signature {
	sig := dcrecdsa.Sign(priv.key, hash[:])
	return Signature{sig: sig}
}

// Verify reports whether sig is a valid signature over hash under pub.
func (sig Signature) Verify(hash primitives.Hash, pub PublicKey) bool {
	if sig.sig == nil || pub.key == nil {
		return false
	}
	return sig.sig.Verify(hash[:], pub.key)
}

// MarshalCBOR encodes the signature as DER bytes wrapped in a CBOR byte
// string, the same wrap-the-raw-bytes pattern PrivateKey and PublicKey use.
func (sig Signature) MarshalCBOR() ([]byte, error) {
	if sig.sig == nil {
		return nil, errors.New("keys: nil signature")
	}
	return cbor.Marshal(sig.sig.Serialize())
}

// UnmarshalCBOR decodes a DER-encoded signature.
func (sig *Signature) UnmarshalCBOR(data []byte) error {
	var raw []byte
	if err := cbor.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := dcrecdsa.ParseDERSignature(raw)
	if err != nil {
		return fmt.Errorf("keys: parse signature: %w", err)
	}
	sig.sig = parsed
	return nil
}

// Equal reports whether two public keys represent the same point.
func (pub PublicKey) Equal(other PublicKey) bool {
	if pub.key == nil || other.key == nil {
		return pub.key == other.key
	}
	return pub.key.IsEqual(other.key)
}

// MarshalCBOR encodes the private key's raw 32-byte scalar wrapped in a
// CBOR byte string, per the key-file format.
func (priv PrivateKey) MarshalCBOR() ([]byte, error) {
	if priv.key == nil {
		return nil, errors.New("keys: nil private key")
	}
	return cbor.Marshal(priv.key.Serialize())
}

// UnmarshalCBOR decodes a raw 32-byte scalar wrapped in a CBOR byte string.
func (priv *PrivateKey) UnmarshalCBOR(data []byte) error {
	var raw []byte
	if err := cbor.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 32 {
		return fmt.Errorf("keys: private key scalar must be 32 bytes, got %d", len(raw))
	}
	priv.key = secp256k1.PrivKeyFromBytes(raw)
	return nil
}

// MarshalCBOR embeds the public key as compressed SEC1 bytes, matching the
// compact encoding used within wire messages (entities never carry the PEM
// text on the wire, only between files and external tools).
func (pub PublicKey) MarshalCBOR() ([]byte, error) {
	if pub.key == nil {
		return nil, errors.New("keys: nil public key")
	}
	return cbor.Marshal(pub.key.SerializeCompressed())
}

// UnmarshalCBOR decodes a compressed SEC1 public key.
func (pub *PublicKey) UnmarshalCBOR(data []byte) error {
	var raw []byte
	if err := cbor.Unmarshal(data, &raw); err != nil {
		return err
	}
	key, err := secp256k1.ParsePubKey(raw)
	if err != nil {
		return fmt.Errorf("keys: parse public key: %w", err)
	}
	pub.key = key
	return nil
}

// EncodePEM renders the public key as a PEM "PUBLIC KEY" block containing a
// SubjectPublicKeyInfo, for external wallet/tool import.
func (pub PublicKey) EncodePEM() ([]byte, error) {
	if pub.key == nil {
		return nil, errors.New("keys: nil public key")
	}

	der, err := asn1.Marshal(pkixPublicKey{
		Algorithm: pkixAlgorithmIdentifier{
			Algorithm:  idECPublicKey,
			Parameters: secp256k1OID,
		},
		SubjectPublicKey: asn1.BitString{
			Bytes:     pub.key.SerializeUncompressed(),
			BitLength: len(pub.key.SerializeUncompressed()) * 8,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("keys: marshal SubjectPublicKeyInfo: %w", err)
	}

	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// DecodePEM parses a PEM "PUBLIC KEY" block containing a secp256k1
// SubjectPublicKeyInfo.
func DecodePEM(data []byte) (PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "PUBLIC KEY" {
		return PublicKey{}, errors.New("keys: not a PEM PUBLIC KEY block")
	}

	var pk pkixPublicKey
	if _, err := asn1.Unmarshal(block.Bytes, &pk); err != nil {
		return PublicKey{}, fmt.Errorf("keys: unmarshal SubjectPublicKeyInfo: %w", err)
	}
	if !pk.Algorithm.Parameters.Equal(secp256k1OID) {
		return PublicKey{}, errors.New("keys: not a secp256k1 key")
	}

	key, err := secp256k1.ParsePubKey(pk.SubjectPublicKey.Bytes)
	if err != nil {
		return PublicKey{}, fmt.Errorf("keys: parse public key: %w", err)
	}
	return PublicKey{key: key}, nil
}
