// Package keygen implements the MeshCore Ed25519 key derivation and its
// protocol compatibility checks.
//
// The derivation is the interoperability contract with MeshCore firmware and
// must be reproduced bit-for-bit by every implementation in this repository:
//
//  1. SHA-512 the 32-byte seed.
//  2. Clamp the first 32 bytes of the digest (clear the low 3 bits, clear the
//     top bit, set bit 6 of the last byte).
//  3. Public key = clamped scalar times the Ed25519 basepoint, compressed.
//  4. Private key = clamped scalar followed by the second digest half.
package keygen

import (
	"crypto/sha512"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"golang.org/x/crypto/curve25519"

	"github.com/vltier/meshcore-keygen/pkg/types"
)

// ErrInvalidSeed reports a seed of the wrong length. With fixed-size buffers
// throughout the hot path this is unreachable; hitting it means an internal
// invariant was broken, not a recoverable condition.
var ErrInvalidSeed = errors.New("keygen: seed must be exactly 32 bytes")

// ValidationError explains why a keypair failed MeshCore validation.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "keygen: meshcore validation failed: " + e.Reason
}

// MeshCore reserves 0x00 and 0xFF as the first public key byte.
const (
	reservedPrefixZero = 0x00
	reservedPrefixFF   = 0xff
)

// Fixed client keypair used by MeshCore firmware for ECDH self-tests. The
// exchange against it catches silent clamping or curve arithmetic errors that
// a structural check would miss.
var (
	testClientPriv = [64]byte{
		0x70, 0x65, 0xe1, 0x8f, 0xd9, 0xfa, 0xbb, 0x70, 0xc1, 0xed, 0x90, 0xdc, 0xa1, 0x99, 0x07, 0xde,
		0x69, 0x8c, 0x88, 0xb7, 0x09, 0xea, 0x14, 0x6e, 0xaf, 0xd9, 0x3d, 0x9b, 0x83, 0x0c, 0x7b, 0x60,
		0xc4, 0x68, 0x11, 0x93, 0xc7, 0x9b, 0xbc, 0x39, 0x94, 0x5b, 0xa8, 0x06, 0x41, 0x04, 0xbb, 0x61,
		0x8f, 0x8f, 0xd7, 0xa8, 0x4a, 0x0a, 0xf6, 0xf5, 0x70, 0x33, 0xd6, 0xe8, 0xdd, 0xcd, 0x64, 0x71,
	}
	testClientPub = [32]byte{
		0x1e, 0xc7, 0x71, 0x75, 0xb0, 0x91, 0x8e, 0xd2, 0x06, 0xf9, 0xae, 0x04, 0xec, 0x13, 0x6d, 0x6d,
		0x5d, 0x43, 0x15, 0xbb, 0x26, 0x30, 0x54, 0x27, 0xf6, 0x45, 0xb4, 0x92, 0xe9, 0x35, 0x0c, 0x10,
	}
)

// Clamp applies the Ed25519 scalar clamping rules in place.
func Clamp(scalar *[32]byte) {
	scalar[0] &= 248
	scalar[31] &= 63
	scalar[31] |= 64
}

// Derive deterministically derives a MeshCore keypair from a seed. It is pure:
// the same seed always yields byte-identical output.
func Derive(seed [32]byte) types.KeyPair {
	digest := sha512.Sum512(seed[:])

	var clamped [32]byte
	copy(clamped[:], digest[:32])
	Clamp(&clamped)

	// SetBytesWithClamping clamps a copy of its input and reduces it mod the
	// group order; on an already clamped scalar that is exactly the MeshCore
	// interpretation. The error is impossible for 32-byte input.
	s, err := edwards25519.NewScalar().SetBytesWithClamping(clamped[:])
	if err != nil {
		panic(fmt.Sprintf("keygen: scalar from clamped digest: %v", err))
	}

	var kp types.KeyPair
	copy(kp.Public[:], new(edwards25519.Point).ScalarBaseMult(s).Bytes())
	copy(kp.Private[:32], clamped[:])
	copy(kp.Private[32:], digest[32:])
	return kp
}

// DeriveSeed is the slice-accepting form of Derive for callers that hold raw
// buffers. Wrong-length input returns ErrInvalidSeed.
func DeriveSeed(seed []byte) (types.KeyPair, error) {
	if len(seed) != 32 {
		return types.KeyPair{}, fmt.Errorf("%w: got %d", ErrInvalidSeed, len(seed))
	}
	var s [32]byte
	copy(s[:], seed)
	return Derive(s), nil
}

// Verify recomputes the public key from the private scalar and compares. It
// guards against a corrupted or truncated private half.
func Verify(kp *types.KeyPair) bool {
	s, err := scalarFromPrivate(kp.Private[:32])
	if err != nil {
		return false
	}
	derived := new(edwards25519.Point).ScalarBaseMult(s).Bytes()
	for i := range kp.Public {
		if derived[i] != kp.Public[i] {
			return false
		}
	}
	return true
}

// Validate checks MeshCore compatibility: the reserved-prefix rule plus an
// X25519 self-exchange against the firmware test keypair. Both directions of
// the exchange must produce the same nonzero shared secret.
func Validate(kp *types.KeyPair) error {
	switch kp.Public[0] {
	case reservedPrefixZero:
		return &ValidationError{Reason: "public key starts with 0x00 (reserved)"}
	case reservedPrefixFF:
		return &ValidationError{Reason: "public key starts with 0xff (reserved)"}
	}

	ss1, err := exchange(kp.Private[:32], testClientPub[:])
	if err != nil {
		return &ValidationError{Reason: "ecdh with test public key: " + err.Error()}
	}
	ss2, err := exchange(testClientPriv[:32], kp.Public[:])
	if err != nil {
		return &ValidationError{Reason: "ecdh with test private key: " + err.Error()}
	}
	if ss1 != ss2 {
		return &ValidationError{Reason: "ecdh shared secrets do not match"}
	}
	if ss1 == ([32]byte{}) {
		return &ValidationError{Reason: "ecdh produced all-zero shared secret"}
	}
	return nil
}

// exchange performs the MeshCore ECDH: the Ed25519 public key is converted to
// its Montgomery form, then multiplied by the clamped scalar with X25519.
func exchange(scalar, edPub []byte) ([32]byte, error) {
	var out [32]byte
	p, err := new(edwards25519.Point).SetBytes(edPub)
	if err != nil {
		return out, fmt.Errorf("decompress public key: %w", err)
	}
	shared, err := curve25519.X25519(scalar, p.BytesMontgomery())
	if err != nil {
		return out, err
	}
	copy(out[:], shared)
	return out, nil
}

// scalarFromPrivate interprets the first 32 private key bytes as a scalar mod
// the group order, matching how MeshCore consumes stored keys.
func scalarFromPrivate(b []byte) (*edwards25519.Scalar, error) {
	var wide [64]byte
	copy(wide[:32], b)
	return edwards25519.NewScalar().SetUniformBytes(wide[:])
}
