// Package trustcrypto implements the Trust Primitive crypto service
// (C2): Ed25519 sign/verify over canonical message forms, SHA-256
// hashing, and system-key custody for receipt signing. Grounded on the
// reference repo's pkg/crypto (Ed25519Signer/Ed25519Verifier/KeyRing).
package trustcrypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Verify checks a hex-encoded Ed25519 signature against a hex-encoded
// public key and raw message bytes. Per spec §4.2 it never raises for
// untrusted input: malformed hex, wrong-length keys/signatures, or any
// algorithmic failure all simply return false.
func Verify(publicKeyHex, signatureHex string, message []byte) bool {
	pubKey, err := hex.DecodeString(publicKeyHex)
	if err != nil || len(pubKey) != ed25519.PublicKeySize {
		return false
	}
	sig, err := hex.DecodeString(signatureHex)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pubKey), message, sig)
}

// VerifyBytes is the byte-key/byte-signature form used internally once
// keys have already been decoded (e.g. from a frozen-at-join-time
// registry entry).
func VerifyBytes(publicKey, signature, message []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize || len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(publicKey), message, signature)
}

// HashSHA256 returns the 32-byte SHA-256 digest of data.
func HashSHA256(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// HashSHA256Hex returns the lowercase-hex SHA-256 digest of data.
func HashSHA256Hex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Signer produces Ed25519 signatures. Principals hold their own
// Signer outside this module's address space (spec §5: "private keys
// never enter the core's address space" for the system key; the same
// boundary applies to principal keys, which the core only ever
// verifies against, never signs with). Signer exists here purely to
// support tests and the system-signing-key path.
type Signer struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// GenerateSigner creates a new random Ed25519 keypair. Used in tests
// and for provisioning the optional system signing key.
func GenerateSigner() (*Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("trustcrypto: key generation: %w", err)
	}
	return &Signer{priv: priv, pub: pub}, nil
}

// SignerFromSeed reconstructs a Signer from a 32-byte Ed25519 seed (the
// form SYSTEM_SIGNING_KEY is base64-decoded into).
func SignerFromSeed(seed []byte) (*Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("trustcrypto: seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Signer{priv: priv, pub: priv.Public().(ed25519.PublicKey)}, nil
}

// Sign signs raw bytes (already the canonical form of a named message).
func (s *Signer) Sign(message []byte) []byte {
	return ed25519.Sign(s.priv, message)
}

// SignHex signs and returns the hex-encoded signature.
func (s *Signer) SignHex(message []byte) string {
	return hex.EncodeToString(s.Sign(message))
}

// PublicKey returns the raw 32-byte public key.
func (s *Signer) PublicKey() ed25519.PublicKey {
	return s.pub
}

// PublicKeyHex returns the hex-encoded public key.
func (s *Signer) PublicKeyHex() string {
	return hex.EncodeToString(s.pub)
}
