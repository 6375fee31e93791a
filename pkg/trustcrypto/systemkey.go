package trustcrypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// SystemSigner wraps the optional well-known system signing key used to
// co-sign receipts (spec §4.3). Per §4.2, "absent configuration causes
// signing to be skipped (receipts remain valid without a system
// signature)" — so SystemSigner is safe to use in its zero form.
type SystemSigner struct {
	signer *Signer // nil means unconfigured
}

// NewSystemSigner wraps an already-constructed Signer. Pass nil to
// represent "no system key configured".
func NewSystemSigner(signer *Signer) *SystemSigner {
	return &SystemSigner{signer: signer}
}

// Configured reports whether a system key is present.
func (s *SystemSigner) Configured() bool {
	return s != nil && s.signer != nil
}

// Sign signs hash bytes with the system key, returning ("", nil) when
// unconfigured rather than an error — callers treat absence as a valid,
// documented outcome, not a failure.
func (s *SystemSigner) Sign(hash []byte) (string, error) {
	if !s.Configured() {
		return "", nil
	}
	return s.signer.SignHex(hash), nil
}

// PublicKeyHex returns the system public key, or "" if unconfigured.
func (s *SystemSigner) PublicKeyHex() string {
	if !s.Configured() {
		return ""
	}
	return s.signer.PublicKeyHex()
}

// DeriveCheckpointSubkey derives a per-checkpoint-window audit label
// from the system key via HKDF-SHA256, mirroring the reference repo's
// governance/keyring.go use of x/crypto/hkdf for key separation. This
// lets a checkpoint receipt carry a window-scoped audit tag without
// ever exposing the root system key material, and without needing a
// second independently-custodied secret.
func (s *SystemSigner) DeriveCheckpointSubkey(windowLabel string) (string, error) {
	if !s.Configured() {
		return "", nil
	}
	kdf := hkdf.New(sha256.New, s.signer.priv.Seed(), nil, []byte("trust:checkpoint:"+windowLabel))
	out := make([]byte, 16)
	if _, err := io.ReadFull(kdf, out); err != nil {
		return "", fmt.Errorf("trustcrypto: hkdf derive: %w", err)
	}
	return fmt.Sprintf("%x", out), nil
}
