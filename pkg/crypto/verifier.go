package crypto

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"

	"github.com/Mindburn-Labs/attestgate/pkg/canonicalize"
)

// Verifier checks signatures produced by a Signer.
type Verifier interface {
	Verify(message []byte, signature []byte) bool
	VerifyCanonical(v any, sigHex string) (bool, error)
}

// Ed25519Verifier implements Verifier using Ed25519.
type Ed25519Verifier struct {
	PublicKey ed25519.PublicKey
}

// NewEd25519Verifier creates a new verifier.
func NewEd25519Verifier(pubKeyBytes []byte) (*Ed25519Verifier, error) {
	if len(pubKeyBytes) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid public key size: %d", len(pubKeyBytes))
	}
	return &Ed25519Verifier{PublicKey: ed25519.PublicKey(pubKeyBytes)}, nil
}

// NewEd25519VerifierFromHex creates a verifier from a hex public key, as
// published by the signer's key endpoint.
func NewEd25519VerifierFromHex(pubKeyHex string) (*Ed25519Verifier, error) {
	b, err := hex.DecodeString(pubKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid public key hex: %w", err)
	}
	return NewEd25519Verifier(b)
}

func (v *Ed25519Verifier) Verify(message []byte, signature []byte) bool {
	return ed25519.Verify(v.PublicKey, message, signature)
}

// VerifyCanonical verifies sigHex over the JCS form of payload.
func (v *Ed25519Verifier) VerifyCanonical(payload any, sigHex string) (bool, error) {
	if sigHex == "" {
		return false, fmt.Errorf("missing signature")
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, err
	}
	msg, err := canonicalize.JCS(payload)
	if err != nil {
		return false, err
	}
	return v.Verify(msg, sig), nil
}
