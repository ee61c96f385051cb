package crypto

import (
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const signingKeyInfo = "attestgate-signing-key"

// DeriveSigningKey derives a deterministic Ed25519 key from the application
// secret using HKDF-SHA256 with the app id as salt. The same secret and app
// id always produce the same key, so every signer replica publishes the same
// public key.
func DeriveSigningKey(secret, appID string) (ed25519.PrivateKey, error) {
	if secret == "" {
		return nil, fmt.Errorf("secret must not be empty")
	}
	if appID == "" {
		return nil, fmt.Errorf("appID must not be empty")
	}

	r := hkdf.New(sha256.New, []byte(secret), []byte(appID), []byte(signingKeyInfo))
	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(r, seed); err != nil {
		return nil, fmt.Errorf("HKDF derivation failed: %w", err)
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

// NewDerivedSigner returns an Ed25519Signer over DeriveSigningKey(secret, appID).
// The key id is the app id.
func NewDerivedSigner(secret, appID string) (*Ed25519Signer, error) {
	priv, err := DeriveSigningKey(secret, appID)
	if err != nil {
		return nil, err
	}
	return NewEd25519SignerFromKey(priv, appID), nil
}
