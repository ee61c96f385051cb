package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/Mindburn-Labs/attestgate/pkg/crypto"
)

// loadOrGenerateArchiveKey returns the key that seals archived evidence,
// creating <dataDir>/archive.key on first start outside production.
func loadOrGenerateArchiveKey(dataDir string) (*crypto.Ed25519Signer, error) {
	keyPath := filepath.Join(dataDir, "archive.key")
	if keyHex, err := os.ReadFile(keyPath); err == nil {
		seed, err := hex.DecodeString(strings.TrimSpace(string(keyHex)))
		if err != nil || len(seed) != ed25519.SeedSize {
			return nil, fmt.Errorf("invalid archive.key format")
		}
		slog.Info("archive: loaded persistent key", "path", keyPath)
		return crypto.NewEd25519SignerFromKey(ed25519.NewKeyFromSeed(seed), "archive"), nil
	}

	if os.Getenv("ATTESTGATE_PRODUCTION") == "1" {
		return nil, fmt.Errorf("production mode requires %s to exist", keyPath)
	}

	//nolint:gosec // data directory is operator-owned
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(keyPath, []byte(hex.EncodeToString(priv.Seed())), 0600); err != nil {
		return nil, fmt.Errorf("failed to save archive.key: %w", err)
	}
	slog.Warn("archive: generated new key; provide a managed key in production", "path", keyPath)
	return crypto.NewEd25519SignerFromKey(priv, "archive"), nil
}
