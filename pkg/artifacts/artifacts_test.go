package artifacts

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/attestgate/pkg/contracts"
	"github.com/Mindburn-Labs/attestgate/pkg/crypto"
)

func TestFileStore_ContentAddressed(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	ref, err := s.Store(ctx, []byte(`{"a":1}`))
	require.NoError(t, err)
	assert.Regexp(t, `^sha256:[0-9a-f]{64}$`, ref)

	again, err := s.Store(ctx, []byte(`{"a":1}`))
	require.NoError(t, err)
	assert.Equal(t, ref, again)

	data, err := s.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(data))

	ok, err := s.Exists(ctx, ref)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Delete(ctx, ref))
	_, err = s.Get(ctx, ref)
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, s.Delete(ctx, ref), "deleting twice is fine")
}

func TestFileStore_RejectsBadRefs(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	for _, ref := range []string{"", "md5:abc", "sha256:zz", "sha256:../../etc/passwd"} {
		_, err := s.Get(ctx, ref)
		assert.Error(t, err, ref)
		_, err = s.Exists(ctx, ref)
		assert.Error(t, err, ref)
	}
}

func TestNewStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewStore(ctx, Config{DataDir: dir})
	require.NoError(t, err)
	fs, ok := s.(*FileStore)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "artifacts"), fs.baseDir)

	_, err = NewStore(ctx, Config{Type: StoreTypeS3})
	assert.ErrorContains(t, err, "ARTIFACT_S3_BUCKET")

	_, err = NewStore(ctx, Config{Type: "tape"})
	assert.ErrorContains(t, err, "unsupported")
}

func evidence() AttestationEvidence {
	return AttestationEvidence{
		Signed: &contracts.SignedRequest{RequestID: "req-1", Signature: "ab"},
		Attestation: &contracts.Attestation{
			DataSourceID: "binance",
			RequestID:    "req-1",
		},
		SubjectID: "u-1",
		Fact:      "APPROVED",
	}
}

func TestArchive_SignedRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	signer, err := crypto.NewEd25519Signer("archive")
	require.NoError(t, err)
	verifier, err := crypto.NewEd25519Verifier(signer.PublicKeyBytes())
	require.NoError(t, err)

	a := NewArchive(store, signer, verifier, "attestgate")
	ref, err := a.PutAttestation(ctx, evidence())
	require.NoError(t, err)

	env, err := a.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, TypeAttestationEvidence, env.Type)
	assert.Equal(t, signer.PublicKey(), env.SignatureKeyID)

	var ev AttestationEvidence
	require.NoError(t, json.Unmarshal(env.Payload, &ev))
	assert.Equal(t, "req-1", ev.Attestation.RequestID)

	ok, reasons, err := a.Verify(ctx, ref)
	require.NoError(t, err)
	assert.True(t, ok, reasons)
}

func TestArchive_TamperedEnvelopeFails(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	signer, err := crypto.NewEd25519Signer("archive")
	require.NoError(t, err)
	verifier, err := crypto.NewEd25519Verifier(signer.PublicKeyBytes())
	require.NoError(t, err)
	a := NewArchive(store, signer, verifier, "attestgate")

	ref, err := a.PutAttestation(ctx, evidence())
	require.NoError(t, err)
	env, err := a.Get(ctx, ref)
	require.NoError(t, err)

	env.Payload = json.RawMessage(`{"subject_id":"mallory"}`)
	data, err := json.Marshal(env)
	require.NoError(t, err)
	// Overwrite the blob in place to simulate tampering at rest.
	digest, err := parseRef(ref)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, digest+".blob"), data, 0o644))

	ok, reasons, err := a.Verify(ctx, ref)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Contains(t, reasons, "signature invalid")
}

func TestArchive_UnsignedFailsClosed(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	a := NewArchive(store, nil, nil, "attestgate")

	ref, err := a.PutAttestation(ctx, evidence())
	require.NoError(t, err)
	ok, reasons, err := a.Verify(ctx, ref)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Contains(t, reasons, "missing signature")

	_, err = a.PutAttestation(ctx, AttestationEvidence{})
	assert.Error(t, err)
}
