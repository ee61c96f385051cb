package artifacts

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/attestgate/pkg/contracts"
	"github.com/Mindburn-Labs/attestgate/pkg/crypto"
)

// TypeAttestationEvidence is the envelope type of an archived attestation.
const TypeAttestationEvidence = "evidence/attestation"

// MaxPayloadSize bounds an archived payload.
const MaxPayloadSize = 10 * 1024 * 1024

// Envelope wraps archived evidence.
type Envelope struct {
	Type           string          `json:"type"`
	SchemaVersion  string          `json:"schema_version"`
	ProducerID     string          `json:"producer_id"`
	Timestamp      time.Time       `json:"timestamp"`
	Payload        json.RawMessage `json:"payload"`
	Signature      string          `json:"signature,omitempty"`
	SignatureKeyID string          `json:"signature_key_id,omitempty"`
}

// AttestationEvidence is the payload of a TypeAttestationEvidence envelope:
// the request as signed and the attestation that satisfied it.
type AttestationEvidence struct {
	Signed      *contracts.SignedRequest `json:"signed"`
	Attestation *contracts.Attestation   `json:"attestation"`
	SubjectID   string                   `json:"subject_id,omitempty"`
	Fact        string                   `json:"fact,omitempty"`
}

// Archive stores signed evidence envelopes in a Store.
type Archive struct {
	store      Store
	signer     crypto.Signer
	verifier   crypto.Verifier
	producerID string
	now        func() time.Time
}

// NewArchive creates an archive. signer may be nil, in which case envelopes
// are stored unsigned and VerifyEnvelope reports them invalid.
func NewArchive(store Store, signer crypto.Signer, verifier crypto.Verifier, producerID string) *Archive {
	return &Archive{
		store:      store,
		signer:     signer,
		verifier:   verifier,
		producerID: producerID,
		now:        time.Now,
	}
}

// Put signs and stores an envelope of the given type around payload.
func (a *Archive) Put(ctx context.Context, typ string, payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}
	if len(raw) > MaxPayloadSize {
		return "", fmt.Errorf("artifact payload exceeds limit of %d bytes", MaxPayloadSize)
	}

	env := &Envelope{
		Type:          typ,
		SchemaVersion: "v1",
		ProducerID:    a.producerID,
		Timestamp:     a.now().UTC(),
		Payload:       raw,
	}
	if a.signer != nil {
		sig, err := a.signer.Sign(env.Payload)
		if err != nil {
			return "", fmt.Errorf("artifacts: sign failed: %w", err)
		}
		env.Signature = sig
		env.SignatureKeyID = a.signer.PublicKey()
	}

	data, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return a.store.Store(ctx, data)
}

// PutAttestation archives a verified attestation with its signed request.
func (a *Archive) PutAttestation(ctx context.Context, ev AttestationEvidence) (string, error) {
	if ev.Signed == nil || ev.Attestation == nil {
		return "", errors.New("artifacts: signed request and attestation are required")
	}
	return a.Put(ctx, TypeAttestationEvidence, ev)
}

// Get loads an envelope.
func (a *Archive) Get(ctx context.Context, ref string) (*Envelope, error) {
	data, err := a.store.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("corrupt artifact data: %w", err)
	}
	return &env, nil
}

// Verify checks an archived envelope's signature. Unsigned envelopes and a
// missing verifier fail closed.
func (a *Archive) Verify(ctx context.Context, ref string) (bool, []string, error) {
	env, err := a.Get(ctx, ref)
	if err != nil {
		return false, nil, err
	}
	var reasons []string
	if env.Type == "" {
		reasons = append(reasons, "missing type")
	}
	if env.Signature == "" {
		return false, append(reasons, "missing signature"), nil
	}
	if a.verifier == nil {
		return false, append(reasons, "signature verifier not configured"), nil
	}
	sig, err := hex.DecodeString(env.Signature)
	if err != nil {
		return false, append(reasons, "signature decode failed"), nil
	}
	if !a.verifier.Verify(env.Payload, sig) {
		reasons = append(reasons, "signature invalid")
	}
	return len(reasons) == 0, reasons, nil
}
