package signing_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/attestgate/pkg/attesterr"
	"github.com/Mindburn-Labs/attestgate/pkg/contracts"
	"github.com/Mindburn-Labs/attestgate/pkg/crypto"
	"github.com/Mindburn-Labs/attestgate/pkg/request"
	"github.com/Mindburn-Labs/attestgate/pkg/signing"
)

type memLog struct {
	mu     sync.Mutex
	issued []*contracts.SignedRequest
	err    error
}

func (m *memLog) RecordIssuance(_ context.Context, s *contracts.SignedRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.issued = append(m.issued, s)
	return nil
}

var now = time.UnixMilli(1_700_000_000_000)

func newRequest(appID string, ts time.Time) *contracts.AttestationRequest {
	return request.NewBuilder(request.WithClock(func() time.Time { return ts })).
		Build("tpl", "0xabc", []contracts.HTTPCaptureSpec{{URL: "https://a.example", Method: "GET"}}, appID)
}

func TestNewService_RequiresSecret(t *testing.T) {
	_, err := signing.NewService("app", "")
	assert.ErrorIs(t, err, attesterr.ErrSignerNotConfigured)
	assert.False(t, err.(*attesterr.Error).Retryable())

	_, err = signing.NewService("", "secret")
	assert.ErrorIs(t, err, attesterr.ErrSignerNotConfigured)
}

func TestSign_BindsRequestIDAndSignature(t *testing.T) {
	log := &memLog{}
	svc, err := signing.NewService("app", "secret",
		signing.WithClock(func() time.Time { return now }),
		signing.WithIssuanceLog(log))
	require.NoError(t, err)

	signed, err := svc.Sign(context.Background(), newRequest("app", now))
	require.NoError(t, err)

	assert.NotEmpty(t, signed.RequestID)
	assert.NotEmpty(t, signed.Signature)
	assert.Equal(t, contracts.AlgorithmProxyTLS, signed.AlgorithmType)
	require.Len(t, log.issued, 1)
	assert.Equal(t, signed.RequestID, log.issued[0].RequestID)

	v, err := crypto.NewEd25519VerifierFromHex(svc.PublicKey())
	require.NoError(t, err)
	ok, err := v.VerifyCanonical(signed.Payload(), signed.Signature)
	require.NoError(t, err)
	assert.True(t, ok)

	again, err := svc.Sign(context.Background(), newRequest("app", now))
	require.NoError(t, err)
	assert.NotEqual(t, signed.RequestID, again.RequestID)
}

func TestSign_Rejections(t *testing.T) {
	svc, err := signing.NewService("app", "secret", signing.WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	tests := []struct {
		name string
		req  *contracts.AttestationRequest
		code string
	}{
		{"other app", newRequest("other", now), "app_mismatch"},
		{"expired", newRequest("app", now.Add(-11*time.Minute)), "request_expired"},
		{"future", newRequest("app", now.Add(2*time.Minute)), "request_in_future"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Sign(context.Background(), tt.req)
			var ae *attesterr.Error
			require.True(t, errors.As(err, &ae))
			assert.Equal(t, attesterr.KindValidation, ae.Kind)
			assert.Equal(t, tt.code, ae.Code)
		})
	}

	invalid := newRequest("app", now)
	invalid.SubjectAddress = ""
	_, err = svc.Sign(context.Background(), invalid)
	assert.Equal(t, attesterr.KindValidation, attesterr.KindOf(err))
}

func TestSign_IssuanceLogFailure(t *testing.T) {
	svc, err := signing.NewService("app", "secret",
		signing.WithClock(func() time.Time { return now }),
		signing.WithIssuanceLog(&memLog{err: errors.New("disk full")}),
		signing.WithMaxRequestAge(time.Hour))
	require.NoError(t, err)

	_, err = svc.Sign(context.Background(), newRequest("app", now.Add(-30*time.Minute)))
	assert.Equal(t, attesterr.KindSigner, attesterr.KindOf(err))
}

func TestService_KeyMetadata(t *testing.T) {
	a, err := signing.NewService("app", "secret")
	require.NoError(t, err)
	b, err := signing.NewService("app", "secret")
	require.NoError(t, err)

	assert.Equal(t, a.PublicKey(), b.PublicKey(), "replicas share a derived key")
	assert.Equal(t, "app", a.AppID())
	assert.Equal(t, "ed25519", a.Algorithm())
	assert.NotNil(t, a.Verifier())
}
