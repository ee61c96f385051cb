package verifier_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/attestgate/pkg/contracts"
	"github.com/Mindburn-Labs/attestgate/pkg/request"
	"github.com/Mindburn-Labs/attestgate/pkg/signing"
	"github.com/Mindburn-Labs/attestgate/pkg/verifier"
)

const kycURL = "https://www.binance.com/bapi/kyc/v2/private/certificate/user-kyc/current-kyc-status"

func fixture(t *testing.T) (*signing.Service, *contracts.SignedRequest, *contracts.Attestation) {
	t.Helper()
	now := time.UnixMilli(1_700_000_000_000)
	svc, err := signing.NewService("app", "secret", signing.WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	req := request.NewBuilder(request.WithClock(func() time.Time { return now })).Build("tpl", "0xabc",
		[]contracts.HTTPCaptureSpec{{URL: kycURL, Method: "GET", Headers: map[string]string{"Content-Type": "application/json"}}}, "app")
	signed, err := svc.Sign(context.Background(), req)
	require.NoError(t, err)

	att := &contracts.Attestation{
		VerificationContent: "Binance KYC Verification",
		DataSourceID:        "binance",
		RequestID:           signed.RequestID,
		Signature:           signed.Signature,
		Requests: []contracts.CapturedExchange{{
			HTTPCaptureSpec: contracts.HTTPCaptureSpec{URL: kycURL, Method: "get"},
			Response:        &contracts.CapturedResponse{Status: 200},
		}},
	}
	return svc, signed, att
}

func TestVerify_Authentic(t *testing.T) {
	svc, signed, att := fixture(t)
	v := verifier.New(svc.Verifier())

	report := v.Report(signed, att)
	assert.True(t, report.Verified, report.FirstFailure())
	assert.Equal(t, 0, report.IssueCount)
	assert.Equal(t, "", report.FirstFailure())
	assert.True(t, v.Verify(signed, att))
	assert.True(t, v.Verify(signed, att), "idempotent")
}

func TestVerify_Tampering(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(s *contracts.SignedRequest, a *contracts.Attestation)
	}{
		{"foreign request id", func(_ *contracts.SignedRequest, a *contracts.Attestation) { a.RequestID = "other" }},
		{"foreign signature", func(_ *contracts.SignedRequest, a *contracts.Attestation) { a.Signature = "00" }},
		{"request altered after signing", func(s *contracts.SignedRequest, _ *contracts.Attestation) { s.SubjectAddress = "0xevil" }},
		{"capture swapped", func(_ *contracts.SignedRequest, a *contracts.Attestation) { a.Requests[0].URL = "https://evil.example" }},
		{"missing response", func(_ *contracts.SignedRequest, a *contracts.Attestation) { a.Requests[0].Response = nil }},
		{"method differs", func(_ *contracts.SignedRequest, a *contracts.Attestation) { a.Requests[0].Method = "POST" }},
		{"unsigned", func(s *contracts.SignedRequest, a *contracts.Attestation) { s.Signature = ""; a.Signature = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, signed, att := fixture(t)
			tt.mutate(signed, att)
			report := verifier.New(svc.Verifier()).Report(signed, att)
			assert.False(t, report.Verified)
			assert.NotEmpty(t, report.FirstFailure())
		})
	}
}

func TestVerify_AttestationWithoutRequestID(t *testing.T) {
	svc, signed, att := fixture(t)
	att.RequestID = ""
	assert.True(t, verifier.New(svc.Verifier()).Verify(signed, att))
}

func TestVerify_AppSignatureAlias(t *testing.T) {
	svc, signed, att := fixture(t)
	signed.AppSignature, signed.Signature = signed.Signature, ""
	assert.True(t, verifier.New(svc.Verifier()).Verify(signed, att))
}

func TestVerify_OtherSignerKey(t *testing.T) {
	_, signed, att := fixture(t)
	other, err := signing.NewService("app", "another-secret")
	require.NoError(t, err)

	v, err := verifier.NewFromHex(other.PublicKey())
	require.NoError(t, err)
	assert.False(t, v.Verify(signed, att))
}

func TestVerify_RegexCapture(t *testing.T) {
	svc, signed, att := fixture(t)
	signed.AttMode.HTTPRequests[0].URLType = contracts.URLRegex
	signed.AttMode.HTTPRequests[0].URL = `^https://www\.binance\.com/bapi/kyc/.*$`
	report := verifier.New(svc.Verifier()).Report(signed, att)
	// Changing the request invalidates the signer signature, but the
	// exchange itself must match the pattern.
	for _, c := range report.Checks {
		if c.Name == "exchange:0" {
			assert.True(t, c.Pass)
		}
	}
}

func TestVerify_NilInputs(t *testing.T) {
	svc, signed, _ := fixture(t)
	v := verifier.New(svc.Verifier())
	assert.False(t, v.Verify(nil, nil))
	assert.False(t, v.Verify(signed, nil))
	assert.False(t, verifier.New(nil).Verify(signed, &contracts.Attestation{Signature: signed.Signature}))
}

func TestFunc(t *testing.T) {
	var f verifier.AttestationVerifier = verifier.Func(func(*contracts.SignedRequest, *contracts.Attestation) bool { return true })
	assert.True(t, f.Verify(nil, nil))
}
