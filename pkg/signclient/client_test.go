package signclient_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/attestgate/pkg/attesterr"
	"github.com/Mindburn-Labs/attestgate/pkg/contracts"
	"github.com/Mindburn-Labs/attestgate/pkg/request"
	"github.com/Mindburn-Labs/attestgate/pkg/signclient"
)

func newRequest() *contracts.AttestationRequest {
	return request.NewBuilder(request.WithClock(func() time.Time { return time.UnixMilli(1000) })).
		Build("tpl", "0xabc", []contracts.HTTPCaptureSpec{{URL: "https://a.example", Method: "GET"}}, "app")
}

func serve(t *testing.T, status int, body string) (*httptest.Server, *http.Request) {
	t.Helper()
	var got http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = *r.Clone(context.Background())
		var sb struct {
			SignParams string `json:"signParams"`
		}
		if r.URL.Path == "/sign" {
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&sb))
			var req contracts.AttestationRequest
			assert.NoError(t, json.Unmarshal([]byte(sb.SignParams), &req), "signParams carries the serialized request")
			assert.Equal(t, "tpl", req.TemplateID)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func TestSign_NormalizesAppSignature(t *testing.T) {
	srv, got := serve(t, http.StatusOK,
		`{"signResult":{"appId":"app","attTemplateID":"tpl","userAddress":"0xabc","timestamp":1000,
		"attMode":{"algorithmType":"proxytls"},"requestid":"req-1","appSignature":"beef"}}`)

	c := signclient.New(srv.URL, signclient.WithHTTPClient(srv.Client()))
	signed, err := c.Sign(context.Background(), newRequest())
	require.NoError(t, err)

	assert.Equal(t, "req-1", signed.RequestID)
	assert.Equal(t, "beef", signed.Signature)
	assert.Equal(t, contracts.AlgorithmProxyTLS, signed.AlgorithmType)
	assert.NotEmpty(t, got.Header.Get("Idempotency-Key"))
}

func TestSign_SignResultAsString(t *testing.T) {
	inner := `{"appId":"app","requestId":"req-2","signature":"cafe"}`
	b, _ := json.Marshal(map[string]string{"signResult": inner})
	srv, _ := serve(t, http.StatusOK, string(b))

	signed, err := signclient.New(srv.URL, signclient.WithHTTPClient(srv.Client())).Sign(context.Background(), newRequest())
	require.NoError(t, err)
	assert.Equal(t, "req-2", signed.RequestID)
	assert.Equal(t, "cafe", signed.Signature)
}

func TestSign_SynthesisesMissingRequestID(t *testing.T) {
	srv, _ := serve(t, http.StatusOK, `{"signResult":{"appId":"app","signature":"cafe"}}`)

	signed, err := signclient.New(srv.URL, signclient.WithHTTPClient(srv.Client())).Sign(context.Background(), newRequest())
	require.NoError(t, err)
	assert.Len(t, signed.RequestID, 36)
}

func TestSign_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   attesterr.Kind
		target error
		msg    string
	}{
		{"no signature", http.StatusOK, `{"signResult":{"requestId":"r"}}`, attesterr.KindSigner, attesterr.ErrIncompleteSignature, ""},
		{"missing signResult", http.StatusOK, `{}`, attesterr.KindSigner, attesterr.ErrMalformedSignerResponse, ""},
		{"not json", http.StatusOK, `<html>`, attesterr.KindSigner, attesterr.ErrMalformedSignerResponse, ""},
		{"bad request", http.StatusBadRequest, `{"error":"signParams is required"}`, attesterr.KindValidation, nil, "signParams is required"},
		{"server error", http.StatusInternalServerError, `{"error":"Failed to process request","details":"boom"}`, attesterr.KindSigner, nil, "Failed to process request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := serve(t, tt.status, tt.body)
			_, err := signclient.New(srv.URL, signclient.WithHTTPClient(srv.Client())).Sign(context.Background(), newRequest())
			require.Error(t, err)
			assert.Equal(t, tt.kind, attesterr.KindOf(err))
			if tt.target != nil {
				assert.ErrorIs(t, err, tt.target)
			}
			if tt.msg != "" {
				assert.Equal(t, tt.msg, attesterr.Message(err))
			}
		})
	}
}

func TestSign_ServerErrorKeepsDetails(t *testing.T) {
	srv, _ := serve(t, http.StatusInternalServerError, `{"error":"Failed to process request","details":"boom"}`)
	_, err := signclient.New(srv.URL, signclient.WithHTTPClient(srv.Client())).Sign(context.Background(), newRequest())

	var ae *attesterr.Error
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, "boom", ae.Detail)
	assert.True(t, ae.Retryable())
}

func TestSign_ValidatesBeforeSending(t *testing.T) {
	srv, got := serve(t, http.StatusOK, `{}`)
	req := newRequest()
	req.SubjectAddress = ""

	_, err := signclient.New(srv.URL).Sign(context.Background(), req)
	assert.Equal(t, attesterr.KindValidation, attesterr.KindOf(err))
	assert.Empty(t, got.Method, "nothing sent")
}

func TestSign_NotConfigured(t *testing.T) {
	_, err := signclient.New("").Sign(context.Background(), newRequest())
	assert.Equal(t, attesterr.KindConfiguration, attesterr.KindOf(err))
}

func TestPublicKey(t *testing.T) {
	srv, got := serve(t, http.StatusOK, `{"publicKey":"abcd","appId":"app","algorithm":"ed25519"}`)

	ki, err := signclient.New(srv.URL, signclient.WithHTTPClient(srv.Client())).PublicKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abcd", ki.PublicKey)
	assert.Equal(t, "/sign/key", got.URL.Path)
}
