package relay

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/Mindburn-Labs/attestgate/pkg/contracts"
)

const origin = "https://app.example"

func stateFor(t *testing.T, s contracts.SignedRequest) string {
	t.Helper()
	b, err := json.Marshal(s)
	require.NoError(t, err)
	return string(b)
}

var postRe = regexp.MustCompile(`postMessage\((.*), "https://app.example"\)`)

// posted extracts the message a relay page posts to its opener.
func posted(t *testing.T, body string) contracts.RelayMessage {
	t.Helper()
	m := postRe.FindStringSubmatch(body)
	require.Len(t, m, 2, body)
	var msg contracts.RelayMessage
	require.NoError(t, json.Unmarshal([]byte(m[1]), &msg))
	return msg
}

func call(t *testing.T, h *Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestBinanceCallback_EchoesState(t *testing.T) {
	h := NewHandler(origin, NewBinanceProvider())
	state := stateFor(t, contracts.SignedRequest{RequestID: "req-7", AppSignature: "beef"})

	rec := call(t, h, "/binance/callback?code=abc&state="+url.QueryEscape(state))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")

	msg := posted(t, rec.Body.String())
	assert.Equal(t, contracts.RelayTypeBinanceKYC, msg.Type)
	assert.True(t, msg.Success)
	att := msg.Attestation()
	require.NotNil(t, att)
	assert.Equal(t, "req-7", att.RequestID)
	assert.Equal(t, "beef", att.Signature)
	assert.Equal(t, contracts.AlgorithmProxyTLS, att.AlgorithmType)
	assert.Equal(t, "binance", att.DataSourceID)
	require.Len(t, att.Requests, 1)
	assert.Equal(t, BinanceKYCURL, att.Requests[0].URL)
	assert.Equal(t, map[string]any{"userId": "sampleUserId", "kycStatus": "APPROVED"}, att.VerificationValue)
}

func TestCallback_Rejections(t *testing.T) {
	h := NewHandler(origin, NewBinanceProvider())
	tests := []struct {
		name   string
		target string
		msg    string
	}{
		{"missing code", "/binance/callback?state=x", MsgMissingParams},
		{"missing state", "/binance/callback?code=x", MsgMissingParams},
		{"invalid state", "/binance/callback?code=x&state=" + url.QueryEscape("{nope"), MsgInvalidState},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := call(t, h, tt.target)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			msg := posted(t, rec.Body.String())
			assert.False(t, msg.Success)
			assert.Equal(t, tt.msg, msg.Error)
		})
	}

	assert.Equal(t, http.StatusNotFound, call(t, h, "/unknown/callback?code=a&state=b").Code)
}

func TestCallback_UnknownRequestIDFallsBack(t *testing.T) {
	h := NewHandler(origin, NewBinanceProvider())
	rec := call(t, h, "/binance/callback?code=abc&state="+url.QueryEscape(`{"appId":"app-1"}`))
	msg := posted(t, rec.Body.String())
	assert.Equal(t, "app-1", msg.Attestation().RequestID)

	rec = call(t, h, "/binance/callback?code=abc&state="+url.QueryEscape(`{}`))
	msg = posted(t, rec.Body.String())
	assert.Equal(t, "unknown", msg.Attestation().RequestID)
}

type recorderFunc func(ctx context.Context, provider string, att *contracts.Attestation, err error)

func (f recorderFunc) RecordRelay(ctx context.Context, provider string, att *contracts.Attestation, err error) {
	f(ctx, provider, att, err)
}

type failingKYC struct{}

func (failingKYC) KYCStatus(context.Context, string) (string, string, error) {
	return "", "", errors.New("upstream down")
}

func TestCallback_ProviderFailureUsesGenericMessage(t *testing.T) {
	var recorded error
	h := NewHandler(origin, &BinanceProvider{Source: failingKYC{}}).
		WithRecorder(recorderFunc(func(_ context.Context, _ string, _ *contracts.Attestation, err error) { recorded = err }))

	rec := call(t, h, "/binance/callback?code=abc&state="+url.QueryEscape(`{"requestId":"r"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Failed to verify Binance KYC", posted(t, rec.Body.String()).Error)
	assert.Error(t, recorded)
}

func TestDecodeState_DoubleEncoded(t *testing.T) {
	s, err := DecodeState(url.PathEscape(`{"requestId":"r-1"}`))
	require.NoError(t, err)
	assert.Equal(t, "r-1", s.RequestID)
}

// googleFixture serves a token endpoint and a JWKS endpoint backed by a
// fresh RSA key.
type googleFixture struct {
	key    *rsa.PrivateKey
	server *httptest.Server
	claims IDTokenClaims
}

func newGoogleFixture(t *testing.T) *googleFixture {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	f := &googleFixture{key: key}

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, _ *http.Request) {
		tok := jwt.NewWithClaims(jwt.SigningMethodRS256, f.claims)
		tok.Header["kid"] = "k1"
		signed, err := tok.SignedString(f.key)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "at", "token_type": "Bearer", "expires_in": 3600, "id_token": signed,
		})
	})
	mux.HandleFunc("/certs", func(w http.ResponseWriter, _ *http.Request) {
		set := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{Key: &f.key.PublicKey, KeyID: "k1", Algorithm: "RS256", Use: "sig"}}}
		_ = json.NewEncoder(w).Encode(set)
	})
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)

	f.claims = IDTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "https://accounts.google.com",
			Subject:   "1234",
			Audience:  jwt.ClaimStrings{"client-id"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Email:         "alice@example.com",
		EmailVerified: true,
	}
	return f
}

func (f *googleFixture) provider() *GoogleProvider {
	cfg := &oauth2.Config{
		ClientID:     "client-id",
		ClientSecret: "secret",
		RedirectURL:  origin + "/google/callback",
		Endpoint:     oauth2.Endpoint{AuthURL: GoogleAuthURL, TokenURL: f.server.URL + "/token"},
	}
	return &GoogleProvider{
		Config:     cfg,
		Verifier:   NewJWKSVerifier(f.server.URL+"/certs", "client-id", GoogleIssuers, f.server.Client()),
		HTTPClient: f.server.Client(),
	}
}

func TestGoogleCallback_VerifiedEmail(t *testing.T) {
	f := newGoogleFixture(t)
	h := NewHandler(origin, f.provider())

	rec := call(t, h, "/google/callback?code=abc&state="+url.QueryEscape(`{"requestId":"req-g","signature":"cafe","algorithmType":"proxytls"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	msg := posted(t, rec.Body.String())
	assert.Equal(t, contracts.RelayTypeGmail, msg.Type)
	att := msg.Attestation()
	require.NotNil(t, att)
	assert.Equal(t, "alice@example.com", att.VerificationValue)
	assert.Equal(t, "Account ownership", att.VerificationContent)
	assert.Equal(t, "req-g", att.RequestID)
	assert.Equal(t, "cafe", att.Signature)
	assert.Equal(t, GoogleAuthURL, att.Requests[0].URL)
}

func TestGoogleCallback_UnverifiedEmail(t *testing.T) {
	f := newGoogleFixture(t)
	f.claims.EmailVerified = false

	rec := call(t, NewHandler(origin, f.provider()), "/google/callback?code=abc&state="+url.QueryEscape(`{"requestId":"r"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Email not verified", posted(t, rec.Body.String()).Error)
}

func TestJWKSVerifier_Rejections(t *testing.T) {
	f := newGoogleFixture(t)
	v := NewJWKSVerifier(f.server.URL+"/certs", "client-id", GoogleIssuers, f.server.Client())

	sign := func(c IDTokenClaims, kid string) string {
		tok := jwt.NewWithClaims(jwt.SigningMethodRS256, c)
		tok.Header["kid"] = kid
		s, err := tok.SignedString(f.key)
		require.NoError(t, err)
		return s
	}

	_, err := v.Verify(context.Background(), sign(f.claims, "k1"))
	require.NoError(t, err)

	wrongAud := f.claims
	wrongAud.Audience = jwt.ClaimStrings{"someone-else"}
	_, err = v.Verify(context.Background(), sign(wrongAud, "k1"))
	assert.Error(t, err)

	wrongIss := f.claims
	wrongIss.Issuer = "https://evil.example"
	_, err = v.Verify(context.Background(), sign(wrongIss, "k1"))
	assert.Error(t, err)

	_, err = v.Verify(context.Background(), sign(f.claims, "unknown"))
	assert.Error(t, err)

	expired := f.claims
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	_, err = v.Verify(context.Background(), sign(expired, "k1"))
	assert.Error(t, err)
}
