// Package signclient is the client side of the signer trust boundary: it
// submits AttestationRequests to a signing service over HTTP and normalises
// what comes back into a complete SignedRequest.
package signclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/attestgate/pkg/attesterr"
	"github.com/Mindburn-Labs/attestgate/pkg/contracts"
	"github.com/Mindburn-Labs/attestgate/pkg/request"
	"github.com/Mindburn-Labs/attestgate/pkg/util/resiliency"
)

// HTTPDoer is satisfied by *http.Client and *resiliency.EnhancedClient.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client calls a signing service.
type Client struct {
	BaseURL    string
	HTTPClient HTTPDoer
	logger     *slog.Logger
	newID      func() string
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient replaces the resilient default transport.
func WithHTTPClient(d HTTPDoer) Option {
	return func(c *Client) { c.HTTPClient = d }
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a Client for the signing service at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTPClient: resiliency.NewEnhancedClient(
			resiliency.WithHTTPClient(&http.Client{Timeout: 15 * time.Second}),
			resiliency.WithBreaker(resiliency.NewCircuitBreaker("signer", 5, 30*time.Second)),
		),
		logger: slog.Default().With("component", "signclient"),
		newID:  uuid.NewString,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type signBody struct {
	SignParams string `json:"signParams"`
}

type signResponse struct {
	SignResult json.RawMessage `json:"signResult"`
}

// ErrorBody is the error document returned by the signing service.
type ErrorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// KeyInfo describes the signer's published verification key.
type KeyInfo struct {
	PublicKey string `json:"publicKey"`
	AppID     string `json:"appId"`
	Algorithm string `json:"algorithm"`
}

// Sign submits req and returns a SignedRequest carrying a non-empty request
// id and signature, or an error. It never returns an incomplete success.
func (c *Client) Sign(ctx context.Context, req *contracts.AttestationRequest) (*contracts.SignedRequest, error) {
	if c.BaseURL == "" {
		return nil, attesterr.Configuration("signer endpoint is not configured", nil)
	}
	if err := request.Validate(req); err != nil {
		return nil, err
	}

	serialized, err := json.Marshal(req)
	if err != nil {
		return nil, attesterr.Validation("request is not serializable", err)
	}
	body, err := json.Marshal(signBody{SignParams: string(serialized)})
	if err != nil {
		return nil, attesterr.Validation("request is not serializable", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/sign", bytes.NewReader(body))
	if err != nil {
		return nil, attesterr.Configuration("invalid signer endpoint", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", c.newID())

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, attesterr.Signer("signer unreachable", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, attesterr.Signer("failed to read signer response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(resp.StatusCode, raw)
	}

	signed, err := decodeSignResult(raw)
	if err != nil {
		return nil, err
	}
	return c.normalize(ctx, signed)
}

func statusError(status int, raw []byte) error {
	var eb ErrorBody
	if err := json.Unmarshal(raw, &eb); err != nil || eb.Error == "" {
		eb.Error = http.StatusText(status)
	}
	detail := eb.Details
	if detail == "" {
		detail = fmt.Sprintf("status %d", status)
	}
	cause := fmt.Errorf("signer status %d: %s", status, eb.Error)
	switch {
	case status == http.StatusBadRequest:
		return attesterr.New(attesterr.KindValidation, "signer_rejected", eb.Error).WithDetail(detail, cause)
	default:
		return attesterr.New(attesterr.KindSigner, "signer_failed", eb.Error).WithDetail(detail, cause)
	}
}

// decodeSignResult accepts signResult as an object or its serialized string.
func decodeSignResult(raw []byte) (*contracts.SignedRequest, error) {
	var sr signResponse
	if err := json.Unmarshal(raw, &sr); err != nil {
		return nil, attesterr.ErrMalformedSignerResponse.WithDetail(err.Error(), err)
	}
	doc := bytes.TrimSpace(sr.SignResult)
	if len(doc) == 0 || bytes.Equal(doc, []byte("null")) {
		return nil, attesterr.ErrMalformedSignerResponse.WithDetail("signResult missing", nil)
	}
	if doc[0] == '"' {
		var s string
		if err := json.Unmarshal(doc, &s); err != nil {
			return nil, attesterr.ErrMalformedSignerResponse.WithDetail(err.Error(), err)
		}
		doc = []byte(s)
	}
	var signed contracts.SignedRequest
	if err := json.Unmarshal(doc, &signed); err != nil {
		return nil, attesterr.ErrMalformedSignerResponse.WithDetail(err.Error(), err)
	}
	return &signed, nil
}

func (c *Client) normalize(ctx context.Context, signed *contracts.SignedRequest) (*contracts.SignedRequest, error) {
	if !signed.Signed() {
		return nil, attesterr.ErrIncompleteSignature
	}
	signed.Normalize()
	if signed.RequestID == "" {
		signed.RequestID = c.newID()
		c.logger.WarnContext(ctx, "signer response lacked a request id; synthesised one locally",
			"request_id", signed.RequestID,
			"template_id", signed.TemplateID,
		)
	}
	return signed, nil
}

// PublicKey fetches the signer's verification key.
func (c *Client) PublicKey(ctx context.Context) (*KeyInfo, error) {
	if c.BaseURL == "" {
		return nil, attesterr.Configuration("signer endpoint is not configured", nil)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/sign/key", nil)
	if err != nil {
		return nil, attesterr.Configuration("invalid signer endpoint", err)
	}
	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, attesterr.Signer("signer unreachable", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, attesterr.Signer("failed to read signer response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp.StatusCode, raw)
	}
	var ki KeyInfo
	if err := json.Unmarshal(raw, &ki); err != nil || ki.PublicKey == "" {
		return nil, attesterr.ErrMalformedSignerResponse.WithDetail("key document invalid", err)
	}
	return &ki, nil
}
