// Package session drives one attestation attempt at a time through
// build, sign, execute, verify and policy, and exposes the resulting state
// machine to the presentation layer.
package session

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Mindburn-Labs/attestgate/pkg/contracts"
	"github.com/Mindburn-Labs/attestgate/pkg/executor"
	"github.com/Mindburn-Labs/attestgate/pkg/policy"
	"github.com/Mindburn-Labs/attestgate/pkg/request"
	"github.com/Mindburn-Labs/attestgate/pkg/verifier"
)

// Signer turns an AttestationRequest into a SignedRequest.
// *signclient.Client and *signing.Service both satisfy it.
type Signer interface {
	Sign(ctx context.Context, req *contracts.AttestationRequest) (*contracts.SignedRequest, error)
}

// SignerFunc adapts a function to Signer.
type SignerFunc func(ctx context.Context, req *contracts.AttestationRequest) (*contracts.SignedRequest, error)

func (f SignerFunc) Sign(ctx context.Context, req *contracts.AttestationRequest) (*contracts.SignedRequest, error) {
	return f(ctx, req)
}

// PolicyEvaluator decides whether a verified attestation satisfies its
// template. *policy.Engine satisfies it.
type PolicyEvaluator interface {
	Evaluate(ctx context.Context, templateID string, att *contracts.Attestation) (*policy.Decision, error)
}

// Recorder receives the outcome of every attempt that reaches a terminal state.
type Recorder interface {
	RecordOutcome(ctx context.Context, o Outcome) error
}

// Telemetry wraps an attempt in a span. *observability.Provider satisfies it.
type Telemetry interface {
	TrackOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error))
}

// Outcome is what a Recorder sees for a finished attempt.
type Outcome struct {
	AppID          string
	TemplateID     string
	SubjectAddress string
	RequestID      string
	Status         Status
	Signed         *contracts.SignedRequest
	Attestation    *contracts.Attestation
	Result         *policy.Result
	Err            error
	At             time.Time
}

// Client bundles the collaborators of an attestation attempt. It is an
// explicitly owned value; sessions share it read-only.
type Client struct {
	AppID    string
	Builder  *request.Builder
	Signer   Signer
	Executor executor.Executor
	Verifier verifier.AttestationVerifier

	// Optional.
	Policy    PolicyEvaluator
	Recorder  Recorder
	Ready     func() bool
	Telemetry Telemetry
	Logger    *slog.Logger
}

// IsReady reports whether an attempt may start.
func (c *Client) IsReady() bool {
	if c == nil || c.Signer == nil || c.Executor == nil || c.Verifier == nil {
		return false
	}
	if c.Ready != nil {
		return c.Ready()
	}
	return true
}

func (c *Client) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default().With("component", "session")
}

func (c *Client) builder() *request.Builder {
	if c.Builder != nil {
		return c.Builder
	}
	return request.NewBuilder()
}
