// Package executor carries a SignedRequest to an attestation producer and
// waits for the asynchronous completion. Two channels exist: a browser
// extension reached through a message runtime, and an OAuth popup whose
// callback page posts the result back to the opener.
package executor

import (
	"context"
	"log/slog"

	"github.com/Mindburn-Labs/attestgate/pkg/attesterr"
	"github.com/Mindburn-Labs/attestgate/pkg/contracts"
)

// Executor produces an Attestation for a SignedRequest.
type Executor interface {
	Execute(ctx context.Context, signed *contracts.SignedRequest) (*contracts.Attestation, error)
}

// Func adapts a function to Executor.
type Func func(ctx context.Context, signed *contracts.SignedRequest) (*contracts.Attestation, error)

func (f Func) Execute(ctx context.Context, signed *contracts.SignedRequest) (*contracts.Attestation, error) {
	return f(ctx, signed)
}

// Router dispatches by attMode.withExtension.
type Router struct {
	Extension Executor
	Relay     Executor
}

func (r *Router) Execute(ctx context.Context, signed *contracts.SignedRequest) (*contracts.Attestation, error) {
	if err := requireSigned(signed); err != nil {
		return nil, err
	}
	next := r.Relay
	if signed.AttMode.WithExtension {
		next = r.Extension
	}
	if next == nil {
		return nil, attesterr.Configuration("no executor configured for this attestation mode", nil)
	}
	return next.Execute(ctx, signed)
}

// requireSigned rejects requests that must not be dispatched.
func requireSigned(signed *contracts.SignedRequest) error {
	if signed == nil {
		return attesterr.Validation("signed request is required", nil)
	}
	if !signed.Signed() {
		return attesterr.Validation("signed request carries no signature", nil)
	}
	return nil
}

// stale reports whether a completion belongs to another request. Completions
// without a request id are accepted.
func stale(logger *slog.Logger, signed *contracts.SignedRequest, att *contracts.Attestation) bool {
	if att == nil || att.RequestID == "" || att.RequestID == signed.RequestID {
		return false
	}
	logger.Warn("dropping stale attestation completion",
		"request_id", signed.RequestID,
		"completion_request_id", att.RequestID,
	)
	return true
}
