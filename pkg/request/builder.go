// Package request builds and validates unsigned attestation requests.
package request

import (
	"time"

	"github.com/Mindburn-Labs/attestgate/pkg/canonicalize"
	"github.com/Mindburn-Labs/attestgate/pkg/contracts"
)

// Builder assembles AttestationRequests. It performs no I/O and never fails;
// validation is the caller's job (see Validate).
type Builder struct {
	algorithm     contracts.AlgorithmType
	resultType    contracts.ResultType
	withExtension bool
	now           func() time.Time
}

// Option configures a Builder.
type Option func(*Builder)

// WithAlgorithm sets attMode.algorithmType.
func WithAlgorithm(a contracts.AlgorithmType) Option {
	return func(b *Builder) { b.algorithm = a }
}

// WithResultType sets attMode.resultType.
func WithResultType(r contracts.ResultType) Option {
	return func(b *Builder) { b.resultType = r }
}

// WithExtension selects the extension channel (true) or the OAuth relay (false).
func WithExtension(enabled bool) Option {
	return func(b *Builder) { b.withExtension = enabled }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) { b.now = now }
}

// NewBuilder returns a Builder defaulting to proxytls, plain results and the
// extension channel.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{
		algorithm:     contracts.AlgorithmProxyTLS,
		resultType:    contracts.ResultPlain,
		withExtension: true,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build produces an AttestationRequest for the given template and subject.
// The capture specs are NFC-normalised copies, so mutating captures afterwards
// does not alter the request.
func (b *Builder) Build(templateID, subjectAddress string, captures []contracts.HTTPCaptureSpec, appID string) *contracts.AttestationRequest {
	return &contracts.AttestationRequest{
		AppID:          appID,
		TemplateID:     templateID,
		SubjectAddress: subjectAddress,
		Timestamp:      b.now().UnixMilli(),
		AttMode: contracts.AttMode{
			AlgorithmType: b.algorithm,
			ResultType:    b.resultType,
			WithExtension: b.withExtension,
			HTTPRequests:  CopyCaptures(captures),
		},
	}
}

// Build uses a default Builder.
func Build(templateID, subjectAddress string, captures []contracts.HTTPCaptureSpec, appID string) *contracts.AttestationRequest {
	return NewBuilder().Build(templateID, subjectAddress, captures, appID)
}

// CopyCaptures deep-copies capture specs, normalising their strings to NFC.
// A nil slice yields nil.
func CopyCaptures(captures []contracts.HTTPCaptureSpec) []contracts.HTTPCaptureSpec {
	if captures == nil {
		return nil
	}
	out := make([]contracts.HTTPCaptureSpec, len(captures))
	for i, c := range captures {
		out[i] = contracts.HTTPCaptureSpec{
			URL:         canonicalize.NFC(c.URL),
			Method:      canonicalize.NFC(c.Method),
			Headers:     canonicalize.NFCMap(c.Headers),
			QueryString: canonicalize.NFC(c.QueryString),
			Body:        canonicalize.NFCValue(c.Body),
			URLType:     c.URLType,
		}
	}
	return out
}
