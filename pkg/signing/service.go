// Package signing implements the trusted signer: it validates an
// AttestationRequest, binds it to a fresh request id and signs the canonical
// payload with the application's key.
package signing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/attestgate/pkg/attesterr"
	"github.com/Mindburn-Labs/attestgate/pkg/contracts"
	"github.com/Mindburn-Labs/attestgate/pkg/crypto"
	"github.com/Mindburn-Labs/attestgate/pkg/request"
)

const (
	DefaultMaxRequestAge = 10 * time.Minute
	DefaultFutureSkew    = time.Minute
)

// IssuanceLog records every signed request.
type IssuanceLog interface {
	RecordIssuance(ctx context.Context, signed *contracts.SignedRequest) error
}

// Service signs attestation requests for a single application.
type Service struct {
	appID         string
	signer        *crypto.Ed25519Signer
	maxRequestAge time.Duration
	futureSkew    time.Duration
	now           func() time.Time
	newID         func() string
	log           IssuanceLog
	logger        *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithMaxRequestAge bounds how old a request timestamp may be.
func WithMaxRequestAge(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.maxRequestAge = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIssuanceLog attaches a log of issued requests.
func WithIssuanceLog(l IssuanceLog) Option {
	return func(s *Service) { s.log = l }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService derives the signing key from appSecret. A missing secret or app
// id is a fatal configuration error.
func NewService(appID, appSecret string, opts ...Option) (*Service, error) {
	if appID == "" || appSecret == "" {
		return nil, attesterr.ErrSignerNotConfigured
	}
	signer, err := crypto.NewDerivedSigner(appSecret, appID)
	if err != nil {
		return nil, attesterr.Configuration("derive signing key", err)
	}
	s := &Service{
		appID:         appID,
		signer:        signer,
		maxRequestAge: DefaultMaxRequestAge,
		futureSkew:    DefaultFutureSkew,
		now:           time.Now,
		newID:         uuid.NewString,
		logger:        slog.Default().With("component", "signer"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// AppID returns the application this service signs for.
func (s *Service) AppID() string { return s.appID }

// PublicKey returns the hex Ed25519 public key.
func (s *Service) PublicKey() string { return s.signer.PublicKey() }

// Algorithm names the signature algorithm.
func (s *Service) Algorithm() string { return crypto.SigPrefixEd25519 }

// Sign validates req and returns it bound to a new request id and signed.
func (s *Service) Sign(ctx context.Context, req *contracts.AttestationRequest) (*contracts.SignedRequest, error) {
	if err := request.Validate(req); err != nil {
		return nil, err
	}
	if req.AppID != s.appID {
		return nil, attesterr.New(attesterr.KindValidation, "app_mismatch",
			fmt.Sprintf("appId %q is not served by this signer", req.AppID))
	}
	if err := s.checkFreshness(req.Timestamp); err != nil {
		return nil, err
	}

	signed := &contracts.SignedRequest{
		AttestationRequest: *req,
		RequestID:          s.newID(),
		AlgorithmType:      req.AttMode.AlgorithmType,
	}
	signed.AttMode.HTTPRequests = request.CopyCaptures(req.AttMode.HTTPRequests)

	sig, err := s.signer.SignCanonical(signed.Payload())
	if err != nil {
		return nil, attesterr.Signer("failed to sign request", err)
	}
	signed.Signature = sig

	if s.log != nil {
		if err := s.log.RecordIssuance(ctx, signed); err != nil {
			return nil, attesterr.Signer("failed to record issuance", err)
		}
	}
	s.logger.InfoContext(ctx, "attestation request signed",
		"request_id", signed.RequestID,
		"template_id", signed.TemplateID,
		"algorithm", signed.AlgorithmType,
	)
	return signed, nil
}

func (s *Service) checkFreshness(ts int64) error {
	now := s.now()
	issued := time.UnixMilli(ts)
	if issued.Before(now.Add(-s.maxRequestAge)) {
		return attesterr.New(attesterr.KindValidation, "request_expired",
			fmt.Sprintf("request timestamp is older than %s", s.maxRequestAge))
	}
	if issued.After(now.Add(s.futureSkew)) {
		return attesterr.New(attesterr.KindValidation, "request_in_future",
			"request timestamp is in the future")
	}
	return nil
}

// Verifier returns a verifier for signatures produced by this service.
func (s *Service) Verifier() *crypto.Ed25519Verifier {
	v, _ := crypto.NewEd25519Verifier(s.signer.PublicKeyBytes())
	return v
}
