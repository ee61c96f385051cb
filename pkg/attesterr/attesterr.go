// Package attesterr defines the error taxonomy shared by every stage of the
// attestation protocol. Each stage surfaces one human-readable message and
// keeps the structured cause for diagnostics.
package attesterr

import (
	"errors"
	"fmt"
)

// Kind classifies where in the protocol an error originated.
type Kind string

const (
	KindConfiguration    Kind = "CONFIGURATION"
	KindValidation       Kind = "VALIDATION"
	KindSigner           Kind = "SIGNER"
	KindExecutor         Kind = "EXECUTOR"
	KindProviderDeclined Kind = "PROVIDER_DECLINED"
	KindVerification     Kind = "VERIFICATION"
)

// Classification constants, aligned with the retry policy of each kind.
const (
	ClassificationRetryable    = "RETRYABLE"
	ClassificationNonRetryable = "NON_RETRYABLE"
)

// Error is the canonical protocol error.
type Error struct {
	Kind Kind
	// Code distinguishes errors of the same kind (e.g. "extension_not_detected"
	// or a provider decline code such as "00104").
	Code string
	// Message is the human-readable text shown to the user.
	Message string
	// Detail carries diagnostic context that is never shown verbatim.
	Detail string
	Err    error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinel errors by kind and, when the target has one, by code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// Classification reports whether the attempt may be retried by the user.
func (e *Error) Classification() string {
	if e.Kind == KindConfiguration {
		return ClassificationNonRetryable
	}
	return ClassificationRetryable
}

// Retryable is shorthand for Classification() == ClassificationRetryable.
func (e *Error) Retryable() bool {
	return e.Classification() == ClassificationRetryable
}

// WithDetail returns a copy of e carrying detail and cause.
func (e *Error) WithDetail(detail string, cause error) *Error {
	cp := *e
	cp.Detail = detail
	cp.Err = cause
	return &cp
}

// New creates an error of the given kind.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap creates an error of the given kind around cause.
func Wrap(kind Kind, code, message string, cause error) *Error {
	e := &Error{Kind: kind, Code: code, Message: message, Err: cause}
	if cause != nil {
		e.Detail = cause.Error()
	}
	return e
}

// Configuration creates a fatal configuration error.
func Configuration(message string, cause error) *Error {
	return Wrap(KindConfiguration, "", message, cause)
}

// Validation creates a request validation error.
func Validation(message string, cause error) *Error {
	return Wrap(KindValidation, "", message, cause)
}

// Signer creates a signer boundary error.
func Signer(message string, cause error) *Error {
	return Wrap(KindSigner, "", message, cause)
}

// Verification creates a verification error.
func Verification(message string, cause error) *Error {
	return Wrap(KindVerification, "", message, cause)
}

// KindOf returns the kind of err, or "" if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Message returns the human-readable message of err. Errors outside the
// taxonomy fall back to their Error() text.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

// Describe renders kind, code and detail for logs.
func Describe(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return err.Error()
	}
	if e.Code != "" {
		return fmt.Sprintf("%s/%s: %s (%s)", e.Kind, e.Code, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Detail)
}

// Sentinel errors shared across packages.
var (
	ErrSignerNotConfigured = New(KindConfiguration, "signer_not_configured",
		"signer is not configured: the signing secret is missing")
	ErrMalformedSignerResponse = New(KindSigner, "malformed_response",
		"signer returned a malformed response")
	ErrIncompleteSignature = New(KindSigner, "incomplete_signature",
		"signer response carries no signature")
	ErrExtensionNotDetected = New(KindExecutor, "extension_not_detected",
		"Attestation extension not detected. Please ensure it is installed and enabled.")
	ErrExtensionUnsupported = New(KindExecutor, "extension_unsupported",
		"The installed attestation extension version is not supported. Please update it.")
	ErrExtensionTransport = New(KindExecutor, "extension_transport",
		"Could not communicate with the attestation extension.")
	ErrPopupBlocked = New(KindExecutor, "popup_blocked",
		"The verification popup was blocked. Please allow popups and try again.")
	ErrRelayFailed = New(KindExecutor, "relay_failed",
		"The provider verification did not complete.")
	ErrVerificationFailed = New(KindVerification, "verification_failed",
		"attestation verification failed")
	ErrPolicyRejected = New(KindVerification, "policy_rejected",
		"attestation content does not satisfy the template requirements")
)
