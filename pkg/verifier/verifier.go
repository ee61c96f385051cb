// Package verifier checks an Attestation against the SignedRequest it claims
// to answer.
//
// Verification is pure: no network, no clock-dependent outcome, no mutation
// of its inputs. The only trusted material is the signer's Ed25519 public key.
package verifier

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/Mindburn-Labs/attestgate/pkg/contracts"
	"github.com/Mindburn-Labs/attestgate/pkg/crypto"
)

const VerifierVersion = "1.0.0"

// AttestationVerifier decides whether an attestation is authentic for a
// signed request.
type AttestationVerifier interface {
	Verify(signed *contracts.SignedRequest, att *contracts.Attestation) bool
}

// Func adapts a function to AttestationVerifier.
type Func func(signed *contracts.SignedRequest, att *contracts.Attestation) bool

func (f Func) Verify(signed *contracts.SignedRequest, att *contracts.Attestation) bool {
	return f(signed, att)
}

// Report is the structured result of a verification.
type Report struct {
	RequestID   string        `json:"request_id"`
	Verified    bool          `json:"verified"`
	Timestamp   time.Time     `json:"timestamp"`
	Checks      []CheckResult `json:"checks"`
	Summary     string        `json:"summary"`
	IssueCount  int           `json:"issue_count"`
	VerifierVer string        `json:"verifier_version"`
}

// CheckResult represents a single verification check.
type CheckResult struct {
	Name   string `json:"name"`
	Pass   bool   `json:"pass"`
	Detail string `json:"detail,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Verifier binds attestations to requests signed under one public key.
type Verifier struct {
	key crypto.Verifier
}

// New creates a verifier trusting key.
func New(key crypto.Verifier) *Verifier {
	return &Verifier{key: key}
}

// NewFromHex creates a verifier from the signer's hex public key.
func NewFromHex(pubKeyHex string) (*Verifier, error) {
	v, err := crypto.NewEd25519VerifierFromHex(pubKeyHex)
	if err != nil {
		return nil, err
	}
	return New(v), nil
}

// Verify reports whether att is authentic for signed.
func (v *Verifier) Verify(signed *contracts.SignedRequest, att *contracts.Attestation) bool {
	return v.Report(signed, att).Verified
}

// Report runs every check and returns the full outcome.
func (v *Verifier) Report(signed *contracts.SignedRequest, att *contracts.Attestation) *Report {
	report := &Report{
		Verified:    true,
		Timestamp:   time.Now().UTC(),
		Checks:      make([]CheckResult, 0, 4),
		VerifierVer: VerifierVersion,
	}
	if signed == nil || att == nil {
		report.addCheck(CheckResult{Name: "inputs", Pass: false, Reason: "signed request and attestation are both required"})
		report.finish()
		return report
	}
	report.RequestID = signed.RequestID

	report.addCheck(checkRequestID(signed, att))
	report.addCheck(checkSignatureBinding(signed, att))
	report.addCheck(v.checkSignerSignature(signed))
	report.addChecks(checkExchanges(signed, att))

	report.finish()
	return report
}

func (r *Report) addCheck(c CheckResult) {
	r.Checks = append(r.Checks, c)
}

func (r *Report) addChecks(cs []CheckResult) {
	r.Checks = append(r.Checks, cs...)
}

func (r *Report) finish() {
	failed := 0
	for _, c := range r.Checks {
		if !c.Pass {
			failed++
		}
	}
	r.IssueCount = failed
	if failed > 0 {
		r.Verified = false
		r.Summary = fmt.Sprintf("FAIL: %d/%d checks failed", failed, len(r.Checks))
	} else {
		r.Summary = fmt.Sprintf("PASS: %d/%d checks passed", len(r.Checks), len(r.Checks))
	}
}

// FirstFailure returns the reason of the first failed check, or "".
func (r *Report) FirstFailure() string {
	for _, c := range r.Checks {
		if !c.Pass {
			return c.Name + ": " + c.Reason
		}
	}
	return ""
}

// --- Check implementations ---

func effectiveSignature(signed *contracts.SignedRequest) string {
	if signed.Signature != "" {
		return signed.Signature
	}
	return signed.AppSignature
}

func checkRequestID(signed *contracts.SignedRequest, att *contracts.Attestation) CheckResult {
	if signed.RequestID == "" {
		return CheckResult{Name: "request_id", Pass: false, Reason: "signed request has no request id"}
	}
	if att.RequestID == "" {
		return CheckResult{Name: "request_id", Pass: true, Detail: "attestation carries no request id"}
	}
	if att.RequestID != signed.RequestID {
		return CheckResult{Name: "request_id", Pass: false,
			Reason: fmt.Sprintf("attestation answers %s, expected %s", att.RequestID, signed.RequestID)}
	}
	return CheckResult{Name: "request_id", Pass: true, Detail: "request id matches"}
}

func checkSignatureBinding(signed *contracts.SignedRequest, att *contracts.Attestation) CheckResult {
	want := effectiveSignature(signed)
	if want == "" {
		return CheckResult{Name: "signature_binding", Pass: false, Reason: "signed request has no signature"}
	}
	if att.Signature != want {
		return CheckResult{Name: "signature_binding", Pass: false, Reason: "attestation is bound to a different signature"}
	}
	return CheckResult{Name: "signature_binding", Pass: true, Detail: "attestation bound to request signature"}
}

func (v *Verifier) checkSignerSignature(signed *contracts.SignedRequest) CheckResult {
	if v.key == nil {
		return CheckResult{Name: "signer_signature", Pass: false, Reason: "no signer key configured"}
	}
	ok, err := v.key.VerifyCanonical(signed.Payload(), effectiveSignature(signed))
	if err != nil {
		return CheckResult{Name: "signer_signature", Pass: false, Reason: err.Error()}
	}
	if !ok {
		return CheckResult{Name: "signer_signature", Pass: false, Reason: "signature does not verify under the signer key"}
	}
	return CheckResult{Name: "signer_signature", Pass: true, Detail: "Ed25519 over canonical payload"}
}

func checkExchanges(signed *contracts.SignedRequest, att *contracts.Attestation) []CheckResult {
	specs := signed.AttMode.HTTPRequests
	if len(specs) == 0 {
		return []CheckResult{{Name: "exchanges", Pass: true, Detail: "no capture specs requested"}}
	}
	results := make([]CheckResult, 0, len(specs))
	for i, spec := range specs {
		name := fmt.Sprintf("exchange:%d", i)
		ex := findExchange(spec, att.Requests)
		switch {
		case ex == nil:
			results = append(results, CheckResult{Name: name, Pass: false,
				Reason: fmt.Sprintf("no captured exchange for %s %s", spec.Method, spec.URL)})
		case ex.Response == nil:
			results = append(results, CheckResult{Name: name, Pass: false,
				Reason: fmt.Sprintf("exchange for %s %s has no recorded response", spec.Method, spec.URL)})
		default:
			results = append(results, CheckResult{Name: name, Pass: true,
				Detail: fmt.Sprintf("%s %s -> %d", spec.Method, spec.URL, ex.Response.Status)})
		}
	}
	return results
}

func findExchange(spec contracts.HTTPCaptureSpec, exchanges []contracts.CapturedExchange) *contracts.CapturedExchange {
	for i := range exchanges {
		ex := &exchanges[i]
		if !strings.EqualFold(ex.Method, spec.Method) {
			continue
		}
		if urlMatches(spec, ex.URL) {
			return ex
		}
	}
	return nil
}

func urlMatches(spec contracts.HTTPCaptureSpec, url string) bool {
	if spec.URLType == contracts.URLRegex {
		re, err := regexp.Compile(spec.URL)
		if err != nil {
			return false
		}
		return re.MatchString(url)
	}
	return spec.URL == url
}
