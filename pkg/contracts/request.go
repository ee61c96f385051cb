package contracts

// AlgorithmType selects the TLS attestation algorithm the executor runs.
type AlgorithmType string

const (
	AlgorithmProxyTLS AlgorithmType = "proxytls"
	AlgorithmMPCTLS   AlgorithmType = "mpctls"
)

// ResultType selects how the attested value is disclosed.
type ResultType string

const (
	ResultPlain  ResultType = "plain"
	ResultCipher ResultType = "cipher"
)

// URLType controls how a captured URL is matched against live traffic.
type URLType string

const (
	URLExact URLType = "EXACT"
	URLRegex URLType = "REGX"
)

// HTTPCaptureSpec fully determines the network exchange an executor must
// capture. It must match what the signer later validates against.
type HTTPCaptureSpec struct {
	URL         string            `json:"url" yaml:"url" validate:"required"`
	Method      string            `json:"method" yaml:"method" validate:"required"`
	Headers     map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	QueryString string            `json:"queryString" yaml:"queryString,omitempty"`
	Body        any               `json:"body,omitempty" yaml:"body,omitempty"`
	URLType     URLType           `json:"urlType,omitempty" yaml:"urlType,omitempty"`
}

// AttMode describes how the attestation is produced.
type AttMode struct {
	AlgorithmType AlgorithmType     `json:"algorithmType" validate:"required"`
	ResultType    ResultType        `json:"resultType,omitempty"`
	WithExtension bool              `json:"withExtension"`
	HTTPRequests  []HTTPCaptureSpec `json:"httpRequests,omitempty" validate:"dive"`
}

// AttestationRequest is the unsigned request produced by the request builder.
// It is immutable once signed.
type AttestationRequest struct {
	AppID          string  `json:"appId" validate:"required"`
	TemplateID     string  `json:"attTemplateID" validate:"required"`
	SubjectAddress string  `json:"userAddress" validate:"required"`
	Timestamp      int64   `json:"timestamp" validate:"gt=0"`
	AttMode        AttMode `json:"attMode"`
}

// SignedRequest is an AttestationRequest enriched by the signer.
//
// RequestID decodes from both "requestId" and the legacy "requestid" spelling.
// AppSignature is an alias of Signature; ingestion normalises it into
// Signature via Normalize.
type SignedRequest struct {
	AttestationRequest
	RequestID     string        `json:"requestId"`
	Signature     string        `json:"signature,omitempty"`
	AppSignature  string        `json:"appSignature,omitempty"`
	AlgorithmType AlgorithmType `json:"algorithmType,omitempty"`
}

// Normalize folds the appSignature alias into Signature and defaults the
// algorithm to the one requested in AttMode.
func (s *SignedRequest) Normalize() {
	if s.Signature == "" && s.AppSignature != "" {
		s.Signature = s.AppSignature
	}
	s.AppSignature = ""
	if s.AlgorithmType == "" {
		s.AlgorithmType = s.AttMode.AlgorithmType
	}
}

// Signed reports whether the request carries a signature under either name.
func (s *SignedRequest) Signed() bool {
	return s.Signature != "" || s.AppSignature != ""
}

// SigningPayload is the structure the signer canonicalises and signs.
type SigningPayload struct {
	Request   AttestationRequest `json:"request"`
	RequestID string             `json:"requestId"`
}

// Payload returns the signing payload for s.
func (s *SignedRequest) Payload() SigningPayload {
	return SigningPayload{Request: s.AttestationRequest, RequestID: s.RequestID}
}
