package contracts

import "encoding/json"

// CapturedResponse is the recorded response of a captured exchange.
type CapturedResponse struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    any               `json:"body,omitempty"`
}

// CapturedExchange is one HTTP exchange recorded by the executor.
type CapturedExchange struct {
	HTTPCaptureSpec
	Response *CapturedResponse `json:"response,omitempty"`
}

// Attestation is the provider-asserted fact returned by an executor.
// Requests must be kept intact: the verifier needs them to validate the proof.
type Attestation struct {
	VerificationContent string             `json:"verificationContent"`
	VerificationValue   any                `json:"verificationValue,omitempty"`
	DataSourceID        string             `json:"dataSourceId"`
	AttestationType     string             `json:"attestationType"`
	SchemaType          string             `json:"schemaType,omitempty"`
	Data                string             `json:"data,omitempty"` // JSON document with extracted fields
	Requests            []CapturedExchange `json:"requests"`
	RequestID           string             `json:"requestId,omitempty"`
	Signature           string             `json:"signature,omitempty"`
	AlgorithmType       AlgorithmType      `json:"algorithmType,omitempty"`
	Timestamp           int64              `json:"timestamp,omitempty"`
}

// DataFields decodes the Data document. A missing or malformed document
// yields an empty map.
func (a *Attestation) DataFields() map[string]any {
	out := map[string]any{}
	if a.Data == "" {
		return out
	}
	_ = json.Unmarshal([]byte(a.Data), &out)
	return out
}

// AsMap returns the JSON object form of the attestation.
func (a *Attestation) AsMap() (map[string]any, error) {
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}
