package contracts

import "encoding/json"

// Extension messaging discriminators.
const (
	ExtensionTarget = "padoZKAttestationJSSDK"

	MessageStartAttestation    = "startAttestation"
	MessageInitAttestationRes  = "initAttestationRes"
	MessageGetAttestationRes   = "getAttestationRes"
	MessageStartAttestationRes = "startAttestationRes"
)

// Relay result message types, one per provider.
const (
	RelayTypeGmail      = "GMAIL_VERIFICATION_RESULT"
	RelayTypeBinanceKYC = "BINANCE_KYC_VERIFICATION_RESULT"
)

// ExtensionParams is the parameter block of an outbound startAttestation
// message: the signed request plus the appSignature mirror and SDK metadata.
type ExtensionParams struct {
	SignedRequest
	AppSignature string `json:"appSignature"`
	SDKVersion   string `json:"sdkVersion,omitempty"`
	DappSymbol   string `json:"dappSymbol,omitempty"`
}

// ExtensionRequest is sent to the attestation extension.
type ExtensionRequest struct {
	Type   string          `json:"type"`
	Name   string          `json:"name"`
	Params ExtensionParams `json:"params"`
}

// NewExtensionRequest builds the startAttestation message for signed.
func NewExtensionRequest(signed *SignedRequest, sdkVersion, dappSymbol string) ExtensionRequest {
	s := *signed
	s.Normalize()
	return ExtensionRequest{
		Type: ExtensionTarget,
		Name: MessageStartAttestation,
		Params: ExtensionParams{
			SignedRequest: s,
			AppSignature:  s.Signature,
			SDKVersion:    sdkVersion,
			DappSymbol:    dappSymbol,
		},
	}
}

// ExtensionErrorData describes why the extension or provider declined.
type ExtensionErrorData struct {
	Code string `json:"code"`
	Desc string `json:"desc,omitempty"`
}

// ExtensionResult is the payload of an extension reply.
type ExtensionResult struct {
	Result    bool                `json:"result"`
	Data      *Attestation        `json:"data,omitempty"`
	ErrorData *ExtensionErrorData `json:"errorData,omitempty"`
}

// RelayParams wraps the attestation in a relay result.
type RelayParams struct {
	Attestation *Attestation `json:"attestation,omitempty"`
}

// RelayMessage is posted to the opener by a relay callback page.
type RelayMessage struct {
	Type    string       `json:"type"`
	Success bool         `json:"success"`
	Result  bool         `json:"result,omitempty"`
	Params  *RelayParams `json:"params,omitempty"`
	Error   string       `json:"error,omitempty"`
}

// Attestation returns the carried attestation, or nil.
func (m *RelayMessage) Attestation() *Attestation {
	if m.Params == nil {
		return nil
	}
	return m.Params.Attestation
}

// Message is an inbound page message as seen by the demultiplexer. Payload
// holds the raw JSON body; the discriminators are lifted out for routing.
type Message struct {
	Origin  string
	Target  string
	Name    string
	Type    string
	Payload json.RawMessage
}

// envelope captures every discriminator an inbound message may carry.
type envelope struct {
	Target string          `json:"target"`
	Name   string          `json:"name"`
	Type   string          `json:"type"`
	Params json.RawMessage `json:"params"`
}

// ParseMessage decodes a raw page message received from origin.
// Extension replies carry their result under "params"; relay messages are
// self-contained, so Payload falls back to the whole document.
func ParseMessage(origin string, raw []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Message{}, err
	}
	msg := Message{Origin: origin, Target: env.Target, Name: env.Name, Type: env.Type}
	if env.Target != "" && len(env.Params) > 0 {
		msg.Payload = env.Params
	} else {
		msg.Payload = json.RawMessage(raw)
	}
	return msg, nil
}

// ExtensionResult decodes the payload as an extension reply.
func (m Message) ExtensionResult() (*ExtensionResult, error) {
	var r ExtensionResult
	if err := json.Unmarshal(m.Payload, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// RelayMessage decodes the payload as a relay result.
func (m Message) RelayMessage() (*RelayMessage, error) {
	var r RelayMessage
	if err := json.Unmarshal(m.Payload, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
