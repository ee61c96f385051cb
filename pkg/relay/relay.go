// Package relay implements the OAuth redirect leg of the attestation
// protocol. A provider's callback exchanges the authorization code, builds
// the attestation bound to the signed request carried in state, and answers
// with a page that posts the result to the opener at the trusted origin.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Mindburn-Labs/attestgate/pkg/attesterr"
	"github.com/Mindburn-Labs/attestgate/pkg/contracts"
	"github.com/Mindburn-Labs/attestgate/pkg/observability"
)

// Stable messages posted to the opener.
const (
	MsgMissingParams = "Missing code or state parameters"
	MsgInvalidState  = "Invalid state parameter"
)

// Provider turns an authorization code into an attestation.
type Provider interface {
	Name() string
	// ResultType is the discriminator of the posted result message.
	ResultType() string
	// FailureMessage is posted when Attest fails for a reason the provider
	// did not describe.
	FailureMessage() string
	Attest(ctx context.Context, code string, signed *contracts.SignedRequest) (*contracts.Attestation, error)
}

// Recorder observes relay outcomes.
type Recorder interface {
	RecordRelay(ctx context.Context, provider string, att *contracts.Attestation, err error)
}

// Tracker wraps a callback in a span. *observability.Provider satisfies it.
type Tracker interface {
	TrackOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error))
}

// Handler serves GET /{provider}/callback.
type Handler struct {
	origin    string
	providers map[string]Provider
	recorder  Recorder
	tracker   Tracker
	logger    *slog.Logger
}

// NewHandler creates a relay handler posting results to origin.
func NewHandler(origin string, providers ...Provider) *Handler {
	h := &Handler{
		origin:    strings.TrimRight(origin, "/"),
		providers: make(map[string]Provider, len(providers)),
		logger:    slog.Default().With("component", "relay"),
	}
	for _, p := range providers {
		h.providers[p.Name()] = p
	}
	return h
}

// WithRecorder attaches an outcome recorder.
func (h *Handler) WithRecorder(r Recorder) *Handler {
	h.recorder = r
	return h
}

// WithTracker traces each callback.
func (h *Handler) WithTracker(t Tracker) *Handler {
	h.tracker = t
	return h
}

// Providers lists the registered provider names.
func (h *Handler) Providers() []string {
	names := make([]string, 0, len(h.providers))
	for n := range h.providers {
		names = append(names, n)
	}
	return names
}

// Register mounts the callback route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /{provider}/callback", h.Callback)
}

// Callback handles the provider redirect.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	p, ok := h.providers[r.PathValue("provider")]
	if !ok {
		http.NotFound(w, r)
		return
	}
	ctx := r.Context()

	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" || state == "" {
		h.fail(w, p, MsgMissingParams, nil)
		return
	}

	signed, err := DecodeState(state)
	if err != nil {
		h.fail(w, p, MsgInvalidState, err)
		return
	}

	var finish func(error)
	if h.tracker != nil {
		ctx, finish = h.tracker.TrackOperation(ctx, "relay.callback", observability.RelayOperation(p.Name())...)
	}
	att, err := p.Attest(ctx, code, signed)
	if err == nil {
		bindToRequest(att, signed)
	}
	if finish != nil {
		finish(err)
	}
	if h.recorder != nil {
		h.recorder.RecordRelay(ctx, p.Name(), att, err)
	}
	if err != nil {
		msg := p.FailureMessage()
		var ae *attesterr.Error
		if errors.As(err, &ae) && ae.Kind == attesterr.KindProviderDeclined {
			msg = ae.Message
		}
		h.logger.ErrorContext(ctx, "relay attestation failed", "provider", p.Name(), "error", err)
		h.fail(w, p, msg, err)
		return
	}

	h.logger.InfoContext(ctx, "relay attestation produced",
		"provider", p.Name(), "request_id", att.RequestID)
	h.render(w, http.StatusOK, contracts.RelayMessage{
		Type:    p.ResultType(),
		Success: true,
		Result:  true,
		Params:  &contracts.RelayParams{Attestation: att},
	})
}

// DecodeState parses the state parameter. Values that are still
// percent-encoded are decoded once more.
func DecodeState(state string) (*contracts.SignedRequest, error) {
	raw := strings.TrimSpace(state)
	if !strings.HasPrefix(raw, "{") {
		if unescaped, err := url.PathUnescape(raw); err == nil {
			raw = unescaped
		}
	}
	var signed contracts.SignedRequest
	if err := json.Unmarshal([]byte(raw), &signed); err != nil {
		return nil, err
	}
	return &signed, nil
}

// bindToRequest echoes the request identity into the attestation.
func bindToRequest(att *contracts.Attestation, signed *contracts.SignedRequest) {
	switch {
	case signed.RequestID != "":
		att.RequestID = signed.RequestID
	case signed.AppID != "":
		att.RequestID = signed.AppID
	default:
		att.RequestID = "unknown"
	}
	att.Signature = signed.Signature
	if att.Signature == "" {
		att.Signature = signed.AppSignature
	}
	att.AlgorithmType = signed.AlgorithmType
	if att.AlgorithmType == "" {
		att.AlgorithmType = contracts.AlgorithmProxyTLS
	}
}

func (h *Handler) fail(w http.ResponseWriter, p Provider, msg string, cause error) {
	if cause != nil {
		h.logger.Warn("relay callback rejected", "provider", p.Name(), "reason", msg, "error", cause)
	}
	h.render(w, http.StatusBadRequest, contracts.RelayMessage{
		Type:    p.ResultType(),
		Success: false,
		Error:   msg,
	})
}

var pageTemplate = template.Must(template.New("relay").Parse(`<!DOCTYPE html>
<html>
  <body>
    <script>
      window.opener && window.opener.postMessage({{.Message}}, {{.Origin}});
      window.close();
    </script>
  </body>
</html>
`))

type pageData struct {
	Message contracts.RelayMessage
	Origin  string
}

func (h *Handler) render(w http.ResponseWriter, status int, msg contracts.RelayMessage) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := pageTemplate.Execute(w, pageData{Message: msg, Origin: h.origin}); err != nil {
		h.logger.Error("relay page render failed", "error", err)
	}
}
