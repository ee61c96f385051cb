package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Mindburn-Labs/attestgate/pkg/attesterr"
	"github.com/Mindburn-Labs/attestgate/pkg/contracts"
	"github.com/Mindburn-Labs/attestgate/pkg/limiter"
	"github.com/Mindburn-Labs/attestgate/pkg/observability"
	"github.com/Mindburn-Labs/attestgate/pkg/request"
)

const maxSignBody = 1 << 20

// SignService is the trusted signer behind POST /sign.
// *signing.Service satisfies it.
type SignService interface {
	Sign(ctx context.Context, req *contracts.AttestationRequest) (*contracts.SignedRequest, error)
	AppID() string
	PublicKey() string
	Algorithm() string
}

// Tracker wraps an operation in a span. *observability.Provider satisfies it.
type Tracker interface {
	TrackOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error))
}

// SignHandler serves POST /sign and GET /sign/key.
type SignHandler struct {
	service SignService
	limiter limiter.Store
	policy  limiter.Policy
	tracker Tracker
	logger  *slog.Logger
}

// SignOption configures a SignHandler.
type SignOption func(*SignHandler)

// WithLimiter rate limits signing per application.
func WithLimiter(store limiter.Store, policy limiter.Policy) SignOption {
	return func(h *SignHandler) {
		h.limiter = store
		h.policy = policy
	}
}

// WithTracker traces each signing call.
func WithTracker(t Tracker) SignOption {
	return func(h *SignHandler) { h.tracker = t }
}

// NewSignHandler creates the handler.
func NewSignHandler(service SignService, opts ...SignOption) *SignHandler {
	h := &SignHandler{
		service: service,
		logger:  slog.Default().With("component", "api.sign"),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Register mounts the signer routes.
func (h *SignHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /sign", h.Sign)
	mux.HandleFunc("GET /sign/key", h.Key)
}

type signRequestBody struct {
	SignParams json.RawMessage `json:"signParams"`
}

type signResponseBody struct {
	SignResult *contracts.SignedRequest `json:"signResult"`
}

// KeyResponse is the body of GET /sign/key.
type KeyResponse struct {
	PublicKey string `json:"publicKey"`
	AppID     string `json:"appId"`
	Algorithm string `json:"algorithm"`
}

// Sign accepts {"signParams": object | string} and returns {"signResult"}.
func (h *SignHandler) Sign(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		WriteInternal(w, attesterr.ErrSignerNotConfigured)
		return
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxSignBody))
	if err != nil {
		WriteBadRequest(w, "Invalid request body", err.Error())
		return
	}
	var body signRequestBody
	if err := json.Unmarshal(raw, &body); err != nil {
		WriteBadRequest(w, "Invalid request body", err.Error())
		return
	}

	req, err := request.ParseSignParams(body.SignParams)
	if err != nil {
		WriteAttestError(w, err)
		return
	}

	ctx := r.Context()
	if h.limiter != nil {
		allowed, err := h.limiter.Allow(ctx, "sign:"+req.AppID, h.policy, 1)
		if err != nil {
			h.logger.WarnContext(ctx, "sign limiter unavailable, allowing", "error", err)
		} else if !allowed {
			WriteTooManyRequests(w, h.policy.RetryAfter())
			return
		}
	}

	var finish func(error)
	if h.tracker != nil {
		ctx, finish = h.tracker.TrackOperation(ctx, "sign", observability.SignOperation(req.AppID, req.TemplateID)...)
	}
	signed, err := h.service.Sign(ctx, req)
	if finish != nil {
		finish(err)
	}
	if err != nil {
		h.logger.WarnContext(ctx, "sign request rejected",
			"http_request_id", GetRequestID(ctx),
			"template_id", req.TemplateID,
			"error", attesterr.Describe(err),
		)
		if errors.Is(err, &attesterr.Error{Kind: attesterr.KindValidation}) {
			WriteAttestError(w, err)
			return
		}
		WriteInternal(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, signResponseBody{SignResult: signed})
}

// Key publishes the verification key.
func (h *SignHandler) Key(w http.ResponseWriter, _ *http.Request) {
	if h.service == nil {
		WriteInternal(w, attesterr.ErrSignerNotConfigured)
		return
	}
	WriteJSON(w, http.StatusOK, KeyResponse{
		PublicKey: h.service.PublicKey(),
		AppID:     h.service.AppID(),
		Algorithm: h.service.Algorithm(),
	})
}
