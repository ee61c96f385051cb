package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Mindburn-Labs/attestgate/pkg/attesterr"
	"github.com/Mindburn-Labs/attestgate/pkg/contracts"
	"github.com/Mindburn-Labs/attestgate/pkg/versioning"
)

// ExtensionRuntime is the page's view of the installed attestation extension.
type ExtensionRuntime interface {
	Detected() bool
	Version() string
	// SendMessage delivers msg to the extension. callback, when invoked,
	// carries the extension's direct reply.
	SendMessage(ctx context.Context, extensionID string, msg contracts.ExtensionRequest, callback func(*contracts.ExtensionResult)) error
}

// ExtensionExecutor runs attestations through the browser extension.
type ExtensionExecutor struct {
	Runtime     ExtensionRuntime
	ExtensionID string
	Demux       *Demux
	Gate        *versioning.Gate
	Catalog     *ErrorCatalog
	SDKVersion  string
	DappSymbol  string
	Logger      *slog.Logger
}

// NewExtensionExecutor wires an extension executor with the default decline
// catalog and version gate.
func NewExtensionExecutor(rt ExtensionRuntime, extensionID string, demux *Demux) *ExtensionExecutor {
	return &ExtensionExecutor{
		Runtime:     rt,
		ExtensionID: extensionID,
		Demux:       demux,
		Gate:        versioning.MustGate(versioning.DefaultExtensionConstraint),
		Catalog:     DefaultCatalog(),
		SDKVersion:  versioning.SDKVersion,
		DappSymbol:  "attestgate",
		Logger:      slog.Default().With("component", "extension-executor"),
	}
}

func (e *ExtensionExecutor) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// Execute sends startAttestation and waits for the first terminal reply:
// the runtime callback or a startAttestationRes page message.
func (e *ExtensionExecutor) Execute(ctx context.Context, signed *contracts.SignedRequest) (*contracts.Attestation, error) {
	if err := requireSigned(signed); err != nil {
		return nil, err
	}
	if e.Runtime == nil || !e.Runtime.Detected() {
		return nil, attesterr.ErrExtensionNotDetected
	}
	if err := e.Gate.Check(e.Runtime.Version()); err != nil {
		return nil, attesterr.ErrExtensionUnsupported.WithDetail(err.Error(), err)
	}

	var (
		inbound <-chan contracts.Message
		stop    = func() {}
	)
	if e.Demux != nil {
		inbound, stop = e.Demux.Subscribe(Filter{
			Target: contracts.ExtensionTarget,
			Names: []string{
				contracts.MessageInitAttestationRes,
				contracts.MessageGetAttestationRes,
				contracts.MessageStartAttestationRes,
			},
		})
	}
	defer stop()

	replies := make(chan *contracts.ExtensionResult, 1)
	callback := func(res *contracts.ExtensionResult) {
		select {
		case replies <- res:
		default:
		}
	}

	msg := contracts.NewExtensionRequest(signed, e.SDKVersion, e.DappSymbol)
	if err := e.Runtime.SendMessage(ctx, e.ExtensionID, msg, callback); err != nil {
		return nil, attesterr.ErrExtensionTransport.WithDetail(err.Error(), err)
	}
	e.logger().InfoContext(ctx, "attestation dispatched to extension",
		"request_id", signed.RequestID, "template_id", signed.TemplateID)

	var observed []string
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case res := <-replies:
			if att, done, err := e.settle(signed, res, observed); done {
				return att, err
			}

		case m, ok := <-inbound:
			if !ok {
				inbound = nil
				continue
			}
			res, err := m.ExtensionResult()
			if err != nil {
				e.logger().WarnContext(ctx, "undecodable extension message", "name", m.Name, "error", err)
				continue
			}
			switch m.Name {
			case contracts.MessageInitAttestationRes:
				e.logger().DebugContext(ctx, "extension initialised", "result", res.Result)
			case contracts.MessageGetAttestationRes:
				if !res.Result && res.ErrorData != nil {
					e.logger().WarnContext(ctx, "extension reported an attestation error",
						"request_id", signed.RequestID, "code", res.ErrorData.Code, "desc", res.ErrorData.Desc)
					observed = append(observed, fmt.Sprintf("%s: %s", res.ErrorData.Code, res.ErrorData.Desc))
				}
			case contracts.MessageStartAttestationRes:
				if att, done, err := e.settle(signed, res, observed); done {
					return att, err
				}
			}
		}
	}
}

// settle turns a terminal reply into an outcome. done is false for stale
// completions, which are dropped.
func (e *ExtensionExecutor) settle(signed *contracts.SignedRequest, res *contracts.ExtensionResult, observed []string) (*contracts.Attestation, bool, error) {
	if res == nil {
		return nil, true, attesterr.New(attesterr.KindExecutor, "empty_result",
			"The attestation extension returned no result.")
	}
	if stale(e.logger(), signed, res.Data) {
		return nil, false, nil
	}
	if !res.Result {
		return nil, true, e.declined(signed, res, observed)
	}
	if res.Data == nil {
		return nil, true, attesterr.New(attesterr.KindExecutor, "empty_result",
			"The attestation extension returned no result.")
	}
	return res.Data, true, nil
}

func (e *ExtensionExecutor) declined(signed *contracts.SignedRequest, res *contracts.ExtensionResult, observed []string) error {
	code, desc := "", ""
	if res.ErrorData != nil {
		code, desc = res.ErrorData.Code, res.ErrorData.Desc
	}
	detail := desc
	if len(observed) > 0 {
		detail = strings.TrimSpace(detail + " [observed: " + strings.Join(observed, "; ") + "]")
	}
	cause := fmt.Errorf("provider declined with code %q", code)
	return attesterr.New(attesterr.KindProviderDeclined, code, e.Catalog.Message(signed.TemplateID, code)).
		WithDetail(detail, cause)
}

// MarshalForPage renders an extension reply the way the extension posts it
// to the page. Runtimes and tests use it to feed a Demux.
func MarshalForPage(name string, res contracts.ExtensionResult) ([]byte, error) {
	return json.Marshal(map[string]any{
		"target": contracts.ExtensionTarget,
		"name":   name,
		"params": res,
	})
}
