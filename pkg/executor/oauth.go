package executor

import (
	"context"
	"encoding/json"
	"log/slog"

	"golang.org/x/oauth2"

	"github.com/Mindburn-Labs/attestgate/pkg/attesterr"
	"github.com/Mindburn-Labs/attestgate/pkg/contracts"
)

// PopupOpener opens the provider's authorization page in a popup.
type PopupOpener interface {
	Open(ctx context.Context, url string) error
}

// PopupFunc adapts a function to PopupOpener.
type PopupFunc func(ctx context.Context, url string) error

func (f PopupFunc) Open(ctx context.Context, url string) error { return f(ctx, url) }

// OAuthExecutor runs attestations through an OAuth popup. The signed request
// travels as the state parameter; the relay callback posts the attestation
// back to the opener as a typed result message.
type OAuthExecutor struct {
	Provider   string
	ResultType string
	Config     *oauth2.Config
	Opener     PopupOpener
	Demux      *Demux
	Logger     *slog.Logger
}

func (o *OAuthExecutor) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// AuthURL returns the authorization URL carrying signed as state.
func (o *OAuthExecutor) AuthURL(signed *contracts.SignedRequest) (string, error) {
	state, err := EncodeState(signed)
	if err != nil {
		return "", err
	}
	return o.Config.AuthCodeURL(state, oauth2.AccessTypeOnline), nil
}

// EncodeState serialises the normalised signed request for the state parameter.
func EncodeState(signed *contracts.SignedRequest) (string, error) {
	s := *signed
	s.Normalize()
	b, err := json.Marshal(s)
	if err != nil {
		return "", attesterr.Validation("signed request is not serializable", err)
	}
	return string(b), nil
}

// Execute opens the popup and waits for the provider's result message.
func (o *OAuthExecutor) Execute(ctx context.Context, signed *contracts.SignedRequest) (*contracts.Attestation, error) {
	if err := requireSigned(signed); err != nil {
		return nil, err
	}
	if o.Config == nil || o.Opener == nil || o.Demux == nil {
		return nil, attesterr.Configuration("OAuth relay for "+o.Provider+" is not configured", nil)
	}

	authURL, err := o.AuthURL(signed)
	if err != nil {
		return nil, err
	}

	inbound, stop := o.Demux.Subscribe(Filter{Type: o.ResultType})
	defer stop()

	if err := o.Opener.Open(ctx, authURL); err != nil {
		return nil, attesterr.ErrPopupBlocked.WithDetail(err.Error(), err)
	}
	o.logger().InfoContext(ctx, "relay popup opened", "provider", o.Provider, "request_id", signed.RequestID)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case m, ok := <-inbound:
			if !ok {
				return nil, attesterr.ErrRelayFailed.WithDetail("message channel closed", nil)
			}
			rm, err := m.RelayMessage()
			if err != nil {
				o.logger().WarnContext(ctx, "undecodable relay message", "type", m.Type, "error", err)
				continue
			}
			if !rm.Success {
				msg := rm.Error
				if msg == "" {
					msg = attesterr.ErrRelayFailed.Message
				}
				return nil, attesterr.New(attesterr.KindExecutor, attesterr.ErrRelayFailed.Code, msg).
					WithDetail(o.Provider+": "+msg, nil)
			}
			att := rm.Attestation()
			if att == nil {
				return nil, attesterr.ErrRelayFailed.WithDetail("relay reported success without an attestation", nil)
			}
			if stale(o.logger(), signed, att) {
				continue
			}
			return att, nil
		}
	}
}
