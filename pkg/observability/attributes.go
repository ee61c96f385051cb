package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Mindburn-Labs/attestgate/pkg/attesterr"
)

// Attestation semantic convention attributes.
var (
	AttrOperation  = attribute.Key("attestgate.operation")
	AttrAppID      = attribute.Key("attestgate.app_id")
	AttrTemplateID = attribute.Key("attestgate.template_id")
	AttrRequestID  = attribute.Key("attestgate.request_id")
	AttrProvider   = attribute.Key("attestgate.provider")
	AttrChannel    = attribute.Key("attestgate.channel")
	AttrOutcome    = attribute.Key("attestgate.outcome")
	AttrErrorKind  = attribute.Key("attestgate.error.kind")
)

// SignOperation creates attributes for a signing call.
func SignOperation(appID, templateID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrAppID.String(appID),
		AttrTemplateID.String(templateID),
	}
}

// RelayOperation creates attributes for a relay callback.
func RelayOperation(provider string) []attribute.KeyValue {
	return []attribute.KeyValue{AttrProvider.String(provider)}
}

// AttemptOperation creates attributes for a session attempt.
func AttemptOperation(templateID string, withExtension bool) []attribute.KeyValue {
	channel := "relay"
	if withExtension {
		channel = "extension"
	}
	return []attribute.KeyValue{
		AttrTemplateID.String(templateID),
		AttrChannel.String(channel),
	}
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

func errorKind(err error) string {
	if k := attesterr.KindOf(err); k != "" {
		return string(k)
	}
	return "INTERNAL"
}
