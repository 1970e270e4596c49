package pipeline

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/metaneutrons/snapdog2-sub010/internal/apperr"
)

// Span attribute keys.
const (
	attrOperation = attribute.Key("snapdog.operation")
	attrKind      = attribute.Key("snapdog.request.kind")
	attrSource    = attribute.Key("snapdog.command.source")
	attrClass     = attribute.Key("snapdog.command.class")
	attrErrorKind = attribute.Key("snapdog.error.kind")
)

func spanAttributes(k kind, req Request) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attrOperation.String(req.Operation()),
		attrKind.String(string(k)),
	}
	if c, ok := req.(Command); ok {
		attrs = append(attrs, attrSource.String(string(c.Origin())))
	}
	if m, ok := req.(Mutating); ok {
		attrs = append(attrs, attrClass.String(m.Class().String()))
	}
	return attrs
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetAttributes(attrErrorKind.String(apperr.KindOf(err).String()))
	span.SetStatus(codes.Error, err.Error())
}
