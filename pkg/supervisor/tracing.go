package supervisor

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"aide/pkg/protocol"
	"aide/pkg/turn"
)

const tracerName = "aide/supervisor"

// startPhaseSpan starts a span for one state-machine phase of a turn.
func startPhaseSpan(ctx context.Context, phase turn.Phase, s turn.State) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "phase."+phase.String())
	span.SetAttributes(
		attribute.String("turn.token", s.Token),
		attribute.String("turn.user", s.UserID),
		attribute.Int("turn.cursor", s.Cursor),
	)
	return ctx, span
}

// startAgentSpan starts a span around one executor call.
func startAgentSpan(ctx context.Context, agentType, action string) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "agent."+agentType)
	span.SetAttributes(
		attribute.String("agent.type", agentType),
		attribute.String("agent.action", action),
	)
	return ctx, span
}

// endSpan records err, if any, and ends span.
func endSpan(span trace.Span, attrs map[string]string, err error) {
	for k, v := range attrs {
		span.SetAttributes(attribute.String(k, v))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func trustAttrs(score protocol.TrustScore) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int("trust.level", int(score.Level)),
		attribute.Int("trust.successful", score.SuccessfulActions),
		attribute.Int("trust.total", score.TotalActions),
	}
}
