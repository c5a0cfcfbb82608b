// Package telemetry records generation streams as OpenTelemetry spans.
//
// Recording is disabled by default. When enabled, span attributes always
// carry model identity, settings, usage, and timing; prompt, schema, and
// response content are captured only when input/output recording is
// explicitly turned on. That selective redaction is part of the contract:
// operators routinely want usage accounting without retaining user content.
package telemetry

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/objstreamhq/objstream/pkg/genai"
)

const scopeName = "github.com/objstreamhq/objstream"

// Span attribute and event keys.
const (
	AttrOperationID       = "ai.operationId"
	AttrModelID           = "ai.model.id"
	AttrModelProvider     = "ai.model.provider"
	AttrPrompt            = "ai.prompt"
	AttrSchema            = "ai.schema"
	AttrResponseObject    = "ai.response.object"
	AttrResponseID        = "ai.response.id"
	AttrResponseModel     = "ai.response.model"
	AttrResponseTimestamp = "ai.response.timestamp"
	AttrFinishReason      = "ai.finishReason"
	AttrErrorKind         = "ai.error.kind"
	AttrUsagePrompt       = "ai.usage.promptTokens"
	AttrUsageCompletion   = "ai.usage.completionTokens"
	AttrUsageTotal        = "ai.usage.totalTokens"

	EventFirstChunk      = "ai.stream.firstChunk"
	AttrMsToFirstChunk   = "ai.stream.msToFirstChunk"
	settingsAttrPrefix   = "ai.settings."
)

// Settings configures a Recorder.
type Settings struct {
	// Enabled turns span recording on. Disabled recorders are no-ops.
	Enabled bool

	// RecordInputs captures ai.prompt and ai.schema on spans.
	RecordInputs bool

	// RecordOutputs captures ai.response.object on spans.
	RecordOutputs bool

	// TracerProvider supplies the tracer. Exporter wiring is the caller's
	// concern.
	TracerProvider trace.TracerProvider
}

// Recorder opens and closes generation spans. The zero value is a no-op.
type Recorder struct {
	tracer        trace.Tracer
	recordInputs  bool
	recordOutputs bool
}

// NewRecorder creates a Recorder. A disabled or provider-less configuration
// yields a no-op recorder.
func NewRecorder(s Settings) *Recorder {
	if !s.Enabled || s.TracerProvider == nil {
		return &Recorder{}
	}
	return &Recorder{
		tracer:        s.TracerProvider.Tracer(scopeName),
		recordInputs:  s.RecordInputs,
		recordOutputs: s.RecordOutputs,
	}
}

// CallInfo describes the generation being recorded.
type CallInfo struct {
	ModelID  string
	Provider string
	Settings genai.CallSettings

	// Content, captured only with RecordInputs.
	System string
	Prompt string
	Schema json.RawMessage
}

// Start opens a span for one logical operation (e.g. "ai.streamObject" for
// the outer call, "ai.streamObject.doStream" for the inner model call).
// The returned Span is nil-safe; it must be ended exactly once.
func (r *Recorder) Start(ctx context.Context, operation string, info CallInfo) (context.Context, *Span) {
	if r == nil || r.tracer == nil {
		return ctx, nil
	}

	attrs := []attribute.KeyValue{
		attribute.String(AttrOperationID, operation),
		attribute.String(AttrModelID, info.ModelID),
		attribute.String(AttrModelProvider, info.Provider),
	}
	attrs = append(attrs, settingsAttrs(info.Settings)...)

	if r.recordInputs {
		prompt := info.Prompt
		if info.System != "" {
			prompt = info.System + "\n\n" + prompt
		}
		attrs = append(attrs, attribute.String(AttrPrompt, prompt))
		if len(info.Schema) > 0 {
			attrs = append(attrs, attribute.String(AttrSchema, string(info.Schema)))
		}
	}

	ctx, otelSpan := r.tracer.Start(ctx, operation, trace.WithAttributes(attrs...))
	return ctx, &Span{
		span:          otelSpan,
		start:         time.Now(),
		recordOutputs: r.recordOutputs,
	}
}

func settingsAttrs(s genai.CallSettings) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if s.MaxTokens != nil {
		attrs = append(attrs, attribute.Int(settingsAttrPrefix+"maxTokens", *s.MaxTokens))
	}
	if s.Temperature != nil {
		attrs = append(attrs, attribute.Float64(settingsAttrPrefix+"temperature", *s.Temperature))
	}
	if s.TopP != nil {
		attrs = append(attrs, attribute.Float64(settingsAttrPrefix+"topP", *s.TopP))
	}
	if s.TopK != nil {
		attrs = append(attrs, attribute.Int(settingsAttrPrefix+"topK", *s.TopK))
	}
	if s.Seed != nil {
		attrs = append(attrs, attribute.Int(settingsAttrPrefix+"seed", *s.Seed))
	}
	if len(s.Stop) > 0 {
		attrs = append(attrs, attribute.StringSlice(settingsAttrPrefix+"stopSequences", s.Stop))
	}
	return attrs
}

// Span wraps one in-flight OpenTelemetry span. A nil Span is a no-op, so
// callers never branch on whether telemetry is enabled.
type Span struct {
	span          trace.Span
	start         time.Time
	recordOutputs bool
	sawFirstChunk bool
}

// FirstChunk records the time-to-first-chunk event. Only the first call has
// an effect.
func (s *Span) FirstChunk() {
	if s == nil || s.sawFirstChunk {
		return
	}
	s.sawFirstChunk = true
	ms := float64(time.Since(s.start)) / float64(time.Millisecond)
	s.span.AddEvent(EventFirstChunk, trace.WithAttributes(
		attribute.Float64(AttrMsToFirstChunk, ms),
	))
}

// End closes the span with the terminal result of the stream, recording
// usage, finish reason, and response metadata for success and failure
// alike. The generated object is captured only with RecordOutputs.
func (s *Span) End(result *genai.FinalResult) {
	if s == nil {
		return
	}
	defer s.span.End()
	if result == nil {
		return
	}

	s.span.SetAttributes(
		attribute.Int(AttrUsagePrompt, result.Usage.PromptTokens),
		attribute.Int(AttrUsageCompletion, result.Usage.CompletionTokens),
		attribute.Int(AttrUsageTotal, result.Usage.TotalTokens),
		attribute.String(AttrFinishReason, string(result.FinishReason)),
	)
	if result.Response.ID != "" {
		s.span.SetAttributes(attribute.String(AttrResponseID, result.Response.ID))
	}
	if result.Response.ModelID != "" {
		s.span.SetAttributes(attribute.String(AttrResponseModel, result.Response.ModelID))
	}
	if !result.Response.Timestamp.IsZero() {
		s.span.SetAttributes(attribute.String(AttrResponseTimestamp, result.Response.Timestamp.Format(time.RFC3339)))
	}

	if result.Err != nil {
		s.span.SetAttributes(attribute.String(AttrErrorKind, string(genai.KindOf(result.Err))))
		s.span.RecordError(result.Err)
		s.span.SetStatus(codes.Error, result.Err.Error())
		return
	}

	if s.recordOutputs && result.Object != nil {
		if objJSON, err := json.Marshal(result.Object); err == nil {
			s.span.SetAttributes(attribute.String(AttrResponseObject, string(objJSON)))
		}
	}
	s.span.SetStatus(codes.Ok, "")
}
