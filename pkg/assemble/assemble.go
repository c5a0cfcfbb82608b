// Package assemble turns an ordered stream of model text deltas into a
// single schema-validated object. While the stream is live it emits raw
// deltas and best-effort partial objects; when the stream ends it produces
// exactly one terminal FinalResult, either the validated object or a
// classified error.
package assemble

import (
	"context"
	"errors"
	"io"
	"reflect"

	"go.uber.org/zap"

	"github.com/objstreamhq/objstream/pkg/genai"
	"github.com/objstreamhq/objstream/pkg/modelcall"
	"github.com/objstreamhq/objstream/pkg/partialjson"
	"github.com/objstreamhq/objstream/pkg/schema"
	"github.com/objstreamhq/objstream/pkg/telemetry"
	"github.com/objstreamhq/objstream/pkg/utils"
)

// Event is one item of the live assembly stream. The concrete types are
// TextDeltaEvent, PartialEvent, and FinalEvent.
type Event interface {
	isEvent()
}

// TextDeltaEvent carries one raw text fragment exactly as the model
// produced it.
type TextDeltaEvent struct {
	Delta string
}

// PartialEvent carries a new best-effort partial object. Consecutive
// partials are never structurally equal.
type PartialEvent struct {
	Object any
}

// FinalEvent is the single terminal event of a stream.
type FinalEvent struct {
	Result *genai.FinalResult
}

func (TextDeltaEvent) isEvent() {}
func (PartialEvent) isEvent()   {}
func (FinalEvent) isEvent()     {}

// Sink receives events in emission order. A non-nil error stops the
// assembly; the run then terminates with an abort carrying that error.
type Sink func(Event) error

// Options configure one Assembler.
type Options struct {
	// Schema validates the final object. Nil skips validation: any
	// syntactically complete JSON value passes.
	Schema *schema.Schema

	// Telemetry records a span per Run. Nil disables tracing.
	Telemetry *telemetry.Recorder

	// Call describes the model call for the telemetry span.
	Call telemetry.CallInfo

	Logger *zap.Logger
}

// Assembler folds model stream chunks into partial objects and a terminal
// result. An Assembler is stateless across runs and safe for concurrent use.
type Assembler struct {
	schema    *schema.Schema
	telemetry *telemetry.Recorder
	call      telemetry.CallInfo
	logger    *zap.Logger
}

// New builds an Assembler from opts.
func New(opts Options) *Assembler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assembler{
		schema:    opts.Schema,
		telemetry: opts.Telemetry,
		call:      opts.Call,
		logger:    logger,
	}
}

// accumulator folds stream chunks. It carries everything the terminal
// result needs: the raw text, the merged usage and response metadata, the
// last emitted partial, and whether the terminal record arrived.
type accumulator struct {
	text         []byte
	usage        genai.Usage
	response     genai.ResponseMeta
	finishReason genai.FinishReason
	providerMeta map[string]any
	lastPartial  any
	sawPartial   bool
	done         bool
}

func (a *accumulator) fold(c *modelcall.Chunk) {
	a.text = append(a.text, c.Delta...)
	if c.Usage != nil {
		a.usage.Merge(*c.Usage)
	}
	if c.Response != nil {
		a.response.Merge(*c.Response)
	}
	if c.FinishReason != "" {
		a.finishReason = c.FinishReason
	}
	if c.Done {
		a.done = true
	}
	for k, v := range c.ProviderMetadata {
		if a.providerMeta == nil {
			a.providerMeta = make(map[string]any)
		}
		a.providerMeta[k] = v
	}
}

// Run consumes src to exhaustion, forwarding events to sink, and returns
// the terminal result. The result is also delivered as the final sink
// event, after every delta and partial. Run closes src before returning.
func (a *Assembler) Run(ctx context.Context, src modelcall.DeltaStream, sink Sink) *genai.FinalResult {
	defer src.Close()

	ctx, span := a.telemetry.Start(ctx, "ai.streamObject", a.call)
	ctx, streamSpan := a.telemetry.Start(ctx, "ai.streamObject.doStream", a.call)

	acc := &accumulator{}
	var abortErr error

loop:
	for {
		chunk, err := src.Next(ctx)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				abortErr = err
			}
			break
		}
		streamSpan.FirstChunk()
		acc.fold(chunk)

		if chunk.Delta == "" {
			continue
		}
		if err := sink(TextDeltaEvent{Delta: chunk.Delta}); err != nil {
			abortErr = err
			break loop
		}

		partial, ok := partialjson.Parse(string(acc.text))
		if !ok {
			continue
		}
		if acc.sawPartial && reflect.DeepEqual(partial, acc.lastPartial) {
			continue
		}
		acc.lastPartial = partial
		acc.sawPartial = true
		if err := sink(PartialEvent{Object: partial}); err != nil {
			abortErr = err
			break loop
		}
	}

	result := a.finalize(acc, abortErr)
	streamSpan.End(result)
	span.End(result)

	if err := sink(FinalEvent{Result: result}); err != nil {
		a.logger.Warn("final event rejected by sink", zap.Error(err))
	}
	return result
}

// finalize classifies the end of the stream into the single terminal
// result. abortErr, when non-nil, is the upstream failure that cut the
// stream off.
func (a *Assembler) finalize(acc *accumulator, abortErr error) *genai.FinalResult {
	acc.usage.Finalize()

	result := &genai.FinalResult{
		Partial:          acc.lastPartial,
		RawText:          string(acc.text),
		Usage:            acc.usage,
		FinishReason:     acc.finishReason,
		Response:         acc.response,
		ProviderMetadata: acc.providerMeta,
	}
	if result.FinishReason == "" {
		result.FinishReason = genai.FinishReasonUnknown
	}

	// A stream that errored, or ended without its terminal record, never
	// completed; nothing it produced can be trusted as final.
	if abortErr != nil || !acc.done {
		result.Err = &genai.AbortError{Cause: abortErr}
		result.FinishReason = genai.FinishReasonAborted
		a.logger.Warn("stream aborted before completion",
			zap.Error(abortErr),
			zap.Int("bytes_received", len(acc.text)))
		return result
	}

	value, err := partialjson.Strict(string(acc.text))
	if err != nil {
		var utf8Err *partialjson.UTF8Error
		if errors.As(err, &utf8Err) {
			result.Err = &genai.DecodeError{Offset: utf8Err.Offset}
		} else {
			result.Err = &genai.ParseError{Text: string(acc.text), Cause: err}
		}
		a.logger.Warn("final text is not a JSON object",
			zap.String("error_kind", string(genai.KindOf(result.Err))),
			zap.String("raw_preview", utils.Truncate(string(acc.text), 120)),
			zap.Error(result.Err))
		return result
	}

	if a.schema != nil {
		if err := a.schema.Validate(value); err != nil {
			result.Err = &genai.NoObjectError{Value: value, Cause: err}
			a.logger.Warn("final object rejected by schema", zap.Error(err))
			return result
		}
	}

	result.Object = value
	return result
}
