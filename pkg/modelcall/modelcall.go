// Package modelcall is the transport layer between objstream and an
// upstream model endpoint. It turns one streaming model call into an
// ordered sequence of Chunks: text deltas plus usage/metadata fragments,
// terminated by a single Done chunk. Provider-specific wire formats are
// decoded by ChunkParser implementations in pkg/modelcall/provider.
package modelcall

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/objstreamhq/objstream/pkg/genai"
)

// StreamError is a fatal error event the provider reported inside an
// otherwise healthy stream (Anthropic "error" events, Ollama error lines).
// Unlike a malformed chunk, which is skipped, a StreamError ends the stream
// and becomes the cause of the terminal abort.
type StreamError struct {
	Provider string
	Code     string
	Message  string
}

func (e *StreamError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s stream error: %s: %s", e.Provider, e.Code, e.Message)
	}
	return fmt.Sprintf("%s stream error: %s", e.Provider, e.Message)
}

// Request describes one structured-generation model call.
type Request struct {
	// Model name (e.g. "gpt-4.1", "claude-sonnet-4-5", "llama3.2")
	Model string `json:"model"`

	// System prompt, if any.
	System string `json:"system,omitempty"`

	// Prompt is the user message.
	Prompt string `json:"prompt"`

	// Settings are the unified generation parameters.
	Settings genai.CallSettings `json:"settings,omitzero"`

	// SchemaJSON is the raw JSON Schema the final object must satisfy.
	// Providers with a native JSON output mode receive it on the wire.
	SchemaJSON json.RawMessage `json:"schema,omitempty"`

	// SchemaName labels the schema for providers that require a name
	// (OpenAI json_schema response format). Defaults to "response".
	SchemaName string `json:"schema_name,omitempty"`
}

// Chunk is one decoded unit of an upstream model stream. Providers report
// different concerns in different chunks (some split usage across events),
// so every field is an optional fragment; consumers merge them.
type Chunk struct {
	// Delta is the text fragment carried by this chunk, if any.
	Delta string

	// Usage is a partial usage update.
	Usage *genai.Usage

	// Response is a response metadata update.
	Response *genai.ResponseMeta

	// FinishReason is set once known.
	FinishReason genai.FinishReason

	// Done marks the terminal chunk of the stream.
	Done bool

	// ProviderMetadata carries provider-specific fields that do not map to
	// the common representation.
	ProviderMetadata map[string]any
}

// DeltaStream yields chunks strictly in arrival order. Next returns io.EOF
// once the stream is exhausted; a stream that ends without a Done chunk was
// cut off before its terminal record.
type DeltaStream interface {
	Next(ctx context.Context) (*Chunk, error)
	Close() error
}

// ChunkParser decodes one provider's wire format. Implementations live in
// pkg/modelcall/provider.
type ChunkParser interface {
	// Name returns the canonical provider name (e.g. "openai", "anthropic", "ollama").
	Name() string

	// BuildRequest converts a Request into the provider wire request body
	// and the endpoint path it must be POSTed to.
	BuildRequest(req *Request) (body []byte, path string, err error)

	// RequestHeaders returns the provider-specific headers for an upstream
	// request. The apiKey may be empty (e.g. local Ollama).
	RequestHeaders(apiKey string) map[string]string

	// ParseStreamChunk converts a single streaming payload into a Chunk.
	// Returns (nil, nil) if the payload should be skipped (keep-alives,
	// ping events).
	ParseStreamChunk(payload []byte) (*Chunk, error)
}
