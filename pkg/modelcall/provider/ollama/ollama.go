// Package ollama decodes Ollama's NDJSON chat streaming format and shapes
// structured-output requests using the "format" field, which accepts a raw
// JSON Schema.
package ollama

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/objstreamhq/objstream/pkg/genai"
	"github.com/objstreamhq/objstream/pkg/modelcall"
)

type parser struct{}

func New() *parser { return &parser{} }

func (p *parser) Name() string { return "ollama" }

func (p *parser) BuildRequest(req *modelcall.Request) ([]byte, string, error) {
	if req.Model == "" {
		return nil, "", fmt.Errorf("model is required")
	}

	var messages []ollamaMessage
	if req.System != "" {
		messages = append(messages, ollamaMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, ollamaMessage{Role: "user", Content: req.Prompt})

	stream := true
	wire := ollamaRequest{
		Model:    req.Model,
		Messages: messages,
		Stream:   &stream,
		Format:   req.SchemaJSON,
	}
	if req.Settings.Temperature != nil || req.Settings.TopP != nil ||
		req.Settings.TopK != nil || req.Settings.MaxTokens != nil || req.Settings.Seed != nil {
		wire.Options = &ollamaOptions{
			Temperature: req.Settings.Temperature,
			TopP:        req.Settings.TopP,
			TopK:        req.Settings.TopK,
			NumPredict:  req.Settings.MaxTokens,
			Seed:        req.Settings.Seed,
			Stop:        req.Settings.Stop,
		}
	}

	body, err := json.Marshal(wire)
	if err != nil {
		return nil, "", err
	}
	return body, "/api/chat", nil
}

func (p *parser) RequestHeaders(apiKey string) map[string]string {
	// Local Ollama needs no auth; honor a key if one is configured anyway.
	headers := map[string]string{}
	if apiKey != "" {
		headers["Authorization"] = "Bearer " + apiKey
	}
	return headers
}

func (p *parser) ParseStreamChunk(payload []byte) (*modelcall.Chunk, error) {
	var wire ollamaChunk
	if err := json.Unmarshal(payload, &wire); err != nil {
		return nil, err
	}

	// Ollama reports failures as an error line in the NDJSON stream.
	if wire.Error != "" {
		return nil, &modelcall.StreamError{Provider: "ollama", Message: wire.Error}
	}

	chunk := &modelcall.Chunk{
		Delta: wire.Message.Content,
		Done:  wire.Done,
	}

	if wire.Model != "" {
		meta := genai.ResponseMeta{ModelID: wire.Model}
		if !wire.CreatedAt.IsZero() {
			meta.Timestamp = wire.CreatedAt
		}
		chunk.Response = &meta
	}

	// Usage arrives on the final line only.
	if wire.Done {
		chunk.Usage = &genai.Usage{
			PromptTokens:     wire.PromptEvalCount,
			CompletionTokens: wire.EvalCount,
		}
		chunk.FinishReason = mapDoneReason(wire.DoneReason)
		if wire.TotalDuration > 0 {
			chunk.ProviderMetadata = map[string]any{
				"ollama": map[string]any{
					"total_duration_ns": wire.TotalDuration,
					"load_duration_ns":  wire.LoadDuration,
				},
			}
		}
	}

	return chunk, nil
}

func mapDoneReason(reason string) genai.FinishReason {
	switch reason {
	case "", "stop":
		return genai.FinishReasonStop
	case "length":
		return genai.FinishReasonLength
	default:
		return genai.FinishReasonUnknown
	}
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   *bool           `json:"stream,omitempty"`
	Format   json.RawMessage `json:"format,omitempty"`
	Options  *ollamaOptions  `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	TopK        *int     `json:"top_k,omitempty"`
	NumPredict  *int     `json:"num_predict,omitempty"`
	Seed        *int     `json:"seed,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type ollamaChunk struct {
	Model      string        `json:"model"`
	CreatedAt  time.Time     `json:"created_at"`
	Message    ollamaMessage `json:"message"`
	Done       bool          `json:"done"`
	Error      string        `json:"error,omitempty"`
	DoneReason string        `json:"done_reason,omitempty"`

	PromptEvalCount int   `json:"prompt_eval_count,omitempty"`
	EvalCount       int   `json:"eval_count,omitempty"`
	TotalDuration   int64 `json:"total_duration,omitempty"`
	LoadDuration    int64 `json:"load_duration,omitempty"`
}
