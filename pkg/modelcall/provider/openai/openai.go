// Package openai decodes OpenAI's Chat Completions streaming format and
// shapes structured-output requests using the json_schema response format.
package openai

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/objstreamhq/objstream/pkg/genai"
	"github.com/objstreamhq/objstream/pkg/modelcall"
)

type parser struct{}

func New() *parser { return &parser{} }

func (p *parser) Name() string { return "openai" }

func (p *parser) BuildRequest(req *modelcall.Request) ([]byte, string, error) {
	if req.Model == "" {
		return nil, "", fmt.Errorf("model is required")
	}

	var messages []openaiMessage
	if req.System != "" {
		messages = append(messages, openaiMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, openaiMessage{Role: "user", Content: req.Prompt})

	wire := openaiRequest{
		Model:         req.Model,
		Messages:      messages,
		Stream:        true,
		StreamOptions: &streamOptions{IncludeUsage: true},
		MaxTokens:     req.Settings.MaxTokens,
		Temperature:   req.Settings.Temperature,
		TopP:          req.Settings.TopP,
		Stop:          req.Settings.Stop,
		Seed:          req.Settings.Seed,
	}

	if len(req.SchemaJSON) > 0 {
		name := req.SchemaName
		if name == "" {
			name = "response"
		}
		wire.ResponseFormat = &responseFormat{
			Type: "json_schema",
			JSONSchema: &jsonSchema{
				Name:   name,
				Strict: true,
				Schema: req.SchemaJSON,
			},
		}
	}

	body, err := json.Marshal(wire)
	if err != nil {
		return nil, "", err
	}
	return body, "/v1/chat/completions", nil
}

func (p *parser) RequestHeaders(apiKey string) map[string]string {
	headers := map[string]string{}
	if apiKey != "" {
		headers["Authorization"] = "Bearer " + apiKey
	}
	return headers
}

func (p *parser) ParseStreamChunk(payload []byte) (*modelcall.Chunk, error) {
	var wire openaiChunk
	if err := json.Unmarshal(payload, &wire); err != nil {
		return nil, err
	}

	chunk := &modelcall.Chunk{}

	if wire.ID != "" || wire.Model != "" {
		meta := genai.ResponseMeta{ID: wire.ID, ModelID: wire.Model}
		if wire.Created > 0 {
			meta.Timestamp = time.Unix(wire.Created, 0).UTC()
		}
		chunk.Response = &meta
	}

	if len(wire.Choices) > 0 {
		choice := wire.Choices[0]
		chunk.Delta = choice.Delta.Content
		if choice.FinishReason != nil {
			chunk.FinishReason = mapFinishReason(*choice.FinishReason)
		}
	}

	// With include_usage set, the final chunk carries usage and no choices.
	if wire.Usage != nil {
		chunk.Usage = &genai.Usage{
			PromptTokens:     wire.Usage.PromptTokens,
			CompletionTokens: wire.Usage.CompletionTokens,
			TotalTokens:      wire.Usage.TotalTokens,
		}
	}

	if wire.SystemFingerprint != "" {
		chunk.ProviderMetadata = map[string]any{
			"openai": map[string]any{"system_fingerprint": wire.SystemFingerprint},
		}
	}

	return chunk, nil
}

func mapFinishReason(reason string) genai.FinishReason {
	switch reason {
	case "stop":
		return genai.FinishReasonStop
	case "length":
		return genai.FinishReasonLength
	case "content_filter":
		return genai.FinishReasonContentFilter
	case "tool_calls", "function_call":
		return genai.FinishReasonToolCalls
	default:
		return genai.FinishReasonUnknown
	}
}
