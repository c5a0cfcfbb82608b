// Package anthropic decodes Anthropic's Messages API streaming format.
// Anthropic has no native JSON output mode, so the schema is injected into
// the system prompt; it also splits usage across message_start (input
// tokens) and message_delta (output tokens), which is why chunk usage is a
// mergeable fragment.
package anthropic

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/objstreamhq/objstream/pkg/genai"
	"github.com/objstreamhq/objstream/pkg/modelcall"
)

const (
	apiVersion       = "2023-06-01"
	defaultMaxTokens = 4096
)

type parser struct{}

func New() *parser { return &parser{} }

func (p *parser) Name() string { return "anthropic" }

func (p *parser) BuildRequest(req *modelcall.Request) ([]byte, string, error) {
	if req.Model == "" {
		return nil, "", fmt.Errorf("model is required")
	}

	maxTokens := defaultMaxTokens
	if req.Settings.MaxTokens != nil {
		maxTokens = *req.Settings.MaxTokens
	}

	system := req.System
	if len(req.SchemaJSON) > 0 {
		instruction := "Respond only with a single JSON object matching this JSON Schema, with no surrounding text:\n" + string(req.SchemaJSON)
		if system == "" {
			system = instruction
		} else {
			system += "\n\n" + instruction
		}
	}

	wire := anthropicRequest{
		Model:       req.Model,
		MaxTokens:   maxTokens,
		System:      system,
		Stream:      true,
		Temperature: req.Settings.Temperature,
		TopP:        req.Settings.TopP,
		TopK:        req.Settings.TopK,
		Stop:        req.Settings.Stop,
		Messages: []anthropicMessage{
			{Role: "user", Content: req.Prompt},
		},
	}

	body, err := json.Marshal(wire)
	if err != nil {
		return nil, "", err
	}
	return body, "/v1/messages", nil
}

func (p *parser) RequestHeaders(apiKey string) map[string]string {
	headers := map[string]string{
		"anthropic-version": apiVersion,
	}
	if apiKey != "" {
		headers["x-api-key"] = apiKey
	}
	return headers
}

func (p *parser) ParseStreamChunk(payload []byte) (*modelcall.Chunk, error) {
	var wire anthropicEvent
	if err := json.Unmarshal(payload, &wire); err != nil {
		return nil, err
	}

	switch wire.Type {
	case "message_start":
		if wire.Message == nil {
			return nil, nil
		}
		chunk := &modelcall.Chunk{
			Response: &genai.ResponseMeta{
				ID:        wire.Message.ID,
				ModelID:   wire.Message.Model,
				Timestamp: time.Now().UTC(),
			},
		}
		if wire.Message.Usage != nil {
			chunk.Usage = &genai.Usage{
				PromptTokens: wire.Message.Usage.InputTokens +
					wire.Message.Usage.CacheCreationInputTokens +
					wire.Message.Usage.CacheReadInputTokens,
			}
		}
		return chunk, nil

	case "content_block_delta":
		if wire.Delta == nil || wire.Delta.Text == "" {
			return nil, nil
		}
		return &modelcall.Chunk{Delta: wire.Delta.Text}, nil

	case "message_delta":
		chunk := &modelcall.Chunk{}
		if wire.Delta != nil && wire.Delta.StopReason != "" {
			chunk.FinishReason = mapStopReason(wire.Delta.StopReason)
		}
		if wire.Usage != nil {
			chunk.Usage = &genai.Usage{CompletionTokens: wire.Usage.OutputTokens}
		}
		return chunk, nil

	case "message_stop":
		return &modelcall.Chunk{Done: true}, nil

	case "ping", "content_block_start", "content_block_stop":
		return nil, nil

	case "error":
		streamErr := &modelcall.StreamError{Provider: "anthropic", Message: "unknown error"}
		if wire.Error != nil {
			streamErr.Code = wire.Error.Type
			streamErr.Message = wire.Error.Message
		}
		return nil, streamErr

	default:
		// Unknown event types are skipped; Anthropic documents that new
		// event types may appear.
		return nil, nil
	}
}

func mapStopReason(reason string) genai.FinishReason {
	switch reason {
	case "end_turn", "stop_sequence":
		return genai.FinishReasonStop
	case "max_tokens":
		return genai.FinishReasonLength
	case "tool_use":
		return genai.FinishReasonToolCalls
	case "refusal":
		return genai.FinishReasonContentFilter
	default:
		return genai.FinishReasonUnknown
	}
}
