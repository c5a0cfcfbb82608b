package openai_test

import (
	"encoding/json"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/objstreamhq/objstream/pkg/genai"
	"github.com/objstreamhq/objstream/pkg/modelcall"
	"github.com/objstreamhq/objstream/pkg/modelcall/provider/openai"
)

var _ = Describe("Parser", func() {
	p := openai.New()

	Describe("BuildRequest", func() {
		It("builds a streaming json_schema request", func() {
			maxTokens := 256
			body, path, err := p.BuildRequest(&modelcall.Request{
				Model:      "gpt-4.1",
				System:     "You are terse.",
				Prompt:     "Describe the weather.",
				SchemaJSON: json.RawMessage(`{"type":"object"}`),
				SchemaName: "weather",
				Settings:   genai.CallSettings{MaxTokens: &maxTokens},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(path).To(Equal("/v1/chat/completions"))

			var wire map[string]any
			Expect(json.Unmarshal(body, &wire)).To(Succeed())
			Expect(wire["model"]).To(Equal("gpt-4.1"))
			Expect(wire["stream"]).To(BeTrue())
			Expect(wire["stream_options"]).To(HaveKeyWithValue("include_usage", true))
			Expect(wire["max_completion_tokens"]).To(BeNumerically("==", 256))

			rf := wire["response_format"].(map[string]any)
			Expect(rf["type"]).To(Equal("json_schema"))
			js := rf["json_schema"].(map[string]any)
			Expect(js["name"]).To(Equal("weather"))
			Expect(js["strict"]).To(BeTrue())

			messages := wire["messages"].([]any)
			Expect(messages).To(HaveLen(2))
			Expect(messages[0]).To(HaveKeyWithValue("role", "system"))
			Expect(messages[1]).To(HaveKeyWithValue("role", "user"))
		})

		It("requires a model", func() {
			_, _, err := p.BuildRequest(&modelcall.Request{Prompt: "hi"})
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("RequestHeaders", func() {
		It("sets a bearer token when a key is configured", func() {
			Expect(p.RequestHeaders("sk-test")).To(HaveKeyWithValue("Authorization", "Bearer sk-test"))
			Expect(p.RequestHeaders("")).To(BeEmpty())
		})
	})

	Describe("ParseStreamChunk", func() {
		It("extracts a content delta and response metadata", func() {
			chunk, err := p.ParseStreamChunk([]byte(`{
				"id": "chatcmpl-123",
				"object": "chat.completion.chunk",
				"created": 1735689600,
				"model": "gpt-4.1-2025-04-14",
				"choices": [{"index": 0, "delta": {"content": "Hello, "}, "finish_reason": null}]
			}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(chunk.Delta).To(Equal("Hello, "))
			Expect(chunk.Done).To(BeFalse())
			Expect(chunk.Response.ID).To(Equal("chatcmpl-123"))
			Expect(chunk.Response.ModelID).To(Equal("gpt-4.1-2025-04-14"))
			Expect(chunk.Response.Timestamp).To(Equal(time.Unix(1735689600, 0).UTC()))
		})

		It("maps the finish reason", func() {
			chunk, err := p.ParseStreamChunk([]byte(`{
				"id": "chatcmpl-123",
				"choices": [{"index": 0, "delta": {}, "finish_reason": "stop"}]
			}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(chunk.FinishReason).To(Equal(genai.FinishReasonStop))
		})

		It("extracts usage from the trailing usage chunk", func() {
			chunk, err := p.ParseStreamChunk([]byte(`{
				"id": "chatcmpl-123",
				"choices": [],
				"usage": {"prompt_tokens": 3, "completion_tokens": 10, "total_tokens": 13}
			}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(chunk.Delta).To(BeEmpty())
			Expect(chunk.Usage).To(Equal(&genai.Usage{PromptTokens: 3, CompletionTokens: 10, TotalTokens: 13}))
		})

		It("rejects malformed payloads", func() {
			_, err := p.ParseStreamChunk([]byte(`{not json`))
			Expect(err).To(HaveOccurred())
		})
	})
})
