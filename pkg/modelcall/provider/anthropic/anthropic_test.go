package anthropic_test

import (
	"encoding/json"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/objstreamhq/objstream/pkg/genai"
	"github.com/objstreamhq/objstream/pkg/modelcall"
	"github.com/objstreamhq/objstream/pkg/modelcall/provider/anthropic"
)

var _ = Describe("Parser", func() {
	p := anthropic.New()

	Describe("BuildRequest", func() {
		It("injects the schema into the system prompt", func() {
			body, path, err := p.BuildRequest(&modelcall.Request{
				Model:      "claude-sonnet-4-5",
				Prompt:     "Describe the weather.",
				SchemaJSON: json.RawMessage(`{"type":"object"}`),
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(path).To(Equal("/v1/messages"))

			var wire map[string]any
			Expect(json.Unmarshal(body, &wire)).To(Succeed())
			Expect(wire["stream"]).To(BeTrue())
			Expect(wire["max_tokens"]).To(BeNumerically("==", 4096))
			Expect(wire["system"]).To(ContainSubstring(`{"type":"object"}`))
		})

		It("appends the schema instruction to an existing system prompt", func() {
			body, _, err := p.BuildRequest(&modelcall.Request{
				Model:      "claude-sonnet-4-5",
				System:     "You are terse.",
				Prompt:     "hi",
				SchemaJSON: json.RawMessage(`{"type":"object"}`),
			})
			Expect(err).NotTo(HaveOccurred())

			var wire map[string]any
			Expect(json.Unmarshal(body, &wire)).To(Succeed())
			Expect(wire["system"]).To(HavePrefix("You are terse."))
			Expect(wire["system"]).To(ContainSubstring("JSON Schema"))
		})
	})

	Describe("RequestHeaders", func() {
		It("sets the version header and api key", func() {
			headers := p.RequestHeaders("sk-ant")
			Expect(headers).To(HaveKeyWithValue("anthropic-version", "2023-06-01"))
			Expect(headers).To(HaveKeyWithValue("x-api-key", "sk-ant"))
		})
	})

	Describe("ParseStreamChunk", func() {
		It("extracts metadata and input tokens from message_start", func() {
			chunk, err := p.ParseStreamChunk([]byte(`{
				"type": "message_start",
				"message": {"id": "msg_abc", "model": "claude-sonnet-4-5",
					"usage": {"input_tokens": 2, "cache_creation_input_tokens": 1, "cache_read_input_tokens": 0}}
			}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(chunk.Response.ID).To(Equal("msg_abc"))
			Expect(chunk.Usage.PromptTokens).To(Equal(3))
		})

		It("extracts text deltas from content_block_delta", func() {
			chunk, err := p.ParseStreamChunk([]byte(`{
				"type": "content_block_delta",
				"index": 0,
				"delta": {"type": "text_delta", "text": "Hello, "}
			}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(chunk.Delta).To(Equal("Hello, "))
		})

		It("extracts stop reason and output tokens from message_delta", func() {
			chunk, err := p.ParseStreamChunk([]byte(`{
				"type": "message_delta",
				"delta": {"stop_reason": "end_turn"},
				"usage": {"output_tokens": 10}
			}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(chunk.FinishReason).To(Equal(genai.FinishReasonStop))
			Expect(chunk.Usage.CompletionTokens).To(Equal(10))
		})

		It("marks message_stop as the terminal chunk", func() {
			chunk, err := p.ParseStreamChunk([]byte(`{"type": "message_stop"}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(chunk.Done).To(BeTrue())
		})

		It("skips ping and content_block_start events", func() {
			chunk, err := p.ParseStreamChunk([]byte(`{"type": "ping"}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(chunk).To(BeNil())

			chunk, err = p.ParseStreamChunk([]byte(`{"type": "content_block_start", "index": 0}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(chunk).To(BeNil())
		})

		It("surfaces stream errors as a typed StreamError", func() {
			_, err := p.ParseStreamChunk([]byte(`{
				"type": "error",
				"error": {"type": "overloaded_error", "message": "Overloaded"}
			}`))
			Expect(err).To(MatchError(ContainSubstring("overloaded_error")))

			var streamErr *modelcall.StreamError
			Expect(errors.As(err, &streamErr)).To(BeTrue())
			Expect(streamErr.Provider).To(Equal("anthropic"))
			Expect(streamErr.Code).To(Equal("overloaded_error"))
			Expect(streamErr.Message).To(Equal("Overloaded"))
		})
	})
})
