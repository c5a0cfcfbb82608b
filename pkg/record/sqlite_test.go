package record_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/objstreamhq/objstream/pkg/genai"
	"github.com/objstreamhq/objstream/pkg/record"
)

var _ = Describe("SQLiteStore", func() {
	var (
		store *record.SQLiteStore
		ctx   context.Context
	)

	BeforeEach(func() {
		var err error
		store, err = record.NewSQLiteStore(":memory:")
		Expect(err).NotTo(HaveOccurred())
		ctx = context.Background()
	})

	AfterEach(func() {
		Expect(store.Close()).To(Succeed())
	})

	responseTS := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	successResult := func() *genai.FinalResult {
		return &genai.FinalResult{
			Object:       map[string]any{"content": "Hello, world!"},
			RawText:      `{"content": "Hello, world!"}`,
			Usage:        genai.Usage{PromptTokens: 3, CompletionTokens: 10, TotalTokens: 13},
			FinishReason: genai.FinishReasonStop,
			Response:     genai.ResponseMeta{ID: "chatcmpl-1", ModelID: "gpt-4.1-2025-04-14", Timestamp: responseTS},
		}
	}

	It("round-trips a successful generation", func() {
		rec := record.FromResult("openai", "gpt-4.1", "say hello", successResult())
		Expect(rec.ID).NotTo(BeEmpty())
		Expect(rec.Succeeded()).To(BeTrue())

		Expect(store.Put(ctx, rec)).To(Succeed())

		got, err := store.Get(ctx, rec.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Provider).To(Equal("openai"))
		Expect(got.Model).To(Equal("gpt-4.1"))
		Expect(got.Prompt).To(Equal("say hello"))
		Expect(got.Object).To(Equal(map[string]any{"content": "Hello, world!"}))
		Expect(got.Usage).To(Equal(genai.Usage{PromptTokens: 3, CompletionTokens: 10, TotalTokens: 13}))
		Expect(got.FinishReason).To(Equal(genai.FinishReasonStop))
		Expect(got.Response.ID).To(Equal("chatcmpl-1"))
		Expect(got.Response.Timestamp).To(Equal(responseTS))
		Expect(got.Succeeded()).To(BeTrue())
	})

	It("records failed generations with their error classification", func() {
		result := &genai.FinalResult{
			Err:          &genai.NoObjectError{Value: map[string]any{"content": float64(1)}, Cause: errors.New("content must be a string")},
			RawText:      `{"content": 1}`,
			Partial:      map[string]any{"content": float64(1)},
			Usage:        genai.Usage{TotalTokens: 7},
			FinishReason: genai.FinishReasonStop,
		}
		rec := record.FromResult("anthropic", "claude-sonnet-4-5", "", result)
		Expect(rec.Succeeded()).To(BeFalse())

		Expect(store.Put(ctx, rec)).To(Succeed())

		got, err := store.Get(ctx, rec.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.ErrorKind).To(Equal("schema"))
		Expect(got.ErrorText).To(ContainSubstring("no object generated"))
		Expect(got.Object).To(BeNil())
		Expect(got.RawText).To(Equal(`{"content": 1}`))
	})

	It("returns ErrNotFound for unknown IDs", func() {
		_, err := store.Get(ctx, "missing")

		var notFound record.ErrNotFound
		Expect(errors.As(err, &notFound)).To(BeTrue())
		Expect(notFound.ID).To(Equal("missing"))
	})

	It("treats a duplicate Put as a no-op", func() {
		rec := record.FromResult("ollama", "llama3.2", "", successResult())
		Expect(store.Put(ctx, rec)).To(Succeed())
		Expect(store.Put(ctx, rec)).To(Succeed())

		recs, err := store.List(ctx, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(recs).To(HaveLen(1))
	})

	It("lists newest first and honors the limit", func() {
		for i, model := range []string{"m-old", "m-mid", "m-new"} {
			rec := record.FromResult("openai", model, "", successResult())
			rec.CreatedAt = time.Date(2026, 8, 1, 12, i, 0, 0, time.UTC)
			Expect(store.Put(ctx, rec)).To(Succeed())
		}

		recs, err := store.List(ctx, 2)
		Expect(err).NotTo(HaveOccurred())
		Expect(recs).To(HaveLen(2))
		Expect(recs[0].Model).To(Equal("m-new"))
		Expect(recs[1].Model).To(Equal("m-mid"))
	})
})
