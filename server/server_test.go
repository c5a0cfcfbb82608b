package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/objstreamhq/objstream/pkg/record"
	"github.com/objstreamhq/objstream/pkg/sse"
)

// sseUpstream fakes an OpenAI streaming endpoint that emits the given
// content deltas followed by a stop, usage, and [DONE].
func sseUpstream(deltas ...string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")

		for _, delta := range deltas {
			payload, _ := json.Marshal(map[string]any{
				"id":    "chatcmpl-1",
				"model": "gpt-4.1",
				"choices": []map[string]any{
					{"index": 0, "delta": map[string]any{"content": delta}, "finish_reason": nil},
				},
			})
			fmt.Fprintf(w, "data: %s\n\n", payload)
		}
		fmt.Fprint(w, "data: {\"id\":\"chatcmpl-1\",\"choices\":[{\"index\":0,\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n")
		fmt.Fprint(w, "data: {\"id\":\"chatcmpl-1\",\"choices\":[],\"usage\":{\"prompt_tokens\":3,\"completion_tokens\":10,\"total_tokens\":13}}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func generateBody(withSchema bool) []byte {
	req := GenerateRequest{
		Model:  "gpt-4.1",
		Prompt: "say hello",
	}
	if withSchema {
		req.Schema = map[string]any{
			"type":                 "object",
			"properties":           map[string]any{"content": map[string]any{"type": "string"}},
			"required":             []any{"content"},
			"additionalProperties": false,
		}
	}
	body, _ := json.Marshal(req)
	return body
}

func postJSON(s *Server, path string, body []byte) *http.Response {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.app.Test(req, -1)
	Expect(err).NotTo(HaveOccurred())
	return resp
}

var _ = Describe("Server", func() {
	var (
		upstream *httptest.Server
		store    *record.SQLiteStore
		s        *Server
	)

	newServer := func(upstreamURL string) *Server {
		var err error
		store, err = record.NewSQLiteStore(":memory:")
		Expect(err).NotTo(HaveOccurred())

		srv, err := New(Config{
			ListenAddr:   ":0",
			Provider:     "openai",
			Upstream:     upstreamURL,
			DefaultModel: "gpt-4.1",
		}, store, nil, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())
		return srv
	}

	AfterEach(func() {
		if upstream != nil {
			upstream.Close()
			upstream = nil
		}
		if s != nil {
			s.workerPool.Close()
			s = nil
		}
		if store != nil {
			Expect(store.Close()).To(Succeed())
			store = nil
		}
	})

	It("requires a provider", func() {
		_, err := New(Config{}, nil, nil, zap.NewNop())
		Expect(err).To(HaveOccurred())
	})

	It("responds to health checks", func() {
		upstream = sseUpstream()
		s = newServer(upstream.URL)

		resp, err := s.app.Test(httptest.NewRequest(http.MethodGet, "/healthz", nil))
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
	})

	Describe("POST /v1/object", func() {
		It("returns the assembled object with usage", func() {
			upstream = sseUpstream(`{"content": `, `"Hello, world!"}`)
			s = newServer(upstream.URL)

			resp := postJSON(s, "/v1/object", generateBody(true))
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var out GenerateResponse
			Expect(json.NewDecoder(resp.Body).Decode(&out)).To(Succeed())
			Expect(out.Object).To(Equal(map[string]any{"content": "Hello, world!"}))
			Expect(out.ErrorKind).To(BeEmpty())
			Expect(out.Usage.PromptTokens).To(Equal(3))
			Expect(out.Usage.CompletionTokens).To(Equal(10))
			Expect(out.Usage.TotalTokens).To(Equal(13))
			Expect(string(out.FinishReason)).To(Equal("stop"))
			Expect(out.Response.ID).To(Equal("chatcmpl-1"))
		})

		It("returns 422 with the partial when the schema is violated", func() {
			upstream = sseUpstream(`{"content": 42}`)
			s = newServer(upstream.URL)

			resp := postJSON(s, "/v1/object", generateBody(true))
			Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))

			var out GenerateResponse
			Expect(json.NewDecoder(resp.Body).Decode(&out)).To(Succeed())
			Expect(out.ErrorKind).To(Equal("schema"))
			Expect(out.Error).To(ContainSubstring("no object generated"))
			Expect(out.Object).To(BeNil())
			Expect(out.Partial).To(Equal(map[string]any{"content": float64(42)}))
		})

		It("returns 422 when the model output is not JSON", func() {
			upstream = sseUpstream("I cannot help with that.")
			s = newServer(upstream.URL)

			resp := postJSON(s, "/v1/object", generateBody(true))
			Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))

			var out GenerateResponse
			Expect(json.NewDecoder(resp.Body).Decode(&out)).To(Succeed())
			Expect(out.ErrorKind).To(Equal("parse"))
		})

		It("rejects requests without a prompt", func() {
			upstream = sseUpstream()
			s = newServer(upstream.URL)

			resp := postJSON(s, "/v1/object", []byte(`{"model": "gpt-4.1"}`))
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("rejects requests with a malformed schema", func() {
			upstream = sseUpstream()
			s = newServer(upstream.URL)

			resp := postJSON(s, "/v1/object", []byte(`{"prompt": "hi", "schema": {"type": 12}}`))
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("persists a record of the generation", func() {
			upstream = sseUpstream(`{"content": "hi"}`)
			s = newServer(upstream.URL)

			resp := postJSON(s, "/v1/object", generateBody(true))
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			Eventually(func() int {
				recs, err := store.List(context.Background(), 0)
				Expect(err).NotTo(HaveOccurred())
				return len(recs)
			}, time.Second, 10*time.Millisecond).Should(Equal(1))

			recs, err := store.List(context.Background(), 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(recs[0].Provider).To(Equal("openai"))
			Expect(recs[0].Model).To(Equal("gpt-4.1"))
			Expect(recs[0].Succeeded()).To(BeTrue())
		})
	})

	Describe("POST /v1/object/stream", func() {
		It("relays deltas, partial objects, and the terminal result as SSE", func() {
			upstream = sseUpstream(`{"content": "Hello`, `, world!"}`)
			s = newServer(upstream.URL)

			resp := postJSON(s, "/v1/object/stream", generateBody(true))
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("text/event-stream"))

			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())

			reader := sse.NewReader(bytes.NewReader(body))
			var types []string
			var finish GenerateResponse
			var lastObject map[string]any
			for {
				ev, err := reader.Next()
				Expect(err).NotTo(HaveOccurred())
				if ev == nil {
					break
				}
				types = append(types, ev.Type)
				switch ev.Type {
				case "partial":
					lastObject = nil
					Expect(json.Unmarshal([]byte(ev.Data), &lastObject)).To(Succeed())
				case "finish":
					Expect(json.Unmarshal([]byte(ev.Data), &finish)).To(Succeed())
				}
			}

			Expect(types).To(ContainElements("delta", "partial", "finish"))
			Expect(types[len(types)-1]).To(Equal("finish"))
			Expect(lastObject).To(Equal(map[string]any{"content": "Hello, world!"}))
			Expect(finish.Object).To(Equal(map[string]any{"content": "Hello, world!"}))
			Expect(finish.Usage.TotalTokens).To(Equal(13))
		})

		It("ends with an error event when the final object violates the schema", func() {
			upstream = sseUpstream(`{"content": 42}`)
			s = newServer(upstream.URL)

			resp := postJSON(s, "/v1/object/stream", generateBody(true))
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())

			reader := sse.NewReader(bytes.NewReader(body))
			var last *sse.Event
			for {
				ev, err := reader.Next()
				Expect(err).NotTo(HaveOccurred())
				if ev == nil {
					break
				}
				last = ev
			}

			Expect(last).NotTo(BeNil())
			Expect(last.Type).To(Equal("error"))
			var terminal GenerateResponse
			Expect(json.Unmarshal([]byte(last.Data), &terminal)).To(Succeed())
			Expect(terminal.ErrorKind).To(Equal("schema"))
			Expect(terminal.Object).To(BeNil())
		})
	})

	Describe("GET /v1/generations", func() {
		It("lists stored generations and fetches them by ID", func() {
			upstream = sseUpstream(`{"content": "hi"}`)
			s = newServer(upstream.URL)

			resp := postJSON(s, "/v1/object", generateBody(true))
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			Eventually(func() int {
				recs, err := store.List(context.Background(), 0)
				Expect(err).NotTo(HaveOccurred())
				return len(recs)
			}, time.Second, 10*time.Millisecond).Should(Equal(1))

			listResp, err := s.app.Test(httptest.NewRequest(http.MethodGet, "/v1/generations", nil))
			Expect(err).NotTo(HaveOccurred())
			Expect(listResp.StatusCode).To(Equal(http.StatusOK))

			var listed struct {
				Generations []record.Record `json:"generations"`
				Count       int             `json:"count"`
			}
			Expect(json.NewDecoder(listResp.Body).Decode(&listed)).To(Succeed())
			Expect(listed.Count).To(Equal(1))

			getResp, err := s.app.Test(httptest.NewRequest(http.MethodGet, "/v1/generations/"+listed.Generations[0].ID, nil))
			Expect(err).NotTo(HaveOccurred())
			Expect(getResp.StatusCode).To(Equal(http.StatusOK))
		})

		It("returns 404 for an unknown generation", func() {
			upstream = sseUpstream()
			s = newServer(upstream.URL)

			resp, err := s.app.Test(httptest.NewRequest(http.MethodGet, "/v1/generations/nope", nil))
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("rejects an invalid limit", func() {
			upstream = sseUpstream()
			s = newServer(upstream.URL)

			resp, err := s.app.Test(httptest.NewRequest(http.MethodGet, "/v1/generations?limit=banana", nil))
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})
})
