package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/objstreamhq/objstream/pkg/assemble"
	"github.com/objstreamhq/objstream/pkg/genai"
	"github.com/objstreamhq/objstream/pkg/modelcall"
	"github.com/objstreamhq/objstream/pkg/record"
	"github.com/objstreamhq/objstream/pkg/record/worker"
	"github.com/objstreamhq/objstream/pkg/schema"
	"github.com/objstreamhq/objstream/pkg/telemetry"
)

// GenerateRequest is the request body for the /v1/object endpoints.
type GenerateRequest struct {
	Model      string             `json:"model,omitempty"`
	System     string             `json:"system,omitempty"`
	Prompt     string             `json:"prompt"`
	Schema     map[string]any     `json:"schema,omitempty"`
	SchemaName string             `json:"schema_name,omitempty"`
	Settings   genai.CallSettings `json:"settings,omitzero"`
}

// GenerateResponse is the terminal payload of both endpoints: the response
// body of /v1/object, the "finish" event of /v1/object/stream.
type GenerateResponse struct {
	Object       any                `json:"object,omitempty"`
	Partial      any                `json:"partial,omitempty"`
	ErrorKind    string             `json:"error_kind,omitempty"`
	Error        string             `json:"error,omitempty"`
	Usage        genai.Usage        `json:"usage"`
	FinishReason genai.FinishReason `json:"finish_reason"`
	Response     genai.ResponseMeta `json:"response"`
}

func toGenerateResponse(result *genai.FinalResult) GenerateResponse {
	resp := GenerateResponse{
		Object:       result.Object,
		Usage:        result.Usage,
		FinishReason: result.FinishReason,
		Response:     result.Response,
	}
	if result.Err != nil {
		resp.Partial = result.Partial
		resp.ErrorKind = string(genai.KindOf(result.Err))
		resp.Error = result.Err.Error()
	}
	return resp
}

// statusFor maps a terminal result to an HTTP status code. Malformed or
// schema-violating model output is the model's fault, not the caller's.
func statusFor(result *genai.FinalResult) int {
	if result.Err == nil {
		return fiber.StatusOK
	}
	if genai.KindOf(result.Err) == genai.ErrorKindAbort {
		return fiber.StatusBadGateway
	}
	return fiber.StatusUnprocessableEntity
}

// generation bundles everything one run needs: the compiled schema, the
// upstream request, and the assembler wired with telemetry.
type generation struct {
	req       *modelcall.Request
	schema    *schema.Schema
	assembler *assemble.Assembler
}

func (s *Server) newGeneration(body []byte) (*generation, error) {
	var req GenerateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("invalid request body: %w", err)
	}
	if req.Prompt == "" {
		return nil, errors.New("prompt is required")
	}

	model := req.Model
	if model == "" {
		model = s.config.DefaultModel
	}
	if model == "" {
		return nil, errors.New("model is required")
	}

	var sch *schema.Schema
	var schemaJSON json.RawMessage
	if req.Schema != nil {
		var err error
		sch, err = schema.FromMap(req.Schema)
		if err != nil {
			return nil, fmt.Errorf("invalid schema: %w", err)
		}
		schemaJSON = sch.JSON()
	}

	callReq := &modelcall.Request{
		Model:      model,
		System:     req.System,
		Prompt:     req.Prompt,
		Settings:   req.Settings,
		SchemaJSON: schemaJSON,
		SchemaName: req.SchemaName,
	}

	asm := assemble.New(assemble.Options{
		Schema:    sch,
		Telemetry: s.recorder,
		Call: telemetry.CallInfo{
			ModelID:  model,
			Provider: s.config.Provider,
			Settings: req.Settings,
			System:   req.System,
			Prompt:   req.Prompt,
			Schema:   schemaJSON,
		},
		Logger: s.logger,
	})

	return &generation{req: callReq, schema: sch, assembler: asm}, nil
}

// recordResult enqueues the terminal result for async persistence.
func (s *Server) recordResult(gen *generation, result *genai.FinalResult) {
	rec := record.FromResult(s.config.Provider, gen.req.Model, gen.req.Prompt, result)
	s.workerPool.Enqueue(worker.Job{Record: rec})
}

// handleGenerate runs one generation to completion and returns the
// terminal result as a single JSON body.
func (s *Server) handleGenerate(c *fiber.Ctx) error {
	gen, err := s.newGeneration(c.Body())
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: err.Error()})
	}

	stream, err := s.client.Stream(c.Context(), gen.req)
	if err != nil {
		s.logger.Error("upstream request failed", zap.Error(err))
		return c.Status(fiber.StatusBadGateway).JSON(ErrorResponse{Error: "upstream request failed"})
	}

	result := gen.assembler.Run(c.Context(), stream, func(assemble.Event) error { return nil })

	// Non-blocking enqueue for async storage
	s.recordResult(gen, result)

	return c.Status(statusFor(result)).JSON(toGenerateResponse(result))
}

// handleGenerateStream runs one generation and relays its events live as
// server-sent events: "delta" for raw fragments, "partial" for each new
// partial object, and "finish" or "error" for the terminal result.
func (s *Server) handleGenerateStream(c *fiber.Ctx) error {
	gen, err := s.newGeneration(c.Body())
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: err.Error()})
	}

	// Use context.Background() instead of c.Context() because fasthttp
	// recycles its RequestCtx after the handler returns, but the assembly
	// goroutine keeps the upstream connection open past that point.
	stream, err := s.client.Stream(context.Background(), gen.req)
	if err != nil {
		s.logger.Error("upstream request failed", zap.Error(err))
		return c.Status(fiber.StatusBadGateway).JSON(ErrorResponse{Error: "upstream request failed"})
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")

	// io.Pipe + SetBodyStream: pw.Write blocks until fasthttp's chunked
	// writer consumes the data, which flushes to the socket after every
	// chunk. That gives per-event delivery and real backpressure.
	pr, pw := io.Pipe()
	go s.assembleToPipe(gen, stream, pw)

	c.Context().Response.SetBodyStream(pr, -1)
	return nil
}

func (s *Server) assembleToPipe(gen *generation, stream modelcall.DeltaStream, pw *io.PipeWriter) {
	defer pw.Close()

	result := gen.assembler.Run(context.Background(), stream, func(ev assemble.Event) error {
		switch ev := ev.(type) {
		case assemble.TextDeltaEvent:
			return writeSSE(pw, "delta", fiber.Map{"delta": ev.Delta})
		case assemble.PartialEvent:
			return writeSSE(pw, "partial", ev.Object)
		case assemble.FinalEvent:
			name := "finish"
			if ev.Result.Err != nil {
				name = "error"
			}
			return writeSSE(pw, name, toGenerateResponse(ev.Result))
		}
		return nil
	})

	s.recordResult(gen, result)
}

// writeSSE writes one server-sent event with a JSON data payload.
func writeSSE(w io.Writer, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event, err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
	return err
}

// handleListGenerations returns the most recent generation records.
func (s *Server) handleListGenerations(c *fiber.Ctx) error {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid limit"})
		}
		limit = n
	}

	recs, err := s.store.List(c.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list records", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to list records"})
	}

	return c.JSON(fiber.Map{"generations": recs, "count": len(recs)})
}

// handleGetGeneration returns a single generation record by ID.
func (s *Server) handleGetGeneration(c *fiber.Ctx) error {
	id := c.Params("id")

	rec, err := s.store.Get(c.Context(), id)
	if err != nil {
		var notFound record.ErrNotFound
		if errors.As(err, &notFound) {
			return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: err.Error()})
		}
		s.logger.Error("failed to get record", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to get record"})
	}

	return c.JSON(rec)
}
