package modelcall

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/objstreamhq/objstream/pkg/sse"
)

// doneSentinel is the OpenAI-style end-of-stream marker sent as a data
// payload rather than a JSON chunk.
const doneSentinel = "[DONE]"

// ClientConfig configures an upstream model-call Client.
type ClientConfig struct {
	// BaseURL of the upstream provider (e.g. "https://api.openai.com").
	BaseURL string

	// APIKey for the upstream, if required.
	APIKey string

	// Parser decodes the provider wire format.
	Parser ChunkParser

	// HTTPClient overrides the default client. Model calls can be slow,
	// especially with long structured outputs, so the default timeout is
	// 5 minutes.
	HTTPClient *http.Client

	// Logger is the provided zap logger.
	Logger *zap.Logger
}

// Client performs streaming model calls against one upstream provider.
type Client struct {
	baseURL    string
	apiKey     string
	parser     ChunkParser
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a model-call client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Parser == nil {
		return nil, fmt.Errorf("chunk parser is required")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Minute}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		parser:     cfg.Parser,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// Stream issues the model call and returns the ordered delta stream.
// The stream honors ctx: cancelling it tears down the upstream connection
// and surfaces the cancellation from Next.
func (c *Client) Stream(ctx context.Context, req *Request) (DeltaStream, error) {
	body, path, err := c.parser.BuildRequest(req)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", c.parser.Name(), err)
	}

	url := c.baseURL + path
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create upstream request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	for k, v := range c.parser.RequestHeaders(c.apiKey) {
		httpReq.Header.Set(k, v)
	}

	c.logger.Debug("forwarding streaming request to upstream",
		zap.String("url", url),
		zap.String("provider", c.parser.Name()),
		zap.String("model", req.Model),
	)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, 8*1024))
		httpResp.Body.Close()
		c.logger.Error("upstream returned error",
			zap.Int("status", httpResp.StatusCode),
			zap.String("body", string(respBody)),
		)
		return nil, fmt.Errorf("upstream returned status %d: %s", httpResp.StatusCode, string(respBody))
	}

	stream := &httpStream{
		body:   httpResp.Body,
		parser: c.parser,
		logger: c.logger,
	}

	if ct := httpResp.Header.Get("Content-Type"); strings.HasPrefix(ct, "text/event-stream") {
		stream.events = sse.NewReader(httpResp.Body)
	} else {
		// Ollama streams newline-delimited JSON.
		scanner := bufio.NewScanner(httpResp.Body)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		stream.lines = scanner
	}

	return stream, nil
}

// httpStream adapts an SSE or NDJSON response body into a DeltaStream.
type httpStream struct {
	body   io.ReadCloser
	parser ChunkParser
	logger *zap.Logger

	// exactly one of events / lines is set
	events *sse.Reader
	lines  *bufio.Scanner
}

func (s *httpStream) Next(ctx context.Context) (*Chunk, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		payload, err := s.nextPayload()
		if err != nil {
			// Body reads fail with the context error once ctx is
			// cancelled; prefer reporting the cancellation itself.
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, err
		}
		if payload == nil {
			return nil, io.EOF
		}
		if string(payload) == doneSentinel {
			return &Chunk{Done: true}, nil
		}

		chunk, err := s.parser.ParseStreamChunk(payload)
		if err != nil {
			// A provider-reported error event is fatal; a chunk we merely
			// failed to decode is not.
			var streamErr *StreamError
			if errors.As(err, &streamErr) {
				return nil, streamErr
			}
			s.logger.Warn("failed to parse stream chunk",
				zap.Error(err),
				zap.String("provider", s.parser.Name()),
			)
			continue
		}
		if chunk == nil {
			continue
		}
		return chunk, nil
	}
}

// nextPayload returns the next raw data payload, or nil at end of stream.
func (s *httpStream) nextPayload() ([]byte, error) {
	if s.events != nil {
		ev, err := s.events.Next()
		if err != nil {
			return nil, err
		}
		if ev == nil {
			return nil, nil
		}
		return []byte(ev.Data), nil
	}

	for s.lines.Scan() {
		line := bytes.TrimSpace(s.lines.Bytes())
		if len(line) == 0 {
			continue
		}
		payload := make([]byte, len(line))
		copy(payload, line)
		return payload, nil
	}
	if err := s.lines.Err(); err != nil {
		return nil, err
	}
	return nil, nil
}

func (s *httpStream) Close() error {
	return s.body.Close()
}
