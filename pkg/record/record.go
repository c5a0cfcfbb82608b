// Package record persists the terminal outcome of generation streams.
// Every run, successful or not, becomes one immutable Record: what was
// asked, what came back, how the stream ended, and what it cost.
package record

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/objstreamhq/objstream/pkg/genai"
)

// Record is one completed generation stream.
type Record struct {
	ID        string    `json:"id"`
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	Prompt    string    `json:"prompt,omitempty"`
	RawText   string    `json:"raw_text,omitempty"`
	Object    any       `json:"object,omitempty"`
	ErrorKind string    `json:"error_kind,omitempty"`
	ErrorText string    `json:"error_text,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	Usage        genai.Usage        `json:"usage"`
	FinishReason genai.FinishReason `json:"finish_reason"`
	Response     genai.ResponseMeta `json:"response"`
}

// FromResult builds a Record from a terminal result.
func FromResult(provider, model, prompt string, result *genai.FinalResult) *Record {
	r := &Record{
		ID:           uuid.NewString(),
		Provider:     provider,
		Model:        model,
		Prompt:       prompt,
		RawText:      result.RawText,
		Object:       result.Object,
		CreatedAt:    time.Now().UTC(),
		Usage:        result.Usage,
		FinishReason: result.FinishReason,
		Response:     result.Response,
	}
	if result.Err != nil {
		r.ErrorKind = string(genai.KindOf(result.Err))
		r.ErrorText = result.Err.Error()
	}
	return r
}

// Succeeded reports whether the recorded stream produced an object.
func (r *Record) Succeeded() bool {
	return r.ErrorKind == ""
}

// Store persists and retrieves generation records.
type Store interface {
	Put(ctx context.Context, rec *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	List(ctx context.Context, limit int) ([]*Record, error)
	Close() error
}
