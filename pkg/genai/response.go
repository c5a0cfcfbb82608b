package genai

import "time"

// FinishReason reports why the model stopped generating.
type FinishReason string

const (
	FinishReasonStop          FinishReason = "stop"
	FinishReasonLength        FinishReason = "length"
	FinishReasonContentFilter FinishReason = "content-filter"
	FinishReasonToolCalls     FinishReason = "tool-calls"
	FinishReasonError         FinishReason = "error"
	FinishReasonAborted       FinishReason = "aborted"
	FinishReasonUnknown       FinishReason = "unknown"
)

// ResponseMeta carries response identification metadata reported by the
// provider. Fields populate as stream events reveal them; absent fields stay
// zero.
type ResponseMeta struct {
	// Provider-assigned response ID (e.g. "chatcmpl-...", "msg_...")
	ID string `json:"id,omitempty"`

	// Model that actually served the request (may differ from the requested alias)
	ModelID string `json:"model_id,omitempty"`

	// Response creation timestamp
	Timestamp time.Time `json:"timestamp,omitzero"`
}

// Merge folds a metadata update into m. First-seen values win so later
// chunks cannot clobber the identifiers reported at stream start.
func (m *ResponseMeta) Merge(update ResponseMeta) {
	if m.ID == "" {
		m.ID = update.ID
	}
	if m.ModelID == "" {
		m.ModelID = update.ModelID
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = update.Timestamp
	}
}

// FinalResult is the single terminal outcome of one generation stream:
// either a schema-validated object or a classified error, always carrying
// whatever usage and response metadata the stream revealed before ending.
type FinalResult struct {
	// Object is the validated object on success, nil on failure.
	Object any `json:"object,omitempty"`

	// Err classifies the failure (decode, parse, schema, abort). Nil on success.
	Err error `json:"-"`

	// Partial is the last best-effort partial object emitted before the
	// terminal event, preserved on failure so callers can show what was
	// generated. Nil when no partial was ever parseable.
	Partial any `json:"partial,omitempty"`

	// RawText is the full accumulated model output.
	RawText string `json:"raw_text,omitempty"`

	Usage        Usage        `json:"usage"`
	FinishReason FinishReason `json:"finish_reason"`
	Response     ResponseMeta `json:"response"`

	// ProviderMetadata holds provider-specific fields that do not map to
	// the common representation.
	ProviderMetadata map[string]any `json:"provider_metadata,omitempty"`
}
