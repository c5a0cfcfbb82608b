// Package genai defines the provider-agnostic domain types shared across the
// objstream pipeline: token usage, finish reasons, response metadata, call
// settings, and the classified error kinds surfaced in a FinalResult.
package genai

// Usage contains token accounting for one generation stream.
type Usage struct {
	// Token counts
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens,omitempty"`
}

// Merge folds a partial usage update into u. Providers report usage in
// fragments (some split prompt and completion counts across separate stream
// events), so zero fields in the update leave the existing value untouched.
func (u *Usage) Merge(update Usage) {
	if update.PromptTokens > 0 {
		u.PromptTokens = update.PromptTokens
	}
	if update.CompletionTokens > 0 {
		u.CompletionTokens = update.CompletionTokens
	}
	if update.TotalTokens > 0 {
		u.TotalTokens = update.TotalTokens
	}
}

// Finalize fills in the total when the provider never reported one.
func (u *Usage) Finalize() {
	if u.TotalTokens == 0 {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
}
