package server

// Config holds the settings for one Server instance.
type Config struct {
	// ListenAddr is the address the HTTP server listens on (e.g. ":8080").
	ListenAddr string

	// Provider is the upstream provider name ("openai", "anthropic", "ollama").
	Provider string

	// Upstream is the provider base URL.
	Upstream string

	// APIKey authenticates against the upstream provider. May be empty for
	// local providers.
	APIKey string

	// DefaultModel is used when a request does not name a model.
	DefaultModel string

	// NumWorkers and QueueSize tune the record persistence pool.
	NumWorkers uint
	QueueSize  uint
}
