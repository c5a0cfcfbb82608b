package config

// Config represents the persistent objstream configuration stored as
// config.toml. The TOML layout uses sections for logical grouping.
type Config struct {
	Version   int             `toml:"version"`
	Server    ServerConfig    `toml:"server"`
	Provider  ProviderConfig  `toml:"provider"`
	Model     ModelConfig     `toml:"model"`
	Storage   StorageConfig   `toml:"storage"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Worker    WorkerConfig    `toml:"worker"`
	Log       LogConfig       `toml:"log"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Listen string `toml:"listen,omitempty"`
}

// ProviderConfig holds upstream model provider settings.
type ProviderConfig struct {
	Name     string `toml:"name,omitempty"`
	Upstream string `toml:"upstream,omitempty"`
	APIKey   string `toml:"api_key,omitempty"`
}

// ModelConfig holds the default model for calls that don't name one.
type ModelConfig struct {
	Name string `toml:"name,omitempty"`
}

// StorageConfig holds generation-record storage settings.
type StorageConfig struct {
	SQLitePath string `toml:"sqlite_path,omitempty"`
}

// TelemetryConfig holds tracing settings. RecordInputs and RecordOutputs
// gate whether prompt, schema, and generated-object content appear on
// spans; identity, usage, and timing attributes are always recorded.
type TelemetryConfig struct {
	Enabled       bool `toml:"enabled,omitempty"`
	RecordInputs  bool `toml:"record_inputs,omitempty"`
	RecordOutputs bool `toml:"record_outputs,omitempty"`
}

// WorkerConfig holds record-persistence worker pool settings.
type WorkerConfig struct {
	NumWorkers uint `toml:"num_workers,omitempty"`
	QueueSize  uint `toml:"queue_size,omitempty"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Debug bool `toml:"debug,omitempty"`
	JSON  bool `toml:"json,omitempty"`
}
