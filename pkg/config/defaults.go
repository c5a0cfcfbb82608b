package config

const (
	// v0 is the alpha version of the config
	v0 = 0

	// CurrentV is the currently supported version, points to v0
	CurrentV = v0

	defaultListen   = ":8080"
	defaultProvider = "ollama"
	defaultUpstream = "http://localhost:11434"
	defaultModel    = "llama3.2"

	defaultSQLitePath = "objstream.db"

	defaultNumWorkers uint = 3
	defaultQueueSize  uint = 256
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		Server: ServerConfig{
			Listen: defaultListen,
		},
		Provider: ProviderConfig{
			Name:     defaultProvider,
			Upstream: defaultUpstream,
		},
		Model: ModelConfig{
			Name: defaultModel,
		},
		Storage: StorageConfig{
			SQLitePath: defaultSQLitePath,
		},
		Telemetry: TelemetryConfig{
			Enabled:       false,
			RecordInputs:  false,
			RecordOutputs: false,
		},
		Worker: WorkerConfig{
			NumWorkers: defaultNumWorkers,
			QueueSize:  defaultQueueSize,
		},
	}
}
