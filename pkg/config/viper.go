package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// InitViper creates and returns a configured *viper.Viper.
// It sets defaults from NewDefaultConfig(), reads the config.toml file
// (explicit path, or discovered in the working directory and
// $HOME/.objstream), and binds environment variables with the
// OBJSTREAM_ prefix.
//
// Config precedence (highest to lowest):
//  1. CLI flags (once bound via BindRegisteredFlags)
//  2. Environment variables (OBJSTREAM_SERVER_LISTEN, OBJSTREAM_PROVIDER_NAME, etc.)
//  3. config.toml file values
//  4. Defaults from NewDefaultConfig()
func InitViper(configFile string) (*viper.Viper, error) {
	v := viper.New()

	// 1. Register all defaults from NewDefaultConfig().
	setViperDefaults(v)

	// 2. Config file: explicit path wins, otherwise discover.
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(".objstream")
		v.AddConfigPath("$HOME/.objstream")
	}

	if err := v.ReadInConfig(); err != nil {
		// A missing discovered file is fine, defaults will apply. An
		// explicit file that cannot be read is not.
		if configFile != "" || !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	// 3. Environment variables: OBJSTREAM_SERVER_LISTEN, OBJSTREAM_STORAGE_SQLITE_PATH, etc.
	v.SetEnvPrefix("OBJSTREAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v, nil
}

// setViperDefaults registers defaults from NewDefaultConfig() into viper
// using dotted-key notation. This keeps defaults.go as the single source of truth.
func setViperDefaults(v *viper.Viper) {
	d := NewDefaultConfig()

	v.SetDefault("version", d.Version)

	// Server
	v.SetDefault("server.listen", d.Server.Listen)

	// Provider
	v.SetDefault("provider.name", d.Provider.Name)
	v.SetDefault("provider.upstream", d.Provider.Upstream)
	v.SetDefault("provider.api_key", d.Provider.APIKey)

	// Model
	v.SetDefault("model.name", d.Model.Name)

	// Storage
	v.SetDefault("storage.sqlite_path", d.Storage.SQLitePath)

	// Telemetry
	v.SetDefault("telemetry.enabled", d.Telemetry.Enabled)
	v.SetDefault("telemetry.record_inputs", d.Telemetry.RecordInputs)
	v.SetDefault("telemetry.record_outputs", d.Telemetry.RecordOutputs)

	// Worker
	v.SetDefault("worker.num_workers", d.Worker.NumWorkers)
	v.SetDefault("worker.queue_size", d.Worker.QueueSize)

	// Log
	v.SetDefault("log.debug", d.Log.Debug)
	v.SetDefault("log.json", d.Log.JSON)
}

// FromViper materializes a typed Config from the resolved viper state.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Version: v.GetInt("version"),
		Server: ServerConfig{
			Listen: v.GetString("server.listen"),
		},
		Provider: ProviderConfig{
			Name:     v.GetString("provider.name"),
			Upstream: v.GetString("provider.upstream"),
			APIKey:   v.GetString("provider.api_key"),
		},
		Model: ModelConfig{
			Name: v.GetString("model.name"),
		},
		Storage: StorageConfig{
			SQLitePath: v.GetString("storage.sqlite_path"),
		},
		Telemetry: TelemetryConfig{
			Enabled:       v.GetBool("telemetry.enabled"),
			RecordInputs:  v.GetBool("telemetry.record_inputs"),
			RecordOutputs: v.GetBool("telemetry.record_outputs"),
		},
		Worker: WorkerConfig{
			NumWorkers: v.GetUint("worker.num_workers"),
			QueueSize:  v.GetUint("worker.queue_size"),
		},
		Log: LogConfig{
			Debug: v.GetBool("log.debug"),
			JSON:  v.GetBool("log.json"),
		},
	}

	if cfg.Version != 0 && cfg.Version != CurrentV {
		return nil, fmt.Errorf("unsupported config version %d (expected %d)", cfg.Version, CurrentV)
	}

	return cfg, nil
}
