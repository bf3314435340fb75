// Package config loads the knowledge base service's configuration from
// environment variables (with an optional YAML file overlay), matching the
// variables enumerated in spec.md §6.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// StorageType selects the Storage backend. Only StorageFile is implemented
// in this repo; the others are recognized so configuration round-trips
// cleanly with deployments that plug in a cloud-storage adapter.
type StorageType string

const (
	StorageFile      StorageType = "file"
	StorageFileShare StorageType = "fileshare"
	StorageBlob      StorageType = "blob"
	StorageDocDB     StorageType = "doc_db"
)

// StorageConfig configures the Storage backend.
type StorageConfig struct {
	Type StorageType `mapstructure:"type"`
	// Path is the filesystem root for StorageFile (SQLite file + attachments).
	Path string `mapstructure:"path"`
}

// AuthConfig configures AuthGate credential verification.
type AuthConfig struct {
	SigningKey string `mapstructure:"signing_key"`
	APIKey     string `mapstructure:"api_key"`
}

// CompleterConfig configures the pluggable Completer.
type CompleterConfig struct {
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// EmbedderConfig configures the pluggable Embedder.
type EmbedderConfig struct {
	Model string `mapstructure:"model"`
}

// ServerConfig configures request-handling limits.
type ServerConfig struct {
	MaxRequestBytes int64         `mapstructure:"max_request_bytes"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	QueryDeadline   time.Duration `mapstructure:"query_deadline"`
	UploadDeadline  time.Duration `mapstructure:"upload_deadline"`
}

// TraceConfig configures TraceRing retention.
type TraceConfig struct {
	MaxRecords    int           `mapstructure:"max_records"`
	MaxAge        time.Duration `mapstructure:"max_age"`
}

// ToolsConfig configures the ToolRegistry's built-in tools.
type ToolsConfig struct {
	WebSearchEndpoint string        `mapstructure:"web_search_endpoint"`
	WebSearchTimeout  time.Duration `mapstructure:"web_search_timeout"`
}

// LoggingConfig configures the process-wide rotating file logger.
type LoggingConfig struct {
	Level         string `mapstructure:"level"`
	FilePath      string `mapstructure:"file_path"`
	WriteToStderr bool   `mapstructure:"write_to_stderr"`
}

// Config is the complete service configuration.
type Config struct {
	Storage   StorageConfig   `mapstructure:"storage"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Completer CompleterConfig `mapstructure:"completer"`
	Embedder  EmbedderConfig  `mapstructure:"embedder"`
	Server    ServerConfig    `mapstructure:"server"`
	Trace     TraceConfig     `mapstructure:"trace"`
	Tools     ToolsConfig     `mapstructure:"tools"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// Default returns the service's default configuration.
func Default() Config {
	return Config{
		Storage: StorageConfig{
			Type: StorageFile,
			Path: "./data",
		},
		Completer: CompleterConfig{
			Timeout: 20 * time.Second,
		},
		Server: ServerConfig{
			MaxRequestBytes: 25 << 20, // 25MB
			AllowedOrigins:  []string{"*"},
			QueryDeadline:   30 * time.Second,
			UploadDeadline:  120 * time.Second,
		},
		Trace: TraceConfig{
			MaxRecords: 1000,
			MaxAge:     24 * time.Hour,
		},
		Tools: ToolsConfig{
			WebSearchTimeout: 5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:         "info",
			WriteToStderr: true,
		},
	}
}

// Load reads configuration from the environment (prefix KB_) and, if
// filePath is non-empty, overlays a YAML file on top of the defaults
// before environment variables are applied. Environment variables take
// precedence over the file, matching the teacher's layered-config idiom.
func Load(filePath string) (Config, error) {
	v := viper.New()
	applyDefaults(v, Default())

	if filePath != "" {
		v.SetConfigFile(filePath)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	v.SetEnvPrefix("KB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Bind the literal env var names spec.md §6 enumerates, so operators
	// can set them directly instead of the nested KB_* form.
	_ = v.BindEnv("storage.type", "STORAGE_TYPE")
	_ = v.BindEnv("auth.signing_key", "AUTH_SIGNING_KEY")
	_ = v.BindEnv("auth.api_key", "API_KEY")
	_ = v.BindEnv("completer.model", "COMPLETER_MODEL")
	_ = v.BindEnv("embedder.model", "EMBEDDER_MODEL")
	_ = v.BindEnv("server.max_request_bytes", "MAX_REQUEST_BYTES")
	_ = v.BindEnv("server.allowed_origins", "ALLOWED_ORIGINS")
	_ = v.BindEnv("trace.max_records", "TRACE_MAX_RECORDS")
	_ = v.BindEnv("trace.max_age_seconds", "TRACE_MAX_AGE_SECONDS")
	_ = v.BindEnv("tools.web_search_endpoint", "WEB_SEARCH_ENDPOINT")
	_ = v.BindEnv("logging.level", "LOG_LEVEL")
	_ = v.BindEnv("logging.file_path", "LOG_FILE_PATH")

	if secs := v.GetInt("trace.max_age_seconds"); secs > 0 {
		v.Set("trace.max_age", time.Duration(secs)*time.Second)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyDefaults(v *viper.Viper, d Config) {
	v.SetDefault("storage.type", d.Storage.Type)
	v.SetDefault("storage.path", d.Storage.Path)
	v.SetDefault("completer.timeout", d.Completer.Timeout)
	v.SetDefault("server.max_request_bytes", d.Server.MaxRequestBytes)
	v.SetDefault("server.allowed_origins", d.Server.AllowedOrigins)
	v.SetDefault("server.query_deadline", d.Server.QueryDeadline)
	v.SetDefault("server.upload_deadline", d.Server.UploadDeadline)
	v.SetDefault("trace.max_records", d.Trace.MaxRecords)
	v.SetDefault("trace.max_age", d.Trace.MaxAge)
	v.SetDefault("tools.web_search_timeout", d.Tools.WebSearchTimeout)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.write_to_stderr", d.Logging.WriteToStderr)
}

// Validate checks the configuration for internal consistency.
func (c Config) Validate() error {
	switch c.Storage.Type {
	case StorageFile, StorageFileShare, StorageBlob, StorageDocDB:
	default:
		return fmt.Errorf("invalid storage.type: %q", c.Storage.Type)
	}
	if c.Storage.Type == StorageFile && c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required for storage.type=file")
	}
	if c.Auth.SigningKey == "" && c.Auth.APIKey == "" {
		return fmt.Errorf("at least one of auth.signing_key or auth.api_key must be configured")
	}
	if c.Trace.MaxRecords <= 0 {
		return fmt.Errorf("trace.max_records must be positive")
	}
	if c.Server.MaxRequestBytes <= 0 {
		return fmt.Errorf("server.max_request_bytes must be positive")
	}
	return nil
}
