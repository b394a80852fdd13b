package configs

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const envPrefix = "storagemcp"

// Defaults for fields that may also come from the config file.
const (
	DefaultAllowedMethods = "GET"
	DefaultQueryStyle     = "standard"
	DefaultExtraHeaders   = "X-EMC-REST-CLIENT:true"
)

var (
	validMethods     = map[string]struct{}{"GET": {}, "POST": {}, "PUT": {}, "PATCH": {}, "DELETE": {}, "HEAD": {}, "OPTIONS": {}}
	validQueryStyles = map[string]struct{}{"standard": {}, "unity": {}}
)

// FileConfig defines the structure loaded from the YAML configuration file.
type FileConfig struct {
	SpecPath           string            `yaml:"spec_path"`
	AllowedHTTPMethods []string          `yaml:"allowed_http_methods"`
	APIRoot            string            `yaml:"api_root"`
	QueryStyle         string            `yaml:"query_style"`
	ExtraHeaders       map[string]string `yaml:"extra_headers"`
}

// Config holds the final application configuration, merged from file and environment variables.
// Fields are loaded from environment variables with the prefix "STORAGEMCP_", overriding file settings.
type Config struct {
	ConfigFilePath string `envconfig:"CONFIG_FILE"`

	// File or environment. Defaults are applied after the merge so a file value is not masked.
	SpecPath           string            `envconfig:"SPEC_PATH"`
	AllowedHTTPMethods []string          `envconfig:"ALLOWED_HTTP_METHODS"`
	APIRoot            string            `envconfig:"API_ROOT"`
	QueryStyle         string            `envconfig:"QUERY_STYLE"`
	ExtraHeaders       map[string]string `envconfig:"EXTRA_HEADERS"`

	// Environment only.
	TLSVerify                bool          `envconfig:"TLS_VERIFY" default:"false"`
	RequestTimeout           time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"`
	MaxRetries               int           `envconfig:"MAX_RETRIES" default:"3"`
	RetryDelay               time.Duration `envconfig:"RETRY_DELAY" default:"2s"`
	ListenAddr               string        `envconfig:"LISTEN_ADDR" default:":3000"`
	ShutdownTimeout          time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"5s"`
	ServerReadTimeout        time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"5s"`
	ServerWriteTimeout       time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"0s"`
	ServerIdleTimeout        time.Duration `envconfig:"SERVER_IDLE_TIMEOUT" default:"120s"`
	OtelExporterOtlpEndpoint string        `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OtelExporterOtlpInsecure bool          `envconfig:"OTEL_EXPORTER_OTLP_INSECURE" default:"true"`
	LogLevel                 string        `envconfig:"LOG_LEVEL" default:"info"`
	LogJSON                  bool          `envconfig:"LOG_JSON" default:"false"`
	LogFile                  string        `envconfig:"LOG_FILE"`
}

// ParsedLogLevel returns the slog.Level based on the configured LogLevel string.
func (c *Config) ParsedLogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "info":
		fallthrough
	default:
		return slog.LevelInfo
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.SpecPath) == "" {
		return fmt.Errorf("spec path is required (STORAGEMCP_SPEC_PATH or spec_path)")
	}
	for _, m := range c.AllowedHTTPMethods {
		if _, ok := validMethods[m]; !ok {
			return fmt.Errorf("unsupported HTTP method %q in allowed methods", m)
		}
	}
	if _, ok := validQueryStyles[c.QueryStyle]; !ok {
		return fmt.Errorf("unknown query style %q", c.QueryStyle)
	}
	if c.MaxRetries < 1 || c.MaxRetries > 10 {
		return fmt.Errorf("max retries must be between 1 and 10, got %d", c.MaxRetries)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive, got %s", c.RequestTimeout)
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("retry delay must not be negative, got %s", c.RetryDelay)
	}
	return nil
}

// Load loads configuration first from environment variables (to get the file path),
// then from the YAML file if one is named, and finally lets environment variables override it.
func Load() (*Config, error) {
	var initialCfg Config
	if err := envconfig.Process(envPrefix, &initialCfg); err != nil {
		return nil, fmt.Errorf("failed to process initial environment variables: %w", err)
	}

	finalCfg := initialCfg
	if initialCfg.ConfigFilePath != "" {
		yamlFile, err := os.ReadFile(initialCfg.ConfigFilePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file '%s': %w", initialCfg.ConfigFilePath, err)
		}
		var fileCfg FileConfig
		if err := yaml.Unmarshal(yamlFile, &fileCfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config file '%s': %w", initialCfg.ConfigFilePath, err)
		}
		finalCfg.SpecPath = fileCfg.SpecPath
		finalCfg.AllowedHTTPMethods = fileCfg.AllowedHTTPMethods
		finalCfg.APIRoot = fileCfg.APIRoot
		finalCfg.QueryStyle = fileCfg.QueryStyle
		finalCfg.ExtraHeaders = fileCfg.ExtraHeaders

		// Process environment variables again so they win over file settings.
		if err := envconfig.Process(envPrefix, &finalCfg); err != nil {
			return nil, fmt.Errorf("failed to process overriding environment variables: %w", err)
		}
	}

	finalCfg.applyDefaults()
	if err := finalCfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &finalCfg, nil
}

func (c *Config) applyDefaults() {
	if len(c.AllowedHTTPMethods) == 0 {
		c.AllowedHTTPMethods = strings.Split(DefaultAllowedMethods, ",")
	}
	for i, m := range c.AllowedHTTPMethods {
		c.AllowedHTTPMethods[i] = strings.ToUpper(strings.TrimSpace(m))
	}
	if c.QueryStyle == "" {
		c.QueryStyle = DefaultQueryStyle
	}
	c.QueryStyle = strings.ToLower(c.QueryStyle)
	if c.ExtraHeaders == nil {
		c.ExtraHeaders = map[string]string{}
		for _, pair := range strings.Split(DefaultExtraHeaders, ",") {
			if k, v, ok := strings.Cut(pair, ":"); ok {
				c.ExtraHeaders[k] = v
			}
		}
	}
	c.APIRoot = strings.TrimSuffix(c.APIRoot, "/")
}
