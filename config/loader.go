// =============================================================================
// simstack configuration loader
// =============================================================================
// YAML file plus environment overrides.
//
// Usage:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("simstack.yaml").
//	    WithEnvPrefix("SIMSTACK").
//	    Load()
//
// Priority: defaults → YAML file → environment
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Configuration structure
// =============================================================================

// Config is the complete simstack configuration.
type Config struct {
	// Log configures the zap logger.
	Log LogConfig `yaml:"log" env:"LOG"`

	// Workflow configures compiling and persisting workflows.
	Workflow WorkflowConfig `yaml:"workflow" env:"WORKFLOW"`

	// Metrics configures the Prometheus collector.
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`

	// Telemetry configures trace export.
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// LogConfig configures logging.
type LogConfig struct {
	// debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL" validate:"oneof=debug info warn error"`
	// json, console
	Format           string   `yaml:"format" env:"FORMAT" validate:"oneof=json console"`
	OutputPaths      []string `yaml:"output_paths" env:"OUTPUT_PATHS" validate:"min=1"`
	EnableCaller     bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// WorkflowConfig configures the workflow compiler and the render step.
type WorkflowConfig struct {
	// SubmitAttempts bounds the retries when a submission directory exists.
	SubmitAttempts int `yaml:"submit_attempts" env:"SUBMIT_ATTEMPTS" validate:"min=1"`
	// SubmitRetryPause is the pause between submission directory attempts.
	SubmitRetryPause time.Duration `yaml:"submit_retry_pause" env:"SUBMIT_RETRY_PAUSE" validate:"min=0"`
	// StorageRootToken prefixes ForEach file entries.
	StorageRootToken string `yaml:"storage_root_token" env:"STORAGE_ROOT_TOKEN" validate:"required"`
	// LegacyIfAssembly reproduces the reference listing of older editors,
	// which sampled the true branch of an If twice.
	LegacyIfAssembly bool `yaml:"legacy_if_assembly" env:"LEGACY_IF_ASSEMBLY"`
	// DocumentFormat selects how the CLI prints compiled documents.
	DocumentFormat string `yaml:"document_format" env:"DOCUMENT_FORMAT" validate:"oneof=xml json yaml"`
	// Resources are applied to leaves that declare none.
	Resources ResourceConfig `yaml:"resources" env:"RESOURCES"`
}

// ResourceConfig holds default scheduler requirements.
type ResourceConfig struct {
	Queue       string `yaml:"queue" env:"QUEUE"`
	Host        string `yaml:"host" env:"HOST"`
	Nodes       int    `yaml:"nodes" env:"NODES" validate:"min=0"`
	CPUsPerNode int    `yaml:"cpus_per_node" env:"CPUS_PER_NODE" validate:"min=0"`
	Memory      string `yaml:"memory" env:"MEMORY"`
	Walltime    string `yaml:"walltime" env:"WALLTIME"`
}

// MetricsConfig configures metrics collection.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" env:"ENABLED"`
	Namespace string `yaml:"namespace" env:"NAMESPACE" validate:"required_if=Enabled true"`
}

// TelemetryConfig configures OpenTelemetry trace export.
type TelemetryConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP gRPC endpoint, host:port
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT" validate:"required_if=Enabled true"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME" validate:"required_if=Enabled true"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE" validate:"min=0,max=1"`
}

// =============================================================================
// Loader
// =============================================================================

// Loader loads configuration (builder style).
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a loader with the SIMSTACK environment prefix.
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "SIMSTACK",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath sets the YAML file path.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix sets the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator adds a validation step run after loading.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load loads the configuration.
// Priority: defaults → YAML file → environment
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv walks struct fields with an env tag. Nested structs extend
// the prefix.
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// comma separated string slices
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// Helpers
// =============================================================================

// MustLoad loads the configuration and panics on failure.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv loads defaults plus environment overrides.
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

var structValidator = validator.New()

// Validate checks field constraints.
func (c *Config) Validate() error {
	err := structValidator.Struct(c)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	errs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		errs = append(errs, fmt.Sprintf("%s: failed %s", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
}
