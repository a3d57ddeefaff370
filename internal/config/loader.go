// Package config loads verscan settings from flags, the environment and a
// .env file.
//
// Precedence, highest first: runtime overrides, command-line flags,
// environment variables, the .env file, built-in defaults. A missing .env
// file is not an error.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/3leaps/verscan/pkg/pager"
	"github.com/3leaps/verscan/pkg/provider/s3"
)

// DefaultEnvFile is read from the working directory when no --env-file is
// given.
const DefaultEnvFile = ".env"

// Config is the resolved configuration.
type Config struct {
	AccessKey    string `mapstructure:"access_key"`
	SecretKey    string `mapstructure:"secret_key"`
	SessionToken string `mapstructure:"session_token"`
	Profile      string `mapstructure:"profile"`

	Bucket   string `mapstructure:"bucket"`
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"`

	// PathStyle addresses buckets as /{bucket} instead of {bucket}.host.
	PathStyle bool `mapstructure:"path_style"`

	PageSize       int           `mapstructure:"page_size"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BaseDelay      time.Duration `mapstructure:"base_delay"`
	MaxDelay       time.Duration `mapstructure:"max_delay"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	// RateLimit is page requests per second; zero is unlimited.
	RateLimit float64 `mapstructure:"rate_limit"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

// envSpec maps a configuration key to its environment variable.
type envSpec struct {
	Key  string
	Name string
}

// getEnvSpecs lists every recognized environment variable.
func getEnvSpecs() []envSpec {
	return []envSpec{
		{"access_key", "ACCESS_KEY"},
		{"secret_key", "SECRET_KEY"},
		{"session_token", "SESSION_TOKEN"},
		{"profile", "PROFILE"},
		{"bucket", "BUCKET_NAME"},
		{"region", "REGION"},
		{"endpoint", "ENDPOINT"},
		{"path_style", "VERSCAN_PATH_STYLE"},
		{"page_size", "VERSCAN_PAGE_SIZE"},
		{"max_attempts", "VERSCAN_MAX_ATTEMPTS"},
		{"base_delay", "VERSCAN_BASE_DELAY"},
		{"max_delay", "VERSCAN_MAX_DELAY"},
		{"request_timeout", "VERSCAN_REQUEST_TIMEOUT"},
		{"rate_limit", "VERSCAN_RATE_LIMIT"},
		{"log_level", "VERSCAN_LOG_LEVEL"},
		{"log_format", "VERSCAN_LOG_FORMAT"},
	}
}

// envName returns the environment variable for a configuration key.
func envName(key string) string {
	for _, spec := range getEnvSpecs() {
		if spec.Key == key {
			return spec.Name
		}
	}
	return strings.ToUpper(key)
}

// flagBindings maps command-line flag names to configuration keys.
var flagBindings = map[string]string{
	"bucket":          "bucket",
	"region":          "region",
	"endpoint":        "endpoint",
	"profile":         "profile",
	"path-style":      "path_style",
	"page-size":       "page_size",
	"max-attempts":    "max_attempts",
	"request-timeout": "request_timeout",
	"rate-limit":      "rate_limit",
	"log-level":       "log_level",
	"log-format":      "log_format",
}

func setDefaults(v *viper.Viper) {
	def := pager.DefaultConfig()
	v.SetDefault("path_style", true)
	v.SetDefault("page_size", def.PageSize)
	v.SetDefault("max_attempts", def.MaxAttempts)
	v.SetDefault("base_delay", def.BaseDelay.String())
	v.SetDefault("max_delay", def.MaxDelay.String())
	v.SetDefault("request_timeout", "30s")
	v.SetDefault("rate_limit", 0)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
}

// LoadOptions controls a Load.
type LoadOptions struct {
	// EnvFile is the dotenv file to read. Empty means DefaultEnvFile.
	EnvFile string

	// Flags are bound by name (see flagBindings); only flags the user set
	// take precedence over the environment.
	Flags *pflag.FlagSet

	// Overrides are applied last and win over every other source.
	Overrides map[string]any
}

// Load resolves the configuration. It does not validate it.
func Load(opts LoadOptions) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if err := readEnvFile(v, opts.EnvFile); err != nil {
		return nil, err
	}

	for _, spec := range getEnvSpecs() {
		if err := v.BindEnv(spec.Key, spec.Name); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", spec.Name, err)
		}
	}

	if opts.Flags != nil {
		for name, key := range flagBindings {
			flag := opts.Flags.Lookup(name)
			if flag == nil {
				continue
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return nil, fmt.Errorf("bind flag --%s: %w", name, err)
			}
		}
	}

	for key, value := range opts.Overrides {
		v.Set(key, value)
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		trimSpaceHook(),
		mapstructure.StringToTimeDurationHookFunc(),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, &ConfigError{Field: "config", Message: err.Error()}
	}
	return &cfg, nil
}

// readEnvFile merges a dotenv file into the config layer, translating
// variable names to configuration keys. Unknown variables are ignored.
func readEnvFile(v *viper.Viper, path string) error {
	if path == "" {
		path = DefaultEnvFile
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return &ConfigError{Field: "env-file", Message: err.Error()}
	}

	dotenv := viper.New()
	dotenv.SetConfigType("env")
	if err := dotenv.ReadConfig(bytes.NewReader(data)); err != nil {
		return &ConfigError{Field: "env-file", Message: fmt.Sprintf("%s: %v", path, err)}
	}

	values := make(map[string]any)
	for _, spec := range getEnvSpecs() {
		name := strings.ToLower(spec.Name)
		if dotenv.IsSet(name) {
			values[spec.Key] = dotenv.Get(name)
		}
	}
	return v.MergeConfigMap(values)
}

// trimSpaceHook strips surrounding whitespace from string values, which
// hand-edited .env files often carry.
func trimSpaceHook() mapstructure.DecodeHookFuncKind {
	return func(from, to reflect.Kind, data any) (any, error) {
		if from != reflect.String {
			return data, nil
		}
		return strings.TrimSpace(reflect.ValueOf(data).String()), nil
	}
}

// ConfigError reports an invalid or missing setting. Field is the
// environment variable name the user would set.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// Validate checks required settings and value ranges. All problems are
// reported; errors.As finds the first *ConfigError.
func (c *Config) Validate() error {
	var errs []error
	fail := func(key, msg string) {
		errs = append(errs, &ConfigError{Field: envName(key), Message: msg})
	}

	if c.Profile == "" {
		if c.AccessKey == "" {
			fail("access_key", "is required (or set PROFILE)")
		}
		if c.SecretKey == "" {
			fail("secret_key", "is required (or set PROFILE)")
		}
	}
	if c.Bucket == "" {
		fail("bucket", "is required")
	}
	if c.Region == "" {
		fail("region", "is required")
	}
	if c.Endpoint == "" {
		fail("endpoint", "is required")
	}

	if c.PageSize < 1 || c.PageSize > s3.MaxAllowedKeys {
		fail("page_size", fmt.Sprintf("must be between 1 and %d", s3.MaxAllowedKeys))
	}
	if c.MaxAttempts < 1 {
		fail("max_attempts", "must be at least 1")
	}
	if c.BaseDelay <= 0 {
		fail("base_delay", "must be positive")
	}
	if c.MaxDelay < c.BaseDelay {
		fail("max_delay", "must not be less than VERSCAN_BASE_DELAY")
	}
	if c.RequestTimeout <= 0 {
		fail("request_timeout", "must be positive")
	}
	if c.RateLimit < 0 {
		fail("rate_limit", "must not be negative")
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		fail("log_level", fmt.Sprintf("unknown level %q", c.LogLevel))
	}
	switch strings.ToLower(c.LogFormat) {
	case "console", "json":
	default:
		fail("log_format", fmt.Sprintf("unknown format %q (expected console or json)", c.LogFormat))
	}

	return errors.Join(errs...)
}

// S3 returns the store client configuration.
func (c *Config) S3() s3.Config {
	return s3.Config{
		Bucket:          c.Bucket,
		Region:          c.Region,
		Endpoint:        c.Endpoint,
		Profile:         c.Profile,
		AccessKeyID:     c.AccessKey,
		SecretAccessKey: c.SecretKey,
		SessionToken:    c.SessionToken,
		ForcePathStyle:  c.PathStyle,
		MaxKeys:         c.PageSize,
	}
}

// Pager returns the pagination driver configuration. maxItems caps the
// listing; zero is unlimited.
func (c *Config) Pager(maxItems int) pager.Config {
	return pager.Config{
		PageSize:    c.PageSize,
		MaxItems:    maxItems,
		MaxAttempts: c.MaxAttempts,
		BaseDelay:   c.BaseDelay,
		MaxDelay:    c.MaxDelay,
		RateLimit:   c.RateLimit,
	}
}

// Redacted returns a copy safe to log.
func (c *Config) Redacted() Config {
	r := *c
	if r.AccessKey != "" {
		r.AccessKey = mask(r.AccessKey)
	}
	if r.SecretKey != "" {
		r.SecretKey = "****"
	}
	if r.SessionToken != "" {
		r.SessionToken = "****"
	}
	return r
}

func mask(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + strings.Repeat("*", len(s)-4)
}
