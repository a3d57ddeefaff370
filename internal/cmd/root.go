// Package cmd implements the verscan command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/verscan/internal/config"
	"github.com/3leaps/verscan/internal/observability"
	"github.com/3leaps/verscan/pkg/provider/s3"
	"github.com/3leaps/verscan/pkg/transport"
)

var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "none",
	BuildDate: "unknown",
}

// SetVersionInfo records build information for the version command.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

var envFile string

var rootCmd = &cobra.Command{
	Use:   "verscan",
	Short: "Version-aware listings for S3-compatible buckets",
	Long: `verscan lists every version and delete marker under a prefix of an
S3-compatible bucket and reconciles them into per-key histories.

Connection settings come from flags, the environment (ACCESS_KEY, SECRET_KEY,
BUCKET_NAME, REGION, ENDPOINT) or a .env file.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initLogging,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&envFile, "env-file", config.DefaultEnvFile, "dotenv file with connection settings")
	pf.String("bucket", "", "Bucket name (BUCKET_NAME)")
	pf.String("region", "", "Signing region (REGION)")
	pf.String("endpoint", "", "Store endpoint URL (ENDPOINT)")
	pf.String("profile", "", "AWS shared-config profile for credentials (PROFILE)")
	pf.Bool("path-style", true, "Address buckets as /{bucket} (VERSCAN_PATH_STYLE)")
	pf.Int("max-attempts", 5, "Attempts per page, including the first (VERSCAN_MAX_ATTEMPTS)")
	pf.Duration("request-timeout", 30*time.Second, "Per-request timeout (VERSCAN_REQUEST_TIMEOUT)")
	pf.Float64("rate-limit", 0, "Max page requests per second, 0 for unlimited (VERSCAN_RATE_LIMIT)")
	pf.String("log-level", "info", "Log level: debug, info, warn, error (VERSCAN_LOG_LEVEL)")
	pf.String("log-format", "console", "Log format: console or json (VERSCAN_LOG_FORMAT)")
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	err := rootCmd.ExecuteContext(context.Background())
	if err != nil {
		var exitErr *ExitError
		if !errors.As(err, &exitErr) || !exitErr.Reported {
			fmt.Fprintln(rootCmd.ErrOrStderr(), "Error:", err)
		}
	}
	return ExitCode(err)
}

// initLogging configures the CLI logger before any command runs.
func initLogging(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(config.LoadOptions{EnvFile: envFile, Flags: cmd.Flags()})
	if err != nil {
		return exitError(ExitConfig, "invalid configuration", err)
	}
	if err := observability.InitCLILogger(cfg.LogLevel, cfg.LogFormat); err != nil {
		return exitError(ExitConfig, "invalid logging configuration", err)
	}
	return nil
}

// loadConfig resolves and validates the configuration for a store command.
// overrides come from the command's arguments and win over every source.
func loadConfig(cmd *cobra.Command, overrides map[string]any) (*config.Config, error) {
	cfg, err := config.Load(config.LoadOptions{EnvFile: envFile, Flags: cmd.Flags(), Overrides: overrides})
	if err != nil {
		return nil, exitError(ExitConfig, "invalid configuration", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, exitError(ExitConfig, "invalid configuration", err)
	}

	redacted := cfg.Redacted()
	observability.CLILogger.Debug("Configuration loaded",
		zap.String("bucket", redacted.Bucket),
		zap.String("region", redacted.Region),
		zap.String("endpoint", redacted.Endpoint),
		zap.String("access_key", redacted.AccessKey),
		zap.Bool("path_style", redacted.PathStyle),
		zap.Int("page_size", redacted.PageSize))
	return cfg, nil
}

// newClient creates the signed store client.
func newClient(ctx context.Context, cfg *config.Config) (*s3.Client, error) {
	client, err := s3.New(ctx, cfg.S3(),
		s3.WithTransport(transport.New(transport.Config{Timeout: cfg.RequestTimeout})))
	if err != nil {
		observability.CLILogger.Error("Failed to create client", zap.Error(err))
		var cfgErr *s3.ConfigError
		if errors.As(err, &cfgErr) {
			return nil, exitError(ExitConfig, "invalid configuration", err)
		}
		return nil, exitError(ExitFailure, "failed to connect to storage", err)
	}
	return client, nil
}
