package cmd

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/verscan/internal/observability"
	"github.com/3leaps/verscan/pkg/match"
	"github.com/3leaps/verscan/pkg/output"
	"github.com/3leaps/verscan/pkg/pager"
	"github.com/3leaps/verscan/pkg/provider"
)

var lsCmd = &cobra.Command{
	Use:   "ls [prefix | s3://bucket/prefix]",
	Short: "List current objects under a prefix",
	Long: `List the current objects under a prefix (ListObjectsV2). Deleted keys
and noncurrent versions are not shown; use "versions" for full history.

Examples:
  verscan ls
  verscan ls photos/ --delimiter /
  verscan ls s3://bucket/logs/**/*.gz --format jsonl`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLs,
}

var (
	lsDelimiter string
	lsLimit     int
	lsFormat    string
	lsHuman     bool
)

func init() {
	rootCmd.AddCommand(lsCmd)

	lsCmd.Flags().StringVar(&lsDelimiter, "delimiter", "", "Group keys into common prefixes at this delimiter")
	lsCmd.Flags().Int("page-size", 1000, "Records per page request, at most 1000 (VERSCAN_PAGE_SIZE)")
	lsCmd.Flags().IntVarP(&lsLimit, "limit", "n", 0, "Stop after this many records (0 for no limit)")
	lsCmd.Flags().StringVarP(&lsFormat, "format", "o", "table", "Output format: table, jsonl or yaml")
	lsCmd.Flags().BoolVar(&lsHuman, "human", false, "Human-readable sizes in table output")
}

func runLs(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	arg := ""
	if len(args) > 0 {
		arg = args[0]
	}
	target, err := ParseTarget(arg)
	if err != nil {
		return exitError(ExitConfig, "invalid target", err)
	}
	format, err := output.ParseFormat(lsFormat)
	if err != nil {
		return exitError(ExitConfig, "invalid --format", err)
	}
	var includes []string
	if target.IsPattern() {
		includes = []string{target.Pattern}
	}
	matcher, err := match.New(match.Config{Includes: includes})
	if err != nil {
		return exitError(ExitConfig, "invalid pattern", err)
	}

	overrides := map[string]any{}
	if target.Bucket != "" {
		overrides["bucket"] = target.Bucket
	}
	cfg, err := loadConfig(cmd, overrides)
	if err != nil {
		return err
	}
	client, err := newClient(ctx, cfg)
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	log := observability.CLILogger.With(zap.String("run_id", runID), zap.String("bucket", cfg.Bucket))
	w, err := output.New(format, cmd.OutOrStdout(), output.Options{
		RunID:  runID,
		Bucket: cfg.Bucket,
		Table:  output.TableOptions{Human: lsHuman, Diagnostics: cmd.ErrOrStderr()},
	})
	if err != nil {
		return exitError(ExitConfig, "invalid --format", err)
	}

	driver := pager.New(client.Objects(), cfg.Pager(lsLimit)).WithLogger(log)
	started := time.Now()
	writeCtx := context.WithoutCancel(ctx)

	var objects, prefixes int
	var listErr error
	for rec, err := range driver.Records(ctx, provider.ListingRequest{
		Bucket:    cfg.Bucket,
		Prefix:    target.Prefix,
		Delimiter: lsDelimiter,
		MaxKeys:   cfg.PageSize,
	}) {
		if err != nil {
			listErr = err
			break
		}
		switch {
		case rec.Kind == provider.KindCommonPrefix:
			prefixes++
			err = w.WritePrefix(writeCtx, &output.PrefixRecord{Prefix: rec.Prefix})
		case matcher.Match(rec.Key):
			objects++
			err = w.WriteObject(writeCtx, output.FromObject(rec))
		}
		if err != nil {
			return exitError(ExitFailure, "failed to write output", err)
		}
	}

	elapsed := time.Since(started)
	if listErr != nil {
		if err := w.WriteError(writeCtx, output.FromError(listErr, target.Prefix)); err != nil {
			return exitError(ExitFailure, "failed to write output", err)
		}
	}
	stats := driver.Stats()
	if err := w.WriteSummary(writeCtx, &output.SummaryRecord{
		Keys:          objects,
		Versions:      objects,
		Prefixes:      prefixes,
		Pages:         stats.Pages,
		Retries:       stats.Retries,
		Duration:      elapsed,
		DurationHuman: elapsed.Round(time.Millisecond).String(),
		Partial:       listErr != nil,
	}); err != nil {
		return exitError(ExitFailure, "failed to write output", err)
	}
	if err := w.Close(); err != nil {
		return exitError(ExitFailure, "failed to write output", err)
	}

	if listErr != nil {
		log.Error("Listing failed", zap.Error(listErr), zap.Int("objects", objects))
		return reportedError(ExitFailure, "listing failed", listErr)
	}
	log.Info("Listing complete", zap.Int("objects", objects), zap.Int("prefixes", prefixes),
		zap.Int64("pages", stats.Pages), zap.Duration("duration", elapsed))
	return nil
}
