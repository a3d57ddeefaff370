package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/verscan/internal/observability"
	"github.com/3leaps/verscan/pkg/match"
	"github.com/3leaps/verscan/pkg/output"
	"github.com/3leaps/verscan/pkg/pager"
	"github.com/3leaps/verscan/pkg/provider"
	"github.com/3leaps/verscan/pkg/reconcile"
)

var versionsCmd = &cobra.Command{
	Use:   "versions [prefix | s3://bucket/prefix]",
	Short: "List and reconcile every version under a prefix",
	Long: `List every version and delete marker under a prefix and group them into
per-key histories, most recent first.

A key is "live" when its latest entry is an object, "deleted" when it is a
delete marker, and "absent" (with --exact) when it has no versions at all.
Ordering anomalies in the store's response are reported as warnings.

Examples:
  verscan versions
  verscan versions photos/2024/
  verscan versions s3://bucket/photos/**/*.jpg
  verscan versions photos/cat.jpg --exact
  verscan versions --delimiter / --format jsonl
  verscan versions --state deleted --exclude '**/tmp/**'`,
	Args: cobra.MaximumNArgs(1),
	RunE: runVersions,
}

var (
	versionsDelimiter string
	versionsLimit     int
	versionsExact     bool
	versionsMatch     []string
	versionsExclude   []string
	versionsState     string
	versionsFormat    string
	versionsHuman     bool
)

func init() {
	rootCmd.AddCommand(versionsCmd)

	versionsCmd.Flags().StringVar(&versionsDelimiter, "delimiter", "", "Group keys into common prefixes at this delimiter")
	versionsCmd.Flags().Int("page-size", 1000, "Records per page request, at most 1000 (VERSCAN_PAGE_SIZE)")
	versionsCmd.Flags().IntVarP(&versionsLimit, "limit", "n", 0, "Stop after this many records (0 for no limit)")
	versionsCmd.Flags().BoolVar(&versionsExact, "exact", false, "Report only the named key, absent if it has no versions")
	versionsCmd.Flags().StringSliceVar(&versionsMatch, "match", nil, "Only keys matching this glob (repeatable)")
	versionsCmd.Flags().StringSliceVar(&versionsExclude, "exclude", nil, "Skip keys matching this glob (repeatable)")
	versionsCmd.Flags().StringVar(&versionsState, "state", "all", "Keep keys in this state: live, deleted or all")
	versionsCmd.Flags().StringVarP(&versionsFormat, "format", "o", "table", "Output format: table, jsonl or yaml")
	versionsCmd.Flags().BoolVar(&versionsHuman, "human", false, "Human-readable sizes in table output")
}

// listingPlan is a parsed versions invocation.
type listingPlan struct {
	target    *Target
	prefix    string
	expect    []string
	matcher   *match.Matcher
	state     *reconcile.State
	format    output.Format
	overrides map[string]any
}

func planVersions(args []string) (*listingPlan, error) {
	arg := ""
	if len(args) > 0 {
		arg = args[0]
	}
	target, err := ParseTarget(arg)
	if err != nil {
		return nil, exitError(ExitConfig, "invalid target", err)
	}

	plan := &listingPlan{target: target, prefix: target.Prefix, overrides: map[string]any{}}
	if target.Bucket != "" {
		plan.overrides["bucket"] = target.Bucket
	}

	if plan.format, err = output.ParseFormat(versionsFormat); err != nil {
		return nil, exitError(ExitConfig, "invalid --format", err)
	}

	if s := strings.ToLower(strings.TrimSpace(versionsState)); s != "" && s != "all" {
		state, err := reconcile.ParseState(s)
		if err != nil || state == reconcile.StateAbsent {
			return nil, exitError(ExitConfig, "invalid --state", fmt.Errorf("%q: expected live, deleted or all", versionsState))
		}
		plan.state = &state
	}

	if versionsExact {
		if target.IsPattern() || target.Prefix == "" {
			return nil, exitError(ExitConfig, "invalid target", fmt.Errorf("--exact needs a literal key, got %q", arg))
		}
		plan.expect = []string{target.Prefix}
	}

	includes := append([]string(nil), versionsMatch...)
	if target.IsPattern() {
		includes = append(includes, target.Pattern)
	}
	plan.matcher, err = match.New(match.Config{Includes: includes, Excludes: versionsExclude})
	if err != nil {
		return nil, exitError(ExitConfig, "invalid pattern", err)
	}
	// Narrow the listing when every include shares a longer prefix.
	if p := plan.matcher.Prefix(); len(p) > len(plan.prefix) && strings.HasPrefix(p, plan.prefix) {
		plan.prefix = p
	}
	return plan, nil
}

// keep reports whether a reconciled key belongs in the output.
func (p *listingPlan) keep(h reconcile.KeyHistory) bool {
	if len(p.expect) > 0 && h.Key != p.expect[0] {
		return false
	}
	if !p.matcher.Match(h.Key) {
		return false
	}
	return p.state == nil || h.State == *p.state
}

func runVersions(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	plan, err := planVersions(args)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd, plan.overrides)
	if err != nil {
		return err
	}
	client, err := newClient(ctx, cfg)
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	log := observability.CLILogger.With(zap.String("run_id", runID), zap.String("bucket", cfg.Bucket))
	log.Debug("Listing versions",
		zap.String("prefix", plan.prefix),
		zap.String("delimiter", versionsDelimiter),
		zap.Bool("exact", versionsExact),
		zap.Int("limit", versionsLimit))

	driver := pager.New(client, cfg.Pager(versionsLimit)).WithLogger(log)
	started := time.Now()
	records := driver.Records(ctx, provider.ListingRequest{
		Bucket:    cfg.Bucket,
		Prefix:    plan.prefix,
		Delimiter: versionsDelimiter,
		MaxKeys:   cfg.PageSize,
	})

	res, listErr := reconcile.ReconcileListing(records, reconcile.Options{Expect: plan.expect})
	res = res.Filter(plan.keep)
	elapsed := time.Since(started)

	w, err := output.New(plan.format, cmd.OutOrStdout(), output.Options{
		RunID:  runID,
		Bucket: cfg.Bucket,
		Table:  output.TableOptions{Human: versionsHuman, Diagnostics: cmd.ErrOrStderr()},
	})
	if err != nil {
		return exitError(ExitConfig, "invalid --format", err)
	}

	// Partial results are written even when the listing was cut short.
	writeCtx := context.WithoutCancel(ctx)
	stats := driver.Stats()
	if err := renderListing(writeCtx, w, res, listErr, plan.prefix, stats, elapsed); err != nil {
		return exitError(ExitFailure, "failed to write output", err)
	}

	for _, warning := range res.Warnings {
		log.Warn("Ordering violation", zap.String("kind", warning.Kind.String()),
			zap.String("key", warning.Key), zap.String("version_id", warning.VersionID), zap.Int("position", warning.Position))
	}
	if listErr != nil {
		log.Error("Listing failed", zap.Error(listErr), zap.Int64("pages", stats.Pages), zap.Int("keys", res.Len()))
		return reportedError(ExitFailure, "listing failed", listErr)
	}
	log.Info("Listing complete",
		zap.Int("keys", res.Len()),
		zap.Int("versions", res.Versions()),
		zap.Int64("pages", stats.Pages),
		zap.Int64("retries", stats.Retries),
		zap.Duration("duration", elapsed))
	return nil
}

// renderListing writes res, then the listing error if any, then the summary.
func renderListing(ctx context.Context, w output.Writer, res *reconcile.Result, listErr error, prefix string, stats pager.Stats, elapsed time.Duration) error {
	if err := output.WriteResult(ctx, w, res); err != nil {
		return err
	}
	if listErr != nil {
		if err := w.WriteError(ctx, output.FromError(listErr, prefix)); err != nil {
			return err
		}
	}
	summary := &output.SummaryRecord{
		Keys:          res.Len(),
		Versions:      res.Versions(),
		Prefixes:      len(res.Prefixes),
		Warnings:      len(res.Warnings),
		Pages:         stats.Pages,
		Retries:       stats.Retries,
		Duration:      elapsed,
		DurationHuman: elapsed.Round(time.Millisecond).String(),
		Partial:       listErr != nil,
	}
	if err := w.WriteSummary(ctx, summary); err != nil {
		return err
	}
	return w.Close()
}
