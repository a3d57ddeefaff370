package cmd

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/verscan/internal/observability"
	"github.com/3leaps/verscan/pkg/output"
	"github.com/3leaps/verscan/pkg/pager"
	"github.com/3leaps/verscan/pkg/provider"
	"github.com/3leaps/verscan/pkg/reconcile"
)

// ErrNoMatchingVersion is returned when no version's ETag equals the file's MD5.
var ErrNoMatchingVersion = errors.New("no matching version")

var findVersionCmd = &cobra.Command{
	Use:   "find-version <key> <file>",
	Short: "Find the version of a key whose content matches a local file",
	Long: `Compute the MD5 of a local file and report every version of <key> whose
ETag equals it. Exits 1 when none matches.

Multipart uploads carry composite ETags ("<hash>-<parts>") that never match
a plain MD5.

Examples:
  verscan find-version photos/cat.jpg ./cat.jpg
  verscan find-version photos/cat.jpg ./cat.jpg --format jsonl`,
	Args: cobra.ExactArgs(2),
	RunE: runFindVersion,
}

var findVersionFormat string

func init() {
	rootCmd.AddCommand(findVersionCmd)
	findVersionCmd.Flags().StringVarP(&findVersionFormat, "format", "o", "table", "Output format: table, jsonl or yaml")
}

func runFindVersion(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	key, path := args[0], args[1]

	format, err := output.ParseFormat(findVersionFormat)
	if err != nil {
		return exitError(ExitConfig, "invalid --format", err)
	}
	sum, err := fileMD5(path)
	if err != nil {
		return exitError(ExitFailure, "failed to read file", err)
	}

	cfg, err := loadConfig(cmd, nil)
	if err != nil {
		return err
	}
	client, err := newClient(ctx, cfg)
	if err != nil {
		return err
	}

	log := observability.CLILogger.With(zap.String("bucket", cfg.Bucket), zap.String("key", key))
	log.Debug("Computed file digest", zap.String("path", path), zap.String("md5", sum))

	driver := pager.New(client, cfg.Pager(0)).WithLogger(log)
	started := time.Now()
	res, listErr := reconcile.ReconcileListing(
		driver.Records(ctx, provider.ListingRequest{Bucket: cfg.Bucket, Prefix: key, MaxKeys: cfg.PageSize}),
		reconcile.Options{Expect: []string{key}},
	)

	history := res.Lookup(key)
	matches := matchingVersions(history, sum)
	if listErr == nil && len(matches) == 0 {
		log.Info("No matching version", zap.String("state", history.State.String()), zap.Int("versions", len(history.Versions)))
		return exitError(ExitFailure, fmt.Sprintf("%s: %d version(s) checked against %s", key, len(history.Versions), sum), ErrNoMatchingVersion)
	}

	w, err := output.New(format, cmd.OutOrStdout(), output.Options{
		RunID:  uuid.NewString(),
		Bucket: cfg.Bucket,
		Table:  output.TableOptions{Diagnostics: cmd.ErrOrStderr()},
	})
	if err != nil {
		return exitError(ExitConfig, "invalid --format", err)
	}
	rec := &output.KeyRecord{Key: key, State: history.State.String(), Versions: matches}
	writeCtx := context.WithoutCancel(ctx)
	if err := w.WriteKey(writeCtx, rec); err != nil {
		return exitError(ExitFailure, "failed to write output", err)
	}

	if listErr != nil {
		// Only the versions seen before the failure were checked.
		log.Error("Listing failed", zap.Error(listErr), zap.Int("checked", len(history.Versions)), zap.Int("matches", len(matches)))
		if err := writePartial(writeCtx, w, listErr, key, len(history.Versions), driver.Stats(), time.Since(started)); err != nil {
			return exitError(ExitFailure, "failed to write output", err)
		}
		return reportedError(ExitFailure, "listing failed", listErr)
	}
	if err := w.Close(); err != nil {
		return exitError(ExitFailure, "failed to write output", err)
	}
	return nil
}

// writePartial reports a listing that stopped early: the error, then a
// partial summary of the versions checked.
func writePartial(ctx context.Context, w output.Writer, listErr error, key string, checked int, stats pager.Stats, elapsed time.Duration) error {
	if err := w.WriteError(ctx, output.FromError(listErr, key)); err != nil {
		return err
	}
	if err := w.WriteSummary(ctx, &output.SummaryRecord{
		Keys:          1,
		Versions:      checked,
		Pages:         stats.Pages,
		Retries:       stats.Retries,
		Duration:      elapsed,
		DurationHuman: elapsed.Round(time.Millisecond).String(),
		Partial:       true,
	}); err != nil {
		return err
	}
	return w.Close()
}

// matchingVersions returns the object versions whose ETag equals md5sum,
// most recent first.
func matchingVersions(h reconcile.KeyHistory, md5sum string) []output.VersionRecord {
	var out []output.VersionRecord
	for _, v := range h.Versions {
		if v.Kind != provider.KindObject {
			continue
		}
		if etag := output.NormalizeETag(v.ETag); etag == md5sum && !strings.Contains(etag, "-") {
			out = append(out, output.FromVersion(v))
		}
	}
	return out
}

// fileMD5 returns the lower-case hex MD5 of the file at path.
func fileMD5(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
