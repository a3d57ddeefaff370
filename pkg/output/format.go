package output

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/3leaps/verscan/pkg/reconcile"
)

// Format names an output renderer.
type Format string

const (
	FormatTable Format = "table"
	FormatJSONL Format = "jsonl"
	FormatYAML  Format = "yaml"
)

// ParseFormat parses a --format value. "json" is accepted as an alias for
// jsonl.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "table":
		return FormatTable, nil
	case "jsonl", "json":
		return FormatJSONL, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("unknown output format %q (expected table, jsonl or yaml)", s)
}

// Options are the renderer-independent settings for New.
type Options struct {
	RunID  string
	Bucket string
	Table  TableOptions
}

// New creates the renderer for format.
func New(format Format, w io.Writer, opts Options) (Writer, error) {
	switch format {
	case FormatTable:
		return NewTableWriter(w, opts.Table), nil
	case FormatJSONL:
		return NewJSONLWriter(w, opts.RunID, opts.Bucket), nil
	case FormatYAML:
		return NewYAMLWriter(w, opts.RunID, opts.Bucket), nil
	}
	return nil, fmt.Errorf("unknown output format %q", format)
}

// WriteResult emits every key history, prefix and warning of res.
func WriteResult(ctx context.Context, w Writer, res *reconcile.Result) error {
	for _, h := range res.Keys() {
		if err := w.WriteKey(ctx, FromHistory(h)); err != nil {
			return err
		}
	}
	for _, p := range res.Prefixes {
		if err := w.WritePrefix(ctx, &PrefixRecord{Prefix: p}); err != nil {
			return err
		}
	}
	for _, warning := range res.Warnings {
		if err := w.WriteWarning(ctx, FromWarning(warning)); err != nil {
			return err
		}
	}
	return nil
}
