package output

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"
	"text/tabwriter"
	"time"
)

// TableOptions configures a TableWriter.
type TableOptions struct {
	// Human prints sizes as KB/MB/GB instead of bytes.
	Human bool

	// Diagnostics receives warnings and errors. Defaults to the table writer.
	Diagnostics io.Writer
}

// TableWriter renders results as an aligned text table.
//
// Rows are aligned on Close; warnings and errors are written to the
// diagnostics writer as they arrive.
type TableWriter struct {
	mu       sync.Mutex
	out      io.Writer
	tw       *tabwriter.Writer
	diag     io.Writer
	human    bool
	header   string
	prefixes []string
	summary  *SummaryRecord
	closed   bool
}

const (
	versionsHeader = "KEY\tSTATE\tVERSION\tLATEST\tKIND\tSIZE\tETAG\tLAST_MODIFIED"
	objectsHeader  = "KEY\tSIZE\tETAG\tLAST_MODIFIED"
)

// NewTableWriter creates a table renderer on w.
func NewTableWriter(w io.Writer, opts TableOptions) *TableWriter {
	diag := opts.Diagnostics
	if diag == nil {
		diag = w
	}
	return &TableWriter{
		out:   w,
		tw:    tabwriter.NewWriter(w, 0, 0, 2, ' ', 0),
		diag:  diag,
		human: opts.Human,
	}
}

// WriteKey writes one row per version. The key and state are printed on
// the first row only.
func (t *TableWriter) WriteKey(ctx context.Context, key *KeyRecord) error {
	return t.rows(ctx, versionsHeader, func() error {
		if len(key.Versions) == 0 {
			_, err := fmt.Fprintf(t.tw, "%s\t%s\t-\t\t\t\t\t\n", key.Key, key.State)
			return err
		}
		for i, v := range key.Versions {
			name, state := key.Key, key.State
			if i > 0 {
				name, state = "", ""
			}
			latest := ""
			if v.IsLatest {
				latest = "*"
			}
			size, etag := t.size(v.Size), v.ETag
			if v.Kind == "delete_marker" {
				size, etag = "-", "-"
			}
			if _, err := fmt.Fprintf(t.tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				name, state, v.VersionID, latest, v.Kind, size, etag, formatTime(v.LastModified)); err != nil {
				return err
			}
		}
		return nil
	})
}

// WriteObject writes one object row.
func (t *TableWriter) WriteObject(ctx context.Context, obj *ObjectRecord) error {
	return t.rows(ctx, objectsHeader, func() error {
		_, err := fmt.Fprintf(t.tw, "%s\t%s\t%s\t%s\n",
			obj.Key, t.size(obj.Size), obj.ETag, formatTime(obj.LastModified))
		return err
	})
}

// WritePrefix buffers a prefix; prefixes are listed after the table.
func (t *TableWriter) WritePrefix(ctx context.Context, prefix *PrefixRecord) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrWriterClosed
	}
	t.prefixes = append(t.prefixes, prefix.Prefix)
	return nil
}

// WriteWarning writes the warning to the diagnostics writer.
func (t *TableWriter) WriteWarning(ctx context.Context, w *WarningRecord) error {
	return t.diagnostic(ctx, "warning: %s: key %q version %q at record %d\n", w.Kind, w.Key, w.VersionID, w.Position)
}

// WriteError writes the error to the diagnostics writer.
func (t *TableWriter) WriteError(ctx context.Context, e *ErrorRecord) error {
	if e.RequestID != "" {
		return t.diagnostic(ctx, "error: %s: %s (request id %s)\n", e.Code, e.Message, e.RequestID)
	}
	return t.diagnostic(ctx, "error: %s: %s\n", e.Code, e.Message)
}

// WriteSummary is printed below the table on Close.
func (t *TableWriter) WriteSummary(ctx context.Context, sum *SummaryRecord) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrWriterClosed
	}
	t.summary = sum
	return nil
}

// Close flushes the table, the prefix list and the summary.
func (t *TableWriter) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true

	if err := t.tw.Flush(); err != nil {
		return &WriteError{Op: "flush", Err: err}
	}

	if len(t.prefixes) > 0 {
		if t.header != "" {
			fmt.Fprintln(t.out)
		}
		fmt.Fprintln(t.out, "PREFIX")
		for _, p := range t.prefixes {
			fmt.Fprintln(t.out, p)
		}
	}

	if t.header == "" && len(t.prefixes) == 0 {
		fmt.Fprintln(t.out, "No keys found.")
	}

	if s := t.summary; s != nil {
		fmt.Fprintln(t.out)
		if t.header == objectsHeader {
			fmt.Fprintf(t.out, "%d object(s), %d prefix(es)", s.Keys, s.Prefixes)
		} else {
			fmt.Fprintf(t.out, "%d key(s), %d version(s), %d prefix(es), %d warning(s)", s.Keys, s.Versions, s.Prefixes, s.Warnings)
		}
		if s.Partial {
			fmt.Fprint(t.out, " (partial)")
		}
		fmt.Fprintf(t.out, " in %s\n", s.DurationHuman)
	}
	return nil
}

func (t *TableWriter) rows(ctx context.Context, header string, write func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrWriterClosed
	}
	if t.header == "" {
		t.header = header
		if _, err := fmt.Fprintln(t.tw, header); err != nil {
			return &WriteError{Op: "write", Err: err}
		}
	}
	if err := write(); err != nil {
		return &WriteError{Op: "write", Err: err}
	}
	return nil
}

func (t *TableWriter) diagnostic(ctx context.Context, format string, args ...any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrWriterClosed
	}
	if _, err := fmt.Fprintf(t.diag, format, args...); err != nil {
		return &WriteError{Op: "write", Err: err}
	}
	return nil
}

func (t *TableWriter) size(n int64) string {
	if t.human {
		return FormatSize(n)
	}
	return strconv.FormatInt(n, 10)
}

func formatTime(ts time.Time) string {
	if ts.IsZero() {
		return "-"
	}
	return ts.UTC().Format(time.RFC3339)
}

// FormatSize formats bytes as a human-readable size.
func FormatSize(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
		TB = 1024 * GB
	)

	switch {
	case bytes >= TB:
		return fmt.Sprintf("%.1f TB", float64(bytes)/TB)
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

var _ Writer = (*TableWriter)(nil)
