package output

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/3leaps/verscan/pkg/pager"
	"github.com/3leaps/verscan/pkg/provider"
	"github.com/3leaps/verscan/pkg/reconcile"
	"github.com/3leaps/verscan/pkg/sigv4"
)

func sampleResult() *reconcile.Result {
	records := []provider.Record{
		provider.NewDeleteMarker("img/cat.jpg", "v2", true, fixedTS),
		provider.NewObject("img/cat.jpg", "v1", false, 1024, fixedTS.Add(-time.Hour), "ABC123"),
		provider.NewObject("img/dog.jpg", "null", true, 2048, fixedTS, "def456"),
		provider.NewCommonPrefix("img/raw/"),
		provider.NewObject("img/dog.jpg", "null", true, 2048, fixedTS, "def456"),
	}
	return reconcile.Reconcile(slices.Values(records), reconcile.Options{})
}

func TestFromHistory(t *testing.T) {
	res := sampleResult()
	rec := FromHistory(res.Lookup("img/cat.jpg"))

	assert.Equal(t, "img/cat.jpg", rec.Key)
	assert.Equal(t, "deleted", rec.State)
	require.Len(t, rec.Versions, 2)
	assert.Equal(t, "delete_marker", rec.Versions[0].Kind)
	assert.True(t, rec.Versions[0].IsLatest)
	assert.Equal(t, "object", rec.Versions[1].Kind)
	assert.Equal(t, "abc123", rec.Versions[1].ETag)

	absent := FromHistory(res.Lookup("nope"))
	assert.Equal(t, "absent", absent.State)
	assert.NotNil(t, absent.Versions)
}

func TestNormalizeETag(t *testing.T) {
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", NormalizeETag(`"D41D8CD98F00B204E9800998ECF8427E"`))
	assert.Equal(t, "abc-2", NormalizeETag("ABC-2"))
	assert.Equal(t, "", NormalizeETag(""))
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"cancelled", fmt.Errorf("%w: %w", provider.ErrCancelled, context.Canceled), ErrCodeCancelled},
		{"clock", &sigv4.ClockError{Timestamp: time.Unix(0, 0), Reason: "before 2010"}, ErrCodeClock},
		{"credentials", sigv4.ErrInvalidCredentials, ErrCodeCredentials},
		{"bad signature", &provider.APIError{StatusCode: 403, Code: "SignatureDoesNotMatch"}, ErrCodeCredentials},
		{"access denied", &provider.APIError{StatusCode: 403, Code: "AccessDenied"}, ErrCodeAccessDenied},
		{"no bucket", &provider.APIError{StatusCode: 404, Code: "NoSuchBucket"}, ErrCodeNotFound},
		{"throttled after retries", &pager.RetryExhaustedError{Page: 1, Attempts: 5, Err: &provider.APIError{StatusCode: 503, Code: "SlowDown"}}, ErrCodeThrottled},
		{"timeout", &provider.TransportError{Op: "GET /b", Timeout: true, Err: context.DeadlineExceeded}, ErrCodeTimeout},
		{"transport", &provider.ProviderError{Op: "ListVersions", Err: &provider.TransportError{Op: "GET /b", Err: errors.New("reset")}}, ErrCodeTransport},
		{"decode", provider.MissingField("Version.Key"), ErrCodeDecode},
		{"api", &provider.APIError{StatusCode: 400, Code: "InvalidArgument"}, ErrCodeAPI},
		{"other", errors.New("boom"), ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorCode(tt.err))
		})
	}
}

func TestFromError(t *testing.T) {
	err := &provider.ProviderError{Op: "ListVersions", Bucket: "b", Err: &provider.APIError{StatusCode: 403, Code: "AccessDenied", RequestID: "REQ1"}}
	rec := FromError(err, "img/")
	assert.Equal(t, ErrCodeAccessDenied, rec.Code)
	assert.Equal(t, "REQ1", rec.RequestID)
	assert.Equal(t, "img/", rec.Prefix)
	assert.Equal(t, err.Error(), rec.Message)
}

func TestParseFormat(t *testing.T) {
	tests := map[string]Format{
		"":      FormatTable,
		"table": FormatTable,
		"JSONL": FormatJSONL,
		"json":  FormatJSONL,
		"yaml":  FormatYAML,
		" yml ": FormatYAML,
	}
	for in, want := range tests {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseFormat("xml")
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	for _, f := range []Format{FormatTable, FormatJSONL, FormatYAML} {
		w, err := New(f, &buf, Options{RunID: "r", Bucket: "b"})
		require.NoError(t, err)
		assert.NotNil(t, w)
	}
	_, err := New(Format("csv"), &buf, Options{})
	assert.Error(t, err)
}

func TestWriteResult_JSONL(t *testing.T) {
	var buf bytes.Buffer
	w := newTestJSONL(&buf)
	require.NoError(t, WriteResult(context.Background(), w, sampleResult()))

	out := buf.String()
	assert.Equal(t, 2, strings.Count(out, TypeKey))
	assert.Equal(t, 1, strings.Count(out, TypePrefix))
	assert.Equal(t, 2, strings.Count(out, TypeWarning), "duplicate and multiple latest")
}

func TestTableWriter(t *testing.T) {
	ctx := context.Background()
	var out, diag bytes.Buffer
	w := NewTableWriter(&out, TableOptions{Diagnostics: &diag})

	require.NoError(t, WriteResult(ctx, w, sampleResult()))
	require.NoError(t, w.WriteError(ctx, &ErrorRecord{Code: ErrCodeThrottled, Message: "slow down", RequestID: "R1"}))
	require.NoError(t, w.WriteSummary(ctx, &SummaryRecord{Keys: 2, Versions: 4, Prefixes: 1, Warnings: 2, DurationHuman: "10ms", Partial: true}))
	require.NoError(t, w.Close())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.GreaterOrEqual(t, len(lines), 6)
	assert.Equal(t, []string{"KEY", "STATE", "VERSION", "LATEST", "KIND", "SIZE", "ETAG", "LAST_MODIFIED"}, strings.Fields(lines[0]))
	assert.Equal(t, []string{"img/cat.jpg", "deleted", "v2", "*", "delete_marker", "-", "-", "2024-01-15T12:00:00Z"}, strings.Fields(lines[1]))
	assert.Equal(t, []string{"v1", "object", "1024", "abc123", "2024-01-15T11:00:00Z"}, strings.Fields(lines[2]))
	assert.Contains(t, out.String(), "PREFIX\nimg/raw/\n")
	assert.Contains(t, out.String(), "2 key(s), 4 version(s), 1 prefix(es), 2 warning(s) (partial) in 10ms")

	assert.Contains(t, diag.String(), "warning: duplicate: key \"img/dog.jpg\"")
	assert.Contains(t, diag.String(), "error: THROTTLED: slow down (request id R1)")

	assert.NoError(t, w.Close(), "close is idempotent")
	assert.ErrorIs(t, w.WriteKey(ctx, sampleKey()), ErrWriterClosed)
}

func TestTableWriter_Objects(t *testing.T) {
	ctx := context.Background()
	var out bytes.Buffer
	w := NewTableWriter(&out, TableOptions{Human: true})

	require.NoError(t, w.WriteObject(ctx, &ObjectRecord{Key: "a.bin", Size: 3 * 1024 * 1024, ETag: "e1", LastModified: fixedTS}))
	require.NoError(t, w.WriteSummary(ctx, &SummaryRecord{Keys: 1, DurationHuman: "1ms"}))
	require.NoError(t, w.Close())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Equal(t, []string{"KEY", "SIZE", "ETAG", "LAST_MODIFIED"}, strings.Fields(lines[0]))
	assert.Equal(t, []string{"a.bin", "3.0", "MB", "e1", "2024-01-15T12:00:00Z"}, strings.Fields(lines[1]))
	assert.Contains(t, out.String(), "1 object(s), 0 prefix(es) in 1ms")
}

func TestTableWriter_Empty(t *testing.T) {
	var out bytes.Buffer
	w := NewTableWriter(&out, TableOptions{})
	require.NoError(t, w.Close())
	assert.Equal(t, "No keys found.\n", out.String())
}

func TestTableWriter_AbsentKey(t *testing.T) {
	var out bytes.Buffer
	w := NewTableWriter(&out, TableOptions{})
	require.NoError(t, w.WriteKey(context.Background(), &KeyRecord{Key: "gone.txt", State: "absent"}))
	require.NoError(t, w.Close())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, []string{"gone.txt", "absent", "-"}, strings.Fields(lines[1]))
}

func TestYAMLWriter(t *testing.T) {
	ctx := context.Background()
	var out bytes.Buffer
	w := NewYAMLWriter(&out, "run-1", "photos")

	require.NoError(t, WriteResult(ctx, w, sampleResult()))
	require.NoError(t, w.WriteSummary(ctx, &SummaryRecord{Keys: 2, Versions: 4, Duration: time.Second, DurationHuman: "1s"}))
	require.NoError(t, w.Close())
	assert.ErrorIs(t, w.WritePrefix(ctx, &PrefixRecord{Prefix: "x/"}), ErrWriterClosed)

	var doc struct {
		RunID  string `yaml:"run_id"`
		Bucket string `yaml:"bucket"`
		Keys   []struct {
			Key      string `yaml:"key"`
			State    string `yaml:"state"`
			Versions []struct {
				VersionID string `yaml:"version_id"`
				Kind      string `yaml:"kind"`
				ETag      string `yaml:"etag"`
			} `yaml:"versions"`
		} `yaml:"keys"`
		Prefixes []string         `yaml:"prefixes"`
		Warnings []map[string]any `yaml:"warnings"`
		Summary  map[string]any   `yaml:"summary"`
	}
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &doc))

	assert.Equal(t, "run-1", doc.RunID)
	assert.Equal(t, "photos", doc.Bucket)
	require.Len(t, doc.Keys, 2)
	assert.Equal(t, "deleted", doc.Keys[0].State)
	assert.Equal(t, "delete_marker", doc.Keys[0].Versions[0].Kind)
	assert.Equal(t, "abc123", doc.Keys[0].Versions[1].ETag)
	assert.Equal(t, []string{"img/raw/"}, doc.Prefixes)
	assert.Len(t, doc.Warnings, 2)
	assert.Equal(t, "1s", doc.Summary["duration"])
	assert.NotContains(t, doc.Summary, "duration_ns")
}

func TestFormatSize(t *testing.T) {
	tests := map[int64]string{
		0:                      "0 B",
		1023:                   "1023 B",
		1024:                   "1.0 KB",
		1536:                   "1.5 KB",
		5 * 1024 * 1024:        "5.0 MB",
		2 * 1024 * 1024 * 1024: "2.0 GB",
		1 << 40:                "1.0 TB",
	}
	for in, want := range tests {
		assert.Equal(t, want, FormatSize(in))
	}
}
