package cmd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/verscan/internal/fakestore"
	"github.com/3leaps/verscan/pkg/output"
)

const testBucket = "photos"

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type testStore struct {
	*fakestore.Store
	url      string
	versions map[string][]string
}

// newTestStore serves a versioned bucket holding:
//
//	a.txt      two versions ("one", then "two")
//	a.txt.bak  one version
//	b.txt      one version under a delete marker
//	logs/x.gz  one version
func newTestStore(t *testing.T, opts ...fakestore.Option) *testStore {
	t.Helper()
	store := fakestore.New(opts...)
	store.CreateBucket(testBucket, fakestore.VersioningEnabled)

	ts := &testStore{Store: store, versions: map[string][]string{}}
	put := func(key, body string, at time.Time) {
		ts.versions[key] = append(ts.versions[key], store.Put(testBucket, key, []byte(body), at))
	}
	put("a.txt", "one", t0)
	put("a.txt", "two", t0.Add(time.Hour))
	put("a.txt.bak", "backup", t0)
	put("b.txt", "bee", t0)
	ts.versions["b.txt"] = append(ts.versions["b.txt"], store.Delete(testBucket, "b.txt", t0.Add(2*time.Hour)))
	put("logs/x.gz", "gz", t0)

	srv := httptest.NewServer(store.Handler())
	t.Cleanup(srv.Close)
	ts.url = srv.URL
	return ts
}

var configEnv = []string{
	"ACCESS_KEY", "SECRET_KEY", "SESSION_TOKEN", "PROFILE", "BUCKET_NAME", "REGION", "ENDPOINT",
	"VERSCAN_PATH_STYLE", "VERSCAN_PAGE_SIZE", "VERSCAN_MAX_ATTEMPTS", "VERSCAN_BASE_DELAY",
	"VERSCAN_MAX_DELAY", "VERSCAN_REQUEST_TIMEOUT", "VERSCAN_RATE_LIMIT", "VERSCAN_LOG_LEVEL",
	"VERSCAN_LOG_FORMAT",
}

func setStoreEnv(t *testing.T, endpoint string) {
	t.Helper()
	for _, name := range configEnv {
		t.Setenv(name, "")
	}
	t.Setenv("ACCESS_KEY", fakestore.DefaultAccessKeyID)
	t.Setenv("SECRET_KEY", fakestore.DefaultSecretAccessKey)
	t.Setenv("BUCKET_NAME", testBucket)
	t.Setenv("REGION", fakestore.DefaultRegion)
	t.Setenv("ENDPOINT", endpoint)
	t.Setenv("VERSCAN_BASE_DELAY", "1ms")
	t.Setenv("VERSCAN_MAX_DELAY", "5ms")
	t.Setenv("VERSCAN_LOG_LEVEL", "error")
}

// resetFlags restores every flag to its default between executions of the
// shared command tree.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func execute(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	resetFlags(rootCmd)

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(append(args, "--env-file", filepath.Join(t.TempDir(), "none.env")))
	err = rootCmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

type envelope struct {
	Type   string          `json:"type"`
	Bucket string          `json:"bucket"`
	RunID  string          `json:"run_id"`
	Data   json.RawMessage `json:"data"`
}

func decodeJSONL(t *testing.T, s string) []envelope {
	t.Helper()
	var out []envelope
	sc := bufio.NewScanner(strings.NewReader(s))
	for sc.Scan() {
		var env envelope
		require.NoError(t, json.Unmarshal(sc.Bytes(), &env), sc.Text())
		out = append(out, env)
	}
	require.NoError(t, sc.Err())
	return out
}

func ofType[T any](t *testing.T, envs []envelope, recordType string) []T {
	t.Helper()
	var out []T
	for _, env := range envs {
		if env.Type != recordType {
			continue
		}
		var v T
		require.NoError(t, json.Unmarshal(env.Data, &v))
		out = append(out, v)
	}
	return out
}

func keyNames(keys []output.KeyRecord) []string {
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = k.Key
	}
	return names
}

func TestVersions_JSONL(t *testing.T) {
	store := newTestStore(t)
	setStoreEnv(t, store.url)

	stdout, _, err := execute(t, "versions", "--format", "jsonl")
	require.NoError(t, err)

	envs := decodeJSONL(t, stdout)
	keys := ofType[output.KeyRecord](t, envs, output.TypeKey)
	require.Equal(t, []string{"a.txt", "a.txt.bak", "b.txt", "logs/x.gz"}, keyNames(keys))

	a := keys[0]
	assert.Equal(t, "live", a.State)
	require.Len(t, a.Versions, 2)
	assert.Equal(t, store.versions["a.txt"][1], a.Versions[0].VersionID)
	assert.True(t, a.Versions[0].IsLatest)
	assert.Equal(t, "b8a9f715dbb64fd5c56e7783c6820a61", a.Versions[0].ETag, "md5 of \"two\", unquoted")
	assert.Equal(t, int64(3), a.Versions[0].Size)
	assert.Equal(t, store.versions["a.txt"][0], a.Versions[1].VersionID)
	assert.False(t, a.Versions[1].IsLatest)

	b := keys[2]
	assert.Equal(t, "deleted", b.State)
	require.Len(t, b.Versions, 2)
	assert.Equal(t, "delete_marker", b.Versions[0].Kind)
	assert.Equal(t, "object", b.Versions[1].Kind)

	summaries := ofType[output.SummaryRecord](t, envs, output.TypeSummary)
	require.Len(t, summaries, 1)
	assert.Equal(t, 4, summaries[0].Keys)
	assert.Equal(t, 6, summaries[0].Versions)
	assert.Equal(t, int64(1), summaries[0].Pages)
	assert.False(t, summaries[0].Partial)
	assert.Empty(t, ofType[output.ErrorRecord](t, envs, output.TypeError))

	for _, env := range envs {
		assert.Equal(t, testBucket, env.Bucket)
		assert.Equal(t, envs[0].RunID, env.RunID)
	}

	reqs := store.Requests()
	require.Len(t, reqs, 1)
	assert.True(t, reqs[0].SignatureOK)
	assert.True(t, reqs[0].Query.Has("versions"))
	assert.Equal(t, "/"+testBucket, reqs[0].Path)
}

func TestVersions_Paginates(t *testing.T) {
	store := newTestStore(t)
	setStoreEnv(t, store.url)

	stdout, _, err := execute(t, "versions", "--format", "jsonl", "--page-size", "2")
	require.NoError(t, err)

	keys := ofType[output.KeyRecord](t, decodeJSONL(t, stdout), output.TypeKey)
	assert.Equal(t, []string{"a.txt", "a.txt.bak", "b.txt", "logs/x.gz"}, keyNames(keys))

	reqs := store.Requests()
	require.Len(t, reqs, 3)
	for _, req := range reqs {
		assert.True(t, req.SignatureOK)
		assert.Equal(t, "2", req.Query.Get("max-keys"))
	}
	assert.Empty(t, reqs[0].Query.Get("key-marker"))
	assert.NotEmpty(t, reqs[1].Query.Get("key-marker"))
}

func TestVersions_Table(t *testing.T) {
	store := newTestStore(t)
	setStoreEnv(t, store.url)

	stdout, _, err := execute(t, "versions")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.NotEmpty(t, lines)
	assert.Equal(t, []string{"KEY", "STATE", "VERSION", "LATEST", "KIND", "SIZE", "ETAG", "LAST_MODIFIED"}, strings.Fields(lines[0]))
	assert.Contains(t, stdout, "delete_marker")
	assert.Contains(t, stdout, "4 key(s), 6 version(s), 0 prefix(es), 0 warning(s)")
}

func TestVersions_Delimiter(t *testing.T) {
	store := newTestStore(t)
	setStoreEnv(t, store.url)

	stdout, _, err := execute(t, "versions", "--delimiter", "/", "--format", "jsonl")
	require.NoError(t, err)

	envs := decodeJSONL(t, stdout)
	keys := ofType[output.KeyRecord](t, envs, output.TypeKey)
	assert.Equal(t, []string{"a.txt", "a.txt.bak", "b.txt"}, keyNames(keys))
	prefixes := ofType[output.PrefixRecord](t, envs, output.TypePrefix)
	require.Len(t, prefixes, 1)
	assert.Equal(t, "logs/", prefixes[0].Prefix)
	assert.Equal(t, "/", store.Requests()[0].Query.Get("delimiter"))
}

func TestVersions_Exact(t *testing.T) {
	store := newTestStore(t)
	setStoreEnv(t, store.url)

	t.Run("existing key excludes longer keys", func(t *testing.T) {
		stdout, _, err := execute(t, "versions", "a.txt", "--exact", "--format", "jsonl")
		require.NoError(t, err)
		keys := ofType[output.KeyRecord](t, decodeJSONL(t, stdout), output.TypeKey)
		require.Equal(t, []string{"a.txt"}, keyNames(keys))
		assert.Len(t, keys[0].Versions, 2)
	})

	t.Run("missing key is absent", func(t *testing.T) {
		stdout, _, err := execute(t, "versions", "missing.txt", "--exact", "--format", "jsonl")
		require.NoError(t, err)
		keys := ofType[output.KeyRecord](t, decodeJSONL(t, stdout), output.TypeKey)
		require.Len(t, keys, 1)
		assert.Equal(t, "absent", keys[0].State)
		assert.Empty(t, keys[0].Versions)
	})
}

func TestVersions_Filters(t *testing.T) {
	store := newTestStore(t)
	setStoreEnv(t, store.url)

	tests := []struct {
		name       string
		args       []string
		wantKeys   []string
		wantPrefix string
	}{
		{"deleted only", []string{"--state", "deleted"}, []string{"b.txt"}, ""},
		{"live only", []string{"--state", "live"}, []string{"a.txt", "a.txt.bak", "logs/x.gz"}, ""},
		{"match glob", []string{"--match", "**/*.gz"}, []string{"logs/x.gz"}, ""},
		{"exclude glob", []string{"--exclude", "*.bak", "--exclude", "logs/**"}, []string{"a.txt", "b.txt"}, ""},
		{"pattern argument narrows prefix", []string{"logs/*.gz"}, []string{"logs/x.gz"}, "logs/"},
		{"match narrows prefix", []string{"--match", "logs/**"}, []string{"logs/x.gz"}, "logs/"},
		{"plain prefix", []string{"a.txt"}, []string{"a.txt", "a.txt.bak"}, "a.txt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := len(store.Requests())
			args := append([]string{"versions", "--format", "jsonl"}, tt.args...)
			stdout, _, err := execute(t, args...)
			require.NoError(t, err)

			keys := ofType[output.KeyRecord](t, decodeJSONL(t, stdout), output.TypeKey)
			assert.Equal(t, tt.wantKeys, keyNames(keys))

			reqs := store.Requests()
			require.Greater(t, len(reqs), before)
			assert.Equal(t, tt.wantPrefix, reqs[before].Query.Get("prefix"))
		})
	}
}

func TestVersions_BucketFromURI(t *testing.T) {
	store := newTestStore(t)
	store.CreateBucket("archive", fakestore.VersioningEnabled)
	store.Put("archive", "old.txt", []byte("old"), t0)
	setStoreEnv(t, store.url)

	stdout, _, err := execute(t, "versions", "s3://archive/", "--format", "jsonl")
	require.NoError(t, err)

	envs := decodeJSONL(t, stdout)
	keys := ofType[output.KeyRecord](t, envs, output.TypeKey)
	assert.Equal(t, []string{"old.txt"}, keyNames(keys))
	assert.Equal(t, "archive", envs[0].Bucket)
	assert.Equal(t, "/archive", store.Requests()[0].Path)
}

func TestVersions_PartialResultsOnFailure(t *testing.T) {
	store := newTestStore(t)
	setStoreEnv(t, store.url)

	// First page served normally, then the second page is throttled until the
	// attempt budget is spent.
	store.Fail(
		fakestore.Failure{},
		fakestore.Failure{Status: 503, Code: "SlowDown"},
		fakestore.Failure{Status: 503, Code: "SlowDown"},
	)

	stdout, _, err := execute(t, "versions", "--format", "jsonl", "--page-size", "1", "--max-attempts", "2")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, ExitCode(err))

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.True(t, exitErr.Reported)

	envs := decodeJSONL(t, stdout)
	keys := ofType[output.KeyRecord](t, envs, output.TypeKey)
	require.Equal(t, []string{"a.txt"}, keyNames(keys))
	assert.Len(t, keys[0].Versions, 1)

	errs := ofType[output.ErrorRecord](t, envs, output.TypeError)
	require.Len(t, errs, 1)
	assert.Equal(t, output.ErrCodeThrottled, errs[0].Code)
	assert.NotEmpty(t, errs[0].RequestID)

	summaries := ofType[output.SummaryRecord](t, envs, output.TypeSummary)
	require.Len(t, summaries, 1)
	assert.True(t, summaries[0].Partial)
	assert.Equal(t, int64(1), summaries[0].Retries)

	assert.Len(t, store.Requests(), 3)
}

func TestVersions_ConfigErrors(t *testing.T) {
	store := newTestStore(t)

	t.Run("missing bucket", func(t *testing.T) {
		setStoreEnv(t, store.url)
		t.Setenv("BUCKET_NAME", "")
		before := len(store.Requests())

		_, _, err := execute(t, "versions")
		require.Error(t, err)
		assert.Equal(t, ExitConfig, ExitCode(err))
		assert.Contains(t, err.Error(), "BUCKET_NAME")
		assert.Len(t, store.Requests(), before, "no request before validation")
	})

	t.Run("missing credentials", func(t *testing.T) {
		setStoreEnv(t, store.url)
		t.Setenv("SECRET_KEY", "")
		_, _, err := execute(t, "versions")
		assert.Equal(t, ExitConfig, ExitCode(err))
	})

	tests := []struct {
		name string
		args []string
	}{
		{"bad format", []string{"versions", "--format", "xml"}},
		{"bad state", []string{"versions", "--state", "gone"}},
		{"absent state", []string{"versions", "--state", "absent"}},
		{"exact with pattern", []string{"versions", "logs/*.gz", "--exact"}},
		{"exact without key", []string{"versions", "--exact"}},
		{"bad pattern", []string{"versions", "--match", "[oops"}},
		{"bad page size", []string{"versions", "--page-size", "5000"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setStoreEnv(t, store.url)
			_, _, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitConfig, ExitCode(err))
		})
	}
}

func TestVersions_WrongSecret(t *testing.T) {
	store := newTestStore(t)
	setStoreEnv(t, store.url)
	t.Setenv("SECRET_KEY", "not-the-secret")

	stdout, _, err := execute(t, "versions", "--format", "jsonl")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, ExitCode(err))

	errs := ofType[output.ErrorRecord](t, decodeJSONL(t, stdout), output.TypeError)
	require.Len(t, errs, 1)
	assert.Equal(t, output.ErrCodeCredentials, errs[0].Code)
	assert.Len(t, store.Requests(), 1, "signature failures are not retried")
}

func TestLs(t *testing.T) {
	store := newTestStore(t)
	setStoreEnv(t, store.url)

	t.Run("current objects only", func(t *testing.T) {
		stdout, _, err := execute(t, "ls", "--format", "jsonl")
		require.NoError(t, err)

		envs := decodeJSONL(t, stdout)
		objects := ofType[output.ObjectRecord](t, envs, output.TypeObject)
		var names []string
		for _, o := range objects {
			names = append(names, o.Key)
		}
		assert.Equal(t, []string{"a.txt", "a.txt.bak", "logs/x.gz"}, names)
		assert.Equal(t, int64(3), objects[0].Size)

		summaries := ofType[output.SummaryRecord](t, envs, output.TypeSummary)
		require.Len(t, summaries, 1)
		assert.Equal(t, 3, summaries[0].Keys)

		reqs := store.Requests()
		last := reqs[len(reqs)-1]
		assert.Equal(t, "2", last.Query.Get("list-type"))
		assert.True(t, last.SignatureOK)
	})

	t.Run("delimiter and table", func(t *testing.T) {
		stdout, _, err := execute(t, "ls", "--delimiter", "/")
		require.NoError(t, err)
		lines := strings.Split(strings.TrimSpace(stdout), "\n")
		assert.Equal(t, []string{"KEY", "SIZE", "ETAG", "LAST_MODIFIED"}, strings.Fields(lines[0]))
		assert.Contains(t, stdout, "PREFIX\nlogs/\n")
		assert.Contains(t, stdout, "2 object(s), 1 prefix(es)")
	})

	t.Run("pattern", func(t *testing.T) {
		stdout, _, err := execute(t, "ls", "*.bak", "--format", "jsonl")
		require.NoError(t, err)
		objects := ofType[output.ObjectRecord](t, decodeJSONL(t, stdout), output.TypeObject)
		require.Len(t, objects, 1)
		assert.Equal(t, "a.txt.bak", objects[0].Key)
	})
}

func TestFindVersion(t *testing.T) {
	store := newTestStore(t)
	setStoreEnv(t, store.url)

	writeFile := func(t *testing.T, body string) string {
		path := filepath.Join(t.TempDir(), "upload.txt")
		require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
		return path
	}

	t.Run("older version matches", func(t *testing.T) {
		stdout, _, err := execute(t, "find-version", "a.txt", writeFile(t, "one"), "--format", "jsonl")
		require.NoError(t, err)

		keys := ofType[output.KeyRecord](t, decodeJSONL(t, stdout), output.TypeKey)
		require.Len(t, keys, 1)
		require.Len(t, keys[0].Versions, 1)
		assert.Equal(t, store.versions["a.txt"][0], keys[0].Versions[0].VersionID)
		assert.False(t, keys[0].Versions[0].IsLatest)
		assert.Equal(t, "live", keys[0].State)
	})

	t.Run("deleted key still matches its object version", func(t *testing.T) {
		stdout, _, err := execute(t, "find-version", "b.txt", writeFile(t, "bee"), "--format", "jsonl")
		require.NoError(t, err)
		keys := ofType[output.KeyRecord](t, decodeJSONL(t, stdout), output.TypeKey)
		require.Len(t, keys, 1)
		assert.Equal(t, "deleted", keys[0].State)
		assert.Equal(t, store.versions["b.txt"][0], keys[0].Versions[0].VersionID)
	})

	t.Run("no match", func(t *testing.T) {
		_, _, err := execute(t, "find-version", "a.txt", writeFile(t, "three"))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNoMatchingVersion)
		assert.Equal(t, ExitFailure, ExitCode(err))
	})

	t.Run("listing failure reports versions checked so far", func(t *testing.T) {
		t.Setenv("VERSCAN_PAGE_SIZE", "1")
		before := len(store.Requests())
		store.Fail(
			fakestore.Failure{},
			fakestore.Failure{Status: 503, Code: "SlowDown"},
			fakestore.Failure{Status: 503, Code: "SlowDown"},
		)

		stdout, _, err := execute(t, "find-version", "a.txt", writeFile(t, "two"), "--format", "jsonl", "--max-attempts", "2")
		require.Error(t, err)
		assert.Equal(t, ExitFailure, ExitCode(err))
		assert.NotErrorIs(t, err, ErrNoMatchingVersion)
		var exitErr *ExitError
		require.ErrorAs(t, err, &exitErr)
		assert.True(t, exitErr.Reported)

		envs := decodeJSONL(t, stdout)
		keys := ofType[output.KeyRecord](t, envs, output.TypeKey)
		require.Len(t, keys, 1)
		require.Len(t, keys[0].Versions, 1)
		assert.Equal(t, store.versions["a.txt"][1], keys[0].Versions[0].VersionID)

		errs := ofType[output.ErrorRecord](t, envs, output.TypeError)
		require.Len(t, errs, 1)
		assert.Equal(t, output.ErrCodeThrottled, errs[0].Code)

		summaries := ofType[output.SummaryRecord](t, envs, output.TypeSummary)
		require.Len(t, summaries, 1)
		assert.True(t, summaries[0].Partial)
		assert.Equal(t, 1, summaries[0].Versions)
		assert.Len(t, store.Requests(), before+3)
	})

	t.Run("missing file", func(t *testing.T) {
		_, _, err := execute(t, "find-version", "a.txt", filepath.Join(t.TempDir(), "nope"))
		require.Error(t, err)
		assert.Equal(t, ExitFailure, ExitCode(err))
	})
}

func TestFileMD5(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hello")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o600))
	sum, err := fileMD5(path)
	require.NoError(t, err)
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", sum)
}

func TestCheck(t *testing.T) {
	t.Run("signed enabled", func(t *testing.T) {
		store := newTestStore(t)
		setStoreEnv(t, store.url)

		stdout, _, err := execute(t, "check", "--signed")
		require.NoError(t, err)
		assert.Equal(t, "bucket photos: versioning Enabled\n", stdout)
		assert.True(t, store.Requests()[0].Query.Has("versioning"))
	})

	t.Run("signed suspended", func(t *testing.T) {
		store := newTestStore(t)
		store.CreateBucket("plain", fakestore.VersioningSuspended)
		setStoreEnv(t, store.url)

		stdout, _, err := execute(t, "check", "--signed", "--bucket", "plain")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrVersioningDisabled)
		assert.Equal(t, ExitFailure, ExitCode(err))
		assert.Contains(t, stdout, "versioning Suspended")
	})

	t.Run("sdk never enabled", func(t *testing.T) {
		store := newTestStore(t, fakestore.WithoutSignatureCheck())
		store.CreateBucket("fresh", "")
		setStoreEnv(t, store.url)

		stdout, _, err := execute(t, "check", "--bucket", "fresh")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrVersioningDisabled)
		assert.Contains(t, stdout, "versioning never enabled")
	})

	t.Run("sdk enabled", func(t *testing.T) {
		store := newTestStore(t, fakestore.WithoutSignatureCheck())
		setStoreEnv(t, store.url)

		stdout, _, err := execute(t, "check")
		require.NoError(t, err)
		assert.Contains(t, stdout, "versioning Enabled")
	})
}

func TestVersionCommand(t *testing.T) {
	orig := versionInfo
	defer func() { versionInfo = orig }()
	SetVersionInfo("1.2.3", "abc123", "2024-06-01")
	setStoreEnv(t, "http://localhost:1")

	stdout, _, err := execute(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(stdout, "verscan 1.2.3 (commit abc123, built 2024-06-01, go"), stdout)
}
