package cmd

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/3leaps/verscan/pkg/match"
)

// Target parsing errors
var (
	// ErrInvalidURI indicates the URI could not be parsed.
	ErrInvalidURI = errors.New("invalid URI")

	// ErrUnsupportedProvider indicates the URI scheme is not supported.
	ErrUnsupportedProvider = errors.New("unsupported provider")

	// ErrMissingBucket indicates the URI is missing a bucket name.
	ErrMissingBucket = errors.New("missing bucket name")
)

// Target is a parsed listing argument.
//
// Accepted forms:
//   - prefix/            (bucket from configuration)
//   - s3://bucket
//   - s3://bucket/prefix/
//   - s3://bucket/data/**/*.parquet
type Target struct {
	// Bucket is empty when the argument carried no s3:// scheme.
	Bucket string

	// Prefix is the listing prefix. For patterns it is the static part
	// before the first glob character.
	Prefix string

	// Pattern is set if the argument contains glob characters.
	Pattern string
}

// String returns the target in canonical form.
func (t *Target) String() string {
	path := t.Prefix
	if t.Pattern != "" {
		path = t.Pattern
	}
	if t.Bucket == "" {
		return path
	}
	return fmt.Sprintf("s3://%s/%s", t.Bucket, path)
}

// IsPattern returns true if the target contains glob pattern characters.
func (t *Target) IsPattern() bool {
	return t.Pattern != ""
}

// ParseTarget parses a listing argument. An empty argument lists the whole
// configured bucket.
func ParseTarget(arg string) (*Target, error) {
	path := arg
	var bucket string

	// Parse manually: url.Parse treats the '?' glob as a query delimiter.
	if schemeEnd := strings.Index(arg, "://"); schemeEnd != -1 {
		scheme := strings.ToLower(arg[:schemeEnd])
		if scheme != "s3" {
			return nil, fmt.Errorf("%w: %s (supported: s3)", ErrUnsupportedProvider, scheme)
		}

		remainder := arg[schemeEnd+3:]
		bucket, path, _ = strings.Cut(remainder, "/")
		if bucket == "" {
			return nil, fmt.Errorf("%w: in %s", ErrMissingBucket, arg)
		}
		if strings.ContainsAny(bucket, `\ `) {
			return nil, fmt.Errorf("%w: invalid bucket name %q", ErrInvalidURI, bucket)
		}
		if _, err := url.Parse("s3://" + bucket + "/"); err != nil {
			return nil, fmt.Errorf("%w: invalid bucket name %q", ErrInvalidURI, bucket)
		}
	}

	t := &Target{Bucket: bucket}
	if match.IsGlobPattern(path) {
		t.Pattern = match.NormalizePattern(path)
	}
	// DerivePrefix also unescapes literal metacharacters ("file\*.txt").
	t.Prefix = match.DerivePrefix(path)
	return t, nil
}
