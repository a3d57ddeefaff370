package provider

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *ProviderError
		expected string
	}{
		{
			name: "with key",
			err: &ProviderError{
				Op:       "ListVersions",
				Provider: ProviderS3,
				Bucket:   "my-bucket",
				Key:      "path/to/file.txt",
				Err:      ErrNotFound,
			},
			expected: "s3 ListVersions: my-bucket/path/to/file.txt: object not found",
		},
		{
			name: "without key",
			err: &ProviderError{
				Op:       "ListVersions",
				Provider: ProviderS3,
				Bucket:   "my-bucket",
				Err:      ErrAccessDenied,
			},
			expected: "s3 ListVersions: my-bucket: access denied",
		},
		{
			name: "without bucket",
			err: &ProviderError{
				Op:       "New",
				Provider: ProviderS3,
				Err:      errors.New("failed to load config"),
			},
			expected: "s3 New: failed to load config",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestAPIError_SentinelMapping(t *testing.T) {
	tests := []struct {
		code   string
		status int
		target error
	}{
		{"NoSuchKey", 404, ErrNotFound},
		{"NoSuchBucket", 404, ErrBucketNotFound},
		{"AccessDenied", 403, ErrAccessDenied},
		{"SignatureDoesNotMatch", 403, ErrInvalidCredentials},
		{"InvalidAccessKeyId", 403, ErrInvalidCredentials},
		{"SlowDown", 503, ErrThrottled},
		{"Whatever", 429, ErrThrottled},
		{"InternalError", 500, ErrProviderUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := &ProviderError{
				Op:       "ListVersions",
				Provider: ProviderS3,
				Bucket:   "b",
				Err:      &APIError{StatusCode: tt.status, Code: tt.code},
			}
			assert.True(t, errors.Is(err, tt.target))
		})
	}

	assert.False(t, IsNotFound(&APIError{StatusCode: 403, Code: "AccessDenied"}))
}

func TestAPIError_Smithy(t *testing.T) {
	var err error = fmt.Errorf("wrapped: %w", &APIError{StatusCode: 404, Code: "NoSuchBucket", Message: "missing", RequestID: "req-1"})

	var apiErr smithy.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "NoSuchBucket", apiErr.ErrorCode())
	assert.Equal(t, "missing", apiErr.ErrorMessage())
	assert.Equal(t, smithy.FaultClient, apiErr.ErrorFault())
	assert.Contains(t, err.Error(), "req-1")

	assert.Equal(t, smithy.FaultServer, (&APIError{StatusCode: 503}).ErrorFault())
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"transport", &TransportError{Op: "GET /b", Err: errors.New("connection reset")}, true},
		{"transport timeout", &TransportError{Op: "GET /b", Timeout: true, Err: context.DeadlineExceeded}, true},
		{"server error", &APIError{StatusCode: 500, Code: "InternalError"}, true},
		{"throttled 503", &APIError{StatusCode: 503, Code: "SlowDown"}, true},
		{"throttled 400", &APIError{StatusCode: 400, Code: "ThrottlingException"}, true},
		{"fault in 200 body", &APIError{StatusCode: 200, Code: "InternalError"}, true},
		{"client error", &APIError{StatusCode: 403, Code: "AccessDenied"}, false},
		{"decode", MissingField("Version.Key"), false},
		{"cancelled", fmt.Errorf("page 2: %w", ErrCancelled), false},
		{"context cancel", context.Canceled, false},
		{"plain", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestDecodeError_Error(t *testing.T) {
	assert.Equal(t, "decode: missing field Version.Key", MissingField("Version.Key").Error())
	assert.Equal(t, "decode: boom", (&DecodeError{Err: errors.New("boom")}).Error())
	assert.Equal(t, "decode: field Version.Size: bad", (&DecodeError{Field: "Version.Size", Err: errors.New("bad")}).Error())
}

func TestListingRequest_WithContinuation(t *testing.T) {
	seed := ListingRequest{Bucket: "b", Prefix: "p/"}
	next := &ContinuationToken{KeyMarker: "p/a", VersionIDMarker: "v1"}

	req := seed.WithContinuation(next)
	require.NotNil(t, req.Continuation)
	assert.Equal(t, "p/a", req.Continuation.KeyMarker)
	assert.Nil(t, seed.Continuation)

	next.KeyMarker = "mutated"
	assert.Equal(t, "p/a", req.Continuation.KeyMarker)

	assert.Nil(t, req.WithContinuation(nil).Continuation)
}

func TestRecordConstructors(t *testing.T) {
	ts := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

	obj := NewObject("a.txt", "v1", true, 10, ts, "abc")
	assert.Equal(t, KindObject, obj.Kind)
	assert.Equal(t, "object", obj.Kind.String())

	dm := NewDeleteMarker("a.txt", "v2", false, ts)
	assert.Equal(t, KindDeleteMarker, dm.Kind)
	assert.Zero(t, dm.Size)

	cp := NewCommonPrefix("logs/")
	assert.Equal(t, KindCommonPrefix, cp.Kind)
	assert.Equal(t, "logs/", cp.Prefix)

	assert.True(t, ContinuationToken{}.IsZero())
	assert.False(t, ContinuationToken{Token: "x"}.IsZero())
}
