package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/smithy-go"
)

// Sentinel errors for listing operations.
var (
	// ErrNotFound indicates the requested object does not exist.
	ErrNotFound = errors.New("object not found")

	// ErrAccessDenied indicates insufficient permissions.
	ErrAccessDenied = errors.New("access denied")

	// ErrBucketNotFound indicates the bucket does not exist.
	ErrBucketNotFound = errors.New("bucket not found")

	// ErrInvalidCredentials indicates authentication failed.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrProviderUnavailable indicates the provider service is unavailable.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrThrottled indicates the request was rate limited by the provider.
	ErrThrottled = errors.New("request throttled")

	// ErrCancelled indicates the caller cancelled the listing.
	ErrCancelled = errors.New("listing cancelled")
)

// throttlingCodes are API error codes that indicate rate limiting.
var throttlingCodes = map[string]bool{
	"SlowDown":             true,
	"Throttling":           true,
	"ThrottlingException":  true,
	"RequestLimitExceeded": true,
	"TooManyRequests":      true,
	"RequestThrottled":     true,
}

// serverFaultCodes are error codes that indicate a transient store-side
// failure even when delivered with a 200 status.
var serverFaultCodes = map[string]bool{
	"InternalError":      true,
	"ServiceUnavailable": true,
}

// APIError is an error document returned by the store.
//
// APIError satisfies smithy.APIError so it can be handled by the same code
// paths as SDK-originated errors.
type APIError struct {
	// StatusCode is the HTTP status of the response.
	StatusCode int

	// Code is the store's error code (e.g., "NoSuchBucket").
	Code string

	// Message is the human-readable error message.
	Message string

	// RequestID is the store-assigned request identifier.
	RequestID string

	// HostID is the store's extended request identifier, if any.
	HostID string
}

var _ smithy.APIError = (*APIError)(nil)

// Error implements the error interface.
func (e *APIError) Error() string {
	msg := fmt.Sprintf("api error %s (status %d)", e.Code, e.StatusCode)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.RequestID != "" {
		msg += " [request id " + e.RequestID + "]"
	}
	return msg
}

// ErrorCode returns the store error code.
func (e *APIError) ErrorCode() string { return e.Code }

// ErrorMessage returns the store error message.
func (e *APIError) ErrorMessage() string { return e.Message }

// ErrorFault classifies the error as a client or server fault.
func (e *APIError) ErrorFault() smithy.ErrorFault {
	switch {
	case e.StatusCode >= 500:
		return smithy.FaultServer
	case e.StatusCode >= 400:
		return smithy.FaultClient
	default:
		return smithy.FaultUnknown
	}
}

// Throttled reports whether the store asked the client to slow down.
func (e *APIError) Throttled() bool {
	return throttlingCodes[e.Code] || e.StatusCode == http.StatusTooManyRequests
}

// Is maps store error codes onto the sentinel errors.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Code == "NoSuchKey" || e.Code == "NotFound"
	case ErrBucketNotFound:
		return e.Code == "NoSuchBucket"
	case ErrAccessDenied:
		return e.Code == "AccessDenied" || e.Code == "Forbidden"
	case ErrInvalidCredentials:
		return e.Code == "InvalidAccessKeyId" || e.Code == "SignatureDoesNotMatch" || e.Code == "RequestTimeTooSkewed"
	case ErrThrottled:
		return e.Throttled()
	case ErrProviderUnavailable:
		return e.Code == "ServiceUnavailable" || e.Code == "InternalError" || e.StatusCode == http.StatusServiceUnavailable
	}
	return false
}

// DecodeError indicates a response body could not be decoded.
type DecodeError struct {
	// Field is the missing or malformed field path (e.g., "Version.Key").
	// Empty when the document itself is malformed.
	Field string

	// Err is the underlying parse error, if any.
	Err error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	switch {
	case e.Field != "" && e.Err != nil:
		return fmt.Sprintf("decode: field %s: %v", e.Field, e.Err)
	case e.Field != "":
		return "decode: missing field " + e.Field
	case e.Err != nil:
		return "decode: " + e.Err.Error()
	default:
		return "decode: malformed response"
	}
}

// Unwrap returns the underlying error.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// MissingField builds a DecodeError for an absent required field.
func MissingField(name string) *DecodeError {
	return &DecodeError{Field: name}
}

// TransportError is a network-level failure (connection reset, timeout).
type TransportError struct {
	// Op is the HTTP method and URL of the failed request.
	Op string

	// Timeout reports whether the per-request timeout elapsed.
	Timeout bool

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("transport %s: timeout: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProviderError wraps listing errors with bucket context.
type ProviderError struct {
	// Op is the operation that failed (e.g., "ListVersions").
	Op string

	// Provider is the provider type (e.g., "s3").
	Provider ProviderType

	// Bucket is the bucket name, if applicable.
	Bucket string

	// Key is the object key, if applicable.
	Key string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s %s: %s/%s: %v", e.Provider, e.Op, e.Bucket, e.Key, e.Err)
	}
	if e.Bucket != "" {
		return fmt.Sprintf("%s %s: %s: %v", e.Provider, e.Op, e.Bucket, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is transient: a transport failure, a 5xx
// response, a store-side fault code or throttling. Cancellation is never
// retryable.
func IsRetryable(err error) bool {
	if err == nil || IsCancelled(err) {
		return false
	}
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500 || apiErr.Throttled() || serverFaultCodes[apiErr.Code]
	}
	return false
}

// IsCancelled returns true if the error stems from caller cancellation.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}

// IsNotFound returns true if the error indicates an object was not found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAccessDenied returns true if the error indicates insufficient permissions.
func IsAccessDenied(err error) bool {
	return errors.Is(err, ErrAccessDenied)
}

// IsBucketNotFound returns true if the error indicates the bucket does not exist.
func IsBucketNotFound(err error) bool {
	return errors.Is(err, ErrBucketNotFound)
}

// IsInvalidCredentials returns true if the error indicates authentication failed.
func IsInvalidCredentials(err error) bool {
	return errors.Is(err, ErrInvalidCredentials)
}

// IsProviderUnavailable returns true if the error indicates the provider service is unavailable.
func IsProviderUnavailable(err error) bool {
	return errors.Is(err, ErrProviderUnavailable)
}

// IsThrottled returns true if the error indicates the request was rate limited.
func IsThrottled(err error) bool {
	return errors.Is(err, ErrThrottled)
}
