// Package output renders reconciled listings.
//
// The JSONL form is a stream of typed record envelopes: one line per key
// history, common prefix, warning, error, and a closing summary. Each line
// is a self-contained JSON object that can be parsed independently. Table
// and YAML renderers present the same data for humans.
package output

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/3leaps/verscan/pkg/provider"
	"github.com/3leaps/verscan/pkg/reconcile"
)

// Record type constants.
// These follow the pattern: verscan.<type>.v<version>
const (
	// TypeKey identifies reconciled key history records.
	TypeKey = "verscan.key.v1"

	// TypeObject identifies current-object listing records.
	TypeObject = "verscan.object.v1"

	// TypePrefix identifies common prefix records.
	TypePrefix = "verscan.prefix.v1"

	// TypeWarning identifies ordering violation records.
	TypeWarning = "verscan.warning.v1"

	// TypeError identifies error records.
	TypeError = "verscan.error.v1"

	// TypeSummary identifies final summary records.
	TypeSummary = "verscan.summary.v1"
)

// Record is the envelope for all JSONL output.
type Record struct {
	// Type identifies the record type (e.g., "verscan.key.v1").
	Type string `json:"type"`

	// TS is the timestamp when the record was written.
	TS time.Time `json:"ts"`

	// RunID correlates all records of one invocation.
	RunID string `json:"run_id"`

	// Bucket is the bucket being listed.
	Bucket string `json:"bucket"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// KeyRecord is the payload for one reconciled key.
type KeyRecord struct {
	Key      string          `json:"key" yaml:"key"`
	State    string          `json:"state" yaml:"state"`
	Versions []VersionRecord `json:"versions" yaml:"versions"`
}

// VersionRecord is one version of a key, most recent first.
type VersionRecord struct {
	VersionID    string    `json:"version_id" yaml:"version_id"`
	Kind         string    `json:"kind" yaml:"kind"`
	IsLatest     bool      `json:"is_latest" yaml:"is_latest"`
	Size         int64     `json:"size,omitempty" yaml:"size,omitempty"`
	ETag         string    `json:"etag,omitempty" yaml:"etag,omitempty"`
	StorageClass string    `json:"storage_class,omitempty" yaml:"storage_class,omitempty"`
	LastModified time.Time `json:"last_modified" yaml:"last_modified"`
}

// ObjectRecord is the payload for a current object in a plain listing.
type ObjectRecord struct {
	Key          string    `json:"key" yaml:"key"`
	Size         int64     `json:"size" yaml:"size"`
	ETag         string    `json:"etag,omitempty" yaml:"etag,omitempty"`
	StorageClass string    `json:"storage_class,omitempty" yaml:"storage_class,omitempty"`
	LastModified time.Time `json:"last_modified" yaml:"last_modified"`
}

// PrefixRecord is the payload for a common prefix.
type PrefixRecord struct {
	Prefix string `json:"prefix" yaml:"prefix"`
}

// WarningRecord is the payload for an ordering violation.
type WarningRecord struct {
	Kind      string `json:"kind" yaml:"kind"`
	Key       string `json:"key" yaml:"key"`
	VersionID string `json:"version_id,omitempty" yaml:"version_id,omitempty"`
	Position  int    `json:"position" yaml:"position"`
}

// ErrorRecord is the payload for errors.
//
// A listing that fails part way still emits the records it collected; the
// error record follows them.
type ErrorRecord struct {
	// Code is a machine-readable error code.
	Code string `json:"code" yaml:"code"`

	// Message is a human-readable error description.
	Message string `json:"message" yaml:"message"`

	// Prefix is the prefix being listed when the error occurred.
	Prefix string `json:"prefix,omitempty" yaml:"prefix,omitempty"`

	// RequestID is the store's request id, when the store reported one.
	RequestID string `json:"request_id,omitempty" yaml:"request_id,omitempty"`
}

// Error codes for ErrorRecord.
const (
	ErrCodeAccessDenied = "ACCESS_DENIED"
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeCredentials  = "INVALID_CREDENTIALS"
	ErrCodeClock        = "CLOCK"
	ErrCodeThrottled    = "THROTTLED"
	ErrCodeTimeout      = "TIMEOUT"
	ErrCodeTransport    = "TRANSPORT"
	ErrCodeDecode       = "DECODE"
	ErrCodeAPI          = "API"
	ErrCodeCancelled    = "CANCELLED"
	ErrCodeInternal     = "INTERNAL"
)

// SummaryRecord is the payload for the final summary.
type SummaryRecord struct {
	Keys     int `json:"keys" yaml:"keys"`
	Versions int `json:"versions" yaml:"versions"`
	Prefixes int `json:"prefixes" yaml:"prefixes"`
	Warnings int `json:"warnings" yaml:"warnings"`

	// Pages and Retries come from the pagination driver.
	Pages   int64 `json:"pages" yaml:"pages"`
	Retries int64 `json:"retries" yaml:"retries"`

	// Duration is the total listing duration.
	Duration      time.Duration `json:"duration_ns" yaml:"-"`
	DurationHuman string        `json:"duration" yaml:"duration"`

	// Partial is set when the listing ended in an error.
	Partial bool `json:"partial" yaml:"partial"`
}

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // Operation that failed (e.g., "marshal_data", "write")
	Err error  // Underlying error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// NormalizeETag lower-cases an ETag and strips surrounding quotes.
func NormalizeETag(etag string) string {
	return strings.ToLower(strings.Trim(etag, `"`))
}

// FromHistory converts a reconciled key into its payload.
func FromHistory(h reconcile.KeyHistory) *KeyRecord {
	rec := &KeyRecord{
		Key:      h.Key,
		State:    h.State.String(),
		Versions: make([]VersionRecord, 0, len(h.Versions)),
	}
	for _, v := range h.Versions {
		rec.Versions = append(rec.Versions, FromVersion(v))
	}
	return rec
}

// FromVersion converts one version record.
func FromVersion(r provider.Record) VersionRecord {
	return VersionRecord{
		VersionID:    r.VersionID,
		Kind:         r.Kind.String(),
		IsLatest:     r.IsLatest,
		Size:         r.Size,
		ETag:         NormalizeETag(r.ETag),
		StorageClass: r.StorageClass,
		LastModified: r.LastModified,
	}
}

// FromObject converts a current-object record.
func FromObject(r provider.Record) *ObjectRecord {
	return &ObjectRecord{
		Key:          r.Key,
		Size:         r.Size,
		ETag:         NormalizeETag(r.ETag),
		StorageClass: r.StorageClass,
		LastModified: r.LastModified,
	}
}

// FromWarning converts an ordering violation.
func FromWarning(w reconcile.Warning) *WarningRecord {
	return &WarningRecord{
		Kind:      w.Kind.String(),
		Key:       w.Key,
		VersionID: w.VersionID,
		Position:  w.Position,
	}
}

// FromError classifies err into an error payload.
func FromError(err error, prefix string) *ErrorRecord {
	rec := &ErrorRecord{Code: ErrorCode(err), Message: err.Error(), Prefix: prefix}
	var apiErr *provider.APIError
	if errors.As(err, &apiErr) {
		rec.RequestID = apiErr.RequestID
	}
	return rec
}
