// Package provider defines the record model and error taxonomy shared by the
// listing engine.
//
// Records are decoded from the object store's listing responses and flow
// unchanged through pagination and reconciliation. The package has no
// dependencies on the wire format or the transport so every stage can be
// tested with plain values.
package provider

import (
	"context"
	"time"
)

// PageFetcher retrieves a single page of listing records.
//
// Implementations should:
//   - Sign every call afresh (timestamps must be current per attempt)
//   - Return *APIError, *DecodeError or *TransportError for classification
//   - Be safe for concurrent use by independent listings
type PageFetcher interface {
	FetchPage(ctx context.Context, req ListingRequest) (*PageResult, error)
}

// PageFetcherFunc adapts a function to PageFetcher.
type PageFetcherFunc func(ctx context.Context, req ListingRequest) (*PageResult, error)

// FetchPage calls f(ctx, req).
func (f PageFetcherFunc) FetchPage(ctx context.Context, req ListingRequest) (*PageResult, error) {
	return f(ctx, req)
}

// RecordKind discriminates the closed set of listing record variants.
type RecordKind int

const (
	// KindObject is a stored object version.
	KindObject RecordKind = iota + 1

	// KindDeleteMarker is a version-store marker that hides prior versions.
	KindDeleteMarker

	// KindCommonPrefix is a key-space segment aggregated by a delimiter.
	KindCommonPrefix
)

// String returns the string representation of the record kind.
func (k RecordKind) String() string {
	switch k {
	case KindObject:
		return "object"
	case KindDeleteMarker:
		return "delete_marker"
	case KindCommonPrefix:
		return "common_prefix"
	default:
		return "unknown"
	}
}

// Record is a single decoded listing entry.
//
// Which fields are meaningful depends on Kind:
//   - KindObject: Key, VersionID, IsLatest, Size, LastModified, ETag, StorageClass
//   - KindDeleteMarker: Key, VersionID, IsLatest, LastModified
//   - KindCommonPrefix: Prefix
//
// Records are immutable once decoded and are passed by value.
type Record struct {
	Kind RecordKind

	// Key is the full object key.
	Key string

	// VersionID identifies the version. Stores without versioning report "null";
	// object listings (ListObjectsV2) leave it empty.
	VersionID string

	// IsLatest reports whether the store considers this the current version.
	IsLatest bool

	// Size is the object size in bytes.
	Size int64

	// LastModified is when this version was written.
	LastModified time.Time

	// ETag is the entity tag without surrounding quotes.
	ETag string

	// StorageClass is the store-reported storage class, if any.
	StorageClass string

	// Prefix is set for KindCommonPrefix records only.
	Prefix string
}

// NewObject builds an object record.
func NewObject(key, versionID string, isLatest bool, size int64, lastModified time.Time, etag string) Record {
	return Record{
		Kind:         KindObject,
		Key:          key,
		VersionID:    versionID,
		IsLatest:     isLatest,
		Size:         size,
		LastModified: lastModified,
		ETag:         etag,
	}
}

// NewDeleteMarker builds a delete marker record.
func NewDeleteMarker(key, versionID string, isLatest bool, lastModified time.Time) Record {
	return Record{
		Kind:         KindDeleteMarker,
		Key:          key,
		VersionID:    versionID,
		IsLatest:     isLatest,
		LastModified: lastModified,
	}
}

// NewCommonPrefix builds a common prefix record.
func NewCommonPrefix(prefix string) Record {
	return Record{Kind: KindCommonPrefix, Prefix: prefix}
}

// ContinuationToken records where the next page should resume.
//
// Version listings resume from a key marker and version-id marker pair. Object
// listings (ListObjectsV2) resume from an opaque Token.
type ContinuationToken struct {
	KeyMarker       string
	VersionIDMarker string
	Token           string
}

// IsZero reports whether the token carries no resume position.
func (t ContinuationToken) IsZero() bool {
	return t.KeyMarker == "" && t.VersionIDMarker == "" && t.Token == ""
}

// ListingRequest describes one page request. It is built fresh per page.
type ListingRequest struct {
	// Bucket is the bucket name (required).
	Bucket string

	// Prefix filters results to keys starting with this value.
	Prefix string

	// Delimiter groups keys into common prefixes (e.g., "/").
	Delimiter string

	// MaxKeys limits records per page. Zero uses the store default.
	MaxKeys int

	// Continuation resumes a previous listing. Nil starts from the beginning.
	Continuation *ContinuationToken
}

// WithContinuation returns a copy of the request resuming from next.
func (r ListingRequest) WithContinuation(next *ContinuationToken) ListingRequest {
	out := r
	if next != nil {
		tok := *next
		out.Continuation = &tok
	} else {
		out.Continuation = nil
	}
	return out
}

// PageResult is one decoded page, in server order.
type PageResult struct {
	// Records are the page's records exactly as ordered by the store.
	Records []Record

	// IsTruncated indicates whether more pages are available.
	IsTruncated bool

	// Next is the resume position for the following page. Set when IsTruncated.
	Next *ContinuationToken
}

// ProviderType identifies the storage protocol.
type ProviderType string

const (
	// ProviderS3 represents AWS S3 or S3-compatible storage.
	ProviderS3 ProviderType = "s3"
)

// String returns the string representation of the provider type.
func (p ProviderType) String() string {
	return string(p)
}
