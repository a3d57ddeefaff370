// Package sigv4 signs object-store API requests with AWS Signature Version 4.
//
// Signing is deterministic: the same request, credentials, region and
// timestamp always produce the same header set. The signer performs a clock
// sanity check so a misconfigured system clock fails before a request is sent
// that the store would reject anyway.
package sigv4

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/3leaps/verscan/pkg/provider"
)

const (
	// Algorithm is the SigV4 algorithm identifier.
	Algorithm = "AWS4-HMAC-SHA256"

	// ServiceS3 is the service name used in the credential scope.
	ServiceS3 = "s3"

	// EmptyPayloadHash is the hex SHA-256 of an empty body.
	EmptyPayloadHash = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

	// UnsignedPayload may be used instead of a payload hash.
	UnsignedPayload = "UNSIGNED-PAYLOAD"

	// DefaultMaxSkew is the largest accepted distance between the signing
	// timestamp and the reference clock. S3 rejects requests skewed by more.
	DefaultMaxSkew = 15 * time.Minute

	amzDateFormat   = "20060102T150405Z"
	shortDateFormat = "20060102"
	scopeTerminator = "aws4_request"
)

// Header names written by the signer.
const (
	HeaderAuthorization = "Authorization"
	HeaderDate          = "X-Amz-Date"
	HeaderContentSHA256 = "X-Amz-Content-Sha256"
	HeaderSecurityToken = "X-Amz-Security-Token"
	HeaderHost          = "Host"
)

// earliestTimestamp is the floor of the clock sanity window.
var earliestTimestamp = time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC)

// ErrInvalidCredentials is returned when a credential field is empty.
var ErrInvalidCredentials = fmt.Errorf("sigv4: %w", provider.ErrInvalidCredentials)

// errNoHost is returned when the request descriptor has no host.
var errNoHost = errors.New("sigv4: request host is required")

// ClockError reports a signing timestamp outside the sanity window.
type ClockError struct {
	// Timestamp is the rejected signing time.
	Timestamp time.Time

	// Reference is the clock reading it was compared against (zero for the
	// absolute floor check).
	Reference time.Time

	// Reason describes which bound was violated.
	Reason string

	// Err is the store response that exposed the skew, if any.
	Err error
}

// Error implements the error interface.
func (e *ClockError) Error() string {
	msg := fmt.Sprintf("sigv4: clock error: %s (timestamp %s)", e.Reason, e.Timestamp.UTC().Format(time.RFC3339))
	if !e.Reference.IsZero() {
		msg = fmt.Sprintf("sigv4: clock error: %s (timestamp %s, clock %s)",
			e.Reason, e.Timestamp.UTC().Format(time.RFC3339), e.Reference.UTC().Format(time.RFC3339))
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the store response error, if any.
func (e *ClockError) Unwrap() error {
	return e.Err
}

// Credentials hold the access key pair used for signing.
//
// Credentials are read-only once constructed and safe to share across
// concurrent listings.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// Validate checks that the required fields are present.
func (c Credentials) Validate() error {
	if strings.TrimSpace(c.AccessKeyID) == "" {
		return fmt.Errorf("%w: access key is empty", ErrInvalidCredentials)
	}
	if strings.TrimSpace(c.SecretAccessKey) == "" {
		return fmt.Errorf("%w: secret key is empty", ErrInvalidCredentials)
	}
	if c.SessionToken != "" && strings.TrimSpace(c.SessionToken) == "" {
		return fmt.Errorf("%w: session token is blank", ErrInvalidCredentials)
	}
	return nil
}

// Request is the logical description of an API call to sign.
type Request struct {
	// Method is the HTTP method (e.g., GET).
	Method string

	// Host is the authority the request is sent to (host[:port]).
	Host string

	// Path is the unescaped URI path (e.g., "/my-bucket").
	Path string

	// Query holds query parameters. A nil or empty value slice renders as "key=".
	Query map[string][]string

	// Headers are extra headers to include in the signature.
	Headers http.Header

	// PayloadHash is the hex SHA-256 of the body. Empty means EmptyPayloadHash.
	PayloadHash string
}

// Signer produces SigV4 headers.
//
// The zero value is usable: it checks timestamps against time.Now with
// DefaultMaxSkew.
type Signer struct {
	// Service overrides the scope service name. Empty means "s3".
	Service string

	// MaxSkew overrides DefaultMaxSkew. Negative disables the relative check.
	MaxSkew time.Duration

	// Clock is the reference clock for the sanity window. Nil means time.Now.
	Clock func() time.Time
}

// NewSigner returns a signer with default settings.
func NewSigner() *Signer {
	return &Signer{}
}

// Sign returns the headers required to authenticate req.
//
// The returned header set contains Authorization, X-Amz-Date,
// X-Amz-Content-Sha256, Host and, when a session token is present,
// X-Amz-Security-Token, plus the extra headers of req.
func (s *Signer) Sign(req Request, creds Credentials, region string, ts time.Time) (http.Header, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	if err := s.CheckClock(ts); err != nil {
		return nil, err
	}
	if req.Host == "" {
		return nil, errNoHost
	}

	ts = ts.UTC()
	amzDate := ts.Format(amzDateFormat)
	shortDate := ts.Format(shortDateFormat)
	service := s.service()

	payloadHash := req.PayloadHash
	if payloadHash == "" {
		payloadHash = EmptyPayloadHash
	}

	headers := http.Header{}
	for name, values := range req.Headers {
		for _, v := range values {
			headers.Add(name, v)
		}
	}
	headers.Set(HeaderHost, req.Host)
	headers.Set(HeaderDate, amzDate)
	headers.Set(HeaderContentSHA256, payloadHash)
	if creds.SessionToken != "" {
		headers.Set(HeaderSecurityToken, creds.SessionToken)
	}

	canonicalHeaders, signedHeaders := buildCanonicalHeaders(headers)
	canonReq := buildCanonicalRequest(req.Method, req.Path, req.Query, canonicalHeaders, signedHeaders, payloadHash)
	scope := credentialScope(shortDate, region, service)
	stringToSign := buildStringToSign(amzDate, scope, sha256Hex([]byte(canonReq)))
	signingKey := deriveSigningKey(creds.SecretAccessKey, shortDate, region, service)
	signature := hex.EncodeToString(hmacSHA256(signingKey, []byte(stringToSign)))

	headers.Set(HeaderAuthorization, fmt.Sprintf("%s Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		Algorithm, creds.AccessKeyID, scope, signedHeaders, signature))

	return headers, nil
}

func (s *Signer) service() string {
	if s.Service == "" {
		return ServiceS3
	}
	return s.Service
}

// CheckClock rejects timestamps outside the sanity window: before 2010, or
// further than MaxSkew from the Clock reference.
func (s *Signer) CheckClock(ts time.Time) error {
	if ts.IsZero() {
		return &ClockError{Timestamp: ts, Reason: "timestamp is unset"}
	}
	if ts.Before(earliestTimestamp) {
		return &ClockError{Timestamp: ts, Reason: "timestamp predates " + earliestTimestamp.Format("2006-01-02")}
	}

	maxSkew := s.MaxSkew
	if maxSkew == 0 {
		maxSkew = DefaultMaxSkew
	}
	if maxSkew < 0 {
		return nil
	}

	clock := s.Clock
	if clock == nil {
		clock = time.Now
	}
	ref := clock()
	skew := ts.Sub(ref)
	if skew < 0 {
		skew = -skew
	}
	if skew > maxSkew {
		return &ClockError{Timestamp: ts, Reference: ref, Reason: fmt.Sprintf("skew %s exceeds %s", skew.Round(time.Second), maxSkew)}
	}
	return nil
}

// HashPayload returns the hex SHA-256 of body.
func HashPayload(body []byte) string {
	if len(body) == 0 {
		return EmptyPayloadHash
	}
	return sha256Hex(body)
}

// credentialScope builds "<date>/<region>/<service>/aws4_request".
func credentialScope(shortDate, region, service string) string {
	return strings.Join([]string{shortDate, region, service, scopeTerminator}, "/")
}

// buildStringToSign joins the algorithm, timestamp, scope and request hash.
func buildStringToSign(amzDate, scope, canonicalRequestHash string) string {
	return strings.Join([]string{Algorithm, amzDate, scope, canonicalRequestHash}, "\n")
}

// deriveSigningKey runs the fixed HMAC chain over date, region and service.
func deriveSigningKey(secret, shortDate, region, service string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+secret), []byte(shortDate))
	kRegion := hmacSHA256(kDate, []byte(region))
	kService := hmacSHA256(kRegion, []byte(service))
	return hmacSHA256(kService, []byte(scopeTerminator))
}

func hmacSHA256(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
