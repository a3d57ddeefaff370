package s3

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/3leaps/verscan/pkg/provider"
	"github.com/3leaps/verscan/pkg/s3xml"
	"github.com/3leaps/verscan/pkg/sigv4"
	"github.com/3leaps/verscan/pkg/transport"
)

// Client issues signed listing requests against one bucket.
//
// Client is safe for concurrent use. Apart from read-only configuration it
// tracks the store's clock offset, learned from response Date headers, which
// the default signer uses as its skew reference.
type Client struct {
	bucket    string
	region    string
	scheme    string
	host      string
	basePath  string
	pathStyle bool
	maxKeys   int

	creds     sigv4.Credentials
	signer    *sigv4.Signer
	transport transport.Transport
	now       func() time.Time

	// offset is store time minus local time, in nanoseconds.
	offset atomic.Int64
	synced atomic.Bool
}

// Client pages version listings.
var _ provider.PageFetcher = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithTransport overrides the transport. Defaults to transport.New with
// transport.DefaultTimeout.
func WithTransport(t transport.Transport) Option {
	return func(c *Client) { c.transport = t }
}

// WithSigner overrides the signer. Its Clock, not the store's Date header,
// is then the skew reference.
func WithSigner(s *sigv4.Signer) Option {
	return func(c *Client) { c.signer = s }
}

// WithClock overrides the clock used to timestamp each signature.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithCredentials uses creds instead of resolving them from the config.
func WithCredentials(creds sigv4.Credentials) Option {
	return func(c *Client) { c.creds = creds }
}

// New creates a Client with the given configuration.
//
// Explicit keys in cfg are used as-is. Otherwise credentials are resolved once
// through the aws-sdk-go-v2 shared config chain (honouring cfg.Profile).
func New(ctx context.Context, cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		bucket:    cfg.Bucket,
		region:    cfg.Region,
		pathStyle: cfg.ForcePathStyle,
		maxKeys:   clampMaxKeys(cfg.MaxKeys, DefaultMaxKeys),
		now:       time.Now,
	}
	if c.region == "" {
		c.region = DefaultAWSRegion
	}
	if err := c.setEndpoint(cfg.Endpoint); err != nil {
		return nil, err
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.creds == (sigv4.Credentials{}) {
		if cfg.hasStaticCredentials() {
			c.creds = sigv4.Credentials{
				AccessKeyID:     cfg.AccessKeyID,
				SecretAccessKey: cfg.SecretAccessKey,
				SessionToken:    cfg.SessionToken,
			}
		} else {
			creds, err := ResolveCredentials(ctx, cfg)
			if err != nil {
				return nil, &provider.ProviderError{Op: "New", Provider: provider.ProviderS3, Bucket: cfg.Bucket, Err: err}
			}
			c.creds = creds
		}
	}
	if err := c.creds.Validate(); err != nil {
		return nil, &provider.ProviderError{Op: "New", Provider: provider.ProviderS3, Bucket: cfg.Bucket, Err: err}
	}

	if c.signer == nil {
		c.signer = &sigv4.Signer{Clock: c.storeNow}
	}
	if c.transport == nil {
		c.transport = transport.New(transport.Config{})
	}

	return c, nil
}

func (c *Client) setEndpoint(endpoint string) error {
	if endpoint == "" {
		c.scheme = "https"
		c.host = "s3." + c.region + ".amazonaws.com"
		return nil
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return &ConfigError{Field: "Endpoint", Message: err.Error()}
	}
	c.scheme = u.Scheme
	c.host = u.Host
	c.basePath = strings.TrimSuffix(u.Path, "/")
	return nil
}

// Bucket returns the configured bucket name.
func (c *Client) Bucket() string {
	return c.bucket
}

// Region returns the signing region.
func (c *Client) Region() string {
	return c.region
}

// FetchPage fetches one page of a version listing.
func (c *Client) FetchPage(ctx context.Context, req provider.ListingRequest) (*provider.PageResult, error) {
	return c.ListVersions(ctx, req)
}

// ListVersions fetches one page of GET /{bucket}?versions.
func (c *Client) ListVersions(ctx context.Context, req provider.ListingRequest) (*provider.PageResult, error) {
	query := map[string][]string{"versions": nil}
	c.listParams(query, req)
	if cont := req.Continuation; cont != nil {
		if cont.KeyMarker != "" {
			query["key-marker"] = []string{cont.KeyMarker}
		}
		if cont.VersionIDMarker != "" {
			query["version-id-marker"] = []string{cont.VersionIDMarker}
		}
	}

	body, err := c.get(ctx, c.bucketFor(req), query)
	if err != nil {
		return nil, c.wrapError("ListVersions", req.Prefix, err)
	}
	page, err := s3xml.DecodeVersions(body)
	if err != nil {
		return nil, c.wrapError("ListVersions", req.Prefix, err)
	}
	return page, nil
}

// ListObjects fetches one page of GET /{bucket}?list-type=2.
func (c *Client) ListObjects(ctx context.Context, req provider.ListingRequest) (*provider.PageResult, error) {
	query := map[string][]string{"list-type": {"2"}}
	c.listParams(query, req)
	if cont := req.Continuation; cont != nil && cont.Token != "" {
		query["continuation-token"] = []string{cont.Token}
	}

	body, err := c.get(ctx, c.bucketFor(req), query)
	if err != nil {
		return nil, c.wrapError("ListObjects", req.Prefix, err)
	}
	page, err := s3xml.DecodeObjects(body)
	if err != nil {
		return nil, c.wrapError("ListObjects", req.Prefix, err)
	}
	return page, nil
}

// Objects returns a PageFetcher for current-object listings.
func (c *Client) Objects() provider.PageFetcher {
	return provider.PageFetcherFunc(c.ListObjects)
}

// Versioning returns the bucket versioning status ("Enabled", "Suspended",
// or "" when versioning has never been enabled).
func (c *Client) Versioning(ctx context.Context) (string, error) {
	body, err := c.get(ctx, c.bucket, map[string][]string{"versioning": nil})
	if err != nil {
		return "", c.wrapError("GetBucketVersioning", "", err)
	}
	status, err := s3xml.DecodeVersioning(body)
	if err != nil {
		return "", c.wrapError("GetBucketVersioning", "", err)
	}
	return status, nil
}

func (c *Client) bucketFor(req provider.ListingRequest) string {
	if req.Bucket != "" {
		return req.Bucket
	}
	return c.bucket
}

func (c *Client) listParams(query map[string][]string, req provider.ListingRequest) {
	if req.Prefix != "" {
		query["prefix"] = []string{req.Prefix}
	}
	if req.Delimiter != "" {
		query["delimiter"] = []string{req.Delimiter}
	}
	query["max-keys"] = []string{strconv.Itoa(clampMaxKeys(req.MaxKeys, c.maxKeys))}
}

// get signs and sends a bucket-level GET, returning the body of a successful
// response. Every call takes a fresh timestamp so retried attempts are never
// replayed with a stale signature.
func (c *Client) get(ctx context.Context, bucket string, query map[string][]string) ([]byte, error) {
	host, path := c.address(bucket)

	ts := c.now()
	headers, err := c.signer.Sign(sigv4.Request{
		Method: http.MethodGet,
		Host:   host,
		Path:   path,
		Query:  query,
	}, c.creds, c.region, ts)
	if err != nil {
		return nil, err
	}

	rawURL := c.scheme + "://" + host + sigv4.CanonicalURI(path)
	if q := sigv4.CanonicalQuery(query); q != "" {
		rawURL += "?" + q
	}

	resp, err := c.transport.Send(ctx, &transport.Request{
		Method:  http.MethodGet,
		URL:     rawURL,
		Headers: headers,
	})
	if err != nil {
		return nil, err
	}

	c.observeDate(resp.Headers)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || s3xml.IsErrorDocument(resp.Body) {
		apiErr := s3xml.DecodeError(resp.StatusCode, resp.Body, resp.Headers)
		var clockErr *sigv4.ClockError
		if errors.As(c.signer.CheckClock(ts), &clockErr) {
			clockErr.Err = apiErr
			return nil, clockErr
		}
		return nil, apiErr
	}
	return resp.Body, nil
}

// storeNow estimates the store's current time. Until a response has carried
// a Date header it is the local clock.
func (c *Client) storeNow() time.Time {
	now := c.now()
	if c.synced.Load() {
		now = now.Add(time.Duration(c.offset.Load()))
	}
	return now
}

func (c *Client) observeDate(h http.Header) {
	date, err := http.ParseTime(h.Get("Date"))
	if err != nil {
		return
	}
	c.offset.Store(int64(date.Sub(c.now())))
	c.synced.Store(true)
}

// address returns the host and unescaped path for a bucket-level request.
func (c *Client) address(bucket string) (host, path string) {
	if c.pathStyle {
		return c.host, c.basePath + "/" + bucket
	}
	return bucket + "." + c.host, c.basePath + "/"
}

// wrapError adds operation context. Cancellation passes through unwrapped
// so callers can match provider.ErrCancelled directly.
func (c *Client) wrapError(op, key string, err error) error {
	if errors.Is(err, provider.ErrCancelled) {
		return err
	}
	return &provider.ProviderError{
		Op:       op,
		Provider: provider.ProviderS3,
		Bucket:   c.bucket,
		Key:      key,
		Err:      err,
	}
}

// clampMaxKeys applies defaults and limits to maxKeys values.
// If requested is <= 0, uses providerDefault. Result is clamped to MaxAllowedKeys.
func clampMaxKeys(requested, providerDefault int) int {
	if requested <= 0 {
		requested = providerDefault
	}
	if requested > MaxAllowedKeys {
		return MaxAllowedKeys
	}
	return requested
}
