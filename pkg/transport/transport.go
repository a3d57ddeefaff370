// Package transport performs the network round trip for signed listing
// requests.
//
// The listing engine only needs Send; pooling and keep-alive are handled by
// the underlying aws-sdk-go-v2 buildable HTTP client.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"

	"github.com/3leaps/verscan/pkg/provider"
)

// DefaultTimeout bounds a single request when no timeout is configured.
const DefaultTimeout = 30 * time.Second

// DefaultMaxBodyBytes caps how much of a response body is read.
const DefaultMaxBodyBytes int64 = 64 << 20

// ErrBodyTooLarge is wrapped in the *provider.DecodeError returned for a
// response body over the size cap. Resending would read the same body, so it
// is not retryable.
var ErrBodyTooLarge = errors.New("response body too large")

// Request is a fully signed HTTP request.
type Request struct {
	Method  string
	URL     string
	Headers http.Header
	Body    []byte
}

// Response is a completed HTTP exchange with the body fully read.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// Transport sends signed requests.
//
// Implementations must honour context cancellation and return
// *provider.TransportError for network-level failures.
type Transport interface {
	Send(ctx context.Context, req *Request) (*Response, error)
}

// HTTPDoer is the subset of an HTTP client used by HTTPTransport.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// Config configures an HTTPTransport.
type Config struct {
	// Timeout bounds each request, including reading the body.
	// Zero uses DefaultTimeout.
	Timeout time.Duration

	// MaxBodyBytes caps the response body size. Zero uses DefaultMaxBodyBytes.
	MaxBodyBytes int64

	// Client overrides the HTTP client. Nil builds an aws-sdk-go-v2
	// BuildableClient with Timeout applied.
	Client HTTPDoer
}

// HTTPTransport implements Transport over net/http.
type HTTPTransport struct {
	client       HTTPDoer
	timeout      time.Duration
	maxBodyBytes int64
}

var _ Transport = (*HTTPTransport)(nil)

// New creates an HTTPTransport.
func New(cfg Config) *HTTPTransport {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}

	client := cfg.Client
	if client == nil {
		client = awshttp.NewBuildableClient().WithTimeout(timeout)
	}

	return &HTTPTransport{
		client:       client,
		timeout:      timeout,
		maxBodyBytes: maxBody,
	}
}

// Send executes req and reads the whole response body.
//
// Caller cancellation surfaces as provider.ErrCancelled. Timeouts and
// connection failures surface as *provider.TransportError. An oversized body
// surfaces as *provider.DecodeError wrapping ErrBodyTooLarge.
func (t *HTTPTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	op := req.Method + " " + req.URL

	reqCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(reqCtx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("transport: build request: %w", err)
	}
	for name, values := range req.Headers {
		if http.CanonicalHeaderKey(name) == "Host" {
			if len(values) > 0 {
				httpReq.Host = values[0]
			}
			continue
		}
		for _, v := range values {
			httpReq.Header.Add(name, v)
		}
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, t.classify(ctx, op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBodyBytes+1))
	if err != nil {
		return nil, t.classify(ctx, op, err)
	}
	if int64(len(data)) > t.maxBodyBytes {
		return nil, &provider.DecodeError{Err: fmt.Errorf("%w: %s: exceeds %d bytes", ErrBodyTooLarge, op, t.maxBodyBytes)}
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       data,
	}, nil
}

// classify maps a client error to cancellation or a transport failure.
func (t *HTTPTransport) classify(parent context.Context, op string, err error) error {
	if parent.Err() != nil {
		return fmt.Errorf("%w: %s: %w", provider.ErrCancelled, op, parent.Err())
	}

	var netErr net.Error
	timeout := errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout())
	return &provider.TransportError{Op: op, Timeout: timeout, Err: err}
}
