// Package pager drives a paginated listing to completion.
//
// A Driver asks a provider.PageFetcher for one page at a time, yields the
// page's records in order, and follows the continuation until the store
// reports the listing is complete. Transient failures are retried with
// exponential backoff and jitter; everything else aborts the listing while
// leaving already-yielded records with the caller.
//
// A listing is a strictly sequential chain of round trips: at most one page
// request is in flight and page N+1 is never requested before page N has
// been decoded.
package pager

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/3leaps/verscan/pkg/provider"
)

// Config configures pagination behavior.
type Config struct {
	// PageSize is the max-keys value sent with every page request.
	// Default: 1000
	PageSize int

	// MaxItems caps the total number of records yielded. The last page is
	// truncated to fit. Zero means unlimited.
	MaxItems int

	// MaxAttempts is the total number of attempts per page, including the
	// first. Default: 5
	MaxAttempts int

	// BaseDelay is the backoff before the first retry. Default: 200ms
	BaseDelay time.Duration

	// MaxDelay caps the backoff between attempts. Default: 10s
	MaxDelay time.Duration

	// RateLimit is the maximum page requests per second.
	// Zero means unlimited.
	RateLimit float64
}

// DefaultConfig returns the default pagination configuration.
func DefaultConfig() Config {
	return Config{
		PageSize:    1000,
		MaxAttempts: 5,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    10 * time.Second,
	}
}

// Stats are counters for a listing.
type Stats struct {
	// Pages is the number of pages fetched successfully.
	Pages int64

	// Records is the number of records yielded.
	Records int64

	// Retries is the number of retried attempts across all pages.
	Retries int64
}

// RetryExhaustedError is returned when a page still fails after the retry
// budget is spent. Err is the last attempt's error.
type RetryExhaustedError struct {
	Page     int
	Attempts int
	Err      error
}

// Error implements the error interface.
func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("page %d: giving up after %d attempts: %v", e.Page, e.Attempts, e.Err)
}

// Unwrap returns the last attempt's error.
func (e *RetryExhaustedError) Unwrap() error {
	return e.Err
}

// Driver pages through a listing.
//
// Driver holds no per-listing state besides its counters; independent
// listings may share a Driver only if the caller does not rely on Stats.
type Driver struct {
	fetcher provider.PageFetcher
	config  Config
	limiter *rate.Limiter
	logger  *zap.Logger

	pages   atomic.Int64
	records atomic.Int64
	retries atomic.Int64
}

// New creates a Driver.
//
// Zero-valued Config fields take their DefaultConfig values.
func New(f provider.PageFetcher, cfg Config) *Driver {
	def := DefaultConfig()
	if cfg.PageSize <= 0 {
		cfg.PageSize = def.PageSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}

	d := &Driver{
		fetcher: f,
		config:  cfg,
		logger:  zap.NewNop(),
	}
	if cfg.RateLimit > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return d
}

// WithLogger sets the logger used for page and retry events.
// Returns the driver for method chaining.
func (d *Driver) WithLogger(l *zap.Logger) *Driver {
	if l != nil {
		d.logger = l
	}
	return d
}

// Config returns the effective configuration.
func (d *Driver) Config() Config {
	return d.config
}

// Stats returns a snapshot of the counters.
func (d *Driver) Stats() Stats {
	return Stats{
		Pages:   d.pages.Load(),
		Records: d.records.Load(),
		Retries: d.retries.Load(),
	}
}

// Records returns the listing as a lazy sequence.
//
// The first page is requested with seed's continuation (normally none).
// Records are yielded in exactly the order the store returned them. A
// failure is yielded once as the final element with a zero Record. Breaking
// out of the loop stops further page requests. The sequence is not
// restartable: ranging over it again starts a new listing.
func (d *Driver) Records(ctx context.Context, seed provider.ListingRequest) iter.Seq2[provider.Record, error] {
	return func(yield func(provider.Record, error) bool) {
		req := seed
		if req.MaxKeys <= 0 {
			req.MaxKeys = d.config.PageSize
		}

		emitted := 0
		for page := 1; ; page++ {
			result, err := d.fetch(ctx, req, page)
			if err != nil {
				yield(provider.Record{}, err)
				return
			}
			d.pages.Add(1)
			d.logger.Debug("fetched page",
				zap.Int("page", page),
				zap.Int("records", len(result.Records)),
				zap.Bool("truncated", result.IsTruncated),
			)

			for _, rec := range result.Records {
				if d.capped(emitted) {
					return
				}
				if !yield(rec, nil) {
					return
				}
				emitted++
				d.records.Add(1)
			}
			if d.capped(emitted) || !result.IsTruncated {
				return
			}

			next, err := nextContinuation(req.Continuation, result.Next)
			if err != nil {
				yield(provider.Record{}, err)
				return
			}
			req = req.WithContinuation(next)
		}
	}
}

// Collect drains the listing.
//
// On failure the records yielded before the error are returned together
// with it.
func (d *Driver) Collect(ctx context.Context, seed provider.ListingRequest) ([]provider.Record, error) {
	var out []provider.Record
	for rec, err := range d.Records(ctx, seed) {
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (d *Driver) capped(emitted int) bool {
	return d.config.MaxItems > 0 && emitted >= d.config.MaxItems
}

// nextContinuation validates the resume position of a truncated page.
// A missing or non-advancing position would loop forever.
func nextContinuation(current, next *provider.ContinuationToken) (*provider.ContinuationToken, error) {
	if next == nil || next.IsZero() {
		return nil, &provider.DecodeError{Field: "NextKeyMarker", Err: errors.New("truncated page without continuation")}
	}
	if current != nil && *current == *next {
		return nil, &provider.DecodeError{Field: "NextKeyMarker", Err: errors.New("continuation did not advance")}
	}
	return next, nil
}

// fetch requests one page, retrying transient failures.
func (d *Driver) fetch(ctx context.Context, req provider.ListingRequest, page int) (*provider.PageResult, error) {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, cancelled(err)
		}
		if d.limiter != nil {
			if err := d.limiter.Wait(ctx); err != nil {
				return nil, cancelled(err)
			}
		}

		result, err := d.fetcher.FetchPage(ctx, req)
		if err == nil {
			return result, nil
		}
		if provider.IsCancelled(err) || ctx.Err() != nil {
			return nil, cancelled(err)
		}
		if !provider.IsRetryable(err) {
			return nil, err
		}
		if attempt >= d.config.MaxAttempts {
			return nil, &RetryExhaustedError{Page: page, Attempts: attempt, Err: err}
		}

		delay := Backoff(attempt, d.config.BaseDelay, d.config.MaxDelay)
		d.retries.Add(1)
		d.logger.Warn("retrying page",
			zap.Int("page", page),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if err := sleep(ctx, delay); err != nil {
			return nil, cancelled(err)
		}
	}
}

// cancelled tags err as a caller cancellation.
func cancelled(err error) error {
	if errors.Is(err, provider.ErrCancelled) {
		return err
	}
	return fmt.Errorf("%w: %w", provider.ErrCancelled, err)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
