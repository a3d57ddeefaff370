// Package fakestore is an in-memory, versioned, S3-compatible store for
// tests.
//
// It serves path-style bucket listings (ListObjectVersions, ListObjectsV2,
// GetBucketVersioning), verifies SigV4 signatures against its credential
// table and can inject failures ahead of normal responses.
package fakestore

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/3leaps/verscan/pkg/sigv4"
)

// Default test identity.
const (
	DefaultAccessKeyID     = "AKIDFAKESTORE"
	DefaultSecretAccessKey = "fakestore-secret"
	DefaultRegion          = "us-east-1"
)

// Versioning states.
const (
	VersioningEnabled   = "Enabled"
	VersioningSuspended = "Suspended"
)

// Entry is one stored version or delete marker.
type Entry struct {
	Key          string
	VersionID    string
	DeleteMarker bool
	Size         int64
	ETag         string
	LastModified time.Time

	seq int
}

// Failure is an injected response served in place of the next request.
type Failure struct {
	// Status is the HTTP status to return. Zero serves the request normally
	// after Delay.
	Status int

	// Code is the <Error> code. Empty uses the status text.
	Code string

	// Body replaces the whole response body when set.
	Body string

	// Delay is applied before responding. The request context ends it early.
	Delay time.Duration
}

// RecordedRequest is a request observed by the store.
type RecordedRequest struct {
	Method        string
	Path          string
	Query         url.Values
	Authorization string
	SignatureOK   bool
}

type bucket struct {
	versioning string
	entries    []*Entry
}

// Store is the fake object store. The zero value is not usable; call New.
type Store struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	secrets  map[string]string
	region   string
	verify   bool
	clock    func() time.Time
	failures []Failure
	requests []RecordedRequest
	seq      int
}

// Option configures a Store.
type Option func(*Store)

// WithCredentials adds an accepted access key pair.
func WithCredentials(accessKeyID, secretAccessKey string) Option {
	return func(s *Store) { s.secrets[accessKeyID] = secretAccessKey }
}

// WithRegion sets the region signatures must be scoped to.
func WithRegion(region string) Option {
	return func(s *Store) { s.region = region }
}

// WithoutSignatureCheck accepts every request regardless of its signature.
func WithoutSignatureCheck() Option {
	return func(s *Store) { s.verify = false }
}

// WithClock sets the clock used for skew checks and the Date response header.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.clock = now }
}

// New creates an empty Store that accepts DefaultAccessKeyID.
func New(opts ...Option) *Store {
	s := &Store{
		buckets: make(map[string]*bucket),
		secrets: map[string]string{DefaultAccessKeyID: DefaultSecretAccessKey},
		region:  DefaultRegion,
		verify:  true,
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateBucket adds a bucket with the given versioning status ("" for never
// enabled).
func (s *Store) CreateBucket(name, versioning string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buckets[name] = &bucket{versioning: versioning}
}

// Put stores body under key and returns the new version id.
//
// Buckets without versioning keep a single "null" version per key.
func (s *Store) Put(bucketName, key string, body []byte, at time.Time) string {
	sum := md5.Sum(body)
	return s.add(bucketName, &Entry{
		Key:          key,
		Size:         int64(len(body)),
		ETag:         hex.EncodeToString(sum[:]),
		LastModified: at.UTC(),
	})
}

// Delete writes a delete marker for key and returns its version id.
func (s *Store) Delete(bucketName, key string, at time.Time) string {
	return s.add(bucketName, &Entry{Key: key, DeleteMarker: true, LastModified: at.UTC()})
}

// AddEntry stores a raw entry as-is (VersionID must be set). It allows
// histories whose timestamps disagree with write order.
func (s *Store) AddEntry(bucketName string, e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.mustBucket(bucketName)
	s.seq++
	e.seq = s.seq
	b.entries = append(b.entries, &e)
}

func (s *Store) add(bucketName string, e *Entry) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.mustBucket(bucketName)
	s.seq++
	e.seq = s.seq

	if b.versioning == VersioningEnabled {
		e.VersionID = fmt.Sprintf("v%08d", s.seq)
		b.entries = append(b.entries, e)
		return e.VersionID
	}

	e.VersionID = "null"
	kept := b.entries[:0]
	for _, existing := range b.entries {
		if existing.Key != e.Key || existing.VersionID != "null" {
			kept = append(kept, existing)
		}
	}
	b.entries = append(kept, e)
	return e.VersionID
}

func (s *Store) mustBucket(name string) *bucket {
	b, ok := s.buckets[name]
	if !ok {
		panic("fakestore: unknown bucket " + name)
	}
	return b
}

// Fail queues failures served, in order, before normal responses resume.
func (s *Store) Fail(failures ...Failure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, failures...)
}

// Requests returns the requests observed so far.
func (s *Store) Requests() []RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RecordedRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

// Handler returns the HTTP handler serving the store.
func (s *Store) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.stampDate)
	r.Use(s.authenticate)
	r.Use(s.inject)
	r.Get("/{bucket}", s.handleBucket)
	r.Get("/{bucket}/", s.handleBucket)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotImplemented, "NotImplemented", "operation not supported by fakestore")
	})
	return r
}

func (s *Store) stampDate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Date", s.clock().UTC().Format(http.TimeFormat))
		next.ServeHTTP(w, r)
	})
}

// authenticate records the request and verifies its signature.
func (s *Store) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := RecordedRequest{
			Method:        r.Method,
			Path:          r.URL.Path,
			Query:         r.URL.Query(),
			Authorization: r.Header.Get(sigv4.HeaderAuthorization),
		}

		code, msg := "", ""
		if s.verify {
			code, msg = s.checkSignature(r)
		}
		rec.SignatureOK = code == ""

		s.mu.Lock()
		s.requests = append(s.requests, rec)
		s.mu.Unlock()

		if code != "" {
			writeError(w, r, http.StatusForbidden, code, msg)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// inject serves the next queued failure, if any.
func (s *Store) inject(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		var f *Failure
		if len(s.failures) > 0 {
			f = &s.failures[0]
			s.failures = s.failures[1:]
		}
		s.mu.Unlock()

		if f == nil {
			next.ServeHTTP(w, r)
			return
		}

		if f.Delay > 0 {
			timer := time.NewTimer(f.Delay)
			select {
			case <-timer.C:
			case <-r.Context().Done():
				timer.Stop()
				return
			}
		}

		switch {
		case f.Status == 0:
			next.ServeHTTP(w, r)
		case f.Body != "":
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(f.Status)
			_, _ = w.Write([]byte(f.Body))
		default:
			code := f.Code
			if code == "" {
				code = strings.ReplaceAll(http.StatusText(f.Status), " ", "")
			}
			writeError(w, r, f.Status, code, "injected failure")
		}
	})
}

func (s *Store) handleBucket(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "bucket")

	s.mu.Lock()
	b, ok := s.buckets[name]
	var entries []Entry
	var versioning string
	if ok {
		entries = make([]Entry, len(b.entries))
		for i, e := range b.entries {
			entries[i] = *e
		}
		versioning = b.versioning
	}
	s.mu.Unlock()

	if !ok {
		writeError(w, r, http.StatusNotFound, "NoSuchBucket", "The specified bucket does not exist")
		return
	}

	q := r.URL.Query()
	switch {
	case q.Has("versioning"):
		writeXML(w, r, versioningConfiguration{Xmlns: xmlns, Status: versioning})
	case q.Has("versions"):
		s.listVersions(w, r, name, entries, q)
	case q.Get("list-type") == "2":
		s.listObjects(w, r, name, entries, q)
	default:
		writeError(w, r, http.StatusNotImplemented, "NotImplemented", "operation not supported by fakestore")
	}
}

// orderEntries sorts entries by key, then newest write first, and marks the
// latest entry of each key.
func orderEntries(entries []Entry) []Entry {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Key != entries[j].Key {
			return entries[i].Key < entries[j].Key
		}
		return entries[i].seq > entries[j].seq
	})
	return entries
}
