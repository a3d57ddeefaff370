package output

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Writer renders listing results.
//
// Implementations must be safe for concurrent use from multiple
// goroutines. Renderers that need the whole result (table alignment, a
// single YAML document) may buffer until Close.
type Writer interface {
	// WriteKey emits a reconciled key history.
	WriteKey(ctx context.Context, key *KeyRecord) error

	// WriteObject emits a current object.
	WriteObject(ctx context.Context, obj *ObjectRecord) error

	// WritePrefix emits a common prefix.
	WritePrefix(ctx context.Context, prefix *PrefixRecord) error

	// WriteWarning emits an ordering violation.
	WriteWarning(ctx context.Context, warning *WarningRecord) error

	// WriteError emits an error record.
	WriteError(ctx context.Context, err *ErrorRecord) error

	// WriteSummary emits a summary record.
	WriteSummary(ctx context.Context, sum *SummaryRecord) error

	// Close flushes any buffered output and releases resources.
	Close() error
}

// JSONLWriter writes records as newline-delimited JSON to an io.Writer.
//
// JSONLWriter is safe for concurrent use. Writes are serialized using
// a mutex to ensure atomic line writes (no interleaved output).
type JSONLWriter struct {
	w      io.Writer
	runID  string
	bucket string
	now    func() time.Time
	mu     sync.Mutex

	// closed indicates the writer has been closed.
	closed bool
}

// NewJSONLWriter creates a new JSONL writer.
//
// runID correlates every record of one invocation; bucket is stamped on
// each envelope.
func NewJSONLWriter(w io.Writer, runID, bucket string) *JSONLWriter {
	return &JSONLWriter{
		w:      w,
		runID:  runID,
		bucket: bucket,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WriteKey emits a key history record.
func (jw *JSONLWriter) WriteKey(ctx context.Context, key *KeyRecord) error {
	return jw.writeRecord(ctx, TypeKey, key)
}

// WriteObject emits an object record.
func (jw *JSONLWriter) WriteObject(ctx context.Context, obj *ObjectRecord) error {
	return jw.writeRecord(ctx, TypeObject, obj)
}

// WritePrefix emits a common prefix record.
func (jw *JSONLWriter) WritePrefix(ctx context.Context, prefix *PrefixRecord) error {
	return jw.writeRecord(ctx, TypePrefix, prefix)
}

// WriteWarning emits a warning record.
func (jw *JSONLWriter) WriteWarning(ctx context.Context, warning *WarningRecord) error {
	return jw.writeRecord(ctx, TypeWarning, warning)
}

// WriteError emits an error record.
func (jw *JSONLWriter) WriteError(ctx context.Context, err *ErrorRecord) error {
	return jw.writeRecord(ctx, TypeError, err)
}

// WriteSummary emits a summary record.
func (jw *JSONLWriter) WriteSummary(ctx context.Context, sum *SummaryRecord) error {
	return jw.writeRecord(ctx, TypeSummary, sum)
}

// Close marks the writer as closed.
//
// If the underlying writer implements io.Closer, it is NOT closed.
// The caller is responsible for closing the underlying writer.
func (jw *JSONLWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	jw.closed = true
	return nil
}

// writeRecord marshals data and writes a complete record line under the
// mutex.
func (jw *JSONLWriter) writeRecord(ctx context.Context, recordType string, data any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dataBytes, err := json.Marshal(data)
	if err != nil {
		return &WriteError{Op: "marshal_data", Err: err}
	}

	jw.mu.Lock()
	defer jw.mu.Unlock()

	if jw.closed {
		return ErrWriterClosed
	}

	record := Record{
		Type:   recordType,
		TS:     jw.now(),
		RunID:  jw.runID,
		Bucket: jw.bucket,
		Data:   dataBytes,
	}

	recordBytes, err := json.Marshal(record)
	if err != nil {
		return &WriteError{Op: "marshal_record", Err: err}
	}

	// io.Writer may return n < len(p) with a nil error; a short write would
	// truncate the line.
	recordBytes = append(recordBytes, '\n')
	if err := writeAll(jw.w, recordBytes); err != nil {
		return &WriteError{Op: "write", Err: err}
	}

	return nil
}

// writeAll writes all bytes to w, handling short writes.
func writeAll(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}

// Compile-time check that JSONLWriter implements Writer.
var _ Writer = (*JSONLWriter)(nil)
