package output

import (
	"context"
	"io"
	"sync"

	"gopkg.in/yaml.v3"
)

// yamlDocument is the single document a YAMLWriter emits.
type yamlDocument struct {
	RunID    string           `yaml:"run_id"`
	Bucket   string           `yaml:"bucket"`
	Keys     []*KeyRecord     `yaml:"keys,omitempty"`
	Objects  []*ObjectRecord  `yaml:"objects,omitempty"`
	Prefixes []string         `yaml:"prefixes,omitempty"`
	Warnings []*WarningRecord `yaml:"warnings,omitempty"`
	Errors   []*ErrorRecord   `yaml:"errors,omitempty"`
	Summary  *SummaryRecord   `yaml:"summary,omitempty"`
}

// YAMLWriter collects all records and writes them as one YAML document
// on Close.
type YAMLWriter struct {
	mu     sync.Mutex
	w      io.Writer
	doc    yamlDocument
	closed bool
}

// NewYAMLWriter creates a YAML renderer on w.
func NewYAMLWriter(w io.Writer, runID, bucket string) *YAMLWriter {
	return &YAMLWriter{w: w, doc: yamlDocument{RunID: runID, Bucket: bucket}}
}

func (y *YAMLWriter) add(ctx context.Context, fn func(*yamlDocument)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	y.mu.Lock()
	defer y.mu.Unlock()
	if y.closed {
		return ErrWriterClosed
	}
	fn(&y.doc)
	return nil
}

// WriteKey records a key history.
func (y *YAMLWriter) WriteKey(ctx context.Context, key *KeyRecord) error {
	return y.add(ctx, func(d *yamlDocument) { d.Keys = append(d.Keys, key) })
}

// WriteObject records an object.
func (y *YAMLWriter) WriteObject(ctx context.Context, obj *ObjectRecord) error {
	return y.add(ctx, func(d *yamlDocument) { d.Objects = append(d.Objects, obj) })
}

// WritePrefix records a common prefix.
func (y *YAMLWriter) WritePrefix(ctx context.Context, prefix *PrefixRecord) error {
	return y.add(ctx, func(d *yamlDocument) { d.Prefixes = append(d.Prefixes, prefix.Prefix) })
}

// WriteWarning records a warning.
func (y *YAMLWriter) WriteWarning(ctx context.Context, warning *WarningRecord) error {
	return y.add(ctx, func(d *yamlDocument) { d.Warnings = append(d.Warnings, warning) })
}

// WriteError records an error.
func (y *YAMLWriter) WriteError(ctx context.Context, err *ErrorRecord) error {
	return y.add(ctx, func(d *yamlDocument) { d.Errors = append(d.Errors, err) })
}

// WriteSummary records the summary.
func (y *YAMLWriter) WriteSummary(ctx context.Context, sum *SummaryRecord) error {
	return y.add(ctx, func(d *yamlDocument) { d.Summary = sum })
}

// Close encodes the document.
func (y *YAMLWriter) Close() error {
	y.mu.Lock()
	defer y.mu.Unlock()
	if y.closed {
		return nil
	}
	y.closed = true

	enc := yaml.NewEncoder(y.w)
	enc.SetIndent(2)
	if err := enc.Encode(&y.doc); err != nil {
		return &WriteError{Op: "marshal_document", Err: err}
	}
	if err := enc.Close(); err != nil {
		return &WriteError{Op: "write", Err: err}
	}
	return nil
}

var _ Writer = (*YAMLWriter)(nil)
