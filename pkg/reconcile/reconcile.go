// Package reconcile folds a raw version listing into per-key histories.
//
// Records are grouped by key in first-seen order. Each history is ordered
// most recent first by last modified; within one timestamp the latest-marked
// record leads and the rest keep the store's order. A history is classified
// by its first version. Anomalies in the stream (a store that breaks
// its own ordering contract, or a bucket mutated mid-listing) are reported
// as warnings on the result and never abort reconciliation.
package reconcile

import (
	"fmt"
	"iter"
	"sort"
	"time"

	"github.com/3leaps/verscan/pkg/provider"
)

// State classifies a key by its most recent version.
type State int

const (
	// StateAbsent means the key was asked for but no record exists.
	StateAbsent State = iota
	// StateLive means the most recent version is an object.
	StateLive
	// StateDeleted means the most recent version is a delete marker.
	StateDeleted
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateLive:
		return "live"
	case StateDeleted:
		return "deleted"
	default:
		return "absent"
	}
}

// ParseState parses a state name as produced by String.
func ParseState(s string) (State, error) {
	switch s {
	case "live":
		return StateLive, nil
	case "deleted":
		return StateDeleted, nil
	case "absent":
		return StateAbsent, nil
	}
	return StateAbsent, fmt.Errorf("unknown state %q", s)
}

// KeyHistory is the reconciled version history of one key.
type KeyHistory struct {
	Key string

	// Versions holds objects and delete markers, most recent first.
	Versions []provider.Record

	State State
}

// Latest returns the most recent version.
func (h KeyHistory) Latest() (provider.Record, bool) {
	if len(h.Versions) == 0 {
		return provider.Record{}, false
	}
	return h.Versions[0], true
}

// WarningKind identifies an ordering anomaly.
type WarningKind int

const (
	// OutOfOrder: a record is newer than one already seen for the key.
	OutOfOrder WarningKind = iota + 1
	// Duplicate: the same (key, version id) was seen more than once.
	Duplicate
	// MultipleLatest: more than one record for the key is marked latest.
	MultipleLatest
	// LatestNotFirst: the latest-marked record arrived after older records.
	LatestNotFirst
	// Split: the key reappeared after records for other keys.
	Split
	// LatestNotHead: the most recent record by timestamp is not the one the
	// store marked latest, so the reported state may disagree with the store.
	LatestNotHead
)

// String returns the warning kind name.
func (k WarningKind) String() string {
	switch k {
	case OutOfOrder:
		return "out_of_order"
	case Duplicate:
		return "duplicate"
	case MultipleLatest:
		return "multiple_latest"
	case LatestNotFirst:
		return "latest_not_first"
	case Split:
		return "split"
	case LatestNotHead:
		return "latest_not_head"
	default:
		return "unknown"
	}
}

// Warning is an ordering violation detected while folding the stream.
type Warning struct {
	Kind      WarningKind
	Key       string
	VersionID string

	// Position is the zero-based index of the offending record in the stream.
	Position int
}

// String renders the warning for humans.
func (w Warning) String() string {
	return fmt.Sprintf("%s: key %q version %q at record %d", w.Kind, w.Key, w.VersionID, w.Position)
}

// Options configures reconciliation.
type Options struct {
	// Expect lists keys the caller asked for. Keys without records are
	// reported with StateAbsent.
	Expect []string
}

type entry struct {
	rec provider.Record
	pos int
}

type group struct {
	versions []entry
	seen     map[string]struct{}
	oldest   time.Time
	latest   bool
}

// Reconciler folds records incrementally.
//
// A Reconciler is not safe for concurrent use.
type Reconciler struct {
	opts     Options
	order    []string
	groups   map[string]*group
	prefixes map[string]struct{}
	warnings []Warning
	last     string
	pos      int
}

// New creates a Reconciler.
func New(opts Options) *Reconciler {
	return &Reconciler{
		opts:     opts,
		groups:   make(map[string]*group),
		prefixes: make(map[string]struct{}),
	}
}

// Add folds one record into the state.
func (r *Reconciler) Add(rec provider.Record) {
	defer func() { r.pos++ }()

	switch rec.Kind {
	case provider.KindCommonPrefix:
		r.prefixes[rec.Prefix] = struct{}{}
	case provider.KindObject, provider.KindDeleteMarker:
		r.addVersion(rec)
	}
}

func (r *Reconciler) addVersion(rec provider.Record) {
	g, ok := r.groups[rec.Key]
	if !ok {
		g = &group{seen: make(map[string]struct{})}
		r.groups[rec.Key] = g
		r.order = append(r.order, rec.Key)
	} else {
		if r.last != rec.Key {
			r.warn(Split, rec)
		}
		if _, dup := g.seen[rec.VersionID]; dup {
			r.warn(Duplicate, rec)
		} else if rec.LastModified.After(g.oldest) {
			r.warn(OutOfOrder, rec)
		}
	}
	r.last = rec.Key

	if rec.IsLatest {
		switch {
		case g.latest:
			r.warn(MultipleLatest, rec)
		case len(g.versions) > 0:
			r.warn(LatestNotFirst, rec)
		}
		g.latest = true
	}

	if len(g.versions) == 0 || rec.LastModified.Before(g.oldest) {
		g.oldest = rec.LastModified
	}
	g.seen[rec.VersionID] = struct{}{}
	g.versions = append(g.versions, entry{rec: rec, pos: r.pos})
}

func (r *Reconciler) warn(kind WarningKind, rec provider.Record) {
	r.warnings = append(r.warnings, Warning{
		Kind:      kind,
		Key:       rec.Key,
		VersionID: rec.VersionID,
		Position:  r.pos,
	})
}

// Result builds the reconciled result from the records added so far.
// The Reconciler may keep accepting records afterwards.
func (r *Reconciler) Result() *Result {
	res := &Result{
		index:    make(map[string]int, len(r.order)),
		Warnings: append([]Warning(nil), r.warnings...),
	}

	for _, key := range r.order {
		entries := append([]entry(nil), r.groups[key].versions...)
		sortEntries(entries)
		if r.groups[key].latest && !entries[0].rec.IsLatest {
			head := entries[0]
			res.Warnings = append(res.Warnings, Warning{
				Kind:      LatestNotHead,
				Key:       key,
				VersionID: head.rec.VersionID,
				Position:  head.pos,
			})
		}
		versions := make([]provider.Record, len(entries))
		for i, e := range entries {
			versions[i] = e.rec
		}
		res.add(KeyHistory{Key: key, Versions: versions, State: stateOf(versions)})
	}
	for _, key := range r.opts.Expect {
		if _, ok := res.index[key]; !ok {
			res.add(KeyHistory{Key: key, State: StateAbsent})
		}
	}

	res.Prefixes = make([]string, 0, len(r.prefixes))
	for p := range r.prefixes {
		res.Prefixes = append(res.Prefixes, p)
	}
	sort.Strings(res.Prefixes)
	return res
}

// sortEntries orders most recent first. Within one timestamp the
// latest-marked record comes first and the others keep stream order.
func sortEntries(entries []entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i].rec, entries[j].rec
		if !a.LastModified.Equal(b.LastModified) {
			return a.LastModified.After(b.LastModified)
		}
		return a.IsLatest && !b.IsLatest
	})
}

func stateOf(versions []provider.Record) State {
	if len(versions) == 0 {
		return StateAbsent
	}
	if versions[0].Kind == provider.KindDeleteMarker {
		return StateDeleted
	}
	return StateLive
}

// Reconcile folds a complete record sequence.
func Reconcile(records iter.Seq[provider.Record], opts Options) *Result {
	r := New(opts)
	for rec := range records {
		r.Add(rec)
	}
	return r.Result()
}

// ReconcileListing folds a listing that may end in an error, such as the
// sequence produced by a pager.Driver. The records seen before the error
// are reconciled and returned together with it.
func ReconcileListing(records iter.Seq2[provider.Record, error], opts Options) (*Result, error) {
	r := New(opts)
	for rec, err := range records {
		if err != nil {
			return r.Result(), err
		}
		r.Add(rec)
	}
	return r.Result(), nil
}
