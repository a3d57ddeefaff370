package reconcile

// Result is a reconciled listing.
type Result struct {
	histories []KeyHistory
	index     map[string]int

	// Prefixes is the sorted set of common prefixes.
	Prefixes []string

	// Warnings lists ordering violations in stream order.
	Warnings []Warning
}

func (r *Result) add(h KeyHistory) {
	r.index[h.Key] = len(r.histories)
	r.histories = append(r.histories, h)
}

// Keys returns the histories in first-seen order, followed by expected
// keys that had no records.
func (r *Result) Keys() []KeyHistory {
	return r.histories
}

// Len returns the number of histories.
func (r *Result) Len() int {
	return len(r.histories)
}

// Lookup returns the history for key. Unknown keys are reported Absent.
func (r *Result) Lookup(key string) KeyHistory {
	if i, ok := r.index[key]; ok {
		return r.histories[i]
	}
	return KeyHistory{Key: key, State: StateAbsent}
}

// Filter returns a copy holding only the histories keep accepts. Prefixes
// and warnings are carried over unchanged.
func (r *Result) Filter(keep func(KeyHistory) bool) *Result {
	out := &Result{
		index:    make(map[string]int),
		Prefixes: r.Prefixes,
		Warnings: r.Warnings,
	}
	for _, h := range r.histories {
		if keep(h) {
			out.add(h)
		}
	}
	return out
}

// Versions returns the total number of versions across all histories.
func (r *Result) Versions() int {
	n := 0
	for _, h := range r.histories {
		n += len(h.Versions)
	}
	return n
}
