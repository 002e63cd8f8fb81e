package ingest

import (
	"fmt"
	"strings"
)

// UnitResult records the outcome of one source unit.
type UnitResult struct {
	Origin string
	Chunks int
	Err    error
}

// Report aggregates per-unit outcomes for one ingestion run. Partial
// failures leave the context usable; only a run where nothing was ingested
// marks it failed.
type Report struct {
	Units []UnitResult
}

func (r *Report) add(origin string, chunks int, err error) {
	r.Units = append(r.Units, UnitResult{Origin: origin, Chunks: chunks, Err: err})
}

// Succeeded counts units that produced at least one chunk without error.
func (r *Report) Succeeded() int {
	n := 0
	for _, u := range r.Units {
		if u.Err == nil && u.Chunks > 0 {
			n++
		}
	}
	return n
}

// Failed reports whether the run as a whole failed: the source yielded no
// units at all, or every unit errored. A unit that extracts cleanly but
// produces no chunks (a blank file, say) does not fail the run.
func (r *Report) Failed() bool {
	if len(r.Units) == 0 {
		return true
	}
	for _, u := range r.Units {
		if u.Err == nil {
			return false
		}
	}
	return true
}

// TotalChunks sums chunks over all successful units.
func (r *Report) TotalChunks() int {
	n := 0
	for _, u := range r.Units {
		if u.Err == nil {
			n += u.Chunks
		}
	}
	return n
}

// ErrorSummary renders the failed units as one line for the status record.
func (r *Report) ErrorSummary() string {
	var parts []string
	for _, u := range r.Units {
		if u.Err != nil {
			parts = append(parts, fmt.Sprintf("%s: %v", u.Origin, u.Err))
		}
	}
	return strings.Join(parts, "; ")
}
