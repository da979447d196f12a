// Package progress turns per-phase frame counters into one monotonic
// percentage for the caller.
package progress

import "sync"

// Func receives a percentage in [0,100] and an optional label.
type Func func(percent int, label string)

// Phase reports done/total items of one pipeline phase.
type Phase func(done, total int, label string)

// Reporter is safe for concurrent use. Percentages never go backwards.
type Reporter struct {
	mu   sync.Mutex
	fn   Func
	last int
}

// New wraps fn; a nil fn makes every report a no-op.
func New(fn Func) *Reporter {
	return &Reporter{fn: fn, last: -1}
}

func (r *Reporter) Report(percent int, label string) {
	percent = min(max(percent, 0), 100)

	r.mu.Lock()
	defer r.mu.Unlock()
	if percent < r.last {
		percent = r.last
	}
	r.last = percent
	if r.fn != nil {
		r.fn(percent, label)
	}
}

// Phase maps a phase's done/total onto [start, start+weight].
func (r *Reporter) Phase(start, weight int) Phase {
	return func(done, total int, label string) {
		p := start + weight
		if total > 0 {
			p = start + weight*min(done, total)/total
		}
		r.Report(p, label)
	}
}

// Done reports completion.
func (r *Reporter) Done() {
	r.Report(100, "")
}

// Last is the most recent percentage, or -1 before the first report.
func (r *Reporter) Last() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}
