package errs

import jsoniter "github.com/json-iterator/go"

// Batch accumulates Reports for one pass. Add panics with the Report
// itself as soon as an Internal one arrives, since spec.md §7 treats
// internal errors as fatal and immediate rather than recoverable within
// the pass; every other kind is collected so the pass can keep running
// and report as much as it can in one shot.
type Batch struct {
	reports []*Report
}

// Add records r, aborting the pass immediately if r is Internal.
func (b *Batch) Add(r *Report) {
	if r.Kind == Internal {
		panic(r)
	}
	b.reports = append(b.reports, r)
}

// HasErrors reports whether any Report has been collected.
func (b *Batch) HasErrors() bool { return len(b.reports) > 0 }

// Reports returns every collected Report, in the order Add received
// them.
func (b *Batch) Reports() []*Report { return b.reports }

// JSON renders every collected Report as a JSON array via jsoniter.
func (b *Batch) JSON() ([]byte, error) {
	return jsoniter.Marshal(b.reports)
}

// Recover turns a panicked *Report (raised by Add on an Internal kind)
// back into a returned error, for a pass's outermost entry point to call
// via defer. Any other panic value, including the string an xdebug
// assertion panics with, is re-raised unchanged.
func Recover(dst **Report) {
	v := recover()
	if v == nil {
		return
	}
	r, ok := v.(*Report)
	if !ok {
		panic(v)
	}
	*dst = r
}
