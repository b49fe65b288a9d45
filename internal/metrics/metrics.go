// Package metrics is a tiny instrumentation facade for the warehouse loader.
//
// The loader records counters and histograms through package-level helpers;
// the process wires a concrete Backend (or none) at startup. The default
// backend discards everything, so library code can instrument
// unconditionally without configuration.
package metrics

// Labels are free-form metric dimensions (e.g. {"stage": "facts"}).
type Labels map[string]string

// Backend receives metric observations. Implementations must be safe for
// concurrent use; Flush and Close may both submit buffered data.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
	Close() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }
func (nopBackend) Close() error                             { return nil }

var backend Backend = nopBackend{}

// SetBackend installs the process-wide backend. Call once at startup before
// any load runs; nil restores the discarding default.
func SetBackend(b Backend) {
	if b == nil {
		backend = nopBackend{}
		return
	}
	backend = b
}

func IncCounter(name string, delta float64, labels Labels) {
	backend.IncCounter(name, delta, labels)
}

func ObserveHistogram(name string, value float64, labels Labels) {
	backend.ObserveHistogram(name, value, labels)
}

func Flush() error { return backend.Flush() }

func Close() error { return backend.Close() }
