package metrics

import "testing"

type captureBackend struct {
	counters   int
	histograms int
	flushed    int
}

func (c *captureBackend) IncCounter(string, float64, Labels)       { c.counters++ }
func (c *captureBackend) ObserveHistogram(string, float64, Labels) { c.histograms++ }
func (c *captureBackend) Flush() error                             { c.flushed++; return nil }
func (c *captureBackend) Close() error                             { return nil }

// The default backend discards silently; instrumented code must not need a
// configured backend to run.
func TestNopDefault(t *testing.T) {
	SetBackend(nil)

	IncCounter("x", 1, nil)
	ObserveHistogram("y", 0.5, Labels{"a": "b"})
	if err := Flush(); err != nil {
		t.Errorf("nop Flush: %v", err)
	}
	if err := Close(); err != nil {
		t.Errorf("nop Close: %v", err)
	}
}

func TestSetBackendRouting(t *testing.T) {
	c := &captureBackend{}
	SetBackend(c)
	defer SetBackend(nil)

	IncCounter("x", 1, nil)
	IncCounter("x", 1, nil)
	ObserveHistogram("y", 2, nil)
	_ = Flush()

	if c.counters != 2 || c.histograms != 1 || c.flushed != 1 {
		t.Errorf("capture = %+v", *c)
	}
}
