package datadog

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"

	"shopdw/internal/metrics"
)

// fakeSubmitter records submitted payloads instead of doing HTTP.
type fakeSubmitter struct {
	mu       sync.Mutex
	payloads []datadogV2.MetricPayload
}

func (f *fakeSubmitter) SubmitMetrics(_ context.Context, body datadogV2.MetricPayload, _ ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, body)
	return datadogV2.IntakePayloadAccepted{}, nil, nil
}

func (f *fakeSubmitter) submitted() []datadogV2.MetricPayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]datadogV2.MetricPayload(nil), f.payloads...)
}

func newTestBackend(t *testing.T, sub *fakeSubmitter) *Backend {
	t.Helper()

	b, err := NewBackend(context.Background(), Options{
		JobName: "warehouse_load",
		Tags:    []string{"team:data"},

		now: func() time.Time { return time.Unix(1700000000, 0) },
		// A very long tick keeps the flush loop quiet; tests flush manually.
		newTicker: func(time.Duration) *time.Ticker { return time.NewTicker(time.Hour) },
		submitter: sub,
	})
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	return b
}

func seriesByMetric(p datadogV2.MetricPayload) map[string]datadogV2.MetricSeries {
	out := map[string]datadogV2.MetricSeries{}
	for _, s := range p.Series {
		out[s.Metric] = s
	}
	return out
}

// TestBackendFlushCounters verifies counter accumulation across calls, base
// tag propagation and the count intake type.
func TestBackendFlushCounters(t *testing.T) {
	t.Parallel()

	sub := &fakeSubmitter{}
	b := newTestBackend(t, sub)

	b.IncCounter("shopdw.facts.inserted", 2, nil)
	b.IncCounter("shopdw.facts.inserted", 3, nil)
	b.IncCounter("shopdw.records.rejected", 1, metrics.Labels{"reason": "bad_timestamp"})
	b.IncCounter("shopdw.records.rejected", 0, metrics.Labels{"reason": "ignored"}) // no-op delta

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	payloads := sub.submitted()
	if len(payloads) != 1 {
		t.Fatalf("payloads = %d, want 1", len(payloads))
	}
	series := payloads[0].Series
	if len(series) != 2 {
		t.Fatalf("series = %d, want 2", len(series))
	}

	byName := seriesByMetric(payloads[0])
	inserted := byName["shopdw.facts.inserted"]
	if got := *inserted.Points[0].Value; got != 5 {
		t.Errorf("inserted value = %g, want 5", got)
	}
	if *inserted.Type != datadogV2.METRICINTAKETYPE_COUNT {
		t.Errorf("inserted type = %v, want count", *inserted.Type)
	}
	if ts := *inserted.Points[0].Timestamp; ts != 1700000000 {
		t.Errorf("timestamp = %d, want injected clock", ts)
	}

	rejected := byName["shopdw.records.rejected"]
	tags := append([]string(nil), rejected.Tags...)
	sort.Strings(tags)
	want := map[string]bool{"job:warehouse_load": true, "team:data": true, "reason:bad_timestamp": true}
	for tag := range want {
		found := false
		for _, got := range tags {
			if got == tag {
				found = true
			}
		}
		if !found {
			t.Errorf("missing tag %q in %v", tag, tags)
		}
	}
}

// TestBackendFlushHistograms verifies the percentile gauge fan-out: each
// sample set becomes p50/p90/p95/p99/max/samples gauges.
func TestBackendFlushHistograms(t *testing.T) {
	t.Parallel()

	sub := &fakeSubmitter{}
	b := newTestBackend(t, sub)

	for _, v := range []float64{1, 2, 3, 4, 100} {
		b.ObserveHistogram("shopdw.stage.duration_seconds", v, metrics.Labels{"stage": "facts"})
	}
	b.ObserveHistogram("shopdw.stage.duration_seconds", -1, metrics.Labels{"stage": "facts"}) // dropped

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	byName := seriesByMetric(sub.submitted()[0])
	if len(byName) != 6 {
		t.Fatalf("series = %d, want 6 percentile gauges", len(byName))
	}
	if got := *byName["shopdw.stage.duration_seconds.max"].Points[0].Value; got != 100 {
		t.Errorf("max = %g, want 100", got)
	}
	if got := *byName["shopdw.stage.duration_seconds.samples"].Points[0].Value; got != 5 {
		t.Errorf("samples = %g, want 5", got)
	}
	if got := *byName["shopdw.stage.duration_seconds.p50"].Points[0].Value; got != 3 {
		t.Errorf("p50 = %g, want 3", got)
	}
	if typ := *byName["shopdw.stage.duration_seconds.p99"].Type; typ != datadogV2.METRICINTAKETYPE_GAUGE {
		t.Errorf("p99 type = %v, want gauge", typ)
	}
}

// Flush with nothing buffered must not submit an empty payload.
func TestBackendFlushEmpty(t *testing.T) {
	t.Parallel()

	sub := &fakeSubmitter{}
	b := newTestBackend(t, sub)

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if n := len(sub.submitted()); n != 0 {
		t.Errorf("payloads = %d, want 0", n)
	}
}

// TestBackendFlushResetsBuffers verifies a second flush after the first
// submits nothing: buffers are windows, not lifetime totals.
func TestBackendFlushResetsBuffers(t *testing.T) {
	t.Parallel()

	sub := &fakeSubmitter{}
	b := newTestBackend(t, sub)

	b.IncCounter("shopdw.records.processed", 7, nil)
	if err := b.Flush(); err != nil {
		t.Fatalf("first Flush: %v", err)
	}
	if err := b.Flush(); err != nil {
		t.Fatalf("second Flush: %v", err)
	}
	if n := len(sub.submitted()); n != 1 {
		t.Errorf("payloads = %d, want 1", n)
	}
}

// Close stops the loop and ships whatever is still buffered.
func TestBackendCloseFinalFlush(t *testing.T) {
	t.Parallel()

	sub := &fakeSubmitter{}
	b := newTestBackend(t, sub)

	b.IncCounter("shopdw.run.count", 1, nil)
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if n := len(sub.submitted()); n != 1 {
		t.Errorf("payloads after Close = %d, want 1", n)
	}
}

func TestParseTagsCSV(t *testing.T) {
	t.Parallel()

	got := ParseTagsCSV(" env:prod , team:data,,x ")
	want := []string{"env:prod", "team:data", "x"}
	if len(got) != len(want) {
		t.Fatalf("ParseTagsCSV = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("tag[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
