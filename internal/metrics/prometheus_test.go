package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordTranscription(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordTranscription("success", 0.4)
	m.RecordTranscription("success", 0.6)
	m.RecordTranscription("client_error", 0.01)

	if got := testutil.ToFloat64(m.Transcriptions.WithLabelValues("success")); got != 2 {
		t.Errorf("Expected 2 successes, got %f", got)
	}
	if got := testutil.ToFloat64(m.Transcriptions.WithLabelValues("client_error")); got != 1 {
		t.Errorf("Expected 1 client error, got %f", got)
	}
}

func TestModelReadyGauge(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.SetModelReady(true)
	if got := testutil.ToFloat64(m.ModelReady); got != 1 {
		t.Errorf("Expected 1, got %f", got)
	}
	m.SetModelReady(false)
	if got := testutil.ToFloat64(m.ModelReady); got != 0 {
		t.Errorf("Expected 0, got %f", got)
	}
}

func TestCacheCounters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordCacheLookup(true)
	m.RecordCacheLookup(false)
	m.RecordCacheLookup(false)
	m.RecordCacheError()

	if got := testutil.ToFloat64(m.CacheHits); got != 1 {
		t.Errorf("Expected 1 hit, got %f", got)
	}
	if got := testutil.ToFloat64(m.CacheMisses); got != 2 {
		t.Errorf("Expected 2 misses, got %f", got)
	}
	if got := testutil.ToFloat64(m.CacheErrors); got != 1 {
		t.Errorf("Expected 1 error, got %f", got)
	}
}

func TestSeparateRegistries(t *testing.T) {
	// registering twice on distinct registries must not panic
	a := NewMetrics(prometheus.NewRegistry())
	b := NewMetrics(prometheus.NewRegistry())

	a.RecordHTTPRequest("GET", "/ping", "200", 0.001)
	if got := testutil.ToFloat64(b.HTTPRequests.WithLabelValues("GET", "/ping", "200")); got != 0 {
		t.Errorf("Expected registries to be independent, got %f", got)
	}
}
