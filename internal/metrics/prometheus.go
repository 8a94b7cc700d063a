package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the ASR service
type Metrics struct {
	// Transcription metrics
	Transcriptions        *prometheus.CounterVec
	TranscriptionDuration prometheus.Histogram
	InferenceDuration     prometheus.Histogram
	DecodeDuration        prometheus.Histogram
	AudioDuration         prometheus.Histogram
	UploadSize            prometheus.Histogram

	// Model metrics
	ModelReady prometheus.Gauge

	// Cache metrics
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter
	CacheErrors prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Transcription metrics
		Transcriptions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "asr_transcriptions_total",
			Help: "Total number of transcription requests by outcome",
		}, []string{"outcome"}),
		TranscriptionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "asr_transcription_duration_seconds",
			Help:    "End-to-end time spent on a transcription request",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		}),
		InferenceDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "asr_inference_duration_seconds",
			Help:    "Time spent in the acoustic model",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		}),
		DecodeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "asr_decode_duration_seconds",
			Help:    "Time spent decoding and resampling uploads",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		}),
		AudioDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "asr_audio_duration_seconds",
			Help:    "Playback duration of transcribed audio",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~4 minutes
		}),
		UploadSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "asr_upload_size_bytes",
			Help:    "Size of uploaded audio files in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10), // 1KB to ~256MB
		}),

		// Model metrics
		ModelReady: factory.NewGauge(prometheus.GaugeOpts{
			Name: "asr_model_ready",
			Help: "1 when the acoustic model is loaded, 0 otherwise",
		}),

		// Cache metrics
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "asr_cache_hits_total",
			Help: "Total number of transcript cache hits",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "asr_cache_misses_total",
			Help: "Total number of transcript cache misses",
		}),
		CacheErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "asr_cache_errors_total",
			Help: "Total number of transcript cache errors",
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "asr_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "asr_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "asr_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordTranscription records a finished transcription request.
// outcome is one of success, client_error, unavailable, internal_error.
func (m *Metrics) RecordTranscription(outcome string, durationSeconds float64) {
	m.Transcriptions.WithLabelValues(outcome).Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordInference records time spent in the acoustic model
func (m *Metrics) RecordInference(durationSeconds float64) {
	m.InferenceDuration.Observe(durationSeconds)
}

// RecordDecode records time spent decoding an upload
func (m *Metrics) RecordDecode(durationSeconds float64) {
	m.DecodeDuration.Observe(durationSeconds)
}

// RecordAudio records the duration and size of an accepted upload
func (m *Metrics) RecordAudio(durationSeconds float64, sizeBytes int) {
	m.AudioDuration.Observe(durationSeconds)
	m.UploadSize.Observe(float64(sizeBytes))
}

// SetModelReady sets the model readiness gauge
func (m *Metrics) SetModelReady(ready bool) {
	if ready {
		m.ModelReady.Set(1)
		return
	}
	m.ModelReady.Set(0)
}

// RecordCacheLookup records a cache hit or miss
func (m *Metrics) RecordCacheLookup(hit bool) {
	if hit {
		m.CacheHits.Inc()
		return
	}
	m.CacheMisses.Inc()
}

// RecordCacheError increments the cache error counter
func (m *Metrics) RecordCacheError() {
	m.CacheErrors.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
