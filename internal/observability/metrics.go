package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments the sidecar exposes on its
// debug surface. Never consulted by the core stdio protocol itself
// (§1/§6 name no metrics RPC); it exists purely for operators.
type Metrics struct {
	RequestsTotal        *prometheus.CounterVec
	RequestErrorsTotal   *prometheus.CounterVec
	RecordingsStarted    prometheus.Counter
	RecordingsCompleted  prometheus.Counter
	RecordingsCancelled  prometheus.Counter
	ActiveRecordings     prometheus.Gauge
	MeterClients         prometheus.Gauge
	TranscriptionLatency prometheus.Histogram
	ModelDownloadBytes   *prometheus.CounterVec
	VADAutoStops         prometheus.Counter
	stageWindow          *stageWindow
}

// NewMetrics builds a Metrics registered under namespace (typically
// "openvoicy_sidecar").
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "JSON-RPC requests handled, by method.",
		}, []string{"method"}),
		RequestErrorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "request_errors_total",
			Help:      "JSON-RPC requests that returned an error, by method and error kind.",
		}, []string{"method", "kind"}),
		RecordingsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recordings_started_total",
			Help:      "recording.start calls that began capture.",
		}),
		RecordingsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recordings_completed_total",
			Help:      "recording.stop calls that produced a transcription job.",
		}),
		RecordingsCancelled: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recordings_cancelled_total",
			Help:      "recording.cancel calls, including VAD auto-stop followed by cancel.",
		}),
		ActiveRecordings: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_recordings",
			Help:      "1 while a recording is in progress, else 0.",
		}),
		MeterClients: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "meter_active",
			Help:      "1 while the standalone audio meter is running, else 0.",
		}),
		TranscriptionLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transcription_latency_ms",
			Help:      "Wall-clock time from recording.stop to an event.transcription_complete notification.",
			Buckets:   []float64{50, 100, 200, 400, 700, 1200, 2000, 4000, 8000, 15000},
		}),
		ModelDownloadBytes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_download_bytes_total",
			Help:      "Bytes downloaded during model.download, by model_id.",
		}, []string{"model_id"}),
		VADAutoStops: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vad_auto_stops_total",
			Help:      "Recordings ended by VAD silence detection rather than an explicit recording.stop.",
		}),
		stageWindow: newStageWindow(256),
	}
}

func (m *Metrics) ObserveRequest(method string) {
	if m == nil || m.RequestsTotal == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method).Inc()
}

func (m *Metrics) ObserveRequestError(method, kind string) {
	if m == nil || m.RequestErrorsTotal == nil {
		return
	}
	m.RequestErrorsTotal.WithLabelValues(method, kind).Inc()
}

func (m *Metrics) ObserveTranscriptionLatency(d time.Duration) {
	if m == nil || m.TranscriptionLatency == nil {
		return
	}
	ms := float64(d.Milliseconds())
	m.TranscriptionLatency.Observe(ms)
	m.stageWindow.Observe("recording_stop_to_terminal", ms)
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil || m.stageWindow == nil {
		return
	}
	m.stageWindow.Observe(stage, float64(d.Milliseconds()))
}

func (m *Metrics) ObserveModelDownloadBytes(modelID string, n int64) {
	if m == nil || m.ModelDownloadBytes == nil || n <= 0 {
		return
	}
	m.ModelDownloadBytes.WithLabelValues(modelID).Add(float64(n))
}

func (m *Metrics) ObserveRecordingStarted() {
	if m == nil || m.RecordingsStarted == nil {
		return
	}
	m.RecordingsStarted.Inc()
}

func (m *Metrics) ObserveRecordingCompleted() {
	if m == nil || m.RecordingsCompleted == nil {
		return
	}
	m.RecordingsCompleted.Inc()
}

func (m *Metrics) ObserveRecordingCancelled() {
	if m == nil || m.RecordingsCancelled == nil {
		return
	}
	m.RecordingsCancelled.Inc()
}

func (m *Metrics) ObserveVADAutoStop() {
	if m == nil || m.VADAutoStops == nil {
		return
	}
	m.VADAutoStops.Inc()
}

func (m *Metrics) SetActiveRecordings(active bool) {
	if m == nil || m.ActiveRecordings == nil {
		return
	}
	if active {
		m.ActiveRecordings.Set(1)
	} else {
		m.ActiveRecordings.Set(0)
	}
}

func (m *Metrics) SetMeterActive(active bool) {
	if m == nil || m.MeterClients == nil {
		return
	}
	if active {
		m.MeterClients.Set(1)
	} else {
		m.MeterClients.Set(0)
	}
}

// SnapshotStages returns a point-in-time view of the rolling per-stage
// latency window, served by the debug surface at /debug/stages.
func (m *Metrics) SnapshotStages() StageSnapshot {
	if m == nil || m.stageWindow == nil {
		return StageSnapshot{}
	}
	return m.stageWindow.Snapshot()
}

// MetricsHandler exposes the default Prometheus registry over HTTP.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
