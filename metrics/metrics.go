// Package metrics instruments the scanner with Prometheus collectors and keeps
// a small in-process snapshot for the status line.
package metrics

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"scanqr/device"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Scan loop metrics
	Iterations     prometheus.Counter
	CaptureErrors  prometheus.Counter
	DecodeErrors   prometheus.Counter
	DecodeDuration *prometheus.HistogramVec

	// Lifecycle metrics
	Transitions        *prometheus.CounterVec
	TransitionDuration *prometheus.HistogramVec
	CameraErrors       *prometheus.CounterVec
	CameraActiveGauge  prometheus.Gauge

	// Results
	ResultsTotal prometheus.Counter

	snapshot Snapshot
	mu       sync.RWMutex
}

// Snapshot holds current values for the status line.
type Snapshot struct {
	Iterations   int64
	Results      int64
	CameraActive bool
	LastDecode   time.Duration
	Started      time.Time
}

// New registers the collectors with reg. A nil reg uses a fresh registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		Iterations: f.NewCounter(prometheus.CounterOpts{
			Name: "scanqr_scan_iterations_total",
			Help: "Total number of scan loop iterations",
		}),
		CaptureErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "scanqr_capture_errors_total",
			Help: "Frames dropped because capture or crop failed",
		}),
		DecodeErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "scanqr_decode_errors_total",
			Help: "Frames dropped because the decoder failed",
		}),
		DecodeDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scanqr_decode_duration_seconds",
			Help:    "Decoder call duration in seconds",
			Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"found"}),
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "scanqr_camera_transitions_total",
			Help: "Camera start and teardown transitions",
		}, []string{"kind", "status"}),
		TransitionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scanqr_camera_transition_duration_seconds",
			Help:    "Camera transition duration in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"kind"}),
		CameraErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "scanqr_camera_errors_total",
			Help: "Camera activation failures by kind",
		}, []string{"error_type"}),
		CameraActiveGauge: f.NewGauge(prometheus.GaugeOpts{
			Name: "scanqr_camera_active",
			Help: "1 while the camera preview and scan loop are running",
		}),
		ResultsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "scanqr_results_total",
			Help: "Decoded results delivered",
		}),
		snapshot: Snapshot{Started: time.Now()},
	}
}

func (m *Metrics) Iteration() {
	m.Iterations.Inc()
	m.mu.Lock()
	m.snapshot.Iterations++
	m.mu.Unlock()
}

func (m *Metrics) CaptureFailed() { m.CaptureErrors.Inc() }

func (m *Metrics) DecodeFailed() { m.DecodeErrors.Inc() }

func (m *Metrics) Decoded(d time.Duration, found bool) {
	label := "false"
	if found {
		label = "true"
	}
	m.DecodeDuration.WithLabelValues(label).Observe(d.Seconds())
	m.mu.Lock()
	m.snapshot.LastDecode = d
	m.mu.Unlock()
}

// Transition records a finished lifecycle transition.
func (m *Metrics) Transition(kind string, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.Transitions.WithLabelValues(kind, status).Inc()
	m.TransitionDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func (m *Metrics) CameraActive(active bool) {
	if active {
		m.CameraActiveGauge.Set(1)
	} else {
		m.CameraActiveGauge.Set(0)
	}
	m.mu.Lock()
	m.snapshot.CameraActive = active
	m.mu.Unlock()
}

func (m *Metrics) CameraError(err error) {
	m.CameraErrors.WithLabelValues(ErrorType(err)).Inc()
}

func (m *Metrics) ResultDelivered() {
	m.ResultsTotal.Inc()
	m.mu.Lock()
	m.snapshot.Results++
	m.mu.Unlock()
}

// Snapshot returns a copy of the current values.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

// ErrorType labels a camera error for the error_type dimension.
func ErrorType(err error) string {
	switch {
	case errors.Is(err, device.ErrNoCameraAvailable):
		return "no_camera"
	case errors.Is(err, device.ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, device.ErrTimeout):
		return "timeout"
	case errors.Is(err, device.ErrDeviceInit):
		return "device_init"
	case errors.Is(err, device.ErrPreview):
		return "preview"
	default:
		return "other"
	}
}
