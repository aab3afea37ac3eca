package metrics

import (
	"time"

	"github.com/foxseedlab/livescribe/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "livescribe"

// Prometheus implements metrics.Recorder.
type Prometheus struct {
	activeSessions     prometheus.Gauge
	sessionsStarted    *prometheus.CounterVec
	sessionsRejected   *prometheus.CounterVec
	sessionsEnded      *prometheus.CounterVec
	sessionDuration    prometheus.Histogram
	audioBytes         prometheus.Counter
	transcriptsRelayed prometheus.Counter
	publisherCancels   prometheus.Counter
	teardownTimeouts   prometheus.Counter
}

func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	f := promauto.With(reg)
	return &Prometheus{
		activeSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Current number of live transcription sessions",
		}),
		sessionsStarted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Sessions that reached the streaming state",
		}, []string{"language"}),
		sessionsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_rejected_total",
			Help:      "Sessions rejected before streaming started",
		}, []string{"reason"}),
		sessionsEnded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_ended_total",
			Help:      "Streaming sessions that finished, by last non-terminal state",
		}, []string{"state"}),
		sessionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Wall time of streaming sessions",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}),
		audioBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_received_bytes_total",
			Help:      "PCM bytes accepted from clients",
		}),
		transcriptsRelayed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_relayed_total",
			Help:      "Final transcript segments written to clients",
		}),
		publisherCancels: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publisher_cancellations_total",
			Help:      "Audio publisher cancellations",
		}),
		teardownTimeouts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "teardown_timeouts_total",
			Help:      "Provider streams force-released after the grace period",
		}),
	}
}

func (p *Prometheus) SessionStarted(languageCode string) {
	p.activeSessions.Inc()
	p.sessionsStarted.WithLabelValues(languageCode).Inc()
}

func (p *Prometheus) SessionRejected(reason string) {
	p.sessionsRejected.WithLabelValues(reason).Inc()
}

func (p *Prometheus) SessionEnded(finalState string, duration time.Duration) {
	p.activeSessions.Dec()
	p.sessionsEnded.WithLabelValues(finalState).Inc()
	p.sessionDuration.Observe(duration.Seconds())
}

func (p *Prometheus) AudioReceived(bytes int) {
	p.audioBytes.Add(float64(bytes))
}

func (p *Prometheus) TranscriptRelayed() {
	p.transcriptsRelayed.Inc()
}

func (p *Prometheus) PublisherCancelled() {
	p.publisherCancels.Inc()
}

func (p *Prometheus) TeardownTimedOut() {
	p.teardownTimeouts.Inc()
}

var _ metrics.Recorder = (*Prometheus)(nil)
