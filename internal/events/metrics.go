package events

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	publishTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "open_transcribe",
		Name:      "event_publish_total",
		Help:      "Transcription events published, by sink and status",
	}, []string{"sink", "status"})

	publishLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "open_transcribe",
		Name:      "event_publish_latency_seconds",
		Help:      "Latency of transcription event publishing",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"sink"})
)

func recordPublish(sink string, err error, seconds float64) {
	status := "success"
	if err != nil {
		status = "error"
	}
	publishTotal.WithLabelValues(sink, status).Inc()
	publishLatency.WithLabelValues(sink).Observe(seconds)
}
