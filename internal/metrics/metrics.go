package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	LogsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "relearn_logs_ingested_total", Help: "Logs classificados"},
		[]string{"source", "label"},
	)
	DetectionDistance = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relearn_detection_distance",
			Help:    "Distancia ao centroide mais proximo",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		},
	)
	BufferTracked = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "relearn_buffer_tracked_signatures", Help: "Assinaturas no buffer de padroes"},
	)
	Retrains = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "relearn_retrain_total", Help: "Disparos de retreino"},
		[]string{"outcome"},
	)
	ModelFits = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "relearn_model_fits_total", Help: "Modelos treinados"},
	)
	Actions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "relearn_actions_total", Help: "Acoes remediadoras"},
		[]string{"provider", "outcome"},
	)
	ActionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relearn_action_duration_seconds",
			Help:    "Latencia das chamadas ao provider",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)
)

func MustRegister() {
	prometheus.MustRegister(LogsIngested, DetectionDistance, BufferTracked, Retrains, ModelFits, Actions, ActionDuration)
}

func Handler() http.Handler { return promhttp.Handler() }
