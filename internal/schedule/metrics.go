package schedule

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	resultSuccess = "success"
	resultError   = "error"
)

type LoopMetrics struct {
	Runs        *prometheus.CounterVec
	RunDuration *prometheus.HistogramVec
	State       *prometheus.GaugeVec
}

func NewLoopMetrics(reg prometheus.Registerer) *LoopMetrics {
	factory := promauto.With(reg)

	return &LoopMetrics{
		Runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "s3_batcher",
			Name:      "loop_runs_total",
			Help:      "Total number of loop runs by result",
		}, []string{"loop", "result"}),
		RunDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "s3_batcher",
			Name:      "loop_run_duration_seconds",
			Help:      "Duration of a single loop run in seconds",
		}, []string{"loop"}),
		State: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "s3_batcher",
			Name:      "loop_state",
			Help:      "Current loop state (0=idle, 1=running, 2=waiting, 3=cancelled, 4=stopped)",
		}, []string{"loop"}),
	}
}
