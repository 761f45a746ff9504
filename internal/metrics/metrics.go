package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	JobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engage_jobs_total",
			Help: "Queue job outcomes by result and channel kind",
		},
		[]string{"result", "kind"}, // sent|failed|retried|released , whatsapp|instagram|facebook|email
	)

	CampaignsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engage_campaigns_total",
			Help: "Campaign lifecycle transitions by target status",
		},
		[]string{"status"},
	)

	ActiveLoops = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "engage_dispatch_active_loops",
			Help: "Worker loops currently running",
		},
	)
)

func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		JobsTotal,
		CampaignsTotal,
		ActiveLoops,
	)
}
