package maintenance

import "github.com/prometheus/client_golang/prometheus"

var (
	sweepRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_sweep_runs_total",
			Help: "Total number of conversation sweep runs by status.",
		},
		[]string{"status"},
	)
	chatsSweptTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_chats_swept_total",
			Help: "Total number of chats deleted by sweeps, by kind.",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(
		sweepRunsTotal,
		chatsSweptTotal,
	)
}
