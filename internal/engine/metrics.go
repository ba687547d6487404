package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts engine outcomes. All counters are registered on the
// provided registerer so tests can use isolated registries.
type Metrics struct {
	CommitsTotal    prometheus.Counter
	ConflictsTotal  *prometheus.CounterVec
	NoOpsTotal      *prometheus.CounterVec
	RejectionsTotal *prometheus.CounterVec
	ReplaysTotal    prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		CommitsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "dendrite_commits_total",
			Help: "Commits appended to the chain.",
		}),
		ConflictsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dendrite_conflicts_total",
			Help: "Conflicts detected, by kind.",
		}, []string{"kind"}),
		NoOpsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dendrite_noops_total",
			Help: "Accepted diffs that changed nothing, by reason.",
		}, []string{"reason"}),
		RejectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dendrite_rejections_total",
			Help: "Diffs refused before mutation, by code.",
		}, []string{"code"}),
		ReplaysTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "dendrite_replays_total",
			Help: "Submissions answered from the idempotency record.",
		}),
	}
}
