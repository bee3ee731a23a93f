package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the allocation core. All
// recording methods are nil-safe so services can run without metrics wired.
type Metrics struct {
	MatchesCreated      prometheus.Counter
	MatchesConfirmed    prometheus.Counter
	MatchesRejected     prometheus.Counter
	ConfirmConflicts    prometheus.Counter
	TransportsAdvanced  prometheus.Counter
	ProceduresCompleted prometheus.Counter
	OrgansExpired       prometheus.Counter
	CompatibilityScores prometheus.Histogram
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		MatchesCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "allograft_matches_created_total",
			Help: "Total number of compatibility records created",
		}),
		MatchesConfirmed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "allograft_matches_confirmed_total",
			Help: "Total number of compatibility records confirmed",
		}),
		MatchesRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "allograft_matches_rejected_total",
			Help: "Total number of compatibility records rejected",
		}),
		ConfirmConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "allograft_confirm_conflicts_total",
			Help: "Confirmations lost to another already-confirmed match on the same organ",
		}),
		TransportsAdvanced: promauto.NewCounter(prometheus.CounterOpts{
			Name: "allograft_transports_advanced_total",
			Help: "Total number of transportation status advances",
		}),
		ProceduresCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "allograft_procedures_completed_total",
			Help: "Total number of transplant procedures completed",
		}),
		OrgansExpired: promauto.NewCounter(prometheus.CounterOpts{
			Name: "allograft_organs_expired_total",
			Help: "Total number of organs marked expired",
		}),
		CompatibilityScores: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "allograft_compatibility_score",
			Help:    "Distribution of computed compatibility scores",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		}),
	}
}

func (m *Metrics) IncMatchesCreated() {
	if m != nil {
		m.MatchesCreated.Inc()
	}
}

func (m *Metrics) IncMatchesConfirmed() {
	if m != nil {
		m.MatchesConfirmed.Inc()
	}
}

func (m *Metrics) IncMatchesRejected() {
	if m != nil {
		m.MatchesRejected.Inc()
	}
}

func (m *Metrics) IncConfirmConflicts() {
	if m != nil {
		m.ConfirmConflicts.Inc()
	}
}

func (m *Metrics) IncTransportsAdvanced() {
	if m != nil {
		m.TransportsAdvanced.Inc()
	}
}

func (m *Metrics) IncProceduresCompleted() {
	if m != nil {
		m.ProceduresCompleted.Inc()
	}
}

func (m *Metrics) IncOrgansExpired() {
	if m != nil {
		m.OrgansExpired.Inc()
	}
}

func (m *Metrics) ObserveScore(score int) {
	if m != nil {
		m.CompatibilityScores.Observe(float64(score))
	}
}
