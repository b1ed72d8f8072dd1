package ledger

import "github.com/prometheus/client_golang/prometheus"

var (
	revisionsAppended = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "envvault_revisions_appended_total",
		Help: "Revisions written to the ledger.",
	})
	appendConflicts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "envvault_revision_append_conflicts_total",
		Help: "Appends that lost a version race and were retried or failed.",
	})
)

func init() {
	prometheus.MustRegister(revisionsAppended, appendConflicts)
}
