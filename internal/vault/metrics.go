package vault

import "github.com/prometheus/client_golang/prometheus"

var mutations = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "envvault_entity_mutations_total",
	Help: "Committed engine mutations by entity kind and operation.",
}, []string{"kind", "operation"})

func init() {
	prometheus.MustRegister(mutations)
}
