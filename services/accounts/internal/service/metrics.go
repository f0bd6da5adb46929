package service

import "github.com/prometheus/client_golang/prometheus"

var (
	addressDefaultChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accounts_address_default_changes_total",
			Help: "Times an address became a user's default, by kind.",
		},
		[]string{"kind"},
	)

	addressWriteFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accounts_address_write_failures_total",
			Help: "Address writes rejected by storage, by operation and error code.",
		},
		[]string{"operation", "code"},
	)
)

func init() {
	prometheus.MustRegister(addressDefaultChanges, addressWriteFailures)
}
