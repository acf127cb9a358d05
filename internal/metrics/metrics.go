package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// ScansTotal counts scan validations by outcome reason code.
	ScansTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "classtrack_scans_total",
		Help: "Scan validations by outcome.",
	}, []string{"outcome"})

	// SyncFailures counts failed remote mirror writes by entity.
	SyncFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "classtrack_sync_failures_total",
		Help: "Failed remote mirror writes by entity.",
	}, []string{"entity"})

	// FallbackWrites counts rows pushed to the spreadsheet fallback.
	FallbackWrites = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "classtrack_fallback_writes_total",
		Help: "Attendance rows written via the spreadsheet fallback.",
	})

	// OutboxRetries counts outbox messages replayed by the worker.
	OutboxRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "classtrack_outbox_retries_total",
		Help: "Outbox messages replayed against the remote store.",
	})
)

func init() {
	prometheus.MustRegister(ScansTotal, SyncFailures, FallbackWrites, OutboxRetries)
}
