package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WebhooksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "botmother_webhooks_total",
		Help: "Inbound webhook requests by execution context.",
	}, []string{"context"})

	JobsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "botmother_jobs_dispatched_total",
		Help: "Background jobs dispatched by name and mode.",
	}, []string{"job", "mode"})

	SweepsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "botmother_sweeps_total",
		Help: "Maintenance sweeps actually executed.",
	})

	DumpsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "botmother_dumps_total",
		Help: "Database dumps produced.",
	})

	BotsProvisioned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "botmother_bots_provisioned_total",
		Help: "Tenant bots that completed provisioning.",
	})
)
