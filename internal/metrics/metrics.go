// Package metrics exposes the gateway's Prometheus counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Gateway holds the counters incremented by the device-facing routes.
type Gateway struct {
	PunchesAccepted   prometheus.Counter
	PunchesDuplicate  prometheus.Counter
	PunchesUnresolved prometheus.Counter
	MalformedLines    prometheus.Counter
	CommandsDrained   prometheus.Counter
	CommandsAcked     prometheus.Counter
	SyncCommands      prometheus.Counter
	AuthRejections    prometheus.Counter
}

// NewGateway registers the gateway counters on the given registerer.
func NewGateway(reg prometheus.Registerer) *Gateway {
	m := &Gateway{
		PunchesAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "devicegw_punches_accepted_total",
			Help: "Punches ingested into attendance logs.",
		}),
		PunchesDuplicate: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "devicegw_punches_duplicate_total",
			Help: "Redelivered punches collapsed onto existing logs.",
		}),
		PunchesUnresolved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "devicegw_punches_unresolved_total",
			Help: "Punches for device users not enrolled through this gateway.",
		}),
		MalformedLines: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "devicegw_malformed_lines_total",
			Help: "Punch lines skipped as undecodable.",
		}),
		CommandsDrained: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "devicegw_commands_drained_total",
			Help: "Commands delivered to terminals on poll.",
		}),
		CommandsAcked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "devicegw_commands_acked_total",
			Help: "Command acknowledgements received from terminals.",
		}),
		SyncCommands: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "devicegw_sync_commands_total",
			Help: "Corrective commands queued by sync operations.",
		}),
		AuthRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "devicegw_auth_rejections_total",
			Help: "Requests rejected for unknown or inactive serial numbers.",
		}),
	}
	reg.MustRegister(
		m.PunchesAccepted, m.PunchesDuplicate, m.PunchesUnresolved, m.MalformedLines,
		m.CommandsDrained, m.CommandsAcked, m.SyncCommands, m.AuthRejections,
	)
	return m
}
