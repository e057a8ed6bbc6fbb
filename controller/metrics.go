package controller

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts engine activity. Pass a nil registerer for unregistered
// (test) collectors.
type Metrics struct {
	Broadcasts    prometheus.Counter
	Accepted      prometheus.Counter
	DuplicateAddr prometheus.Counter
	Frames        *prometheus.CounterVec // labels: dir, type
	Messages      *prometheus.CounterVec // label: event
	Results       *prometheus.CounterVec // label: code
}

// NewMetrics builds the collector set.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Broadcasts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "qcxctl", Name: "discovery_broadcasts_total",
			Help: "Discovery datagrams broadcast.",
		}),
		Accepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "qcxctl", Name: "connections_accepted_total",
			Help: "TCP connections accepted from devices.",
		}),
		DuplicateAddr: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "qcxctl", Name: "connections_duplicate_total",
			Help: "Connections dropped because the remote IP already has one.",
		}),
		Frames: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qcxctl", Name: "frames_total",
			Help: "Protocol frames by direction and type.",
		}, []string{"dir", "type"}),
		Messages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qcxctl", Name: "messages_total",
			Help: "Queued messages by lifecycle event.",
		}, []string{"event"}),
		Results: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qcxctl", Name: "connection_results_total",
			Help: "Connection handler terminal results.",
		}, []string{"code"}),
	}
}
