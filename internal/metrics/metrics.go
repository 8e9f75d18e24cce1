// Package metrics exposes Prometheus instrumentation for the TensorMesh
// transports and collective primitives. Metrics are registered on the
// default registry; embedders that serve /metrics get them for free.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesSent counts point-to-point messages sent, per transport kind.
	MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tensormesh",
		Subsystem: "transport",
		Name:      "messages_sent_total",
		Help:      "Point-to-point messages sent.",
	}, []string{"transport"})

	// MessagesReceived counts point-to-point messages received.
	MessagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tensormesh",
		Subsystem: "transport",
		Name:      "messages_received_total",
		Help:      "Point-to-point messages received.",
	}, []string{"transport"})

	// BytesSent counts payload bytes sent.
	BytesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tensormesh",
		Subsystem: "transport",
		Name:      "bytes_sent_total",
		Help:      "Point-to-point payload bytes sent.",
	}, []string{"transport"})

	// CollectiveCalls counts forward/adjoint invocations per primitive.
	CollectiveCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tensormesh",
		Subsystem: "collective",
		Name:      "calls_total",
		Help:      "Collective primitive invocations.",
	}, []string{"primitive", "direction"})
)
