package bus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tonewire_bus_requests_total",
		Help: "RPC requests dispatched, by method.",
	}, []string{"method"})

	requestErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tonewire_bus_request_errors_total",
		Help: "RPC requests that produced an error reply, by method.",
	}, []string{"method"})

	eventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tonewire_bus_events_published_total",
		Help: "Events published, by topic.",
	}, []string{"topic"})

	subscribersDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tonewire_bus_subscribers_dropped_total",
		Help: "Subscriber connections dropped after a failed delivery.",
	})
)
