package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/argus-wallet/argus/pkg/pusher/events"
)

var eventsQuantity = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "argus_stream_events_total",
	},
	[]string{
		"type",
		"event",
	},
)

func SseEventSent(event events.Name) {
	eventsQuantity.With(map[string]string{"type": "sse", "event": event.String()}).Inc()
}
