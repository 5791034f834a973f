package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var openConnections = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "argus_stream_open_connections",
	},
	[]string{
		"type",
	},
)

func OpenSseConnection() {
	openConnections.With(map[string]string{"type": "sse"}).Inc()
}

func CloseSseConnection() {
	openConnections.With(map[string]string{"type": "sse"}).Dec()
}
