package rates

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	errorsCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "argus_rates_refresh_errors_total",
	})
	lastRefresh = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "argus_rates_last_refresh_timestamp_seconds",
	})
)
