// Package observability holds process-wide watermark gauges shared by the store and the relay.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var watermarks = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "tracker",
	Name:      "last_write_timestamp_seconds",
	Help:      "Unix time of the latest committed write, by stage (persisted, published).",
}, []string{"stage"})

func init() {
	prometheus.MustRegister(watermarks)
}

// RecordActivityPersisted moves the persisted watermark to ts.
func RecordActivityPersisted(ts time.Time) { setWatermark("persisted", ts) }

// RecordEventPublished moves the published watermark to ts.
func RecordEventPublished(ts time.Time) { setWatermark("published", ts) }

func setWatermark(stage string, ts time.Time) {
	if ts.IsZero() {
		return
	}
	watermarks.WithLabelValues(stage).Set(float64(ts.Unix()))
}
