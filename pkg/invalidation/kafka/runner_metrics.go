package kafka

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metricSet struct {
	msgs    *prometheus.CounterVec
	dropped prometheus.Counter
	skipped prometheus.Counter
	apply   prometheus.Histogram
}

func newMetricSet(r prometheus.Registerer) *metricSet {
	m := &metricSet{
		msgs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "changefeed_messages_total",
				Help: "Change-feed messages consumed, by result.",
			},
			[]string{"result"},
		),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "changefeed_invalidated_keys_total",
			Help: "Query cache keys dropped by change-feed events.",
		}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "changefeed_duplicate_events_total",
			Help: "Events ignored because their sequence was already applied.",
		}),
		apply: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "changefeed_apply_seconds",
			Help:    "Time to apply one change-feed event.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}),
	}
	if r != nil {
		r.MustRegister(m.msgs, m.dropped, m.skipped, m.apply)
	}
	return m
}
