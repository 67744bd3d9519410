package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SoQLRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crimedash_soql_requests_total",
			Help: "Total SoQL requests sent to dataset endpoints",
		},
		[]string{"dataset", "kind", "status"},
	)

	SoQLLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crimedash_soql_latency_seconds",
			Help:    "SoQL request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"dataset", "kind"},
	)

	BoundaryCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crimedash_boundary_cache_total",
			Help: "Boundary collection lookups by result",
		},
		[]string{"result"},
	)

	StatsLoadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crimedash_stats_loads_total",
			Help: "Stats loads by dataset and outcome",
		},
		[]string{"dataset", "result"},
	)

	DatasetFreshnessDays = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "crimedash_dataset_freshness_days",
			Help: "Days between today and the latest event in the dataset",
		},
		[]string{"dataset"},
	)

	DatasetKPI = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "crimedash_dataset_kpi",
			Help: "Latest digest KPI values",
		},
		[]string{"dataset", "kpi"},
	)

	DigestSkipsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crimedash_digest_skips_total",
			Help: "Scheduled digests skipped while a dataset is cooling down",
		},
		[]string{"dataset"},
	)
)
