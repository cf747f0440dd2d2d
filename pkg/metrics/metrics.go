// Package metrics holds the Prometheus collectors shared by the sync components.
package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "walletsync"

var (
	ActiveSubscriptions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_subscription_keys",
		Help:      "Number of balance keys with at least one subscriber.",
	})

	CachedBalances = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "cached_balances",
		Help:      "Number of balance entries held in the cache, including those awaiting eviction.",
	})

	BalanceFetches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "balance_fetches_total",
		Help:      "Balance fetches by kind and result.",
	}, []string{"kind", "result"})

	BalanceFetchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "balance_fetch_duration_seconds",
		Help:      "Latency of individual balance fetches.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"kind"})

	BlockHeight = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "block_height",
		Help:      "Last committed block height per chain.",
	}, []string{"chain_id"})

	PriceFetches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "price_fetches_total",
		Help:      "Price endpoint fetches by symbol and result.",
	}, []string{"symbol", "result"})

	Price = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "price_usd",
		Help:      "Last published price per symbol.",
	}, []string{"symbol"})

	WSClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "websocket_clients",
		Help:      "Connected websocket clients.",
	})
)

var registerOnce sync.Once

// MustRegisterMetrics registers every collector with reg. Safe to call more than once.
func MustRegisterMetrics(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(
			ActiveSubscriptions,
			CachedBalances,
			BalanceFetches,
			BalanceFetchDuration,
			BlockHeight,
			PriceFetches,
			Price,
			WSClients,
		)
	})
}

func ChainLabel(chainID int64) string {
	return strconv.FormatInt(chainID, 10)
}
