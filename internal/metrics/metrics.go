package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ChainHeight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tinycoin",
		Name:      "chain_height",
		Help:      "Number of blocks in the local chain.",
	})

	PeersConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tinycoin",
		Name:      "peers_connected",
		Help:      "Number of registered peer connections.",
	})

	MempoolSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tinycoin",
		Name:      "mempool_size",
		Help:      "Number of transactions currently in the mempool.",
	})

	Target = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tinycoin",
		Name:      "target_log2",
		Help:      "log2 of the current proof-of-work target (higher is easier).",
	})

	BlocksAccepted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tinycoin",
		Name:      "blocks_accepted_total",
		Help:      "Total blocks accepted onto the local chain.",
	})

	BlocksRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tinycoin",
		Name:      "blocks_rejected_total",
		Help:      "Total blocks rejected, by error kind.",
	}, []string{"kind"})

	TransactionsAccepted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tinycoin",
		Name:      "mempool_transactions_accepted_total",
		Help:      "Total transactions admitted to the mempool.",
	})

	TransactionsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tinycoin",
		Name:      "mempool_transactions_rejected_total",
		Help:      "Total transactions rejected from the mempool, by error kind.",
	}, []string{"kind"})

	RetargetEvents = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tinycoin",
		Name:      "retarget_events_total",
		Help:      "Total proof-of-work retarget adjustments applied.",
	})
)

func init() {
	prometheus.MustRegister(
		ChainHeight,
		PeersConnected,
		MempoolSize,
		Target,
		BlocksAccepted,
		BlocksRejected,
		TransactionsAccepted,
		TransactionsRejected,
		RetargetEvents,
	)
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
