package tapemetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TradesIngestedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tape_trades_ingested_total",
		Help: "Trades accepted by the pipeline (post-dedup inserts)",
	}, []string{"source"})

	TradesDuplicateTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tape_trades_duplicate_total",
		Help: "Trades suppressed as idempotency-key duplicates",
	}, []string{"source"})

	TradesDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tape_trades_dropped_total",
		Help: "Trades dropped by the pipeline, partitioned by reason",
	}, []string{"source", "reason"}) // store_error / encode_error

	CandleApplyErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tape_candle_apply_errors_total",
		Help: "Candle merge/persist failures",
	})

	BroadcastDeliveredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tape_broadcast_delivered_total",
		Help: "Trade payloads delivered to live subscribers",
	})

	WsConns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tape_ws_conns",
		Help: "Active subscriber websocket connections",
	})
	WsConnOpenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tape_ws_conn_open_total",
		Help: "Total subscriber connections opened",
	})
	WsSubOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tape_ws_sub_ops_total",
		Help: "Total subscription operations",
	}, []string{"op"}) // subscribe/unsubscribe
	WsMsgsOutTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tape_ws_msgs_out_total",
		Help: "Total websocket messages sent out",
	})
	WsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tape_ws_dropped_total",
		Help: "Total messages dropped before write",
	}, []string{"why"})
	WsWriteErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tape_ws_write_errors_total",
		Help: "Total websocket write errors",
	})
)

func OnWsOpen() {
	WsConns.Inc()
	WsConnOpenTotal.Inc()
}

func OnWsClose() {
	WsConns.Dec()
}
