// Package telemetry exposes the process metrics over a Prometheus pull
// endpoint. The schema is fixed: counters for order/sink/feed activity,
// gauges for account and market state, histograms for trade outcomes and
// API latency.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "wolfinch"

var (
	ordersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "orders_total",
		Help:      "Orders placed, by venue, product, side, type and status.",
	}, []string{"venue", "product", "side", "type", "status"})

	ordersFilledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "orders_filled_total",
		Help:      "Orders that reached filled status.",
	}, []string{"venue", "product"})

	ordersRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "orders_rejected_total",
		Help:      "Orders rejected by the venue or the risk gate.",
	}, []string{"venue", "product", "reason"})

	apiRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "api_requests_total",
		Help:      "Adapter API requests.",
	}, []string{"venue", "endpoint"})

	apiErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "api_errors_total",
		Help:      "Adapter API request failures.",
	}, []string{"venue", "endpoint"})

	kafkaMessagesSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "kafka_messages_sent_total",
		Help:      "Messages published to the message bus.",
	}, []string{"topic"})

	kafkaErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "kafka_errors_total",
		Help:      "Message bus publish failures and queue drops.",
	}, []string{"topic"})

	influxWritesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "influxdb_writes_total",
		Help:      "Successful time-series writes.",
	})

	influxErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "influxdb_errors_total",
		Help:      "Failed time-series writes and queries.",
	})

	candlesProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "candles_processed_total",
		Help:      "Closed candles processed per market.",
	}, []string{"venue", "product"})

	candlesDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "candles_dropped_total",
		Help:      "Candles dropped for violating validation invariants.",
	}, []string{"venue", "product"})

	indicatorsCalculatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "indicators_calculated_total",
		Help:      "Indicator computations.",
	}, []string{"indicator"})

	feedDropsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "feed_drops_total",
		Help:      "Feed messages dropped on market queue overflow.",
	}, []string{"venue", "product"})

	positionsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "positions_open",
		Help:      "Number of currently open positions.",
	})

	accountBalance = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "account_balance",
		Help:      "Account balance by asset.",
	}, []string{"asset"})

	unrealizedPnL = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "unrealized_pnl",
		Help:      "Unrealized P&L across open positions.",
	})

	realizedPnL = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "realized_pnl",
		Help:      "Realized P&L for the trading day.",
	})

	winRate = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "win_rate",
		Help:      "Fraction of closed trades with positive P&L.",
	})

	sharpeRatio = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sharpe_ratio",
		Help:      "Per-trade sharpe ratio over the session.",
	})

	maxDrawdown = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "max_drawdown",
		Help:      "Maximum drawdown of cumulative realized P&L.",
	})

	marketPrice = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "market_price",
		Help:      "Last mark price per market.",
	}, []string{"venue", "product"})

	marketVolume = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "market_volume",
		Help:      "Last candle volume per market.",
	}, []string{"venue", "product"})

	tradePnL = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "trade_pnl",
		Help:      "Realized P&L per closed trade.",
		Buckets:   []float64{-5000, -1000, -500, -100, -50, 0, 50, 100, 500, 1000, 5000},
	})

	tradeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "trade_duration_seconds",
		Help:      "Holding time per closed trade.",
		Buckets:   prometheus.ExponentialBuckets(30, 2, 14),
	})

	apiRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "api_request_duration_seconds",
		Help:      "Adapter API request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"venue", "endpoint"})
)

// RecordOrder increments the order counter.
func RecordOrder(venue, product, side, typ, status string) {
	ordersTotal.WithLabelValues(venue, product, side, typ, status).Inc()
}

// RecordOrderFilled increments the fill counter.
func RecordOrderFilled(venue, product string) {
	ordersFilledTotal.WithLabelValues(venue, product).Inc()
}

// RecordOrderRejected increments the reject counter.
func RecordOrderRejected(venue, product, reason string) {
	ordersRejectedTotal.WithLabelValues(venue, product, reason).Inc()
}

// RecordAPIRequest records one adapter API call with its latency in seconds.
func RecordAPIRequest(venue, endpoint string, seconds float64) {
	apiRequestsTotal.WithLabelValues(venue, endpoint).Inc()
	apiRequestDuration.WithLabelValues(venue, endpoint).Observe(seconds)
}

// RecordAPIError increments the adapter API error counter.
func RecordAPIError(venue, endpoint string) {
	apiErrorsTotal.WithLabelValues(venue, endpoint).Inc()
}

// RecordKafkaSent increments the bus publish counter.
func RecordKafkaSent(topic string) {
	kafkaMessagesSentTotal.WithLabelValues(topic).Inc()
}

// RecordKafkaError increments the bus error counter.
func RecordKafkaError(topic string) {
	kafkaErrorsTotal.WithLabelValues(topic).Inc()
}

// RecordInfluxWrite increments the time-series write counter.
func RecordInfluxWrite() { influxWritesTotal.Inc() }

// RecordInfluxError increments the time-series error counter.
func RecordInfluxError() { influxErrorsTotal.Inc() }

// RecordCandleProcessed increments the candle counter.
func RecordCandleProcessed(venue, product string) {
	candlesProcessedTotal.WithLabelValues(venue, product).Inc()
}

// RecordCandleDropped increments the invalid-candle counter.
func RecordCandleDropped(venue, product string) {
	candlesDroppedTotal.WithLabelValues(venue, product).Inc()
}

// RecordIndicator increments the indicator computation counter.
func RecordIndicator(name string) {
	indicatorsCalculatedTotal.WithLabelValues(name).Inc()
}

// RecordFeedDrop increments the queue-overflow counter.
func RecordFeedDrop(venue, product string) {
	feedDropsTotal.WithLabelValues(venue, product).Inc()
}

// SetPositionsOpen sets the open position gauge.
func SetPositionsOpen(n int) { positionsOpen.Set(float64(n)) }

// SetAccountBalance sets the balance gauge for an asset.
func SetAccountBalance(asset string, v float64) {
	accountBalance.WithLabelValues(asset).Set(v)
}

// SetUnrealizedPnL sets the unrealized P&L gauge.
func SetUnrealizedPnL(v float64) { unrealizedPnL.Set(v) }

// SetRealizedPnL sets the realized P&L gauge.
func SetRealizedPnL(v float64) { realizedPnL.Set(v) }

// SetWinRate sets the win-rate gauge.
func SetWinRate(v float64) { winRate.Set(v) }

// SetSharpeRatio sets the sharpe gauge.
func SetSharpeRatio(v float64) { sharpeRatio.Set(v) }

// SetMaxDrawdown sets the drawdown gauge.
func SetMaxDrawdown(v float64) { maxDrawdown.Set(v) }

// SetMarketPrice sets the mark price gauge for a market.
func SetMarketPrice(venue, product string, v float64) {
	marketPrice.WithLabelValues(venue, product).Set(v)
}

// SetMarketVolume sets the volume gauge for a market.
func SetMarketVolume(venue, product string, v float64) {
	marketVolume.WithLabelValues(venue, product).Set(v)
}

// ObserveTradePnL records a closed trade's P&L.
func ObserveTradePnL(v float64) { tradePnL.Observe(v) }

// ObserveTradeDuration records a closed trade's holding time.
func ObserveTradeDuration(seconds float64) { tradeDuration.Observe(seconds) }

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
