// Package metrics exposes Prometheus collectors for ticks and trades.
package metrics

import (
	"net/http"
	"time"

	"cryptobot/internal/market"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry     *prometheus.Registry
	ticks        *prometheus.CounterVec
	tickDuration prometheus.Histogram
	assetPrice   *prometheus.GaugeVec
	trades       *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cryptobot_ticks_total",
			Help: "Price walker ticks by result.",
		}, []string{"result"}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cryptobot_tick_duration_seconds",
			Help:    "Time spent applying one tick.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		assetPrice: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cryptobot_asset_price",
			Help: "Last published price per asset.",
		}, []string{"tag"}),
		trades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cryptobot_trades_total",
			Help: "Trade requests by side and result.",
		}, []string{"side", "result"}),
	}
	m.registry.MustRegister(m.ticks, m.tickDuration, m.assetPrice, m.trades)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObserveTick(changes []market.PriceChange, took time.Duration, err error) {
	m.tickDuration.Observe(took.Seconds())
	if err != nil {
		m.ticks.WithLabelValues("error").Inc()
		return
	}
	m.ticks.WithLabelValues("ok").Inc()
	for _, c := range changes {
		m.assetPrice.WithLabelValues(c.Tag).Set(c.New.InexactFloat64())
	}
}

func (m *Metrics) ObserveTrade(side, result string) {
	m.trades.WithLabelValues(side, result).Inc()
}
