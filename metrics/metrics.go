// Package metrics exposes run counters for Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
)

// Recorder counts engine events. A nil *Recorder records nothing.
type Recorder struct {
	bars         *prometheus.CounterVec
	orders       *prometheus.CounterVec
	transactions *prometheus.CounterVec
	rejections   *prometheus.CounterVec
	available    *prometheus.GaugeVec
	unavailable  *prometheus.GaugeVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		bars: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "barledger_bars_total",
				Help: "Total number of bars processed",
			},
			[]string{"run"},
		),
		orders: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "barledger_order_transitions_total",
				Help: "Total number of order versions recorded, by resulting status",
			},
			[]string{"run", "kind", "status"},
		),
		transactions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "barledger_transactions_total",
				Help: "Total number of ledger transactions appended",
			},
			[]string{"run", "type"},
		),
		rejections: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "barledger_rejections_total",
				Help: "Total number of rejected order intents",
			},
			[]string{"run", "code"},
		),
		available: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "barledger_available_balance",
				Help: "Available balance at the last snapshot",
			},
			[]string{"run"},
		),
		unavailable: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "barledger_unavailable_balance",
				Help: "Unavailable balance at the last snapshot",
			},
			[]string{"run"},
		),
	}
}

func (r *Recorder) Bar(run string) {
	if r == nil {
		return
	}
	r.bars.WithLabelValues(run).Inc()
}

func (r *Recorder) Order(run, kind, status string) {
	if r == nil {
		return
	}
	r.orders.WithLabelValues(run, kind, status).Inc()
}

func (r *Recorder) Transaction(run, typ string) {
	if r == nil {
		return
	}
	r.transactions.WithLabelValues(run, typ).Inc()
}

func (r *Recorder) Rejection(run, code string) {
	if r == nil {
		return
	}
	r.rejections.WithLabelValues(run, code).Inc()
}

// Balance sets the balance gauges. Gauges are float64, so values are
// approximate; the ledger holds the exact amounts.
func (r *Recorder) Balance(run string, available, unavailable decimal.Decimal) {
	if r == nil {
		return
	}
	r.available.WithLabelValues(run).Set(available.InexactFloat64())
	r.unavailable.WithLabelValues(run).Set(unavailable.InexactFloat64())
}
