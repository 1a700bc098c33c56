package rwpool

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "rwpool"

// metrics are created per Manager and only exported when Config.Registerer
// is set. Unregistered vectors still count, so tests can read them directly.
type metrics struct {
	queries         *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	retries         *prometheus.CounterVec
	destroyed       *prometheus.CounterVec
	forcedRollbacks *prometheus.CounterVec
	exhausted       *prometheus.CounterVec
	heldTooLong     *prometheus.CounterVec

	registerer prometheus.Registerer
	exported   []prometheus.Collector
}

func newMetrics() *metrics {
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      name,
			Help:      help,
		}, labels)
	}

	return &metrics{
		queries: counter("queries_total", "Query attempts by pool role, query kind and outcome.", "role", "kind", "outcome"),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "query_duration_seconds",
			Help:      "Duration of query attempts in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		}, []string{"role", "kind"}),
		retries:         counter("query_retries_total", "Query attempts retried after a transient error.", "role"),
		destroyed:       counter("connections_destroyed_total", "Connections destroyed instead of returned to their pool.", "role"),
		forcedRollbacks: counter("forced_rollbacks_total", "Transactions rolled back because their connection was released.", "role"),
		exhausted:       counter("pool_exhausted_total", "Acquires that found no free connection and were queued.", "role"),
		heldTooLong:     counter("held_too_long_total", "Checkouts that exceeded the held connection warning.", "role"),
	}
}

func (m *metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.queries, m.duration, m.retries, m.destroyed,
		m.forcedRollbacks, m.exhausted, m.heldTooLong,
	}
}

// register exports the metrics plus live pool gauges for pools on r. A
// collector that is already registered is an error, so a second Manager never
// ends up silently unexported. On failure nothing stays registered.
func (m *metrics) register(r prometheus.Registerer, pools ...*pool) error {
	m.exported = append(m.collectors(), &poolCollector{pools: pools})
	for i, c := range m.exported {
		if err := r.Register(c); err != nil {
			for _, done := range m.exported[:i] {
				r.Unregister(done)
			}
			m.exported = nil
			return err
		}
	}
	m.registerer = r
	return nil
}

// unregister removes everything register exported.
func (m *metrics) unregister() {
	if m.registerer == nil {
		return
	}
	for _, c := range m.exported {
		m.registerer.Unregister(c)
	}
	m.registerer, m.exported = nil, nil
}

func (m *metrics) observe(role Role, kind QueryKind, elapsed time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.queries.WithLabelValues(string(role), kind.String(), outcome).Inc()
	m.duration.WithLabelValues(string(role), kind.String()).Observe(elapsed.Seconds())
}

var (
	poolIdleDesc = prometheus.NewDesc(metricsNamespace+"_pool_idle_connections",
		"Idle connections in the pool.", []string{"role"}, nil)
	poolInUseDesc = prometheus.NewDesc(metricsNamespace+"_pool_in_use_connections",
		"Connections checked out of the pool.", []string{"role"}, nil)
	poolTotalDesc = prometheus.NewDesc(metricsNamespace+"_pool_total_connections",
		"Open connections in the pool.", []string{"role"}, nil)
	poolMaxDesc = prometheus.NewDesc(metricsNamespace+"_pool_max_connections",
		"Maximum size of the pool.", []string{"role"}, nil)
)

// poolCollector reads pool statistics at scrape time.
type poolCollector struct {
	pools []*pool
}

func (c *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- poolIdleDesc
	ch <- poolInUseDesc
	ch <- poolTotalDesc
	ch <- poolMaxDesc
}

func (c *poolCollector) Collect(ch chan<- prometheus.Metric) {
	for _, p := range c.pools {
		if p.drv == nil {
			continue
		}
		st := p.drv.Stat()
		role := string(p.role)
		ch <- prometheus.MustNewConstMetric(poolIdleDesc, prometheus.GaugeValue, float64(st.Idle), role)
		ch <- prometheus.MustNewConstMetric(poolInUseDesc, prometheus.GaugeValue, float64(st.InUse), role)
		ch <- prometheus.MustNewConstMetric(poolTotalDesc, prometheus.GaugeValue, float64(st.Total), role)
		ch <- prometheus.MustNewConstMetric(poolMaxDesc, prometheus.GaugeValue, float64(st.Max), role)
	}
}
