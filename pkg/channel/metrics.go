package channel

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes Prometheus instrumentation for a channel's custody and
// ACS bookkeeping. All methods are nil-safe: a nil *Metrics is a no-op, so
// instrumentation stays entirely optional.
type Metrics struct {
	activeTableDepth  *prometheus.GaugeVec
	accumulatorDepth  *prometheus.GaugeVec
	retransmitsTotal  *prometheus.CounterVec
	wrapDropsTotal    *prometheus.CounterVec
	acsEmittedTotal   *prometheus.CounterVec
}

// NewMetrics creates channel metrics and registers them with reg. If reg is
// nil, the collectors are created but not registered (tests, or a caller
// that doesn't want a /metrics endpoint).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		activeTableDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "bplib",
			Subsystem: "channel",
			Name:      "active_table_depth",
			Help:      "Number of occupied custody active-table slots.",
		}, []string{"channel"}),
		accumulatorDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "bplib",
			Subsystem: "channel",
			Name:      "acs_accumulator_sources",
			Help:      "Number of custodians currently tracked by the ACS accumulator.",
		}, []string{"channel"}),
		retransmitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bplib",
			Subsystem: "channel",
			Name:      "retransmits_total",
			Help:      "Total number of bundles re-emitted from the active table after a custody timeout.",
		}, []string{"channel"}),
		wrapDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bplib",
			Subsystem: "channel",
			Name:      "wrap_drops_total",
			Help:      "Total number of active-table slots evicted under the drop wrap policy.",
		}, []string{"channel"}),
		acsEmittedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bplib",
			Subsystem: "channel",
			Name:      "acs_emitted_total",
			Help:      "Total number of aggregate custody signals finalized and enqueued.",
		}, []string{"channel"}),
	}
	if reg != nil {
		m.activeTableDepth = registerOrReuse(reg, m.activeTableDepth).(*prometheus.GaugeVec)
		m.accumulatorDepth = registerOrReuse(reg, m.accumulatorDepth).(*prometheus.GaugeVec)
		m.retransmitsTotal = registerOrReuse(reg, m.retransmitsTotal).(*prometheus.CounterVec)
		m.wrapDropsTotal = registerOrReuse(reg, m.wrapDropsTotal).(*prometheus.CounterVec)
		m.acsEmittedTotal = registerOrReuse(reg, m.acsEmittedTotal).(*prometheus.CounterVec)
	}
	return m
}

func registerOrReuse(reg prometheus.Registerer, c prometheus.Collector) prometheus.Collector {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector
		}
		panic(err)
	}
	return c
}

func (m *Metrics) setActiveTableDepth(channelLabel string, depth int) {
	if m == nil {
		return
	}
	m.activeTableDepth.WithLabelValues(channelLabel).Set(float64(depth))
}

func (m *Metrics) setAccumulatorDepth(channelLabel string, depth int) {
	if m == nil {
		return
	}
	m.accumulatorDepth.WithLabelValues(channelLabel).Set(float64(depth))
}

func (m *Metrics) recordRetransmit(channelLabel string) {
	if m == nil {
		return
	}
	m.retransmitsTotal.WithLabelValues(channelLabel).Inc()
}

func (m *Metrics) recordWrapDrop(channelLabel string) {
	if m == nil {
		return
	}
	m.wrapDropsTotal.WithLabelValues(channelLabel).Inc()
}

func (m *Metrics) recordACSEmitted(channelLabel string) {
	if m == nil {
		return
	}
	m.acsEmittedTotal.WithLabelValues(channelLabel).Inc()
}
