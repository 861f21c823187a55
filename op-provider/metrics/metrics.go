package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	opmetrics "github.com/mantlenetworkio/ethrpc/op-service/metrics"
)

const Namespace = "op_provider"

const (
	QuorumSuccess         = "success"
	QuorumNoAgreement     = "no_agreement"
	QuorumIncompleteBatch = "incomplete_batch"
)

type Metrics struct {
	ns       string
	registry *prometheus.Registry
	factory  opmetrics.Factory

	opmetrics.RPCClientMetrics

	retries        *prometheus.CounterVec
	reconnects     *prometheus.CounterVec
	subscriptions  *prometheus.GaugeVec
	droppedNotifs  *prometheus.CounterVec
	quorumOutcomes *prometheus.CounterVec
	cacheLookups   *prometheus.CounterVec
	gasEscalations *prometheus.CounterVec

	info prometheus.GaugeVec
	up   prometheus.Gauge
}

var _ Metricer = (*Metrics)(nil)

func NewMetrics(procName string) *Metrics {
	return newMetrics(procName, opmetrics.NewRegistry())
}

func newMetrics(procName string, registry *prometheus.Registry) *Metrics {
	ns := Namespace
	if procName != "" {
		ns += "_" + procName
	}

	factory := opmetrics.With(registry)
	return &Metrics{
		ns:       ns,
		registry: registry,
		factory:  factory,

		RPCClientMetrics: opmetrics.MakeRPCClientMetrics(ns, factory),

		info: *factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "info",
			Help:      "Pseudo-metric tracking version and config info",
		}, []string{
			"version",
		}),
		up: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "up",
			Help:      "1 if the provider stack has been built",
		}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "retries_total",
			Help:      "Count of retried requests, split by timeout and rejection",
		}, []string{"transport", "method", "kind"}),
		reconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "reconnects_total",
			Help:      "Count of reconnect attempts of duplex transports",
		}, []string{"transport", "result"}),
		subscriptions: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "subscriptions",
			Help:      "Number of live subscriptions per transport",
		}, []string{"transport"}),
		droppedNotifs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "dropped_notifications_total",
			Help:      "Notifications dropped for an unknown subscription or a full queue",
		}, []string{"transport", "reason"}),
		quorumOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "quorum_outcomes_total",
			Help:      "Quorum decisions by method and outcome",
		}, []string{"method", "outcome"}),
		cacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "cache_lookups_total",
			Help:      "Response cache lookups by method",
		}, []string{"method", "result"}),
		gasEscalations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "gas_escalations_total",
			Help:      "Count of transactions re-broadcast at a higher price",
		}, []string{"layer"}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Document() []opmetrics.DocumentedMetric {
	return m.factory.Document()
}

// RecordInfo sets a pseudo-metric that contains versioning and config info.
func (m *Metrics) RecordInfo(version string) {
	m.info.WithLabelValues(version).Set(1)
}

// RecordUp sets the up metric to 1.
func (m *Metrics) RecordUp() {
	m.up.Set(1)
}

func (m *Metrics) RecordRetry(transport string, method string, timeout bool) {
	kind := "rejected"
	if timeout {
		kind = "timeout"
	}
	m.retries.WithLabelValues(transport, method, kind).Inc()
}

func (m *Metrics) RecordReconnect(transport string, err error) {
	result := "success"
	if err != nil {
		result = "failed"
	}
	m.reconnects.WithLabelValues(transport, result).Inc()
}

func (m *Metrics) RecordSubscriptions(transport string, active int) {
	m.subscriptions.WithLabelValues(transport).Set(float64(active))
}

func (m *Metrics) RecordDroppedNotification(transport string, reason string) {
	m.droppedNotifs.WithLabelValues(transport, reason).Inc()
}

func (m *Metrics) RecordQuorum(method string, outcome string) {
	m.quorumOutcomes.WithLabelValues(method, outcome).Inc()
}

func (m *Metrics) RecordCache(method string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(method, result).Inc()
}

func (m *Metrics) RecordEscalation(layer string) {
	m.gasEscalations.WithLabelValues(layer).Inc()
}
