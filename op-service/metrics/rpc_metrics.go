package metrics

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/prometheus/client_golang/prometheus"
)

const RPCClientSubsystem = "rpc_client"

// RPCClientMetricer records client-side JSON-RPC traffic per named endpoint.
type RPCClientMetricer interface {
	// RecordRPCClientRequest marks the start of a request and returns the completion callback.
	RecordRPCClientRequest(rpcName string, method string, paramsSize int) func(resultSize int, err error)
	RecordRPCClientBatch(rpcName string, size int)
	RecordRPCClientNotification(rpcName string, method string)
}

// RPCClientMetrics tracks client RPC metrics.
// This struct is intended to be embedded into the larger metrics struct.
type RPCClientMetrics struct {
	clientRequestsTotal          *prometheus.CounterVec
	clientRequestDurationSeconds *prometheus.HistogramVec
	clientResponsesTotal         *prometheus.CounterVec
	clientBatchSize              *prometheus.HistogramVec
	notificationsReceivedTotal   *prometheus.CounterVec
	clientParamsSizeTotal        *prometheus.CounterVec
	clientResultsSizeTotal       *prometheus.CounterVec
}

var _ RPCClientMetricer = (*RPCClientMetrics)(nil)

// MakeRPCClientMetrics creates a new RPCClientMetrics with the given namespace.
func MakeRPCClientMetrics(ns string, factory Factory) RPCClientMetrics {
	return RPCClientMetrics{
		clientRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: RPCClientSubsystem,
			Name:      "requests_total",
			Help:      "Total RPC requests initiated",
		}, []string{
			"rpc",
			"method",
		}),
		clientRequestDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: RPCClientSubsystem,
			Name:      "request_duration_seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			Help:      "Histogram of RPC client request durations",
		}, []string{
			"rpc",
			"method",
		}),
		clientResponsesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: RPCClientSubsystem,
			Name:      "responses_total",
			Help:      "Total RPC request responses received",
		}, []string{
			"rpc",
			"method",
			"error",
		}),
		clientBatchSize: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: RPCClientSubsystem,
			Name:      "batch_size",
			Buckets:   []float64{1, 2, 5, 10, 20, 50, 100, 200},
			Help:      "Number of requests per RPC batch",
		}, []string{
			"rpc",
		}),
		notificationsReceivedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: RPCClientSubsystem,
			Name:      "notifications_received_total",
			Help:      "Total RPC notifications received",
		}, []string{
			"rpc",
			"method",
		}),
		clientParamsSizeTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: RPCClientSubsystem,
			Name:      "params_size_total",
			Help:      "Total bytes of RPC params sent",
		}, []string{
			"rpc",
			"method",
		}),
		clientResultsSizeTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: RPCClientSubsystem,
			Name:      "results_size_total",
			Help:      "Total bytes of RPC results received",
		}, []string{
			"rpc",
			"method",
		}),
	}
}

func (m *RPCClientMetrics) RecordRPCClientRequest(rpcName string, method string, paramsSize int) func(resultSize int, err error) {
	m.clientRequestsTotal.WithLabelValues(rpcName, method).Inc()
	m.clientParamsSizeTotal.WithLabelValues(rpcName, method).Add(float64(paramsSize))
	timer := prometheus.NewTimer(m.clientRequestDurationSeconds.WithLabelValues(rpcName, method))
	return func(resultSize int, err error) {
		timer.ObserveDuration()
		if err == nil {
			m.clientResultsSizeTotal.WithLabelValues(rpcName, method).Add(float64(resultSize))
		}
		m.clientResponsesTotal.WithLabelValues(rpcName, method, ErrorLabel(err)).Inc()
	}
}

func (m *RPCClientMetrics) RecordRPCClientBatch(rpcName string, size int) {
	m.clientBatchSize.WithLabelValues(rpcName).Observe(float64(size))
}

func (m *RPCClientMetrics) RecordRPCClientNotification(rpcName string, method string) {
	m.notificationsReceivedTotal.WithLabelValues(rpcName, method).Inc()
}

// ErrorLabel converts an RPC result error into a low-cardinality label value.
func ErrorLabel(err error) string {
	if err == nil {
		return "<nil>"
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return fmt.Sprintf("rpc_%d", rpcErr.ErrorCode())
	}
	return "failed"
}

type NoopRPCClientMetrics struct{}

func (n *NoopRPCClientMetrics) RecordRPCClientRequest(rpcName string, method string, paramsSize int) func(resultSize int, err error) {
	return func(int, error) {}
}

func (n *NoopRPCClientMetrics) RecordRPCClientBatch(rpcName string, size int) {}

func (n *NoopRPCClientMetrics) RecordRPCClientNotification(rpcName string, method string) {}

var _ RPCClientMetricer = (*NoopRPCClientMetrics)(nil)
