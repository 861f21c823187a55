package metrics

import (
	opmetrics "github.com/mantlenetworkio/ethrpc/op-service/metrics"
)

type noopMetrics struct {
	opmetrics.NoopRPCClientMetrics
}

// NoopMetrics discards everything. Components default to it.
var NoopMetrics Metricer = new(noopMetrics)

func (*noopMetrics) RecordInfo(version string) {}

func (*noopMetrics) RecordUp() {}

func (*noopMetrics) RecordRetry(transport string, method string, timeout bool) {}

func (*noopMetrics) RecordReconnect(transport string, err error) {}

func (*noopMetrics) RecordSubscriptions(transport string, active int) {}

func (*noopMetrics) RecordDroppedNotification(transport string, reason string) {}

func (*noopMetrics) RecordQuorum(method string, outcome string) {}

func (*noopMetrics) RecordCache(method string, hit bool) {}

func (*noopMetrics) RecordEscalation(layer string) {}
