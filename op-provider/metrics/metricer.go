package metrics

import (
	opmetrics "github.com/mantlenetworkio/ethrpc/op-service/metrics"
)

type Metricer interface {
	RecordInfo(version string)
	RecordUp()

	RecordRetry(transport string, method string, timeout bool)
	RecordReconnect(transport string, err error)
	RecordSubscriptions(transport string, active int)
	RecordDroppedNotification(transport string, reason string)
	RecordQuorum(method string, outcome string)
	RecordCache(method string, hit bool)
	RecordEscalation(layer string)

	opmetrics.RPCClientMetricer
}
