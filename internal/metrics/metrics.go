// Package metrics records service counters and latencies.
package metrics

import "time"

// Label keys understood by every Recorder.
const (
	LabelEndpoint = "endpoint"
	LabelMethod   = "method"
	LabelStatus   = "status"
)

// Recorder counts named events and observes their latencies. Labels outside
// the keys above are dropped by implementations that export series.
type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}
