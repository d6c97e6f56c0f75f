package clustering

import (
	"github.com/armon/go-metrics"
)

var (
	metricSent          = []string{"clustering", "sent"}
	metricPublishFailed = []string{"clustering", "publish_failed"}
	metricReceived      = []string{"clustering", "received"}
	metricDuplicate     = []string{"clustering", "duplicate"}
	metricExecuted      = []string{"clustering", "executed"}
	metricExecuteFailed = []string{"clustering", "execute_failed"}
	metricReplayed      = []string{"clustering", "replayed"}
	metricEvicted       = []string{"clustering", "evicted"}
	metricSentBuffer    = []string{"clustering", "sent_buffer"}
	metricDedupTable    = []string{"clustering", "dedup_table"}
)

func incrCounter(key []string, n int) {
	metrics.IncrCounter(key, float32(n))
}

func setGauge(key []string, n int) {
	metrics.SetGauge(key, float32(n))
}
