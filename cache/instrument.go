package cache

import (
	"time"
)

var operationBuckets = []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5}

func (c *QueryCache) recordMetric(operation, result string, duration time.Duration) {
	c.metrics.Counter("cache_operations_total", map[string]string{
		"operation": operation,
		"result":    result,
	}).Inc()

	c.metrics.Histogram("cache_operation_duration_seconds", operationBuckets, map[string]string{
		"operation": operation,
	}).Observe(duration.Seconds())
}
