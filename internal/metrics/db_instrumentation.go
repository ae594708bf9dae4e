package metrics

import (
	"time"
)

// MeasureDBQuery times a store operation. Safe on a nil *Metrics.
//
//	defer metrics.MeasureDBQuery(m, "get_by_reference", "postgres")()
func MeasureDBQuery(m *Metrics, operation, backend string) func() {
	if m == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		m.ObserveDBQuery(operation, backend, time.Since(start))
	}
}
