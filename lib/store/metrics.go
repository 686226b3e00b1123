package store

import (
	"fmt"
	"io"
	"sync"

	"github.com/VictoriaMetrics/metrics"
)

// storeMetrics holds one Store's VictoriaMetrics/metrics Set, isolated from
// the process-wide default set so multiple Store instances (as in tests)
// never collide on metric names.
type storeMetrics struct {
	set *metrics.Set

	opsMtx sync.Mutex
	ops    map[string]*metrics.Counter

	cacheHits   *metrics.Counter
	cacheMisses *metrics.Counter
	evictions   *metrics.Counter
	opDuration  *metrics.Histogram
}

func newStoreMetrics() *storeMetrics {
	s := metrics.NewSet()
	return &storeMetrics{
		set:         s,
		ops:         make(map[string]*metrics.Counter),
		cacheHits:   s.NewCounter("phkv_cache_hits_total"),
		cacheMisses: s.NewCounter("phkv_cache_misses_total"),
		evictions:   s.NewCounter("phkv_lru_evictions_total"),
		opDuration:  s.NewHistogram("phkv_op_duration_seconds"),
	}
}

func (m *storeMetrics) incOp(op string) {
	m.opsMtx.Lock()
	c, ok := m.ops[op]
	if !ok {
		c = m.set.NewCounter(fmt.Sprintf(`phkv_ops_total{op=%q}`, op))
		m.ops[op] = c
	}
	m.opsMtx.Unlock()
	c.Inc()
}

func (m *storeMetrics) observeDuration(seconds float64) {
	m.opDuration.Update(seconds)
}

// WriteMetrics dumps this Store's metrics in Prometheus text exposition
// format. There is no HTTP listener; callers wire this into whatever
// transport they like (spec's domain-stack directive for
// github.com/VictoriaMetrics/metrics).
func (s *Store) WriteMetrics(w io.Writer) {
	s.metrics.set.WritePrometheus(w)
}
