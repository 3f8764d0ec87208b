package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// SystemMetrics tracks scheduler and execution counters.
type SystemMetrics struct {
	// Latency histograms
	TickLatency    *LatencyHistogram
	GatewayLatency *LatencyHistogram
	OrderLatency   *LatencyHistogram
	APILatency     *LatencyHistogram

	// Counters
	ticks           atomic.Uint64
	ticksSkipped    atomic.Uint64
	evaluations     atomic.Uint64
	signals         atomic.Uint64
	ordersSucceeded atomic.Uint64
	ordersFailed    atomic.Uint64
	userErrors      atomic.Uint64
	apiRequests     atomic.Uint64
	apiErrors       atomic.Uint64

	startedAt time.Time
}

// LatencyHistogram tracks latency samples in a sliding window.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool
	cachedStats LatencyStats
}

// NewSystemMetrics creates a new metrics instance.
func NewSystemMetrics() *SystemMetrics {
	return &SystemMetrics{
		TickLatency:    NewLatencyHistogram(500),
		GatewayLatency: NewLatencyHistogram(1000),
		OrderLatency:   NewLatencyHistogram(500),
		APILatency:     NewLatencyHistogram(1000),
		startedAt:      time.Now(),
	}
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{samples: make([]float64, 0, size), maxSize: size, dirty: true}
}

// RecordDuration records d in milliseconds.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, float64(d.Nanoseconds())/1e6)
	h.dirty = true
}

// Stats returns min, max, avg, p50, p95, p99. Recomputed only after new samples.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.dirty {
		return h.cachedStats
	}
	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}
	sorted := append([]float64(nil), h.samples...)
	sort.Float64s(sorted)
	var sum float64
	for _, v := range sorted {
		sum += v
	}
	h.cachedStats = LatencyStats{
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n-1)*0.95)],
		P99:   sorted[int(float64(n-1)*0.99)],
		Count: n,
	}
	h.dirty = false
	return h.cachedStats
}

// LatencyStats holds computed latency statistics (ms).
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

func (m *SystemMetrics) IncrementTicks()        { m.ticks.Add(1) }
func (m *SystemMetrics) IncrementSkippedTicks() { m.ticksSkipped.Add(1) }
func (m *SystemMetrics) IncrementEvaluations()  { m.evaluations.Add(1) }
func (m *SystemMetrics) IncrementSignals()      { m.signals.Add(1) }
func (m *SystemMetrics) IncrementUserErrors()   { m.userErrors.Add(1) }
func (m *SystemMetrics) IncrementAPI()          { m.apiRequests.Add(1) }
func (m *SystemMetrics) IncrementAPIErrors()    { m.apiErrors.Add(1) }

// RecordOrder counts an order attempt by outcome.
func (m *SystemMetrics) RecordOrder(success bool, latency time.Duration) {
	if success {
		m.ordersSucceeded.Add(1)
	} else {
		m.ordersFailed.Add(1)
	}
	m.OrderLatency.RecordDuration(latency)
}

// MetricsSnapshot is a point-in-time copy of all metrics.
type MetricsSnapshot struct {
	TickLatency     LatencyStats `json:"tick_latency"`
	GatewayLatency  LatencyStats `json:"gateway_latency"`
	OrderLatency    LatencyStats `json:"order_latency"`
	APILatency      LatencyStats `json:"api_latency"`
	Ticks           uint64       `json:"ticks"`
	TicksSkipped    uint64       `json:"ticks_skipped"`
	Evaluations     uint64       `json:"evaluations"`
	Signals         uint64       `json:"signals"`
	OrdersSucceeded uint64       `json:"orders_succeeded"`
	OrdersFailed    uint64       `json:"orders_failed"`
	UserErrors      uint64       `json:"user_errors"`
	APIRequests     uint64       `json:"api_requests"`
	APIErrors       uint64       `json:"api_errors"`
	GoroutineCount  int          `json:"goroutine_count"`
	HeapAlloc       uint64       `json:"heap_alloc_bytes"`
	Uptime          string       `json:"uptime"`
	Timestamp       time.Time    `json:"timestamp"`
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (m *SystemMetrics) GetSnapshot() MetricsSnapshot {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return MetricsSnapshot{
		TickLatency:     m.TickLatency.Stats(),
		GatewayLatency:  m.GatewayLatency.Stats(),
		OrderLatency:    m.OrderLatency.Stats(),
		APILatency:      m.APILatency.Stats(),
		Ticks:           m.ticks.Load(),
		TicksSkipped:    m.ticksSkipped.Load(),
		Evaluations:     m.evaluations.Load(),
		Signals:         m.signals.Load(),
		OrdersSucceeded: m.ordersSucceeded.Load(),
		OrdersFailed:    m.ordersFailed.Load(),
		UserErrors:      m.userErrors.Load(),
		APIRequests:     m.apiRequests.Load(),
		APIErrors:       m.apiErrors.Load(),
		GoroutineCount:  runtime.NumGoroutine(),
		HeapAlloc:       mem.HeapAlloc,
		Uptime:          time.Since(m.startedAt).Truncate(time.Second).String(),
		Timestamp:       time.Now().UTC(),
	}
}
