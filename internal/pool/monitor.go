package pool

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Health reasons reported by the monitor.
const (
	healthRunning   = "running"
	healthCompleted = "completed"
	healthStalled   = "stalled"
	healthNoProcess = "no_process"
)

// HealthSample is one classification of one worker at one point in
// time.
type HealthSample struct {
	Time    time.Time
	TaskID  string
	Healthy bool
	Reason  string
}

// Monitor periodically classifies each worker as healthy or not. It
// exists to catch workers the supervisor's own retry loop cannot see:
// a run that stopped making progress without exiting.
type Monitor struct {
	pool         *Pool
	stallTimeout time.Duration
	interval     time.Duration
	logger       *zap.Logger

	mu      sync.Mutex
	history map[string][]HealthSample

	healthyGauge   prometheus.Gauge
	unhealthyGauge prometheus.Gauge

	stop     chan struct{}
	stopOnce sync.Once
}

// NewMonitor creates a monitor over the pool's workers. A worker still
// running stallTimeout after its start is classified as stalled.
// Gauges register against reg; pass nil to skip metrics.
func NewMonitor(p *Pool, stallTimeout, interval time.Duration, logger *zap.Logger, reg prometheus.Registerer) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Monitor{
		pool:         p,
		stallTimeout: stallTimeout,
		interval:     interval,
		logger:       logger.Named("monitor"),
		history:      make(map[string][]HealthSample),
		stop:         make(chan struct{}),
		healthyGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "overseer_workers_healthy",
			Help: "Workers classified healthy in the last check.",
		}),
		unhealthyGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "overseer_workers_unhealthy",
			Help: "Workers classified unhealthy in the last check.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.healthyGauge, m.unhealthyGauge)
	}
	return m
}

// Start launches the periodic check loop.
func (m *Monitor) Start() {
	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
				m.Check()
			}
		}
	}()
}

// Stop halts the check loop. Safe to call more than once.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

// Check classifies every worker once and records the samples.
func (m *Monitor) Check() []HealthSample {
	now := time.Now()
	var samples []HealthSample
	healthy, unhealthy := 0, 0

	for _, w := range m.pool.Workers() {
		sample := HealthSample{Time: now, TaskID: w.TaskID()}

		switch {
		case w.StartedAt().IsZero():
			sample.Reason = healthNoProcess
		case !w.IsRunning():
			sample.Healthy = true
			sample.Reason = healthCompleted
		case now.Sub(w.StartedAt()) > m.stallTimeout:
			sample.Reason = healthStalled
		default:
			sample.Healthy = true
			sample.Reason = healthRunning
		}

		if sample.Healthy {
			healthy++
		} else {
			unhealthy++
			m.logger.Warn("unhealthy worker",
				zap.String("task_id", sample.TaskID),
				zap.String("reason", sample.Reason),
			)
		}
		samples = append(samples, sample)
	}

	m.healthyGauge.Set(float64(healthy))
	m.unhealthyGauge.Set(float64(unhealthy))

	m.mu.Lock()
	for _, sample := range samples {
		m.history[sample.TaskID] = append(m.history[sample.TaskID], sample)
	}
	m.mu.Unlock()

	return samples
}

// History returns the recorded samples for one task, oldest first.
func (m *Monitor) History(taskID string) []HealthSample {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]HealthSample(nil), m.history[taskID]...)
}

// HealthyPercent returns the fraction of all recorded samples that
// were healthy, as a percentage. Returns 100 when nothing has been
// sampled yet.
func (m *Monitor) HealthyPercent() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	total, healthy := 0, 0
	for _, samples := range m.history {
		for _, sample := range samples {
			total++
			if sample.Healthy {
				healthy++
			}
		}
	}
	if total == 0 {
		return 100
	}
	return float64(healthy) / float64(total) * 100
}
