package procrunner

import (
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// monitorInterval is how often resource usage is sampled.
const monitorInterval = 5 * time.Second

// ProcessStats contains resource usage of a child process.
type ProcessStats struct {
	PID        int       `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	RSSBytes   uint64    `json:"rss_bytes"`
	SampledAt  time.Time `json:"sampled_at"`
}

// Monitor samples CPU and memory usage of a child process on a fixed
// interval. Samples piggyback on encoder progress telemetry.
type Monitor struct {
	pid  int
	proc *process.Process

	mu    sync.RWMutex
	stats *ProcessStats

	stop chan struct{}
	once sync.Once
}

// NewMonitor creates a monitor for the given pid. A pid that cannot be
// inspected yields a monitor that reports no stats.
func NewMonitor(pid int) *Monitor {
	m := &Monitor{
		pid:  pid,
		stop: make(chan struct{}),
	}
	if proc, err := process.NewProcess(int32(pid)); err == nil {
		m.proc = proc
	}
	return m
}

// Start begins background sampling. No-op when the process could not be
// inspected.
func (m *Monitor) Start() {
	if m.proc == nil {
		return
	}
	go m.loop()
}

// loop samples until stopped.
func (m *Monitor) loop() {
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.sample()
		}
	}
}

// sample reads one snapshot of CPU and memory usage.
func (m *Monitor) sample() {
	stats := &ProcessStats{PID: m.pid, SampledAt: time.Now()}

	if cpu, err := m.proc.CPUPercent(); err == nil {
		stats.CPUPercent = cpu
	}
	if mem, err := m.proc.MemoryInfo(); err == nil && mem != nil {
		stats.RSSBytes = mem.RSS
	}

	m.mu.Lock()
	m.stats = stats
	m.mu.Unlock()
}

// Stats returns the latest sample, nil if none has been taken.
func (m *Monitor) Stats() *ProcessStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

// Stop ends sampling. Safe to call more than once.
func (m *Monitor) Stop() {
	m.once.Do(func() { close(m.stop) })
}
