package indexer

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/ava-labs/avalanchego/utils/logging"
	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/mem"
)

type MonitorConfig struct {
	CheckInterval    time.Duration `json:"checkInterval" yaml:"checkInterval"`
	MaxCPUPercent    float64       `json:"maxCpuPercent" yaml:"maxCpuPercent"`
	MaxMemoryPercent float64       `json:"maxMemoryPercent" yaml:"maxMemoryPercent"`
	MaxGoroutines    int           `json:"maxGoroutines" yaml:"maxGoroutines"`
}

func DefaultMonitorConfig() *MonitorConfig {
	return &MonitorConfig{
		CheckInterval:    30 * time.Second,
		MaxCPUPercent:    85,
		MaxMemoryPercent: 85,
		MaxGoroutines:    5000,
	}
}

// SystemStats is one resource sample.
type SystemStats struct {
	CPUUsage       float64   `json:"cpuUsage"`
	MemoryUsage    uint64    `json:"memoryUsage"`
	TotalMemory    uint64    `json:"totalMemory"`
	GoroutineCount int       `json:"goroutineCount"`
	Time           time.Time `json:"time"`
}

// Monitor samples system resources while the indexer runs and warns when
// usage crosses configured thresholds.
type Monitor struct {
	config *MonitorConfig
	log    logging.Logger

	lock    sync.RWMutex
	stats   SystemStats
	healthy bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewMonitor(config *MonitorConfig, log logging.Logger) *Monitor {
	if config == nil {
		config = DefaultMonitorConfig()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		config:  config,
		log:     log,
		healthy: true,
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.loop()
}

func (m *Monitor) Stop() {
	m.cancel()
	m.wg.Wait()
}

func (m *Monitor) loop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sample()
		case <-m.ctx.Done():
			return
		}
	}
}

func (m *Monitor) sample() {
	stats := SystemStats{
		GoroutineCount: runtime.NumGoroutine(),
		Time:           time.Now(),
	}

	if cpuPercent, err := cpu.Percent(0, false); err != nil {
		m.log.Warn(fmt.Sprintf("cpu sample failed: %v", err))
	} else if len(cpuPercent) > 0 {
		stats.CPUUsage = cpuPercent[0]
	}

	if memInfo, err := mem.VirtualMemory(); err != nil {
		m.log.Warn(fmt.Sprintf("memory sample failed: %v", err))
	} else {
		stats.MemoryUsage = memInfo.Used
		stats.TotalMemory = memInfo.Total
	}

	healthy := true
	if stats.CPUUsage > m.config.MaxCPUPercent {
		m.log.Warn(fmt.Sprintf("cpu usage %.2f%% over threshold %.2f%%", stats.CPUUsage, m.config.MaxCPUPercent))
		healthy = false
	}
	if stats.TotalMemory > 0 {
		memPercent := float64(stats.MemoryUsage) / float64(stats.TotalMemory) * 100
		if memPercent > m.config.MaxMemoryPercent {
			m.log.Warn(fmt.Sprintf("memory usage %.2f%% over threshold %.2f%%", memPercent, m.config.MaxMemoryPercent))
			healthy = false
		}
	}
	if stats.GoroutineCount > m.config.MaxGoroutines {
		m.log.Warn(fmt.Sprintf("goroutine count %d over threshold %d", stats.GoroutineCount, m.config.MaxGoroutines))
		healthy = false
	}

	m.lock.Lock()
	m.stats = stats
	m.healthy = healthy
	m.lock.Unlock()
}

// Stats returns the latest resource sample.
func (m *Monitor) Stats() SystemStats {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.stats
}

// Healthy reports whether the last sample stayed under all thresholds.
func (m *Monitor) Healthy() bool {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.healthy
}
