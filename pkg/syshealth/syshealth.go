// Package syshealth monitors host resource pressure and derives a health
// zone used to scale worker concurrency. The embedding worker consults the
// scaler before fanning out vector-store calls.
package syshealth

import (
	"context"
	"log/slog"
	"math"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/relaydev/syncd/pkg/logger"
)

// Zone classifies current resource pressure.
type Zone string

const (
	// ZoneCritical indicates severe resource pressure (score 0-33).
	ZoneCritical Zone = "critical"
	// ZoneWarning indicates moderate resource pressure (score 34-66).
	ZoneWarning Zone = "warning"
	// ZoneSafe indicates healthy resource utilisation (score 67-100).
	ZoneSafe Zone = "safe"
)

// Metrics holds collected health metrics and the derived score.
type Metrics struct {
	Score         int
	Zone          Zone
	CPULoadAvg    float64
	MemoryPercent float64
	Timestamp     time.Time
	Stale         bool
}

// Monitor is the interface consumed by the concurrency scaler.
type Monitor interface {
	Start() error
	Stop() error
	GetHealth() *Metrics
}

// Config holds monitor thresholds.
type Config struct {
	CollectionInterval    time.Duration
	CPULoadCriticalFactor float64
	CPULoadWarningFactor  float64
	MemoryCriticalPercent float64
	MemoryWarningPercent  float64
	StalenessThreshold    time.Duration
	CollectionTimeout     time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() *Config {
	return &Config{
		CollectionInterval:    30 * time.Second,
		CPULoadCriticalFactor: 3.0,
		CPULoadWarningFactor:  2.0,
		MemoryCriticalPercent: 95.0,
		MemoryWarningPercent:  85.0,
		StalenessThreshold:    2 * time.Minute,
		CollectionTimeout:     5 * time.Second,
	}
}

type monitor struct {
	cfg *Config
	log *slog.Logger

	mu      sync.RWMutex
	metrics *Metrics

	ticker  *time.Ticker
	stopCh  chan struct{}
	running bool

	// collection funcs, replaceable in tests
	getLoadAvg  func(context.Context) (*load.AvgStat, error)
	getMemStats func(context.Context) (*mem.VirtualMemoryStat, error)
	getCPUCores func() int
}

// NewMonitor creates a system health monitor.
func NewMonitor(cfg *Config, log *slog.Logger) Monitor {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &monitor{
		cfg: cfg,
		log: log.With(logger.Scope("syshealth.monitor")),
		metrics: &Metrics{
			Score: 100,
			Zone:  ZoneSafe,
		},
		getLoadAvg:  load.AvgWithContext,
		getMemStats: mem.VirtualMemoryWithContext,
		getCPUCores: runtime.NumCPU,
	}
}

func (m *monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.ticker = time.NewTicker(m.cfg.CollectionInterval)

	go func() {
		m.collect()
		for {
			select {
			case <-m.ticker.C:
				m.collect()
			case <-m.stopCh:
				return
			}
		}
	}()

	m.log.Info("system health monitor started", slog.Duration("interval", m.cfg.CollectionInterval))
	return nil
}

func (m *monitor) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}
	m.running = false
	m.ticker.Stop()
	close(m.stopCh)
	m.log.Info("system health monitor stopped")
	return nil
}

func (m *monitor) GetHealth() *Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot := *m.metrics
	if time.Since(snapshot.Timestamp) > m.cfg.StalenessThreshold {
		snapshot.Stale = true
	}
	return &snapshot
}

func (m *monitor) collect() {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.CollectionTimeout)
	defer cancel()

	score := 100
	metrics := &Metrics{Timestamp: time.Now()}

	if avg, err := m.getLoadAvg(ctx); err == nil {
		metrics.CPULoadAvg = avg.Load1
		cores := float64(m.getCPUCores())
		switch {
		case avg.Load1 >= cores*m.cfg.CPULoadCriticalFactor:
			score -= 50
		case avg.Load1 >= cores*m.cfg.CPULoadWarningFactor:
			score -= 25
		}
	} else {
		m.log.Debug("load average collection failed", logger.Error(err))
	}

	if vm, err := m.getMemStats(ctx); err == nil {
		metrics.MemoryPercent = vm.UsedPercent
		switch {
		case vm.UsedPercent >= m.cfg.MemoryCriticalPercent:
			score -= 50
		case vm.UsedPercent >= m.cfg.MemoryWarningPercent:
			score -= 25
		}
	} else {
		m.log.Debug("memory stats collection failed", logger.Error(err))
	}

	if score < 0 {
		score = 0
	}
	metrics.Score = score
	metrics.Zone = zoneForScore(score)

	m.mu.Lock()
	m.metrics = metrics
	m.mu.Unlock()

	if metrics.Zone != ZoneSafe {
		m.log.Warn("system under resource pressure",
			slog.String("zone", string(metrics.Zone)),
			slog.Int("score", score),
			slog.Float64("load_avg", metrics.CPULoadAvg),
			slog.Float64("memory_pct", metrics.MemoryPercent))
	}
}

func zoneForScore(score int) Zone {
	switch {
	case score <= 33:
		return ZoneCritical
	case score <= 66:
		return ZoneWarning
	default:
		return ZoneSafe
	}
}

// ConcurrencyScaler adjusts worker concurrency based on system health.
// Decreases apply quickly (1 minute cooldown, bypassed when critical);
// increases wait 5 minutes and grow by at most 50% per step.
type ConcurrencyScaler struct {
	monitor Monitor
	min     int
	max     int
	enabled bool

	mu             sync.Mutex
	current        int
	lastAdjustment time.Time
}

// NewConcurrencyScaler creates a scaler bounded by [min, max].
func NewConcurrencyScaler(monitor Monitor, enabled bool, min, max int) *ConcurrencyScaler {
	if min < 1 {
		min = 1
	}
	if max < min {
		max = min
	}
	return &ConcurrencyScaler{
		monitor:        monitor,
		enabled:        enabled,
		min:            min,
		max:            max,
		current:        max,
		lastAdjustment: time.Now(),
	}
}

// GetConcurrency returns the currently allowed concurrency. When scaling is
// disabled it returns staticValue unchanged.
func (s *ConcurrencyScaler) GetConcurrency(staticValue int) int {
	if !s.enabled {
		return staticValue
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	health := s.monitor.GetHealth()
	now := time.Now()
	sinceLast := now.Sub(s.lastAdjustment)

	zone := health.Zone
	if health.Stale {
		zone = ZoneWarning
	}

	target := s.current
	switch zone {
	case ZoneCritical:
		target = s.min
	case ZoneWarning:
		target = int(math.Max(float64(s.min), float64(s.max)*0.5))
	case ZoneSafe:
		target = s.max
	}

	if target < s.current {
		if zone == ZoneCritical || sinceLast >= time.Minute {
			s.current = target
			s.lastAdjustment = now
		}
	} else if target > s.current {
		if sinceLast >= 5*time.Minute {
			maxIncrease := int(math.Max(1.0, float64(s.current)*0.5))
			s.current = int(math.Min(float64(target), float64(s.current+maxIncrease)))
			s.lastAdjustment = now
		}
	}

	if s.current < s.min {
		s.current = s.min
	}
	if s.current > s.max {
		s.current = s.max
	}

	return s.current
}
