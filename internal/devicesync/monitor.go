package devicesync

import (
	"context"
	"fmt"
	"sync"
	"time"

	pkgerrors "github.com/angelmondragon/cartsync/pkg/errors"
	"github.com/angelmondragon/cartsync/pkg/logger"
	"github.com/angelmondragon/cartsync/pkg/metrics"
	"go.uber.org/multierr"
)

// Status is the presentation-level sync state of this device.
type Status string

const (
	StatusSynced  Status = "synced"
	StatusSyncing Status = "syncing"
	StatusError   Status = "error"
	StatusOffline Status = "offline"
)

var allStatuses = []string{string(StatusSynced), string(StatusSyncing), string(StatusError), string(StatusOffline)}

const (
	defaultInterval      = 30 * time.Second
	defaultProbeInterval = 10 * time.Second
)

// Prober checks whether the remote service is reachable.
type Prober interface {
	Health(ctx context.Context) error
}

// Snapshot is a copy of the monitor state.
type Snapshot struct {
	Status       Status    `json:"status"`
	Online       bool      `json:"online"`
	LastSyncedAt time.Time `json:"lastSyncedAt,omitempty"`
	LastError    string    `json:"lastError,omitempty"`
}

// MonitorParams configure the monitor.
type MonitorParams struct {
	Logger        *logger.Logger
	Prober        Prober
	Registry      *Registry
	Metrics       *metrics.SyncMetrics
	Interval      time.Duration
	ProbeInterval time.Duration
	Now           func() time.Time
}

// Monitor derives the device sync status from connectivity and a fixed-interval
// reconciliation tick. Failures only change the reported status.
type Monitor struct {
	logg          *logger.Logger
	prober        Prober
	registry      *Registry
	metrics       *metrics.SyncMetrics
	interval      time.Duration
	probeInterval time.Duration
	now           func() time.Time

	tickMu sync.Mutex

	mu        sync.Mutex
	state     Snapshot
	listeners map[int]func(Snapshot)
	nextID    int
}

func NewMonitor(params MonitorParams) (*Monitor, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	registry := params.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	interval := params.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	probeInterval := params.ProbeInterval
	if probeInterval <= 0 {
		probeInterval = defaultProbeInterval
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	m := &Monitor{
		logg:          params.Logger,
		prober:        params.Prober,
		registry:      registry,
		metrics:       params.Metrics,
		interval:      interval,
		probeInterval: probeInterval,
		now:           now,
		state:         Snapshot{Status: StatusSynced, Online: true},
		listeners:     make(map[int]func(Snapshot)),
	}
	m.metrics.SetDeviceStatus(string(StatusSynced), allStatuses)
	return m, nil
}

// Status returns the current state.
func (m *Monitor) Status() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe registers fn for status changes and returns its cancel func.
func (m *Monitor) Subscribe(fn func(Snapshot)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// Run probes connectivity and reconciles on a fixed cadence until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	m.probe(ctx)
	m.tick(ctx)

	syncTicker := time.NewTicker(m.interval)
	defer syncTicker.Stop()
	probeTicker := time.NewTicker(m.probeInterval)
	defer probeTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logg.Info(ctx, "device sync monitor context canceled")
			return ctx.Err()
		case <-probeTicker.C:
			m.probe(ctx)
		case <-syncTicker.C:
			m.tick(ctx)
		}
	}
}

// SetOnline records a connectivity change. Coming back online triggers an
// immediate reconciliation.
func (m *Monitor) SetOnline(ctx context.Context, online bool) {
	changed := m.transition(func(s *Snapshot) bool {
		if s.Online == online {
			return false
		}
		s.Online = online
		if online {
			s.Status = StatusSyncing
		} else {
			s.Status = StatusOffline
		}
		return true
	})
	if !changed {
		return
	}
	if !online {
		m.logg.Warn(ctx, "device offline")
		return
	}
	m.logg.Info(ctx, "device back online")
	m.tick(ctx)
}

// SyncNow runs one reconciliation tick and returns its combined job error.
func (m *Monitor) SyncNow(ctx context.Context) error {
	return m.tick(ctx)
}

func (m *Monitor) probe(ctx context.Context) {
	if m.prober == nil {
		return
	}
	err := m.prober.Health(ctx)
	switch {
	case err == nil:
		m.SetOnline(ctx, true)
	case pkgerrors.IsNetwork(err):
		m.SetOnline(ctx, false)
	default:
		// reachable but unhealthy
		m.logg.WarnErr(ctx, "remote health probe failed", err)
		m.SetOnline(ctx, true)
	}
}

func (m *Monitor) tick(ctx context.Context) error {
	m.tickMu.Lock()
	defer m.tickMu.Unlock()

	if !m.Status().Online {
		m.metrics.IncSyncTick("skipped")
		return nil
	}
	m.transition(func(s *Snapshot) bool {
		s.Status = StatusSyncing
		return true
	})

	var errs error
	for _, job := range m.registry.Jobs() {
		errs = multierr.Append(errs, m.runJob(ctx, job))
	}

	if errs != nil {
		m.metrics.IncSyncTick("error")
		m.transition(func(s *Snapshot) bool {
			s.LastError = errs.Error()
			if s.Online {
				s.Status = StatusError
			}
			return true
		})
		return errs
	}
	m.metrics.IncSyncTick("ok")
	m.transition(func(s *Snapshot) bool {
		s.LastError = ""
		s.LastSyncedAt = m.now().UTC()
		if s.Online {
			s.Status = StatusSynced
		}
		return true
	})
	return nil
}

func (m *Monitor) runJob(ctx context.Context, job Job) error {
	jobCtx := m.logg.WithField(ctx, "job", job.Name())
	jobCtx = m.logg.WithField(jobCtx, "event", "devicesync.job")
	start := time.Now()
	err := job.Run(jobCtx)
	jobCtx = m.logg.WithField(jobCtx, "duration_ms", time.Since(start).Milliseconds())
	if err != nil {
		if pkgerrors.IsNetwork(err) {
			m.logg.WarnErr(jobCtx, "job failed", err)
		} else {
			m.logg.Error(jobCtx, "job failed", err)
		}
		return fmt.Errorf("%s: %w", job.Name(), err)
	}
	m.logg.Debug(jobCtx, "job completed")
	return nil
}

// transition applies fn under the state lock. fn reports whether it changed
// anything; listeners only hear about changes. The result is fn's report.
func (m *Monitor) transition(fn func(*Snapshot) bool) bool {
	m.mu.Lock()
	before := m.state.Status
	if !fn(&m.state) {
		m.mu.Unlock()
		return false
	}
	snap := m.state
	listeners := make([]func(Snapshot), 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l)
	}
	m.mu.Unlock()

	if snap.Status != before {
		m.metrics.SetDeviceStatus(string(snap.Status), allStatuses)
	}
	for _, l := range listeners {
		l(snap)
	}
	return true
}
