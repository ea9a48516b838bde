package sync

import (
	"context"
	"sync"
	"time"

	"github.com/timberline/fleetsync/internal/events"
	"github.com/timberline/fleetsync/internal/logging"
	"github.com/timberline/fleetsync/internal/notify"
	"github.com/timberline/fleetsync/internal/remote"
)

// DefaultProbeInterval is how often the monitor pings the remote service.
const DefaultProbeInterval = 30 * time.Second

// Monitor tracks whether the remote service is reachable. The flag is
// initialized from an initial probe, then updated by a periodic probe loop
// and by explicit SetOnline signals from the platform. On the transition
// back online it kicks off reconciliation for every kind; going offline
// only updates state and tells the user.
type Monitor struct {
	remote   remote.Client
	uploader *Uploader
	notifier *notify.Notifier
	bus      *events.Bus
	interval time.Duration

	mu     sync.RWMutex
	online bool

	ctx    context.Context
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewMonitor creates a Monitor. A zero interval uses DefaultProbeInterval.
func NewMonitor(r remote.Client, u *Uploader, n *notify.Notifier, bus *events.Bus, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	return &Monitor{
		remote:   r,
		uploader: u,
		notifier: n,
		bus:      bus,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start probes once to initialize the flag, then begins the periodic probe
// loop.
func (m *Monitor) Start(ctx context.Context) {
	m.ctx = ctx

	online := m.probe(ctx)
	m.mu.Lock()
	m.online = online
	m.mu.Unlock()

	logging.Info("Connectivity monitor started",
		map[string]interface{}{"online": online, "probe_interval": m.interval.String()})

	// Anything queued while the agent was down is drained on startup.
	if online {
		go m.uploader.ReconcileAll(ctx)
	}

	m.wg.Add(1)
	go m.probeLoop(ctx)
}

// Stop halts the probe loop.
func (m *Monitor) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

// IsOnline returns the current connectivity state.
func (m *Monitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// SetOnline applies a connectivity transition. Explicit platform signals
// and the probe loop both land here; only actual transitions have side
// effects, so probe repeats and rapid flapping collapse into single
// notifications (the uploader guards against overlapping passes itself).
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	wasOnline := m.online
	m.online = online
	m.mu.Unlock()

	if wasOnline == online {
		return
	}

	logging.Info("Connectivity changed",
		map[string]interface{}{"was_online": wasOnline, "online": online})
	m.bus.Publish(events.EventConnectivityChanged,
		map[string]interface{}{"online": online})

	if online {
		m.notifier.Reconnecting()
		ctx := m.ctx
		if ctx == nil {
			ctx = context.Background()
		}
		go m.uploader.ReconcileAll(ctx)
	} else {
		// No network calls on the way down.
		m.notifier.Offline()
	}
}

// probeLoop periodically pings the remote service.
func (m *Monitor) probeLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.SetOnline(m.probe(ctx))
		}
	}
}

// probe pings the remote health endpoint with a bounded timeout.
func (m *Monitor) probe(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := m.remote.Ping(probeCtx); err != nil {
		logging.Debug("Connectivity probe failed", map[string]interface{}{"error": err.Error()})
		return false
	}
	return true
}
