package sync

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/timberline/fleetsync/internal/errors"
	"github.com/timberline/fleetsync/internal/events"
	"github.com/timberline/fleetsync/internal/models"
	"github.com/timberline/fleetsync/internal/notify"
)

func newMonitorFixture(t *testing.T) (*fixture, *Monitor) {
	t.Helper()

	fx := newFixture(t)
	n := notify.NewNotifier(fx.bus)
	m := NewMonitor(fx.remote, fx.uploader, n, fx.bus, time.Hour)
	return fx, m
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Condition not met before timeout")
}

func TestStartInitializesFromProbe(t *testing.T) {
	fx, m := newMonitorFixture(t)

	m.Start(context.Background())
	defer m.Stop()

	if !m.IsOnline() {
		t.Error("Expected monitor online after successful probe")
	}
	if fx.remote.pingCount() == 0 {
		t.Error("Expected an initial probe")
	}
}

func TestStartOfflineWhenProbeFails(t *testing.T) {
	fx, m := newMonitorFixture(t)
	fx.remote.pingFn = func() error {
		return apperrors.New(apperrors.ErrNetwork, "no route to host")
	}

	m.Start(context.Background())
	defer m.Stop()

	if m.IsOnline() {
		t.Error("Expected monitor offline after failed probe")
	}
}

func TestTransitionToOnlineDrainsQueues(t *testing.T) {
	fx, m := newMonitorFixture(t)
	m.ctx = context.Background()

	fx.enqueueRecord(t, map[string]interface{}{"machine_id": "m-1"})

	ch, cancel := fx.bus.Subscribe()
	defer cancel()

	m.SetOnline(true)

	waitFor(t, 2*time.Second, func() bool { return fx.remote.createCount() == 1 })

	count, _ := fx.queue.Count(models.KindRecord)
	if count != 0 {
		t.Errorf("Expected queue drained after reconnect, got %d", count)
	}

	waitFor(t, time.Second, func() bool {
		for _, msg := range drainToasts(ch) {
			if strings.Contains(msg, "Back online") {
				return true
			}
		}
		return false
	})
}

func TestTransitionToOfflineMakesNoNetworkCalls(t *testing.T) {
	fx, m := newMonitorFixture(t)
	m.ctx = context.Background()
	m.online = true

	ch, cancel := fx.bus.Subscribe()
	defer cancel()

	before := fx.remote.pingCount()
	m.SetOnline(false)

	if fx.remote.pingCount() != before || fx.remote.createCount() != 0 {
		t.Error("Going offline must not touch the network")
	}
	if m.IsOnline() {
		t.Error("Expected offline state")
	}

	toasts := drainToasts(ch)
	found := false
	for _, msg := range toasts {
		if strings.Contains(msg, "offline") {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected offline toast, got %v", toasts)
	}
}

func TestRepeatedSignalsHaveNoEffect(t *testing.T) {
	fx, m := newMonitorFixture(t)
	m.ctx = context.Background()
	m.online = true

	ch, cancel := fx.bus.Subscribe()
	defer cancel()

	m.SetOnline(true)
	m.SetOnline(true)

	if toasts := drainToasts(ch); len(toasts) != 0 {
		t.Errorf("Expected no toasts for repeated online signal, got %v", toasts)
	}
}

func TestFlappingDoesNotOverlapPasses(t *testing.T) {
	fx, m := newMonitorFixture(t)
	m.ctx = context.Background()

	fx.enqueueRecord(t, map[string]interface{}{"machine_id": "m-1"})

	// Rapid offline/online flapping: the per-kind guard in the uploader
	// means at most one pass touches the queue at a time, and each extra
	// transition triggers at most one more (idempotent) drain.
	for i := 0; i < 5; i++ {
		m.SetOnline(true)
		m.SetOnline(false)
	}
	m.SetOnline(true)

	waitFor(t, 2*time.Second, func() bool {
		count, _ := fx.queue.Count(models.KindRecord)
		return count == 0
	})

	if got := fx.remote.createCount(); got != 1 {
		t.Errorf("Expected the single queued item created once, got %d creates", got)
	}
}

func TestProbeLoopDetectsTransitions(t *testing.T) {
	fx := newFixture(t)
	n := notify.NewNotifier(fx.bus)
	m := NewMonitor(fx.remote, fx.uploader, n, fx.bus, 10*time.Millisecond)

	var failing atomic.Bool
	fx.remote.setPingFn(func() error {
		if failing.Load() {
			return apperrors.New(apperrors.ErrNetwork, "down")
		}
		return nil
	})

	ch, cancel := fx.bus.Subscribe()
	defer cancel()

	m.Start(context.Background())
	defer m.Stop()

	failing.Store(true)
	waitFor(t, 2*time.Second, func() bool { return !m.IsOnline() })

	sawChange := false
	for len(ch) > 0 {
		if event := <-ch; event.Type == events.EventConnectivityChanged {
			sawChange = true
		}
	}
	if !sawChange {
		t.Error("Expected connectivity.changed event from probe loop")
	}
}
