package sync

import (
	"context"
	"testing"
	"time"

	"github.com/timberline/fleetsync/internal/models"
	"github.com/timberline/fleetsync/internal/notify"
)

func TestSchedulerDrainsQueueWhileOnline(t *testing.T) {
	fx := newFixture(t)
	m := NewMonitor(fx.remote, fx.uploader, notify.NewNotifier(fx.bus), fx.bus, time.Hour)
	m.online = true

	fx.enqueueRecord(t, map[string]interface{}{"machine_id": "m-1"})

	s := NewScheduler(fx.uploader, m, "@every 1s")
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Stop()

	waitFor(t, 5*time.Second, func() bool {
		count, _ := fx.queue.Count(models.KindRecord)
		return count == 0
	})
}

func TestSchedulerSkipsWhileOffline(t *testing.T) {
	fx := newFixture(t)
	m := NewMonitor(fx.remote, fx.uploader, notify.NewNotifier(fx.bus), fx.bus, time.Hour)

	fx.enqueueRecord(t, map[string]interface{}{"machine_id": "m-1"})

	s := NewScheduler(fx.uploader, m, "@every 1s")
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Stop()

	time.Sleep(1500 * time.Millisecond)

	count, _ := fx.queue.Count(models.KindRecord)
	if count != 1 {
		t.Errorf("Offline scheduler must not drain the queue, got %d items", count)
	}
	if fx.remote.createCount() != 0 {
		t.Error("Offline scheduler must not touch the network")
	}
}

func TestSchedulerRejectsBadSpec(t *testing.T) {
	fx := newFixture(t)
	m := NewMonitor(fx.remote, fx.uploader, notify.NewNotifier(fx.bus), fx.bus, time.Hour)

	s := NewScheduler(fx.uploader, m, "not a schedule")
	if err := s.Start(context.Background()); err == nil {
		t.Error("Expected error for invalid schedule")
	}
}
