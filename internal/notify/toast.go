// Package notify translates sync outcomes into user-facing toasts.
package notify

import (
	"fmt"

	"github.com/timberline/fleetsync/internal/events"
)

// Toast severity levels understood by the UI.
const (
	LevelInfo    = "info"
	LevelSuccess = "success"
	LevelWarning = "warning"
)

// Notifier publishes toast events on the bus. Per-item failure detail is
// logged, never toasted; the user only sees the summary.
type Notifier struct {
	bus *events.Bus
}

// NewNotifier creates a new Notifier.
func NewNotifier(bus *events.Bus) *Notifier {
	return &Notifier{bus: bus}
}

// Offline announces the transition to offline mode.
func (n *Notifier) Offline() {
	n.toast(LevelWarning, "You're offline. Changes will be saved on this device.")
}

// Reconnecting announces the transition back online.
func (n *Notifier) Reconnecting() {
	n.toast(LevelInfo, "Back online. Syncing saved changes…")
}

// SavedOffline confirms a change was queued locally.
func (n *Notifier) SavedOffline() {
	n.toast(LevelInfo, "Saved on this device. It will sync when you're back online.")
}

// SyncComplete announces a fully successful reconciliation pass.
func (n *Notifier) SyncComplete(synced int) {
	n.toast(LevelSuccess, fmt.Sprintf("Sync Complete: %d items synced.", synced))
}

// SyncPartial announces a partially successful reconciliation pass.
func (n *Notifier) SyncPartial(synced, remaining int) {
	n.toast(LevelWarning, fmt.Sprintf("Partial Sync: %d synced. %d remain.", synced, remaining))
}

// NeedsAttention announces that items exhausted their retries and require
// manual resolution.
func (n *Notifier) NeedsAttention(kind string, count int) {
	n.toast(LevelWarning, fmt.Sprintf("%d %s items need attention before they can sync.", count, kind))
}

func (n *Notifier) toast(level, message string) {
	n.bus.Publish(events.EventToast, map[string]interface{}{
		"level":   level,
		"message": message,
	})
}
