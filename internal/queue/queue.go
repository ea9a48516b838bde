// Package queue provides the local durable queue of pending mutations.
// Each entity kind has its own FIFO persisted as a single snapshot in the
// local store; every write replaces the whole snapshot so a partial write
// can never corrupt it.
package queue

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/timberline/fleetsync/internal/errors"
	"github.com/timberline/fleetsync/internal/events"
	"github.com/timberline/fleetsync/internal/logging"
	"github.com/timberline/fleetsync/internal/models"
	"github.com/timberline/fleetsync/internal/notify"
	"github.com/timberline/fleetsync/internal/store"
)

const (
	// DefaultMaxItems caps a single kind's queue.
	DefaultMaxItems = 1000
	// DefaultMaxRetries is how many failed replays a mutation gets before
	// it is parked as stalled.
	DefaultMaxRetries = 5
)

// DurableQueue manages per-kind FIFOs of pending mutations. All snapshot
// access is serialized through one mutex; the store is single-writer
// anyway.
type DurableQueue struct {
	store      *store.Store
	bus        *events.Bus
	notifier   *notify.Notifier
	mu         sync.Mutex
	maxItems   int
	maxRetries int
}

// New creates a DurableQueue over the given store. Non-positive limits
// use the defaults.
func New(s *store.Store, bus *events.Bus, maxItems, maxRetries int) *DurableQueue {
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &DurableQueue{
		store:      s,
		bus:        bus,
		notifier:   notify.NewNotifier(bus),
		maxItems:   maxItems,
		maxRetries: maxRetries,
	}
}

func snapshotKey(kind models.Kind) string {
	return "queue/" + string(kind)
}

// Enqueue appends a pending mutation to the kind's queue and persists the
// snapshot. Safe to call online or offline; storage failure surfaces to
// the caller because it means the item may be lost.
func (q *DurableQueue) Enqueue(kind models.Kind, op models.Op, targetID string, payload json.RawMessage, attachments []models.Attachment) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	items, err := q.load(kind)
	if err != nil {
		return "", err
	}

	if len(items) >= q.maxItems {
		return "", apperrors.New(apperrors.ErrQueueFull,
			fmt.Sprintf("queue for kind %q is full (max %d)", kind, q.maxItems))
	}

	now := time.Now().Unix()
	mutation := models.PendingMutation{
		LocalID:     uuid.New().String(),
		Kind:        kind,
		Op:          op,
		TargetID:    targetID,
		Payload:     payload,
		Attachments: attachments,
		RetryCount:  0,
		MaxRetries:  q.maxRetries,
		NextRetryAt: now,
		Status:      models.MutationPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	items = append(items, mutation)
	if err := q.save(kind, items); err != nil {
		return "", err
	}

	logging.Info("Queued mutation for later sync",
		map[string]interface{}{"kind": kind, "op": op, "local_id": mutation.LocalID})

	q.bus.Publish(events.EventSavedOffline,
		map[string]interface{}{"kind": string(kind), "local_id": mutation.LocalID})
	q.publishCount(kind, len(items))

	return mutation.LocalID, nil
}

// List returns the kind's pending mutations in insertion order (oldest
// first, the replay order).
func (q *DurableQueue) List(kind models.Kind) ([]models.PendingMutation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.load(kind)
}

// Remove rewrites the snapshot excluding the given local ids. Ids not
// present are ignored, so the call is idempotent.
func (q *DurableQueue) Remove(kind models.Kind, localIDs map[string]struct{}) error {
	if len(localIDs) == 0 {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	items, err := q.load(kind)
	if err != nil {
		return err
	}

	kept := items[:0]
	var droppedBlobs []string
	for _, item := range items {
		if _, drop := localIDs[item.LocalID]; drop {
			for _, a := range item.Attachments {
				droppedBlobs = append(droppedBlobs, a.ID)
			}
			continue
		}
		kept = append(kept, item)
	}

	if len(kept) == len(items) {
		return nil
	}

	if err := q.save(kind, kept); err != nil {
		return err
	}

	// Acknowledged mutations no longer need their staged attachment bodies.
	if len(droppedBlobs) > 0 {
		if err := q.store.DeleteBlobs(droppedBlobs); err != nil {
			logging.Error("Failed to clean up staged attachments", err,
				map[string]interface{}{"kind": kind, "count": len(droppedBlobs)})
		}
	}

	q.publishCount(kind, len(kept))
	return nil
}

// Count returns the number of pending mutations for the kind, used for UI
// badges.
func (q *DurableQueue) Count(kind models.Kind) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	items, err := q.load(kind)
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

// MarkFailed records a failed replay attempt: the retry counter advances,
// the next attempt is pushed out exponentially, and a mutation that
// exhausted its retries is parked as stalled until a human intervenes.
// The payload itself is never touched.
func (q *DurableQueue) MarkFailed(kind models.Kind, localID string, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	items, err := q.load(kind)
	if err != nil {
		return err
	}

	now := time.Now().Unix()
	found := false
	stalledNow := false
	for i := range items {
		if items[i].LocalID != localID {
			continue
		}
		found = true

		items[i].RetryCount++
		items[i].LastError = cause.Error()
		items[i].UpdatedAt = now

		if items[i].RetryCount >= items[i].MaxRetries {
			items[i].Status = models.MutationStalled
			stalledNow = true
			logging.Warn("Mutation exhausted retries, parked for manual resolution",
				map[string]interface{}{"kind": kind, "local_id": localID, "error": cause.Error()})
		} else {
			items[i].NextRetryAt = now + calculateBackoff(items[i].RetryCount)
		}
		break
	}

	if !found {
		return apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("mutation %s not found in %s queue", localID, kind))
	}

	if err := q.save(kind, items); err != nil {
		return err
	}

	// Parking is a user-visible state change: retries stopped, someone has
	// to look at the item.
	if stalledNow {
		stalled := 0
		for i := range items {
			if items[i].Status == models.MutationStalled {
				stalled++
			}
		}
		q.notifier.NeedsAttention(string(kind), stalled)
	}

	return nil
}

// RetryStalled resets every stalled mutation of the kind back to pending
// and returns how many were reset.
func (q *DurableQueue) RetryStalled(kind models.Kind) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	items, err := q.load(kind)
	if err != nil {
		return 0, err
	}

	now := time.Now().Unix()
	count := 0
	for i := range items {
		if items[i].Status != models.MutationStalled {
			continue
		}
		items[i].Status = models.MutationPending
		items[i].RetryCount = 0
		items[i].NextRetryAt = now
		items[i].LastError = ""
		items[i].UpdatedAt = now
		count++
	}

	if count == 0 {
		return 0, nil
	}

	if err := q.save(kind, items); err != nil {
		return 0, err
	}

	logging.Info("Reset stalled mutations for retry",
		map[string]interface{}{"kind": kind, "count": count})
	return count, nil
}

// Stalled returns the kind's mutations parked for manual resolution.
func (q *DurableQueue) Stalled(kind models.Kind) ([]models.PendingMutation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	items, err := q.load(kind)
	if err != nil {
		return nil, err
	}

	var stalled []models.PendingMutation
	for _, item := range items {
		if item.Status == models.MutationStalled {
			stalled = append(stalled, item)
		}
	}
	return stalled, nil
}

// load reads the kind's snapshot. A missing snapshot is an empty queue.
func (q *DurableQueue) load(kind models.Kind) ([]models.PendingMutation, error) {
	data, ok, err := q.store.Get(snapshotKey(kind))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	var items []models.PendingMutation
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage,
			fmt.Sprintf("corrupt snapshot for kind %q", kind), err)
	}
	return items, nil
}

// save replaces the kind's snapshot wholesale.
func (q *DurableQueue) save(kind models.Kind, items []models.PendingMutation) error {
	if len(items) == 0 {
		return q.store.Delete(snapshotKey(kind))
	}

	data, err := json.Marshal(items)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "failed to encode snapshot", err)
	}
	return q.store.Put(snapshotKey(kind), data)
}

func (q *DurableQueue) publishCount(kind models.Kind, count int) {
	q.bus.Publish(events.EventQueueChanged,
		map[string]interface{}{"kind": string(kind), "count": count})
}

// calculateBackoff returns the retry delay in seconds.
// Formula: 2^retry_count * 60, capped at 3600 seconds (1 hour).
func calculateBackoff(retryCount int) int64 {
	backoff := int64(1) << uint(retryCount)
	backoff = backoff * 60

	maxBackoff := int64(3600)
	if backoff > maxBackoff {
		backoff = maxBackoff
	}

	return backoff
}
