// Package sync provides the reconciliation core: the uploader that
// replays queued mutations against the remote service, the connectivity
// monitor that triggers it, and the duplicate suppression filter for
// checklist submissions.
package sync

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/timberline/fleetsync/internal/attach"
	apperrors "github.com/timberline/fleetsync/internal/errors"
	"github.com/timberline/fleetsync/internal/events"
	"github.com/timberline/fleetsync/internal/logging"
	"github.com/timberline/fleetsync/internal/models"
	"github.com/timberline/fleetsync/internal/notify"
	"github.com/timberline/fleetsync/internal/queue"
	"github.com/timberline/fleetsync/internal/remote"
)

// Result summarizes one reconciliation pass for a kind.
type Result struct {
	Attempted int
	Succeeded int
	Remaining int
	// Skipped is true when a pass for the kind was already running.
	Skipped bool
}

// Uploader drains pending queues against the remote service. Each kind is
// replayed in FIFO order; items are independent, so one failure never
// blocks the rest of the batch. A single kind never runs two passes at
// once; distinct kinds reconcile concurrently.
type Uploader struct {
	queue    *queue.DurableQueue
	remote   remote.Client
	stager   *attach.Stager
	notifier *notify.Notifier
	bus      *events.Bus
	kinds    []models.Kind

	mu       sync.Mutex
	inflight map[models.Kind]bool
}

// NewUploader creates an Uploader that reconciles the given kinds.
func NewUploader(q *queue.DurableQueue, r remote.Client, st *attach.Stager, n *notify.Notifier, bus *events.Bus, kinds []models.Kind) *Uploader {
	return &Uploader{
		queue:    q,
		remote:   r,
		stager:   st,
		notifier: n,
		bus:      bus,
		kinds:    kinds,
		inflight: make(map[models.Kind]bool),
	}
}

// Kinds returns the kinds this uploader drains.
func (u *Uploader) Kinds() []models.Kind {
	return u.kinds
}

// Reconcile replays the kind's due mutations. An empty queue returns
// immediately with no network call and no toast. If a pass for the kind is
// already running the call is skipped, never run concurrently.
func (u *Uploader) Reconcile(ctx context.Context, kind models.Kind) (Result, error) {
	u.mu.Lock()
	if u.inflight[kind] {
		u.mu.Unlock()
		logging.Debug("Reconciliation already running, skipping",
			map[string]interface{}{"kind": kind})
		return Result{Skipped: true}, nil
	}
	u.inflight[kind] = true
	u.mu.Unlock()

	defer func() {
		u.mu.Lock()
		u.inflight[kind] = false
		u.mu.Unlock()
	}()

	items, err := u.queue.List(kind)
	if err != nil {
		return Result{}, err
	}

	now := time.Now()
	var due []models.PendingMutation
	for _, item := range items {
		if item.Ready(now) {
			due = append(due, item)
		}
	}

	if len(due) == 0 {
		return Result{Remaining: len(items)}, nil
	}

	u.bus.Publish(events.EventSyncStarted,
		map[string]interface{}{"kind": string(kind), "pending": len(due)})

	succeeded := make(map[string]struct{})
	for _, item := range due {
		select {
		case <-ctx.Done():
			// Interrupted mid-batch: already-succeeded items are removed
			// below, unresolved ones stay queued for the next pass.
			return u.finish(kind, len(due), succeeded)
		default:
		}

		if err := u.replay(ctx, item); err != nil {
			logging.ErrorWithCode("Failed to replay mutation", string(apperrors.Code(err)), err,
				map[string]interface{}{"kind": kind, "local_id": item.LocalID, "op": item.Op})
			if markErr := u.queue.MarkFailed(kind, item.LocalID, err); markErr != nil {
				logging.Error("Failed to record replay failure", markErr,
					map[string]interface{}{"kind": kind, "local_id": item.LocalID})
			}
			continue
		}

		succeeded[item.LocalID] = struct{}{}
	}

	return u.finish(kind, len(due), succeeded)
}

// finish removes acknowledged items in one batched snapshot rewrite and
// emits the single summary notification for the pass.
func (u *Uploader) finish(kind models.Kind, attempted int, succeeded map[string]struct{}) (Result, error) {
	if err := u.queue.Remove(kind, succeeded); err != nil {
		return Result{}, err
	}

	remaining, err := u.queue.Count(kind)
	if err != nil {
		return Result{}, err
	}

	result := Result{
		Attempted: attempted,
		Succeeded: len(succeeded),
		Remaining: remaining,
	}

	switch {
	case result.Succeeded == 0:
		// Nothing synced: no toast, failures were already logged.
	case result.Remaining == 0:
		u.notifier.SyncComplete(result.Succeeded)
		u.bus.Publish(events.EventSyncCompleted,
			map[string]interface{}{"kind": string(kind), "synced": result.Succeeded})
	default:
		u.notifier.SyncPartial(result.Succeeded, result.Remaining)
		u.bus.Publish(events.EventSyncPartial,
			map[string]interface{}{"kind": string(kind), "synced": result.Succeeded, "remaining": result.Remaining})
	}

	logging.Info("Reconciliation pass finished",
		map[string]interface{}{
			"kind":      kind,
			"attempted": result.Attempted,
			"succeeded": result.Succeeded,
			"remaining": result.Remaining,
		})

	return result, nil
}

// replay performs the remote write for one mutation: attachments first,
// then the create or update. An attachment failure fails the whole item so
// it is retried wholesale, never partially applied.
func (u *Uploader) replay(ctx context.Context, item models.PendingMutation) error {
	payload := item.Payload

	if len(item.Attachments) > 0 {
		resolved, err := u.resolveAttachments(ctx, item)
		if err != nil {
			return err
		}
		payload = resolved
	}

	switch item.Op {
	case models.OpUpdate:
		_, err := u.remote.Update(ctx, string(item.Kind), item.TargetID, payload)
		return err
	default:
		_, err := u.remote.Create(ctx, string(item.Kind), payload)
		return err
	}
}

// resolveAttachments uploads each staged body and writes the returned URL
// into the payload field for its class.
func (u *Uploader) resolveAttachments(ctx context.Context, item models.PendingMutation) (json.RawMessage, error) {
	var fields map[string]interface{}
	if err := json.Unmarshal(item.Payload, &fields); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, "failed to decode payload for attachment resolution", err)
	}

	for _, att := range item.Attachments {
		body, err := u.stager.Load(att)
		if err != nil {
			return nil, err
		}

		url, err := u.remote.Upload(ctx, att.Name, body)
		if err != nil {
			return nil, err
		}

		fields[att.URLField()] = url
	}

	resolved, err := json.Marshal(fields)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, "failed to re-encode payload", err)
	}
	return resolved, nil
}

// ReconcileAll drains every registered kind. Kinds run concurrently; they
// are independent entity streams with no cross-kind ordering.
func (u *Uploader) ReconcileAll(ctx context.Context) map[models.Kind]Result {
	results := make(map[models.Kind]Result, len(u.kinds))

	var wg sync.WaitGroup
	var resultsMu sync.Mutex

	for _, kind := range u.kinds {
		wg.Add(1)
		go func(k models.Kind) {
			defer wg.Done()

			result, err := u.Reconcile(ctx, k)
			if err != nil {
				logging.Error("Reconciliation failed", err, map[string]interface{}{"kind": k})
				return
			}

			resultsMu.Lock()
			results[k] = result
			resultsMu.Unlock()
		}(kind)
	}

	wg.Wait()
	return results
}
