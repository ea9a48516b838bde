// Package fleet provides the domain operations the UI calls: submitting
// operator checklists and posting team messages. Each operation attempts
// the remote write directly and falls back to the durable queue when the
// device is offline or the write fails, so user data is never lost to a
// transient failure.
package fleet

import (
	"context"
	"encoding/json"
	"fmt"

	apperrors "github.com/timberline/fleetsync/internal/errors"
	"github.com/timberline/fleetsync/internal/logging"
	"github.com/timberline/fleetsync/internal/models"
	"github.com/timberline/fleetsync/internal/notify"
	"github.com/timberline/fleetsync/internal/queue"
	"github.com/timberline/fleetsync/internal/remote"
	syncpkg "github.com/timberline/fleetsync/internal/sync"
)

// SubmitResult describes what happened to a submission.
type SubmitResult struct {
	// Created is true when a new remote record was written directly.
	Created bool `json:"created"`
	// Queued is true when the write was stored locally for later sync.
	Queued bool `json:"queued"`
	// Suppressed is true when the submission matched the previous record
	// and no new record was produced.
	Suppressed bool `json:"suppressed"`
	// LocalID is set when Queued is true.
	LocalID string `json:"local_id,omitempty"`
}

// Connectivity is the slice of the monitor the service depends on.
type Connectivity interface {
	IsOnline() bool
}

// Service wires the domain operations to the queue, the remote client,
// and the duplicate filter.
type Service struct {
	queue    *queue.DurableQueue
	remote   remote.Client
	filter   *syncpkg.DuplicateFilter
	monitor  Connectivity
	notifier *notify.Notifier
	uploader *syncpkg.Uploader
}

// NewService creates a Service. The uploader may be nil; without it,
// writes queued while online wait for the next scheduled pass.
func NewService(q *queue.DurableQueue, r remote.Client, f *syncpkg.DuplicateFilter, m Connectivity, n *notify.Notifier, u *syncpkg.Uploader) *Service {
	return &Service{
		queue:    q,
		remote:   r,
		filter:   f,
		monitor:  m,
		notifier: n,
		uploader: u,
	}
}

// SubmitChecklist handles one operator checklist submission. A submission
// identical to the machine's previous record is suppressed, but the
// machine's hour meter is still updated; suppression prevents duplicate
// records, not duplicate state updates.
func (s *Service) SubmitChecklist(ctx context.Context, rec *models.ChecklistRecord, attachments []models.Attachment) (SubmitResult, error) {
	if rec.MachineID == "" {
		return SubmitResult{}, apperrors.New(apperrors.ErrInvalid, "checklist record requires a machine id")
	}

	// Hour meter first: it applies whether or not the record is a
	// duplicate.
	s.updateMachineHours(ctx, rec.MachineID, rec.Hours)

	if s.monitor.IsOnline() && s.filter.IsDuplicateOfLast(ctx, rec.MachineID, rec) {
		logging.Info("Checklist identical to previous submission, suppressed",
			map[string]interface{}{"machine_id": rec.MachineID, "operator": rec.Operator})
		return SubmitResult{Suppressed: true}, nil
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return SubmitResult{}, apperrors.Wrap(apperrors.ErrInternal, "failed to encode checklist", err)
	}

	return s.writeOrQueue(ctx, models.KindRecord, payload, attachments)
}

// PostMessage handles one message-board post.
func (s *Service) PostMessage(ctx context.Context, msg *models.Message, attachments []models.Attachment) (SubmitResult, error) {
	if msg.Body == "" {
		return SubmitResult{}, apperrors.New(apperrors.ErrInvalid, "message requires a body")
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return SubmitResult{}, apperrors.Wrap(apperrors.ErrInternal, "failed to encode message", err)
	}

	return s.writeOrQueue(ctx, models.KindMessage, payload, attachments)
}

// writeOrQueue attempts the direct remote create and enqueues on
// offline or failure. Writes with attachments always go through the
// queue so attachment resolution stays in the uploader's replay path;
// while online an immediate reconcile pass drains them right away.
func (s *Service) writeOrQueue(ctx context.Context, kind models.Kind, payload json.RawMessage, attachments []models.Attachment) (SubmitResult, error) {
	online := s.monitor.IsOnline()

	if online && len(attachments) == 0 {
		_, err := s.remote.Create(ctx, string(kind), payload)
		if err == nil {
			return SubmitResult{Created: true}, nil
		}

		logging.Warn("Direct write failed, queueing locally",
			map[string]interface{}{"kind": kind, "error": err.Error()})
	}

	localID, err := s.queue.Enqueue(kind, models.OpCreate, "", payload, attachments)
	if err != nil {
		return SubmitResult{}, err
	}

	if online {
		// Queued while connected: drain now instead of waiting for the
		// schedule. The pass reports the outcome, so no toast here.
		if s.uploader != nil {
			go s.uploader.ReconcileAll(context.Background())
		}
	} else {
		s.notifier.SavedOffline()
	}

	return SubmitResult{Queued: true, LocalID: localID}, nil
}

// updateMachineHours pushes the hour-meter reading to the machine record.
// Online failures and offline periods fall back to a queued partial
// update; the reading is carried in the mutation, so replay applies the
// same value.
func (s *Service) updateMachineHours(ctx context.Context, machineID string, hours float64) {
	if hours <= 0 {
		return
	}

	partial := json.RawMessage(fmt.Sprintf(`{"hours":%g}`, hours))

	if s.monitor.IsOnline() {
		_, err := s.remote.Update(ctx, string(models.KindMachine), machineID, partial)
		if err == nil {
			return
		}
		logging.Warn("Hour meter update failed, queueing locally",
			map[string]interface{}{"machine_id": machineID, "error": err.Error()})
	}

	if _, err := s.queue.Enqueue(models.KindMachine, models.OpUpdate, machineID, partial, nil); err != nil {
		logging.Error("Failed to queue hour meter update", err,
			map[string]interface{}{"machine_id": machineID})
	}
}
