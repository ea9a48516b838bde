// Package api exposes the local HTTP surface the SPA talks to: queue
// status, manual sync triggers, and the WebSocket event stream.
package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/timberline/fleetsync/internal/attach"
	apperrors "github.com/timberline/fleetsync/internal/errors"
	"github.com/timberline/fleetsync/internal/events"
	"github.com/timberline/fleetsync/internal/fleet"
	"github.com/timberline/fleetsync/internal/logging"
	"github.com/timberline/fleetsync/internal/models"
	"github.com/timberline/fleetsync/internal/queue"
	syncpkg "github.com/timberline/fleetsync/internal/sync"
)

// Handler serves the local API.
type Handler struct {
	queue    *queue.DurableQueue
	uploader *syncpkg.Uploader
	monitor  *syncpkg.Monitor
	hub      *events.Hub
	fleet    *fleet.Service
	stager   *attach.Stager
}

// NewHandler creates a Handler.
func NewHandler(q *queue.DurableQueue, u *syncpkg.Uploader, m *syncpkg.Monitor, hub *events.Hub, svc *fleet.Service, st *attach.Stager) *Handler {
	return &Handler{
		queue:    q,
		uploader: u,
		monitor:  m,
		hub:      hub,
		fleet:    svc,
		stager:   st,
	}
}

// Routes builds the router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Get("/health", h.HealthCheck)
	r.Get("/ws", events.HandleWebSocket(h.hub))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/queue/status", h.QueueStatus)
		r.Post("/sync/trigger", h.TriggerSync)
		r.Post("/queue/{kind}/retry", h.RetryStalled)
		r.Post("/checklists", h.SubmitChecklist)
		r.Post("/messages", h.PostMessage)
		r.Post("/attachments", h.StageAttachment)
	})

	return r
}

// HealthCheck reports liveness of the local agent, not of the remote
// service; the SPA uses /api/v1/queue/status for connectivity.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

type kindStatus struct {
	Pending int `json:"pending"`
	Stalled int `json:"stalled"`
}

type queueStatusResponse struct {
	Online bool                  `json:"online"`
	Queues map[string]kindStatus `json:"queues"`
}

// QueueStatus returns per-kind pending and stalled counts plus the
// connectivity flag.
func (h *Handler) QueueStatus(w http.ResponseWriter, r *http.Request) {
	resp := queueStatusResponse{
		Online: h.monitor.IsOnline(),
		Queues: make(map[string]kindStatus),
	}

	for _, kind := range h.uploader.Kinds() {
		pending, err := h.queue.Count(kind)
		if err != nil {
			writeError(w, err)
			return
		}
		stalled, err := h.queue.Stalled(kind)
		if err != nil {
			writeError(w, err)
			return
		}
		resp.Queues[string(kind)] = kindStatus{Pending: pending, Stalled: len(stalled)}
	}

	writeJSON(w, http.StatusOK, resp)
}

// TriggerSync starts a reconciliation pass for every kind and returns the
// per-kind results.
func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	if !h.monitor.IsOnline() {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "offline"})
		return
	}

	results := h.uploader.ReconcileAll(r.Context())

	summary := make(map[string]syncpkg.Result, len(results))
	for kind, result := range results {
		summary[string(kind)] = result
	}
	writeJSON(w, http.StatusOK, summary)
}

// RetryStalled re-arms mutations that exhausted their retry budget for
// the given kind.
func (h *Handler) RetryStalled(w http.ResponseWriter, r *http.Request) {
	kind := models.Kind(chi.URLParam(r, "kind"))

	revived, err := h.queue.RetryStalled(kind)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"revived": revived})
}

type submitChecklistRequest struct {
	Record      models.ChecklistRecord `json:"record"`
	Attachments []models.Attachment    `json:"attachments,omitempty"`
}

// SubmitChecklist accepts one checklist submission from the UI and runs
// the write-or-queue flow.
func (h *Handler) SubmitChecklist(w http.ResponseWriter, r *http.Request) {
	var req submitChecklistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return
	}

	result, err := h.fleet.SubmitChecklist(r.Context(), &req.Record, req.Attachments)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrInvalid) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

type postMessageRequest struct {
	Message     models.Message      `json:"message"`
	Attachments []models.Attachment `json:"attachments,omitempty"`
}

// PostMessage accepts one message-board post from the UI.
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return
	}

	result, err := h.fleet.PostMessage(r.Context(), &req.Message, req.Attachments)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrInvalid) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// StageAttachment stores an uploaded body in the local blob bucket and
// returns the reference to carry in a submission.
func (h *Handler) StageAttachment(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing file field"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, err)
		return
	}

	att, err := h.stager.Stage(header.Filename, data)
	if err != nil {
		switch {
		case apperrors.Is(err, apperrors.ErrAttachmentTooLarge):
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": err.Error()})
		case apperrors.Is(err, apperrors.ErrInvalid):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		default:
			writeError(w, err)
		}
		return
	}

	writeJSON(w, http.StatusOK, att)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("Failed to encode response", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	logging.Error("Request failed", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

// corsMiddleware allows the SPA dev server to reach the agent from a
// different port on the same host.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type")

		if r.Method == http.MethodOptions {
			return
		}

		next.ServeHTTP(w, r)
	})
}
