package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/fieldhq/fieldsync/internal/errors"
	"github.com/fieldhq/fieldsync/internal/models"
	"github.com/fieldhq/fieldsync/internal/network"
	"github.com/fieldhq/fieldsync/internal/service"
	"github.com/fieldhq/fieldsync/internal/store"
	syncpkg "github.com/fieldhq/fieldsync/internal/sync"
	"github.com/fieldhq/fieldsync/internal/sync/scheduler"
)

// SyncHandler exposes sync status, the manual trigger, conflict review
// and the host's connectivity report.
type SyncHandler struct {
	engine  syncpkg.EngineInterface
	sched   *scheduler.Scheduler
	service *service.TaskService
	repo    *store.Repository
	monitor *network.Monitor
}

// NewSyncHandler creates a SyncHandler.
func NewSyncHandler(engine syncpkg.EngineInterface, sched *scheduler.Scheduler, svc *service.TaskService, repo *store.Repository, monitor *network.Monitor) *SyncHandler {
	return &SyncHandler{
		engine:  engine,
		sched:   sched,
		service: svc,
		repo:    repo,
		monitor: monitor,
	}
}

// GetStatus handles GET /sync/status.
func (h *SyncHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	pending, err := h.service.GetPendingSyncCount()
	if err != nil {
		writeError(w, err)
		return
	}

	st := h.sched.Status()
	schedStatus := map[string]interface{}{
		"running":     st.Running,
		"online":      st.Online,
		"interval_ms": st.Interval.Milliseconds(),
	}
	if !st.LastPassAt.IsZero() {
		schedStatus["last_pass_at"] = st.LastPassAt.UTC().Format(time.RFC3339)
	}

	response := map[string]interface{}{
		"state":     string(h.engine.State()),
		"scheduler": schedStatus,
		"pending":   pending,
	}
	if last := h.engine.LastResult(); last != nil {
		response["last_result"] = resultBody(last)
	}

	writeJSON(w, http.StatusOK, response)
}

// TriggerSync handles POST /sync/trigger. The optional force flag makes
// the trigger wait for a running pass instead of being dropped.
func (h *SyncHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Force bool `json:"force"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			writeError(w, errors.New(errors.ErrValidation, "invalid request body"))
			return
		}
	}

	result, err := h.engine.Sync(r.Context(), request.Force)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resultBody(result))
}

// ListConflicts handles GET /sync/conflicts: every task parked for
// manual review, joined with its open conflict log entry.
func (h *SyncHandler) ListConflicts(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.service.GetConflictedTasks()
	if err != nil {
		writeError(w, err)
		return
	}
	open, err := h.repo.ListOpenConflicts()
	if err != nil {
		writeError(w, errors.Wrap(errors.ErrDatabase, "failed to list conflict log", err))
		return
	}

	logByTask := make(map[string]*models.ConflictLog, len(open))
	for _, entry := range open {
		logByTask[entry.TaskID.String()] = entry
	}

	items := make([]map[string]interface{}, 0, len(tasks))
	for _, task := range tasks {
		item := map[string]interface{}{"task": task}
		if entry, ok := logByTask[task.ID.String()]; ok {
			item["source"] = entry.Source
			item["detected_at"] = entry.DetectedAt
			item["local_updated_at"] = entry.LocalUpdatedAt
			item["remote_updated_at"] = entry.RemoteUpdatedAt
		}
		items = append(items, item)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conflicts": items,
		"count":     len(items),
	})
}

// ResolveConflict handles POST /sync/conflicts/resolve.
func (h *SyncHandler) ResolveConflict(w http.ResponseWriter, r *http.Request) {
	var request struct {
		TaskID     string `json:"task_id"`
		Resolution string `json:"resolution"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, errors.New(errors.ErrValidation, "invalid request body"))
		return
	}
	if request.TaskID == "" {
		writeError(w, errors.New(errors.ErrValidation, "task_id is required"))
		return
	}

	if err := h.engine.ResolveConflict(r.Context(), request.TaskID, request.Resolution); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "resolved",
		"task_id":    request.TaskID,
		"resolution": request.Resolution,
	})
}

// GetPending handles GET /sync/pending.
func (h *SyncHandler) GetPending(w http.ResponseWriter, r *http.Request) {
	pending, err := h.service.GetPendingSyncCount()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"pending": pending,
		"total":   pending.Total(),
	})
}

// ReportConnectivity handles POST /network/connectivity, the host's
// device-network report. Losing the network settles the verdict offline
// at once; regaining it is confirmed by the next reachability probe.
func (h *SyncHandler) ReportConnectivity(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Connected *bool `json:"connected"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, errors.New(errors.ErrValidation, "invalid request body"))
		return
	}
	if request.Connected == nil {
		writeError(w, errors.New(errors.ErrValidation, "connected is required"))
		return
	}

	h.monitor.SetConnected(*request.Connected)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"connected": *request.Connected,
	})
}

// resultBody shapes a pass result for the wire.
func resultBody(result *syncpkg.Result) map[string]interface{} {
	body := map[string]interface{}{
		"state":           string(result.State),
		"started_at":      result.StartedAt.UTC().Format(time.RFC3339),
		"duration_ms":     result.Duration.Milliseconds(),
		"users_pulled":    result.UsersPulled,
		"sites_pulled":    result.SitesPulled,
		"deletes_pushed":  result.DeletesPushed,
		"tasks_pushed":    result.TasksPushed,
		"tasks_pulled":    result.TasksPulled,
		"photos_uploaded": result.PhotosUploaded,
		"comments_pushed": result.CommentsPushed,
	}
	if len(result.ConflictedTaskIDs) > 0 {
		body["conflicted_task_ids"] = result.ConflictedTaskIDs
	}
	if len(result.Errors) > 0 {
		body["errors"] = result.Errors
	}
	return body
}
