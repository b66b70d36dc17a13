package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/fieldhq/fieldsync/internal/errors"
	"github.com/fieldhq/fieldsync/internal/models"
	"github.com/fieldhq/fieldsync/internal/service"
)

// TaskHandler exposes the local task facade. Every write lands in the
// store immediately and is picked up by the next sync pass; nothing
// here touches the network.
type TaskHandler struct {
	service *service.TaskService
}

// NewTaskHandler creates a TaskHandler.
func NewTaskHandler(svc *service.TaskService) *TaskHandler {
	return &TaskHandler{service: svc}
}

// ListTasks handles GET /tasks. All filters are optional; from and to
// are epoch milliseconds against updated_at.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	limit, _ := strconv.Atoi(params.Get("limit"))
	offset, _ := strconv.Atoi(params.Get("offset"))
	from, _ := strconv.ParseInt(params.Get("from"), 10, 64)
	to, _ := strconv.ParseInt(params.Get("to"), 10, 64)

	tasks, err := h.service.GetTasks(service.TaskQuery{
		Status:     models.TaskStatus(params.Get("status")),
		Priority:   models.TaskPriority(params.Get("priority")),
		AssignedTo: params.Get("assigned_to"),
		SiteID:     params.Get("site_id"),
		Search:     params.Get("search"),
		From:       from,
		To:         to,
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tasks": tasks,
		"count": len(tasks),
	})
}

// CreateTask handles POST /tasks.
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Title       string   `json:"title"`
		Description string   `json:"description"`
		Status      string   `json:"status"`
		Priority    string   `json:"priority"`
		AssignedTo  string   `json:"assigned_to_id"`
		SiteID      string   `json:"site_id"`
		DueDate     int64    `json:"due_date"`
		Latitude    *float64 `json:"latitude"`
		Longitude   *float64 `json:"longitude"`
		Accuracy    *float64 `json:"accuracy"`
		Address     string   `json:"address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, errors.New(errors.ErrValidation, "invalid request body"))
		return
	}

	task, err := h.service.CreateTask(service.CreateTaskInput{
		Title:       request.Title,
		Description: request.Description,
		Status:      models.TaskStatus(request.Status),
		Priority:    models.TaskPriority(request.Priority),
		AssignedTo:  request.AssignedTo,
		SiteID:      request.SiteID,
		DueDate:     request.DueDate,
		Latitude:    request.Latitude,
		Longitude:   request.Longitude,
		Accuracy:    request.Accuracy,
		Address:     request.Address,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

// GetTask handles GET /tasks/{id}.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	task, err := h.service.GetTaskByID(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// UpdateTask handles PATCH /tasks/{id}. Absent fields stay untouched.
func (h *TaskHandler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Title       *string `json:"title"`
		Description *string `json:"description"`
		Status      *string `json:"status"`
		Priority    *string `json:"priority"`
		AssignedTo  *string `json:"assigned_to_id"`
		SiteID      *string `json:"site_id"`
		DueDate     *int64  `json:"due_date"`
		Address     *string `json:"address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, errors.New(errors.ErrValidation, "invalid request body"))
		return
	}

	patch := service.TaskPatch{
		Title:       request.Title,
		Description: request.Description,
		AssignedTo:  request.AssignedTo,
		SiteID:      request.SiteID,
		DueDate:     request.DueDate,
		Address:     request.Address,
	}
	if request.Status != nil {
		status := models.TaskStatus(*request.Status)
		patch.Status = &status
	}
	if request.Priority != nil {
		priority := models.TaskPriority(*request.Priority)
		patch.Priority = &priority
	}

	task, err := h.service.UpdateTask(r.PathValue("id"), patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// DeleteTask handles DELETE /tasks/{id}. The local row disappears at
// once; a task the server knows gets its deletion queued for the next
// pass.
func (h *TaskHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteTask(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListComments handles GET /tasks/{id}/comments.
func (h *TaskHandler) ListComments(w http.ResponseWriter, r *http.Request) {
	comments, err := h.service.GetTaskComments(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"comments": comments,
		"count":    len(comments),
	})
}

// AddComment handles POST /tasks/{id}/comments.
func (h *TaskHandler) AddComment(w http.ResponseWriter, r *http.Request) {
	var request struct {
		AuthorID string `json:"author_id"`
		Text     string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, errors.New(errors.ErrValidation, "invalid request body"))
		return
	}

	comment, err := h.service.AddTaskComment(r.PathValue("id"), request.AuthorID, request.Text)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, comment)
}

// ListPhotos handles GET /tasks/{id}/photos.
func (h *TaskHandler) ListPhotos(w http.ResponseWriter, r *http.Request) {
	photos, err := h.service.GetTaskPhotos(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"photos": photos,
		"count":  len(photos),
	})
}

// AddPhoto handles POST /tasks/{id}/photos. The body carries metadata
// only; the file itself stays on device disk until the upload pass.
func (h *TaskHandler) AddPhoto(w http.ResponseWriter, r *http.Request) {
	var request struct {
		FilePath  string   `json:"file_path"`
		FileSize  int64    `json:"file_size"`
		MimeType  string   `json:"mime_type"`
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, errors.New(errors.ErrValidation, "invalid request body"))
		return
	}

	photo, err := h.service.AddTaskPhoto(r.PathValue("id"), service.PhotoInput{
		FilePath:  request.FilePath,
		FileSize:  request.FileSize,
		MimeType:  request.MimeType,
		Latitude:  request.Latitude,
		Longitude: request.Longitude,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, photo)
}

// GetStats handles GET /tasks/stats.
func (h *TaskHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.GetTaskStatistics()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
