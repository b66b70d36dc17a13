// Package service provides the local read/write facade the app shell talks
// to. Every mutation lands in the local store immediately and marks what it
// touched as needing sync; nothing here ever waits on the network.
package service

import (
	"database/sql"
	stderrors "errors"
	"strings"
	"time"

	"github.com/fieldhq/fieldsync/internal/errors"
	"github.com/fieldhq/fieldsync/internal/logging"
	"github.com/fieldhq/fieldsync/internal/models"
	"github.com/fieldhq/fieldsync/internal/store"
	"github.com/fieldhq/fieldsync/internal/sync/queue"
)

// TaskService exposes task CRUD plus photo and comment creation over the
// local store. Writes are transactional: a multi-row mutation commits
// atomically or leaves the store unchanged.
type TaskService struct {
	db    *store.DB
	repo  *store.Repository
	queue *queue.Queue
}

// NewTaskService creates a TaskService.
func NewTaskService(db *store.DB, repo *store.Repository, q *queue.Queue) *TaskService {
	return &TaskService{
		db:    db,
		repo:  repo,
		queue: q,
	}
}

// CreateTaskInput carries the fields for a locally created task.
type CreateTaskInput struct {
	Title       string
	Description string
	Status      models.TaskStatus
	Priority    models.TaskPriority
	AssignedTo  string
	SiteID      string
	DueDate     int64

	Latitude  *float64
	Longitude *float64
	Accuracy  *float64
	Address   string
}

// CreateTask inserts a new task with an empty server identity and the
// dirty flag set, so the next sync pass pushes it as a create.
func (s *TaskService) CreateTask(input CreateTaskInput) (*models.Task, error) {
	if strings.TrimSpace(input.Title) == "" {
		return nil, errors.New(errors.ErrValidation, "task title is required")
	}
	if input.Status == "" {
		input.Status = models.StatusPending
	}
	if !input.Status.Valid() {
		return nil, errors.New(errors.ErrValidation, "unknown task status: "+string(input.Status))
	}
	if input.Priority == "" {
		input.Priority = models.PriorityMedium
	}
	if !input.Priority.Valid() {
		return nil, errors.New(errors.ErrValidation, "unknown task priority: "+string(input.Priority))
	}

	task := &models.Task{
		Title:       strings.TrimSpace(input.Title),
		Description: input.Description,
		Priority:    input.Priority,
		AssignedTo:  input.AssignedTo,
		SiteID:      input.SiteID,
		DueDate:     input.DueDate,
		Latitude:    input.Latitude,
		Longitude:   input.Longitude,
		Accuracy:    input.Accuracy,
		Address:     input.Address,
		NeedsSync:   true,
	}
	task.ApplyStatus(input.Status)

	if err := s.repo.CreateTask(task); err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to create task", err)
	}

	logging.Debug("task created locally", map[string]interface{}{
		"task_id": task.ID.String(),
		"status":  string(task.Status),
	})
	return task, nil
}

// TaskPatch carries a partial update; nil fields are left untouched.
type TaskPatch struct {
	Title       *string
	Description *string
	Status      *models.TaskStatus
	Priority    *models.TaskPriority
	AssignedTo  *string
	SiteID      *string
	DueDate     *int64
	Address     *string
}

// UpdateTask applies the provided fields, unconditionally marks the task
// dirty, and re-derives completed_at from the status invariant.
func (s *TaskService) UpdateTask(id string, patch TaskPatch) (*models.Task, error) {
	if patch.Title != nil && strings.TrimSpace(*patch.Title) == "" {
		return nil, errors.New(errors.ErrValidation, "task title cannot be empty")
	}
	if patch.Status != nil && !patch.Status.Valid() {
		return nil, errors.New(errors.ErrValidation, "unknown task status: "+string(*patch.Status))
	}
	if patch.Priority != nil && !patch.Priority.Valid() {
		return nil, errors.New(errors.ErrValidation, "unknown task priority: "+string(*patch.Priority))
	}

	task, err := s.getTask(id)
	if err != nil {
		return nil, err
	}

	if patch.Title != nil {
		task.Title = strings.TrimSpace(*patch.Title)
	}
	if patch.Description != nil {
		task.Description = *patch.Description
	}
	if patch.Status != nil {
		task.ApplyStatus(*patch.Status)
	}
	if patch.Priority != nil {
		task.Priority = *patch.Priority
	}
	if patch.AssignedTo != nil {
		task.AssignedTo = *patch.AssignedTo
	}
	if patch.SiteID != nil {
		task.SiteID = *patch.SiteID
	}
	if patch.DueDate != nil {
		task.DueDate = *patch.DueDate
	}
	if patch.Address != nil {
		task.Address = *patch.Address
	}
	task.MarkDirty()

	if err := s.repo.UpdateTask(task); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.New(errors.ErrTaskNotFound, "task not found: "+id)
		}
		return nil, errors.Wrap(errors.ErrDatabase, "failed to update task", err)
	}
	return task, nil
}

// DeleteTask removes a task and its photos and comments locally. A task
// the server already knows additionally gets a delete intent queued in
// the same transaction, carrying the server identity snapshot, so the
// deletion reaches the server even though the row is gone.
func (s *TaskService) DeleteTask(id string) error {
	task, err := s.getTask(id)
	if err != nil {
		return err
	}

	err = s.db.WithTx(func(tx *sql.Tx) error {
		if err := s.repo.DeleteTaskTx(tx, id); err != nil {
			return err
		}
		if task.ServerID != "" {
			_, err := s.queue.EnqueueTx(tx, id, queue.DeleteTaskPayload{ServerID: task.ServerID})
			return err
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(errors.ErrDatabase, "failed to delete task", err)
	}

	logging.Info("task deleted locally", map[string]interface{}{
		"task_id":   id,
		"tombstone": task.ServerID != "",
	})
	return nil
}

// PhotoInput carries the metadata for a captured photo.
type PhotoInput struct {
	FilePath  string
	FileSize  int64
	MimeType  string
	Latitude  *float64
	Longitude *float64
}

// AddTaskPhoto records a captured photo awaiting upload and marks the
// parent task dirty in the same transaction.
func (s *TaskService) AddTaskPhoto(taskID string, input PhotoInput) (*models.TaskPhoto, error) {
	if strings.TrimSpace(input.FilePath) == "" {
		return nil, errors.New(errors.ErrValidation, "photo file path is required")
	}

	task, err := s.getTask(taskID)
	if err != nil {
		return nil, err
	}

	photo := &models.TaskPhoto{
		TaskID:      task.ID,
		FilePath:    input.FilePath,
		FileSize:    input.FileSize,
		MimeType:    input.MimeType,
		Latitude:    input.Latitude,
		Longitude:   input.Longitude,
		NeedsUpload: true,
	}

	err = s.db.WithTx(func(tx *sql.Tx) error {
		if err := s.repo.CreatePhotoTx(tx, photo); err != nil {
			return err
		}
		task.MarkDirty()
		return s.repo.UpdateTaskTx(tx, task)
	})
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to add photo", err)
	}
	return photo, nil
}

// AddTaskComment records a comment and marks the parent task dirty in the
// same transaction. Comments are append-only and never edited.
func (s *TaskService) AddTaskComment(taskID, authorID, text string) (*models.TaskComment, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New(errors.ErrValidation, "comment text is required")
	}
	if strings.TrimSpace(authorID) == "" {
		return nil, errors.New(errors.ErrValidation, "comment author is required")
	}

	task, err := s.getTask(taskID)
	if err != nil {
		return nil, err
	}

	comment := &models.TaskComment{
		TaskID:   task.ID,
		AuthorID: authorID,
		Text:     text,
	}

	err = s.db.WithTx(func(tx *sql.Tx) error {
		if err := s.repo.CreateCommentTx(tx, comment); err != nil {
			return err
		}
		task.MarkDirty()
		return s.repo.UpdateTaskTx(tx, task)
	})
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to add comment", err)
	}
	return comment, nil
}

// TaskQuery carries list filters. Zero values mean "no filter".
type TaskQuery struct {
	Status     models.TaskStatus
	Priority   models.TaskPriority
	AssignedTo string
	SiteID     string
	Search     string
	From       int64
	To         int64
	Limit      int
	Offset     int
}

// GetTasks lists tasks matching the query, most recently updated first.
func (s *TaskService) GetTasks(query TaskQuery) ([]*models.Task, error) {
	fb := store.NewFilterBuilder()
	if query.Status != "" {
		if !query.Status.Valid() {
			return nil, errors.New(errors.ErrValidation, "unknown task status: "+string(query.Status))
		}
		fb.Status(query.Status)
	}
	if query.Priority != "" {
		if !query.Priority.Valid() {
			return nil, errors.New(errors.ErrValidation, "unknown task priority: "+string(query.Priority))
		}
		fb.Priority(query.Priority)
	}
	fb.Assignee(query.AssignedTo)
	fb.Site(query.SiteID)
	fb.Search(query.Search)
	if query.From != 0 || query.To != 0 {
		fb.DateRange(query.From, query.To)
	}

	tasks, err := s.repo.ListTasks(fb, query.Limit, query.Offset)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to list tasks", err)
	}
	return tasks, nil
}

// GetTaskByID returns a single task.
func (s *TaskService) GetTaskByID(id string) (*models.Task, error) {
	return s.getTask(id)
}

// SearchTasks free-text searches title, description and address.
func (s *TaskService) SearchTasks(text string) ([]*models.Task, error) {
	return s.GetTasks(TaskQuery{Search: text})
}

// GetConflictedTasks lists tasks awaiting manual conflict review.
func (s *TaskService) GetConflictedTasks() ([]*models.Task, error) {
	tasks, err := s.repo.ListConflictedTasks()
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to list conflicted tasks", err)
	}
	return tasks, nil
}

// GetTaskPhotos returns a task's photos in creation order.
func (s *TaskService) GetTaskPhotos(taskID string) ([]*models.TaskPhoto, error) {
	if _, err := s.getTask(taskID); err != nil {
		return nil, err
	}
	photos, err := s.repo.ListPhotosByTask(taskID)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to list photos", err)
	}
	return photos, nil
}

// GetTaskComments returns a task's comments in creation order.
func (s *TaskService) GetTaskComments(taskID string) ([]*models.TaskComment, error) {
	if _, err := s.getTask(taskID); err != nil {
		return nil, err
	}
	comments, err := s.repo.ListCommentsByTask(taskID)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to list comments", err)
	}
	return comments, nil
}

// GetTaskStatistics summarizes the local workload for the dashboard.
func (s *TaskService) GetTaskStatistics() (*store.TaskStats, error) {
	stats, err := s.repo.TaskStatistics(time.Now())
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to compute statistics", err)
	}
	return stats, nil
}

// GetPendingSyncCount reports how much local state still needs to reach
// the server, broken down by kind.
func (s *TaskService) GetPendingSyncCount() (store.PendingSync, error) {
	pending, err := s.repo.CountPendingSync()
	if err != nil {
		return store.PendingSync{}, errors.Wrap(errors.ErrDatabase, "failed to count pending sync", err)
	}
	return pending, nil
}

func (s *TaskService) getTask(id string) (*models.Task, error) {
	task, err := s.repo.GetTask(id)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.New(errors.ErrTaskNotFound, "task not found: "+id)
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to load task", err)
	}
	return task, nil
}
