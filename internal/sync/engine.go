package sync

import (
	"context"
	"database/sql"
	"fmt"
	gosync "sync"
	"time"

	"github.com/fieldhq/fieldsync/internal/api"
	"github.com/fieldhq/fieldsync/internal/errors"
	"github.com/fieldhq/fieldsync/internal/logging"
	"github.com/fieldhq/fieldsync/internal/models"
	"github.com/fieldhq/fieldsync/internal/store"
	"github.com/fieldhq/fieldsync/internal/sync/conflict"
	"github.com/fieldhq/fieldsync/internal/sync/queue"
)

// State is the externally visible phase of the engine. Terminal states
// (reconciled, partial_success, failed) persist until the next trigger.
type State string

const (
	StateIdle            State = "idle"
	StateCheckingNetwork State = "checking_network"
	StatePushing         State = "pushing"
	StatePulling         State = "pulling"
	StateReconciled      State = "reconciled"
	StatePartialSuccess  State = "partial_success"
	StateFailed          State = "failed"
)

// Result is the immutable outcome of one pass. Conflicts are not errors:
// a pass that only flagged conflicts still counts as reconciled.
type Result struct {
	State      State
	StartedAt  time.Time
	FinishedAt time.Time
	Duration   time.Duration

	UsersPulled    int
	SitesPulled    int
	DeletesPushed  int
	TasksPushed    int
	TasksPulled    int
	PhotosUploaded int
	CommentsPushed int

	ConflictedTaskIDs []string
	Errors            []string
}

func (r *Result) addError(step string, err error) {
	r.Errors = append(r.Errors, step+": "+err.Error())
}

func (r *Result) addConflict(taskID models.UUID) {
	r.ConflictedTaskIDs = append(r.ConflictedTaskIDs, taskID.String())
}

// Client is the remote surface the engine drives. *api.Client satisfies
// it; tests substitute an httptest-backed instance.
type Client interface {
	ListUsers(ctx context.Context, since int64) ([]api.UserDTO, error)
	ListSites(ctx context.Context, since int64) ([]api.SiteDTO, error)
	ListTasks(ctx context.Context, since int64) ([]api.TaskDTO, error)
	GetTask(ctx context.Context, serverID string) (*api.TaskDTO, error)
	CreateTask(ctx context.Context, dto api.TaskDTO) (*api.TaskDTO, error)
	UpdateTask(ctx context.Context, serverID string, dto api.TaskDTO) (*api.TaskDTO, error)
	DeleteTask(ctx context.Context, serverID string) error
	CreateComment(ctx context.Context, dto api.CommentDTO) (*api.CommentDTO, error)
	UploadPhoto(ctx context.Context, upload api.PhotoUpload, progress api.ProgressFunc) (*api.UploadResult, error)
}

// Gate reports whether the network is usable right now.
type Gate interface {
	Available(ctx context.Context) bool
}

// Engine reconciles the device store with the backend. One pass runs at
// a time; the store is the only source of truth between passes, so a
// pass that dies mid-way leaves durable state the next pass picks up.
type Engine struct {
	repo     *store.Repository
	client   Client
	gate     Gate
	queue    *queue.Queue
	resolver *conflict.Resolver

	// passMu serializes passes. The state mutex is never held across
	// network calls.
	passMu gosync.Mutex

	mu         gosync.Mutex
	state      State
	lastResult *Result
	listeners  []Listener

	nowFn func() time.Time
}

var _ EngineInterface = (*Engine)(nil)

// NewEngine creates an idle Engine. Conflicts default to manual review;
// pass WithStrategy to opt into last-write-wins.
func NewEngine(repo *store.Repository, client Client, gate Gate, q *queue.Queue) *Engine {
	return &Engine{
		repo:     repo,
		client:   client,
		gate:     gate,
		queue:    q,
		resolver: conflict.NewResolver(conflict.StrategyManual),
		state:    StateIdle,
		nowFn:    time.Now,
	}
}

// WithStrategy swaps the conflict strategy and returns the engine.
func (e *Engine) WithStrategy(s conflict.Strategy) *Engine {
	e.resolver = conflict.NewResolver(s)
	return e
}

// State returns the current pass state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// LastResult returns the outcome of the most recent pass, or nil before
// the first one.
func (e *Engine) LastResult() *Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastResult
}

// Subscribe registers a listener notified after every pass.
func (e *Engine) Subscribe(l Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, l)
}

// Unsubscribe removes a previously registered listener.
func (e *Engine) Unsubscribe(l Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, cur := range e.listeners {
		if cur == l {
			e.listeners = append(e.listeners[:i], e.listeners[i+1:]...)
			return
		}
	}
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// finish records the result, moves to the terminal state and notifies
// listeners outside the lock.
func (e *Engine) finish(result *Result) {
	e.mu.Lock()
	e.state = result.State
	e.lastResult = result
	listeners := make([]Listener, len(e.listeners))
	copy(listeners, e.listeners)
	e.mu.Unlock()

	for _, l := range listeners {
		l.OnSyncResult(*result)
	}
}

// Sync runs one full reconciliation pass. A concurrent trigger while a
// pass is running is dropped with ErrSyncInProgress; force makes the
// trigger wait for the running pass and then run its own. The in-progress
// guard is process-local, not a distributed lock.
func (e *Engine) Sync(ctx context.Context, force bool) (*Result, error) {
	if force {
		e.passMu.Lock()
	} else if !e.passMu.TryLock() {
		return nil, errors.New(errors.ErrSyncInProgress, "a sync pass is already running")
	}
	defer e.passMu.Unlock()

	started := e.nowFn()
	result := &Result{StartedAt: started}

	logging.Info("sync pass started", map[string]interface{}{"force": force})

	fatal := e.run(ctx, result)

	result.FinishedAt = e.nowFn()
	result.Duration = result.FinishedAt.Sub(result.StartedAt)

	switch {
	case fatal != nil:
		result.State = StateFailed
		result.addError("pass aborted", fatal)
	case len(result.Errors) > 0:
		result.State = StatePartialSuccess
	default:
		result.State = StateReconciled
	}

	// The cursor is the pass start time, so anything updated while the
	// pass ran is pulled again next time. Overlap is safe, a gap is not.
	if fatal == nil {
		if err := e.repo.SetLastSyncTimestamp(models.TimeToMillis(started)); err != nil {
			result.State = StatePartialSuccess
			result.addError("persist sync cursor", err)
		}
	}

	e.finish(result)

	logging.Info("sync pass finished", map[string]interface{}{
		"state":    string(result.State),
		"duration": result.Duration.String(),
		"pushed":   result.TasksPushed,
		"pulled":   result.TasksPulled,
		"errors":   len(result.Errors),
	})

	if fatal != nil {
		return result, fatal
	}
	return result, nil
}

// run executes the pass body. It returns an error only for fatal
// conditions: sync disabled, no network, connectivity lost mid-pass or
// the context being cancelled. Per-entity failures land in the result.
func (e *Engine) run(ctx context.Context, result *Result) error {
	e.setState(StateCheckingNetwork)

	enabled, err := e.repo.SyncEnabled()
	if err != nil {
		return errors.Wrap(errors.ErrDatabase, "failed to read sync setting", err)
	}
	if !enabled {
		return errors.New(errors.ErrSyncDisabled, "sync is disabled on this device")
	}
	if !e.gate.Available(ctx) {
		return errors.New(errors.ErrSyncOffline, "no usable network connection")
	}

	since, err := e.repo.LastSyncTimestamp()
	if err != nil {
		return errors.Wrap(errors.ErrDatabase, "failed to read sync cursor", err)
	}

	// Reference data first: tasks arriving later point at users and
	// sites by server id, so parents land before children.
	e.setState(StatePulling)
	if err := e.pullUsers(ctx, since, result); err != nil {
		return err
	}
	if err := e.pullSites(ctx, since, result); err != nil {
		return err
	}

	// Outbound intent next: tombstones before edits, edits oldest first.
	e.setState(StatePushing)
	if err := e.drainQueue(ctx, result); err != nil {
		return err
	}
	if err := e.pushDirtyTasks(ctx, result); err != nil {
		return err
	}

	// Remote task deltas. Pulling after the push keeps the echo cheap:
	// rows we just pushed come back clean and apply as no-ops.
	e.setState(StatePulling)
	if err := e.pullTasks(ctx, since, result); err != nil {
		return err
	}

	// Binaries and comment threads last, once every parent task that
	// needs a server id has one.
	e.setState(StatePushing)
	if err := e.uploadPhotos(ctx, result); err != nil {
		return err
	}
	return e.pushComments(ctx, result)
}

// remoteErr classifies a failed remote call. Connectivity loss aborts
// the pass; anything else is recorded and the pass moves on.
func (e *Engine) remoteErr(step string, err error, result *Result) error {
	if errors.Is(err, errors.ErrRemoteUnreachable) {
		return err
	}
	result.addError(step, err)
	return nil
}

func interrupted(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return errors.Wrap(errors.ErrSyncFailed, "pass interrupted", ctx.Err())
	default:
		return nil
	}
}

func (e *Engine) pullUsers(ctx context.Context, since int64, result *Result) error {
	dtos, err := e.client.ListUsers(ctx, since)
	if err != nil {
		return e.remoteErr("pull users", err, result)
	}

	now := models.TimeToMillis(e.nowFn())
	for _, dto := range dtos {
		user := dto.Model()
		user.IsSynced = true
		user.LastSyncAt = now
		if err := e.repo.UpsertUserByServerID(user); err != nil {
			result.addError("upsert user "+user.ServerID, err)
			continue
		}
		result.UsersPulled++
	}
	return nil
}

func (e *Engine) pullSites(ctx context.Context, since int64, result *Result) error {
	dtos, err := e.client.ListSites(ctx, since)
	if err != nil {
		return e.remoteErr("pull sites", err, result)
	}

	now := models.TimeToMillis(e.nowFn())
	for _, dto := range dtos {
		site := dto.Model()
		site.IsSynced = true
		site.LastSyncAt = now
		if err := e.repo.UpsertSiteByServerID(site); err != nil {
			result.addError("upsert site "+site.ServerID, err)
			continue
		}
		result.SitesPulled++
	}
	return nil
}

// drainQueue dispatches due queue entries, tombstones first. An entry
// claimed when connectivity dies is released with its retry budget
// intact; the entry did not fail, the link did.
func (e *Engine) drainQueue(ctx context.Context, result *Result) error {
	due, err := e.queue.Due()
	if err != nil {
		result.addError("list due queue entries", err)
		return nil
	}

	for _, entry := range due {
		if err := interrupted(ctx); err != nil {
			return err
		}

		payload, err := queue.Decode(entry)
		if err != nil {
			// Malformed blob. Burn its budget so it ages out.
			if failErr := e.queue.Fail(entry, err); failErr != nil {
				result.addError("fail queue entry "+entry.ID.String(), failErr)
			}
			result.addError("decode queue entry "+entry.ID.String(), err)
			continue
		}

		if err := e.queue.MarkProcessing(entry); err != nil {
			result.addError("claim queue entry "+entry.ID.String(), err)
			continue
		}

		if err := e.dispatch(ctx, entry, payload, result); err != nil {
			if relErr := e.queue.Release(entry); relErr != nil {
				result.addError("release queue entry "+entry.ID.String(), relErr)
			}
			return err
		}
	}
	return nil
}

// dispatch runs one claimed queue entry. The returned error is fatal to
// the pass; per-entry failures are settled against the entry itself.
func (e *Engine) dispatch(ctx context.Context, entry *models.SyncQueueEntry, payload queue.Payload, result *Result) error {
	switch p := payload.(type) {
	case queue.DeleteTaskPayload:
		if err := e.client.DeleteTask(ctx, p.ServerID); err != nil {
			if errors.Is(err, errors.ErrRemoteUnreachable) {
				return err
			}
			if failErr := e.queue.Fail(entry, err); failErr != nil {
				result.addError("fail queue entry "+entry.ID.String(), failErr)
			}
			result.addError("push delete "+p.ServerID, err)
			return nil
		}
		if err := e.queue.Complete(entry); err != nil {
			result.addError("complete queue entry "+entry.ID.String(), err)
			return nil
		}
		result.DeletesPushed++
		return nil

	case queue.UploadPhotoPayload:
		photo, err := e.repo.GetPhoto(p.PhotoID)
		if err == sql.ErrNoRows {
			// The photo row is gone, usually a cascade from a deleted
			// task. Nothing left to carry.
			if err := e.queue.Complete(entry); err != nil {
				result.addError("complete queue entry "+entry.ID.String(), err)
			}
			return nil
		}
		if err != nil {
			if failErr := e.queue.Fail(entry, err); failErr != nil {
				result.addError("fail queue entry "+entry.ID.String(), failErr)
			}
			result.addError("load photo "+p.PhotoID, err)
			return nil
		}
		if !photo.NeedsUpload {
			// Already carried by a needs-upload scan in an earlier pass.
			if err := e.queue.Complete(entry); err != nil {
				result.addError("complete queue entry "+entry.ID.String(), err)
			}
			return nil
		}

		task, err := e.repo.GetTask(photo.TaskID.String())
		if err != nil {
			if failErr := e.queue.Fail(entry, err); failErr != nil {
				result.addError("fail queue entry "+entry.ID.String(), failErr)
			}
			result.addError("load photo parent "+photo.TaskID.String(), err)
			return nil
		}
		if task.ServerID == "" {
			// Parent has not been pushed yet. The dirty push later in
			// this pass will fix that; try the entry again next pass.
			if err := e.queue.Release(entry); err != nil {
				result.addError("release queue entry "+entry.ID.String(), err)
			}
			logging.Debug("queued upload waiting for parent push", map[string]interface{}{
				"photo_id": p.PhotoID,
			})
			return nil
		}

		err = e.uploadOne(ctx, photo, task.ServerID, result)
		if err == nil {
			if err := e.queue.Complete(entry); err != nil {
				result.addError("complete queue entry "+entry.ID.String(), err)
			}
			return nil
		}
		if errors.Is(err, errors.ErrRemoteUnreachable) {
			return err
		}
		if failErr := e.queue.Fail(entry, err); failErr != nil {
			result.addError("fail queue entry "+entry.ID.String(), failErr)
		}
		result.addError("upload photo "+p.PhotoID, err)
		return nil
	}
	return nil
}

func (e *Engine) pushDirtyTasks(ctx context.Context, result *Result) error {
	tasks, err := e.repo.ListDirtyTasks()
	if err != nil {
		result.addError("list dirty tasks", err)
		return nil
	}

	for _, task := range tasks {
		if err := interrupted(ctx); err != nil {
			return err
		}
		if err := e.pushTask(ctx, task, result); err != nil {
			return err
		}
	}
	return nil
}

// pushTask sends one dirty task, creating or updating depending on
// whether the server knows it. A stale-update rejection flags the task
// for review instead of counting as a failure.
func (e *Engine) pushTask(ctx context.Context, task *models.Task, result *Result) error {
	dto := api.TaskToDTO(task)

	var (
		remote *api.TaskDTO
		err    error
	)
	if task.ServerID == "" {
		remote, err = e.client.CreateTask(ctx, dto)
	} else {
		remote, err = e.client.UpdateTask(ctx, task.ServerID, dto)
	}

	if err != nil {
		if errors.Is(err, errors.ErrRemoteUnreachable) {
			return err
		}
		if errors.Is(err, errors.ErrSyncConflict) {
			e.flagPushConflict(task, result)
			return nil
		}
		result.addError("push task "+task.ID.String(), err)
		return nil
	}

	task.MarkSynced(remote.ID, models.TimeToMillis(e.nowFn()))
	if err := e.repo.UpdateTask(task); err != nil {
		result.addError("record push "+task.ID.String(), err)
		return nil
	}
	result.TasksPushed++
	return nil
}

func (e *Engine) flagPushConflict(task *models.Task, result *Result) {
	task.MarkConflicted()
	if err := e.repo.UpdateTask(task); err != nil {
		result.addError("flag conflict "+task.ID.String(), err)
		return
	}
	// The 409 body does not carry the winning timestamp, so the remote
	// side of the log is left at zero until the next pull fills it in.
	if err := e.repo.RecordConflict(task.ID, task.UpdatedAt, 0, models.ConflictSourcePush); err != nil {
		result.addError("log conflict "+task.ID.String(), err)
	}
	result.addConflict(task.ID)
	logging.Warn("push rejected as stale, task flagged for review", map[string]interface{}{
		"task_id": task.ID.String(),
	})
}

func (e *Engine) pullTasks(ctx context.Context, since int64, result *Result) error {
	dtos, err := e.client.ListTasks(ctx, since)
	if err != nil {
		return e.remoteErr("pull tasks", err, result)
	}

	for i := range dtos {
		if err := interrupted(ctx); err != nil {
			return err
		}
		if err := e.applyRemoteTask(&dtos[i], result); err != nil {
			result.addError("apply task "+dtos[i].ID, err)
		}
	}
	return nil
}

// applyRemoteTask lands one remote task delta. New rows are inserted
// clean; for existing rows the server copy is authoritative unless the
// local row carries an unpushed edit that is strictly newer, which is
// the concurrent-edit race the resolver decides.
func (e *Engine) applyRemoteTask(dto *api.TaskDTO, result *Result) error {
	now := models.TimeToMillis(e.nowFn())

	local, err := e.repo.GetTaskByServerID(dto.ID)
	if err == sql.ErrNoRows {
		task := &models.Task{}
		dto.Apply(task)
		task.MarkSynced(dto.ID, now)
		if err := e.repo.CreateTask(task); err != nil {
			return err
		}
		result.TasksPulled++
		return nil
	}
	if err != nil {
		return err
	}

	if c, ok := e.resolver.Detect(local, dto.UpdatedAtMillis()); ok {
		outcome, err := e.resolver.Resolve(c)
		if err != nil {
			return err
		}
		if outcome.Action == conflict.ActionKeepLocal {
			// Local edit wins under last-write-wins. The row stays
			// dirty and travels on the next push.
			return nil
		}
		local.MarkConflicted()
		if err := e.repo.UpdateTask(local); err != nil {
			return err
		}
		if err := e.repo.RecordConflict(local.ID, local.UpdatedAt, dto.UpdatedAtMillis(), models.ConflictSourcePull); err != nil {
			return err
		}
		result.addConflict(local.ID)
		return nil
	}

	wasFlagged := local.SyncConflict
	dto.Apply(local)
	local.MarkSynced(dto.ID, now)
	if err := e.repo.UpdateTask(local); err != nil {
		return err
	}
	if wasFlagged {
		// The server moved past the divergence on its own, so the open
		// review is settled in the server's favor.
		if err := e.repo.ResolveConflictLog(local.ID, models.ResolutionUseServer); err != nil {
			result.addError("close conflict log "+local.ID.String(), err)
		}
	}
	result.TasksPulled++
	return nil
}

func (e *Engine) uploadPhotos(ctx context.Context, result *Result) error {
	pending, err := e.repo.ListPendingUploads()
	if err != nil {
		result.addError("list pending uploads", err)
		return nil
	}

	for _, pu := range pending {
		if err := interrupted(ctx); err != nil {
			return err
		}
		if err := e.uploadOne(ctx, pu.Photo, pu.TaskServerID, result); err != nil {
			if errors.Is(err, errors.ErrRemoteUnreachable) {
				return err
			}
			result.addError("upload photo "+pu.Photo.ID.String(), err)
		}
	}
	return nil
}

// uploadOne sends one photo binary, streaming progress into the photo
// row. On a rejection the progress rewinds to zero and needs_upload
// stays set, so the next pass retries from scratch.
func (e *Engine) uploadOne(ctx context.Context, photo *models.TaskPhoto, taskServerID string, result *Result) error {
	progress := func(percent int) {
		if err := e.repo.SetPhotoProgress(photo.ID.String(), percent); err != nil {
			logging.Debug("progress write failed", map[string]interface{}{
				"photo_id": photo.ID.String(),
			})
		}
	}

	res, err := e.client.UploadPhoto(ctx, api.PhotoUpload{
		TaskServerID: taskServerID,
		FilePath:     photo.FilePath,
		MimeType:     photo.MimeType,
		Latitude:     photo.Latitude,
		Longitude:    photo.Longitude,
	}, progress)
	if err != nil {
		if !errors.Is(err, errors.ErrRemoteUnreachable) {
			photo.ResetUpload()
			if upErr := e.repo.UpdatePhoto(photo); upErr != nil {
				result.addError("rewind photo "+photo.ID.String(), upErr)
			}
		}
		return err
	}

	photo.MarkUploaded(res.ID, models.TimeToMillis(e.nowFn()))
	if err := e.repo.UpdatePhoto(photo); err != nil {
		return errors.Wrap(errors.ErrDatabase, "failed to record upload", err)
	}
	result.PhotosUploaded++
	return nil
}

func (e *Engine) pushComments(ctx context.Context, result *Result) error {
	pending, err := e.repo.ListPendingComments()
	if err != nil {
		result.addError("list pending comments", err)
		return nil
	}

	for _, pc := range pending {
		if err := interrupted(ctx); err != nil {
			return err
		}

		dto := api.CommentDTO{
			TaskID:    pc.TaskServerID,
			AuthorID:  pc.Comment.AuthorID,
			Text:      pc.Comment.Text,
			CreatedAt: models.MillisToTime(pc.Comment.CreatedAt),
		}
		created, err := e.client.CreateComment(ctx, dto)
		if err != nil {
			if errors.Is(err, errors.ErrRemoteUnreachable) {
				return err
			}
			result.addError("push comment "+pc.Comment.ID.String(), err)
			continue
		}
		if err := e.repo.MarkCommentSynced(pc.Comment.ID.String(), created.ID); err != nil {
			result.addError("record comment "+pc.Comment.ID.String(), err)
			continue
		}
		result.CommentsPushed++
	}
	return nil
}

// ResolveConflict settles a flagged task. Keeping the local copy clears
// the flag and marks the row dirty so it travels on the next push;
// adopting the server copy fetches it live and overwrites.
func (e *Engine) ResolveConflict(ctx context.Context, taskID, resolution string) error {
	if !conflict.IsValidResolution(resolution) {
		return errors.New(errors.ErrValidation, fmt.Sprintf("unknown resolution %q", resolution))
	}

	task, err := e.repo.GetTask(taskID)
	if err == sql.ErrNoRows {
		return errors.New(errors.ErrTaskNotFound, "task not found: "+taskID)
	}
	if err != nil {
		return errors.Wrap(errors.ErrDatabase, "failed to load task", err)
	}
	if !task.SyncConflict {
		return errors.New(errors.ErrNotConflicted, "task has no open conflict")
	}

	switch resolution {
	case models.ResolutionUseLocal:
		task.SyncConflict = false
		task.MarkDirty()
		if err := e.repo.UpdateTask(task); err != nil {
			return errors.Wrap(errors.ErrDatabase, "failed to keep local copy", err)
		}
	case models.ResolutionUseServer:
		if task.ServerID == "" {
			return errors.New(errors.ErrValidation, "task has no server copy to adopt")
		}
		remote, err := e.client.GetTask(ctx, task.ServerID)
		if err != nil {
			return err
		}
		remote.Apply(task)
		task.MarkSynced(remote.ID, models.TimeToMillis(e.nowFn()))
		if err := e.repo.UpdateTask(task); err != nil {
			return errors.Wrap(errors.ErrDatabase, "failed to adopt server copy", err)
		}
	}

	if err := e.repo.ResolveConflictLog(task.ID, resolution); err != nil {
		return errors.Wrap(errors.ErrDatabase, "failed to close conflict log", err)
	}

	logging.Info("conflict resolved", map[string]interface{}{
		"task_id":    task.ID.String(),
		"resolution": resolution,
	})
	return nil
}
