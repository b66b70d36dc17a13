// Package conflict decides what a divergent concurrent edit means for a
// task during a pull. Detection compares the remote copy's timestamp with
// pending local edits; the configured strategy decides whether the race
// is settled automatically or parked for user review.
package conflict

import (
	"time"

	"github.com/fieldhq/fieldsync/internal/errors"
	"github.com/fieldhq/fieldsync/internal/logging"
	"github.com/fieldhq/fieldsync/internal/models"
)

// Strategy defines how write/write races are settled.
type Strategy string

const (
	// StrategyManual parks the race for user review. Nothing is
	// overwritten until someone picks a side.
	StrategyManual Strategy = "manual"
	// StrategyLastWriteWins keeps the newer copy outright. The local
	// copy stays dirty when it wins, so the next push carries it.
	StrategyLastWriteWins Strategy = "last_write_wins"
)

// Action is what the pull pass should do with the local row.
type Action string

const (
	ActionApplyRemote   Action = "apply_remote"
	ActionKeepLocal     Action = "keep_local"
	ActionFlagForReview Action = "flag_for_review"
)

// Package errors.
var (
	ErrNilConflict = errors.New(errors.ErrValidation, "conflict carries no local task")
)

// Resolver applies one strategy to detected races.
type Resolver struct {
	strategy Strategy

	// nowFn stamps detection times; replaced in tests.
	nowFn func() time.Time
}

// NewResolver creates a Resolver with the given strategy.
func NewResolver(strategy Strategy) *Resolver {
	return &Resolver{
		strategy: strategy,
		nowFn:    time.Now,
	}
}

// Conflict is a detected write/write race on one task.
type Conflict struct {
	TaskID          models.UUID
	Local           *models.Task
	RemoteUpdatedAt int64
	DetectedAt      int64
}

// Detect reports whether applying a remote copy would clobber pending
// local edits. That is the case exactly when the local row is dirty and
// its modification time is newer than the remote's. A clean local row,
// or a dirty one the server has since out-written, is no race: the
// server is authoritative and the remote copy applies.
func (r *Resolver) Detect(local *models.Task, remoteUpdatedAt int64) (*Conflict, bool) {
	if local == nil {
		return nil, false
	}
	if !local.NeedsSync || local.UpdatedAt <= remoteUpdatedAt {
		return nil, false
	}

	conflict := &Conflict{
		TaskID:          local.ID,
		Local:           local,
		RemoteUpdatedAt: remoteUpdatedAt,
		DetectedAt:      models.TimeToMillis(r.nowFn()),
	}

	logging.Warn("concurrent edit detected", map[string]interface{}{
		"task_id":           local.ID.String(),
		"local_updated_at":  local.UpdatedAt,
		"remote_updated_at": remoteUpdatedAt,
	})
	return conflict, true
}

// Outcome is the resolver's ruling on one race.
type Outcome struct {
	Action   Action
	Strategy Strategy
}

// Resolve rules on a detected race using the configured strategy.
func (r *Resolver) Resolve(conflict *Conflict) (*Outcome, error) {
	if conflict == nil || conflict.Local == nil {
		return nil, ErrNilConflict
	}

	switch r.strategy {
	case StrategyLastWriteWins:
		return r.resolveLastWriteWins(conflict), nil
	case StrategyManual:
		return r.resolveManual(conflict), nil
	default:
		return r.resolveManual(conflict), nil
	}
}

// resolveLastWriteWins keeps whichever copy changed last. Detection only
// fires when the local copy is newer, so local wins every race here; it
// stays dirty and travels on the next push.
func (r *Resolver) resolveLastWriteWins(conflict *Conflict) *Outcome {
	logging.Info("conflict auto-resolved, local copy is newer", map[string]interface{}{
		"task_id":           conflict.TaskID.String(),
		"local_updated_at":  conflict.Local.UpdatedAt,
		"remote_updated_at": conflict.RemoteUpdatedAt,
		"strategy":          string(StrategyLastWriteWins),
	})
	return &Outcome{Action: ActionKeepLocal, Strategy: StrategyLastWriteWins}
}

// resolveManual parks the race: the local copy is left untouched and
// flagged so the review screen can offer use_local / use_server.
func (r *Resolver) resolveManual(conflict *Conflict) *Outcome {
	logging.Warn("conflict parked for manual review", map[string]interface{}{
		"task_id":           conflict.TaskID.String(),
		"local_updated_at":  conflict.Local.UpdatedAt,
		"remote_updated_at": conflict.RemoteUpdatedAt,
		"strategy":          string(StrategyManual),
	})
	return &Outcome{Action: ActionFlagForReview, Strategy: StrategyManual}
}

// IsValidResolution reports whether s names a side a user can pick when
// settling a parked conflict.
func IsValidResolution(s string) bool {
	return s == models.ResolutionUseLocal || s == models.ResolutionUseServer
}
