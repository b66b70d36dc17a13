// Package sync runs the reconciliation passes between the device store
// and the field-operations backend.
package sync

import "context"

// EngineInterface is what the scheduler and the control surface see of
// the engine. It exists so both can be tested against a scripted fake.
type EngineInterface interface {
	// Sync runs one full reconciliation pass. A pass already in progress
	// makes a concurrent trigger fail with ErrSyncInProgress unless
	// force is set, in which case the trigger waits its turn and runs.
	Sync(ctx context.Context, force bool) (*Result, error)

	// ResolveConflict settles a flagged task either by keeping the local
	// copy (it becomes dirty and travels on the next push) or by adopting
	// the server copy, which is fetched live.
	ResolveConflict(ctx context.Context, taskID, resolution string) error

	// State returns the current pass state.
	State() State

	// LastResult returns the outcome of the most recent pass, or nil
	// before the first one.
	LastResult() *Result

	// Subscribe registers a listener notified after every pass.
	Subscribe(l Listener)

	// Unsubscribe removes a previously registered listener.
	Unsubscribe(l Listener)
}

// Listener receives the result of each finished pass.
type Listener interface {
	OnSyncResult(result Result)
}
