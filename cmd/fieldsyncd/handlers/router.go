package handlers

import (
	"net/http"

	"github.com/fieldhq/fieldsync/internal/network"
	"github.com/fieldhq/fieldsync/internal/service"
	"github.com/fieldhq/fieldsync/internal/store"
	syncpkg "github.com/fieldhq/fieldsync/internal/sync"
	"github.com/fieldhq/fieldsync/internal/sync/scheduler"
)

// Deps carries everything the control API serves.
type Deps struct {
	Engine  syncpkg.EngineInterface
	Sched   *scheduler.Scheduler
	Service *service.TaskService
	Repo    *store.Repository
	Monitor *network.Monitor
}

// NewMux builds the control API routes.
func NewMux(deps Deps) *http.ServeMux {
	syncHandler := NewSyncHandler(deps.Engine, deps.Sched, deps.Service, deps.Repo, deps.Monitor)
	taskHandler := NewTaskHandler(deps.Service)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "fieldsyncd",
		})
	})

	mux.HandleFunc("GET /sync/status", syncHandler.GetStatus)
	mux.HandleFunc("POST /sync/trigger", syncHandler.TriggerSync)
	mux.HandleFunc("GET /sync/conflicts", syncHandler.ListConflicts)
	mux.HandleFunc("POST /sync/conflicts/resolve", syncHandler.ResolveConflict)
	mux.HandleFunc("GET /sync/pending", syncHandler.GetPending)
	mux.HandleFunc("POST /network/connectivity", syncHandler.ReportConnectivity)

	mux.HandleFunc("GET /tasks", taskHandler.ListTasks)
	mux.HandleFunc("POST /tasks", taskHandler.CreateTask)
	mux.HandleFunc("GET /tasks/stats", taskHandler.GetStats)
	mux.HandleFunc("GET /tasks/{id}", taskHandler.GetTask)
	mux.HandleFunc("PATCH /tasks/{id}", taskHandler.UpdateTask)
	mux.HandleFunc("DELETE /tasks/{id}", taskHandler.DeleteTask)
	mux.HandleFunc("GET /tasks/{id}/comments", taskHandler.ListComments)
	mux.HandleFunc("POST /tasks/{id}/comments", taskHandler.AddComment)
	mux.HandleFunc("GET /tasks/{id}/photos", taskHandler.ListPhotos)
	mux.HandleFunc("POST /tasks/{id}/photos", taskHandler.AddPhoto)

	return mux
}
