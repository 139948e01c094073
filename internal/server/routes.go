package server

import (
	"net/http"

	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/common"
	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/handlers"
)

// IngressRoutes builds the public webhook route table.
func IngressRoutes(calendarWebhook *handlers.CalendarWebhookHandler, tasksWebhook *handlers.TasksWebhookHandler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/webhooks/calendar", calendarWebhook.Handle)
	mux.HandleFunc("/webhooks/tasks", tasksWebhook.Handle)
	mux.HandleFunc("/health", healthHandler)
	return mux
}

// AdminRoutes builds the private lifecycle route table.
func AdminRoutes(watch *handlers.WatchHandler, webhooks *handlers.TasksWebhookAdminHandler, housekeeping *handlers.HousekeepingHandler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/admin/calendar/watch/start", watch.HandleStart)
	mux.HandleFunc("/admin/calendar/watch/replace", watch.HandleReplace)
	mux.HandleFunc("/admin/calendar/watch/stop", watch.HandleStop)
	mux.HandleFunc("/admin/tasks/webhook/create", webhooks.HandleCreate)
	mux.HandleFunc("/admin/tasks/webhook/delete", webhooks.HandleDelete)
	mux.HandleFunc("/admin/housekeeping", housekeeping.Handle)
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/api/version", versionHandler)
	return mux
}

// WorkerRoutes builds the queue-facing dispatch route table.
func WorkerRoutes(dispatch *handlers.DispatchHandler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/tasks/dispatch", dispatch.Handle)
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/api/version", versionHandler)
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	handlers.WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": common.GetVersion(),
	})
}

func versionHandler(w http.ResponseWriter, r *http.Request) {
	handlers.WriteJSON(w, http.StatusOK, map[string]string{
		"version": common.Version,
		"build":   common.Build,
		"commit":  common.GitCommit,
	})
}
