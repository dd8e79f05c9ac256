package httpx

import (
	"log/slog"
	"net/http"

	"github.com/pixeldeck/pixeldeck/internal/core"
	"github.com/pixeldeck/pixeldeck/internal/service"
)

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Orchestrator   *service.Orchestrator
	Executions     *service.ExecutionService
	RetryQueue     *service.RetryQueue
	RerunQueue     *service.RerunQueue
	Configurations core.ConfigurationRepository
	Credentials    *service.CredentialService
	Logger         *slog.Logger // Logger for request logging and panic recovery (optional)
}

// NewRouter creates and configures the HTTP router.
func NewRouter(services RouterServices) http.Handler {
	mux := http.NewServeMux()

	jobHandlers := &JobHandlers{Orchestrator: services.Orchestrator}
	executionHandlers := &ExecutionHandlers{Svc: services.Executions}
	retryHandlers := &RetryHandlers{Queue: services.RetryQueue}
	rerunHandlers := &RerunHandlers{Queue: services.RerunQueue}
	configurationHandlers := &ConfigurationHandlers{Repo: services.Configurations}
	credentialHandlers := &CredentialHandlers{Svc: services.Credentials}

	registerJobRoutes(mux, jobHandlers)
	registerExecutionRoutes(mux, executionHandlers)
	registerQueueRoutes(mux, retryHandlers, rerunHandlers)
	registerConfigurationRoutes(mux, configurationHandlers)
	registerCredentialRoutes(mux, credentialHandlers)

	mux.Handle("GET /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("HEAD /healthz", http.HandlerFunc(healthHandler))

	var handler http.Handler = mux
	if services.Logger != nil {
		handler = Logging(services.Logger)(handler)
		handler = Recover(services.Logger)(handler)
	}
	return handler
}

func registerJobRoutes(mux *http.ServeMux, h *JobHandlers) {
	mux.Handle("POST /api/jobs/start", http.HandlerFunc(h.Start))
	mux.Handle("POST /api/jobs/stop", http.HandlerFunc(h.Stop))
	mux.Handle("POST /api/jobs/force-stop", http.HandlerFunc(h.ForceStop))
	mux.Handle("GET /api/jobs/status", http.HandlerFunc(h.Status))
	mux.Handle("POST /api/jobs/reconcile", http.HandlerFunc(h.Reconcile))
}

func registerExecutionRoutes(mux *http.ServeMux, h *ExecutionHandlers) {
	mux.Handle("GET /api/executions", http.HandlerFunc(h.List))
	mux.Handle("GET /api/executions/stats", http.HandlerFunc(h.Stats))
	mux.Handle("GET /api/executions/{id}", http.HandlerFunc(h.Get))
	mux.Handle("GET /api/executions/{id}/images", http.HandlerFunc(h.Images))
	mux.Handle("PATCH /api/executions/{id}/label", http.HandlerFunc(h.Rename))
	mux.Handle("DELETE /api/executions/{id}", http.HandlerFunc(h.Delete))
	mux.Handle("GET /api/images", http.HandlerFunc(h.ListImagesByStatus))
	mux.Handle("POST /api/images/{id}/approve", http.HandlerFunc(h.ApproveImage))
	mux.Handle("POST /api/images/{id}/reject", http.HandlerFunc(h.RejectImage))
}

func registerQueueRoutes(mux *http.ServeMux, retry *RetryHandlers, rerun *RerunHandlers) {
	mux.Handle("POST /api/retries", http.HandlerFunc(retry.Batch))
	mux.Handle("POST /api/reruns", http.HandlerFunc(rerun.Bulk))
	mux.Handle("GET /api/reruns/pending", http.HandlerFunc(rerun.Pending))
}

func registerConfigurationRoutes(mux *http.ServeMux, h *ConfigurationHandlers) {
	mux.Handle("POST /api/configurations", http.HandlerFunc(h.Create))
	mux.Handle("GET /api/configurations", http.HandlerFunc(h.List))
	mux.Handle("GET /api/configurations/{id}", http.HandlerFunc(h.Get))
	mux.Handle("PUT /api/configurations/{id}", http.HandlerFunc(h.Update))
	mux.Handle("DELETE /api/configurations/{id}", http.HandlerFunc(h.Delete))
}

func registerCredentialRoutes(mux *http.ServeMux, h *CredentialHandlers) {
	mux.Handle("GET /api/credentials", http.HandlerFunc(h.List))
	mux.Handle("PUT /api/credentials/{service}", http.HandlerFunc(h.Put))
	mux.Handle("DELETE /api/credentials/{service}", http.HandlerFunc(h.Delete))
}
