// Package api exposes the idea service over HTTP and MCP.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kalambet/v2v/internal/export"
	"github.com/kalambet/v2v/internal/ideas"
	"github.com/kalambet/v2v/internal/intake"
	"github.com/kalambet/v2v/internal/search"
	"github.com/kalambet/v2v/internal/security"
	"github.com/kalambet/v2v/internal/storage"
)

// JobQueue is the intake side of the pipeline.
type JobQueue interface {
	Admit(callerID, filename string, size int64) error
	Submit(job intake.Job) (intake.Job, int, error)
	Status(jobID string) (intake.Status, bool)
	Active() int
	QueueLen() int
	Workers() int
}

// IdeaManager reads and administers idea folders.
type IdeaManager interface {
	List(limit, offset int) ([]storage.Idea, error)
	GetInfo(folder string) (ideas.Info, error)
	Rename(ctx context.Context, folder, newTitle, requester string) (ideas.Renamed, error)
	Delete(ctx context.Context, folder, requester string) (ideas.Deleted, error)
}

// Searcher answers queries over stored ideas.
type Searcher interface {
	Search(ctx context.Context, callerID, query string, f search.Filters, limit int) (search.Results, error)
	Suggest(ctx context.Context, callerID, prefix string, limit int) ([]string, error)
	Advanced(ctx context.Context, callerID string, c search.Criteria, limit int) (search.Results, error)
	Recent(ctx context.Context, callerID string, days, limit int) ([]storage.Idea, error)
	Statistics(ctx context.Context, callerID string) (search.Stats, error)
}

// Exporter packages ideas behind download tokens.
type Exporter interface {
	Export(ctx context.Context, folder, requester string, files []string) (export.Package, error)
	Resolve(token string) (export.Link, error)
	RecordDownload(token string)
	Revoke(token, requester string) error
	UserLinks(user string) []export.LinkSummary
	Stats() export.Stats
}

// HealthChecker reports whether a dependency is usable.
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// Deps holds everything the HTTP handlers need.
type Deps struct {
	Token       string
	Access      *security.Access
	Jobs        JobQueue
	Ideas       IdeaManager
	Search      Searcher
	Exports     Exporter
	DB          HealthChecker
	UploadDir   string
	MaxUploadMB int
	Registry    *prometheus.Registry // nil disables /metrics
}

// NewHandler builds the router. /health, /metrics and /downloads/{token}
// are public; everything else requires the bearer token and a caller id.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if deps.Registry != nil {
		r.Use(newHTTPMetrics(deps.Registry).middleware)
		r.Handle("/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))
	}

	r.Get("/health", handleHealth(deps))
	r.Get("/downloads/{token}", handleDownload(deps))

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		r.Use(RequireCaller)

		r.Post("/jobs", handleSubmitJob(deps))
		r.Get("/jobs/{id}", handleJobStatus(deps))
		r.Get("/pipeline", handlePipeline(deps))

		r.Get("/ideas", handleListIdeas(deps))
		r.Get("/ideas/{folder}", handleGetIdea(deps))
		r.Patch("/ideas/{folder}", handleRenameIdea(deps))
		r.Delete("/ideas/{folder}", handleDeleteIdea(deps))

		r.Get("/search", handleSearch(deps))
		r.Get("/search/suggest", handleSuggest(deps))
		r.Post("/search/advanced", handleAdvancedSearch(deps))
		r.Get("/search/recent", handleRecent(deps))
		r.Get("/stats", handleStats(deps))

		r.Post("/exports", handleCreateExport(deps))
		r.Get("/exports", handleListExports(deps))
		r.Delete("/exports/{token}", handleRevokeExport(deps))
	})

	return r
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := map[string]any{"status": "ok"}
		code := http.StatusOK
		if deps.DB != nil {
			if err := deps.DB.PingContext(r.Context()); err != nil {
				status["status"] = "degraded"
				status["database"] = "unreachable"
				code = http.StatusServiceUnavailable
			}
		}
		if deps.Jobs != nil {
			status["queue"] = deps.Jobs.QueueLen()
			status["active"] = deps.Jobs.Active()
		}
		writeJSON(w, code, status)
	}
}
