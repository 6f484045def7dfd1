package httpapi

import (
	stdhttp "net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/square-1111/LogoKraft/internal/http/handlers"
	"github.com/square-1111/LogoKraft/internal/infra"
	"github.com/square-1111/LogoKraft/internal/middleware"
)

// NewRouter wires the API surface. The generation routes sit behind a
// per-IP rate limit; the stream route does not, reconnects there are
// normal client behavior.
func NewRouter(app *handlers.App, cfg *infra.Config) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(app.Logger),
		middleware.CORS(cfg.AllowedOrigins),
	)

	r.Get("/v1/healthz", app.Health)

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(cfg.RateLimitPerMin, time.Minute))
			r.Post("/projects/{project_id}/generate", app.ProjectGenerate)
			r.Post("/assets/{asset_id}/refine", app.AssetRefine)
		})

		r.Get("/batches/{batch_id}", app.BatchSnapshot)
		r.Get("/batches/{batch_id}/stream", app.BatchStream)
		r.Get("/credits", app.Credits)
		r.Post("/signup", app.Signup)
	})

	// Generated files are served straight off local storage.
	fileServer := stdhttp.FileServer(stdhttp.Dir(cfg.StoragePath))
	r.Handle("/static/*", stdhttp.StripPrefix("/static/", fileServer))

	return r
}
