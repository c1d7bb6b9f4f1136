package httpapi

import (
	"net/http"
	"time"

	"archgen/internal/http/handlers"
	"archgen/internal/infra"
	"archgen/internal/middleware"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// RouterOptions carries what NewRouter mounts besides the App handlers.
type RouterOptions struct {
	Config  *infra.Config
	Logger  infra.Logger
	Metrics http.Handler
	// StaticDir is served under /static when assets live on local disk.
	StaticDir string
}

func NewRouter(app *handlers.App, opts RouterOptions) http.Handler {
	cfg := opts.Config
	if cfg == nil {
		cfg = &infra.Config{}
	}
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(opts.Logger),
		middleware.CORS(cfg.AllowedOrigins),
	)

	r.Get("/v1/healthz", app.Health)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}
	r.Get("/proxy-download", app.ProxyDownload)
	if opts.StaticDir != "" {
		r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir(opts.StaticDir))))
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthJWT(cfg.JWTSecret))

		r.Get("/v1/credits", app.Credits)
		r.Post("/v1/uploads", app.Upload)
		r.With(middleware.RateLimit(cfg.RateLimitPerMin, time.Minute)).Post("/v1/generations", app.Generate)

		r.Route("/v1/jobs", func(r chi.Router) {
			r.Post("/reconcile", app.ReconcileJobs)
			r.Get("/{id}", app.GetJob)
			r.Get("/{id}/position", app.JobPosition)
		})
	})

	return r
}
