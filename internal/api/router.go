package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/tvoe/cliphub/internal/domain"
)

const requestTimeout = 60 * time.Second

// NewRouter creates a new API router. gatherer serves /metrics; nil uses the default registry.
func NewRouter(h *Handler, gatherer prometheus.Gatherer, logger *zap.Logger) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))

	// Health endpoints
	r.Get("/healthz", h.HealthCheck)

	// Metrics endpoint
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Route("/clips", func(r chi.Router) {
			r.Use(middleware.Timeout(requestTimeout))

			r.Post("/", h.CreateClip)
			r.Get("/", h.ListClips)

			r.Route("/{clipId}", func(r chi.Router) {
				r.Get("/", h.GetClip)
				r.Delete("/", h.DeleteClip)

				r.Post("/upload-url", h.RequestUpload)
				r.Post("/upload-complete", h.ConfirmUpload)
				r.Post("/transcode", h.EnsureTranscode)

				r.Get("/readiness", h.GetReadiness)
				r.Post("/publish", h.Transition(domain.LifecyclePublished))
				r.Post("/review", h.Transition(domain.LifecycleReview))
				r.Post("/archive", h.Transition(domain.LifecycleArchived))
				r.Post("/draft", h.Transition(domain.LifecycleDraft))

				r.Post("/views", h.Increment(domain.CounterViews))
				r.Post("/downloads", h.Increment(domain.CounterDownloads))

				r.Get("/jobs", h.ListClipJobs)
				r.Post("/jobs/{jobType}/retry", h.RetryJob)

				r.Get("/transcript", h.GetTranscript)
				r.Patch("/transcript/segments/{segmentId}", h.EditSegment)

				r.Get("/annotations", h.ListAnnotations)
				r.Post("/annotations", h.CreateAnnotation)
				r.Get("/bookmarks", h.ListBookmarks)
				r.Post("/bookmarks", h.CreateBookmark)
			})
		})

		r.Route("/jobs/{jobId}", func(r chi.Router) {
			// long-lived stream, no request timeout
			r.Get("/watch", h.WatchJob)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Timeout(requestTimeout))
				r.Get("/", h.GetJob)
				r.Post("/cancel", h.CancelJob)
				r.Post("/reports", h.ReportJob)
			})
		})
	})

	return r
}

// requestLogger logs HTTP requests
func requestLogger(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				logger.Info("request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Duration("duration", time.Since(start)),
					zap.String("requestId", middleware.GetReqID(r.Context())),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
