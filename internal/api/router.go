package api

import (
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterConfig holds settings for the API router.
// Passed from main.go so the router can configure CORS and auth from env vars.
type RouterConfig struct {
	// BackendAPIKey is the key that must be provided in X-API-Key or Authorization: Bearer <key>.
	// If empty, auth middleware is skipped (development mode).
	BackendAPIKey string

	// CorsAllowedOrigins is a comma-separated list of allowed origins.
	// If empty, defaults to "*" (development mode).
	CorsAllowedOrigins string
}

func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (applied to all routes including /health)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	// CORS: restrict origins when configured, otherwise allow all (dev mode)
	allowedOrigins := []string{"*"}
	if cfg.CorsAllowedOrigins != "" {
		origins := strings.Split(cfg.CorsAllowedOrigins, ",")
		trimmed := make([]string, 0, len(origins))
		for _, o := range origins {
			if s := strings.TrimSpace(o); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			allowedOrigins = trimmed
		}
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check — public, no auth required
	r.Get("/health", h.Health)

	// API routes — protected by API key auth
	r.Route("/v1", func(r chi.Router) {
		// Apply auth middleware only to /v1 routes
		if cfg.BackendAPIKey != "" {
			r.Use(APIKeyAuth(cfg.BackendAPIKey))
		}

		// Timeline
		r.Get("/timeline", h.GetTimeline)
		r.Post("/audio", h.UploadAudio)
		r.Post("/transcribe", h.Transcribe)
		r.Post("/plan", h.Plan)
		r.Put("/playhead", h.SetPlayhead)
		r.Put("/beats", h.SetBeatMarkers)

		// Scenes
		r.Get("/scenes", h.ListScenes)
		r.Post("/scenes", h.CreateScene)
		r.Delete("/scenes/{id}", h.DeleteScene)
		r.Get("/scenes/{id}/elements", h.GetSceneElements)
		r.Put("/scenes/{id}/elements", h.SetSceneElements)
		r.Put("/scenes/{id}/camera", h.SetSceneCamera)

		// Clips
		r.Get("/clips", h.ListClips)
		r.Post("/clips", h.CreateClip)
		r.Post("/clips/from-segments", h.CreateClipsFromSegments)
		r.Get("/clips/{id}", h.GetClip)
		r.Delete("/clips/{id}", h.DeleteClip)
		r.Post("/clips/{id}/split", h.SplitClip)
		r.Post("/clips/{id}/drag", h.DragClip)
		r.Post("/clips/{id}/trim", h.TrimClip)
		r.Post("/clips/{id}/frames", h.UploadFrame)
		r.Post("/clips/{id}/generate", h.GenerateClip)

		// World elements
		r.Get("/elements", h.ListElements)
		r.Post("/elements", h.PutElement)
		r.Put("/elements/{id}", h.PutElement)
		r.Delete("/elements/{id}", h.DeleteElement)

		// Persisted assets
		r.Get("/assets", h.ListAssets)
		r.Delete("/assets/frames/{id}", h.DeleteAssetFrame)
		r.Delete("/assets/videos/{id}", h.DeleteAssetVideo)

		// Generation queue
		r.Get("/queue", h.GetQueue)
		r.Post("/queue/generate", h.GenerateAll)
		r.Post("/queue/start", h.StartQueue)
		r.Post("/queue/pause", h.PauseQueue)
		r.Post("/queue/resume", h.ResumeQueue)
		r.Post("/queue/clear", h.ClearQueue)
		r.Post("/queue/retry-failed", h.RetryFailed)
		r.Post("/queue/items/{id}/retry", h.RetryItem)
		r.Delete("/queue/items/{id}", h.RemoveItem)

		// Workflow
		r.Get("/workflow", h.GetWorkflow)
		r.Put("/workflow/auto-progress", h.SetAutoProgress)
	})

	return r
}
