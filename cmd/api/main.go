package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/solenne/lyricframe/internal/api"
	"github.com/solenne/lyricframe/internal/config"
	"github.com/solenne/lyricframe/internal/db"
	"github.com/solenne/lyricframe/internal/models"
	"github.com/solenne/lyricframe/internal/queue"
	"github.com/solenne/lyricframe/internal/services"
	"github.com/solenne/lyricframe/internal/snap"
	"github.com/solenne/lyricframe/internal/storage"
	"github.com/solenne/lyricframe/internal/timeline"
	"github.com/solenne/lyricframe/internal/workflow"
)

func main() {
	log.Println("Starting Lyricframe API...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Connect to the asset database (optional — without it, generated media
	// survives only as long as the process)
	var database *db.DB
	if cfg.DatabaseURL != "" {
		database, err = db.New(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer database.Close()
		log.Println("Connected to database")
	} else {
		log.Println("No DATABASE_URL set — generated media is held in memory only")
	}

	// Connect to Redis for queue snapshots (optional)
	var snapshots *queue.Snapshots
	if cfg.RedisURL != "" {
		snapshots, err = queue.NewSnapshots(cfg.RedisURL)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer snapshots.Close()
		log.Println("Connected to Redis for queue snapshots")
	} else {
		log.Println("No REDIS_URL set — queue state is not persisted across restarts")
	}

	// Initialize media storage
	media := storage.New(cfg.StorageURL, cfg.StorageServiceKey, cfg.StorageBucket)
	log.Println("Initialized media storage")

	// Generation providers
	openaiSvc := services.NewOpenAIService(cfg.OpenAIKey)
	frameStudio := services.NewFrameStudio(cfg.GeminiKey, media)
	videoStudio := services.NewVideoStudio(cfg.GeminiKey, cfg.VeoModel, media)

	// Timeline state, snap engine, scheduler
	store := timeline.NewStore()
	if cfg.DefaultStyle != "" {
		store.SetStyle(cfg.DefaultStyle)
	}
	engine := snap.NewEngine(store)
	engine.Rebuild()

	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	var assets queue.AssetStore
	if database != nil {
		assets = database
	}
	sched := queue.New(appCtx, store, frameStudio, videoStudio, assets, snapshots)
	if err := sched.Restore(); err != nil {
		log.Printf("WARNING: queue restore failed: %v", err)
	}

	// API handler doubles as the workflow tracker's actions implementation
	handler := api.NewHandler(store, engine, sched, openaiSvc, media, database)

	signals := func() workflow.Signals {
		clips := store.Clips()
		allHaveVideo := len(clips) > 0
		for _, c := range clips {
			if c.Video == nil || c.Video.Status != models.VideoStatusReady {
				allHaveVideo = false
				break
			}
		}
		return workflow.Signals{
			AudioPresent:       store.AudioPresent(),
			Transcribing:       store.Transcribing(),
			TranscriptNonEmpty: len(store.Segments()) > 0,
			Planning:           store.Planning(),
			ScenesNonEmpty:     len(store.Scenes()) > 0,
			QueueActive:        sched.HasActiveItems(),
			HasFailedItems:     sched.HasFailedItems(),
			HasClips:           len(clips) > 0,
			AllClipsHaveVideo:  allHaveVideo,
		}
	}
	tracker := workflow.NewTracker(signals, handler, cfg.AutoProgress)
	handler.SetTracker(tracker)
	sched.OnChange(func() { tracker.Evaluate(appCtx) })

	if cfg.AutoProgress {
		log.Println("Auto-progress enabled — planning and generation start themselves")
	}

	router := api.NewRouter(handler, api.RouterConfig{
		BackendAPIKey:      cfg.BackendAPIKey,
		CorsAllowedOrigins: cfg.CorsAllowedOrigins,
	})

	if cfg.BackendAPIKey != "" {
		log.Println("API key authentication enabled")
	} else {
		log.Println("WARNING: No BACKEND_API_KEY set — API is unprotected (dev mode)")
	}

	// Start HTTP server
	server := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: router,
	}

	go func() {
		log.Printf("API server listening on :%s", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Stop dispatching new queue items; the in-flight one is abandoned with
	// the process and comes back as pending from the snapshot
	sched.Pause()
	appCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
