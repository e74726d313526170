package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/solenne/lyricframe/internal/db"
	"github.com/solenne/lyricframe/internal/models"
	"github.com/solenne/lyricframe/internal/queue"
	"github.com/solenne/lyricframe/internal/services"
	"github.com/solenne/lyricframe/internal/snap"
	"github.com/solenne/lyricframe/internal/storage"
	"github.com/solenne/lyricframe/internal/timeline"
	"github.com/solenne/lyricframe/internal/workflow"
)

const maxAudioUploadBytes = 64 << 20 // 64 MB
const maxFrameUploadBytes = 16 << 20 // 16 MB

// Handler serves the editor API. It also implements workflow.Actions so the
// tracker can drive planning and generation through the same code paths the
// manual endpoints use.
type Handler struct {
	store   *timeline.Store
	engine  *snap.Engine
	sched   *queue.Scheduler
	ai      *services.OpenAIService
	media   *storage.MediaStore
	assets  *db.DB            // nil when no DATABASE_URL is configured
	tracker *workflow.Tracker // set after construction, see SetTracker

	mu    sync.Mutex
	audio []byte // raw song bytes, held for transcription
}

func NewHandler(store *timeline.Store, engine *snap.Engine, sched *queue.Scheduler, ai *services.OpenAIService, media *storage.MediaStore, assets *db.DB) *Handler {
	return &Handler{
		store:  store,
		engine: engine,
		sched:  sched,
		ai:     ai,
		media:  media,
		assets: assets,
	}
}

// SetTracker wires the workflow tracker in after construction. The tracker
// needs the handler as its Actions implementation, so neither can be built
// first with the other as a constructor argument.
func (h *Handler) SetTracker(t *workflow.Tracker) {
	h.tracker = t
}

func (h *Handler) evaluate(ctx context.Context) {
	if h.tracker != nil {
		h.tracker.Evaluate(ctx)
	}
}

// ── Timeline ────────────────────────────────────────────────────────────────

// GetTimeline handles GET /v1/timeline
func (h *Handler) GetTimeline(w http.ResponseWriter, r *http.Request) {
	clips := h.store.Clips()
	out := models.TimelineResponse{
		AudioPresent:  h.store.AudioPresent(),
		TotalDuration: h.store.TotalDuration(),
		Style:         h.store.Style(),
		Playhead:      h.store.Playhead(),
		BeatMarkers:   h.store.BeatMarkers(),
		Segments:      h.store.Segments(),
		Scenes:        h.store.Scenes(),
		Clips:         make([]models.ClipResponse, 0, len(clips)),
	}
	for _, c := range clips {
		out.Clips = append(out.Clips, h.clipResponse(c))
	}
	respondJSON(w, http.StatusOK, out)
}

func (h *Handler) clipResponse(c models.Clip) models.ClipResponse {
	conflict := h.engine.Conflicts(c.ID)
	return models.ClipResponse{
		Clip:        c,
		Overlaps:    conflict.Overlaps,
		FitsInScene: conflict.FitsInScene,
	}
}

// UploadAudio handles POST /v1/audio. Multipart form: "file" (the song),
// "duration" (seconds), optional "style".
func (h *Handler) UploadAudio(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxAudioUploadBytes); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}

	var duration float64
	if _, err := fmt.Sscanf(r.FormValue("duration"), "%f", &duration); err != nil || duration <= 0 {
		respondError(w, http.StatusBadRequest, "duration must be a positive number of seconds")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "Missing audio file")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxAudioUploadBytes+1))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to read audio file")
		return
	}
	if len(data) > maxAudioUploadBytes {
		respondError(w, http.StatusRequestEntityTooLarge, "Audio file too large")
		return
	}

	h.mu.Lock()
	h.audio = data
	h.mu.Unlock()

	if style := r.FormValue("style"); style != "" {
		h.store.SetStyle(style)
	}
	h.store.SetAudio(duration)

	// Park the original in object storage too; transcription works off the
	// in-memory copy so an upload failure is not fatal.
	objectPath := "audio/" + fmt.Sprintf("%d%s", time.Now().UnixMilli(), filepath.Ext(header.Filename))
	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "audio/mpeg"
	}
	if err := h.media.Upload(r.Context(), objectPath, data, contentType); err != nil {
		log.Printf("[API] audio kept in memory only, upload failed: %v", err)
	}

	h.evaluate(r.Context())
	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"duration": duration,
		"bytes":    len(data),
	})
}

// Transcribe handles POST /v1/transcribe. Runs Whisper over the uploaded
// song and replaces the transcript. Blocks until done.
func (h *Handler) Transcribe(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	audio := h.audio
	h.mu.Unlock()

	if len(audio) == 0 {
		respondError(w, http.StatusConflict, "No audio loaded")
		return
	}

	h.store.SetTranscribing(true)
	h.evaluate(r.Context())

	segments, err := h.ai.Transcribe(r.Context(), audio)
	h.store.SetTranscribing(false)
	if err != nil {
		h.evaluate(r.Context())
		respondError(w, http.StatusBadGateway, fmt.Sprintf("Transcription failed: %v", err))
		return
	}

	if err := h.store.SetSegments(segments); err != nil {
		h.evaluate(r.Context())
		respondError(w, http.StatusBadGateway, fmt.Sprintf("Transcription produced invalid segments: %v", err))
		return
	}

	h.evaluate(r.Context())
	respondJSON(w, http.StatusOK, h.store.Segments())
}

// Plan handles POST /v1/plan. Asks the planner for a scene breakdown and
// replaces scenes and world elements with the result. Blocks until done.
func (h *Handler) Plan(w http.ResponseWriter, r *http.Request) {
	if err := h.StartPlanning(r.Context()); err != nil {
		respondError(w, http.StatusBadGateway, fmt.Sprintf("Planning failed: %v", err))
		return
	}
	respondJSON(w, http.StatusOK, h.store.Scenes())
}

// SetPlayhead handles PUT /v1/playhead
func (h *Handler) SetPlayhead(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Time float64 `json:"time"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	h.store.SetPlayhead(req.Time)
	respondJSON(w, http.StatusOK, map[string]float64{"playhead": h.store.Playhead()})
}

// SetBeatMarkers handles PUT /v1/beats
func (h *Handler) SetBeatMarkers(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Beats []float64 `json:"beats"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	h.store.SetBeatMarkers(req.Beats)
	respondJSON(w, http.StatusOK, map[string]int{"count": len(req.Beats)})
}

// ── Scenes ──────────────────────────────────────────────────────────────────

// ListScenes handles GET /v1/scenes
func (h *Handler) ListScenes(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.store.Scenes())
}

// CreateScene handles POST /v1/scenes
func (h *Handler) CreateScene(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title       string  `json:"title"`
		Description string  `json:"description"`
		StartTime   float64 `json:"start_time"`
		EndTime     float64 `json:"end_time"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Title == "" {
		respondError(w, http.StatusBadRequest, "Title is required")
		return
	}

	scene, err := h.store.CreateScene(req.Title, req.Description, req.StartTime, req.EndTime)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, scene)
}

// DeleteScene handles DELETE /v1/scenes/{id}. Cascades to the scene's clips.
func (h *Handler) DeleteScene(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	removed, err := h.store.DeleteSceneCascade(id)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	h.evaluate(r.Context())
	respondJSON(w, http.StatusOK, map[string]int{"clips_removed": removed})
}

// SetSceneElements handles PUT /v1/scenes/{id}/elements
func (h *Handler) SetSceneElements(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		ElementRefs []uuid.UUID `json:"element_refs"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.store.SetSceneElements(id, req.ElementRefs); err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"count": len(req.ElementRefs)})
}

// SetSceneCamera handles PUT /v1/scenes/{id}/camera
func (h *Handler) SetSceneCamera(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	var overrides models.JSONB
	if err := json.NewDecoder(r.Body).Decode(&overrides); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.store.SetSceneCamera(id, overrides); err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, overrides)
}

// GetSceneElements handles GET /v1/scenes/{id}/elements — the scene's
// references resolved to live elements, dangling refs dropped.
func (h *Handler) GetSceneElements(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	elements, err := h.store.ResolveElements(id)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	if elements == nil {
		elements = []models.WorldElement{}
	}
	respondJSON(w, http.StatusOK, elements)
}

// ── Clips ───────────────────────────────────────────────────────────────────

// ListClips handles GET /v1/clips
func (h *Handler) ListClips(w http.ResponseWriter, r *http.Request) {
	clips := h.store.Clips()
	out := make([]models.ClipResponse, 0, len(clips))
	for _, c := range clips {
		out = append(out, h.clipResponse(c))
	}
	respondJSON(w, http.StatusOK, out)
}

// GetClip handles GET /v1/clips/{id}
func (h *Handler) GetClip(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	clip, err := h.store.Clip(id)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, h.clipResponse(clip))
}

// CreateClip handles POST /v1/clips
func (h *Handler) CreateClip(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StartTime float64    `json:"start_time"`
		EndTime   float64    `json:"end_time"`
		SegmentID *uuid.UUID `json:"segment_id,omitempty"`
		SceneID   *uuid.UUID `json:"scene_id,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	clip, err := h.store.CreateClip(req.StartTime, req.EndTime, req.SegmentID, req.SceneID)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.evaluate(r.Context())
	respondJSON(w, http.StatusCreated, h.clipResponse(*clip))
}

// CreateClipsFromSegments handles POST /v1/clips/from-segments — materializes
// one clip per transcript segment that is long enough to be a clip.
func (h *Handler) CreateClipsFromSegments(w http.ResponseWriter, r *http.Request) {
	created := h.createClipsFromSegments()
	h.evaluate(r.Context())
	out := make([]models.ClipResponse, 0, len(created))
	for _, c := range created {
		out = append(out, h.clipResponse(c))
	}
	respondJSON(w, http.StatusCreated, out)
}

func (h *Handler) createClipsFromSegments() []models.Clip {
	var created []models.Clip
	for _, seg := range h.store.Segments() {
		if seg.End-seg.Start < models.MinClipDuration {
			continue
		}
		segID := seg.ID
		clip, err := h.store.CreateClip(seg.Start, seg.End, &segID, nil)
		if err != nil {
			log.Printf("[API] clip for segment %q skipped: %v", seg.Text, err)
			continue
		}
		created = append(created, *clip)
	}
	return created
}

// DeleteClip handles DELETE /v1/clips/{id}
func (h *Handler) DeleteClip(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	if err := h.store.DeleteClip(id); err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	h.evaluate(r.Context())
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// SplitClip handles POST /v1/clips/{id}/split
func (h *Handler) SplitClip(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		AtTime float64 `json:"at_time"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	left, right, err := h.store.SplitClip(id, req.AtTime)
	if err != nil {
		if err == timeline.ErrInvalidSplit {
			respondError(w, http.StatusBadRequest, err.Error())
		} else {
			respondError(w, http.StatusNotFound, err.Error())
		}
		return
	}
	respondJSON(w, http.StatusOK, map[string]models.ClipResponse{
		"left":  h.clipResponse(*left),
		"right": h.clipResponse(*right),
	})
}

// DragClip handles POST /v1/clips/{id}/drag — moves the whole clip by delta
// seconds with magnetic snapping at the given zoom (pixels per second).
func (h *Handler) DragClip(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Delta float64 `json:"delta"`
		Zoom  float64 `json:"zoom"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	clip, err := h.engine.Drag(id, req.Delta, req.Zoom)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, h.clipResponse(clip))
}

// TrimClip handles POST /v1/clips/{id}/trim — moves one clip edge toward
// target with snapping, clamped at the minimum duration.
func (h *Handler) TrimClip(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Edge   string  `json:"edge"` // "start" or "end"
		Target float64 `json:"target"`
		Zoom   float64 `json:"zoom"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	edge := snap.Edge(req.Edge)
	if edge != snap.EdgeStart && edge != snap.EdgeEnd {
		respondError(w, http.StatusBadRequest, "edge must be \"start\" or \"end\"")
		return
	}

	clip, err := h.engine.Trim(id, edge, req.Target, req.Zoom)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, h.clipResponse(clip))
}

// UploadFrame handles POST /v1/clips/{id}/frames. Multipart form: "file"
// (the image), "type" ("start" or "end"). The upload replaces the clip's
// frame reference; the previous frame record is untouched.
func (h *Handler) UploadFrame(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	if _, err := h.store.Clip(id); err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}

	if err := r.ParseMultipartForm(maxFrameUploadBytes); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}

	frameType := models.FrameType(r.FormValue("type"))
	if frameType != models.FrameStart && frameType != models.FrameEnd {
		respondError(w, http.StatusBadRequest, "type must be \"start\" or \"end\"")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "Missing image file")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxFrameUploadBytes+1))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to read image file")
		return
	}
	if len(data) > maxFrameUploadBytes {
		respondError(w, http.StatusRequestEntityTooLarge, "Image file too large")
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/png"
	}
	filename := fmt.Sprintf("%s_upload_%d%s", frameType, time.Now().UnixMilli(), filepath.Ext(header.Filename))
	objectPath := h.media.ClipObjectPath(id, filename)
	if err := h.media.Upload(r.Context(), objectPath, data, contentType); err != nil {
		respondError(w, http.StatusBadGateway, fmt.Sprintf("Failed to store frame: %v", err))
		return
	}

	frame := &models.Frame{
		ID:     uuid.New(),
		ClipID: id,
		Type:   frameType,
		Source: models.FrameSourceUpload,
		URL:    h.media.PublicURL(objectPath),
	}
	if err := h.store.AttachFrame(id, frame); err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, frame)
}

// GenerateClip handles POST /v1/clips/{id}/generate — queues the clip's
// missing media (frames, then video) in dependency order.
func (h *Handler) GenerateClip(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	if _, err := h.store.Clip(id); err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	items := h.sched.EnqueueClipBatch(id)
	respondJSON(w, http.StatusAccepted, items)
}

// ── World elements ──────────────────────────────────────────────────────────

// ListElements handles GET /v1/elements
func (h *Handler) ListElements(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.store.Elements())
}

// PutElement handles POST /v1/elements and PUT /v1/elements/{id}
func (h *Handler) PutElement(w http.ResponseWriter, r *http.Request) {
	var el models.WorldElement
	if err := json.NewDecoder(r.Body).Decode(&el); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if el.Name == "" {
		respondError(w, http.StatusBadRequest, "Name is required")
		return
	}
	if idParam := chi.URLParam(r, "id"); idParam != "" {
		id, err := uuid.Parse(idParam)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid element ID")
			return
		}
		el.ID = id
	}

	status := http.StatusOK
	if el.ID == uuid.Nil {
		status = http.StatusCreated
	}
	respondJSON(w, status, h.store.PutElement(el))
}

// DeleteElement handles DELETE /v1/elements/{id}. Scene references to the
// deleted element are left dangling and filtered at resolve time.
func (h *Handler) DeleteElement(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	if err := h.store.DeleteElement(id); err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// ── Assets ──────────────────────────────────────────────────────────────────

// ListAssets handles GET /v1/assets — every frame and video record persisted
// to the asset store, including ones from previous sessions whose clips are
// gone. Their URLs stay valid, so the media is still recoverable.
func (h *Handler) ListAssets(w http.ResponseWriter, r *http.Request) {
	if h.assets == nil {
		respondError(w, http.StatusServiceUnavailable, "No asset store configured")
		return
	}
	frames, videos, err := h.assets.LoadAll(r.Context())
	if err != nil {
		respondError(w, http.StatusBadGateway, fmt.Sprintf("Failed to load assets: %v", err))
		return
	}
	if frames == nil {
		frames = []models.Frame{}
	}
	if videos == nil {
		videos = []models.GeneratedVideo{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"frames": frames,
		"videos": videos,
	})
}

// DeleteAssetFrame handles DELETE /v1/assets/frames/{id}. Removes only the
// persisted record; a clip still referencing the frame keeps its in-memory
// copy.
func (h *Handler) DeleteAssetFrame(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	if h.assets == nil {
		respondError(w, http.StatusServiceUnavailable, "No asset store configured")
		return
	}
	if _, err := h.assets.GetFrame(r.Context(), id); err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	if err := h.assets.DeleteFrame(r.Context(), id); err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// DeleteAssetVideo handles DELETE /v1/assets/videos/{id}
func (h *Handler) DeleteAssetVideo(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	if h.assets == nil {
		respondError(w, http.StatusServiceUnavailable, "No asset store configured")
		return
	}
	if _, err := h.assets.GetVideo(r.Context(), id); err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	if err := h.assets.DeleteVideo(r.Context(), id); err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// ── Queue ───────────────────────────────────────────────────────────────────

// GetQueue handles GET /v1/queue
func (h *Handler) GetQueue(w http.ResponseWriter, r *http.Request) {
	isProcessing, isPaused := h.sched.State()
	respondJSON(w, http.StatusOK, models.QueueResponse{
		IsProcessing: isProcessing,
		IsPaused:     isPaused,
		Items:        h.sched.Items(),
	})
}

// GenerateAll handles POST /v1/queue/generate — queues missing media for
// every clip and starts processing.
func (h *Handler) GenerateAll(w http.ResponseWriter, r *http.Request) {
	items := h.sched.EnqueueAll()
	h.sched.Start()
	respondJSON(w, http.StatusAccepted, items)
}

// StartQueue handles POST /v1/queue/start
func (h *Handler) StartQueue(w http.ResponseWriter, r *http.Request) {
	h.sched.Start()
	h.respondQueueState(w)
}

// PauseQueue handles POST /v1/queue/pause — the in-flight item finishes,
// nothing new starts.
func (h *Handler) PauseQueue(w http.ResponseWriter, r *http.Request) {
	h.sched.Pause()
	h.respondQueueState(w)
}

// ResumeQueue handles POST /v1/queue/resume
func (h *Handler) ResumeQueue(w http.ResponseWriter, r *http.Request) {
	h.sched.Resume()
	h.respondQueueState(w)
}

// ClearQueue handles POST /v1/queue/clear
func (h *Handler) ClearQueue(w http.ResponseWriter, r *http.Request) {
	h.sched.Clear()
	h.respondQueueState(w)
}

// RetryFailed handles POST /v1/queue/retry-failed
func (h *Handler) RetryFailed(w http.ResponseWriter, r *http.Request) {
	n := h.sched.RetryFailed()
	respondJSON(w, http.StatusOK, map[string]int{"retried": n})
}

// RetryItem handles POST /v1/queue/items/{id}/retry
func (h *Handler) RetryItem(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	if err := h.sched.RetryItem(id); err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "retrying"})
}

// RemoveItem handles DELETE /v1/queue/items/{id}
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "id")
	if !ok {
		return
	}
	if err := h.sched.Remove(id); err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func (h *Handler) respondQueueState(w http.ResponseWriter) {
	isProcessing, isPaused := h.sched.State()
	respondJSON(w, http.StatusOK, map[string]bool{
		"is_processing": isProcessing,
		"is_paused":     isPaused,
	})
}

// ── Workflow ────────────────────────────────────────────────────────────────

// GetWorkflow handles GET /v1/workflow
func (h *Handler) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	stage := h.tracker.Stage()
	respondJSON(w, http.StatusOK, models.WorkflowResponse{
		Stage:        stage,
		NextAction:   workflow.NextAction(stage),
		AutoProgress: h.tracker.AutoProgress(),
	})
}

// SetAutoProgress handles PUT /v1/workflow/auto-progress
func (h *Handler) SetAutoProgress(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	h.tracker.SetAutoProgress(req.Enabled)
	h.evaluate(r.Context())
	respondJSON(w, http.StatusOK, map[string]bool{"auto_progress": req.Enabled})
}

// ── workflow.Actions ────────────────────────────────────────────────────────

// StartPlanning runs the scene planner over the current transcript and
// replaces scenes and world elements with the result.
func (h *Handler) StartPlanning(ctx context.Context) error {
	segments := h.store.Segments()
	if len(segments) == 0 {
		return fmt.Errorf("no transcript to plan from")
	}

	h.store.SetPlanning(true)
	h.evaluate(ctx)

	scenes, elements, err := h.ai.PlanScenes(ctx, segments, h.store.Style(), h.store.TotalDuration())
	h.store.SetPlanning(false)
	if err != nil {
		h.evaluate(ctx)
		return err
	}

	for _, el := range elements {
		h.store.PutElement(el)
	}
	if err := h.store.SetScenes(scenes); err != nil {
		h.evaluate(ctx)
		return err
	}

	h.evaluate(ctx)
	return nil
}

// StartGeneration queues missing media for every clip and starts the queue.
// When no clips exist yet, one is materialized per transcript segment first.
func (h *Handler) StartGeneration(ctx context.Context) error {
	if len(h.store.Clips()) == 0 {
		h.createClipsFromSegments()
	}
	items := h.sched.EnqueueAll()
	if len(items) == 0 {
		return fmt.Errorf("nothing to generate")
	}
	h.sched.Start()
	log.Printf("[API] generation started, %d items queued", len(items))
	return nil
}

// ── Helpers ─────────────────────────────────────────────────────────────────

func parseID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid ID")
		return uuid.Nil, false
	}
	return id, true
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// Health check
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
