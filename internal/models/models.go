package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// MinClipDuration is the shortest clip the timeline accepts, in seconds.
// Interactive trims clamp against it; direct mutations that would violate it
// are rejected outright.
const MinClipDuration = 0.5

// Enums

type SegmentType string

const (
	SegmentVerse        SegmentType = "verse"
	SegmentChorus       SegmentType = "chorus"
	SegmentBridge       SegmentType = "bridge"
	SegmentIntro        SegmentType = "intro"
	SegmentOutro        SegmentType = "outro"
	SegmentPreChorus    SegmentType = "pre-chorus"
	SegmentHook         SegmentType = "hook"
	SegmentInstrumental SegmentType = "instrumental"
)

type FrameType string

const (
	FrameStart FrameType = "start"
	FrameEnd   FrameType = "end"
)

type FrameSource string

const (
	FrameSourceAI     FrameSource = "ai"
	FrameSourceUpload FrameSource = "upload"
)

type VideoStatus string

const (
	VideoStatusReady  VideoStatus = "ready"
	VideoStatusFailed VideoStatus = "failed"
)

type QueueItemType string

const (
	QueueItemFrame QueueItemType = "frame"
	QueueItemVideo QueueItemType = "video"
)

type QueueItemStatus string

const (
	QueueItemPending    QueueItemStatus = "pending"
	QueueItemProcessing QueueItemStatus = "processing"
	QueueItemComplete   QueueItemStatus = "complete"
	QueueItemFailed     QueueItemStatus = "failed"
)

type WorkflowStage string

const (
	StageEmpty        WorkflowStage = "empty"
	StageAudioLoaded  WorkflowStage = "audio_loaded"
	StageTranscribing WorkflowStage = "transcribing"
	StageTranscribed  WorkflowStage = "transcribed"
	StagePlanning     WorkflowStage = "planning"
	StagePlanned      WorkflowStage = "planned"
	StageGenerating   WorkflowStage = "generating"
	StageReady        WorkflowStage = "ready"
)

// JSONB is a custom type for PostgreSQL JSONB columns. Also used in memory
// for the free-form camera override maps carried by scenes.
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, j)
}

// Models

// Word is a single transcribed word with its time span, used for
// karaoke-style alignment inside a segment.
type Word struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// TranscriptSegment is a transcribed or authored block of lyrics.
// Segments are ordered by Start but may leave gaps (instrumental breaks)
// and may overlap; only start < end is enforced.
type TranscriptSegment struct {
	ID    uuid.UUID   `json:"id"`
	Text  string      `json:"text"`
	Words []Word      `json:"words,omitempty"`
	Start float64     `json:"start"`
	End   float64     `json:"end"`
	Type  SegmentType `json:"type"`
}

// WorldElement is a reusable named entity (character, location, prop, era,
// motivation) referenced by scenes. Elements are owned by the element table,
// not by the scenes that reference them.
type WorldElement struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Category    string    `json:"category"` // "who", "what", "when", "where", "why"
	Description string    `json:"description,omitempty"`
}

// Scene is a titled time interval with narrative context. ElementRefs are
// weak references into the world element table — deleting an element never
// cascades here; dangling ids are filtered when the scene is resolved.
type Scene struct {
	ID              uuid.UUID   `json:"id"`
	Title           string      `json:"title"`
	Description     string      `json:"description,omitempty"`
	StartTime       float64     `json:"start_time"`
	EndTime         float64     `json:"end_time"`
	ElementRefs     []uuid.UUID `json:"element_refs,omitempty"`
	CameraOverrides JSONB       `json:"camera_overrides,omitempty"`
}

// Clip is a titled time interval carrying generated visual media.
// SceneID is a nullable parent — a clip with no scene is free-floating.
// Order is a float so a split can insert a sibling at order+0.5 without
// renumbering the rest of the track.
//
// Clips are allowed to overlap each other and to spill outside their scene's
// interval; those states are flagged by the snap engine, never rejected,
// so an in-progress drag can't destroy the user's edit.
type Clip struct {
	ID         uuid.UUID       `json:"id"`
	SceneID    *uuid.UUID      `json:"scene_id,omitempty"`
	SegmentID  *uuid.UUID      `json:"segment_id,omitempty"`
	Title      string          `json:"title"`
	StartTime  float64         `json:"start_time"`
	EndTime    float64         `json:"end_time"`
	Order      float64         `json:"order"`
	StartFrame *Frame          `json:"start_frame,omitempty"`
	EndFrame   *Frame          `json:"end_frame,omitempty"`
	Video      *GeneratedVideo `json:"video,omitempty"`
}

// Duration returns the clip length in seconds.
func (c *Clip) Duration() float64 {
	return c.EndTime - c.StartTime
}

// Frame is an immutable still. Regeneration creates a new Frame and swaps
// the clip's reference; the old record survives for undo.
type Frame struct {
	ID          uuid.UUID   `json:"id"`
	ClipID      uuid.UUID   `json:"clip_id"`
	Type        FrameType   `json:"type"`
	Source      FrameSource `json:"source"`
	URL         string      `json:"url"`
	GeneratedAt *time.Time  `json:"generated_at,omitempty"`
}

// GeneratedVideo is an immutable rendered video for one clip.
type GeneratedVideo struct {
	ID       uuid.UUID   `json:"id"`
	ClipID   uuid.UUID   `json:"clip_id"`
	URL      string      `json:"url"`
	Duration float64     `json:"duration"`
	Status   VideoStatus `json:"status"`
}

// QueueItem is one unit of generation work. Owned by the scheduler; clips
// never embed queue state and are looked up by id when a result lands.
type QueueItem struct {
	ID         uuid.UUID       `json:"id"`
	Type       QueueItemType   `json:"type"`
	ClipID     uuid.UUID       `json:"clip_id"`
	FrameType  *FrameType      `json:"frame_type,omitempty"` // set when Type == frame
	Status     QueueItemStatus `json:"status"`
	Progress   int             `json:"progress"` // 0-100
	RetryCount int             `json:"retry_count"`
	Error      *string         `json:"error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// DTOs for API responses

type TimelineResponse struct {
	AudioPresent  bool                `json:"audio_present"`
	TotalDuration float64             `json:"total_duration"`
	Style         string              `json:"style,omitempty"`
	Playhead      float64             `json:"playhead"`
	BeatMarkers   []float64           `json:"beat_markers,omitempty"`
	Segments      []TranscriptSegment `json:"segments"`
	Scenes        []Scene             `json:"scenes"`
	Clips         []ClipResponse      `json:"clips"`
}

// ClipResponse decorates a clip with its advisory conflict flags.
type ClipResponse struct {
	Clip
	Overlaps    []uuid.UUID `json:"overlaps,omitempty"`
	FitsInScene bool        `json:"fits_in_scene"`
}

type QueueResponse struct {
	IsProcessing bool        `json:"is_processing"`
	IsPaused     bool        `json:"is_paused"`
	Items        []QueueItem `json:"items"`
}

type WorkflowResponse struct {
	Stage        WorkflowStage `json:"stage"`
	NextAction   string        `json:"next_action"`
	AutoProgress bool          `json:"auto_progress"`
}
