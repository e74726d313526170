package workflow

import (
	"context"
	"log"
	"sync"

	"github.com/solenne/lyricframe/internal/models"
)

// Signals are the observable facts the stage is derived from. The tracker
// owns no state of its own beyond the auto-progress flag — stage is always
// a pure function of these.
type Signals struct {
	AudioPresent       bool
	Transcribing       bool
	TranscriptNonEmpty bool
	Planning           bool
	ScenesNonEmpty     bool
	QueueActive        bool // anything pending or in flight
	HasFailedItems     bool
	HasClips           bool
	AllClipsHaveVideo  bool
}

// DeriveStage maps signals to the coarse pipeline stage. A queue with any
// failed item never reads as ready — the user has to retry or remove them
// first.
func DeriveStage(sig Signals) models.WorkflowStage {
	switch {
	case !sig.AudioPresent:
		return models.StageEmpty
	case sig.Transcribing:
		return models.StageTranscribing
	case !sig.TranscriptNonEmpty:
		return models.StageAudioLoaded
	case sig.Planning:
		return models.StagePlanning
	case !sig.ScenesNonEmpty:
		return models.StageTranscribed
	case sig.QueueActive:
		return models.StageGenerating
	case sig.HasClips && sig.AllClipsHaveVideo && !sig.HasFailedItems:
		return models.StageReady
	default:
		return models.StagePlanned
	}
}

// NextAction names the recommended user action for a stage, for the status
// UI.
func NextAction(stage models.WorkflowStage) string {
	switch stage {
	case models.StageEmpty:
		return "load audio"
	case models.StageAudioLoaded:
		return "transcribe lyrics"
	case models.StageTranscribing:
		return "wait for transcription"
	case models.StageTranscribed:
		return "plan scenes"
	case models.StagePlanning:
		return "wait for scene plan"
	case models.StagePlanned:
		return "generate media"
	case models.StageGenerating:
		return "wait for generation"
	case models.StageReady:
		return "export timeline"
	default:
		return ""
	}
}

// Actions are the stage transitions the tracker may trigger on its own when
// auto-progress is on. Implementations kick off the real work (planning,
// batch generation); the tracker only decides when.
type Actions interface {
	StartPlanning(ctx context.Context) error
	StartGeneration(ctx context.Context) error
}

// Tracker observes the entity model and the queue, derives the stage, and —
// when auto-progress is enabled — fires the next action exactly once per
// stage entry. It is driven by explicit Evaluate calls from observers
// (queue transitions, handler mutations), never by a timer.
type Tracker struct {
	signals func() Signals
	actions Actions

	mu           sync.Mutex
	autoProgress bool
	lastStage    models.WorkflowStage
}

func NewTracker(signals func() Signals, actions Actions, autoProgress bool) *Tracker {
	return &Tracker{
		signals:      signals,
		actions:      actions,
		autoProgress: autoProgress,
		lastStage:    models.StageEmpty,
	}
}

func (t *Tracker) SetAutoProgress(v bool) {
	t.mu.Lock()
	t.autoProgress = v
	t.mu.Unlock()
}

func (t *Tracker) AutoProgress() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.autoProgress
}

// Stage derives the current stage without side effects.
func (t *Tracker) Stage() models.WorkflowStage {
	return DeriveStage(t.signals())
}

// Evaluate derives the stage and, if auto-progress is on and the stage just
// changed, triggers the stage's follow-up action in the background. The
// stage-change guard keeps a burst of observer calls from firing the same
// action twice.
func (t *Tracker) Evaluate(ctx context.Context) models.WorkflowStage {
	stage := DeriveStage(t.signals())

	t.mu.Lock()
	changed := stage != t.lastStage
	t.lastStage = stage
	auto := t.autoProgress
	t.mu.Unlock()

	if !auto || !changed || t.actions == nil {
		return stage
	}

	switch stage {
	case models.StageTranscribed:
		go func() {
			if err := t.actions.StartPlanning(ctx); err != nil {
				log.Printf("[Workflow] auto planning failed: %v", err)
			}
		}()
	case models.StagePlanned:
		go func() {
			if err := t.actions.StartGeneration(ctx); err != nil {
				log.Printf("[Workflow] auto generation failed: %v", err)
			}
		}()
	}

	return stage
}
