package timeline

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/solenne/lyricframe/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore()
	s.SetAudio(180)
	return s
}

func TestCreateClipMinDuration(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.CreateClip(0, 0.4, nil, nil); !errors.Is(err, ErrMinClipDuration) {
		t.Fatalf("expected ErrMinClipDuration, got %v", err)
	}

	clip, err := s.CreateClip(0, 0.5, nil, nil)
	if err != nil {
		t.Fatalf("0.5s clip should be accepted: %v", err)
	}
	if clip.Title != "Clip 1" {
		t.Errorf("expected default title Clip 1, got %q", clip.Title)
	}
}

func TestCreateClipAdoptsContainingScene(t *testing.T) {
	s := newTestStore(t)
	scene, err := s.CreateScene("Opening", "", 0, 30)
	if err != nil {
		t.Fatalf("create scene: %v", err)
	}

	clip, err := s.CreateClip(5, 10, nil, nil)
	if err != nil {
		t.Fatalf("create clip: %v", err)
	}
	if clip.SceneID == nil || *clip.SceneID != scene.ID {
		t.Errorf("expected clip parented to scene %s, got %v", scene.ID, clip.SceneID)
	}

	free, err := s.CreateClip(40, 50, nil, nil)
	if err != nil {
		t.Fatalf("create clip: %v", err)
	}
	if free.SceneID != nil {
		t.Errorf("clip outside every scene should be free-floating, got scene %v", free.SceneID)
	}
}

func TestSplitClip(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	clip, err := s.CreateClip(10, 20, nil, nil)
	if err != nil {
		t.Fatalf("create clip: %v", err)
	}
	if err := s.AttachFrame(clip.ID, &models.Frame{ID: uuid.New(), ClipID: clip.ID, Type: models.FrameStart, Source: models.FrameSourceAI, GeneratedAt: &now}); err != nil {
		t.Fatalf("attach start frame: %v", err)
	}
	if err := s.AttachFrame(clip.ID, &models.Frame{ID: uuid.New(), ClipID: clip.ID, Type: models.FrameEnd, Source: models.FrameSourceAI, GeneratedAt: &now}); err != nil {
		t.Fatalf("attach end frame: %v", err)
	}
	if err := s.AttachVideo(clip.ID, &models.GeneratedVideo{ID: uuid.New(), ClipID: clip.ID, Status: models.VideoStatusReady}); err != nil {
		t.Fatalf("attach video: %v", err)
	}

	left, right, err := s.SplitClip(clip.ID, 14)
	if err != nil {
		t.Fatalf("split: %v", err)
	}

	if left.StartTime != 10 || left.EndTime != 14 {
		t.Errorf("left interval = [%v, %v), want [10, 14)", left.StartTime, left.EndTime)
	}
	if right.StartTime != 14 || right.EndTime != 20 {
		t.Errorf("right interval = [%v, %v), want [14, 20)", right.StartTime, right.EndTime)
	}
	if right.Order != left.Order+0.5 {
		t.Errorf("sibling order = %v, want %v", right.Order, left.Order+0.5)
	}

	// Frames stay on their sides, the stale video is gone from both
	if left.StartFrame == nil {
		t.Error("left side should keep the start frame")
	}
	if left.EndFrame != nil {
		t.Error("left side should not keep the end frame")
	}
	if right.EndFrame == nil {
		t.Error("right side should inherit the end frame")
	}
	if left.Video != nil || right.Video != nil {
		t.Error("split should drop the rendered video from both sides")
	}
}

func TestSplitClipRejectsBoundary(t *testing.T) {
	s := newTestStore(t)
	clip, err := s.CreateClip(10, 20, nil, nil)
	if err != nil {
		t.Fatalf("create clip: %v", err)
	}

	for _, at := range []float64{10, 20, 9, 21} {
		if _, _, err := s.SplitClip(clip.ID, at); !errors.Is(err, ErrInvalidSplit) {
			t.Errorf("split at %v: expected ErrInvalidSplit, got %v", at, err)
		}
	}

	// Failed split leaves the clip untouched
	got, err := s.Clip(clip.ID)
	if err != nil {
		t.Fatalf("clip lookup: %v", err)
	}
	if got.StartTime != 10 || got.EndTime != 20 {
		t.Errorf("clip changed after rejected split: [%v, %v)", got.StartTime, got.EndTime)
	}
	if len(s.Clips()) != 1 {
		t.Errorf("expected 1 clip after rejected splits, got %d", len(s.Clips()))
	}
}

func TestDeleteSceneCascade(t *testing.T) {
	s := newTestStore(t)
	scene, _ := s.CreateScene("Verse 1", "", 0, 30)
	other, _ := s.CreateScene("Chorus", "", 30, 60)

	if _, err := s.CreateClip(5, 10, nil, nil); err != nil {
		t.Fatalf("create clip: %v", err)
	}
	if _, err := s.CreateClip(12, 18, nil, nil); err != nil {
		t.Fatalf("create clip: %v", err)
	}
	survivor, err := s.CreateClip(35, 40, nil, nil)
	if err != nil {
		t.Fatalf("create clip: %v", err)
	}

	removed, err := s.DeleteSceneCascade(scene.ID)
	if err != nil {
		t.Fatalf("cascade delete: %v", err)
	}
	if removed != 2 {
		t.Errorf("expected 2 clips removed, got %d", removed)
	}

	clips := s.Clips()
	if len(clips) != 1 || clips[0].ID != survivor.ID {
		t.Fatalf("expected only the other scene's clip to survive, got %d clips", len(clips))
	}
	if _, err := s.Scene(other.ID); err != nil {
		t.Errorf("unrelated scene should survive: %v", err)
	}

	if _, err := s.DeleteSceneCascade(scene.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: expected ErrNotFound, got %v", err)
	}
}

func TestSetClipTimesRejectsMinDuration(t *testing.T) {
	s := newTestStore(t)
	clip, _ := s.CreateClip(10, 20, nil, nil)

	if err := s.SetClipTimes(clip.ID, 10, 10.2); !errors.Is(err, ErrMinClipDuration) {
		t.Fatalf("expected ErrMinClipDuration, got %v", err)
	}

	got, _ := s.Clip(clip.ID)
	if got.StartTime != 10 || got.EndTime != 20 {
		t.Errorf("rejected mutation must not partially apply: [%v, %v)", got.StartTime, got.EndTime)
	}
}

func TestReassignClipScene(t *testing.T) {
	s := newTestStore(t)
	first, _ := s.CreateScene("First", "", 0, 30)
	second, _ := s.CreateScene("Second", "", 30, 60)

	clip, _ := s.CreateClip(5, 10, nil, nil)
	if *clip.SceneID != first.ID {
		t.Fatalf("setup: clip should start in the first scene")
	}

	// Move the clip into the second scene's interval and re-parent
	if err := s.SetClipTimes(clip.ID, 35, 40); err != nil {
		t.Fatalf("move clip: %v", err)
	}
	sceneID, err := s.ReassignClipScene(clip.ID)
	if err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if sceneID == nil || *sceneID != second.ID {
		t.Errorf("expected reassignment to second scene, got %v", sceneID)
	}

	// A scene's end is exclusive: a clip starting exactly there belongs to
	// the next scene, not this one
	if err := s.SetClipTimes(clip.ID, 30, 35); err != nil {
		t.Fatalf("move clip: %v", err)
	}
	sceneID, _ = s.ReassignClipScene(clip.ID)
	if sceneID == nil || *sceneID != second.ID {
		t.Errorf("start at scene boundary should parent to the later scene, got %v", sceneID)
	}

	// Nowhere: free-floating
	if err := s.SetClipTimes(clip.ID, 100, 110); err != nil {
		t.Fatalf("move clip: %v", err)
	}
	sceneID, _ = s.ReassignClipScene(clip.ID)
	if sceneID != nil {
		t.Errorf("clip outside every scene should be free-floating, got %v", sceneID)
	}
}

func TestResolveElementsFiltersDanglingRefs(t *testing.T) {
	s := newTestStore(t)
	scene, _ := s.CreateScene("Scene", "", 0, 30)

	kept := s.PutElement(models.WorldElement{Name: "The Driver", Category: "who"})
	doomed := s.PutElement(models.WorldElement{Name: "Neon City", Category: "where"})

	if err := s.SetSceneElements(scene.ID, []uuid.UUID{kept.ID, doomed.ID}); err != nil {
		t.Fatalf("set scene elements: %v", err)
	}

	if err := s.DeleteElement(doomed.ID); err != nil {
		t.Fatalf("delete element: %v", err)
	}

	// The scene's ref list still holds both ids
	got, _ := s.Scene(scene.ID)
	if len(got.ElementRefs) != 2 {
		t.Errorf("deletion must not cascade into scene refs, got %d refs", len(got.ElementRefs))
	}

	// But resolution drops the dangling one
	resolved, err := s.ResolveElements(scene.ID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(resolved) != 1 || resolved[0].ID != kept.ID {
		t.Fatalf("expected only the live element, got %d", len(resolved))
	}
}

func TestSegmentsValidatedAndSorted(t *testing.T) {
	s := newTestStore(t)

	err := s.SetSegments([]models.TranscriptSegment{
		{Text: "broken", Start: 5, End: 5},
	})
	if !errors.Is(err, ErrInvalidInterval) {
		t.Fatalf("expected ErrInvalidInterval, got %v", err)
	}

	err = s.SetSegments([]models.TranscriptSegment{
		{Text: "second", Start: 10, End: 15, Type: models.SegmentChorus},
		{Text: "first", Start: 0, End: 8, Type: models.SegmentVerse},
	})
	if err != nil {
		t.Fatalf("set segments: %v", err)
	}

	segs := s.Segments()
	if segs[0].Text != "first" || segs[1].Text != "second" {
		t.Errorf("segments should be sorted by start time")
	}
	for _, seg := range segs {
		if seg.ID == uuid.Nil {
			t.Errorf("segment %q missing assigned id", seg.Text)
		}
	}
}

func TestVideoPromptRequiresStartFrame(t *testing.T) {
	s := newTestStore(t)
	clip, _ := s.CreateClip(0, 5, nil, nil)

	if _, err := s.VideoPromptContext(clip.ID); err == nil {
		t.Fatal("expected error for clip without start frame")
	}

	if err := s.AttachFrame(clip.ID, &models.Frame{ID: uuid.New(), ClipID: clip.ID, Type: models.FrameStart, Source: models.FrameSourceUpload, URL: "https://cdn/start.png"}); err != nil {
		t.Fatalf("attach frame: %v", err)
	}

	p, err := s.VideoPromptContext(clip.ID)
	if err != nil {
		t.Fatalf("prompt context: %v", err)
	}
	if p.StartFrameURL != "https://cdn/start.png" {
		t.Errorf("unexpected start frame URL %q", p.StartFrameURL)
	}
	if p.Duration != 5 {
		t.Errorf("expected duration 5, got %v", p.Duration)
	}
}

func TestFramePromptCarriesSceneContext(t *testing.T) {
	s := newTestStore(t)
	s.SetStyle("neon noir")
	scene, _ := s.CreateScene("Rooftop", "Rain over the skyline", 0, 30)
	el := s.PutElement(models.WorldElement{Name: "The Driver", Category: "who", Description: "weathered leather jacket"})
	if err := s.SetSceneElements(scene.ID, []uuid.UUID{el.ID}); err != nil {
		t.Fatalf("set scene elements: %v", err)
	}
	if err := s.SetSceneCamera(scene.ID, models.JSONB{"angle": "low"}); err != nil {
		t.Fatalf("set camera: %v", err)
	}

	clip, _ := s.CreateClip(5, 10, nil, nil)
	p, err := s.FramePromptContext(clip.ID, models.FrameEnd)
	if err != nil {
		t.Fatalf("prompt context: %v", err)
	}
	if p.SceneTitle != "Rooftop" || p.SceneDesc != "Rain over the skyline" {
		t.Errorf("scene context missing: %+v", p)
	}
	if len(p.Elements) != 1 || p.Elements[0].Name != "The Driver" {
		t.Errorf("expected resolved element, got %+v", p.Elements)
	}
	if p.Style != "neon noir" {
		t.Errorf("expected global style, got %q", p.Style)
	}
	if p.Camera["angle"] != "low" {
		t.Errorf("expected camera override, got %v", p.Camera)
	}
	if p.FrameType != models.FrameEnd {
		t.Errorf("expected end frame type, got %v", p.FrameType)
	}
}

func TestVersionBumpsOnStructuralChange(t *testing.T) {
	s := newTestStore(t)
	before := s.Version()

	clip, _ := s.CreateClip(0, 5, nil, nil)
	if s.Version() == before {
		t.Error("clip creation should bump the version")
	}

	before = s.Version()
	s.SetStyle("anything")
	if s.Version() != before {
		t.Error("style change is not structural and should not bump the version")
	}

	before = s.Version()
	if err := s.SetClipTimes(clip.ID, 1, 6); err != nil {
		t.Fatalf("set clip times: %v", err)
	}
	if s.Version() == before {
		t.Error("interval change should bump the version")
	}
}
