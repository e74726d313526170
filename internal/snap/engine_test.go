package snap

import (
	"math"
	"testing"

	"github.com/google/uuid"
	"github.com/solenne/lyricframe/internal/models"
	"github.com/solenne/lyricframe/internal/timeline"
)

func newTestEngine(t *testing.T) (*timeline.Store, *Engine) {
	t.Helper()
	store := timeline.NewStore()
	store.SetAudio(180)
	engine := NewEngine(store)
	engine.Rebuild()
	return store, engine
}

func TestNearestRespectsThreshold(t *testing.T) {
	store, engine := newTestEngine(t)
	store.SetBeatMarkers([]float64{10})

	// At zoom 10 px/s the window is 8/10 = 0.8s
	if _, ok := engine.Nearest(10.7, 10, uuid.Nil); !ok {
		t.Error("10.7 should snap to the beat at 10 within a 0.8s window")
	}
	if _, ok := engine.Nearest(10.9, 10, uuid.Nil); ok {
		t.Error("10.9 is outside the 0.8s window and should not snap")
	}

	// Zooming in shrinks the window
	if _, ok := engine.Nearest(10.7, 100, uuid.Nil); ok {
		t.Error("at zoom 100 the window is 0.08s, 10.7 should not snap")
	}
}

func TestNearestExcludesDraggedEntity(t *testing.T) {
	store, engine := newTestEngine(t)
	clip, err := store.CreateClip(10, 15, nil, nil)
	if err != nil {
		t.Fatalf("create clip: %v", err)
	}

	// The clip's own edges are the only points near 10
	if _, ok := engine.Nearest(10.1, 10, clip.ID); ok {
		t.Error("a clip must not snap to its own edges")
	}
	if p, ok := engine.Nearest(10.1, 10, uuid.Nil); !ok || p.Time != 10 {
		t.Errorf("another caller should snap to the edge at 10, got %+v ok=%v", p, ok)
	}
}

func TestNearestTieBreakIsDeterministic(t *testing.T) {
	store, engine := newTestEngine(t)
	a, _ := store.CreateClip(0, 10, nil, nil)
	b, _ := store.CreateClip(20, 30, nil, nil)
	_ = b

	// 15 is equidistant from a's end (10) and b's start (20). Clip points are
	// built in clip order, so a's edge wins.
	p, ok := engine.Nearest(15, 1, uuid.Nil)
	if !ok {
		t.Fatal("expected a snap within the 8s window")
	}
	if p.SourceID != a.ID || p.Time != 10 {
		t.Errorf("tie should resolve to the first point in order, got %+v", p)
	}
}

func TestDragPreservesDurationAndSnapsStartFirst(t *testing.T) {
	store, engine := newTestEngine(t)
	store.SetBeatMarkers([]float64{20})
	clip, _ := store.CreateClip(10, 15, nil, nil)

	// Dragging so the start lands near the beat: start snaps, duration holds
	moved, err := engine.Drag(clip.ID, 9.7, 10)
	if err != nil {
		t.Fatalf("drag: %v", err)
	}
	if moved.StartTime != 20 {
		t.Errorf("start should snap to 20, got %v", moved.StartTime)
	}
	if got := moved.Duration(); math.Abs(got-5) > 1e-9 {
		t.Errorf("drag must preserve duration, got %v", got)
	}
}

func TestDragSnapsEndEdgeWhenStartMisses(t *testing.T) {
	store, engine := newTestEngine(t)
	store.SetBeatMarkers([]float64{50})
	clip, _ := store.CreateClip(10, 15, nil, nil)

	// New start 44.7 is 5.3s from the beat — out of window at zoom 10.
	// New end 49.7 is 0.3s from it — in window, so the end edge snaps.
	moved, err := engine.Drag(clip.ID, 34.7, 10)
	if err != nil {
		t.Fatalf("drag: %v", err)
	}
	if moved.EndTime != 50 {
		t.Errorf("end should snap to 50, got %v", moved.EndTime)
	}
	if moved.StartTime != 45 {
		t.Errorf("start should follow at 45, got %v", moved.StartTime)
	}
}

func TestDragClampsToTimelineBounds(t *testing.T) {
	store, engine := newTestEngine(t)
	clip, _ := store.CreateClip(10, 15, nil, nil)

	moved, err := engine.Drag(clip.ID, -100, 10)
	if err != nil {
		t.Fatalf("drag: %v", err)
	}
	if moved.StartTime != 0 {
		t.Errorf("drag past zero should clamp to 0, got %v", moved.StartTime)
	}

	moved, err = engine.Drag(clip.ID, 1000, 10)
	if err != nil {
		t.Fatalf("drag: %v", err)
	}
	if moved.EndTime != 180 {
		t.Errorf("drag past the end should clamp to total duration, got %v", moved.EndTime)
	}
}

func TestDragClipLongerThanSongPinsStartAtZero(t *testing.T) {
	store := timeline.NewStore()
	store.SetAudio(10)
	engine := NewEngine(store)
	engine.Rebuild()

	// 15s clip over a 10s song: the end clamp alone would push the start
	// negative, the zero clamp has to win.
	clip, err := store.CreateClip(0, 15, nil, nil)
	if err != nil {
		t.Fatalf("create clip: %v", err)
	}

	moved, err := engine.Drag(clip.ID, 3, 10)
	if err != nil {
		t.Fatalf("drag: %v", err)
	}
	if moved.StartTime != 0 {
		t.Errorf("start should clamp to 0, got %v", moved.StartTime)
	}
	if got := moved.Duration(); math.Abs(got-15) > 1e-9 {
		t.Errorf("drag must preserve duration, got %v", got)
	}
}

func TestTrimClampsAtMinDuration(t *testing.T) {
	store, engine := newTestEngine(t)
	clip, _ := store.CreateClip(10, 15, nil, nil)

	// Trim the end edge way past the start: clamp at start + 0.5
	trimmed, err := engine.Trim(clip.ID, EdgeEnd, 8, 10)
	if err != nil {
		t.Fatalf("trim: %v", err)
	}
	if got := trimmed.Duration(); math.Abs(got-models.MinClipDuration) > 1e-9 {
		t.Errorf("trim should clamp at the duration floor, got %v", got)
	}

	// Same for the start edge
	trimmed, err = engine.Trim(clip.ID, EdgeStart, 50, 10)
	if err != nil {
		t.Fatalf("trim: %v", err)
	}
	if got := trimmed.Duration(); math.Abs(got-models.MinClipDuration) > 1e-9 {
		t.Errorf("start trim should clamp at the duration floor, got %v", got)
	}
}

func TestTrimSnapOverriddenByClamp(t *testing.T) {
	store, engine := newTestEngine(t)
	// A beat sits just inside the clip, too close to the start
	store.SetBeatMarkers([]float64{10.2})
	clip, _ := store.CreateClip(10, 15, nil, nil)

	// Target 10.3 snaps to the beat at 10.2, but that leaves the clip under
	// the floor, so the clamp wins and the edge lands at start + 0.5
	trimmed, err := engine.Trim(clip.ID, EdgeEnd, 10.3, 10)
	if err != nil {
		t.Fatalf("trim: %v", err)
	}
	if trimmed.EndTime != 10.5 {
		t.Errorf("clamp must override the snap, got end %v", trimmed.EndTime)
	}
}

func TestOverlapsAreSymmetricAndHalfOpen(t *testing.T) {
	store, engine := newTestEngine(t)
	a, _ := store.CreateClip(0, 10, nil, nil)
	b, _ := store.CreateClip(5, 15, nil, nil)
	c, _ := store.CreateClip(10, 20, nil, nil)
	engine.Rebuild()

	aOverlaps := engine.Overlaps(a.ID)
	bOverlaps := engine.Overlaps(b.ID)

	if len(aOverlaps) != 1 || aOverlaps[0] != b.ID {
		t.Errorf("a should overlap only b, got %v", aOverlaps)
	}
	if len(bOverlaps) != 2 {
		t.Errorf("b should overlap a and c, got %v", bOverlaps)
	}

	// a ends exactly where c starts — touching edges are not an overlap
	for _, id := range engine.Overlaps(a.ID) {
		if id == c.ID {
			t.Error("touching clips must not count as overlapping")
		}
	}
}

func TestFitsInSceneTracksDrags(t *testing.T) {
	store, engine := newTestEngine(t)
	if _, err := store.CreateScene("Scene", "", 0, 30); err != nil {
		t.Fatalf("create scene: %v", err)
	}
	clip, _ := store.CreateClip(5, 10, nil, nil)
	engine.Rebuild()

	if !engine.FitsInScene(clip.ID) {
		t.Fatal("clip inside its scene should fit")
	}

	// Drag the clip so it spills past the scene's end. It stays parented to
	// the scene (its start is still inside) but no longer fits.
	moved, err := engine.Drag(clip.ID, 22, 1000)
	if err != nil {
		t.Fatalf("drag: %v", err)
	}
	if moved.SceneID == nil {
		t.Fatal("clip starting inside the scene should stay parented")
	}
	if engine.FitsInScene(clip.ID) {
		t.Error("clip spilling past the scene edge should be flagged")
	}

	// Drag fully outside: re-parents to nothing, free-floating clips fit
	if _, err := engine.Drag(clip.ID, 100, 1000); err != nil {
		t.Fatalf("drag: %v", err)
	}
	got, _ := store.Clip(clip.ID)
	if got.SceneID != nil {
		t.Errorf("clip outside every scene should be free-floating, got %v", got.SceneID)
	}
	if !engine.FitsInScene(clip.ID) {
		t.Error("a free-floating clip always fits")
	}
}

func TestEngineRefreshesOnStructuralChange(t *testing.T) {
	store, engine := newTestEngine(t)

	// Created after the last Rebuild — Nearest must still see it
	clip, _ := store.CreateClip(40, 45, nil, nil)

	p, ok := engine.Nearest(40.1, 10, uuid.Nil)
	if !ok || p.SourceID != clip.ID {
		t.Errorf("engine should pick up new clips lazily, got %+v ok=%v", p, ok)
	}
}
