package snap

import (
	"math"
	"sync"

	"github.com/google/uuid"
	"github.com/solenne/lyricframe/internal/models"
	"github.com/solenne/lyricframe/internal/timeline"
)

// ThresholdPx is the magnetic range of a snap point in screen pixels.
// Divided by the zoom (pixels per second) it becomes a time window.
const ThresholdPx = 8.0

type PointKind string

const (
	PointClipEdge  PointKind = "clip_edge"
	PointSceneEdge PointKind = "scene_edge"
	PointPlayhead  PointKind = "playhead"
	PointBeat      PointKind = "beat"
)

// Point is one snappable time value and the entity it came from.
// SourceID is zero for playhead and beat points.
type Point struct {
	Time     float64
	SourceID uuid.UUID
	Kind     PointKind
}

type Edge string

const (
	EdgeStart Edge = "start"
	EdgeEnd   Edge = "end"
)

// Conflict carries a clip's advisory warnings: which other clips it
// intersects and whether it still fits inside its scene. Neither is ever a
// hard error — the editor renders badges, the model keeps the user's edit.
type Conflict struct {
	Overlaps    []uuid.UUID
	FitsInScene bool
}

// Engine supports direct-manipulation editing against the timeline store:
// magnetic snapping for drags and trims, plus live overlap/containment
// detection. The snap point set is rebuilt when the store's structural
// version changes, not on every pointer move.
type Engine struct {
	store *timeline.Store

	mu        sync.Mutex
	points    []Point
	version   uint64
	conflicts map[uuid.UUID]Conflict
}

func NewEngine(store *timeline.Store) *Engine {
	return &Engine{
		store:     store,
		conflicts: make(map[uuid.UUID]Conflict),
	}
}

// Rebuild recomputes the snap point set from the current store state:
// every clip edge, every scene edge, the playhead, and the beat markers.
// Point order is fixed (clips, scenes, playhead, beats) so nearest-point
// tie-breaking is deterministic.
func (e *Engine) Rebuild() {
	clips := e.store.Clips()
	scenes := e.store.Scenes()
	playhead := e.store.Playhead()
	beats := e.store.BeatMarkers()
	version := e.store.Version()

	points := make([]Point, 0, 2*len(clips)+2*len(scenes)+1+len(beats))
	for _, c := range clips {
		points = append(points,
			Point{Time: c.StartTime, SourceID: c.ID, Kind: PointClipEdge},
			Point{Time: c.EndTime, SourceID: c.ID, Kind: PointClipEdge},
		)
	}
	for _, sc := range scenes {
		points = append(points,
			Point{Time: sc.StartTime, SourceID: sc.ID, Kind: PointSceneEdge},
			Point{Time: sc.EndTime, SourceID: sc.ID, Kind: PointSceneEdge},
		)
	}
	points = append(points, Point{Time: playhead, Kind: PointPlayhead})
	for _, b := range beats {
		points = append(points, Point{Time: b, Kind: PointBeat})
	}

	e.mu.Lock()
	e.points = points
	e.version = version
	e.mu.Unlock()

	e.recomputeConflicts(clips, scenes)
}

// ensureFresh rebuilds if the store changed structurally since the last
// rebuild. Cheap version compare, so callers can invoke it per operation.
func (e *Engine) ensureFresh() {
	e.mu.Lock()
	stale := e.version != e.store.Version()
	e.mu.Unlock()
	if stale {
		e.Rebuild()
	}
}

// Nearest returns the snap point closest to t within ThresholdPx/zoom
// seconds, excluding points owned by exclude (the entity being dragged must
// not snap to itself). When two points are equally close, the first one in
// iteration order wins — an accepted approximation, since the threshold is
// small against meaningful time differences.
func (e *Engine) Nearest(t, zoom float64, exclude uuid.UUID) (Point, bool) {
	e.ensureFresh()
	e.mu.Lock()
	defer e.mu.Unlock()

	if zoom <= 0 {
		return Point{}, false
	}
	window := ThresholdPx / zoom

	var best Point
	bestDist := math.Inf(1)
	found := false
	for _, p := range e.points {
		if exclude != uuid.Nil && p.SourceID == exclude {
			continue
		}
		d := math.Abs(p.Time - t)
		if d <= window && d < bestDist {
			best = p
			bestDist = d
			found = true
		}
	}
	return best, found
}

// Drag moves a whole clip by delta seconds, preserving its duration.
// Snapping tries the start edge first, then the end edge. The result is
// clamped to [0, totalDuration] but never clamped against other clips —
// overlap is flagged, not prevented. The move is committed to the store,
// the clip is re-parented to whatever scene now contains its start, and
// conflicts are recomputed.
func (e *Engine) Drag(clipID uuid.UUID, delta, zoom float64) (models.Clip, error) {
	clip, err := e.store.Clip(clipID)
	if err != nil {
		return models.Clip{}, err
	}

	duration := clip.Duration()
	newStart := clip.StartTime + delta

	if p, ok := e.Nearest(newStart, zoom, clipID); ok {
		newStart = p.Time
	} else if p, ok := e.Nearest(newStart+duration, zoom, clipID); ok {
		newStart = p.Time - duration
	}

	if total := e.store.TotalDuration(); total > 0 && newStart+duration > total {
		newStart = total - duration
	}
	// Zero clamp goes last: a clip longer than the song would otherwise be
	// pushed to a negative start by the total-duration clamp.
	if newStart < 0 {
		newStart = 0
	}

	return e.commit(clipID, newStart, newStart+duration)
}

// Trim moves one edge of a clip toward target. Snapping is attempted before
// the minimum-duration clamp, so a snap that would squeeze the clip under
// the floor is overridden by the clamp. The dragged edge never crosses
// otherEdge ∓ MinClipDuration and never leaves [0, totalDuration].
func (e *Engine) Trim(clipID uuid.UUID, edge Edge, target, zoom float64) (models.Clip, error) {
	clip, err := e.store.Clip(clipID)
	if err != nil {
		return models.Clip{}, err
	}

	if p, ok := e.Nearest(target, zoom, clipID); ok {
		target = p.Time
	}

	start, end := clip.StartTime, clip.EndTime
	switch edge {
	case EdgeStart:
		if target > end-models.MinClipDuration {
			target = end - models.MinClipDuration
		}
		if target < 0 {
			target = 0
		}
		start = target
	case EdgeEnd:
		if target < start+models.MinClipDuration {
			target = start + models.MinClipDuration
		}
		if total := e.store.TotalDuration(); total > 0 && target > total {
			target = total
		}
		end = target
	}

	return e.commit(clipID, start, end)
}

// commit writes the new interval, re-runs scene reassignment, and refreshes
// the snap points and conflict table.
func (e *Engine) commit(clipID uuid.UUID, start, end float64) (models.Clip, error) {
	if err := e.store.SetClipTimes(clipID, start, end); err != nil {
		return models.Clip{}, err
	}
	if _, err := e.store.ReassignClipScene(clipID); err != nil {
		return models.Clip{}, err
	}
	e.Rebuild()
	return e.store.Clip(clipID)
}

// Overlaps returns the ids of clips whose intervals intersect the given
// clip's. Symmetric: if A overlaps B then B overlaps A.
func (e *Engine) Overlaps(clipID uuid.UUID) []uuid.UUID {
	e.ensureFresh()
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conflicts[clipID].Overlaps
}

// FitsInScene reports whether the clip's interval is contained in its
// scene's interval. A free-floating clip always fits.
func (e *Engine) FitsInScene(clipID uuid.UUID) bool {
	e.ensureFresh()
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.conflicts[clipID]
	if !ok {
		return true
	}
	return c.FitsInScene
}

// Conflicts returns the clip's full conflict record.
func (e *Engine) Conflicts(clipID uuid.UUID) Conflict {
	e.ensureFresh()
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.conflicts[clipID]
	if !ok {
		return Conflict{FitsInScene: true}
	}
	return c
}

func (e *Engine) recomputeConflicts(clips []models.Clip, scenes []models.Scene) {
	sceneByID := make(map[uuid.UUID]models.Scene, len(scenes))
	for _, sc := range scenes {
		sceneByID[sc.ID] = sc
	}

	conflicts := make(map[uuid.UUID]Conflict, len(clips))
	for _, a := range clips {
		c := Conflict{FitsInScene: true}
		for _, b := range clips {
			if a.ID == b.ID {
				continue
			}
			if intervalsIntersect(a.StartTime, a.EndTime, b.StartTime, b.EndTime) {
				c.Overlaps = append(c.Overlaps, b.ID)
			}
		}
		if a.SceneID != nil {
			if sc, ok := sceneByID[*a.SceneID]; ok {
				c.FitsInScene = a.StartTime >= sc.StartTime && a.EndTime <= sc.EndTime
			}
		}
		conflicts[a.ID] = c
	}

	e.mu.Lock()
	e.conflicts = conflicts
	e.mu.Unlock()
}

// intervalsIntersect treats intervals as half-open: clips that merely touch
// at an edge do not overlap.
func intervalsIntersect(aStart, aEnd, bStart, bEnd float64) bool {
	return aStart < bEnd && bStart < aEnd
}
