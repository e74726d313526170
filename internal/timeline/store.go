package timeline

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/solenne/lyricframe/internal/models"
)

// Domain errors. Structural violations are rejected synchronously at the
// mutation call and never partially apply.
var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidInterval = errors.New("interval start must precede end")
	ErrInvalidSplit    = errors.New("split point must lie strictly inside the clip")
	ErrMinClipDuration = fmt.Errorf("clip cannot be shorter than %.1fs", models.MinClipDuration)
)

// Store is the single owner of all timeline entities: transcript segments,
// scenes, clips, world elements, beat markers, the playhead, and the audio
// metadata. Mutations go through reducer-style methods; callers never hold
// references into the store's internals.
//
// Two kinds of goroutines mutate it — HTTP handlers and the scheduler's
// completion callback — so every method takes the mutex.
type Store struct {
	mu sync.Mutex

	audioPresent  bool
	totalDuration float64 // seconds; 0 until audio is registered
	style         string  // global visual style fed into generation prompts
	playhead      float64
	beatMarkers   []float64

	// In-flight flags for the workflow tracker. Set around the external
	// transcription/planning calls by whoever drives them.
	transcribing bool
	planning     bool

	segments []models.TranscriptSegment
	scenes   []*models.Scene
	clips    []*models.Clip
	elements map[uuid.UUID]*models.WorldElement

	// version increments on every structural change (anything that can move
	// a snap point). The snap engine compares it to decide when to rebuild
	// its point set, so drags don't pay for a rebuild per pointer move.
	version uint64
}

func NewStore() *Store {
	return &Store{
		elements: make(map[uuid.UUID]*models.WorldElement),
	}
}

// Version returns the structural version counter.
func (s *Store) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// ── Audio / style / playhead ───────────────────────────────────────────────

// SetAudio registers the song. Duration bounds all clip clamping.
func (s *Store) SetAudio(duration float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audioPresent = true
	s.totalDuration = duration
	s.version++
}

func (s *Store) AudioPresent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audioPresent
}

func (s *Store) TotalDuration() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalDuration
}

func (s *Store) SetStyle(style string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.style = style
}

func (s *Store) Style() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.style
}

func (s *Store) SetPlayhead(t float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t < 0 {
		t = 0
	}
	if s.totalDuration > 0 && t > s.totalDuration {
		t = s.totalDuration
	}
	s.playhead = t
	s.version++
}

func (s *Store) Playhead() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playhead
}

// SetBeatMarkers replaces the externally supplied beat grid.
func (s *Store) SetBeatMarkers(beats []float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beatMarkers = append([]float64(nil), beats...)
	sort.Float64s(s.beatMarkers)
	s.version++
}

func (s *Store) BeatMarkers() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]float64(nil), s.beatMarkers...)
}

func (s *Store) SetTranscribing(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcribing = v
}

func (s *Store) SetPlanning(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.planning = v
}

func (s *Store) Transcribing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcribing
}

func (s *Store) Planning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.planning
}

// ── Transcript segments ────────────────────────────────────────────────────

// SetSegments replaces the transcript. Each segment must satisfy start < end;
// gaps and overlaps between segments are fine (gaps are instrumental breaks).
func (s *Store) SetSegments(segments []models.TranscriptSegment) error {
	for i := range segments {
		if segments[i].Start >= segments[i].End {
			return fmt.Errorf("segment %q: %w", segments[i].Text, ErrInvalidInterval)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.segments = append([]models.TranscriptSegment(nil), segments...)
	sort.SliceStable(s.segments, func(i, j int) bool {
		return s.segments[i].Start < s.segments[j].Start
	})
	for i := range s.segments {
		if s.segments[i].ID == uuid.Nil {
			s.segments[i].ID = uuid.New()
		}
	}
	s.version++
	return nil
}

func (s *Store) Segments() []models.TranscriptSegment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.TranscriptSegment(nil), s.segments...)
}

func (s *Store) segmentByID(id uuid.UUID) *models.TranscriptSegment {
	for i := range s.segments {
		if s.segments[i].ID == id {
			return &s.segments[i]
		}
	}
	return nil
}

// ── Scenes ─────────────────────────────────────────────────────────────────

// CreateScene adds a scene. Only start < end is enforced; scenes may overlap
// each other (the snap engine reports that, it doesn't forbid it).
func (s *Store) CreateScene(title, description string, start, end float64) (*models.Scene, error) {
	if start >= end {
		return nil, ErrInvalidInterval
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	scene := &models.Scene{
		ID:          uuid.New(),
		Title:       title,
		Description: description,
		StartTime:   start,
		EndTime:     end,
	}
	s.scenes = append(s.scenes, scene)
	s.sortScenesLocked()
	s.version++
	out := *scene
	return &out, nil
}

// SetScenes replaces the scene list, typically with a planner result.
// Scenes missing ids get them assigned.
func (s *Store) SetScenes(scenes []*models.Scene) error {
	for _, sc := range scenes {
		if sc.StartTime >= sc.EndTime {
			return fmt.Errorf("scene %q: %w", sc.Title, ErrInvalidInterval)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scenes = s.scenes[:0]
	for _, sc := range scenes {
		cp := *sc
		if cp.ID == uuid.Nil {
			cp.ID = uuid.New()
		}
		cp.ElementRefs = append([]uuid.UUID(nil), sc.ElementRefs...)
		s.scenes = append(s.scenes, &cp)
	}
	s.sortScenesLocked()
	s.version++
	return nil
}

// SetSceneElements replaces a scene's element references. References are not
// validated against the element table — dangling ids are tolerated and
// filtered at resolve time.
func (s *Store) SetSceneElements(sceneID uuid.UUID, refs []uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	scene := s.sceneByIDLocked(sceneID)
	if scene == nil {
		return fmt.Errorf("scene %s: %w", sceneID, ErrNotFound)
	}
	scene.ElementRefs = append([]uuid.UUID(nil), refs...)
	return nil
}

// SetSceneCamera replaces a scene's camera override map.
func (s *Store) SetSceneCamera(sceneID uuid.UUID, overrides models.JSONB) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	scene := s.sceneByIDLocked(sceneID)
	if scene == nil {
		return fmt.Errorf("scene %s: %w", sceneID, ErrNotFound)
	}
	scene.CameraOverrides = overrides
	return nil
}

// DeleteSceneCascade removes the scene and every clip parented to it.
// This is the one deliberate cascade in the model — contrast with world
// element deletion, which never touches scenes. Returns the number of clips
// removed alongside the scene.
func (s *Store) DeleteSceneCascade(sceneID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, sc := range s.scenes {
		if sc.ID == sceneID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return 0, fmt.Errorf("scene %s: %w", sceneID, ErrNotFound)
	}
	s.scenes = append(s.scenes[:idx], s.scenes[idx+1:]...)

	removed := 0
	kept := s.clips[:0]
	for _, c := range s.clips {
		if c.SceneID != nil && *c.SceneID == sceneID {
			removed++
			continue
		}
		kept = append(kept, c)
	}
	s.clips = kept
	s.version++
	return removed, nil
}

func (s *Store) Scenes() []models.Scene {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Scene, len(s.scenes))
	for i, sc := range s.scenes {
		out[i] = *sc
		out[i].ElementRefs = append([]uuid.UUID(nil), sc.ElementRefs...)
	}
	return out
}

func (s *Store) Scene(id uuid.UUID) (models.Scene, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc := s.sceneByIDLocked(id)
	if sc == nil {
		return models.Scene{}, fmt.Errorf("scene %s: %w", id, ErrNotFound)
	}
	out := *sc
	out.ElementRefs = append([]uuid.UUID(nil), sc.ElementRefs...)
	return out, nil
}

func (s *Store) sceneByIDLocked(id uuid.UUID) *models.Scene {
	for _, sc := range s.scenes {
		if sc.ID == id {
			return sc
		}
	}
	return nil
}

func (s *Store) sortScenesLocked() {
	sort.SliceStable(s.scenes, func(i, j int) bool {
		return s.scenes[i].StartTime < s.scenes[j].StartTime
	})
}

// ── Clips ──────────────────────────────────────────────────────────────────

// CreateClip adds a clip spanning [start, end). The clip may optionally
// originate from a transcript segment and/or belong to a scene; when sceneID
// is nil the containing scene (if any) is looked up from start.
func (s *Store) CreateClip(start, end float64, segmentID, sceneID *uuid.UUID) (*models.Clip, error) {
	if end-start < models.MinClipDuration {
		return nil, ErrMinClipDuration
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if sceneID == nil {
		if sc := s.containingSceneLocked(start); sc != nil {
			id := sc.ID
			sceneID = &id
		}
	}

	title := fmt.Sprintf("Clip %d", len(s.clips)+1)
	if segmentID != nil {
		if seg := s.segmentByID(*segmentID); seg != nil && seg.Text != "" {
			title = seg.Text
		}
	}

	clip := &models.Clip{
		ID:        uuid.New(),
		SceneID:   sceneID,
		SegmentID: segmentID,
		Title:     title,
		StartTime: start,
		EndTime:   end,
		Order:     s.nextOrderLocked(),
	}
	s.clips = append(s.clips, clip)
	s.sortClipsLocked()
	s.version++
	out := *clip
	return &out, nil
}

// SplitClip cuts a clip at atTime. The original keeps [start, atTime), the
// new sibling takes [atTime, end) with order = original.Order + 0.5 so it
// lands between the original and its next neighbor without renumbering.
// Frames stay on the sides they belong to: the original keeps its start
// frame, the sibling inherits the end frame. The rendered video, if any,
// no longer matches either interval, so both sides drop it.
func (s *Store) SplitClip(clipID uuid.UUID, atTime float64) (*models.Clip, *models.Clip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	clip := s.clipByIDLocked(clipID)
	if clip == nil {
		return nil, nil, fmt.Errorf("clip %s: %w", clipID, ErrNotFound)
	}
	if atTime <= clip.StartTime || atTime >= clip.EndTime {
		return nil, nil, ErrInvalidSplit
	}

	sibling := &models.Clip{
		ID:        uuid.New(),
		SceneID:   clip.SceneID,
		SegmentID: clip.SegmentID,
		Title:     clip.Title,
		StartTime: atTime,
		EndTime:   clip.EndTime,
		Order:     clip.Order + 0.5,
		EndFrame:  clip.EndFrame,
	}

	clip.EndTime = atTime
	clip.EndFrame = nil
	clip.Video = nil

	s.clips = append(s.clips, sibling)
	s.sortClipsLocked()
	s.version++

	left, right := *clip, *sibling
	return &left, &right, nil
}

// DeleteClip removes a single clip.
func (s *Store) DeleteClip(clipID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range s.clips {
		if c.ID == clipID {
			s.clips = append(s.clips[:i], s.clips[i+1:]...)
			s.version++
			return nil
		}
	}
	return fmt.Errorf("clip %s: %w", clipID, ErrNotFound)
}

// SetClipTimes moves a clip's interval. Rejects intervals under the minimum
// duration; does NOT reject overlaps or out-of-scene placement — those are
// advisory conflicts surfaced by the snap engine.
func (s *Store) SetClipTimes(clipID uuid.UUID, start, end float64) error {
	if end-start < models.MinClipDuration {
		return ErrMinClipDuration
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	clip := s.clipByIDLocked(clipID)
	if clip == nil {
		return fmt.Errorf("clip %s: %w", clipID, ErrNotFound)
	}
	clip.StartTime = start
	clip.EndTime = end
	s.version++
	return nil
}

// ReassignClipScene recomputes the clip's parent by finding the scene whose
// interval contains the clip's start time, or nil when none does. Run after
// every committed drag/trim so a clip dragged into another scene re-parents.
func (s *Store) ReassignClipScene(clipID uuid.UUID) (*uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	clip := s.clipByIDLocked(clipID)
	if clip == nil {
		return nil, fmt.Errorf("clip %s: %w", clipID, ErrNotFound)
	}
	if sc := s.containingSceneLocked(clip.StartTime); sc != nil {
		id := sc.ID
		clip.SceneID = &id
	} else {
		clip.SceneID = nil
	}
	return clip.SceneID, nil
}

// AttachFrame points the clip at a freshly generated or uploaded frame.
// Frames are immutable — a regeneration lands here as a brand new record
// replacing the reference, never as an in-place mutation.
func (s *Store) AttachFrame(clipID uuid.UUID, frame *models.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clip := s.clipByIDLocked(clipID)
	if clip == nil {
		return fmt.Errorf("clip %s: %w", clipID, ErrNotFound)
	}
	switch frame.Type {
	case models.FrameStart:
		clip.StartFrame = frame
	case models.FrameEnd:
		clip.EndFrame = frame
	default:
		return fmt.Errorf("unknown frame type %q", frame.Type)
	}
	return nil
}

// AttachVideo points the clip at a freshly generated video.
func (s *Store) AttachVideo(clipID uuid.UUID, video *models.GeneratedVideo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clip := s.clipByIDLocked(clipID)
	if clip == nil {
		return fmt.Errorf("clip %s: %w", clipID, ErrNotFound)
	}
	clip.Video = video
	return nil
}

// Clip returns a copy of one clip.
func (s *Store) Clip(clipID uuid.UUID) (models.Clip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	clip := s.clipByIDLocked(clipID)
	if clip == nil {
		return models.Clip{}, fmt.Errorf("clip %s: %w", clipID, ErrNotFound)
	}
	return *clip, nil
}

// Clips returns copies of all clips in order. Iteration order is stable
// (sorted by Order, ties by creation) — the snap engine's tie-breaking and
// the scheduler's batch enqueue both rely on that.
func (s *Store) Clips() []models.Clip {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Clip, len(s.clips))
	for i, c := range s.clips {
		out[i] = *c
	}
	return out
}

func (s *Store) clipByIDLocked(id uuid.UUID) *models.Clip {
	for _, c := range s.clips {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func (s *Store) containingSceneLocked(t float64) *models.Scene {
	for _, sc := range s.scenes {
		if sc.StartTime <= t && t < sc.EndTime {
			return sc
		}
	}
	return nil
}

func (s *Store) nextOrderLocked() float64 {
	max := 0.0
	for _, c := range s.clips {
		if c.Order > max {
			max = c.Order
		}
	}
	return max + 1
}

func (s *Store) sortClipsLocked() {
	sort.SliceStable(s.clips, func(i, j int) bool {
		return s.clips[i].Order < s.clips[j].Order
	})
}

// ── World elements ─────────────────────────────────────────────────────────

// PutElement inserts or updates a world element.
func (s *Store) PutElement(el models.WorldElement) models.WorldElement {
	s.mu.Lock()
	defer s.mu.Unlock()
	if el.ID == uuid.Nil {
		el.ID = uuid.New()
	}
	cp := el
	s.elements[el.ID] = &cp
	return el
}

// DeleteElement removes an element from the table. Scene references are left
// dangling on purpose — they're filtered at resolve time, not eagerly
// cleaned, so deletion never cascades into scenes.
func (s *Store) DeleteElement(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.elements[id]; !ok {
		return fmt.Errorf("element %s: %w", id, ErrNotFound)
	}
	delete(s.elements, id)
	return nil
}

func (s *Store) Elements() []models.WorldElement {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.WorldElement, 0, len(s.elements))
	for _, el := range s.elements {
		out = append(out, *el)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ResolveElements returns the live elements a scene references, skipping
// refs whose element has since been deleted.
func (s *Store) ResolveElements(sceneID uuid.UUID) ([]models.WorldElement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	scene := s.sceneByIDLocked(sceneID)
	if scene == nil {
		return nil, fmt.Errorf("scene %s: %w", sceneID, ErrNotFound)
	}
	return s.resolveElementsLocked(scene), nil
}

func (s *Store) resolveElementsLocked(scene *models.Scene) []models.WorldElement {
	var out []models.WorldElement
	for _, ref := range scene.ElementRefs {
		if el, ok := s.elements[ref]; ok {
			out = append(out, *el)
		}
	}
	return out
}
