package timeline

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/solenne/lyricframe/internal/models"
)

// FramePrompt is everything a frame generator needs for one still: the
// clip's narrative scene resolved down to live world elements, the scene's
// camera overrides, the global style, and which edge of the clip the frame
// anchors.
type FramePrompt struct {
	ClipID      uuid.UUID
	FrameType   models.FrameType
	ClipTitle   string
	SceneTitle  string
	SceneDesc   string
	Elements    []models.WorldElement
	Camera      models.JSONB
	Style       string
	Lyric       string  // originating segment text, if the clip has one
	Start       float64 // clip interval, for temporal hints in the prompt
	End         float64
}

// VideoPrompt is the input for one clip's video render: the start frame
// (required), an optional end frame, and a motion description derived from
// the scene.
type VideoPrompt struct {
	ClipID        uuid.UUID
	StartFrameURL string
	EndFrameURL   string // empty when the clip has no end frame
	Motion        string
	Style         string
	Duration      float64
}

// FramePromptContext resolves the prompt context for one frame of a clip.
// A free-floating clip (no scene) still gets a prompt — it just carries no
// scene narrative or camera overrides.
func (s *Store) FramePromptContext(clipID uuid.UUID, frameType models.FrameType) (*FramePrompt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	clip := s.clipByIDLocked(clipID)
	if clip == nil {
		return nil, fmt.Errorf("clip %s: %w", clipID, ErrNotFound)
	}

	p := &FramePrompt{
		ClipID:    clip.ID,
		FrameType: frameType,
		ClipTitle: clip.Title,
		Style:     s.style,
		Start:     clip.StartTime,
		End:       clip.EndTime,
	}

	if clip.SegmentID != nil {
		if seg := s.segmentByID(*clip.SegmentID); seg != nil {
			p.Lyric = seg.Text
		}
	}

	if clip.SceneID != nil {
		if scene := s.sceneByIDLocked(*clip.SceneID); scene != nil {
			p.SceneTitle = scene.Title
			p.SceneDesc = scene.Description
			p.Camera = scene.CameraOverrides
			p.Elements = s.resolveElementsLocked(scene)
		}
	}

	return p, nil
}

// VideoPromptContext resolves the prompt context for a clip's video render.
// Fails when the clip has no start frame yet — the scheduler surfaces that
// as the item's error instead of calling the provider with nothing.
func (s *Store) VideoPromptContext(clipID uuid.UUID) (*VideoPrompt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	clip := s.clipByIDLocked(clipID)
	if clip == nil {
		return nil, fmt.Errorf("clip %s: %w", clipID, ErrNotFound)
	}
	if clip.StartFrame == nil {
		return nil, fmt.Errorf("clip %q has no start frame", clip.Title)
	}

	p := &VideoPrompt{
		ClipID:        clip.ID,
		StartFrameURL: clip.StartFrame.URL,
		Style:         s.style,
		Duration:      clip.EndTime - clip.StartTime,
	}
	if clip.EndFrame != nil {
		p.EndFrameURL = clip.EndFrame.URL
	}

	motion := clip.Title
	if clip.SceneID != nil {
		if scene := s.sceneByIDLocked(*clip.SceneID); scene != nil && scene.Description != "" {
			motion = scene.Description
		}
	}
	p.Motion = motion

	return p, nil
}
