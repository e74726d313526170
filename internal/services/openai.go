package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/solenne/lyricframe/internal/models"
	openai "github.com/sashabaranov/go-openai"
)

type OpenAIService struct {
	client *openai.Client
}

func NewOpenAIService(apiKey string) *OpenAIService {
	return &OpenAIService{
		client: openai.NewClient(apiKey),
	}
}

// Transcribe runs Whisper over the song and maps its segments onto
// TranscriptSegments with word-level timestamps. Whisper doesn't know song
// structure, so section types are assigned by a repetition heuristic:
// a lyric block that recurs is tagged as chorus, everything else as verse.
// The planner refines types later; gaps between segments stand in for
// instrumental breaks and are left alone.
func (s *OpenAIService) Transcribe(ctx context.Context, audio []byte) ([]models.TranscriptSegment, error) {
	resp, err := s.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    openai.Whisper1,
		FilePath: "song.mp3",
		Reader:   bytes.NewReader(audio),
		Format:   openai.AudioResponseFormatVerboseJSON,
		TimestampGranularities: []openai.TranscriptionTimestampGranularity{
			openai.TranscriptionTimestampGranularitySegment,
			openai.TranscriptionTimestampGranularityWord,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("transcription failed: %w", err)
	}

	segments := make([]models.TranscriptSegment, 0, len(resp.Segments))
	for _, seg := range resp.Segments {
		if seg.End <= seg.Start {
			continue // zero-length artifacts happen on trailing silence
		}
		segments = append(segments, models.TranscriptSegment{
			ID:    uuid.New(),
			Text:  strings.TrimSpace(seg.Text),
			Start: seg.Start,
			End:   seg.End,
			Type:  models.SegmentVerse,
		})
	}

	// Attach words to the segment whose span contains them
	for _, w := range resp.Words {
		for i := range segments {
			if w.Start >= segments[i].Start && w.Start < segments[i].End {
				segments[i].Words = append(segments[i].Words, models.Word{
					Text:  w.Word,
					Start: w.Start,
					End:   w.End,
				})
				break
			}
		}
	}

	tagChoruses(segments)

	log.Printf("[OpenAI] transcribed %d segments, %d words", len(segments), len(resp.Words))
	return segments, nil
}

// tagChoruses marks repeated lyric blocks as chorus.
func tagChoruses(segments []models.TranscriptSegment) {
	counts := make(map[string]int, len(segments))
	for _, seg := range segments {
		counts[normalizeLyric(seg.Text)]++
	}
	for i := range segments {
		if segments[i].Text != "" && counts[normalizeLyric(segments[i].Text)] > 1 {
			segments[i].Type = models.SegmentChorus
		}
	}
}

func normalizeLyric(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// ── Scene planning ──────────────────────────────────────────────────────────

// scenePlan is the JSON shape the model is asked to produce.
type scenePlan struct {
	Scenes   []scenePlanScene   `json:"scenes"`
	Elements []scenePlanElement `json:"elements"`
}

type scenePlanScene struct {
	Title       string                 `json:"title"`
	Description string                 `json:"description"`
	Start       float64                `json:"start"`
	End         float64                `json:"end"`
	Elements    []string               `json:"elements"` // names from the elements list
	Camera      map[string]interface{} `json:"camera,omitempty"`
}

type scenePlanElement struct {
	Name        string `json:"name"`
	Category    string `json:"category"` // who/what/when/where/why
	Description string `json:"description"`
}

// PlanScenes asks the model for a scene breakdown of the song: titled time
// intervals with narrative descriptions, a world element table, and camera
// hints. Returns the scenes (with element refs resolved to ids) and the
// elements themselves.
func (s *OpenAIService) PlanScenes(ctx context.Context, segments []models.TranscriptSegment, style string, duration float64) ([]*models.Scene, []models.WorldElement, error) {
	systemPrompt := buildPlanSystemPrompt(style, duration)
	userPrompt := buildPlanUserPrompt(segments, duration)

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: "gpt-5-mini",
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: systemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: userPrompt,
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 1.0,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("openai request failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, nil, fmt.Errorf("no response from openai")
	}

	rawContent := resp.Choices[0].Message.Content

	var plan scenePlan
	if err := json.Unmarshal([]byte(rawContent), &plan); err != nil {
		log.Printf("[OpenAI plan] parse failed: %v", err)
		log.Printf("[OpenAI plan] raw response: %s", truncateForLog(rawContent))
		return nil, nil, fmt.Errorf("failed to parse scene plan: %w", err)
	}

	if len(plan.Scenes) == 0 {
		log.Printf("[OpenAI plan] plan has no scenes, raw response: %s", truncateForLog(rawContent))
		return nil, nil, fmt.Errorf("scene plan has no scenes")
	}

	// Build the element table and a name index for scene refs
	elements := make([]models.WorldElement, 0, len(plan.Elements))
	elementByName := make(map[string]uuid.UUID, len(plan.Elements))
	for _, pe := range plan.Elements {
		el := models.WorldElement{
			ID:          uuid.New(),
			Name:        pe.Name,
			Category:    pe.Category,
			Description: pe.Description,
		}
		elements = append(elements, el)
		elementByName[strings.ToLower(pe.Name)] = el.ID
	}

	scenes := make([]*models.Scene, 0, len(plan.Scenes))
	for i, ps := range plan.Scenes {
		if ps.Title == "" || ps.End <= ps.Start {
			log.Printf("[OpenAI plan] scene %d invalid (title=%q, start=%.2f, end=%.2f), raw response: %s",
				i, ps.Title, ps.Start, ps.End, truncateForLog(rawContent))
			return nil, nil, fmt.Errorf("scene %d in plan is invalid", i)
		}

		scene := &models.Scene{
			ID:              uuid.New(),
			Title:           ps.Title,
			Description:     ps.Description,
			StartTime:       ps.Start,
			EndTime:         ps.End,
			CameraOverrides: models.JSONB(ps.Camera),
		}
		for _, name := range ps.Elements {
			if id, ok := elementByName[strings.ToLower(name)]; ok {
				scene.ElementRefs = append(scene.ElementRefs, id)
			}
		}
		scenes = append(scenes, scene)
	}

	log.Printf("[OpenAI plan] planned %d scenes, %d world elements", len(scenes), len(elements))
	return scenes, elements, nil
}

func buildPlanSystemPrompt(style string, duration float64) string {
	var b strings.Builder
	b.WriteString("You are a music video director. Given song lyrics with timestamps, ")
	b.WriteString("produce a scene plan as JSON with this shape:\n")
	b.WriteString(`{"scenes":[{"title":"...","description":"...","start":0.0,"end":12.5,"elements":["name",...],"camera":{"angle":"low","movement":"dolly"}}],`)
	b.WriteString(`"elements":[{"name":"...","category":"who|what|when|where|why","description":"..."}]}`)
	b.WriteString("\n\nRules:\n")
	b.WriteString("- Scenes must cover the song in order; each scene's start must precede its end.\n")
	b.WriteString(fmt.Sprintf("- The song is %.1f seconds long; do not plan past that.\n", duration))
	b.WriteString("- Reuse world elements across scenes by name for visual continuity.\n")
	b.WriteString("- Descriptions are what the camera sees, not what the lyrics say.\n")
	if style != "" {
		b.WriteString(fmt.Sprintf("- Overall visual style: %s\n", style))
	}
	return b.String()
}

func buildPlanUserPrompt(segments []models.TranscriptSegment, duration float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Song duration: %.1fs\nLyrics:\n", duration)
	for _, seg := range segments {
		fmt.Fprintf(&b, "[%.1f-%.1f] (%s) %s\n", seg.Start, seg.End, seg.Type, seg.Text)
	}
	return b.String()
}

func truncateForLog(s string) string {
	const maxLogLen = 2000
	if len(s) > maxLogLen {
		return s[:maxLogLen] + "..."
	}
	return s
}
