package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/solenne/lyricframe/internal/models"
	"github.com/solenne/lyricframe/internal/storage"
	"github.com/solenne/lyricframe/internal/timeline"
)

const geminiModel = "gemini-3-pro-image-preview"

// FrameStudio generates clip frames with the Gemini image API and parks the
// bytes in the media store. It satisfies the scheduler's FrameGenerator
// contract: one resolved prompt context in, one immutable Frame out.
type FrameStudio struct {
	apiKey string
	media  *storage.MediaStore
	client *http.Client
}

func NewFrameStudio(apiKey string, media *storage.MediaStore) *FrameStudio {
	return &FrameStudio{
		apiKey: apiKey,
		media:  media,
		client: &http.Client{Timeout: 300 * time.Second},
	}
}

// Gemini API request/response structures
type geminiGenerateContentRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiGenerationConfig struct {
	ResponseModalities []string `json:"responseModalities,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"` // base64
}

type geminiGenerateContentResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// GenerateFrame renders one still for a clip edge and uploads it.
func (s *FrameStudio) GenerateFrame(ctx context.Context, prompt timeline.FramePrompt, progress func(int)) (*models.Frame, error) {
	progress(5)

	imageData, mimeType, err := s.generateImage(ctx, composeFramePrompt(prompt))
	if err != nil {
		return nil, err
	}
	progress(70)

	filename := fmt.Sprintf("%s_frame_%d.png", prompt.FrameType, time.Now().UnixMilli())
	objectPath := s.media.ClipObjectPath(prompt.ClipID, filename)
	if err := s.media.Upload(ctx, objectPath, imageData, mimeType); err != nil {
		return nil, fmt.Errorf("failed to store frame: %w", err)
	}
	progress(95)

	now := time.Now()
	return &models.Frame{
		ID:          uuid.New(),
		ClipID:      prompt.ClipID,
		Type:        prompt.FrameType,
		Source:      models.FrameSourceAI,
		URL:         s.media.PublicURL(objectPath),
		GeneratedAt: &now,
	}, nil
}

func (s *FrameStudio) generateImage(ctx context.Context, prompt string) ([]byte, string, error) {
	reqBody := geminiGenerateContentRequest{
		Contents: []geminiContent{
			{Parts: []geminiPart{{Text: prompt}}},
		},
		GenerationConfig: &geminiGenerationConfig{
			ResponseModalities: []string{"IMAGE"},
		},
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent", geminiModel)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(payload))
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("gemini request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read gemini response: %w", err)
	}

	var result geminiGenerateContentResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, "", fmt.Errorf("failed to parse gemini response: %w", err)
	}

	if result.Error != nil {
		return nil, "", fmt.Errorf("gemini error %d: %s", result.Error.Code, result.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("gemini returned status %d", resp.StatusCode)
	}

	for _, cand := range result.Candidates {
		for _, part := range cand.Content.Parts {
			if part.InlineData == nil {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
			if err != nil {
				return nil, "", fmt.Errorf("failed to decode image data: %w", err)
			}
			log.Printf("[Gemini] image generated (%d bytes, %s)", len(data), part.InlineData.MimeType)
			return data, part.InlineData.MimeType, nil
		}
	}

	return nil, "", fmt.Errorf("no image in gemini response")
}

// composeFramePrompt flattens the resolved prompt context into one
// instruction block. Scene elements come grouped by category so the model
// keeps recurring characters and locations consistent across frames.
func composeFramePrompt(p timeline.FramePrompt) string {
	var b strings.Builder

	b.WriteString("Generate a single cinematic still frame for a music video.\n")

	switch p.FrameType {
	case models.FrameStart:
		b.WriteString("This is the opening moment of the shot.\n")
	case models.FrameEnd:
		b.WriteString("This is the final moment of the shot.\n")
	}

	if p.SceneTitle != "" {
		fmt.Fprintf(&b, "Scene: %s\n", p.SceneTitle)
	}
	if p.SceneDesc != "" {
		fmt.Fprintf(&b, "What the camera sees: %s\n", p.SceneDesc)
	}
	if p.Lyric != "" {
		fmt.Fprintf(&b, "Lyric under this shot: %q\n", p.Lyric)
	}

	if len(p.Elements) > 0 {
		b.WriteString("World elements in frame:\n")
		for _, el := range p.Elements {
			fmt.Fprintf(&b, "- [%s] %s: %s\n", el.Category, el.Name, el.Description)
		}
	}

	if len(p.Camera) > 0 {
		camera, _ := json.Marshal(p.Camera)
		fmt.Fprintf(&b, "Camera: %s\n", camera)
	}

	if p.Style != "" {
		fmt.Fprintf(&b, "Visual style: %s\n", p.Style)
	}

	return b.String()
}
