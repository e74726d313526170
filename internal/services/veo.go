package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/solenne/lyricframe/internal/models"
	"github.com/solenne/lyricframe/internal/storage"
	"github.com/solenne/lyricframe/internal/timeline"
	"google.golang.org/genai"
)

const (
	defaultVeoModel    = "veo-3.1-generate-preview"
	veoPollInterval    = 10 * time.Second
	veoMaxPollDuration = 5 * time.Minute // Max time to wait for a single video
)

// VideoStudio renders clip videos with Veo through the Google Gen AI SDK.
// The clip's start frame is passed as the first frame; when the clip also
// has an end frame, it is passed as the last frame so the motion resolves
// onto it. Implements the scheduler's VideoGenerator contract.
type VideoStudio struct {
	apiKey string
	model  string
	media  *storage.MediaStore
}

func NewVideoStudio(apiKey, model string, media *storage.MediaStore) *VideoStudio {
	if model == "" {
		model = defaultVeoModel
	}
	return &VideoStudio{
		apiKey: apiKey,
		model:  model,
		media:  media,
	}
}

// buildMotionPrompt wraps the clip's motion description with direction that
// keeps Veo from drifting away from the start frame's look.
func buildMotionPrompt(p timeline.VideoPrompt) string {
	var b strings.Builder
	b.WriteString(p.Motion)
	b.WriteString("\n\nMatch the visual style of the input frame exactly — same rendering, same color grading, same subjects.")
	if p.Style != "" {
		fmt.Fprintf(&b, " Overall style: %s.", p.Style)
	}
	if p.EndFrameURL != "" {
		b.WriteString(" The motion must resolve naturally onto the provided final frame.")
	}
	b.WriteString("\nNo generated audio or dialogue. Silent video only.")
	return b.String()
}

// GenerateVideo renders one clip's video. The underlying operation is
// asynchronous on the provider side; it's polled here, with progress
// reported per poll, until done or timed out. This blocks the calling
// goroutine — intentional, the scheduler runs one item at a time anyway.
func (s *VideoStudio) GenerateVideo(ctx context.Context, prompt timeline.VideoPrompt, progress func(int)) (*models.GeneratedVideo, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  s.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	progress(5)

	frameBytes, err := s.media.Fetch(ctx, prompt.StartFrameURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch start frame: %w", err)
	}

	firstFrame := &genai.Image{
		ImageBytes: frameBytes,
		MIMEType:   "image/png",
	}

	config := &genai.GenerateVideosConfig{
		AspectRatio:      "16:9",
		NumberOfVideos:   1,
		PersonGeneration: "allow_adult",
	}
	if prompt.EndFrameURL != "" {
		endBytes, err := s.media.Fetch(ctx, prompt.EndFrameURL)
		if err != nil {
			// A missing end frame degrades to start-frame-only motion
			log.Printf("[Veo] end frame fetch failed, rendering from start frame only: %v", err)
		} else {
			config.LastFrame = &genai.Image{ImageBytes: endBytes, MIMEType: "image/png"}
		}
	}

	motionPrompt := buildMotionPrompt(prompt)
	log.Printf("[Veo] starting video generation (model=%s, clip=%s, duration=%.1fs)", s.model, prompt.ClipID, prompt.Duration)

	operation, err := client.Models.GenerateVideos(ctx, s.model, motionPrompt, firstFrame, config)
	if err != nil {
		return nil, fmt.Errorf("failed to start video generation: %w", err)
	}

	progress(10)

	// Poll until done, cancelled, or timed out
	deadline := time.Now().Add(veoMaxPollDuration)
	pollCount := 0
	for !operation.Done {
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("video generation timed out after %v (polled %d times)", veoMaxPollDuration, pollCount)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("video generation cancelled: %w", ctx.Err())
		case <-time.After(veoPollInterval):
		}

		pollCount++
		operation, err = client.Operations.GetVideosOperation(ctx, operation, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to poll operation (attempt %d): %w", pollCount, err)
		}

		// Rough progress: scale elapsed polling against the timeout window
		pct := 10 + int(80*float64(pollCount)*veoPollInterval.Seconds()/veoMaxPollDuration.Seconds())
		progress(pct)
	}

	if operation.Error != nil && len(operation.Error) > 0 {
		errJSON, _ := json.Marshal(operation.Error)
		return nil, fmt.Errorf("video generation operation failed: %s", string(errJSON))
	}

	if operation.Response == nil {
		return nil, fmt.Errorf("no response in completed operation after %d polls (operation: %s)", pollCount, operation.Name)
	}

	if operation.Response.RAIMediaFilteredCount > 0 {
		reasons := "unknown"
		if len(operation.Response.RAIMediaFilteredReasons) > 0 {
			reasons = strings.Join(operation.Response.RAIMediaFilteredReasons, ", ")
		}
		return nil, fmt.Errorf("video blocked by safety filters: %d video(s) filtered, reasons: %s", operation.Response.RAIMediaFilteredCount, reasons)
	}

	if len(operation.Response.GeneratedVideos) == 0 {
		return nil, fmt.Errorf("no videos in response after %d polls", pollCount)
	}

	video := operation.Response.GeneratedVideos[0]
	if video.Video == nil {
		return nil, fmt.Errorf("generated video object is nil")
	}

	downloadURI := genai.NewDownloadURIFromVideo(video.Video)
	videoBytes, err := client.Files.Download(ctx, downloadURI, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to download generated video: %w", err)
	}
	if len(videoBytes) == 0 {
		return nil, fmt.Errorf("downloaded video is empty (0 bytes)")
	}

	progress(95)

	filename := fmt.Sprintf("video_%d.mp4", time.Now().UnixMilli())
	objectPath := s.media.ClipObjectPath(prompt.ClipID, filename)
	if err := s.media.Upload(ctx, objectPath, videoBytes, "video/mp4"); err != nil {
		return nil, fmt.Errorf("failed to store video: %w", err)
	}

	log.Printf("[Veo] video generated for clip %s (%d bytes, %d polls)", prompt.ClipID, len(videoBytes), pollCount)

	return &models.GeneratedVideo{
		ID:       uuid.New(),
		ClipID:   prompt.ClipID,
		URL:      s.media.PublicURL(objectPath),
		Duration: prompt.Duration,
		Status:   models.VideoStatusReady,
	}, nil
}
