package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/solenne/lyricframe/internal/models"
	"github.com/solenne/lyricframe/internal/timeline"
)

type frameFunc func(ctx context.Context, p timeline.FramePrompt, progress func(int)) (*models.Frame, error)

func (f frameFunc) GenerateFrame(ctx context.Context, p timeline.FramePrompt, progress func(int)) (*models.Frame, error) {
	return f(ctx, p, progress)
}

type videoFunc func(ctx context.Context, p timeline.VideoPrompt, progress func(int)) (*models.GeneratedVideo, error)

func (f videoFunc) GenerateVideo(ctx context.Context, p timeline.VideoPrompt, progress func(int)) (*models.GeneratedVideo, error) {
	return f(ctx, p, progress)
}

func okFrame(p timeline.FramePrompt) *models.Frame {
	now := time.Now()
	return &models.Frame{
		ID:          uuid.New(),
		ClipID:      p.ClipID,
		Type:        p.FrameType,
		Source:      models.FrameSourceAI,
		URL:         fmt.Sprintf("https://cdn/%s/%s.png", p.ClipID, p.FrameType),
		GeneratedAt: &now,
	}
}

func okVideo(p timeline.VideoPrompt) *models.GeneratedVideo {
	return &models.GeneratedVideo{
		ID:       uuid.New(),
		ClipID:   p.ClipID,
		URL:      fmt.Sprintf("https://cdn/%s/video.mp4", p.ClipID),
		Duration: p.Duration,
		Status:   models.VideoStatusReady,
	}
}

func instantFrames() frameFunc {
	return func(_ context.Context, p timeline.FramePrompt, _ func(int)) (*models.Frame, error) {
		return okFrame(p), nil
	}
}

func instantVideos() videoFunc {
	return func(_ context.Context, p timeline.VideoPrompt, _ func(int)) (*models.GeneratedVideo, error) {
		return okVideo(p), nil
	}
}

func newTestStore(t *testing.T) *timeline.Store {
	t.Helper()
	store := timeline.NewStore()
	store.SetAudio(180)
	return store
}

// waitFor polls until cond holds; item completion happens on a goroutine.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func allSettled(s *Scheduler) bool {
	for _, it := range s.Items() {
		if it.Status == models.QueueItemPending || it.Status == models.QueueItemProcessing {
			return false
		}
	}
	return true
}

func countByStatus(s *Scheduler, status models.QueueItemStatus) int {
	n := 0
	for _, it := range s.Items() {
		if it.Status == status {
			n++
		}
	}
	return n
}

func TestBatchRunsInDependencyOrder(t *testing.T) {
	store := newTestStore(t)
	clip, err := store.CreateClip(0, 5, nil, nil)
	if err != nil {
		t.Fatalf("create clip: %v", err)
	}

	var mu sync.Mutex
	var calls []string
	frames := frameFunc(func(_ context.Context, p timeline.FramePrompt, _ func(int)) (*models.Frame, error) {
		mu.Lock()
		calls = append(calls, "frame:"+string(p.FrameType))
		mu.Unlock()
		return okFrame(p), nil
	})
	videos := videoFunc(func(_ context.Context, p timeline.VideoPrompt, _ func(int)) (*models.GeneratedVideo, error) {
		mu.Lock()
		calls = append(calls, "video")
		mu.Unlock()
		if p.StartFrameURL == "" {
			t.Error("video ran before its start frame was committed")
		}
		return okVideo(p), nil
	})

	s := New(context.Background(), store, frames, videos, nil, nil)
	items := s.EnqueueClipBatch(clip.ID)
	if len(items) != 3 {
		t.Fatalf("expected 3 items for a bare clip, got %d", len(items))
	}
	s.Start()

	waitFor(t, "all items settled", func() bool { return allSettled(s) })

	if n := countByStatus(s, models.QueueItemComplete); n != 3 {
		t.Fatalf("expected 3 complete items, got %d: %+v", n, s.Items())
	}

	mu.Lock()
	got := strings.Join(calls, ",")
	mu.Unlock()
	if got != "frame:start,frame:end,video" {
		t.Errorf("unexpected call order: %s", got)
	}

	final, _ := store.Clip(clip.ID)
	if final.StartFrame == nil || final.EndFrame == nil || final.Video == nil {
		t.Errorf("clip should carry both frames and a video after the batch")
	}
	for _, it := range s.Items() {
		if it.Progress != 100 || it.RetryCount != 1 {
			t.Errorf("item %s: progress=%d retries=%d, want 100/1", it.ID, it.Progress, it.RetryCount)
		}
	}
}

func TestOneItemInFlight(t *testing.T) {
	store := newTestStore(t)
	a, _ := store.CreateClip(0, 5, nil, nil)
	b, _ := store.CreateClip(5, 10, nil, nil)

	entered := make(chan struct{}, 2)
	release := make(chan struct{})
	frames := frameFunc(func(_ context.Context, p timeline.FramePrompt, _ func(int)) (*models.Frame, error) {
		entered <- struct{}{}
		<-release
		return okFrame(p), nil
	})

	s := New(context.Background(), store, frames, instantVideos(), nil, nil)
	s.EnqueueFrame(a.ID, models.FrameStart)
	s.EnqueueFrame(b.ID, models.FrameStart)
	s.Start()

	<-entered
	// Give the scheduler every chance to misbehave before checking
	time.Sleep(20 * time.Millisecond)
	if n := countByStatus(s, models.QueueItemProcessing); n != 1 {
		t.Fatalf("expected exactly 1 item in flight, got %d", n)
	}
	select {
	case <-entered:
		t.Fatal("second generator call started while the first was in flight")
	default:
	}

	close(release)
	<-entered
	waitFor(t, "all items settled", func() bool { return allSettled(s) })

	if n := countByStatus(s, models.QueueItemComplete); n != 2 {
		t.Errorf("expected both items complete, got %d", n)
	}
}

func TestFailureDoesNotHaltTheQueue(t *testing.T) {
	store := newTestStore(t)
	bad, _ := store.CreateClip(0, 5, nil, nil)
	good, _ := store.CreateClip(5, 10, nil, nil)

	frames := frameFunc(func(_ context.Context, p timeline.FramePrompt, _ func(int)) (*models.Frame, error) {
		if p.ClipID == bad.ID {
			return nil, fmt.Errorf("provider rejected the prompt")
		}
		return okFrame(p), nil
	})

	s := New(context.Background(), store, frames, instantVideos(), nil, nil)
	s.EnqueueFrame(bad.ID, models.FrameStart)
	s.EnqueueFrame(good.ID, models.FrameStart)
	s.Start()

	waitFor(t, "all items settled", func() bool { return allSettled(s) })

	items := s.Items()
	if items[0].Status != models.QueueItemFailed {
		t.Errorf("first item should fail, got %s", items[0].Status)
	}
	if items[0].Error == nil || !strings.Contains(*items[0].Error, "rejected") {
		t.Errorf("failed item should carry the provider error, got %v", items[0].Error)
	}
	if items[1].Status != models.QueueItemComplete {
		t.Errorf("failure must not stop the next item, got %s", items[1].Status)
	}

	// The failed item left its clip untouched
	c, _ := store.Clip(bad.ID)
	if c.StartFrame != nil {
		t.Error("failed generation must not write into the clip")
	}
}

func TestRetryFailedItem(t *testing.T) {
	store := newTestStore(t)
	clip, _ := store.CreateClip(0, 5, nil, nil)

	var mu sync.Mutex
	attempts := 0
	frames := frameFunc(func(_ context.Context, p timeline.FramePrompt, _ func(int)) (*models.Frame, error) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n == 1 {
			return nil, fmt.Errorf("transient provider error")
		}
		return okFrame(p), nil
	})

	s := New(context.Background(), store, frames, instantVideos(), nil, nil)
	item := s.EnqueueFrame(clip.ID, models.FrameStart)
	s.Start()

	waitFor(t, "first attempt to fail", func() bool {
		return countByStatus(s, models.QueueItemFailed) == 1
	})

	got := s.Items()[0]
	if got.RetryCount != 1 {
		t.Errorf("retry count after first attempt = %d, want 1", got.RetryCount)
	}

	// Only failed items are retryable
	if err := s.RetryItem(item.ID); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if err := s.RetryItem(item.ID); err == nil {
		t.Error("retrying a non-failed item should be rejected")
	}

	waitFor(t, "retry to complete", func() bool {
		return countByStatus(s, models.QueueItemComplete) == 1
	})

	got = s.Items()[0]
	if got.RetryCount != 2 {
		t.Errorf("retry count after second attempt = %d, want 2", got.RetryCount)
	}
	if got.Error != nil {
		t.Errorf("completed item should carry no error, got %v", *got.Error)
	}
}

func TestPauseLetsInFlightFinish(t *testing.T) {
	store := newTestStore(t)
	a, _ := store.CreateClip(0, 5, nil, nil)
	b, _ := store.CreateClip(5, 10, nil, nil)

	entered := make(chan struct{}, 2)
	release := make(chan struct{})
	frames := frameFunc(func(_ context.Context, p timeline.FramePrompt, _ func(int)) (*models.Frame, error) {
		entered <- struct{}{}
		<-release
		return okFrame(p), nil
	})

	s := New(context.Background(), store, frames, instantVideos(), nil, nil)
	s.EnqueueFrame(a.ID, models.FrameStart)
	s.EnqueueFrame(b.ID, models.FrameStart)
	s.Start()

	<-entered
	s.Pause()
	close(release)

	waitFor(t, "in-flight item to finish", func() bool {
		return countByStatus(s, models.QueueItemComplete) == 1
	})
	time.Sleep(20 * time.Millisecond)

	if n := countByStatus(s, models.QueueItemPending); n != 1 {
		t.Fatalf("paused queue must not start the next item, pending=%d", n)
	}

	s.Resume()
	<-entered
	waitFor(t, "all items settled", func() bool { return allSettled(s) })
	if n := countByStatus(s, models.QueueItemComplete); n != 2 {
		t.Errorf("expected both items complete after resume, got %d", n)
	}
}

func TestClearKeepsOnlyInFlight(t *testing.T) {
	store := newTestStore(t)
	a, _ := store.CreateClip(0, 5, nil, nil)
	b, _ := store.CreateClip(5, 10, nil, nil)

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	frames := frameFunc(func(_ context.Context, p timeline.FramePrompt, _ func(int)) (*models.Frame, error) {
		entered <- struct{}{}
		<-release
		return okFrame(p), nil
	})

	s := New(context.Background(), store, frames, instantVideos(), nil, nil)
	s.EnqueueFrame(a.ID, models.FrameStart)
	s.EnqueueFrame(b.ID, models.FrameStart)
	s.Start()

	<-entered
	s.Clear()

	items := s.Items()
	if len(items) != 1 || items[0].Status != models.QueueItemProcessing {
		t.Fatalf("clear should keep only the in-flight item, got %+v", items)
	}
	if isProcessing, _ := s.State(); isProcessing {
		t.Error("clear should stop the queue")
	}

	// The survivor still finishes and commits
	close(release)
	waitFor(t, "in-flight item to finish", func() bool {
		return countByStatus(s, models.QueueItemComplete) == 1
	})
	c, _ := store.Clip(a.ID)
	if c.StartFrame == nil {
		t.Error("the in-flight item's result should still commit after clear")
	}
}

func TestVideoWithoutStartFrameFails(t *testing.T) {
	store := newTestStore(t)
	clip, _ := store.CreateClip(0, 5, nil, nil)

	videoCalled := false
	videos := videoFunc(func(_ context.Context, p timeline.VideoPrompt, _ func(int)) (*models.GeneratedVideo, error) {
		videoCalled = true
		return okVideo(p), nil
	})

	s := New(context.Background(), store, instantFrames(), videos, nil, nil)
	s.EnqueueVideo(clip.ID)
	s.Start()

	waitFor(t, "item to fail", func() bool {
		return countByStatus(s, models.QueueItemFailed) == 1
	})

	item := s.Items()[0]
	if item.Error == nil || !strings.Contains(*item.Error, "no start frame") {
		t.Errorf("expected a start-frame error, got %v", item.Error)
	}
	if videoCalled {
		t.Error("provider must not be called for a clip without a start frame")
	}
}

func TestRemoveRejectsInFlight(t *testing.T) {
	store := newTestStore(t)
	clip, _ := store.CreateClip(0, 5, nil, nil)

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	frames := frameFunc(func(_ context.Context, p timeline.FramePrompt, _ func(int)) (*models.Frame, error) {
		entered <- struct{}{}
		<-release
		return okFrame(p), nil
	})

	s := New(context.Background(), store, frames, instantVideos(), nil, nil)
	item := s.EnqueueFrame(clip.ID, models.FrameStart)
	s.Start()
	<-entered

	if err := s.Remove(item.ID); err == nil {
		t.Error("removing an in-flight item should be rejected")
	}
	close(release)

	waitFor(t, "item to finish", func() bool { return allSettled(s) })
	if err := s.Remove(item.ID); err != nil {
		t.Errorf("removing a settled item: %v", err)
	}
	if len(s.Items()) != 0 {
		t.Errorf("expected empty backlog, got %d items", len(s.Items()))
	}
}

func TestRestoreDropsItemsWhoseClipIsGone(t *testing.T) {
	store := newTestStore(t)
	clip, _ := store.CreateClip(0, 5, nil, nil)

	s := New(context.Background(), store, instantFrames(), instantVideos(), nil, nil)

	// A snapshot from a previous session: one item references a clip that no
	// longer exists, one was caught mid-flight on a clip that does.
	ft := models.FrameStart
	kept, dropped := s.restoreItems([]models.QueueItem{
		{ID: uuid.New(), Type: models.QueueItemFrame, ClipID: uuid.New(), FrameType: &ft, Status: models.QueueItemPending},
		{ID: uuid.New(), Type: models.QueueItemFrame, ClipID: clip.ID, FrameType: &ft, Status: models.QueueItemProcessing, Progress: 40},
	})
	if kept != 1 || dropped != 1 {
		t.Fatalf("kept=%d dropped=%d, want 1/1", kept, dropped)
	}

	items := s.Items()
	if len(items) != 1 || items[0].ClipID != clip.ID {
		t.Fatalf("backlog should hold only the item with a live clip, got %+v", items)
	}
	if items[0].Status != models.QueueItemPending || items[0].Progress != 0 {
		t.Errorf("mid-flight item should come back as a fresh pending, got %s/%d", items[0].Status, items[0].Progress)
	}

	// The restored backlog can run to a clean completion
	s.Start()
	waitFor(t, "restored item to complete", func() bool { return allSettled(s) })
	if countByStatus(s, models.QueueItemFailed) != 0 {
		t.Error("a restored backlog must not contain guaranteed failures")
	}
	if countByStatus(s, models.QueueItemComplete) != 1 {
		t.Errorf("expected the surviving item to complete, got %+v", s.Items())
	}
}

func TestOnChangeFiresOnTransitions(t *testing.T) {
	store := newTestStore(t)
	clip, _ := store.CreateClip(0, 5, nil, nil)

	var mu sync.Mutex
	fired := 0
	s := New(context.Background(), store, instantFrames(), instantVideos(), nil, nil)
	s.OnChange(func() {
		mu.Lock()
		fired++
		mu.Unlock()
	})

	s.EnqueueFrame(clip.ID, models.FrameStart)
	s.Start()
	waitFor(t, "item to complete", func() bool { return allSettled(s) })

	mu.Lock()
	n := fired
	mu.Unlock()
	if n < 3 {
		t.Errorf("observer should fire on enqueue, start, and completion at least, got %d", n)
	}
}
