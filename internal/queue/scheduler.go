package queue

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/solenne/lyricframe/internal/models"
	"github.com/solenne/lyricframe/internal/timeline"
)

// FrameGenerator produces one still frame from a resolved prompt context.
// progress may be called with 0-100 as the provider reports it; a provider
// with no progress signal can ignore it.
type FrameGenerator interface {
	GenerateFrame(ctx context.Context, prompt timeline.FramePrompt, progress func(int)) (*models.Frame, error)
}

// VideoGenerator renders one clip's video from its start frame (and optional
// end frame) plus a motion prompt.
type VideoGenerator interface {
	GenerateVideo(ctx context.Context, prompt timeline.VideoPrompt, progress func(int)) (*models.GeneratedVideo, error)
}

// AssetStore persists completed Frame/GeneratedVideo records. All scheduler
// calls into it are best-effort: a write failure is logged and the in-memory
// result stands.
type AssetStore interface {
	PutFrame(ctx context.Context, frame *models.Frame) error
	PutVideo(ctx context.Context, video *models.GeneratedVideo) error
}

// Scheduler drives the generation backlog against slow, fallible, rate-limited
// providers: strict FIFO over pending items, exactly one in flight.
//
// One item at a time keeps the pause contract simple ("let the current call
// finish, start nothing new"), keeps provider rate limits intact, and
// guarantees no two completing items ever write into the same clip
// concurrently. The scheduler is re-entered only by completion callbacks and
// explicit control calls — never by a timer.
//
// A failed item never stops the loop: its error is recorded on the item and
// the scan moves on to the next pending entry. Retry is a deliberate user
// action, not an automatic backoff.
type Scheduler struct {
	ctx       context.Context
	store     *timeline.Store
	frames    FrameGenerator
	videos    VideoGenerator
	assets    AssetStore // optional
	snapshots *Snapshots // optional

	mu           sync.Mutex
	items        []*models.QueueItem
	isProcessing bool
	isPaused     bool
	inFlight     bool
	onChange     func() // observer hook, fired after every item transition
}

func New(ctx context.Context, store *timeline.Store, frames FrameGenerator, videos VideoGenerator, assets AssetStore, snapshots *Snapshots) *Scheduler {
	return &Scheduler{
		ctx:       ctx,
		store:     store,
		frames:    frames,
		videos:    videos,
		assets:    assets,
		snapshots: snapshots,
	}
}

// OnChange registers the observer fired after every item state transition
// and queue control call. The workflow tracker hangs off this.
func (s *Scheduler) OnChange(fn func()) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// ── Enqueue ────────────────────────────────────────────────────────────────

// EnqueueFrame queues generation of one frame for a clip.
func (s *Scheduler) EnqueueFrame(clipID uuid.UUID, frameType models.FrameType) models.QueueItem {
	ft := frameType
	return s.enqueue(&models.QueueItem{
		ID:        uuid.New(),
		Type:      models.QueueItemFrame,
		ClipID:    clipID,
		FrameType: &ft,
	})
}

// EnqueueVideo queues a video render for a clip. Callers should queue the
// clip's frames first; a video item that reaches the front without a start
// frame fails with a user-facing error instead of calling the provider.
func (s *Scheduler) EnqueueVideo(clipID uuid.UUID) models.QueueItem {
	return s.enqueue(&models.QueueItem{
		ID:     uuid.New(),
		Type:   models.QueueItemVideo,
		ClipID: clipID,
	})
}

// EnqueueClipBatch queues a clip's full pipeline in dependency order:
// start frame, end frame, then video. FIFO processing makes the frame→video
// dependency hold by construction — no runtime dependency graph needed,
// since that's the only dependency edge in the model.
func (s *Scheduler) EnqueueClipBatch(clipID uuid.UUID) []models.QueueItem {
	clip, err := s.store.Clip(clipID)
	if err != nil {
		log.Printf("[Queue] batch enqueue skipped: %v", err)
		return nil
	}
	var out []models.QueueItem
	if clip.StartFrame == nil {
		out = append(out, s.EnqueueFrame(clipID, models.FrameStart))
	}
	if clip.EndFrame == nil {
		out = append(out, s.EnqueueFrame(clipID, models.FrameEnd))
	}
	if clip.Video == nil {
		out = append(out, s.EnqueueVideo(clipID))
	}
	return out
}

// EnqueueAll queues the pipeline for every clip that still needs media,
// in clip order.
func (s *Scheduler) EnqueueAll() []models.QueueItem {
	var out []models.QueueItem
	for _, clip := range s.store.Clips() {
		out = append(out, s.EnqueueClipBatch(clip.ID)...)
	}
	return out
}

func (s *Scheduler) enqueue(item *models.QueueItem) models.QueueItem {
	item.Status = models.QueueItemPending
	item.CreatedAt = time.Now()

	s.mu.Lock()
	s.items = append(s.items, item)
	out := *item
	s.mu.Unlock()

	s.snapshot()
	s.notify()
	s.maybeProcessNext()
	return out
}

// ── Queue controls ─────────────────────────────────────────────────────────

// Start begins (or resumes after Clear) processing the backlog.
func (s *Scheduler) Start() {
	s.mu.Lock()
	s.isProcessing = true
	s.isPaused = false
	s.mu.Unlock()
	s.notify()
	s.maybeProcessNext()
}

// Pause lets the in-flight item run to completion but starts nothing new.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	s.isPaused = true
	s.mu.Unlock()
	s.notify()
}

// Resume lifts a pause.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	s.isPaused = false
	s.mu.Unlock()
	s.notify()
	s.maybeProcessNext()
}

// Clear stops processing and removes every item that isn't currently in
// flight. The in-flight item, if any, finishes and commits its result —
// an external call cannot be cancelled mid-flight in this design.
func (s *Scheduler) Clear() {
	s.mu.Lock()
	kept := s.items[:0]
	for _, it := range s.items {
		if it.Status == models.QueueItemProcessing {
			kept = append(kept, it)
		}
	}
	s.items = kept
	s.isProcessing = false
	s.isPaused = false
	s.mu.Unlock()
	s.snapshot()
	s.notify()
}

// RetryFailed resets every failed item to pending. RetryCount is preserved —
// the scheduler increments it per processing attempt, not on reset.
func (s *Scheduler) RetryFailed() int {
	s.mu.Lock()
	n := 0
	for _, it := range s.items {
		if it.Status == models.QueueItemFailed {
			it.Status = models.QueueItemPending
			it.Error = nil
			it.Progress = 0
			n++
		}
	}
	s.mu.Unlock()
	if n > 0 {
		s.snapshot()
		s.notify()
		s.maybeProcessNext()
	}
	return n
}

// RetryItem resets one failed item to pending.
func (s *Scheduler) RetryItem(id uuid.UUID) error {
	s.mu.Lock()
	item := s.itemByIDLocked(id)
	if item == nil {
		s.mu.Unlock()
		return fmt.Errorf("queue item %s not found", id)
	}
	if item.Status != models.QueueItemFailed {
		s.mu.Unlock()
		return fmt.Errorf("queue item %s is %s, only failed items can be retried", id, item.Status)
	}
	item.Status = models.QueueItemPending
	item.Error = nil
	item.Progress = 0
	s.mu.Unlock()
	s.snapshot()
	s.notify()
	s.maybeProcessNext()
	return nil
}

// Remove deletes a pending or failed item. A processing item cannot be
// removed — its external call is already running and its result will be
// committed when it lands.
func (s *Scheduler) Remove(id uuid.UUID) error {
	s.mu.Lock()
	for i, it := range s.items {
		if it.ID != id {
			continue
		}
		if it.Status == models.QueueItemProcessing {
			s.mu.Unlock()
			return fmt.Errorf("queue item %s is processing and cannot be removed", id)
		}
		s.items = append(s.items[:i], s.items[i+1:]...)
		s.mu.Unlock()
		s.snapshot()
		s.notify()
		return nil
	}
	s.mu.Unlock()
	return fmt.Errorf("queue item %s not found", id)
}

// Items returns a copy of the backlog in insertion order.
func (s *Scheduler) Items() []models.QueueItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.QueueItem, len(s.items))
	for i, it := range s.items {
		out[i] = *it
	}
	return out
}

// State reports the queue-level flags.
func (s *Scheduler) State() (isProcessing, isPaused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isProcessing, s.isPaused
}

// HasActiveItems reports whether anything is pending or in flight.
func (s *Scheduler) HasActiveItems() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range s.items {
		if it.Status == models.QueueItemPending || it.Status == models.QueueItemProcessing {
			return true
		}
	}
	return false
}

// HasFailedItems reports whether any item is failed. The workflow tracker
// excludes failed items from "ready".
func (s *Scheduler) HasFailedItems() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range s.items {
		if it.Status == models.QueueItemFailed {
			return true
		}
	}
	return false
}

// ── Processing ─────────────────────────────────────────────────────────────

// maybeProcessNext picks up the first pending item in list order (a prefix
// scan, not a queue rotation — a retried item resumes wherever it sits) and
// dispatches it, unless the queue is stopped, paused, or something is
// already in flight. The inFlight guard is what makes concurrency = 1 hold
// no matter which trigger got us here.
func (s *Scheduler) maybeProcessNext() {
	s.mu.Lock()
	if !s.isProcessing || s.isPaused || s.inFlight {
		s.mu.Unlock()
		return
	}
	var next *models.QueueItem
	for _, it := range s.items {
		if it.Status == models.QueueItemPending {
			next = it
			break
		}
	}
	if next == nil {
		s.mu.Unlock()
		return
	}
	next.Status = models.QueueItemProcessing
	next.RetryCount++
	next.Progress = 0
	next.Error = nil
	s.inFlight = true
	id, itemType, clipID := next.ID, next.Type, next.ClipID
	var frameType models.FrameType
	if next.FrameType != nil {
		frameType = *next.FrameType
	}
	s.mu.Unlock()

	s.snapshot()
	s.notify()

	go s.run(id, itemType, clipID, frameType)
}

// run executes one item's external call. It is the only suspension point in
// the whole model; everything around it is synchronous.
func (s *Scheduler) run(itemID uuid.UUID, itemType models.QueueItemType, clipID uuid.UUID, frameType models.FrameType) {
	progress := func(pct int) { s.setProgress(itemID, pct) }

	var err error
	switch itemType {
	case models.QueueItemFrame:
		var prompt *timeline.FramePrompt
		prompt, err = s.store.FramePromptContext(clipID, frameType)
		if err == nil {
			var frame *models.Frame
			frame, err = s.frames.GenerateFrame(s.ctx, *prompt, progress)
			if err == nil {
				err = s.commitFrame(clipID, frame)
			}
		}
	case models.QueueItemVideo:
		var prompt *timeline.VideoPrompt
		prompt, err = s.store.VideoPromptContext(clipID)
		if err == nil {
			var video *models.GeneratedVideo
			video, err = s.videos.GenerateVideo(s.ctx, *prompt, progress)
			if err == nil {
				err = s.commitVideo(clipID, video)
			}
		}
	default:
		err = fmt.Errorf("unknown queue item type %q", itemType)
	}

	s.finish(itemID, err)
}

func (s *Scheduler) commitFrame(clipID uuid.UUID, frame *models.Frame) error {
	if err := s.store.AttachFrame(clipID, frame); err != nil {
		return err
	}
	if s.assets != nil {
		if err := s.assets.PutFrame(s.ctx, frame); err != nil {
			log.Printf("[Queue] frame %s persisted in memory only: %v", frame.ID, err)
		}
	}
	return nil
}

func (s *Scheduler) commitVideo(clipID uuid.UUID, video *models.GeneratedVideo) error {
	if err := s.store.AttachVideo(clipID, video); err != nil {
		return err
	}
	if s.assets != nil {
		if err := s.assets.PutVideo(s.ctx, video); err != nil {
			log.Printf("[Queue] video %s persisted in memory only: %v", video.ID, err)
		}
	}
	return nil
}

// finish records the item's terminal state and hands control back to the
// scan. A failure lands on the item, never out of the loop.
func (s *Scheduler) finish(itemID uuid.UUID, err error) {
	s.mu.Lock()
	item := s.itemByIDLocked(itemID)
	if item != nil {
		if err != nil {
			item.Status = models.QueueItemFailed
			msg := err.Error()
			item.Error = &msg
			log.Printf("[Queue] item %s failed: %v", itemID, err)
		} else {
			item.Status = models.QueueItemComplete
			item.Progress = 100
		}
	}
	s.inFlight = false
	s.mu.Unlock()

	s.snapshot()
	s.notify()
	s.maybeProcessNext()
}

func (s *Scheduler) setProgress(itemID uuid.UUID, pct int) {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	s.mu.Lock()
	if item := s.itemByIDLocked(itemID); item != nil && item.Status == models.QueueItemProcessing {
		item.Progress = pct
	}
	s.mu.Unlock()
}

func (s *Scheduler) itemByIDLocked(id uuid.UUID) *models.QueueItem {
	for _, it := range s.items {
		if it.ID == id {
			return it
		}
	}
	return nil
}

func (s *Scheduler) notify() {
	s.mu.Lock()
	fn := s.onChange
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// snapshot saves the backlog to redis, best-effort.
func (s *Scheduler) snapshot() {
	if s.snapshots == nil {
		return
	}
	if err := s.snapshots.Save(s.ctx, s.Items()); err != nil {
		log.Printf("[Queue] snapshot save failed (continuing in memory): %v", err)
	}
}

// Restore reloads a previously snapshotted backlog. Items caught mid-flight
// by the shutdown come back as pending — their result was never committed.
func (s *Scheduler) Restore() error {
	if s.snapshots == nil {
		return nil
	}
	items, err := s.snapshots.Load(s.ctx)
	if err != nil {
		return err
	}
	kept, dropped := s.restoreItems(items)
	if kept > 0 {
		log.Printf("[Queue] restored %d items from snapshot", kept)
	}
	if dropped > 0 {
		log.Printf("[Queue] dropped %d snapshot items whose clip no longer exists", dropped)
		s.snapshot()
	}
	return nil
}

// restoreItems adopts snapshotted items into the backlog. The timeline itself
// is not persisted, so an item whose clip is missing from the store could
// only ever fail — those are dropped instead of being queued as guaranteed
// failures that would block the workflow from reaching ready.
func (s *Scheduler) restoreItems(items []models.QueueItem) (kept, dropped int) {
	for i := range items {
		it := items[i]
		if _, err := s.store.Clip(it.ClipID); err != nil {
			dropped++
			continue
		}
		if it.Status == models.QueueItemProcessing {
			it.Status = models.QueueItemPending
			it.Progress = 0
		}
		s.mu.Lock()
		s.items = append(s.items, &it)
		s.mu.Unlock()
		kept++
	}
	return kept, dropped
}
