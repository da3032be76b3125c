// ABOUTME: FIFO playback queue with cursor and transport controls
// ABOUTME: Single mutation path; resolution runs outside the guard
package playback

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/AutoBreezeBeats/breezebeats/internal/protocol"
	"github.com/google/uuid"
)

const (
	DefaultResolveTimeout = 60 * time.Second
	DefaultHistorySize    = 50
)

// Resolver turns a submitted URL into playable media
type Resolver interface {
	Resolve(ctx context.Context, rawURL string) (Metadata, error)
}

// Publisher receives the events produced by queue mutations
type Publisher interface {
	Publish(event protocol.Event)
}

// Queue is the process-wide playback queue
type Queue struct {
	resolver Resolver
	pub      Publisher
	logger   *slog.Logger

	resolveTimeout time.Duration
	historySize    int

	mu      sync.Mutex
	items   []Item
	cursor  int
	playing bool
	history []Item

	now   func() time.Time
	newID func() string
}

// Option configures a Queue
type Option func(*Queue)

// WithResolveTimeout bounds a single resolution
func WithResolveTimeout(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.resolveTimeout = d
		}
	}
}

// WithHistorySize bounds how many finished items are remembered
func WithHistorySize(n int) Option {
	return func(q *Queue) {
		if n >= 0 {
			q.historySize = n
		}
	}
}

// NewQueue creates an empty queue
func NewQueue(resolver Resolver, pub Publisher, logger *slog.Logger, opts ...Option) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{
		resolver:       resolver,
		pub:            pub,
		logger:         logger,
		resolveTimeout: DefaultResolveTimeout,
		historySize:    DefaultHistorySize,
		cursor:         -1,
		now:            time.Now,
		newID:          func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// QueueVideo resolves rawURL and appends it. The first item added to an
// empty queue starts playing. A resolution failure rejects the submission
// and leaves the queue untouched.
func (q *Queue) QueueVideo(ctx context.Context, rawURL string) (Item, error) {
	rawURL = strings.TrimSpace(rawURL)
	if err := validateURL(rawURL); err != nil {
		return Item{}, err
	}

	// A client going away must not abandon a resolution other clients will see
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), q.resolveTimeout)
	defer cancel()

	meta, err := q.resolver.Resolve(rctx, rawURL)
	if err != nil {
		rerr := &ResolutionError{URL: rawURL, Err: err}
		q.logger.Warn("media resolution failed", "url", rawURL, "error", err)
		q.publish(protocol.Failure(rerr.Error()))
		return Item{}, rerr
	}

	title := meta.Title
	if title == "" {
		title = rawURL
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	item := Item{
		ID:          q.newID(),
		URL:         rawURL,
		Title:       title,
		Duration:    meta.Duration,
		PlayableURI: meta.PlayableURI,
		Thumbnail:   meta.Thumbnail,
		Status:      StatusQueued,
		AddedAt:     q.now(),
	}

	wasEmpty := len(q.items) == 0
	if wasEmpty {
		item.Status = StatusPlaying
		q.cursor = 0
		q.playing = true
	}
	q.items = append(q.items, item)

	q.logger.Info("video queued", "title", item.Title, "url", rawURL, "position", len(q.items)-1)
	q.publishQueueLocked()
	if wasEmpty {
		q.publishStateLocked()
	}
	return item, nil
}

// Play resumes playback. No-op when already playing or the queue is empty.
func (q *Queue) Play() bool {
	return q.setPlaying(true)
}

// Pause pauses playback. No-op when already paused or the queue is empty.
func (q *Queue) Pause() bool {
	return q.setPlaying(false)
}

func (q *Queue) setPlaying(playing bool) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 || q.playing == playing {
		return false
	}
	q.playing = playing
	q.publishStateLocked()
	return true
}

// SkipNext advances the cursor. Past the last item the queue is finished:
// everything is archived, the cursor becomes -1 and playback pauses.
func (q *Queue) SkipNext() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return false
	}

	if q.cursor < len(q.items)-1 {
		q.items[q.cursor].Status = StatusPlayed
		q.cursor++
		q.items[q.cursor].Status = StatusPlaying
		q.publishStateLocked()
		return true
	}

	q.finishLocked()
	return true
}

// SkipPrev moves the cursor back one item. No-op at the first item.
func (q *Queue) SkipPrev() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.cursor <= 0 {
		return false
	}

	q.items[q.cursor].Status = StatusQueued
	q.cursor--
	q.items[q.cursor].Status = StatusPlaying
	q.publishStateLocked()
	return true
}

// SkipQueue drops the current item and everything before it, leaving the
// cursor on the first remaining item. The transport flag is kept.
func (q *Queue) SkipQueue() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return false
	}

	consumed := q.cursor + 1
	if consumed >= len(q.items) {
		q.finishLocked()
		return true
	}

	q.archiveLocked(q.items[:consumed])
	q.items = append([]Item(nil), q.items[consumed:]...)
	q.cursor = 0
	q.items[0].Status = StatusPlaying

	q.publishQueueLocked()
	q.publishStateLocked()
	return true
}

// Dispatch applies one inbound transport command. Reports whether state changed.
func (q *Queue) Dispatch(cmd protocol.Command) bool {
	switch cmd {
	case protocol.CommandPlay:
		return q.Play()
	case protocol.CommandPause:
		return q.Pause()
	case protocol.CommandNextChapter:
		return q.SkipNext()
	case protocol.CommandPrevChapter:
		return q.SkipPrev()
	case protocol.CommandNextVideo:
		return q.SkipQueue()
	default:
		return false
	}
}

// State returns the cursor and transport flag
func (q *Queue) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stateLocked()
}

// Snapshot returns a copy of the whole queue
func (q *Queue) Snapshot() Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshotLocked()
}

// finishLocked archives the whole queue and stops playback
func (q *Queue) finishLocked() {
	q.archiveLocked(q.items)
	q.items = nil
	q.cursor = -1
	q.playing = false

	q.logger.Info("end of queue reached")
	q.publishQueueLocked()
	q.publishStateLocked()
}

func (q *Queue) archiveLocked(items []Item) {
	for _, item := range items {
		item.Status = StatusPlayed
		q.history = append(q.history, item)
	}
	if over := len(q.history) - q.historySize; over > 0 {
		q.history = append([]Item(nil), q.history[over:]...)
	}
}

func (q *Queue) currentLocked() *Item {
	if q.cursor < 0 {
		return nil
	}
	item := q.items[q.cursor]
	return &item
}

func (q *Queue) stateLocked() State {
	return State{Cursor: q.cursor, Playing: q.playing, Current: q.currentLocked()}
}

func (q *Queue) snapshotLocked() Snapshot {
	items := make([]Item, len(q.items))
	copy(items, q.items)
	history := make([]Item, len(q.history))
	copy(history, q.history)

	return Snapshot{
		Items:   items,
		Cursor:  q.cursor,
		Playing: q.playing,
		Current: q.currentLocked(),
		History: history,
	}
}

func (q *Queue) publishQueueLocked() {
	q.publish(protocol.NewEvent(protocol.EventQueueChanged, q.snapshotLocked()))
}

func (q *Queue) publishStateLocked() {
	q.publish(protocol.NewEvent(protocol.EventPlaybackState, q.stateLocked()))
}

func (q *Queue) publish(event protocol.Event) {
	if q.pub != nil {
		q.pub.Publish(event)
	}
}

func validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}
	return nil
}
