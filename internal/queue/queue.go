// Package queue holds the durable list of scheduled posts and drives them
// through the publisher when they come due.
//
// Posts move one way only: scheduled -> posted or scheduled -> failed.
// Nothing is ever deleted; posted and failed entries stay in the same list
// and are filtered by status on read. Every mutation is followed by a full
// snapshot save through the configured store.
package queue

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"postflow/internal/domain"
	"postflow/internal/publish"
	"postflow/internal/store"
)

const DefaultPublishTimeout = 10 * time.Second

type Options struct {
	// PublishTimeout bounds each publish call made by ProcessDue and PublishNow.
	PublishTimeout time.Duration
}

// Stats summarizes the queue for status and metrics endpoints.
type Stats struct {
	Total         int    `json:"total"`
	Scheduled     int    `json:"scheduled"`
	Posted        int    `json:"posted"`
	Failed        int    `json:"failed"`
	SaveFailures  int    `json:"saveFailures"`
	LastSaveError string `json:"lastSaveError,omitempty"`
}

type Queue struct {
	// mu guards posts, seq and the save counters. It is held across
	// read-mutate-persist so snapshots are written in mutation order.
	mu    sync.RWMutex
	posts []domain.Post
	seq   int

	saveFailures int
	lastSaveErr  string

	// processMu serializes ProcessDue runs so a post is published at most
	// once per run even when the scheduler and an API call overlap.
	processMu sync.Mutex

	store          store.Store
	publisher      publish.Publisher
	publishTimeout time.Duration
	now            func() time.Time
}

// New loads the snapshot from st. A load failure is logged and the queue
// starts empty.
func New(st store.Store, pub publish.Publisher, opts Options) *Queue {
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = DefaultPublishTimeout
	}
	q := &Queue{
		store:          st,
		publisher:      pub,
		publishTimeout: opts.PublishTimeout,
		now:            time.Now,
	}

	posts, err := st.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load post queue, starting empty")
		posts = nil
	}
	q.posts = posts
	q.seq = nextSeq(posts)
	log.Info().Int("posts", len(posts)).Int("seq", q.seq).Msg("post queue loaded")
	return q
}

// nextSeq returns the highest numeric id suffix in use, never less than
// the number of posts, so new ids cannot collide with loaded ones.
func nextSeq(posts []domain.Post) int {
	seq := len(posts)
	for _, p := range posts {
		n, err := strconv.Atoi(strings.TrimPrefix(p.ID, "post_"))
		if err == nil && n > seq {
			seq = n
		}
	}
	return seq
}

// Schedule appends a new scheduled post and persists the queue. A failed
// save is logged and counted; the post stays queued in memory and is
// written by the next successful save.
func (q *Queue) Schedule(content string, at time.Time) (domain.Post, error) {
	if strings.TrimSpace(content) == "" {
		return domain.Post{}, domain.NewValidationError("content", "is required")
	}
	if at.IsZero() {
		return domain.Post{}, domain.NewValidationError("scheduledTime", "is required")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.seq++
	p := domain.Post{
		ID:            fmt.Sprintf("post_%d", q.seq),
		Content:       content,
		ScheduledTime: domain.FormatTime(at),
		Status:        domain.StatusScheduled,
		CreatedAt:     q.now().UTC(),
	}
	q.posts = append(q.posts, p)
	q.saveLocked()

	log.Info().Str("post_id", p.ID).Str("scheduled_time", p.ScheduledTime).Msg("post scheduled")
	return p, nil
}

// PublishNow publishes content immediately without creating a post record.
func (q *Queue) PublishNow(ctx context.Context, content string) (domain.DeliveryResult, error) {
	if strings.TrimSpace(content) == "" {
		return domain.DeliveryResult{}, domain.NewValidationError("content", "is required")
	}
	return q.publish(ctx, content), nil
}

type outcome struct {
	idx    int
	result domain.DeliveryResult
	reason string // set when the post fails without a publish attempt
}

// ProcessDue publishes every scheduled post whose time is at or before now
// and returns the posts that changed state. The queue is saved once after
// the batch and not at all when nothing changed.
func (q *Queue) ProcessDue(ctx context.Context, now time.Time) []domain.Post {
	q.processMu.Lock()
	defer q.processMu.Unlock()

	type candidate struct {
		idx      int
		id       string
		content  string
		parseErr error
	}

	q.mu.RLock()
	var due []candidate
	for i, p := range q.posts {
		if p.Status != domain.StatusScheduled {
			continue
		}
		at, err := p.DueAt()
		if err != nil {
			due = append(due, candidate{idx: i, id: p.ID, parseErr: err})
			continue
		}
		if !at.After(now) {
			due = append(due, candidate{idx: i, id: p.ID, content: p.Content})
		}
	}
	q.mu.RUnlock()

	changed := []domain.Post{}
	if len(due) == 0 {
		return changed
	}

	outcomes := make([]outcome, 0, len(due))
	for _, c := range due {
		if c.parseErr != nil {
			outcomes = append(outcomes, outcome{idx: c.idx, reason: "invalid scheduled time: " + c.parseErr.Error()})
			continue
		}
		outcomes = append(outcomes, outcome{idx: c.idx, result: q.publish(ctx, c.content)})
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	for _, o := range outcomes {
		p := &q.posts[o.idx]
		var err error
		switch {
		case o.reason != "":
			err = p.MarkFailed(o.reason)
		case o.result.Success:
			err = p.MarkPosted(o.result)
		default:
			err = p.MarkFailed(o.result.Error)
		}
		if err != nil {
			log.Error().Err(err).Str("post_id", p.ID).Msg("skipping invalid transition")
			continue
		}
		log.Info().Str("post_id", p.ID).Str("status", string(p.Status)).Str("published_id", p.PublishedID).
			Str("error", p.Error).Msg("scheduled post processed")
		changed = append(changed, *p)
	}
	if len(changed) > 0 {
		q.saveLocked()
	}
	return changed
}

func (q *Queue) publish(ctx context.Context, content string) (res domain.DeliveryResult) {
	ctx, cancel := context.WithTimeout(ctx, q.publishTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("publisher panicked")
			res = domain.DeliveryResult{Content: content, PostedAt: q.now().UTC(), Error: fmt.Sprintf("publisher panic: %v", r)}
		}
	}()
	return q.publisher.Publish(ctx, content)
}

// saveLocked persists the current snapshot. Callers hold q.mu for writing.
func (q *Queue) saveLocked() {
	snapshot := make([]domain.Post, len(q.posts))
	copy(snapshot, q.posts)
	if err := q.store.Save(snapshot); err != nil {
		q.saveFailures++
		q.lastSaveErr = err.Error()
		log.Error().Err(err).Int("save_failures", q.saveFailures).Msg("failed to save post queue")
		return
	}
	q.lastSaveErr = ""
}

func (q *Queue) filter(status domain.Status) []domain.Post {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := []domain.Post{}
	for _, p := range q.posts {
		if p.Status == status {
			out = append(out, p)
		}
	}
	return out
}

// GetPending returns scheduled posts in insertion order.
func (q *Queue) GetPending() []domain.Post { return q.filter(domain.StatusScheduled) }

// GetPosted returns posted posts in insertion order.
func (q *Queue) GetPosted() []domain.Post { return q.filter(domain.StatusPosted) }

func (q *Queue) GetFailed() []domain.Post { return q.filter(domain.StatusFailed) }

func (q *Queue) Get(id string) (domain.Post, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	for _, p := range q.posts {
		if p.ID == id {
			return p, true
		}
	}
	return domain.Post{}, false
}

func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.posts)
}

func (q *Queue) Stats() Stats {
	q.mu.RLock()
	defer q.mu.RUnlock()
	s := Stats{Total: len(q.posts), SaveFailures: q.saveFailures, LastSaveError: q.lastSaveErr}
	for _, p := range q.posts {
		switch p.Status {
		case domain.StatusScheduled:
			s.Scheduled++
		case domain.StatusPosted:
			s.Posted++
		case domain.StatusFailed:
			s.Failed++
		}
	}
	return s
}

// PublisherMode reports which publisher variant the queue drives.
func (q *Queue) PublisherMode() string { return q.publisher.Mode() }
