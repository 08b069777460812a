package workers

import (
	"context"
	"strings"
	"time"

	"github.com/PortNumber53/social-publisher/internal/credentials"
	"github.com/PortNumber53/social-publisher/internal/models"
	"github.com/PortNumber53/social-publisher/internal/publish"
	"github.com/PortNumber53/social-publisher/internal/store"
	"github.com/PortNumber53/social-publisher/internal/textutil"
	"github.com/sirupsen/logrus"
)

type ScheduledPostStore interface {
	ClaimDuePosts(ctx context.Context, limit int) ([]*models.Post, error)
	CompletePost(ctx context.Context, id string, c store.PostCompletion) error
}

type TargetPublisher interface {
	PublishTargets(ctx context.Context, jobs []publish.Job) []publish.PlatformResult
}

// ScheduledPostsWorker publishes posts whose scheduled time has passed.
type ScheduledPostsWorker struct {
	Store     ScheduledPostStore
	Publisher TargetPublisher
	Interval  time.Duration // default: 1m
	BatchSize int           // default: 25
	Logger    logrus.FieldLogger
	// OnPublished, when set, is called once per claimed post after it is completed.
	OnPublished func(post *models.Post, res publish.PlatformResult)
}

var sweepBackoffs = []time.Duration{700 * time.Millisecond, 1500 * time.Millisecond, 3 * time.Second}

// Start sweeps immediately and then on every tick until ctx is done.
func (w *ScheduledPostsWorker) Start(ctx context.Context) {
	w.defaults()
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	w.Logger.WithField("interval", w.Interval.String()).Info("[ScheduledPosts] worker started")
	w.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			w.Logger.WithField("err", ctx.Err()).Info("[ScheduledPosts] worker stopped")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

// sweep retries a failed claim a few times with backoff before giving up until the next tick.
func (w *ScheduledPostsWorker) sweep(ctx context.Context) {
	var (
		n   int
		err error
	)
	for attempt := 0; attempt <= len(sweepBackoffs); attempt++ {
		n, err = w.ProcessOnce(ctx)
		if err == nil {
			break
		}
		if attempt < len(sweepBackoffs) {
			w.Logger.WithError(err).WithField("attempt", attempt+1).Warn("[ScheduledPosts] sweep error")
			select {
			case <-ctx.Done():
				return
			case <-time.After(sweepBackoffs[attempt]):
			}
		}
	}
	if err != nil {
		w.Logger.WithError(err).Error("[ScheduledPosts] sweep failed")
		return
	}
	if n > 0 {
		w.Logger.WithField("processed", n).Info("[ScheduledPosts] sweep done")
	}
}

// ProcessOnce claims due posts, publishes them and records each outcome. It returns the number claimed.
func (w *ScheduledPostsWorker) ProcessOnce(ctx context.Context) (int, error) {
	w.defaults()
	if w.Store == nil || w.Publisher == nil {
		return 0, nil
	}
	posts, err := w.Store.ClaimDuePosts(ctx, w.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(posts) == 0 {
		return 0, nil
	}

	jobs := make([]publish.Job, 0, len(posts))
	claimed := make([]*models.Post, 0, len(posts))
	for _, p := range posts {
		if strings.TrimSpace(p.Content) == "" {
			w.complete(ctx, p, publish.PlatformResult{Platform: p.Platform, Error: "empty_content"})
			continue
		}
		jobs = append(jobs, publish.Job{
			Platform: p.Platform,
			Target: credentials.Target{
				PageID:       models.Deref(p.PageID),
				ConnectionID: models.Deref(p.ConnectionID),
				UserID:       p.UserID,
			},
			Content:  p.Content,
			MediaURL: models.Deref(p.MediaURL),
		})
		claimed = append(claimed, p)
	}
	for i, res := range w.Publisher.PublishTargets(ctx, jobs) {
		w.complete(ctx, claimed[i], res)
	}
	return len(posts), nil
}

func (w *ScheduledPostsWorker) complete(ctx context.Context, p *models.Post, res publish.PlatformResult) {
	log := w.Logger.WithFields(logrus.Fields{"post_id": p.ID, "user_id": p.UserID, "platform": p.Platform})
	err := w.Store.CompletePost(ctx, p.ID, store.PostCompletion{
		Success:        res.Success,
		ExternalPostID: res.PostID,
		Error:          textutil.Clip(res.Error, 300),
	})
	if err != nil {
		log.WithError(err).Error("[ScheduledPosts] complete failed")
	}
	if res.Success {
		log.WithField("external_post_id", res.PostID).Info("[ScheduledPosts] published")
	} else {
		log.WithField("reason", res.Error).Warn("[ScheduledPosts] failed")
	}
	if w.OnPublished != nil {
		w.OnPublished(p, res)
	}
}

func (w *ScheduledPostsWorker) defaults() {
	if w.Interval <= 0 {
		w.Interval = time.Minute
	}
	if w.BatchSize <= 0 {
		w.BatchSize = 25
	}
	if w.Logger == nil {
		w.Logger = logrus.StandardLogger()
	}
}
