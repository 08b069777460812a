// Package publish fans one post out to several platforms and collects a result per platform.
package publish

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/PortNumber53/social-publisher/internal/credentials"
	"github.com/PortNumber53/social-publisher/internal/metrics"
	"github.com/PortNumber53/social-publisher/internal/platforms"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const DefaultConcurrency = 4

type Resolver interface {
	Resolve(ctx context.Context, platform string, t credentials.Target) (*credentials.Credential, error)
}

type Refresher interface {
	Supports(provider string) bool
	EnsureValid(ctx context.Context, cred *credentials.Credential) (string, error)
}

// Request is a single post sent to every listed platform through the same target.
type Request struct {
	UserID    string
	Content   string
	MediaURL  string
	Platforms []string
	Target    credentials.Target
}

// Job is one (platform, target, content) publish.
type Job struct {
	Platform string
	Target   credentials.Target
	PageName string
	Content  string
	MediaURL string
}

type PlatformResult struct {
	Platform   string   `json:"platform"`
	PageID     string   `json:"page_id,omitempty"`
	PageName   string   `json:"page_name,omitempty"`
	Success    bool     `json:"success"`
	PostID     string   `json:"post_id,omitempty"`
	StatusCode int      `json:"status_code,omitempty"`
	Data       any      `json:"data,omitempty"`
	Error      string   `json:"error,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
}

type Outcome struct {
	Success bool             `json:"success"`
	Message string           `json:"message"`
	Results []PlatformResult `json:"results"`
}

// ValidationError is a structural problem with the request itself.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

type Orchestrator struct {
	registry    *platforms.Registry
	resolver    Resolver
	refresher   Refresher
	pacer       *pacer
	concurrency int
	logger      logrus.FieldLogger
	metrics     metrics.Recorder
}

type Option func(*Orchestrator)

func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithRateLimits enables per-platform pacing and, when quota is non-nil, daily request budgets.
func WithRateLimits(limits map[string]RateLimitConfig, quota QuotaStore) Option {
	return func(o *Orchestrator) {
		o.pacer = newPacer(limits, quota)
	}
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.metrics = r
		}
	}
}

func New(reg *platforms.Registry, resolver Resolver, refresher Refresher, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry:    reg,
		resolver:    resolver,
		refresher:   refresher,
		pacer:       newPacer(nil, nil),
		concurrency: DefaultConcurrency,
		logger:      logrus.StandardLogger(),
		metrics:     metrics.NewNoop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) Registry() *platforms.Registry { return o.registry }

// Validate rejects requests that cannot be attempted on any platform.
func (o *Orchestrator) Validate(req Request) error {
	if strings.TrimSpace(req.Content) == "" {
		return &ValidationError{Message: "missing selected_post content"}
	}
	if len(req.Platforms) == 0 {
		return &ValidationError{Message: "platforms must list at least one platform"}
	}
	for _, p := range req.Platforms {
		if _, ok := o.registry.Get(p); !ok {
			return &ValidationError{Message: fmt.Sprintf("unsupported platform %q", p)}
		}
	}
	return nil
}

// Publish sends req to each requested platform. The result slice has one entry per
// requested platform; a platform failure never prevents the others from running.
func (o *Orchestrator) Publish(ctx context.Context, req Request) Outcome {
	jobs := make([]Job, len(req.Platforms))
	for i, p := range req.Platforms {
		t := req.Target
		t.UserID = req.UserID
		jobs[i] = Job{Platform: p, Target: t, Content: req.Content, MediaURL: req.MediaURL}
	}
	return Summarize(o.PublishTargets(ctx, jobs))
}

// PublishTargets runs jobs with bounded concurrency. results[i] belongs to jobs[i].
func (o *Orchestrator) PublishTargets(ctx context.Context, jobs []Job) []PlatformResult {
	results := make([]PlatformResult, len(jobs))
	var g errgroup.Group
	g.SetLimit(o.concurrency)
	for i := range jobs {
		i := i
		g.Go(func() error {
			results[i] = o.publishOne(ctx, jobs[i])
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Summarize computes overall success and a human-readable message.
func Summarize(results []PlatformResult) Outcome {
	ok := 0
	for _, r := range results {
		if r.Success {
			ok++
		}
	}
	msg := fmt.Sprintf("Published to %d of %d platforms", ok, len(results))
	switch {
	case len(results) > 0 && ok == len(results):
		msg = "Published to all platforms"
	case ok == 0:
		msg = "Failed to publish to any platform"
	}
	return Outcome{Success: ok > 0, Message: msg, Results: results}
}

func (o *Orchestrator) publishOne(ctx context.Context, job Job) (res PlatformResult) {
	platform := strings.ToLower(strings.TrimSpace(job.Platform))
	res = PlatformResult{Platform: platform, PageID: job.Target.PageID, PageName: job.PageName}
	log := o.logger.WithFields(logrus.Fields{
		"platform":      platform,
		"user_id":       job.Target.UserID,
		"page_id":       job.Target.PageID,
		"connection_id": job.Target.ConnectionID,
	})
	start := time.Now()

	defer func() {
		if p := recover(); p != nil {
			log.WithField("stack", string(debug.Stack())).Errorf("[Publish] panic: %v", p)
			res.Success = false
			res.Error = fmt.Sprintf("internal error: %v", p)
		}
		outcome := "success"
		if !res.Success {
			outcome = "failure"
		}
		o.metrics.RecordPublish(platform, outcome, time.Since(start))
	}()

	fail := func(err error) PlatformResult {
		res.Success = false
		res.Error = err.Error()
		log.WithError(err).Warn("[Publish] failed")
		return res
	}

	pub, ok := o.registry.Get(platform)
	if !ok {
		return fail(&credentials.UnsupportedPlatformError{Platform: platform})
	}
	cred, err := o.resolver.Resolve(ctx, platform, job.Target)
	if err != nil {
		return fail(err)
	}
	if res.PageName == "" && cred.Kind == credentials.KindPage {
		res.PageName = cred.Name
	}
	if o.refresher != nil && cred.Kind == credentials.KindConnection && o.refresher.Supports(platform) {
		if _, err := o.refresher.EnsureValid(ctx, cred); err != nil {
			return fail(err)
		}
	}
	if err := o.pacer.wait(ctx, platform); err != nil {
		return fail(err)
	}

	out, err := pub.Publish(ctx, cred, job.Content, job.MediaURL)
	if err != nil {
		return fail(err)
	}
	res.Success = out.Success
	res.PostID = out.PostID
	res.StatusCode = out.StatusCode
	res.Data = out.Data
	res.Warnings = out.Warnings
	if !out.Success {
		res.Error = out.Error
		if res.Error == "" {
			res.Error = fmt.Sprintf("%s returned status %d", platform, out.StatusCode)
		}
		log.WithField("status", out.StatusCode).Warnf("[Publish] rejected: %s", res.Error)
		return res
	}
	for _, w := range out.Warnings {
		log.Warnf("[Publish] %s", w)
	}
	log.WithFields(logrus.Fields{"post_id": out.PostID, "duration": time.Since(start).String()}).Info("[Publish] ok")
	return res
}

// IsValidation reports whether err is a structural request error.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
