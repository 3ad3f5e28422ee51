// Package worker implements the lead-ingestion execution loop.
package worker

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Decentralised-AI/aitino/internal/lead"
	"github.com/Decentralised-AI/aitino/internal/metrics"
)

// Config controls StreamWorker behavior.
type Config struct {
	Subreddits   []string
	PollInterval time.Duration
	FetchTimeout time.Duration
	WorkTimeout  time.Duration
}

// StreamWorker streams one topic set's submissions: fetch, dedup, classify,
// persist. Cancellation is cooperative and checked only at submission
// boundaries; a submission whose processing has begun always completes.
type StreamWorker struct {
	source    lead.SubmissionSource
	evaluator lead.Evaluator
	store     lead.Store
	events    lead.EventPublisher
	retry     *lead.ExponentialRetryPolicy
	cfg       Config
	logger    *zap.Logger
}

// New constructs a StreamWorker. events may be nil.
func New(
	source lead.SubmissionSource,
	evaluator lead.Evaluator,
	store lead.Store,
	events lead.EventPublisher,
	retry *lead.ExponentialRetryPolicy,
	cfg Config,
	logger *zap.Logger,
) *StreamWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if retry == nil {
		retry = lead.NewExponentialRetryPolicy()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 15 * time.Second
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 30 * time.Second
	}
	if cfg.WorkTimeout <= 0 {
		cfg.WorkTimeout = 60 * time.Second
	}
	return &StreamWorker{
		source:    source,
		evaluator: evaluator,
		store:     store,
		events:    events,
		retry:     retry,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, streaming submissions until the context finishes.
func (w *StreamWorker) Run(ctx context.Context) {
	before := ""
	for {
		if ctx.Err() != nil {
			return
		}

		subs, err := w.fetchBatch(ctx, before)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("fetch batch failed", zap.Error(err))
		}

		for _, sub := range subs {
			// Stop flag is only honored here, never mid-submission.
			if ctx.Err() != nil {
				return
			}
			w.processSubmission(ctx, sub)
			before = "t3_" + sub.SourceID
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.cfg.PollInterval):
		}
	}
}

func (w *StreamWorker) fetchBatch(ctx context.Context, before string) ([]lead.Submission, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, w.cfg.FetchTimeout)
	defer cancel()
	return w.source.FetchNew(fetchCtx, w.cfg.Subreddits, before)
}

// processSubmission runs dedup, classification, and persistence for one
// submission. It is shielded from the worker's cancellation so in-flight
// work finishes; its own timeout bounds the worst case.
func (w *StreamWorker) processSubmission(ctx context.Context, sub lead.Submission) {
	workCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.WorkTimeout)
	defer cancel()

	if _, err := w.store.FindBySubmissionID(workCtx, sub.SourceID); err == nil {
		metrics.ObserveSubmission(sub.Subreddit, "duplicate")
		return
	} else if !errors.Is(err, lead.ErrNotFound) {
		w.logger.Warn("dedup lookup failed, relying on store constraint",
			zap.String("submission_id", sub.SourceID),
			zap.Error(err),
		)
	}

	topicContext := strings.Join(w.cfg.Subreddits, "+")

	eval, err := w.evaluateWithRetry(workCtx, sub, topicContext)
	if err != nil {
		w.park(workCtx, sub, err)
		return
	}

	status := lead.StatusRejected
	outcome := "rejected"
	if eval.Relevant {
		status = lead.StatusAccepted
		outcome = "accepted"
	}

	saved, err := w.saveWithRetry(workCtx, sub, status, &eval)
	if err != nil {
		w.park(workCtx, sub, err)
		return
	}
	metrics.ObserveSubmission(sub.Subreddit, outcome)

	w.logger.Debug("submission evaluated",
		zap.String("submission_id", sub.SourceID),
		zap.String("subreddit", sub.Subreddit),
		zap.String("status", string(saved.Status)),
		zap.String("reason", eval.Reason),
	)

	if status == lead.StatusAccepted && w.events != nil {
		event := lead.AcceptedEvent{
			LeadID:       saved.ID,
			SubmissionID: saved.SubmissionID,
			Subreddit:    sub.Subreddit,
			Title:        sub.Title,
			Reason:       eval.Reason,
			Timestamp:    saved.CreatedAt,
		}
		if err := w.events.PublishAccepted(workCtx, event); err != nil {
			w.logger.Warn("accepted-lead event publish failed",
				zap.String("lead_id", saved.ID),
				zap.Error(err),
			)
		}
	}
}

func (w *StreamWorker) evaluateWithRetry(
	ctx context.Context,
	sub lead.Submission,
	topicContext string,
) (lead.Evaluation, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		eval, err := w.evaluator.Evaluate(ctx, sub.Title, sub.Body, topicContext)
		if err == nil {
			return eval, nil
		}
		lastErr = err
		if !w.retry.ShouldRetry(err, attempt) {
			return lead.Evaluation{}, lastErr
		}
		metrics.ObserveEvaluationRetry()
		w.logger.Warn("evaluation attempt failed",
			zap.String("submission_id", sub.SourceID),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return lead.Evaluation{}, ctx.Err()
		case <-time.After(w.retry.Backoff(attempt)):
		}
	}
}

func (w *StreamWorker) saveWithRetry(
	ctx context.Context,
	sub lead.Submission,
	status lead.Status,
	eval *lead.Evaluation,
) (lead.Lead, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		saved, err := w.store.SaveNew(ctx, sub, status, eval)
		if err == nil {
			return saved, nil
		}
		lastErr = err
		if !w.retry.ShouldRetry(err, attempt) {
			return lead.Lead{}, lastErr
		}
		metrics.ObserveEvaluationRetry()
		select {
		case <-ctx.Done():
			return lead.Lead{}, ctx.Err()
		case <-time.After(w.retry.Backoff(attempt)):
		}
	}
}

// parkTimeout bounds the pending write when parking a failed submission.
const parkTimeout = 10 * time.Second

// park persists the submission as pending so it stays visible for later
// reprocessing instead of being dropped. The failure being parked may be
// the work deadline itself, so the write runs on its own context rather
// than the possibly-expired one.
func (w *StreamWorker) park(ctx context.Context, sub lead.Submission, cause error) {
	parkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), parkTimeout)
	defer cancel()

	w.logger.Warn("parking submission as pending",
		zap.String("submission_id", sub.SourceID),
		zap.Error(cause),
	)
	if _, err := w.store.SaveNew(parkCtx, sub, lead.StatusPending, nil); err != nil {
		w.logger.Error("failed to park submission",
			zap.String("submission_id", sub.SourceID),
			zap.Error(err),
		)
		return
	}
	metrics.ObserveSubmission(sub.Subreddit, "parked")
}
