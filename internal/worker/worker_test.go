package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Decentralised-AI/aitino/internal/clock/system"
	eventsmemory "github.com/Decentralised-AI/aitino/internal/events/memory"
	"github.com/Decentralised-AI/aitino/internal/id/uuid"
	"github.com/Decentralised-AI/aitino/internal/lead"
	"github.com/Decentralised-AI/aitino/internal/store/memory"
)

type fakeSource struct {
	mu      sync.Mutex
	batches [][]lead.Submission
	calls   int
	befores []string
}

func (f *fakeSource) FetchNew(_ context.Context, _ []string, before string) ([]lead.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.befores = append(f.befores, before)
	if f.calls >= len(f.batches) {
		f.calls++
		return nil, nil
	}
	batch := f.batches[f.calls]
	f.calls++
	return batch, nil
}

type fakeEvaluator struct {
	mu       sync.Mutex
	relevant bool
	reason   string
	failN    int
	delay    time.Duration
	calls    int
}

func (f *fakeEvaluator) Evaluate(_ context.Context, _, _, _ string) (lead.Evaluation, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if n <= f.failN {
		return lead.Evaluation{}, &lead.EvaluationError{Err: errors.New("provider down")}
	}
	return lead.Evaluation{Relevant: f.relevant, Reason: f.reason}, nil
}

// deadlineEvaluator blocks until the per-submission deadline expires and
// surfaces the context error, the way a real HTTP classifier call fails.
type deadlineEvaluator struct{}

func (deadlineEvaluator) Evaluate(ctx context.Context, _, _, _ string) (lead.Evaluation, error) {
	<-ctx.Done()
	return lead.Evaluation{}, &lead.EvaluationError{Err: ctx.Err()}
}

// ctxHonoringStore rejects writes on a finished context, like the Postgres
// store does.
type ctxHonoringStore struct {
	inner lead.Store
}

func (s *ctxHonoringStore) SaveNew(ctx context.Context, sub lead.Submission, status lead.Status, eval *lead.Evaluation) (lead.Lead, error) {
	if err := ctx.Err(); err != nil {
		return lead.Lead{}, err
	}
	return s.inner.SaveNew(ctx, sub, status, eval)
}

func (s *ctxHonoringStore) FindBySubmissionID(ctx context.Context, sourceID string) (lead.Lead, error) {
	if err := ctx.Err(); err != nil {
		return lead.Lead{}, err
	}
	return s.inner.FindBySubmissionID(ctx, sourceID)
}

func (s *ctxHonoringStore) Get(ctx context.Context, id string) (lead.Lead, error) {
	return s.inner.Get(ctx, id)
}

func (s *ctxHonoringStore) MarkCommentGenerated(ctx context.Context, id string) (lead.Lead, error) {
	return s.inner.MarkCommentGenerated(ctx, id)
}

func (s *ctxHonoringStore) MarkHumanReview(ctx context.Context, id string, relevant bool, reason string) (lead.Lead, error) {
	return s.inner.MarkHumanReview(ctx, id, relevant, reason)
}

func (s *ctxHonoringStore) MarkPublished(ctx context.Context, id string, finalText string) (lead.Lead, error) {
	return s.inner.MarkPublished(ctx, id, finalText)
}

func sub(id string) lead.Submission {
	return lead.Submission{
		SourceID:  id,
		Title:     "Need help with SaaS billing",
		Body:      "...",
		Subreddit: "SaaS",
		CreatedAt: time.Unix(100, 0).UTC(),
	}
}

func newWorker(
	source lead.SubmissionSource,
	evaluator lead.Evaluator,
	store lead.Store,
	events lead.EventPublisher,
) *StreamWorker {
	return New(source, evaluator, store, events,
		lead.NewRetryPolicy(2, time.Millisecond, 5*time.Millisecond),
		Config{
			Subreddits:   []string{"SaaS", "startups"},
			PollInterval: 5 * time.Millisecond,
			FetchTimeout: time.Second,
			WorkTimeout:  5 * time.Second,
		},
		zap.NewNop(),
	)
}

func TestRunAcceptsRelevantSubmission(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := memory.NewLeadStore(uuid.New(), system.New())
	events := eventsmemory.New()
	source := &fakeSource{batches: [][]lead.Submission{{sub("abc123")}}}
	w := newWorker(source, &fakeEvaluator{relevant: true, reason: "billing pain point"}, store, events)

	go w.Run(ctx)

	require.Eventually(t, func() bool {
		l, err := store.FindBySubmissionID(context.Background(), "abc123")
		return err == nil && l.Status == lead.StatusAccepted
	}, time.Second, 5*time.Millisecond)

	l, err := store.FindBySubmissionID(context.Background(), "abc123")
	require.NoError(t, err)
	require.NotNil(t, l.Evaluation)
	assert.Equal(t, "billing pain point", l.Evaluation.Reason)

	require.Eventually(t, func() bool {
		return len(events.Events()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, l.ID, events.Events()[0].LeadID)
}

func TestRunRejectsIrrelevantSubmission(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := memory.NewLeadStore(uuid.New(), system.New())
	events := eventsmemory.New()
	source := &fakeSource{batches: [][]lead.Submission{{sub("xyz")}}}
	w := newWorker(source, &fakeEvaluator{relevant: false, reason: "not a lead"}, store, events)

	go w.Run(ctx)

	require.Eventually(t, func() bool {
		l, err := store.FindBySubmissionID(context.Background(), "xyz")
		return err == nil && l.Status == lead.StatusRejected
	}, time.Second, 5*time.Millisecond)

	// rejected leads emit no events
	assert.Empty(t, events.Events())
}

func TestRunSkipsKnownSubmissions(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := memory.NewLeadStore(uuid.New(), system.New())
	existing, err := store.SaveNew(context.Background(), sub("abc123"), lead.StatusRejected, nil)
	require.NoError(t, err)

	evaluator := &fakeEvaluator{relevant: true}
	source := &fakeSource{batches: [][]lead.Submission{{sub("abc123")}}}
	w := newWorker(source, evaluator, store, nil)

	go w.Run(ctx)

	require.Eventually(t, func() bool {
		source.mu.Lock()
		defer source.mu.Unlock()
		return source.calls >= 2
	}, time.Second, 5*time.Millisecond)

	l, err := store.FindBySubmissionID(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, existing.ID, l.ID)
	assert.Equal(t, lead.StatusRejected, l.Status)
	evaluator.mu.Lock()
	assert.Zero(t, evaluator.calls, "known submission must not be re-evaluated")
	evaluator.mu.Unlock()
}

func TestRunParksOnPersistentEvaluatorFailure(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := memory.NewLeadStore(uuid.New(), system.New())
	source := &fakeSource{batches: [][]lead.Submission{{sub("failing")}}}
	w := newWorker(source, &fakeEvaluator{failN: 100}, store, nil)

	go w.Run(ctx)

	require.Eventually(t, func() bool {
		l, err := store.FindBySubmissionID(context.Background(), "failing")
		return err == nil && l.Status == lead.StatusPending
	}, time.Second, 5*time.Millisecond)

	l, _ := store.FindBySubmissionID(context.Background(), "failing")
	assert.Nil(t, l.Evaluation)
}

func TestRunParksSubmissionWhenWorkDeadlineExpires(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inner := memory.NewLeadStore(uuid.New(), system.New())
	store := &ctxHonoringStore{inner: inner}
	source := &fakeSource{batches: [][]lead.Submission{{sub("stuck")}}}
	w := New(source, deadlineEvaluator{}, store, nil,
		lead.NewRetryPolicy(2, time.Millisecond, 5*time.Millisecond),
		Config{
			Subreddits:   []string{"SaaS"},
			PollInterval: 5 * time.Millisecond,
			FetchTimeout: time.Second,
			WorkTimeout:  30 * time.Millisecond,
		},
		zap.NewNop(),
	)

	go w.Run(ctx)

	// the pending write must land even though the work context expired
	require.Eventually(t, func() bool {
		l, err := inner.FindBySubmissionID(context.Background(), "stuck")
		return err == nil && l.Status == lead.StatusPending
	}, time.Second, 5*time.Millisecond)
}

func TestRunRecoversWithinRetryCeiling(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := memory.NewLeadStore(uuid.New(), system.New())
	source := &fakeSource{batches: [][]lead.Submission{{sub("flaky")}}}
	w := newWorker(source, &fakeEvaluator{failN: 1, relevant: true, reason: "ok"}, store, nil)

	go w.Run(ctx)

	require.Eventually(t, func() bool {
		l, err := store.FindBySubmissionID(context.Background(), "flaky")
		return err == nil && l.Status == lead.StatusAccepted
	}, time.Second, 5*time.Millisecond)
}

func TestRunAdvancesBeforeCursor(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := memory.NewLeadStore(uuid.New(), system.New())
	source := &fakeSource{batches: [][]lead.Submission{{sub("s1"), sub("s2")}}}
	w := newWorker(source, &fakeEvaluator{relevant: false}, store, nil)

	go w.Run(ctx)

	require.Eventually(t, func() bool {
		source.mu.Lock()
		defer source.mu.Unlock()
		return source.calls >= 2
	}, time.Second, 5*time.Millisecond)

	source.mu.Lock()
	defer source.mu.Unlock()
	assert.Equal(t, "", source.befores[0])
	assert.Equal(t, "t3_s2", source.befores[1])
}

func TestStopNeverCancelsMidSubmission(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())

	store := memory.NewLeadStore(uuid.New(), system.New())
	evaluator := &fakeEvaluator{relevant: true, reason: "ok", delay: 50 * time.Millisecond}
	source := &fakeSource{batches: [][]lead.Submission{{sub("slow")}}}
	w := newWorker(source, evaluator, store, nil)

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	// wait for processing to begin, then signal stop mid-submission
	require.Eventually(t, func() bool {
		evaluator.mu.Lock()
		defer evaluator.mu.Unlock()
		return evaluator.calls > 0
	}, time.Second, time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop in time")
	}

	// the in-flight submission completed despite the stop signal
	l, err := store.FindBySubmissionID(context.Background(), "slow")
	require.NoError(t, err)
	assert.Equal(t, lead.StatusAccepted, l.Status)
}
