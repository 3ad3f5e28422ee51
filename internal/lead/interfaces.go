package lead

import (
	"context"
	"time"
)

// Store persists leads and owns every status transition. Implementations
// must make SaveNew's dedup check and insert a single atomic unit; workers
// with overlapping topic sets may race on the same submission.
type Store interface {
	// SaveNew creates a lead for the submission, or returns the existing
	// lead unchanged when one already exists for its source id.
	SaveNew(ctx context.Context, sub Submission, status Status, eval *Evaluation) (Lead, error)
	// FindBySubmissionID returns the lead for a source id, or ErrNotFound.
	FindBySubmissionID(ctx context.Context, sourceID string) (Lead, error)
	// Get returns the lead with the given id, or ErrNotFound.
	Get(ctx context.Context, id string) (Lead, error)
	// MarkCommentGenerated advances an accepted lead to comment_generated.
	MarkCommentGenerated(ctx context.Context, id string) (Lead, error)
	// MarkHumanReview records an operator override. When relevant is false
	// the lead moves to rejected; repeating the override is a no-op.
	MarkHumanReview(ctx context.Context, id string, relevant bool, reason string) (Lead, error)
	// MarkPublished sets status published and stores the final text.
	// Published is terminal.
	MarkPublished(ctx context.Context, id string, finalText string) (Lead, error)
}

// Evaluator classifies a submission against its topic context. Each call is
// an independent external request with its own timeout; the evaluator never
// retries internally.
type Evaluator interface {
	Evaluate(ctx context.Context, title, body, topicContext string) (Evaluation, error)
}

// SubmissionSource streams new platform submissions for a topic set.
type SubmissionSource interface {
	FetchNew(ctx context.Context, subreddits []string, before string) ([]Submission, error)
}

// Generator produces a draft reply for a submission.
type Generator interface {
	Generate(ctx context.Context, title, body string) (string, error)
}

// Poster publishes a comment to the platform on behalf of a lead and
// returns the platform-echoed content.
type Poster interface {
	PostComment(ctx context.Context, creds Credentials, submissionID, text string) (string, error)
}

// EventPublisher announces accepted leads to downstream consumers.
type EventPublisher interface {
	PublishAccepted(ctx context.Context, event AcceptedEvent) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces lead and worker IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
