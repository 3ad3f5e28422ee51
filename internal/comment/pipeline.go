package comment

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Decentralised-AI/aitino/internal/lead"
)

// Pipeline generates draft replies and publishes approved ones. Publishing
// is user-initiated and latency-sensitive, so failures surface immediately
// instead of being retried.
type Pipeline struct {
	generator lead.Generator
	poster    lead.Poster
	store     lead.Store
	logger    *zap.Logger
}

// NewPipeline constructs a Pipeline.
func NewPipeline(generator lead.Generator, poster lead.Poster, store lead.Store, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		generator: generator,
		poster:    poster,
		store:     store,
		logger:    logger,
	}
}

// Generate drafts a reply for the given submission content.
func (p *Pipeline) Generate(ctx context.Context, title, body string) (string, error) {
	draft, err := p.generator.Generate(ctx, title, body)
	if err != nil {
		return "", fmt.Errorf("generate draft: %w", err)
	}
	return draft, nil
}

// Publish posts the comment to the platform on behalf of the lead, records
// the platform-echoed content as the lead's final text, and returns it.
func (p *Pipeline) Publish(ctx context.Context, leadID, commentText string, creds lead.Credentials) (string, error) {
	l, err := p.store.Get(ctx, leadID)
	if err != nil {
		return "", err
	}

	finalText, err := p.poster.PostComment(ctx, creds, l.SubmissionID, commentText)
	if err != nil {
		return "", err
	}

	if _, err := p.store.MarkPublished(ctx, leadID, finalText); err != nil {
		// The comment is live but the store missed it. Surface the error;
		// operators reconcile from the log line.
		p.logger.Error("comment published but lead update failed",
			zap.String("lead_id", leadID),
			zap.Error(err),
		)
		return "", fmt.Errorf("record published comment: %w", err)
	}

	p.logger.Info("comment published",
		zap.String("lead_id", leadID),
		zap.String("submission_id", l.SubmissionID),
	)
	return finalText, nil
}
