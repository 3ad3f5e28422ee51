// Package lead defines core types shared across subsystems.
package lead

import (
	"time"
)

// Status represents the lifecycle state of a lead.
type Status string

// Lead status values persisted in the lead store.
const (
	StatusPending          Status = "pending"
	StatusAccepted         Status = "accepted"
	StatusRejected         Status = "rejected"
	StatusCommentGenerated Status = "comment_generated"
	StatusPublished        Status = "published"
)

// Submission is an immutable content item read from the platform.
// SourceID is the platform's unique identifier and the dedup key.
type Submission struct {
	SourceID  string    `json:"source_id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Subreddit string    `json:"subreddit"`
	CreatedAt time.Time `json:"created_at"`
}

// Evaluation is the automated relevance outcome for a submission.
type Evaluation struct {
	Relevant bool   `json:"relevant"`
	Reason   string `json:"reason"`
}

// HumanReview records an operator's override of the automated outcome.
type HumanReview struct {
	Relevant bool   `json:"relevant"`
	Reason   string `json:"reason"`
}

// Lead is the mutable record derived from a submission. At most one lead
// exists per distinct submission source id; the store enforces this at
// write time.
type Lead struct {
	ID            string       `json:"id"`
	SubmissionID  string       `json:"submission_id"`
	Status        Status       `json:"status"`
	Submission    Submission   `json:"submission"`
	Evaluation    *Evaluation  `json:"evaluation,omitempty"`
	HumanReview   *HumanReview `json:"human_review,omitempty"`
	PublishedText string       `json:"published_text,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// Credentials are the per-call platform credentials used when publishing.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AcceptedEvent is emitted when ingestion persists a relevant lead.
type AcceptedEvent struct {
	LeadID       string    `json:"lead_id"`
	SubmissionID string    `json:"submission_id"`
	Subreddit    string    `json:"subreddit"`
	Title        string    `json:"title"`
	Reason       string    `json:"reason"`
	Timestamp    time.Time `json:"timestamp"`
}
