// Package memory provides an in-memory lead store for development/testing.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/Decentralised-AI/aitino/internal/lead"
)

// LeadStore implements lead.Store with a mutex-guarded map. All status
// transitions happen under the lock, so concurrent SaveNew calls for the
// same submission id resolve to a single lead.
type LeadStore struct {
	mu      sync.RWMutex
	byID    map[string]lead.Lead
	bySubID map[string]string
	idGen   lead.IDGenerator
	clock   lead.Clock
}

// NewLeadStore constructs a LeadStore.
func NewLeadStore(idGen lead.IDGenerator, clock lead.Clock) *LeadStore {
	return &LeadStore{
		byID:    make(map[string]lead.Lead),
		bySubID: make(map[string]string),
		idGen:   idGen,
		clock:   clock,
	}
}

// SaveNew creates a lead for the submission, or returns the existing lead
// unchanged when one already exists for its source id.
func (s *LeadStore) SaveNew(
	_ context.Context,
	sub lead.Submission,
	status lead.Status,
	eval *lead.Evaluation,
) (lead.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.bySubID[sub.SourceID]; ok {
		return s.byID[id], nil
	}

	id, err := s.idGen.NewID()
	if err != nil {
		return lead.Lead{}, err
	}
	now := s.now()
	l := lead.Lead{
		ID:           id,
		SubmissionID: sub.SourceID,
		Status:       status,
		Submission:   sub,
		Evaluation:   cloneEval(eval),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.byID[id] = l
	s.bySubID[sub.SourceID] = id
	return l, nil
}

// FindBySubmissionID returns the lead for a source id, or lead.ErrNotFound.
func (s *LeadStore) FindBySubmissionID(_ context.Context, sourceID string) (lead.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.bySubID[sourceID]
	if !ok {
		return lead.Lead{}, lead.ErrNotFound
	}
	return s.byID[id], nil
}

// Get returns the lead with the given id, or lead.ErrNotFound.
func (s *LeadStore) Get(_ context.Context, id string) (lead.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.byID[id]
	if !ok {
		return lead.Lead{}, lead.ErrNotFound
	}
	return l, nil
}

// MarkCommentGenerated advances an accepted lead to comment_generated.
// Already-advanced leads are left unchanged.
func (s *LeadStore) MarkCommentGenerated(_ context.Context, id string) (lead.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.byID[id]
	if !ok {
		return lead.Lead{}, lead.ErrNotFound
	}
	if l.Status != lead.StatusAccepted {
		return l, nil
	}
	l.Status = lead.StatusCommentGenerated
	l.UpdatedAt = s.now()
	s.byID[id] = l
	return l, nil
}

// MarkHumanReview records an operator override. Published leads are
// terminal and returned unchanged.
func (s *LeadStore) MarkHumanReview(
	_ context.Context,
	id string,
	relevant bool,
	reason string,
) (lead.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.byID[id]
	if !ok {
		return lead.Lead{}, lead.ErrNotFound
	}
	if l.Status == lead.StatusPublished {
		return l, nil
	}
	l.HumanReview = &lead.HumanReview{Relevant: relevant, Reason: reason}
	if relevant {
		l.Status = lead.StatusAccepted
	} else {
		l.Status = lead.StatusRejected
	}
	l.UpdatedAt = s.now()
	s.byID[id] = l
	return l, nil
}

// MarkPublished sets status published and stores the final text.
func (s *LeadStore) MarkPublished(_ context.Context, id string, finalText string) (lead.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.byID[id]
	if !ok {
		return lead.Lead{}, lead.ErrNotFound
	}
	l.Status = lead.StatusPublished
	l.PublishedText = finalText
	l.UpdatedAt = s.now()
	s.byID[id] = l
	return l, nil
}

func (s *LeadStore) now() time.Time {
	if s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock.Now()
}

func cloneEval(eval *lead.Evaluation) *lead.Evaluation {
	if eval == nil {
		return nil
	}
	cp := *eval
	return &cp
}
