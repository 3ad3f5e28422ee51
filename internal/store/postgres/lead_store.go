// Package postgres provides the Postgres-backed lead store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Decentralised-AI/aitino/internal/lead"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// LeadStoreConfig controls the Postgres connection pool used for lead rows.
type LeadStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type queryExecCloser interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// LeadStore persists leads in Postgres. Dedup relies on a unique constraint
// on submission_id, so concurrent SaveNew calls racing on one submission
// resolve to a single row. Expected schema:
//
//	CREATE TABLE leads (
//		id UUID PRIMARY KEY,
//		submission_id TEXT NOT NULL UNIQUE,
//		status TEXT NOT NULL,
//		title TEXT NOT NULL,
//		body TEXT NOT NULL,
//		subreddit TEXT NOT NULL,
//		submitted_at TIMESTAMPTZ NOT NULL,
//		eval_relevant BOOLEAN,
//		eval_reason TEXT,
//		human_relevant BOOLEAN,
//		human_reason TEXT,
//		published_text TEXT,
//		created_at TIMESTAMPTZ NOT NULL,
//		updated_at TIMESTAMPTZ NOT NULL
//	);
type LeadStore struct {
	pool  queryExecCloser
	table string
	idGen lead.IDGenerator
	clock lead.Clock
}

// NewLeadStore creates a Postgres-backed LeadStore using the provided config.
func NewLeadStore(
	ctx context.Context,
	cfg LeadStoreConfig,
	idGen lead.IDGenerator,
	clock lead.Clock,
) (*LeadStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "leads"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &LeadStore{pool: pool, table: table, idGen: idGen, clock: clock}, nil
}

// NewLeadStoreWithPool constructs a store from an existing pool (primarily
// for testing with pgxmock).
func NewLeadStoreWithPool(
	pool queryExecCloser,
	table string,
	idGen lead.IDGenerator,
	clock lead.Clock,
) (*LeadStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "leads"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &LeadStore{pool: pool, table: table, idGen: idGen, clock: clock}, nil
}

// Close releases the underlying pool resources.
func (s *LeadStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const leadColumns = `id, submission_id, status, title, body, subreddit, submitted_at,
	eval_relevant, eval_reason, human_relevant, human_reason, published_text,
	created_at, updated_at`

// SaveNew inserts a lead, or returns the existing one when the submission id
// is already known. The insert and the dedup check are a single statement.
func (s *LeadStore) SaveNew(
	ctx context.Context,
	sub lead.Submission,
	status lead.Status,
	eval *lead.Evaluation,
) (lead.Lead, error) {
	id, err := s.idGen.NewID()
	if err != nil {
		return lead.Lead{}, fmt.Errorf("generate lead id: %w", err)
	}
	now := s.clock.Now()

	var evalRelevant *bool
	var evalReason *string
	if eval != nil {
		evalRelevant = &eval.Relevant
		evalReason = &eval.Reason
	}

	query := fmt.Sprintf(`
INSERT INTO %s (id, submission_id, status, title, body, subreddit, submitted_at,
	eval_relevant, eval_reason, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
ON CONFLICT (submission_id) DO NOTHING
RETURNING `+leadColumns, s.table)

	row := s.pool.QueryRow(ctx, query,
		id, sub.SourceID, string(status), sub.Title, sub.Body, sub.Subreddit,
		sub.CreatedAt, evalRelevant, evalReason, now,
	)
	l, err := scanLead(row)
	if err == nil {
		return l, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return lead.Lead{}, fmt.Errorf("insert lead: %w", err)
	}
	// Conflict: another writer won the race; hand back their row.
	return s.FindBySubmissionID(ctx, sub.SourceID)
}

// FindBySubmissionID returns the lead for a source id, or lead.ErrNotFound.
func (s *LeadStore) FindBySubmissionID(ctx context.Context, sourceID string) (lead.Lead, error) {
	query := fmt.Sprintf(`SELECT `+leadColumns+` FROM %s WHERE submission_id = $1`, s.table)
	l, err := scanLead(s.pool.QueryRow(ctx, query, sourceID))
	if errors.Is(err, pgx.ErrNoRows) {
		return lead.Lead{}, lead.ErrNotFound
	}
	if err != nil {
		return lead.Lead{}, fmt.Errorf("find lead by submission id: %w", err)
	}
	return l, nil
}

// Get returns the lead with the given id, or lead.ErrNotFound.
func (s *LeadStore) Get(ctx context.Context, id string) (lead.Lead, error) {
	query := fmt.Sprintf(`SELECT `+leadColumns+` FROM %s WHERE id = $1`, s.table)
	l, err := scanLead(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return lead.Lead{}, lead.ErrNotFound
	}
	if err != nil {
		return lead.Lead{}, fmt.Errorf("get lead: %w", err)
	}
	return l, nil
}

// MarkCommentGenerated advances an accepted lead to comment_generated.
// Leads in any other state are returned unchanged.
func (s *LeadStore) MarkCommentGenerated(ctx context.Context, id string) (lead.Lead, error) {
	query := fmt.Sprintf(`
UPDATE %s SET status = $2, updated_at = $3
WHERE id = $1 AND status = $4
RETURNING `+leadColumns, s.table)

	row := s.pool.QueryRow(ctx, query,
		id, string(lead.StatusCommentGenerated), s.clock.Now(), string(lead.StatusAccepted))
	l, err := scanLead(row)
	if err == nil {
		return l, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return lead.Lead{}, fmt.Errorf("mark comment generated: %w", err)
	}
	return s.Get(ctx, id)
}

// MarkHumanReview records an operator override. The guard keeps published
// leads terminal; repeated overrides simply rewrite the same values.
func (s *LeadStore) MarkHumanReview(
	ctx context.Context,
	id string,
	relevant bool,
	reason string,
) (lead.Lead, error) {
	status := lead.StatusRejected
	if relevant {
		status = lead.StatusAccepted
	}
	query := fmt.Sprintf(`
UPDATE %s SET status = $2, human_relevant = $3, human_reason = $4, updated_at = $5
WHERE id = $1 AND status <> $6
RETURNING `+leadColumns, s.table)

	row := s.pool.QueryRow(ctx, query,
		id, string(status), relevant, reason, s.clock.Now(), string(lead.StatusPublished))
	l, err := scanLead(row)
	if err == nil {
		return l, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return lead.Lead{}, fmt.Errorf("mark human review: %w", err)
	}
	// Either the lead is unknown or it is published and untouchable.
	return s.Get(ctx, id)
}

// MarkPublished sets status published and stores the final text.
func (s *LeadStore) MarkPublished(ctx context.Context, id string, finalText string) (lead.Lead, error) {
	query := fmt.Sprintf(`
UPDATE %s SET status = $2, published_text = $3, updated_at = $4
WHERE id = $1
RETURNING `+leadColumns, s.table)

	row := s.pool.QueryRow(ctx, query,
		id, string(lead.StatusPublished), finalText, s.clock.Now())
	l, err := scanLead(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return lead.Lead{}, lead.ErrNotFound
	}
	if err != nil {
		return lead.Lead{}, fmt.Errorf("mark published: %w", err)
	}
	return l, nil
}

func scanLead(row pgx.Row) (lead.Lead, error) {
	var (
		l             lead.Lead
		status        string
		evalRelevant  *bool
		evalReason    *string
		humanRelevant *bool
		humanReason   *string
		publishedText *string
	)
	err := row.Scan(
		&l.ID, &l.SubmissionID, &status,
		&l.Submission.Title, &l.Submission.Body, &l.Submission.Subreddit,
		&l.Submission.CreatedAt,
		&evalRelevant, &evalReason, &humanRelevant, &humanReason, &publishedText,
		&l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return lead.Lead{}, err
	}
	l.Status = lead.Status(status)
	l.Submission.SourceID = l.SubmissionID
	if evalRelevant != nil {
		l.Evaluation = &lead.Evaluation{Relevant: *evalRelevant}
		if evalReason != nil {
			l.Evaluation.Reason = *evalReason
		}
	}
	if humanRelevant != nil {
		l.HumanReview = &lead.HumanReview{Relevant: *humanRelevant}
		if humanReason != nil {
			l.HumanReview.Reason = *humanReason
		}
	}
	if publishedText != nil {
		l.PublishedText = *publishedText
	}
	return l, nil
}
