package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/engagetrack/internal/models"
	"github.com/wolfeidau/engagetrack/internal/store"
)

// Journal implements store.Journal using PostgreSQL.
type Journal struct {
	pool *pgxpool.Pool
}

var _ store.Journal = (*Journal)(nil)

// NewJournal connects using cfg.
func NewJournal(ctx context.Context, cfg *PoolConfig) (*Journal, error) {
	pool, err := NewPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Journal{pool: pool}, nil
}

// NewJournalWithPool wraps an existing pool. Close closes the pool.
func NewJournalWithPool(pool *pgxpool.Pool) *Journal {
	return &Journal{pool: pool}
}

func (j *Journal) SessionStarted(ctx context.Context, rec models.SessionRecord) error {
	_, err := j.pool.Exec(ctx, `
		INSERT INTO journal_sessions (session_id, user_id, started_at)
		VALUES ($1, $2, $3)
	`, rec.SessionID, rec.UserID, rec.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to journal session start: %w", mapPostgresError(err))
	}

	log.Debug().Str("session_id", rec.SessionID).Msg("Journaled session start")

	return nil
}

func (j *Journal) SessionEnded(ctx context.Context, sessionID string, endedAt time.Time) error {
	tag, err := j.pool.Exec(ctx, `
		UPDATE journal_sessions
		SET ended_at = $2
		WHERE session_id = $1
	`, sessionID, endedAt)
	if err != nil {
		return fmt.Errorf("failed to journal session end: %w", mapPostgresError(err))
	}

	if tag.RowsAffected() == 0 {
		return store.ErrSessionNotFound
	}

	return nil
}

func (j *Journal) InterventionRaised(ctx context.Context, sessionID string, iv models.Intervention) error {
	raisedAt := iv.RaisedAt
	if raisedAt.IsZero() {
		raisedAt = time.Now()
	}

	_, err := j.pool.Exec(ctx, `
		INSERT INTO journal_interventions (intervention_id, session_id, kind, outcome, raised_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (intervention_id) DO NOTHING
	`, iv.ID, sessionID, iv.Kind, models.OutcomeRaised, raisedAt)
	if err != nil {
		return fmt.Errorf("failed to journal intervention: %w", mapPostgresError(err))
	}

	return nil
}

func (j *Journal) InterventionResolved(ctx context.Context, sessionID, interventionID, outcome string, at time.Time) error {
	tag, err := j.pool.Exec(ctx, `
		UPDATE journal_interventions
		SET outcome = $3, resolved_at = $4
		WHERE intervention_id = $1 AND session_id = $2
	`, interventionID, sessionID, outcome, at)
	if err != nil {
		return fmt.Errorf("failed to journal intervention outcome: %w", mapPostgresError(err))
	}

	if tag.RowsAffected() == 0 {
		return store.ErrInterventionNotFound
	}

	return nil
}

func (j *Journal) ListSessions(ctx context.Context, limit int) ([]models.SessionRecord, error) {
	if limit <= 0 {
		limit = store.DefaultHistoryLimit
	}

	rows, err := j.pool.Query(ctx, `
		SELECT
			s.session_id, s.user_id, s.started_at, s.ended_at,
			COUNT(i.intervention_id),
			COUNT(i.intervention_id) FILTER (WHERE i.outcome = 'answered')
		FROM journal_sessions s
		LEFT JOIN journal_interventions i ON i.session_id = s.session_id
		GROUP BY s.session_id
		ORDER BY s.started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", mapPostgresError(err))
	}
	defer rows.Close()

	records := make([]models.SessionRecord, 0, limit)
	for rows.Next() {
		var rec models.SessionRecord
		if err := rows.Scan(
			&rec.SessionID,
			&rec.UserID,
			&rec.StartedAt,
			&rec.EndedAt,
			&rec.InterventionsRaised,
			&rec.InterventionsAnswered,
		); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", mapPostgresError(err))
	}

	return records, nil
}

func (j *Journal) Close() error {
	j.pool.Close()
	return nil
}
