package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/wolfeidau/engagetrack/internal/models"
	"github.com/wolfeidau/engagetrack/internal/store"
)

type interventionEntry struct {
	sessionID string
	outcome   string
}

// Journal implements store.Journal using in-memory storage.
// Data is lost on restart.
type Journal struct {
	mu sync.RWMutex

	sessions      map[string]*models.SessionRecord
	interventions map[string]*interventionEntry // intervention_id -> entry
}

var _ store.Journal = (*Journal)(nil)

func NewJournal() *Journal {
	return &Journal{
		sessions:      make(map[string]*models.SessionRecord),
		interventions: make(map[string]*interventionEntry),
	}
}

func (j *Journal) SessionStarted(ctx context.Context, rec models.SessionRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if _, exists := j.sessions[rec.SessionID]; exists {
		return store.ErrSessionExists
	}

	// Clone to avoid external modifications
	clone := rec
	clone.EndedAt = nil
	clone.InterventionsRaised = 0
	clone.InterventionsAnswered = 0
	j.sessions[rec.SessionID] = &clone

	return nil
}

func (j *Journal) SessionEnded(ctx context.Context, sessionID string, endedAt time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	rec, exists := j.sessions[sessionID]
	if !exists {
		return store.ErrSessionNotFound
	}

	rec.EndedAt = &endedAt
	return nil
}

func (j *Journal) InterventionRaised(ctx context.Context, sessionID string, iv models.Intervention) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	rec, exists := j.sessions[sessionID]
	if !exists {
		return store.ErrSessionNotFound
	}

	if _, seen := j.interventions[iv.ID]; !seen {
		rec.InterventionsRaised++
	}
	j.interventions[iv.ID] = &interventionEntry{sessionID: sessionID, outcome: models.OutcomeRaised}

	return nil
}

func (j *Journal) InterventionResolved(ctx context.Context, sessionID, interventionID, outcome string, at time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	entry, exists := j.interventions[interventionID]
	if !exists || entry.sessionID != sessionID {
		return store.ErrInterventionNotFound
	}

	if outcome == models.OutcomeAnswered && entry.outcome != models.OutcomeAnswered {
		if rec, ok := j.sessions[sessionID]; ok {
			rec.InterventionsAnswered++
		}
	}
	entry.outcome = outcome

	return nil
}

func (j *Journal) ListSessions(ctx context.Context, limit int) ([]models.SessionRecord, error) {
	if limit <= 0 {
		limit = store.DefaultHistoryLimit
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	records := make([]models.SessionRecord, 0, len(j.sessions))
	for _, rec := range j.sessions {
		clone := *rec
		if rec.EndedAt != nil {
			ended := *rec.EndedAt
			clone.EndedAt = &ended
		}
		records = append(records, clone)
	}

	sort.Slice(records, func(a, b int) bool {
		return records[a].StartedAt.After(records[b].StartedAt)
	})

	if len(records) > limit {
		records = records[:limit]
	}

	return records, nil
}

func (j *Journal) Close() error {
	return nil
}
