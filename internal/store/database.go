package store

import (
	"fmt"
	"time"

	"helpdesk-chat-client/internal/db"
	"helpdesk-chat-client/internal/types"
)

// CallbackStore records callback offers the user actually confirmed, so the
// dashboard has an audit trail independent of the remote backend.
type CallbackStore struct {
	db *db.DB
}

func NewCallbackStore(database *db.DB) *CallbackStore {
	return &CallbackStore{db: database}
}

// ConfirmedCallback is one audit row.
type ConfirmedCallback struct {
	SessionID     string
	ScheduleID    string
	Date          string
	Time          string
	Priority      string
	OriginalQuery string
	Sentiment     types.Sentiment
	ConfirmedAt   time.Time
}

// SaveConfirmed inserts an audit row for a confirmed scheduling offer.
func (cs *CallbackStore) SaveConfirmed(sessionID, originalQuery string, sched types.Schedule, sent types.Sentiment) error {
	if sessionID == "" {
		return fmt.Errorf("session_id is required")
	}
	query := `
		INSERT INTO confirmed_callbacks
			(session_id, schedule_id, callback_date, callback_time, priority,
			 original_query, sentiment_label, sentiment_score, confirmed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
	`
	_, err := cs.db.Exec(query,
		sessionID, sched.ID, sched.Date, sched.Time, sched.Priority,
		originalQuery, sent.Label, sent.Score,
	)
	if err != nil {
		return fmt.Errorf("failed to save confirmed callback: %w", err)
	}
	return nil
}

// ListConfirmed returns the most recent audit rows, newest first.
func (cs *CallbackStore) ListConfirmed(limit int) ([]ConfirmedCallback, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT session_id, schedule_id, callback_date, callback_time, priority,
		       original_query, sentiment_label, sentiment_score, confirmed_at
		FROM confirmed_callbacks
		ORDER BY confirmed_at DESC
		LIMIT $1
	`
	rows, err := cs.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list confirmed callbacks: %w", err)
	}
	defer rows.Close()

	var out []ConfirmedCallback
	for rows.Next() {
		var c ConfirmedCallback
		if err := rows.Scan(
			&c.SessionID, &c.ScheduleID, &c.Date, &c.Time, &c.Priority,
			&c.OriginalQuery, &c.Sentiment.Label, &c.Sentiment.Score, &c.ConfirmedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan confirmed callback: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
