package database

import (
	"context"
	"fmt"

	"github.com/benvon/community-portal/internal/models"
	"go.uber.org/zap"
)

const sessionEventsSchema = `
	CREATE TABLE IF NOT EXISTS session_events (
		id         UUID PRIMARY KEY,
		type       TEXT NOT NULL,
		session_id TEXT NOT NULL DEFAULT '',
		subject    TEXT NOT NULL DEFAULT '',
		code       TEXT NOT NULL DEFAULT '',
		client_ip  TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS session_events_subject_idx ON session_events (subject, created_at DESC)
`

// DefaultEventLimit caps event listings when no limit is given.
const DefaultEventLimit = 50

// SessionEventRepository stores session lifecycle events.
type SessionEventRepository struct {
	db  *DB
	log *zap.Logger
}

// NewSessionEventRepository creates a repository, creating its table if needed.
func NewSessionEventRepository(ctx context.Context, db *DB, log *zap.Logger) (*SessionEventRepository, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if _, err := db.ExecContext(ctx, sessionEventsSchema); err != nil {
		return nil, fmt.Errorf("failed to create session_events table: %w", err)
	}
	return &SessionEventRepository{db: db, log: log}, nil
}

// Create inserts one event.
func (r *SessionEventRepository) Create(ctx context.Context, event models.SessionEvent) error {
	query := `
		INSERT INTO session_events (id, type, session_id, subject, code, client_ip, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.ExecContext(ctx, query,
		event.ID,
		string(event.Type),
		event.SessionID,
		event.Subject,
		event.Code,
		event.ClientIP,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert session event: %w", err)
	}
	return nil
}

// Record inserts event, logging instead of failing. Audit writes never block a login
// or a refresh.
func (r *SessionEventRepository) Record(ctx context.Context, event models.SessionEvent) {
	if err := r.Create(ctx, event); err != nil {
		r.log.Warn("session_event_not_recorded",
			zap.String("type", string(event.Type)),
			zap.String("session_id", event.SessionID),
			zap.Error(err),
		)
	}
}

// ListBySubject returns the newest events for subject.
func (r *SessionEventRepository) ListBySubject(ctx context.Context, subject string, limit int) ([]models.SessionEvent, error) {
	if limit <= 0 || limit > DefaultEventLimit {
		limit = DefaultEventLimit
	}
	query := `
		SELECT id, type, session_id, subject, code, client_ip, created_at
		FROM session_events
		WHERE subject = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, subject, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query session events: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var events []models.SessionEvent
	for rows.Next() {
		var (
			event     models.SessionEvent
			eventType string
		)
		if err := rows.Scan(
			&event.ID,
			&eventType,
			&event.SessionID,
			&event.Subject,
			&event.Code,
			&event.ClientIP,
			&event.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan session event: %w", err)
		}
		event.Type = models.SessionEventType(eventType)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session events: %w", err)
	}
	return events, nil
}
