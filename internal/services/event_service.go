package services

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/isdelr/access-panel-be/internal/models"
	"github.com/rs/zerolog/log"
)

// EventServiceProvider defines the interface for event services.
type EventServiceProvider interface {
	CreateEvent(eventType, level, message string, username *string) error
	GetRecentEvents(username string, limit int) ([]models.Event, error)
	PruneEvents(before time.Time) (int64, error)
}

// Publisher pushes freshly recorded events to the live subscribers of one user.
type Publisher interface {
	PublishTo(username, action string, payload any)
}

// EventService provides business logic for event management.
type EventService struct {
	db        *sql.DB
	publisher Publisher
	now       func() time.Time
}

// NewEventService creates a new EventService. publisher may be nil.
func NewEventService(db *sql.DB, publisher Publisher) *EventService {
	return &EventService{db: db, publisher: publisher, now: time.Now}
}

// CreateEvent logs a new event to the database and publishes it to the
// user it belongs to. System events (nil username) are stored only.
func (s *EventService) CreateEvent(eventType, level, message string, username *string) error {
	event := models.Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Level:     level,
		Message:   message,
		Username:  username,
		CreatedAt: s.now().UTC(),
	}

	_, err := s.db.Exec("INSERT INTO events (id, type, level, message, username, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		event.ID, event.Type, event.Level, event.Message, event.Username, event.CreatedAt)
	if err != nil {
		return err
	}

	if s.publisher != nil && username != nil {
		s.publisher.PublishTo(*username, "event", event)
	}
	return nil
}

// GetRecentEvents retrieves the most recent events recorded for username.
// An empty username selects every event, system events included.
func (s *EventService) GetRecentEvents(username string, limit int) ([]models.Event, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if username == "" {
		rows, err = s.db.Query("SELECT id, type, level, message, username, created_at FROM events ORDER BY created_at DESC LIMIT ?", limit)
	} else {
		rows, err = s.db.Query("SELECT id, type, level, message, username, created_at FROM events WHERE username = ? ORDER BY created_at DESC LIMIT ?", username, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []models.Event{}
	for rows.Next() {
		var event models.Event
		var username sql.NullString
		if err := rows.Scan(&event.ID, &event.Type, &event.Level, &event.Message, &username, &event.CreatedAt); err != nil {
			return nil, err
		}
		if username.Valid {
			event.Username = &username.String
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// PruneEvents deletes events recorded before the cutoff.
func (s *EventService) PruneEvents(before time.Time) (int64, error) {
	res, err := s.db.Exec("DELETE FROM events WHERE created_at < ?", before.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// recordEvent is CreateEvent for callers that must not fail on audit errors.
func recordEvent(events EventServiceProvider, eventType, level, message string, username *string) {
	if events == nil {
		return
	}
	if err := events.CreateEvent(eventType, level, message, username); err != nil {
		log.Error().Err(err).Str("event_type", eventType).Msg("Failed to record event")
	}
}
