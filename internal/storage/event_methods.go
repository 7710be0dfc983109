package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/lorawan-server/lorawan-device-pro/pkg/lorawan"
)

// ========== Event Log Methods ==========

// CreateEvent creates an event log entry
func (s *PostgresStore) CreateEvent(ctx context.Context, event *Event) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	query := `
        INSERT INTO events (id, dev_eui, type, level, details, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.getDB().ExecContext(ctx, query,
		event.ID, event.DevEUI[:], event.Type, event.Level,
		[]byte(event.Details), event.CreatedAt,
	)
	return err
}

// ListEvents lists event log entries for a device, newest first
func (s *PostgresStore) ListEvents(ctx context.Context, devEUI lorawan.EUI64, limit, offset int) ([]*Event, int64, error) {
	var total int64
	err := s.getDB().QueryRowContext(ctx,
		"SELECT COUNT(*) FROM events WHERE dev_eui = $1", devEUI[:]).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	query := `
        SELECT id, dev_eui, type, level, details, created_at
        FROM events
        WHERE dev_eui = $1
        ORDER BY created_at DESC
        LIMIT $2 OFFSET $3`

	rows, err := s.getDB().QueryContext(ctx, query, devEUI[:], limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		event := &Event{}
		var devEUIBytes, details []byte
		if err := rows.Scan(&event.ID, &devEUIBytes, &event.Type,
			&event.Level, &details, &event.CreatedAt); err != nil {
			return nil, 0, err
		}
		copy(event.DevEUI[:], devEUIBytes)
		event.Details = details
		events = append(events, event)
	}

	return events, total, rows.Err()
}
