package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lorawan-server/lorawan-device-pro/internal/mac"
	"github.com/lorawan-server/lorawan-device-pro/pkg/lorawan"
)

// ========== Device State Methods ==========

// SaveDeviceState upserts the full persisted state for a device. The state
// travels as one value so the DevNonce, counters and channel plan can never
// be committed separately.
func (s *PostgresStore) SaveDeviceState(ctx context.Context, devEUI lorawan.EUI64, state mac.PersistentState) error {
	blob, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("%w: marshal device state: %v", ErrInvalidData, err)
	}

	query := `
        INSERT INTO device_states (dev_eui, state, updated_at)
        VALUES ($1, $2, $3)
        ON CONFLICT (dev_eui) DO UPDATE SET
            state = EXCLUDED.state,
            updated_at = EXCLUDED.updated_at`

	_, err = s.getDB().ExecContext(ctx, query, devEUI[:], blob, time.Now())
	return err
}

// GetDeviceState gets the persisted state for a device
func (s *PostgresStore) GetDeviceState(ctx context.Context, devEUI lorawan.EUI64) (*mac.PersistentState, error) {
	var blob []byte
	err := s.getDB().QueryRowContext(ctx,
		"SELECT state FROM device_states WHERE dev_eui = $1", devEUI[:]).Scan(&blob)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	state := &mac.PersistentState{}
	if err := json.Unmarshal(blob, state); err != nil {
		return nil, fmt.Errorf("%w: unmarshal device state: %v", ErrInvalidData, err)
	}
	return state, nil
}

// DeleteDeviceState deletes the persisted state for a device
func (s *PostgresStore) DeleteDeviceState(ctx context.Context, devEUI lorawan.EUI64) error {
	result, err := s.getDB().ExecContext(ctx,
		"DELETE FROM device_states WHERE dev_eui = $1", devEUI[:])
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
